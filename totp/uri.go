package totp

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"net/url"
	"strconv"

	"github.com/pquerna/otp"
)

// KeyURI builds the otpauth:// provisioning URI understood by authenticator
// apps: otpauth://totp/{issuer}:{account}?secret=..&issuer=..&digits=..&period=..
func KeyURI(issuer, account, secretBase32 string, cfg Config) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("digits", strconv.Itoa(cfg.Digits))
	v.Set("period", strconv.Itoa(cfg.Period))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// QRCodePNG renders uri as a square PNG QR code of size pixels.
func QRCodePNG(uri string, size int) ([]byte, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, err
	}

	img, err := key.Image(size, size)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// QRCodeDataURL renders uri as a data:image/png;base64 URL suitable for an
// <img> tag.
func QRCodeDataURL(uri string, size int) (string, error) {
	data, err := QRCodePNG(uri, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}
