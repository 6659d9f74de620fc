package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const sessionFormatVersion = 1

const maxUserAgentBytes = 1024

// ErrCorruptSession is returned when a stored record cannot be decoded.
var ErrCorruptSession = errors.New("session record corrupt")

// Encode serializes s without its token. Layout: version byte, length-prefixed
// strings, then created/lastActive/expires as big-endian unix milliseconds.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersion)

	for _, field := range []struct {
		name, value string
	}{
		{"id", s.ID},
		{"accountID", s.AccountID},
		{"tenantID", s.TenantID},
		{"role", s.Role},
	} {
		if len(field.value) > 255 {
			return nil, errors.New(field.name + " too long")
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	ua := s.UserAgent
	if len(ua) > maxUserAgentBytes {
		ua = ua[:maxUserAgentBytes]
	}
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(ua)))
	buf.WriteString(ua)

	if len(s.IPAddress) > 255 {
		return nil, errors.New("ipAddress too long")
	}
	buf.WriteByte(byte(len(s.IPAddress)))
	buf.WriteString(s.IPAddress)

	for _, ts := range []time.Time{s.CreatedAt, s.LastActiveAt, s.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts.UnixMilli()); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode. The token is not part of the
// record; callers set it from the key.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, ErrCorruptSession
	}
	if version != sessionFormatVersion {
		return nil, ErrCorruptSession
	}

	s := &Session{}
	for _, dst := range []*string{&s.ID, &s.AccountID, &s.TenantID, &s.Role} {
		v, err := readString8(r)
		if err != nil {
			return nil, ErrCorruptSession
		}
		*dst = v
	}

	var uaLen uint16
	if err := binary.Read(r, binary.BigEndian, &uaLen); err != nil {
		return nil, ErrCorruptSession
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(r, ua); err != nil {
		return nil, ErrCorruptSession
	}
	s.UserAgent = string(ua)

	if s.IPAddress, err = readString8(r); err != nil {
		return nil, ErrCorruptSession
	}

	for _, dst := range []*time.Time{&s.CreatedAt, &s.LastActiveAt, &s.ExpiresAt} {
		var ms int64
		if err := binary.Read(r, binary.BigEndian, &ms); err != nil {
			return nil, ErrCorruptSession
		}
		*dst = time.UnixMilli(ms)
	}

	if r.Len() != 0 {
		return nil, ErrCorruptSession
	}
	return s, nil
}

func readString8(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
