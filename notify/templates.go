package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

var (
	otpHTML = template.Must(template.New("otp").Parse(
		`<p>Your {{.Product}} verification code is</p>` +
			`<p style="font-size:24px;font-weight:bold;letter-spacing:4px">{{.Code}}</p>` +
			`<p>The code expires in {{.Minutes}} minutes. If you did not request it, ignore this email.</p>`))

	resetHTML = template.Must(template.New("reset").Parse(
		`<p>We received a request to reset your {{.Product}} password.</p>` +
			`<p><a href="{{.Link}}">Reset your password</a></p>` +
			`<p>The link expires in {{.Minutes}} minutes. If you did not request it, ignore this email.</p>`))

	inviteHTML = template.Must(template.New("invite").Parse(
		`<p>{{.Inviter}} invited you to {{.Product}}.</p>` +
			`<p>Sign in at <a href="{{.Link}}">{{.Link}}</a> with this temporary password:</p>` +
			`<p style="font-family:monospace;font-size:18px">{{.TempPassword}}</p>` +
			`<p>You will be asked to choose a new password. The temporary password expires in {{.Days}} days.</p>`))
)

// Templates renders message bodies. Zero durations fall back to the engine
// defaults.
type Templates struct {
	Product      string
	OTPTTL       time.Duration
	ResetTTL     time.Duration
	TempPassword time.Duration
}

func (t Templates) product() string {
	if t.Product == "" {
		return "TalentX"
	}
	return t.Product
}

func minutes(d, def time.Duration) int {
	if d <= 0 {
		d = def
	}
	return int(d / time.Minute)
}

func render(tpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tpl.Name(), err)
	}
	return buf.String(), nil
}

func (t Templates) OTP(code string) (Message, error) {
	mins := minutes(t.OTPTTL, 10*time.Minute)
	body, err := render(otpHTML, map[string]any{"Product": t.product(), "Code": code, "Minutes": mins})
	if err != nil {
		return Message{}, err
	}
	return Message{
		Subject: "Your " + t.product() + " verification code",
		HTML:    body,
		Text:    fmt.Sprintf("Your %s verification code is %s. It expires in %d minutes.", t.product(), code, mins),
	}, nil
}

func (t Templates) PasswordReset(link string) (Message, error) {
	mins := minutes(t.ResetTTL, time.Hour)
	body, err := render(resetHTML, map[string]any{"Product": t.product(), "Link": link, "Minutes": mins})
	if err != nil {
		return Message{}, err
	}
	return Message{
		Subject: "Reset your " + t.product() + " password",
		HTML:    body,
		Text:    fmt.Sprintf("Reset your %s password: %s (expires in %d minutes)", t.product(), link, mins),
	}, nil
}

func (t Templates) Invitation(inviter, tempPassword, link string) (Message, error) {
	days := minutes(t.TempPassword, 7*24*time.Hour) / (24 * 60)
	if inviter == "" {
		inviter = "Your administrator"
	}
	body, err := render(inviteHTML, map[string]any{
		"Product":      t.product(),
		"Inviter":      inviter,
		"Link":         link,
		"TempPassword": tempPassword,
		"Days":         days,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		Subject: inviter + " invited you to " + t.product(),
		HTML:    body,
		Text: fmt.Sprintf("%s invited you to %s. Sign in at %s with the temporary password %s (expires in %d days).",
			inviter, t.product(), link, tempPassword, days),
	}, nil
}
