package notify

import (
	"context"
	"log/slog"
)

// Log writes every email to a logger instead of sending it. Codes and
// temporary passwords appear in the log, so it is for development only.
type Log struct {
	templates Templates
	logger    *slog.Logger
}

func NewLog(templates Templates, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{templates: templates, logger: logger}
}

func (l *Log) write(ctx context.Context, kind, to string, msg Message) {
	l.logger.InfoContext(ctx, "email",
		slog.String("kind", kind),
		slog.String("to", to),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Text),
	)
}

func (l *Log) SendOTPEmail(ctx context.Context, to, code string) error {
	msg, err := l.templates.OTP(code)
	if err != nil {
		return err
	}
	l.write(ctx, "otp", to, msg)
	return nil
}

func (l *Log) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	msg, err := l.templates.PasswordReset(link)
	if err != nil {
		return err
	}
	l.write(ctx, "password_reset", to, msg)
	return nil
}

func (l *Log) SendInvitationEmail(ctx context.Context, to, inviter, tempPassword, link string) error {
	msg, err := l.templates.Invitation(inviter, tempPassword, link)
	if err != nil {
		return err
	}
	l.write(ctx, "invitation", to, msg)
	return nil
}
