package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	"github.com/jordan-wright/email"
)

// SMTPConfig describes one mail server.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	ReplyTo            string
	Connections        int
	SendTimeout        time.Duration
	InsecureSkipVerify bool
}

func (c SMTPConfig) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SMTP sends mail through a pooled connection and reconnects once after a
// failed send.
type SMTP struct {
	cfg       SMTPConfig
	templates Templates
	logger    *slog.Logger

	mu   sync.Mutex
	pool *email.Pool
}

// NewSMTP dials the pool. The caller must Close it.
func NewSMTP(cfg SMTPConfig, templates Templates, logger *slog.Logger) (*SMTP, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, errors.New("notify: smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, errors.New("notify: smtp from address is required")
	}
	if cfg.Connections <= 0 {
		cfg.Connections = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &SMTP{cfg: cfg, templates: templates, logger: logger}
	pool, err := s.connect()
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return s, nil
}

func (s *SMTP) connect() (*email.Pool, error) {
	var auth smtp.Auth
	if s.cfg.Username != "" || s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	tlsOpts := &tls.Config{
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
		ServerName:         s.cfg.Host,
	}
	pool, err := email.NewPool(s.cfg.address(), s.cfg.Connections, auth, tlsOpts)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", s.cfg.address(), err)
	}
	return pool, nil
}

func (s *SMTP) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}

func (s *SMTP) send(ctx context.Context, to string, msg Message) error {
	timeout := s.cfg.SendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	e := &email.Email{
		To:      []string{to},
		From:    s.cfg.From,
		Subject: msg.Subject,
		Text:    []byte(msg.Text),
		HTML:    []byte(msg.HTML),
		Headers: textproto.MIMEHeader{},
	}
	if s.cfg.ReplyTo != "" {
		e.ReplyTo = []string{s.cfg.ReplyTo}
	}

	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool == nil {
		return errors.New("notify: smtp pool closed")
	}

	err := pool.Send(e, timeout)
	if err == nil {
		return nil
	}

	s.logger.Error("smtp send failed, reconnecting",
		slog.String("server", s.cfg.address()),
		slog.String("error", err.Error()),
	)
	fresh, errReconnect := s.connect()
	if errReconnect != nil {
		s.logger.Error("smtp reconnect failed", slog.String("error", errReconnect.Error()))
		return err
	}
	s.mu.Lock()
	if s.pool != nil {
		s.pool.Close()
	}
	s.pool = fresh
	s.mu.Unlock()
	return err
}

func (s *SMTP) SendOTPEmail(ctx context.Context, to, code string) error {
	msg, err := s.templates.OTP(code)
	if err != nil {
		return err
	}
	return s.send(ctx, to, msg)
}

func (s *SMTP) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	msg, err := s.templates.PasswordReset(link)
	if err != nil {
		return err
	}
	return s.send(ctx, to, msg)
}

func (s *SMTP) SendInvitationEmail(ctx context.Context, to, inviter, tempPassword, link string) error {
	msg, err := s.templates.Invitation(inviter, tempPassword, link)
	if err != nil {
		return err
	}
	return s.send(ctx, to, msg)
}
