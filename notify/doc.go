// Package notify delivers the account emails the engine sends: login and
// verification codes, password reset links and invitations.
//
// [SMTP] sends through a pooled SMTP connection. [Log] writes the message to a
// slog.Logger and is meant for development, where no mail server runs.
package notify
