package authcore

import (
	"context"
	"log/slog"
)

// dispatch runs send in the background with its own deadline. The request
// path never waits for it; failures are logged and counted.
func (e *Engine) dispatch(kind, to string, send func(ctx context.Context, n Notifier) error) {
	if e.notifier == nil {
		e.logger.Debug("notifier not configured, email skipped",
			slog.String("kind", kind),
			slog.String("to", to),
		)
		return
	}

	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.config.Notify.Timeout)
		defer cancel()

		if err := send(ctx, e.notifier); err != nil {
			e.metricInc(MetricNotifyFailure)
			e.logger.Warn("email dispatch failed",
				slog.String("kind", kind),
				slog.String("to", to),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (e *Engine) sendOTP(to, code string) {
	e.dispatch("otp", to, func(ctx context.Context, n Notifier) error {
		return n.SendOTPEmail(ctx, to, code)
	})
}

func (e *Engine) sendPasswordReset(to, link string) {
	e.dispatch("password_reset", to, func(ctx context.Context, n Notifier) error {
		return n.SendPasswordResetEmail(ctx, to, link)
	})
}

func (e *Engine) sendInvitation(to, inviter, tempPassword, link string) {
	e.dispatch("invitation", to, func(ctx context.Context, n Notifier) error {
		return n.SendInvitationEmail(ctx, to, inviter, tempPassword, link)
	})
}
