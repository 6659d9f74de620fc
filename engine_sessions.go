package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/talentx/authcore/permission"
	"github.com/talentx/authcore/session"
)

/*
====================================
SESSIONS
====================================
*/

// ValidateSession reports whether token names a live session. Missing and
// expired sessions are a Valid=false result, not an error.
func (e *Engine) ValidateSession(ctx context.Context, token string) (SessionValidation, error) {
	v, err := e.sessions.Validate(ctx, token)
	if err != nil {
		return SessionValidation{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return v, nil
}

// RefreshSession slides a live session forward by its role timeout.
func (e *Engine) RefreshSession(ctx context.Context, token string) (*SessionState, error) {
	sess, err := e.sessions.Refresh(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metricInc(MetricSessionRefreshed)
	return &SessionState{
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
		WarningAt: sess.ExpiresAt.Add(-session.WarningThreshold),
	}, nil
}

// ListSessions returns the account's live sessions, most recently active
// first. The one matching currentToken is flagged.
func (e *Engine) ListSessions(ctx context.Context, accountID, currentToken string) ([]SessionInfo, error) {
	out, err := e.sessions.List(ctx, accountID, currentToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return out, nil
}

// TerminateSession ends one session owned by accountID.
func (e *Engine) TerminateSession(ctx context.Context, accountID, sessionID string) error {
	err := e.sessions.Terminate(ctx, accountID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metricInc(MetricSessionTerminated)
	e.emitAudit(ctx, auditEventSessionTerminated, true, accountID, "", sessionID, nil, nil)
	return nil
}

// TerminateOtherSessions ends every session of accountID except the one
// holding keepToken and reports how many ended.
func (e *Engine) TerminateOtherSessions(ctx context.Context, accountID, keepToken string) (int, error) {
	n, err := e.sessions.TerminateAll(ctx, accountID, keepToken)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metrics.Add(MetricSessionTerminated, uint64(n))
	e.emitAudit(ctx, auditEventSessionsTerminatedAll, true, accountID, "", "", nil, func() map[string]string {
		return map[string]string{"count": fmt.Sprint(n)}
	})
	return n, nil
}

// SessionTimeout describes the idle timeout applied to role.
func (e *Engine) SessionTimeout(role string) SessionTimeout {
	d := e.sessions.Timeouts().For(role)
	return SessionTimeout{
		Role:           role,
		TimeoutMinutes: int(d.Minutes()),
		WarningMinutes: int(session.WarningThreshold.Minutes()),
	}
}

// SessionTimeouts lists the timeout of every platform role.
func (e *Engine) SessionTimeouts() []SessionTimeout {
	out := make([]SessionTimeout, 0, len(permission.Roles))
	for _, r := range permission.Roles {
		out = append(out, e.SessionTimeout(r))
	}
	return out
}

// ReapExpiredSessions deletes sessions past their expiry and reports how many
// were removed.
func (e *Engine) ReapExpiredSessions(ctx context.Context) (int, error) {
	n, err := e.sessions.ReapExpired(ctx)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metrics.Add(MetricSessionsReaped, uint64(n))
	return n, nil
}
