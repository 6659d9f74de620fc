package limiters

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/talentx/authcore/internal/rate"
)

// ErrRequestThrottled is returned when an email or IP exceeds its budget for
// code or link requests.
var ErrRequestThrottled = errors.New("request throttled")

// RequestConfig holds per-email and per-IP budgets for one request kind.
type RequestConfig struct {
	PerEmail rate.Rule
	PerIP    rate.Rule
}

// DefaultRequestConfig allows 5 requests per email and 20 per IP each hour.
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{
		PerEmail: rate.Rule{Limit: 5, Window: time.Hour},
		PerIP:    rate.Rule{Limit: 20, Window: time.Hour},
	}
}

// RequestLimiter throttles requests that send a code or link by email. It is
// nil-safe: a nil limiter allows everything.
type RequestLimiter struct {
	limiter *rate.Limiter
	kind    string
	config  RequestConfig
}

// NewRequestLimiter returns a limiter for the named request kind.
func NewRequestLimiter(l *rate.Limiter, kind string, cfg RequestConfig) *RequestLimiter {
	return &RequestLimiter{limiter: l, kind: kind, config: cfg}
}

// Allow records a request from email/ip and fails with ErrRequestThrottled
// once either budget is exhausted. Backend errors pass through.
func (r *RequestLimiter) Allow(ctx context.Context, email, ip string) error {
	if r == nil || r.limiter == nil {
		return nil
	}

	if err := r.limiter.Hit(ctx, r.kind+":e", strings.ToLower(strings.TrimSpace(email)), r.config.PerEmail); err != nil {
		return translateRate(err)
	}
	if ip != "" {
		if err := r.limiter.Hit(ctx, r.kind+":ip", ip, r.config.PerIP); err != nil {
			return translateRate(err)
		}
	}
	return nil
}

func translateRate(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrRequestThrottled
	}
	return err
}
