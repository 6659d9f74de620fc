package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talentx/authcore/password"
	"github.com/talentx/authcore/permission"
)

/*
====================================
REGISTRATION
====================================
*/

// Register creates a password account. Without a TenantID the tenant is
// found by email domain; webmail domains always get a tenant of their own.
// The first account of a new tenant becomes its owner and stays PENDING until
// the emailed EMAIL_VERIFY code is confirmed. Accounts joining an existing
// tenant are ACTIVE at once.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if !e.config.Registration.Enabled {
		return nil, ErrRegistrationClosed
	}

	email := normalizeEmail(req.Email)
	domain := emailDomain(email)
	if domain == "" || emailLocalPart(email) == "" {
		return nil, ErrInvalidRequest
	}
	if req.Role != "" && !joinableRole(req.Role) {
		return nil, ErrInvalidRole
	}
	if st := password.CheckStrength(req.Password); !st.Valid {
		return nil, &WeakPasswordError{Violations: st.Errors}
	}

	var (
		tenant  *Tenant
		created bool
		err     error
	)
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID != "" {
		tenant, err = e.accounts.TenantByID(ctx, tenantID)
		if err != nil {
			if errors.Is(err, ErrTenantNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	} else {
		key := domain
		if e.isPublicDomain(domain) {
			key = domain + "-" + uuid.NewString()
		}
		tenant, err = e.accounts.TenantByDomain(ctx, key)
		switch {
		case errors.Is(err, ErrTenantNotFound):
			name := "New Organization"
			if first := strings.TrimSpace(req.FirstName); first != "" {
				name = first + "'s Organization"
			}
			tenant, err = e.createTenant(ctx, Tenant{
				ID:     uuid.NewString(),
				Name:   name,
				Slug:   slugify(key),
				Domain: key,
				Status: TenantActive,
			})
			if err != nil {
				return nil, err
			}
			created = true
		case err != nil:
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	if tenant.Status != TenantActive {
		return nil, ErrTenantNotActive
	}

	role := req.Role
	status := StatusActive
	if created {
		role = e.config.Registration.OwnerRole
		status = StatusPending
	} else if role == "" {
		role = e.config.Registration.DefaultRole
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	acct, err := e.accounts.CreateAccount(ctx, NewAccount{
		Email:        email,
		TenantID:     tenant.ID,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         role,
		Status:       status,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.emitAudit(ctx, auditEventAccountRegistered, false, "", tenant.ID, "", err, func() map[string]string {
				return map[string]string{"email": email}
			})
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out := &RegisterResult{
		AccountID:     acct.ID,
		TenantID:      tenant.ID,
		Role:          acct.Role,
		Status:        acct.Status,
		TenantCreated: created,
	}

	if acct.Status == StatusPending {
		code, err := numericCode(e.config.OTP.Digits)
		if err != nil {
			return nil, err
		}
		rec, err := e.otps.Issue(ctx, string(OTPEmailVerify), tenant.ID, email, code, e.config.OTP.TTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		e.sendOTP(email, code)
		out.VerificationSent = true
		out.VerificationUntil = time.UnixMilli(rec.ExpiresAt)
		if !e.config.IsProduction() {
			out.VerificationCode = code
		}
	}

	e.metricInc(MetricAccountRegistered)
	e.emitAudit(ctx, auditEventAccountRegistered, true, acct.ID, tenant.ID, "", nil, func() map[string]string {
		return map[string]string{"email": email, "role": acct.Role}
	})
	return out, nil
}

// joinableRole rejects roles a self-registering user may not claim.
func joinableRole(role string) bool {
	if !permission.IsRole(role) {
		return false
	}
	return role != permission.RoleSuperAdmin && role != permission.RoleAdmin
}

/*
====================================
INVITATIONS
====================================
*/

// InviteAccount creates an ACTIVE account with a generated temporary password
// that expires after Invitation.TempPasswordTTL and must be changed on first
// login. The password is emailed and also returned.
func (e *Engine) InviteAccount(ctx context.Context, req InviteRequest) (*InviteResult, error) {
	email := normalizeEmail(req.Email)
	if emailDomain(email) == "" || emailLocalPart(email) == "" {
		return nil, ErrInvalidRequest
	}
	if !permission.IsRole(req.Role) || req.Role == permission.RoleSuperAdmin {
		return nil, ErrInvalidRole
	}

	tenant, err := e.accounts.TenantByID(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if tenant.Status != TenantActive {
		return nil, ErrTenantNotActive
	}

	temp, err := temporaryPassword()
	if err != nil {
		return nil, err
	}
	hash, err := e.hasher.Hash(temp)
	if err != nil {
		return nil, err
	}
	expiresAt := e.now().Add(e.config.Invitation.TempPasswordTTL)

	acct, err := e.accounts.CreateAccount(ctx, NewAccount{
		Email:                 email,
		TenantID:              tenant.ID,
		PasswordHash:          hash,
		FirstName:             strings.TrimSpace(req.FirstName),
		LastName:              strings.TrimSpace(req.LastName),
		Role:                  req.Role,
		Status:                StatusActive,
		RequirePasswordChange: true,
		TempPasswordExpiresAt: &expiresAt,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.sendInvitation(email, req.InviterName, temp, e.link(e.config.Invitation.LinkPath, nil))
	e.metricInc(MetricAccountInvited)
	e.emitAudit(ctx, auditEventAccountInvited, true, acct.ID, tenant.ID, "", nil, func() map[string]string {
		return map[string]string{"email": email, "role": acct.Role}
	})

	return &InviteResult{
		AccountID:         acct.ID,
		TemporaryPassword: temp,
		ExpiresAt:         expiresAt,
	}, nil
}

/*
====================================
TENANTS
====================================
*/

func (e *Engine) createTenant(ctx context.Context, t Tenant) (*Tenant, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = e.now()
	}
	out, err := e.accounts.CreateTenant(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metricInc(MetricTenantProvisioned)
	e.emitAudit(ctx, auditEventTenantProvisioned, true, "", out.ID, "", nil, func() map[string]string {
		return map[string]string{"slug": out.Slug, "domain": out.Domain}
	})
	return out, nil
}

func (e *Engine) isPublicDomain(domain string) bool {
	for _, d := range e.config.Registration.PublicDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// link joins WebURL with path and query.
func (e *Engine) link(path string, query url.Values) string {
	base := strings.TrimRight(e.config.WebURL, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	out := base + path
	if len(query) > 0 {
		out += "?" + query.Encode()
	}
	return out
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func emailLocalPart(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	return email[:at]
}

// slugify lowercases s and collapses every run of other characters into a
// single dash.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

const (
	tempLower   = "abcdefghijkmnopqrstuvwxyz"
	tempUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	tempDigits  = "23456789"
	tempSpecial = password.SpecialCharacters
	tempLength  = 14
)

// temporaryPassword returns a random password that passes CheckStrength.
func temporaryPassword() (string, error) {
	classes := []string{tempLower, tempUpper, tempDigits, tempSpecial}
	all := tempLower + tempUpper + tempDigits + tempSpecial

	out := make([]byte, 0, tempLength)
	for _, c := range classes {
		ch, err := randomChar(c)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}
	for len(out) < tempLength {
		ch, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	// Fisher-Yates so the class prefix is not positional.
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
