// Package postgres is the PostgreSQL [authcore.AccountStore]. It also answers
// [authcore.MFAPolicy] from the tenant flag and the global_mfa_enforced
// setting.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentx/authcore"
)

//go:embed schema.sql
var schema string

// GlobalMFASetting is the global_settings key that enforces MFA everywhere.
const GlobalMFASetting = "global_mfa_enforced"

const uniqueViolation = "23505"

// PoolConfig sizes the connection pool. Zero fields keep pgx defaults.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPoolConfig returns the sizing used by the service.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        20,
		MinConns:        2,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// Open connects a pool and pings it.
func Open(ctx context.Context, url string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Store implements authcore.AccountStore over a pgx pool.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates every table and index that does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

/*
====================================
ACCOUNTS
====================================
*/

const accountColumns = `
	u.id, u.email, u.tenant_id, u.password_hash, u.first_name, u.last_name,
	u.role, COALESCE(u.role_id, ''), COALESCE(r.permissions, '{}'), u.custom_permissions,
	u.status, u.mfa_enabled, u.mfa_secret, u.require_password_change,
	u.temp_password_expires_at, u.last_login_at, u.created_at
	FROM users u LEFT JOIN roles r ON r.id = u.role_id`

func scanAccount(row pgx.Row) (*authcore.Account, error) {
	var (
		a      authcore.Account
		status string
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.TenantID, &a.PasswordHash, &a.FirstName, &a.LastName,
		&a.Role, &a.RoleID, &a.RolePermissions, &a.CustomPermissions,
		&status, &a.MFAEnabled, &a.MFASecret, &a.RequirePasswordChange,
		&a.TempPasswordExpiresAt, &a.LastLoginAt, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrAccountNotFound
		}
		return nil, err
	}
	a.Status = authcore.AccountStatus(status)
	return &a, nil
}

func (s *Store) AccountByID(ctx context.Context, accountID string) (*authcore.Account, error) {
	return scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` WHERE u.id = $1`, accountID))
}

func (s *Store) AccountByEmail(ctx context.Context, email, tenantID string) (*authcore.Account, error) {
	return scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` WHERE u.email = $1 AND u.tenant_id = $2`,
		strings.ToLower(email), tenantID))
}

// AccountsByEmail returns every account for email, oldest first.
func (s *Store) AccountsByEmail(ctx context.Context, email string) ([]authcore.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+accountColumns+` WHERE u.email = $1 ORDER BY u.created_at, u.id`,
		strings.ToLower(email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authcore.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) CreateAccount(ctx context.Context, in authcore.NewAccount) (*authcore.Account, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, tenant_id, password_hash, first_name, last_name, role, status,
		                    require_password_change, temp_password_expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, strings.ToLower(in.Email), in.TenantID, in.PasswordHash, in.FirstName, in.LastName,
		in.Role, string(in.Status), in.RequirePasswordChange, in.TempPasswordExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, authcore.ErrAccountExists
		}
		return nil, err
	}
	return s.AccountByID(ctx, id)
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

func (s *Store) SetAccountStatus(ctx context.Context, accountID string, status authcore.AccountStatus) error {
	return s.exec(ctx, `UPDATE users SET status = $2 WHERE id = $1`, accountID, string(status))
}

func (s *Store) SetLastLogin(ctx context.Context, accountID string, at time.Time) error {
	return s.exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, accountID, at)
}

/*
====================================
PASSWORDS
====================================
*/

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, hash string) error {
	return s.exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, accountID, hash)
}

// SetPassword moves the current hash into history and stores the new one in a
// single transaction.
func (s *Store) SetPassword(ctx context.Context, accountID, hash string) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1 FOR UPDATE`, accountID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return authcore.ErrAccountNotFound
			}
			return err
		}
		if current != "" {
			if _, err := tx.Exec(ctx,
				`INSERT INTO password_history (user_id, password_hash) VALUES ($1, $2)`,
				accountID, current); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx,
			`UPDATE users
			    SET password_hash = $2, require_password_change = FALSE, temp_password_expires_at = NULL
			  WHERE id = $1`,
			accountID, hash)
		return err
	})
}

func (s *Store) PasswordHistory(ctx context.Context, accountID string, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT password_hash FROM password_history WHERE user_id = $1 ORDER BY id DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

/*
====================================
MFA
====================================
*/

func (s *Store) SetMFASecret(ctx context.Context, accountID, secret string) error {
	return s.exec(ctx, `UPDATE users SET mfa_secret = $2 WHERE id = $1`, accountID, secret)
}

func (s *Store) EnableMFA(ctx context.Context, accountID string, hashes []string) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET mfa_enabled = TRUE WHERE id = $1`, accountID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return authcore.ErrAccountNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, accountID); err != nil {
			return err
		}
		rows := make([][]any, len(hashes))
		for i, h := range hashes {
			rows[i] = []any{accountID, h}
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"mfa_backup_codes"}, []string{"user_id", "code_hash"}, pgx.CopyFromRows(rows))
		return err
	})
}

func (s *Store) DisableMFA(ctx context.Context, accountID string) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET mfa_enabled = FALSE, mfa_secret = '' WHERE id = $1`, accountID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return authcore.ErrAccountNotFound
		}
		_, err = tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, accountID)
		return err
	})
}

// ConsumeBackupCode marks the code used. The used_at guard makes concurrent
// consumers race on the row lock so exactly one wins.
func (s *Store) ConsumeBackupCode(ctx context.Context, accountID, codeHash string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE mfa_backup_codes SET used_at = NOW()
		  WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		accountID, codeHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RemainingBackupCodes(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NULL`,
		accountID).Scan(&n)
	return n, err
}

// MFAEnforced is true when the global setting or the tenant flag is on.
func (s *Store) MFAEnforced(ctx context.Context, tenantID string) (bool, error) {
	var enforced bool
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE((SELECT value = 'true'::jsonb FROM global_settings WHERE key = $1), FALSE)
		     OR COALESCE((SELECT mfa_enforced FROM tenants WHERE id = $2), FALSE)`,
		GlobalMFASetting, tenantID).Scan(&enforced)
	return enforced, err
}

// SetGlobalMFAEnforced writes the global enforcement setting.
func (s *Store) SetGlobalMFAEnforced(ctx context.Context, on bool) error {
	value := "false"
	if on {
		value = "true"
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO global_settings (key, value) VALUES ($1, $2::jsonb)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		GlobalMFASetting, value)
	return err
}

// SetTenantMFAEnforced toggles enforcement for one tenant.
func (s *Store) SetTenantMFAEnforced(ctx context.Context, tenantID string, on bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE tenants SET mfa_enforced = $2 WHERE id = $1`, tenantID, on)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrTenantNotFound
	}
	return nil
}

/*
====================================
TENANTS
====================================
*/

const tenantColumns = `id, name, slug, COALESCE(domain, ''), status, created_at FROM tenants`

func scanTenant(row pgx.Row) (*authcore.Tenant, error) {
	var (
		t      authcore.Tenant
		status string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Domain, &status, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrTenantNotFound
		}
		return nil, err
	}
	t.Status = authcore.TenantStatus(status)
	return &t, nil
}

func (s *Store) TenantByID(ctx context.Context, tenantID string) (*authcore.Tenant, error) {
	return scanTenant(s.db.QueryRow(ctx, `SELECT `+tenantColumns+` WHERE id = $1`, tenantID))
}

func (s *Store) TenantByDomain(ctx context.Context, domain string) (*authcore.Tenant, error) {
	return scanTenant(s.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` WHERE lower(domain) = lower($1) ORDER BY created_at LIMIT 1`, domain))
}

func (s *Store) CreateTenant(ctx context.Context, t authcore.Tenant) (*authcore.Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO tenants (id, name, slug, domain, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, t.Slug, t.Domain, string(t.Status), t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

/*
====================================
LOGIN LEDGER
====================================
*/

func (s *Store) RecordLoginAttempt(ctx context.Context, a authcore.LoginAttempt) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO login_attempts (email, tenant_id, ip_address, success, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.Email, a.TenantID, a.IPAddress, a.Success, a.CreatedAt)
	return err
}

// RecentLoginAttempts returns up to limit ledger rows for email, newest first.
func (s *Store) RecentLoginAttempts(ctx context.Context, email string, limit int) ([]authcore.LoginAttempt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT email, tenant_id, ip_address, success, created_at
		   FROM login_attempts WHERE email = $1 ORDER BY created_at DESC LIMIT $2`,
		strings.ToLower(email), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (authcore.LoginAttempt, error) {
		var a authcore.LoginAttempt
		err := row.Scan(&a.Email, &a.TenantID, &a.IPAddress, &a.Success, &a.CreatedAt)
		return a, err
	})
}

var (
	_ authcore.AccountStore = (*Store)(nil)
	_ authcore.MFAPolicy    = (*Store)(nil)
)
