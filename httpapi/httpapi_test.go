package httpapi_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentx/authcore"
	"github.com/talentx/authcore/httpapi"
	mw "github.com/talentx/authcore/middleware"
	"github.com/talentx/authcore/password"
	"github.com/talentx/authcore/store/memory"
	"github.com/talentx/authcore/totp"
)

const (
	tenantID = "tenant-acme"
	goodPass = "Str0ng!Pass"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiEnv struct {
	router *gin.Engine
	store  *memory.Store
}

func newAPIEnv(t *testing.T, cfg httpapi.Config) *apiEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	engineCfg := authcore.DefaultConfig()
	engineCfg.Environment = authcore.EnvTest
	engineCfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	engineCfg.Password.BcryptCost = 4

	store := memory.New()
	store.PutTenant(authcore.Tenant{ID: tenantID, Name: "Acme", Slug: "acme", Domain: "acme.com", Status: authcore.TenantActive})

	engine, err := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithAccountStore(store).
		WithMFAPolicy(store).
		Build()
	require.NoError(t, err)

	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
	})

	return &apiEnv{router: httpapi.NewRouter(engine, cfg), store: store}
}

func noThrottle() httpapi.Config {
	cfg := httpapi.DefaultConfig()
	cfg.RatePerSecond = 0
	return cfg
}

func (env *apiEnv) seed(t *testing.T, id, email, role string) {
	t.Helper()
	h, err := password.NewBcrypt(4)
	require.NoError(t, err)
	hash, err := h.Hash(goodPass)
	require.NoError(t, err)
	env.store.PutAccount(authcore.Account{
		ID:           id,
		Email:        email,
		TenantID:     tenantID,
		PasswordHash: hash,
		FirstName:    strings.Split(email, "@")[0],
		Role:         role,
		Status:       authcore.StatusActive,
		CreatedAt:    time.Now(),
	})
}

func (env *apiEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type loginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	SessionID    string `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
	User         struct {
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	} `json:"user"`
}

func (env *apiEnv) login(t *testing.T, email string) loginResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": goodPass}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestLoginAndMe(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-1", "rec@acme.com", "RECRUITER")

	res := env.login(t, "rec@acme.com")
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.NotEmpty(t, res.SessionToken)
	assert.Equal(t, "RECRUITER", res.User.Role)

	rec := env.do(t, http.MethodGet, "/auth/me", nil, bearer(res.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode(t, rec)
	assert.Equal(t, "rec@acme.com", me["email"])
	assert.Equal(t, tenantID, me["tenantId"])

	rec = env.do(t, http.MethodGet, "/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginLockoutReturns423(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-1", "lock@acme.com", "RECRUITER")

	for i := 0; i < 5; i++ {
		rec := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "lock@acme.com", "password": "wrong"}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "INVALID_CREDENTIALS", decode(t, rec)["error"])
	}

	rec := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "lock@acme.com", "password": goodPass}, nil)
	require.Equal(t, http.StatusLocked, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ACCOUNT_LOCKED", body["error"])
	assert.EqualValues(t, 15, body["remainingMinutes"])
}

func TestLoginBindingErrors(t *testing.T) {
	env := newAPIEnv(t, noThrottle())

	rec := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "x@acme.com"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decode(t, rec)["error"])
}

func TestRegisterWeakPasswordListsViolations(t *testing.T) {
	env := newAPIEnv(t, noThrottle())

	rec := env.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email":    "new@acme.com",
		"password": "short",
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "WEAK_PASSWORD", body["error"])
	violations, ok := body["violations"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestRegisterJoinsTenantAndConflicts(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	body := map[string]string{"email": "joiner@acme.com", "password": goodPass, "firstName": "Jo"}

	rec := env.do(t, http.MethodPost, "/auth/register", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.Equal(t, tenantID, res["tenantId"])
	assert.Equal(t, "RECRUITER", res["role"])

	rec = env.do(t, http.MethodPost, "/auth/register", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefreshAndLogout(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-1", "rt@acme.com", "ADMIN")
	res := env.login(t, "rt@acme.com")

	rec := env.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": res.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode(t, rec)
	assert.NotEqual(t, res.RefreshToken, next["refreshToken"])

	rec = env.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": res.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/logout", nil, bearer(res.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": next["refreshToken"].(string)}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionRoutes(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-1", "s@acme.com", "RECRUITER")
	first := env.login(t, "s@acme.com")
	second := env.login(t, "s@acme.com")

	headers := bearer(first.AccessToken)
	headers[mw.SessionHeader] = first.SessionToken

	rec := env.do(t, http.MethodGet, "/auth/sessions", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []authcore.SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 2)

	rec = env.do(t, http.MethodPost, "/auth/sessions/refresh", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.SessionID, decode(t, rec)["sessionId"])

	rec = env.do(t, http.MethodPost, "/auth/sessions/refresh", nil, bearer(first.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodDelete, "/auth/sessions", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["terminated"])

	rec = env.do(t, http.MethodDelete, "/auth/sessions/"+second.SessionID, nil, headers)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/auth/sessions/"+first.SessionID, nil, headers)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionTokenMustMatchAccount(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-1", "a@acme.com", "RECRUITER")
	env.seed(t, "u-2", "b@acme.com", "RECRUITER")
	a := env.login(t, "a@acme.com")
	b := env.login(t, "b@acme.com")

	headers := bearer(a.AccessToken)
	headers[mw.SessionHeader] = b.SessionToken
	rec := env.do(t, http.MethodPost, "/auth/sessions/refresh", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionTimeoutRoute(t *testing.T) {
	env := newAPIEnv(t, noThrottle())

	rec := env.do(t, http.MethodGet, "/auth/session-timeout?role=CANDIDATE", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 10080, body["timeoutMinutes"])
	assert.EqualValues(t, 2, body["warningMinutes"])

	rec = env.do(t, http.MethodGet, "/auth/session-timeout", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["timeouts"], 7)
}

func TestInviteNeedsPermission(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-r", "rec@acme.com", "RECRUITER")
	env.seed(t, "u-a", "admin@acme.com", "ADMIN")
	body := map[string]string{"email": "new.hire@acme.com", "role": "INTERVIEWER"}

	rec := env.do(t, http.MethodPost, "/auth/invite", body, bearer(env.login(t, "rec@acme.com").AccessToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/invite", body, bearer(env.login(t, "admin@acme.com").AccessToken))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["temporaryPassword"])

	acct, err := env.store.AccountByEmail(t.Context(), "new.hire@acme.com", tenantID)
	require.NoError(t, err)
	assert.True(t, acct.RequirePasswordChange)
}

func TestForgotPasswordIsGeneric(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-1", "known@acme.com", "RECRUITER")

	known := env.do(t, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "known@acme.com"}, nil)
	unknown := env.do(t, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "nobody@acme.com"}, nil)
	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
}

func TestOTPRequestEchoesCodeOutsideProduction(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-1", "otp@acme.com", "RECRUITER")

	rec := env.do(t, http.MethodPost, "/auth/otp/request", map[string]string{"email": "otp@acme.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	code, _ := decode(t, rec)["code"].(string)
	require.Len(t, code, 6)

	rec = env.do(t, http.MethodPost, "/auth/otp/verify", map[string]string{"email": "otp@acme.com", "code": code}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.Equal(t, true, res["verified"])
	assert.NotNil(t, res["login"])

	rec = env.do(t, http.MethodPost, "/auth/otp/verify", map[string]string{"email": "otp@acme.com", "code": code}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMFAStatusRequiresAuth(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-1", "m@acme.com", "RECRUITER")

	rec := env.do(t, http.MethodGet, "/auth/mfa/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/auth/mfa/status", nil, bearer(env.login(t, "m@acme.com").AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["enabled"])

	rec = env.do(t, http.MethodPost, "/auth/mfa/verify", map[string]string{"mfaToken": "nope", "code": "123456"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequiredMFAEnrollsBeforeTokens(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-v", "vendor@acme.com", "VENDOR")

	rec := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "vendor@acme.com", "password": goodPass}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["requiresMfa"])
	assert.Equal(t, true, body["mfaSetupRequired"])
	assert.Empty(t, body["accessToken"])
	assert.Empty(t, body["sessionToken"])
	mfaToken, _ := body["mfaToken"].(string)
	require.NotEmpty(t, mfaToken)

	rec = env.do(t, http.MethodPost, "/auth/mfa/verify", map[string]string{"mfaToken": mfaToken, "code": "123456"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "MFA_REQUIRED", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/auth/mfa/enroll", map[string]string{"mfaToken": mfaToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	secret, _ := decode(t, rec)["secret"].(string)
	require.NotEmpty(t, secret)

	code := totp.NewGenerator(totp.DefaultConfig()).Code(totp.DecodeBase32(secret), time.Now())
	rec = env.do(t, http.MethodPost, "/auth/mfa/enroll/confirm", map[string]string{"mfaToken": mfaToken, "code": code}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["sessionToken"])
	assert.Len(t, body["backupCodes"], 10)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newAPIEnv(t, noThrottle())
	env.seed(t, "u-1", "h@acme.com", "RECRUITER")
	env.login(t, "h@acme.com")

	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "authcore_login_success_total 1")
	assert.Contains(t, rec.Body.String(), "authcore_session_created_total 1")
}

func TestIPThrottle(t *testing.T) {
	cfg := httpapi.DefaultConfig()
	cfg.RatePerSecond = 0.001
	cfg.RateBurst = 2
	env := newAPIEnv(t, cfg)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/auth/session-timeout", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, fmt.Sprintf("request %d", i))
	}
	rec := env.do(t, http.MethodGet, "/auth/session-timeout", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health checks are outside the throttled group.
	rec = env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPLimiterTracksPerIP(t *testing.T) {
	l := httpapi.NewIPLimiter(1, 1, time.Minute)
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, ip := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 2, l.Size())
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&authcore.LockedError{RemainingMinutes: 3}, http.StatusLocked, "ACCOUNT_LOCKED"},
		{&authcore.WeakPasswordError{Violations: []string{"x"}}, http.StatusUnprocessableEntity, "WEAK_PASSWORD"},
		{&authcore.AccountNotActiveError{Status: authcore.StatusSuspended}, http.StatusForbidden, "ACCOUNT_NOT_ACTIVE"},
		{authcore.ErrOTPExpired, http.StatusUnauthorized, "OTP_EXPIRED"},
		{authcore.ErrPasswordReuse, http.StatusUnprocessableEntity, "PASSWORD_REUSE"},
		{authcore.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{authcore.ErrAccountExists, http.StatusConflict, "ACCOUNT_EXISTS"},
		{fmt.Errorf("%w: dial tcp", authcore.ErrBackendUnavailable), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		status, code := httpapi.StatusOf(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
