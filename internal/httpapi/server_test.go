package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"write-paid/internal/captcha"
	"write-paid/internal/config"
	"write-paid/internal/course"
	"write-paid/internal/enrollment"
	"write-paid/internal/identity"
	"write-paid/internal/lead"
	"write-paid/internal/ledger"
	"write-paid/internal/notify"
	"write-paid/internal/payment"
	"write-paid/internal/payout"
	"write-paid/internal/referral"
	"write-paid/internal/signup"
	"write-paid/internal/store/memstore"
	"write-paid/internal/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPayments struct{}

func (stubPayments) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	return &payment.CheckoutSession{ID: "cs_test_api", URL: "https://checkout.stripe.com/c/pay/cs_test_api"}, nil
}

type testEnv struct {
	server   *Server
	store    *memstore.Store
	identity *identity.MemoryProvider
	users    *user.Service
	courses  *course.Service
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	st := memstore.New()
	provider := identity.NewMemoryProvider()
	registry := referral.NewRegistry(logger)
	ldg := ledger.New(registry, logger)
	alerts := notify.NewLogNotifier(logger)
	captchaSvc := captcha.NewService(captcha.NewMemoryStore(), time.Minute, logger)

	users := user.NewService(st, provider, logger)
	courses := course.NewService(st, logger)
	svc := Services{
		Signup:      signup.NewWorkflow(st, provider, registry, ldg, captchaSvc, alerts, nil, logger),
		Captcha:     captchaSvc,
		Referrals:   referral.NewService(st, registry, "https://writeandpaid.test", logger),
		Users:       users,
		Courses:     courses,
		Leads:       lead.NewService(st, logger),
		Payouts:     payout.NewService(st, ldg, alerts, nil, logger),
		Enrollments: enrollment.NewService(st, stubPayments{}, "https://writeandpaid.test", alerts, nil, logger),
		Identity:    provider,
	}
	if cfg.RateLimit.SignupPerMinute == 0 {
		cfg.RateLimit.SignupPerMinute = 600
		cfg.RateLimit.SignupBurst = 100
	}
	return &testEnv{
		server:   NewServer(cfg, svc, nil, logger),
		store:    st,
		identity: provider,
		users:    users,
		courses:  courses,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (e *testEnv) register(t *testing.T, name, referralCode string) signup.Result {
	t.Helper()
	_, env := e.do(t, http.MethodPost, "/api/captcha", "", nil)
	var challenge captcha.Challenge
	require.NoError(t, json.Unmarshal(env.Data, &challenge))

	rec, env := e.do(t, http.MethodPost, "/api/signup", "", map[string]any{
		"firstName":       name,
		"lastName":        "Writer",
		"email":           name + "@example.com",
		"phone":           "+15550000000",
		"username":        name,
		"country":         "US",
		"state":           "CA",
		"password":        "correct-horse",
		"confirmPassword": "correct-horse",
		"terms":           true,
		"referralCode":    referralCode,
		"captchaId":       challenge.ID,
		"captchaAnswer":   challenge.Text,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result signup.Result
	require.NoError(t, json.Unmarshal(env.Data, &result))
	return result
}

func (e *testEnv) verifiedToken(t *testing.T, uid string) string {
	t.Helper()
	e.identity.MarkVerified(uid)
	token, err := e.identity.IssueToken(uid)
	require.NoError(t, err)
	return token
}

func TestSignupAndReferralFlow(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	alice := env.register(t, "alice", "")
	assert.NotEmpty(t, alice.ReferralCode)
	assert.Equal(t, signup.OutcomeVerifyEmail, alice.Outcome)

	rec, resp := env.do(t, http.MethodGet, "/api/referrals/"+alice.ReferralCode+"/referrer", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"alice"}`, string(resp.Data))

	env.register(t, "bob", alice.ReferralCode)

	token := env.verifiedToken(t, alice.UID)
	rec, resp = env.do(t, http.MethodGet, "/api/me/referrals", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		Code          string `json:"code"`
		Link          string `json:"link"`
		ReferralCount int    `json:"referralCount"`
		RewardPoints  int    `json:"rewardPoints"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Equal(t, alice.ReferralCode, summary.Code)
	assert.Equal(t, "https://writeandpaid.test/?ref="+alice.ReferralCode, summary.Link)
	assert.Equal(t, 1, summary.ReferralCount)
	assert.Equal(t, ledger.ReferralReward, summary.RewardPoints)
}

func TestSignupErrors(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	env.register(t, "carol", "")

	t.Run("duplicate email", func(t *testing.T) {
		_, challengeEnv := env.do(t, http.MethodPost, "/api/captcha", "", nil)
		var challenge captcha.Challenge
		require.NoError(t, json.Unmarshal(challengeEnv.Data, &challenge))

		rec, resp := env.do(t, http.MethodPost, "/api/signup", "", map[string]any{
			"firstName": "carol", "lastName": "Writer", "email": "carol@example.com",
			"phone": "+1555", "username": "carol2", "country": "US", "state": "CA",
			"password": "correct-horse", "confirmPassword": "correct-horse", "terms": true,
			"captchaId": challenge.ID, "captchaAnswer": challenge.Text,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.False(t, resp.Success)
		assert.Equal(t, "This email is already registered.", resp.Message)
	})

	t.Run("wrong captcha", func(t *testing.T) {
		rec, resp := env.do(t, http.MethodPost, "/api/signup", "", map[string]any{
			"firstName": "dave", "lastName": "Writer", "email": "dave@example.com",
			"phone": "+1555", "username": "dave", "country": "US", "state": "CA",
			"password": "correct-horse", "confirmPassword": "correct-horse", "terms": true,
			"captchaId": "missing", "captchaAnswer": "nope",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Human verification failed. Please try again.", resp.Message)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec, resp := env.do(t, http.MethodPost, "/api/signup", "", map[string]any{"isAdmin": true})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid request body.", resp.Message)
	})
}

func TestReferrerNameUnknownCode(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	rec, resp := env.do(t, http.MethodGet, "/api/referrals/ZZZZZZZZ/referrer", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestUserRoutesRequireVerifiedSession(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	erin := env.register(t, "erin", "")

	rec, _ := env.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/me", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	unverified, err := env.identity.IssueToken(erin.UID)
	require.NoError(t, err)
	rec, _ = env.do(t, http.MethodGet, "/api/me", unverified, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp := env.do(t, http.MethodGet, "/api/me", env.verifiedToken(t, erin.UID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile struct {
		UID   string `json:"uid"`
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &profile))
	assert.Equal(t, erin.UID, profile.UID)
	assert.Equal(t, "erin@example.com", profile.Email)
}

func TestReferralQRCode(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	frank := env.register(t, "frank", "")
	token := env.verifiedToken(t, frank.UID)

	rec, _ := env.do(t, http.MethodGet, "/api/me/referrals/qr?size=128", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec, _ = env.do(t, http.MethodGet, "/api/me/referrals/qr?size=big", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.Config{})

	res, err := env.users.GrantAdmin(ctx, "root@example.com", "bootstrap")
	require.NoError(t, err)
	assert.Equal(t, user.GrantPending, res)

	root := env.register(t, "root", "")
	assert.True(t, root.IsAdmin)
	gina := env.register(t, "gina", root.ReferralCode)

	adminToken := env.verifiedToken(t, root.UID)
	userToken := env.verifiedToken(t, gina.UID)

	rec, _ := env.do(t, http.MethodGet, "/api/admin/overview", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp := env.do(t, http.MethodGet, "/api/admin/overview", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var overview struct {
		TotalUsers    int `json:"totalUsers"`
		OutstandingRP int `json:"outstandingRewardPoints"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &overview))
	assert.Equal(t, 2, overview.TotalUsers)
	assert.Equal(t, ledger.ReferralReward, overview.OutstandingRP)

	t.Run("partial payout rejected", func(t *testing.T) {
		rec, resp := env.do(t, http.MethodPost, "/api/admin/payouts", adminToken, map[string]any{
			"userId": root.UID, "amount": ledger.ReferralReward - 1,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, resp.Success)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		for _, amount := range []int{0, -50} {
			rec, resp := env.do(t, http.MethodPost, "/api/admin/payouts", adminToken, map[string]any{
				"userId": root.UID, "amount": amount,
			})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Insufficient reward points for this payout.", resp.Message)
		}

		rec, resp := env.do(t, http.MethodPost, "/api/admin/payouts", adminToken, map[string]any{"amount": 100})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "userId is required.", resp.Message)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodPost, "/api/admin/payouts", adminToken, map[string]any{
			"userId": "ghost", "amount": 100,
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("full payout", func(t *testing.T) {
		rec, resp := env.do(t, http.MethodPost, "/api/admin/payouts", adminToken, map[string]any{
			"userId": root.UID, "amount": ledger.ReferralReward,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, resp.Success)

		rec, _ = env.do(t, http.MethodPost, "/api/admin/payouts", adminToken, map[string]any{
			"userId": root.UID, "amount": ledger.ReferralReward,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("media without storage", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodPost, "/api/admin/media/sign", adminToken, map[string]any{
			"filename": "intro.mp4", "contentType": "video/mp4",
		})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("add course", func(t *testing.T) {
		rec, resp := env.do(t, http.MethodPost, "/api/admin/courses", adminToken, map[string]any{
			"title":       "Write Your First Book",
			"description": "A step-by-step course for new authors.",
			"videoUrl":    "https://cdn.example.com/intro.mp4",
			"module":      "Basics",
			"order":       1,
			"price":       4900,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var c struct {
			Slug string `json:"slug"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &c))
		assert.Equal(t, "write-your-first-book", c.Slug)

		rec, _ = env.do(t, http.MethodPost, "/api/admin/courses", adminToken, map[string]any{"title": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCourseCheckoutAndAccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.Config{})

	c, err := env.courses.Add(ctx, course.CreateRequest{
		Title:       "Publishing Basics",
		Description: "Everything about getting published.",
		VideoURL:    "https://cdn.example.com/publishing.mp4",
		Module:      "Publishing",
		Price:       2900,
	})
	require.NoError(t, err)

	hana := env.register(t, "hana", "")
	token := env.verifiedToken(t, hana.UID)

	rec, resp := env.do(t, http.MethodGet, "/api/courses/"+c.ID+"/access", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hasAccess":false}`, string(resp.Data))

	rec, resp = env.do(t, http.MethodPost, "/api/courses/"+c.ID+"/checkout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(resp.Data), "cs_test_api")

	rec, _ = env.do(t, http.MethodPost, "/api/courses/missing/checkout", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/courses/"+c.ID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLeadCaptureRateLimited(t *testing.T) {
	env := newTestEnv(t, config.Config{RateLimit: config.RateLimitConfig{SignupPerMinute: 1, SignupBurst: 1}})

	body := map[string]any{"firstName": "Ivy", "email": "ivy@example.com", "ref": "ab12cd34"}
	rec, resp := env.do(t, http.MethodPost, "/api/leads", "", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)

	rec, resp = env.do(t, http.MethodPost, "/api/leads", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, resp.Success)
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	now = now.Add(limiterIdleTTL + time.Minute)
	require.NoError(t, limiter.Run(context.Background()))
	assert.Empty(t, limiter.visitors)
	assert.True(t, limiter.Allow("10.0.0.1"))
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc"))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("Bearer "))
}

// issuedClaims выдает токены, claim которых зафиксирован в момент выдачи, как у ID-токенов Firebase
type issuedClaims struct {
	*identity.MemoryProvider
	mu     sync.Mutex
	tokens map[string]identity.Token
}

func newIssuedClaims(p *identity.MemoryProvider) *issuedClaims {
	return &issuedClaims{MemoryProvider: p, tokens: make(map[string]identity.Token)}
}

func (c *issuedClaims) issue(t *testing.T, uid string) string {
	t.Helper()
	raw, err := c.MemoryProvider.IssueToken(uid)
	require.NoError(t, err)
	tok, err := c.MemoryProvider.VerifyToken(context.Background(), raw)
	require.NoError(t, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[raw] = *tok
	return raw
}

func (c *issuedClaims) VerifyToken(ctx context.Context, idToken string) (*identity.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[idToken]
	if !ok {
		return nil, identity.ErrInvalidToken
	}
	return &tok, nil
}

func TestRevokedAdminLosesAccessWithIssuedToken(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.Config{})
	bob := env.register(t, "bob", "")

	res, err := env.users.GrantAdmin(ctx, "bob@example.com", "root")
	require.NoError(t, err)
	require.Equal(t, user.GrantApplied, res)

	env.identity.MarkVerified(bob.UID)
	claims := newIssuedClaims(env.identity)
	env.server.svc.Identity = claims
	token := claims.issue(t, bob.UID)

	rec, _ := env.do(t, http.MethodGet, "/api/admin/overview", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	res, err = env.users.RevokeAdmin(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Equal(t, user.GrantApplied, res)

	profile, err := env.users.Profile(ctx, bob.UID)
	require.NoError(t, err)
	assert.False(t, profile.IsAdmin)

	rec, _ = env.do(t, http.MethodGet, "/api/admin/overview", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/admin/payouts", token, map[string]any{"userId": bob.UID, "amount": 100})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
