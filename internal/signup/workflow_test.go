package signup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"write-paid/internal/captcha"
	"write-paid/internal/identity"
	"write-paid/internal/ledger"
	"write-paid/internal/referral"
	"write-paid/internal/store"
	"write-paid/internal/store/memstore"
	"write-paid/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type passCheck struct{}

func (passCheck) Verify(ctx context.Context, id, answer string) error { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Alert(ctx context.Context, title, details string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *recordingNotifier) Titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}

func sequence(codes ...string) referral.Generator {
	i := 0
	return func() (string, error) {
		if i >= len(codes) {
			return "", fmt.Errorf("последовательность исчерпана")
		}
		code := codes[i]
		i++
		return code, nil
	}
}

type fixture struct {
	store    *memstore.Store
	identity *identity.MemoryProvider
	alerts   *recordingNotifier
	workflow *Workflow
}

func newFixture(t *testing.T, logger *zap.Logger, check HumanCheck, codes ...string) *fixture {
	t.Helper()
	st := memstore.New()
	provider := identity.NewMemoryProvider()
	registry := referral.NewRegistry(logger)
	if len(codes) > 0 {
		registry = registry.WithGenerator(sequence(codes...))
	}
	alerts := &recordingNotifier{}
	wf := NewWorkflow(st, provider, registry, ledger.New(registry, logger), check, alerts, nil, logger)
	return &fixture{store: st, identity: provider, alerts: alerts, workflow: wf}
}

func validRequest(name string) Request {
	return Request{
		FirstName:       name,
		LastName:        "Writer",
		Email:           name + "@example.com",
		Phone:           "+15550000000",
		Username:        name,
		Country:         "US",
		State:           "CA",
		Password:        "correct-horse",
		ConfirmPassword: "correct-horse",
		AcceptTerms:     true,
	}
}

func TestRegisterCreditsReferrer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, zap.NewNop(), passCheck{}, "AB12CD34", "BBBBBBBB")

	a, err := f.workflow.Register(ctx, validRequest("alice"))
	require.NoError(t, err)
	assert.Equal(t, "AB12CD34", a.ReferralCode)
	assert.Equal(t, OutcomeVerifyEmail, a.Outcome)

	reqB := validRequest("bob")
	reqB.ReferralCode = "ab12cd34"
	b, err := f.workflow.Register(ctx, reqB)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", b.ReferralCode)

	profileA, err := f.store.User().Get(ctx, a.UID)
	require.NoError(t, err)
	assert.Equal(t, 1, profileA.ReferralCount)
	assert.Equal(t, ledger.ReferralReward, profileA.RewardPoints)

	profileB, err := f.store.User().Get(ctx, b.UID)
	require.NoError(t, err)
	require.NotNil(t, profileB.ReferredBy)
	assert.Equal(t, "AB12CD34", *profileB.ReferredBy)
	assert.Equal(t, 0, profileB.RewardPoints)
	assert.Equal(t, models.PackageBronze, profileB.Package)

	refs, err := f.store.Referral().ListByReferrer(ctx, a.UID, 0)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, b.UID, refs[0].RefereeUID)
	assert.Equal(t, models.ReferralSourceWeb, refs[0].Source)

	code, err := f.store.ReferralCode().Get(ctx, "BBBBBBBB")
	require.NoError(t, err)
	assert.Equal(t, b.UID, code.UID)

	// Сессия завершена, письмо отправлено
	assert.Equal(t, 1, f.identity.SignOuts(b.UID))
	assert.Contains(t, f.identity.VerificationsSent(), "bob@example.com")
	acc, ok := f.identity.Account(b.UID)
	require.True(t, ok)
	assert.Equal(t, "bob Writer", acc.DisplayName)
}

func TestRegisterUnknownReferralCodeStillSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, zap.NewNop(), passCheck{})

	req := validRequest("carol")
	req.ReferralCode = "NOPE0000"
	res, err := f.workflow.Register(ctx, req)
	require.NoError(t, err)

	profile, err := f.store.User().Get(ctx, res.UID)
	require.NoError(t, err)
	require.NotNil(t, profile.ReferredBy)
	assert.Equal(t, "NOPE0000", *profile.ReferredBy)

	refs, err := f.store.Referral().ListByReferrer(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestRegisterDuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, zap.NewNop(), passCheck{})

	_, err := f.workflow.Register(ctx, validRequest("dave"))
	require.NoError(t, err)

	again := validRequest("dave")
	again.Username = "dave2"
	_, err = f.workflow.Register(ctx, again)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrDuplicateIdentity)

	n, err := f.store.User().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterRollsBackAndDeletesAccountOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, zap.NewNop(), passCheck{}, "AB12CD34", "BBBBBBBB")

	a, err := f.workflow.Register(ctx, validRequest("alice"))
	require.NoError(t, err)

	f.store.FailOn("referrals.Create", errors.New("диск заполнен"))

	req := validRequest("bob")
	req.ReferralCode = "AB12CD34"
	_, err = f.workflow.Register(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProfilePersist)

	// Ни профиля, ни кода, ни начисления
	n, err := f.store.User().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := f.store.ReferralCode().Exists(ctx, "BBBBBBBB")
	require.NoError(t, err)
	assert.False(t, exists)

	profileA, err := f.store.User().Get(ctx, a.UID)
	require.NoError(t, err)
	assert.Equal(t, 0, profileA.ReferralCount)
	assert.Equal(t, 0, profileA.RewardPoints)

	// Учетная запись удалена, повторная регистрация возможна
	_, err = f.identity.LookupByEmail(ctx, "bob@example.com")
	assert.ErrorIs(t, err, identity.ErrAccountNotFound)
	assert.Empty(t, f.alerts.Titles())
}

func TestRegisterReportsOrphanWhenCleanupFails(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.InfoLevel)
	f := newFixture(t, zap.New(core), passCheck{})

	f.store.FailOn("users.Create", errors.New("нет соединения"))
	f.identity.FailDelete = errors.New("провайдер недоступен")

	_, err := f.workflow.Register(ctx, validRequest("erin"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProfilePersist)
	assert.NotErrorIs(t, err, f.identity.FailDelete, "возвращается исходная ошибка")

	critical := logs.FilterField(zap.String("condition", ConditionOrphanedIdentity)).All()
	require.Len(t, critical, 1)
	assert.Equal(t, zapcore.ErrorLevel, critical[0].Level)
	assert.Equal(t, []string{ConditionOrphanedIdentity}, f.alerts.Titles())

	_, err = f.identity.LookupByEmail(ctx, "erin@example.com")
	assert.NoError(t, err, "учетная запись осталась у провайдера")
}

func TestRegisterUsernameTaken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, zap.NewNop(), passCheck{})

	_, err := f.workflow.Register(ctx, validRequest("frank"))
	require.NoError(t, err)

	req := validRequest("frank")
	req.Email = "another@example.com"
	_, err = f.workflow.Register(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.ErrorIs(t, err, ErrProfilePersist)

	_, err = f.identity.LookupByEmail(ctx, "another@example.com")
	assert.ErrorIs(t, err, identity.ErrAccountNotFound)
}

func TestRegisterSideEffectFailuresAreNotFatal(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, zap.New(core), passCheck{})

	f.identity.FailVerification = errors.New("smtp недоступен")
	f.identity.FailDisplayName = errors.New("квота")
	f.identity.FailSignOut = errors.New("таймаут")

	res, err := f.workflow.Register(ctx, validRequest("grace"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerifyEmail, res.Outcome)

	_, err = f.store.User().Get(ctx, res.UID)
	require.NoError(t, err)
	assert.Equal(t, 3, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestRegisterRejectsInvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{name: "нет имени", mutate: func(r *Request) { r.FirstName = "  " }},
		{name: "некорректный email", mutate: func(r *Request) { r.Email = "not-an-email" }},
		{name: "короткий пароль", mutate: func(r *Request) { r.Password, r.ConfirmPassword = "short", "short" }},
		{name: "пароли не совпадают", mutate: func(r *Request) { r.ConfirmPassword = "something-else" }},
		{name: "условия не приняты", mutate: func(r *Request) { r.AcceptTerms = false }},
		{name: "нет штата", mutate: func(r *Request) { r.State = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, zap.NewNop(), passCheck{})
			req := validRequest("henry")
			tt.mutate(&req)

			_, err := f.workflow.Register(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)

			_, lookupErr := f.identity.LookupByEmail(context.Background(), req.Email)
			assert.Error(t, lookupErr, "учетная запись не должна создаваться")
		})
	}
}

func TestRegisterRequiresHumanCheck(t *testing.T) {
	ctx := context.Background()
	check := captcha.NewService(captcha.NewMemoryStore(), time.Minute, zap.NewNop())
	f := newFixture(t, zap.NewNop(), check)

	req := validRequest("ivan")
	req.CaptchaID = "missing"
	req.CaptchaAnswer = "ABC123"
	_, err := f.workflow.Register(ctx, req)
	assert.ErrorIs(t, err, ErrHumanCheckFailed)

	challenge, err := check.Issue(ctx)
	require.NoError(t, err)
	req.CaptchaID = challenge.ID
	req.CaptchaAnswer = challenge.Text
	_, err = f.workflow.Register(ctx, req)
	require.NoError(t, err)
}

func TestRegisterConsumesAdminGrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, zap.NewNop(), passCheck{})

	require.NoError(t, f.store.AdminGrant().Put(ctx, &models.AdminGrant{Email: "judy@example.com", GrantedBy: "cli"}))

	res, err := f.workflow.Register(ctx, validRequest("judy"))
	require.NoError(t, err)
	assert.True(t, res.IsAdmin)
	assert.Equal(t, OutcomeAdminCreated, res.Outcome)

	profile, err := f.store.User().Get(ctx, res.UID)
	require.NoError(t, err)
	assert.True(t, profile.IsAdmin)

	acc, ok := f.identity.Account(res.UID)
	require.True(t, ok)
	assert.True(t, acc.Admin)

	// Роль выдается однократно
	taken, err := f.store.AdminGrant().Take(ctx, "judy@example.com")
	require.NoError(t, err)
	assert.False(t, taken)

	other, err := f.workflow.Register(ctx, validRequest("kate"))
	require.NoError(t, err)
	assert.False(t, other.IsAdmin)
	assert.Equal(t, OutcomeVerifyEmail, other.Outcome)
}

func TestRegisterConcurrentReferralsAreAllCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, zap.NewNop(), passCheck{})

	owner, err := f.workflow.Register(ctx, validRequest("owner"))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validRequest(fmt.Sprintf("guest%d", i))
			req.ReferralCode = owner.ReferralCode
			_, err := f.workflow.Register(ctx, req)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	profile, err := f.store.User().Get(ctx, owner.UID)
	require.NoError(t, err)
	assert.Equal(t, n, profile.ReferralCount)
	assert.Equal(t, n*ledger.ReferralReward, profile.RewardPoints)

	var total int
	err = f.store.RunInTx(ctx, func(ctx context.Context, tx store.Repositories) error {
		refs, err := tx.Referral().ListByReferrer(ctx, owner.UID, 0)
		total = len(refs)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, n, total)
}
