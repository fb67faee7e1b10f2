package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"write-paid/internal/identity"
	"write-paid/internal/store/memstore"
	"write-paid/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createUser(t *testing.T, st *memstore.Store, uid, email string, pkg models.PackageTier, points int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.User().Create(ctx, &models.UserProfile{
		UID:          uid,
		FirstName:    uid,
		Email:        email,
		Username:     uid,
		ReferralCode: "CODE" + uid,
		Package:      pkg,
	}))
	if points > 0 {
		require.NoError(t, st.User().UpdateRewards(ctx, uid, 1, points))
	}
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := NewService(st, identity.NewMemoryProvider(), zap.NewNop())

	createUser(t, st, "u1", "u1@example.com", models.PackageBronze, 0)

	profile, err := svc.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", profile.Email)

	_, err = svc.Profile(ctx, "missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	isAdmin, err := svc.IsAdmin(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestGrantAdminExistingUser(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	provider := identity.NewMemoryProvider()
	svc := NewService(st, provider, zap.NewNop())

	acc, err := provider.CreateAccount(ctx, "boss@example.com", "password")
	require.NoError(t, err)
	createUser(t, st, acc.UID, "boss@example.com", models.PackageBronze, 0)

	result, err := svc.GrantAdmin(ctx, " Boss@Example.com ", "cli")
	require.NoError(t, err)
	assert.Equal(t, GrantApplied, result)

	isAdmin, err := svc.IsAdmin(ctx, acc.UID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	got, ok := provider.Account(acc.UID)
	require.True(t, ok)
	assert.True(t, got.Admin)

	result, err = svc.RevokeAdmin(ctx, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, GrantApplied, result)

	isAdmin, err = svc.IsAdmin(ctx, acc.UID)
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestGrantAdminPendingUntilSignup(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := NewService(st, identity.NewMemoryProvider(), zap.NewNop())

	result, err := svc.GrantAdmin(ctx, "future@example.com", "cli")
	require.NoError(t, err)
	assert.Equal(t, GrantPending, result)

	result, err = svc.RevokeAdmin(ctx, "future@example.com")
	require.NoError(t, err)
	assert.Equal(t, GrantPending, result)

	taken, err := st.AdminGrant().Take(ctx, "future@example.com")
	require.NoError(t, err)
	assert.False(t, taken, "отозванная роль не должна применяться")
}

func TestGrantAdminProviderFailure(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	provider := identity.NewMemoryProvider()
	provider.FailSetAdmin = errors.New("квота")
	svc := NewService(st, provider, zap.NewNop())

	createUser(t, st, "u1", "u1@example.com", models.PackageBronze, 0)

	_, err := svc.GrantAdmin(ctx, "u1@example.com", "cli")
	require.Error(t, err)

	isAdmin, err := svc.IsAdmin(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, isAdmin, "роль в профиле сохраняется")
}

func TestGrantAdminRequiresEmail(t *testing.T) {
	svc := NewService(memstore.New(), identity.NewMemoryProvider(), zap.NewNop())
	_, err := svc.GrantAdmin(context.Background(), "  ", "cli")
	assert.Error(t, err)
}

func TestOverview(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	st.SetClock(func() time.Time { return now.AddDate(0, 0, -2) })
	createUser(t, st, "old", "old@example.com", models.PackageGold, 0)
	st.SetClock(func() time.Time { return now.AddDate(0, 0, -30) })
	createUser(t, st, "ancient", "ancient@example.com", models.PackageBronze, 0)
	st.SetClock(func() time.Time { return now })
	createUser(t, st, "a", "a@example.com", models.PackageBronze, 300)
	createUser(t, st, "b", "b@example.com", models.PackagePlatinum, 100)

	require.NoError(t, st.Course().Create(ctx, &models.Course{Slug: "intro", Title: "Intro"}))
	require.NoError(t, st.Lead().Create(ctx, &models.Lead{FirstName: "L", Email: "l@example.com"}))

	svc := NewService(st, identity.NewMemoryProvider(), zap.NewNop())
	svc.now = func() time.Time { return now }

	overview, err := svc.Overview(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, overview.TotalUsers)
	assert.Len(t, overview.RecentUsers, 4)
	assert.Equal(t, map[models.PackageTier]int{
		models.PackageBronze:   2,
		models.PackageGold:     1,
		models.PackagePlatinum: 1,
	}, overview.Packages)
	assert.Equal(t, 1, overview.TotalCourses)
	assert.Equal(t, 1, overview.TotalLeads)
	assert.Equal(t, 400, overview.OutstandingRP)

	require.Len(t, overview.DailySignups, 7)
	assert.Equal(t, "2026-03-04", overview.DailySignups[0].Date)
	assert.Equal(t, "2026-03-10", overview.DailySignups[6].Date)
	assert.Equal(t, 2, overview.DailySignups[6].Count)
	assert.Equal(t, 1, overview.DailySignups[4].Count)
	assert.Equal(t, 0, overview.DailySignups[5].Count)
}
