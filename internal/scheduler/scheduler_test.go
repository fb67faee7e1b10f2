package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"write-paid/internal/metrics"
	"write-paid/internal/store/memstore"
	"write-paid/pkg/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerRunsJobImmediately(t *testing.T) {
	s, err := NewScheduler(zap.NewNop())
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.AddJob(context.Background(), "counter", time.Hour, JobFunc(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})))
	require.NoError(t, s.AddJob(context.Background(), "failing", time.Hour, JobFunc(func(ctx context.Context) error {
		return errors.New("сбой")
	})))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Shutdown())
}

func TestSchedulerSkipsCancelledContext(t *testing.T) {
	s, err := NewScheduler(zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var runs atomic.Int32
	require.NoError(t, s.AddJob(ctx, "counter", time.Hour, JobFunc(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})))

	s.Start()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Shutdown())
	assert.Equal(t, int32(0), runs.Load())
}

func TestLedgerStatsJob(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	for _, u := range []struct {
		uid    string
		points int
	}{{"a", 300}, {"b", 0}, {"c", 100}} {
		require.NoError(t, st.User().Create(ctx, &models.UserProfile{
			UID: u.uid, Email: u.uid + "@example.com", Username: u.uid, ReferralCode: "CODE" + u.uid,
		}))
		require.NoError(t, st.User().UpdateRewards(ctx, u.uid, 0, u.points))
	}

	m := metrics.New(zap.NewNop())
	job := NewLedgerStatsJob(st.User(), m, zap.NewNop())
	require.NoError(t, job.Run(ctx))

	expected := `
# HELP outstanding_reward_points Сумма невыплаченных баллов
# TYPE outstanding_reward_points gauge
outstanding_reward_points 400
# HELP users_total Количество зарегистрированных пользователей
# TYPE users_total gauge
users_total 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "outstanding_reward_points", "users_total"))
}

func TestLedgerStatsJobStoreFailure(t *testing.T) {
	st := memstore.New()
	st.FailOn("users.SumRewardPoints", errors.New("нет соединения"))

	job := NewLedgerStatsJob(st.User(), nil, zap.NewNop())
	assert.Error(t, job.Run(context.Background()))
}
