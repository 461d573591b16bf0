package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/ratelimit"
	"github.com/smallbiznis/voxbill/internal/testutil"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"github.com/smallbiznis/voxbill/internal/webhook/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	sched *Scheduler
}

func newFixture(t *testing.T, locker ratelimit.Locker, cfg Config) fixture {
	t.Helper()

	db := testutil.NewDB(t, &webhookdomain.DeliveryLog{})
	clk := clock.NewFakeClock(now)
	sched, err := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clk,
		GenID:  testutil.NewNode(t),
		Repo:   repository.Provide(),
		Locker: locker,
		Config: cfg,
	})
	require.NoError(t, err)
	return fixture{db: db, clock: clk, sched: sched}
}

func seedLogs(t *testing.T, f fixture, count int, createdAt time.Time) {
	t.Helper()
	node := testutil.NewNode(t)
	for i := 0; i < count; i++ {
		require.NoError(t, f.db.Create(&webhookdomain.DeliveryLog{
			ID:                node.Generate(),
			OrganizationID:    1001,
			WebhookEndpointID: 2002,
			Event:             "usage.recorded",
			Status:            webhookdomain.DeliveryStatusSuccess,
			RequestBody:       `{}`,
			CreatedAt:         createdAt,
		}).Error)
	}
}

func countLogs(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&webhookdomain.DeliveryLog{}).Count(&n).Error)
	return n
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 5*time.Minute, cfg.RunInterval)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 30*24*time.Hour, cfg.DeliveryLogRetention)
	assert.Equal(t, time.Minute, cfg.JobTimeout)
}

func TestPruneDeliveryLogsRemovesOnlyExpired(t *testing.T) {
	f := newFixture(t, nil, Config{BatchSize: 2, DeliveryLogRetention: 24 * time.Hour})
	seedLogs(t, f, 5, now.Add(-48*time.Hour))
	seedLogs(t, f, 3, now.Add(-time.Hour))

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, int64(3), countLogs(t, f.db))
}

func TestPruneDeliveryLogsFollowsClock(t *testing.T) {
	f := newFixture(t, nil, Config{DeliveryLogRetention: 24 * time.Hour})
	seedLogs(t, f, 2, now.Add(-time.Hour))

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, int64(2), countLogs(t, f.db))

	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, int64(0), countLogs(t, f.db))
}

func TestJobSkippedWhileAnotherReplicaHoldsLock(t *testing.T) {
	locker := ratelimit.NewMemoryLocker(clock.NewFakeClock(now))
	f := newFixture(t, locker, Config{DeliveryLogRetention: time.Hour})
	seedLogs(t, f, 2, now.Add(-2*time.Hour))

	_, ok, err := locker.TryLock(context.Background(), "scheduler:job:"+JobPruneDeliveryLogs, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, int64(2), countLogs(t, f.db))
}

func TestJobReleasesLockAfterRun(t *testing.T) {
	locker := ratelimit.NewMemoryLocker(clock.NewFakeClock(now))
	f := newFixture(t, locker, Config{DeliveryLogRetention: time.Hour})

	require.NoError(t, f.sched.RunOnce(context.Background()))

	_, ok, err := locker.TryLock(context.Background(), "scheduler:job:"+JobPruneDeliveryLogs, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDisabledJobDoesNotRun(t *testing.T) {
	f := newFixture(t, nil, Config{DeliveryLogRetention: time.Hour, EnabledJobs: []string{"something_else"}})
	seedLogs(t, f, 1, now.Add(-2*time.Hour))

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, int64(1), countLogs(t, f.db))
}

func TestRunJobTimeoutIsNotAnError(t *testing.T) {
	f := newFixture(t, nil, Config{})

	err := f.sched.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)
}

func TestRunJobWrapsFailures(t *testing.T) {
	f := newFixture(t, nil, Config{})
	boom := errors.New("boom")

	err := f.sched.runJob(context.Background(), "failing_job", time.Second, func(context.Context) error {
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil, Config{RunInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.sched.RunForever(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
}
