//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/db"
)

func TestMigrator_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigrator(env.Pool, env.MigrationsDir)

	applied, err := m.Up(ctx, "public")
	require.NoError(t, err)
	assert.Zero(t, applied, "migrations already ran in TestMain")

	statuses, err := m.Status(ctx, "public")
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.True(t, s.Applied, "migration %03d_%s", s.Version, s.Name)
		assert.NotNil(t, s.AppliedAt)
	}
}

func TestMigrator_SeparateSchema(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigrator(env.Pool, env.MigrationsDir)
	t.Cleanup(func() {
		_, _ = env.Pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS scratch CASCADE`)
	})

	applied, err := m.Up(ctx, "scratch")
	require.NoError(t, err)
	assert.Positive(t, applied)

	var n int
	err = env.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'scratch' AND table_name = 'appointment'`,
	).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.Up(ctx, "bad;schema")
	assert.Error(t, err)
}

func TestTxManager_RollbackOnError(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	tm := db.NewTxManager(env.Pool)
	repo := scheduling.NewConsultationHourRepoPG(env.Pool)
	boom := errors.New("boom")

	err := tm.WithTx(ctx, func(ctx context.Context) error {
		h := &scheduling.ConsultationHour{DoctorID: 1, DayOfWeek: scheduling.Monday, StartTime: "09:00", EndTime: "10:00"}
		require.NoError(t, repo.Create(ctx, h))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	hours, err := repo.ListByDoctorAndDay(ctx, 1, scheduling.Monday)
	require.NoError(t, err)
	assert.Empty(t, hours)
}

func TestAdvisoryXactLock_Serializes(t *testing.T) {
	ctx := context.Background()
	tm := db.NewTxManager(env.Pool)

	assert.ErrorIs(t, db.AdvisoryXactLock(ctx, "outside"), db.ErrNoTx)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tm.WithTx(ctx, func(ctx context.Context) error {
				if err := db.AdvisoryXactLock(ctx, "integration:lock"); err != nil {
					return err
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestCachedHours_RedisReadThroughAndInvalidate(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	rc := newRedisCache(t)
	const doctor = int64(501)
	require.NoError(t, rc.Delete(ctx, "consultation_hours:501:1"))

	hours := scheduling.NewCachedConsultationHourRepo(
		scheduling.NewConsultationHourRepoPG(env.Pool), rc, zerolog.Nop())
	svc := scheduling.NewService(db.NewTxManager(env.Pool), hours, scheduling.NewAppointmentRepoPG(env.Pool))

	got, err := svc.CheckAvailability(ctx, doctor, monday, "10:00")
	require.NoError(t, err)
	assert.False(t, got.Available)

	var cached []*scheduling.ConsultationHour
	hit, err := rc.GetJSON(ctx, "consultation_hours:501:1", &cached)
	require.NoError(t, err)
	assert.True(t, hit, "empty result is cached")

	window := &scheduling.ConsultationHour{DoctorID: doctor, DayOfWeek: scheduling.Monday, StartTime: "09:00", EndTime: "12:00"}
	require.NoError(t, svc.CreateConsultationHour(ctx, window))

	hit, err = rc.GetJSON(ctx, "consultation_hours:501:1", &cached)
	require.NoError(t, err)
	assert.False(t, hit, "create drops the key")

	got, err = svc.CheckAvailability(ctx, doctor, monday, "10:00")
	require.NoError(t, err)
	assert.True(t, got.Available)
	require.NotNil(t, got.Window)
	assert.Equal(t, window.ID, got.Window.ID)

	a := book(100, doctor, monday, "10:00")
	require.NoError(t, svc.CreateAppointment(ctx, a, false))
	assert.Equal(t, scheduling.StatusPending, a.Status)

	require.NoError(t, svc.DeleteConsultationHour(ctx, window.ID))
	got, err = svc.CheckAvailability(ctx, doctor, monday, "10:00")
	require.NoError(t, err)
	assert.False(t, got.Available)
}

func TestCachedHours_ReadDuringWriteIsNotLeftStale(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	rc := newRedisCache(t)
	const doctor = int64(502)
	key := "consultation_hours:502:1"
	require.NoError(t, rc.Delete(ctx, key))

	hours := scheduling.NewCachedConsultationHourRepo(
		scheduling.NewConsultationHourRepoPG(env.Pool), rc, zerolog.Nop())
	tm := db.NewTxManager(env.Pool)

	err := tm.WithTx(ctx, func(txCtx context.Context) error {
		h := &scheduling.ConsultationHour{DoctorID: doctor, DayOfWeek: scheduling.Monday, StartTime: "09:00", EndTime: "12:00"}
		if err := hours.Create(txCtx, h); err != nil {
			return err
		}
		// A concurrent reader sees the pre-commit state and refills the key.
		before, err := hours.ListByDoctorAndDay(ctx, doctor, scheduling.Monday)
		require.NoError(t, err)
		assert.Empty(t, before)
		return nil
	})
	require.NoError(t, err)

	var cached []*scheduling.ConsultationHour
	hit, err := rc.GetJSON(ctx, key, &cached)
	require.NoError(t, err)
	assert.False(t, hit, "commit drops the key refilled mid-transaction")

	after, err := hours.ListByDoctorAndDay(ctx, doctor, scheduling.Monday)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "09:00", after[0].StartTime)
}

func TestPoolStats_Live(t *testing.T) {
	stats := db.GetPoolStats(env.Pool)
	require.NotNil(t, stats)
	assert.Positive(t, stats.MaxConns)
}
