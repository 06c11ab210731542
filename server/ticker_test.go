package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		JWTSecret:     "test-secret",
		TokenTTL:      time.Hour,
		TickInterval:  time.Minute,
		DecayDelta:    25,
		DedupWindow:   0,
		DefaultRadius: 1000,
	}
}

func newTestScheduler(t *testing.T) (*TickScheduler, *Hub, *Store) {
	t.Helper()
	s := newTestStore(t)
	hub := NewHub(testConfig(), s)
	sched := NewTickScheduler(s, hub.Engine(), hub, time.Minute)
	return sched, hub, s
}

func TestRunCycleDecaysAllInitializedPets(t *testing.T) {
	sched, _, s := newTestScheduler(t)
	a := newTestPet(t, s, "A", "user-1")
	b := newTestPet(t, s, "B", "user-2")
	unnamed := newTestPet(t, s, "", "user-3")

	updated := sched.RunCycle(t.Context())
	assert.Equal(t, 2, updated)

	for _, id := range []PetID{a.ID, b.ID} {
		got, err := s.GetPet(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, StatVector{Hunger: 75, Hygiene: 75, Energy: 100, Fun: 75}, got.Stats)
	}

	// 未初始化的宠物原样不动
	got, err := s.GetPet(t.Context(), unnamed.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Stats.Hunger)
}

func TestRunCycleFloorIsIdempotent(t *testing.T) {
	sched, _, s := newTestScheduler(t)
	p := newTestPet(t, s, "Rex", "user-1")
	_, _, err := s.UpdatePetStats(t.Context(), p.ID, StatVector{Hunger: 30, Hygiene: 30, Energy: 80, Fun: 30}, p.Version)
	require.NoError(t, err)

	sched.RunCycle(t.Context())
	got, err := s.GetPet(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatVector{Hunger: 5, Hygiene: 5, Energy: 80, Fun: 5}, got.Stats)

	sched.RunCycle(t.Context())
	got, err = s.GetPet(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatVector{Hunger: 0, Hygiene: 0, Energy: 80, Fun: 0}, got.Stats)

	// 已到底：再跑多少轮都停在 0
	sched.RunCycle(t.Context())
	got, err = s.GetPet(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatVector{Hunger: 0, Hygiene: 0, Energy: 80, Fun: 0}, got.Stats)
}

func TestRunCycleNonOverlap(t *testing.T) {
	sched, hub, s := newTestScheduler(t)
	newTestPet(t, s, "Rex", "user-1")

	// 模拟上一轮仍在执行：新触发被丢弃，不排队、不衰减
	sched.running.Store(true)
	assert.Equal(t, 0, sched.RunCycle(t.Context()))
	assert.Equal(t, int64(1), atomic.LoadInt64(&hub.Metrics().CyclesSkipped))

	pets, err := s.ListPets(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, 100, pets[0].Stats.Hunger)

	// 守卫释放后恢复正常
	sched.running.Store(false)
	assert.Equal(t, 1, sched.RunCycle(t.Context()))
}

func TestRunCycleLeaseHeldElsewhere(t *testing.T) {
	sched, _, s := newTestScheduler(t)
	newTestPet(t, s, "Rex", "user-1")

	// 另一个进程持有调度租约：本轮放弃
	ok, err := s.AcquireLease(t.Context(), schedulerLeaseName, "other-instance", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 0, sched.RunCycle(t.Context()))
	pets, err := s.ListPets(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, 100, pets[0].Stats.Hunger)
}

func TestRunCycleReleasesLease(t *testing.T) {
	sched, _, s := newTestScheduler(t)
	newTestPet(t, s, "Rex", "user-1")

	sched.RunCycle(t.Context())

	// 周期结束后租约应已释放，他人可以立即获取
	ok, err := s.AcquireLease(t.Context(), schedulerLeaseName, "other-instance", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunCycleEmitsThresholdNotifications(t *testing.T) {
	sched, hub, s := newTestScheduler(t)
	p := newTestPet(t, s, "Rex", "user-1")
	// 60 - 25 = 35：三个维度同时穿越 warning
	_, _, err := s.UpdatePetStats(t.Context(), p.ID, StatVector{Hunger: 60, Hygiene: 60, Energy: 100, Fun: 60}, p.Version)
	require.NoError(t, err)

	sched.RunCycle(t.Context())
	assert.Equal(t, int64(1), atomic.LoadInt64(&hub.Metrics().NotificationsEmitted))

	// 下一轮 35 → 10 穿越 critical：再发一条
	sched.RunCycle(t.Context())
	assert.Equal(t, int64(2), atomic.LoadInt64(&hub.Metrics().NotificationsEmitted))
}

// flakyPetStore 让指定宠物的属性写入失败，其余委托真实存储
type flakyPetStore struct {
	*Store
	failID  PetID
	failErr error
}

func (f *flakyPetStore) UpdatePetStats(ctx context.Context, id PetID, stats StatVector, expectedVersion int64) (int64, time.Time, error) {
	if id == f.failID {
		return 0, time.Time{}, f.failErr
	}
	return f.Store.UpdatePetStats(ctx, id, stats, expectedVersion)
}

func TestRunCycleIsolatesFailingPet(t *testing.T) {
	cases := map[string]error{
		"storage error":    errors.New("disk I/O error"),
		"version conflict": ErrVersionConflict,
	}
	for name, failErr := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			hub := NewHub(testConfig(), s)
			bad := newTestPet(t, s, "Bad", "user-1")
			goodOne := newTestPet(t, s, "GoodOne", "user-2")
			goodTwo := newTestPet(t, s, "GoodTwo", "user-3")

			engine := NewDecayEngine(&flakyPetStore{Store: s, failID: bad.ID, failErr: failErr}, 25)
			sched := NewTickScheduler(s, engine, hub, time.Minute)

			// 出错的那只被跳过并计数，其余照常衰减
			assert.Equal(t, 2, sched.RunCycle(t.Context()))
			assert.Equal(t, int64(1), atomic.LoadInt64(&hub.Metrics().PetFailures))
			assert.Equal(t, int64(2), atomic.LoadInt64(&hub.Metrics().PetsUpdated))

			for _, id := range []PetID{goodOne.ID, goodTwo.ID} {
				got, err := s.GetPet(t.Context(), id)
				require.NoError(t, err)
				assert.Equal(t, 75, got.Stats.Hunger)
			}
			got, err := s.GetPet(t.Context(), bad.ID)
			require.NoError(t, err)
			assert.Equal(t, 100, got.Stats.Hunger)
		})
	}
}
