package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadstack/flowengine/pkg/schema"
)

func newTestController(plans StaticPlans) (*Controller, *MemoryCounterStore) {
	counters := NewMemoryCounterStore()
	return NewController(counters, plans, nil), counters
}

func TestController_AdmitAndRelease(t *testing.T) {
	ctrl, _ := newTestController(StaticPlans{"t1": PlanBasic})
	ctx := context.Background()

	release, err := ctrl.Admit(ctx, "t1", "flow-1")
	require.NoError(t, err)

	running, err := ctrl.Running(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), running)

	hourly, err := ctrl.HourlyStarts(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hourly)

	release()

	running, err = ctrl.Running(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), running)

	// Hourly starts stay consumed until the window expires.
	hourly, err = ctrl.HourlyStarts(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hourly)
}

func TestController_ReleaseIsIdempotent(t *testing.T) {
	ctrl, _ := newTestController(StaticPlans{"t1": PlanBasic})
	ctx := context.Background()

	release, err := ctrl.Admit(ctx, "t1", "flow-1")
	require.NoError(t, err)

	release()
	release()

	running, err := ctrl.Running(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), running)
}

func TestController_ConcurrentLimit(t *testing.T) {
	// Free plan: 2 concurrent runs.
	ctrl, _ := newTestController(StaticPlans{})
	ctx := context.Background()

	r1, err := ctrl.Admit(ctx, "t1", "flow-1")
	require.NoError(t, err)
	_, err = ctrl.Admit(ctx, "t1", "flow-1")
	require.NoError(t, err)

	_, err = ctrl.Admit(ctx, "t1", "flow-1")
	require.Error(t, err)

	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeAdmissionDenied, fe.Code)
	assert.Equal(t, ReasonConcurrentLimit, fe.Message)

	// A released slot admits the next run.
	r1()
	_, err = ctrl.Admit(ctx, "t1", "flow-1")
	require.NoError(t, err)
}

func TestController_HourlyLimit(t *testing.T) {
	ctrl, _ := newTestController(StaticPlans{"t1": PlanFree})
	ctx := context.Background()

	// Free plan: 10 starts per hour; release each slot so only the hourly
	// ceiling is in play.
	for i := 0; i < 10; i++ {
		release, err := ctrl.Admit(ctx, "t1", "flow-1")
		require.NoError(t, err)
		release()
	}

	_, err := ctrl.Admit(ctx, "t1", "flow-1")
	require.Error(t, err)

	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ReasonHourlyLimit, fe.Message)

	// The denied attempt must not leak a concurrent slot.
	running, err := ctrl.Running(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), running)
}

func TestController_RaceAtCeiling(t *testing.T) {
	// Enterprise plan: 100 concurrent. Fire 150 concurrent admits; exactly
	// 100 may win because the counter moves before the ceiling check.
	ctrl, _ := newTestController(StaticPlans{"t1": PlanEnterprise})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ctrl.Admit(ctx, "t1", "flow-1"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, admitted)

	running, err := ctrl.Running(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), running)
}

func TestController_TenantsAreIsolated(t *testing.T) {
	ctrl, _ := newTestController(StaticPlans{})
	ctx := context.Background()

	_, err := ctrl.Admit(ctx, "t1", "flow-1")
	require.NoError(t, err)
	_, err = ctrl.Admit(ctx, "t1", "flow-1")
	require.NoError(t, err)
	_, err = ctrl.Admit(ctx, "t1", "flow-1")
	require.Error(t, err)

	// A different tenant has its own counters.
	_, err = ctrl.Admit(ctx, "t2", "flow-1")
	require.NoError(t, err)
}

func TestMemoryCounterStore_WindowExpiry(t *testing.T) {
	store := NewMemoryCounterStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := store.Increment(ctx, "k", time.Hour)
	require.NoError(t, err)

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Advance past the window: the counter resets.
	now = now.Add(2 * time.Hour)
	v, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = store.Increment(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestLimitsFor_UnknownTierDefaultsToFree(t *testing.T) {
	assert.Equal(t, LimitsFor(PlanFree), LimitsFor(PlanTier("gold")))
	assert.Equal(t, 100, LimitsFor(PlanEnterprise).MaxConcurrent)
}
