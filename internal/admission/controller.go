package admission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadstack/flowengine/pkg/schema"
)

// Denial reasons surfaced in ADMISSION_DENIED errors.
const (
	ReasonConcurrentLimit = "concurrent limit reached"
	ReasonHourlyLimit     = "hourly limit reached"
)

// hourWindow is the expiry applied to hourly counters.
const hourWindow = time.Hour

// CounterStore is the shared counter backend. Increment returns the counter
// value after the increment; ttl is applied when the increment creates the
// counter. Satisfied by the in-memory store and the Redis store.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decrement(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (int64, error)
}

// PlanLookup resolves a tenant's plan tier. Satisfied by the tenant service.
type PlanLookup interface {
	PlanFor(ctx context.Context, tenantID string) (PlanTier, error)
}

// StaticPlans is a fixed tenant-to-tier map, used in tests and single-tenant
// deployments. Missing tenants get the free tier.
type StaticPlans map[string]PlanTier

func (p StaticPlans) PlanFor(ctx context.Context, tenantID string) (PlanTier, error) {
	if tier, ok := p[tenantID]; ok {
		return tier, nil
	}
	return PlanFree, nil
}

// Controller enforces per-tenant admission. It increments counters first and
// decrements on overshoot, so two racing requests at the ceiling can never
// both slip through.
type Controller struct {
	counters CounterStore
	plans    PlanLookup
	logger   *slog.Logger
}

// NewController creates a Controller over the given counter store and plan lookup.
func NewController(counters CounterStore, plans PlanLookup, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{counters: counters, plans: plans, logger: logger}
}

// Admit reserves a run slot for the tenant. On success it returns an
// idempotent release callback that frees the concurrent slot; the hourly
// counter is never released, it expires with its window.
func (c *Controller) Admit(ctx context.Context, tenantID, flowID string) (func(), error) {
	tier, err := c.plans.PlanFor(ctx, tenantID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"plan lookup for tenant %s: %s", tenantID, err.Error()).WithCause(err)
	}
	limits := LimitsFor(tier)

	concurrentKey := concurrentKey(tenantID)
	running, err := c.counters.Increment(ctx, concurrentKey, 0)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"concurrent counter for tenant %s: %s", tenantID, err.Error()).WithCause(err)
	}
	if running > int64(limits.MaxConcurrent) {
		if derr := c.counters.Decrement(ctx, concurrentKey); derr != nil {
			c.logger.ErrorContext(ctx, "failed to roll back concurrent counter",
				slog.String("tenant_id", tenantID), slog.String("error", derr.Error()))
		}
		return nil, denied(ReasonConcurrentLimit, tenantID, flowID, tier, limits.MaxConcurrent)
	}

	hourly, err := c.counters.Increment(ctx, hourlyKey(tenantID), hourWindow)
	if err != nil {
		if derr := c.counters.Decrement(ctx, concurrentKey); derr != nil {
			c.logger.ErrorContext(ctx, "failed to roll back concurrent counter",
				slog.String("tenant_id", tenantID), slog.String("error", derr.Error()))
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"hourly counter for tenant %s: %s", tenantID, err.Error()).WithCause(err)
	}
	if hourly > int64(limits.MaxPerHour) {
		if derr := c.counters.Decrement(ctx, concurrentKey); derr != nil {
			c.logger.ErrorContext(ctx, "failed to roll back concurrent counter",
				slog.String("tenant_id", tenantID), slog.String("error", derr.Error()))
		}
		return nil, denied(ReasonHourlyLimit, tenantID, flowID, tier, limits.MaxPerHour)
	}

	c.logger.DebugContext(ctx, "run admitted",
		slog.String("tenant_id", tenantID),
		slog.String("plan", string(tier)),
		slog.Int64("running", running),
		slog.Int64("hourly", hourly),
	)

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Release must succeed even when the run's context is gone.
			if err := c.counters.Decrement(context.WithoutCancel(ctx), concurrentKey); err != nil {
				c.logger.ErrorContext(ctx, "failed to release concurrent slot",
					slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
			}
		})
	}
	return release, nil
}

// Running returns the tenant's current concurrent run count.
func (c *Controller) Running(ctx context.Context, tenantID string) (int64, error) {
	return c.counters.Get(ctx, concurrentKey(tenantID))
}

// HourlyStarts returns the tenant's run starts in the current hour window.
func (c *Controller) HourlyStarts(ctx context.Context, tenantID string) (int64, error) {
	return c.counters.Get(ctx, hourlyKey(tenantID))
}

func concurrentKey(tenantID string) string {
	return fmt.Sprintf("admission:%s:concurrent", tenantID)
}

func hourlyKey(tenantID string) string {
	return fmt.Sprintf("admission:%s:hourly", tenantID)
}

func denied(reason, tenantID, flowID string, tier PlanTier, limit int) *schema.FlowError {
	return schema.NewError(schema.ErrCodeAdmissionDenied, reason).
		WithDetails(map[string]any{
			"tenant_id": tenantID,
			"flow_id":   flowID,
			"plan":      string(tier),
			"limit":     limit,
		})
}
