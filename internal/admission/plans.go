// Package admission gates run starts per tenant: a run may only begin when
// the tenant's plan has concurrent and hourly headroom left.
package admission

// PlanTier identifies a tenant's subscription plan.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanBasic      PlanTier = "basic"
	PlanPremium    PlanTier = "premium"
	PlanEnterprise PlanTier = "enterprise"
)

// PlanLimits holds the admission ceilings for one plan tier.
type PlanLimits struct {
	MaxConcurrent int // simultaneously running workflows
	MaxPerHour    int // run starts per rolling hour window
}

// planTable maps each tier to its ceilings. Unknown tiers fall back to free.
var planTable = map[PlanTier]PlanLimits{
	PlanFree:       {MaxConcurrent: 2, MaxPerHour: 10},
	PlanBasic:      {MaxConcurrent: 5, MaxPerHour: 50},
	PlanPremium:    {MaxConcurrent: 20, MaxPerHour: 200},
	PlanEnterprise: {MaxConcurrent: 100, MaxPerHour: 1000},
}

// LimitsFor returns the ceilings for a tier, defaulting to the free plan for
// unknown tiers.
func LimitsFor(tier PlanTier) PlanLimits {
	if limits, ok := planTable[tier]; ok {
		return limits
	}
	return planTable[PlanFree]
}
