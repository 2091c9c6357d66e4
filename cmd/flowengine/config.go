package main

import (
	"os"
	"strings"

	"github.com/leadstack/flowengine/internal/admission"
)

// Config holds all flowengine configuration.
// Env vars override defaults; there is no config file.
type Config struct {
	DBPath        string // empty: in-memory store
	RedisAddr     string // empty: in-memory admission counters
	RedisPassword string
	LogLevel      string
	Scheduler     bool
	Plans         admission.StaticPlans
}

func defaultConfig() Config {
	return Config{
		LogLevel:  "info",
		Scheduler: true,
		Plans:     admission.StaticPlans{},
	}
}

func loadConfig() Config {
	cfg := defaultConfig()

	if v := os.Getenv("FLOWENGINE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWENGINE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("FLOWENGINE_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("FLOWENGINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWENGINE_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}
	if v := os.Getenv("FLOWENGINE_PLANS"); v != "" {
		cfg.Plans = parsePlans(v)
	}

	return cfg
}

// parsePlans parses "tenant-1=premium,tenant-2=free" into a static plan map.
// Malformed entries are skipped; unknown tiers still default to free at
// admission time.
func parsePlans(raw string) admission.StaticPlans {
	plans := admission.StaticPlans{}
	for _, pair := range strings.Split(raw, ",") {
		tenant, tier, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || tenant == "" || tier == "" {
			continue
		}
		plans[tenant] = admission.PlanTier(tier)
	}
	return plans
}
