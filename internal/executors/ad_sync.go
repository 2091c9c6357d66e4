package executors

import (
	"context"
	"log/slog"

	"github.com/leadstack/flowengine/internal/logging"
	"github.com/leadstack/flowengine/internal/services"
	"github.com/leadstack/flowengine/pkg/schema"
)

const defaultCampaignKey = "ad_campaign"

// AdSyncExecutor implements the sync_ad_campaign node type: it looks up
// per-tenant credentials, delegates to the platform-specific integration
// client, and merges the returned identifiers/status back into the campaign
// record. Its compensator attempts a best-effort delete of the external
// campaign; reversal of a third-party side effect is not guaranteed and a
// failed delete is surfaced as a warning, never swallowed.
type AdSyncExecutor struct {
	credentials services.CredentialService
	clients     map[string]services.AdPlatformClient
	logger      *slog.Logger
}

// NewAdSyncExecutor creates an AdSyncExecutor over the given platform clients,
// keyed by their Platform() tag.
func NewAdSyncExecutor(credentials services.CredentialService, clients []services.AdPlatformClient, logger *slog.Logger) *AdSyncExecutor {
	byPlatform := make(map[string]services.AdPlatformClient, len(clients))
	for _, c := range clients {
		byPlatform[c.Platform()] = c
	}
	return &AdSyncExecutor{credentials: credentials, clients: byPlatform, logger: logger}
}

func (e *AdSyncExecutor) Type() string { return "sync_ad_campaign" }

func (e *AdSyncExecutor) ValidateConfig(config map[string]any) error {
	platform, err := requireString(e.Type(), config, "platform")
	if err != nil {
		return err
	}
	if _, ok := e.clients[platform]; !ok {
		return schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: no integration client for platform %q", e.Type(), platform)
	}
	if optMap(config, "campaign") == nil {
		return schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: config key %q must be an object", e.Type(), "campaign")
	}
	return nil
}

func (e *AdSyncExecutor) Execute(ctx context.Context, config, payload map[string]any) (*Result, error) {
	platform, err := requireString(e.Type(), config, "platform")
	if err != nil {
		return nil, err
	}
	campaign := optMap(config, "campaign")
	if campaign == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: config key %q must be an object", e.Type(), "campaign")
	}

	client, ok := e.clients[platform]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: no integration client for platform %q", e.Type(), platform)
	}

	tenantID := logging.TenantID(ctx)
	creds, err := e.credentials.GetCredential(ctx, tenantID, platform)
	if err != nil {
		return nil, err
	}

	created, err := client.CreateCampaign(ctx, creds, campaign)
	if err != nil {
		return nil, err
	}

	// Merge the platform's identifiers/status into the local record.
	record := make(map[string]any, len(campaign)+3)
	for k, v := range campaign {
		record[k] = v
	}
	record["external_id"] = created.ExternalID
	record["status"] = created.Status
	record["platform"] = platform

	if e.logger != nil {
		e.logger.InfoContext(ctx, "ad campaign synced",
			slog.String("platform", platform),
			slog.String("external_id", created.ExternalID),
		)
	}

	outputKey := optString(config, "output_key", defaultCampaignKey)
	return &Result{
		Delta: map[string]any{outputKey: record},
		Compensation: map[string]any{
			"platform":    platform,
			"external_id": created.ExternalID,
			"tenant_id":   tenantID,
		},
	}, nil
}

// Compensate attempts to delete the external campaign recorded in the
// snapshot. Errors are returned as COMPENSATION_ERROR warnings.
func (e *AdSyncExecutor) Compensate(ctx context.Context, config, snapshot map[string]any) error {
	platform, _ := snapshot["platform"].(string)
	externalID, _ := snapshot["external_id"].(string)
	tenantID, _ := snapshot["tenant_id"].(string)

	client, ok := e.clients[platform]
	if !ok || externalID == "" {
		return schema.NewErrorf(schema.ErrCodeCompensation,
			"cannot reverse campaign sync: platform=%q external_id=%q", platform, externalID)
	}

	creds, err := e.credentials.GetCredential(ctx, tenantID, platform)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeCompensation,
			"credentials lookup for campaign reversal: %s", err.Error()).WithCause(err)
	}

	if e.logger != nil {
		e.logger.WarnContext(ctx, "reversing external campaign, best effort only",
			slog.String("platform", platform),
			slog.String("external_id", externalID),
		)
	}

	if err := client.DeleteCampaign(ctx, creds, externalID); err != nil {
		return schema.NewErrorf(schema.ErrCodeCompensation,
			"delete external campaign %s on %s: %s", externalID, platform, err.Error()).WithCause(err)
	}
	return nil
}

var (
	_ NodeExecutor = (*AdSyncExecutor)(nil)
	_ Compensator  = (*AdSyncExecutor)(nil)
)
