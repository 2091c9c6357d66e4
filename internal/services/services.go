// Package services declares the narrow interfaces through which node
// executors reach the surrounding CRM backend. Implementations live outside
// the engine; executors are the only callers.
package services

import (
	"context"
	"fmt"
	"time"
)

// Lead is a CRM lead as returned by the lead service.
type Lead struct {
	ID     string         `json:"id"`
	Email  string         `json:"email"`
	Name   string         `json:"name,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// DuplicateLeadError is returned by CreateLead when a lead with the same
// email already exists. Batch executors classify these rows separately from
// hard failures.
type DuplicateLeadError struct {
	Email string
}

func (e *DuplicateLeadError) Error() string {
	return fmt.Sprintf("lead already exists: %s", e.Email)
}

// IsDuplicateLead reports whether err indicates a duplicate lead.
func IsDuplicateLead(err error) bool {
	_, ok := err.(*DuplicateLeadError)
	return ok
}

// LeadService creates and removes CRM leads.
type LeadService interface {
	CreateLead(ctx context.Context, data map[string]any) (*Lead, error)
	DeleteLead(ctx context.Context, id string) error
}

// OutboundMessage is a message dispatched through a channel (email, social).
type OutboundMessage struct {
	Channel   string         `json:"channel"` // email | sms | social
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessageService dispatches outbound messages. Sends cannot be recalled,
// which is why the send-message executor carries no compensator.
type MessageService interface {
	Send(ctx context.Context, msg OutboundMessage) (messageID string, err error)
}

// TaskRequest describes a follow-up task to create.
type TaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// Task is a created follow-up task.
type Task struct {
	ID    string     `json:"id"`
	Title string     `json:"title"`
	DueAt *time.Time `json:"due_at,omitempty"`
}

// TaskService creates and removes follow-up tasks.
type TaskService interface {
	CreateTask(ctx context.Context, req TaskRequest) (*Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Credentials are per-tenant credentials for an external platform.
type Credentials struct {
	AccessToken string `json:"access_token"`
	AccountID   string `json:"account_id,omitempty"`
}

// CredentialService looks up per-tenant platform credentials.
type CredentialService interface {
	GetCredential(ctx context.Context, tenantID, platform string) (*Credentials, error)
}

// CampaignResult is the identifier/status pair an ad platform returns for a
// newly created campaign.
type CampaignResult struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}

// AdPlatformClient is a platform-specific integration client. DeleteCampaign
// is best effort: reversal of a third-party side effect is never guaranteed.
type AdPlatformClient interface {
	Platform() string
	CreateCampaign(ctx context.Context, creds *Credentials, data map[string]any) (*CampaignResult, error)
	DeleteCampaign(ctx context.Context, creds *Credentials, externalID string) error
}
