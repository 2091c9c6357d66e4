package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// LocalBackend is an in-process implementation of the service interfaces.
// Leads and tasks live in memory, message sends are logged, and credentials
// come from a static map. It backs the standalone binary; a deployment wires
// real CRM clients instead.
type LocalBackend struct {
	logger *slog.Logger

	mu    sync.Mutex
	leads map[string]*Lead
	tasks map[string]*Task
	creds map[string]*Credentials // key: tenantID + "/" + platform
}

// NewLocalBackend creates a LocalBackend.
func NewLocalBackend(logger *slog.Logger) *LocalBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBackend{
		logger: logger,
		leads:  make(map[string]*Lead),
		tasks:  make(map[string]*Task),
		creds:  make(map[string]*Credentials),
	}
}

// SetCredential registers static credentials for a tenant/platform pair.
func (b *LocalBackend) SetCredential(tenantID, platform string, creds *Credentials) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creds[tenantID+"/"+platform] = creds
}

func (b *LocalBackend) CreateLead(ctx context.Context, data map[string]any) (*Lead, error) {
	email, _ := data["email"].(string)
	name, _ := data["name"].(string)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.leads {
		if email != "" && l.Email == email {
			return nil, &DuplicateLeadError{Email: email}
		}
	}

	lead := &Lead{
		ID:     uuid.NewString(),
		Email:  email,
		Name:   name,
		Fields: data,
	}
	b.leads[lead.ID] = lead
	return lead, nil
}

func (b *LocalBackend) DeleteLead(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.leads[id]; !ok {
		return fmt.Errorf("lead not found: %s", id)
	}
	delete(b.leads, id)
	return nil
}

func (b *LocalBackend) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	id := uuid.NewString()
	b.logger.InfoContext(ctx, "outbound message dispatched",
		slog.String("message_id", id),
		slog.String("channel", msg.Channel),
		slog.String("recipient", msg.Recipient),
	)
	return id, nil
}

func (b *LocalBackend) CreateTask(ctx context.Context, req TaskRequest) (*Task, error) {
	task := &Task{
		ID:    uuid.NewString(),
		Title: req.Title,
		DueAt: req.DueAt,
	}
	b.mu.Lock()
	b.tasks[task.ID] = task
	b.mu.Unlock()
	return task, nil
}

func (b *LocalBackend) DeleteTask(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tasks[id]; !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	delete(b.tasks, id)
	return nil
}

func (b *LocalBackend) GetCredential(ctx context.Context, tenantID, platform string) (*Credentials, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	creds, ok := b.creds[tenantID+"/"+platform]
	if !ok {
		return nil, fmt.Errorf("no credentials for tenant %s on %s", tenantID, platform)
	}
	return creds, nil
}
