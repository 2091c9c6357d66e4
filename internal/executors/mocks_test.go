package executors

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/leadstack/flowengine/internal/services"
)

// --- hand-rolled service mocks ---

type mockLeadService struct {
	mu      sync.Mutex
	nextID  int
	created map[string]map[string]any
	deleted []string

	// failEmails returns a hard error, duplicateEmails a DuplicateLeadError.
	failEmails      map[string]bool
	duplicateEmails map[string]bool
	deleteErr       error
}

func newMockLeadService() *mockLeadService {
	return &mockLeadService{
		created:         make(map[string]map[string]any),
		failEmails:      make(map[string]bool),
		duplicateEmails: make(map[string]bool),
	}
}

func (m *mockLeadService) CreateLead(ctx context.Context, data map[string]any) (*services.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email, _ := data["email"].(string)
	if m.failEmails[email] {
		return nil, errors.New("lead service unavailable")
	}
	if m.duplicateEmails[email] {
		return nil, &services.DuplicateLeadError{Email: email}
	}

	m.nextID++
	id := fmt.Sprintf("lead-%d", m.nextID)
	m.created[id] = data
	return &services.Lead{ID: id, Email: email}, nil
}

func (m *mockLeadService) DeleteLead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.created, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockMessageService struct {
	sent    []services.OutboundMessage
	sendErr error
}

func (m *mockMessageService) Send(ctx context.Context, msg services.OutboundMessage) (string, error) {
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

type mockTaskService struct {
	tasks     map[string]services.TaskRequest
	deleted   []string
	createErr error
	deleteErr error
}

func newMockTaskService() *mockTaskService {
	return &mockTaskService{tasks: make(map[string]services.TaskRequest)}
}

func (m *mockTaskService) CreateTask(ctx context.Context, req services.TaskRequest) (*services.Task, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	id := fmt.Sprintf("task-%d", len(m.tasks)+1)
	m.tasks[id] = req
	return &services.Task{ID: id, Title: req.Title, DueAt: req.DueAt}, nil
}

func (m *mockTaskService) DeleteTask(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.tasks, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockCredentialService struct {
	creds  map[string]*services.Credentials // keyed by tenantID+"/"+platform
	getErr error
}

func newMockCredentialService() *mockCredentialService {
	return &mockCredentialService{creds: make(map[string]*services.Credentials)}
}

func (m *mockCredentialService) GetCredential(ctx context.Context, tenantID, platform string) (*services.Credentials, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	creds, ok := m.creds[tenantID+"/"+platform]
	if !ok {
		return nil, fmt.Errorf("no credentials for tenant %s on %s", tenantID, platform)
	}
	return creds, nil
}

type mockAdClient struct {
	platform  string
	created   []map[string]any
	deleted   []string
	createErr error
	deleteErr error
}

func (m *mockAdClient) Platform() string { return m.platform }

func (m *mockAdClient) CreateCampaign(ctx context.Context, creds *services.Credentials, data map[string]any) (*services.CampaignResult, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, data)
	return &services.CampaignResult{
		ExternalID: fmt.Sprintf("%s-cmp-%d", m.platform, len(m.created)),
		Status:     "active",
	}, nil
}

func (m *mockAdClient) DeleteCampaign(ctx context.Context, creds *services.Credentials, externalID string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, externalID)
	return nil
}
