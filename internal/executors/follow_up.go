package executors

import (
	"context"
	"log/slog"
	"time"

	"github.com/leadstack/flowengine/internal/services"
	"github.com/leadstack/flowengine/pkg/schema"
)

const defaultFollowUpKey = "follow_up_task"

// FollowUpExecutor implements the schedule_follow_up node type: it creates a
// follow-up task via the task service. Its compensator deletes the task.
type FollowUpExecutor struct {
	tasks  services.TaskService
	logger *slog.Logger
}

// NewFollowUpExecutor creates a FollowUpExecutor backed by the given task service.
func NewFollowUpExecutor(tasks services.TaskService, logger *slog.Logger) *FollowUpExecutor {
	return &FollowUpExecutor{tasks: tasks, logger: logger}
}

func (e *FollowUpExecutor) Type() string { return "schedule_follow_up" }

func (e *FollowUpExecutor) ValidateConfig(config map[string]any) error {
	_, err := requireString(e.Type(), config, "title")
	return err
}

func (e *FollowUpExecutor) Execute(ctx context.Context, config, payload map[string]any) (*Result, error) {
	title, err := requireString(e.Type(), config, "title")
	if err != nil {
		return nil, err
	}

	req := services.TaskRequest{
		Title:       title,
		Description: optString(config, "description", ""),
		AssigneeID:  optString(config, "assignee_id", ""),
	}

	if dueIn := optString(config, "due_in", ""); dueIn != "" {
		dur, parseErr := time.ParseDuration(dueIn)
		if parseErr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
				"%s: invalid due_in duration %q: %s", e.Type(), dueIn, parseErr.Error())
		}
		due := time.Now().UTC().Add(dur)
		req.DueAt = &due
	} else if dueAt := optString(config, "due_at", ""); dueAt != "" {
		due, parseErr := time.Parse(time.RFC3339, dueAt)
		if parseErr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
				"%s: invalid due_at timestamp %q: %s", e.Type(), dueAt, parseErr.Error())
		}
		req.DueAt = &due
	}

	task, err := e.tasks.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}

	if e.logger != nil {
		e.logger.InfoContext(ctx, "follow-up task created", slog.String("task_id", task.ID))
	}

	taskOut := map[string]any{"id": task.ID, "title": task.Title}
	if task.DueAt != nil {
		taskOut["due_at"] = task.DueAt.Format(time.RFC3339)
	}

	outputKey := optString(config, "output_key", defaultFollowUpKey)
	return &Result{
		Delta:        map[string]any{outputKey: taskOut},
		Compensation: map[string]any{"task_id": task.ID},
	}, nil
}

// Compensate deletes the task recorded in the execution snapshot.
func (e *FollowUpExecutor) Compensate(ctx context.Context, config, snapshot map[string]any) error {
	taskID, ok := snapshot["task_id"].(string)
	if !ok || taskID == "" {
		return schema.NewError(schema.ErrCodeCompensation, "snapshot missing task_id")
	}
	if err := e.tasks.DeleteTask(ctx, taskID); err != nil {
		return schema.NewErrorf(schema.ErrCodeCompensation,
			"delete task %s: %s", taskID, err.Error()).WithCause(err)
	}
	if e.logger != nil {
		e.logger.InfoContext(ctx, "follow-up task removed during compensation",
			slog.String("task_id", taskID))
	}
	return nil
}

var (
	_ NodeExecutor = (*FollowUpExecutor)(nil)
	_ Compensator  = (*FollowUpExecutor)(nil)
)
