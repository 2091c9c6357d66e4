package executors

import (
	"context"
	"time"

	"github.com/leadstack/flowengine/pkg/schema"
)

// MaxWaitDuration caps how long a single wait node may pause a run.
const MaxWaitDuration = 24 * time.Hour

// WaitExecutor implements the wait node type: it pauses the run for a
// configured duration. The pause is context-aware so cancellation or a
// per-node timeout interrupts it immediately.
type WaitExecutor struct{}

// NewWaitExecutor creates a WaitExecutor.
func NewWaitExecutor() *WaitExecutor {
	return &WaitExecutor{}
}

func (e *WaitExecutor) Type() string { return "wait" }

func (e *WaitExecutor) ValidateConfig(config map[string]any) error {
	_, err := e.duration(config)
	return err
}

func (e *WaitExecutor) Execute(ctx context.Context, config, payload map[string]any) (*Result, error) {
	dur, err := e.duration(config)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"wait interrupted after context cancellation: %s", ctx.Err().Error()).
			WithCause(ctx.Err())
	case <-timer.C:
	}

	return &Result{}, nil
}

func (e *WaitExecutor) duration(config map[string]any) (time.Duration, error) {
	raw, err := requireString(e.Type(), config, "duration")
	if err != nil {
		return 0, err
	}
	dur, parseErr := time.ParseDuration(raw)
	if parseErr != nil {
		return 0, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: invalid duration %q: %s", e.Type(), raw, parseErr.Error())
	}
	if dur <= 0 || dur > MaxWaitDuration {
		return 0, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: duration %q must be positive and at most %s", e.Type(), raw, MaxWaitDuration)
	}
	return dur, nil
}

var _ NodeExecutor = (*WaitExecutor)(nil)
