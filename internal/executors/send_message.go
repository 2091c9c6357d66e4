package executors

import (
	"context"
	"log/slog"

	"github.com/leadstack/flowengine/internal/services"
)

const defaultMessageIDKey = "message_id"

// SendMessageExecutor implements the send_message node type. A dispatched
// message cannot be recalled, so this executor declares no compensation: the
// orchestrator will not attempt to unwind it.
type SendMessageExecutor struct {
	messages services.MessageService
	logger   *slog.Logger
}

// NewSendMessageExecutor creates a SendMessageExecutor backed by the given message service.
func NewSendMessageExecutor(messages services.MessageService, logger *slog.Logger) *SendMessageExecutor {
	return &SendMessageExecutor{messages: messages, logger: logger}
}

func (e *SendMessageExecutor) Type() string { return "send_message" }

func (e *SendMessageExecutor) ValidateConfig(config map[string]any) error {
	if _, err := requireString(e.Type(), config, "recipient"); err != nil {
		return err
	}
	_, err := requireString(e.Type(), config, "body")
	return err
}

func (e *SendMessageExecutor) Execute(ctx context.Context, config, payload map[string]any) (*Result, error) {
	recipient, err := requireString(e.Type(), config, "recipient")
	if err != nil {
		return nil, err
	}
	body, err := requireString(e.Type(), config, "body")
	if err != nil {
		return nil, err
	}

	msg := services.OutboundMessage{
		Channel:   optString(config, "channel", "email"),
		Recipient: recipient,
		Subject:   optString(config, "subject", ""),
		Body:      body,
		Metadata:  optMap(config, "metadata"),
	}

	messageID, err := e.messages.Send(ctx, msg)
	if err != nil {
		return nil, err
	}

	if e.logger != nil {
		e.logger.InfoContext(ctx, "message dispatched",
			slog.String("channel", msg.Channel),
			slog.String("message_id", messageID),
		)
	}

	outputKey := optString(config, "output_key", defaultMessageIDKey)
	return &Result{Delta: map[string]any{outputKey: messageID}}, nil
}

var _ NodeExecutor = (*SendMessageExecutor)(nil)
