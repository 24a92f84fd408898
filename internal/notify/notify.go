// Package notify defines the outbound notification port and its queue-backed
// implementation. Dispatch is fire-and-forget: enqueue failures are logged and
// never undo a committed account mutation.
package notify

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/halcyon-id/halcyon-id/jobs"
)

// Template keys understood by the mail worker.
const (
	TemplateWelcome       = "welcome"
	TemplateActivate      = "activate"
	TemplatePasswordReset = "password_reset"
)

// Notifier sends a templated message to an address.
type Notifier interface {
	Send(ctx context.Context, toAddress, templateKey string, data map[string]string)
}

// QueueNotifier enqueues notifications onto the background mail queue.
type QueueNotifier struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(client *asynq.Client, logger *slog.Logger) *QueueNotifier {
	return &QueueNotifier{client: client, logger: logger}
}

var _ Notifier = (*QueueNotifier)(nil)

// Send enqueues one templated mail. Failures are logged, not returned.
func (n *QueueNotifier) Send(ctx context.Context, toAddress, templateKey string, data map[string]string) {
	task, err := jobs.NewSendMailTask(jobs.SendMailPayload{
		To:       toAddress,
		Template: templateKey,
		Data:     data,
	})
	if err != nil {
		n.logger.Error("build mail task", slog.Any("error", err))
		return
	}
	if _, err := n.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueMail)); err != nil {
		n.logger.Error("enqueue mail task",
			slog.String("template", templateKey),
			slog.Any("error", err))
	}
}
