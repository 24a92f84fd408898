package jobs

import (
	"context"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureMailer struct {
	to      string
	subject string
	body    string
	err     error
}

func (m *captureMailer) Deliver(_ context.Context, to, subject, body string) error {
	m.to = to
	m.subject = subject
	m.body = body
	return m.err
}

func TestMailHandlerRendersWelcome(t *testing.T) {
	mailer := &captureMailer{}
	h := NewMailHandler(mailer, slog.Default(), nil)

	task, err := NewSendMailTask(SendMailPayload{
		To:       "bob@example.com",
		Template: "welcome",
		Data: map[string]string{
			"login_name":        "bob",
			"active":            "false",
			"confirmation_code": "abc123",
		},
	})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), task))
	assert.Equal(t, "bob@example.com", mailer.to)
	assert.Equal(t, "Welcome to Halcyon", mailer.subject)
	assert.Contains(t, mailer.body, "Hi bob")
	assert.Contains(t, mailer.body, "abc123")
}

func TestMailHandlerOmitsCodeWhenActive(t *testing.T) {
	mailer := &captureMailer{}
	h := NewMailHandler(mailer, slog.Default(), nil)

	task, err := NewSendMailTask(SendMailPayload{
		To:       "bob@example.com",
		Template: "welcome",
		Data: map[string]string{
			"login_name":        "bob",
			"active":            "true",
			"confirmation_code": "abc123",
		},
	})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), task))
	assert.NotContains(t, mailer.body, "abc123")
}

func TestMailHandlerUnknownTemplateSkipsRetry(t *testing.T) {
	mailer := &captureMailer{}
	h := NewMailHandler(mailer, slog.Default(), nil)

	task, err := NewSendMailTask(SendMailPayload{To: "x@example.com", Template: "nope"})
	require.NoError(t, err)

	err = h.Handle(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, mailer.to)
}
