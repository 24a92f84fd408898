package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"text/template"

	"github.com/hibiken/asynq"
)

const (
	// QueueMail is the queue name for transactional mail.
	QueueMail = "mail"
	// TaskTypeSendMail is the task type for sending transactional mail.
	TaskTypeSendMail = "mail:send"
)

// SendMailPayload describes one templated message to deliver.
type SendMailPayload struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

// NewSendMailTask constructs an Asynq task.
func NewSendMailTask(payload SendMailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendMail, data), nil
}

// mailTemplate pairs a subject line with a plain-text body template.
type mailTemplate struct {
	subject string
	body    *template.Template
}

var mailTemplates = map[string]mailTemplate{
	"welcome": {
		subject: "Welcome to Halcyon",
		body: template.Must(template.New("welcome").Parse(
			"Hi {{.login_name}},\n\n" +
				"Your account has been created.\n" +
				"{{if eq .active \"false\"}}Confirm your email address to activate it:\n\n" +
				"    {{.confirmation_code}}\n{{end}}\n" +
				"— the Halcyon team\n")),
	},
	"activate": {
		subject: "Activate your account",
		body: template.Must(template.New("activate").Parse(
			"Your email address changed, so we need you to confirm it again.\n" +
				"Use this code to reactivate your account:\n\n" +
				"    {{.confirmation_code}}\n")),
	},
	"password_reset": {
		subject: "Reset your password",
		body: template.Must(template.New("password_reset").Parse(
			"Hi {{.login_name}},\n\n" +
				"Somebody (hopefully you) requested a password reset.\n" +
				"Use this code to choose a new password:\n\n" +
				"    {{.confirmation_code}}\n\n" +
				"If this wasn't you, you can ignore this message.\n")),
	},
}

// Mailer delivers rendered messages.
type Mailer interface {
	Deliver(ctx context.Context, to, subject, body string) error
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	addr string
	from string
}

// NewSMTPMailer constructs an SMTPMailer for host:port.
func NewSMTPMailer(addr, from string) *SMTPMailer {
	return &SMTPMailer{addr: addr, from: from}
}

// Deliver sends one message.
func (m *SMTPMailer) Deliver(ctx context.Context, to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.from, to, subject, body)
	if err := smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("jobs: smtp send to %s: %w", to, err)
	}
	return nil
}

// MailHandler processes TaskTypeSendMail tasks.
type MailHandler struct {
	mailer  Mailer
	logger  *slog.Logger
	metrics *Metrics
}

// NewMailHandler constructs a MailHandler.
func NewMailHandler(mailer Mailer, logger *slog.Logger, metrics *Metrics) *MailHandler {
	return &MailHandler{mailer: mailer, logger: logger, metrics: metrics}
}

// Handle renders the template and delivers the message. Unknown templates and
// malformed payloads skip retry; transport errors are retried by Asynq.
func (h *MailHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendMailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("jobs: decode mail payload: %w", asynq.SkipRetry)
	}
	tmpl, ok := mailTemplates[payload.Template]
	if !ok {
		h.logger.Error("unknown mail template", slog.String("template", payload.Template))
		return fmt.Errorf("jobs: unknown template %q: %w", payload.Template, asynq.SkipRetry)
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, payload.Data); err != nil {
		return fmt.Errorf("jobs: render template %q: %w", payload.Template, asynq.SkipRetry)
	}

	tracker := h.metrics.Track(TaskTypeSendMail)
	err := tracker.End(h.mailer.Deliver(ctx, payload.To, tmpl.subject, body.String()))
	if err != nil {
		h.logger.Warn("mail delivery failed",
			slog.String("template", payload.Template),
			slog.Any("error", err))
		return err
	}
	return nil
}
