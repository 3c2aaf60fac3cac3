package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"document-qa-platform/internal/logger"
	"document-qa-platform/models"
)

const TaskContactAlert = "email:contact_alert"

type ContactAlertPayload struct {
	Filename string                 `json:"filename"`
	Contacts []models.ContactRecord `json:"contacts"`
}

// NewContactAlertTask builds the queue task for one file's detected contacts.
func NewContactAlertTask(filename string, contacts []models.ContactRecord) (*asynq.Task, error) {
	payload, err := json.Marshal(ContactAlertPayload{
		Filename: filename,
		Contacts: contacts,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskContactAlert,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Queue("default"),
	), nil
}

// Notifier enqueues contact alerts for the worker process. Enqueueing is
// cheap, so ingest latency never waits on SMTP.
type Notifier struct {
	client *asynq.Client
}

func NewNotifier(client *asynq.Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) NotifyContacts(ctx context.Context, filename string, contacts []models.ContactRecord) error {
	task, err := NewContactAlertTask(filename, contacts)
	if err != nil {
		return err
	}

	info, err := n.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue contact alert: %w", err)
	}

	logger.Info("Contact alert enqueued", "file", filename, "task_id", info.ID, "contacts", len(contacts))
	return nil
}

// ContactMailer is the delivery half, implemented by services.ContactMailer.
type ContactMailer interface {
	SendContactAlert(filename string, contacts []models.ContactRecord) error
}

// TaskProcessor handles queued tasks in the worker process.
type TaskProcessor struct {
	mailer ContactMailer
}

func NewTaskProcessor(mailer ContactMailer) *TaskProcessor {
	return &TaskProcessor{mailer: mailer}
}

func (p *TaskProcessor) HandleContactAlert(ctx context.Context, t *asynq.Task) error {
	var payload ContactAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	if err := p.mailer.SendContactAlert(payload.Filename, payload.Contacts); err != nil {
		logger.Error("Contact alert delivery failed", "file", payload.Filename, "error", err)
		return err // Will retry
	}

	logger.Info("Contact alert sent", "file", payload.Filename, "contacts", len(payload.Contacts))
	return nil
}
