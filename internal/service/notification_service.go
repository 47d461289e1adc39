package service

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-programme-api/internal/models"
	"github.com/noah-isme/course-programme-api/pkg/config"
	"github.com/noah-isme/course-programme-api/pkg/jobs"
)

// MessageSender delivers a rendered notification. Implementations wrap SMTP
// or whatever transport the deployment uses; the default just logs.
type MessageSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MessageSenderFunc allows using plain functions.
type MessageSenderFunc func(ctx context.Context, to, subject, body string) error

// Send implements MessageSender.
func (f MessageSenderFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

type notificationUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindApprovers(ctx context.Context) ([]models.User, error)
}

type notificationQueue interface {
	Enqueue(task jobs.Task) error
}

// notificationPayload is what travels through the queue; recipients are
// resolved at enqueue time so a later user change cannot misroute mail.
type notificationPayload struct {
	Event     models.RfcEvent
	FieldID   int64
	RequestID string
	Requester string
	To        []string
}

var notificationTemplates = template.Must(template.New("notifications").Parse(`
{{- define "rfc_submitted" -}}
A change request on programme {{.FieldID}} was submitted for review by {{.Requester}}.

Request: {{.RequestID}}
{{- end -}}
{{- define "rfc_accepted" -}}
Your change request on programme {{.FieldID}} was accepted and applied.

Request: {{.RequestID}}
{{- end -}}
{{- define "rfc_rejected" -}}
Your change request on programme {{.FieldID}} was rejected.

Request: {{.RequestID}}
{{- end -}}
`))

var notificationSubjects = map[models.RfcEvent]string{
	models.RfcEventSubmitted: "Change request submitted for review",
	models.RfcEventAccepted:  "Change request accepted",
	models.RfcEventRejected:  "Change request rejected",
}

// NotificationService turns workflow transitions into queued email jobs.
// Submissions go to every approver; decisions go back to the requester.
// Everything is best effort: a notification failure never fails the
// transition that triggered it.
type NotificationService struct {
	users  notificationUserStore
	sender MessageSender
	queue  notificationQueue
	from   string
	logger *zap.Logger
}

// NewNotificationService builds the service and its worker queue. Call
// Start before enqueueing and Stop on shutdown.
func NewNotificationService(users notificationUserStore, sender MessageSender, cfg config.NotificationConfig, logger *zap.Logger) (*NotificationService, *jobs.Queue) {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		users:  users,
		sender: sender,
		from:   cfg.FromAddress,
		logger: logger,
	}
	if svc.sender == nil {
		svc.sender = MessageSenderFunc(func(_ context.Context, to, subject, _ string) error {
			logger.Info("notification (no sender configured)", zap.String("to", to), zap.String("subject", subject))
			return nil
		})
	}
	queue := jobs.NewQueue("notifications", svc.handle, jobs.Options{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	svc.queue = queue
	return svc, queue
}

// Notify implements RfcNotifier.
func (s *NotificationService) Notify(ctx context.Context, event models.RfcEvent, request *models.ChangeRequest) {
	if request == nil {
		return
	}
	recipients, err := s.recipients(ctx, event, request)
	if err != nil {
		s.logger.Warn("failed to resolve notification recipients",
			zap.String("event", string(event)), zap.String("rfc_id", request.ID), zap.Error(err))
		return
	}
	if len(recipients) == 0 {
		return
	}
	task := jobs.Task{
		ID:   uuid.NewString(),
		Kind: string(event),
		Payload: notificationPayload{
			Event:     event,
			FieldID:   request.FieldID,
			RequestID: request.ID,
			Requester: request.RequestedBy,
			To:        recipients,
		},
	}
	if err := s.queue.Enqueue(task); err != nil {
		s.logger.Warn("failed to enqueue notification", zap.String("rfc_id", request.ID), zap.Error(err))
	}
}

func (s *NotificationService) recipients(ctx context.Context, event models.RfcEvent, request *models.ChangeRequest) ([]string, error) {
	switch event {
	case models.RfcEventSubmitted:
		approvers, err := s.users.FindApprovers(ctx)
		if err != nil {
			return nil, err
		}
		emails := make([]string, 0, len(approvers))
		for _, u := range approvers {
			if u.Active && u.Email != "" {
				emails = append(emails, u.Email)
			}
		}
		return emails, nil
	case models.RfcEventAccepted, models.RfcEventRejected:
		requester, err := s.users.FindByID(ctx, request.RequestedBy)
		if err != nil {
			return nil, err
		}
		if !requester.Active || requester.Email == "" {
			return nil, nil
		}
		return []string{requester.Email}, nil
	default:
		return nil, fmt.Errorf("unknown notification event: %s", event)
	}
}

func (s *NotificationService) handle(ctx context.Context, task jobs.Task) error {
	payload, ok := task.Payload.(notificationPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", task.Payload)
	}
	var body bytes.Buffer
	if err := notificationTemplates.ExecuteTemplate(&body, string(payload.Event), payload); err != nil {
		return fmt.Errorf("render notification %s: %w", payload.Event, err)
	}
	subject := notificationSubjects[payload.Event]
	for _, to := range payload.To {
		if err := s.sender.Send(ctx, to, subject, body.String()); err != nil {
			return fmt.Errorf("send notification to %s: %w", to, err)
		}
	}
	return nil
}
