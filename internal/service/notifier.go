package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/pkg/jobs"
)

// Notifier delivers workflow messages to account inboxes. Delivery is
// best-effort: a failed send must never abort the transition that
// triggered it.
type Notifier interface {
	Send(ctx context.Context, recipientID, subject, body string)
}

type notificationWriter interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// StoreNotifier persists notifications through the inbox repository.
type StoreNotifier struct {
	notifications notificationWriter
	logger        *zap.Logger
}

// NewStoreNotifier constructs StoreNotifier.
func NewStoreNotifier(notifications notificationWriter, logger *zap.Logger) *StoreNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreNotifier{notifications: notifications, logger: logger}
}

// Send writes the message to the recipient inbox. Failures are logged and
// swallowed.
func (n *StoreNotifier) Send(ctx context.Context, recipientID, subject, body string) {
	if recipientID == "" {
		return
	}
	notification := &models.Notification{RecipientID: recipientID, Subject: subject, Body: body}
	if err := n.notifications.Create(ctx, notification); err != nil {
		n.logger.Warn("notification delivery failed",
			zap.String("recipient_id", recipientID),
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// QueuedNotifier dispatches inbox writes through a background worker pool
// so a slow notification insert never sits on the request path. When the
// queue is unavailable it degrades to a synchronous write.
type QueuedNotifier struct {
	notifications notificationWriter
	fallback      *StoreNotifier
	queue         *jobs.Queue
	logger        *zap.Logger
}

// NewQueuedNotifier constructs QueuedNotifier. Start must be called before
// messages are dispatched asynchronously.
func NewQueuedNotifier(notifications notificationWriter, logger *zap.Logger) *QueuedNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &QueuedNotifier{
		notifications: notifications,
		fallback:      NewStoreNotifier(notifications, logger),
		logger:        logger,
	}
	n.queue = jobs.NewQueue("notifications", n.deliver, jobs.Options{
		Workers: 2,
		Logger:  logger,
	})
	return n
}

// Start launches the delivery workers.
func (n *QueuedNotifier) Start(ctx context.Context) {
	n.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (n *QueuedNotifier) Stop() {
	n.queue.Stop()
}

// Send enqueues the message for background delivery.
func (n *QueuedNotifier) Send(ctx context.Context, recipientID, subject, body string) {
	if recipientID == "" {
		return
	}
	notification := &models.Notification{RecipientID: recipientID, Subject: subject, Body: body}
	if err := n.queue.Enqueue(jobs.Job{Type: "inbox", Payload: notification}); err != nil {
		n.fallback.Send(ctx, recipientID, subject, body)
	}
}

func (n *QueuedNotifier) deliver(ctx context.Context, job jobs.Job) error {
	notification, ok := job.Payload.(*models.Notification)
	if !ok {
		n.logger.Error("unexpected notification payload", zap.String("type", job.Type))
		return nil
	}
	return n.notifications.Create(ctx, notification)
}
