package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
)

// NotificationRepository stores inbox messages.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new instance of NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, recipient_id, subject, body, read, created_at)
		VALUES (:id, :recipient_id, :subject, :body, :read, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListByRecipient returns an account's messages, newest first.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string) ([]models.Notification, error) {
	const query = `SELECT id, recipient_id, subject, body, read, created_at FROM notifications WHERE recipient_id = $1 ORDER BY created_at DESC`
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, recipientID); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead flags a message as read for its recipient.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string) error {
	const query = `UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`
	if _, err := r.db.ExecContext(ctx, query, id, recipientID); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
