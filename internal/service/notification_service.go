package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

type notificationRepository interface {
	ListByRecipient(ctx context.Context, recipientID string) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
}

// NotificationService exposes an account's inbox. Recipients only ever see
// their own messages.
type NotificationService struct {
	notifications notificationRepository
	logger        *zap.Logger
}

// NewNotificationService constructs NotificationService.
func NewNotificationService(notifications notificationRepository, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{notifications: notifications, logger: logger}
}

// List returns the caller's messages, newest first.
func (s *NotificationService) List(ctx context.Context, actor models.AuthContext) ([]models.Notification, error) {
	notifications, err := s.notifications.ListByRecipient(ctx, actor.AccountID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, nil
}

// MarkRead flags one of the caller's messages as read.
func (s *NotificationService) MarkRead(ctx context.Context, actor models.AuthContext, id string) error {
	if err := s.notifications.MarkRead(ctx, id, actor.AccountID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}
