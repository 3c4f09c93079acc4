package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
)

type auditWriter interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
}

// AuditTrail appends operational records for state-changing calls. Records
// carry the acting role only, never an account identifier, and a failed
// append is logged without failing the call it documents.
type AuditTrail struct {
	audits auditWriter
	logger *zap.Logger
}

// NewAuditTrail constructs AuditTrail.
func NewAuditTrail(audits auditWriter, logger *zap.Logger) *AuditTrail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditTrail{audits: audits, logger: logger}
}

// Record appends an entry for the given action and resource.
func (t *AuditTrail) Record(ctx context.Context, actorRole models.Role, action, resourceID string) {
	entry := &models.AuditEntry{ActorRole: actorRole, Action: action, ResourceID: resourceID}
	if err := t.audits.Create(ctx, entry); err != nil {
		t.logger.Warn("audit append failed",
			zap.String("action", action),
			zap.String("resource_id", resourceID),
			zap.Error(err))
	}
}
