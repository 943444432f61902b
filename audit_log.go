package orgchart

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// logAudit creates an audit log entry when auditing is enabled.
func (s *Service) logAudit(ctx context.Context, actorUID uint, action, targetType string, targetID uint, details string) {
	s.logAuditTx(s.conn(ctx), actorUID, action, targetType, targetID, details)
}

func (s *Service) logAuditTx(db *gorm.DB, actorUID uint, action, targetType string, targetID uint, details string) {
	if !s.auditEnabled {
		return
	}
	audit := &AuditLog{
		ActorUID:   actorUID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		CreatedAt:  s.now(),
	}
	if err := db.Create(audit).Error; err != nil {
		s.log.Warnw("failed to write audit log", "action", action, "target", targetID, "error", err)
	}
}

// GetAuditLog retrieves an audit log by ID.
func (s *Service) GetAuditLog(ctx context.Context, id uint) (*AuditLog, error) {
	if id == 0 {
		return nil, newError(ErrValidation, "id", "audit log id is required")
	}

	var audit AuditLog
	if err := s.conn(ctx).First(&audit, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, "id", "audit log")
		}
		return nil, mapDatabaseError(err, "get audit log")
	}
	return &audit, nil
}

// ListAuditLogs retrieves audit logs newest first, optionally filtered by
// target type and id.
func (s *Service) ListAuditLogs(ctx context.Context, targetType string, targetID *uint) ([]AuditLog, error) {
	var audits []AuditLog
	query := s.conn(ctx).Order("created_at DESC").Order("id DESC")
	if targetType != "" {
		query = query.Where("target_type = ?", targetType)
	}
	if targetID != nil {
		query = query.Where("target_id = ?", *targetID)
	}
	if err := query.Find(&audits).Error; err != nil {
		return nil, mapDatabaseError(err, "list audit logs")
	}
	return audits, nil
}
