package orgchart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// reconcileGrace is how long a pending intent may stay in flight before
// Reconcile treats its process as gone.
const reconcileGrace = time.Minute

func (s *Service) beginIntent(ctx context.Context, kind IntentKind, deptID, roleID uint, name string) (*Intent, error) {
	intent := &Intent{
		ID:           uuid.NewString(),
		Kind:         kind,
		Status:       IntentPending,
		DepartmentID: deptID,
		RoleID:       roleID,
		Name:         name,
	}
	if err := s.conn(ctx).Create(intent).Error; err != nil {
		return nil, mapDatabaseError(err, "record intent")
	}
	return intent, nil
}

func (s *Service) setIntent(db *gorm.DB, intent *Intent, status IntentStatus, cause error, fields map[string]any) error {
	updates := map[string]any{"status": status, "updated_at": s.now()}
	if cause != nil {
		updates["last_error"] = cause.Error()
		updates["attempts"] = gorm.Expr("attempts + 1")
	}
	for k, v := range fields {
		updates[k] = v
	}
	if err := db.Model(&Intent{}).Where("id = ?", intent.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update intent %s: %w", intent.ID, err)
	}
	intent.Status = status
	return nil
}

// settleIntent records a final status without failing the caller; the
// operation it guards has already happened.
func (s *Service) settleIntent(ctx context.Context, intent *Intent, status IntentStatus, cause error, fields map[string]any) {
	if err := s.setIntent(s.conn(ctx), intent, status, cause, fields); err != nil {
		s.log.Errorw("failed to settle intent", "intent", intent.ID, "kind", intent.Kind, "status", status, "error", err)
	}
}

// ReconcileReport counts the outcome of one Reconcile pass.
type ReconcileReport struct {
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	Orphaned int `json:"orphaned"`
	Aborted  int `json:"aborted"`
}

// ListIntents returns intents with the given status, oldest first.
func (s *Service) ListIntents(ctx context.Context, status IntentStatus) ([]Intent, error) {
	var intents []Intent
	if err := s.conn(ctx).Where("status = ?", status).Order("created_at ASC").Find(&intents).Error; err != nil {
		return nil, mapDatabaseError(err, "list intents")
	}
	return intents, nil
}

// Reconcile replays failed intents and pending intents older than the grace
// period. Role creations that never produced a department are flagged
// orphaned; renames and deletes are re-issued.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	var intents []Intent
	cutoff := s.now().Add(-reconcileGrace)
	err := s.conn(ctx).
		Where("status = ? OR (status = ? AND updated_at <= ?)", IntentFailed, IntentPending, cutoff).
		Order("created_at ASC").
		Find(&intents).Error
	if err != nil {
		return report, mapDatabaseError(err, "load intents")
	}

	for i := range intents {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		intent := &intents[i]
		var status IntentStatus
		switch intent.Kind {
		case IntentRoleCreate:
			status = s.replayCreate(ctx, intent)
		case IntentRoleRename:
			status = s.replayRename(ctx, intent)
		case IntentRoleDelete:
			status = s.replayDelete(ctx, intent)
		default:
			s.log.Warnw("unknown intent kind", "intent", intent.ID, "kind", intent.Kind)
			continue
		}
		switch status {
		case IntentDone:
			report.Done++
		case IntentOrphaned:
			report.Orphaned++
		case IntentAborted:
			report.Aborted++
		default:
			report.Failed++
		}
		recordReplay(intent.Kind, status)
		s.log.Infow("intent replayed", "intent", intent.ID, "kind", intent.Kind, "status", status)
	}
	return report, nil
}

func (s *Service) replayCreate(ctx context.Context, intent *Intent) IntentStatus {
	if intent.RoleID == 0 {
		s.settleIntent(ctx, intent, IntentAborted, nil, nil)
		return IntentAborted
	}
	var dept Department
	err := s.conn(ctx).Where("role_id = ?", intent.RoleID).First(&dept).Error
	if err == nil {
		s.settleIntent(ctx, intent, IntentDone, nil, map[string]any{"department_id": dept.ID})
		return IntentDone
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.settleIntent(ctx, intent, IntentFailed, err, nil)
		return IntentFailed
	}
	s.log.Errorw("identity role has no department", "intent", intent.ID, "role_id", intent.RoleID, "name", intent.Name)
	s.settleIntent(ctx, intent, IntentOrphaned, nil, nil)
	return IntentOrphaned
}

func (s *Service) replayRename(ctx context.Context, intent *Intent) IntentStatus {
	var dept Department
	if err := s.conn(ctx).First(&dept, intent.DepartmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.settleIntent(ctx, intent, IntentAborted, nil, nil)
			return IntentAborted
		}
		s.settleIntent(ctx, intent, IntentFailed, err, nil)
		return IntentFailed
	}
	err := s.roles.UpdateRole(ctx, intent.RoleID, dept.Name)
	recordRoleCall("update", err)
	if err != nil {
		s.log.Warnw("role rename replay failed", "intent", intent.ID, "role_id", intent.RoleID, "error", err)
		s.settleIntent(ctx, intent, IntentFailed, err, nil)
		return IntentFailed
	}
	s.settleIntent(ctx, intent, IntentDone, nil, map[string]any{"name": dept.Name})
	return IntentDone
}

func (s *Service) replayDelete(ctx context.Context, intent *Intent) IntentStatus {
	var dept Department
	err := s.conn(ctx).First(&dept, intent.DepartmentID).Error
	switch {
	case err == nil:
		// The role call ran but the soft delete did not.
		if err := s.softDeleteDepartment(ctx, &dept, 0); err != nil {
			s.log.Errorw("department delete replay failed", "intent", intent.ID, "department", dept.ID, "error", err)
			s.settleIntent(ctx, intent, IntentOrphaned, err, nil)
			return IntentOrphaned
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		s.settleIntent(ctx, intent, IntentFailed, err, nil)
		return IntentFailed
	}

	err = s.roles.DeleteRole(ctx, intent.RoleID)
	recordRoleCall("delete", err)
	if err != nil && !errors.Is(err, ErrRoleNotFound) {
		s.log.Warnw("role delete replay failed", "intent", intent.ID, "role_id", intent.RoleID, "error", err)
		s.settleIntent(ctx, intent, IntentFailed, err, nil)
		return IntentFailed
	}
	s.settleIntent(ctx, intent, IntentDone, nil, nil)
	return IntentDone
}
