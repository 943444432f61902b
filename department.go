package orgchart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
)

const maxNameLength = 255

// DepartmentInput carries the writable fields of a department. SortValue is
// only read on create; ReorderSiblings owns it afterwards. A nil DirectorID
// leaves the director unchanged on edit.
type DepartmentInput struct {
	Name       string `json:"name"`
	ParentID   int    `json:"parent_id"`
	DirectorID *uint  `json:"director_id"`
	SortValue  int    `json:"sort_value"`
	ActorUID   uint   `json:"-"`
}

// GetDepartment retrieves a non-deleted department by ID.
func (s *Service) GetDepartment(ctx context.Context, id uint) (*Department, error) {
	if id == 0 {
		return nil, newError(ErrValidation, "id", "department id is required")
	}
	var dept Department
	if err := s.conn(ctx).First(&dept, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, "id", fmt.Sprintf("department %d", id))
		}
		return nil, mapDatabaseError(err, "get department")
	}
	return &dept, nil
}

// ListDepartments retrieves all non-deleted departments ordered by id.
func (s *Service) ListDepartments(ctx context.Context) ([]Department, error) {
	var depts []Department
	if err := s.conn(ctx).Order("id ASC").Find(&depts).Error; err != nil {
		return nil, mapDatabaseError(err, "list departments")
	}
	return depts, nil
}

// AddDepartment provisions the backing role, then stores the department.
// A role whose department could not be stored is logged and left for
// Reconcile to flag.
func (s *Service) AddDepartment(ctx context.Context, in DepartmentInput) (*Department, error) {
	name, err := cleanName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := s.checkNameFree(ctx, name, 0); err != nil {
		return nil, err
	}
	parent, err := normalizeParent(in.ParentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkParentAllowed(ctx, parent, -1); err != nil {
		return nil, err
	}

	intent, err := s.beginIntent(ctx, IntentRoleCreate, 0, 0, name)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.CreateRole(ctx, name)
	recordRoleCall("create", err)
	if err != nil {
		s.log.Errorw("failed to create department role", "name", name, "error", err)
		s.settleIntent(ctx, intent, IntentAborted, err, nil)
		return nil, wrapError(ErrDownstream, "name", "create role", err)
	}
	s.settleIntent(ctx, intent, IntentPending, nil, map[string]any{"role_id": role.ID})

	dept := &Department{
		Name:      name,
		ParentID:  parent,
		SortValue: in.SortValue,
		RoleID:    role.ID,
	}
	if in.DirectorID != nil {
		dept.DirectorID = *in.DirectorID
	}
	err = s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dept).Error; err != nil {
			return err
		}
		return s.setIntent(tx, intent, IntentDone, nil, map[string]any{"department_id": dept.ID})
	})
	if err != nil {
		s.log.Errorw("department not stored, identity role orphaned", "name", name, "role_id", role.ID, "error", err)
		s.settleIntent(ctx, intent, IntentFailed, err, nil)
		return nil, mapDatabaseError(err, "create department")
	}

	s.logAudit(ctx, in.ActorUID, "create_department", "department", dept.ID, "Created department: "+name)
	return dept, nil
}

// EditDepartment renames the backing role, then updates the record. A failed
// rename leaves the department untouched.
func (s *Service) EditDepartment(ctx context.Context, id uint, in DepartmentInput) (*Department, error) {
	dept, err := s.GetDepartment(ctx, id)
	if err != nil {
		return nil, err
	}
	name, err := cleanName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := s.checkNameFree(ctx, name, id); err != nil {
		return nil, err
	}
	parent, err := normalizeParent(in.ParentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkParentAllowed(ctx, parent, int(id)); err != nil {
		return nil, err
	}

	var intent *Intent
	if dept.RoleID != 0 {
		intent, err = s.beginIntent(ctx, IntentRoleRename, dept.ID, dept.RoleID, name)
		if err != nil {
			return nil, err
		}
		err = s.roles.UpdateRole(ctx, dept.RoleID, name)
		recordRoleCall("update", err)
		if err != nil {
			s.log.Errorw("failed to rename department role", "department", id, "role_id", dept.RoleID, "error", err)
			s.settleIntent(ctx, intent, IntentAborted, err, nil)
			return nil, wrapError(ErrDownstream, "name", "update role", err)
		}
	}

	updates := map[string]any{
		"name":      name,
		"parent_id": parent,
	}
	if in.DirectorID != nil {
		updates["director_id"] = *in.DirectorID
	}
	err = s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(dept).Updates(updates).Error; err != nil {
			return err
		}
		if intent == nil {
			return nil
		}
		return s.setIntent(tx, intent, IntentDone, nil, nil)
	})
	if err != nil {
		if intent != nil {
			s.settleIntent(ctx, intent, IntentFailed, err, nil)
		}
		return nil, mapDatabaseError(err, "update department")
	}

	s.logAudit(ctx, in.ActorUID, "update_department", "department", id, "Updated department: "+name)
	return s.GetDepartment(ctx, id)
}

// DeleteDepartment soft-deletes a department that has no children. Role
// cleanup is best effort: a failure is logged and left for Reconcile, and the
// delete proceeds, so the delete is not atomic with role cleanup.
func (s *Service) DeleteDepartment(ctx context.Context, id uint, actorUID uint) error {
	dept, err := s.GetDepartment(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkNoChildren(ctx, dept.ID); err != nil {
		return err
	}

	var intent *Intent
	if dept.RoleID != 0 {
		intent, err = s.beginIntent(ctx, IntentRoleDelete, dept.ID, dept.RoleID, dept.Name)
		if err != nil {
			return err
		}
		err = s.roles.DeleteRole(ctx, dept.RoleID)
		recordRoleCall("delete", err)
		if err != nil && !errors.Is(err, ErrRoleNotFound) {
			s.log.Warnw("failed to delete department role, continuing", "department", id, "role_id", dept.RoleID, "error", err)
			s.settleIntent(ctx, intent, IntentFailed, err, nil)
			intent = nil
		}
	}

	if err := s.softDeleteDepartment(ctx, dept, actorUID); err != nil {
		return err
	}
	if intent != nil {
		s.settleIntent(ctx, intent, IntentDone, nil, nil)
	}
	return nil
}

func (s *Service) softDeleteDepartment(ctx context.Context, dept *Department, actorUID uint) error {
	if err := s.checkNoChildren(ctx, dept.ID); err != nil {
		return err
	}
	if err := s.conn(ctx).Delete(dept).Error; err != nil {
		return mapDatabaseError(err, "delete department")
	}
	s.logAudit(ctx, actorUID, "delete_department", "department", dept.ID, "Deleted department: "+dept.Name)
	return nil
}

// ReorderSiblings applies new sort values. Unknown ids are skipped.
func (s *Service) ReorderSiblings(ctx context.Context, sortValues map[uint]int, actorUID uint) error {
	if len(sortValues) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(sortValues))
	for id := range sortValues {
		ids = append(ids, id)
	}

	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Department
		if err := tx.Where("id IN ?", ids).Find(&existing).Error; err != nil {
			return mapDatabaseError(err, "load departments")
		}
		for _, d := range existing {
			if err := tx.Model(&Department{}).Where("id = ?", d.ID).Update("sort_value", sortValues[d.ID]).Error; err != nil {
				return mapDatabaseError(err, "update sort value")
			}
		}
		s.logAuditTx(tx, actorUID, "reorder_departments", "department", 0, fmt.Sprintf("Reordered %d departments", len(existing)))
		return nil
	})
}

func (s *Service) checkNameFree(ctx context.Context, name string, excludeID uint) error {
	q := s.conn(ctx).Model(&Department{}).Where("name = ?", name)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return mapDatabaseError(err, "check department name")
	}
	if count > 0 {
		return newError(ErrNameConflict, "name", fmt.Sprintf("department %q already exists", name))
	}
	return nil
}

// checkParentAllowed requires parent to be the root sentinel or a department
// outside the subtree of exclude.
func (s *Service) checkParentAllowed(ctx context.Context, parent int, exclude int) error {
	if parent == RootParentID {
		return nil
	}
	allowed, err := s.AllowedParents(ctx, exclude)
	if err != nil {
		return err
	}
	for _, p := range allowed {
		if int(p.ID) == parent {
			return nil
		}
	}
	return newError(ErrInvalidParent, "parent_id", fmt.Sprintf("department %d cannot be the parent", parent))
}

func (s *Service) checkNoChildren(ctx context.Context, id uint) error {
	var count int64
	if err := s.conn(ctx).Model(&Department{}).Where("parent_id = ?", int(id)).Count(&count).Error; err != nil {
		return mapDatabaseError(err, "count child departments")
	}
	if count > 0 {
		return newError(ErrHasChildren, "id", fmt.Sprintf("department %d has %d child departments", id, count))
	}
	return nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", newError(ErrValidation, "name", "name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", newError(ErrValidation, "name", fmt.Sprintf("name exceeds %d characters", maxNameLength))
	}
	return name, nil
}

// normalizeParent maps 0 to the root sentinel and rejects other negatives.
func normalizeParent(parent int) (int, error) {
	switch {
	case parent == 0 || parent == RootParentID:
		return RootParentID, nil
	case parent < 0:
		return 0, newError(ErrInvalidParent, "parent_id", fmt.Sprintf("parent id %d is not valid", parent))
	}
	return parent, nil
}
