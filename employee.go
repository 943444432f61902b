package orgchart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// EmployeeInput carries the writable fields of an employee.
type EmployeeInput struct {
	Username           string     `json:"username" validate:"omitempty,max=255"`
	Email              string     `json:"email" validate:"required,email,max=255"`
	Nickname           string     `json:"nickname" validate:"omitempty,max=255"`
	Mobile             string     `json:"mobile" validate:"omitempty,max=64"`
	Sex                string     `json:"sex" validate:"omitempty,max=16"`
	PositionName       string     `json:"position_name" validate:"omitempty,max=255"`
	DepartmentID       uint       `json:"department_id"`
	DirectSupervisorID uint       `json:"direct_supervisor_id"`
	EntryDate          *time.Time `json:"entry_date"`
	LeaveDate          *time.Time `json:"leave_date"`
	ActorUID           uint       `json:"-"`
}

func (in *EmployeeInput) normalize() {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		in.Username = in.Email
	}
}

// GetEmployee retrieves a non-deleted employee by ID.
func (s *Service) GetEmployee(ctx context.Context, id uint) (*Employee, error) {
	return getEmployee(s.conn(ctx), id)
}

func getEmployee(db *gorm.DB, id uint) (*Employee, error) {
	if id == 0 {
		return nil, newError(ErrValidation, "id", "employee id is required")
	}
	var emp Employee
	if err := db.First(&emp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, "id", fmt.Sprintf("employee %d", id))
		}
		return nil, mapDatabaseError(err, "get employee")
	}
	return &emp, nil
}

// CreateEmployee provisions the identity user, then stores the employee.
func (s *Service) CreateEmployee(ctx context.Context, in EmployeeInput) (*Employee, error) {
	in.normalize()
	if err := validateStruct(&in); err != nil {
		return nil, err
	}
	db := s.conn(ctx)
	if err := checkEmployeeUnique(db, in.Email, in.Username, 0); err != nil {
		return nil, err
	}
	if err := checkDepartmentExists(db, in.DepartmentID); err != nil {
		return nil, err
	}
	if err := checkSupervisorExists(db, in.DirectSupervisorID, 0); err != nil {
		return nil, err
	}

	user, err := s.users.CreateUser(ctx, User{
		Username: in.Username,
		Email:    in.Email,
		Nickname: in.Nickname,
		Mobile:   in.Mobile,
	})
	if err != nil {
		s.log.Errorw("failed to create identity user", "email", in.Email, "error", err)
		return nil, wrapError(ErrDownstream, "email", "create user", err)
	}

	emp := &Employee{
		Username:           in.Username,
		Email:              in.Email,
		Nickname:           in.Nickname,
		Mobile:             in.Mobile,
		Sex:                in.Sex,
		PositionName:       in.PositionName,
		DepartmentID:       in.DepartmentID,
		DirectSupervisorID: in.DirectSupervisorID,
		EntryDate:          in.EntryDate,
		LeaveDate:          in.LeaveDate,
		IdentityUID:        user.UID,
		RoleID:             user.RoleID,
	}
	if err := db.Create(emp).Error; err != nil {
		s.log.Errorw("employee not stored, identity user left behind", "email", in.Email, "uid", user.UID, "error", err)
		return nil, mapDatabaseError(err, "create employee")
	}

	s.logAudit(ctx, in.ActorUID, "create_employee", "employee", emp.ID, "Created employee: "+emp.Email)
	return emp, nil
}

// UpdateEmployee pushes identity-owned fields to the user service, then
// updates the row. A department change records a membership event in the
// same transaction.
func (s *Service) UpdateEmployee(ctx context.Context, id uint, in EmployeeInput) (*Employee, error) {
	in.normalize()
	if err := validateStruct(&in); err != nil {
		return nil, err
	}
	db := s.conn(ctx)
	emp, err := getEmployee(db, id)
	if err != nil {
		return nil, err
	}
	if err := checkEmployeeUnique(db, in.Email, in.Username, id); err != nil {
		return nil, err
	}
	if err := checkDepartmentExists(db, in.DepartmentID); err != nil {
		return nil, err
	}
	if err := checkSupervisorExists(db, in.DirectSupervisorID, id); err != nil {
		return nil, err
	}

	if emp.IdentityUID != 0 {
		err := s.users.EditUser(ctx, User{
			UID:      emp.IdentityUID,
			RoleID:   emp.RoleID,
			Username: in.Username,
			Email:    in.Email,
			Nickname: in.Nickname,
			Mobile:   in.Mobile,
			Block:    emp.Block,
		})
		if err != nil {
			s.log.Errorw("failed to edit identity user", "employee", id, "uid", emp.IdentityUID, "error", err)
			return nil, wrapError(ErrDownstream, "email", "edit user", err)
		}
	}

	updates := map[string]any{
		"username":             in.Username,
		"email":                in.Email,
		"nickname":             in.Nickname,
		"mobile":               in.Mobile,
		"sex":                  in.Sex,
		"position_name":        in.PositionName,
		"department_id":        in.DepartmentID,
		"direct_supervisor_id": in.DirectSupervisorID,
		"entry_date":           in.EntryDate,
		"leave_date":           in.LeaveDate,
	}
	moved := emp.DepartmentID != in.DepartmentID
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(emp).Updates(updates).Error; err != nil {
			return mapDatabaseError(err, "update employee")
		}
		if !moved {
			return nil
		}
		_, err := s.enqueueMembership(tx, in.DepartmentID, []MembershipMove{{
			EmployeeID:       emp.ID,
			RoleID:           emp.RoleID,
			FromDepartmentID: emp.DepartmentID,
		}})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, in.ActorUID, "update_employee", "employee", id, "Updated employee: "+in.Email)
	return getEmployee(db, id)
}

// SetBlock blocks or unblocks an employee. Directors and direct supervisors
// cannot be blocked.
func (s *Service) SetBlock(ctx context.Context, id uint, blocked bool, actorUID uint) (*Employee, error) {
	db := s.conn(ctx)
	emp, err := getEmployee(db, id)
	if err != nil {
		return nil, err
	}
	if emp.Block == blocked {
		return emp, nil
	}
	if blocked {
		if err := checkBlockable(db, id); err != nil {
			return nil, err
		}
	}
	if err := s.pushBlock(ctx, emp, blocked); err != nil {
		return nil, err
	}
	if err := db.Model(emp).Update("block", blocked).Error; err != nil {
		return nil, mapDatabaseError(err, "update block")
	}
	emp.Block = blocked

	action := "unblock_employee"
	if blocked {
		action = "block_employee"
	}
	s.logAudit(ctx, actorUID, action, "employee", id, fmt.Sprintf("Set block=%t", blocked))
	return emp, nil
}

func (s *Service) pushBlock(ctx context.Context, emp *Employee, blocked bool) error {
	if emp.IdentityUID == 0 {
		return nil
	}
	err := s.users.EditUser(ctx, User{
		UID:      emp.IdentityUID,
		RoleID:   emp.RoleID,
		Username: emp.Username,
		Email:    emp.Email,
		Nickname: emp.Nickname,
		Mobile:   emp.Mobile,
		Block:    blocked,
	})
	if err != nil {
		s.log.Errorw("failed to push block status", "employee", emp.ID, "uid", emp.IdentityUID, "error", err)
		return wrapError(ErrDownstream, "block", "edit user", err)
	}
	return nil
}

// SyncLastLogin copies last-login times from the identity service onto the
// given employees. Employees without an identity account are skipped.
func (s *Service) SyncLastLogin(ctx context.Context, ids []uint) (int, error) {
	var emps []Employee
	q := s.conn(ctx).Where("identity_uid > ?", 0)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	if err := q.Find(&emps).Error; err != nil {
		return 0, mapDatabaseError(err, "load employees")
	}
	if len(emps) == 0 {
		return 0, nil
	}
	uids := make([]uint, len(emps))
	byUID := make(map[uint]Employee, len(emps))
	for i, e := range emps {
		uids[i] = e.IdentityUID
		byUID[e.IdentityUID] = e
	}
	users, err := s.users.ListUsers(ctx, uids)
	if err != nil {
		return 0, wrapError(ErrDownstream, "", "list users", err)
	}

	updated := 0
	for _, u := range users {
		e, ok := byUID[u.UID]
		if !ok || u.LastLogin == nil {
			continue
		}
		if e.LastLogin != nil && e.LastLogin.Equal(*u.LastLogin) {
			continue
		}
		if err := s.conn(ctx).Model(&Employee{}).Where("id = ?", e.ID).Update("last_login", u.LastLogin).Error; err != nil {
			return updated, mapDatabaseError(err, "update last login")
		}
		updated++
	}
	return updated, nil
}

func checkEmployeeUnique(db *gorm.DB, email, username string, excludeID uint) error {
	for _, c := range []struct{ column, value string }{{"email", email}, {"username", username}} {
		q := db.Model(&Employee{}).Where(c.column+" = ?", c.value)
		if excludeID > 0 {
			q = q.Where("id <> ?", excludeID)
		}
		var count int64
		if err := q.Count(&count).Error; err != nil {
			return mapDatabaseError(err, "check employee "+c.column)
		}
		if count > 0 {
			return newError(ErrNameConflict, c.column, fmt.Sprintf("%s %q already exists", c.column, c.value))
		}
	}
	return nil
}

func checkDepartmentExists(db *gorm.DB, id uint) error {
	if id == 0 {
		return nil
	}
	var count int64
	if err := db.Model(&Department{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return mapDatabaseError(err, "check department")
	}
	if count == 0 {
		return newError(ErrNotFound, "department_id", fmt.Sprintf("department %d", id))
	}
	return nil
}

func checkSupervisorExists(db *gorm.DB, supervisorID, self uint) error {
	if supervisorID == 0 {
		return nil
	}
	if supervisorID == self {
		return newError(ErrValidation, "direct_supervisor_id", "an employee cannot supervise themselves")
	}
	var count int64
	if err := db.Model(&Employee{}).Where("id = ?", supervisorID).Count(&count).Error; err != nil {
		return mapDatabaseError(err, "check supervisor")
	}
	if count == 0 {
		return newError(ErrNotFound, "direct_supervisor_id", fmt.Sprintf("employee %d", supervisorID))
	}
	return nil
}

// checkBlockable rejects directors and direct supervisors.
func checkBlockable(db *gorm.DB, id uint) error {
	var count int64
	if err := db.Model(&Department{}).Where("director_id = ?", id).Count(&count).Error; err != nil {
		return mapDatabaseError(err, "check director")
	}
	if count > 0 {
		return newError(ErrBlockForbidden, "block", fmt.Sprintf("employee %d directs %d departments", id, count))
	}
	if err := db.Model(&Employee{}).Where("direct_supervisor_id = ?", id).Count(&count).Error; err != nil {
		return mapDatabaseError(err, "check supervisor")
	}
	if count > 0 {
		return newError(ErrBlockForbidden, "block", fmt.Sprintf("employee %d supervises %d employees", id, count))
	}
	return nil
}
