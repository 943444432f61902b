package orgchart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ImportRow is one employee in a bulk import. DepartmentPath names the
// department chain from a root, separated by "/".
type ImportRow struct {
	Username       string     `json:"username" validate:"omitempty,max=255"`
	Email          string     `json:"email" validate:"required,email,max=255"`
	Nickname       string     `json:"nickname" validate:"omitempty,max=255"`
	Mobile         string     `json:"mobile" validate:"omitempty,max=64"`
	Sex            string     `json:"sex" validate:"omitempty,max=16"`
	PositionName   string     `json:"position_name" validate:"omitempty,max=255"`
	DepartmentPath string     `json:"department_name"`
	EntryDate      *time.Time `json:"entry_date"`
}

// ImportEmployees creates employees row by row, creating missing departments
// along each path. Rows whose identity account already backs an employee are
// left unchanged. Errors are keyed by email.
func (s *Service) ImportEmployees(ctx context.Context, rows []ImportRow, actorUID uint) (*BatchResult, error) {
	existing, err := s.users.ListUsers(ctx, nil)
	if err != nil {
		return nil, wrapError(ErrDownstream, "", "list users", err)
	}
	users := make(map[string]User, len(existing))
	for _, u := range existing {
		users[strings.ToLower(u.Email)] = u
	}

	result := newBatchResult()
	paths := map[string]uint{}
	for _, row := range rows {
		row.Email = strings.TrimSpace(row.Email)
		row.Username = strings.TrimSpace(row.Username)
		if row.Username == "" {
			row.Username = row.Email
		}
		emp, err := s.importOne(ctx, row, users, paths, actorUID)
		if err != nil {
			result.RecordError(row.Email, err)
			continue
		}
		result.Succeeded = append(result.Succeeded, emp.ID)
	}

	s.logAudit(ctx, actorUID, "import_employees", "employee", 0,
		fmt.Sprintf("Imported %d employees, %d failed", len(result.Succeeded), len(result.Errors)))
	return result, nil
}

func (s *Service) importOne(ctx context.Context, row ImportRow, users map[string]User, paths map[string]uint, actorUID uint) (*Employee, error) {
	if err := validateStruct(&row); err != nil {
		return nil, err
	}
	deptID, err := s.resolveDepartmentPath(ctx, row.DepartmentPath, paths, actorUID)
	if err != nil {
		return nil, err
	}

	db := s.conn(ctx)
	user, known := users[strings.ToLower(row.Email)]
	if known {
		var emp Employee
		err := db.Where("identity_uid = ?", user.UID).First(&emp).Error
		if err == nil {
			return &emp, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, mapDatabaseError(err, "find employee by identity")
		}
	}
	if err := checkEmployeeUnique(db, row.Email, row.Username, 0); err != nil {
		return nil, err
	}

	if !known {
		user, err = s.users.CreateUser(ctx, User{
			Username: row.Username,
			Email:    row.Email,
			Nickname: row.Nickname,
			Mobile:   row.Mobile,
		})
		if err != nil {
			return nil, wrapError(ErrDownstream, "email", "create user", err)
		}
		users[strings.ToLower(row.Email)] = user
	}

	emp := &Employee{
		Username:     row.Username,
		Email:        row.Email,
		Nickname:     row.Nickname,
		Mobile:       row.Mobile,
		Sex:          row.Sex,
		PositionName: row.PositionName,
		DepartmentID: deptID,
		EntryDate:    row.EntryDate,
		IdentityUID:  user.UID,
		RoleID:       user.RoleID,
		LastLogin:    user.LastLogin,
	}
	if err := db.Create(emp).Error; err != nil {
		return nil, mapDatabaseError(err, "create employee")
	}
	return emp, nil
}

// resolveDepartmentPath walks "A/B/C" from the roots, creating missing levels.
// An existing department found under a different parent fails the path.
func (s *Service) resolveDepartmentPath(ctx context.Context, path string, cache map[string]uint, actorUID uint) (uint, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, nil
	}
	if id, ok := cache[path]; ok {
		return id, nil
	}

	parent := RootParentID
	var id uint
	for _, name := range strings.Split(path, "/") {
		name = strings.TrimSpace(name)
		if name == "" {
			return 0, newError(ErrValidation, "department_name", fmt.Sprintf("empty level in %q", path))
		}
		var dept Department
		err := s.conn(ctx).Where("name = ?", name).First(&dept).Error
		switch {
		case err == nil:
			if dept.ParentID != parent {
				return 0, newError(ErrInvalidParent, "department_name",
					fmt.Sprintf("department level relation error: %q is not under the previous level", name))
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			created, err := s.AddDepartment(ctx, DepartmentInput{Name: name, ParentID: parent, ActorUID: actorUID})
			if err != nil {
				return 0, err
			}
			dept = *created
		default:
			return 0, mapDatabaseError(err, "find department")
		}
		id = dept.ID
		parent = int(dept.ID)
	}
	cache[path] = id
	return id, nil
}
