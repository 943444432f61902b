package orgchart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
)

// RecordError is the failure of one record inside a batch.
type RecordError struct {
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"err"`
	Err     error  `json:"-"`
}

// BatchResult holds the outcome of a batch. A failing record never stops the
// records after it.
type BatchResult struct {
	Succeeded []uint        `json:"succeeded"`
	Errors    []RecordError `json:"errors"`
}

func newBatchResult() *BatchResult {
	return &BatchResult{Succeeded: []uint{}, Errors: []RecordError{}}
}

// RecordError appends a failure for key.
func (r *BatchResult) RecordError(key string, err error) {
	r.Errors = append(r.Errors, RecordError{
		Key:     key,
		Kind:    KindOf(err).Error(),
		Field:   FieldOf(err),
		Message: err.Error(),
		Err:     err,
	})
}

// ErrorFor returns the error recorded for key, if any.
func (r *BatchResult) ErrorFor(key string) (RecordError, bool) {
	for _, e := range r.Errors {
		if e.Key == key {
			return e, true
		}
	}
	return RecordError{}, false
}

// BatchColumns are the columns BatchEditEmployees accepts.
var BatchColumns = []string{"block", "department_id", "direct_supervisor_id", "position_name"}

// BatchEditEmployees sets one column to value on every employee in ids.
// The column and value are validated before anything changes; after that
// each employee succeeds or fails on its own.
func (s *Service) BatchEditEmployees(ctx context.Context, column string, value any, ids []uint, actorUID uint) (*BatchResult, error) {
	raw := strings.TrimSpace(valueString(value))
	if raw == "" {
		return nil, newError(ErrValidation, "value", "value is required")
	}

	var (
		result *BatchResult
		err    error
	)
	switch column {
	case "block":
		blocked, perr := strconv.ParseBool(raw)
		if perr != nil {
			return nil, wrapError(ErrFormat, "block", "expected true or false", perr)
		}
		result = s.batchBlock(ctx, ids, blocked, actorUID)
	case "department_id":
		deptID, perr := parseID(raw, "department_id")
		if perr != nil {
			return nil, perr
		}
		if err := checkDepartmentExists(s.conn(ctx), deptID); err != nil {
			return nil, err
		}
		result, err = s.batchMove(ctx, ids, deptID)
	case "direct_supervisor_id":
		supID, perr := parseID(raw, "direct_supervisor_id")
		if perr != nil {
			return nil, perr
		}
		result = s.batchColumn(ctx, ids, "direct_supervisor_id", supID, func(db *gorm.DB, id uint) error {
			return checkSupervisorExists(db, supID, id)
		})
	case "position_name":
		if utf8.RuneCountInString(raw) > maxNameLength {
			return nil, newError(ErrValidation, "position_name", fmt.Sprintf("exceeds %d characters", maxNameLength))
		}
		result = s.batchColumn(ctx, ids, "position_name", raw, nil)
	default:
		return nil, newError(ErrValidation, "column", fmt.Sprintf("column %q cannot be batch edited", column))
	}
	if err != nil {
		return result, err
	}

	s.logAudit(ctx, actorUID, "batch_edit_employees", "employee", 0,
		fmt.Sprintf("Set %s=%s on %d employees, %d failed", column, raw, len(result.Succeeded), len(result.Errors)))
	return result, nil
}

func (s *Service) batchBlock(ctx context.Context, ids []uint, blocked bool, actorUID uint) *BatchResult {
	result := newBatchResult()
	for _, id := range ids {
		if _, err := s.SetBlock(ctx, id, blocked, actorUID); err != nil {
			result.RecordError(idKey(id), err)
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

func (s *Service) batchColumn(ctx context.Context, ids []uint, column string, value any, check func(*gorm.DB, uint) error) *BatchResult {
	result := newBatchResult()
	db := s.conn(ctx)
	for _, id := range ids {
		if _, err := getEmployee(db, id); err != nil {
			result.RecordError(idKey(id), err)
			continue
		}
		if check != nil {
			if err := check(db, id); err != nil {
				result.RecordError(idKey(id), err)
				continue
			}
		}
		if err := db.Model(&Employee{}).Where("id = ?", id).Update(column, value).Error; err != nil {
			result.RecordError(idKey(id), mapDatabaseError(err, "update "+column))
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// batchMove moves employees one savepoint at a time and records a single
// membership event for everyone who actually moved.
func (s *Service) batchMove(ctx context.Context, ids []uint, deptID uint) (*BatchResult, error) {
	result := newBatchResult()
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var moves []MembershipMove
		for _, id := range ids {
			var move *MembershipMove
			err := tx.Transaction(func(row *gorm.DB) error {
				emp, err := getEmployee(row, id)
				if err != nil {
					return err
				}
				if emp.DepartmentID == deptID {
					return nil
				}
				if err := row.Model(&Employee{}).Where("id = ?", id).Update("department_id", deptID).Error; err != nil {
					return mapDatabaseError(err, "move employee")
				}
				move = &MembershipMove{EmployeeID: id, RoleID: emp.RoleID, FromDepartmentID: emp.DepartmentID}
				return nil
			})
			if err != nil {
				result.RecordError(idKey(id), err)
				continue
			}
			if move != nil {
				moves = append(moves, *move)
			}
			result.Succeeded = append(result.Succeeded, id)
		}
		_, err := s.enqueueMembership(tx, deptID, moves)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func parseID(raw, field string) (uint, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		if err == nil {
			err = errors.New("must be positive")
		}
		return 0, wrapError(ErrFormat, field, "expected a positive integer", err)
	}
	return uint(n), nil
}

func idKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
