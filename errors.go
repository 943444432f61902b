package orgchart

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Error kinds. Every error returned by Service matches exactly one of these
// through errors.Is.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrNameConflict        = errors.New("name conflict")
	ErrInvalidParent       = errors.New("invalid parent")
	ErrValidation          = errors.New("validation error")
	ErrValueNotAllowed     = errors.New("value not allowed")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrUnsupportedRelation = errors.New("unsupported relation")
	ErrFormat              = errors.New("format error")
	ErrAttribute           = errors.New("unknown attribute")
	ErrDownstream          = errors.New("downstream failure")
	ErrBlockForbidden      = errors.New("block forbidden")
	ErrHasChildren         = errors.New("department has children")
	ErrInternal            = errors.New("internal error")
)

// Error carries a kind plus the field it refers to.
type Error struct {
	Kind    error
	Field   string
	Message string
	Err     error
}

// NewError returns an *Error of the given kind.
func NewError(kind error, field, message string) error {
	return newError(kind, field, message)
}

func newError(kind error, field, message string) *Error {
	return &Error{Kind: kind, Field: field, Message: message}
}

func wrapError(kind error, field, message string, err error) *Error {
	return &Error{Kind: kind, Field: field, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += " [" + e.Field + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return e.Kind == target }

// KindOf returns the kind sentinel for err, or ErrInternal when err carries
// no kind. It returns nil for a nil error.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, kind := range []error{
		ErrNotFound, ErrNameConflict, ErrInvalidParent, ErrValidation, ErrValueNotAllowed,
		ErrUnsupportedOperator, ErrUnsupportedRelation, ErrFormat, ErrAttribute,
		ErrDownstream, ErrBlockForbidden, ErrHasChildren,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

// FieldOf returns the offending field recorded on err, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

func mapDatabaseError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapError(ErrNotFound, "", op, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return wrapError(ErrNameConflict, "", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return wrapError(ErrNameConflict, pgErr.ColumnName, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
