package orgchart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func dryRunSQL(t *testing.T, db *gorm.DB, p Predicate) string {
	t.Helper()
	var out []Employee
	stmt := p.Apply(db.Session(&gorm.Session{DryRun: true}).Model(&Employee{})).Find(&out).Statement
	return stmt.SQL.String()
}

func TestCompile_AndOrRelations(t *testing.T) {
	p, err := Compile([]Condition{
		{Column: "block", Operator: "=", Value: "true", Relation: RelAnd},
		{Column: "nickname", Operator: "contains", Value: "Li", Relation: RelOr},
	})
	require.NoError(t, err)
	assert.Len(t, p.And, 1)
	assert.Len(t, p.Or, 1)

	svc, _ := newTestService(t)
	sql := dryRunSQL(t, svc.db, p)
	assert.Contains(t, sql, "(`employees`.`block` = ? OR `employees`.`nickname` LIKE ? ESCAPE '\\')")
}

func TestCompile_AndGroupIsParenthesized(t *testing.T) {
	p, err := Compile([]Condition{
		{Column: "username", Operator: "=", Value: "li", Relation: RelAnd},
		{Column: "block", Operator: "=", Value: false, Relation: RelAnd},
		{Column: "email", Operator: "contains", Value: "@corp", Relation: RelOr},
	})
	require.NoError(t, err)

	svc, _ := newTestService(t)
	sql := dryRunSQL(t, svc.db, p)
	assert.Contains(t, sql, "((`employees`.`username` = ? AND `employees`.`block` = ?) OR `employees`.`email` LIKE ? ESCAPE '\\')")
}

func TestCompile_Empty(t *testing.T) {
	p, err := Compile(nil)
	require.NoError(t, err)
	assert.Nil(t, p.Expr())
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		cond  Condition
		kind  error
		field string
	}{
		{"missing column", Condition{Operator: "=", Value: "x", Relation: RelAnd}, ErrValidation, ""},
		{"missing relation", Condition{Column: "email", Operator: "=", Value: "x"}, ErrValidation, ""},
		{"bad operator", Condition{Column: "email", Operator: "~", Value: "x", Relation: RelAnd}, ErrUnsupportedOperator, "email"},
		{"bad relation", Condition{Column: "email", Operator: "=", Value: "x", Relation: "^"}, ErrUnsupportedRelation, "email"},
		{"unknown column", Condition{Column: "password", Operator: "=", Value: "x", Relation: RelAnd}, ErrAttribute, "password"},
		{"value with is_empty", Condition{Column: "nickname", Operator: OpIsEmpty, Value: "x", Relation: RelAnd}, ErrValueNotAllowed, "nickname"},
		{"value with is_not_empty", Condition{Column: "employee_id", Operator: OpIsNotEmpty, Value: 3, Relation: RelOr}, ErrValueNotAllowed, "employee_id"},
		{"bad time", Condition{Column: "last_login", Operator: ">", Value: "yesterday", Relation: RelAnd}, ErrFormat, "last_login"},
		{"bad int", Condition{Column: "department_id", Operator: "=", Value: "abc", Relation: RelAnd}, ErrFormat, "department_id"},
		{"bad bool", Condition{Column: "block", Operator: "=", Value: "sometimes", Relation: RelAnd}, ErrFormat, "block"},
		{"contains on int", Condition{Column: "department_id", Operator: "contains", Value: "1", Relation: RelAnd}, ErrValidation, "department_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile([]Condition{
				{Column: "email", Operator: "=", Value: "ok@example.com", Relation: RelAnd},
				tt.cond,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.field, FieldOf(err))
			assert.Contains(t, err.Error(), "condition 1")
			assert.Nil(t, p.Expr(), "no partial predicate")
		})
	}
}

func TestCompile_Aliases(t *testing.T) {
	for _, op := range []Operator{"==", "<>", "in", "not_in", "IS_EMPTY"} {
		val := any("x")
		if op == "IS_EMPTY" {
			val = nil
		}
		_, err := Compile([]Condition{{Column: "email", Operator: op, Value: val, Relation: RelOr}})
		assert.NoError(t, err, op)
	}
}

func seedConditionData(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	eng := mustAddDepartment(t, svc, "Engineering", RootParentID)
	login := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	mustCreateEmployee(t, svc, EmployeeInput{Email: "lily@example.com", Nickname: "Lily", DepartmentID: eng.ID})
	bob := mustCreateEmployee(t, svc, EmployeeInput{Email: "bob@example.com", Nickname: "Bob", DepartmentID: eng.ID})
	mustCreateEmployee(t, svc, EmployeeInput{Email: "carol@example.com", Nickname: ""})

	_, err := svc.SetBlock(ctx, bob.ID, true, 0)
	require.NoError(t, err)
	require.NoError(t, svc.db.Model(&Employee{}).Where("id = ?", bob.ID).Update("last_login", login).Error)
}

func queryIDs(t *testing.T, svc *Service, conds []Condition) []string {
	t.Helper()
	page, err := svc.QueryEmployees(context.Background(), EmployeeQuery{Conditions: conds, PageSize: 100})
	require.NoError(t, err)
	var emails []string
	for _, row := range page.Items {
		emails = append(emails, row.Email)
	}
	return emails
}

func TestQueryEmployees_ConditionsAgainstStore(t *testing.T) {
	svc, _ := newTestService(t)
	seedConditionData(t, svc)

	t.Run("and entry or'd with or entry", func(t *testing.T) {
		got := queryIDs(t, svc, []Condition{
			{Column: "block", Operator: "=", Value: "true", Relation: RelAnd},
			{Column: "nickname", Operator: "contains", Value: "Li", Relation: RelOr},
		})
		assert.ElementsMatch(t, []string{"bob@example.com", "lily@example.com"}, got)
	})

	t.Run("or entries alone", func(t *testing.T) {
		got := queryIDs(t, svc, []Condition{
			{Column: "email", Operator: "=", Value: "carol@example.com", Relation: RelOr},
		})
		assert.Equal(t, []string{"carol@example.com"}, got)
	})

	t.Run("is_empty on text", func(t *testing.T) {
		got := queryIDs(t, svc, []Condition{
			{Column: "nickname", Operator: OpIsEmpty, Relation: RelAnd},
		})
		assert.Equal(t, []string{"carol@example.com"}, got)
	})

	t.Run("is_empty on time", func(t *testing.T) {
		got := queryIDs(t, svc, []Condition{
			{Column: "last_login", Operator: OpIsNotEmpty, Relation: RelAnd},
		})
		assert.Equal(t, []string{"bob@example.com"}, got)
	})

	t.Run("time comparison", func(t *testing.T) {
		got := queryIDs(t, svc, []Condition{
			{Column: "last_login", Operator: ">", Value: "2024-01-01 00:00:00", Relation: RelAnd},
		})
		assert.Equal(t, []string{"bob@example.com"}, got)
	})

	t.Run("department name", func(t *testing.T) {
		got := queryIDs(t, svc, []Condition{
			{Column: "department_name", Operator: "=", Value: "Engineering", Relation: RelAnd},
			{Column: "email", Operator: "not_contains", Value: "bob", Relation: RelAnd},
		})
		assert.Equal(t, []string{"lily@example.com"}, got)
	})
}
