package orgchart

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DateTimeLayout is the only accepted format for date column values.
const DateTimeLayout = "2006-01-02 15:04:05"

// Operator is a condition comparison.
type Operator string

const (
	OpEqual       Operator = "="
	OpNotEqual    Operator = "!="
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreater     Operator = ">"
	OpLess        Operator = "<"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
)

// Relation decides which group a condition joins.
type Relation string

const (
	RelAnd Relation = "&"
	RelOr  Relation = "|"
)

// Condition is one filter clause supplied by a caller.
type Condition struct {
	Column   string   `json:"column"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
	Relation Relation `json:"relation"`
}

type columnKind int

const (
	kindText columnKind = iota
	kindInt
	kindBool
	kindTime
)

type column struct {
	table string
	name  string
	kind  columnKind
}

func (c column) ref() clause.Column {
	return clause.Column{Table: c.table, Name: c.name}
}

// conditionColumns is the full set of filterable columns. Names containing
// "department" resolve against the departments table.
var conditionColumns = map[string]column{
	"department_name":        {"departments", "name", kindText},
	"department_id":          {"departments", "id", kindInt},
	"department_director_id": {"departments", "director_id", kindInt},

	"employee_id":          {"employees", "id", kindInt},
	"username":             {"employees", "username", kindText},
	"email":                {"employees", "email", kindText},
	"nickname":             {"employees", "nickname", kindText},
	"mobile":               {"employees", "mobile", kindText},
	"sex":                  {"employees", "sex", kindText},
	"position_name":        {"employees", "position_name", kindText},
	"direct_supervisor_id": {"employees", "direct_supervisor_id", kindInt},
	"block":                {"employees", "block", kindBool},
	"last_login":           {"employees", "last_login", kindTime},
	"entry_date":           {"employees", "entry_date", kindTime},
	"leave_date":           {"employees", "leave_date", kindTime},
}

var operatorAliases = map[string]Operator{
	"=":            OpEqual,
	"==":           OpEqual,
	"!=":           OpNotEqual,
	"<>":           OpNotEqual,
	"contains":     OpContains,
	"in":           OpContains,
	"not_contains": OpNotContains,
	"not_in":       OpNotContains,
	">":            OpGreater,
	"<":            OpLess,
	"is_empty":     OpIsEmpty,
	"is_not_empty": OpIsNotEmpty,
}

// Predicate is a compiled condition list: the AND group OR'd with every OR entry.
type Predicate struct {
	And []clause.Expression
	Or  []clause.Expression
}

// Expr returns the combined expression, or nil when there is nothing to filter
// on. An empty AND group is left out rather than treated as true, so a list of
// OR entries only matches rows satisfying one of them.
func (p Predicate) Expr() clause.Expression {
	var parts []clause.Expression
	switch len(p.And) {
	case 0:
	case 1:
		parts = append(parts, p.And[0])
	default:
		parts = append(parts, clause.AndConditions{Exprs: p.And})
	}
	parts = append(parts, p.Or...)

	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	return clause.OrConditions{Exprs: parts}
}

// Apply adds the predicate to db.
func (p Predicate) Apply(db *gorm.DB) *gorm.DB {
	e := p.Expr()
	if e == nil {
		return db
	}
	return db.Clauses(clause.Where{Exprs: []clause.Expression{e}})
}

// Compile validates every condition and builds the predicate. Nothing is
// returned unless every condition is valid.
func Compile(conds []Condition) (Predicate, error) {
	var p Predicate
	for i, c := range conds {
		expr, rel, err := compileOne(c)
		if err != nil {
			return Predicate{}, fmt.Errorf("condition %d: %w", i, err)
		}
		if rel == RelAnd {
			p.And = append(p.And, expr)
		} else {
			p.Or = append(p.Or, expr)
		}
	}
	return p, nil
}

func compileOne(c Condition) (clause.Expression, Relation, error) {
	name := strings.TrimSpace(c.Column)
	if name == "" || c.Operator == "" || c.Relation == "" {
		return nil, "", newError(ErrValidation, "", "column, operator and relation are required")
	}

	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(string(c.Operator)))]
	if !ok {
		return nil, "", newError(ErrUnsupportedOperator, name, string(c.Operator))
	}
	rel := Relation(strings.TrimSpace(string(c.Relation)))
	if rel != RelAnd && rel != RelOr {
		return nil, "", newError(ErrUnsupportedRelation, name, string(c.Relation))
	}

	col, ok := conditionColumns[name]
	if !ok {
		return nil, "", newError(ErrAttribute, name, "column cannot be filtered")
	}

	raw := valueString(c.Value)
	if op == OpIsEmpty || op == OpIsNotEmpty {
		if strings.TrimSpace(raw) != "" {
			return nil, "", newError(ErrValueNotAllowed, name, "value must be empty for "+string(op))
		}
		return emptinessExpr(col, op == OpIsEmpty), rel, nil
	}

	if (op == OpContains || op == OpNotContains) && col.kind != kindText {
		return nil, "", newError(ErrValidation, name, string(op)+" needs a text column")
	}

	v, err := parseValue(col, name, raw)
	if err != nil {
		return nil, "", err
	}

	ref := col.ref()
	switch op {
	case OpEqual:
		return clause.Eq{Column: ref, Value: v}, rel, nil
	case OpNotEqual:
		return clause.Neq{Column: ref, Value: v}, rel, nil
	case OpContains:
		return containsText{Column: ref, Text: raw}, rel, nil
	case OpNotContains:
		return clause.Not(containsText{Column: ref, Text: raw}), rel, nil
	case OpGreater:
		return clause.Gt{Column: ref, Value: v}, rel, nil
	default:
		return clause.Lt{Column: ref, Value: v}, rel, nil
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsText matches columns holding Text as a literal substring. LIKE
// wildcards in Text are escaped.
type containsText struct {
	Column clause.Column
	Text   string
}

func (c containsText) Build(builder clause.Builder) {
	c.build(builder, " LIKE ")
}

func (c containsText) NegationBuild(builder clause.Builder) {
	c.build(builder, " NOT LIKE ")
}

func (c containsText) build(builder clause.Builder, op string) {
	builder.WriteQuoted(c.Column)
	builder.WriteString(op)
	builder.AddVar(builder, "%"+likeEscaper.Replace(c.Text)+"%")
	builder.WriteString(` ESCAPE '\'`)
}

// emptinessExpr matches NULL for non-text columns and NULL or '' for text.
func emptinessExpr(col column, empty bool) clause.Expression {
	ref := col.ref()
	if col.kind != kindText {
		if empty {
			return clause.Eq{Column: ref, Value: nil}
		}
		return clause.Neq{Column: ref, Value: nil}
	}
	if empty {
		return clause.OrConditions{Exprs: []clause.Expression{
			clause.Eq{Column: ref, Value: nil},
			clause.Eq{Column: ref, Value: ""},
		}}
	}
	return clause.AndConditions{Exprs: []clause.Expression{
		clause.Neq{Column: ref, Value: nil},
		clause.Neq{Column: ref, Value: ""},
	}}
}

func parseValue(col column, name, raw string) (any, error) {
	s := strings.TrimSpace(raw)
	switch col.kind {
	case kindTime:
		t, err := time.Parse(DateTimeLayout, s)
		if err != nil {
			return nil, wrapError(ErrFormat, name, "expected "+DateTimeLayout, err)
		}
		return t, nil
	case kindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, wrapError(ErrFormat, name, "expected an integer", err)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, wrapError(ErrFormat, name, "expected true or false", err)
		}
		return b, nil
	}
	return raw, nil
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return fmt.Sprint(v)
}
