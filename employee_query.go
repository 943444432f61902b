package orgchart

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
	maxPageSize     = 500
)

// EmployeeQuery is a filtered, paginated employee listing request.
type EmployeeQuery struct {
	DepartmentID uint        `json:"department_id"`
	Block        BlockFilter `json:"-"`
	Search       string      `json:"search"`
	Sort         string      `json:"order"`
	Conditions   []Condition `json:"conditions"`
	Page         int         `json:"page"`
	PageSize     int         `json:"page_size"`
}

// EmployeeRow is an employee joined with its department name.
type EmployeeRow struct {
	Employee       `gorm:"embedded"`
	DepartmentName string `json:"department_name"`
}

// EmployeePage is one window of an employee listing.
type EmployeePage struct {
	Items    []EmployeeRow `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Total    int64         `json:"total"`
}

var sortColumns = map[string]bool{
	"id": true, "username": true, "email": true, "nickname": true, "mobile": true,
	"sex": true, "position_name": true, "department_id": true, "direct_supervisor_id": true,
	"block": true, "last_login": true, "entry_date": true, "leave_date": true,
	"created_at": true, "updated_at": true,
}

// ParseSort turns "a,-b" into ascending a then descending b. Unknown columns
// are dropped.
func ParseSort(order string) []clause.OrderByColumn {
	var cols []clause.OrderByColumn
	for _, tok := range strings.Split(order, ",") {
		tok = strings.TrimSpace(tok)
		desc := strings.HasPrefix(tok, "-")
		name := strings.TrimPrefix(tok, "-")
		if !sortColumns[name] {
			continue
		}
		cols = append(cols, clause.OrderByColumn{
			Column: clause.Column{Table: "employees", Name: name},
			Desc:   desc,
		})
	}
	return cols
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = defaultPage
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// QueryEmployees lists non-deleted employees matching q. Conditions are
// compiled before the store is touched.
func (s *Service) QueryEmployees(ctx context.Context, q EmployeeQuery) (*EmployeePage, error) {
	pred, err := Compile(q.Conditions)
	if err != nil {
		return nil, err
	}
	page, size := normalizePage(q.Page, q.PageSize)
	result := &EmployeePage{Items: []EmployeeRow{}, Page: page, PageSize: size}

	base := s.conn(ctx).Model(&Employee{}).
		Joins("LEFT JOIN departments ON departments.id = employees.department_id AND departments.deleted_at IS NULL")
	base = q.Block.scope(base)

	if search := strings.TrimSpace(q.Search); search != "" {
		base = base.Where(clause.OrConditions{Exprs: []clause.Expression{
			containsText{Column: clause.Column{Table: "employees", Name: "email"}, Text: search},
			containsText{Column: clause.Column{Table: "employees", Name: "username"}, Text: search},
			containsText{Column: clause.Column{Table: "employees", Name: "nickname"}, Text: search},
		}})
	}

	if q.DepartmentID > 0 {
		ids, err := s.DescendantIDs(ctx, q.DepartmentID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return result, nil
		}
		base = base.Where("employees.department_id IN ?", ids)
	}

	base = pred.Apply(base).Session(&gorm.Session{})

	if err := base.Count(&result.Total).Error; err != nil {
		return nil, mapDatabaseError(err, "count employees")
	}
	if result.Total == 0 {
		return result, nil
	}

	list := base.Select("employees.*, departments.name AS department_name")
	order := ParseSort(q.Sort)
	if len(order) == 0 {
		order = []clause.OrderByColumn{{Column: clause.Column{Table: "employees", Name: "id"}}}
	}
	for _, o := range order {
		list = list.Order(o)
	}
	if err := list.Offset((page - 1) * size).Limit(size).Scan(&result.Items).Error; err != nil {
		return nil, mapDatabaseError(err, "list employees")
	}
	return result, nil
}
