package orgchart

import (
	"context"
)

// DepartmentSummary is a department with its subtree headcount.
type DepartmentSummary struct {
	Department
	HasSub        bool  `json:"has_sub"`
	EmployeeCount int64 `json:"employee_count"`
}

// ChildDepartments lists the direct children of parentID (RootParentID for the
// roots). EmployeeCount covers every department in each child's subtree.
func (s *Service) ChildDepartments(ctx context.Context, parentID int, block BlockFilter) ([]DepartmentSummary, error) {
	f, err := s.Forest(ctx, TreeOptions{})
	if err != nil {
		return nil, err
	}
	var ids []uint
	if parentID <= 0 {
		ids = f.Roots()
	} else {
		ids = f.ChildIDs(uint(parentID))
	}
	if len(ids) == 0 {
		return []DepartmentSummary{}, nil
	}

	counts, err := s.countByDepartment(ctx, block)
	if err != nil {
		return nil, err
	}

	out := make([]DepartmentSummary, 0, len(ids))
	for _, id := range ids {
		node, _ := f.Node(id)
		sum := DepartmentSummary{Department: node.Department, HasSub: len(node.Children) > 0}
		for _, d := range f.DescendantIDs(id) {
			sum.EmployeeCount += counts[d]
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) countByDepartment(ctx context.Context, block BlockFilter) (map[uint]int64, error) {
	type row struct {
		DepartmentID uint
		Count        int64
	}
	var rows []row
	q := block.scope(s.conn(ctx).Model(&Employee{})).
		Select("employees.department_id AS department_id, count(*) AS count").
		Where("employees.department_id > ?", 0).
		Group("employees.department_id")
	if err := q.Scan(&rows).Error; err != nil {
		return nil, mapDatabaseError(err, "count employees")
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.DepartmentID] = r.Count
	}
	return counts, nil
}

// SubordinateIDs returns the employees an employee is responsible for: every
// member of the subtrees of departments they direct, plus their direct
// reports. The employee is never included.
func (s *Service) SubordinateIDs(ctx context.Context, employeeID uint, block BlockFilter) ([]uint, error) {
	if _, err := s.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}

	var directed []uint
	if err := s.conn(ctx).Model(&Department{}).Where("director_id = ?", employeeID).Pluck("id", &directed).Error; err != nil {
		return nil, mapDatabaseError(err, "load directed departments")
	}

	var deptIDs []uint
	if len(directed) > 0 {
		f, err := s.Forest(ctx, TreeOptions{})
		if err != nil {
			return nil, err
		}
		seen := map[uint]bool{}
		for _, d := range directed {
			for _, id := range f.DescendantIDs(d) {
				if !seen[id] {
					seen[id] = true
					deptIDs = append(deptIDs, id)
				}
			}
		}
	}

	q := block.scope(s.conn(ctx).Model(&Employee{})).Where("employees.id <> ?", employeeID)
	if len(deptIDs) > 0 {
		q = q.Where("employees.department_id IN ? OR employees.direct_supervisor_id = ?", deptIDs, employeeID)
	} else {
		q = q.Where("employees.direct_supervisor_id = ?", employeeID)
	}

	var ids []uint
	if err := q.Order("employees.id ASC").Pluck("employees.id", &ids).Error; err != nil {
		return nil, mapDatabaseError(err, "load subordinates")
	}
	return ids, nil
}
