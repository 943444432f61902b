package orgchart

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// BlockFilter selects employees by block status.
type BlockFilter int

const (
	BlockAll BlockFilter = iota
	BlockActive
	BlockBlocked
)

// ParseBlockFilter accepts "", "all", "active"/"0" and "blocked"/"1".
func ParseBlockFilter(s string) (BlockFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return BlockAll, nil
	case "active", "0", "false":
		return BlockActive, nil
	case "blocked", "1", "true":
		return BlockBlocked, nil
	}
	return BlockAll, newError(ErrValidation, "block", fmt.Sprintf("unknown block filter %q", s))
}

func (f BlockFilter) String() string {
	switch f {
	case BlockActive:
		return "active"
	case BlockBlocked:
		return "blocked"
	}
	return "all"
}

func (f BlockFilter) match(e Employee) bool {
	switch f {
	case BlockActive:
		return !e.Block
	case BlockBlocked:
		return e.Block
	}
	return true
}

func (f BlockFilter) scope(db *gorm.DB) *gorm.DB {
	switch f {
	case BlockActive:
		return db.Where("employees.block = ?", false)
	case BlockBlocked:
		return db.Where("employees.block = ?", true)
	}
	return db
}

// TreeOptions controls what BuildForest attaches to each node.
type TreeOptions struct {
	IncludeEmployees bool
	Block            BlockFilter
}

// Node is one department in a Forest. Parent and Children are arena indexes.
type Node struct {
	Department Department
	Parent     int
	Children   []int
	Employees  []Employee
}

// Forest is the set of department trees, one per root. Nodes live in a flat
// arena; departments whose parent chain never reaches a root are kept in the
// arena but are not part of any tree.
type Forest struct {
	nodes  []Node
	index  map[uint]int
	roots  []int
	inTree []bool
}

// BuildForest assembles the trees for depts. Siblings are ordered by
// sort_value, then id. Employees are attached when opts.IncludeEmployees is set.
func BuildForest(depts []Department, emps []Employee, opts TreeOptions) *Forest {
	f := &Forest{
		nodes: make([]Node, 0, len(depts)),
		index: make(map[uint]int, len(depts)),
	}
	for _, d := range depts {
		if _, dup := f.index[d.ID]; dup {
			continue
		}
		f.index[d.ID] = len(f.nodes)
		f.nodes = append(f.nodes, Node{Department: d, Parent: -1})
	}

	for i := range f.nodes {
		pid := f.nodes[i].Department.ParentID
		if pid == RootParentID {
			f.roots = append(f.roots, i)
			continue
		}
		if pid <= 0 {
			continue
		}
		p, ok := f.index[uint(pid)]
		if !ok || p == i {
			continue
		}
		f.nodes[p].Children = append(f.nodes[p].Children, i)
		f.nodes[i].Parent = p
	}

	f.sortSiblings(f.roots)
	for i := range f.nodes {
		f.sortSiblings(f.nodes[i].Children)
	}

	f.inTree = make([]bool, len(f.nodes))
	stack := append([]int(nil), f.roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.inTree[n] {
			continue
		}
		f.inTree[n] = true
		stack = append(stack, f.nodes[n].Children...)
	}

	if opts.IncludeEmployees {
		for _, e := range emps {
			i, ok := f.index[e.DepartmentID]
			if !ok || !opts.Block.match(e) {
				continue
			}
			f.nodes[i].Employees = append(f.nodes[i].Employees, e)
		}
	}
	return f
}

func (f *Forest) sortSiblings(ids []int) {
	sort.SliceStable(ids, func(a, b int) bool {
		da, db := f.nodes[ids[a]].Department, f.nodes[ids[b]].Department
		if da.SortValue != db.SortValue {
			return da.SortValue < db.SortValue
		}
		return da.ID < db.ID
	})
}

// Len is the number of departments that belong to a tree.
func (f *Forest) Len() int {
	n := 0
	for _, ok := range f.inTree {
		if ok {
			n++
		}
	}
	return n
}

// Roots returns the root department ids in sibling order.
func (f *Forest) Roots() []uint {
	ids := make([]uint, len(f.roots))
	for i, n := range f.roots {
		ids[i] = f.nodes[n].Department.ID
	}
	return ids
}

// Node returns the node for a department id.
func (f *Forest) Node(id uint) (Node, bool) {
	i, ok := f.index[id]
	if !ok {
		return Node{}, false
	}
	return f.nodes[i], true
}

// ChildIDs returns the ordered direct children of id.
func (f *Forest) ChildIDs(id uint) []uint {
	i, ok := f.index[id]
	if !ok {
		return nil
	}
	ids := make([]uint, len(f.nodes[i].Children))
	for k, c := range f.nodes[i].Children {
		ids[k] = f.nodes[c].Department.ID
	}
	return ids
}

// ParentOf returns the parent id of id, or false for roots and unknown ids.
func (f *Forest) ParentOf(id uint) (uint, bool) {
	i, ok := f.index[id]
	if !ok || f.nodes[i].Parent < 0 {
		return 0, false
	}
	return f.nodes[f.nodes[i].Parent].Department.ID, true
}

// preorder walks the subtree at n, parents before children, siblings in order.
func (f *Forest) preorder(n int, visit func(int)) {
	stack := []int{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(cur)
		children := f.nodes[cur].Children
		for k := len(children) - 1; k >= 0; k-- {
			stack = append(stack, children[k])
		}
	}
}

// Flatten returns every department in the forest in preorder.
func (f *Forest) Flatten() []Department {
	out := make([]Department, 0, len(f.nodes))
	for _, r := range f.roots {
		f.preorder(r, func(n int) {
			out = append(out, f.nodes[n].Department)
		})
	}
	return out
}

// DescendantIDs returns root and every department below it. The result is
// empty when root is not part of any tree.
func (f *Forest) DescendantIDs(root uint) []uint {
	i, ok := f.index[root]
	if !ok || !f.inTree[i] {
		return []uint{}
	}
	var ids []uint
	f.preorder(i, func(n int) {
		ids = append(ids, f.nodes[n].Department.ID)
	})
	return ids
}

// ParentOption is a department that may be chosen as a new parent.
type ParentOption struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// AllowedParents lists every department outside the subtree rooted at exclude.
// exclude <= 0 disables the exclusion.
func (f *Forest) AllowedParents(exclude int) []ParentOption {
	skip := map[uint]struct{}{}
	if exclude > 0 {
		for _, id := range f.DescendantIDs(uint(exclude)) {
			skip[id] = struct{}{}
		}
	}
	out := []ParentOption{}
	for _, d := range f.Flatten() {
		if _, ok := skip[d.ID]; ok {
			continue
		}
		out = append(out, ParentOption{ID: d.ID, Name: d.Name})
	}
	return out
}

// TreeView is the nested form of one tree.
type TreeView struct {
	ID             uint       `json:"id"`
	Name           string     `json:"name"`
	ParentID       int        `json:"parent_id"`
	DirectorID     uint       `json:"director_id"`
	SortValue      int        `json:"sort_value"`
	Employees      []Employee `json:"employees,omitempty"`
	SubDepartments []TreeView `json:"sub_departments"`
}

// Trees renders the forest as nested views.
func (f *Forest) Trees() []TreeView {
	out := make([]TreeView, 0, len(f.roots))
	for _, r := range f.roots {
		out = append(out, f.view(r))
	}
	return out
}

func (f *Forest) view(n int) TreeView {
	node := f.nodes[n]
	v := TreeView{
		ID:             node.Department.ID,
		Name:           node.Department.Name,
		ParentID:       node.Department.ParentID,
		DirectorID:     node.Department.DirectorID,
		SortValue:      node.Department.SortValue,
		Employees:      node.Employees,
		SubDepartments: make([]TreeView, 0, len(node.Children)),
	}
	for _, c := range node.Children {
		v.SubDepartments = append(v.SubDepartments, f.view(c))
	}
	return v
}

// Forest loads every non-deleted department and builds the trees.
func (s *Service) Forest(ctx context.Context, opts TreeOptions) (*Forest, error) {
	var depts []Department
	if err := s.conn(ctx).Order("id ASC").Find(&depts).Error; err != nil {
		return nil, mapDatabaseError(err, "load departments")
	}

	var emps []Employee
	if opts.IncludeEmployees {
		q := opts.Block.scope(s.conn(ctx).Model(&Employee{}).Where("employees.department_id > ?", 0))
		if err := q.Order("employees.id ASC").Find(&emps).Error; err != nil {
			return nil, mapDatabaseError(err, "load employees")
		}
	}
	return BuildForest(depts, emps, opts), nil
}

// DescendantIDs returns root plus every department in its subtree.
func (s *Service) DescendantIDs(ctx context.Context, root uint) ([]uint, error) {
	f, err := s.Forest(ctx, TreeOptions{})
	if err != nil {
		return nil, err
	}
	return f.DescendantIDs(root), nil
}

// AllowedParents lists the departments that exclude may be moved under.
func (s *Service) AllowedParents(ctx context.Context, exclude int) ([]ParentOption, error) {
	f, err := s.Forest(ctx, TreeOptions{})
	if err != nil {
		return nil, err
	}
	return f.AllowedParents(exclude), nil
}
