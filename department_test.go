package orgchart

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDepartment(t *testing.T) {
	svc, idp := newTestService(t)
	ctx := context.Background()

	a, err := svc.AddDepartment(ctx, DepartmentInput{Name: "  A  ", ParentID: 0, ActorUID: 7})
	require.NoError(t, err)
	assert.Equal(t, "A", a.Name)
	assert.Equal(t, RootParentID, a.ParentID)
	assert.True(t, a.IsRoot())
	require.NotZero(t, a.RoleID)
	name, ok := idp.roleName(a.RoleID)
	require.True(t, ok)
	assert.Equal(t, "A", name)

	intents, err := svc.ListIntents(ctx, IntentDone)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentRoleCreate, intents[0].Kind)
	assert.Equal(t, a.ID, intents[0].DepartmentID)

	logs, err := svc.ListAuditLogs(ctx, "department", &a.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "create_department", logs[0].Action)
	assert.Equal(t, uint(7), logs[0].ActorUID)
}

func TestAddDepartment_Rejections(t *testing.T) {
	svc, idp := newTestService(t)
	ctx := context.Background()
	a := mustAddDepartment(t, svc, "A", RootParentID)
	roles := idp.roleCount()

	tests := []struct {
		name  string
		in    DepartmentInput
		kind  error
		field string
	}{
		{"blank name", DepartmentInput{Name: "   "}, ErrValidation, "name"},
		{"long name", DepartmentInput{Name: strings.Repeat("x", 256)}, ErrValidation, "name"},
		{"duplicate name", DepartmentInput{Name: "A"}, ErrNameConflict, "name"},
		{"negative parent", DepartmentInput{Name: "B", ParentID: -5}, ErrInvalidParent, "parent_id"},
		{"missing parent", DepartmentInput{Name: "B", ParentID: 999}, ErrInvalidParent, "parent_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddDepartment(ctx, tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.field, FieldOf(err))
		})
	}

	assert.Equal(t, roles, idp.roleCount(), "no role is created for a rejected department")
	depts, err := svc.ListDepartments(ctx)
	require.NoError(t, err)
	require.Len(t, depts, 1)
	assert.Equal(t, a.ID, depts[0].ID)
}

func TestAddDepartment_RoleFailureCreatesNothing(t *testing.T) {
	svc, idp := newTestService(t)
	ctx := context.Background()
	idp.failCreateRole = errIdentityDown

	_, err := svc.AddDepartment(ctx, DepartmentInput{Name: "A"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownstream)
	assert.ErrorIs(t, err, errIdentityDown)

	depts, err := svc.ListDepartments(ctx)
	require.NoError(t, err)
	assert.Empty(t, depts)

	aborted, err := svc.ListIntents(ctx, IntentAborted)
	require.NoError(t, err)
	require.Len(t, aborted, 1)
	assert.Equal(t, 1, aborted[0].Attempts)
	assert.Contains(t, aborted[0].LastError, "unavailable")
}

func TestEditDepartment(t *testing.T) {
	svc, idp := newTestService(t)
	ctx := context.Background()
	a := mustAddDepartment(t, svc, "A", RootParentID)
	b := mustAddDepartment(t, svc, "B", int(a.ID))
	c := mustAddDepartment(t, svc, "C", int(a.ID))

	t.Run("rename and move", func(t *testing.T) {
		got, err := svc.EditDepartment(ctx, c.ID, DepartmentInput{Name: "C2", ParentID: int(b.ID), SortValue: 3})
		require.NoError(t, err)
		assert.Equal(t, "C2", got.Name)
		assert.Equal(t, int(b.ID), got.ParentID)
		assert.Zero(t, got.SortValue, "edit ignores sort value")
		name, _ := idp.roleName(c.RoleID)
		assert.Equal(t, "C2", name)
	})

	t.Run("name conflict leaves both unchanged", func(t *testing.T) {
		_, err := svc.EditDepartment(ctx, b.ID, DepartmentInput{Name: "C2", ParentID: int(a.ID)})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNameConflict)

		gotB, err := svc.GetDepartment(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "B", gotB.Name)
		gotC, err := svc.GetDepartment(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "C2", gotC.Name)
	})

	t.Run("keeping own name is allowed", func(t *testing.T) {
		_, err := svc.EditDepartment(ctx, b.ID, DepartmentInput{Name: "B", ParentID: int(a.ID), SortValue: 9})
		require.NoError(t, err)
	})

	t.Run("self as parent", func(t *testing.T) {
		_, err := svc.EditDepartment(ctx, b.ID, DepartmentInput{Name: "B", ParentID: int(b.ID)})
		assert.ErrorIs(t, err, ErrInvalidParent)
	})

	t.Run("descendant as parent", func(t *testing.T) {
		_, err := svc.EditDepartment(ctx, a.ID, DepartmentInput{Name: "A", ParentID: int(c.ID)})
		assert.ErrorIs(t, err, ErrInvalidParent)
		got, err := svc.GetDepartment(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, got.IsRoot())
	})

	t.Run("missing department", func(t *testing.T) {
		_, err := svc.EditDepartment(ctx, 999, DepartmentInput{Name: "Z"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEditDepartment_RoleFailureAborts(t *testing.T) {
	svc, idp := newTestService(t)
	ctx := context.Background()
	a := mustAddDepartment(t, svc, "A", RootParentID)
	idp.failUpdateRole = errIdentityDown

	_, err := svc.EditDepartment(ctx, a.ID, DepartmentInput{Name: "A2"})
	assert.ErrorIs(t, err, ErrDownstream)

	got, err := svc.GetDepartment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	aborted, err := svc.ListIntents(ctx, IntentAborted)
	require.NoError(t, err)
	require.Len(t, aborted, 1)
	assert.Equal(t, IntentRoleRename, aborted[0].Kind)
}

func TestDeleteDepartment(t *testing.T) {
	svc, idp := newTestService(t)
	ctx := context.Background()
	a := mustAddDepartment(t, svc, "A", RootParentID)
	b := mustAddDepartment(t, svc, "B", int(a.ID))

	err := svc.DeleteDepartment(ctx, a.ID, 0)
	assert.ErrorIs(t, err, ErrHasChildren)
	_, ok := idp.roleName(a.RoleID)
	assert.True(t, ok, "role survives a rejected delete")

	require.NoError(t, svc.DeleteDepartment(ctx, b.ID, 0))
	_, err = svc.GetDepartment(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok = idp.roleName(b.RoleID)
	assert.False(t, ok)

	// A deleted name can be reused.
	_, err = svc.AddDepartment(ctx, DepartmentInput{Name: "B", ParentID: int(a.ID)})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteDepartment(ctx, 999, 0), ErrNotFound)
}

func TestDeleteDepartment_RoleFailureIsSwallowed(t *testing.T) {
	svc, idp := newTestService(t)
	ctx := context.Background()
	a := mustAddDepartment(t, svc, "A", RootParentID)
	idp.failDeleteRole = errIdentityDown

	require.NoError(t, svc.DeleteDepartment(ctx, a.ID, 0))
	_, err := svc.GetDepartment(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	failed, err := svc.ListIntents(ctx, IntentFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, IntentRoleDelete, failed[0].Kind)
	assert.Equal(t, a.RoleID, failed[0].RoleID)
}

func TestReorderSiblings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustAddDepartment(t, svc, "A", RootParentID)
	b := mustAddDepartment(t, svc, "B", int(a.ID))
	c := mustAddDepartment(t, svc, "C", int(a.ID))

	require.NoError(t, svc.ReorderSiblings(ctx, map[uint]int{b.ID: 2, c.ID: 1, 999: 5}, 0))

	f, err := svc.Forest(ctx, TreeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []uint{c.ID, b.ID}, f.ChildIDs(a.ID))

	require.NoError(t, svc.ReorderSiblings(ctx, nil, 0))
}

func TestEditDepartment_KeepsSortValueAndDirector(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	director := mustCreateEmployee(t, svc, EmployeeInput{Email: "director@example.com"})
	a := mustAddDepartment(t, svc, "A", RootParentID)
	b, err := svc.AddDepartment(ctx, DepartmentInput{Name: "B", ParentID: int(a.ID), DirectorID: &director.ID})
	require.NoError(t, err)
	c := mustAddDepartment(t, svc, "C", int(a.ID))
	require.NoError(t, svc.ReorderSiblings(ctx, map[uint]int{b.ID: 5, c.ID: 1}, 0))

	got, err := svc.EditDepartment(ctx, b.ID, DepartmentInput{Name: "B2", ParentID: int(a.ID)})
	require.NoError(t, err)
	assert.Equal(t, "B2", got.Name)
	assert.Equal(t, 5, got.SortValue)
	assert.Equal(t, director.ID, got.DirectorID)

	f, err := svc.Forest(ctx, TreeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []uint{c.ID, b.ID}, f.ChildIDs(a.ID))

	var none uint
	got, err = svc.EditDepartment(ctx, b.ID, DepartmentInput{Name: "B2", ParentID: int(a.ID), DirectorID: &none})
	require.NoError(t, err)
	assert.Zero(t, got.DirectorID)
	assert.Equal(t, 5, got.SortValue)
}

func TestAllowedParents_RootScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustAddDepartment(t, svc, "A", RootParentID)
	mustAddDepartment(t, svc, "B", int(a.ID))
	mustAddDepartment(t, svc, "C", int(a.ID))

	f, err := svc.Forest(ctx, TreeOptions{})
	require.NoError(t, err)
	require.Equal(t, []uint{a.ID}, f.Roots())
	assert.Len(t, f.ChildIDs(a.ID), 2)

	parents, err := svc.AllowedParents(ctx, int(a.ID))
	require.NoError(t, err)
	assert.Empty(t, parents)
}

func TestChildDepartments(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustAddDepartment(t, svc, "A", RootParentID)
	b := mustAddDepartment(t, svc, "B", int(a.ID))
	c := mustAddDepartment(t, svc, "C", int(b.ID))
	mustCreateEmployee(t, svc, EmployeeInput{Email: "a@example.com", DepartmentID: a.ID})
	mustCreateEmployee(t, svc, EmployeeInput{Email: "b@example.com", DepartmentID: b.ID})
	blocked := mustCreateEmployee(t, svc, EmployeeInput{Email: "c@example.com", DepartmentID: c.ID})
	_, err := svc.SetBlock(ctx, blocked.ID, true, 0)
	require.NoError(t, err)

	roots, err := svc.ChildDepartments(ctx, RootParentID, BlockAll)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.True(t, roots[0].HasSub)
	assert.Equal(t, int64(3), roots[0].EmployeeCount)

	children, err := svc.ChildDepartments(ctx, int(a.ID), BlockActive)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, b.ID, children[0].ID)
	assert.Equal(t, int64(1), children[0].EmployeeCount)

	leaves, err := svc.ChildDepartments(ctx, int(c.ID), BlockAll)
	require.NoError(t, err)
	assert.Empty(t, leaves)
}
