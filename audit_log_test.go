package orgchart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustAddDepartment(t, svc, "A", RootParentID)
	_, err := svc.EditDepartment(ctx, a.ID, DepartmentInput{Name: "A2", ActorUID: 3})
	require.NoError(t, err)
	mustCreateEmployee(t, svc, EmployeeInput{Email: "li@example.com"})

	logs, err := svc.ListAuditLogs(ctx, "department", &a.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, uint(3), logs[0].ActorUID, "newest first")

	all, err := svc.ListAuditLogs(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := svc.GetAuditLog(ctx, logs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "create_department", got.Action)

	_, err = svc.GetAuditLog(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetAuditLog(ctx, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuditLogs_Disabled(t *testing.T) {
	svc, _ := newTestService(t)
	svc.auditEnabled = false
	mustAddDepartment(t, svc, "A", RootParentID)

	logs, err := svc.ListAuditLogs(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
