package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bohemiyan/orgchart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Roles(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/roles":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":42,"name":"` + body["name"] + `"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/roles/42":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/roles/7":
			http.Error(w, "no such role", http.StatusNotFound)
		case r.Method == http.MethodDelete && r.URL.Path == "/roles/8":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", WithToken("secret"), WithTimeout(time.Second))
	ctx := context.Background()

	role, err := c.CreateRole(ctx, "Engineering")
	require.NoError(t, err)
	assert.Equal(t, orgchart.Role{ID: 42, Name: "Engineering"}, role)
	assert.Equal(t, "Bearer secret", gotAuth)

	require.NoError(t, c.UpdateRole(ctx, 42, "Platform"))

	err = c.DeleteRole(ctx, 7)
	assert.ErrorIs(t, err, orgchart.ErrRoleNotFound)

	err = c.DeleteRole(ctx, 8)
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "boom", se.Body)
	assert.False(t, errors.Is(err, orgchart.ErrRoleNotFound))
}

func TestClient_Users(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/users":
			var u orgchart.User
			require.NoError(t, json.NewDecoder(r.Body).Decode(&u))
			u.UID = 9
			_ = json.NewEncoder(w).Encode(u)
		case r.Method == http.MethodGet && r.URL.Path == "/users/9":
			_, _ = w.Write([]byte(`{"uid":9,"email":"li@example.com","block":true}`))
		case r.Method == http.MethodGet && r.URL.Path == "/users":
			gotQuery = r.URL.RawQuery
			_, _ = w.Write([]byte(`[{"uid":1},{"uid":2}]`))
		case r.Method == http.MethodPut && r.URL.Path == "/users/9":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	ctx := context.Background()

	u, err := c.CreateUser(ctx, orgchart.User{Email: "li@example.com"})
	require.NoError(t, err)
	assert.Equal(t, uint(9), u.UID)

	u, err = c.GetUserInfo(ctx, 9)
	require.NoError(t, err)
	assert.True(t, u.Block)

	require.NoError(t, c.EditUser(ctx, u))

	users, err := c.ListUsers(ctx, []uint{1, 2})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "uids=1,2", gotQuery)

	_, err = c.ListUsers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, gotQuery)

	_, err = c.GetUserInfo(ctx, 10)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestClient_NotifyMembershipSendsIdempotencyKey(t *testing.T) {
	var (
		gotKey  string
		gotBody orgchart.MembershipChange
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	change := orgchart.MembershipChange{
		EventID:        "evt-1",
		ToDepartmentID: 3,
		Moves:          []orgchart.MembershipMove{{EmployeeID: 5, FromDepartmentID: 2}},
	}
	require.NoError(t, NewClient(server.URL).NotifyMembership(context.Background(), change))
	assert.Equal(t, "evt-1", gotKey)
	assert.Equal(t, change, gotBody)
}

func TestClient_ContextAndTransportErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("http://127.0.0.1:1").CreateRole(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()
	_, err = NewClient(url, WithTimeout(200*time.Millisecond)).CreateRole(context.Background(), "x")
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}
