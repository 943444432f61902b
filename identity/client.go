// Package identity talks to the identity service over HTTP. Client implements
// orgchart.RoleService, orgchart.UserService and orgchart.Notifier.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bohemiyan/orgchart"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

// Client is a fiber.Agent based identity client.
type Client struct {
	baseURL string
	timeout time.Duration
	token   string
	log     *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log.Sugar()
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx answer from the identity service.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (c *Client) CreateRole(ctx context.Context, name string) (orgchart.Role, error) {
	var role orgchart.Role
	err := c.do(ctx, fiber.MethodPost, "/roles", "", map[string]string{"name": name}, &role)
	return role, err
}

func (c *Client) UpdateRole(ctx context.Context, id uint, name string) error {
	return c.do(ctx, fiber.MethodPut, rolePath(id), "", map[string]string{"name": name}, nil)
}

// DeleteRole maps a 404 answer to orgchart.ErrRoleNotFound.
func (c *Client) DeleteRole(ctx context.Context, id uint) error {
	err := c.do(ctx, fiber.MethodDelete, rolePath(id), "", nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == fiber.StatusNotFound {
		return fmt.Errorf("role %d: %w", id, orgchart.ErrRoleNotFound)
	}
	return err
}

func (c *Client) CreateUser(ctx context.Context, u orgchart.User) (orgchart.User, error) {
	var out orgchart.User
	err := c.do(ctx, fiber.MethodPost, "/users", "", u, &out)
	return out, err
}

func (c *Client) EditUser(ctx context.Context, u orgchart.User) error {
	return c.do(ctx, fiber.MethodPut, userPath(u.UID), "", u, nil)
}

func (c *Client) GetUserInfo(ctx context.Context, uid uint) (orgchart.User, error) {
	var out orgchart.User
	err := c.do(ctx, fiber.MethodGet, userPath(uid), "", nil, &out)
	return out, err
}

// ListUsers returns the users for uids, or every user when uids is nil.
func (c *Client) ListUsers(ctx context.Context, uids []uint) ([]orgchart.User, error) {
	query := ""
	if uids != nil {
		parts := make([]string, len(uids))
		for i, id := range uids {
			parts[i] = strconv.FormatUint(uint64(id), 10)
		}
		query = "uids=" + strings.Join(parts, ",")
	}
	var out []orgchart.User
	if err := c.do(ctx, fiber.MethodGet, "/users", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NotifyMembership posts the change with its event id as the idempotency key.
func (c *Client) NotifyMembership(ctx context.Context, change orgchart.MembershipChange) error {
	return c.do(ctx, fiber.MethodPost, "/membership-changes", "", change, nil, "Idempotency-Key", change.EventID)
}

func (c *Client) do(ctx context.Context, method, path, query string, body, out any, headers ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if query != "" {
		a.QueryString(query)
	}
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return fmt.Errorf("identity %s %s: %w", method, path, err)
	}
	a.Timeout(timeout)
	a.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	if c.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		a.Set(headers[i], headers[i+1])
	}
	if body != nil {
		a.JSON(body)
	}

	code, resp, errs := a.Bytes()
	if len(errs) > 0 {
		c.log.Warnw("identity request failed", "method", method, "path", path, "error", errs[0])
		return fmt.Errorf("identity %s %s: %w", method, path, errs[0])
	}
	if code < 200 || code > 299 {
		return &StatusError{Method: method, Path: path, Code: code, Body: strings.TrimSpace(string(resp))}
	}
	if out == nil || len(resp) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("identity %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func rolePath(id uint) string { return "/roles/" + strconv.FormatUint(uint64(id), 10) }

func userPath(uid uint) string { return "/users/" + strconv.FormatUint(uint64(uid), 10) }
