package routes

import (
	"errors"
	"strconv"

	"github.com/bohemiyan/orgchart"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ActorHeader carries the uid of the caller, recorded on audit rows.
const ActorHeader = "X-Actor-UID"

type handler struct {
	svc *orgchart.Service
	log *zap.SugaredLogger
}

// Setup registers the HTTP API on app.
func Setup(app *fiber.App, svc *orgchart.Service, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{svc: svc, log: log.Sugar()}

	app.Get("/healthcheck", h.healthcheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1", actor)

	depts := api.Group("/departments")
	depts.Get("/", h.listDepartments)
	depts.Get("/children", h.childDepartments)
	depts.Put("/sort", h.reorderDepartments)
	depts.Post("/", h.addDepartment)
	depts.Get("/:id", h.getDepartment)
	depts.Get("/:id/allowed-parents", h.allowedParents)
	depts.Get("/:id/descendants", h.descendants)
	depts.Put("/:id", h.editDepartment)
	depts.Delete("/:id", h.deleteDepartment)

	emps := api.Group("/employees")
	emps.Post("/query", h.queryEmployees)
	emps.Put("/batch", h.batchEditEmployees)
	emps.Post("/import", h.importEmployees)
	emps.Post("/", h.createEmployee)
	emps.Get("/:id", h.getEmployee)
	emps.Put("/:id", h.updateEmployee)
	emps.Put("/:id/block", h.setBlock)
	emps.Get("/:id/subordinates", h.subordinates)

	api.Get("/audit-logs", h.auditLogs)
	api.Get("/intents", h.intents)
	api.Post("/intents/reconcile", h.reconcile)
	api.Get("/outbox", h.outbox)
	api.Post("/outbox/:id/requeue", h.requeue)
}

// actor stores the caller uid from ActorHeader in c.Locals("actor_uid").
func actor(c *fiber.Ctx) error {
	var uid uint
	if raw := c.Get(ActorHeader); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid " + ActorHeader})
		}
		uid = uint(n)
	}
	c.Locals("actor_uid", uid)
	return c.Next()
}

func actorUID(c *fiber.Ctx) uint {
	uid, _ := c.Locals("actor_uid").(uint)
	return uid
}

func (h *handler) healthcheck(c *fiber.Ctx) error {
	if err := h.svc.Ping(c.UserContext()); err != nil {
		h.log.Errorw("healthcheck failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handler) listDepartments(c *fiber.Ctx) error {
	block, err := orgchart.ParseBlockFilter(c.Query("block"))
	if err != nil {
		return h.fail(c, err)
	}
	if !c.QueryBool("tree") {
		depts, err := h.svc.ListDepartments(c.UserContext())
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(fiber.Map{"departments": depts})
	}
	forest, err := h.svc.Forest(c.UserContext(), orgchart.TreeOptions{
		IncludeEmployees: c.QueryBool("employees"),
		Block:            block,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"departments": forest.Trees()})
}

func (h *handler) childDepartments(c *fiber.Ctx) error {
	block, err := orgchart.ParseBlockFilter(c.Query("block"))
	if err != nil {
		return h.fail(c, err)
	}
	children, err := h.svc.ChildDepartments(c.UserContext(), c.QueryInt("parent_id", orgchart.RootParentID), block)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"departments": children})
}

func (h *handler) getDepartment(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	dept, err := h.svc.GetDepartment(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dept)
}

func (h *handler) allowedParents(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	parents, err := h.svc.AllowedParents(c.UserContext(), int(id))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"parents": parents})
}

func (h *handler) descendants(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	ids, err := h.svc.DescendantIDs(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"ids": ids})
}

func (h *handler) addDepartment(c *fiber.Ctx) error {
	var in orgchart.DepartmentInput
	if err := c.BodyParser(&in); err != nil {
		return h.badBody(c, err)
	}
	in.ActorUID = actorUID(c)
	dept, err := h.svc.AddDepartment(c.UserContext(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dept)
}

func (h *handler) editDepartment(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var in orgchart.DepartmentInput
	if err := c.BodyParser(&in); err != nil {
		return h.badBody(c, err)
	}
	in.ActorUID = actorUID(c)
	dept, err := h.svc.EditDepartment(c.UserContext(), id, in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dept)
}

func (h *handler) deleteDepartment(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.DeleteDepartment(c.UserContext(), id, actorUID(c)); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type sortRequest struct {
	Items []struct {
		ID        uint `json:"id"`
		SortValue int  `json:"sort_value"`
	} `json:"items"`
}

func (h *handler) reorderDepartments(c *fiber.Ctx) error {
	var req sortRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	values := make(map[uint]int, len(req.Items))
	for _, it := range req.Items {
		values[it.ID] = it.SortValue
	}
	if err := h.svc.ReorderSiblings(c.UserContext(), values, actorUID(c)); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type queryRequest struct {
	orgchart.EmployeeQuery
	Block string `json:"block"`
}

func (h *handler) queryEmployees(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	block, err := orgchart.ParseBlockFilter(req.Block)
	if err != nil {
		return h.fail(c, err)
	}
	q := req.EmployeeQuery
	q.Block = block
	page, err := h.svc.QueryEmployees(c.UserContext(), q)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(page)
}

func (h *handler) createEmployee(c *fiber.Ctx) error {
	var in orgchart.EmployeeInput
	if err := c.BodyParser(&in); err != nil {
		return h.badBody(c, err)
	}
	in.ActorUID = actorUID(c)
	emp, err := h.svc.CreateEmployee(c.UserContext(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(emp)
}

func (h *handler) getEmployee(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	emp, err := h.svc.GetEmployee(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(emp)
}

func (h *handler) updateEmployee(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var in orgchart.EmployeeInput
	if err := c.BodyParser(&in); err != nil {
		return h.badBody(c, err)
	}
	in.ActorUID = actorUID(c)
	emp, err := h.svc.UpdateEmployee(c.UserContext(), id, in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(emp)
}

func (h *handler) setBlock(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		Block bool `json:"block"`
	}
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	emp, err := h.svc.SetBlock(c.UserContext(), id, req.Block, actorUID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(emp)
}

func (h *handler) subordinates(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return h.fail(c, err)
	}
	block, err := orgchart.ParseBlockFilter(c.Query("block"))
	if err != nil {
		return h.fail(c, err)
	}
	ids, err := h.svc.SubordinateIDs(c.UserContext(), id, block)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"ids": ids})
}

type batchRequest struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
	IDs    []uint `json:"employee_id_list"`
}

func (h *handler) batchEditEmployees(c *fiber.Ctx) error {
	var req batchRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	result, err := h.svc.BatchEditEmployees(c.UserContext(), req.Column, req.Value, req.IDs, actorUID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(result)
}

func (h *handler) importEmployees(c *fiber.Ctx) error {
	var req struct {
		Employees []orgchart.ImportRow `json:"employee_list"`
	}
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	result, err := h.svc.ImportEmployees(c.UserContext(), req.Employees, actorUID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(result)
}

func (h *handler) auditLogs(c *fiber.Ctx) error {
	var target *uint
	if raw := c.Query("target_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return h.fail(c, orgchart.NewError(orgchart.ErrFormat, "target_id", "expected an id"))
		}
		id := uint(n)
		target = &id
	}
	logs, err := h.svc.ListAuditLogs(c.UserContext(), c.Query("target_type"), target)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"logs": logs})
}

func (h *handler) intents(c *fiber.Ctx) error {
	status := orgchart.IntentStatus(c.Query("status", string(orgchart.IntentFailed)))
	intents, err := h.svc.ListIntents(c.UserContext(), status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"intents": intents})
}

func (h *handler) reconcile(c *fiber.Ctx) error {
	report, err := h.svc.Reconcile(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(report)
}

func (h *handler) outbox(c *fiber.Ctx) error {
	status := orgchart.OutboxStatus(c.Query("status", string(orgchart.OutboxDead)))
	events, err := h.svc.ListOutbox(c.UserContext(), status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *handler) requeue(c *fiber.Ctx) error {
	if err := h.svc.RequeueDead(c.UserContext(), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func paramID(c *fiber.Ctx) (uint, error) {
	n, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || n == 0 {
		return 0, orgchart.NewError(orgchart.ErrValidation, "id", "id must be a positive integer")
	}
	return uint(n), nil
}

func (h *handler) badBody(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "message": err.Error()})
}

// fail writes err with the status of its kind. Internal errors are logged and
// hidden from the caller.
func (h *handler) fail(c *fiber.Ctx, err error) error {
	kind := orgchart.KindOf(err)
	status := statusFor(kind)
	if status == fiber.StatusInternalServerError {
		h.log.Errorw("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{"error": orgchart.ErrInternal.Error()})
	}
	body := fiber.Map{"error": kind.Error(), "message": err.Error()}
	if field := orgchart.FieldOf(err); field != "" {
		body["field"] = field
	}
	return c.Status(status).JSON(body)
}

func statusFor(kind error) int {
	switch {
	case errors.Is(kind, orgchart.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(kind, orgchart.ErrNameConflict),
		errors.Is(kind, orgchart.ErrHasChildren),
		errors.Is(kind, orgchart.ErrBlockForbidden):
		return fiber.StatusConflict
	case errors.Is(kind, orgchart.ErrValidation),
		errors.Is(kind, orgchart.ErrInvalidParent),
		errors.Is(kind, orgchart.ErrValueNotAllowed),
		errors.Is(kind, orgchart.ErrUnsupportedOperator),
		errors.Is(kind, orgchart.ErrUnsupportedRelation),
		errors.Is(kind, orgchart.ErrFormat),
		errors.Is(kind, orgchart.ErrAttribute):
		return fiber.StatusBadRequest
	case errors.Is(kind, orgchart.ErrDownstream):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}
