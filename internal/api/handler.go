package api

import (
	"sort"

	"github.com/gofiber/fiber/v3"

	"github.com/crudkit-io/crudkit/internal/config"
	"github.com/crudkit-io/crudkit/internal/crud"
	"github.com/crudkit-io/crudkit/internal/service"
)

// CrudHandler exposes one resource over HTTP. Routes are mounted under
// /<resource>; the single-entity routes use the declared route parameters.
type CrudHandler struct {
	name          string
	svc           *service.CrudService
	parser        *crud.Parser
	descriptors   map[string]crud.ParamDescriptor
	base          *crud.SearchCondition
	allowOverride bool
	auth          *AuthOptions
}

// NewCrudHandler creates a handler for one resource. auth may be nil.
func NewCrudHandler(rc config.ResourceConfig, svc *service.CrudService, parser *crud.Parser, auth *AuthOptions) *CrudHandler {
	return &CrudHandler{
		name:          rc.Name,
		svc:           svc,
		parser:        parser,
		descriptors:   paramDescriptors(rc),
		base:          baseFilter(rc),
		allowOverride: svc.Options().AllowParamsOverride,
		auth:          auth,
	}
}

// baseFilter lowers the resource's declared filter into a condition applied
// to every request.
func baseFilter(rc config.ResourceConfig) *crud.SearchCondition {
	if len(rc.Filter) == 0 {
		return nil
	}
	filters := make([]crud.QueryFilter, len(rc.Filter))
	for i, f := range rc.Filter {
		filters[i] = crud.QueryFilter{
			Field:    f.Field,
			Operator: crud.NormalizeOperator(f.Operator),
			Value:    f.Value,
		}
	}
	return crud.BuildClientSearch(filters, nil)
}

func (h *CrudHandler) assemble(c fiber.Ctx) (*crud.ParsedRequest, error) {
	return assembleRequest(c, h.parser, h.descriptors, h.base, h.allowOverride, h.auth)
}

// RegisterRoutes mounts the resource routes.
func (h *CrudHandler) RegisterRoutes(router fiber.Router) {
	group := router.Group("/" + h.name)

	group.Get("/", h.GetMany)
	group.Post("/", h.CreateOne)
	group.Post("/bulk", h.CreateMany)

	entity := h.entityPath()
	group.Get(entity, h.GetOne)
	group.Patch(entity, h.UpdateOne)
	group.Put(entity, h.ReplaceOne)
	group.Delete(entity, h.DeleteOne)
	group.Patch(entity+"/recover", h.RecoverOne)
}

// entityPath derives the single-entity route from the declared parameters,
// primary ones first for stable ordering.
func (h *CrudHandler) entityPath() string {
	names := make([]string, 0, len(h.descriptors))
	for name := range h.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)

	var primary, rest string
	for _, name := range names {
		d := h.descriptors[name]
		if d.Disabled {
			continue
		}
		if d.Primary {
			primary += "/:" + name
		} else {
			rest += "/:" + name
		}
	}
	if primary == "" && rest == "" {
		return "/:id"
	}
	return primary + rest
}

// GetMany returns the rows matching the request query.
// GET /<resource>
func (h *CrudHandler) GetMany(c fiber.Ctx) error {
	req, err := h.assemble(c)
	if err != nil {
		return sendCrudError(c, err)
	}
	result, err := h.svc.GetMany(c.RequestCtx(), req)
	if err != nil {
		return sendCrudError(c, err)
	}
	return c.JSON(result)
}

// GetOne returns the addressed row.
// GET /<resource>/:id
func (h *CrudHandler) GetOne(c fiber.Ctx) error {
	req, err := h.assemble(c)
	if err != nil {
		return sendCrudError(c, err)
	}
	row, err := h.svc.GetOne(c.RequestCtx(), req)
	if err != nil {
		return sendCrudError(c, err)
	}
	return c.JSON(row)
}

// CreateOne inserts one row from the JSON body.
// POST /<resource>
func (h *CrudHandler) CreateOne(c fiber.Ctx) error {
	req, err := h.assemble(c)
	if err != nil {
		return sendCrudError(c, err)
	}
	var payload map[string]any
	if err := c.Bind().Body(&payload); err != nil {
		return SendBadRequest(c, "Invalid request body. JSON object expected")
	}
	row, err := h.svc.CreateOne(c.RequestCtx(), req, payload)
	if err != nil {
		return sendCrudError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}

// CreateMany inserts a batch of rows from {"bulk": [...]}.
// POST /<resource>/bulk
func (h *CrudHandler) CreateMany(c fiber.Ctx) error {
	req, err := h.assemble(c)
	if err != nil {
		return sendCrudError(c, err)
	}
	var body struct {
		Bulk []map[string]any `json:"bulk"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return SendBadRequest(c, "Invalid request body. JSON object expected")
	}
	if len(body.Bulk) == 0 {
		return SendBadRequest(c, crud.ErrEmptyPayload.Error())
	}
	rows, err := h.svc.CreateMany(c.RequestCtx(), req, body.Bulk)
	if err != nil {
		return sendCrudError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rows)
}

// UpdateOne patches the addressed row with the JSON body.
// PATCH /<resource>/:id
func (h *CrudHandler) UpdateOne(c fiber.Ctx) error {
	req, err := h.assemble(c)
	if err != nil {
		return sendCrudError(c, err)
	}
	var payload map[string]any
	if err := c.Bind().Body(&payload); err != nil {
		return SendBadRequest(c, "Invalid request body. JSON object expected")
	}
	row, err := h.svc.UpdateOne(c.RequestCtx(), req, payload)
	if err != nil {
		return sendCrudError(c, err)
	}
	return c.JSON(row)
}

// ReplaceOne upserts the addressed row with the JSON body.
// PUT /<resource>/:id
func (h *CrudHandler) ReplaceOne(c fiber.Ctx) error {
	req, err := h.assemble(c)
	if err != nil {
		return sendCrudError(c, err)
	}
	var payload map[string]any
	if err := c.Bind().Body(&payload); err != nil {
		return SendBadRequest(c, "Invalid request body. JSON object expected")
	}
	row, err := h.svc.ReplaceOne(c.RequestCtx(), req, payload)
	if err != nil {
		return sendCrudError(c, err)
	}
	return c.JSON(row)
}

// DeleteOne removes the addressed row.
// DELETE /<resource>/:id
func (h *CrudHandler) DeleteOne(c fiber.Ctx) error {
	req, err := h.assemble(c)
	if err != nil {
		return sendCrudError(c, err)
	}
	row, err := h.svc.DeleteOne(c.RequestCtx(), req)
	if err != nil {
		return sendCrudError(c, err)
	}
	return c.JSON(row)
}

// RecoverOne reverses a soft delete on the addressed row.
// PATCH /<resource>/:id/recover
func (h *CrudHandler) RecoverOne(c fiber.Ctx) error {
	req, err := h.assemble(c)
	if err != nil {
		return sendCrudError(c, err)
	}
	row, err := h.svc.RecoverOne(c.RequestCtx(), req)
	if err != nil {
		return sendCrudError(c, err)
	}
	return c.JSON(row)
}
