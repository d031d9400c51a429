package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pkgtravel/service-booking/internal/application"
	"github.com/pkgtravel/service-booking/pkg/auth"
	"github.com/pkgtravel/service-booking/pkg/middleware"
	"github.com/pkgtravel/service-booking/pkg/response"
)

type ruleMutation func(ctx context.Context, id, actor uuid.UUID) (*application.MarkupRuleDTO, error)

// MarkupHandler handles markup rule administration and price quotes.
type MarkupHandler struct {
	service *application.MarkupService
}

// NewMarkupHandler creates a new MarkupHandler.
func NewMarkupHandler(service *application.MarkupService) *MarkupHandler {
	return &MarkupHandler{service: service}
}

// RegisterRoutes registers the public quote route and the admin rule routes.
func (h *MarkupHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	r.POST("/api/v1/pricing/quote", h.Calculate)

	admin := r.Group("/api/v1/admin/markups")
	admin.Use(middleware.AuthMiddleware(jwtManager), middleware.RequireRole(auth.RoleAdmin))
	{
		admin.GET("", h.ListRules)
		admin.POST("", h.CreateRule)
		admin.POST("/calculate", h.Calculate)
		admin.GET("/:id", h.GetRule)
		admin.PUT("/:id", h.UpdateRule)
		admin.DELETE("/:id", h.RetireRule)
		admin.POST("/:id/toggle", h.ToggleRule)
		admin.POST("/:id/default", h.SetDefault)
	}
}

// ListRules handles GET /api/v1/admin/markups.
func (h *MarkupHandler) ListRules(c *gin.Context) {
	var req application.ListRulesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	page, limit := parsePagination(c)

	result, err := h.service.ListRules(c.Request.Context(), req, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// CreateRule handles POST /api/v1/admin/markups.
func (h *MarkupHandler) CreateRule(c *gin.Context) {
	actor, ok := adminID(c)
	if !ok {
		return
	}

	var req application.MarkupRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateRule(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// GetRule handles GET /api/v1/admin/markups/:id.
func (h *MarkupHandler) GetRule(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.service.GetRule(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// UpdateRule handles PUT /api/v1/admin/markups/:id.
func (h *MarkupHandler) UpdateRule(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	actor, ok := adminID(c)
	if !ok {
		return
	}

	var req application.MarkupRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.UpdateRule(c.Request.Context(), id, actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// RetireRule handles DELETE /api/v1/admin/markups/:id.
func (h *MarkupHandler) RetireRule(c *gin.Context) {
	h.mutate(c, h.service.RetireRule)
}

// ToggleRule handles POST /api/v1/admin/markups/:id/toggle.
func (h *MarkupHandler) ToggleRule(c *gin.Context) {
	h.mutate(c, h.service.ToggleRule)
}

// SetDefault handles POST /api/v1/admin/markups/:id/default.
func (h *MarkupHandler) SetDefault(c *gin.Context) {
	h.mutate(c, h.service.SetDefaultRule)
}

// Calculate handles POST /api/v1/pricing/quote and /api/v1/admin/markups/calculate.
func (h *MarkupHandler) Calculate(c *gin.Context) {
	var req application.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Quote(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

func (h *MarkupHandler) mutate(c *gin.Context, fn ruleMutation) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	actor, ok := adminID(c)
	if !ok {
		return
	}

	result, err := fn(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
