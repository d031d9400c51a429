package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/pkgtravel/service-booking/internal/application"
	"github.com/pkgtravel/service-booking/pkg/auth"
	"github.com/pkgtravel/service-booking/pkg/middleware"
	"github.com/pkgtravel/service-booking/pkg/response"
)

// GuestHandler handles HTTP requests for anonymous visitor sessions.
type GuestHandler struct {
	service *application.GuestService
}

// NewGuestHandler creates a new GuestHandler.
func NewGuestHandler(service *application.GuestService) *GuestHandler {
	return &GuestHandler{service: service}
}

// RegisterRoutes registers guest session routes. Conversion needs both the
// session header and a user token.
func (h *GuestHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	r.POST("/api/v1/guest/sessions", h.StartSession)

	session := r.Group("/api/v1/guest/session")
	session.Use(middleware.GuestSessionMiddleware())
	{
		session.GET("", h.GetSession)
		session.PUT("/contact", h.UpdateContact)
		session.POST("/searches", h.TrackSearch)
		session.POST("/convert", middleware.AuthMiddleware(jwtManager), h.ConvertToUser)
	}
}

// StartSession handles POST /api/v1/guest/sessions.
func (h *GuestHandler) StartSession(c *gin.Context) {
	var req application.StartSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.service.StartSession(c.Request.Context(), req, clientInfo(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// GetSession handles GET /api/v1/guest/session.
func (h *GuestHandler) GetSession(c *gin.Context) {
	sessionID, _ := middleware.GetGuestSessionID(c)

	result, err := h.service.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// UpdateContact handles PUT /api/v1/guest/session/contact.
func (h *GuestHandler) UpdateContact(c *gin.Context) {
	sessionID, _ := middleware.GetGuestSessionID(c)

	var req application.UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.UpdateContact(c.Request.Context(), sessionID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// TrackSearch handles POST /api/v1/guest/session/searches.
func (h *GuestHandler) TrackSearch(c *gin.Context) {
	sessionID, _ := middleware.GetGuestSessionID(c)

	result, err := h.service.TrackSearch(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ConvertToUser handles POST /api/v1/guest/session/convert.
func (h *GuestHandler) ConvertToUser(c *gin.Context) {
	sessionID, _ := middleware.GetGuestSessionID(c)
	requester, ok := userRequester(c)
	if !ok {
		return
	}

	result, err := h.service.ConvertToUser(c.Request.Context(), sessionID, requester.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
