package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pkgtravel/service-booking/internal/application"
	bookingDomain "github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/pkg/auth"
	"github.com/pkgtravel/service-booking/pkg/middleware"
	"github.com/pkgtravel/service-booking/pkg/response"
)

// BookingHandler handles HTTP requests for booking operations.
type BookingHandler struct {
	service *application.BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(service *application.BookingService) *BookingHandler {
	return &BookingHandler{service: service}
}

// RegisterRoutes registers the user, guest and public booking routes.
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	bookings := r.Group("/api/v1/bookings")
	bookings.Use(authMW)
	{
		bookings.POST("", h.CreateBooking)
		bookings.GET("", h.ListBookings)
		bookings.GET("/:reference", h.GetBooking)
		bookings.POST("/:reference/cancel", h.CancelBooking)
		bookings.GET("/:reference/cancellation-quote", h.CancellationQuote)
	}

	guest := r.Group("/api/v1/guest/bookings")
	guest.Use(middleware.GuestSessionMiddleware())
	{
		guest.POST("", h.CreateGuestBooking)
		guest.GET("/:reference", h.GetGuestBooking)
		guest.POST("/:reference/cancel", h.CancelGuestBooking)
		guest.GET("/:reference/cancellation-quote", h.GuestCancellationQuote)
	}

	r.GET("/api/v1/guest/verify/:reference", h.VerifyGuestBooking)
}

// CreateBooking handles POST /api/v1/bookings.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	requester, ok := userRequester(c)
	if !ok {
		return
	}

	var req application.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateBooking(c.Request.Context(), bookingDomain.UserOwner(requester.UserID), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListBookings handles GET /api/v1/bookings.
func (h *BookingHandler) ListBookings(c *gin.Context) {
	requester, ok := userRequester(c)
	if !ok {
		return
	}

	var req application.ListBookingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	page, limit := parsePagination(c)

	result, err := h.service.ListUserBookings(c.Request.Context(), requester.UserID, req, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// GetBooking handles GET /api/v1/bookings/:reference.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	requester, ok := userRequester(c)
	if !ok {
		return
	}

	result, err := h.service.GetBooking(c.Request.Context(), c.Param("reference"), requester)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CancelBooking handles POST /api/v1/bookings/:reference/cancel.
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	requester, ok := userRequester(c)
	if !ok {
		return
	}

	var req application.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.service.CancelBooking(c.Request.Context(), c.Param("reference"), requester, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CancellationQuote handles GET /api/v1/bookings/:reference/cancellation-quote.
func (h *BookingHandler) CancellationQuote(c *gin.Context) {
	requester, ok := userRequester(c)
	if !ok {
		return
	}

	result, err := h.service.GetCancellationQuote(c.Request.Context(), c.Param("reference"), requester)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CreateGuestBooking handles POST /api/v1/guest/bookings.
func (h *BookingHandler) CreateGuestBooking(c *gin.Context) {
	sessionID, _ := middleware.GetGuestSessionID(c)

	var req application.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateBooking(c.Request.Context(), bookingDomain.GuestOwner(sessionID), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// GetGuestBooking handles GET /api/v1/guest/bookings/:reference?email=.
func (h *BookingHandler) GetGuestBooking(c *gin.Context) {
	requester, ok := guestRequester(c, c.Query("email"))
	if !ok {
		return
	}

	result, err := h.service.GetBooking(c.Request.Context(), c.Param("reference"), requester)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CancelGuestBooking handles POST /api/v1/guest/bookings/:reference/cancel.
func (h *BookingHandler) CancelGuestBooking(c *gin.Context) {
	var body struct {
		Email  string `json:"email" binding:"required,email"`
		Reason string `json:"reason" binding:"max=500"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	requester, ok := guestRequester(c, body.Email)
	if !ok {
		return
	}

	result, err := h.service.CancelBooking(c.Request.Context(), c.Param("reference"), requester, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GuestCancellationQuote handles GET /api/v1/guest/bookings/:reference/cancellation-quote?email=.
func (h *BookingHandler) GuestCancellationQuote(c *gin.Context) {
	requester, ok := guestRequester(c, c.Query("email"))
	if !ok {
		return
	}

	result, err := h.service.GetCancellationQuote(c.Request.Context(), c.Param("reference"), requester)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// VerifyGuestBooking handles GET /api/v1/guest/verify/:reference?email=.
func (h *BookingHandler) VerifyGuestBooking(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		response.BadRequest(c, "email is required")
		return
	}

	result, err := h.service.VerifyGuestBooking(c.Request.Context(), c.Param("reference"), email)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

func guestRequester(c *gin.Context, email string) (bookingDomain.Requester, bool) {
	email = strings.TrimSpace(email)
	if email == "" {
		response.BadRequest(c, "email is required")
		return bookingDomain.Requester{}, false
	}
	return bookingDomain.GuestRequester(email), true
}
