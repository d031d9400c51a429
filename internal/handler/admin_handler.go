package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/pkgtravel/service-booking/internal/application"
	bookingDomain "github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/pkg/auth"
	"github.com/pkgtravel/service-booking/pkg/middleware"
	"github.com/pkgtravel/service-booking/pkg/response"
)

// AdminBookingHandler handles admin HTTP requests for booking and payment management.
type AdminBookingHandler struct {
	bookings *application.BookingService
	payments *application.PaymentService
}

// NewAdminBookingHandler creates a new AdminBookingHandler.
func NewAdminBookingHandler(bookings *application.BookingService, payments *application.PaymentService) *AdminBookingHandler {
	return &AdminBookingHandler{bookings: bookings, payments: payments}
}

// RegisterRoutes registers admin booking routes.
func (h *AdminBookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	admin := r.Group("/api/v1/admin")
	admin.Use(authMW, adminRole)
	{
		admin.GET("/bookings", h.ListBookings)
		admin.GET("/bookings/:reference", h.GetBooking)
		admin.POST("/bookings/:reference/complete", h.CompleteBooking)
		admin.POST("/bookings/:reference/no-show", h.MarkNoShow)
		admin.POST("/bookings/:reference/reject", h.RejectBooking)
		admin.GET("/stats/bookings", h.BookingStats)
		admin.POST("/payments/:transaction_id/refund", h.RefundPayment)
	}
}

// ListBookings handles GET /api/v1/admin/bookings.
func (h *AdminBookingHandler) ListBookings(c *gin.Context) {
	var req application.ListBookingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	page, limit := parsePagination(c)

	result, err := h.bookings.ListAllBookings(c.Request.Context(), req, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// GetBooking handles GET /api/v1/admin/bookings/:reference.
func (h *AdminBookingHandler) GetBooking(c *gin.Context) {
	admin, ok := adminID(c)
	if !ok {
		return
	}

	result, err := h.bookings.GetBooking(c.Request.Context(), c.Param("reference"), bookingDomain.AdminRequester(admin))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CompleteBooking handles POST /api/v1/admin/bookings/:reference/complete.
func (h *AdminBookingHandler) CompleteBooking(c *gin.Context) {
	admin, ok := adminID(c)
	if !ok {
		return
	}

	result, err := h.bookings.CompleteBooking(c.Request.Context(), c.Param("reference"), admin)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// MarkNoShow handles POST /api/v1/admin/bookings/:reference/no-show.
func (h *AdminBookingHandler) MarkNoShow(c *gin.Context) {
	admin, ok := adminID(c)
	if !ok {
		return
	}

	result, err := h.bookings.MarkNoShow(c.Request.Context(), c.Param("reference"), admin)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// RejectBooking handles POST /api/v1/admin/bookings/:reference/reject.
func (h *AdminBookingHandler) RejectBooking(c *gin.Context) {
	admin, ok := adminID(c)
	if !ok {
		return
	}

	var body application.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.bookings.RejectBooking(c.Request.Context(), c.Param("reference"), admin, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// BookingStats handles GET /api/v1/admin/stats/bookings.
func (h *AdminBookingHandler) BookingStats(c *gin.Context) {
	stats, err := h.bookings.GetBookingStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}

// RefundPayment handles POST /api/v1/admin/payments/:transaction_id/refund.
func (h *AdminBookingHandler) RefundPayment(c *gin.Context) {
	var req application.RefundPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.payments.RefundPayment(c.Request.Context(), c.Param("transaction_id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}
