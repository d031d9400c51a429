package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pkgtravel/service-booking/internal/application"
	bookingDomain "github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/pkg/auth"
	"github.com/pkgtravel/service-booking/pkg/middleware"
	"github.com/pkgtravel/service-booking/pkg/response"
)

const maxWebhookBody = 64 << 10

// PaymentHandler handles HTTP requests for payment operations.
type PaymentHandler struct {
	service *application.PaymentService
	logger  *zap.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(service *application.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, logger: logger}
}

// RegisterRoutes registers the user, guest and webhook payment routes.
func (h *PaymentHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	payments := r.Group("/api/v1/payments")
	payments.Use(middleware.AuthMiddleware(jwtManager))
	{
		payments.POST("", h.ProcessPayment)
		payments.GET("/history", h.PaymentHistory)
		payments.GET("/booking/:reference", h.BookingTransactions)
		payments.GET("/:transaction_id", h.GetTransaction)
	}

	guest := r.Group("/api/v1/guest/payments")
	guest.Use(middleware.GuestSessionMiddleware())
	{
		guest.POST("", h.ProcessGuestPayment)
		guest.GET("/:transaction_id", h.GetGuestTransaction)
	}

	r.POST("/api/v1/webhooks/authorize-net", h.AuthorizeNetWebhook)
}

// ProcessPayment handles POST /api/v1/payments.
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	requester, ok := userRequester(c)
	if !ok {
		return
	}

	var req application.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.process(c, req, requester)
}

// ProcessGuestPayment handles POST /api/v1/guest/payments. The billing
// email must match the email the booking was made with.
func (h *PaymentHandler) ProcessGuestPayment(c *gin.Context) {
	var req application.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.process(c, req, bookingDomain.GuestRequester(strings.TrimSpace(req.Billing.Email)))
}

func (h *PaymentHandler) process(c *gin.Context, req application.ProcessPaymentRequest, requester bookingDomain.Requester) {
	result, err := h.service.ProcessPayment(c.Request.Context(), req, requester, clientInfo(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusPaymentRequired, response.Envelope{
			Data:  result,
			Error: &response.ErrorBody{Code: "PAYMENT_FAILED", Message: result.Message},
		})
		return
	}

	response.Success(c, result)
}

// GetTransaction handles GET /api/v1/payments/:transaction_id.
func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	requester, ok := userRequester(c)
	if !ok {
		return
	}

	result, err := h.service.GetTransaction(c.Request.Context(), c.Param("transaction_id"), requester)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GetGuestTransaction handles GET /api/v1/guest/payments/:transaction_id?email=.
func (h *PaymentHandler) GetGuestTransaction(c *gin.Context) {
	requester, ok := guestRequester(c, c.Query("email"))
	if !ok {
		return
	}

	result, err := h.service.GetTransaction(c.Request.Context(), c.Param("transaction_id"), requester)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// BookingTransactions handles GET /api/v1/payments/booking/:reference.
func (h *PaymentHandler) BookingTransactions(c *gin.Context) {
	requester, ok := userRequester(c)
	if !ok {
		return
	}

	result, err := h.service.GetBookingTransactions(c.Request.Context(), c.Param("reference"), requester)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// PaymentHistory handles GET /api/v1/payments/history.
func (h *PaymentHandler) PaymentHistory(c *gin.Context) {
	requester, ok := userRequester(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)

	result, err := h.service.GetPaymentHistory(c.Request.Context(), requester.UserID, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// AuthorizeNetWebhook handles POST /api/v1/webhooks/authorize-net. Gateway
// notifications are logged and acknowledged; outcomes are recorded from the
// synchronous charge response.
func (h *PaymentHandler) AuthorizeNetWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}

	h.logger.Info("authorize.net webhook received",
		zap.Int("bytes", len(body)),
		zap.Bool("signed", c.GetHeader("X-ANET-Signature") != ""),
	)

	response.Success(c, gin.H{"received": true})
}
