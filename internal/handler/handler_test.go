package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pkgtravel/service-booking/internal/application"
	"github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/internal/gateway"
	"github.com/pkgtravel/service-booking/internal/repository"
	"github.com/pkgtravel/service-booking/internal/testutil"
	"github.com/pkgtravel/service-booking/pkg/auth"
	"github.com/pkgtravel/service-booking/pkg/middleware"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta *struct {
		Total int64 `json:"total"`
	} `json:"meta"`
}

type testServer struct {
	router *gin.Engine
	jwt    *auth.JWTManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewSQLiteDB(t)
	log := zap.NewNop()

	rules := repository.NewGormRuleRepository(db)
	bookings := repository.NewGormBookingRepository(db)
	tx := repository.NewGormTransactor(db)

	cache := markup.NewRuleCache(rules, time.Minute)
	resolver := markup.NewResolver(cache)

	markupSvc := application.NewMarkupService(rules, tx, resolver, cache, nil, "test", log)
	bookingSvc := application.NewBookingService(bookings, tx, resolver, booking.NewStandardCancellationPolicy(),
		application.BookingOptions{ReferencePrefix: "PKG"}, nil, log)
	paymentSvc := application.NewPaymentService(bookings, repository.NewGormTransactionRepository(db), tx,
		gateway.NewSimulated("authorize_net", 0, log), 2*time.Second, nil, log)
	guestSvc := application.NewGuestService(repository.NewGormSessionRepository(db), tx, 0, log)

	jwtManager := auth.NewJWTManager("test-secret", time.Hour)

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	NewMarkupHandler(markupSvc).RegisterRoutes(&router.RouterGroup, jwtManager)
	NewBookingHandler(bookingSvc).RegisterRoutes(&router.RouterGroup, jwtManager)
	NewPaymentHandler(paymentSvc, log).RegisterRoutes(&router.RouterGroup, jwtManager)
	NewGuestHandler(guestSvc).RegisterRoutes(&router.RouterGroup, jwtManager)
	NewAdminBookingHandler(bookingSvc, paymentSvc).RegisterRoutes(&router.RouterGroup, jwtManager)

	return &testServer{router: router, jwt: jwtManager}
}

func (s *testServer) token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := s.jwt.GenerateAccessToken(uuid.New(), "ana@example.com", role)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func bookingBody() map[string]interface{} {
	checkIn := time.Now().UTC().AddDate(0, 0, 14)
	return map[string]interface{}{
		"provider": "hotelbeds",
		"holder": map[string]string{
			"first_name": "Ana",
			"last_name":  "Ruiz",
			"email":      "ana@example.com",
			"phone":      "+34600000000",
		},
		"property": map[string]string{
			"code":             "HB-1001",
			"name":             "Hotel Mar",
			"type":             "hotel",
			"destination_code": "PMI",
		},
		"check_in":   checkIn.Format("2006-01-02"),
		"check_out":  checkIn.AddDate(0, 0, 3).Format("2006-01-02"),
		"rooms":      1,
		"adults":     2,
		"base_price": 200,
	}
}

func paymentBody(reference, card string) map[string]interface{} {
	return map[string]interface{}{
		"booking_reference": reference,
		"payment_method":    "credit_card",
		"card": map[string]string{
			"number":       card,
			"cvv":          "123",
			"holder_name":  "Ana Ruiz",
			"expiry_month": "09",
			"expiry_year":  "2030",
		},
		"billing": map[string]string{
			"first_name":  "Ana",
			"last_name":   "Ruiz",
			"email":       "ana@example.com",
			"address":     "Calle Mayor 1",
			"city":        "Palma",
			"country":     "ES",
			"postal_code": "07001",
		},
	}
}

func TestMarkupHandler_AdminRuleFeedsPublicQuote(t *testing.T) {
	s := newTestServer(t)
	admin := bearer(s.token(t, auth.RoleAdmin))

	code, env := s.do(t, http.MethodPost, "/api/v1/pricing/quote",
		map[string]interface{}{"base_price": 200, "provider": "hotelbeds"}, nil)
	require.Equal(t, http.StatusOK, code)
	var quote markup.Result
	require.NoError(t, json.Unmarshal(env.Data, &quote))
	assert.True(t, quote.FinalPrice.Equal(decimal.NewFromInt(200)))
	assert.Nil(t, quote.AppliedRule)

	code, env = s.do(t, http.MethodPost, "/api/v1/admin/markups", map[string]interface{}{
		"name":              "Hotelbeds 15%",
		"markup_type":       "percentage",
		"markup_percentage": 15,
		"provider":          "hotelbeds",
	}, admin)
	require.Equal(t, http.StatusCreated, code, env)
	var rule application.MarkupRuleDTO
	require.NoError(t, json.Unmarshal(env.Data, &rule))
	assert.True(t, rule.IsActive)

	code, env = s.do(t, http.MethodPost, "/api/v1/pricing/quote",
		map[string]interface{}{"base_price": 200, "provider": "hotelbeds"}, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &quote))
	assert.True(t, quote.MarkupAmount.Equal(decimal.NewFromInt(30)))
	assert.True(t, quote.FinalPrice.Equal(decimal.NewFromInt(230)))

	code, _ = s.do(t, http.MethodPost, "/api/v1/admin/markups/"+rule.ID.String()+"/toggle", nil, admin)
	require.Equal(t, http.StatusOK, code)

	_, env = s.do(t, http.MethodPost, "/api/v1/pricing/quote",
		map[string]interface{}{"base_price": 200, "provider": "hotelbeds"}, nil)
	require.NoError(t, json.Unmarshal(env.Data, &quote))
	assert.True(t, quote.FinalPrice.Equal(decimal.NewFromInt(200)))

	code, env = s.do(t, http.MethodGet, "/api/v1/admin/markups/not-a-uuid", nil, admin)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestMarkupHandler_RequiresAdminRole(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/api/v1/admin/markups", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := s.do(t, http.MethodGet, "/api/v1/admin/markups", nil, bearer(s.token(t, auth.RoleCustomer)))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/admin/stats/bookings", nil, bearer(s.token(t, auth.RoleCustomer)))
	assert.Equal(t, http.StatusForbidden, code)
}

func TestBookingHandler_UserFlow(t *testing.T) {
	s := newTestServer(t)
	user := bearer(s.token(t, auth.RoleCustomer))

	code, _ := s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody(), user)
	require.Equal(t, http.StatusCreated, code, env)
	var created application.BookingDTO
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Regexp(t, `^PKG-`, created.Reference)
	assert.Equal(t, string(booking.StatusPending), created.Status)

	code, env = s.do(t, http.MethodGet, "/api/v1/bookings/"+created.Reference, nil, user)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/bookings", nil, user)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta)
	assert.EqualValues(t, 1, env.Meta.Total)

	// Another user cannot see it.
	code, env = s.do(t, http.MethodGet, "/api/v1/bookings/"+created.Reference, nil, bearer(s.token(t, auth.RoleCustomer)))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	code, env = s.do(t, http.MethodGet, "/api/v1/bookings/"+created.Reference+"/cancellation-quote", nil, user)
	require.Equal(t, http.StatusOK, code)
	var quote application.CancellationQuoteDTO
	require.NoError(t, json.Unmarshal(env.Data, &quote))
	assert.True(t, quote.CancellationFee.IsZero())

	code, _ = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.Reference+"/cancel",
		map[string]string{"reason": "plans changed"}, user)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/bookings/"+created.Reference+"/cancel", nil, user)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_CANCELLED", env.Error.Code)
}

func TestBookingHandler_ValidationErrors(t *testing.T) {
	s := newTestServer(t)
	user := bearer(s.token(t, auth.RoleCustomer))

	body := bookingBody()
	body["check_out"] = body["check_in"]
	code, env := s.do(t, http.MethodPost, "/api/v1/bookings", body, user)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	body = bookingBody()
	delete(body, "holder")
	code, _ = s.do(t, http.MethodPost, "/api/v1/bookings", body, user)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGuestFlow_SessionBookingAndPayment(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/guest/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, code, env)
	var session application.GuestSessionDTO
	require.NoError(t, json.Unmarshal(env.Data, &session))
	require.NotEmpty(t, session.SessionID)
	guestHeaders := map[string]string{middleware.HeaderGuestSession: session.SessionID}

	code, _ = s.do(t, http.MethodPost, "/api/v1/guest/bookings", bookingBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/guest/bookings", bookingBody(), guestHeaders)
	require.Equal(t, http.StatusCreated, code, env)
	var created application.BookingDTO
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.True(t, created.IsGuestBooking)

	code, env = s.do(t, http.MethodGet, "/api/v1/guest/session", nil, guestHeaders)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &session))
	assert.Equal(t, 1, session.BookingCount)

	code, _ = s.do(t, http.MethodGet, "/api/v1/guest/verify/"+created.Reference+"?email=ANA@example.com", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/guest/verify/"+created.Reference+"?email=eve@example.com", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/guest/verify/"+created.Reference, nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// Declined card: 402 with the failed outcome in data.
	code, env = s.do(t, http.MethodPost, "/api/v1/guest/payments",
		paymentBody(created.Reference, gateway.CardDeclined), guestHeaders)
	require.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "PAYMENT_FAILED", env.Error.Code)
	var outcome application.PaymentOutcomeDTO
	require.NoError(t, json.Unmarshal(env.Data, &outcome))
	assert.False(t, outcome.Success)
	assert.NotEmpty(t, outcome.TransactionID)

	code, env = s.do(t, http.MethodPost, "/api/v1/guest/payments",
		paymentBody(created.Reference, "4111111111111111"), guestHeaders)
	require.Equal(t, http.StatusOK, code, env)
	require.NoError(t, json.Unmarshal(env.Data, &outcome))
	assert.True(t, outcome.Success)
	assert.Equal(t, "1111", outcome.CardLastFour)
	assert.Equal(t, string(booking.StatusConfirmed), outcome.BookingStatus)

	code, _ = s.do(t, http.MethodGet, "/api/v1/guest/payments/"+outcome.TransactionID+"?email=ana@example.com", nil, guestHeaders)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/guest/payments",
		paymentBody(created.Reference, "4111111111111111"), guestHeaders)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_PAID", env.Error.Code)
}

func TestAdminBookingHandler_RefundAndStats(t *testing.T) {
	s := newTestServer(t)
	user := bearer(s.token(t, auth.RoleCustomer))
	admin := bearer(s.token(t, auth.RoleAdmin))

	_, env := s.do(t, http.MethodPost, "/api/v1/bookings", bookingBody(), user)
	var created application.BookingDTO
	require.NoError(t, json.Unmarshal(env.Data, &created))

	code, env := s.do(t, http.MethodPost, "/api/v1/payments", paymentBody(created.Reference, "4111111111111111"), user)
	require.Equal(t, http.StatusOK, code, env)
	var outcome application.PaymentOutcomeDTO
	require.NoError(t, json.Unmarshal(env.Data, &outcome))

	code, env = s.do(t, http.MethodPost, "/api/v1/admin/payments/"+outcome.TransactionID+"/refund",
		map[string]interface{}{"amount": 50, "reason": "goodwill"}, admin)
	require.Equal(t, http.StatusCreated, code, env)
	var refund application.TransactionDTO
	require.NoError(t, json.Unmarshal(env.Data, &refund))
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(50)))

	code, env = s.do(t, http.MethodGet, "/api/v1/admin/bookings/"+created.Reference, nil, admin)
	require.Equal(t, http.StatusOK, code)
	var bk application.BookingDTO
	require.NoError(t, json.Unmarshal(env.Data, &bk))
	assert.Equal(t, string(booking.PaymentPartiallyRefunded), bk.PaymentStatus)

	code, env = s.do(t, http.MethodGet, "/api/v1/admin/stats/bookings", nil, admin)
	require.Equal(t, http.StatusOK, code)
	var stats application.BookingStatsDTO
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.EqualValues(t, 1, stats.TotalBookings)

	code, env = s.do(t, http.MethodPost, "/api/v1/admin/bookings/"+created.Reference+"/reject", nil, admin)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE", env.Error.Code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/payments/history", nil, user)
	assert.Equal(t, http.StatusOK, code)
}

func TestPaymentHandler_WebhookAcknowledges(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/webhooks/authorize-net",
		map[string]string{"eventType": "net.authorize.payment.authcapture.created"},
		map[string]string{"X-ANET-Signature": "sha512=abc"})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"received":true}`, string(env.Data))
}
