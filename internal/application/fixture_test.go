package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/internal/domain/payment"
	"github.com/pkgtravel/service-booking/internal/gateway"
	"github.com/pkgtravel/service-booking/internal/repository"
	"github.com/pkgtravel/service-booking/internal/testutil"
	"github.com/pkgtravel/service-booking/pkg/kafka"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.CloudEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, _ string, event kafka.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// blockingGateway never answers before the caller's deadline.
type blockingGateway struct{}

func (blockingGateway) Name() string { return "blocking" }

func (blockingGateway) Charge(ctx context.Context, _ payment.ChargeRequest) (payment.GatewayResult, error) {
	<-ctx.Done()
	return payment.GatewayResult{}, ctx.Err()
}

func (blockingGateway) Refund(ctx context.Context, _ payment.RefundRequest) (payment.GatewayResult, error) {
	<-ctx.Done()
	return payment.GatewayResult{}, ctx.Err()
}

type fixture struct {
	db        *gorm.DB
	tx        *repository.GormTransactor
	rules     *repository.GormRuleRepository
	bookings  *repository.GormBookingRepository
	payments  *repository.GormTransactionRepository
	guests    *repository.GormSessionRepository
	publisher *recordingPublisher

	markup   *MarkupService
	booking  *BookingService
	payment  *PaymentService
	guest    *GuestService
	resolver *markup.Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	log := zap.NewNop()

	f := &fixture{
		db:        db,
		tx:        repository.NewGormTransactor(db),
		rules:     repository.NewGormRuleRepository(db),
		bookings:  repository.NewGormBookingRepository(db),
		payments:  repository.NewGormTransactionRepository(db),
		guests:    repository.NewGormSessionRepository(db),
		publisher: &recordingPublisher{},
	}

	cache := markup.NewRuleCache(f.rules, time.Minute)
	f.resolver = markup.NewResolver(cache)
	f.markup = NewMarkupService(f.rules, f.tx, f.resolver, cache, f.publisher, "test-instance", log)
	f.booking = NewBookingService(f.bookings, f.tx, f.resolver, booking.NewStandardCancellationPolicy(),
		BookingOptions{ReferencePrefix: "PKG"}, f.publisher, log)
	f.payment = NewPaymentService(f.bookings, f.payments, f.tx,
		gateway.NewSimulated("authorize_net", 0, log), 2*time.Second, f.publisher, log)
	f.guest = NewGuestService(f.guests, f.tx, 0, log)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func day(offset int) string {
	return time.Now().UTC().AddDate(0, 0, offset).Format(dateLayout)
}

func percentageRule(name, pct string) MarkupRuleRequest {
	return MarkupRuleRequest{
		Name:             name,
		MarkupType:       string(markup.TypePercentage),
		MarkupPercentage: decPtr(pct),
		Provider:         string(markup.ProviderAll),
	}
}

func bookingRequest(checkInOffset int, email string) CreateBookingRequest {
	return CreateBookingRequest{
		Provider: string(markup.ProviderHotelbeds),
		Holder: HolderRequest{
			FirstName: "Ana",
			LastName:  "Ruiz",
			Email:     email,
			Phone:     "+34600000000",
		},
		Property: PropertyRequest{
			Code:            "HB-1001",
			Name:            "Hotel Mar",
			Type:            "hotel",
			DestinationCode: "PMI",
		},
		CheckIn:   day(checkInOffset),
		CheckOut:  day(checkInOffset + 3),
		Rooms:     1,
		Adults:    2,
		BasePrice: dec("200.00"),
	}
}

func paymentRequest(reference, cardNumber, email string) ProcessPaymentRequest {
	return ProcessPaymentRequest{
		BookingReference: reference,
		PaymentMethod:    string(payment.MethodCreditCard),
		Card: CardRequest{
			Number:      cardNumber,
			CVV:         "123",
			HolderName:  "Ana Ruiz",
			ExpiryMonth: "09",
			ExpiryYear:  "2030",
		},
		Billing: BillingRequest{
			FirstName:  "Ana",
			LastName:   "Ruiz",
			Email:      email,
			Address:    "Calle Mayor 1",
			City:       "Palma",
			Country:    "ES",
			PostalCode: "07001",
		},
	}
}

const visa = "4111111111111111"

// userBooking creates a pending booking for a fresh user.
func (f *fixture) userBooking(t *testing.T, checkInOffset int) (*BookingDTO, booking.Requester) {
	t.Helper()
	userID := uuid.New()
	dto, err := f.booking.CreateBooking(context.Background(), booking.UserOwner(userID), bookingRequest(checkInOffset, "ana@example.com"))
	require.NoError(t, err)
	return dto, booking.UserRequester(userID, "ana@example.com")
}
