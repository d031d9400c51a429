package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/internal/domain/guest"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/internal/domain/payment"
	"github.com/pkgtravel/service-booking/internal/domain/uow"
	"github.com/pkgtravel/service-booking/internal/repository"
	"github.com/pkgtravel/service-booking/internal/testutil"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newRule(t *testing.T, name string, priority int, provider markup.Provider) *markup.Rule {
	t.Helper()
	r, err := markup.NewRule(markup.RuleParams{
		Name:       name,
		Priority:   priority,
		Pricing:    markup.Pricing{Type: markup.TypePercentage, Percentage: decPtr("12.5")},
		Conditions: markup.Conditions{Provider: provider},
	}, true, nil)
	require.NoError(t, err)
	return r
}

func newBooking(t *testing.T, owner booking.Owner) *booking.Booking {
	t.Helper()
	now := time.Now().UTC()
	b, err := booking.NewBooking(booking.NewBookingParams{
		Owner:       owner,
		Provider:    markup.ProviderHotelbeds,
		Holder:      booking.Holder{FirstName: "Ana", LastName: "Ruiz", Email: "ana@example.com", Phone: "+34600000000"},
		Property:    booking.PropertySnapshot{Code: "HB-1", Name: "Hotel Mar", DestinationCode: "PMI"},
		Stay:        booking.Stay{CheckIn: now.AddDate(0, 0, 10), CheckOut: now.AddDate(0, 0, 12), Rooms: 1, Adults: 2},
		RoomDetails: json.RawMessage(`{"room":"double"}`),
		Quote: markup.Result{
			BasePrice:        dec("200.00"),
			MarkupAmount:     dec("30.00"),
			MarkupPercentage: dec("15"),
			FinalPrice:       dec("230.00"),
		},
		Now: now,
	})
	require.NoError(t, err)
	return b
}

func TestRuleRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRuleRepository(testutil.NewSQLiteDB(t))

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule, err := markup.NewRule(markup.RuleParams{
		Name: "Tiered PMI",
		Pricing: markup.Pricing{Type: markup.TypeTiered, Tiers: []markup.Tier{
			{Min: dec("0"), Max: decPtr("100"), Percentage: dec("20")},
			{Min: dec("100"), Percentage: dec("10")},
		}},
		Conditions: markup.Conditions{
			Provider:        markup.ProviderOwnerRez,
			DestinationCode: "pmi",
			MinPrice:        decPtr("10.50"),
			ValidFrom:       &from,
		},
		Priority: 3,
	}, true, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, rule))

	got, err := repo.FindByID(ctx, rule.ID())
	require.NoError(t, err)
	assert.Equal(t, "Tiered PMI", got.Name())
	assert.Equal(t, markup.TypeTiered, got.Type())
	require.Len(t, got.Pricing().Tiers, 2)
	assert.True(t, got.Pricing().Tiers[0].Max.Equal(dec("100")))
	assert.Nil(t, got.Pricing().Tiers[1].Max)
	assert.Equal(t, markup.ProviderOwnerRez, got.Conditions().Provider)
	assert.Equal(t, "PMI", got.Conditions().DestinationCode)
	assert.True(t, got.Conditions().MinPrice.Equal(dec("10.50")))
	assert.Nil(t, got.Conditions().MaxPrice)
	require.NotNil(t, got.Conditions().ValidFrom)
	assert.True(t, got.Conditions().ValidFrom.Equal(from))

	_, err = repo.FindByID(ctx, uuid.New())
	assert.True(t, domain.IsNotFound(err))
}

func TestRuleRepository_ListActiveOrder(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRuleRepository(testutil.NewSQLiteDB(t))

	low := newRule(t, "low", 1, markup.ProviderAll)
	high := newRule(t, "high", 10, markup.ProviderHotelbeds)
	draft, err := markup.NewRule(markup.RuleParams{
		Name:     "draft",
		Priority: 99,
		Pricing:  markup.Pricing{Type: markup.TypeFixed, FixedAmount: decPtr("5")},
	}, false, nil)
	require.NoError(t, err)
	for _, r := range []*markup.Rule{low, high, draft} {
		require.NoError(t, repo.Save(ctx, r))
	}

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "high", active[0].Name())
	assert.Equal(t, "low", active[1].Name())
}

func TestRuleRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRuleRepository(testutil.NewSQLiteDB(t))

	require.NoError(t, repo.Save(ctx, newRule(t, "any", 1, markup.ProviderAll)))
	require.NoError(t, repo.Save(ctx, newRule(t, "hb", 2, markup.ProviderHotelbeds)))
	require.NoError(t, repo.Save(ctx, newRule(t, "orz", 3, markup.ProviderOwnerRez)))

	rules, total, err := repo.List(ctx, markup.RuleFilter{Provider: markup.ProviderHotelbeds}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total, "provider filter includes rules scoped to all")
	require.Len(t, rules, 2)
	assert.Equal(t, "hb", rules[0].Name())

	rules, total, err = repo.List(ctx, markup.RuleFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, rules, 1)
	assert.Equal(t, "any", rules[0].Name())
}

func TestRuleRepository_OptimisticLockAndDefault(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRuleRepository(testutil.NewSQLiteDB(t))

	a := newRule(t, "a", 1, markup.ProviderAll)
	b := newRule(t, "b", 1, markup.ProviderAll)
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, repo.Save(ctx, b))

	require.NoError(t, a.MarkDefault(nil))
	a.IncrementVersion()
	require.NoError(t, repo.Update(ctx, a))

	stale, err := repo.FindByID(ctx, a.ID())
	require.NoError(t, err)
	stale.IncrementVersion()
	a.IncrementVersion()
	require.NoError(t, repo.Update(ctx, a))
	assert.True(t, domain.IsConflict(repo.Update(ctx, stale)))

	require.NoError(t, repo.ClearDefault(ctx, b.ID()))
	got, err := repo.FindByID(ctx, a.ID())
	require.NoError(t, err)
	assert.False(t, got.IsDefault())
	assert.Equal(t, a.Version()+1, got.Version())
}

func TestAutoMigrate_AllowsOnlyOneDefaultRule(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRuleRepository(testutil.NewSQLiteDB(t))

	a := newRule(t, "a", 1, markup.ProviderAll)
	b := newRule(t, "b", 1, markup.ProviderAll)
	require.NoError(t, a.MarkDefault(nil))
	require.NoError(t, b.MarkDefault(nil))

	require.NoError(t, repo.Save(ctx, a))
	require.Error(t, repo.Save(ctx, b))

	require.NoError(t, repo.ClearDefault(ctx, b.ID()))
	require.NoError(t, repo.Save(ctx, b))
}

func TestBookingRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormBookingRepository(testutil.NewSQLiteDB(t))

	bk := newBooking(t, booking.GuestOwner("guest_abc"))
	require.NoError(t, repo.Save(ctx, bk))

	got, err := repo.FindByReference(ctx, bk.Reference())
	require.NoError(t, err)
	assert.Equal(t, bk.ID(), got.ID())
	assert.True(t, got.Owner().IsGuest())
	assert.Equal(t, "guest_abc", got.Owner().SessionID())
	assert.True(t, got.TotalPrice().Equal(dec("230.00")))
	assert.True(t, got.MarkupPercentage().Equal(dec("15")))
	assert.Equal(t, 2, got.Nights())
	assert.Equal(t, "Hotel Mar", got.Property().Name)
	assert.JSONEq(t, `{"room":"double"}`, string(got.RoomDetails()))
	assert.Nil(t, got.PaidAmount())

	_, err = repo.FindByReference(ctx, "PKG-NOPE")
	assert.True(t, domain.IsNotFound(err))
}

func TestBookingRepository_UpdateIsVersionChecked(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormBookingRepository(testutil.NewSQLiteDB(t))

	bk := newBooking(t, booking.UserOwner(uuid.New()))
	require.NoError(t, repo.Save(ctx, bk))

	first, err := repo.FindByID(ctx, bk.ID())
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, bk.ID())
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, first.ConfirmPayment("TXN-1", dec("230.00"), now))
	first.IncrementVersion()
	require.NoError(t, repo.Update(ctx, first))

	require.NoError(t, second.ConfirmPayment("TXN-2", dec("230.00"), now))
	second.IncrementVersion()
	assert.True(t, domain.IsConflict(repo.Update(ctx, second)))

	got, err := repo.FindByID(ctx, bk.ID())
	require.NoError(t, err)
	assert.Equal(t, "TXN-1", got.PaymentTransactionID())
	assert.Equal(t, booking.PaymentPaid, got.PaymentStatus())
	require.NotNil(t, got.PaidAmount())
	assert.True(t, got.PaidAmount().Equal(dec("230.00")))
}

func TestBookingRepository_UserListingAndTransfer(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormBookingRepository(testutil.NewSQLiteDB(t))
	userID := uuid.New()

	mine := newBooking(t, booking.UserOwner(userID))
	other := newBooking(t, booking.UserOwner(uuid.New()))
	g1 := newBooking(t, booking.GuestOwner("guest_1"))
	g2 := newBooking(t, booking.GuestOwner("guest_1"))
	for _, b := range []*booking.Booking{mine, other, g1, g2} {
		require.NoError(t, repo.Save(ctx, b))
	}

	list, total, err := repo.FindByUserID(ctx, userID, booking.ListFilter{}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)

	moved, err := repo.TransferGuestBookings(ctx, "guest_1", userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved)

	moved, err = repo.TransferGuestBookings(ctx, "guest_1", uuid.New())
	require.NoError(t, err)
	assert.Zero(t, moved, "claimed bookings are never moved again")

	list, total, err = repo.FindByUserID(ctx, userID, booking.ListFilter{Status: booking.StatusPending}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	for _, b := range list {
		assert.True(t, b.Owner().IsUser())
	}

	converted, err := repo.FindByID(ctx, g1.ID())
	require.NoError(t, err)
	assert.Equal(t, userID, converted.Owner().UserID())
	require.NotNil(t, converted.OriginSessionID())
	assert.Equal(t, "guest_1", *converted.OriginSessionID())

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[string(booking.StatusPending)])
}

func newPayment(t *testing.T, bookingID uuid.UUID, owner booking.Owner) *payment.Transaction {
	t.Helper()
	card := payment.CardDetails{Number: "4111111111111111", CVV: "123", HolderName: "Ana Ruiz", ExpiryMonth: "09", ExpiryYear: "2030"}
	tx, err := payment.NewPayment(payment.NewPaymentParams{
		BookingID: bookingID,
		Owner:     owner,
		Gateway:   "authorize_net",
		Amount:    dec("230.00"),
		Currency:  "USD",
		Method:    payment.MethodCreditCard,
		Card:      card.Masked(),
		Billing: payment.BillingDetails{
			FirstName: "Ana", LastName: "Ruiz", Email: "ana@example.com",
			Address: "Carrer Major 1", City: "Palma", Country: "ES", PostalCode: "07001",
		},
		Metadata: map[string]any{"channel": "web"},
	})
	require.NoError(t, err)
	return tx
}

func TestTransactionRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormTransactionRepository(testutil.NewSQLiteDB(t))
	userID := uuid.New()

	tx := newPayment(t, uuid.New(), booking.UserOwner(userID))
	require.NoError(t, repo.Save(ctx, tx))

	score := dec("12.5")
	require.NoError(t, tx.MarkSucceeded(payment.GatewayResult{
		Success:              true,
		GatewayTransactionID: "AUTH-XYZ",
		ResponseCode:         "1",
		Message:              "This transaction has been approved.",
		FraudScore:           &score,
		Raw:                  map[string]any{"auth_code": "ABC123"},
	}, time.Now().UTC()))
	tx.IncrementVersion()
	require.NoError(t, repo.Update(ctx, tx))

	got, err := repo.FindByTransactionID(ctx, tx.TransactionID())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, got.Status())
	assert.Equal(t, "AUTH-XYZ", got.GatewayTransactionID())
	assert.Equal(t, "1111", got.Card().LastFour)
	assert.Equal(t, payment.BrandVisa, got.Card().Brand)
	assert.Equal(t, "Palma", got.Billing().City)
	assert.Equal(t, "ABC123", got.GatewayRawResponse()["auth_code"])
	assert.Equal(t, "web", got.Metadata()["channel"])
	require.NotNil(t, got.FraudScore())
	assert.True(t, got.FraudScore().Equal(score))
	assert.Equal(t, userID, got.Owner().UserID())

	history, total, err := repo.FindByUserID(ctx, userID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, history, 1)
}

func TestTransactionRepository_FindStaleInFlight(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormTransactionRepository(testutil.NewSQLiteDB(t))
	bookingID := uuid.New()

	pending := newPayment(t, bookingID, booking.GuestOwner("guest_1"))
	done := newPayment(t, bookingID, booking.GuestOwner("guest_1"))
	require.NoError(t, done.MarkFailed(payment.GatewayResult{}, time.Now().UTC()))
	require.NoError(t, repo.Save(ctx, pending))
	require.NoError(t, repo.Save(ctx, done))

	stale, err := repo.FindStaleInFlight(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, pending.ID(), stale[0].ID())

	stale, err = repo.FindStaleInFlight(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	byBooking, err := repo.FindByBookingID(ctx, bookingID)
	require.NoError(t, err)
	assert.Len(t, byBooking, 2)
}

func TestSessionRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormSessionRepository(testutil.NewSQLiteDB(t))

	s, err := guest.NewSession("10.0.0.1", "curl/8", map[string]any{"platform": "linux"}, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))

	require.NoError(t, s.RecordBooking(guest.Contact{Email: "ana@example.com"}, time.Now().UTC()))
	s.IncrementVersion()
	require.NoError(t, repo.Update(ctx, s))

	got, err := repo.FindBySessionID(ctx, s.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 1, got.BookingCount())
	assert.Equal(t, "ana@example.com", got.Contact().Email)
	assert.Equal(t, "linux", got.DeviceInfo()["platform"])
	require.NotNil(t, got.ExpiresAt())

	_, err = repo.FindBySessionID(ctx, "guest_missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	transactor := repository.NewGormTransactor(db)
	boom := errors.New("boom")

	rule := newRule(t, "rolled back", 1, markup.ProviderAll)
	err := transactor.WithinTx(ctx, func(ctx context.Context, repos uow.Repositories) error {
		if err := repos.Rules().Save(ctx, rule); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repository.NewGormRuleRepository(db).FindByID(ctx, rule.ID())
	assert.True(t, domain.IsNotFound(err))

	err = transactor.WithinTx(ctx, func(ctx context.Context, repos uow.Repositories) error {
		return repos.Rules().Save(ctx, rule)
	})
	require.NoError(t, err)
	_, err = repository.NewGormRuleRepository(db).FindByID(ctx, rule.ID())
	assert.NoError(t, err)
}
