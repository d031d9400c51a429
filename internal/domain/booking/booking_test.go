package booking

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func validParams(owner Owner) NewBookingParams {
	return NewBookingParams{
		Owner:    owner,
		Provider: markup.ProviderHotelbeds,
		Holder:   Holder{FirstName: "Ana", LastName: "Ruiz", Email: "ana@example.com", Phone: "+34600000000"},
		Property: PropertySnapshot{Code: "HB-1234", Name: "Hotel Mar", City: "Palma"},
		Stay: Stay{
			CheckIn:  testNow.AddDate(0, 0, 10),
			CheckOut: testNow.AddDate(0, 0, 13),
			Rooms:    1,
			Adults:   2,
		},
		Quote: markup.Result{
			BasePrice:        dec("200.00"),
			MarkupAmount:     dec("30.00"),
			MarkupPercentage: dec("15"),
			FinalPrice:       dec("230.00"),
		},
		Now: testNow,
	}
}

func newTestBooking(t *testing.T, owner Owner) *Booking {
	t.Helper()
	b, err := NewBooking(validParams(owner))
	require.NoError(t, err)
	return b
}

func TestNewBooking(t *testing.T) {
	b := newTestBooking(t, GuestOwner("GS-abc"))

	assert.Regexp(t, regexp.MustCompile(`^PKG-[A-HJ-NP-Z2-9]{12}$`), b.Reference())
	assert.Equal(t, StatusPending, b.Status())
	assert.Equal(t, PaymentPending, b.PaymentStatus())
	assert.Equal(t, 3, b.Nights())
	assert.True(t, b.TotalPrice().Equal(dec("230.00")))
	assert.Equal(t, "USD", b.Currency())
	assert.Equal(t, "ana@example.com", b.GuestEmail())
	require.NotNil(t, b.OriginSessionID())
	assert.Equal(t, "GS-abc", *b.OriginSessionID())
	assert.Equal(t, int64(1), b.Version())
}

func TestNewBooking_TotalIsBasePlusMarkupForEveryRuleType(t *testing.T) {
	rules := []markup.Pricing{
		{Type: markup.TypePercentage, Percentage: ptr(dec("12.5"))},
		{Type: markup.TypeFixed, FixedAmount: ptr(dec("49.99"))},
		{Type: markup.TypeTiered, Tiers: []markup.Tier{{Min: dec("0"), Percentage: dec("7.75")}}},
	}
	for _, pricing := range rules {
		rule, err := markup.NewRule(markup.RuleParams{Name: string(pricing.Type), Pricing: pricing}, true, nil)
		require.NoError(t, err)
		for _, base := range []string{"0", "0.01", "99.99", "1234.56"} {
			p := validParams(UserOwner(uuid.New()))
			p.Quote = markup.Calculate(dec(base), rule)

			b, err := NewBooking(p)
			require.NoError(t, err)
			assert.True(t, b.TotalPrice().Equal(b.BasePrice().Add(b.MarkupAmount())), "%s base=%s", pricing.Type, base)
		}
	}
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func TestNewBooking_Validation(t *testing.T) {
	cases := map[string]func(p *NewBookingParams){
		"no owner":          func(p *NewBookingParams) { p.Owner = Owner{} },
		"bad provider":      func(p *NewBookingParams) { p.Provider = markup.ProviderAll },
		"no property":       func(p *NewBookingParams) { p.Property.Code = "" },
		"holder email":      func(p *NewBookingParams) { p.Holder.Email = "nope" },
		"zero nights":       func(p *NewBookingParams) { p.Stay.CheckOut = p.Stay.CheckIn },
		"check-in past":     func(p *NewBookingParams) { p.Stay.CheckIn = testNow.AddDate(0, 0, -1) },
		"no adults":         func(p *NewBookingParams) { p.Stay.Adults = 0 },
		"no rooms":          func(p *NewBookingParams) { p.Stay.Rooms = 0 },
		"negative children": func(p *NewBookingParams) { p.Stay.Children = -1 },
		"negative base":     func(p *NewBookingParams) { p.Quote.BasePrice = dec("-1") },
		"currency":          func(p *NewBookingParams) { p.Currency = "EURO" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := validParams(UserOwner(uuid.New()))
			mutate(&p)
			_, err := NewBooking(p)
			require.Error(t, err)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestNewBooking_BackdatedAllowedForBackOffice(t *testing.T) {
	p := validParams(UserOwner(uuid.New()))
	p.Stay.CheckIn = testNow.AddDate(0, 0, -3)
	p.Stay.CheckOut = testNow.AddDate(0, 0, -1)
	p.AllowBackdated = true

	_, err := NewBooking(p)
	assert.NoError(t, err)
}

func TestGenerateReference_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 5000)
	for i := 0; i < 5000; i++ {
		ref, err := GenerateReference("PKG")
		require.NoError(t, err)
		_, dup := seen[ref]
		require.False(t, dup)
		seen[ref] = struct{}{}
	}
}

func TestValidateReferencePrefix(t *testing.T) {
	longest := strings.Repeat("A", MaxReferencePrefixLength)
	require.NoError(t, ValidateReferencePrefix(longest))

	ref, err := GenerateReference(longest)
	require.NoError(t, err)
	assert.Len(t, ref, MaxReferenceLength)

	assert.Error(t, ValidateReferencePrefix(longest+"A"))
	assert.Error(t, ValidateReferencePrefix("PK G"))
}

func TestBooking_CancelTwice(t *testing.T) {
	b := newTestBooking(t, UserOwner(uuid.New()))
	policy := NewStandardCancellationPolicy()

	require.NoError(t, b.Cancel(UserRequester(b.Owner().UserID(), ""), "plans changed", policy, testNow))
	first := *b.CancelledAt()

	err := b.Cancel(UserRequester(b.Owner().UserID(), ""), "again", policy, testNow.Add(time.Hour))
	assert.True(t, errors.Is(err, ErrAlreadyCancelled))
	assert.Equal(t, first, *b.CancelledAt())
	assert.Equal(t, "plans changed", b.CancellationReason())
	assert.Equal(t, "user", b.CancelledBy())
}

func TestBooking_CancelPaidRecordsRefund(t *testing.T) {
	b := newTestBooking(t, UserOwner(uuid.New()))
	require.NoError(t, b.ConfirmPayment("TXN-1", b.TotalPrice(), testNow))

	// check-in 10 days out: no fee
	require.NoError(t, b.Cancel(AdminRequester(uuid.New()), "", NewStandardCancellationPolicy(), testNow))

	require.NotNil(t, b.RefundAmount())
	assert.True(t, b.RefundAmount().Equal(dec("230.00")))
	assert.True(t, b.IsRefundable())
	assert.Equal(t, "admin", b.CancelledBy())
}

func TestBooking_ConfirmPayment(t *testing.T) {
	b := newTestBooking(t, UserOwner(uuid.New()))

	require.NoError(t, b.ConfirmPayment("TXN-1", b.TotalPrice(), testNow))
	assert.Equal(t, StatusConfirmed, b.Status())
	assert.Equal(t, PaymentPaid, b.PaymentStatus())
	assert.Equal(t, "TXN-1", b.PaymentTransactionID())
	assert.NotNil(t, b.ConfirmedAt())

	err := b.ConfirmPayment("TXN-2", b.TotalPrice(), testNow)
	assert.True(t, errors.Is(err, ErrAlreadyPaid))
}

func TestBooking_ConfirmCancelledFails(t *testing.T) {
	b := newTestBooking(t, UserOwner(uuid.New()))
	require.NoError(t, b.Cancel(GuestRequester("x@example.com"), "", NewStandardCancellationPolicy(), testNow))

	err := b.ConfirmPayment("TXN-1", b.TotalPrice(), testNow)
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

func TestBooking_StateMachine(t *testing.T) {
	b := newTestBooking(t, UserOwner(uuid.New()))
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(b.Complete(testNow)))
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(b.MarkNoShow(testNow)))

	require.NoError(t, b.ConfirmPayment("TXN-1", b.TotalPrice(), testNow))
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(b.Reject("late", testNow)))
	require.NoError(t, b.Complete(testNow))
	assert.True(t, b.Status().IsTerminal())

	r := newTestBooking(t, UserOwner(uuid.New()))
	require.NoError(t, r.Reject("no availability", testNow))
	assert.Equal(t, StatusRejected, r.Status())
}

func TestBookingStatus_Transitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusConfirmed))
	assert.True(t, StatusConfirmed.CanTransitionTo(StatusNoShow))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusConfirmed))
	assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
	for _, s := range []BookingStatus{StatusCancelled, StatusCompleted, StatusNoShow, StatusRejected} {
		assert.True(t, s.IsTerminal(), s)
	}
	_, err := ParseBookingStatus("archived")
	assert.Error(t, err)
}

func TestBooking_AccessibleBy(t *testing.T) {
	userID := uuid.New()
	owned := newTestBooking(t, UserOwner(userID))
	guest := newTestBooking(t, GuestOwner("GS-1"))

	assert.True(t, owned.AccessibleBy(UserRequester(userID, "")))
	assert.False(t, owned.AccessibleBy(UserRequester(uuid.New(), "")))
	assert.False(t, owned.AccessibleBy(GuestRequester("ana@example.com")))
	assert.True(t, owned.AccessibleBy(AdminRequester(uuid.New())))

	assert.True(t, guest.AccessibleBy(GuestRequester("ANA@example.com")))
	assert.False(t, guest.AccessibleBy(GuestRequester("eve@example.com")))
	assert.False(t, guest.AccessibleBy(GuestRequester("")))
	assert.False(t, guest.AccessibleBy(UserRequester(userID, "ana@example.com")))
}

func TestBooking_ApplyRefund(t *testing.T) {
	b := newTestBooking(t, UserOwner(uuid.New()))
	assert.Error(t, b.ApplyRefund(true, testNow))

	require.NoError(t, b.ConfirmPayment("TXN-1", b.TotalPrice(), testNow))
	require.NoError(t, b.ApplyRefund(false, testNow))
	assert.Equal(t, PaymentPartiallyRefunded, b.PaymentStatus())
	require.NoError(t, b.ApplyRefund(true, testNow))
	assert.Equal(t, PaymentRefunded, b.PaymentStatus())
}

func TestOwnerFromColumns(t *testing.T) {
	uid := uuid.New()
	sid := "GS-9"

	o, err := OwnerFromColumns(&uid, &sid)
	require.NoError(t, err)
	assert.True(t, o.IsUser(), "converted bookings resolve to the user")

	o, err = OwnerFromColumns(nil, &sid)
	require.NoError(t, err)
	assert.Equal(t, "GS-9", o.SessionID())

	_, err = OwnerFromColumns(nil, nil)
	assert.Error(t, err)
}
