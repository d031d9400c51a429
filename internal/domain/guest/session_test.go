package guest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	s, err := NewSession("10.0.0.1", "curl", nil, time.Hour)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s.SessionID(), "guest_"))
	assert.Len(t, s.SessionID(), len("guest_")+32)
	assert.False(t, s.IsExpired(time.Now()))
	assert.True(t, s.IsExpired(time.Now().Add(2*time.Hour)))
}

func TestSession_RecordBooking(t *testing.T) {
	s, err := NewSession("", "", nil, 0)
	require.NoError(t, err)
	now := time.Now().UTC()

	require.NoError(t, s.RecordBooking(Contact{Email: "ana@example.com", FirstName: "Ana"}, now))
	require.NoError(t, s.RecordBooking(Contact{Phone: "+34 600"}, now))

	assert.Equal(t, 2, s.BookingCount())
	assert.Equal(t, "ana@example.com", s.Contact().Email, "empty fields keep the stored value")
	assert.Equal(t, "+34 600", s.Contact().Phone)
}

func TestSession_RecordBookingOnExpired(t *testing.T) {
	s, err := NewSession("", "", nil, time.Minute)
	require.NoError(t, err)

	err = s.RecordBooking(Contact{}, time.Now().Add(time.Hour))
	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.Equal(t, 0, s.BookingCount())
}

func TestSession_ConvertToUser(t *testing.T) {
	s, err := NewSession("", "", nil, 0)
	require.NoError(t, err)
	userID := uuid.New()

	require.NoError(t, s.ConvertToUser(userID, time.Now()))
	assert.True(t, s.ConvertedToUser())
	assert.Equal(t, userID, *s.UserID())

	assert.True(t, errors.Is(s.ConvertToUser(userID, time.Now()), ErrAlreadyConverted))
	assert.True(t, errors.Is(s.CheckUsable(time.Now()), ErrAlreadyConverted))
}

func TestSession_ConversionRate(t *testing.T) {
	s, err := NewSession("", "", nil, 0)
	require.NoError(t, err)
	assert.Zero(t, s.ConversionRate())

	for i := 0; i < 4; i++ {
		s.RecordSearch(time.Now())
	}
	require.NoError(t, s.RecordBooking(Contact{}, time.Now()))
	assert.InDelta(t, 25.0, s.ConversionRate(), 0.001)
}
