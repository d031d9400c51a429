package guest

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/pkg/domain"
)

const (
	sessionIDChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	sessionIDLength = 32
	// DefaultSessionTTL is how long a guest session stays usable.
	DefaultSessionTTL = 30 * 24 * time.Hour
)

var (
	// ErrSessionExpired is returned when an expired session is used.
	ErrSessionExpired = domain.NewConflictCodeError("SESSION_EXPIRED", "guest session has expired")
	// ErrAlreadyConverted is returned when converting a session twice.
	ErrAlreadyConverted = domain.NewConflictCodeError("SESSION_CONVERTED", "guest session already converted to a user")
)

// Contact is what a guest tells us about themselves.
type Contact struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Country   string
}

// Session is the aggregate root for an anonymous visitor.
type Session struct {
	id         uuid.UUID
	sessionID  string
	contact    Contact
	ipAddress  string
	userAgent  string
	deviceInfo map[string]any

	searchCount  int
	bookingCount int

	firstActivityAt *time.Time
	lastActivityAt  *time.Time

	convertedToUser bool
	userID          *uuid.UUID
	convertedAt     *time.Time
	expiresAt       *time.Time

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

func generateSessionID() (string, error) {
	result := make([]byte, sessionIDLength)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(sessionIDChars))))
		if err != nil {
			return "", fmt.Errorf("failed to generate session id: %w", err)
		}
		result[i] = sessionIDChars[n.Int64()]
	}
	return "guest_" + string(result), nil
}

// NewSession starts a guest session that expires after ttl.
func NewSession(ipAddress, userAgent string, deviceInfo map[string]any, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	sid, err := generateSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	expires := now.Add(ttl)
	return &Session{
		id:              uuid.New(),
		sessionID:       sid,
		ipAddress:       ipAddress,
		userAgent:       userAgent,
		deviceInfo:      deviceInfo,
		firstActivityAt: &now,
		lastActivityAt:  &now,
		expiresAt:       &expires,
		version:         1,
		createdAt:       now,
		updatedAt:       now,
	}, nil
}

// ReconstructSession rebuilds a Session from persistence data (no validation).
func ReconstructSession(
	id uuid.UUID,
	sessionID string,
	contact Contact,
	ipAddress string,
	userAgent string,
	deviceInfo map[string]any,
	searchCount int,
	bookingCount int,
	firstActivityAt *time.Time,
	lastActivityAt *time.Time,
	convertedToUser bool,
	userID *uuid.UUID,
	convertedAt *time.Time,
	expiresAt *time.Time,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *Session {
	return &Session{
		id:              id,
		sessionID:       sessionID,
		contact:         contact,
		ipAddress:       ipAddress,
		userAgent:       userAgent,
		deviceInfo:      deviceInfo,
		searchCount:     searchCount,
		bookingCount:    bookingCount,
		firstActivityAt: firstActivityAt,
		lastActivityAt:  lastActivityAt,
		convertedToUser: convertedToUser,
		userID:          userID,
		convertedAt:     convertedAt,
		expiresAt:       expiresAt,
		version:         version,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

// --- Getters ---

func (s *Session) ID() uuid.UUID               { return s.id }
func (s *Session) SessionID() string           { return s.sessionID }
func (s *Session) Contact() Contact            { return s.contact }
func (s *Session) IPAddress() string           { return s.ipAddress }
func (s *Session) UserAgent() string           { return s.userAgent }
func (s *Session) DeviceInfo() map[string]any  { return s.deviceInfo }
func (s *Session) SearchCount() int            { return s.searchCount }
func (s *Session) BookingCount() int           { return s.bookingCount }
func (s *Session) FirstActivityAt() *time.Time { return s.firstActivityAt }
func (s *Session) LastActivityAt() *time.Time  { return s.lastActivityAt }
func (s *Session) ConvertedToUser() bool       { return s.convertedToUser }
func (s *Session) UserID() *uuid.UUID          { return s.userID }
func (s *Session) ConvertedAt() *time.Time     { return s.convertedAt }
func (s *Session) ExpiresAt() *time.Time       { return s.expiresAt }
func (s *Session) Version() int64              { return s.version }
func (s *Session) CreatedAt() time.Time        { return s.createdAt }
func (s *Session) UpdatedAt() time.Time        { return s.updatedAt }

// --- Behavior ---

// IsExpired reports whether the session can no longer be used at now.
func (s *Session) IsExpired(now time.Time) bool {
	return s.expiresAt != nil && !now.Before(*s.expiresAt)
}

// CheckUsable returns an error unless the session can open bookings.
func (s *Session) CheckUsable(now time.Time) error {
	if s.convertedToUser {
		return ErrAlreadyConverted
	}
	if s.IsExpired(now) {
		return ErrSessionExpired
	}
	return nil
}

// UpdateContact merges non-empty fields of c into the stored contact.
func (s *Session) UpdateContact(c Contact, now time.Time) error {
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return domain.NewValidationError("email is invalid")
	}
	merge := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	merge(&s.contact.Email, c.Email)
	merge(&s.contact.FirstName, c.FirstName)
	merge(&s.contact.LastName, c.LastName)
	merge(&s.contact.Phone, c.Phone)
	merge(&s.contact.Country, c.Country)
	s.touch(now)
	return nil
}

// RecordBooking stores the holder's contact and counts the booking.
func (s *Session) RecordBooking(c Contact, now time.Time) error {
	if err := s.CheckUsable(now); err != nil {
		return err
	}
	if err := s.UpdateContact(c, now); err != nil {
		return err
	}
	s.bookingCount++
	return nil
}

// RecordSearch counts a search.
func (s *Session) RecordSearch(now time.Time) {
	s.searchCount++
	s.touch(now)
}

// ConversionRate is bookings per search as a percentage.
func (s *Session) ConversionRate() float64 {
	if s.searchCount == 0 {
		return 0
	}
	return float64(s.bookingCount) / float64(s.searchCount) * 100
}

// ConvertToUser ties the session to a registered user.
func (s *Session) ConvertToUser(userID uuid.UUID, now time.Time) error {
	if userID == uuid.Nil {
		return domain.NewValidationError("user ID is required")
	}
	if s.convertedToUser {
		return ErrAlreadyConverted
	}
	s.convertedToUser = true
	s.userID = &userID
	s.convertedAt = &now
	s.touch(now)
	return nil
}

// Extend pushes the expiry to now + ttl.
func (s *Session) Extend(ttl time.Duration, now time.Time) {
	expires := now.Add(ttl)
	s.expiresAt = &expires
	s.updatedAt = now
}

// IncrementVersion bumps the version for optimistic locking.
func (s *Session) IncrementVersion() {
	s.version++
	s.updatedAt = time.Now().UTC()
}

func (s *Session) touch(now time.Time) {
	if s.firstActivityAt == nil {
		s.firstActivityAt = &now
	}
	s.lastActivityAt = &now
	s.updatedAt = now
}
