package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/guest"
	"github.com/pkgtravel/service-booking/internal/domain/uow"
	"go.uber.org/zap"
)

// StartSessionRequest carries optional device details for a new guest session.
type StartSessionRequest struct {
	DeviceInfo map[string]any `json:"device_info"`
}

// UpdateContactRequest holds the contact fields a guest may set.
type UpdateContactRequest struct {
	Email     string `json:"email" binding:"omitempty,email"`
	FirstName string `json:"first_name" binding:"max=100"`
	LastName  string `json:"last_name" binding:"max=100"`
	Phone     string `json:"phone" binding:"max=20"`
	Country   string `json:"country" binding:"max=100"`
}

// GuestSessionDTO is the response representation of a guest session.
type GuestSessionDTO struct {
	SessionID       string     `json:"session_id"`
	Email           string     `json:"email,omitempty"`
	FirstName       string     `json:"first_name,omitempty"`
	LastName        string     `json:"last_name,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	Country         string     `json:"country,omitempty"`
	SearchCount     int        `json:"search_count"`
	BookingCount    int        `json:"booking_count"`
	ConversionRate  float64    `json:"conversion_rate"`
	ConvertedToUser bool       `json:"converted_to_user"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastActivityAt  *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ConversionDTO reports a completed guest-to-user conversion.
type ConversionDTO struct {
	SessionID           string    `json:"session_id"`
	UserID              uuid.UUID `json:"user_id"`
	BookingsTransferred int64     `json:"bookings_transferred"`
}

// GuestService is the application service for anonymous visitor sessions.
type GuestService struct {
	repo   guest.SessionRepository
	tx     uow.Transactor
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewGuestService creates a new GuestService. A non-positive ttl uses
// guest.DefaultSessionTTL.
func NewGuestService(repo guest.SessionRepository, tx uow.Transactor, ttl time.Duration, logger *zap.Logger) *GuestService {
	if ttl <= 0 {
		ttl = guest.DefaultSessionTTL
	}
	return &GuestService{
		repo:   repo,
		tx:     tx,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StartSession opens a new guest session.
func (s *GuestService) StartSession(ctx context.Context, req StartSessionRequest, client ClientInfo) (*GuestSessionDTO, error) {
	session, err := guest.NewSession(client.IPAddress, client.UserAgent, req.DeviceInfo, s.ttl)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save guest session: %w", err)
	}

	result := toGuestSessionDTO(session)
	return &result, nil
}

// GetSession retrieves a guest session by its public id.
func (s *GuestService) GetSession(ctx context.Context, sessionID string) (*GuestSessionDTO, error) {
	session, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result := toGuestSessionDTO(session)
	return &result, nil
}

// UpdateContact merges the non-empty fields of req into the session contact.
func (s *GuestService) UpdateContact(ctx context.Context, sessionID string, req UpdateContactRequest) (*GuestSessionDTO, error) {
	return s.mutate(ctx, sessionID, func(session *guest.Session, now time.Time) error {
		if err := session.CheckUsable(now); err != nil {
			return err
		}
		return session.UpdateContact(guest.Contact{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Phone:     req.Phone,
			Country:   req.Country,
		}, now)
	})
}

// TrackSearch counts a search and keeps the session alive.
func (s *GuestService) TrackSearch(ctx context.Context, sessionID string) (*GuestSessionDTO, error) {
	return s.mutate(ctx, sessionID, func(session *guest.Session, now time.Time) error {
		if err := session.CheckUsable(now); err != nil {
			return err
		}
		session.RecordSearch(now)
		session.Extend(s.ttl, now)
		return nil
	})
}

// ConvertToUser ties a guest session to a registered user and hands every
// booking made in it to that user. Both happen in one commit, so a booking
// is never visible without an owner.
func (s *GuestService) ConvertToUser(ctx context.Context, sessionID string, userID uuid.UUID) (*ConversionDTO, error) {
	var moved int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos uow.Repositories) error {
		session, err := repos.Guests().FindBySessionID(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := session.ConvertToUser(userID, s.now()); err != nil {
			return err
		}
		session.IncrementVersion()
		if err := repos.Guests().Update(ctx, session); err != nil {
			return err
		}

		moved, err = repos.Bookings().TransferGuestBookings(ctx, sessionID, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert guest session: %w", err)
	}

	s.logger.Info("guest session converted",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID.String()),
		zap.Int64("bookings_transferred", moved),
	)
	return &ConversionDTO{SessionID: sessionID, UserID: userID, BookingsTransferred: moved}, nil
}

func (s *GuestService) mutate(ctx context.Context, sessionID string, fn func(session *guest.Session, now time.Time) error) (*GuestSessionDTO, error) {
	session, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(session, s.now()); err != nil {
		return nil, err
	}
	session.IncrementVersion()
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update guest session: %w", err)
	}
	result := toGuestSessionDTO(session)
	return &result, nil
}

func toGuestSessionDTO(s *guest.Session) GuestSessionDTO {
	c := s.Contact()
	return GuestSessionDTO{
		SessionID:       s.SessionID(),
		Email:           c.Email,
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		Phone:           c.Phone,
		Country:         c.Country,
		SearchCount:     s.SearchCount(),
		BookingCount:    s.BookingCount(),
		ConversionRate:  s.ConversionRate(),
		ConvertedToUser: s.ConvertedToUser(),
		UserID:          s.UserID(),
		ExpiresAt:       s.ExpiresAt(),
		LastActivityAt:  s.LastActivityAt(),
		CreatedAt:       s.CreatedAt(),
	}
}
