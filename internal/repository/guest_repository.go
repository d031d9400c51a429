package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/guest"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GuestSessionModel is the GORM model for the guest_sessions table.
type GuestSessionModel struct {
	ID              uuid.UUID         `gorm:"type:uuid;primaryKey"`
	SessionID       string            `gorm:"uniqueIndex;not null;size:64"`
	Email           string            `gorm:"size:255;index"`
	FirstName       string            `gorm:"size:100"`
	LastName        string            `gorm:"size:100"`
	Phone           string            `gorm:"size:50"`
	Country         string            `gorm:"size:100"`
	IPAddress       string            `gorm:"size:45"`
	UserAgent       string            `gorm:"type:text"`
	DeviceInfo      datatypes.JSONMap `gorm:""`
	SearchCount     int               `gorm:"not null;default:0"`
	BookingCount    int               `gorm:"not null;default:0"`
	FirstActivityAt *time.Time        `gorm:""`
	LastActivityAt  *time.Time        `gorm:""`
	ConvertedToUser bool              `gorm:"not null;default:false"`
	UserID          *uuid.UUID        `gorm:"type:uuid;index"`
	ConvertedAt     *time.Time        `gorm:""`
	ExpiresAt       *time.Time        `gorm:"index"`
	Version         int64             `gorm:"not null;default:1"`
	CreatedAt       time.Time         `gorm:"not null"`
	UpdatedAt       time.Time         `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (GuestSessionModel) TableName() string {
	return "guest_sessions"
}

// GormSessionRepository is the GORM-based implementation of guest.SessionRepository.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a new GormSessionRepository.
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

// FindBySessionID retrieves a session by its public session id.
func (r *GormSessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*guest.Session, error) {
	var model GuestSessionModel
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("GuestSession", sessionID)
		}
		return nil, fmt.Errorf("failed to find guest session: %w", err)
	}
	return toDomainSession(&model), nil
}

// Save persists a new session.
func (r *GormSessionRepository) Save(ctx context.Context, s *guest.Session) error {
	if err := r.db.WithContext(ctx).Create(toSessionModel(s)).Error; err != nil {
		return fmt.Errorf("failed to save guest session: %w", err)
	}
	return nil
}

// Update persists changes to an existing session with optimistic locking.
func (r *GormSessionRepository) Update(ctx context.Context, s *guest.Session) error {
	model := toSessionModel(s)

	expectedVersion := s.Version() - 1
	result := r.db.WithContext(ctx).
		Model(&GuestSessionModel{}).
		Where("id = ? AND version = ?", model.ID, expectedVersion).
		Updates(map[string]interface{}{
			"email":             model.Email,
			"first_name":        model.FirstName,
			"last_name":         model.LastName,
			"phone":             model.Phone,
			"country":           model.Country,
			"search_count":      model.SearchCount,
			"booking_count":     model.BookingCount,
			"first_activity_at": model.FirstActivityAt,
			"last_activity_at":  model.LastActivityAt,
			"converted_to_user": model.ConvertedToUser,
			"user_id":           model.UserID,
			"converted_at":      model.ConvertedAt,
			"expires_at":        model.ExpiresAt,
			"version":           model.Version,
			"updated_at":        model.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update guest session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("guest session was modified by another transaction")
	}
	return nil
}

// --- Conversion Helpers ---

func toSessionModel(s *guest.Session) *GuestSessionModel {
	c := s.Contact()
	return &GuestSessionModel{
		ID:              s.ID(),
		SessionID:       s.SessionID(),
		Email:           c.Email,
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		Phone:           c.Phone,
		Country:         c.Country,
		IPAddress:       s.IPAddress(),
		UserAgent:       s.UserAgent(),
		DeviceInfo:      datatypes.JSONMap(s.DeviceInfo()),
		SearchCount:     s.SearchCount(),
		BookingCount:    s.BookingCount(),
		FirstActivityAt: s.FirstActivityAt(),
		LastActivityAt:  s.LastActivityAt(),
		ConvertedToUser: s.ConvertedToUser(),
		UserID:          s.UserID(),
		ConvertedAt:     s.ConvertedAt(),
		ExpiresAt:       s.ExpiresAt(),
		Version:         s.Version(),
		CreatedAt:       s.CreatedAt(),
		UpdatedAt:       s.UpdatedAt(),
	}
}

func toDomainSession(m *GuestSessionModel) *guest.Session {
	return guest.ReconstructSession(
		m.ID,
		m.SessionID,
		guest.Contact{
			Email:     m.Email,
			FirstName: m.FirstName,
			LastName:  m.LastName,
			Phone:     m.Phone,
			Country:   m.Country,
		},
		m.IPAddress,
		m.UserAgent,
		map[string]any(m.DeviceInfo),
		m.SearchCount,
		m.BookingCount,
		utcPtr(m.FirstActivityAt),
		utcPtr(m.LastActivityAt),
		m.ConvertedToUser,
		m.UserID,
		utcPtr(m.ConvertedAt),
		utcPtr(m.ExpiresAt),
		m.Version,
		m.CreatedAt.UTC(),
		m.UpdatedAt.UTC(),
	)
}
