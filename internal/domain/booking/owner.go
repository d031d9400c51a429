package booking

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/pkg/domain"
)

// OwnerKind discriminates the Owner union.
type OwnerKind string

const (
	OwnerUser  OwnerKind = "user"
	OwnerGuest OwnerKind = "guest"
)

// Owner is who a booking belongs to: exactly one of a registered user or a
// guest session. The zero value is invalid.
type Owner struct {
	kind      OwnerKind
	userID    uuid.UUID
	sessionID string
}

// UserOwner returns an Owner for a registered user.
func UserOwner(userID uuid.UUID) Owner {
	return Owner{kind: OwnerUser, userID: userID}
}

// GuestOwner returns an Owner for a guest session.
func GuestOwner(sessionID string) Owner {
	return Owner{kind: OwnerGuest, sessionID: sessionID}
}

// OwnerFromColumns rebuilds an Owner from the nullable persistence columns.
// A set user id wins: converted guest bookings keep their session id as provenance.
func OwnerFromColumns(userID *uuid.UUID, sessionID *string) (Owner, error) {
	switch {
	case userID != nil && *userID != uuid.Nil:
		return UserOwner(*userID), nil
	case sessionID != nil && *sessionID != "":
		return GuestOwner(*sessionID), nil
	}
	return Owner{}, domain.NewValidationError("booking owner is required")
}

func (o Owner) Kind() OwnerKind   { return o.kind }
func (o Owner) IsUser() bool      { return o.kind == OwnerUser }
func (o Owner) IsGuest() bool     { return o.kind == OwnerGuest }
func (o Owner) UserID() uuid.UUID { return o.userID }
func (o Owner) SessionID() string { return o.sessionID }

// Validate rejects the zero Owner and empty identifiers.
func (o Owner) Validate() error {
	switch o.kind {
	case OwnerUser:
		if o.userID == uuid.Nil {
			return domain.NewValidationError("user ID is required")
		}
	case OwnerGuest:
		if strings.TrimSpace(o.sessionID) == "" {
			return domain.NewValidationError("guest session ID is required")
		}
	default:
		return domain.NewValidationError("booking owner is required")
	}
	return nil
}

// UserIDPtr returns the user id for persistence, or nil for guests.
func (o Owner) UserIDPtr() *uuid.UUID {
	if o.kind != OwnerUser {
		return nil
	}
	id := o.userID
	return &id
}

// Equal reports whether both owners denote the same party.
func (o Owner) Equal(other Owner) bool {
	return o.kind == other.kind && o.userID == other.userID && o.sessionID == other.sessionID
}

// Requester is the verified identity acting on a booking.
type Requester struct {
	UserID uuid.UUID
	Email  string
	Admin  bool
}

// UserRequester is an authenticated user.
func UserRequester(userID uuid.UUID, email string) Requester {
	return Requester{UserID: userID, Email: email}
}

// GuestRequester is a guest identified by the email used to book.
func GuestRequester(email string) Requester {
	return Requester{Email: email}
}

// AdminRequester is a back-office operator.
func AdminRequester(userID uuid.UUID) Requester {
	return Requester{UserID: userID, Admin: true}
}

// IsGuest reports whether the requester is unauthenticated.
func (r Requester) IsGuest() bool { return !r.Admin && r.UserID == uuid.Nil }

// Actor labels the requester for audit fields.
func (r Requester) Actor() string {
	switch {
	case r.Admin:
		return "admin"
	case r.IsGuest():
		return "guest"
	}
	return "user"
}
