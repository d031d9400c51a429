package guest

import "context"

// SessionRepository defines the persistence contract for guest sessions.
type SessionRepository interface {
	// FindBySessionID retrieves a session by its public session id.
	FindBySessionID(ctx context.Context, sessionID string) (*Session, error)

	// Save persists a new session.
	Save(ctx context.Context, session *Session) error

	// Update persists changes to an existing session with optimistic locking.
	Update(ctx context.Context, session *Session) error
}
