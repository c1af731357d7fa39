// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/metacards/internal/domain"
)

// Repository archives completed card sessions.
type Repository interface {
	// SaveSession stores a completed session. Saving the same run twice
	// replaces the earlier record.
	SaveSession(ctx context.Context, sess *domain.Session) error

	// ListSessions returns the user's archived sessions, newest first.
	ListSessions(ctx context.Context, userID int64, limit int) ([]*domain.Session, error)

	// CountSessions returns the number of archived sessions.
	CountSessions(ctx context.Context) (int64, error)

	// CleanupArchive removes sessions completed more than ttl ago.
	CleanupArchive(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
