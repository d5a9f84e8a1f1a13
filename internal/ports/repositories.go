package ports

import (
	"context"

	"github.com/ariavoice/aria/internal/domain/models"
)

// TurnRepository defines operations for turn persistence and retrieval.
// Implementations back the conversational memory: every saved turn becomes
// retrievable context for later turns of the same user.
type TurnRepository interface {
	// Save persists a turn. It returns domain.ErrDuplicateTurn when a turn
	// with the same (user, agent, index) already exists, and
	// domain.ErrDimensionMismatch when the embedding length differs from
	// the configured model dimension.
	Save(ctx context.Context, turn *models.Turn) error

	GetByID(ctx context.Context, id string) (*models.Turn, error)

	// SimilarTurns returns the user's turns nearest to the query embedding,
	// ordered by ascending cosine distance. Results never cross users.
	SimilarTurns(ctx context.Context, userID string, embedding []float32, limit int) ([]*models.ScoredTurn, error)

	// RecentTurns returns the user's latest turns ordered newest first,
	// the no-embedding fallback for context retrieval.
	RecentTurns(ctx context.Context, userID string, limit int) ([]*models.Turn, error)

	// NextTurnIndex reports the next free index for a (user, agent) pair.
	NextTurnIndex(ctx context.Context, userID, agentID string) (int, error)

	CountByUser(ctx context.Context, userID string) (int, error)
}

// SessionRepository defines operations for session records.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)

	// UpdateAggregates refreshes a live session's running latency
	// aggregates after a completed turn.
	UpdateAggregates(ctx context.Context, id string, agg models.LatencyAggregates) error

	// Finalize writes the end-of-session aggregates. It only touches a
	// session still marked active, so duplicate shutdown paths are safe.
	Finalize(ctx context.Context, session *models.Session) error

	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error)
	CountActive(ctx context.Context) (int, error)
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}
