package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
)

const sessionColumns = `id, room_id, participant_id, user_id, agent_id, status,
	       started_at, ended_at, duration_s, total_turns,
	       avg_latency_ms, p95_latency_ms, p99_latency_ms, frames_dropped, connection_quality`

// SessionRepository stores voice session records.
type SessionRepository struct {
	BaseRepository
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO aria_sessions (id, room_id, participant_id, user_id, agent_id, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.conn(ctx).Exec(ctx, query,
		session.ID,
		nullString(session.RoomID),
		nullString(session.ParticipantID),
		session.UserID,
		session.AgentID,
		session.Status,
		session.StartedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: session %s already exists", domain.ErrInvalidInput, session.ID)
	}
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + sessionColumns + `
		FROM aria_sessions
		WHERE id = $1`

	session, err := scanSession(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if checkNoRows(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, err
	}
	return session, nil
}

// UpdateAggregates refreshes the running latency aggregates of a live
// session. Called after each completed turn.
func (r *SessionRepository) UpdateAggregates(ctx context.Context, id string, agg models.LatencyAggregates) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE aria_sessions
		SET total_turns = $2,
		    avg_latency_ms = $3,
		    p95_latency_ms = $4,
		    p99_latency_ms = $5
		WHERE id = $1 AND status = 'active'`

	tag, err := r.conn(ctx).Exec(ctx, query, id, agg.Count, agg.AvgMs, agg.P95Ms, agg.P99Ms)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s is not active", domain.ErrSessionClosed, id)
	}
	return nil
}

// Finalize writes the end-of-session aggregates. The status guard means a
// second shutdown path finds zero rows and reports ErrSessionClosed instead
// of overwriting the first result.
func (r *SessionRepository) Finalize(ctx context.Context, session *models.Session) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE aria_sessions
		SET status = $2,
		    ended_at = $3,
		    duration_s = $4,
		    total_turns = $5,
		    avg_latency_ms = $6,
		    p95_latency_ms = $7,
		    p99_latency_ms = $8,
		    frames_dropped = $9,
		    connection_quality = $10
		WHERE id = $1 AND status = 'active'`

	tag, err := r.conn(ctx).Exec(ctx, query,
		session.ID,
		session.Status,
		nullTime(session.EndedAt),
		session.DurationS,
		session.TotalTurns,
		session.AvgLatencyMs,
		session.P95LatencyMs,
		session.P99LatencyMs,
		session.FramesDropped,
		nullString(session.ConnectionQuality),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s is not active", domain.ErrSessionClosed, session.ID)
	}
	return nil
}

func (r *SessionRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + sessionColumns + `
		FROM aria_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) CountActive(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM aria_sessions WHERE status = 'active'`,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var roomID, participantID, quality sql.NullString
	var endedAt sql.NullTime
	var durationS sql.NullFloat64

	err := row.Scan(
		&s.ID,
		&roomID,
		&participantID,
		&s.UserID,
		&s.AgentID,
		&s.Status,
		&s.StartedAt,
		&endedAt,
		&durationS,
		&s.TotalTurns,
		&s.AvgLatencyMs,
		&s.P95LatencyMs,
		&s.P99LatencyMs,
		&s.FramesDropped,
		&quality,
	)
	if err != nil {
		return nil, err
	}

	s.RoomID = getString(roomID)
	s.ParticipantID = getString(participantID)
	s.EndedAt = getTimePtr(endedAt)
	if durationS.Valid {
		s.DurationS = &durationS.Float64
	}
	s.ConnectionQuality = getString(quality)
	return &s, nil
}
