package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/domain/models"
)

const turnColumns = `id, user_id, agent_id, room_id, session_id, turn_index,
	       user_utterance, agent_reply, degraded,
	       latency_stt_ms, latency_reason_ms, latency_tts_ms, latency_total_ms,
	       created_at, deleted_at`

// TurnRepository stores turns and serves the vector similarity queries that
// turn past exchanges into context for new ones.
type TurnRepository struct {
	BaseRepository
	dimensions int
}

func NewTurnRepository(pool *pgxpool.Pool, dimensions int) *TurnRepository {
	return &TurnRepository{
		BaseRepository: NewBaseRepository(pool),
		dimensions:     dimensions,
	}
}

// Save persists a turn. The (user_id, agent_id, turn_index) triple is
// unique; a second writer for the same slot gets domain.ErrDuplicateTurn
// and is expected to retry with a bumped index.
func (r *TurnRepository) Save(ctx context.Context, turn *models.Turn) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := turn.Validate(); err != nil {
		return err
	}

	var embedding *pgvector.Vector
	if len(turn.Embedding) > 0 {
		if len(turn.Embedding) != r.dimensions {
			return fmt.Errorf("%w: got %d, store expects %d",
				domain.ErrDimensionMismatch, len(turn.Embedding), r.dimensions)
		}
		v := pgvector.NewVector(turn.Embedding)
		embedding = &v
	}

	query := `
		INSERT INTO aria_turns (
			id, user_id, agent_id, room_id, session_id, turn_index,
			user_utterance, agent_reply, embedding, degraded,
			latency_stt_ms, latency_reason_ms, latency_tts_ms, latency_total_ms,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err := r.conn(ctx).Exec(ctx, query,
		turn.ID,
		turn.UserID,
		turn.AgentID,
		nullString(turn.RoomID),
		nullString(turn.SessionID),
		turn.TurnIndex,
		turn.UserUtterance,
		turn.AgentReply,
		embedding,
		turn.Degraded,
		turn.STTMs,
		turn.ReasonMs,
		turn.TTSMs,
		turn.TotalMs,
		turn.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s agent %s index %d",
				domain.ErrDuplicateTurn, turn.UserID, turn.AgentID, turn.TurnIndex)
		}
		return err
	}
	return nil
}

func (r *TurnRepository) GetByID(ctx context.Context, id string) (*models.Turn, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + turnColumns + `
		FROM aria_turns
		WHERE id = $1 AND deleted_at IS NULL`

	turn, err := scanTurn(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if checkNoRows(err) {
			return nil, fmt.Errorf("%w: turn %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return turn, nil
}

// SimilarTurns returns the user's stored turns nearest to the query
// embedding by cosine distance, closest first. The user filter is part of
// the query, never applied after the fact.
func (r *TurnRepository) SimilarTurns(ctx context.Context, userID string, embedding []float32, limit int) ([]*models.ScoredTurn, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if len(embedding) != r.dimensions {
		return nil, fmt.Errorf("%w: got %d, store expects %d",
			domain.ErrDimensionMismatch, len(embedding), r.dimensions)
	}
	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT ` + turnColumns + `,
		       embedding <=> $1 AS distance
		FROM aria_turns
		WHERE user_id = $2 AND deleted_at IS NULL AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $3`

	rows, err := r.conn(ctx).Query(ctx, query, pgvector.NewVector(embedding), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*models.ScoredTurn, 0, limit)
	for rows.Next() {
		var st models.ScoredTurn
		var roomID, sessionID sql.NullString
		var deletedAt sql.NullTime

		err := rows.Scan(
			&st.ID,
			&st.UserID,
			&st.AgentID,
			&roomID,
			&sessionID,
			&st.TurnIndex,
			&st.UserUtterance,
			&st.AgentReply,
			&st.Degraded,
			&st.STTMs,
			&st.ReasonMs,
			&st.TTSMs,
			&st.TotalMs,
			&st.CreatedAt,
			&deletedAt,
			&st.Distance,
		)
		if err != nil {
			return nil, err
		}
		st.RoomID = getString(roomID)
		st.SessionID = getString(sessionID)
		st.DeletedAt = getTimePtr(deletedAt)
		results = append(results, &st)
	}
	return results, rows.Err()
}

// RecentTurns returns the user's latest turns, newest first. It serves as
// the retrieval fallback while the similarity index is cold.
func (r *TurnRepository) RecentTurns(ctx context.Context, userID string, limit int) ([]*models.Turn, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT ` + turnColumns + `
		FROM aria_turns
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTurns(rows)
}

// NextTurnIndex reports the next free index for a (user, agent) pair, 0
// when the pair has no turns yet.
func (r *TurnRepository) NextTurnIndex(ctx context.Context, userID, agentID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT COALESCE(MAX(turn_index) + 1, 0)
		FROM aria_turns
		WHERE user_id = $1 AND agent_id = $2`

	var next int
	if err := r.conn(ctx).QueryRow(ctx, query, userID, agentID).Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (r *TurnRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM aria_turns
		WHERE user_id = $1 AND deleted_at IS NULL`

	var count int
	if err := r.conn(ctx).QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanTurn(row pgx.Row) (*models.Turn, error) {
	var t models.Turn
	var roomID, sessionID sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.AgentID,
		&roomID,
		&sessionID,
		&t.TurnIndex,
		&t.UserUtterance,
		&t.AgentReply,
		&t.Degraded,
		&t.STTMs,
		&t.ReasonMs,
		&t.TTSMs,
		&t.TotalMs,
		&t.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	t.RoomID = getString(roomID)
	t.SessionID = getString(sessionID)
	t.DeletedAt = getTimePtr(deletedAt)
	return &t, nil
}

func scanTurns(rows pgx.Rows) ([]*models.Turn, error) {
	turns := make([]*models.Turn, 0)
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
