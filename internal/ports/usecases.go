package ports

import (
	"context"

	"github.com/ariavoice/aria/internal/domain/models"
)

// ReasonUseCase runs one reasoning turn: retrieve context, generate the
// reply, persist the turn, publish the completion event. Implementations are
// reentrant; callers serialize turns per user themselves.
type ReasonUseCase interface {
	Execute(ctx context.Context, state *models.ReasoningState) (*models.ReasoningResult, error)
}
