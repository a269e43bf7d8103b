package usecase

import (
	"context"
	"time"

	"github.com/example/faceeval/internal/logging"
)

// RunOverview is the headline view of a stored evaluation run.
type RunOverview struct {
	RunID                 string    `json:"run_id"`
	Operator              string    `json:"operator,omitempty"`
	Threshold             float64   `json:"threshold"`
	AuthorizedGrantRate   float64   `json:"authorized_grant_rate"`
	UnauthorizedGrantRate float64   `json:"unauthorized_grant_rate"`
	FAR                   float64   `json:"far"`
	FRR                   float64   `json:"frr"`
	AUC                   float64   `json:"auc"`
	CreatedAt             time.Time `json:"created_at"`
}

// ListRuns returns the most recent persisted runs, newest first.
func (uc *EvaluationUseCase) ListRuns(ctx context.Context, limit int) ([]RunOverview, error) {
	if uc.repo == nil {
		return []RunOverview{}, nil
	}
	runs, err := uc.repo.ListRuns(ctx, limit)
	if err != nil {
		return nil, logging.NewOperationError("usecase.list_runs", "", err)
	}

	overviews := make([]RunOverview, 0, len(runs))
	for _, run := range runs {
		overviews = append(overviews, RunOverview{
			RunID:                 run.RunID,
			Operator:              run.Operator,
			Threshold:             run.Threshold,
			AuthorizedGrantRate:   run.AuthorizedGrantRate,
			UnauthorizedGrantRate: run.UnauthorizedGrantRate,
			FAR:                   run.FAR,
			FRR:                   run.FRR,
			AUC:                   run.AUC,
			CreatedAt:             run.CreatedAt,
		})
	}
	return overviews, nil
}
