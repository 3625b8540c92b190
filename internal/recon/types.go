package recon

import (
	"context"

	"github.com/mmretail/settlement-backend/pkg/db/models"
	"github.com/mmretail/settlement-backend/pkg/enums"
)

// Outcome classifies what one record pass did.
type Outcome string

const (
	// OutcomeSettled means the stage flag was written Y.
	OutcomeSettled Outcome = "settled"
	// OutcomeFailed means the stage flag was written F (or the item is
	// terminally refused); the record waits for manual intervention.
	OutcomeFailed Outcome = "failed"
	// OutcomePending means no writeback happened and the record stays
	// eligible for the next pass.
	OutcomePending Outcome = "pending"
	// OutcomeRaceLost means another writer completed the transition first.
	OutcomeRaceLost Outcome = "race_lost"
	// OutcomeSkipped means the item no longer matched its predicate when
	// processed.
	OutcomeSkipped Outcome = "skipped"
)

// Item is one unit of stage work. Record-driven stages set Record; the
// withdraw stage sets Withdrawal.
type Item struct {
	Key        string
	Record     *models.SettlementRecord
	Withdrawal *models.WithdrawalRequest
}

// Stage is one step of the reconciliation pipeline. Fetch selects the
// eligible batch in stable order; Process handles a single item and performs
// at most one writeback.
type Stage interface {
	Name() enums.Stage
	Fetch(ctx context.Context, limit int) ([]Item, error)
	Process(ctx context.Context, item Item) (Outcome, error)
}

// Summary reports one stage pass.
type Summary struct {
	Stage     enums.Stage `json:"stage"`
	Eligible  int         `json:"eligible"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Pending   int         `json:"pending"`
	RaceLost  int         `json:"race_lost"`
	Skipped   int         `json:"skipped"`
	Errors    int         `json:"errors"`
}

func (s *Summary) observe(outcome Outcome) {
	switch outcome {
	case OutcomeSettled:
		s.Succeeded++
	case OutcomeFailed:
		s.Failed++
	case OutcomePending:
		s.Pending++
	case OutcomeRaceLost:
		s.RaceLost++
	case OutcomeSkipped:
		s.Skipped++
	}
}
