package solution

import (
	"context"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// FeedTrainData merges new labeled entries into the model's accumulated
// training set. Legal only while the model has not started training; once
// the state passes DATA_FEEDING the request is rejected without side
// effects. Merge semantics are the plugin's, with the fixed contract that a
// recurring key takes the newer value.
func (m *Manager) FeedTrainData(ctx context.Context, ref string, data map[string]string) error {
	rec, err := m.ResolveModel(ctx, ref)
	if err != nil {
		return err
	}
	if rec.State > types.StateDataFeeding {
		return stateNotAllowedError{op: "feed", state: rec.State}
	}
	p, err := m.solutionFor(rec)
	if err != nil {
		return err
	}
	if err := p.FeedTrainData(ctx, m.st, rec.ID, data); err != nil {
		return bookkeepingError{err: err}
	}
	// Guarded update: a no-op if a concurrent train already moved the state
	// past DATA_FEEDING, so the lifecycle never runs backwards.
	if _, err := m.st.MarkDataFed(ctx, rec.ID); err != nil {
		return err
	}
	return nil
}
