package solution

import (
	"context"
	"sync"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugin"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// PredictWithIDs classifies previously uploaded resources. Legal only in
// STATE_MODEL_USABLE. Resources the plugin cannot resolve are skipped and
// simply absent from the result map.
func (m *Manager) PredictWithIDs(ctx context.Context, ref string, resourceIDs []int64) (types.PredictOutcome, error) {
	rec, p, err := m.predictTarget(ctx, ref)
	if err != nil {
		return types.PredictOutcome{}, err
	}
	return m.runPrediction(rec.ID, func(bg context.Context, deliver func(types.PredictOutcome)) {
		p.PredictWithIDs(bg, m.st, rec.ID, resourceIDs, deliver)
	}), nil
}

// PredictWithData classifies raw payloads supplied by the caller, keyed by
// name in the result.
func (m *Manager) PredictWithData(ctx context.Context, ref string, names []string, payloads [][]byte) (types.PredictOutcome, error) {
	rec, p, err := m.predictTarget(ctx, ref)
	if err != nil {
		return types.PredictOutcome{}, err
	}
	return m.runPrediction(rec.ID, func(bg context.Context, deliver func(types.PredictOutcome)) {
		p.PredictWithData(bg, m.st, rec.ID, names, payloads, deliver)
	}), nil
}

func (m *Manager) predictTarget(ctx context.Context, ref string) (*types.Model, plugin.Solution, error) {
	rec, err := m.ResolveModel(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	if rec.State != types.StateModelUsable {
		return nil, nil, stateNotAllowedError{op: "predict with a untrained", state: rec.State}
	}
	p, err := m.solutionFor(rec)
	if err != nil {
		return nil, nil, err
	}
	return rec, p, nil
}

// runPrediction launches the plugin routine on its own goroutine and blocks
// for the single terminal outcome. The channel has capacity one; a plugin
// violating the call-once contract cannot wedge the job because delivery is
// once-guarded, and a panic or a silent return is normalized to a failed
// outcome.
func (m *Manager) runPrediction(modelID int64, run func(context.Context, func(types.PredictOutcome))) types.PredictOutcome {
	out := make(chan types.PredictOutcome, 1)
	go func() {
		var once sync.Once
		deliver := func(o types.PredictOutcome) {
			once.Do(func() { out <- o })
		}
		defer func() {
			if r := recover(); r != nil {
				m.log.Error().Interface("panic", r).Int64("model", modelID).Msg("prediction plugin panicked")
			}
			deliver(types.PredictOutcome{OK: false})
		}()
		// Detached context: prediction jobs are not cancellable either.
		run(context.Background(), deliver)
	}()

	o := <-out
	if o.OK {
		predictionsTotal.WithLabelValues("success").Inc()
	} else {
		predictionsTotal.WithLabelValues("failure").Inc()
	}
	return o
}
