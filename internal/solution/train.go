package solution

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugin"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// trainBufferDepth bounds the progress channel. Plugins can emit messages
// faster than a slow client drains them; once the buffer is full the
// producer blocks rather than growing memory without bound.
const trainBufferDepth = 8

// Terminal lines appended to every training stream.
const (
	trainDoneLine   = "Done! Model successfully trained and saved."
	trainFailedLine = "Failed!"
)

// Train starts a training job for the referenced model and streams its
// progress lines to w until the job finishes. Legal only in
// STATE_DATA_FEEDING; the transition to STATE_TRAINING happens through the
// store's compare-and-swap before the job launches, which is also what
// rejects a concurrent second train on the same model.
//
// The job itself runs on its own goroutine with a detached context and is
// not cancelled when ctx ends or w stops accepting writes; by the time the
// stream terminates the model's persisted state already reflects the
// outcome (MODEL_USABLE on success, back to DATA_FEEDING on failure).
func (m *Manager) Train(ctx context.Context, ref string, params map[string]any, w io.Writer, flush func()) error {
	rec, err := m.ResolveModel(ctx, ref)
	if err != nil {
		return err
	}
	if rec.State != types.StateDataFeeding {
		return stateNotAllowedError{op: "train", state: rec.State}
	}
	p, err := m.solutionFor(rec)
	if err != nil {
		return err
	}

	swapped, err := m.st.CompareAndSwapState(ctx, rec.ID, types.StateDataFeeding, types.StateTraining)
	if err != nil {
		return err
	}
	if !swapped {
		// Lost the race against another transition, most likely a training
		// job that is already in flight.
		cur, err := m.ResolveModel(ctx, ref)
		if err != nil {
			return err
		}
		return stateNotAllowedError{op: "train", state: cur.State}
	}

	msgs := make(chan string, trainBufferDepth)
	go m.runTraining(p, rec.ID, params, msgs)

	// Lazy pull loop. If the client goes away we keep draining so the
	// producer can never stay blocked on a full channel; the job always
	// runs to completion.
	var werr error
	for msg := range msgs {
		if werr != nil {
			continue
		}
		if _, err := io.WriteString(w, msg+"\n"); err != nil {
			werr = err
			continue
		}
		if flush != nil {
			flush()
		}
	}
	return nil
}

// runTraining executes the plugin's training routine and owns the write side
// of the progress channel. It guarantees exactly one terminal delivery: the
// post-job state write happens before the terminal line is sent, and the
// channel close is the end-of-stream sentinel.
func (m *Manager) runTraining(p plugin.Solution, id int64, params map[string]any, msgs chan<- string) {
	// Detached from the request: a consumer disconnect must not cancel the job.
	ctx := context.Background()
	start := time.Now()
	trainingInflight.Inc()

	var once sync.Once
	finish := func(success bool) {
		once.Do(func() {
			to, terminal, result := types.StateDataFeeding, trainFailedLine, "failure"
			if success {
				to, terminal, result = types.StateModelUsable, trainDoneLine, "success"
			}
			if _, err := m.st.CompareAndSwapState(ctx, id, types.StateTraining, to); err != nil {
				m.log.Error().Err(err).Int64("model", id).Msg("failed to reconcile model state after training")
			}
			msgs <- terminal
			close(msgs)
			trainingInflight.Dec()
			trainingsTotal.WithLabelValues(result).Inc()
			m.log.Info().Int64("model", id).Bool("success", success).
				Dur("dur", time.Since(start)).Msg("training job finished")
		})
	}

	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Int64("model", id).Msg("training plugin panicked")
		}
		// No-op when the plugin already delivered its outcome; otherwise
		// every remaining code path still reconciles the state machine.
		finish(false)
	}()

	p.TrainModel(ctx, m.st, id, params,
		func(msg string) { msgs <- msg },
		finish)
}
