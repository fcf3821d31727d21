// Package worker processes queued reply jobs: it generates a reply for
// the requested turn and stores the reply as a new turn in the same
// channel.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/replybot/replybot/internal/bot"
	"github.com/replybot/replybot/internal/settings"
	"github.com/replybot/replybot/internal/storage"
)

// JobStore abstracts the job queue and turn operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetTurn(id int64) (storage.Turn, error)
	InsertTurn(t storage.Turn) (int64, error)
}

// Worker processes reply jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	settings *settings.Service
	bot      bot.Provider
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, svc *settings.Service, provider bot.Provider, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		settings: svc,
		bot:      provider,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single reply job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{"reply"})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type replyPayload struct {
	TurnID int64 `json:"turn_id"`
	UserID int64 `json:"user_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload replyPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	seed, err := w.store.GetTurn(payload.TurnID)
	if err != nil {
		return fmt.Errorf("loading turn %d: %w", payload.TurnID, err)
	}

	text, err := w.bot.Reply(ctx, payload.TurnID, payload.UserID)
	if err != nil {
		return fmt.Errorf("generating reply for turn %d: %w", payload.TurnID, err)
	}

	snap, err := w.settings.Snapshot()
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}

	reply := storage.Turn{
		ChannelID:   seed.ChannelID,
		UserID:      snap.BotUserID,
		Kind:        seed.Kind,
		Content:     text,
		InReplyToID: &payload.TurnID,
	}
	if _, err := w.store.InsertTurn(reply); err != nil {
		return fmt.Errorf("storing reply turn: %w", err)
	}

	return nil
}
