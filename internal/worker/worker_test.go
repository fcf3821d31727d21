package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/replybot/replybot/internal/settings"
	"github.com/replybot/replybot/internal/storage"
)

type stubProvider struct {
	reply string
	err   error
}

func (p *stubProvider) Reply(ctx context.Context, seedTurnID, askingUserID int64) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func newWorkerFixture(t *testing.T, provider *stubProvider) (*Worker, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := settings.NewService(store)
	if err := svc.Set(settings.KeyBotUserID, "9"); err != nil {
		t.Fatalf("Set bot_user_id: %v", err)
	}

	if _, err := store.InsertTurn(storage.Turn{ID: 3, ChannelID: 7, UserID: 1, Kind: storage.TurnKindMessage, Content: "a question"}); err != nil {
		t.Fatalf("InsertTurn: %v", err)
	}

	return NewWorker(store, svc, provider, time.Millisecond), store
}

func enqueueReplyJob(t *testing.T, store *storage.Store, payload string) string {
	t.Helper()
	id := uuid.New().String()
	if err := store.EnqueueJob(storage.Job{ID: id, Type: "reply", PayloadJSON: payload}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return id
}

// TestRunOnceStoresReplyTurn processes a reply job and verifies the bot's
// reply lands as a new turn in the seed's channel.
func TestRunOnceStoresReplyTurn(t *testing.T) {
	w, store := newWorkerFixture(t, &stubProvider{reply: "an answer"})
	jobID := enqueueReplyJob(t, store, `{"turn_id": 3, "user_id": 1}`)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce did not process the job")
	}

	job, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("job status = %q, want completed", job.Status)
	}

	reply, err := store.PriorTurn(7, 1<<62)
	if err != nil {
		t.Fatalf("finding reply turn: %v", err)
	}
	if reply.Content != "an answer" {
		t.Errorf("reply content = %q", reply.Content)
	}
	if reply.UserID != 9 {
		t.Errorf("reply author = %d, want bot user 9", reply.UserID)
	}
	if reply.InReplyToID == nil || *reply.InReplyToID != 3 {
		t.Errorf("reply link = %v, want 3", reply.InReplyToID)
	}
	if reply.Kind != storage.TurnKindMessage {
		t.Errorf("reply kind = %q, want seed's kind", reply.Kind)
	}
}

// TestRunOnceNoJobs reports nothing processed on an empty queue.
func TestRunOnceNoJobs(t *testing.T) {
	w, _ := newWorkerFixture(t, &stubProvider{reply: "unused"})

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("RunOnce claimed a job from an empty queue")
	}
}

// TestRunOnceFailsJobOnProviderError marks the job failed when the pipeline
// cannot start, and stores no reply turn.
func TestRunOnceFailsJobOnProviderError(t *testing.T) {
	w, store := newWorkerFixture(t, &stubProvider{err: errors.New("seed turn gone")})
	jobID := enqueueReplyJob(t, store, `{"turn_id": 3, "user_id": 1}`)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce did not process the job")
	}

	job, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "failed" {
		t.Errorf("job status = %q, want failed", job.Status)
	}
	if job.LastError == "" {
		t.Error("last_error not recorded")
	}
}

// TestRunOnceBadPayload fails the job on an unparseable payload.
func TestRunOnceBadPayload(t *testing.T) {
	w, store := newWorkerFixture(t, &stubProvider{reply: "unused"})
	jobID := enqueueReplyJob(t, store, `not json`)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce did not process the job")
	}

	job, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "failed" {
		t.Errorf("job status = %q, want failed", job.Status)
	}
}

// TestRunStopsOnCancel verifies the polling loop honors context
// cancellation.
func TestRunStopsOnCancel(t *testing.T) {
	w, _ := newWorkerFixture(t, &stubProvider{reply: "unused"})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
