package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/replybot/replybot/internal/openai"
	"github.com/replybot/replybot/internal/settings"
	"github.com/replybot/replybot/internal/storage"
)

type botFixture struct {
	store    *storage.Store
	settings *settings.Service
	provider *OpenAI
}

// newBotFixture seeds one asking user, one bot user, and a short
// conversation, with the remote endpoint stubbed by handler.
func newBotFixture(t *testing.T, handler http.HandlerFunc) *botFixture {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc := settings.NewService(store)
	if err := svc.Set(settings.KeyBotUserID, "9"); err != nil {
		t.Fatalf("Set bot_user_id: %v", err)
	}

	if err := store.UpsertUser(storage.User{ID: 1, Username: "alice"}, nil); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := store.UpsertUser(storage.User{ID: 9, Username: "replybot"}, nil); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	turns := []storage.Turn{
		{ID: 1, ChannelID: 1, UserID: 1, Kind: storage.TurnKindMessage, Content: "how do goroutines work?"},
		{ID: 2, ChannelID: 1, UserID: 9, Kind: storage.TurnKindMessage, Content: "They are lightweight threads."},
		{ID: 3, ChannelID: 1, UserID: 1, Kind: storage.TurnKindMessage, Content: "and channels?"},
	}
	for _, tr := range turns {
		if _, err := store.InsertTurn(tr); err != nil {
			t.Fatalf("InsertTurn(%d): %v", tr.ID, err)
		}
	}

	client := openai.NewClientWithBaseURL("test-key", srv.URL)
	return &botFixture{
		store:    store,
		settings: svc,
		provider: NewOpenAI(store, svc, client),
	}
}

func (f *botFixture) usageRecord(t *testing.T) storage.UsageRecord {
	t.Helper()
	rec, err := f.store.GetUsageRecord(1)
	if err != nil {
		t.Fatalf("GetUsageRecord(1): %v", err)
	}
	return rec
}

// TestReplyChatSuccess runs the whole pipeline against a stubbed chat
// endpoint and verifies the reply text plus the settled usage record.
// The stub reports token counts as strings, which some backends do.
func TestReplyChatSuccess(t *testing.T) {
	var gotPath string
	var gotBody openai.ChatRequest

	f := newBotFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "Channels pass values between goroutines."}}],
			"usage": {"prompt_tokens": "17", "completion_tokens": "17", "total_tokens": "34"}
		}`))
	})

	text, err := f.provider.Reply(context.Background(), 3, 1)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if text != "Channels pass values between goroutines." {
		t.Errorf("reply = %q", text)
	}

	if gotPath != "/v1/chat/completions" {
		t.Errorf("request path = %q, want /v1/chat/completions", gotPath)
	}
	if gotBody.Model != "gpt-3.5-turbo" {
		t.Errorf("model = %q, want gpt-3.5-turbo", gotBody.Model)
	}
	if gotBody.Temperature != 1.0 || gotBody.TopP != 1.0 {
		t.Errorf("sampling = %v/%v, want 1/1", gotBody.Temperature, gotBody.TopP)
	}
	if len(gotBody.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(gotBody.Messages))
	}
	if gotBody.Messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", gotBody.Messages[0].Role)
	}
	if gotBody.Messages[1].Content != "alice said: how do goroutines work?" {
		t.Errorf("messages[1] = %q", gotBody.Messages[1].Content)
	}
	if gotBody.Messages[2].Role != "assistant" || gotBody.Messages[2].Content != "They are lightweight threads." {
		t.Errorf("messages[2] = %+v, want verbatim assistant turn", gotBody.Messages[2])
	}

	rec := f.usageRecord(t)
	if rec.Status != storage.UsageSent {
		t.Errorf("usage status = %v, want %v", rec.Status, storage.UsageSent)
	}
	if rec.PromptTokensConsumed == nil || *rec.PromptTokensConsumed != 17 {
		t.Errorf("prompt tokens = %v, want 17", rec.PromptTokensConsumed)
	}
	if rec.CompletionTokensConsumed == nil || *rec.CompletionTokensConsumed != 17 {
		t.Errorf("completion tokens = %v, want 17", rec.CompletionTokensConsumed)
	}
	if rec.TotalTokensConsumed == nil || *rec.TotalTokensConsumed != 34 {
		t.Errorf("total tokens = %v, want 34", rec.TotalTokensConsumed)
	}
}

// TestReplyCompletionMode routes a completion-table model through the
// completions endpoint with a flat text prompt.
func TestReplyCompletionMode(t *testing.T) {
	var gotPath string
	var gotBody openai.CompletionRequest

	f := newBotFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"text": "A completion answer."}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12}
		}`))
	})
	if err := f.settings.Set(settings.KeyModel, "text-davinci-003"); err != nil {
		t.Fatalf("Set model: %v", err)
	}

	text, err := f.provider.Reply(context.Background(), 3, 1)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if text != "A completion answer." {
		t.Errorf("reply = %q", text)
	}
	if gotPath != "/v1/completions" {
		t.Errorf("request path = %q, want /v1/completions", gotPath)
	}
	if gotBody.Model != "text-davinci-003" {
		t.Errorf("model = %q", gotBody.Model)
	}
	// Completion mode wraps every turn, the bot's included.
	want := "alice said: how do goroutines work?\n---\nreplybot said: They are lightweight threads.\n---\nalice said: and channels?\n---\n"
	if gotBody.Prompt != want {
		t.Errorf("prompt = %q, want %q", gotBody.Prompt, want)
	}

	rec := f.usageRecord(t)
	if rec.Status != storage.UsageSent {
		t.Errorf("usage status = %v, want %v", rec.Status, storage.UsageSent)
	}
	if rec.TotalTokensConsumed == nil || *rec.TotalTokensConsumed != 12 {
		t.Errorf("total tokens = %v, want 12", rec.TotalTokensConsumed)
	}
}

// TestReplyRemoteError maps an error payload onto the failure branch: the
// fixed apology comes back, the usage record is failed, no tokens are
// recorded.
func TestReplyRemoteError(t *testing.T) {
	f := newBotFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests"}}`))
	})

	text, err := f.provider.Reply(context.Background(), 3, 1)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if text != FallbackReply {
		t.Errorf("reply = %q, want fallback", text)
	}

	rec := f.usageRecord(t)
	if rec.Status != storage.UsageFailed {
		t.Errorf("usage status = %v, want %v", rec.Status, storage.UsageFailed)
	}
	if rec.TotalTokensConsumed != nil {
		t.Errorf("failed record has tokens: %v", *rec.TotalTokensConsumed)
	}
}

// TestReplyUnreachableEndpoint treats a transport failure like a remote
// error: fallback reply, failed record.
func TestReplyUnreachableEndpoint(t *testing.T) {
	f := newBotFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	// Point the client at a closed port.
	f.provider.client = openai.NewClientWithBaseURL("test-key", "http://127.0.0.1:1")

	text, err := f.provider.Reply(context.Background(), 3, 1)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if text != FallbackReply {
		t.Errorf("reply = %q, want fallback", text)
	}
	if rec := f.usageRecord(t); rec.Status != storage.UsageFailed {
		t.Errorf("usage status = %v, want %v", rec.Status, storage.UsageFailed)
	}
}

// TestReplyUnresolvedMode falls back without calling the endpoint when the
// configured model resolves to no request mode.
func TestReplyUnresolvedMode(t *testing.T) {
	called := false
	f := newBotFixture(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	if err := f.settings.Set(settings.KeyModel, "gpt-9000"); err != nil {
		t.Fatalf("Set model: %v", err)
	}

	text, err := f.provider.Reply(context.Background(), 3, 1)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if text != FallbackReply {
		t.Errorf("reply = %q, want fallback", text)
	}
	if called {
		t.Error("endpoint was called despite unresolved mode")
	}
	if rec := f.usageRecord(t); rec.Status != storage.UsageFailed {
		t.Errorf("usage status = %v, want %v", rec.Status, storage.UsageFailed)
	}
}

// TestReplyPrivilegedAccess gives a group member the privileged model.
func TestReplyPrivilegedAccess(t *testing.T) {
	var gotBody openai.ChatRequest
	f := newBotFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "ok"}}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`))
	})
	if err := f.settings.Set(settings.KeyPrivilegedGroups, "14|31"); err != nil {
		t.Fatalf("Set groups: %v", err)
	}
	if err := f.settings.Set(settings.KeyPrivilegedModel, "gpt-4"); err != nil {
		t.Fatalf("Set model: %v", err)
	}
	if err := f.store.UpsertUser(storage.User{ID: 1, Username: "alice"}, []int64{31}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	if _, err := f.provider.Reply(context.Background(), 3, 1); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if gotBody.Model != "gpt-4" {
		t.Errorf("model = %q, want gpt-4", gotBody.Model)
	}
}

// TestReplyMissingSeed surfaces the pipeline-start failure as an error.
func TestReplyMissingSeed(t *testing.T) {
	f := newBotFixture(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, err := f.provider.Reply(context.Background(), 999, 1); err == nil {
		t.Error("expected error for missing seed turn")
	}
}
