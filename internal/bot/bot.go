// Package bot orchestrates reply generation: it collects the
// conversation window, resolves the model and request mode, calls the
// remote endpoint, and keeps the usage record for the invocation.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/replybot/replybot/internal/collector"
	"github.com/replybot/replybot/internal/openai"
	"github.com/replybot/replybot/internal/prompt"
	"github.com/replybot/replybot/internal/settings"
	"github.com/replybot/replybot/internal/storage"
)

// Provider generates a reply to the given seed turn on behalf of the
// asking user. Implementations are interchangeable backends selected by
// configuration. Remote failures never surface as errors: they produce
// the fallback reply with the invocation's usage record marked failed.
// A returned error means the pipeline could not start at all (for
// example, the seed turn does not exist).
type Provider interface {
	Reply(ctx context.Context, seedTurnID, askingUserID int64) (string, error)
}

// OpenAI is the Provider backed by an OpenAI-compatible endpoint.
type OpenAI struct {
	store    *storage.Store
	settings *settings.Service
	client   *openai.Client
	logger   *slog.Logger
}

func NewOpenAI(store *storage.Store, svc *settings.Service, client *openai.Client) *OpenAI {
	return &OpenAI{
		store:    store,
		settings: svc,
		client:   client,
		logger:   slog.Default(),
	}
}

// Reply runs one invocation of the pipeline. Settings are read fresh so
// admin changes apply without a restart.
func (b *OpenAI) Reply(ctx context.Context, seedTurnID, askingUserID int64) (string, error) {
	snap, err := b.settings.Snapshot()
	if err != nil {
		return "", err
	}

	window, err := collector.Collect(b.store, seedTurnID, snap.MaxLookBehind)
	if err != nil {
		return "", err
	}

	// A missing user is tolerated: it only loses privileged-model access.
	groupIDs, err := b.store.UserGroupIDs(askingUserID)
	if err != nil {
		b.logger.Warn("could not load group memberships", "user_id", askingUserID, "error", err)
		groupIDs = nil
	}

	record, err := b.store.CreateUsageRecord(askingUserID)
	if err != nil {
		return "", fmt.Errorf("creating usage record: %w", err)
	}

	return b.getResponse(ctx, snap, window, groupIDs, record), nil
}

// getResponse issues the remote call for an already-assembled window
// and settles the usage record: token counts on success, failed status
// and the fallback reply otherwise.
func (b *OpenAI) getResponse(ctx context.Context, snap settings.Snapshot, window []storage.Turn, groupIDs []int64, record storage.UsageRecord) string {
	selection, err := SelectModel(snap, groupIDs)
	if err != nil {
		if errors.Is(err, ErrModeUnresolved) {
			return b.fail(record, fmt.Sprintf("model %q: %v", snap.Model, err))
		}
		return b.fail(record, err.Error())
	}

	builder := &prompt.Builder{
		Users:        b.store,
		BotUserID:    snap.BotUserID,
		SystemPrompt: snap.SystemPrompt,
	}

	var result openai.Result
	switch selection.Mode {
	case ModeChat:
		messages := make([]openai.Message, 0, len(window)+1)
		for _, m := range builder.ChatMessages(window) {
			messages = append(messages, openai.Message{Role: m.Role, Content: m.Content})
		}
		result, err = b.client.CreateChat(ctx, openai.ChatRequest{
			Model:            selection.Model,
			Messages:         messages,
			MaxTokens:        snap.MaxResponseTokens,
			Temperature:      float64(snap.TemperaturePercent) / 100,
			TopP:             float64(snap.TopPPercent) / 100,
			FrequencyPenalty: float64(snap.FrequencyPenaltyPercent) / 100,
			PresencePenalty:  float64(snap.PresencePenaltyPercent) / 100,
		})
	case ModeCompletions:
		result, err = b.client.CreateCompletion(ctx, openai.CompletionRequest{
			Model:            selection.Model,
			Prompt:           builder.CompletionText(window),
			MaxTokens:        snap.MaxResponseTokens,
			Temperature:      float64(snap.TemperaturePercent) / 100,
			TopP:             float64(snap.TopPPercent) / 100,
			FrequencyPenalty: float64(snap.FrequencyPenaltyPercent) / 100,
			PresencePenalty:  float64(snap.PresencePenaltyPercent) / 100,
		})
	}
	if err != nil {
		return b.fail(record, err.Error())
	}
	if result.Failed() {
		return b.fail(record, result.ErrorMessage)
	}

	usage := result.Usage
	if err := b.store.RecordTokenUsage(record.ID,
		int64(usage.PromptTokens), int64(usage.CompletionTokens), int64(usage.TotalTokens)); err != nil {
		b.logger.Error("could not record token usage", "usage_record_id", record.ID, "error", err)
	}
	return result.Text
}

// fail settles an invocation on the error branch: failed usage record,
// logged cause, fixed apology to the conversation.
func (b *OpenAI) fail(record storage.UsageRecord, cause string) string {
	if err := b.store.MarkUsageFailed(record.ID); err != nil {
		b.logger.Error("could not mark usage record failed", "usage_record_id", record.ID, "error", err)
	}
	b.logger.Error("reply generation failed", "usage_record_id", record.ID, "cause", cause)
	return FallbackReply
}
