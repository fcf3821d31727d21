// Package prompt renders a window of conversation turns into the two
// request shapes the remote API accepts: a role-tagged message list for
// chat models, or a single flat text block for completion models.
package prompt

import (
	"fmt"
	"strings"

	"github.com/replybot/replybot/internal/storage"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// userTurnTemplate wraps a human turn with its author so the model can
// keep speakers apart.
const userTurnTemplate = "%s said: %s"

// Message is one entry of a chat-mode prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserLookup resolves turn authors to display names.
type UserLookup interface {
	GetUser(id int64) (storage.User, error)
}

// Builder renders windows for one invocation. BotUserID marks which
// turns were authored by the bot itself.
type Builder struct {
	Users        UserLookup
	BotUserID    int64
	SystemPrompt string
}

// ChatMessages renders the window (given newest first) into a chat-mode
// prompt: a leading system message, then one entry per turn in
// chronological order. The bot's own turns become assistant messages
// with their content verbatim; everything else becomes a user message
// wrapped with the author's name.
func (b *Builder) ChatMessages(window []storage.Turn) []Message {
	messages := make([]Message, 0, len(window)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: b.SystemPrompt})

	for i := len(window) - 1; i >= 0; i-- {
		turn := window[i]
		text := b.turnText(turn)
		if turn.UserID == b.BotUserID {
			messages = append(messages, Message{Role: RoleAssistant, Content: text})
		} else {
			messages = append(messages, Message{Role: RoleUser, Content: b.wrap(turn, text)})
		}
	}
	return messages
}

// CompletionText renders the window (given newest first) into a single
// completion-mode prompt: every turn in chronological order through the
// author wrapper, each followed by a separator line. The bot's own
// turns are not distinguished in this mode.
func (b *Builder) CompletionText(window []storage.Turn) string {
	var sb strings.Builder
	for i := len(window) - 1; i >= 0; i-- {
		turn := window[i]
		sb.WriteString(b.wrap(turn, b.turnText(turn)))
		sb.WriteString("\n---\n")
	}
	return sb.String()
}

func (b *Builder) wrap(turn storage.Turn, text string) string {
	return fmt.Sprintf(userTurnTemplate, b.username(turn.UserID), text)
}

// turnText normalizes the stored content. Posts arrive from the forum
// as cooked HTML; messages are plain text already.
func (b *Builder) turnText(turn storage.Turn) string {
	if turn.Kind == storage.TurnKindPost {
		return TextFromHTML(turn.Content)
	}
	return turn.Content
}

func (b *Builder) username(id int64) string {
	u, err := b.Users.GetUser(id)
	if err != nil {
		return fmt.Sprintf("user-%d", id)
	}
	return u.Username
}
