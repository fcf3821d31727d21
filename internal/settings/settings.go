// Package settings holds the bot's operator-editable configuration.
// Values live in the settings table so an admin can change them while
// the service runs; the pipeline takes a fresh Snapshot per invocation
// instead of caching values across invocations.
package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/replybot/replybot/internal/storage"
)

// Setting keys.
const (
	KeyModel             = "model"
	KeyModelCustom       = "model_custom"
	KeyModelCustomName   = "model_custom_name"
	KeyModelCustomType   = "model_custom_type"
	KeyMaxResponseTokens = "max_response_tokens"
	KeyTemperature       = "request_temperature"
	KeyTopP              = "request_top_p"
	KeyFrequencyPenalty  = "request_frequency_penalty"
	KeyPresencePenalty   = "request_presence_penalty"
	KeyMaxLookBehind     = "max_look_behind"
	KeyBotUserID         = "bot_user_id"
	KeyPrivilegedGroups  = "privileged_access_groups"
	KeyPrivilegedModel   = "privileged_access_model"
	KeySystemPrompt      = "system_prompt"
)

// Snapshot is one consistent read of every setting, taken at the start
// of an invocation and passed by reference through the pipeline.
type Snapshot struct {
	Model             string
	ModelCustom       bool
	ModelCustomName   string
	ModelCustomType   string // "chat" or "completions"
	MaxResponseTokens int

	// Sampling parameters, stored as integer percentages.
	TemperaturePercent      int
	TopPPercent             int
	FrequencyPenaltyPercent int
	PresencePenaltyPercent  int

	MaxLookBehind      int
	BotUserID          int64
	PrivilegedGroupIDs []int64
	PrivilegedModel    string
	SystemPrompt       string
}

type defaultSpec struct {
	key string
	val string
}

// defaults in key order; values are the stored string form.
var defaults = []defaultSpec{
	{KeyModel, "gpt-3.5-turbo"},
	{KeyModelCustom, "false"},
	{KeyModelCustomName, ""},
	{KeyModelCustomType, "chat"},
	{KeyMaxResponseTokens, "500"},
	{KeyTemperature, "100"},
	{KeyTopP, "100"},
	{KeyFrequencyPenalty, "0"},
	{KeyPresencePenalty, "0"},
	{KeyMaxLookBehind, "10"},
	{KeyBotUserID, "0"},
	{KeyPrivilegedGroups, ""},
	{KeyPrivilegedModel, ""},
	{KeySystemPrompt, "You are a helpful assistant participating in a forum conversation."},
}

// Service reads and writes settings through the store.
type Service struct {
	store *storage.Store
}

func NewService(store *storage.Store) *Service {
	return &Service{store: store}
}

// ValidKey reports whether key names a known setting.
func ValidKey(key string) bool {
	for _, d := range defaults {
		if d.key == key {
			return true
		}
	}
	return false
}

// Keys returns the known setting keys, sorted.
func Keys() []string {
	keys := make([]string, len(defaults))
	for i, d := range defaults {
		keys[i] = d.key
	}
	sort.Strings(keys)
	return keys
}

// Set validates the key and stores the raw value.
func (s *Service) Set(key, value string) error {
	if !ValidKey(key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	return s.store.SetSetting(key, value)
}

// All returns the effective value of every setting: stored values merged
// over defaults.
func (s *Service) All() (map[string]string, error) {
	stored, err := s.store.AllSettings()
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(defaults))
	for _, d := range defaults {
		if v, ok := stored[d.key]; ok {
			result[d.key] = v
		} else {
			result[d.key] = d.val
		}
	}
	return result, nil
}

// Snapshot reads the current value of every setting.
func (s *Service) Snapshot() (Snapshot, error) {
	values, err := s.All()
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading settings: %w", err)
	}

	snap := Snapshot{
		Model:           values[KeyModel],
		ModelCustom:     parseBool(values[KeyModelCustom]),
		ModelCustomName: values[KeyModelCustomName],
		ModelCustomType: values[KeyModelCustomType],
		PrivilegedModel: values[KeyPrivilegedModel],
		SystemPrompt:    values[KeySystemPrompt],
	}
	snap.MaxResponseTokens = parseInt(values[KeyMaxResponseTokens], 500)
	snap.TemperaturePercent = parseInt(values[KeyTemperature], 100)
	snap.TopPPercent = parseInt(values[KeyTopP], 100)
	snap.FrequencyPenaltyPercent = parseInt(values[KeyFrequencyPenalty], 0)
	snap.PresencePenaltyPercent = parseInt(values[KeyPresencePenalty], 0)
	snap.MaxLookBehind = parseInt(values[KeyMaxLookBehind], 10)
	snap.BotUserID = int64(parseInt(values[KeyBotUserID], 0))
	snap.PrivilegedGroupIDs = ParseGroupList(values[KeyPrivilegedGroups])
	return snap, nil
}

// ParseGroupList parses a |-delimited list of numeric group ids,
// skipping blank and malformed entries.
func ParseGroupList(raw string) []int64 {
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func parseBool(raw string) bool {
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return b
}

func parseInt(raw string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return i
}
