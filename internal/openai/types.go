package openai

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Message is one role-tagged entry of a chat request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a chat completion call.
type ChatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
}

// CompletionRequest is the body of a plain completion call.
type CompletionRequest struct {
	Model            string  `json:"model"`
	Prompt           string  `json:"prompt"`
	MaxTokens        int     `json:"max_tokens"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
}

// TokenCount tolerates the usage fields arriving as JSON numbers or as
// numeric strings. Absent or unparseable values decode to zero.
type TokenCount int64

func (t *TokenCount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*t = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Some backends report fractional counts; truncate those too.
		if f, ferr := strconv.ParseFloat(raw, 64); ferr == nil {
			*t = TokenCount(f)
			return nil
		}
		*t = 0
		return nil
	}
	*t = TokenCount(n)
	return nil
}

// Usage carries the token accounting of one response.
type Usage struct {
	PromptTokens     TokenCount `json:"prompt_tokens"`
	CompletionTokens TokenCount `json:"completion_tokens"`
	TotalTokens      TokenCount `json:"total_tokens"`
}

// apiError is the error payload the endpoint returns instead of choices.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// UnmarshalJSON accepts both the object form {"message": ...} and a bare
// string, which some proxies emit.
func (e *apiError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}
	type plain apiError
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = apiError(p)
	return nil
}

type chatChoice struct {
	Message Message `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
	Error   *apiError    `json:"error"`
}

type completionChoice struct {
	Text string `json:"text"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
	Error   *apiError          `json:"error"`
}

// Result classifies one remote call. Exactly one of Text or
// ErrorMessage is meaningful: a non-empty ErrorMessage means the
// endpoint answered with an error payload.
type Result struct {
	Text         string
	Usage        Usage
	ErrorMessage string
}

// Failed reports whether the endpoint returned an error payload.
func (r Result) Failed() bool {
	return r.ErrorMessage != ""
}
