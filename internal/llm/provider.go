// Package llm provides a small, uniform chat interface over the model
// backends used for intent parsing (OpenAI-compatible APIs and Ollama),
// with fallback routing between them.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider names used in the llm.primary setting.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

var (
	ErrNoAPIKey      = errors.New("llm: API key not configured")
	ErrRateLimit     = errors.New("llm: rate limit exceeded")
	ErrProviderDown  = errors.New("llm: provider unavailable")
	ErrInvalidModel  = errors.New("llm: invalid model")
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrNoProviders   = errors.New("llm: no providers configured")
)

// Role is the sender of a chat message. Intent parsing sends one system
// prompt followed by the user's question.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// FinishReason says why generation stopped. FinishLength on an intent reply
// usually means max_tokens is too small for the JSON object.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is a completed, non-streamed reply.
type Response struct {
	Content      string        `json:"content"`
	FinishReason FinishReason  `json:"finish_reason"`
	Usage        Usage         `json:"usage"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	Latency      time.Duration `json:"latency"`
}

// Usage is the token count reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatOptions configures a single chat request. Temperature is always sent,
// so the zero value asks for deterministic output.
type ChatOptions struct {
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	// JSONMode asks the backend to constrain output to a JSON object.
	JSONMode bool `json:"json_mode,omitempty"`
}

// LLMProvider is a chat backend the intent parser can talk to. *Router
// implements it too, so the parser never sees the fallback chain.
type LLMProvider interface {
	Name() string
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error)
	// Ping reports whether the backend is reachable with the configured credentials.
	Ping(ctx context.Context) error
}

func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message   { return Message{Role: RoleUser, Content: content} }

// String summarises the reply for debug logs.
func (r *Response) String() string {
	truncated := r.Content
	if len(truncated) > 100 {
		truncated = truncated[:100] + "..."
	}
	return fmt.Sprintf("[%s/%s] %q, %d tokens, %v",
		r.Provider, r.Model, truncated, r.Usage.TotalTokens, r.Latency.Round(time.Millisecond))
}
