// Package llm abstracts the model wire protocol behind a single
// Generate call with a streaming variant. Backends are hand-rolled
// HTTP clients (Anthropic native and OpenAI-compatible); responses are
// cleaned of <think> blocks before being returned to callers.
package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"codeforge/internal/config"
)

// Message is one conversation message.
type Message struct {
	Role    string `json:"role"` // user | assistant | system
	Content string `json:"content"`
}

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Request is a single generation request.
type Request struct {
	Messages  []Message
	Tools     []ToolSpec
	JSONOnly  bool // demand a JSON-only response
	MaxTokens int  // output cap; 0 uses the backend default
}

// Response is either text or a set of tool calls.
type Response struct {
	Text      string
	ToolCalls []ToolCall

	// TokensUsed is the backend-reported total token usage, when the
	// API provides it; 0 otherwise.
	TokensUsed int
}

// StreamFunc receives text chunks as they arrive.
type StreamFunc func(chunk string)

// Client is the minimal interface the planner and orchestrator use.
type Client interface {
	// Generate performs one completion.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream performs one completion, delivering text chunks
	// through fn as they arrive. The returned response holds the full
	// cleaned text.
	GenerateStream(ctx context.Context, req Request, fn StreamFunc) (*Response, error)

	// Name identifies the backend.
	Name() string
}

// NewClient creates a client from configuration.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	case "openai":
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'anthropic' or 'openai')", cfg.Provider)
	}
}

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes <think>...</think> blocks from model output.
// An unterminated block is dropped to the end of the text.
func StripThink(text string) string {
	cleaned := thinkBlockRe.ReplaceAllString(text, "")
	if idx := strings.Index(cleaned, "<think>"); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	return strings.TrimSpace(cleaned)
}
