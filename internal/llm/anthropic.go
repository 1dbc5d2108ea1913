package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codeforge/internal/config"
	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client
}

// NewAnthropicClient creates a client from configuration.
func NewAnthropicClient(cfg config.LLMConfig) *AnthropicClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      cfg.Model,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the backend.
func (c *AnthropicClient) Name() string { return fmt.Sprintf("anthropic:%s", c.model) }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text,omitempty"`
		Name  string         `json:"name,omitempty"`
		Input map[string]any `json:"input,omitempty"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate performs one completion with retries for transient errors.
// 401/403 are never retried.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	return c.generate(ctx, req, nil)
}

// GenerateStream performs one streaming completion.
func (c *AnthropicClient) GenerateStream(ctx context.Context, req Request, fn StreamFunc) (*Response, error) {
	return c.generate(ctx, req, fn)
}

func (c *AnthropicClient) generate(ctx context.Context, req Request, fn StreamFunc) (*Response, error) {
	if c.apiKey == "" {
		return nil, types.NewAgentError(types.KindLLMAuth, "llm", "API key not configured", nil)
	}

	body := c.buildRequest(req, fn != nil)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			select {
			case <-ctx.Done():
				return nil, types.NewAgentError(types.KindCancelled, "llm", "request cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, err := c.doRequest(ctx, body, fn)
		if err == nil {
			return resp, nil
		}
		if !types.Retryable(err) {
			return nil, err
		}
		lastErr = err
		logging.APIDebug("[anthropic] attempt %d/%d failed: %v", attempt+1, c.maxRetries+1, err)

		if ctx.Err() != nil {
			return nil, types.NewAgentError(types.KindCancelled, "llm", "request cancelled", ctx.Err())
		}
	}
	return nil, lastErr
}

func (c *AnthropicClient) buildRequest(req Request, stream bool) anthropicRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	out := anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += m.Content
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	if req.JSONOnly {
		if out.System != "" {
			out.System += "\n\n"
		}
		out.System += "Respond with valid JSON only. No prose, no markdown fences."
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

func (c *AnthropicClient) doRequest(ctx context.Context, body anthropicRequest, fn StreamFunc) (*Response, error) {
	start := time.Now()

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, types.NewAgentError(types.KindLLMTransient, "llm", "request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, resp.Body); err != nil {
		return nil, err
	}

	var out *Response
	if fn != nil {
		out, err = c.readStream(resp.Body, fn)
	} else {
		out, err = c.readResponse(resp.Body)
	}
	if err != nil {
		return nil, err
	}

	logging.APIDebug("[anthropic] completion in %v (tokens=%d tool_calls=%d)",
		time.Since(start), out.TokensUsed, len(out.ToolCalls))
	return out, nil
}

func (c *AnthropicClient) readResponse(body io.Reader) (*Response, error) {
	var parsed anthropicResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, types.NewAgentError(types.KindLLMTransient, "llm", "failed to decode response", err)
	}
	if parsed.Error != nil {
		return nil, types.NewAgentError(types.KindLLMTransient, "llm", parsed.Error.Message, nil)
	}

	out := &Response{TokensUsed: parsed.Usage.InputTokens + parsed.Usage.OutputTokens}
	var text strings.Builder
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{ToolName: block.Name, Arguments: block.Input})
		}
	}
	out.Text = StripThink(text.String())
	return out, nil
}

// readStream consumes the SSE event stream, forwarding text deltas.
func (c *AnthropicClient) readStream(body io.Reader, fn StreamFunc) (*Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var text strings.Builder
	out := &Response{}
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var event struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				text.WriteString(event.Delta.Text)
				fn(event.Delta.Text)
			}
		case "message_delta":
			out.TokensUsed += event.Usage.OutputTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, types.NewAgentError(types.KindLLMTransient, "llm", "stream read failed", err)
	}
	out.Text = StripThink(text.String())
	return out, nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy.
func classifyStatus(status int, body io.Reader) error {
	if status == http.StatusOK {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(body, 2048))
	msg := fmt.Sprintf("status %d: %s", status, string(b))

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewAgentError(types.KindLLMAuth, "llm", msg, nil)
	case status == http.StatusTooManyRequests || status >= 500:
		return types.NewAgentError(types.KindLLMTransient, "llm", msg, nil)
	default:
		return types.NewAgentError(types.KindLLMMalformed, "llm", msg, nil)
	}
}
