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

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client
}

// NewOpenAIClient creates a client from configuration.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      cfg.Model,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the backend.
func (c *OpenAIClient) Name() string { return fmt.Sprintf("openai:%s", c.model) }

type openaiRequest struct {
	Model          string             `json:"model"`
	Messages       []Message          `json:"messages"`
	Tools          []openaiTool       `json:"tools,omitempty"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	Stream         bool               `json:"stream,omitempty"`
	ResponseFormat *map[string]string `json:"response_format,omitempty"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate performs one completion with retries for transient errors.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	return c.generate(ctx, req, nil)
}

// GenerateStream performs one streaming completion.
func (c *OpenAIClient) GenerateStream(ctx context.Context, req Request, fn StreamFunc) (*Response, error) {
	return c.generate(ctx, req, fn)
}

func (c *OpenAIClient) generate(ctx context.Context, req Request, fn StreamFunc) (*Response, error) {
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
		logging.APIDebug("[openai] attempt %d/%d failed: %v", attempt+1, c.maxRetries+1, err)

		if ctx.Err() != nil {
			return nil, types.NewAgentError(types.KindCancelled, "llm", "request cancelled", ctx.Err())
		}
	}
	return nil, lastErr
}

func (c *OpenAIClient) buildRequest(req Request, stream bool) openaiRequest {
	out := openaiRequest{
		Model:     c.model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if req.JSONOnly {
		out.ResponseFormat = &map[string]string{"type": "json_object"}
	}
	for _, t := range req.Tools {
		var tool openaiTool
		tool.Type = "function"
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, tool)
	}
	return out
}

func (c *OpenAIClient) doRequest(ctx context.Context, body openaiRequest, fn StreamFunc) (*Response, error) {
	start := time.Now()

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

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

	logging.APIDebug("[openai] completion in %v (tokens=%d tool_calls=%d)",
		time.Since(start), out.TokensUsed, len(out.ToolCalls))
	return out, nil
}

func (c *OpenAIClient) readResponse(body io.Reader) (*Response, error) {
	var parsed openaiResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, types.NewAgentError(types.KindLLMTransient, "llm", "failed to decode response", err)
	}
	if parsed.Error != nil {
		return nil, types.NewAgentError(types.KindLLMTransient, "llm", parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return nil, types.NewAgentError(types.KindLLMMalformed, "llm", "no choices in response", nil)
	}

	choice := parsed.Choices[0].Message
	out := &Response{
		Text:       StripThink(choice.Content),
		TokensUsed: parsed.Usage.TotalTokens,
	}
	for _, tc := range choice.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, types.NewAgentError(types.KindLLMMalformed, "llm",
					fmt.Sprintf("tool call arguments not valid JSON: %v", err), nil)
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ToolName: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func (c *OpenAIClient) readStream(body io.Reader, fn StreamFunc) (*Response, error) {
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
		if payload == "[DONE]" {
			break
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *struct {
				TotalTokens int `json:"total_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		if len(event.Choices) > 0 && event.Choices[0].Delta.Content != "" {
			text.WriteString(event.Choices[0].Delta.Content)
			fn(event.Choices[0].Delta.Content)
		}
		if event.Usage != nil {
			out.TokensUsed = event.Usage.TotalTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, types.NewAgentError(types.KindLLMTransient, "llm", "stream read failed", err)
	}
	out.Text = StripThink(text.String())
	return out, nil
}
