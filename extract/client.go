// Package extract drives schema-constrained invoice field extraction
// against an OpenAI-compatible chat-completions endpoint.
//
// The client is stateless across invocations. Transport failures are
// retried with bounded exponential backoff; a validation failure earns
// exactly one schema-repair retry before the result is marked
// malformed. Exhausted attempts yield a failed result, never an error:
// extraction failure is a normal pipeline outcome consumed by the
// retry coordinator.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config configures the extraction client.
type Config struct {
	// BaseURL of the inference API, e.g. "https://api.groq.com/openai".
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Model identifier sent with each request.
	Model string `json:"model" yaml:"model"`

	// APIKey is sent as a bearer token. Empty is allowed for local
	// endpoints.
	APIKey string `json:"-" yaml:"-"`

	// MaxAttempts bounds transport retries (default: 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseBackoff is the initial wait between transport retries,
	// doubled each attempt (default: 1s).
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff"`

	// Timeout applies to each HTTP call (default: 120s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxPromptChars truncates OCR text fed into the prompt
	// (default: 4000).
	MaxPromptChars int `json:"max_prompt_chars" yaml:"max_prompt_chars"`

	// MaxTokens caps the completion length (default: 4096).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = 4000
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client calls the extraction endpoint.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates an extraction client.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float32       `json:"top_p"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Extract runs the full extraction chain for one document's OCR text.
// The returned result is always non-nil; its Status distinguishes
// success, malformed output, and exhausted failure.
func (c *Client) Extract(ctx context.Context, documentID, ocrText string) *Result {
	res := &Result{DocumentID: documentID}

	prompt := buildPrompt(ocrText, c.cfg.MaxPromptChars)
	content, err := c.complete(ctx, prompt, res)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}

	data, verr := c.parse(content)
	if verr == nil {
		res.Status = StatusOK
		res.Data = data
		return res
	}

	// One schema-repair retry with the validation failure spelled out.
	c.cfg.Logger.Warn("extraction validation failed, issuing repair retry",
		"document", documentID, "error", verr)

	repairPrompt := buildRepairPrompt(ocrText, c.cfg.MaxPromptChars, verr.Error())
	content, err = c.complete(ctx, repairPrompt, res)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}

	data, verr = c.parse(content)
	if verr != nil {
		res.Status = StatusMalformed
		res.Error = verr.Error()
		return res
	}

	res.Status = StatusOK
	res.Data = data
	return res
}

// parse cleans and validates one model response.
func (c *Client) parse(content string) (*InvoiceData, error) {
	cleaned, err := cleanResponse(content)
	if err != nil {
		return nil, err
	}
	return parseInvoice(cleaned, c.cfg.Logger)
}

// complete performs the chat call with bounded exponential backoff on
// transport and server errors. It respects context cancellation
// between retries.
func (c *Client) complete(ctx context.Context, prompt string, res *Result) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		res.Attempts++
		content, err := c.completeOnce(ctx, prompt)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", lastErr
		}

		if attempt < c.cfg.MaxAttempts-1 {
			wait := c.cfg.BaseBackoff * (1 << uint(attempt))
			c.cfg.Logger.Warn("retrying extraction call",
				"attempt", attempt+1,
				"max_attempts", c.cfg.MaxAttempts,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
			select {
			case <-ctx.Done():
				return "", lastErr
			case <-time.After(wait):
			}
		}
	}
	return "", lastErr
}

func (c *Client) completeOnce(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   c.cfg.MaxTokens,
		TopP:        1,
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(reqJSON))
	if err != nil {
		return "", fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	startTime := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(startTime)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("response has no choices")
	}

	c.cfg.Logger.Debug("extraction response received",
		"duration", duration,
		"tokens", chatResp.Usage.TotalTokens,
		"finish_reason", chatResp.Choices[0].FinishReason)

	return chatResp.Choices[0].Message.Content, nil
}
