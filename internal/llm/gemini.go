package llm

import (
	"context"
	"strings"
	"time"

	"google.golang.org/genai"

	"council/internal/fault"
	"council/internal/logging"
)

// GeminiConfig configures the Gemini SDK client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GeminiClient implements Client over the Google GenAI SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates the SDK client. The key is required here, not at
// call time, so a misconfigured provider fails before any slot is taken.
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fault.Errorf(fault.KindProviderError, "llm.gemini", "API key not configured")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fault.New(fault.KindProviderError, "llm.gemini", err)
	}
	return &GeminiClient{client: client, model: model, timeout: timeout}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), cfg)
	if err != nil {
		logging.RouterWarn("gemini %s failed after %s: %v", c.model, time.Since(start).Round(time.Millisecond), err)
		return "", fault.New(fault.KindProviderError, "llm.gemini", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fault.Errorf(fault.KindProviderError, "llm.gemini", "no completion returned")
	}
	logging.RouterDebug("gemini %s completed in %s, response_len=%d",
		c.model, time.Since(start).Round(time.Millisecond), len(text))
	return text, nil
}

// Model returns the configured model.
func (c *GeminiClient) Model() string { return c.model }
