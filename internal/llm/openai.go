package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"council/internal/fault"
	"council/internal/logging"
)

// OpenAIConfig configures an OpenAI-compatible chat endpoint. The local
// engine uses the same client pointed at a localhost server.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient implements Client against /chat/completions.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenAIClient builds the HTTP client. No key is fine for local servers.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt and returns the completion.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message. One attempt only;
// the router owns retries.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.baseURL == "" {
		return "", fault.Errorf(fault.KindProviderError, "llm.openai", "base URL not configured")
	}

	// Keep at least 100ms between requests so tight repair loops do not
	// hammer a local server.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	jsonData, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fault.New(fault.KindProviderError, "llm.openai", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fault.New(fault.KindProviderError, "llm.openai", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fault.New(fault.KindTimeout, "llm.openai", err)
		}
		return "", fault.New(fault.KindProviderError, "llm.openai", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.New(fault.KindProviderError, "llm.openai", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fault.Errorf(fault.KindProviderError, "llm.openai",
			"status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fault.New(fault.KindProviderError, "llm.openai", err)
	}
	if parsed.Error != nil {
		return "", fault.Errorf(fault.KindProviderError, "llm.openai", "API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fault.Errorf(fault.KindProviderError, "llm.openai", "no completion returned")
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	logging.RouterDebug("openai-compat %s completed in %s, response_len=%d",
		c.model, time.Since(start).Round(time.Millisecond), len(text))
	return text, nil
}

// Model returns the configured model.
func (c *OpenAIClient) Model() string { return c.model }
