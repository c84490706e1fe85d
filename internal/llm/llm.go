// Package llm holds the provider clients the router drives. Every engine
// implements the same two-method Client surface; the text that comes back is
// opaque to everything above the decision extractor.
package llm

import (
	"context"
	"time"

	"council/internal/fault"
)

// Client is the completion surface a seat call goes through.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Engine names accepted in provider specs.
const (
	EngineGemini       = "gemini"
	EngineOpenAICompat = "openai-compat"
	EngineCLI          = "cli"
	EngineLocal        = "local"
)

// Spec is everything needed to build one provider client.
type Spec struct {
	Name    string
	Engine  string
	Model   string
	BaseURL string
	APIKey  string
	// Argv is the subprocess template for the cli engine. A "{prompt}"
	// element is substituted; otherwise the prompt goes to stdin.
	Argv []string
	// OutPath streams a cli seat's stdout to disk as it arrives.
	OutPath string
	Timeout time.Duration
}

// localBaseURL is where the local engine expects an OpenAI-compatible
// server when none is configured.
const localBaseURL = "http://127.0.0.1:11434/v1"

// New builds the client for spec.Engine.
func New(spec Spec) (Client, error) {
	switch spec.Engine {
	case EngineGemini:
		return NewGeminiClient(GeminiConfig{
			APIKey:  spec.APIKey,
			Model:   spec.Model,
			Timeout: spec.Timeout,
		})
	case EngineOpenAICompat:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  spec.APIKey,
			BaseURL: spec.BaseURL,
			Model:   spec.Model,
			Timeout: spec.Timeout,
		}), nil
	case EngineLocal:
		baseURL := spec.BaseURL
		if baseURL == "" {
			baseURL = localBaseURL
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  spec.APIKey,
			BaseURL: baseURL,
			Model:   spec.Model,
			Timeout: spec.Timeout,
		}), nil
	case EngineCLI:
		return NewCLIClient(CLIConfig{
			Argv:    spec.Argv,
			OutPath: spec.OutPath,
			Timeout: spec.Timeout,
		})
	default:
		return nil, fault.Errorf(fault.KindProviderError, "llm.new", "unknown engine %q", spec.Engine)
	}
}
