package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"council/internal/fault"
)

func TestNewUnknownEngine(t *testing.T) {
	if _, err := New(Spec{Engine: "teleport"}); err == nil {
		t.Fatal("unknown engine must fail")
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := New(Spec{Engine: EngineGemini, Model: "gemini-2.5-flash"})
	if !fault.IsKind(err, fault.KindProviderError) {
		t.Fatalf("err = %v, want provider_error", err)
	}
}

func TestNewLocalDefaultsBaseURL(t *testing.T) {
	client, err := New(Spec{Engine: EngineLocal, Model: "qwen3"})
	if err != nil {
		t.Fatal(err)
	}
	oc, ok := client.(*OpenAIClient)
	if !ok {
		t.Fatalf("local engine should build an OpenAIClient, got %T", client)
	}
	if oc.baseURL != localBaseURL {
		t.Errorf("baseURL = %q", oc.baseURL)
	}
}

func TestOpenAIClientCompletes(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  the answer  "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "m1"})
	text, err := c.CompleteWithSystem(context.Background(), "be terse", "question")
	if err != nil {
		t.Fatal(err)
	}
	if text != "the answer" {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotReq.Model != "m1" || len(gotReq.Messages) != 2 {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("roles = %v", gotReq.Messages)
	}
}

func TestOpenAIClientErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, Model: "m1"})
	_, err := c.Complete(context.Background(), "q")
	if !fault.IsKind(err, fault.KindProviderError) {
		t.Fatalf("err = %v, want provider_error", err)
	}
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL})
	if _, err := c.Complete(context.Background(), "q"); err == nil {
		t.Fatal("empty choices must fail")
	}
}

func TestOpenAIClientDeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, "q")
	if !fault.IsKind(err, fault.KindTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestCLIClientStdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh-based test")
	}
	c, err := NewCLIClient(CLIConfig{Argv: []string{"cat"}, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	text, err := c.Complete(context.Background(), "prompt body")
	if err != nil {
		t.Fatal(err)
	}
	if text != "prompt body" {
		t.Errorf("text = %q", text)
	}
}

func TestCLIClientPromptPlaceholder(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh-based test")
	}
	c, err := NewCLIClient(CLIConfig{
		Argv:    []string{"sh", "-c", `printf '%s' "$0"`, "{prompt}"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	text, err := c.Complete(context.Background(), "inline prompt")
	if err != nil {
		t.Fatal(err)
	}
	if text != "inline prompt" {
		t.Errorf("text = %q", text)
	}
}

func TestCLIClientStreamsOutPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh-based test")
	}
	outPath := filepath.Join(t.TempDir(), "seat.md")
	c, err := NewCLIClient(CLIConfig{
		Argv:    []string{"sh", "-c", "echo streamed"},
		OutPath: outPath,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Complete(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "streamed" {
		t.Errorf("out file = %q", data)
	}
}

func TestCLIClientNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh-based test")
	}
	c, err := NewCLIClient(CLIConfig{Argv: []string{"sh", "-c", "echo boom >&2; exit 3"}, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Complete(context.Background(), "q")
	if !fault.IsKind(err, fault.KindProviderError) {
		t.Fatalf("err = %v, want provider_error", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("stderr tail missing from error: %v", err)
	}
}

func TestCLIClientEmptyArgv(t *testing.T) {
	if _, err := NewCLIClient(CLIConfig{}); err == nil {
		t.Fatal("empty argv must fail")
	}
}

func TestTail(t *testing.T) {
	if got := tail("abcdef", 3); got != "def" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("ab", 3); got != "ab" {
		t.Errorf("tail = %q", got)
	}
}
