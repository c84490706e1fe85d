package router

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"council/internal/config"
	"council/internal/fault"
)

// stubClient scripts responses per call.
type stubClient struct {
	calls   int
	results []stubResult
}

type stubResult struct {
	text string
	err  error
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	r := s.results[i]
	return r.text, r.err
}

func ok(text string) *stubClient {
	return &stubClient{results: []stubResult{{text: text}}}
}

func failing(err error) *stubClient {
	return &stubClient{results: []stubResult{{err: err}}}
}

func testBreaker(t *testing.T) *Breaker {
	t.Helper()
	return NewBreaker(filepath.Join(t.TempDir(), "providers.json"), 120*time.Second)
}

func TestCompleteFirstProviderWins(t *testing.T) {
	second := ok("should not run")
	r := New([]Provider{
		{Name: "a", Model: "m-a", Client: ok("from a")},
		{Name: "b", Model: "m-b", Client: second},
	}, testBreaker(t), nil)

	res, err := r.Complete(context.Background(), "", "q")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "from a" || res.Provider != "a" || res.Model != "m-a" {
		t.Errorf("res = %+v", res)
	}
	if second.calls != 0 {
		t.Error("second provider should not be tried")
	}
	if len(res.Attempts) != 1 || !res.Attempts[0].OK {
		t.Errorf("attempts = %+v", res.Attempts)
	}
}

func TestCompleteFallsThroughOnFailure(t *testing.T) {
	r := New([]Provider{
		{Name: "a", Client: failing(errors.New("down"))},
		{Name: "b", Client: ok("from b")},
	}, testBreaker(t), nil)

	res, err := r.Complete(context.Background(), "", "q")
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != "b" {
		t.Errorf("Provider = %s", res.Provider)
	}
	if len(res.Attempts) != 2 {
		t.Errorf("attempts = %+v", res.Attempts)
	}
	if res.Attempts[0].OK || res.Attempts[0].Error == "" {
		t.Errorf("first attempt = %+v", res.Attempts[0])
	}
}

func TestCompleteRetriesWithinSpec(t *testing.T) {
	flaky := &stubClient{results: []stubResult{
		{err: errors.New("blip")},
		{text: "second try"},
	}}
	r := New([]Provider{{Name: "a", Retries: 2, Client: flaky}}, testBreaker(t), nil)

	res, err := r.Complete(context.Background(), "", "q")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "second try" {
		t.Errorf("Text = %q", res.Text)
	}
	if flaky.calls != 2 {
		t.Errorf("calls = %d, want 2", flaky.calls)
	}
}

func TestCompleteRetriesPlusOneThenBreaker(t *testing.T) {
	down := failing(errors.New("down"))
	b := testBreaker(t)
	r := New([]Provider{{Name: "a", Retries: 2, Client: down}}, b, nil)

	_, err := r.Complete(context.Background(), "", "q")
	if err == nil {
		t.Fatal("want last failure")
	}
	if down.calls != 3 {
		t.Errorf("calls = %d, want retries+1 = 3", down.calls)
	}
	if !b.IsOpen("a") {
		t.Error("breaker should be open after final failure")
	}
}

func TestCompleteEmptyListIsNoProviders(t *testing.T) {
	r := New(nil, testBreaker(t), nil)
	_, err := r.Complete(context.Background(), "", "q")
	if !fault.IsKind(err, fault.KindProviderError) {
		t.Fatalf("err = %v", err)
	}
}

func TestCompleteBudgetGateSkips(t *testing.T) {
	a := ok("expensive")
	r := New([]Provider{
		{Name: "cloud", Client: a},
		{Name: "local", Client: ok("cheap")},
	}, testBreaker(t), func(name string) bool { return name != "cloud" })

	res, err := r.Complete(context.Background(), "", "q")
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != "local" {
		t.Errorf("Provider = %s", res.Provider)
	}
	if a.calls != 0 {
		t.Error("budget-denied provider must not be called")
	}
	if res.Attempts[0].Error != "budget_exhausted" {
		t.Errorf("attempts[0] = %+v", res.Attempts[0])
	}
}

func TestCompleteAllBudgetDenied(t *testing.T) {
	r := New([]Provider{{Name: "a", Client: ok("x")}}, testBreaker(t), func(string) bool { return false })
	_, err := r.Complete(context.Background(), "", "q")
	if !fault.IsKind(err, fault.KindBudgetExhausted) {
		t.Fatalf("err = %v, want budget_exhausted", err)
	}
}

func TestCompleteOpenBreakerSkips(t *testing.T) {
	b := testBreaker(t)
	b.RecordFailure("a", errors.New("earlier failure"))

	tried := ok("should not run")
	r := New([]Provider{
		{Name: "a", Client: tried},
		{Name: "b", Client: ok("fallback")},
	}, b, nil)

	res, err := r.Complete(context.Background(), "", "q")
	if err != nil {
		t.Fatal(err)
	}
	if tried.calls != 0 {
		t.Error("open provider must be skipped")
	}
	if res.Provider != "b" {
		t.Errorf("Provider = %s", res.Provider)
	}
	if res.Attempts[0].Error != "circuit_open" {
		t.Errorf("attempts[0] = %+v", res.Attempts[0])
	}
}

func TestCompleteOnlyOpenBreakersIsCircuitOpen(t *testing.T) {
	b := testBreaker(t)
	b.RecordFailure("a", errors.New("x"))
	r := New([]Provider{{Name: "a", Client: ok("x")}}, b, nil)

	_, err := r.Complete(context.Background(), "", "q")
	if !fault.IsKind(err, fault.KindCircuitOpen) {
		t.Fatalf("err = %v, want circuit_open", err)
	}
}

func TestBreakerWindowExpires(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(filepath.Join(t.TempDir(), "providers.json"), 120*time.Second).
		WithClock(func() time.Time { return now })

	b.RecordFailure("a", errors.New("x"))
	if !b.IsOpen("a") {
		t.Fatal("should be open inside the window")
	}

	now = now.Add(121 * time.Second)
	if b.IsOpen("a") {
		t.Error("window elapsed: the next natural attempt probes the provider")
	}
}

func TestBreakerSuccessClearsOpen(t *testing.T) {
	b := testBreaker(t)
	b.RecordFailure("a", errors.New("x"))
	b.RecordSuccess("a")
	if b.IsOpen("a") {
		t.Error("success must clear open_until")
	}
	st := b.State("a")
	if st.OpenUntil != 0 || st.LastOK == 0 || st.Successes != 1 || st.Failures != 1 {
		t.Errorf("state = %+v", st)
	}
}

func TestBreakerSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	NewBreaker(path, time.Hour).RecordFailure("a", errors.New("x"))

	// A second process view reads the same disk state.
	if !NewBreaker(path, time.Hour).IsOpen("a") {
		t.Error("breaker state should live on disk, not in memory")
	}
}

func TestBuildProvidersOfflineFiltersOnline(t *testing.T) {
	specs := []config.ProviderSpec{
		{Name: "gemini", Engine: "gemini", Model: "g", APIKey: "k", Online: true},
		{Name: "local", Engine: "local", Model: "qwen3"},
	}
	providers := BuildProviders(specs, false, "", time.Minute)
	if len(providers) != 1 || providers[0].Name != "local" {
		t.Errorf("providers = %+v", providers)
	}
}

func TestBuildProvidersDropsUnbuildable(t *testing.T) {
	specs := []config.ProviderSpec{
		{Name: "gemini", Engine: "gemini", Model: "g", Online: true}, // no key
		{Name: "cli", Engine: "cli", Argv: []string{"echo"}},
	}
	providers := BuildProviders(specs, true, "", time.Minute)
	if len(providers) != 1 || providers[0].Name != "cli" {
		t.Errorf("providers = %+v", providers)
	}
}
