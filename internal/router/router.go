// Package router walks an ordered provider list for each seat call: skip on
// budget or open breaker, retry within a spec, fall through to the next on
// final failure. The first success wins.
package router

import (
	"context"
	"time"

	"council/internal/config"
	"council/internal/fault"
	"council/internal/llm"
	"council/internal/logging"
)

// Provider is one routable spec.
type Provider struct {
	Name    string
	Model   string
	Retries int
	Client  llm.Client
}

// AttemptResult records one attempt or skip, in order.
type AttemptResult struct {
	OK        bool    `json:"ok"`
	Provider  string  `json:"provider"`
	Model     string  `json:"model,omitempty"`
	DurationS float64 `json:"duration_s,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// RouteResult is the routing outcome: the winning text plus the full
// attempt trail for metrics and the ledger.
type RouteResult struct {
	Text     string
	Provider string
	Model    string
	Attempts []AttemptResult
}

// BudgetGate decides whether a provider may be charged right now. The
// router consults it; accounting lives with the caller.
type BudgetGate func(name string) bool

// Router tries providers in order.
type Router struct {
	providers []Provider
	breaker   *Breaker
	budget    BudgetGate
}

// New builds a router. breaker may be nil (always closed); budget may be
// nil (always allowed).
func New(providers []Provider, breaker *Breaker, budget BudgetGate) *Router {
	return &Router{providers: providers, breaker: breaker, budget: budget}
}

// Complete routes one call. On total exhaustion the last failure is
// returned; an empty provider list is the synthetic no_providers error.
func (r *Router) Complete(ctx context.Context, systemPrompt, userPrompt string) (*RouteResult, error) {
	res := &RouteResult{}
	if len(r.providers) == 0 {
		return res, fault.Errorf(fault.KindProviderError, "router", "no_providers")
	}

	var lastErr error
	for _, p := range r.providers {
		if r.budget != nil && !r.budget(p.Name) {
			logging.Router("skip %s: budget_exhausted", p.Name)
			res.Attempts = append(res.Attempts, AttemptResult{Provider: p.Name, Model: p.Model, Error: "budget_exhausted"})
			lastErr = fault.Errorf(fault.KindBudgetExhausted, "router", "budget gate denied %s", p.Name)
			continue
		}
		if r.breaker != nil && r.breaker.IsOpen(p.Name) {
			logging.Router("skip %s: circuit_open", p.Name)
			res.Attempts = append(res.Attempts, AttemptResult{Provider: p.Name, Model: p.Model, Error: "circuit_open"})
			lastErr = fault.Errorf(fault.KindCircuitOpen, "router", "breaker open for %s", p.Name)
			continue
		}

		attempts := p.Retries + 1
		for i := 0; i < attempts; i++ {
			if ctx.Err() != nil {
				if lastErr == nil {
					lastErr = fault.New(fault.KindStopRequested, "router", ctx.Err())
				}
				return res, lastErr
			}

			start := time.Now()
			text, err := p.Client.CompleteWithSystem(ctx, systemPrompt, userPrompt)
			duration := time.Since(start)

			if err == nil {
				if r.breaker != nil {
					r.breaker.RecordSuccess(p.Name)
				}
				res.Attempts = append(res.Attempts, AttemptResult{
					OK: true, Provider: p.Name, Model: p.Model, DurationS: duration.Seconds(),
				})
				res.Text, res.Provider, res.Model = text, p.Name, p.Model
				logging.Router("%s/%s succeeded in %s (attempt %d/%d)",
					p.Name, p.Model, duration.Round(time.Millisecond), i+1, attempts)
				return res, nil
			}

			lastErr = err
			res.Attempts = append(res.Attempts, AttemptResult{
				Provider: p.Name, Model: p.Model, DurationS: duration.Seconds(), Error: err.Error(),
			})
			logging.RouterWarn("%s/%s attempt %d/%d failed: %v", p.Name, p.Model, i+1, attempts, err)

			if i == attempts-1 && r.breaker != nil {
				r.breaker.RecordFailure(p.Name, err)
			}
			// A dead context will not recover on retry or fallback.
			if fault.IsKind(err, fault.KindTimeout) && ctx.Err() != nil {
				return res, lastErr
			}
		}
	}
	return res, lastErr
}

// BuildProviders turns config specs into routable providers. Offline mode
// keeps only engines that never leave the host. Specs whose client cannot be
// built (a missing key, usually) are logged and dropped.
func BuildProviders(specs []config.ProviderSpec, online bool, outPath string, timeout time.Duration) []Provider {
	var providers []Provider
	for _, spec := range specs {
		if !online && spec.Online {
			logging.RouterDebug("offline mode: skipping %s", spec.Name)
			continue
		}
		client, err := llm.New(llm.Spec{
			Name:    spec.Name,
			Engine:  spec.Engine,
			Model:   spec.Model,
			BaseURL: spec.BaseURL,
			APIKey:  spec.APIKey,
			Argv:    spec.Argv,
			OutPath: outPath,
			Timeout: timeout,
		})
		if err != nil {
			logging.RouterWarn("provider %s unavailable: %v", spec.Name, err)
			continue
		}
		providers = append(providers, Provider{
			Name:    spec.Name,
			Model:   spec.Model,
			Retries: spec.Retries,
			Client:  client,
		})
	}
	return providers
}
