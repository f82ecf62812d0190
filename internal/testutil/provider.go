package testutil

import (
	"context"
	"sync"
)

// ScriptedProvider is an upstream provider double. Each Fetch consumes
// the next scripted step: a payload or an error.
type ScriptedProvider struct {
	mu    sync.Mutex
	steps []step

	// FetchCount tracks how many fetches were issued.
	FetchCount int
}

type step struct {
	payload []byte
	err     error
}

// NewScriptedProvider creates a provider with no scripted steps.
// An unscripted Fetch repeats the last step, so a single Succeed or
// Fail call scripts a constant provider.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{}
}

// Succeed appends a successful fetch returning payload.
func (p *ScriptedProvider) Succeed(payload []byte) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step{payload: payload})
	return p
}

// Fail appends a failing fetch.
func (p *ScriptedProvider) Fail(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step{err: err})
	return p
}

// Fetch implements the provider contract consumed by refresh jobs.
func (p *ScriptedProvider) Fetch(_ context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FetchCount++
	if len(p.steps) == 0 {
		return nil, nil
	}
	next := p.steps[0]
	if len(p.steps) > 1 {
		p.steps = p.steps[1:]
	}
	return next.payload, next.err
}
