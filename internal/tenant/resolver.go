// Package tenant resolves an inbound dialed number to a [types.TenantContext]
// at call start: query the tenant store, load the agent's persona and voice, and
// render the greeting's {businessName}/{agentName} placeholders before the
// Session Orchestrator speaks it.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/brightlinevoice/callcore/internal/config"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// Store looks up the tenant routed to a dialed number.
//
// Implementations must be safe for concurrent use. [ConfigStore] backs a
// single-process deployment directly off the loaded [config.Config]; a
// PostgreSQL-backed implementation can satisfy the same interface for
// deployments that manage tenants outside the static config file.
type Store interface {
	// TenantByDialedNumber returns the tenant routed to number, in E.164 form.
	// Returns [types.ErrUnknownNumber] if no tenant claims that number.
	TenantByDialedNumber(ctx context.Context, number string) (config.TenantConfig, error)
}

// ConfigStore is a [Store] backed by an in-memory index over a static
// []config.TenantConfig, rebuilt whenever [ConfigStore.Reload] is called
// (e.g., in response to a hot-reload from the config watcher).
type ConfigStore struct {
	mu     sync.RWMutex
	byDial map[string]config.TenantConfig
}

// NewConfigStore builds a ConfigStore indexed over tenants.
func NewConfigStore(tenants []config.TenantConfig) *ConfigStore {
	s := &ConfigStore{}
	s.Reload(tenants)
	return s
}

// Reload replaces the store's index with a freshly built one from tenants.
// Safe to call concurrently with TenantByDialedNumber.
func (s *ConfigStore) Reload(tenants []config.TenantConfig) {
	idx := make(map[string]config.TenantConfig, len(tenants))
	for _, t := range tenants {
		for _, n := range t.DialedNumbers {
			idx[n] = t
		}
	}
	s.mu.Lock()
	s.byDial = idx
	s.mu.Unlock()
}

// TenantByDialedNumber implements [Store].
func (s *ConfigStore) TenantByDialedNumber(ctx context.Context, number string) (config.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byDial[number]
	if !ok {
		return config.TenantConfig{}, types.ErrUnknownNumber
	}
	return t, nil
}

// Resolver resolves dialed numbers into [types.TenantContext] values ready
// for the Session Orchestrator to consume at call start.
type Resolver struct {
	store Store
}

// NewResolver builds a Resolver backed by store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve implements the resolve_tenant operation: look up the
// dialed number, then render the tenant's greeting and idle lines with
// {businessName}/{agentName} substituted. Returns [types.ErrUnknownNumber]
// unchanged so callers can distinguish it from other resolution failures.
//
// Resolve is idempotent: calling it twice with the same dialed number and an
// unchanged store produces byte-identical [types.TenantContext] values.
func (r *Resolver) Resolve(ctx context.Context, dialedNumber string) (*types.TenantContext, error) {
	tc, err := r.store.TenantByDialedNumber(ctx, dialedNumber)
	if err != nil {
		if errors.Is(err, types.ErrUnknownNumber) {
			return nil, err
		}
		return nil, fmt.Errorf("tenant: resolve %q: %w", dialedNumber, err)
	}

	leadQuestions := make([]types.LeadQuestion, 0, len(tc.LeadQuestions))
	for i, q := range tc.LeadQuestions {
		leadQuestions = append(leadQuestions, types.LeadQuestion{
			ID:   fmt.Sprintf("q%d", i+1),
			Text: q,
			Kind: types.LeadQuestionText,
		})
	}

	ctxResult := &types.TenantContext{
		TenantID:            tc.Name,
		BusinessName:        tc.BusinessName,
		AgentName:           tc.AgentName,
		Persona:             renderTemplate(tc.Persona, tc.BusinessName, tc.AgentName),
		Greeting:            renderTemplate(tc.Greeting, tc.BusinessName, tc.AgentName),
		IdleNudgeLine:       renderTemplate(defaultIdleNudge, tc.BusinessName, tc.AgentName),
		IdleClosingLine:     renderTemplate(defaultIdleClosing, tc.BusinessName, tc.AgentName),
		DegradedASRLine:     renderTemplate(defaultDegradedASR, tc.BusinessName, tc.AgentName),
		Voice: types.VoiceSpec{
			Provider: tc.Voice.Provider,
			VoiceID:  tc.Voice.VoiceID,
		},
		LeadQuestions:       leadQuestions,
		EscalationPhone:     tc.EscalationPhone,
		PMIntegrationHandle: tc.PMIntegrationHandle,
		BudgetTier:          tc.BudgetTier.ToTypes(),
		EngineMode:          tc.EngineMode.ToTypes(),
		S2SProvider:         tc.S2SProvider,
	}

	return ctxResult, nil
}

const (
	defaultIdleNudge   = "Sorry, I didn't catch that. Are you still there?"
	defaultIdleClosing = "I haven't heard from you in a while, so I'll let you go. Feel free to call {businessName} back anytime."
	defaultDegradedASR = "I'm having trouble hearing you clearly. Please enter your callback number on the keypad, followed by the pound key."
)

// renderTemplate substitutes the {businessName} and {agentName} placeholders.
// Any other literal braces in tenant-authored text pass through untouched.
func renderTemplate(tmpl, businessName, agentName string) string {
	r := strings.NewReplacer(
		"{businessName}", businessName,
		"{agentName}", agentName,
	)
	return r.Replace(tmpl)
}
