package config_test

import (
	"testing"

	"github.com/brightlinevoice/callcore/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Tenants: []config.TenantConfig{
			{Name: "Alice", Persona: "kind", BudgetTier: config.BudgetFast},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.TenantsChanged {
		t.Error("expected TenantsChanged=false for identical configs")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if len(d.TenantChanges) != 0 {
		t.Errorf("expected 0 tenant changes, got %d", len(d.TenantChanges))
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	newCfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_TenantPersonaChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Bob", Persona: "grumpy"},
		},
	}
	newCfg := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Bob", Persona: "cheerful"},
		},
	}

	d := config.Diff(old, newCfg)
	if !d.TenantsChanged {
		t.Error("expected TenantsChanged=true")
	}
	if len(d.TenantChanges) != 1 {
		t.Fatalf("expected 1 tenant change, got %d", len(d.TenantChanges))
	}
	if !d.TenantChanges[0].PersonaChanged {
		t.Error("expected PersonaChanged=true")
	}
	if d.TenantChanges[0].VoiceChanged {
		t.Error("expected VoiceChanged=false")
	}
}

func TestDiff_TenantVoiceChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Carol", Voice: config.VoiceConfig{VoiceID: "v1"}},
		},
	}
	newCfg := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Carol", Voice: config.VoiceConfig{VoiceID: "v2"}},
		},
	}

	d := config.Diff(old, newCfg)
	if !d.TenantsChanged {
		t.Error("expected TenantsChanged=true")
	}
	found := false
	for _, tc := range d.TenantChanges {
		if tc.Name == "Carol" && tc.VoiceChanged {
			found = true
		}
	}
	if !found {
		t.Error("expected Carol's VoiceChanged=true")
	}
}

func TestDiff_TenantBudgetTierChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Dan", BudgetTier: config.BudgetFast},
		},
	}
	newCfg := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Dan", BudgetTier: config.BudgetDeep},
		},
	}

	d := config.Diff(old, newCfg)
	if !d.TenantsChanged {
		t.Error("expected TenantsChanged=true")
	}
	found := false
	for _, tc := range d.TenantChanges {
		if tc.Name == "Dan" && tc.BudgetTierChanged {
			found = true
		}
	}
	if !found {
		t.Error("expected Dan's BudgetTierChanged=true")
	}
}

func TestDiff_TenantLeadQuestionsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Ivy", LeadQuestions: []string{"q1"}},
		},
	}
	newCfg := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Ivy", LeadQuestions: []string{"q1", "q2"}},
		},
	}

	d := config.Diff(old, newCfg)
	if !d.TenantsChanged {
		t.Error("expected TenantsChanged=true")
	}
	if !d.TenantChanges[0].LeadQuestionChanged {
		t.Error("expected LeadQuestionChanged=true")
	}
}

func TestDiff_TenantAdded(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Eve"},
		},
	}
	newCfg := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Eve"},
			{Name: "Frank"},
		},
	}

	d := config.Diff(old, newCfg)
	if !d.TenantsChanged {
		t.Error("expected TenantsChanged=true")
	}
	found := false
	for _, tc := range d.TenantChanges {
		if tc.Name == "Frank" && tc.Added {
			found = true
		}
	}
	if !found {
		t.Error("expected Frank Added=true")
	}
}

func TestDiff_TenantRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Grace"},
			{Name: "Hank"},
		},
	}
	newCfg := &config.Config{
		Tenants: []config.TenantConfig{
			{Name: "Grace"},
		},
	}

	d := config.Diff(old, newCfg)
	if !d.TenantsChanged {
		t.Error("expected TenantsChanged=true")
	}
	found := false
	for _, tc := range d.TenantChanges {
		if tc.Name == "Hank" && tc.Removed {
			found = true
		}
	}
	if !found {
		t.Error("expected Hank Removed=true")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Tenants: []config.TenantConfig{
			{Name: "A", Persona: "p1"},
			{Name: "B", BudgetTier: config.BudgetFast},
		},
	}
	newCfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelWarn},
		Tenants: []config.TenantConfig{
			{Name: "A", Persona: "p2"},
			{Name: "C"},
		},
	}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.TenantsChanged {
		t.Error("expected TenantsChanged=true")
	}
	// A: persona changed, B: removed, C: added
	changes := make(map[string]config.TenantDiff)
	for _, tc := range d.TenantChanges {
		changes[tc.Name] = tc
	}
	if !changes["A"].PersonaChanged {
		t.Error("expected A PersonaChanged=true")
	}
	if !changes["B"].Removed {
		t.Error("expected B Removed=true")
	}
	if !changes["C"].Added {
		t.Error("expected C Added=true")
	}
}
