package config_test

import (
	"strings"
	"testing"

	"github.com/brightlinevoice/callcore/internal/config"
)

func TestValidate_DuplicateTenantNames(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
  tts_primary:
    name: elevenlabs
tenants:
  - name: brightline
    dialed_numbers: ["+15551230001"]
    greeting: "hello"
  - name: brightline
    dialed_numbers: ["+15551230002"]
    greeting: "hello"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate tenant names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_DuplicateDialedNumber(t *testing.T) {
	t.Parallel()
	yaml := `
tenants:
  - name: brightline
    dialed_numbers: ["+15551230001"]
    greeting: "hello"
  - name: acme
    dialed_numbers: ["+15551230001"]
    greeting: "hello"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for a dialed number routed to two tenants, got nil")
	}
	if !strings.Contains(err.Error(), "already routed") {
		t.Errorf("error should mention already routed, got: %v", err)
	}
}

func TestValidate_TenantRequiresDialedNumberAndGreeting(t *testing.T) {
	t.Parallel()
	yaml := `
tenants:
  - name: brightline
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for tenant missing dialed_numbers and greeting, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "dialed_numbers") {
		t.Errorf("error should mention dialed_numbers, got: %v", errStr)
	}
	if !strings.Contains(errStr, "greeting") {
		t.Errorf("error should mention greeting, got: %v", errStr)
	}
}

func TestValidate_InvalidBudgetTier(t *testing.T) {
	t.Parallel()
	yaml := `
tenants:
  - name: brightline
    dialed_numbers: ["+15551230001"]
    greeting: "hello"
    budget_tier: glacial
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid budget_tier, got nil")
	}
	if !strings.Contains(err.Error(), "budget_tier") {
		t.Errorf("error should mention budget_tier, got: %v", err)
	}
}

func TestValidate_WellFormedTenantIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
  tts_primary:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost/test"
  embedding_dimensions: 1536
tenants:
  - name: brightline
    dialed_numbers: ["+15551230001"]
    greeting: "Thanks for calling {businessName}, this is {agentName}."
    budget_tier: standard
    escalation_phone: "+15559990001"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
tenants:
  - name: TENANT1
    dialed_numbers: ["+15551230001"]
  - name: TENANT1
    dialed_numbers: ["+15551230002"]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
	if !strings.Contains(errStr, "greeting") {
		t.Errorf("error should mention greeting, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	// Check that "openai" is in the LLM list.
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
