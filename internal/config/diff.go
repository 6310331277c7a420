package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; a live call's
// [types.TenantContext] is immutable for that call's duration regardless of
// what this reports, so these changes apply to calls accepted afterward.
type ConfigDiff struct {
	TenantsChanged  bool         // true if any tenant persona, voice, greeting, or budget_tier changed
	TenantChanges   []TenantDiff // per-tenant diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// TenantDiff describes what changed for a single tenant between two configs.
type TenantDiff struct {
	Name                string
	PersonaChanged      bool
	GreetingChanged     bool
	VoiceChanged        bool
	BudgetTierChanged   bool
	LeadQuestionChanged bool
	Added               bool
	Removed             bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, newCfg *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != newCfg.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = newCfg.Server.LogLevel
	}

	// Build tenant lookup maps keyed by name.
	oldTenants := make(map[string]*TenantConfig, len(old.Tenants))
	for i := range old.Tenants {
		oldTenants[old.Tenants[i].Name] = &old.Tenants[i]
	}
	newTenants := make(map[string]*TenantConfig, len(newCfg.Tenants))
	for i := range newCfg.Tenants {
		newTenants[newCfg.Tenants[i].Name] = &newCfg.Tenants[i]
	}

	// Detect modified and removed tenants.
	for name, oldTenant := range oldTenants {
		newTenant, exists := newTenants[name]
		if !exists {
			d.TenantChanges = append(d.TenantChanges, TenantDiff{
				Name:    name,
				Removed: true,
			})
			d.TenantsChanged = true
			continue
		}
		td := diffTenant(name, oldTenant, newTenant)
		if td.PersonaChanged || td.GreetingChanged || td.VoiceChanged || td.BudgetTierChanged || td.LeadQuestionChanged {
			d.TenantChanges = append(d.TenantChanges, td)
			d.TenantsChanged = true
		}
	}

	// Detect added tenants.
	for name := range newTenants {
		if _, exists := oldTenants[name]; !exists {
			d.TenantChanges = append(d.TenantChanges, TenantDiff{
				Name:  name,
				Added: true,
			})
			d.TenantsChanged = true
		}
	}

	return d
}

// diffTenant compares two tenant configs with the same name.
func diffTenant(name string, old, newTenant *TenantConfig) TenantDiff {
	td := TenantDiff{Name: name}

	if old.Persona != newTenant.Persona {
		td.PersonaChanged = true
	}
	if old.Greeting != newTenant.Greeting {
		td.GreetingChanged = true
	}
	if old.Voice != newTenant.Voice {
		td.VoiceChanged = true
	}
	if old.BudgetTier != newTenant.BudgetTier {
		td.BudgetTierChanged = true
	}
	if !equalStringSlices(old.LeadQuestions, newTenant.LeadQuestions) {
		td.LeadQuestionChanged = true
	}

	return td
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
