package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/brightlinevoice/callcore/internal/mcp"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "anyllm"},
	"stt":        {"deepgram", "openai-whisper"},
	"tts":        {"elevenlabs", "openai", "builtin"},
	"embeddings": {"openai", "ollama"},
	"s2s":        {"openai", "gemini"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxConcurrentCalls < 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent_calls must be >= 0"))
	}
	if cfg.Server.IdleNudgeMs > 0 && cfg.Server.IdleEndMs > 0 && cfg.Server.IdleNudgeMs >= cfg.Server.IdleEndMs {
		errs = append(errs, fmt.Errorf("server.idle_nudge_ms (%d) must be less than server.idle_end_ms (%d)", cfg.Server.IdleNudgeMs, cfg.Server.IdleEndMs))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTSPrimary.Name)
	validateProviderName("tts", cfg.Providers.TTSSecondary.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("s2s", cfg.Providers.S2S.Name)

	if len(cfg.Tenants) > 0 {
		if cfg.Providers.LLM.Name == "" {
			slog.Warn("no LLM provider configured; tenants will not be able to generate responses")
		}
		if cfg.Providers.TTSPrimary.Name == "" {
			slog.Warn("no primary TTS provider configured; calls will fall back straight to the builtin phrase library")
		}
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	// Memory availability
	if cfg.Memory.PostgresDSN == "" && len(cfg.Tenants) > 0 {
		slog.Warn("memory.postgres_dsn is empty; caller verification records will be kept in memory only")
	}

	// Tenant duplicate name and number detection
	tenantNamesSeen := make(map[string]int, len(cfg.Tenants))
	numbersSeen := make(map[string]string, len(cfg.Tenants))

	for i, tenant := range cfg.Tenants {
		prefix := fmt.Sprintf("tenants[%d]", i)
		if tenant.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := tenantNamesSeen[tenant.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tenants[%d]", prefix, tenant.Name, prev))
			}
			tenantNamesSeen[tenant.Name] = i
		}
		if len(tenant.DialedNumbers) == 0 {
			errs = append(errs, fmt.Errorf("%s.dialed_numbers must list at least one number", prefix))
		}
		for _, number := range tenant.DialedNumbers {
			if owner, ok := numbersSeen[number]; ok {
				errs = append(errs, fmt.Errorf("%s: dialed number %q is already routed to tenant %q", prefix, number, owner))
				continue
			}
			numbersSeen[number] = tenant.Name
		}
		if tenant.BudgetTier != "" && !tenant.BudgetTier.IsValid() {
			errs = append(errs, fmt.Errorf("%s.budget_tier %q is invalid; valid values: fast, standard, deep", prefix, tenant.BudgetTier))
		}
		if tenant.Voice.SpeedFactor != 0 && (tenant.Voice.SpeedFactor < 0.5 || tenant.Voice.SpeedFactor > 2.0) {
			errs = append(errs, fmt.Errorf("%s.voice.speed_factor %.2f is out of range [0.5, 2.0]", prefix, tenant.Voice.SpeedFactor))
		}
		if tenant.Greeting == "" {
			errs = append(errs, fmt.Errorf("%s.greeting is required", prefix))
		}
		if tenant.EscalationPhone == "" {
			slog.Warn("tenant has no escalation_phone configured; transfer_to_human will fail for this tenant", "tenant", tenant.Name)
		}
		if tenant.EngineMode != "" && !tenant.EngineMode.IsValid() {
			errs = append(errs, fmt.Errorf("%s.engine_mode %q is invalid; valid values: classical, cascade, s2s", prefix, tenant.EngineMode))
		}
		if tenant.EngineMode == EngineModeS2S && cfg.Providers.S2S.Name == "" {
			errs = append(errs, fmt.Errorf("%s.engine_mode is s2s but providers.s2s is not configured", prefix))
		}

		// Voice provider ↔ TTS provider cross-validation
		if tenant.Voice.Provider != "" && cfg.Providers.TTSPrimary.Name != "" && tenant.Voice.Provider != cfg.Providers.TTSPrimary.Name {
			slog.Warn("tenant voice provider does not match configured primary TTS provider",
				"tenant", tenant.Name,
				"voice_provider", tenant.Voice.Provider,
				"tts_provider", cfg.Providers.TTSPrimary.Name,
			)
		}
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		transport := mcp.Transport(srv.Transport)
		if srv.Transport != "" && !transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
