// Command callcore is the main entry point for the callcore voice agent
// runtime: it terminates carrier media WebSockets and drives one Session
// Orchestrator per inbound call.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/semaphore"

	"github.com/brightlinevoice/callcore/internal/artifact"
	"github.com/brightlinevoice/callcore/internal/config"
	"github.com/brightlinevoice/callcore/internal/engine"
	"github.com/brightlinevoice/callcore/internal/engine/cascade"
	"github.com/brightlinevoice/callcore/internal/finalizer"
	"github.com/brightlinevoice/callcore/internal/health"
	"github.com/brightlinevoice/callcore/internal/mcp"
	"github.com/brightlinevoice/callcore/internal/mcp/mcphost"
	"github.com/brightlinevoice/callcore/internal/mcp/tier"
	"github.com/brightlinevoice/callcore/internal/observe"
	"github.com/brightlinevoice/callcore/internal/orchestrator"
	"github.com/brightlinevoice/callcore/internal/resilience"
	"github.com/brightlinevoice/callcore/internal/tenant"
	"github.com/brightlinevoice/callcore/internal/tool"
	"github.com/brightlinevoice/callcore/internal/transcript"
	"github.com/brightlinevoice/callcore/internal/transcript/llmcorrect"
	"github.com/brightlinevoice/callcore/internal/transcript/phonetic"
	"github.com/brightlinevoice/callcore/internal/verify"
	"github.com/brightlinevoice/callcore/pkg/audio"
	"github.com/brightlinevoice/callcore/pkg/llm"
	"github.com/brightlinevoice/callcore/pkg/llm/anyllm"
	oaillm "github.com/brightlinevoice/callcore/pkg/llm/openai"
	"github.com/brightlinevoice/callcore/pkg/media"
	"github.com/brightlinevoice/callcore/pkg/provider/embeddings"
	ollamaembed "github.com/brightlinevoice/callcore/pkg/provider/embeddings/ollama"
	oaiembed "github.com/brightlinevoice/callcore/pkg/provider/embeddings/openai"
	"github.com/brightlinevoice/callcore/pkg/s2s"
	s2sgemini "github.com/brightlinevoice/callcore/pkg/s2s/gemini"
	s2sopenai "github.com/brightlinevoice/callcore/pkg/s2s/openai"
	"github.com/brightlinevoice/callcore/pkg/stt"
	"github.com/brightlinevoice/callcore/pkg/stt/deepgram"
	"github.com/brightlinevoice/callcore/pkg/stt/openaiwhisper"
	"github.com/brightlinevoice/callcore/pkg/tts"
	ttsbuiltin "github.com/brightlinevoice/callcore/pkg/tts/builtin"
	"github.com/brightlinevoice/callcore/pkg/tts/elevenlabs"
	"github.com/brightlinevoice/callcore/pkg/tts/openaitts"
	"github.com/brightlinevoice/callcore/pkg/types"
	"github.com/brightlinevoice/callcore/pkg/vad"
	"github.com/brightlinevoice/callcore/pkg/vad/energy"
)

const version = "0.3.0"

// defaultMaxConcurrentCalls caps admission when the config leaves
// max_concurrent_calls unset.
const defaultMaxConcurrentCalls = 100

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "callcore: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "callcore: %v\n", err)
		}
		return 1
	}
	vadCfg := vad.DefaultConfig()
	applyEnvOverrides(cfg, &vadCfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("callcore starting",
		"version", version,
		"config", *configPath,
		"media_listen_addr", cfg.Server.MediaListenAddr,
		"log_level", cfg.Server.LogLevel,
		"tenants", len(cfg.Tenants),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "callcore",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Caller-verification store ─────────────────────────────────────────────
	var pool *pgxpool.Pool
	var verifyStore verify.Store
	if cfg.Memory.PostgresDSN != "" {
		pool, err = pgxpool.New(ctx, cfg.Memory.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgres pool", "err", err)
			return 1
		}
		defer pool.Close()
		dims := cfg.Memory.EmbeddingDimensions
		if dims <= 0 {
			dims = 1536
		}
		if err := verify.Migrate(ctx, pool, dims); err != nil {
			slog.Error("failed to migrate verification schema", "err", err)
			return 1
		}
		verifyStore = verify.NewPgStore(pool)
	} else {
		verifyStore = verify.NewMemStore()
	}

	var verifier *verify.Verifier
	if providers.Embeddings != nil {
		var opts []verify.Option
		if cfg.Memory.CallerMatchThreshold > 0 {
			opts = append(opts, verify.WithThreshold(cfg.Memory.CallerMatchThreshold))
		}
		verifier = verify.New(providers.Embeddings, verifyStore, phonetic.New(), opts...)
	} else {
		slog.Warn("no embeddings provider configured; caller verification limited to phone matching")
	}

	// ── Transcript correction ─────────────────────────────────────────────────
	correctorOpts := []transcript.PipelineOption{
		transcript.WithPhoneticMatcher(phonetic.New()),
	}
	if providers.LLM != nil {
		correctorOpts = append(correctorOpts, transcript.WithLLMCorrector(llmcorrect.New(providers.LLM)))
	}
	corrector := transcript.NewPipeline(correctorOpts...)

	// ── Tenant resolution + hot reload ────────────────────────────────────────
	tenantStore := tenant.NewConfigStore(cfg.Tenants)
	resolver := tenant.NewResolver(tenantStore)

	watcher, err := config.NewWatcher(*configPath, func(old, newCfg *config.Config) {
		d := config.Diff(old, newCfg)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.TenantsChanged {
			tenantStore.Reload(newCfg.Tenants)
			slog.Info("tenant config reloaded", "changes", len(d.TenantChanges))
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Artifact sink ─────────────────────────────────────────────────────────
	var sink artifact.Sink
	if cfg.Server.ArtifactSinkURL != "" {
		sink = artifact.NewHTTPSink(cfg.Server.ArtifactSinkURL, nil)
	} else {
		slog.Warn("no artifact_sink_url configured; post-call artifacts will be dropped")
	}

	// ── Per-call service ──────────────────────────────────────────────────────
	maxCalls := cfg.Server.MaxConcurrentCalls
	if maxCalls <= 0 {
		maxCalls = defaultMaxConcurrentCalls
	}

	svc := &callService{
		cfg:       cfg,
		vadCfg:    vadCfg,
		providers: providers,
		resolver:  resolver,
		verifier:  verifier,
		corrector: corrector,
		finalizer: finalizer.New(providers.LLM),
		sink:      sink,
		metrics:   metrics,
		admission: semaphore.NewWeighted(int64(maxCalls)),
	}

	// ── HTTP server: media endpoint, health, metrics ──────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/", media.NewServer(svc.handleCall).Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(healthCheckers(cfg, pool, providers)...).Register(mux)

	addr := cfg.Server.MediaListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(metrics)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Per-call wiring ───────────────────────────────────────────────────────────

// builtProviders holds the process-wide provider instances every call shares.
// Connection pooling lives inside each provider; calls never share mutable
// session state.
type builtProviders struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        *resilience.TTSFallback
	Embeddings embeddings.Provider
	S2S        s2s.Provider
}

type callService struct {
	cfg       *config.Config
	vadCfg    vad.Config
	providers *builtProviders
	resolver  *tenant.Resolver
	verifier  *verify.Verifier
	corrector transcript.Pipeline
	finalizer *finalizer.Finalizer
	sink      artifact.Sink
	metrics   *observe.Metrics
	admission *semaphore.Weighted
}

// handleCall owns one accepted carrier session from handshake to teardown.
func (svc *callService) handleCall(ctx context.Context, session *media.Session) {
	if !svc.admission.TryAcquire(1) {
		slog.Warn("call rejected: concurrent call limit reached", "call_sid", session.Meta().CallSID)
		_ = session.Close(media.CauseTransportError)
		return
	}
	defer svc.admission.Release(1)

	meta := session.Meta()
	ten, err := svc.resolver.Resolve(ctx, meta.To)
	if err != nil {
		if errors.Is(err, types.ErrUnknownNumber) {
			slog.Warn("call to unrouted number", "to", meta.To, "call_sid", meta.CallSID)
			svc.playUnknownNumberAnnouncement(ctx, session)
		} else {
			slog.Error("tenant resolution failed", "to", meta.To, "err", err)
		}
		_ = session.Close(media.CauseHangup)
		return
	}

	deps := orchestrator.Dependencies{
		Media:     session,
		Tenant:    ten,
		TTS:       svc.providers.TTS,
		TTSSource: audio.MulawAt8kHz,
		Finalizer: svc.finalizer,
		Sink:      svc.sink,
		Corrector: svc.corrector,
		Metrics:   svc.metrics,
		Tier:      tier.NewSelector(),
		Config: orchestrator.Config{
			IdleNudge:   msOrZero(svc.cfg.Server.IdleNudgeMs),
			IdleEnd:     msOrZero(svc.cfg.Server.IdleEndMs),
			TurnTimeout: msOrZero(svc.cfg.Server.TurnTimeoutMs),
		},
	}

	// Tool host + executor are per call: the lookup tool's handler closes
	// over the call's tenant and lead-flow state.
	host := mcphost.New()
	for _, srvCfg := range svc.cfg.MCP.Servers {
		if err := host.RegisterServer(ctx, mcp.ServerConfig{
			Name:      srvCfg.Name,
			Transport: srvCfg.Transport,
			Command:   srvCfg.Command,
			URL:       srvCfg.URL,
			Env:       srvCfg.Env,
		}); err != nil {
			slog.Warn("mcp server registration failed", "server", srvCfg.Name, "err", err)
		}
	}
	defer host.Close()

	executor, err := tool.NewExecutor(host, ten, nil, svc.verifier, msOrZero(svc.cfg.Server.ToolTimeoutMs))
	if err != nil {
		slog.Error("tool executor construction failed", "call_sid", meta.CallSID, "err", err)
		_ = session.Close(media.CauseTransportError)
		return
	}
	deps.Tools = executor

	switch ten.EngineMode {
	case types.EngineModeS2S:
		if svc.providers.S2S == nil {
			slog.Error("tenant requires s2s engine but none is configured", "tenant", ten.TenantID)
			_ = session.Close(media.CauseTransportError)
			return
		}
		handle, err := svc.providers.S2S.Connect(ctx, s2s.SessionConfig{
			Voice:        ten.Voice,
			Instructions: ten.Persona,
			Tools:        executor.ToolDefinitions(ten.BudgetTier),
		})
		if err != nil {
			slog.Error("s2s connect failed", "tenant", ten.TenantID, "err", err)
			_ = session.Close(media.CauseTransportError)
			return
		}
		deps.S2S = handle
	case types.EngineModeCascade:
		deps.Engine = cascade.New(svc.providers.LLM, svc.providers.LLM, ten.Persona)
	default:
		deps.Engine = engine.New(svc.providers.LLM, ten.Persona,
			engine.WithSummariser(engine.NewLLMSummariser(svc.providers.LLM)))
	}

	if deps.Engine != nil {
		if svc.providers.LLM == nil || svc.providers.STT == nil {
			slog.Error("classical pipeline requires llm and stt providers", "tenant", ten.TenantID)
			_ = session.Close(media.CauseTransportError)
			return
		}
		deps.VAD = energy.New(svc.vadCfg)
		asrSession, err := stt.NewReconnectingSession(ctx, svc.providers.STT, stt.StreamConfig{
			SampleRate: 8000,
			Channels:   1,
			Encoding:   "mulaw",
			Keywords: []stt.KeywordBoost{
				{Keyword: ten.BusinessName, Boost: 2},
				{Keyword: ten.AgentName, Boost: 1.5},
			},
		})
		if err != nil {
			slog.Error("asr session open failed", "tenant", ten.TenantID, "err", err)
			_ = session.Close(media.CauseTransportError)
			return
		}
		defer asrSession.Close()
		deps.ASR = asrSession
	}

	orch := orchestrator.New(meta.CallSID, deps)
	_ = orch.Run(ctx)
	_ = session.Close(media.CauseHangup)
}

// playUnknownNumberAnnouncement speaks the canned no-tenant announcement via
// the last-resort phrase library, then lets the caller hang up.
func (svc *callService) playUnknownNumberAnnouncement(ctx context.Context, session *media.Session) {
	playCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	go session.Run(playCtx)
	go session.Pace(playCtx)

	frames, err := svc.providers.TTS.SynthesizeStream(playCtx, oneShot(string(ttsbuiltin.PhraseTechnicalDifficulty)), types.VoiceSpec{
		Provider: "builtin",
		VoiceID:  string(ttsbuiltin.PhraseTechnicalDifficulty),
	})
	if err != nil {
		return
	}
	n := 0
	for frame := range audio.ToMulawFrames(playCtx, frames, audio.MulawAt8kHz) {
		session.Send(frame)
		n++
	}
	// Let the paced ring buffer drain before the caller is dropped.
	select {
	case <-playCtx.Done():
	case <-time.After(time.Duration(n) * 20 * time.Millisecond):
	}
}

func oneShot(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}

func msOrZero(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider packages that ship with
// callcore into the registry, keyed by the names config files use.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if e.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(e.BaseURL))
		}
		return oaillm.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterLLM("anyllm", func(e config.ProviderEntry) (llm.Provider, error) {
		backend := optString(e.Options, "backend", "openai")
		return anyllm.New(backend, e.Model)
	})

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("openai-whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []openaiwhisper.Option
		if e.BaseURL != "" {
			opts = append(opts, openaiwhisper.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, openaiwhisper.WithModel(e.Model))
		}
		return openaiwhisper.New(e.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("openai", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []openaitts.Option
		if e.BaseURL != "" {
			opts = append(opts, openaitts.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, openaitts.WithModel(e.Model))
		}
		p, err := openaitts.New(e.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		// OpenAI speech is 24 kHz PCM; normalise so the whole chain emits
		// wire-ready µ-law.
		return tts.Transcode(p, audio.PCM16At24kHz), nil
	})
	reg.RegisterTTS("builtin", func(e config.ProviderEntry) (tts.Provider, error) {
		return ttsbuiltin.New(nil), nil
	})

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaiembed.Option
		if e.BaseURL != "" {
			opts = append(opts, oaiembed.WithBaseURL(e.BaseURL))
		}
		return oaiembed.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(e.BaseURL, e.Model)
	})

	reg.RegisterS2S("openai", func(e config.ProviderEntry) (s2s.Provider, error) {
		var opts []s2sopenai.Option
		if e.Model != "" {
			opts = append(opts, s2sopenai.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, s2sopenai.WithBaseURL(e.BaseURL))
		}
		return s2sopenai.New(e.APIKey, opts...), nil
	})
	reg.RegisterS2S("gemini", func(e config.ProviderEntry) (s2s.Provider, error) {
		var opts []s2sgemini.Option
		if e.Model != "" {
			opts = append(opts, s2sgemini.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, s2sgemini.WithBaseURL(e.BaseURL))
		}
		return s2sgemini.New(e.APIKey, opts...), nil
	})
}

// buildProviders instantiates every provider named in cfg and assembles the
// TTS fallback chain: primary, documented secondary, then the builtin
// phrase library so the chain can always speak something.
func buildProviders(cfg *config.Config, reg *config.Registry) (*builtProviders, error) {
	ps := &builtProviders{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = resilience.NewLLMFallback(p, name, resilience.FallbackConfig{})
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = resilience.NewSTTFallback(p, name, resilience.FallbackConfig{})
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	ttsChain, err := buildTTSChain(cfg, reg)
	if err != nil {
		return nil, err
	}
	ps.TTS = ttsChain

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	if name := cfg.Providers.S2S.Name; name != "" {
		p, err := reg.CreateS2S(cfg.Providers.S2S)
		if err != nil {
			return nil, fmt.Errorf("create s2s provider %q: %w", name, err)
		}
		ps.S2S = p
		slog.Info("provider created", "kind", "s2s", "name", name)
	}

	return ps, nil
}

func buildTTSChain(cfg *config.Config, reg *config.Registry) (*resilience.TTSFallback, error) {
	type link struct {
		name  string
		entry config.ProviderEntry
	}
	var links []link
	if cfg.Providers.TTSPrimary.Name != "" {
		links = append(links, link{cfg.Providers.TTSPrimary.Name, cfg.Providers.TTSPrimary})
	}
	if cfg.Providers.TTSSecondary.Name != "" {
		links = append(links, link{cfg.Providers.TTSSecondary.Name, cfg.Providers.TTSSecondary})
	}
	lastResort := cfg.Providers.TTSLastResort
	if lastResort.Name == "" {
		lastResort.Name = "builtin"
	}
	links = append(links, link{lastResort.Name, lastResort})

	var chain *resilience.TTSFallback
	for _, l := range links {
		p, err := reg.CreateTTS(l.entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", l.name, err)
		}
		if chain == nil {
			chain = resilience.NewTTSFallback(p, l.name, resilience.FallbackConfig{})
		} else {
			chain.AddFallback(l.name, p)
		}
		slog.Info("provider created", "kind", "tts", "name", l.name)
	}
	return chain, nil
}

func optString(opts map[string]any, key, fallback string) string {
	if v, ok := opts[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// ── Health ────────────────────────────────────────────────────────────────────

func healthCheckers(cfg *config.Config, pool *pgxpool.Pool, ps *builtProviders) []health.Checker {
	checkers := []health.Checker{
		{
			Name: "providers",
			Check: func(ctx context.Context) error {
				if ps.LLM == nil && ps.S2S == nil {
					return errors.New("no conversation engine provider configured")
				}
				return nil
			},
		},
	}
	if pool != nil {
		checkers = append(checkers, health.Checker{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				return pool.Ping(ctx)
			},
		})
	}
	if cfg.Server.ArtifactSinkURL == "" {
		checkers = append(checkers, health.Checker{
			Name: "artifact_sink",
			Check: func(ctx context.Context) error {
				return errors.New("artifact_sink_url not configured")
			},
		})
	}
	return checkers
}

// ── Environment overrides ──────────────────────────────────────────────

// applyEnvOverrides lets the documented environment variables win over the
// YAML file, so containerised deployments can keep secrets out of the config.
func applyEnvOverrides(cfg *config.Config, vadCfg *vad.Config) {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				slog.Warn("ignoring non-integer environment override", "key", key, "value", v)
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			} else {
				slog.Warn("ignoring non-numeric environment override", "key", key, "value", v)
			}
		}
	}

	setStr("MEDIA_LISTEN_ADDR", &cfg.Server.MediaListenAddr)
	setStr("ASR_PROVIDER", &cfg.Providers.STT.Name)
	setStr("ASR_API_KEY", &cfg.Providers.STT.APIKey)
	setStr("TTS_PRIMARY", &cfg.Providers.TTSPrimary.Name)
	setStr("TTS_SECONDARY", &cfg.Providers.TTSSecondary.Name)
	setStr("TTS_LASTRESORT", &cfg.Providers.TTSLastResort.Name)
	setStr("LLM_PROVIDER", &cfg.Providers.LLM.Name)
	setStr("LLM_MODEL", &cfg.Providers.LLM.Model)
	setStr("LLM_API_KEY", &cfg.Providers.LLM.APIKey)
	setStr("ARTIFACT_SINK_URL", &cfg.Server.ArtifactSinkURL)
	setInt("IDLE_NUDGE_MS", &cfg.Server.IdleNudgeMs)
	setInt("IDLE_END_MS", &cfg.Server.IdleEndMs)
	setInt("MAX_CONCURRENT_CALLS", &cfg.Server.MaxConcurrentCalls)
	setFloat("VAD_THRESHOLD_RATIO", &vadCfg.ThresholdRatio)
	setInt("VAD_K_ON", &vadCfg.KOn)
	setInt("VAD_K_OFF", &vadCfg.KOff)
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
