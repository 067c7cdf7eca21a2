// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/adviso-dev/adviso/internal/admission"
	"github.com/adviso-dev/adviso/internal/advisor"
	"github.com/adviso-dev/adviso/internal/billing"
	"github.com/adviso-dev/adviso/internal/config"
	"github.com/adviso-dev/adviso/internal/dedup"
	"github.com/adviso-dev/adviso/internal/maintenance"
	"github.com/adviso-dev/adviso/internal/prompt"
	"github.com/adviso-dev/adviso/internal/provider"
	anthropicprov "github.com/adviso-dev/adviso/internal/provider/anthropic"
	googleprov "github.com/adviso-dev/adviso/internal/provider/google"
	openaiprov "github.com/adviso-dev/adviso/internal/provider/openai"
	"github.com/adviso-dev/adviso/internal/security"
	"github.com/adviso-dev/adviso/internal/server"
	"github.com/adviso-dev/adviso/internal/store/sqlite"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Config    *config.Config
	Stores    *sqlite.Stores
	Completer provider.Completer
	Embedder  provider.Embedder
	Warmer    *prompt.Warmer
	Admission *admission.Controller
	Advisor   *advisor.Service
	Pipeline  *maintenance.Pipeline
	Server    *server.Server
	logger    *slog.Logger
}

// WireApp creates all subsystems and wires them together.
func WireApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, adverr.Errorf(adverr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	stores, err := sqlite.Open(cfg.Storage.DataDir, cfg.Storage.VectorDimensions)
	if err != nil {
		return nil, adverr.Wrap(err, adverr.CodeCLISetupFailure, "opening stores")
	}

	completer, err := buildCompleter(cfg)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	builder, err := prompt.NewBuilder(prompt.Config{
		CoreText:      cfg.Prompt.CoreText,
		DomainText:    cfg.Prompt.DomainText,
		ContextBudget: cfg.Prompt.ContextBudget,
	}, stores.Knowledge, stores.Vectors, embedder, logger)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	warmer := prompt.NewWarmer(completer, prompt.WarmerConfig{
		PingInterval: cfg.Prompt.PingInterval,
		IdleTimeout:  cfg.Prompt.IdleTimeout,
	}, logger)

	ctrl, err := admission.NewController(admission.NewCachedStore(stores.RateLimit), admissionLimits(cfg), logger)
	if err != nil {
		warmer.StopAll()
		_ = stores.Close()
		return nil, err
	}

	engine := dedup.NewEngine(stores.Knowledge, stores.Vectors, embedder, logger)

	bus := maintenance.NewEventBus(logger)
	bus.Subscribe(maintenance.NewKnowledgePromoter(engine, stores.Patterns))

	pipeline := maintenance.NewPipeline(stores.Turns, stores.Knowledge, stores.Patterns, stores.Jobs, engine, maintenance.Config{
		ChunkSize:    cfg.Maintenance.ChunkSize,
		ArchiveAfter: time.Duration(cfg.Maintenance.ArchiveDays) * 24 * time.Hour,
	}, logger)

	svc := advisor.NewService(
		ctrl,
		security.NewGate(stores.Audit, logger),
		builder,
		warmer,
		completer,
		billing.NewAccountant(billing.DefaultPricing(), stores.Usage, logger),
		stores.Turns,
		bus,
		advisor.Config{MaxTokens: cfg.Models.MaxTokens},
		logger,
	)

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		AdminToken:  cfg.Server.AdminToken,
		CORSOrigins: cfg.Server.AllowedOrigins,
	}, logger)
	if err != nil {
		warmer.StopAll()
		_ = stores.Close()
		return nil, err
	}

	services := &server.Services{
		Advisor:  svc,
		Pipeline: pipeline,
		Jobs:     stores.Jobs,
	}
	if reporter, ok := completer.(server.HealthReporter); ok {
		services.Provider = reporter
	}
	srv.RegisterServices(services)

	return &App{
		Config:    cfg,
		Stores:    stores,
		Completer: completer,
		Embedder:  embedder,
		Warmer:    warmer,
		Admission: ctrl,
		Advisor:   svc,
		Pipeline:  pipeline,
		Server:    srv,
		logger:    logger,
	}, nil
}

// Close stops the warmer and closes every store and provider client.
func (a *App) Close() error {
	a.Warmer.StopAll()
	return adverr.Join(
		a.Completer.Close(),
		a.Embedder.Close(),
		a.Stores.Close(),
	)
}

func buildCompleter(cfg *config.Config) (provider.Completer, error) {
	pc, ok := cfg.Providers["anthropic"]
	if !ok || pc.APIKey == "" {
		return nil, adverr.New(adverr.CodeCLISetupFailure,
			"no completion provider configured: set providers.anthropic.api_key or ADVISO_PROVIDERS_ANTHROPIC_API_KEY")
	}
	return anthropicprov.New(anthropicprov.Config{
		APIKey:  pc.APIKey,
		BaseURL: pc.Endpoint,
		Model:   cfg.Models.Default,
	})
}

// buildEmbedder prefers OpenAI and falls back to Google when only a Gemini
// key is configured.
func buildEmbedder(cfg *config.Config) (provider.Embedder, error) {
	if pc, ok := cfg.Providers["openai"]; ok && pc.APIKey != "" {
		return openaiprov.New(openaiprov.Config{
			APIKey:     pc.APIKey,
			BaseURL:    pc.Endpoint,
			Model:      cfg.Models.Embedding,
			Dimensions: cfg.Storage.VectorDimensions,
		})
	}
	if pc, ok := cfg.Providers["google"]; ok && pc.APIKey != "" {
		return googleprov.New(googleprov.Config{
			APIKey:     pc.APIKey,
			Dimensions: cfg.Storage.VectorDimensions,
		})
	}
	return nil, adverr.New(adverr.CodeCLISetupFailure,
		"no embedding provider configured: set providers.openai.api_key or providers.google.api_key")
}

func admissionLimits(cfg *config.Config) map[admission.Resource]admission.Limit {
	limits := make(map[admission.Resource]admission.Limit, len(cfg.Admission.Limits))
	for name, lc := range cfg.Admission.Limits {
		limits[admission.Resource(name)] = admission.Limit{
			MaxRequests: lc.MaxRequests,
			Window:      lc.Window,
		}
	}
	return limits
}
