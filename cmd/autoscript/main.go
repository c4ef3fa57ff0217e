package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"AutoScript/internal/cache"
	"AutoScript/internal/config"
	"AutoScript/internal/conversation"
	"AutoScript/internal/executor"
	"AutoScript/internal/pipeline"
	"AutoScript/internal/repl"
	"AutoScript/internal/retry"
	"AutoScript/internal/session"
	"AutoScript/internal/telemetry"
)

const version = "1.0.0"

func main() {
	var (
		configPath string
		flags      config.Config
	)

	flag.StringVar(&configPath, "config", "autoscript.yaml", "Path to YAML config file (optional)")
	flag.StringVar(&flags.Model, "model", "", fmt.Sprintf("Model identifier (e.g. %s, %s)", config.ModelGrokFast, config.ModelGeminiFlash))
	flag.StringVar(&flags.APIKey, "api-key", "", "OpenRouter API key")
	flag.StringVar(&flags.BaseURL, "base-url", "", "Chat-completions API root")
	flag.StringVar(&flags.SessionID, "session-id", "", "Resume an existing session by ID")
	flag.StringVar(&flags.DBPath, "db", "", "SQLite file for the session handoff (\"\" from config disables persistence)")
	flag.StringVar(&flags.LogDir, "log-dir", "", "Directory for log, trace and metric files")
	flag.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&flags.Telemetry, "telemetry", false, "Export traces and metrics to the log directory")
	flag.BoolVar(&flags.CacheResponses, "cache", false, "Cache identical chat turns")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg, flags)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags copies the flags given on the command line over cfg.
func applyFlags(cfg *config.Config, flags config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Model = flags.Model
		case "api-key":
			cfg.APIKey = flags.APIKey
		case "base-url":
			cfg.BaseURL = flags.BaseURL
		case "session-id":
			cfg.SessionID = flags.SessionID
		case "db":
			cfg.DBPath = flags.DBPath
		case "log-dir":
			cfg.LogDir = flags.LogDir
		case "debug":
			cfg.Debug = flags.Debug
		case "telemetry":
			cfg.Telemetry = flags.Telemetry
		case "cache":
			cfg.CacheResponses = flags.CacheResponses
		}
	})
}

func run(cfg config.Config) error {
	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers := telemetry.Noop()
	if cfg.Telemetry {
		providers, err = telemetry.InitTelemetry(ctx, cfg.LogDir, version)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}
	defer providers.Shutdown()

	if !config.KnownModel(cfg.Model) {
		logger.Warn("model is not one of the curated models", "model", cfg.Model, "known", config.Models)
	}

	opened, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer opened.store.Close()
	sess := opened.session

	exec := executor.New(executor.Config{
		BaseURL: cfg.BaseURL,
		Headers: cfg.Headers(),
		Policy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     retry.Exponential(cfg.Retry.InitialBackoff),
			Sleep:       retry.Sleep,
		},
		Logger: logger,
		Tracer: providers.Tracer,
		Meter:  providers.Meter,
	})

	var responses *cache.Cache
	if cfg.CacheResponses {
		responses = cache.New(cfg.CacheTTL)
	}

	p, err := pipeline.New(pipeline.Options{
		Session:           sess,
		Completer:         exec,
		Handoff:           opened.store,
		History:           opened.history,
		DiscussionHistory: opened.discussion,
		Cache:             responses,
		Settings:          settingsFrom(cfg.Flows),
		Logger:            logger,
		Greeting:          conversation.Greeting,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	logger.Info("starting", "session_id", sess.ID, "model", sess.ModelID, "version", version)
	return repl.New(p, os.Stdin, os.Stdout, logger).Run(ctx)
}

// openedSession is a session with its handoff store and stored message threads.
type openedSession struct {
	session    *session.Session
	store      session.Store
	history    []conversation.Message
	discussion []conversation.Message
}

// openSession resumes cfg.SessionID from the handoff store, or starts and saves a new session.
func openSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (openedSession, error) {
	sess := session.New(cfg.Model, cfg.APIKey)
	if cfg.SessionID != "" {
		sess.ID = cfg.SessionID
	}

	var store session.Store = session.NewMemoryStore()
	if cfg.DBPath != "" {
		sqliteStore, err := session.OpenSQLiteStore(cfg.DBPath, sess.ID)
		if err != nil {
			return openedSession{}, fmt.Errorf("failed to open session store: %w", err)
		}
		store = sqliteStore
	}
	opened := openedSession{session: sess, store: store}

	if cfg.SessionID != "" {
		loaded, err := session.Load(ctx, store, cfg.SessionID)
		if err != nil {
			logger.Warn("failed to load session, starting fresh", "session_id", cfg.SessionID, "error", err)
		} else {
			// The credential is never stored; the model selection on the command line wins
			loaded.ModelID = cfg.Model
			loaded.Credential = cfg.APIKey
			opened.session = loaded
			logger.Info("loaded existing session", "session_id", loaded.ID)
		}

		if opened.history, err = store.Messages(ctx, session.ThreadDesign); err != nil {
			logger.Warn("failed to load design history", "session_id", cfg.SessionID, "error", err)
		}
		if opened.discussion, err = store.Messages(ctx, session.ThreadDiscussion); err != nil {
			logger.Warn("failed to load discussion history", "session_id", cfg.SessionID, "error", err)
		}
	}

	if err := session.Save(ctx, store, opened.session); err != nil {
		logger.Warn("failed to save session", "error", err)
	}
	return opened, nil
}

func settingsFrom(f config.Flows) pipeline.Settings {
	conv := func(flow config.Flow) pipeline.FlowSettings {
		return pipeline.FlowSettings{MaxTokens: flow.MaxTokens, Temperature: flow.Temperature}
	}
	return pipeline.Settings{
		Chat:     conv(f.Chat),
		Generate: conv(f.Generate),
		Refine:   conv(f.Refine),
		Discuss:  conv(f.Discuss),
	}
}
