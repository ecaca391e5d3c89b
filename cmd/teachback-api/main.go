// Command teachback-api serves the teach-back session engine over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/luminalearn/teachback/internal/dotenv"
	"github.com/luminalearn/teachback/migrations"
	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/core/providers/anthropic"
	"github.com/luminalearn/teachback/pkg/core/providers/gemini"
	"github.com/luminalearn/teachback/pkg/core/voice/stt"
	"github.com/luminalearn/teachback/pkg/core/voice/tts"
	"github.com/luminalearn/teachback/pkg/engine"
	"github.com/luminalearn/teachback/pkg/engine/orchestrator"
	"github.com/luminalearn/teachback/pkg/engine/plans"
	"github.com/luminalearn/teachback/pkg/engine/quota"
	"github.com/luminalearn/teachback/pkg/engine/retention"
	"github.com/luminalearn/teachback/pkg/engine/session"
	"github.com/luminalearn/teachback/pkg/engine/store"
	"github.com/luminalearn/teachback/pkg/engine/voice"
	"github.com/luminalearn/teachback/pkg/gateway/config"
	"github.com/luminalearn/teachback/pkg/gateway/handlers"
	gatewayserver "github.com/luminalearn/teachback/pkg/gateway/server"
)

type apiDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAPIDeps() apiDeps {
	return apiDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("TEACHBACK_DATABASE_URL not set, using in-memory store; sessions are lost on restart")
		return store.NewMemory(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrations.Up(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return store.NewPostgres(pool), pool.Close, nil
}

func buildLimiter(cfg config.Config, logger *slog.Logger) (session.Admitter, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("TEACHBACK_REDIS_URL not set, daily quotas are not enforced")
		return quota.Unlimited{}, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	return quota.New(rdb), func() { _ = rdb.Close() }, nil
}

func buildOrchestrator(ctx context.Context, cfg config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	primary := anthropic.New(cfg.AnthropicAPIKey,
		anthropic.WithBaseURL(cfg.AnthropicBaseURL),
		anthropic.WithModel(cfg.AnthropicModel),
	)
	var fallback core.Provider
	if cfg.GeminiAPIKey != "" {
		g, err := gemini.New(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("init gemini: %w", err)
		}
		fallback = g
	} else {
		logger.Warn("TEACHBACK_GEMINI_API_KEY not set, running without a fallback provider")
	}
	return orchestrator.New(primary, fallback, orchestrator.NewBreaker(), logger, orchestrator.Config{
		PrimaryTimeout:  cfg.PrimaryTimeout,
		FallbackTimeout: cfg.FallbackTimeout,
	}), nil
}

func buildVoice(cfg config.Config, logger *slog.Logger) *voice.Processor {
	if cfg.CartesiaAPIKey == "" {
		logger.Warn("TEACHBACK_CARTESIA_API_KEY not set, voice sessions degrade to text")
		return voice.New(nil, nil, "", logger)
	}
	return voice.New(
		stt.NewCartesia(cfg.CartesiaAPIKey),
		tts.NewCartesia(cfg.CartesiaAPIKey),
		cfg.CartesiaVoice,
		logger,
	)
}

func buildResolver(cfg config.Config, logger *slog.Logger) plans.Resolver {
	var resolver plans.Resolver = plans.Static{}
	if cfg.StripeAPIKey != "" {
		resolver = plans.NewStripeResolver(cfg.StripeAPIKey)
	} else {
		logger.Warn("TEACHBACK_STRIPE_API_KEY not set, all users resolve to the free plan")
	}
	if cfg.WorkOSAPIKey != "" {
		resolver = plans.NewWorkOSDirectory(cfg.WorkOSAPIKey, resolver)
	}
	return resolver
}

func run(ctx context.Context, logger *slog.Logger, deps apiDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	limiter, closeLimiter, err := buildLimiter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	orch, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	resolver := buildResolver(cfg, logger)

	policy, err := retention.LoadPolicy(cfg.RetentionConfigPath)
	if err != nil {
		logger.Warn("retention config unusable, using defaults", "path", cfg.RetentionConfigPath, "error", err)
	}
	enforcer := retention.NewEnforcer(st, resolver, policy, logger)

	svc := engine.NewService(engine.Deps{
		Store:        st,
		Orchestrator: orch,
		Voice:        buildVoice(cfg, logger),
		Limiter:      limiter,
		Resolver:     resolver,
		Enforcer:     enforcer,
		Logger:       logger,
		Session: session.Config{
			SeverityFloor: core.Severity(cfg.SeverityFloor),
			AckTimeout:    cfg.AckTimeout,
			ExamQuestions: cfg.ExamQuestions,
		},
	})

	retentionCtx, stopRetention := context.WithCancel(ctx)
	defer stopRetention()
	go enforcer.Schedule(retentionCtx, cfg.RetentionInterval)

	gw := gatewayserver.New(cfg, logger, handlers.Deps{
		Engine:   svc,
		Enforcer: enforcer,
		Logger:   logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           http.TimeoutHandler(gw.Handler(), cfg.HandlerTimeout, "request timed out"),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}

	logger.Info("starting teach-back api",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"durable_store", cfg.DatabaseURL != "",
		"quotas_enforced", cfg.RedisURL != "",
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining(true)
	stopRetention()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Give live sessions one grace period to finish, then abort the rest so
	// their transcripts and partial progress land in the store.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !svc.Registry().Wait(waitCtx) {
		n := svc.Registry().AbortAll(context.Background())
		logger.Info("aborted live sessions on shutdown", "count", n)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("teach-back api stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps apiDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "teachback-api: %v\n", err)
		return 1
	}

	if err := run(ctx, logger, deps); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "teachback-api: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAPIDeps()))
}
