package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hirewire/whatsapp-agent/internal/agent"
	"github.com/hirewire/whatsapp-agent/internal/automation"
	"github.com/hirewire/whatsapp-agent/internal/channel"
	appconfig "github.com/hirewire/whatsapp-agent/internal/config"
	"github.com/hirewire/whatsapp-agent/internal/events"
	"github.com/hirewire/whatsapp-agent/internal/httpapi"
	"github.com/hirewire/whatsapp-agent/internal/llm"
	"github.com/hirewire/whatsapp-agent/internal/notify"
	"github.com/hirewire/whatsapp-agent/internal/observability/metrics"
	"github.com/hirewire/whatsapp-agent/internal/policy"
	"github.com/hirewire/whatsapp-agent/internal/store"
	"github.com/hirewire/whatsapp-agent/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting whatsapp agent",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	st := store.New(pool)

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	processed := events.NewProcessedStore(redisClient, cfg.EventDedupeTTL)

	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSEndpointOverride != "" {
		// Points Bedrock and SES at a local emulator in development.
		awsOpts = append(awsOpts, awsconfig.WithBaseEndpoint(cfg.AWSEndpointOverride))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	var steps []llm.Step
	if len(cfg.BedrockModelIDs) > 0 {
		bedrock := llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
		for _, modelID := range cfg.BedrockModelIDs {
			steps = append(steps, llm.Step{Client: bedrock, Model: modelID})
		}
	}
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to create gemini client", "error", err)
			os.Exit(1)
		}
		defer func() { _ = gemini.Close() }()
		steps = append(steps, llm.Step{Client: gemini, Model: cfg.GeminiModelID})
	}
	if len(steps) == 0 {
		logger.Error("no model configured; set BEDROCK_MODEL_IDS or GEMINI_API_KEY")
		os.Exit(1)
	}
	chain := llm.NewChainClient(steps, cfg.LLMCallTimeout, cfg.LLMTotalBudget, logger)

	messenger, err := channel.NewWhatsAppClient(channel.WhatsAppConfig{
		BaseURL:          cfg.WhatsAppBaseURL,
		Token:            cfg.WhatsAppToken,
		PhoneNumberID:    cfg.WhatsAppPhoneNumberID,
		TemplateLanguage: cfg.WhatsAppTemplateLang,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("failed to create whatsapp client", "error", err)
		os.Exit(1)
	}

	var notifier notify.Notifier
	if cfg.AdminEmail != "" {
		notifier = notify.NewSESNotifier(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			AdminEmail: cfg.AdminEmail,
			FromEmail:  cfg.NotifyFrom,
			FromName:   cfg.NotifyFromName,
		}, logger)
	}

	m := metrics.NewAgentMetrics(nil)
	resolver := policy.NewResolver(st, cfg.SessionWindow)

	runner := agent.NewRunner(st, chain, resolver, cfg.AgentName, cfg.TranscriptWindow, logger, m)
	executor := agent.NewExecutor(st, messenger, nil, notifier, resolver, cfg.GuardrailLookback, logger, m)
	engine := automation.NewEngine(st, runner, executor, resolver, messenger, logger, m)

	eventsHandler := httpapi.NewEventsHandler(engine, processed, logger)
	router := httpapi.New(&httpapi.Config{
		Logger:         logger,
		Events:         eventsHandler,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		// Events are processed synchronously and may hold a full model-chain
		// budget, so the write timeout must exceed LLM_TOTAL_BUDGET.
		WriteTimeout: cfg.LLMTotalBudget + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
