package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"chatbridge/internal/adapters"
	"chatbridge/internal/api"
	"chatbridge/internal/chatbot"
	"chatbridge/internal/config"
	"chatbridge/internal/dedupe"
	"chatbridge/internal/logger"
	"chatbridge/internal/messaging/telegram"
	"chatbridge/internal/models"
	"chatbridge/internal/redis"
	"chatbridge/internal/worker"
)

const appName = "chatbridge"

func main() {
	// a missing .env is fine; real environment variables win
	_ = godotenv.Load()

	app := &cli.App{
		Name:   appName,
		Usage:  "bridge a messaging platform to a language model",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the chatbot (default)",
				Action: serve,
			},
			{
				Name:  "check-telegram",
				Usage: "verify a Telegram bot token with getMe",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Usage: "bot token", EnvVars: []string{"TELEGRAM_BOT_TOKEN"}},
					&cli.StringFlag{Name: "endpoint", Usage: "Bot API endpoint format", EnvVars: []string{"TELEGRAM_API_ENDPOINT"}},
				},
				Action: checkTelegram,
			},
			{
				Name:  "env",
				Usage: "list supported environment variables",
				Action: func(*cli.Context) error {
					return config.Usage()
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	sugar, err := logger.Init(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newDedupeStore(cfg.Redis, sugar)
	if err != nil {
		return err
	}
	defer closeStore()

	model, err := adapters.NewLLM(ctx, cfg.LLM, sugar)
	if err != nil {
		return startupError(sugar, "llm", err)
	}
	messenger, err := adapters.NewMessaging(cfg.Messaging, adapters.MessagingDeps{
		Dedupe:         store,
		OnConsoleClose: stop,
		Logger:         sugar,
	})
	if err != nil {
		return startupError(sugar, "messaging", err)
	}

	bot := chatbot.New(messenger, model, chatbot.Config{
		MaxHistoryLength: cfg.Chatbot.MaxHistoryLength,
		SystemPrompt:     cfg.Chatbot.SystemPrompt,
		Options: &models.LLMOptions{
			Temperature: cfg.Chatbot.Temperature,
			MaxTokens:   cfg.Chatbot.MaxTokens,
			Model:       cfg.Chatbot.Model,
		},
		LLMTimeout:    cfg.Chatbot.LLMTimeout,
		ResetCommands: cfg.Chatbot.ResetCommands,
		Workers: worker.Config{
			MinWorkers:  cfg.Workers.MinWorkers,
			MaxWorkers:  cfg.Workers.MaxWorkers,
			IdleTimeout: cfg.Workers.WorkerIdleTimeout,
		},
	}, chatbot.WithLogger(sugar))

	var srv *http.Server
	if registrar, ok := messenger.(api.RouteRegistrar); ok {
		router := api.NewRouter(sugar)
		status := func() api.Status {
			return api.Status{
				Platform: string(messenger.Platform()),
				Provider: string(model.Provider()),
				State:    bot.State().String(),
			}
		}
		api.NewHandler(appName, status, registrar).RegisterRoutes(router)
		srv = &http.Server{Addr: cfg.Server.Addr, Handler: router}
		go func() {
			sugar.Infow("http server listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sugar.Errorw("http server failed", "err", err)
				stop()
			}
		}()
	}

	if err := bot.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	sugar.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("http server shutdown", "err", err)
		}
	}
	if err := bot.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("chatbot shutdown", "err", err)
	}
	return nil
}

func newDedupeStore(cfg config.RedisConfig, sugar *zap.SugaredLogger) (dedupe.Store, func(), error) {
	if cfg.URI == "" {
		return dedupe.NewMemory(cfg.DedupeTTL), func() {}, nil
	}
	client, err := redis.NewRedisClient(cfg.URI)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis client: %w", err)
	}
	sugar.Infow("webhook dedupe backed by redis")
	return dedupe.NewRedis(client, "", cfg.DedupeTTL), func() { _ = client.Close() }, nil
}

func startupError(sugar *zap.SugaredLogger, kind string, err error) error {
	var cfgErr *models.AdapterConfigurationError
	if errors.As(err, &cfgErr) {
		sugar.Errorw("adapter misconfigured", "kind", kind, "adapter", cfgErr.Adapter, "field", cfgErr.Field)
	}
	return fmt.Errorf("init %s adapter: %w", kind, err)
}

func checkTelegram(c *cli.Context) error {
	user, err := telegram.CheckToken(c.String("token"), c.String("endpoint"))
	if err != nil {
		return fmt.Errorf("token check failed: %w", err)
	}
	fmt.Printf("token ok: @%s (%s, id %d)\n", user.UserName, user.FirstName, user.ID)
	fmt.Printf("can join groups: %t, reads all group messages: %t\n", user.CanJoinGroups, user.CanReadAllGroupMessages)
	return nil
}
