package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/levabala/llm-social-filter/bot"
	"github.com/levabala/llm-social-filter/classifier"
	"github.com/levabala/llm-social-filter/config"
	"github.com/levabala/llm-social-filter/metrics"
	"github.com/levabala/llm-social-filter/pipeline"
	"github.com/levabala/llm-social-filter/store"
	"github.com/levabala/llm-social-filter/stream"
	"github.com/levabala/llm-social-filter/twitter"
)

func main() {
	configPath := config.GetConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting social filter", "config", configPath)

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database initialized", "path", cfg.DBPath)

	gateway := twitter.NewClient(cfg.TwitterAPIKey, db,
		twitter.WithTimeout(time.Duration(cfg.FetchTimeoutSecs)*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the followings snapshot before touching the stream; a domain
	// error here means the upstream rejected us and startup must abort.
	followings, err := gateway.EnsureFollowings(ctx, cfg.TrackedUsername)
	if err != nil {
		slog.Error("failed to bootstrap followings", "user", cfg.TrackedUsername, "error", err)
		os.Exit(1)
	}
	slog.Info("followings ready", "count", len(followings))

	cls := classifier.New(cfg.OpenRouterAPIKey, classifier.WithModel(cfg.OpenRouterModel))

	tgAPI, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		slog.Error("failed to initialize telegram bot", "error", err)
		os.Exit(1)
	}

	router := stream.NewRouter()
	tgBot := bot.NewBot(tgAPI, db, gateway, router, cfg.AdminUsername)

	runner := pipeline.NewRunner(db, &bindingResolver{db: db}, cls, tgBot, cfg.AdminUsername,
		pipeline.WithBatchCap(cfg.BatchCap),
		pipeline.WithNotifyDelay(time.Duration(cfg.NotifyDelaySecs)*time.Second),
	)
	router.SetBatchHandler(func(msg *stream.TweetMessage) {
		if err := runner.ProcessBatch(ctx, msg.Tweets); err != nil {
			slog.Error("batch processing failed", "error", err)
		}
	})

	streamClient := stream.NewClient(cfg.StreamURL, cfg.TwitterAPIKey, router.HandleFrame,
		stream.WithPingInterval(time.Duration(cfg.PingIntervalSecs)*time.Second),
		stream.WithPongTimeout(time.Duration(cfg.PongTimeoutSecs)*time.Second),
		stream.WithReconnectDelay(time.Duration(cfg.ReconnectDelaySec)*time.Second),
	)
	streamClient.Start()
	defer streamClient.Stop()

	metrics.StartServer(cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := tgBot.Run(ctx); err != nil {
		slog.Error("telegram bot stopped with error", "error", err)
	}
	slog.Info("shutdown complete")
}

// bindingResolver adapts the store to the pipeline's view of recipient
// bindings. A missing chat id is reported as absent, not as an error.
type bindingResolver struct {
	db *store.DB
}

func (r *bindingResolver) GetIntents(ctx context.Context, username string) ([]classifier.Intent, error) {
	stored, err := r.db.GetIntents(ctx, username)
	if err != nil {
		return nil, err
	}
	intents := make([]classifier.Intent, len(stored))
	for i, intent := range stored {
		intents[i] = classifier.Intent{
			ID:               intent.ID,
			Description:      intent.Description,
			ExamplesPositive: intent.ExamplesPositive,
			ExamplesNegative: intent.ExamplesNegative,
		}
	}
	return intents, nil
}

func (r *bindingResolver) GetChatID(ctx context.Context, username string) (int64, error) {
	chatID, err := r.db.GetChatID(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	return chatID, err
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
