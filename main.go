package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"signaltrader/config"
	"signaltrader/internal/adapters/binanceclient"
	"signaltrader/internal/adapters/logger"
	"signaltrader/internal/adapters/sqlite"
	"signaltrader/internal/adapters/telegram"
	"signaltrader/internal/app"
	"signaltrader/internal/execution"
	"signaltrader/internal/signal"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Telegram Bot (notifications + signal channel listener)
	bot, err := telegram.New(telegram.Config{
		Token:     cfg.TelegramToken,
		ChannelID: cfg.TelegramChannelID,
		ChatID:    cfg.TelegramChatID,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Telegram bot")
		log.Fatalf("FATAL: Failed to initialize Telegram bot: %v", err)
	}
	appLogger.Info(context.Background(), "Telegram bot initialized")

	// 6. Initialize Order Executor
	executor, err := execution.NewExecutor(binanceClient, repo, repo, bot, appLogger, cfg.PollInterval)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize order executor")
		log.Fatalf("FATAL: Failed to initialize order executor: %v", err)
	}
	appLogger.Info(context.Background(), "Order executor initialized")

	// 7. Initialize Application Service
	svc, err := app.NewService(
		signal.NewParser(appLogger),
		executor,
		binanceClient, // Pass the concrete implementation, service expects the interface
		repo,          // Pass the concrete implementation, service expects the interface
		bot,
		appLogger,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}
	appLogger.Info(context.Background(), "Service initialized")

	// 8. Run: startup checks, monitor recovery, then block on the channel stream
	listen := func(ctx context.Context) error {
		return bot.Listen(ctx, svc)
	}
	if err := svc.Run(context.Background(), listen); err != nil {
		appLogger.Error(context.Background(), err, "Service exited with error")
		log.Fatalf("FATAL: Service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
