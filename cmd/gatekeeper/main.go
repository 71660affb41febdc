package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dhoini/channel-gatekeeper/internal/app"
	"github.com/Dhoini/channel-gatekeeper/internal/config"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		logger.New(logger.INFO).Fatalw("Failed to load configuration", "error", err)
	}

	// Инициализируем логгер
	log := logger.NewWithOutput(logger.ParseLevel(cfg.App.LogLevel), os.Stdout, cfg.IsProduction())
	log.Infow("Channel gatekeeper starting up...", "env", cfg.App.Env, "provider", cfg.Payment.Provider, "store", cfg.Store.Backend)

	if cfg.Sweep.CronSecret == "" {
		log.Warnw("CRON_SECRET is not set, /run-expiry is open to anyone")
	}

	// Устанавливаем режим Gin в зависимости от окружения
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Errorw("Server stopped with error", "error", err)
	}
	if err := application.Close(); err != nil {
		log.Errorw("Cleanup finished with errors", "error", err)
	}
	log.Info("Cleanup finished. Goodbye!")
}
