package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/api/rest"
	"github.com/Dhoini/channel-gatekeeper/internal/config"
	"github.com/Dhoini/channel-gatekeeper/internal/db"
	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/internal/integration/instamojo"
	"github.com/Dhoini/channel-gatekeeper/internal/integration/telegram"
	"github.com/Dhoini/channel-gatekeeper/internal/kafka"
	"github.com/Dhoini/channel-gatekeeper/internal/metrics"
	"github.com/Dhoini/channel-gatekeeper/internal/repository"
	"github.com/Dhoini/channel-gatekeeper/internal/service"
	"github.com/Dhoini/channel-gatekeeper/internal/stripe"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config  *config.Config
	Store   repository.SubscriberStore
	Manager *service.LifecycleManager
	Sweeper *service.Sweeper
	Server  *rest.Server
	Logger  *logger.Logger

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// NewApp создает и инициализирует новый экземпляр приложения. On error every
// component opened so far is closed.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (app *App, err error) {
	a := &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	registry := metrics.NewRegistry()
	lifecycleMetrics := metrics.NewLifecycleMetrics(registry)

	// Хранилище подписчиков
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.addCloser("subscriber store", store.Close)

	opts := []service.Option{service.WithMetrics(lifecycleMetrics)}

	// Журнал обработанных платежей
	if cfg.Redis.DedupePayments {
		ledger, err := repository.NewRedisPaymentLedger(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize payment ledger: %w", err)
		}
		a.addCloser("payment ledger", ledger.Close)
		opts = append(opts, service.WithLedger(ledger))
		log.Info("Duplicate payment protection enabled")
	}

	// События жизненного цикла
	publisher, err := newPublisher(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if closer, ok := publisher.(interface{ Close() error }); ok {
		a.addCloser("event publisher", closer.Close)
	}
	opts = append(opts, service.WithEventPublisher(publisher))

	bot, err := telegram.NewBot(telegram.Config{
		Token:       cfg.Telegram.BotToken,
		ChannelID:   cfg.Telegram.ChannelID,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		Timeout:     cfg.Subscription.CallTimeout,
	}, log.With("component", "telegram"))
	if err != nil {
		return nil, err
	}

	deps := rest.RouterDeps{
		Log:         log,
		Registry:    registry,
		HTTPMetrics: metrics.NewHTTPMetrics(registry),
		Welcomer:    bot,
		Subscribers: store,
		BaseURL:     cfg.App.BaseURL,
		PriceINR:    cfg.Subscription.PriceINR,
		CronSecret:  cfg.Sweep.CronSecret,
		JWTSecret:   cfg.Auth.JWTSecret,
	}

	// Платежный провайдер
	var verifier service.PaymentVerifier
	switch cfg.Payment.Provider {
	case "stripe":
		client := stripe.NewStripeClient(stripe.Config{
			APIKey:              cfg.Stripe.APIKey,
			WebhookSecret:       cfg.Stripe.WebhookSecret,
			PriceID:             cfg.Stripe.PriceID,
			SuccessURL:          cfg.App.BaseURL + "/payment-return",
			CancelURL:           cfg.App.BaseURL + "/payment-return",
			IdentityMetadataKey: cfg.Payment.MetadataKey,
		}, log.With("component", "stripe"))
		verifier = client
		deps.Checkout = client
		deps.StripeWebhooks = client
	default:
		client := instamojo.NewClient(instamojo.Config{
			BaseURL:             cfg.Instamojo.BaseURL,
			AuthToken:           cfg.Instamojo.AuthToken,
			APIKey:              cfg.Instamojo.APIKey,
			APIToken:            cfg.Instamojo.APIToken,
			Timeout:             cfg.Subscription.CallTimeout,
			Amount:              strconv.Itoa(cfg.Subscription.PriceINR),
			RedirectURL:         cfg.App.BaseURL + "/payment-return",
			WebhookURL:          cfg.App.BaseURL + "/instamojo-webhook",
			IdentityMetadataKey: cfg.Payment.MetadataKey,
		}, log.With("component", "instamojo"))
		verifier = client
		deps.Checkout = client
		deps.InstamojoWebhooks = true
	}
	log.Info("Payment provider: %s", cfg.Payment.Provider)

	a.Manager = service.NewLifecycleManager(service.LifecycleConfig{
		Period:              cfg.SubscriptionPeriod(),
		GrantTTL:            cfg.InviteTTL(),
		AcceptedStatuses:    domain.NewStatusSet(cfg.AcceptedStatuses()...),
		IdentityMetadataKey: cfg.Payment.MetadataKey,
		CallTimeout:         cfg.Subscription.CallTimeout,
		BaseURL:             cfg.App.BaseURL,
	}, store, verifier, bot, bot, log.With("component", "lifecycle"), opts...)
	a.Sweeper = service.NewSweeper(a.Manager, log.With("component", "sweeper"))

	deps.Confirmer = a.Manager
	deps.Sweeper = a.Sweeper
	a.Server = rest.NewServer(rest.SetupRouter(deps), cfg.App.Port, log)

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.SubscriberStore, error) {
	switch cfg.Store.Backend {
	case "postgres":
		dbClient, err := db.NewDBClient(ctx, cfg.Store.DatabaseDSN, log)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(dbClient.DB(), log), nil
	default:
		store, err := repository.OpenFileStore(cfg.Store.Path, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open subscriber file: %w", err)
		}
		return store, nil
	}
}

func newPublisher(ctx context.Context, cfg *config.Config, log *logger.Logger) (service.EventPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("Kafka brokers not configured, lifecycle events are only logged")
		return kafka.NewLogPublisher(log), nil
	}

	kafkaCfg := kafka.NewConfig(cfg.Kafka.Brokers)
	kafkaCfg.TopicPrefix = cfg.Kafka.TopicPrefix
	if cfg.Kafka.EnsureTopics {
		if err := kafka.EnsureTopics(ctx, kafkaCfg, log); err != nil {
			// Не фатально: топики могут создаваться автоматически брокером
			log.Warnw("Failed to ensure Kafka topics", "error", err)
		}
	}

	publisher, err := kafka.NewEventPublisher(kafkaCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize kafka publisher: %w", err)
	}
	return publisher, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Run starts the periodic sweep and the HTTP server and blocks until ctx is
// done or the server fails. The server is then shut down gracefully and Run
// waits for the sweep loop to return.
func (a *App) Run(ctx context.Context) error {
	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		a.Sweeper.Start(sweepCtx, a.Config.Sweep.Interval)
	}()
	// A sweep in progress finishes before the store is closed.
	defer func() {
		stopSweep()
		<-sweepDone
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.Server.Start()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	timeout := a.Config.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	a.Logger.Info("HTTP server gracefully stopped")
	return <-serverErr
}

// Close releases every opened component in reverse order
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Errorw("Error closing component", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
