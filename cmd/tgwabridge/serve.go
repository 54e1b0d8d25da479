package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"tgwabridge/internal/channel"
	"tgwabridge/internal/config"
	"tgwabridge/internal/correlation"
	"tgwabridge/internal/domain"
	"tgwabridge/internal/metrics"
	"tgwabridge/internal/queue"
	"tgwabridge/internal/relay"
	"tgwabridge/internal/server"
)

const (
	shutdownTimeout = 10 * time.Second
	httpTimeout     = 60 * time.Second
)

var directions = []relay.Direction{relay.WhatsAppToTelegram, relay.TelegramToWhatsApp}

var errShuttingDown = errors.New("bridge is shutting down")

// bridge holds the long-lived components shared by serve and worker.
type bridge struct {
	cfg     *config.Config
	store   domain.CorrelationStore
	handle  func(ctx context.Context, d relay.Direction, payload []byte)
	metrics *metrics.Collector
	queue   queue.Queue
	workers []*queue.Worker

	// Sync-mode relays still running after the HTTP server stopped waiting.
	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

func buildBridge(ctx context.Context, cfg *config.Config) (*bridge, error) {
	if err := config.RequireCredentials(cfg); err != nil {
		return nil, err
	}

	client := channel.SharedHTTPClient(httpTimeout)
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	botID := cfg.Telegram.BotID
	if botID == "" {
		botID = strconv.FormatInt(bot.Self.ID, 10)
	}
	logger.Info("telegram bot ready", "username", bot.Self.UserName, "id", botID)

	placement := channel.SignaturePlacement(cfg.Relay.SignaturePlacement)
	tg := channel.NewTelegram(channel.TelegramConfig{
		API:           bot,
		HTTPClient:    client,
		MaxMediaBytes: cfg.Relay.MediaMaxBytes,
		Placement:     placement,
		Logger:        logger,
	})
	wa := channel.NewWhatsApp(channel.WhatsAppConfig{
		AccessToken:   cfg.WhatsApp.AccessToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		BaseURL:       cfg.WhatsApp.APIBase,
		HTTPClient:    client,
		MaxMediaBytes: cfg.Relay.MediaMaxBytes,
		Placement:     placement,
		Logger:        logger,
	})

	store, err := correlation.Open(ctx, storeOptions(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("correlation store: %w", err)
	}

	var m *metrics.Collector
	if cfg.Metrics.Enabled {
		m = metrics.NewCollector()
	}

	n := cfg.Notifications
	router := relay.NewRouter(&relay.RelayContext{
		Telegram:    tg,
		WhatsApp:    wa,
		Store:       store,
		GroupChatID: cfg.Telegram.ChatID,
		BotID:       botID,
		Policy: relay.Policy{
			StoreFailure: relay.StoreFailurePolicy(cfg.Relay.StoreFailurePolicy),
			EmptyCaption: relay.EmptyCaptionPolicy(cfg.Relay.EmptyCaptionPolicy),
			SignOperator: cfg.Relay.SignOperator,
		},
		Notifications: relay.Notifications{
			UserUnsupported:   n.UserUnsupported,
			UserMedia:         n.UserMedia,
			UserDelivery:      n.UserDelivery,
			GroupUnsupported:  n.GroupUnsupported,
			GroupMedia:        n.GroupMedia,
			GroupDelivery:     n.GroupDelivery,
			GroupMissingPhone: n.GroupMissingPhone,
		},
		Metrics: m,
		Logger:  logger,
	})

	b := &bridge{cfg: cfg, store: store, metrics: m,
		handle: func(ctx context.Context, d relay.Direction, p []byte) { router.Relay(ctx, d, p) }}
	if err := b.openQueue(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return b, nil
}

func (b *bridge) openQueue(ctx context.Context) error {
	topics := make([]string, len(directions))
	for i, d := range directions {
		topics[i] = string(d)
	}
	switch b.cfg.Queue.Mode {
	case "memory":
		b.queue = queue.NewMemory(topics, b.cfg.Queue.Buffer, logger)
	case "redis":
		q, err := queue.NewRedis(ctx, b.cfg.Queue.RedisURL, queue.RedisOptions{
			Prefix: b.cfg.Queue.StreamPrefix,
			Group:  b.cfg.Queue.Group,
			MaxLen: b.cfg.Queue.MaxLen,
		}, logger)
		if err != nil {
			return fmt.Errorf("redis queue: %w", err)
		}
		b.queue = q
	}
	return nil
}

// sink returns what the webhook for direction hands its body to.
func (b *bridge) sink(direction relay.Direction) server.Sink {
	if b.queue == nil {
		return func(ctx context.Context, payload []byte) error {
			b.mu.Lock()
			if b.closing {
				b.mu.Unlock()
				return errShuttingDown
			}
			b.inflight.Add(1)
			b.mu.Unlock()
			defer b.inflight.Done()

			b.handle(ctx, direction, payload)
			return nil
		}
	}
	return queue.Publisher(b.queue, string(direction), b.metrics)
}

func (b *bridge) startWorkers() {
	if b.queue == nil {
		return
	}
	for _, d := range directions {
		d := d
		w := queue.NewWorker(string(d), b.queue, func(ctx context.Context, payload []byte) {
			b.handle(ctx, d, payload)
		}, b.metrics, logger)
		w.Start()
		b.workers = append(b.workers, w)
	}
	logger.Info("relay workers started", "queue", b.cfg.Queue.Mode, "count", len(b.workers))
}

// close waits for sync relays, then stops workers before the queue and the
// queue before the store, so in-flight relays can still record their
// correlation.
func (b *bridge) close() {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()
	b.inflight.Wait()

	for _, w := range b.workers {
		w.Stop()
	}
	if b.queue != nil {
		if err := b.queue.Close(); err != nil {
			logger.Warn("queue close failed", "err", err)
		}
	}
	if err := b.store.Close(); err != nil {
		logger.Warn("store close failed", "err", err)
	}
}

func loadRuntimeConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	closer, err := setupLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() { _ = closer.Close() }, nil
}

func serveCmd() *cobra.Command {
	var noWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and relay messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, release, err := loadRuntimeConfig()
			if err != nil {
				return err
			}
			defer release()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := buildBridge(ctx, cfg)
			if err != nil {
				return err
			}
			if !noWorkers || cfg.Queue.Mode == "memory" {
				b.startWorkers()
			}

			srv := server.New(server.Config{
				Addr:          net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
				TelegramRoute: cfg.Server.TelegramRoute,
				WhatsAppRoute: cfg.Server.WhatsAppRoute,
				VerifyToken:   cfg.WhatsApp.VerifyToken,
				AppSecret:     cfg.WhatsApp.AppSecret,
				MaxBodyBytes:  cfg.Server.MaxBodyBytes,
				Store:         b.store,
				Metrics:       b.metrics,
				Logger:        logger,
			}, b.sink(relay.TelegramToWhatsApp), b.sink(relay.WhatsAppToTelegram))

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening",
					"port", cfg.Server.Port,
					"telegram", cfg.Server.TelegramRoute,
					"whatsapp", cfg.Server.WhatsAppRoute,
					"queue", cfg.Queue.Mode,
					"store", cfg.Store.Driver,
				)
				errCh <- srv.Start()
			}()

			var serveErr error
			select {
			case <-ctx.Done():
				logger.Info("shutting down...")
			case serveErr = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				logger.Warn("server shutdown", "err", err)
			}
			b.close()
			logger.Info("tgwabridge stopped")
			return serveErr
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "only enqueue webhook bodies (redis queue mode); run 'tgwabridge worker' separately")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued webhook bodies without serving HTTP (redis queue mode)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, release, err := loadRuntimeConfig()
			if err != nil {
				return err
			}
			defer release()
			if cfg.Queue.Mode != "redis" {
				return fmt.Errorf("worker needs queue.mode redis, got %q", cfg.Queue.Mode)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := buildBridge(ctx, cfg)
			if err != nil {
				return err
			}
			b.startWorkers()

			<-ctx.Done()
			logger.Info("shutting down...")
			b.close()
			logger.Info("tgwabridge worker stopped")
			return nil
		},
	}
}
