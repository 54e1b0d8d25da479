// Package server exposes the webhook endpoints both platforms call, plus
// health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"tgwabridge/internal/metrics"
)

const (
	DefaultTelegramRoute = "/t"
	DefaultWhatsAppRoute = "/w"
	DefaultMaxBodyBytes  = 1 << 20

	healthTimeout = 3 * time.Second
)

// Sink accepts one webhook body. In sync mode it runs the relay; otherwise
// it enqueues the body. An error answers 500.
type Sink func(ctx context.Context, payload []byte) error

// Pinger reports whether the correlation store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr          string
	TelegramRoute string
	WhatsAppRoute string
	// VerifyToken answers the WhatsApp subscription handshake.
	VerifyToken string
	// AppSecret, when set, requires a valid X-Hub-Signature-256 on WhatsApp
	// deliveries.
	AppSecret    string
	MaxBodyBytes int64

	Store   Pinger
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

type Server struct {
	cfg      Config
	echo     *echo.Echo
	telegram Sink
	whatsapp Sink
	logger   *slog.Logger
}

func New(cfg Config, telegram, whatsapp Sink) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.TelegramRoute == "" {
		cfg.TelegramRoute = DefaultTelegramRoute
	}
	if cfg.WhatsAppRoute == "" {
		cfg.WhatsAppRoute = DefaultWhatsAppRoute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		telegram: telegram,
		whatsapp: whatsapp,
		logger:   cfg.Logger.With("component", "server"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := c.Path()
			if route == s.cfg.TelegramRoute || route == s.cfg.WhatsAppRoute {
				s.cfg.Metrics.WebhookRequest(route, v.Status)
			}
			s.logger.Debug("request",
				slog.String("method", v.Method),
				slog.String("route", route),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	e.POST(cfg.TelegramRoute, s.handleTelegram)
	e.GET(cfg.WhatsAppRoute, s.handleVerify)
	e.POST(cfg.WhatsAppRoute, s.handleWhatsApp)
	e.GET("/healthz", s.handleHealth)
	if cfg.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.Metrics.Handler()))
	}

	s.echo = e
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("webhook server starting",
		"addr", s.cfg.Addr,
		"telegram_route", s.cfg.TelegramRoute,
		"whatsapp_route", s.cfg.WhatsAppRoute,
	)
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("webhook server shutting down")
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.cfg.Store == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()
	if err := s.cfg.Store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "store": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
