package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AxelFr971/vocaline-local/internal/config"
	"github.com/AxelFr971/vocaline-local/internal/dns"
	"github.com/AxelFr971/vocaline-local/internal/logging"
	"github.com/AxelFr971/vocaline-local/internal/observe"
	"github.com/AxelFr971/vocaline-local/internal/signaling"
	"github.com/AxelFr971/vocaline-local/internal/telemetry"
	"github.com/AxelFr971/vocaline-local/internal/version"
)

// ConnectionContext is everything a call needs from the network side: the
// signaling link and the telemetry pipeline that reports over it.
type ConnectionContext struct {
	Config    *config.Config
	Link      *signaling.Link
	Telemetry *telemetry.Emitter

	metricsServer   *http.Server
	shutdownMetrics func(context.Context) error
}

// NewConnectionContext connects the signaling link and starts telemetry.
// metricsAddr, when set, serves the client's own /metrics.
func NewConnectionContext(ctx context.Context, cfg *config.Config, metricsAddr string) (*ConnectionContext, error) {
	codec, err := signaling.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version.Version})
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	link := signaling.NewLink(cfg.WebSocketURL,
		signaling.WithCodec(codec),
		signaling.WithReconnectDelay(cfg.ReconnectDelay),
		signaling.WithDialer(dns.NewResolver().DialContext),
	)
	link.OnStateChange(func(s signaling.State) {
		slog.Info("signaling link", "state", s)
	})
	if err := link.Connect(ctx); err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("connect to server: %w", err)
	}

	c := &ConnectionContext{
		Config: cfg,
		Link:   link,
		Telemetry: telemetry.NewEmitter(telemetry.DefaultQueueSize,
			telemetry.NewSignalingSink(link),
			telemetry.NewLogSink(slog.Default()),
			telemetry.NewMetricsSink(metrics),
		),
		shutdownMetrics: shutdown,
	}

	if metricsAddr != "" {
		c.metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           observe.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := c.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("metrics endpoint stopped", "addr", metricsAddr, "error", err)
			}
		}()
	}
	return c, nil
}

// Close flushes telemetry before the link goes away.
func (c *ConnectionContext) Close() {
	if c.Telemetry != nil {
		c.Telemetry.Close()
	}
	if c.Link != nil {
		c.Link.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if c.metricsServer != nil {
		_ = c.metricsServer.Shutdown(ctx)
	}
	if c.shutdownMetrics != nil {
		if err := c.shutdownMetrics(ctx); err != nil {
			slog.Debug("metrics shutdown", "error", err)
		}
	}
}

// LoadConfig loads the layered config and applies its log level.
func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.LogLevel)
	if cfg.ConfigFile != "" {
		slog.Debug("config loaded", "file", cfg.ConfigFile)
	}
	return cfg, nil
}
