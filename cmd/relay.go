package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AxelFr971/vocaline-local/internal/observe"
	"github.com/AxelFr971/vocaline-local/internal/relay"
	"github.com/AxelFr971/vocaline-local/internal/signaling"
	"github.com/AxelFr971/vocaline-local/internal/telemetry"
	"github.com/AxelFr971/vocaline-local/internal/ui"
	"github.com/AxelFr971/vocaline-local/internal/version"
	"github.com/spf13/cobra"
)

var flagRelayAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a development matchmaking and signaling relay",
	Long: `Run a small matchmaking server that pairs callers, relays offers, answers
and ICE candidates between them, and records the diagnostics clients report.

Endpoints:
  /ws       websocket signaling (JSON text or msgpack binary frames)
  /health   liveness probe
  /metrics  Prometheus metrics

Examples:
  vocaline relay
  vocaline relay --addr :9000 --codec msgpack`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := baseOptions()
		opts.RelayAddr = flagRelayAddr
		cfg, err := LoadConfig(opts)
		if err != nil {
			return err
		}
		return runRelay(cmd.Context(), cfg.RelayAddr, cfg.Codec)
	},
}

func runRelay(ctx context.Context, addr, codecName string) error {
	codec, err := signaling.CodecByName(codecName)
	if err != nil {
		return err
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vocaline-relay",
		ServiceVersion: version.Version,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Debug("metrics shutdown", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	rec := telemetry.Multi(telemetry.NewMetricsSink(metrics), telemetry.NewLogSink(slog.Default()))

	hub := relay.NewHub(codec, rec)
	ui.PrintInfof("Relay listening on %s (default codec %s)", addr, codec.Name())
	return relay.ListenAndServe(ctx, addr, hub, observe.Handler())
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVarP(&flagRelayAddr, "addr", "a", "", "Listen address (default :8080)")
}
