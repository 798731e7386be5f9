package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AxelFr971/vocaline-local/internal/call"
	"github.com/AxelFr971/vocaline-local/internal/capture"
	"github.com/AxelFr971/vocaline-local/internal/config"
	"github.com/AxelFr971/vocaline-local/internal/negotiation"
	"github.com/AxelFr971/vocaline-local/internal/playback"
	"github.com/AxelFr971/vocaline-local/internal/ui"
	"github.com/spf13/cobra"
)

const deviceWatchInterval = 2 * time.Second

var (
	flagUsername    string
	flagAutoplay    string
	flagMetricsAddr string
)

var callCmd = &cobra.Command{
	Use:     "call",
	Aliases: []string{"c"},
	Short:   "Join matchmaking and talk to a random partner",
	Long: `Acquire the microphone, connect to the matchmaking server and start
talking as soon as a partner is found.

Keys during a call:
  m  mute or unmute the microphone
  a  start audio when playback was blocked
  n  skip to the next partner
  q  hang up and quit

Examples:
  vocaline call --username ada
  vocaline call --domain voice.example.com --codec msgpack
  vocaline call --relay --turn turn.example.com --turn-user u --turn-pass p`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := baseOptions()
		opts.Username = flagUsername
		opts.Autoplay = flagAutoplay
		cfg, err := LoadConfig(opts)
		if err != nil {
			return err
		}
		return runCall(cmd.Context(), cfg)
	},
}

func runCall(ctx context.Context, cfg *config.Config) error {
	if cfg.Username == "" {
		return errors.New("no username: pass --username or set username in the config file")
	}

	mic, err := capture.NewMicrophone()
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	manager := capture.NewManager(mic, capture.NewFileGrantStore(cfg.DataDir))
	defer manager.Release()

	if err := acquireMicrophone(ctx, manager); err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go capture.Watch(watchCtx, manager, capture.CountAudioInputs, deviceWatchInterval)

	speaker, err := playback.NewSpeaker(cfg.Autoplay)
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer speaker.Close()

	transports, err := negotiation.NewPionFactory(cfg, mic.Populate)
	if err != nil {
		return fmt.Errorf("create webrtc api: %w", err)
	}

	sp := ui.NewConnectionSpinner("Connecting to server...")
	sp.Start()
	defer sp.Stop()

	conn, err := NewConnectionContext(ctx, cfg, flagMetricsAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := call.New(call.Config{
		Link:       conn.Link,
		Capture:    manager,
		Transports: transports,
		Telemetry:  conn.Telemetry,
		Players: func(roomID string) call.Player {
			return playback.NewGuard(playback.GuardConfig{
				Output:      speaker,
				Context:     speaker,
				SettleDelay: cfg.PlaybackSettleDelay,
				Telemetry:   conn.Telemetry,
				RoomID:      roomID,
			})
		},
	})
	if err != nil {
		return err
	}
	defer controller.Close()

	sp.UpdateMessage("Joining matchmaking...")
	if err := controller.Join(cfg.Username); err != nil {
		return fmt.Errorf("join matchmaking: %w", err)
	}
	sp.Success("Connected to " + cfg.WebSocketURL)

	summary, err := ui.RunCallUI(controller, controller.Events())
	if leaveErr := controller.Leave(); leaveErr != nil {
		slog.Debug("leave after call", "error", leaveErr)
	}

	fmt.Println()
	ui.RenderCallSummary(summary)
	return err
}

// acquireMicrophone opens the device before matchmaking so a denied
// permission fails fast instead of inside the first call.
func acquireMicrophone(ctx context.Context, manager *capture.Manager) error {
	msg := "Requesting microphone access..."
	if manager.HasPriorGrant() {
		msg = "Opening microphone..."
	}
	stopSpinner := ui.RunSpinner(msg)
	handle, err := manager.Acquire(ctx)
	stopSpinner()
	if err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) {
			return fmt.Errorf("microphone access denied: %w", err)
		}
		return fmt.Errorf("acquire microphone: %w", err)
	}
	ui.PrintSuccessf("Microphone ready (%d audio track(s), permission %s)", handle.Tracks, handle.Permission)
	return nil
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringVarP(&flagUsername, "username", "u", "", "Name shown to your partner")
	callCmd.Flags().StringVar(&flagAutoplay, "autoplay", "", "Speaker policy: allow, or gesture to require pressing a")
	callCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
}
