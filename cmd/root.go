package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AxelFr971/vocaline-local/internal/config"
	"github.com/AxelFr971/vocaline-local/internal/ui"
	"github.com/AxelFr971/vocaline-local/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagDomain   string
	flagServer   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagCodec    string
	flagDataDir  string
	flagLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "vocaline",
	Short:   "Peer-to-peer voice calls with strangers, negotiated over WebRTC",
	Long:    `Vocaline pairs you with a random partner through a matchmaking server and sets up a direct WebRTC audio call. Signaling goes through the server, audio flows peer to peer (or through TURN when forced).`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// baseOptions collects the persistent flags shared by every command.
func baseOptions() config.Options {
	return config.Options{
		ConfigFile: flagConfig,
		Domain:     flagDomain,
		ServerURL:  flagServer,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		Codec:      flagCodec,
		DataDir:    flagDataDir,
		LogLevel:   flagLogLevel,
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagConfig, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/vocaline/config.yaml)")
	flags.StringVar(&flagDomain, "domain", "", "Signaling server domain")
	flags.StringVar(&flagServer, "server", "", "Signaling websocket URL (overrides --domain)")
	flags.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	flags.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	flags.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	flags.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	flags.BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	flags.StringVar(&flagCodec, "codec", "", "Signaling wire format: json or msgpack")
	flags.StringVar(&flagDataDir, "data-dir", "", "Directory for the microphone permission marker")
	flags.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
}
