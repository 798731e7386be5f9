package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultDomain   = "localhost:8080"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultCodec    = CodecJSON
	DefaultAutoplay = AutoplayAllow

	DefaultReconnectDelay      = 2 * time.Second
	DefaultPlaybackSettleDelay = 500 * time.Millisecond

	DefaultICEDisconnectedTimeout = 30 * time.Second
	DefaultICEFailedTimeout       = 120 * time.Second
	DefaultICEKeepalive           = 2 * time.Second

	DefaultRelayAddr = ":8080"
	DefaultLogLevel  = "error"
)

// Signaling codecs.
const (
	CodecJSON    = "json"
	CodecMsgPack = "msgpack"
)

// Autoplay policies for the speaker output.
const (
	AutoplayAllow   = "allow"
	AutoplayGesture = "gesture"
)

var ErrForceRelayWithoutTURN = errors.New("cannot force relay mode without TURN server configured")

// Config holds application configuration
type Config struct {
	// Domain is the signaling server domain
	Domain string

	// WebSocketURL is constructed from domain unless set explicitly
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Codec selects the signaling wire format ("json" or "msgpack").
	Codec string

	Username string

	ReconnectDelay      time.Duration
	PlaybackSettleDelay time.Duration
	Autoplay            string

	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepalive           time.Duration

	// DataDir holds the microphone permission marker.
	DataDir string

	RelayAddr string
	LogLevel  string

	// ConfigFile is the file that was read, empty if none.
	ConfigFile string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile string
	Domain     string
	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Codec      string
	Username   string
	Autoplay   string
	DataDir    string
	RelayAddr  string
	LogLevel   string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file (YAML)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	file, err := readConfigFile(v, opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	override(v, "domain", opts.Domain)
	override(v, "server_url", opts.ServerURL)
	override(v, "stun_server", opts.STUNServer)
	override(v, "turn_server", opts.TURNServer)
	override(v, "turn_username", opts.TURNUser)
	override(v, "turn_password", opts.TURNPass)
	override(v, "codec", opts.Codec)
	override(v, "username", opts.Username)
	override(v, "autoplay", opts.Autoplay)
	override(v, "data_dir", opts.DataDir)
	override(v, "relay_addr", opts.RelayAddr)
	override(v, "log_level", opts.LogLevel)
	if opts.ForceRelay {
		v.Set("force_relay", true)
	}

	cfg := &Config{
		Domain:                 v.GetString("domain"),
		WebSocketURL:           v.GetString("server_url"),
		STUNServer:             v.GetString("stun_server"),
		TURNServer:             v.GetString("turn_server"),
		TURNUser:               v.GetString("turn_username"),
		TURNPass:               v.GetString("turn_password"),
		ForceRelay:             v.GetBool("force_relay"),
		Codec:                  strings.ToLower(v.GetString("codec")),
		Username:               v.GetString("username"),
		ReconnectDelay:         v.GetDuration("reconnect_delay"),
		PlaybackSettleDelay:    v.GetDuration("playback_settle_delay"),
		Autoplay:               strings.ToLower(v.GetString("autoplay")),
		ICEDisconnectedTimeout: v.GetDuration("ice_disconnected_timeout"),
		ICEFailedTimeout:       v.GetDuration("ice_failed_timeout"),
		ICEKeepalive:           v.GetDuration("ice_keepalive"),
		DataDir:                v.GetString("data_dir"),
		RelayAddr:              v.GetString("relay_addr"),
		LogLevel:               v.GetString("log_level"),
		ConfigFile:             file,
	}

	if cfg.WebSocketURL == "" {
		cfg.WebSocketURL = websocketURL(cfg.Domain)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("domain", DefaultDomain)
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("codec", DefaultCodec)
	v.SetDefault("autoplay", DefaultAutoplay)
	v.SetDefault("reconnect_delay", DefaultReconnectDelay)
	v.SetDefault("playback_settle_delay", DefaultPlaybackSettleDelay)
	v.SetDefault("ice_disconnected_timeout", DefaultICEDisconnectedTimeout)
	v.SetDefault("ice_failed_timeout", DefaultICEFailedTimeout)
	v.SetDefault("ice_keepalive", DefaultICEKeepalive)
	v.SetDefault("relay_addr", DefaultRelayAddr)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("force_relay", false)
}

// bindEnv keeps the unprefixed variable names used by earlier releases.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("domain", "DOMAIN")
	_ = v.BindEnv("server_url", "SERVER_URL")
	_ = v.BindEnv("stun_server", "STUN_SERVER")
	_ = v.BindEnv("turn_server", "TURN_SERVER")
	_ = v.BindEnv("turn_username", "TURN_USERNAME")
	_ = v.BindEnv("turn_password", "TURN_PASSWORD")
	_ = v.BindEnv("force_relay", "FORCE_RELAY")
	_ = v.BindEnv("codec", "VOCALINE_CODEC")
	_ = v.BindEnv("username", "VOCALINE_USERNAME")
	_ = v.BindEnv("autoplay", "VOCALINE_AUTOPLAY")
	_ = v.BindEnv("reconnect_delay", "VOCALINE_RECONNECT_DELAY")
	_ = v.BindEnv("playback_settle_delay", "VOCALINE_PLAYBACK_SETTLE_DELAY")
	_ = v.BindEnv("data_dir", "VOCALINE_DATA_DIR")
	_ = v.BindEnv("relay_addr", "VOCALINE_RELAY_ADDR")
}

// readConfigFile loads an explicit file (which must exist) or the default
// location (which may be absent).
func readConfigFile(v *viper.Viper, explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = os.Getenv("VOCALINE_CONFIG")
	}
	required := path != ""
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", nil
		}
		path = filepath.Join(dir, "vocaline", "config.yaml")
	}

	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config file %s: %w", path, err)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %s: %w", path, err)
	}
	return path, nil
}

func override(v *viper.Viper, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func (c *Config) validate() error {
	switch c.Codec {
	case CodecJSON, CodecMsgPack:
	default:
		return fmt.Errorf("unknown signaling codec %q", c.Codec)
	}
	switch c.Autoplay {
	case AutoplayAllow, AutoplayGesture:
	default:
		return fmt.Errorf("unknown autoplay policy %q", c.Autoplay)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive, got %s", c.ReconnectDelay)
	}
	if c.PlaybackSettleDelay < 0 {
		return fmt.Errorf("playback_settle_delay must not be negative, got %s", c.PlaybackSettleDelay)
	}
	if c.ForceRelay && c.GetTURNServers() == nil {
		return ErrForceRelayWithoutTURN
	}
	return nil
}

// websocketURL uses plain ws for loopback hosts so a local relay works
// without certificates.
func websocketURL(domain string) string {
	host := domain
	if h, _, err := net.SplitHostPort(domain); err == nil {
		host = h
	}
	scheme := "wss"
	if host == "localhost" {
		scheme = "ws"
	} else if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, domain)
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vocaline")
	}
	return filepath.Join(dir, "vocaline")
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
