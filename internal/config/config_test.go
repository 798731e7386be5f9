package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate clears every variable Load reads and points the default config
// location at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, k := range []string{
		"DOMAIN", "SERVER_URL", "STUN_SERVER", "TURN_SERVER", "TURN_USERNAME", "TURN_PASSWORD",
		"FORCE_RELAY", "VOCALINE_CONFIG", "VOCALINE_CODEC", "VOCALINE_USERNAME", "VOCALINE_AUTOPLAY",
		"VOCALINE_RECONNECT_DELAY", "VOCALINE_PLAYBACK_SETTLE_DELAY", "VOCALINE_DATA_DIR",
		"VOCALINE_RELAY_ADDR",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Domain != DefaultDomain {
		t.Errorf("Domain = %q, want %q", cfg.Domain, DefaultDomain)
	}
	if cfg.WebSocketURL != "ws://localhost:8080/ws" {
		t.Errorf("WebSocketURL = %q", cfg.WebSocketURL)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Errorf("ReconnectDelay = %s, want 2s", cfg.ReconnectDelay)
	}
	if cfg.PlaybackSettleDelay != 500*time.Millisecond {
		t.Errorf("PlaybackSettleDelay = %s, want 500ms", cfg.PlaybackSettleDelay)
	}
	if cfg.Codec != CodecJSON || cfg.Autoplay != AutoplayAllow {
		t.Errorf("Codec/Autoplay = %q/%q", cfg.Codec, cfg.Autoplay)
	}
	if cfg.GetTURNServers() != nil {
		t.Errorf("TURN servers should be empty by default, got %v", cfg.GetTURNServers())
	}
	if cfg.ConfigFile != "" {
		t.Errorf("ConfigFile = %q, want none", cfg.ConfigFile)
	}
}

func TestLoadPriority(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "vocaline.yaml")
	yaml := "domain: file.example.com\ncodec: msgpack\nreconnect_delay: 5s\nusername: from-file\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOMAIN", "env.example.com")

	cfg, err := Load(Options{ConfigFile: path, Username: "from-flag"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name, got, want string
	}{
		{"env beats file", cfg.Domain, "env.example.com"},
		{"file beats default", cfg.Codec, CodecMsgPack},
		{"flag beats file", cfg.Username, "from-flag"},
		{"derived url", cfg.WebSocketURL, "wss://env.example.com/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %s, want 5s", cfg.ReconnectDelay)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)

	if _, err := Load(Options{ConfigFile: filepath.Join(dir, "nope.yaml")}); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown codec", Options{Codec: "xml"}},
		{"unknown autoplay", Options{Autoplay: "never"}},
		{"force relay without turn", Options{ForceRelay: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			if _, err := Load(tt.opts); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	isolate(t)
	_, err := Load(Options{ForceRelay: true})
	if !errors.Is(err, ErrForceRelayWithoutTURN) {
		t.Errorf("err = %v, want ErrForceRelayWithoutTURN", err)
	}
}

func TestTURNServers(t *testing.T) {
	isolate(t)

	cfg, err := Load(Options{TURNServer: "turn:relay.example.com", TURNUser: "u", TURNPass: "p", ForceRelay: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{
		"turn:relay.example.com:3478?transport=udp",
		"turn:relay.example.com:3478?transport=tcp",
		"turns:relay.example.com:5349?transport=tcp",
	}
	got := cfg.GetTURNServers()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("server[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if u, p := cfg.GetTURNCredentials(); u != "u" || p != "p" {
		t.Errorf("credentials = %q/%q", u, p)
	}
}
