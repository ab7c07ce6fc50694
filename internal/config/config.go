package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Duration wraps time.Duration so it can be written as "15s" in config.toml.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the per-session config.toml plus environment overrides.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Page    Page    `toml:"page"`
	Extract Extract `toml:"extract"`
	Sync    Sync    `toml:"sync"`
	Queue   Queue   `toml:"queue"`
	Backend Backend `toml:"backend"`
	HTTP    HTTP    `toml:"http"`
	Notify  Notify  `toml:"notify"`
}

// Page configures how the daemon attaches to and observes the host page.
type Page struct {
	// DevToolsURL is the remote debugging endpoint of an already-running
	// browser. Empty means launch a new headless instance.
	DevToolsURL string `toml:"devtools_url"`
	// TargetURL is the substring used to pick the messenger tab, and the
	// URL opened when none matches.
	TargetURL        string   `toml:"target_url"`
	SnapshotInterval Duration `toml:"snapshot_interval"`
	DebounceDelay    Duration `toml:"debounce_delay"`
}

// Extract configures the phone reveal attempt loop.
type Extract struct {
	PollInterval   Duration `toml:"poll_interval"`
	MaxPolls       int      `toml:"max_polls"`
	RetryPoll      int      `toml:"retry_poll"`
	MinPhoneDigits int      `toml:"min_phone_digits"`
}

// Sync configures the coordinator timing.
type Sync struct {
	SettleDelay Duration `toml:"settle_delay"`
	ChatDwell   Duration `toml:"chat_dwell"`
}

// Queue configures the unread queue walker.
type Queue struct {
	ScanInterval Duration `toml:"scan_interval"`
	MinOpenDelay Duration `toml:"min_open_delay"`
	MaxOpenDelay Duration `toml:"max_open_delay"`
}

// Backend configures the remote record store. URL and token may also come
// from the environment (ADSYNC_BACKEND_URL, ADSYNC_BACKEND_TOKEN).
type Backend struct {
	URL                  string   `toml:"url"`
	Token                string   `toml:"token"`
	ConversationsTable   string   `toml:"conversations_table"`
	MessagesTable        string   `toml:"messages_table"`
	PollInterval         Duration `toml:"poll_interval"`
	DegradedPollInterval Duration `toml:"degraded_poll_interval"`
}

// HTTP configures the daemon's local control API.
type HTTP struct {
	Addr string `toml:"addr"`
}

// Notify configures the optional AMQP sync-event sink. An empty URL
// disables it.
type Notify struct {
	AMQPURL  string `toml:"amqp_url"`
	Exchange string `toml:"exchange"`
}

// envOverrides holds secrets and endpoints that should not live in
// config.toml. Loaded from the environment (and .env if present).
type envOverrides struct {
	BackendURL   string `envconfig:"BACKEND_URL"`
	BackendToken string `envconfig:"BACKEND_TOKEN"`
	AMQPURL      string `envconfig:"AMQP_URL"`
}

// Default returns a config with the documented default timings.
func Default() *Config {
	return &Config{
		Page: Page{
			TargetURL:        "https://www.olx.pt/mensagens",
			SnapshotInterval: Duration(500 * time.Millisecond),
			DebounceDelay:    Duration(600 * time.Millisecond),
		},
		Extract: Extract{
			PollInterval:   Duration(150 * time.Millisecond),
			MaxPolls:       60,
			RetryPoll:      25,
			MinPhoneDigits: 9,
		},
		Sync: Sync{
			SettleDelay: Duration(3 * time.Second),
			ChatDwell:   Duration(15 * time.Second),
		},
		Queue: Queue{
			ScanInterval: Duration(10 * time.Second),
			MinOpenDelay: Duration(15 * time.Second),
			MaxOpenDelay: Duration(40 * time.Second),
		},
		Backend: Backend{
			ConversationsTable:   "conversations",
			MessagesTable:        "messages",
			PollInterval:         Duration(30 * time.Second),
			DegradedPollInterval: Duration(5 * time.Second),
		},
		HTTP: HTTP{
			Addr: "127.0.0.1:8750",
		},
	}
}

// Load reads config from the given path on top of defaults, then applies
// environment overrides. A missing file is not an error: env-only setups
// are valid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	// .env is optional; envconfig reads the process environment either way.
	_ = godotenv.Load(".env")
	var env envOverrides
	if err := envconfig.Process("adsync", &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if env.BackendURL != "" {
		cfg.Backend.URL = env.BackendURL
	}
	if env.BackendToken != "" {
		cfg.Backend.Token = env.BackendToken
	}
	if env.AMQPURL != "" {
		cfg.Notify.AMQPURL = env.AMQPURL
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
