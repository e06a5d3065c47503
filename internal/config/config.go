package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// ErrNoDatabaseURL is returned by Validate when no store connection string resolves.
var ErrNoDatabaseURL = errors.New("database URL not configured")

type Config struct {
	Database Database `yaml:"database"`
	Social   Social   `yaml:"social"`
	Pipeline Pipeline `yaml:"pipeline"`
	Schedule Schedule `yaml:"schedule"`
	Metrics  Metrics  `yaml:"metrics"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type Database struct {
	URLEnv        string `yaml:"url_env"`
	URL           string `yaml:"url"`
	ContentTable  string `yaml:"content_table"`
	SnapshotTable string `yaml:"snapshot_table"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
}

type Social struct {
	SharedCount Provider `yaml:"sharedcount"`
	XSearch     Provider `yaml:"xsearch"`
	Breaker     Breaker  `yaml:"breaker"`
	Parallel    bool     `yaml:"parallel"`
}

// Provider configures one external metrics API.
type Provider struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Breaker struct {
	Failures uint          `yaml:"failures"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type Pipeline struct {
	Delay    time.Duration `yaml:"delay"`
	DaysBack int           `yaml:"days_back"`
	Limit    int           `yaml:"limit"`
}

type Schedule struct {
	Timezone string `yaml:"timezone"`
	Jobs     []Job  `yaml:"jobs"`
}

// Job is a scheduled run of the engagement pipeline.
type Job struct {
	Name     string `yaml:"name"`
	Cron     string `yaml:"cron"`
	Mode     string `yaml:"mode"`
	DaysBack int    `yaml:"days_back"`
	Limit    int    `yaml:"limit"`
	ClientID *int64 `yaml:"client_id"`
}

type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for socialshares.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "socialshares")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/socialshares/config.yaml > ./config.yaml.
// An empty path with a nil error means no file exists and defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// LoadEnv overlays .env files from the working directory onto the process
// environment and returns the files it loaded.
func LoadEnv() ([]string, error) {
	var loaded []string
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			return loaded, fmt.Errorf("loading %s: %w", file, err)
		}
		loaded = append(loaded, file)
	}
	return loaded, nil
}

// Load reads and parses a config YAML file. An empty path yields the
// embedded default config.
func Load(path string) (*Config, error) {
	if path == "" {
		return parse(DefaultConfigYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Database: Database{
			URLEnv:        "DATABASE_URL",
			ContentTable:  "coverage_log",
			SnapshotTable: "coverage_social_shares",
			MaxOpenConns:  4,
		},
		Social: Social{
			SharedCount: Provider{
				BaseURL:   "https://api.sharedcount.com/v1.0/",
				APIKeyEnv: "SHAREDCOUNT_API_KEY",
				Timeout:   30 * time.Second,
			},
			XSearch: Provider{
				BaseURL:   "https://twitter-api45.p.rapidapi.com",
				APIKeyEnv: "TWITTER_API_KEY",
				Timeout:   30 * time.Second,
			},
			Breaker: Breaker{Failures: 5, Cooldown: 5 * time.Minute},
		},
		Pipeline: Pipeline{Delay: time.Second, DaysBack: 10, Limit: 10},
		Schedule: Schedule{Timezone: "UTC"},
		Metrics:  Metrics{Job: "socialshares"},
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "info", Format: "text"},
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	return cfg, nil
}

// DatabaseURL returns the store connection string: the env variable named by
// url_env wins over the url key.
func (c *Config) DatabaseURL() string {
	if c.Database.URLEnv != "" {
		if v := strings.TrimSpace(os.Getenv(c.Database.URLEnv)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.Database.URL)
}

// APIKey returns the secret for a provider, or "" when unset.
func (p Provider) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
}

// Validate checks the settings every job needs before it touches the store.
func (c *Config) Validate() error {
	if c.DatabaseURL() == "" {
		return fmt.Errorf("%w: set %s or database.url", ErrNoDatabaseURL, c.Database.URLEnv)
	}
	if c.Pipeline.Delay < 0 {
		return fmt.Errorf("pipeline.delay must not be negative")
	}
	if c.Pipeline.DaysBack <= 0 {
		return fmt.Errorf("pipeline.days_back must be positive, got %d", c.Pipeline.DaysBack)
	}
	if c.Pipeline.Limit <= 0 {
		return fmt.Errorf("pipeline.limit must be positive, got %d", c.Pipeline.Limit)
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
