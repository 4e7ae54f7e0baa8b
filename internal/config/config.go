package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Database  Database  `yaml:"database"`
	Server    Server    `yaml:"server"`
	Notify    Notify    `yaml:"notify"`
	Storage   Storage   `yaml:"storage"`
	Scanner   Scanner   `yaml:"scanner"`
	Admin     Admin     `yaml:"admin"`
	Cache     Cache     `yaml:"cache"`
	Events    Events    `yaml:"events"`
	Worker    Worker    `yaml:"worker"`
	Security  Security  `yaml:"security"`
	RateLimit RateLimit `yaml:"ratelimit"`
	Legacy    Legacy    `yaml:"legacy"`
	Logging   Logging   `yaml:"logging"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	BaseURL         string        `yaml:"base_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Notify struct {
	Enabled      bool          `yaml:"enabled"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	CommsEmail   string        `yaml:"comms_email"`
	CommentEmail string        `yaml:"comment_email"`
	Templates    Templates     `yaml:"templates"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// Templates holds GOV.UK Notify template ids.
type Templates struct {
	ConsultationOpen     string `yaml:"consultation_open"`
	ConsultationOpenPHE  string `yaml:"consultation_open_phe"`
	DecisionPublished    string `yaml:"decision_published"`
	DecisionPublishedPHE string `yaml:"decision_published_phe"`
	SubscriberDecision   string `yaml:"subscriber_decision"`
	PublicComment        string `yaml:"public_comment"`
	StakeholderComment   string `yaml:"stakeholder_comment"`
}

type Storage struct {
	Root string `yaml:"root"`
}

type Scanner struct {
	Enabled bool          `yaml:"enabled"`
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

type Admin struct {
	AllowedIPsEnv string   `yaml:"allowed_ips_env"`
	AllowedIPs    []string `yaml:"allowed_ips"`
}

type Cache struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

type Events struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type Worker struct {
	Schedule string `yaml:"schedule"`
	GRPCPort int    `yaml:"grpc_port"`
}

type Security struct {
	SecretKeyEnv string `yaml:"secret_key_env"`
}

type RateLimit struct {
	CommentsPerDay int `yaml:"comments_per_day"`
}

type Legacy struct {
	FeedURL string        `yaml:"feed_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for nscreview.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "nscreview")
}

// DataDir returns the XDG data directory for nscreview.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "nscreview")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/nscreview/config.yaml > ./config.yaml
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

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'nscreview init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Database: Database{Driver: "sqlite"},
		Server: Server{
			Host:            "127.0.0.1",
			Port:            8000,
			BaseURL:         "http://localhost:8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Notify: Notify{
			APIKeyEnv:   "NOTIFY_API_KEY",
			BaseURL:     "https://api.notifications.service.gov.uk",
			Timeout:     30 * time.Second,
			StaleAfter:  5 * time.Minute,
			BatchSize:   3000,
			MaxAttempts: 101,
		},
		Scanner: Scanner{
			Address: "tcp://localhost:3310",
			Timeout: 30 * time.Second,
		},
		Admin:     Admin{AllowedIPsEnv: "ADMIN_ALLOWED_IPS"},
		Cache:     Cache{Size: 512, TTL: 10 * time.Minute},
		Events:    Events{SubjectPrefix: "nscreview"},
		Worker:    Worker{Schedule: "* * * * *", GRPCPort: 9090},
		Security:  Security{SecretKeyEnv: "SECRET_KEY"},
		RateLimit: RateLimit{CommentsPerDay: 10},
		Legacy:    Legacy{Timeout: 15 * time.Second},
		Logging:   Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDSN returns the effective database DSN. For SQLite an empty DSN
// resolves to a file in the data directory.
func (c *Config) GetDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return filepath.Join(DataDir(), "nscreview.db")
}

// GetStorageRoot returns the document storage directory.
func (c *Config) GetStorageRoot() string {
	if c.Storage.Root != "" {
		return c.Storage.Root
	}
	return filepath.Join(DataDir(), "documents")
}

// NotifyAPIKey reads the Notify API key from the configured env var.
func (c *Config) NotifyAPIKey() string {
	return os.Getenv(c.Notify.APIKeyEnv)
}

// SecretKey reads the signing secret from the configured env var.
func (c *Config) SecretKey() string {
	return os.Getenv(c.Security.SecretKeyEnv)
}

// AdminAllowedIPs returns the admin CIDR allow-list. The env var, when set,
// takes precedence over the YAML list.
func (c *Config) AdminAllowedIPs() []string {
	if c.Admin.AllowedIPsEnv != "" {
		if raw := os.Getenv(c.Admin.AllowedIPsEnv); raw != "" {
			return splitList(raw)
		}
	}
	return c.Admin.AllowedIPs
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
