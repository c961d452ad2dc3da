package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Run modes accepted by orchestrator.mode
const (
	ModeSingle     = "single"
	ModeContinuous = "continuous"
)

// Trigger strategy types
const (
	TriggerHTTP    = "http"
	TriggerCommand = "command"
)

// Config represents the complete application configuration
type Config struct {
	App          AppConfig          `yaml:"app"`
	Logging      LoggingConfig      `yaml:"logging"`
	Queue        QueueConfig        `yaml:"queue"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Artifact     ArtifactConfig     `yaml:"artifact"`
	Output       OutputConfig       `yaml:"output"`
	Upload       UploadConfig       `yaml:"upload"`
	Trigger      TriggerConfig      `yaml:"trigger"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	History      HistoryConfig      `yaml:"history"`
	Events       EventsConfig       `yaml:"events"`
	Status       StatusConfig       `yaml:"status"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// QueueConfig holds the remote job queue settings
type QueueConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Resource       string        `yaml:"resource"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxWait        time.Duration `yaml:"max_wait"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PeekTimeout    time.Duration `yaml:"peek_timeout"`
}

// MonitorConfig holds the quiescence monitor settings
type MonitorConfig struct {
	WatchedRoot     string        `yaml:"watched_root"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	NoUpdateTimeout time.Duration `yaml:"no_update_timeout"`
	MaxWait         time.Duration `yaml:"max_wait"`
	RequireActivity bool          `yaml:"require_activity"`
}

// ArtifactConfig holds the artifact lookup rules
type ArtifactConfig struct {
	CanonicalName string   `yaml:"canonical_name"`
	Extensions    []string `yaml:"extensions"`
}

// OutputConfig holds where located artifacts are copied to
type OutputConfig struct {
	Directory        string `yaml:"directory"`
	FilenameTemplate string `yaml:"filename_template"`
	DefaultFilename  string `yaml:"default_filename"`
}

// UploadConfig holds the storage server settings
type UploadConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ServerURL         string        `yaml:"server_url"`
	Path              string        `yaml:"path"`
	FolderID          int           `yaml:"folder_id"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryCount        int           `yaml:"retry_count"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	DeleteAfterUpload bool          `yaml:"delete_after_upload"`
	UserAgent         string        `yaml:"user_agent"`
}

// TriggerConfig holds the ordered synthesis trigger strategies
type TriggerConfig struct {
	Strategies []TriggerStrategyConfig `yaml:"strategies"`
}

// TriggerStrategyConfig describes one way of starting synthesis
type TriggerStrategyConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Timeout time.Duration     `yaml:"timeout"`
}

// OrchestratorConfig holds the job loop settings
type OrchestratorConfig struct {
	Mode      string        `yaml:"mode"`
	FastDrain bool          `yaml:"fast_drain"`
	LoopDelay time.Duration `yaml:"loop_delay"`
}

// HistoryConfig holds the run-history database settings
type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	MemoryCapacity  int           `yaml:"memory_capacity"`
}

// EventsConfig holds the RabbitMQ settings for job outcome events
type EventsConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	User          string           `yaml:"user"`
	Password      string           `yaml:"password"`
	VHost         string           `yaml:"vhost"`
	Exchange      ExchangeConfig   `yaml:"exchange"`
	Queue         QueueDeclConfig  `yaml:"queue"`
	RoutingKey    string           `yaml:"routing_key"`
	RoutingPrefix string           `yaml:"routing_prefix"` // routes each event to <prefix>.<status>
	Connection    ConnectionConfig `yaml:"connection"`
	Publish       PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueDeclConfig holds RabbitMQ queue configuration
type QueueDeclConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// StatusConfig holds the status HTTP server configuration
type StatusConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration and fills in defaults
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	return &config, nil
}

// ApplyDefaults fills in zero-valued settings
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "voice-worker"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Queue.Resource == "" {
		c.Queue.Resource = "queue"
	}
	if c.Queue.RequestTimeout <= 0 {
		c.Queue.RequestTimeout = 10 * time.Second
	}
	if c.Queue.MaxWait <= 0 {
		c.Queue.MaxWait = 300 * time.Second
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.PeekTimeout <= 0 {
		c.Queue.PeekTimeout = 5 * time.Second
	}

	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = 2 * time.Second
	}
	if c.Monitor.NoUpdateTimeout <= 0 {
		c.Monitor.NoUpdateTimeout = 60 * time.Second
	}
	if c.Monitor.MaxWait <= 0 {
		c.Monitor.MaxWait = 600 * time.Second
	}

	if c.Artifact.CanonicalName == "" {
		c.Artifact.CanonicalName = "audio.wav"
	}
	if len(c.Artifact.Extensions) == 0 {
		c.Artifact.Extensions = []string{".wav"}
	}

	if c.Output.Directory == "" {
		c.Output.Directory = "data"
	}
	if c.Output.DefaultFilename == "" {
		c.Output.DefaultFilename = "output_audio.wav"
	}
	if c.Output.FilenameTemplate == "" {
		c.Output.FilenameTemplate = "{outfile}"
	}

	if c.Upload.Path == "" {
		c.Upload.Path = "/api/upload/"
	}
	if c.Upload.Timeout <= 0 {
		c.Upload.Timeout = 60 * time.Second
	}
	if c.Upload.RetryDelay <= 0 {
		c.Upload.RetryDelay = 2 * time.Second
	}

	if c.Orchestrator.Mode == "" {
		c.Orchestrator.Mode = ModeContinuous
	}
	if c.Orchestrator.LoopDelay <= 0 {
		c.Orchestrator.LoopDelay = c.Queue.PollInterval
	}

	if c.History.SSLMode == "" {
		c.History.SSLMode = "disable"
	}
	if c.History.MemoryCapacity <= 0 {
		c.History.MemoryCapacity = 500
	}

	if c.Events.Exchange.Type == "" {
		c.Events.Exchange.Type = "topic"
	}
	if c.Events.Connection.RetryAttempts <= 0 {
		c.Events.Connection.RetryAttempts = 3
	}
	if c.Events.Connection.RetryInterval <= 0 {
		c.Events.Connection.RetryInterval = 2 * time.Second
	}

	if c.Status.ShutdownTimeout <= 0 {
		c.Status.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks if the worker configuration is valid
func (c *Config) Validate() error {
	if err := validateHTTPURL("queue base_url", c.Queue.BaseURL); err != nil {
		return err
	}

	if c.Monitor.WatchedRoot == "" {
		return fmt.Errorf("monitor watched_root is required")
	}

	if c.Monitor.NoUpdateTimeout >= c.Monitor.MaxWait {
		return fmt.Errorf("monitor no_update_timeout (%s) must be shorter than max_wait (%s)",
			c.Monitor.NoUpdateTimeout, c.Monitor.MaxWait)
	}

	inside, err := within(c.Monitor.WatchedRoot, c.Output.Directory)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	if inside {
		return fmt.Errorf("output directory %q must differ from the watched root %q and not be inside it",
			c.Output.Directory, c.Monitor.WatchedRoot)
	}

	if c.Upload.Enabled {
		if err := validateHTTPURL("upload server_url", c.Upload.ServerURL); err != nil {
			return err
		}
		if c.Upload.RetryCount < 0 {
			return fmt.Errorf("upload retry_count must not be negative")
		}
	}

	if c.Orchestrator.Mode != ModeSingle && c.Orchestrator.Mode != ModeContinuous {
		return fmt.Errorf("invalid orchestrator mode: %q (must be %q or %q)",
			c.Orchestrator.Mode, ModeSingle, ModeContinuous)
	}

	if len(c.Trigger.Strategies) == 0 {
		return fmt.Errorf("at least one trigger strategy is required")
	}

	for i, s := range c.Trigger.Strategies {
		switch s.Type {
		case TriggerHTTP:
			if err := validateHTTPURL(fmt.Sprintf("trigger strategy %d url", i), s.URL); err != nil {
				return err
			}
		case TriggerCommand:
			if s.Command == "" {
				return fmt.Errorf("trigger strategy %d: command is required", i)
			}
		default:
			return fmt.Errorf("trigger strategy %d: unknown type %q", i, s.Type)
		}
	}

	if c.History.Enabled {
		if c.History.Host == "" {
			return fmt.Errorf("history host is required")
		}
		if c.History.Port < MinPort || c.History.Port > MaxPort {
			return fmt.Errorf("invalid history port: %d (must be between %d and %d)", c.History.Port, MinPort, MaxPort)
		}
		if c.History.Database == "" {
			return fmt.Errorf("history database name is required")
		}
	}

	if c.Events.Enabled {
		if c.Events.Host == "" {
			return fmt.Errorf("events host is required")
		}
		if c.Events.Port < MinPort || c.Events.Port > MaxPort {
			return fmt.Errorf("invalid events port: %d (must be between %d and %d)", c.Events.Port, MinPort, MaxPort)
		}
		if c.Events.Exchange.Name == "" {
			return fmt.Errorf("events exchange name is required")
		}
	}

	if c.Status.Enabled {
		if c.Status.Port < MinPort || c.Status.Port > MaxPort {
			return fmt.Errorf("invalid status port: %d (must be between %d and %d)", c.Status.Port, MinPort, MaxPort)
		}
	}

	return nil
}

// within reports whether dir is root or lies below it, after both are made
// absolute
func within(root, dir string) (bool, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false, err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil {
		return false, nil
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))), nil
}

// ValidateHistoryAPI checks the settings needed by the history API service
func (c *Config) ValidateHistoryAPI() error {
	if !c.History.Enabled {
		return fmt.Errorf("history must be enabled for the history API")
	}

	if c.History.Host == "" {
		return fmt.Errorf("history host is required")
	}

	if c.History.Database == "" {
		return fmt.Errorf("history database name is required")
	}

	if c.Status.Port < MinPort || c.Status.Port > MaxPort {
		return fmt.Errorf("invalid status port: %d (must be between %d and %d)", c.Status.Port, MinPort, MaxPort)
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https", field)
	}

	if strings.TrimSpace(u.Host) == "" {
		return fmt.Errorf("invalid %s: host is required", field)
	}

	return nil
}
