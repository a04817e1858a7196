package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Auth       AuthConfig       `yaml:"auth"`
	Worker     WorkerConfig     `yaml:"worker"`
	Navigation NavigationConfig `yaml:"navigation"`
	Upload     UploadConfig     `yaml:"upload"`
	Browser    BrowserConfig    `yaml:"browser"`
	Console    ConsoleConfig    `yaml:"console"`
	Session    SessionConfig    `yaml:"session"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Database   DatabaseConfig   `yaml:"database"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	Redis      RedisConfig      `yaml:"redis"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AuthConfig holds control-surface authentication
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// TokenHash is the bcrypt hash of the bearer token.
	TokenHash string `yaml:"token_hash"`
}

// WorkerConfig holds worker loop configuration
type WorkerConfig struct {
	AutoStart       bool          `yaml:"auto_start"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RevalidateSchedule is a five-field cron spec; empty disables it.
	RevalidateSchedule string `yaml:"revalidate_schedule"`
	StateDir           string `yaml:"state_dir"`
	WorkflowPath       string `yaml:"workflow_path"`
}

// NavigationConfig holds the navigation retry policy
type NavigationConfig struct {
	RetryCeiling int           `yaml:"retry_ceiling"`
	Backoff      time.Duration `yaml:"backoff"`
	MaxReloads   int           `yaml:"max_reloads"`
	Timeout      time.Duration `yaml:"timeout"`
}

// UploadConfig holds the upload retry policy
type UploadConfig struct {
	Attempts  int           `yaml:"attempts"`
	Backoff   time.Duration `yaml:"backoff"`
	Timeout   time.Duration `yaml:"timeout"`
	StaticDir string        `yaml:"static_dir"`
}

// BrowserConfig holds browser launch options
type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	ExecPath       string        `yaml:"exec_path"`
	UserDataDir    string        `yaml:"user_data_dir"`
	UserAgent      string        `yaml:"user_agent"`
	WindowWidth    int           `yaml:"window_width"`
	WindowHeight   int           `yaml:"window_height"`
	ElementTimeout time.Duration `yaml:"element_timeout"`
}

// ConsoleConfig holds the session indicators of the target console
type ConsoleConfig struct {
	SignInSelector        string        `yaml:"sign_in_selector"`
	AuthenticatedSelector string        `yaml:"authenticated_selector"`
	ValidateTimeout       time.Duration `yaml:"validate_timeout"`
	PollSlice             time.Duration `yaml:"poll_slice"`
	// LoginTimeout bounds the manual sign-in wait; zero waits indefinitely.
	LoginTimeout time.Duration `yaml:"login_timeout"`
}

// SessionConfig selects the session store backend
type SessionConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Key    string `yaml:"key"`
}

// RabbitMQConfig holds RabbitMQ connection, intake and events configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Connection ConnectionConfig `yaml:"connection"`
	Intake     IntakeConfig     `yaml:"intake"`
	Events     EventsConfig     `yaml:"events"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// IntakeConfig holds the job intake consumer settings
type IntakeConfig struct {
	Enabled       bool           `yaml:"enabled"`
	Exchange      ExchangeConfig `yaml:"exchange"`
	Queue         QueueConfig    `yaml:"queue"`
	RoutingKey    string         `yaml:"routing_key"`
	ConsumerTag   string         `yaml:"consumer_tag"`
	PrefetchCount int            `yaml:"prefetch_count"`
}

// EventsConfig holds the outcome event publisher settings
type EventsConfig struct {
	Enabled    bool           `yaml:"enabled"`
	Exchange   ExchangeConfig `yaml:"exchange"`
	RoutingKey string         `yaml:"routing_key"`
	Publish    PublishConfig  `yaml:"publish"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
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
}

// SQLiteConfig holds the SQLite session database configuration
type SQLiteConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Navigation: DefaultNavigation(),
		Upload:     DefaultUpload(),
	}
	if err := yaml.Unmarshal(expandEnv(data), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// DefaultNavigation is the navigation policy used when the file leaves
// fields out. It is seeded before parsing so an explicit zero backoff or
// max_reloads survives.
func DefaultNavigation() NavigationConfig {
	return NavigationConfig{
		RetryCeiling: 3,
		Backoff:      2 * time.Second,
		MaxReloads:   2,
		Timeout:      30 * time.Second,
	}
}

// DefaultUpload is the upload policy used when the file leaves fields out
func DefaultUpload() UploadConfig {
	return UploadConfig{
		Attempts:  5,
		Backoff:   time.Second,
		Timeout:   30 * time.Second,
		StaticDir: "static",
	}
}

// envRef matches ${VAR}; a bare $ is left alone.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// ApplyDefaults fills zero values with working defaults. Fields where zero
// is a valid setting are seeded in Load instead.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "console-automator"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Worker.StateDir == "" {
		c.Worker.StateDir = "state"
	}

	if c.Navigation.RetryCeiling == 0 {
		c.Navigation.RetryCeiling = 3
	}
	if c.Navigation.Timeout == 0 {
		c.Navigation.Timeout = 30 * time.Second
	}

	if c.Upload.Attempts == 0 {
		c.Upload.Attempts = 5
	}
	if c.Upload.Timeout == 0 {
		c.Upload.Timeout = 30 * time.Second
	}
	if c.Upload.StaticDir == "" {
		c.Upload.StaticDir = "static"
	}

	if c.Browser.ElementTimeout == 0 {
		c.Browser.ElementTimeout = 30 * time.Second
	}

	if c.Console.SignInSelector == "" {
		c.Console.SignInSelector = "input[type='email']"
	}
	if c.Console.AuthenticatedSelector == "" {
		c.Console.AuthenticatedSelector = "#main-content"
	}
	if c.Console.ValidateTimeout == 0 {
		c.Console.ValidateTimeout = 10 * time.Second
	}

	c.Session.Driver = strings.ToLower(strings.TrimSpace(c.Session.Driver))
	if c.Session.Driver == "" {
		c.Session.Driver = "file"
	}
	if c.Session.Path == "" {
		c.Session.Path = filepath.Join(c.Worker.StateDir, "session.json")
	}
	if c.Session.Key == "" {
		c.Session.Key = "default"
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = filepath.Join(c.Worker.StateDir, "sessions.db")
	}

	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.RabbitMQ.Connection.RetryInterval == 0 {
		c.RabbitMQ.Connection.RetryInterval = 2 * time.Second
	}
	if c.RabbitMQ.Intake.Exchange.Type == "" {
		c.RabbitMQ.Intake.Exchange.Type = "direct"
	}
	if c.RabbitMQ.Events.Exchange.Type == "" {
		c.RabbitMQ.Events.Exchange.Type = "fanout"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q (must be json or console)", c.Logging.Format)
	}

	if c.Auth.Enabled {
		if c.Auth.TokenHash == "" {
			return fmt.Errorf("auth token_hash is required when auth is enabled")
		}
		if _, err := bcrypt.Cost([]byte(c.Auth.TokenHash)); err != nil {
			return fmt.Errorf("auth token_hash is not a bcrypt hash: %w", err)
		}
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}
	if c.Worker.RevalidateSchedule != "" {
		if _, err := cron.ParseStandard(c.Worker.RevalidateSchedule); err != nil {
			return fmt.Errorf("invalid worker revalidate_schedule: %w", err)
		}
	}

	if c.Navigation.RetryCeiling < 1 {
		return fmt.Errorf("navigation retry_ceiling must be at least 1")
	}
	if c.Navigation.MaxReloads < 0 {
		return fmt.Errorf("navigation max_reloads must not be negative")
	}
	if c.Navigation.Backoff < 0 || c.Upload.Backoff < 0 {
		return fmt.Errorf("navigation and upload backoff must not be negative")
	}
	if c.Upload.Attempts < 1 {
		return fmt.Errorf("upload attempts must be at least 1")
	}

	if c.Console.SignInSelector == "" || c.Console.AuthenticatedSelector == "" {
		return fmt.Errorf("console sign_in_selector and authenticated_selector are required")
	}
	if c.Console.LoginTimeout < 0 {
		return fmt.Errorf("console login_timeout must not be negative")
	}

	if err := c.validateSession(); err != nil {
		return err
	}
	return c.validateRabbitMQ()
}

func (c *Config) validateSession() error {
	switch c.Session.Driver {
	case "file":
		if c.Session.Path == "" {
			return fmt.Errorf("session path is required for the file driver")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required for the sqlite driver")
		}
	case "postgres", "postgresql":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown session driver: %q", c.Session.Driver)
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Intake.Enabled && !c.RabbitMQ.Events.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}
	if c.RabbitMQ.Intake.Enabled && c.RabbitMQ.Intake.Queue.Name == "" {
		return fmt.Errorf("rabbitmq intake queue name is required")
	}
	if c.RabbitMQ.Events.Enabled && c.RabbitMQ.Events.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq events exchange name is required")
	}
	return nil
}
