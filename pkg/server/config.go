package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aeolun/framechat/pkg/database"
	"github.com/aeolun/framechat/pkg/protocol"
	"github.com/joho/godotenv"
)

// ErrMissingConfig reports a required configuration key with no value
var ErrMissingConfig = errors.New("missing configuration key")

// Environment variables that override the [database] section
const (
	EnvDBDriver   = "FRAMECHAT_DB_DRIVER"
	EnvDBPath     = "FRAMECHAT_DB_PATH"
	EnvDBHost     = "FRAMECHAT_DB_HOST"
	EnvDBPort     = "FRAMECHAT_DB_PORT"
	EnvDBName     = "FRAMECHAT_DB_NAME"
	EnvDBUser     = "FRAMECHAT_DB_USER"
	EnvDBPassword = "FRAMECHAT_DB_PASSWORD"
	EnvDBSSLMode  = "FRAMECHAT_DB_SSLMODE"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server   ServerSection   `toml:"server"`
	Database DatabaseSection `toml:"database"`
	Limits   LimitsSection   `toml:"limits"`
	Logging  LoggingSection  `toml:"logging"`
}

type ServerSection struct {
	TCPPort   int    `toml:"tcp_port"`
	HTTPPort  int    `toml:"http_port"`
	TempDir   string `toml:"temp_dir"`
	FrameSize int    `toml:"frame_size"`
}

type DatabaseSection struct {
	Driver   string `toml:"driver"`
	Path     string `toml:"path"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Name     string `toml:"name"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	SSLMode  string `toml:"sslmode"`
}

type LimitsSection struct {
	MaxConnectionsPerIP  int `toml:"max_connections_per_ip"`
	MessageRateLimit     int `toml:"message_rate_limit"`
	PollIntervalMillis   int `toml:"poll_interval_ms"`
	ShutdownGraceSeconds int `toml:"shutdown_grace_seconds"`
}

type LoggingSection struct {
	ChatLog string `toml:"chat_log"`
	Debug   bool   `toml:"debug"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:   6465,
			HTTPPort:  8080,
			TempDir:   filepath.Join(os.TempDir(), "framechat-server"),
			FrameSize: protocol.DefaultFrameSize,
		},
		Database: DatabaseSection{
			Driver: database.DriverSQLite,
			Path:   "~/.framechat/framechat.db",
		},
		Limits: LimitsSection{
			MaxConnectionsPerIP:  10,
			MessageRateLimit:     60,
			PollIntervalMillis:   500,
			ShutdownGraceSeconds: 2,
		},
		Logging: LoggingSection{
			ChatLog: "~/.framechat/server-chat.log",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			log.WithError(err).Warn("could not write default config")
		}
		return config, nil
	}

	// Start from defaults so keys missing from the file keep sane values
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# FrameChat Server Configuration
# This file was auto-generated with default values
# Database credentials may also come from FRAMECHAT_DB_* variables or a .env file

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ApplyEnv overlays database settings from the environment. A .env file at
// envFile is loaded first when present; variables already set win over it.
func (c *TOMLConfig) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	overrides := []struct {
		key string
		dst *string
	}{
		{EnvDBDriver, &c.Database.Driver},
		{EnvDBPath, &c.Database.Path},
		{EnvDBHost, &c.Database.Host},
		{EnvDBName, &c.Database.Name},
		{EnvDBUser, &c.Database.User},
		{EnvDBPassword, &c.Database.Password},
		{EnvDBSSLMode, &c.Database.SSLMode},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok {
			*o.dst = v
		}
	}

	if v, ok := os.LookupEnv(EnvDBPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvDBPort, v, err)
		}
		c.Database.Port = port
	}
	return nil
}

// Validate reports keys a server cannot start without
func (c *TOMLConfig) Validate() error {
	var missing []string

	if c.Server.TCPPort <= 0 {
		missing = append(missing, "server.tcp_port")
	}
	if c.Server.FrameSize != 0 && c.Server.FrameSize < protocol.MinFrameSize {
		return fmt.Errorf("server.frame_size must be at least %d", protocol.MinFrameSize)
	}

	switch c.Database.Driver {
	case database.DriverSQLite, "":
		if strings.TrimSpace(c.Database.Path) == "" {
			missing = append(missing, "database.path")
		}
	case database.DriverPostgres:
		if c.Database.Host == "" {
			missing = append(missing, "database.host")
		}
		if c.Database.Name == "" {
			missing = append(missing, "database.name")
		}
		if c.Database.User == "" {
			missing = append(missing, "database.user")
		}
	default:
		return fmt.Errorf("%w: %q", database.ErrUnknownDriver, c.Database.Driver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

// DatabaseConfig returns the persistence settings with ~ expanded
func (c *TOMLConfig) DatabaseConfig() (database.Config, error) {
	path, err := expandHome(c.Database.Path)
	if err != nil {
		return database.Config{}, err
	}
	if path != "" && c.Database.Driver != database.DriverPostgres {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return database.Config{}, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return database.Config{
		Driver:   c.Database.Driver,
		Path:     path,
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		Name:     c.Database.Name,
		User:     c.Database.User,
		Password: c.Database.Password,
		SSLMode:  c.Database.SSLMode,
	}, nil
}

// ChatLogPath returns the chat log path with ~ expanded
func (c *TOMLConfig) ChatLogPath() (string, error) {
	return expandHome(c.Logging.ChatLog)
}

// ServerConfig holds runtime server configuration
type ServerConfig struct {
	ListenAddr          string
	HTTPAddr            string // empty disables the HTTP endpoints
	TempDir             string // empty disables the exclusive temp dir
	FrameSize           int
	MaxConnectionsPerIP int
	MessageRateLimit    int // per minute, 0 disables
	PollInterval        time.Duration
	ShutdownGrace       time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	cfg := DefaultTOMLConfig()
	return cfg.ToServerConfig()
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := ServerConfig{
		ListenAddr:          fmt.Sprintf(":%d", c.Server.TCPPort),
		TempDir:             c.Server.TempDir,
		FrameSize:           c.Server.FrameSize,
		MaxConnectionsPerIP: c.Limits.MaxConnectionsPerIP,
		MessageRateLimit:    c.Limits.MessageRateLimit,
		PollInterval:        time.Duration(c.Limits.PollIntervalMillis) * time.Millisecond,
		ShutdownGrace:       time.Duration(c.Limits.ShutdownGraceSeconds) * time.Second,
	}

	if c.Server.HTTPPort > 0 {
		cfg.HTTPAddr = fmt.Sprintf(":%d", c.Server.HTTPPort)
	}
	if cfg.FrameSize == 0 {
		cfg.FrameSize = protocol.DefaultFrameSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 2 * time.Second
	}

	return cfg
}

// expandHome replaces a leading ~/ with the user's home directory
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
