package client

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aeolun/framechat/pkg/protocol"
)

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	Local      LocalSection      `toml:"local"`
	UI         UISection         `toml:"ui"`
}

type ConnectionSection struct {
	DefaultServer string `toml:"default_server"`
	DefaultPort   int    `toml:"default_port"`
	FrameSize     int    `toml:"frame_size"`
}

type LocalSection struct {
	TempDir             string `toml:"temp_dir"`
	ChatLog             string `toml:"chat_log"`
	Mailbox             string `toml:"mailbox"` // 'file' or 'memory'
	RetryIntervalMillis int    `toml:"retry_interval_ms"`
}

type UISection struct {
	Notify bool `toml:"notify"`
	Color  bool `toml:"color"`
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Path, e.Message, e.LineNumber)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// getXDGDataHome returns the XDG data directory
func getXDGDataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share")
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Connection: ConnectionSection{
			DefaultServer: "localhost",
			DefaultPort:   6465,
			FrameSize:     protocol.DefaultFrameSize,
		},
		Local: LocalSection{
			TempDir:             os.TempDir(),
			ChatLog:             filepath.Join(getXDGDataHome(), "framechat", "client-chat.log"),
			Mailbox:             MailboxFile,
			RetryIntervalMillis: 1000,
		},
		UI: UISection{
			Notify: false,
			Color:  true,
		},
	}
}

// LoadClientConfig loads configuration from a TOML file, creates default if not found
func LoadClientConfig(path string) (TOMLConfig, error) {
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
			log.WithError(err).Debug("could not write default config")
		}
		return config, nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    cleanErrorMessage(err.Error()),
			LineNumber: extractLineNumber(err.Error()),
		}
	}

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:    path,
			Message: err.Error(),
		}
	}

	return config, nil
}

var lineNumberRe = regexp.MustCompile(`line (\d+)`)

// extractLineNumber tries to extract a line number from a TOML parse error
func extractLineNumber(errMsg string) int {
	matches := lineNumberRe.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

// cleanErrorMessage removes redundant parts from error messages
func cleanErrorMessage(errMsg string) string {
	return strings.TrimPrefix(errMsg, "toml: ")
}

// validateConfig validates configuration values
func validateConfig(config *TOMLConfig) error {
	var errors []string

	if config.Connection.DefaultPort < 1 || config.Connection.DefaultPort > 65535 {
		errors = append(errors, fmt.Sprintf("Invalid port number: %d (must be 1-65535)", config.Connection.DefaultPort))
	}

	if config.Connection.FrameSize != 0 && config.Connection.FrameSize < protocol.MinFrameSize {
		errors = append(errors, fmt.Sprintf("Invalid frame size: %d (must be at least %d)", config.Connection.FrameSize, protocol.MinFrameSize))
	}

	if config.Local.Mailbox != "" && config.Local.Mailbox != MailboxFile && config.Local.Mailbox != MailboxMemory {
		errors = append(errors, fmt.Sprintf("Invalid mailbox: %q (must be 'file' or 'memory')", config.Local.Mailbox))
	}

	if config.Local.RetryIntervalMillis < 0 {
		errors = append(errors, "Retry interval cannot be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("Configuration validation failed:\n  • %s", strings.Join(errors, "\n  • "))
	}

	return nil
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

	header := `# FrameChat Client Configuration
# This file was auto-generated with default values
# Edit as needed - changes take effect on next client start

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

// GetServerAddress returns the full server address (host:port or URL)
func (c *TOMLConfig) GetServerAddress() string {
	server := strings.TrimSpace(c.Connection.DefaultServer)
	if server == "" {
		return ""
	}

	if strings.Contains(server, "://") {
		return server
	}

	port := c.Connection.DefaultPort
	if port <= 0 {
		return server
	}

	return fmt.Sprintf("%s:%d", server, port)
}

// Options holds the runtime client settings
type Options struct {
	ServerAddr    string
	FrameSize     int
	TempDir       string // parent of the per-process temp dir
	ChatLogPath   string // empty disables the chat log
	Mailbox       string
	RetryInterval time.Duration
	Notify        bool
	Color         bool
}

// ToOptions converts TOMLConfig to Options with ~ expanded
func (c *TOMLConfig) ToOptions() (Options, error) {
	chatLog, err := expandHome(c.Local.ChatLog)
	if err != nil {
		return Options{}, err
	}
	tempDir, err := expandHome(c.Local.TempDir)
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		ServerAddr:    c.GetServerAddress(),
		FrameSize:     c.Connection.FrameSize,
		TempDir:       tempDir,
		ChatLogPath:   chatLog,
		Mailbox:       c.Local.Mailbox,
		RetryInterval: time.Duration(c.Local.RetryIntervalMillis) * time.Millisecond,
		Notify:        c.UI.Notify,
		Color:         c.UI.Color,
	}

	if opts.FrameSize == 0 {
		opts.FrameSize = protocol.DefaultFrameSize
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Mailbox == "" {
		opts.Mailbox = MailboxFile
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	return opts, nil
}

// ResetConfigToDefault resets the config file to default values
// If backup is true, creates a backup with timestamp
func ResetConfigToDefault(path string, backup bool) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	if backup {
		backupPath := fmt.Sprintf("%s.backup-%s", path, time.Now().Format("2006-01-02"))
		if err := copyFile(path, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
	}

	if err := writeDefaultConfig(path, DefaultTOMLConfig()); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
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
