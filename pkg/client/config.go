package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aeolun/tvhdiscover/pkg/log"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 9982
)

// Config is the resolved connection configuration of one discovery session
type Config struct {
	Host string
	Port int
	User string
	Pass string

	// Tunnel, when set, carries the HTSP connection over SSH
	Tunnel TunnelConfig
}

// TunnelConfig describes an optional SSH jump host
type TunnelConfig struct {
	Address        string // ssh://user@host:port or user@host
	KeyFile        string
	KnownHostsFile string
}

// WithDefaults fills an empty host and a zero port
func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	return c
}

// Address returns host:port after defaults are applied
func (c Config) Address() string {
	c = c.WithDefaults()
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the values a session cannot run without
func (c Config) Validate() error {
	c = c.WithDefaults()
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", c.Port)
	}
	if c.Tunnel.Address != "" {
		if _, err := parseTunnelAddress(c.Tunnel.Address); err != nil {
			return err
		}
	}
	return nil
}

// TOMLConfig represents the structure of the config file
type TOMLConfig struct {
	Server  ServerSection  `toml:"server"`
	Tunnel  TunnelSection  `toml:"tunnel"`
	Local   LocalSection   `toml:"local"`
	Metrics MetricsSection `toml:"metrics"`
	Log     LogSection     `toml:"log"`
}

type ServerSection struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

type TunnelSection struct {
	SSH        string `toml:"ssh"`
	KeyFile    string `toml:"key_file"`
	KnownHosts string `toml:"known_hosts"`
}

type LocalSection struct {
	StateDB string `toml:"state_db"`
}

type MetricsSection struct {
	Listen string `toml:"listen"` // empty disables the endpoint
}

type LogSection struct {
	Level string `toml:"level"`
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
		Server: ServerSection{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Local: LocalSection{
			StateDB: filepath.Join(getXDGDataHome(), "tvhdiscover", "state.db"),
		},
		Log: LogSection{
			Level: "info",
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
		// A read-only config dir is not fatal, the defaults still work
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	// Start from defaults so omitted keys keep their default values
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    cleanErrorMessage(err.Error()),
			LineNumber: extractLineNumber(err),
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

// extractLineNumber pulls the line number out of a TOML parse error
func extractLineNumber(err error) int {
	var perr toml.ParseError
	if errors.As(err, &perr) && perr.Position.Line > 0 {
		return perr.Position.Line
	}
	matches := lineNumberRe.FindStringSubmatch(err.Error())
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
	var problems []string

	// Zero means default, anything else must be a real port
	if config.Server.Port < 0 || config.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("Invalid port number: %d (must be 1-65535)", config.Server.Port))
	}

	if config.Tunnel.SSH != "" {
		if _, err := parseTunnelAddress(config.Tunnel.SSH); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if config.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(config.Metrics.Listen); err != nil {
			problems = append(problems, fmt.Sprintf("Invalid metrics listen address %q: %v", config.Metrics.Listen, err))
		}
	}

	if !log.ValidLevel(config.Log.Level) {
		problems = append(problems, fmt.Sprintf("Invalid log level: %q (must be trace, debug, info, warn or error)", config.Log.Level))
	}

	if strings.TrimSpace(config.Local.StateDB) == "" {
		problems = append(problems, "State database path cannot be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  • %s", strings.Join(problems, "\n  • "))
	}

	return nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Credentials may end up in this file
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# tvhdiscover configuration
# This file was auto-generated with default values
# An empty host or a zero port fall back to localhost:9982

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ResetConfigToDefault overwrites the config file with defaults,
// optionally keeping a dated copy of the old one
func ResetConfigToDefault(path string, backup bool) (string, error) {
	path, err := expandHome(path)
	if err != nil {
		return "", err
	}

	var backupPath string
	if backup {
		backupPath = fmt.Sprintf("%s.backup-%s", path, time.Now().Format("2006-01-02"))
		if err := copyFile(path, backupPath); err != nil {
			return "", fmt.Errorf("failed to create backup: %w", err)
		}
	}

	if err := writeDefaultConfig(path, DefaultTOMLConfig()); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}

	return backupPath, nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}

// GetStateDBPath returns the state database path with ~ expanded
func (c *TOMLConfig) GetStateDBPath() (string, error) {
	return expandHome(c.Local.StateDB)
}

// ToConfig converts the file sections into a session Config
func (c *TOMLConfig) ToConfig() Config {
	return Config{
		Host: strings.TrimSpace(c.Server.Host),
		Port: c.Server.Port,
		User: c.Server.User,
		Pass: c.Server.Pass,
		Tunnel: TunnelConfig{
			Address:        strings.TrimSpace(c.Tunnel.SSH),
			KeyFile:        c.Tunnel.KeyFile,
			KnownHostsFile: c.Tunnel.KnownHosts,
		},
	}.WithDefaults()
}

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
