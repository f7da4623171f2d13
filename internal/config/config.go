// Package config holds the daemon configuration and its YAML persistence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gmenu/gmenu/internal/logger"
	"gopkg.in/yaml.v3"
)

// Timeouts bounds the per-strategy discovery latency, in milliseconds.
// Zero values fall back to the defaults.
type Timeouts struct {
	// TreeFetchMS bounds a dbusmenu GetLayout call.
	TreeFetchMS int `json:"tree_fetch_ms" yaml:"tree_fetch_ms"`
	// ProbeMS bounds a single flat-group or dbusmenu path probe.
	ProbeMS int `json:"probe_ms" yaml:"probe_ms"`
	// RegistrarMS bounds registrar and process-id correlation calls.
	RegistrarMS int `json:"registrar_ms" yaml:"registrar_ms"`
}

// Config represents the daemon configuration.
type Config struct {
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogPretty bool   `json:"log_pretty" yaml:"log_pretty"`

	// APIPort is the port of the introspection HTTP server. Zero disables it.
	APIPort int `json:"api_port" yaml:"api_port"`

	Timeouts Timeouts `json:"timeouts" yaml:"timeouts"`

	// GtkMenuPaths are the conventional flat-group object paths probed when a
	// window advertises a bus name but no explicit menubar path.
	GtkMenuPaths []string `json:"gtk_menu_paths" yaml:"gtk_menu_paths"`

	// DBusMenuPaths are the conventional dbusmenu object paths probed as the
	// next fallback, and during process-id correlation.
	DBusMenuPaths []string `json:"dbusmenu_paths" yaml:"dbusmenu_paths"`

	// PIDScanLimit caps how many bus names the process-id correlation
	// fallback will query before giving up.
	PIDScanLimit int `json:"pid_scan_limit" yaml:"pid_scan_limit"`
}

// Manager handles configuration loading and persistence.
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a configuration manager. With an empty configFile the
// default path $HOME/.config/gmenu/config.yaml is used; a missing file is
// created with defaults.
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "gmenu")
	actualConfigPath := filepath.Join(configDir, "config.yaml")
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{configPath: actualConfigPath}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("log_level", m.config.LogLevel).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		LogLevel:  "info",
		LogPretty: false,
		APIPort:   0,
		Timeouts: Timeouts{
			TreeFetchMS: 2000,
			ProbeMS:     500,
			RegistrarMS: 1000,
		},
		GtkMenuPaths: []string{
			"/org/appmenu/gtk/window/0",
			"/org/gtk/Application/anonymous",
			"/org/gtk/Application/menus/menubar",
		},
		DBusMenuPaths: []string{
			"/MenuBar",
			"/org/appmenu/menubar",
			"/com/canonical/menu",
			"/com/canonical/dbusmenu",
			"/org/ayatana/menu",
		},
		PIDScanLimit: 64,
	}
}

// load reads the configuration from disk.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	// Backfill anything the file leaves empty.
	def := Defaults()
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Timeouts.TreeFetchMS <= 0 {
		cfg.Timeouts.TreeFetchMS = def.Timeouts.TreeFetchMS
	}
	if cfg.Timeouts.ProbeMS <= 0 {
		cfg.Timeouts.ProbeMS = def.Timeouts.ProbeMS
	}
	if cfg.Timeouts.RegistrarMS <= 0 {
		cfg.Timeouts.RegistrarMS = def.Timeouts.RegistrarMS
	}
	if len(cfg.GtkMenuPaths) == 0 {
		cfg.GtkMenuPaths = def.GtkMenuPaths
	}
	if len(cfg.DBusMenuPaths) == 0 {
		cfg.DBusMenuPaths = def.DBusMenuPaths
	}
	if cfg.PIDScanLimit <= 0 {
		cfg.PIDScanLimit = def.PIDScanLimit
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return Defaults()
	}
	return m.config
}

// SetLogLevel overrides the configured log level (flag override, not saved).
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config != nil {
		m.config.LogLevel = level
	}
}

// SetAPIPort overrides the configured API port (flag override, not saved).
func (m *Manager) SetAPIPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config != nil {
		m.config.APIPort = port
	}
}

// Save writes the current configuration to disk.
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// GetConfigPath returns the path of the backing config file.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
