package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRepository is the metadata source used when none is configured.
const DefaultRepository = "https://raw.githubusercontent.com/LambentLight/Metadata/master"

// Config represents the application configuration
type Config struct {
	CFXToken                string         `yaml:"cfx_token" json:"cfx_token"`
	SteamToken              string         `yaml:"steam_token" json:"steam_token"`
	RestartOnCrash          bool           `yaml:"restart_on_crash" json:"restart_on_crash"`
	ClearCacheOnStart       bool           `yaml:"clear_cache" json:"clear_cache"`
	Repos                   []string       `yaml:"repos" json:"repos"`
	AddAfterInstalling      bool           `yaml:"add_after_installing" json:"add_after_installing"`
	RemoveAfterUninstalling bool           `yaml:"remove_after_uninstalling" json:"remove_after_uninstalling"`
	Builds                  map[string]any `yaml:"builds" json:"builds"`
	Creator                 map[string]any `yaml:"creator" json:"creator"`
	AutoRestart             AutoRestart    `yaml:"auto_restart" json:"auto_restart"`

	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Installer InstallerConfig `yaml:"installer" json:"installer"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// AutoRestart is mostly passed through untouched; only the schedule is read.
type AutoRestart struct {
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Schedule string         `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Extra    map[string]any `yaml:",inline" json:"-"`
}

// HTTPConfig contains control API listener settings
type HTTPConfig struct {
	Host           string   `yaml:"host" json:"host"`
	Port           int      `yaml:"port" json:"port"`
	APIToken       string   `yaml:"api_token" json:"api_token"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" json:"allowed_origins"`
	RateLimit      int      `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
}

// InstallerConfig names the external program that fetches and unpacks a
// build. {version} and {destination} in Args are substituted per call.
type InstallerConfig struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args,omitempty" json:"args"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	BuildsDir string `yaml:"builds_dir" json:"builds_dir"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	TempDir   string `yaml:"temp_dir" json:"temp_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Paths holds storage locations resolved against the config file location.
type Paths struct {
	BuildsDir    string
	DataDir      string
	TempDir      string
	DatabasePath string
}

// Default returns a configuration populated with default values.
func Default() *Config {
	return &Config{
		RestartOnCrash:    true,
		ClearCacheOnStart: false,
		Repos:             []string{DefaultRepository},
		Builds:            map[string]any{},
		Creator:           map[string]any{},
		HTTP: HTTPConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			RateLimit: 120,
		},
		Database: DatabaseConfig{
			Path: "./cfx-manager.db",
		},
		Storage: StorageConfig{
			BuildsDir: "./builds",
			DataDir:   "./data",
			TempDir:   "./temp",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads the configuration at path and applies the environment
// overrides. A missing file is regenerated with defaults and written back
// immediately.
func Load(path string) (*Config, error) {
	doc, err := loadDocument(path)
	if err != nil {
		return nil, err
	}
	return effective(doc)
}

// effective is doc with the environment overrides applied, validated. doc
// itself is left untouched so overrides never reach the file.
func effective(doc *Config) (*Config, error) {
	cfg := doc.Clone()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDocument reads the file as written, without environment overrides
func loadDocument(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := Save(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to regenerate config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CFX_LICENSE_KEY"); v != "" {
		cfg.CFXToken = v
	}
	if v := os.Getenv("STEAM_API_KEY"); v != "" {
		cfg.SteamToken = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("BUILDS_DIR"); v != "" {
		cfg.Storage.BuildsDir = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.HTTP.APIToken = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http rate limit must not be negative")
	}

	for _, repo := range c.Repos {
		if strings.TrimSpace(repo) == "" {
			return fmt.Errorf("repos must not contain empty entries")
		}
	}

	if c.AutoRestart.Enabled && strings.TrimSpace(c.AutoRestart.Schedule) == "" {
		return fmt.Errorf("auto_restart is enabled but no schedule is set")
	}

	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format != "" && format != "json" && format != "text" {
		return fmt.Errorf("logging format must be json or text")
	}

	return nil
}

// Clone returns a deep enough copy that mutating it never touches c.
func (c *Config) Clone() *Config {
	out := *c
	out.Repos = append([]string(nil), c.Repos...)
	out.Installer.Args = append([]string(nil), c.Installer.Args...)
	out.HTTP.AllowedOrigins = append([]string(nil), c.HTTP.AllowedOrigins...)
	out.Builds = maps.Clone(c.Builds)
	out.Creator = maps.Clone(c.Creator)
	out.AutoRestart.Extra = maps.Clone(c.AutoRestart.Extra)
	return &out
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the whole configuration back to disk.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ResolvePaths turns the relative storage paths of cfg into absolute ones,
// anchored at the directory holding the config file (or its parent when that
// directory is named "configs").
func ResolvePaths(cfg *Config, configPath string) Paths {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value, fallback string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			trimmed = fallback
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	paths := Paths{
		BuildsDir: resolvePath(cfg.Storage.BuildsDir, "builds"),
		DataDir:   resolvePath(cfg.Storage.DataDir, "data"),
		TempDir:   resolvePath(cfg.Storage.TempDir, "temp"),
	}
	paths.DatabasePath = resolvePath(cfg.Database.Path, "cfx-manager.db")
	return paths
}
