package datafolder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SettingsFileName is the per-folder settings file.
	SettingsFileName = "lambentlight.yml"
	// DefaultServerConfig is executed when the settings name no other file.
	DefaultServerConfig = "server.cfg"
)

// ErrConfigMalformed is returned when the folder settings cannot be parsed.
var ErrConfigMalformed = errors.New("data folder settings are malformed")

// Game selects which title the server runs for
type Game string

const (
	GameGTA5 Game = "gta5"
	GameRDR3 Game = "rdr3"
)

// Settings is the parsed content of SettingsFileName
type Settings struct {
	Game            Game    `yaml:"game" json:"game"`
	License         License `yaml:"license" json:"license"`
	OneSync         bool    `yaml:"onesync" json:"onesync"`
	OneSyncInfinity bool    `yaml:"onesync_infinity" json:"onesync_infinity"`
	Config          string  `yaml:"config" json:"config"`
}

// License overrides the global license key for a single folder
type License struct {
	UseCustom bool   `yaml:"use_custom" json:"use_custom"`
	Custom    string `yaml:"custom" json:"-"`
}

// DefaultSettings is what a folder without a settings file runs with.
func DefaultSettings() Settings {
	return Settings{
		Game:   GameGTA5,
		Config: DefaultServerConfig,
	}
}

// Folder is a directory holding one server's configuration and world data.
// Every probe goes to the filesystem; nothing is cached.
type Folder struct {
	Path string
}

// New creates a folder handle for path
func New(path string) *Folder {
	return &Folder{Path: filepath.Clean(path)}
}

// Name is the directory name, which is also how callers pick a folder.
func (f *Folder) Name() string {
	return filepath.Base(f.Path)
}

func (f *Folder) String() string {
	return f.Name()
}

// Exists reports whether the directory is still on disk
func (f *Folder) Exists() bool {
	info, err := os.Stat(f.Path)
	return err == nil && info.IsDir()
}

// SettingsPath is the location of the per-folder settings file
func (f *Folder) SettingsPath() string {
	return filepath.Join(f.Path, SettingsFileName)
}

// Settings parses the folder settings. A missing file yields the defaults.
func (f *Folder) Settings() (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(f.SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read folder settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("%w: %s: %v", ErrConfigMalformed, f.Name(), err)
	}

	settings.Game = Game(strings.ToLower(strings.TrimSpace(string(settings.Game))))
	if settings.Game == "" {
		settings.Game = GameGTA5
	}
	settings.Config = strings.TrimSpace(settings.Config)
	if settings.Config == "" {
		settings.Config = DefaultServerConfig
	}
	if err := validateConfigName(settings.Config); err != nil {
		return DefaultSettings(), fmt.Errorf("%w: %s: %v", ErrConfigMalformed, f.Name(), err)
	}

	return settings, nil
}

// SaveSettings writes settings to the folder
func (f *Folder) SaveSettings(settings Settings) error {
	if err := validateConfigName(settings.Config); err != nil {
		return err
	}
	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal folder settings: %w", err)
	}
	if err := os.WriteFile(f.SettingsPath(), out, 0644); err != nil {
		return fmt.Errorf("failed to write folder settings: %w", err)
	}
	return nil
}

// HasConfiguration reports whether the folder settings parse and the server
// config file they point at is present.
func (f *Folder) HasConfiguration() bool {
	settings, err := f.Settings()
	if err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(f.Path, settings.Config))
	return err == nil && !info.IsDir()
}

// CachePath is the server's resource cache, safe to delete between runs
func (f *Folder) CachePath() string {
	return filepath.Join(f.Path, "cache")
}

// ClearCache removes the resource cache if there is one
func (f *Folder) ClearCache() error {
	if err := os.RemoveAll(f.CachePath()); err != nil {
		return fmt.Errorf("failed to clear cache of %s: %w", f.Name(), err)
	}
	return nil
}

// ConsoleLogPath is where the server's console output is kept
func (f *Folder) ConsoleLogPath() string {
	return filepath.Join(f.Path, "logs", "console.log")
}

func validateConfigName(name string) error {
	if name == "" {
		return nil
	}
	if filepath.IsAbs(name) || strings.Contains(filepath.ToSlash(name), "..") {
		return fmt.Errorf("config must be a file inside the data folder: %s", name)
	}
	return nil
}
