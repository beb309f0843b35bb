package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "wurk2do"
	configFile = "config.yaml"
	envPrefix  = "WURK2DO"
)

// Config is the static configuration of the planner and its sync engine.
type Config struct {
	FileName         string        `mapstructure:"file_name" yaml:"file_name"`
	FolderName       string        `mapstructure:"folder_name" yaml:"folder_name"`
	UseFolder        bool          `mapstructure:"use_folder" yaml:"use_folder"`
	MimeType         string        `mapstructure:"mime_type" yaml:"mime_type"`
	AutoSyncInterval time.Duration `mapstructure:"auto_sync_interval" yaml:"-"`
	EncryptionSalt   string        `mapstructure:"encryption_salt" yaml:"encryption_salt"`
	KDFIterations    int           `mapstructure:"kdf_iterations" yaml:"kdf_iterations"`
	WireFormat       string        `mapstructure:"wire_format" yaml:"wire_format"`
	Compress         bool          `mapstructure:"compress" yaml:"compress"`
	Encrypt          bool          `mapstructure:"encrypt" yaml:"encrypt"`
	DataFile         string        `mapstructure:"data_file" yaml:"data_file"`
	LogFile          string        `mapstructure:"log_file" yaml:"log_file"`
	Debug            bool          `mapstructure:"debug" yaml:"debug"`
	WatchDebounce    time.Duration `mapstructure:"watch_debounce" yaml:"-"`
}

// Dir returns ~/.config/wurk2do.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

// GetConfigPath returns the default config file location.
func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		FileName:         "my_weektodo_data.json",
		FolderName:       "wurk2do-tasks",
		UseFolder:        true,
		MimeType:         "application/json",
		AutoSyncInterval: 8 * time.Hour,
		EncryptionSalt:   "wurk2do-encryption-salt-v1",
		KDFIterations:    100000,
		WireFormat:       "plain",
		WatchDebounce:    500 * time.Millisecond,
	}
	if dir, err := Dir(); err == nil {
		cfg.DataFile = filepath.Join(dir, "tasks.json")
	}
	return cfg
}

func newViper(defaults *Config) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("file_name", defaults.FileName)
	v.SetDefault("folder_name", defaults.FolderName)
	v.SetDefault("use_folder", defaults.UseFolder)
	v.SetDefault("mime_type", defaults.MimeType)
	v.SetDefault("auto_sync_interval", defaults.AutoSyncInterval)
	v.SetDefault("encryption_salt", defaults.EncryptionSalt)
	v.SetDefault("kdf_iterations", defaults.KDFIterations)
	v.SetDefault("wire_format", defaults.WireFormat)
	v.SetDefault("compress", defaults.Compress)
	v.SetDefault("encrypt", defaults.Encrypt)
	v.SetDefault("data_file", defaults.DataFile)
	v.SetDefault("log_file", defaults.LogFile)
	v.SetDefault("debug", defaults.Debug)
	v.SetDefault("watch_debounce", defaults.WatchDebounce)
	return v
}

// Load reads the config file at path (the default location when empty) over
// the defaults. A missing file yields the defaults; WURK2DO_* environment
// variables override both.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := newViper(DefaultConfig())
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.DataFile = expandHome(cfg.DataFile)
	cfg.LogFile = expandHome(cfg.LogFile)
	return &cfg, nil
}

// Validate rejects settings the sync engine cannot run with.
func (c *Config) Validate() error {
	if c.FileName == "" {
		return fmt.Errorf("file_name must not be empty")
	}
	if c.UseFolder && c.FolderName == "" {
		return fmt.Errorf("folder_name must not be empty when use_folder is set")
	}
	if c.AutoSyncInterval <= 0 {
		return fmt.Errorf("auto_sync_interval must be positive, got %s", c.AutoSyncInterval)
	}
	if c.KDFIterations <= 0 {
		return fmt.Errorf("kdf_iterations must be positive, got %d", c.KDFIterations)
	}
	return nil
}

// Save writes cfg as YAML to path (the default location when empty).
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	b, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Marshal renders cfg as YAML. Durations are written in their string form.
func Marshal(cfg *Config) ([]byte, error) {
	out := struct {
		Config           `yaml:",inline"`
		AutoSyncInterval string `yaml:"auto_sync_interval"`
		WatchDebounce    string `yaml:"watch_debounce"`
	}{
		Config:           *cfg,
		AutoSyncInterval: cfg.AutoSyncInterval.String(),
		WatchDebounce:    cfg.WatchDebounce.String(),
	}
	b, err := yaml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return b, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
