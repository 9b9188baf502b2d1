package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultDBFileName   = ".partstore.db"
	DefaultPartsDirName = ".partstore-parts"

	DefaultProtectionWindowMinutes = 10
	DefaultUploadReuseWindowHours  = 72
	DefaultLogLevel                = "info"

	configDirEnvKey          = "PARTSTORE_CONFIG_DIR"
	trustProjectConfigEnvKey = "PARTSTORE_TRUST_PROJECT_CONFIG"

	snapCommonConfigRelativePath = "snap/partstore/common/.partstore.toml"
)

// GCConfig defines garbage collection behavior.
type GCConfig struct {
	// TrimOnCollect also reaps records still parked on the preupload
	// sentinel when the abandoned-file sweep runs.
	TrimOnCollect bool `toml:"trim_on_collect"`
}

// Config defines runtime configuration for partstore.
type Config struct {
	DBPath                  string   `toml:"db_path"`
	PartsDir                string   `toml:"parts_dir"`
	ProtectionWindowMinutes int      `toml:"protection_window_minutes"`
	UploadReuseWindowHours  int      `toml:"upload_reuse_window_hours"`
	LogLevel                string   `toml:"log_level"`
	GC                      GCConfig `toml:"gc"`

	TrustedProjectConfigPath string `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		DBPath:                  "",
		PartsDir:                "",
		ProtectionWindowMinutes: DefaultProtectionWindowMinutes,
		UploadReuseWindowHours:  DefaultUploadReuseWindowHours,
		LogLevel:                DefaultLogLevel,
	}
}

// ProtectionWindow returns the temp-file protection window as a duration.
func (c *Config) ProtectionWindow() time.Duration {
	return time.Duration(c.ProtectionWindowMinutes) * time.Minute
}

// UploadReuseWindow returns the upload-reuse window as a duration.
func (c *Config) UploadReuseWindow() time.Duration {
	return time.Duration(c.UploadReuseWindowHours) * time.Hour
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, ".partstore.toml"), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"db_path",
	"parts_dir",
	"protection_window_minutes",
	"upload_reuse_window_hours",
	"log_level",
	"gc.trim_on_collect",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "db_path":
		return c.DBPath, nil
	case "parts_dir":
		return c.PartsDir, nil
	case "protection_window_minutes":
		return strconv.Itoa(c.ProtectionWindowMinutes), nil
	case "upload_reuse_window_hours":
		return strconv.Itoa(c.UploadReuseWindowHours), nil
	case "log_level":
		return c.LogLevel, nil
	case "gc.trim_on_collect":
		return strconv.FormatBool(c.GC.TrimOnCollect), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	homePath := filepath.Join(home, ".partstore.toml")
	if info, statErr := os.Stat(homePath); statErr == nil && !info.IsDir() {
		return homePath, nil
	} else if statErr != nil && !os.IsNotExist(statErr) {
		return "", statErr
	}

	snapPath := filepath.Join(home, snapCommonConfigRelativePath)
	if info, statErr := os.Stat(snapPath); statErr == nil && !info.IsDir() {
		return snapPath, nil
	} else if statErr != nil && !os.IsNotExist(statErr) {
		return "", statErr
	}

	return homePath, nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, ".partstore.toml"), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			homePath := filepath.Join(home, ".partstore.toml")
			homeLoaded, loadErr := loadFileIfExists(homePath, &cfg)
			if loadErr != nil {
				return nil, loadErr
			}
			if !homeLoaded {
				snapPath := filepath.Join(home, snapCommonConfigRelativePath)
				if err := loadFile(snapPath, &cfg); err != nil {
					return nil, err
				}
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, ".partstore.toml")
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}
	if cfg.PartsDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.PartsDir = filepath.Join(cwd, DefaultPartsDirName)
		}
	}

	if dbPath := os.Getenv("PARTSTORE_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if partsDir := os.Getenv("PARTSTORE_PARTS_DIR"); partsDir != "" {
		cfg.PartsDir = partsDir
	}

	cfg.normalizeDefaults()

	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "protection_window_minutes", "upload_reuse_window_hours":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "gc.trim_on_collect":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func (c *Config) normalizeDefaults() {
	if c.ProtectionWindowMinutes <= 0 {
		c.ProtectionWindowMinutes = DefaultProtectionWindowMinutes
	}
	if c.UploadReuseWindowHours <= 0 {
		c.UploadReuseWindowHours = DefaultUploadReuseWindowHours
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
}
