// Package config loads clipvault settings from defaults, a YAML file, .env
// files and CLIPVAULT_* environment variables, in that order of precedence
// (later wins). Command-line flags are applied by the caller on top.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLIPVAULT_"

// Environment variables.
const (
	EnvConfig       = EnvPrefix + "CONFIG"
	EnvVaultPath    = EnvPrefix + "VAULT_PATH"
	EnvSessionTTL   = EnvPrefix + "SESSION_TTL"
	EnvSessionCache = EnvPrefix + "SESSION_CACHE"
	EnvPollInterval = EnvPrefix + "POLL_INTERVAL"
	EnvMaxBackoff   = EnvPrefix + "MAX_BACKOFF"
	EnvSocketPath   = EnvPrefix + "SOCKET_PATH"
	EnvLogLevel     = EnvPrefix + "LOG_LEVEL"
	EnvLogFormat    = EnvPrefix + "LOG_FORMAT"
)

// Defaults.
const (
	DirName          = ".clipvault"
	FileName         = "config.yaml"
	VaultFileName    = "clipvault.db"
	SocketFileName   = "clipvault.sock"
	DefaultTTL       = 15 * time.Minute
	DefaultBackoff   = 5 * time.Second
	DefaultLogLevel  = "warn"
	DefaultLogFormat = "text"

	// SessionCacheNone disables the on-disk session cache.
	SessionCacheNone = "none"

	minPollInterval = 10 * time.Millisecond
)

var (
	// ErrInsecureFile is returned when the config file is writable by others.
	ErrInsecureFile = errors.New("config: file has insecure permissions")
	// ErrSymlink is returned when the config file is a symlink.
	ErrSymlink = errors.New("config: file is a symlink")
	// ErrNotOwnedByUser is returned when the config file belongs to another user.
	ErrNotOwnedByUser = errors.New("config: file not owned by current user")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("config: invalid value")
)

// Config is the resolved configuration.
type Config struct {
	VaultPath string `yaml:"vault_path"`

	// SessionTTL is how long an unlock is remembered. Zero keeps the
	// session in memory for the life of the process only.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SessionCache is the session token directory, or SessionCacheNone.
	SessionCache string `yaml:"session_cache"`

	// PollInterval overrides the vault's stored poll interval when set.
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`

	SocketPath string `yaml:"socket_path"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// File is the config file that was read, empty if none.
	File string `yaml:"-"`
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// File is an explicit config path; a missing explicit file is an
	// error. Empty falls back to $CLIPVAULT_CONFIG, then the default path,
	// which may be absent.
	File string

	// EnvFiles are .env files to load. Nil means ".env" in the working
	// directory. Missing files are ignored and variables already set in the
	// environment are never overridden.
	EnvFiles []string
}

// Dir returns the default clipvault directory (~/.clipvault).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	cache := SessionCacheNone
	if d, err := os.UserCacheDir(); err == nil {
		cache = filepath.Join(d, "clipvault")
	}
	return &Config{
		VaultPath:    filepath.Join(dir, VaultFileName),
		SessionTTL:   DefaultTTL,
		SessionCache: cache,
		MaxBackoff:   DefaultBackoff,
		SocketPath:   filepath.Join(dir, SocketFileName),
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
	}, nil
}

// Load resolves the configuration.
func Load(opts LoadOptions) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("config: failed to load %s: %w", f, err)
		}
	}

	path, explicit := opts.File, opts.File != ""
	if !explicit {
		if p := os.Getenv(EnvConfig); p != "" {
			path, explicit = p, true
		} else {
			dir, err := Dir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, FileName)
		}
	}
	if err := cfg.readFile(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) || explicit {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile merges the YAML file at path into c. Keys absent from the file
// keep their current values.
func (c *Config) readFile(path string) error {
	f, err := openConfigFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// fstat the open descriptor so the checked file is the one read
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalid, path)
	}
	if err := checkFilePermissions(info); err != nil {
		return err
	}
	if err := checkFileOwnership(info); err != nil {
		return err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	c.File = path
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		EnvVaultPath:    &c.VaultPath,
		EnvSessionCache: &c.SessionCache,
		EnvSocketPath:   &c.SocketPath,
		EnvLogLevel:     &c.LogLevel,
		EnvLogFormat:    &c.LogFormat,
	}
	for k, p := range strs {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			*p = v
		}
	}

	durs := map[string]*time.Duration{
		EnvSessionTTL:   &c.SessionTTL,
		EnvPollInterval: &c.PollInterval,
		EnvMaxBackoff:   &c.MaxBackoff,
	}
	for k, p := range durs {
		v, ok := os.LookupEnv(k)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalid, k, v, err)
		}
		*p = d
	}
	return nil
}

// expand resolves a leading ~ in path settings.
func (c *Config) expand() {
	for _, p := range []*string{&c.VaultPath, &c.SessionCache, &c.SocketPath} {
		*p = ExpandHome(*p)
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// SessionCacheDir returns the session cache directory, empty when disabled.
func (c *Config) SessionCacheDir() string {
	if c.SessionCache == SessionCacheNone {
		return ""
	}
	return c.SessionCache
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.VaultPath) == "":
		return fmt.Errorf("%w: vault_path must not be empty", ErrInvalid)
	case c.SessionTTL < 0:
		return fmt.Errorf("%w: session_ttl must not be negative", ErrInvalid)
	case c.SessionTTL > 0 && c.SessionTTL < time.Second:
		return fmt.Errorf("%w: session_ttl must be zero or at least 1s", ErrInvalid)
	case c.PollInterval != 0 && c.PollInterval < minPollInterval:
		return fmt.Errorf("%w: poll_interval must be at least %s", ErrInvalid, minPollInterval)
	case c.MaxBackoff <= 0:
		return fmt.Errorf("%w: max_backoff must be positive", ErrInvalid)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log_level %q (want debug, info, warn or error)", ErrInvalid, c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q (want text or json)", ErrInvalid, c.LogFormat)
	}
	return nil
}
