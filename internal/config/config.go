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
	DefaultAPIURL         = "http://127.0.0.1:7433"
	DefaultDBFileName     = ".chunkstore.db"
	DefaultStorageDirName = ".chunkstore-blobs"
	DefaultStorageBackend = "local"
	DefaultLockBackend    = "sqlite"
	DefaultLogLevel       = "info"
	DefaultBlobSize       = 1024 * 1024

	DefaultUploadConcurrency = 8
	DefaultPrefetchWorkers   = 4
	DefaultGCBatchSize       = 500
	DefaultGCGracePeriod     = 24 * time.Hour

	DefaultLockLease       = 10 * time.Minute
	DefaultLockTimeout     = 60 * time.Second
	DefaultDeletionDelay   = 60 * time.Second
	DefaultDeletionPolling = 30 * time.Second

	configFileName           = ".chunkstore.toml"
	configDirEnvKey          = "CHUNKSTORE_CONFIG_DIR"
	trustProjectConfigEnvKey = "CHUNKSTORE_TRUST_PROJECT_CONFIG"
	apiURLEnvKey             = "CHUNKSTORE_API_URL"
	dbPathEnvKey             = "CHUNKSTORE_DB"
	storagePathEnvKey        = "CHUNKSTORE_STORAGE_PATH"
)

// StorageConfig selects the backend holding blob bytes.
type StorageConfig struct {
	Backend  string `toml:"backend"`
	Path     string `toml:"path"`
	Compress bool   `toml:"compress"`
}

// BlobsConfig tunes chunking, upload and prefetch concurrency, and GC.
type BlobsConfig struct {
	BlobSize          int64         `toml:"blob_size"`
	UploadConcurrency int           `toml:"upload_concurrency"`
	PrefetchWorkers   int           `toml:"prefetch_workers"`
	PrefetchDir       string        `toml:"prefetch_dir"`
	GCBatchSize       int           `toml:"gc_batch_size"`
	GCGracePeriod     time.Duration `toml:"gc_grace_period"`
}

// LocksConfig selects the named lock implementation.
type LocksConfig struct {
	Backend string        `toml:"backend"`
	Lease   time.Duration `toml:"lease"`
	Timeout time.Duration `toml:"timeout"`
}

// DeletionConfig controls deferred deletion of blob bytes.
type DeletionConfig struct {
	Delay        time.Duration `toml:"delay"`
	PollInterval time.Duration `toml:"poll_interval"`
}

// Config defines runtime configuration for chunkstore.
type Config struct {
	APIURL                   string         `toml:"api_url"`
	DBPath                   string         `toml:"db_path"`
	LogLevel                 string         `toml:"log_level"`
	Storage                  StorageConfig  `toml:"storage"`
	Blobs                    BlobsConfig    `toml:"blobs"`
	Locks                    LocksConfig    `toml:"locks"`
	Deletion                 DeletionConfig `toml:"deletion"`
	TrustedProjectConfigPath string         `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		APIURL:   DefaultAPIURL,
		DBPath:   "",
		LogLevel: DefaultLogLevel,
		Storage: StorageConfig{
			Backend: DefaultStorageBackend,
		},
		Blobs: BlobsConfig{
			BlobSize:          DefaultBlobSize,
			UploadConcurrency: DefaultUploadConcurrency,
			PrefetchWorkers:   DefaultPrefetchWorkers,
			GCBatchSize:       DefaultGCBatchSize,
			GCGracePeriod:     DefaultGCGracePeriod,
		},
		Locks: LocksConfig{
			Backend: DefaultLockBackend,
			Lease:   DefaultLockLease,
			Timeout: DefaultLockTimeout,
		},
		Deletion: DeletionConfig{
			Delay:        DefaultDeletionDelay,
			PollInterval: DefaultDeletionPolling,
		},
	}
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
	return filepath.Join(dir, configFileName), true
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
	"api_url",
	"db_path",
	"log_level",
	"storage.backend",
	"storage.path",
	"storage.compress",
	"blobs.blob_size",
	"blobs.upload_concurrency",
	"blobs.prefetch_workers",
	"blobs.prefetch_dir",
	"blobs.gc_batch_size",
	"blobs.gc_grace_period",
	"locks.backend",
	"locks.lease",
	"locks.timeout",
	"deletion.delay",
	"deletion.poll_interval",
}

var durationKeys = map[string]struct{}{
	"blobs.gc_grace_period":  {},
	"locks.lease":            {},
	"locks.timeout":          {},
	"deletion.delay":         {},
	"deletion.poll_interval": {},
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
	case "api_url":
		return c.APIURL, nil
	case "db_path":
		return c.DBPath, nil
	case "log_level":
		return c.LogLevel, nil
	case "storage.backend":
		return c.Storage.Backend, nil
	case "storage.path":
		return c.Storage.Path, nil
	case "storage.compress":
		return strconv.FormatBool(c.Storage.Compress), nil
	case "blobs.blob_size":
		return strconv.FormatInt(c.Blobs.BlobSize, 10), nil
	case "blobs.upload_concurrency":
		return strconv.Itoa(c.Blobs.UploadConcurrency), nil
	case "blobs.prefetch_workers":
		return strconv.Itoa(c.Blobs.PrefetchWorkers), nil
	case "blobs.prefetch_dir":
		return c.Blobs.PrefetchDir, nil
	case "blobs.gc_batch_size":
		return strconv.Itoa(c.Blobs.GCBatchSize), nil
	case "blobs.gc_grace_period":
		return c.Blobs.GCGracePeriod.String(), nil
	case "locks.backend":
		return c.Locks.Backend, nil
	case "locks.lease":
		return c.Locks.Lease.String(), nil
	case "locks.timeout":
		return c.Locks.Timeout.String(), nil
	case "deletion.delay":
		return c.Deletion.Delay.String(), nil
	case "deletion.poll_interval":
		return c.Deletion.PollInterval.String(), nil
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
	return filepath.Join(home, configFileName), nil
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
	return filepath.Join(cwd, configFileName), nil
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
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
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

	if apiURL := os.Getenv(apiURLEnvKey); apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dbPath := os.Getenv(dbPathEnvKey); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if storagePath := os.Getenv(storagePathEnvKey); storagePath != "" {
		cfg.Storage.Path = storagePath
	}

	if cwd, err := os.Getwd(); err == nil {
		if cfg.DBPath == "" {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
		if cfg.Storage.Path == "" {
			cfg.Storage.Path = filepath.Join(cwd, DefaultStorageDirName)
		}
	}

	cfg.normalizeDefaults()

	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	if _, ok := durationKeys[key]; ok {
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a duration such as 30s or 10m", key)
		}
		return parsed.String(), nil
	}
	switch key {
	case "blobs.blob_size":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "blobs.upload_concurrency", "blobs.prefetch_workers", "blobs.gc_batch_size":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "storage.compress":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	case "locks.backend":
		normalized := strings.ToLower(value)
		if normalized != "memory" && normalized != "sqlite" {
			return nil, fmt.Errorf("%s must be memory or sqlite", key)
		}
		return normalized, nil
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
	if strings.TrimSpace(c.APIURL) == "" {
		c.APIURL = DefaultAPIURL
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if strings.TrimSpace(c.Storage.Backend) == "" {
		c.Storage.Backend = DefaultStorageBackend
	}
	if c.Blobs.BlobSize <= 0 {
		c.Blobs.BlobSize = DefaultBlobSize
	}
	if c.Blobs.UploadConcurrency <= 0 {
		c.Blobs.UploadConcurrency = DefaultUploadConcurrency
	}
	if c.Blobs.PrefetchWorkers <= 0 {
		c.Blobs.PrefetchWorkers = DefaultPrefetchWorkers
	}
	if c.Blobs.GCBatchSize <= 0 {
		c.Blobs.GCBatchSize = DefaultGCBatchSize
	}
	if strings.TrimSpace(c.Locks.Backend) == "" {
		c.Locks.Backend = DefaultLockBackend
	}
	if c.Locks.Lease <= 0 {
		c.Locks.Lease = DefaultLockLease
	}
	if c.Locks.Timeout <= 0 {
		c.Locks.Timeout = DefaultLockTimeout
	}
	if c.Deletion.Delay <= 0 {
		c.Deletion.Delay = DefaultDeletionDelay
	}
	if c.Deletion.PollInterval <= 0 {
		c.Deletion.PollInterval = DefaultDeletionPolling
	}
}
