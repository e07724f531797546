package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultLogLevel          = "info"
	defaultLogMaxSizeMB      = 10
	defaultLogMaxFiles       = 5
	defaultBackupDestination = "local"
	defaultBackupPrefix      = "coffer"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Store   StoreConfig   `toml:"store"`
	Logging LoggingConfig `toml:"logging"`
	Backup  BackupConfig  `toml:"backup"`
	Seed    SeedConfig    `toml:"seed"`
}

type StoreConfig struct {
	// Path of the SQLite store file; empty means the default under the
	// coffer home directory.
	Path        string `toml:"path"`
	CatalogPath string `toml:"catalog_path"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type BackupConfig struct {
	// Destination selects the object storage backend: "local" or "s3".
	Destination string `toml:"destination"`
	Dir         string `toml:"dir"`
	Bucket      string `toml:"bucket"`
	Region      string `toml:"region"`
	Endpoint    string `toml:"endpoint"`
	Prefix      string `toml:"prefix"`
	PathStyle   bool   `toml:"path_style"`
}

type SeedConfig struct {
	Dir string `toml:"dir"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
	Flags      FlagOverrides
}

type FlagOverrides struct {
	StorePath   *string
	CatalogPath *string
	LogLevel    *string
}

func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Path:        "",
			CatalogPath: "",
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
		Backup: BackupConfig{
			Destination: defaultBackupDestination,
			Prefix:      defaultBackupPrefix,
		},
		Seed: SeedConfig{
			Dir: "",
		},
	}
}

func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	configPath, err := resolveConfigPath(opts)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}
	if err := loadAndApplyFile(configPath, &cfg); err != nil {
		return Config{}, err
	}

	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

type rawConfig struct {
	Store   *rawStore   `toml:"store"`
	Logging *rawLogging `toml:"logging"`
	Backup  *rawBackup  `toml:"backup"`
	Seed    *rawSeed    `toml:"seed"`
}

type rawStore struct {
	Path        *string `toml:"path"`
	CatalogPath *string `toml:"catalog_path"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

type rawBackup struct {
	Destination *string `toml:"destination"`
	Dir         *string `toml:"dir"`
	Bucket      *string `toml:"bucket"`
	Region      *string `toml:"region"`
	Endpoint    *string `toml:"endpoint"`
	Prefix      *string `toml:"prefix"`
	PathStyle   *bool   `toml:"path_style"`
}

type rawSeed struct {
	Dir *string `toml:"dir"`
}

func loadAndApplyFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}

	applyRawConfig(cfg, raw)
	return nil
}

func applyRawConfig(cfg *Config, raw rawConfig) {
	if raw.Store != nil {
		setString(raw.Store.Path, &cfg.Store.Path)
		setString(raw.Store.CatalogPath, &cfg.Store.CatalogPath)
	}

	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}

	if raw.Backup != nil {
		setString(raw.Backup.Destination, &cfg.Backup.Destination)
		setString(raw.Backup.Dir, &cfg.Backup.Dir)
		setString(raw.Backup.Bucket, &cfg.Backup.Bucket)
		setString(raw.Backup.Region, &cfg.Backup.Region)
		setString(raw.Backup.Endpoint, &cfg.Backup.Endpoint)
		setString(raw.Backup.Prefix, &cfg.Backup.Prefix)
		setBool(raw.Backup.PathStyle, &cfg.Backup.PathStyle)
	}

	if raw.Seed != nil {
		setString(raw.Seed.Dir, &cfg.Seed.Dir)
	}
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "COFFER_STORE_PATH"); ok {
		cfg.Store.Path = value
	}
	if value, ok := lookupEnv(opts, "COFFER_CATALOG_PATH"); ok {
		cfg.Store.CatalogPath = value
	}

	if value, ok := lookupEnv(opts, "COFFER_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "COFFER_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	if value, ok := lookupEnv(opts, "COFFER_LOG_MAX_SIZE_MB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse COFFER_LOG_MAX_SIZE_MB: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxSizeMB = parsed
	}
	if value, ok := lookupEnv(opts, "COFFER_LOG_MAX_FILES"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse COFFER_LOG_MAX_FILES: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxFiles = parsed
	}

	if value, ok := lookupEnv(opts, "COFFER_BACKUP_DESTINATION"); ok {
		cfg.Backup.Destination = value
	}
	if value, ok := lookupEnv(opts, "COFFER_BACKUP_DIR"); ok {
		cfg.Backup.Dir = value
	}
	if value, ok := lookupEnv(opts, "COFFER_BACKUP_BUCKET"); ok {
		cfg.Backup.Bucket = value
	}
	if value, ok := lookupEnv(opts, "COFFER_BACKUP_REGION"); ok {
		cfg.Backup.Region = value
	}
	if value, ok := lookupEnv(opts, "COFFER_BACKUP_ENDPOINT"); ok {
		cfg.Backup.Endpoint = value
	}
	if value, ok := lookupEnv(opts, "COFFER_BACKUP_PREFIX"); ok {
		cfg.Backup.Prefix = value
	}
	if value, ok := lookupEnv(opts, "COFFER_BACKUP_PATH_STYLE"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: parse COFFER_BACKUP_PATH_STYLE: %v", ErrInvalidConfig, err)
		}
		cfg.Backup.PathStyle = parsed
	}

	if value, ok := lookupEnv(opts, "COFFER_SEED_DIR"); ok {
		cfg.Seed.Dir = value
	}

	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	if flags.StorePath != nil {
		cfg.Store.Path = *flags.StorePath
	}
	if flags.CatalogPath != nil {
		cfg.Store.CatalogPath = *flags.CatalogPath
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
}

func validate(cfg Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level must be one of debug, info, warn, error", ErrInvalidConfig)
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("%w: logging.max_size_mb must be > 0", ErrInvalidConfig)
	}
	if cfg.Logging.MaxFiles < 1 {
		return fmt.Errorf("%w: logging.max_files must be >= 1", ErrInvalidConfig)
	}
	switch cfg.Backup.Destination {
	case "local", "s3":
	default:
		return fmt.Errorf("%w: backup.destination must be local or s3", ErrInvalidConfig)
	}
	return nil
}

func setString(raw *string, target *string) {
	if raw != nil {
		*target = *raw
	}
}

func setBool(raw *bool, target *bool) {
	if raw != nil {
		*target = *raw
	}
}

func setInt(raw *int, target *int) {
	if raw != nil {
		*target = *raw
	}
}

func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := lookupEnv(opts, "COFFER_CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath()
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

// Home resolves the coffer data directory: COFFER_HOME when set, the
// platform application-support directory otherwise.
func Home(env map[string]string) (string, error) {
	opts := LoadOptions{Env: env}
	if value, ok := lookupEnv(opts, "COFFER_HOME"); ok {
		return value, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Coffer"), nil
	}

	dataHome := filepath.Join(home, ".local", "share")
	if xdgDataHome, ok := lookupEnv(opts, "XDG_DATA_HOME"); ok && xdgDataHome != "" {
		dataHome = xdgDataHome
	}
	return filepath.Join(dataHome, "coffer"), nil
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Coffer", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "coffer", "config.toml"), nil
}
