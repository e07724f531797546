package cli

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/cofferdb/coffer/internal/config"
)

const (
	storeFilename   = "coffer.db"
	catalogFilename = "catalog.yaml"
	backupDirname   = "backups"
)

func storeFilePath(cfg config.Config) (string, error) {
	if cfg.Store.Path != "" {
		return filepath.Clean(cfg.Store.Path), nil
	}
	home, err := config.Home(nil)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, storeFilename), nil
}

func catalogFilePath(cfg config.Config) (string, error) {
	if cfg.Store.CatalogPath != "" {
		return filepath.Clean(cfg.Store.CatalogPath), nil
	}
	home, err := config.Home(nil)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, catalogFilename), nil
}

func backupDirPath(cfg config.Config) (string, error) {
	if cfg.Backup.Dir != "" {
		return filepath.Clean(cfg.Backup.Dir), nil
	}
	home, err := config.Home(nil)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, backupDirname), nil
}

func configFilePath(globals *GlobalOptions) (string, error) {
	if globals != nil && globals.ConfigPath != "" {
		return filepath.Clean(globals.ConfigPath), nil
	}
	if value := os.Getenv("COFFER_CONFIG_PATH"); value != "" {
		return filepath.Clean(value), nil
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(userHome, "Library", "Application Support", "Coffer", "config.toml"), nil
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(userHome, ".config")
	}
	return filepath.Join(configHome, "coffer", "config.toml"), nil
}
