package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/ha1tch/nusql/pkg/errors"
)

const (
	configDir  = ".nusql"
	configName = "config"
	configType = "yaml"
)

// DefaultPath returns ~/.nusql/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeConfigInvalid, "cannot locate home directory")
	}
	return filepath.Join(home, configDir, configName+"."+configType), nil
}

// Load reads the configuration file at path. A missing file yields an
// empty configuration, not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(configType)

	cfg := &Config{}

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, errors.ErrCodeConfigInvalid, "read config %s", path)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeConfigInvalid, "unmarshal config %s", path)
	}

	return cfg, nil
}

// Save writes the configuration to path, creating the directory as
// needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "create config dir")
	}

	v := viper.New()
	v.SetConfigType(configType)
	v.Set("profiles", cfg.Profiles)
	v.Set("preferences", cfg.Preferences)

	if err := v.WriteConfigAs(path); err != nil {
		return errors.Wrapf(err, errors.ErrCodeConfigInvalid, "write config %s", path)
	}
	return nil
}
