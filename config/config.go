// Package config loads and persists named connection profiles and
// resolves them into session descriptors.
package config

import (
	"github.com/ha1tch/nusql/session"
)

// Config is the on-disk configuration: connection profiles plus
// plugin-wide preferences.
type Config struct {
	Profiles    []Profile   `mapstructure:"profiles" yaml:"profiles"`
	Preferences Preferences `mapstructure:"preferences" yaml:"preferences"`
}

// Profile is a saved connection. Password may be kept inline or in the
// OS keyring; UseKeyring selects the latter and wins when both are set.
type Profile struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	Instance   string `mapstructure:"instance" yaml:"instance,omitempty"`
	Database   string `mapstructure:"database" yaml:"database"`
	User       string `mapstructure:"user" yaml:"user"`
	Password   string `mapstructure:"password" yaml:"password,omitempty"`
	Integrated bool   `mapstructure:"integrated" yaml:"integrated,omitempty"`
	Encrypt    string `mapstructure:"encrypt" yaml:"encrypt,omitempty"`
	TrustCert  bool   `mapstructure:"trust_cert" yaml:"trust_cert,omitempty"`
	UseKeyring bool   `mapstructure:"use_keyring" yaml:"use_keyring,omitempty"`
}

// Preferences holds plugin-wide settings.
type Preferences struct {
	DefaultProfile string `mapstructure:"default_profile" yaml:"default_profile"`
}

// Descriptor converts the profile into a bare session descriptor. The
// password field is carried as-is; keyring resolution happens in the
// resolver, not here.
func (p Profile) Descriptor() session.Descriptor {
	return session.Descriptor{
		Host:       p.Host,
		Port:       p.Port,
		Instance:   p.Instance,
		Database:   p.Database,
		User:       p.User,
		Password:   p.Password,
		Integrated: p.Integrated,
		Encrypt:    p.Encrypt,
		TrustCert:  p.TrustCert,
	}
}

// Find returns the named profile.
func (cfg *Config) Find(name string) (Profile, bool) {
	for _, p := range cfg.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Upsert inserts the profile, replacing any existing one with the same
// name.
func (cfg *Config) Upsert(p Profile) {
	for i := range cfg.Profiles {
		if cfg.Profiles[i].Name == p.Name {
			cfg.Profiles[i] = p
			return
		}
	}
	cfg.Profiles = append(cfg.Profiles, p)
}

// Remove deletes the named profile and reports whether it existed.
func (cfg *Config) Remove(name string) bool {
	for i := range cfg.Profiles {
		if cfg.Profiles[i].Name == name {
			cfg.Profiles = append(cfg.Profiles[:i], cfg.Profiles[i+1:]...)
			return true
		}
	}
	return false
}

// DefaultProfile returns the preferred profile: the configured default
// if present, otherwise the first one.
func (cfg *Config) DefaultProfile() (Profile, bool) {
	if len(cfg.Profiles) == 0 {
		return Profile{}, false
	}
	if name := cfg.Preferences.DefaultProfile; name != "" {
		if p, ok := cfg.Find(name); ok {
			return p, true
		}
	}
	return cfg.Profiles[0], true
}
