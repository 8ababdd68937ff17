package config

import (
	"github.com/zalando/go-keyring"

	"github.com/ha1tch/nusql/pkg/errors"
	"github.com/ha1tch/nusql/session"
)

// keyringService is the service name credentials are filed under in the
// OS keyring.
const keyringService = "nusql"

// Resolve turns a profile name into a ready-to-dial descriptor,
// fetching the password from the keyring when the profile asks for it.
func (cfg *Config) Resolve(name string) (session.Descriptor, error) {
	p, ok := cfg.Find(name)
	if !ok {
		return session.Descriptor{}, errors.Newf(errors.ErrCodeProfileNotFound,
			"no profile named %q", name)
	}
	return p.Resolve()
}

// Resolve produces the descriptor for this profile, consulting the
// keyring if configured.
func (p Profile) Resolve() (session.Descriptor, error) {
	d := p.Descriptor()
	if p.Integrated || !p.UseKeyring {
		return d, nil
	}

	secret, err := keyring.Get(keyringService, p.Name)
	if err != nil {
		if err == keyring.ErrNotFound {
			return session.Descriptor{}, errors.Newf(errors.ErrCodeCredentials,
				"no keyring entry for profile %q", p.Name)
		}
		return session.Descriptor{}, errors.Wrapf(err, errors.ErrCodeCredentials,
			"keyring lookup for profile %q", p.Name)
	}
	d.Password = secret
	return d, nil
}

// StorePassword files the profile's password in the keyring.
func StorePassword(profileName, password string) error {
	if err := keyring.Set(keyringService, profileName, password); err != nil {
		return errors.Wrapf(err, errors.ErrCodeCredentials,
			"store password for profile %q", profileName)
	}
	return nil
}

// DeletePassword removes the profile's keyring entry. A missing entry
// is not an error.
func DeletePassword(profileName string) error {
	err := keyring.Delete(keyringService, profileName)
	if err != nil && err != keyring.ErrNotFound {
		return errors.Wrapf(err, errors.ErrCodeCredentials,
			"delete password for profile %q", profileName)
	}
	return nil
}
