package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/peergrade/pushsync/errors"
)

// vapidKeyFile is the on-disk shape of a generated VAPID key pair.
type vapidKeyFile struct {
	PublicKey  string `toml:"public_key"`
	PrivateKey string `toml:"private_key"`
}

// SaveVAPIDKeys persists a generated VAPID key pair to path. The file is
// written with owner-only permissions since it contains the private key.
func SaveVAPIDKeys(path, publicKey, privateKey string) error {
	if path == "" {
		return errors.New("vapid key file path not configured")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return errors.Wrap(err, "failed to create key directory")
	}

	data, err := toml.Marshal(vapidKeyFile{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal key file")
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write key file")
	}

	return nil
}

// LoadVAPIDKeys reads a previously persisted key pair. Returns empty strings
// without error when the file does not exist.
func LoadVAPIDKeys(path string) (publicKey, privateKey string, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", "", nil
	}
	if err != nil {
		return "", "", errors.Wrap(err, "failed to read key file")
	}

	var kf vapidKeyFile
	if err := toml.Unmarshal(data, &kf); err != nil {
		return "", "", errors.Wrap(err, "failed to parse key file")
	}

	return kf.PublicKey, kf.PrivateKey, nil
}
