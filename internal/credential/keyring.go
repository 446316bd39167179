// Package credential resolves secrets from the operating system keyring.
package credential

import (
	"fmt"

	"github.com/99designs/keyring"
	"github.com/sirupsen/logrus"
)

const serviceName = "contractor-status-relay"

// opener is swapped in tests.
var opener = func() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Lookup returns the secret stored under key. A missing keyring or item is
// reported as not found.
func Lookup(key string) (string, bool) {
	ring, err := opener()
	if err != nil {
		logrus.Debugf("Keyring unavailable: %v", err)
		return "", false
	}

	item, err := ring.Get(key)
	if err != nil {
		logrus.WithField("key", key).Debugf("Secret not found in keyring: %v", err)
		return "", false
	}
	return string(item.Data), true
}

// Store saves a secret under key.
func Store(key, value string) error {
	ring, err := opener()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}
