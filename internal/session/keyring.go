package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

const keyringService = "egov"

// KeyringBackend stores each namespace as one JSON secret in the system
// keychain. The keychain has no compare-and-swap, so updates are only
// serialized within this process.
type KeyringBackend struct {
	mu sync.Mutex
}

// NewKeyringBackend creates a keychain backend.
func NewKeyringBackend() *KeyringBackend {
	return &KeyringBackend{}
}

// KeyringAvailable probes the system keychain with a throwaway secret.
func KeyringAvailable() bool {
	probe := keyringService + "::probe"
	if err := keyring.Set(keyringService, probe, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

func keyringKey(namespace string) string {
	return fmt.Sprintf("%s::%s", keyringService, namespace)
}

func (b *KeyringBackend) Name() string { return "keyring" }

func (b *KeyringBackend) Load(_ context.Context, namespace string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(namespace)
}

func (b *KeyringBackend) Update(_ context.Context, namespace string, fn func(map[string]string) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.load(namespace)
	if err != nil {
		return err
	}
	if err := fn(values); err != nil {
		return err
	}

	if len(values) == 0 {
		err := keyring.Delete(keyringService, keyringKey(namespace))
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}

	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return keyring.Set(keyringService, keyringKey(namespace), string(data))
}

func (b *KeyringBackend) load(namespace string) (map[string]string, error) {
	data, err := keyring.Get(keyringService, keyringKey(namespace))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	values := make(map[string]string)
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("invalid keyring entry: %w", err)
	}
	return values, nil
}
