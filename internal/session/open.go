package session

import (
	"fmt"
	"os"
)

// Backend names accepted by OpenBackend.
const (
	BackendAuto    = "auto"
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Options selects and configures a credential backend.
type Options struct {
	Backend   string
	Dir       string // file backend directory
	RedisURL  string
	NoKeyring bool // skip the keychain probe in auto mode
}

// OpenBackend resolves opts to a concrete backend. In auto mode the system
// keychain is preferred, falling back to the plaintext file.
func OpenBackend(opts Options) (Backend, error) {
	switch opts.Backend {
	case BackendKeyring:
		return NewKeyringBackend(), nil
	case BackendFile:
		return NewFileBackend(opts.Dir), nil
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("credential backend %q requires a redis url", BackendRedis)
		}
		return DialRedis(opts.RedisURL)
	case "", BackendAuto:
		if !opts.NoKeyring && KeyringAvailable() {
			return NewKeyringBackend(), nil
		}
		if !opts.NoKeyring {
			fmt.Fprintf(os.Stderr, "warning: system keyring unavailable, credentials stored in plaintext at %s\n",
				NewFileBackend(opts.Dir).Path())
		}
		return NewFileBackend(opts.Dir), nil
	default:
		return nil, fmt.Errorf("unknown credential backend %q", opts.Backend)
	}
}
