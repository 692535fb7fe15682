package auth

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/Vipatra/awaaz/internal/config"
)

// EnvAPIKey is the environment variable consulted for an additional
// service key.
const EnvAPIKey = "AWAAZ_API_KEY"

// KeyStore holds the set of API keys accepted at connection time.
type KeyStore struct {
	keys map[string]bool
}

// Load builds a key store from configuration and the environment. An env
// file is read first when present so its variables are visible to both
// the key lookup and engine backends.
func Load(cfg config.AuthConfig, logger *slog.Logger) (*KeyStore, error) {
	envFile := cfg.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		// A missing env file is normal in container deployments.
		logger.Debug("No env file loaded", slog.String("path", envFile))
	}

	keys := make(map[string]bool, len(cfg.APIKeys)+1)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}
	if k := os.Getenv(EnvAPIKey); k != "" {
		keys[k] = true
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no API keys configured: set auth.api_keys or %s", EnvAPIKey)
	}

	return &KeyStore{keys: keys}, nil
}

// Validate reports whether the given key is accepted.
func (s *KeyStore) Validate(key string) bool {
	return key != "" && s.keys[key]
}

// Count returns the number of configured keys.
func (s *KeyStore) Count() int {
	return len(s.keys)
}
