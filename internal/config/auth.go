// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"

	"github.com/jeremyhahn/go-konnektor/pkg/adapters/auth"
)

// AuthConfig controls authentication of local API callers.
type AuthConfig struct {
	// Type is none or apikey.
	Type string `yaml:"type"`

	// APIKey is a single key for the subject "default".
	APIKey string `yaml:"api_key"`

	// APIKeys maps additional keys to subjects.
	APIKeys map[string]string `yaml:"api_keys,omitempty"`

	Header string `yaml:"header"`
}

// CreateAuthenticator creates an authenticator from the configuration.
func (cfg *AuthConfig) CreateAuthenticator() (auth.Authenticator, error) {
	switch cfg.Type {
	case "none", "noop", "":
		if cfg.APIKey != "" {
			return cfg.createAPIKeyAuthenticator()
		}
		return auth.NewNoOpAuthenticator(), nil
	case "apikey":
		return cfg.createAPIKeyAuthenticator()
	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
}

func (cfg *AuthConfig) createAPIKeyAuthenticator() (auth.Authenticator, error) {
	keys := make(map[string]string, len(cfg.APIKeys)+1)
	for k, subject := range cfg.APIKeys {
		keys[k] = subject
	}
	if cfg.APIKey != "" {
		keys[cfg.APIKey] = "default"
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no API keys configured")
	}
	return auth.NewAPIKeyAuthenticator(&auth.APIKeyConfig{Keys: keys, HeaderName: cfg.Header}), nil
}
