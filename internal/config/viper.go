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
	"errors"

	"github.com/spf13/viper"
)

// Keys bound to command line flags by the CLI.
const (
	KeyHost      = "connector.hostname"
	KeyPort      = "connector.port"
	KeyLogLevel  = "logging.level"
	KeyLogFormat = "logging.format"
	KeyAPIPort   = "api.port"
	KeyRemotePin = "remote_pin"
)

var envKeys = map[string]string{
	KeyHost:      "KONNEKTOR_HOST",
	KeyPort:      "KONNEKTOR_PORT",
	KeyLogLevel:  "KONNEKTOR_LOG_LEVEL",
	KeyLogFormat: "KONNEKTOR_LOG_FORMAT",
	KeyAPIPort:   "KONNEKTOR_API_PORT",
	KeyRemotePin: "KONNEKTOR_REMOTE_PIN",
}

// NewViper returns a viper instance searching for konnektor.yaml in the
// working directory, $HOME/.konnektor and /etc/konnektor.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("konnektor")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.konnektor")
	v.AddConfigPath("/etc/konnektor")
	for key, env := range envKeys {
		_ = v.BindEnv(key, env)
	}
	return v
}

// FromViper loads the file viper located (or the explicit file set with
// SetConfigFile), applies environment overrides and finally the keys viper
// knows about, so flags win over the environment and the environment over
// the file. A missing file is only an error when it was named explicitly.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		if err := cfg.readFile(v.ConfigFileUsed()); err != nil {
			return nil, err
		}
	case errors.As(err, &notFound):
	default:
		return nil, err
	}

	applyEnvOverrides(cfg)
	overlay(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay copies the keys bound to flags. Invalid numbers were already
// reported by applyEnvOverrides and are skipped.
func overlay(v *viper.Viper, cfg *Config) {
	if v.IsSet(KeyHost) {
		cfg.Connector.Host = v.GetString(KeyHost)
	}
	if p := v.GetInt(KeyPort); v.IsSet(KeyPort) && p > 0 {
		cfg.Connector.Port = p
	}
	if v.IsSet(KeyLogLevel) {
		cfg.Logging.Level = v.GetString(KeyLogLevel)
	}
	if v.IsSet(KeyLogFormat) {
		cfg.Logging.Format = v.GetString(KeyLogFormat)
	}
	if p := v.GetInt(KeyAPIPort); v.IsSet(KeyAPIPort) && p > 0 {
		cfg.API.Port = p
	}
	if v.IsSet(KeyRemotePin) {
		cfg.RemotePin = v.GetBool(KeyRemotePin)
	}
}
