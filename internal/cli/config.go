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

package cli

import (
	"fmt"
	"os"

	"github.com/jeremyhahn/go-konnektor/internal/config"
	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const masked = "********"

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// OutputFormat controls output formatting (json, text)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool

	// viper carries the flag bindings over the file and environment
	viper *viper.Viper
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: "text",
		viper:        config.NewViper(),
	}
}

// Load reads the client configuration. An explicit --config file must exist.
func (c *Config) Load() (*config.Config, error) {
	if c.ConfigFile != "" {
		c.viper.SetConfigFile(c.ConfigFile)
	}
	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return nil, err
	}
	if used := c.viper.ConfigFileUsed(); used != "" {
		printVerbose("Using config file: %s", used)
	}
	return cfg, nil
}

// Logger builds the logger for cfg. Verbose mode forces debug output.
func (c *Config) Logger(cfg *config.Config) logger.Logger {
	level := cfg.Logging.Level
	if c.Verbose {
		level = "debug"
	}
	return logger.New(level, cfg.Logging.Format, os.Stderr)
}

func bindFlag(key string, flag *pflag.Flag) {
	if err := globalConfig.viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag.Name, err))
	}
}

// redact returns a copy of cfg with credentials replaced.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	for _, s := range []*string{
		&out.Connector.Password,
		&out.Connector.KeyPassword,
		&out.Connector.PKCS12Password,
		&out.API.Auth.APIKey,
	} {
		if *s != "" {
			*s = masked
		}
	}
	if len(cfg.API.Auth.APIKeys) > 0 {
		keys := make(map[string]string, len(cfg.API.Auth.APIKeys))
		i := 0
		for _, subject := range cfg.API.Auth.APIKeys {
			i++
			keys[fmt.Sprintf("%s-%d", masked, i)] = subject
		}
		out.API.Auth.APIKeys = keys
	}
	return &out
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the client configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with credentials masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig().Load()
		if err != nil {
			return err
		}
		printer := NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout())
		if printer.format == OutputFormatJSON {
			return printer.printJSON(redact(cfg))
		}
		data, err := yaml.Marshal(redact(cfg))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "konnektor.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		cfg := config.Default()
		host, _ := cmd.Flags().GetString("host")
		cfg.Connector.Host = host
		if err := cfg.Save(path); err != nil {
			return err
		}
		return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).
			PrintSuccess(fmt.Sprintf("Configuration written to %s", path))
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
