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

// Package cli implements the konnektor command line client.
package cli

import (
	"fmt"
	"os"

	"github.com/jeremyhahn/go-konnektor/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Global configuration
	globalConfig = NewConfig()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "konnektor",
	Short: "konnektor - authenticate with HBA and SMC-B through a gematik connector",
	Long: `konnektor talks to a gematik connector (Konnektor) to list card
terminals and cards, check PIN states, read card certificates and sign
IDP challenges with a health professional card (HBA) or an institution
card (SMC-B).

Configuration is read from konnektor.yaml in the working directory,
$HOME/.konnektor or /etc/konnektor, then from KONNEKTOR_* environment
variables and finally from command line flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalConfig.ConfigFile, "config", "",
		"config file (default is ./konnektor.yaml, $HOME/.konnektor/konnektor.yaml)")
	flags.StringVarP(&globalConfig.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	flags.BoolVarP(&globalConfig.Verbose, "verbose", "v", false,
		"verbose output")
	flags.String("host", "", "connector hostname")
	flags.Int("port", 0, "connector port")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")

	bindFlag(config.KeyHost, flags.Lookup("host"))
	bindFlag(config.KeyPort, flags.Lookup("port"))
	bindFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	bindFlag(config.KeyLogFormat, flags.Lookup("log-format"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(terminalsCmd)
	rootCmd.AddCommand(cardsCmd)
	rootCmd.AddCommand(pinStatusCmd)
	rootCmd.AddCommand(certificateCmd)
	rootCmd.AddCommand(authenticateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(serveCmd)
}

// getConfig returns the global configuration
func getConfig() *Config {
	return globalConfig
}

// PrintError prints err to stderr in the selected output format
func PrintError(err error) {
	printer := NewPrinter(globalConfig.OutputFormat, os.Stderr)
	if perr := printer.PrintError(err); perr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if globalConfig.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
