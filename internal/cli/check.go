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
	"context"
	"errors"

	"github.com/jeremyhahn/go-konnektor/pkg/health"
	"github.com/spf13/cobra"
)

// ErrUnhealthy is returned by check when a function test failed.
var ErrUnhealthy = errors.New("function test failed")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the function tests of the installation",
	Long: `Run the function tests: connector reachability, HBA and SMC-B
readability, reachability of the configured IDPs and validity of the
configured CA certificates.

A missing HBA is reported as degraded; the command fails only when a test
is unhealthy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, func(ctx context.Context, e *env) error {
			report := e.c.Diagnostics.Run(ctx)
			if err := NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).PrintReport(report); err != nil {
				return err
			}
			if report.Status == health.StatusUnhealthy {
				return ErrUnhealthy
			}
			return nil
		})
	},
}
