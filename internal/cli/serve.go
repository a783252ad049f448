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
	"os/signal"
	"syscall"

	"github.com/jeremyhahn/go-konnektor/internal/config"
	"github.com/jeremyhahn/go-konnektor/internal/server"
	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local API",
	Long: `Serve the local API for browser and launcher integrations.

SIGHUP reloads the configuration file. Logging and the service directory
location are applied in place; other changes need a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig().Load()
		if err != nil {
			return err
		}
		log := getConfig().Logger(cfg)

		srv, err := server.New(cfg, log)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			_ = srv.Shutdown()
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "konnektor %s listening on %s\n", srv.Version(), srv.Addr())

		ctx := server.SetupSignalHandler()
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-ctx.Done():
				log.Info("shutting down")
				if err := srv.Shutdown(); err != nil {
					return err
				}
				srv.WaitForShutdown()
				return nil
			case <-hup:
				reload(srv, log)
			}
		}
	},
}

func reload(srv *server.Server, log logger.Logger) {
	next, err := getConfig().Load()
	if err != nil {
		log.Error("reload failed", logger.Error(err))
		return
	}
	if err := srv.Reload(next); err != nil {
		log.Warn("configuration partially applied", logger.Error(err))
		return
	}
	log.Info("configuration reloaded")
}

func init() {
	serveCmd.Flags().Int("api-port", 0, "local API port")
	bindFlag(config.KeyAPIPort, serveCmd.Flags().Lookup("api-port"))
	serveCmd.Flags().Bool("remote-pin", false, "allow PIN entry at terminals of other workplaces")
	bindFlag(config.KeyRemotePin, serveCmd.Flags().Lookup("remote-pin"))
}
