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

package server

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jeremyhahn/go-konnektor/internal/config"
	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
)

// ErrRestartRequired is returned by Reload for changes that need a new
// process: credentials, context, API listener and authenticator settings.
var ErrRestartRequired = errors.New("server: restart required")

// Reload applies cfg without restarting. Logging changes are applied to the
// server logger; a changed service directory path re-targets discovery.
// The discovery cache is dropped on every reload so the next operation
// reads connector.sds again.
func (s *Server) Reload(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Reloading server configuration...")

	if changed := restartSections(s.config, cfg); len(changed) > 0 {
		return fmt.Errorf("%w: %s changed", ErrRestartRequired, strings.Join(changed, ", "))
	}

	s.reloadLogging(cfg)

	if cfg.Connector.SDSPath != s.config.Connector.SDSPath {
		s.components.Resolver.Reconfigure(cfg.DiscoveryConfig(), nil)
	} else {
		s.components.Resolver.Invalidate()
	}

	s.config = cfg
	s.logger.Info("Server configuration reloaded successfully")
	return nil
}

// restartSections names the sections of next that differ from cur in ways
// Reload cannot apply.
func restartSections(cur, next *config.Config) []string {
	var changed []string

	a, b := cur.Connector, next.Connector
	a.SDSPath, b.SDSPath = "", ""
	if a != b {
		changed = append(changed, "connector")
	}
	if cur.Context != next.Context {
		changed = append(changed, "context")
	}
	if cur.Sign != next.Sign || cur.CertReader != next.CertReader || cur.RemotePin != next.RemotePin {
		changed = append(changed, "authentication")
	}
	if !reflect.DeepEqual(cur.IDP, next.IDP) {
		changed = append(changed, "idp")
	}
	if cur.UserID != next.UserID {
		changed = append(changed, "userid")
	}
	if !reflect.DeepEqual(cur.API, next.API) {
		changed = append(changed, "api")
	}
	return changed
}

// reloadLogging replaces the server logger when level or format changed.
func (s *Server) reloadLogging(cfg *config.Config) {
	if cfg.Logging == s.config.Logging {
		return
	}
	s.logger.Info("Updating logging configuration",
		logger.String("old_level", s.config.Logging.Level),
		logger.String("new_level", cfg.Logging.Level),
		logger.String("old_format", s.config.Logging.Format),
		logger.String("new_format", cfg.Logging.Format))

	s.logger = setupLogger(cfg.Logging)

	s.logger.Info("Logging configuration updated",
		logger.String("level", cfg.Logging.Level),
		logger.String("format", cfg.Logging.Format))
}
