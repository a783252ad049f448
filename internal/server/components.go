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
	"fmt"

	"github.com/jeremyhahn/go-konnektor/internal/config"
	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/diagnostics"
	"github.com/jeremyhahn/go-konnektor/pkg/discovery"
	"github.com/jeremyhahn/go-konnektor/pkg/idp"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
	"github.com/jeremyhahn/go-konnektor/pkg/transport"
	"github.com/jeremyhahn/go-konnektor/pkg/userid"
)

// Components is the client stack wired from one configuration. The CLI
// uses it directly; the Server serves it over the local API.
type Components struct {
	Config        *config.Config
	Transport     *transport.HTTPTransport
	IDPTransport  *transport.HTTPTransport
	Resolver      *discovery.Resolver
	Connector     *soap.Client
	UserIDs       *userid.Resolver
	Authenticator *cardauth.Authenticator
	Queue         *cardauth.Queue
	Queued        *cardauth.QueuedAuthenticator
	IDP           *idp.Client
	Diagnostics   *diagnostics.Diagnostics
}

// Build wires the components for cfg. ui receives card selection and PIN
// prompts; nil answers multi-card situations with a hint.
func Build(cfg *config.Config, ui cardauth.UI, log logger.Logger) (*Components, error) {
	if log == nil {
		log = logger.Nop()
	}

	opts, err := cfg.AuthOptions()
	if err != nil {
		return nil, fmt.Errorf("authenticator options: %w", err)
	}

	t, err := transport.New(cfg.TransportConfig(), log.With(logger.String("component", "transport")))
	if err != nil {
		return nil, fmt.Errorf("connector transport: %w", err)
	}
	idpTransport, err := transport.New(cfg.IDPTransportConfig(), log.With(logger.String("component", "idp-transport")))
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("idp transport: %w", err)
	}

	store, err := newUserIDStore(cfg.UserID)
	if err != nil {
		t.Close()
		idpTransport.Close()
		return nil, err
	}
	userIDs := userid.NewResolver(store)

	resolver := discovery.NewResolver(cfg.DiscoveryConfig(), t, log)
	connector := soap.NewClient(cfg.SOAPConfig(), resolver, t, log.With(logger.String("component", "soap")))

	authLog := log.With(logger.String("component", "cardauth"))
	opts.Observer = func(cardType soap.CardType, state cardauth.State) {
		authLog.Debug("attempt state", logger.CardType(string(cardType)), logger.String("state", state.String()))
	}
	authenticator := cardauth.New(connector, cardauth.NewSessionStore(), ui, userIDs, opts, authLog)
	queue := cardauth.NewQueue(cfg.API.QueueSize, authLog)

	return &Components{
		Config:        cfg,
		Transport:     t,
		IDPTransport:  idpTransport,
		Resolver:      resolver,
		Connector:     connector,
		UserIDs:       userIDs,
		Authenticator: authenticator,
		Queue:         queue,
		Queued:        cardauth.NewQueued(authenticator, queue),
		IDP:           idp.NewClient(idpTransport, cfg.IDP.UserAgent, log.With(logger.String("component", "idp"))),
		Diagnostics: diagnostics.New(connector, userIDs, idpTransport, cfg.DiagnosticsConfig(),
			log.With(logger.String("component", "diagnostics"))),
	}, nil
}

func newUserIDStore(cfg config.UserIDConfig) (userid.Store, error) {
	if cfg.StorePath == "" {
		return userid.NewMemoryStore(), nil
	}
	store, err := userid.NewFileStore(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("user id store: %w", err)
	}
	return store, nil
}

// Close stops the queue and releases idle connections.
func (c *Components) Close() {
	c.Queue.Close()
	c.Transport.Close()
	c.IDPTransport.Close()
}
