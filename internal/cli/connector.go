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

	"github.com/jeremyhahn/go-konnektor/internal/config"
	"github.com/jeremyhahn/go-konnektor/internal/server"
	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/signing"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
	"github.com/spf13/cobra"
)

// cardLister is the part of the SOAP client card selection needs.
type cardLister interface {
	GetCards(ctx context.Context, req soap.GetCardsRequest) (*soap.CardsResult, error)
}

// userIDs derives the user id sent with card requests.
type userIDs interface {
	UserID(ctx context.Context, iccsn string) (string, error)
}

// env is what a connector command runs with.
type env struct {
	cfg *config.Config
	c   *server.Components
	ui  *terminalUI
}

// withComponents loads the configuration, wires the client stack and runs fn.
func withComponents(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	cfg, err := getConfig().Load()
	if err != nil {
		return err
	}
	log := getConfig().Logger(cfg)
	for _, w := range cfg.Warnings {
		log.Warn("configuration warning", logger.String("warning", w))
	}

	ui := newTerminalUI(cmd.InOrStdin(), cmd.ErrOrStderr())
	c, err := server.Build(cfg, ui, log)
	if err != nil {
		return err
	}
	defer c.Close()

	printVerbose("Connector: %s", cfg.DiscoveryConfig().URL())
	return fn(cmd.Context(), &env{cfg: cfg, c: c, ui: ui})
}

// selectCard returns the card of cardType to use. An explicit handle must be
// inserted; several cards without a handle are resolved through ui.
func selectCard(ctx context.Context, conn cardLister, ui cardauth.UI, cctx soap.Context, cardType soap.CardType, handle string) (soap.Card, error) {
	res, err := conn.GetCards(ctx, soap.GetCardsRequest{Context: cctx, CardType: cardType})
	if err != nil {
		return soap.Card{}, err
	}

	if handle != "" {
		for _, c := range res.Cards {
			if c.CardHandle == handle {
				return c, nil
			}
		}
		return soap.Card{}, errcodes.Fault(errcodes.FaultCardHandleInvalid).
			WithCardType(string(cardType)).
			AppendMessage("card handle " + handle + " not found")
	}

	switch len(res.Cards) {
	case 0:
		return soap.Card{}, errcodes.New(errcodes.PlaceCards).WithCardType(string(cardType))
	case 1:
		return res.Cards[0], nil
	default:
		return ui.SelectCard(ctx, &cardauth.MultiCardHint{CardType: cardType, Cards: res.Cards})
	}
}

// cardContext adds the user id of card to cctx.
func cardContext(ctx context.Context, ids userIDs, cctx soap.Context, card soap.Card) (soap.Context, error) {
	if ids == nil || card.ICCSN == "" {
		return cctx, nil
	}
	id, err := ids.UserID(ctx, card.ICCSN)
	if err != nil {
		return cctx, err
	}
	return cctx.WithUserID(id), nil
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Show the service endpoints of the connector",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, func(ctx context.Context, e *env) error {
			m, err := e.c.Resolver.Endpoints(ctx)
			if err != nil {
				return errcodes.Wrap(err, errcodes.ConnectorUnreachable)
			}
			return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).PrintEndpoints(m)
		})
	},
}

var terminalsCmd = &cobra.Command{
	Use:   "terminals",
	Short: "List the card terminals of the workplace",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, func(ctx context.Context, e *env) error {
			res, err := e.c.Connector.GetCardTerminals(ctx, e.cfg.SOAPContext())
			if err != nil {
				return err
			}
			return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).PrintTerminals(res.Terminals)
		})
	},
}

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "List inserted cards of one type",
	RunE: func(cmd *cobra.Command, args []string) error {
		cardType, err := cardTypeFlag(cmd)
		if err != nil {
			return err
		}
		return withComponents(cmd, func(ctx context.Context, e *env) error {
			res, err := e.c.Connector.GetCards(ctx, soap.GetCardsRequest{Context: e.cfg.SOAPContext(), CardType: cardType})
			if err != nil {
				return err
			}
			return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).PrintCards(res.Cards)
		})
	},
}

var pinStatusCmd = &cobra.Command{
	Use:   "pin-status",
	Short: "Show the PIN state of a card",
	RunE: func(cmd *cobra.Command, args []string) error {
		cardType, err := cardTypeFlag(cmd)
		if err != nil {
			return err
		}
		handle, _ := cmd.Flags().GetString("card-handle")

		return withComponents(cmd, func(ctx context.Context, e *env) error {
			card, err := selectCard(ctx, e.c.Connector, e.ui, e.cfg.SOAPContext(), cardType, handle)
			if err != nil {
				return err
			}
			cctx, err := cardContext(ctx, e.c.UserIDs, e.cfg.SOAPContext(), card)
			if err != nil {
				return err
			}
			res, err := e.c.Connector.GetPinStatus(ctx, soap.PinRequest{
				Context:    cctx,
				CardHandle: card.CardHandle,
				PinType:    cardType.PinType(),
			})
			if err != nil {
				return err
			}
			return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).PrintPinStatus(card, res)
		})
	},
}

var certificateCmd = &cobra.Command{
	Use:   "certificate",
	Short: "Read the authentication certificate of a card",
	RunE: func(cmd *cobra.Command, args []string) error {
		cardType, err := cardTypeFlag(cmd)
		if err != nil {
			return err
		}
		handle, _ := cmd.Flags().GetString("card-handle")
		crypt, _ := cmd.Flags().GetString("crypt")

		return withComponents(cmd, func(ctx context.Context, e *env) error {
			if crypt == "" {
				crypt = e.cfg.Sign.Type
			}
			alg, err := signing.ParseAlgorithm(crypt)
			if err != nil {
				return err
			}
			card, err := selectCard(ctx, e.c.Connector, e.ui, e.cfg.SOAPContext(), cardType, handle)
			if err != nil {
				return err
			}
			res, err := e.c.Connector.ReadCardCertificate(ctx, soap.ReadCertificateRequest{
				Context:    e.cfg.SOAPContext(),
				CardHandle: card.CardHandle,
				CertRef:    e.cfg.CertReader.CertRef,
				Crypt:      alg,
			})
			if err != nil {
				return err
			}
			cert, err := signing.ParseCertificate(res.Certificate)
			if err != nil {
				return errcodes.Wrap(err, errcodes.CertificateInvalid)
			}
			return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).PrintCertificate(card, cert)
		})
	},
}

func cardTypeFlag(cmd *cobra.Command) (soap.CardType, error) {
	s, _ := cmd.Flags().GetString("type")
	ct, err := soap.ParseCardType(s)
	if err != nil {
		return "", errcodes.Wrap(err, errcodes.InvalidLauncherParameter).
			AppendMessage("--type must be HBA or SMC-B")
	}
	return ct, nil
}

func init() {
	for _, cmd := range []*cobra.Command{cardsCmd, pinStatusCmd, certificateCmd} {
		cmd.Flags().StringP("type", "t", string(soap.CardTypeSMCB), "card type (HBA, SMC-B)")
	}
	for _, cmd := range []*cobra.Command{pinStatusCmd, certificateCmd} {
		cmd.Flags().String("card-handle", "", "card handle to use when several cards are inserted")
	}
	certificateCmd.Flags().String("crypt", "", "certificate algorithm (ECC, RSA); defaults to sign.type")
}
