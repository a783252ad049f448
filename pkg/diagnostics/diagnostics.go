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

// Package diagnostics implements the function tests of a connector
// installation: connector reachability, card readability, IDP reachability
// and CA certificate validity. Results are health check results so the local
// API and the CLI can render them the same way.
package diagnostics

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/health"
	"github.com/jeremyhahn/go-konnektor/pkg/idp"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
	"github.com/jeremyhahn/go-konnektor/pkg/transport"
)

// Check names.
const (
	CheckConnector      = "connector_reachability"
	CheckHBA            = "hba_readability"
	CheckSMCB           = "smcb_readability"
	CheckCACertificates = "ca_certificates"
	checkIDPPrefix      = "idp_reachability:"
)

// Connector is the part of the SOAP client the function tests use.
type Connector interface {
	GetCardTerminals(ctx context.Context, cctx soap.Context) (*soap.CardTerminalsResult, error)
	GetCards(ctx context.Context, req soap.GetCardsRequest) (*soap.CardsResult, error)
	GetPinStatus(ctx context.Context, req soap.PinRequest) (*soap.PinStatusResult, error)
}

// UserIDs derives the user id sent with HBA PIN requests.
type UserIDs interface {
	UserID(ctx context.Context, iccsn string) (string, error)
}

// Config selects the function tests.
type Config struct {
	Context soap.Context

	// IDPs maps a display name to an IDP base URL. Each entry gets its own
	// check loading the discovery document and the encryption key.
	IDPs map[string]string

	// UserAgent is sent with the IDP requests.
	UserAgent string

	// CAFiles are PEM bundles whose certificates must all be valid.
	CAFiles []string
}

// Diagnostics owns a health.Checker with the function tests registered.
type Diagnostics struct {
	connector Connector
	userIDs   UserIDs
	idp       *idp.Client
	config    Config
	checker   *health.Checker
	logger    logger.Logger
	now       func() time.Time
}

// New registers the function tests. userIDs and t may be nil; the IDP checks
// are skipped without a transport.
func New(conn Connector, userIDs UserIDs, t transport.Transport, cfg Config, log logger.Logger) *Diagnostics {
	if log == nil {
		log = logger.Nop()
	}
	d := &Diagnostics{
		connector: conn,
		userIDs:   userIDs,
		config:    cfg,
		checker:   health.NewChecker(),
		logger:    log.With(logger.String("component", "diagnostics")),
		now:       time.Now,
	}

	d.checker.RegisterCheck(CheckConnector, d.checkConnector)
	d.checker.RegisterCheck(CheckHBA, d.cardCheck(CheckHBA, soap.CardTypeHBA))
	d.checker.RegisterCheck(CheckSMCB, d.cardCheck(CheckSMCB, soap.CardTypeSMCB))

	if t != nil {
		d.idp = idp.NewClient(t, cfg.UserAgent, d.logger)
		names := make([]string, 0, len(cfg.IDPs))
		for name := range cfg.IDPs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			d.checker.RegisterCheck(checkIDPPrefix+name, d.idpCheck(name, cfg.IDPs[name]))
		}
	}
	if len(cfg.CAFiles) > 0 {
		d.checker.RegisterCheck(CheckCACertificates, d.checkCACertificates)
	}
	return d
}

// Checker returns the underlying checker.
func (d *Diagnostics) Checker() *health.Checker {
	return d.checker
}

// Run executes all function tests.
func (d *Diagnostics) Run(ctx context.Context) health.Report {
	d.logger.Info("function tests started")
	report := d.checker.Run(ctx)
	d.logger.Info("function tests finished",
		logger.String("status", string(report.Status)),
		logger.Int("checks", len(report.Checks)))
	return report
}

func (d *Diagnostics) checkConnector(ctx context.Context) health.CheckResult {
	res, err := d.connector.GetCardTerminals(ctx, d.config.Context)
	if err != nil {
		d.logger.Debug("connector not reachable", logger.Error(err))
		return failed(CheckConnector, health.StatusUnhealthy, err)
	}
	return health.CheckResult{
		Name:    CheckConnector,
		Status:  health.StatusHealthy,
		Message: fmt.Sprintf("connector reachable, %d card terminals", len(res.Terminals)),
	}
}

// cardCheck reads the single card of cardType and its PIN status. More than
// one card is not an error. HBA problems only degrade the result since many
// installations run without an HBA.
func (d *Diagnostics) cardCheck(name string, cardType soap.CardType) health.CheckFunc {
	missing := health.StatusUnhealthy
	if cardType == soap.CardTypeHBA {
		missing = health.StatusDegraded
	}

	return func(ctx context.Context) health.CheckResult {
		res, err := d.connector.GetCards(ctx, soap.GetCardsRequest{Context: d.config.Context, CardType: cardType})
		if err != nil {
			return failed(name, missing, err)
		}
		switch len(res.Cards) {
		case 0:
			return failed(name, missing, errcodes.Fault(errcodes.FaultCardHandleInvalid).
				WithCardType(string(cardType)))
		case 1:
		default:
			return health.CheckResult{
				Name:    name,
				Status:  health.StatusHealthy,
				Message: fmt.Sprintf("%d %s cards found", len(res.Cards), cardType),
			}
		}

		card := res.Cards[0]
		cctx := d.config.Context
		if d.userIDs != nil && card.ICCSN != "" {
			id, err := d.userIDs.UserID(ctx, card.ICCSN)
			if err != nil {
				return failed(name, missing, err)
			}
			cctx = cctx.WithUserID(id)
		}

		pin, err := d.connector.GetPinStatus(ctx, soap.PinRequest{
			Context:    cctx,
			CardHandle: card.CardHandle,
			PinType:    cardType.PinType(),
		})
		if err != nil {
			return failed(name, missing, err)
		}

		where := fmt.Sprintf("%s in slot %s of card terminal %s", cardType, card.SlotID, card.CtID)
		switch pin.PinStatus {
		case soap.PinVerified, soap.PinVerifiable:
			return health.CheckResult{
				Name:    name,
				Status:  health.StatusHealthy,
				Message: fmt.Sprintf("%s found, PIN %s", where, pin.PinStatus),
			}
		default:
			return health.CheckResult{
				Name:    name,
				Status:  health.StatusUnhealthy,
				Message: fmt.Sprintf("%s found: %s", where, pinStatusMessage(pin.PinStatus)),
			}
		}
	}
}

func pinStatusMessage(status soap.PinStatus) string {
	switch status {
	case soap.PinTransportPin:
		return "transport PIN is still active, change the PIN first"
	case soap.PinBlocked, soap.PinRejected:
		return "PIN is blocked"
	case soap.PinEmptyPin:
		return "no PIN set"
	case soap.PinDisabled:
		return "PIN is disabled"
	default:
		return fmt.Sprintf("unknown PIN status %q", status)
	}
}

func (d *Diagnostics) idpCheck(name, base string) health.CheckFunc {
	checkName := checkIDPPrefix + name
	discoveryURL := idp.DiscoveryURL(base)
	return func(ctx context.Context) health.CheckResult {
		disc, err := d.idp.FetchDiscovery(ctx, discoveryURL)
		if err != nil {
			return failed(checkName, health.StatusUnhealthy, err)
		}
		if disc.URIPukIdpEnc == "" {
			return health.CheckResult{
				Name:    checkName,
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("%s lists no encryption key", discoveryURL),
			}
		}
		key, err := d.idp.FetchEncryptionKey(ctx, disc.URIPukIdpEnc)
		if err != nil {
			return failed(checkName, health.StatusUnhealthy, err)
		}
		return health.CheckResult{
			Name:    checkName,
			Status:  health.StatusHealthy,
			Message: fmt.Sprintf("discovery document and encryption key %q loaded from %s", key.KeyID, base),
		}
	}
}

var errNoCertificates = errors.New("no certificates in file")

func (d *Diagnostics) checkCACertificates(context.Context) health.CheckResult {
	var total, invalid int
	var firstErr error
	for _, file := range d.config.CAFiles {
		n, bad, err := d.validateBundle(file)
		total += n
		invalid += bad
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", file, err)
		}
	}

	result := health.CheckResult{Name: CheckCACertificates, Status: health.StatusHealthy}
	switch {
	case firstErr != nil:
		result.Status = health.StatusUnhealthy
		result.Error = firstErr.Error()
		result.Message = fmt.Sprintf("%d of %d certificates invalid", invalid, total)
	case invalid > 0:
		result.Status = health.StatusUnhealthy
		result.Message = fmt.Sprintf("%d of %d certificates invalid", invalid, total)
	default:
		result.Message = fmt.Sprintf("%d certificates valid", total)
	}
	return result
}

// validateBundle counts the certificates of a PEM file and how many of them
// are unparsable or outside their validity period.
func (d *Diagnostics) validateBundle(file string) (total, invalid int, err error) {
	// #nosec G304 - CA file path from trusted config
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, 0, err
	}
	now := d.now()
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		total++
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil || now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			invalid++
		}
	}
	if total == 0 {
		return 0, 0, errNoCertificates
	}
	return total, invalid, nil
}

func failed(name string, status health.Status, err error) health.CheckResult {
	result := health.CheckResult{Name: name, Status: status, Error: err.Error()}
	var e *errcodes.Error
	if errors.As(err, &e) {
		result.Message = string(e.Code())
	}
	return result
}
