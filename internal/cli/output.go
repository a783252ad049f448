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
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jeremyhahn/go-konnektor/pkg/discovery"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/health"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// AuthOutput is one signed challenge as printed by the authenticate command.
type AuthOutput struct {
	CardType   string `json:"card_type"`
	CardHandle string `json:"card_handle"`
	UserID     string `json:"user_id,omitempty"`
	JWS        string `json:"jws"`
	Redirect   string `json:"redirect,omitempty"`
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message. Catalog errors are printed with their
// code, class and details.
func (p *Printer) PrintError(err error) error {
	var e *errcodes.Error
	isCatalog := errors.As(err, &e)

	switch p.format {
	case OutputFormatJSON:
		out := map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
		if isCatalog {
			out["code"] = e.Code()
			out["class"] = e.Class().String()
			out["description"] = errcodes.Lookup(e.Code()).Description
			if d := e.Details(); d.FaultCode != "" || d.CardType != "" || d.Terminal != "" || len(d.FoundCards) > 0 {
				out["details"] = d
			}
		}
		return p.printJSON(out)
	case OutputFormatTable, OutputFormatText:
		if !isCatalog {
			fmt.Fprintf(p.writer, "Error: %v\n", err)
			return nil
		}
		label := "Error"
		switch e.Class() {
		case errcodes.ClassHint:
			label = "Hint"
		case errcodes.ClassWarning:
			label = "Warning"
		}
		fmt.Fprintf(p.writer, "%s [%s]: %s\n", label, e.Code(), errcodes.Lookup(e.Code()).Description)
		for _, msg := range e.Messages() {
			fmt.Fprintf(p.writer, "  %s\n", msg)
		}
		if cause := errors.Unwrap(e); cause != nil {
			fmt.Fprintf(p.writer, "  cause: %v\n", cause)
		}
		d := e.Details()
		if d.FaultCode != "" {
			fmt.Fprintf(p.writer, "  connector fault: %s\n", d.FaultCode)
		}
		if d.Terminal != "" {
			fmt.Fprintf(p.writer, "  terminal: %s\n", d.Terminal)
		}
		for _, c := range d.FoundCards {
			fmt.Fprintf(p.writer, "  - %s %s (terminal %s, slot %s) %s\n",
				c.CardType, c.CardHandle, c.CtID, c.SlotID, c.CardHolderName)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintEndpoints prints the service directory
func (p *Printer) PrintEndpoints(m *discovery.EndpointMap) error {
	names := make([]string, 0, len(m.Endpoints))
	for name := range m.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"product_type_version": m.ProductTypeVersion,
			"ptv3":                 m.IsPTV3(),
			"endpoints":            m.Endpoints,
		})
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "Product type version: %s\n\n", m.ProductTypeVersion)
		fmt.Fprintf(p.writer, "%-25s %s\n", "SERVICE", "ENDPOINT")
		fmt.Fprintln(p.writer, strings.Repeat("-", 80))
		for _, name := range names {
			fmt.Fprintf(p.writer, "%-25s %s\n", name, m.Endpoints[name])
		}
		return nil
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Product type version: %s\n", m.ProductTypeVersion)
		fmt.Fprintln(p.writer, "Endpoints:")
		for _, name := range names {
			fmt.Fprintf(p.writer, "  %s: %s\n", name, m.Endpoints[name])
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintTerminals prints card terminals
func (p *Printer) PrintTerminals(terminals []soap.CardTerminal) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"terminals": terminals,
		})
	case OutputFormatTable:
		if len(terminals) == 0 {
			fmt.Fprintln(p.writer, "No card terminals found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-15s %-25s %-10s %-16s %s\n", "CT ID", "NAME", "CONNECTED", "IP", "WORKPLACES")
		fmt.Fprintln(p.writer, strings.Repeat("-", 90))
		for _, t := range terminals {
			fmt.Fprintf(p.writer, "%-15s %-25s %-10t %-16s %s\n",
				t.CtID, t.Name, t.Connected, t.IPAddress, strings.Join(t.WorkplaceIDs, ","))
		}
		return nil
	case OutputFormatText:
		if len(terminals) == 0 {
			fmt.Fprintln(p.writer, "No card terminals found")
			return nil
		}
		fmt.Fprintln(p.writer, "Card terminals:")
		for _, t := range terminals {
			state := "disconnected"
			if t.Connected {
				state = "connected"
			}
			fmt.Fprintf(p.writer, "  - %s %s (%s)\n", t.CtID, t.Name, state)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCards prints inserted cards
func (p *Printer) PrintCards(cards []soap.Card) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"cards": cards,
		})
	case OutputFormatTable:
		if len(cards) == 0 {
			fmt.Fprintln(p.writer, "No cards found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-8s %-40s %-15s %-5s %-22s %s\n", "TYPE", "HANDLE", "CT ID", "SLOT", "ICCSN", "HOLDER")
		fmt.Fprintln(p.writer, strings.Repeat("-", 110))
		for _, c := range cards {
			fmt.Fprintf(p.writer, "%-8s %-40s %-15s %-5s %-22s %s\n",
				c.CardType, c.CardHandle, c.CtID, c.SlotID, c.ICCSN, c.CardHolderName)
		}
		return nil
	case OutputFormatText:
		if len(cards) == 0 {
			fmt.Fprintln(p.writer, "No cards found")
			return nil
		}
		fmt.Fprintln(p.writer, "Cards:")
		for _, c := range cards {
			fmt.Fprintf(p.writer, "  - %s %s (terminal %s, slot %s)", c.CardType, c.CardHandle, c.CtID, c.SlotID)
			if c.CardHolderName != "" {
				fmt.Fprintf(p.writer, " %s", c.CardHolderName)
			}
			fmt.Fprintln(p.writer)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintPinStatus prints the PIN state of a card
func (p *Printer) PrintPinStatus(card soap.Card, res *soap.PinStatusResult) error {
	switch p.format {
	case OutputFormatJSON:
		out := map[string]any{
			"card_type":   card.CardType,
			"card_handle": card.CardHandle,
			"pin_status":  res.PinStatus,
		}
		if res.LeftTries != "" {
			out["left_tries"] = res.LeftTries
		}
		return p.printJSON(out)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Card:       %s %s\n", card.CardType, card.CardHandle)
		fmt.Fprintf(p.writer, "PIN status: %s\n", pinStatusColor(res.PinStatus).Sprint(res.PinStatus))
		if res.LeftTries != "" {
			fmt.Fprintf(p.writer, "Left tries: %s\n", res.LeftTries)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCertificate prints the card certificate
func (p *Printer) PrintCertificate(card soap.Card, cert *x509.Certificate) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"card_type":     card.CardType,
			"card_handle":   card.CardHandle,
			"subject":       cert.Subject.String(),
			"issuer":        cert.Issuer.String(),
			"serial_number": cert.SerialNumber.String(),
			"not_before":    cert.NotBefore.Format(time.RFC3339),
			"not_after":     cert.NotAfter.Format(time.RFC3339),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Card:       %s %s\n", card.CardType, card.CardHandle)
		fmt.Fprintf(p.writer, "Subject:    %s\n", cert.Subject.String())
		fmt.Fprintf(p.writer, "Issuer:     %s\n", cert.Issuer.String())
		fmt.Fprintf(p.writer, "Serial:     %s\n", cert.SerialNumber.String())
		fmt.Fprintf(p.writer, "Not before: %s\n", cert.NotBefore.Format(time.RFC3339))
		fmt.Fprintf(p.writer, "Not after:  %s\n", cert.NotAfter.Format(time.RFC3339))
		fmt.Fprint(p.writer, string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAuthResults prints signed challenges
func (p *Printer) PrintAuthResults(results []AuthOutput) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"results": results,
		})
	case OutputFormatTable, OutputFormatText:
		for i, r := range results {
			if i > 0 {
				fmt.Fprintln(p.writer)
			}
			fmt.Fprintf(p.writer, "Card:     %s %s\n", r.CardType, r.CardHandle)
			if r.UserID != "" {
				fmt.Fprintf(p.writer, "User ID:  %s\n", r.UserID)
			}
			if r.Redirect != "" {
				fmt.Fprintf(p.writer, "Redirect: %s\n", r.Redirect)
			}
			fmt.Fprintf(p.writer, "JWS:      %s\n", r.JWS)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintReport prints the function test results
func (p *Printer) PrintReport(report health.Report) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(report)
	case OutputFormatTable, OutputFormatText:
		for _, c := range report.Checks {
			line := c.Message
			if c.Error != "" {
				line = c.Error
			}
			fmt.Fprintf(p.writer, "%s %-35s %s\n",
				statusColor(c.Status).Sprintf("[%-9s]", c.Status), c.Name, line)
		}
		fmt.Fprintf(p.writer, "\nOverall: %s\n", statusColor(report.Status).Sprint(report.Status))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// printJSON prints data as formatted JSON
func (p *Printer) printJSON(data any) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func statusColor(s health.Status) *color.Color {
	switch s {
	case health.StatusHealthy:
		return color.New(color.FgGreen)
	case health.StatusDegraded:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func pinStatusColor(s soap.PinStatus) *color.Color {
	switch s {
	case soap.PinVerified:
		return color.New(color.FgGreen)
	case soap.PinBlocked:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}
