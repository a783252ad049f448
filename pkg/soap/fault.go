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

package soap

import (
	"fmt"

	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/xmltag"
)

// Fault is a SOAP fault returned by the connector. Code, ErrorText, Severity
// and ErrorType come from the first Trace element of the fault detail.
type Fault struct {
	Operation   string
	Code        string
	ErrorText   string
	Severity    string
	ErrorType   string
	FaultString string
	HTTPStatus  int
	Raw         []byte
}

// Error implements error.
func (f *Fault) Error() string {
	text := f.ErrorText
	if text == "" {
		text = f.FaultString
	}
	if f.Code == "" {
		return fmt.Sprintf("soap: %s fault: %s", f.Operation, text)
	}
	return fmt.Sprintf("soap: %s fault %s: %s", f.Operation, f.Code, text)
}

// IsFault reports true; metrics use it to label the call.
func (f *Fault) IsFault() bool { return true }

// Unwrap exposes the catalog error for the fault code, so errcodes.CodeOf
// works on a *Fault.
func (f *Fault) Unwrap() error {
	e := errcodes.Fault(f.Code)
	if f.ErrorText != "" {
		e.AppendMessage(f.ErrorText)
	}
	return e
}

// isFault reports whether body carries a SOAP fault.
func isFault(root *xmltag.Node) bool {
	return root.Find("Fault") != nil || root.Find("Severity") != nil
}

func parseFault(op string, status int, root *xmltag.Node, raw []byte) *Fault {
	f := &Fault{
		Operation:   op,
		HTTPStatus:  status,
		FaultString: root.ChildText("faultstring"),
		Raw:         raw,
	}
	trace := root.Find("Trace")
	if trace == nil {
		trace = root
	}
	f.Code = findText(trace, "Code")
	f.ErrorText = findText(trace, "ErrorText")
	f.Severity = findText(trace, "Severity")
	f.ErrorType = findText(trace, "ErrorType")
	return f
}

func findText(n *xmltag.Node, tag string) string {
	if found := n.Find(tag); found != nil {
		return found.Text
	}
	return ""
}
