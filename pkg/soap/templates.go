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
	"bytes"
	"embed"
	"encoding/xml"
	"fmt"
	"text/template"
)

//go:embed templates/*.xml
var templateFS embed.FS

var envelopes = template.Must(template.New("").
	Funcs(template.FuncMap{"x": escape}).
	ParseFS(templateFS, "templates/*.xml"))

// escape renders v as XML character data.
func escape(v any) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(fmt.Sprint(v)))
	return b.String()
}

func render(name string, data any) ([]byte, error) {
	var b bytes.Buffer
	if err := envelopes.ExecuteTemplate(&b, name, data); err != nil {
		return nil, fmt.Errorf("soap: render %s: %w", name, err)
	}
	return b.Bytes(), nil
}
