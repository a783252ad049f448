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

// Package xmltag pulls values out of connector XML documents without binding
// them to schema types.
//
// Element and attribute names are matched by local name, so `ns2:CardHandle`,
// `CARD:CardHandle` and `CardHandle` are the same tag. Malformed documents
// produce empty results rather than errors for the lookup helpers; Parse is the
// only function that reports the parse error.
package xmltag

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// ErrEmptyDocument is returned by Parse when no element was found.
var ErrEmptyDocument = errors.New("xmltag: empty document")

// Node is an element of a parsed document.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// Parse reads data in a single streaming pass and returns the document element.
func Parse(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	var (
		root  *Node
		stack []*Node
		text  []strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local, Attrs: attrs(t.Attr)}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
			text = append(text, strings.Builder{})
		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1].Write(t)
			}
		case xml.EndElement:
			n := stack[len(stack)-1]
			n.Text = strings.TrimSpace(text[len(text)-1].String())
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		}
	}
	if root == nil {
		return nil, ErrEmptyDocument
	}
	return root, nil
}

func attrs(in []xml.Attr) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for _, a := range in {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		out[a.Name.Local] = a.Value
	}
	return out
}

// Attr returns the attribute with the given local name.
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.Attrs[name]
}

// Find returns the first element named tag in document order, including n
// itself, or nil.
func (n *Node) Find(tag string) *Node {
	if n == nil {
		return nil
	}
	if n.Name == tag {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(tag); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every element named tag. A matched element is not searched
// for nested matches.
func (n *Node) FindAll(tag string) []*Node {
	if n == nil {
		return nil
	}
	if n.Name == tag {
		return []*Node{n}
	}
	var out []*Node
	for _, c := range n.Children {
		out = append(out, c.FindAll(tag)...)
	}
	return out
}

// ChildText returns the text of the first descendant named tag.
func (n *Node) ChildText(tag string) string {
	for _, c := range n.childrenOrNil() {
		if found := c.Find(tag); found != nil {
			return found.Text
		}
	}
	return ""
}

func (n *Node) childrenOrNil() []*Node {
	if n == nil {
		return nil
	}
	return n.Children
}

// Text returns the text of the first element named tag, or "" when the tag is
// absent or the document is malformed.
func Text(data []byte, tag string) string {
	root, err := Parse(data)
	if err != nil {
		return ""
	}
	if n := root.Find(tag); n != nil {
		return n.Text
	}
	return ""
}

// Has reports whether the document contains an element named tag.
func Has(data []byte, tag string) bool {
	root, err := Parse(data)
	if err != nil {
		return false
	}
	return root.Find(tag) != nil
}

// ServiceEndpoints walks a connector service directory and returns the
// EndpointTLS location of every service.
//
// Opening an element whose name contains "Service" selects the service named
// by its Name attribute and forgets the version seen so far. An element whose
// name contains "Version" and that carries a Version attribute sets the current
// version. When an EndpointTLS element closes, its Location is kept if the
// service has no location yet or the current version sorts after the stored
// one as a plain string.
func ServiceEndpoints(data []byte) map[string]string {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	endpoints := make(map[string]string)
	var (
		service       string
		version       string
		storedVersion string
		stored        bool
		location      string
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return endpoints
		}
		if err != nil {
			return map[string]string{}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			a := attrs(t.Attr)
			if strings.Contains(name, "Service") {
				service = a["Name"]
				stored = false
				storedVersion = ""
			}
			if strings.Contains(name, "Version") && a["Version"] != "" {
				version = a["Version"]
			}
			if name == "EndpointTLS" {
				location = a["Location"]
			}
		case xml.EndElement:
			if t.Name.Local != "EndpointTLS" {
				continue
			}
			if !stored || version > storedVersion {
				stored = true
				storedVersion = version
				endpoints[service] = location
			}
		}
	}
}
