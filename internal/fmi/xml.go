package fmi

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// node is a namespace-agnostic XML element tree. FMI responses mix several
// GML/WaterML namespaces, so lookups match on the local name only.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func parseXML(data []byte) (*node, error) {
	var root node
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return nil, fmt.Errorf("XML parsing error: %w", err)
	}
	return &root, nil
}

func (n *node) name() string {
	return n.XMLName.Local
}

func (n *node) attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// text returns the concatenated character data of n and its descendants, trimmed.
func (n *node) text() string {
	if len(n.Nodes) == 0 {
		return strings.TrimSpace(n.Content)
	}
	var b strings.Builder
	n.writeText(&b)
	return strings.TrimSpace(b.String())
}

func (n *node) writeText(b *strings.Builder) {
	b.WriteString(n.Content)
	for i := range n.Nodes {
		n.Nodes[i].writeText(b)
	}
}

// find returns the first descendant (depth first, document order) named local.
func (n *node) find(local string) *node {
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.name() == local {
			return c
		}
		if found := c.find(local); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant named local in document order. Matches are
// not searched for nested matches of the same name.
func (n *node) findAll(local string) []*node {
	var out []*node
	n.collect(local, &out)
	return out
}

func (n *node) collect(local string, out *[]*node) {
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.name() == local {
			*out = append(*out, c)
			continue
		}
		c.collect(local, out)
	}
}

// findWhere returns the first descendant named local for which match is true.
func (n *node) findWhere(local string, match func(*node) bool) *node {
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.name() == local && match(c) {
			return c
		}
		if found := c.findWhere(local, match); found != nil {
			return found
		}
	}
	return nil
}
