package xbrl

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// factElement is the inline-XBRL element carrying numeric facts. The HTML
// parser lower-cases element and attribute names, so ix:nonFraction arrives
// as "ix:nonfraction" and unitRef as "unitref".
const factElement = "ix:nonfraction"

// selfClosingFact matches an XHTML self-closing numeric fact. The HTML parser
// ignores "/>" on unknown elements, which would leave the fact open over its
// following siblings.
var selfClosingFact = regexp.MustCompile(`(?i)<(ix:nonfraction\b[^>]*?)\s*/>`)

// Fact is a single inline-XBRL numeric fact.
type Fact struct {
	Name     string `json:"name"`
	Value    string `json:"value"` // trimmed text, not numerically coerced
	Unit     string `json:"unit,omitempty"`
	Context  string `json:"context,omitempty"`
	Scale    string `json:"scale,omitempty"`
	Decimals string `json:"decimals,omitempty"`
}

// Document is a parsed filing ready for fact lookups.
type Document struct {
	facts *goquery.Selection
}

// Parse reads an (X)HTML filing document.
func Parse(r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("xbrl: read document: %w", err)
	}
	raw = selfClosingFact.ReplaceAll(raw, []byte("<$1></ix:nonFraction>"))

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("xbrl: parse document: %w", err)
	}
	facts := doc.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == factElement
	})
	return &Document{facts: facts}, nil
}

// ParseString parses a document held in memory.
func ParseString(html string) (*Document, error) {
	return Parse(strings.NewReader(html))
}

// Lookup returns the first fact whose name attribute equals tag exactly.
func (d *Document) Lookup(tag string) (Fact, bool) {
	var (
		found Fact
		ok    bool
	)
	d.facts.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if name, _ := s.Attr("name"); name == tag {
			found, ok = toFact(s), true
			return false
		}
		return true
	})
	return found, ok
}

// Facts lists every numeric fact in document order.
func (d *Document) Facts() []Fact {
	out := make([]Fact, 0, d.facts.Length())
	d.facts.Each(func(_ int, s *goquery.Selection) {
		out = append(out, toFact(s))
	})
	return out
}

// Len returns the number of numeric facts in the document.
func (d *Document) Len() int { return d.facts.Length() }

// Extract parses html and looks up a single tag. A missing tag is reported
// through ok, not through err.
func Extract(html, tag string) (fact Fact, ok bool, err error) {
	doc, err := ParseString(html)
	if err != nil {
		return Fact{}, false, err
	}
	fact, ok = doc.Lookup(tag)
	return fact, ok, nil
}

func toFact(s *goquery.Selection) Fact {
	name, _ := s.Attr("name")
	unit, _ := s.Attr("unitref")
	ctx, _ := s.Attr("contextref")
	scale, _ := s.Attr("scale")
	decimals, _ := s.Attr("decimals")
	var value string
	if isNil, _ := s.Attr("xsi:nil"); !strings.EqualFold(isNil, "true") {
		value = strings.TrimSpace(s.Text())
	}
	return Fact{
		Name:     name,
		Value:    value,
		Unit:     unit,
		Context:  ctx,
		Scale:    scale,
		Decimals: decimals,
	}
}
