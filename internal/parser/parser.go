// Package parser extracts enrichment fields from EMB3D per-entity HTML pages.
//
// Each page is a sequence of headings carrying stable id attributes followed
// by their content. Extraction is driven by a table of rules: a rule names the
// record field it fills, the heading id pattern that anchors it, and how the
// content after the anchor is read.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/emb3d-mapper/api/schemas"
	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

// extraction selects how the content after an anchor is read.
type extraction int

const (
	// firstParagraph reads the first <p> following the anchor.
	firstParagraph extraction = iota
	// listItems reads the direct <li> children of the first list following the anchor.
	listItems
)

// field identifies the EnrichmentRecord member a rule populates.
type field int

const (
	fieldDescription field = iota
	fieldProofOfConcept
	fieldKnownExploitableWeakness
	fieldCVE
	fieldCWE
	fieldRegulatoryMapping
)

// Rule binds a record field to an anchor pattern and an extraction.
type Rule struct {
	field   field
	anchor  *regexp.Regexp
	extract extraction
	// filter, when set, keeps only the first match of the pattern in each item.
	filter *regexp.Regexp
}

var (
	cveToken = regexp.MustCompile(`CVE-\d{4}-\d{4,7}`)
	cweToken = regexp.MustCompile(`CWE-\d+`)
)

var threatRules = []Rule{
	{field: fieldDescription, anchor: regexp.MustCompile(`(?i)threat-description`), extract: firstParagraph},
	{field: fieldProofOfConcept, anchor: regexp.MustCompile(`(?i)proof[-_ ]?of[-_ ]?concept`), extract: listItems},
	{field: fieldKnownExploitableWeakness, anchor: regexp.MustCompile(`(?i)known[-_ ]?exploitable[-_ ]?weakness`), extract: listItems},
	{field: fieldCVE, anchor: regexp.MustCompile(`(?i)\bcve\b`), extract: listItems, filter: cveToken},
	{field: fieldCWE, anchor: regexp.MustCompile(`(?i)\bcwe\b`), extract: listItems, filter: cweToken},
}

var mitigationRules = []Rule{
	{field: fieldDescription, anchor: regexp.MustCompile(`(?i)^description$`), extract: firstParagraph},
	{field: fieldRegulatoryMapping, anchor: regexp.MustCompile(`(?i)mappings?`), extract: listItems},
}

// RulesFor returns the rule table for an entity kind, or nil for an unknown kind.
func RulesFor(kind schemas.EntityKind) []Rule {
	switch kind {
	case schemas.KindThreat:
		return threatRules
	case schemas.KindMitigation:
		return mitigationRules
	default:
		return nil
	}
}

var whitespace = regexp.MustCompile(`\s+`)

// Parse reads an entity document and applies the rule table for kind.
// Missing sections leave their fields empty; only an unreadable document or an
// unknown kind is an error.
func Parse(r io.Reader, kind schemas.EntityKind) (schemas.EnrichmentRecord, error) {
	var record schemas.EnrichmentRecord

	rules := RulesFor(kind)
	if rules == nil {
		return record, &pipelineerr.EntityParseError{Entity: string(kind), Err: fmt.Errorf("unknown entity kind %q", kind)}
	}

	doc, err := htmlquery.Parse(r)
	if err != nil {
		return record, &pipelineerr.EntityParseError{Entity: string(kind), Err: err}
	}

	anchored := htmlquery.Find(doc, "//*[@id]")
	knownWeaknessFound := false

	for _, rule := range rules {
		anchor := findAnchor(anchored, rule.anchor)
		if anchor == nil {
			continue
		}
		if rule.field == fieldKnownExploitableWeakness {
			knownWeaknessFound = true
		}

		switch rule.extract {
		case firstParagraph:
			if p := htmlquery.FindOne(anchor, "following::p[1]"); p != nil {
				assign(&record, rule.field, []string{textOf(p)})
			}
		case listItems:
			assign(&record, rule.field, filterItems(readList(anchor), rule.filter))
		}
	}

	// Threat pages predating the dedicated section list exploitable weaknesses
	// under Proof of Concept.
	if kind == schemas.KindThreat && !knownWeaknessFound {
		record.KnownExploitableWeakness = record.ProofOfConcept
	}

	return record, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(body []byte, kind schemas.EntityKind) (schemas.EnrichmentRecord, error) {
	return Parse(bytes.NewReader(body), kind)
}

// findAnchor returns the first node, in document order, whose id matches pattern.
func findAnchor(nodes []*html.Node, pattern *regexp.Regexp) *html.Node {
	for _, n := range nodes {
		if pattern.MatchString(htmlquery.SelectAttr(n, "id")) {
			return n
		}
	}
	return nil
}

// readList collects the text of the direct items of the first list after anchor.
func readList(anchor *html.Node) []string {
	list := htmlquery.FindOne(anchor, "following::*[self::ul or self::ol][1]")
	if list == nil {
		return nil
	}

	var items []string
	for _, li := range htmlquery.Find(list, "./li") {
		if text := itemText(li); text != "" {
			items = append(items, text)
		}
	}
	return items
}

// itemText renders a list item. Items carrying a hyperlink keep its target as
// "<link text> (<url>)".
func itemText(li *html.Node) string {
	sel := goquery.NewDocumentFromNode(li).Selection
	text := textOf(li)

	link := sel.Find("a[href]").First()
	if link.Length() == 0 {
		return text
	}
	href, _ := link.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" {
		return text
	}
	label := textOf(link.Get(0))
	if label == "" {
		label = text
	}
	return fmt.Sprintf("%s (%s)", label, href)
}

func filterItems(items []string, filter *regexp.Regexp) []string {
	if filter == nil {
		return items
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if token := filter.FindString(item); token != "" {
			out = append(out, token)
		}
	}
	return out
}

func assign(record *schemas.EnrichmentRecord, f field, values []string) {
	switch f {
	case fieldDescription:
		if len(values) > 0 {
			record.Description = values[0]
		}
	case fieldProofOfConcept:
		record.ProofOfConcept = strings.Join(values, schemas.ListSeparator)
	case fieldKnownExploitableWeakness:
		record.KnownExploitableWeakness = strings.Join(values, schemas.ListSeparator)
	case fieldCVE:
		record.CVE = values
	case fieldCWE:
		record.CWE = values
	case fieldRegulatoryMapping:
		record.RegulatoryMapping = strings.Join(values, schemas.ListSeparator)
	}
}

// textOf joins the text nodes under n with a space, so line breaks and
// adjacent inline elements keep their words apart, then collapses whitespace.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return collapse(b.String())
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
