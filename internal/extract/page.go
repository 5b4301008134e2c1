// Package extract decides whether a loaded product page is a block page and
// pulls the product name and price fields out of it.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is the read-only view of a loaded page the detector and extractor need.
type Page interface {
	// Count returns how many elements match selector.
	Count(selector string) (int, error)
	// Texts returns the text content of every element matching selector.
	Texts(selector string) ([]string, error)
	Content() (string, error)
	Title() (string, error)
}

// textPseudo matches a trailing :text('...') filter.
var textPseudo = regexp.MustCompile(`^(.*):text\((?:'([^']*)'|"([^"]*)")\)$`)

// HTMLPage serves Page from static markup, for saved snapshots and tests.
type HTMLPage struct {
	html string
	doc  *goquery.Document
}

func NewHTMLPage(html string) (*HTMLPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &HTMLPage{html: html, doc: doc}, nil
}

func (p *HTMLPage) Count(selector string) (int, error) {
	return p.find(selector).Length(), nil
}

func (p *HTMLPage) Texts(selector string) ([]string, error) {
	var out []string
	p.find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, s.Text())
	})
	return out, nil
}

func (p *HTMLPage) Content() (string, error) {
	return p.html, nil
}

func (p *HTMLPage) Title() (string, error) {
	return strings.TrimSpace(p.doc.Find("title").First().Text()), nil
}

// find resolves CSS selectors plus a trailing :text('...') substring filter.
// Selectors goquery cannot compile match nothing.
func (p *HTMLPage) find(selector string) *goquery.Selection {
	m := textPseudo.FindStringSubmatch(strings.TrimSpace(selector))
	if m == nil {
		return p.doc.Find(selector)
	}
	want := strings.ToLower(m[2] + m[3])
	return p.doc.Find(m[1]).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.Text()), want)
	})
}
