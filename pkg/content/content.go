// Package content holds the static company catalog used to ground prompts.
package content

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Company describes the firm.
type Company struct {
	Name    string `yaml:"name"`
	Tagline string `yaml:"tagline"`
	Founded int    `yaml:"founded"`
	Email   string `yaml:"email"`
	Phone   string `yaml:"phone"`
	About   string `yaml:"about"`
}

// Office is a physical location.
type Office struct {
	City    string `yaml:"city"`
	Address string `yaml:"address"`
	Hours   string `yaml:"hours"`
}

// Service is one consulting offering. Description is HTML.
type Service struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Catalog is the read-only site content.
type Catalog struct {
	Company  Company   `yaml:"company"`
	Offices  []Office  `yaml:"offices"`
	Services []Service `yaml:"services"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &c, nil
}

// ServiceNames lists service names in catalog order.
func (c *Catalog) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for _, s := range c.Services {
		names = append(names, s.Name)
	}
	return names
}

// Knowledge renders the catalog as plain text for a system prompt.
func (c *Catalog) Knowledge() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s (founded %d). %s\n", c.Company.Name, c.Company.Founded, c.Company.Tagline)
	if about := PlainText(c.Company.About); about != "" {
		fmt.Fprintf(&b, "About: %s\n", about)
	}
	fmt.Fprintf(&b, "Contact: %s, %s\n", c.Company.Email, c.Company.Phone)

	if len(c.Offices) > 0 {
		b.WriteString("Offices:\n")
		for _, o := range c.Offices {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", o.City, o.Address, o.Hours)
		}
	}
	if len(c.Services) > 0 {
		b.WriteString("Services:\n")
		for _, s := range c.Services {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, PlainText(s.Description))
		}
	}
	return strings.TrimSpace(b.String())
}

// PlainText strips markup from an HTML fragment and collapses whitespace.
// List items are joined with "; ".
func PlainText(html string) string {
	if !strings.Contains(html, "<") {
		return strings.Join(strings.Fields(html), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("li").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("; ")
	})
	doc.Find("p, ul, ol, br").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	text := strings.Join(strings.Fields(doc.Text()), " ")
	return strings.TrimSuffix(strings.TrimSpace(text), ";")
}
