package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// QueryPlaceholder marks where the item query goes in a mart search URL.
const QueryPlaceholder = "{query}"

//go:embed catalog.yaml
var defaultCatalog []byte

// Mart is an online retailer and its search URL template.
type Mart struct {
	Name      string `yaml:"name"`
	SearchURL string `yaml:"searchURL"`
}

// Item maps a canonical Korean keyword to a mart-agnostic search query.
type Item struct {
	Keyword string `yaml:"keyword"`
	Query   string `yaml:"query"`
}

// Catalog is the versioned list of marts and items covered by ingestion.
type Catalog struct {
	Version int    `yaml:"version"`
	Marts   []Mart `yaml:"marts"`
	Items   []Item `yaml:"items"`
}

// DefaultCatalog returns the catalog embedded in the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates YAML catalog data.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate ensures the catalog is usable for an ingestion run.
func (c *Catalog) Validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("catalog version must be positive")
	}
	if len(c.Marts) == 0 {
		return fmt.Errorf("catalog must list at least one mart")
	}
	if len(c.Items) == 0 {
		return fmt.Errorf("catalog must list at least one item")
	}

	marts := make(map[string]struct{}, len(c.Marts))
	for _, m := range c.Marts {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("catalog mart name cannot be empty")
		}
		if _, ok := marts[m.Name]; ok {
			return fmt.Errorf("duplicate mart %q", m.Name)
		}
		marts[m.Name] = struct{}{}
		if !strings.Contains(m.SearchURL, QueryPlaceholder) {
			return fmt.Errorf("mart %q search URL must contain %s", m.Name, QueryPlaceholder)
		}
		parsed, err := url.Parse(strings.ReplaceAll(m.SearchURL, QueryPlaceholder, "x"))
		if err != nil {
			return fmt.Errorf("mart %q search URL: %w", m.Name, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("mart %q search URL must include a host", m.Name)
		}
	}

	keywords := make(map[string]struct{}, len(c.Items))
	for _, it := range c.Items {
		if strings.TrimSpace(it.Keyword) == "" {
			return fmt.Errorf("catalog item keyword cannot be empty")
		}
		if strings.TrimSpace(it.Query) == "" {
			return fmt.Errorf("catalog item %q query cannot be empty", it.Keyword)
		}
		if _, ok := keywords[it.Keyword]; ok {
			return fmt.Errorf("duplicate item keyword %q", it.Keyword)
		}
		keywords[it.Keyword] = struct{}{}
	}
	return nil
}

// BuildURL substitutes the escaped item query into the mart template.
func (m Mart) BuildURL(query string) string {
	return strings.ReplaceAll(m.SearchURL, QueryPlaceholder, url.QueryEscape(query))
}
