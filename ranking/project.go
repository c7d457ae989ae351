// Package ranking turns the flat list of price entries into ranked per-item comparisons.
package ranking

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/aluiziolira/martprice/models"
	"github.com/aluiziolira/martprice/parser"
)

// NewWindow is how recent a group's latest update must be to flag it as new.
const NewWindow = 48 * time.Hour

// Query is the user-controlled part of a projection.
type Query struct {
	Search string
	// Category filters by tab. The empty value disables category filtering.
	Category Category
}

// Options tunes a Projector.
type Options struct {
	// DropUnparsable removes entries whose price cannot be read instead of ranking them at 0.
	DropUnparsable bool
}

// RankedEntry is an entry placed within its group.
type RankedEntry struct {
	models.PriceEntry
	DisplayItem string   `json:"displayItem"`
	PriceValue  float64  `json:"priceValue"`
	Category    Category `json:"category"`
	Best        bool     `json:"best"`
	MinPrice    float64  `json:"minPrice"`
	MaxPrice    float64  `json:"maxPrice"`
}

// Group is one item family ready for rendering.
type Group struct {
	Key        string        `json:"key"`
	Entries    []RankedEntry `json:"entries"`
	IsNew      bool          `json:"isNew"`
	MinPrice   float64       `json:"minPrice"`
	MaxPrice   float64       `json:"maxPrice"`
	LatestSeen time.Time     `json:"latestUpdate"`
}

// Projector holds the injectable tables used by Project.
type Projector struct {
	classifier *Classifier
	labeler    *Labeler
	opts       Options
}

// NewProjector builds a projector from explicit tables.
func NewProjector(classifier *Classifier, labeler *Labeler, opts Options) *Projector {
	if classifier == nil {
		classifier = NewClassifier(DefaultBeautyTerms)
	}
	if labeler == nil {
		labeler = NewLabeler(DefaultLabelRules)
	}
	return &Projector{classifier: classifier, labeler: labeler, opts: opts}
}

// DefaultProjector uses the built-in beauty and label tables.
func DefaultProjector() *Projector {
	return NewProjector(nil, nil, Options{})
}

// Clean drops entries that must not be presented. The input is not modified.
func Clean(entries []models.PriceEntry) []models.PriceEntry {
	out := make([]models.PriceEntry, 0, len(entries))
	for i := range entries {
		if parser.ValidateEntry(&entries[i]) != nil {
			continue
		}
		out = append(out, entries[i])
	}
	return out
}

// Tokenize splits a search term on whitespace and '+', lower-cased.
func Tokenize(search string) []string {
	return strings.FieldsFunc(strings.ToLower(search), func(r rune) bool {
		return r == '+' || unicode.IsSpace(r)
	})
}

// Classify reports the category of a single entry.
func (p *Projector) Classify(e models.PriceEntry) Category {
	return p.classifier.Classify(searchText(e))
}

// Project filters, groups and ranks entries. It never mutates entries and returns the
// same output for the same inputs.
func (p *Projector) Project(entries []models.PriceEntry, q Query, now time.Time) []Group {
	tokens := Tokenize(q.Search)

	type bucket struct {
		key     string
		entries []RankedEntry
		latest  time.Time
	}
	var order []*bucket
	byKey := make(map[string]*bucket)

	for _, e := range entries {
		text := searchText(e)
		if !matchesAll(text, tokens) {
			continue
		}
		category := p.classifier.Classify(text)
		if q.Category != "" && category != q.Category {
			continue
		}

		value, ok := parser.NormalizePrice(e.Price)
		if !ok && p.opts.DropUnparsable {
			continue
		}

		key := p.labeler.Label(e.SearchKeyword)
		b, found := byKey[key]
		if !found {
			b = &bucket{key: key}
			byKey[key] = b
			order = append(order, b)
		}
		b.entries = append(b.entries, RankedEntry{
			PriceEntry:  e,
			DisplayItem: parser.DisplayItem(e.Item),
			PriceValue:  value,
			Category:    category,
		})
		if t := e.UpdatedTime(); t.After(b.latest) {
			b.latest = t
		}
	}

	groups := make([]Group, 0, len(order))
	for _, b := range order {
		sort.SliceStable(b.entries, func(i, j int) bool {
			return b.entries[i].PriceValue < b.entries[j].PriceValue
		})
		minPrice := b.entries[0].PriceValue
		maxPrice := b.entries[len(b.entries)-1].PriceValue
		for i := range b.entries {
			b.entries[i].MinPrice = minPrice
			b.entries[i].MaxPrice = maxPrice
		}
		b.entries[0].Best = true

		groups = append(groups, Group{
			Key:        b.key,
			Entries:    b.entries,
			IsNew:      !b.latest.IsZero() && now.Sub(b.latest) <= NewWindow,
			MinPrice:   minPrice,
			MaxPrice:   maxPrice,
			LatestSeen: b.latest,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		fi, fj := groups[i].Key == FallbackGroup, groups[j].Key == FallbackGroup
		if fi != fj {
			return fj
		}
		return groups[i].LatestSeen.After(groups[j].LatestSeen)
	})
	return groups
}

func searchText(e models.PriceEntry) string {
	return strings.ToLower(e.Item + " " + e.Mart + " " + e.SearchKeyword)
}

func matchesAll(text string, tokens []string) bool {
	for _, t := range tokens {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}
