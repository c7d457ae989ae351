// Package models defines data structures shared by ingestion and presentation.
package models

import "time"

// DocumentID is the fixed key of the singleton price snapshot document.
const DocumentID = "latest"

// SchemaVersion is the current layout of PriceSnapshot.
const SchemaVersion = 1

// PriceEntry is one observed price at one mart for one item.
type PriceEntry struct {
	Item          string `csv:"item" json:"item"`
	Price         string `csv:"price" json:"price"`
	Link          string `csv:"link" json:"link"`
	Mart          string `csv:"mart" json:"mart"`
	SearchKeyword string `csv:"search_keyword" json:"searchKeyword"`
	UpdatedAt     string `csv:"updated_at" json:"updatedAt"`
}

// UpdatedTime parses UpdatedAt. The zero time is returned for missing or malformed values.
func (e PriceEntry) UpdatedTime() time.Time {
	if e.UpdatedAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, e.UpdatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// PriceSnapshot is the single persisted aggregate written by ingestion.
type PriceSnapshot struct {
	Data             []PriceEntry `json:"data"`
	LastGlobalUpdate string       `json:"lastGlobalUpdate"`
	RunID            string       `json:"runId,omitempty"`
	SchemaVersion    int          `json:"schemaVersion,omitempty"`
	CatalogVersion   int          `json:"catalogVersion,omitempty"`
}

// LastUpdateTime parses LastGlobalUpdate, returning the zero time when unset.
func (s *PriceSnapshot) LastUpdateTime() time.Time {
	if s == nil || s.LastGlobalUpdate == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.LastGlobalUpdate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FailedPair identifies a (mart, item) combination that produced no entry.
type FailedPair struct {
	Mart    string `json:"mart"`
	Keyword string `json:"keyword"`
	URL     string `json:"url"`
	Reason  string `json:"reason"`
}

// IngestResult holds the overall result of one ingestion run.
type IngestResult struct {
	RunID        string
	StartTime    time.Time
	EndTime      time.Time
	RequestCount int
	SuccessCount int
	ErrorCount   int
	RetryCount   int
	ErrorsByType map[string]int
	FailedPairs  []FailedPair
	Written      bool
}
