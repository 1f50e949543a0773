// Package crawler defines core types shared across subsystems.
package crawler

import (
	"encoding/json"
	"time"
)

// Strategy names the extraction strategy that produced an Article.
type Strategy string

// Extraction strategies in priority order, plus homepage recovery.
const (
	StrategyStructured Strategy = "structured"
	StrategyDOM        Strategy = "dom"
	StrategyText       Strategy = "text"
	StrategyRecovery   Strategy = "recovery"
)

// Record date layouts shared with the downstream collector.
const (
	DateTimeLayout = "2006-01-02 15:04:05"
	DayLayout      = "2006-01-02"
)

// ArticleLink is a detail-page URL discovered on a category listing.
type ArticleLink struct {
	URL      string
	Category string
}

// FetchResult is the outcome of fetching one detail page.
type FetchResult struct {
	URL              string
	HTML             string
	Success          bool
	RedirectedToHome bool
	Attempts         int
	Duration         time.Duration
}

// Article is a candidate extracted from rendered HTML.
type Article struct {
	ID          string
	Title       string
	Body        string
	PublishedAt time.Time
	Author      string
	Category    string
	SourceURL   string
	Strategy    Strategy
}

// Record is the persisted and published form of an accepted Article.
// Field names match what the downstream news collector decodes.
type Record struct {
	Title      string `json:"title"`
	Abstract   string `json:"abstract"`
	Date       string `json:"date"`
	Link       string `json:"link"`
	Content    string `json:"content"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	Author     string `json:"author"`
	ReadNumber int    `json:"read_number"`
	Time       string `json:"time"`
}

// RenderRequest asks the render collaborator for one page.
type RenderRequest struct {
	URL         string
	Timeout     time.Duration
	SettleDelay time.Duration
	// Schema switches the render into structured-extraction mode.
	Schema *Schema
	// Script is evaluated in the page after load and before capture.
	Script string
}

// RenderResult carries the rendered DOM and, in schema mode, the extracted JSON.
type RenderResult struct {
	HTML      string
	Extracted json.RawMessage
	FinalURL  string
}

// FieldType selects how a schema field reads its value.
type FieldType string

// Supported schema field types.
const (
	FieldText       FieldType = "text"
	FieldAttribute  FieldType = "attribute"
	FieldNestedList FieldType = "nested_list"
)

// Schema is a CSS-selector extraction schema applied to a rendered page.
type Schema struct {
	Name         string        `json:"name"`
	BaseSelector string        `json:"baseSelector"`
	Fields       []SchemaField `json:"fields"`
}

// SchemaField describes one value or nested list within a Schema.
type SchemaField struct {
	Name      string        `json:"name"`
	Selector  string        `json:"selector,omitempty"`
	Type      FieldType     `json:"type"`
	Attribute string        `json:"attribute,omitempty"`
	Fields    []SchemaField `json:"fields,omitempty"`
}

// RunSummary reports what one pipeline pass did.
type RunSummary struct {
	RunID      string
	Discovered int
	Skipped    int
	Fetched    int
	Accepted   int
	Published  int
	Failed     int
	Started    time.Time
	Finished   time.Time
}
