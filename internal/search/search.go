package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultEvent ResultType = "event"
	ResultBill  ResultType = "bill"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	BillID    string     `json:"billId"`
	EventType string     `json:"eventType,omitempty"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Date      string     `json:"date,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterBillID    string
	FilterEventType string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexEvents(events []EventRecord) error
	IndexBill(bill BillRecord) error
}

// EventRecord is the data we index for a feed event.
type EventRecord struct {
	ID          string `json:"id"`
	BillID      string `json:"billId"`
	EventType   string `json:"eventType"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Chamber     string `json:"chamber"`
	Date        string `json:"date"`
}

// BillRecord is the data we index for a bill.
type BillRecord struct {
	ID             string `json:"id"`
	BillNumber     string `json:"billNumber"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	State          string `json:"state"`
	LastAction     string `json:"lastAction"`
	LastActionDate string `json:"lastActionDate"`
}
