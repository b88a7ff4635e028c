// Package legiscan is a client for the LegiScan pull API, the upstream
// source of bill, roll call and person records.
package legiscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"billfeed/api/internal/feed"
)

var (
	// ErrNotFound is returned when the API does not know the requested id.
	ErrNotFound = errors.New("legiscan: not found")
	// ErrNoKey is returned when no API key is configured.
	ErrNoKey = errors.New("legiscan: api key not configured")
)

// APIError is an error envelope returned by the API with status "ERROR".
type APIError struct {
	Op      string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("legiscan %s: %s", e.Op, e.Message)
}

// Observer receives the outcome of each upstream call.
type Observer interface {
	ObserveUpstream(op string, err error, elapsed time.Duration)
}

type Client struct {
	baseURL  string
	key      string
	http     *http.Client
	limiter  *rate.Limiter
	observer Observer
}

func New(baseURL, key string, ratePerSecond float64, timeout time.Duration, observer Observer) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &Client{
		baseURL:  baseURL,
		key:      key,
		http:     &http.Client{Timeout: timeout, Transport: transport},
		limiter:  rate.NewLimiter(limit, 1),
		observer: observer,
	}
}

// Bill is a decoded bill together with the exact payload it came from.
type Bill struct {
	Snapshot feed.Snapshot
	Raw      json.RawMessage
}

type RollCall struct {
	RollCallID int64  `json:"roll_call_id"`
	BillID     int64  `json:"bill_id"`
	Date       string `json:"date"`
	Desc       string `json:"desc"`
	Yea        int    `json:"yea"`
	Nay        int    `json:"nay"`
	NV         int    `json:"nv"`
	Absent     int    `json:"absent"`
	Total      int    `json:"total"`
	Passed     int    `json:"passed"`
	Chamber    string `json:"chamber"`
	ChamberID  int64  `json:"chamber_id"`
	Votes      []Vote `json:"votes"`
}

type Vote struct {
	PeopleID int64  `json:"people_id"`
	VoteID   int64  `json:"vote_id"`
	VoteText string `json:"vote_text"`
}

type Person struct {
	PeopleID int64       `json:"people_id"`
	Name     string      `json:"name"`
	PartyID  json.Number `json:"party_id"`
	Party    string      `json:"party"`
	District string      `json:"district"`
	RoleID   json.Number `json:"role_id"`
	Role     string      `json:"role"`
	// Raw is the full person record as returned upstream.
	Raw json.RawMessage `json:"-"`
}

type SearchParams struct {
	State string
	Query string
	Year  int
	Page  int
}

type SearchSummary struct {
	Page        string `json:"page"`
	Range       string `json:"range"`
	Relevancy   string `json:"relevancy"`
	Count       int    `json:"count"`
	PageCurrent int    `json:"page_current"`
	PageTotal   int    `json:"page_total"`
}

type SearchHit struct {
	Relevance      int    `json:"relevance"`
	State          string `json:"state"`
	BillNumber     string `json:"bill_number"`
	BillID         int64  `json:"bill_id"`
	ChangeHash     string `json:"change_hash"`
	URL            string `json:"url"`
	TextURL        string `json:"text_url"`
	ResearchURL    string `json:"research_url"`
	LastActionDate string `json:"last_action_date"`
	LastAction     string `json:"last_action"`
	Title          string `json:"title"`
}

type SearchResult struct {
	Summary SearchSummary
	Hits    []SearchHit
}

func (c *Client) GetBill(ctx context.Context, billID string) (Bill, error) {
	raw, err := c.call(ctx, "getBill", "bill", url.Values{"id": {billID}})
	if err != nil {
		return Bill{}, err
	}
	var snapshot feed.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Bill{}, fmt.Errorf("decode bill %s: %w", billID, err)
	}
	return Bill{Snapshot: snapshot, Raw: raw}, nil
}

func (c *Client) GetRollCall(ctx context.Context, rollCallID string) (RollCall, error) {
	raw, err := c.call(ctx, "getRollcall", "roll_call", url.Values{"id": {rollCallID}})
	if err != nil {
		return RollCall{}, err
	}
	var rollCall RollCall
	if err := json.Unmarshal(raw, &rollCall); err != nil {
		return RollCall{}, fmt.Errorf("decode roll call %s: %w", rollCallID, err)
	}
	return rollCall, nil
}

func (c *Client) GetPerson(ctx context.Context, peopleID string) (Person, error) {
	raw, err := c.call(ctx, "getPerson", "person", url.Values{"id": {peopleID}})
	if err != nil {
		return Person{}, err
	}
	var person Person
	if err := json.Unmarshal(raw, &person); err != nil {
		return Person{}, fmt.Errorf("decode person %s: %w", peopleID, err)
	}
	person.Raw = raw
	return person, nil
}

// Search runs a full-text bill search. Empty parameters fall back to the
// current session of Oklahoma, first page.
func (c *Client) Search(ctx context.Context, params SearchParams) (SearchResult, error) {
	state := strings.TrimSpace(params.State)
	if state == "" {
		state = "OK"
	}
	year := params.Year
	if year <= 0 {
		year = 1
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}
	raw, err := c.call(ctx, "search", "searchresult", url.Values{
		"state": {state},
		"query": {params.Query},
		"year":  {strconv.Itoa(year)},
		"page":  {strconv.Itoa(page)},
	})
	if err != nil {
		return SearchResult{}, err
	}
	return decodeSearch(raw)
}

// The search payload is an object holding "summary" plus one key per hit,
// numbered from "0".
func decodeSearch(raw json.RawMessage) (SearchResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return SearchResult{}, fmt.Errorf("decode search result: %w", err)
	}

	var result SearchResult
	if summary, ok := fields["summary"]; ok {
		if err := json.Unmarshal(summary, &result.Summary); err != nil {
			return SearchResult{}, fmt.Errorf("decode search summary: %w", err)
		}
	}

	keys := make([]int, 0, len(fields))
	for key := range fields {
		if n, err := strconv.Atoi(key); err == nil {
			keys = append(keys, n)
		}
	}
	sort.Ints(keys)

	result.Hits = make([]SearchHit, 0, len(keys))
	for _, n := range keys {
		var hit SearchHit
		if err := json.Unmarshal(fields[strconv.Itoa(n)], &hit); err != nil {
			return SearchResult{}, fmt.Errorf("decode search hit %d: %w", n, err)
		}
		result.Hits = append(result.Hits, hit)
	}
	return result, nil
}

type envelope struct {
	Status string `json:"status"`
	Alert  struct {
		Message string `json:"message"`
	} `json:"alert"`
}

func (c *Client) call(ctx context.Context, op, payloadKey string, params url.Values) (raw json.RawMessage, err error) {
	if c.key == "" {
		return nil, ErrNoKey
	}
	started := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveUpstream(op, err, time.Since(started))
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("legiscan %s: wait for rate limit: %w", op, err)
	}

	query := url.Values{}
	for key, values := range params {
		query[key] = values
	}
	query.Set("key", c.key)
	query.Set("op", op)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("legiscan %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("legiscan %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("legiscan %s: read body: %w", op, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("legiscan %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(truncate(body, 512))))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("legiscan %s: decode envelope: %w", op, err)
	}
	if !strings.EqualFold(env.Status, "OK") {
		apiErr := &APIError{Op: op, Message: env.Alert.Message}
		if looksNotFound(env.Alert.Message) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, apiErr)
		}
		return nil, apiErr
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("legiscan %s: decode payload: %w", op, err)
	}
	raw, ok := payload[payloadKey]
	if !ok || string(raw) == "null" {
		return nil, fmt.Errorf("legiscan %s: response has no %s", op, payloadKey)
	}
	return raw, nil
}

func looksNotFound(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "unknown") || strings.Contains(lower, "not found")
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
