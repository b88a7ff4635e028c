package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"billfeed/api/internal/archive"
	"billfeed/api/internal/cache"
	"billfeed/api/internal/config"
	"billfeed/api/internal/feed"
	"billfeed/api/internal/legiscan"
	"billfeed/api/internal/logger"
	"billfeed/api/internal/metrics"
	"billfeed/api/internal/search"
	"billfeed/api/internal/store"
)

const (
	ResponseBillCreated   = "new bill saved successfully"
	ResponseBillUpdated   = "bill updated successfully"
	ResponseBillUnchanged = "bill already up to date"

	ResponseRollCallCreated   = "New rollcall saved successfully"
	ResponseRollCallUpdated   = "Existing rollcall updated successfully"
	ResponseRollCallUnchanged = "Rollcall already up to date"
)

var (
	idPattern   = regexp.MustCompile(`^[0-9]+$`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

type dataStore interface {
	GetBill(context.Context, string) (store.BillRecord, error)
	SaveBill(context.Context, store.BillRecord, []store.FeedEntry) error
	ListFeed(context.Context, string) ([]store.FeedEntry, error)
	ListFeedByDate(context.Context, string) ([]store.FeedEntry, error)
	GetPerson(context.Context, string) (store.Person, error)
	InsertPersonIfAbsent(context.Context, store.Person) error
	GetBody(context.Context, string) (store.Body, error)
	GetRollCall(context.Context, string) (store.RollCall, error)
	InsertRollCall(context.Context, store.RollCall) (bool, error)
	UpdateRollCallVotes(context.Context, string, []store.RollCallVote) error
	Ping(context.Context) error
}

type upstreamClient interface {
	GetBill(context.Context, string) (legiscan.Bill, error)
	GetRollCall(context.Context, string) (legiscan.RollCall, error)
	GetPerson(context.Context, string) (legiscan.Person, error)
	Search(context.Context, legiscan.SearchParams) (legiscan.SearchResult, error)
}

type cacheStore interface {
	GetPerson(context.Context, string) (json.RawMessage, error)
	PutPerson(context.Context, string, json.RawMessage) error
	LockBill(context.Context, string) (func(context.Context) error, error)
	Ping(context.Context) error
}

type snapshotArchive interface {
	Commit(billID, changeHash string, snapshot json.RawMessage, eventCount int) (archive.Commit, bool, error)
	History(billID string, limit int) ([]archive.Commit, error)
	SnapshotAt(billID, revision string) (json.RawMessage, error)
}

type payloadArchive interface {
	PutBill(ctx context.Context, billID, changeHash string, payload []byte) (string, error)
	GetBill(ctx context.Context, billID, changeHash string) ([]byte, error)
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexBill(search.BillRecord, []search.EventRecord)
}

// Dependencies are the collaborators of a Service. Only Store and Upstream
// are required.
type Dependencies struct {
	Store    dataStore
	Upstream upstreamClient
	Cache    cacheStore
	Archive  snapshotArchive
	Payloads payloadArchive
	Search   searchService
	Metrics  *metrics.Metrics
}

type Service struct {
	cfg        config.Config
	store      dataStore
	upstream   upstreamClient
	cache      cacheStore
	archive    snapshotArchive
	payloads   payloadArchive
	search     searchService
	metrics    *metrics.Metrics
	reconciler *feed.Reconciler
	now        func() time.Time
}

func NewService(cfg config.Config, deps Dependencies) *Service {
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		upstream:   deps.Upstream,
		cache:      deps.Cache,
		archive:    deps.Archive,
		payloads:   deps.Payloads,
		search:     deps.Search,
		metrics:    deps.Metrics,
		reconciler: feed.NewReconciler(cfg.FeedOffset, cfg.FeedTimeOfDay),
		now:        time.Now,
	}
}

// SaveResult reports what one bill save did.
type SaveResult struct {
	Response       string               `json:"response"`
	Status         string               `json:"status"`
	BillID         string               `json:"bill_id"`
	ChangeHash     string               `json:"change_hash"`
	Events         int                  `json:"events"`
	FeedDates      []string             `json:"feed_dates"`
	LastActionDate string               `json:"last_action_date,omitempty"`
	LastAction     string               `json:"last_action,omitempty"`
	Violations     []feed.SequenceError `json:"violations,omitempty"`
	RollCalls      []RollCallResult     `json:"roll_calls"`
	Commit         *archive.Commit      `json:"commit,omitempty"`
}

type RollCallResult struct {
	RollCallID string `json:"roll_call_id"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SaveBill fetches the current state of a bill, records any roll calls it
// references and appends the events that are new since the last save.
func (s *Service) SaveBill(ctx context.Context, billID string) (SaveResult, error) {
	billID = strings.TrimSpace(billID)
	if !idPattern.MatchString(billID) {
		return SaveResult{}, validationError("bill id must be numeric")
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{BillID: billID, Component: "billfeed.save"})

	release, err := s.lockBill(ctx, billID)
	if err != nil {
		return SaveResult{}, err
	}
	defer release()

	bill, err := s.upstream.GetBill(ctx, billID)
	if err != nil {
		slog.WarnContext(ctx, "fetch bill failed", "error", err)
		return SaveResult{}, upstreamError("bill", err)
	}
	next := bill.Snapshot
	if next.BillID == "" {
		next.BillID = billID
	}

	rollCalls, err := s.saveReferencedRollCalls(ctx, next.Votes)
	if err != nil {
		return SaveResult{}, err
	}

	var (
		prev       *feed.Snapshot
		prevRecord store.BillRecord
	)
	prevRecord, err = s.store.GetBill(ctx, billID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		slog.ErrorContext(ctx, "load saved bill failed", "error", err)
		return SaveResult{}, storeError("load saved bill", err)
	default:
		var decoded feed.Snapshot
		if err := json.Unmarshal(prevRecord.Snapshot, &decoded); err != nil {
			slog.ErrorContext(ctx, "decode saved snapshot failed", "error", err)
			return SaveResult{}, storeError("decode saved bill", err)
		}
		decoded.Issued = issuedFromStore(prevRecord.TypeCounts)
		prev = &decoded
	}

	if prev != nil && prevRecord.ChangeHash == next.ChangeHash {
		s.metrics.ObserveReconcile("unchanged", feed.Result{})
		return SaveResult{
			Response:       ResponseBillUnchanged,
			Status:         "unchanged",
			BillID:         billID,
			ChangeHash:     next.ChangeHash,
			FeedDates:      prevRecord.FeedDates,
			LastActionDate: prevRecord.LastActionDate,
			LastAction:     prevRecord.LastAction,
			RollCalls:      rollCalls,
		}, nil
	}

	result := s.reconciler.Reconcile(&next, prev)
	if len(result.Violations) > 0 {
		slog.WarnContext(ctx, "upstream rewrote tracked collections", "error", result.Err(), "violations", len(result.Violations))
		if s.cfg.StrictAppendOnly {
			s.metrics.ObserveReconcile("rejected", feed.Result{Violations: result.Violations})
			return SaveResult{}, domainError(http.StatusConflict, "SEQUENCE_REWRITTEN",
				"upstream rewrote records that were already published", result.Violations)
		}
	}

	snapshot, err := json.Marshal(next)
	if err != nil {
		return SaveResult{}, fmt.Errorf("encode snapshot: %w", err)
	}

	now := s.now()
	record := store.BillRecord{
		BillID:         billID,
		ChangeHash:     next.ChangeHash,
		Snapshot:       snapshot,
		LastActionDate: result.LastActionDate,
		LastAction:     result.LastAction,
		UpdatedOn:      now,
		TypeCounts:     issuedToStore(result.Issued),
	}
	status, response := "created", ResponseBillCreated
	if prev == nil {
		record.CreatedOn = now
		record.Projects = []string{}
		record.FeedDates = result.FeedDates
	} else {
		status, response = "updated", ResponseBillUpdated
		record.CreatedOn = prevRecord.CreatedOn
		record.Projects = prevRecord.Projects
		record.FeedDates = feed.MergeFeedDates(prevRecord.FeedDates, result.FeedDates)
	}

	if err := s.store.SaveBill(ctx, record, toFeedEntries(result.Timeline)); err != nil {
		slog.ErrorContext(ctx, "save bill failed", "error", err)
		return SaveResult{}, storeError("store bill", err)
	}
	s.metrics.ObserveReconcile(status, result)

	saved := SaveResult{
		Response:       response,
		Status:         status,
		BillID:         billID,
		ChangeHash:     next.ChangeHash,
		Events:         len(result.Timeline),
		FeedDates:      record.FeedDates,
		LastActionDate: result.LastActionDate,
		LastAction:     result.LastAction,
		Violations:     result.Violations,
		RollCalls:      rollCalls,
	}
	saved.Commit = s.archiveBill(ctx, billID, &next, snapshot, bill.Raw, result)

	slog.InfoContext(ctx, "bill saved", "status", status, "events", len(result.Timeline), "change_hash", next.ChangeHash)
	return saved, nil
}

func issuedFromStore(counts map[string]int) map[feed.Kind]int {
	issued := make(map[feed.Kind]int, len(counts))
	for kind, n := range counts {
		issued[feed.Kind(kind)] = n
	}
	return issued
}

func issuedToStore(issued map[feed.Kind]int) map[string]int {
	counts := make(map[string]int, len(issued))
	for kind, n := range issued {
		counts[string(kind)] = n
	}
	return counts
}

// lockBill serializes saves of one bill across processes. Without a cache,
// or when the cache is unreachable, saves proceed unlocked.
func (s *Service) lockBill(ctx context.Context, billID string) (func(), error) {
	noop := func() {}
	if s.cache == nil {
		return noop, nil
	}
	unlock, err := s.cache.LockBill(ctx, billID)
	if errors.Is(err, cache.ErrLockHeld) {
		return nil, domainError(http.StatusConflict, "SAVE_IN_PROGRESS", "bill is already being saved", nil)
	}
	if err != nil {
		slog.WarnContext(ctx, "bill lock unavailable, saving unlocked", "error", err)
		return noop, nil
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "release bill lock failed", "error", err)
		}
	}, nil
}

// saveReferencedRollCalls records the roll calls listed in a bill's votes.
// A failing roll call is reported in its result and does not fail the save.
func (s *Service) saveReferencedRollCalls(ctx context.Context, votes []json.RawMessage) ([]RollCallResult, error) {
	results := make([]RollCallResult, len(votes))
	if len(votes) == 0 {
		return results, nil
	}

	limit := s.cfg.RollCallConcurrency
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, vote := range votes {
		rollCallID := gjson.GetBytes(vote, "roll_call_id").String()
		results[i].RollCallID = rollCallID
		if rollCallID == "" {
			results[i].Error = "vote has no roll_call_id"
			continue
		}
		g.Go(func() error {
			saved, err := s.SaveRollCall(gctx, rollCallID, false)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.WarnContext(gctx, "save roll call failed", "roll_call_id", rollCallID, "error", err)
				results[i].Error = err.Error()
				return nil
			}
			results[i].Response = saved.Response
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) archiveBill(ctx context.Context, billID string, next *feed.Snapshot, snapshot, raw []byte, result feed.Result) *archive.Commit {
	var commit *archive.Commit
	if s.archive != nil {
		c, created, err := s.archive.Commit(billID, next.ChangeHash, snapshot, len(result.Timeline))
		if err != nil {
			slog.WarnContext(ctx, "archive snapshot failed", "error", err)
		} else {
			if created {
				slog.DebugContext(ctx, "snapshot archived", "commit", c.Hash)
			}
			commit = &c
		}
	}

	if s.payloads != nil && len(raw) > 0 {
		if key, err := s.payloads.PutBill(ctx, billID, next.ChangeHash, raw); err != nil {
			slog.WarnContext(ctx, "archive raw payload failed", "error", err)
		} else {
			slog.DebugContext(ctx, "raw payload archived", "key", key)
		}
	}

	if s.search != nil {
		events := make([]search.EventRecord, 0, len(result.Timeline))
		for _, entry := range result.Timeline {
			events = append(events, search.EventRecord{
				ID:          entry.ID,
				BillID:      entry.BillID,
				EventType:   string(entry.Type),
				Title:       deref(entry.Title),
				Description: deref(entry.Description),
				Chamber:     deref(entry.Chamber),
				Date:        entry.Date,
			})
		}
		s.search.IndexBill(search.BillRecord{
			ID:             billID,
			BillNumber:     next.Meta("bill_number").String(),
			Title:          next.Meta("title").String(),
			Description:    next.Meta("description").String(),
			State:          next.Meta("state").String(),
			LastAction:     result.LastAction,
			LastActionDate: result.LastActionDate,
		}, events)
	}
	return commit
}

// SaveRollCall records a roll call with each vote resolved to the voter's
// details. An existing roll call only has its votes refreshed when force is
// set.
func (s *Service) SaveRollCall(ctx context.Context, rollCallID string, force bool) (RollCallResult, error) {
	rollCallID = strings.TrimSpace(rollCallID)
	if !idPattern.MatchString(rollCallID) {
		return RollCallResult{}, validationError("roll call id must be numeric")
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{RollCallID: rollCallID})

	rc, err := s.upstream.GetRollCall(ctx, rollCallID)
	if err != nil {
		return RollCallResult{}, upstreamError("roll call", err)
	}

	_, err = s.store.GetRollCall(ctx, rollCallID)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return RollCallResult{}, storeError("load roll call", err)
	}
	if exists && !force {
		return RollCallResult{RollCallID: rollCallID, Response: ResponseRollCallUnchanged}, nil
	}

	votes, err := s.resolveVotes(ctx, rc.Votes)
	if err != nil {
		return RollCallResult{}, err
	}

	if exists {
		if err := s.store.UpdateRollCallVotes(ctx, rollCallID, votes); err != nil {
			return RollCallResult{}, storeError("update roll call", err)
		}
		return RollCallResult{RollCallID: rollCallID, Response: ResponseRollCallUpdated}, nil
	}

	data, err := s.rollCallData(ctx, rc)
	if err != nil {
		return RollCallResult{}, err
	}
	created, err := s.store.InsertRollCall(ctx, store.RollCall{
		RollCallID: rollCallID,
		BillID:     fmt.Sprint(rc.BillID),
		Data:       data,
		Votes:      votes,
	})
	if err != nil {
		return RollCallResult{}, storeError("store roll call", err)
	}
	if !created {
		// Another save inserted it first.
		return RollCallResult{RollCallID: rollCallID, Response: ResponseRollCallUnchanged}, nil
	}
	slog.InfoContext(ctx, "roll call saved", "votes", len(votes))
	return RollCallResult{RollCallID: rollCallID, Response: ResponseRollCallCreated}, nil
}

// rollCallData is the stored roll call summary, with the chamber's body
// record attached when one is known.
func (s *Service) rollCallData(ctx context.Context, rc legiscan.RollCall) (json.RawMessage, error) {
	// Votes shadows the embedded field so resolved votes are only kept in
	// their own column.
	payload := struct {
		legiscan.RollCall
		Votes []legiscan.Vote `json:"votes,omitempty"`
		Body  json.RawMessage `json:"body,omitempty"`
	}{RollCall: rc}

	body, err := s.store.GetBody(ctx, fmt.Sprint(rc.ChamberID))
	switch {
	case err == nil:
		payload.Body = body.Data
	case errors.Is(err, store.ErrNotFound):
	default:
		slog.WarnContext(ctx, "load body failed", "body_id", rc.ChamberID, "error", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode roll call: %w", err)
	}
	return data, nil
}

func (s *Service) resolveVotes(ctx context.Context, votes []legiscan.Vote) ([]store.RollCallVote, error) {
	resolved := make([]store.RollCallVote, 0, len(votes))
	seen := make(map[int64]json.RawMessage)
	for _, vote := range votes {
		person, ok := seen[vote.PeopleID]
		if !ok {
			var err error
			person, err = s.resolvePerson(ctx, fmt.Sprint(vote.PeopleID))
			if err != nil {
				return nil, err
			}
			seen[vote.PeopleID] = person
		}
		resolved = append(resolved, store.RollCallVote{
			PeopleID:    vote.PeopleID,
			VoteID:      vote.VoteID,
			VoteText:    vote.VoteText,
			RepName:     gjson.GetBytes(person, "name").String(),
			RepPartyID:  gjson.GetBytes(person, "party_id").String(),
			RepDistrict: gjson.GetBytes(person, "district").String(),
			RepRoleType: gjson.GetBytes(person, "role_id").String(),
		})
	}
	return resolved, nil
}

// resolvePerson looks a voter up in the store, then the cache, then
// upstream. Records fetched upstream are persisted and cached.
func (s *Service) resolvePerson(ctx context.Context, peopleID string) (json.RawMessage, error) {
	person, err := s.store.GetPerson(ctx, peopleID)
	if err == nil {
		return person.Data, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storeError("load person", err)
	}

	if s.cache != nil {
		data, err := s.cache.GetPerson(ctx, peopleID)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.WarnContext(ctx, "person cache lookup failed", "people_id", peopleID, "error", err)
		}
	}

	slog.DebugContext(ctx, "person missing, fetching upstream", "people_id", peopleID)
	fetched, err := s.upstream.GetPerson(ctx, peopleID)
	if err != nil {
		return nil, upstreamError("person", err)
	}
	if err := s.store.InsertPersonIfAbsent(ctx, store.Person{PeopleID: peopleID, Data: fetched.Raw}); err != nil {
		return nil, storeError("store person", err)
	}
	if s.cache != nil {
		if err := s.cache.PutPerson(ctx, peopleID, fetched.Raw); err != nil {
			slog.WarnContext(ctx, "cache person failed", "people_id", peopleID, "error", err)
		}
	}
	return fetched.Raw, nil
}

// GetBill returns the upstream bill as-is with an added "id" field equal to
// its bill_id.
func (s *Service) GetBill(ctx context.Context, billID string) (map[string]json.RawMessage, error) {
	billID = strings.TrimSpace(billID)
	if !idPattern.MatchString(billID) {
		return nil, validationError("bill id must be numeric")
	}
	bill, err := s.upstream.GetBill(ctx, billID)
	if err != nil {
		return nil, upstreamError("bill", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bill.Raw, &fields); err != nil {
		return nil, domainError(http.StatusBadGateway, "UPSTREAM_FAILED", "unexpected bill payload", nil)
	}
	if id, ok := fields["bill_id"]; ok {
		fields["id"] = id
	}
	return fields, nil
}

// SearchItem is one upstream search hit in the shape served to clients.
type SearchItem struct {
	ID             int64  `json:"id"`
	Relevance      int    `json:"relevance"`
	StateAbbr      string `json:"state_abbr"`
	BillNumber     string `json:"bill_number"`
	Title          string `json:"title"`
	ChangeHash     string `json:"change_hash"`
	URL            string `json:"url"`
	TextURL        string `json:"text_url"`
	LastActionDate string `json:"last_action_date"`
	LastAction     string `json:"last_action"`
}

// SearchBills runs an upstream search. filter is a JSON object with
// optional q, state and year members.
func (s *Service) SearchBills(ctx context.Context, filter string, page int) ([]SearchItem, int, error) {
	params := legiscan.SearchParams{Page: page}
	if strings.TrimSpace(filter) != "" {
		if !gjson.Valid(filter) || !gjson.Parse(filter).IsObject() {
			return nil, 0, validationError("filter must be a JSON object")
		}
		parsed := gjson.Parse(filter)
		params.Query = parsed.Get("q").String()
		params.State = parsed.Get("state").String()
		params.Year = int(parsed.Get("year").Int())
	}

	result, err := s.upstream.Search(ctx, params)
	if err != nil {
		return nil, 0, upstreamError("search results", err)
	}

	items := make([]SearchItem, 0, len(result.Hits))
	for _, hit := range result.Hits {
		items = append(items, SearchItem{
			ID:             hit.BillID,
			Relevance:      hit.Relevance,
			StateAbbr:      hit.State,
			BillNumber:     hit.BillNumber,
			Title:          hit.Title,
			ChangeHash:     hit.ChangeHash,
			URL:            hit.URL,
			TextURL:        hit.TextURL,
			LastActionDate: hit.LastActionDate,
			LastAction:     hit.LastAction,
		})
	}
	return items, result.Summary.Count, nil
}

func (s *Service) Feed(ctx context.Context, billID string) ([]store.FeedEntry, error) {
	if !idPattern.MatchString(billID) {
		return nil, validationError("bill id must be numeric")
	}
	entries, err := s.store.ListFeed(ctx, billID)
	if err != nil {
		return nil, storeError("list feed", err)
	}
	return entries, nil
}

func (s *Service) FeedByDate(ctx context.Context, date string) ([]store.FeedEntry, error) {
	if !datePattern.MatchString(date) {
		return nil, validationError("date must be YYYY-MM-DD")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, validationError("date must be YYYY-MM-DD")
	}
	entries, err := s.store.ListFeedByDate(ctx, date)
	if err != nil {
		return nil, storeError("list feed", err)
	}
	return entries, nil
}

func (s *Service) SearchFeed(ctx context.Context, q search.Query) (search.Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{}, validationError("q is required")
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "search is not configured", nil)
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) BillHistory(ctx context.Context, billID string, limit int) ([]archive.Commit, error) {
	if !idPattern.MatchString(billID) {
		return nil, validationError("bill id must be numeric")
	}
	if s.archive == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "snapshot archive is not configured", nil)
	}
	commits, err := s.archive.History(billID, limit)
	if err != nil {
		if !errors.Is(err, archive.ErrNoHistory) {
			slog.ErrorContext(ctx, "read bill history failed", "bill_id", billID, "error", err)
		}
		return nil, err
	}
	return commits, nil
}

// BillSnapshot returns the archived snapshot at a commit hash or change hash.
func (s *Service) BillSnapshot(ctx context.Context, billID, revision string) (json.RawMessage, error) {
	if !idPattern.MatchString(billID) {
		return nil, validationError("bill id must be numeric")
	}
	if s.archive == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "snapshot archive is not configured", nil)
	}
	snapshot, err := s.archive.SnapshotAt(billID, strings.TrimSpace(revision))
	if err != nil {
		if !errors.Is(err, archive.ErrNoHistory) && !errors.Is(err, archive.ErrUnknownRevision) {
			slog.ErrorContext(ctx, "read bill snapshot failed", "bill_id", billID, "revision", revision, "error", err)
		}
		return nil, err
	}
	return snapshot, nil
}

// RawPayload returns the upstream response archived for a change hash.
func (s *Service) RawPayload(ctx context.Context, billID, changeHash string) (json.RawMessage, error) {
	if !idPattern.MatchString(billID) {
		return nil, validationError("bill id must be numeric")
	}
	if s.payloads == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "payload archive is not configured", nil)
	}
	payload, err := s.payloads.GetBill(ctx, billID, changeHash)
	if err != nil {
		if !errors.Is(err, archive.ErrNoPayload) {
			slog.ErrorContext(ctx, "read raw payload failed", "bill_id", billID, "change_hash", changeHash, "error", err)
		}
		return nil, err
	}
	return payload, nil
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports whether the cache is reachable. It returns nil when no
// cache is configured.
func (s *Service) PingCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

func (s *Service) CacheConfigured() bool {
	return s.cache != nil
}

func toFeedEntries(timeline []feed.Entry) []store.FeedEntry {
	entries := make([]store.FeedEntry, 0, len(timeline))
	for _, entry := range timeline {
		entries = append(entries, store.FeedEntry{
			ID:          entry.ID,
			BillID:      entry.BillID,
			EventIndex:  entry.EventIndex,
			EventType:   string(entry.Type),
			TypeIndex:   entry.TypeIndex,
			Title:       entry.Title,
			Description: entry.Description,
			Chamber:     entry.Chamber,
			Date:        entry.Date,
			Datetime:    entry.Datetime,
			Time:        entry.Time,
			Data:        entry.Data,
			ParentID:    entry.ParentID,
		})
	}
	return entries
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
