package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"billfeed/api/internal/archive"
	"billfeed/api/internal/cache"
	"billfeed/api/internal/config"
	"billfeed/api/internal/feed"
	"billfeed/api/internal/legiscan"
	"billfeed/api/internal/search"
	"billfeed/api/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	bills     map[string]store.BillRecord
	feed      map[string]store.FeedEntry
	people    map[string]json.RawMessage
	bodies    map[string]json.RawMessage
	rollCalls map[string]store.RollCall
	saves     int

	saveBillFn func(context.Context, store.BillRecord, []store.FeedEntry) error
	pingFn     func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bills:     map[string]store.BillRecord{},
		feed:      map[string]store.FeedEntry{},
		people:    map[string]json.RawMessage{},
		bodies:    map[string]json.RawMessage{},
		rollCalls: map[string]store.RollCall{},
	}
}

func (f *fakeStore) GetBill(_ context.Context, billID string) (store.BillRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bill, ok := f.bills[billID]
	if !ok {
		return store.BillRecord{}, store.ErrNotFound
	}
	return bill, nil
}

func (f *fakeStore) SaveBill(ctx context.Context, bill store.BillRecord, entries []store.FeedEntry) error {
	if f.saveBillFn != nil {
		return f.saveBillFn(ctx, bill, entries)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.bills[bill.BillID] = bill
	for _, entry := range entries {
		f.feed[entry.ID] = entry
	}
	return nil
}

func (f *fakeStore) ListFeed(_ context.Context, billID string) ([]store.FeedEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.FeedEntry, 0)
	for _, entry := range f.feed {
		if entry.BillID == billID {
			items = append(items, entry)
		}
	}
	return items, nil
}

func (f *fakeStore) ListFeedByDate(_ context.Context, date string) ([]store.FeedEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.FeedEntry, 0)
	for _, entry := range f.feed {
		if entry.Date == date {
			items = append(items, entry)
		}
	}
	return items, nil
}

func (f *fakeStore) GetPerson(_ context.Context, peopleID string) (store.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.people[peopleID]
	if !ok {
		return store.Person{}, store.ErrNotFound
	}
	return store.Person{PeopleID: peopleID, Data: data}, nil
}

func (f *fakeStore) InsertPersonIfAbsent(_ context.Context, person store.Person) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.people[person.PeopleID]; !ok {
		f.people[person.PeopleID] = person.Data
	}
	return nil
}

func (f *fakeStore) GetBody(_ context.Context, bodyID string) (store.Body, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.bodies[bodyID]
	if !ok {
		return store.Body{}, store.ErrNotFound
	}
	return store.Body{BodyID: bodyID, Data: data}, nil
}

func (f *fakeStore) GetRollCall(_ context.Context, rollCallID string) (store.RollCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rc, ok := f.rollCalls[rollCallID]
	if !ok {
		return store.RollCall{}, store.ErrNotFound
	}
	return rc, nil
}

func (f *fakeStore) InsertRollCall(_ context.Context, rc store.RollCall) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rollCalls[rc.RollCallID]; ok {
		return false, nil
	}
	f.rollCalls[rc.RollCallID] = rc
	return true, nil
}

func (f *fakeStore) UpdateRollCallVotes(_ context.Context, rollCallID string, votes []store.RollCallVote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rc, ok := f.rollCalls[rollCallID]
	if !ok {
		return store.ErrNotFound
	}
	rc.Votes = votes
	f.rollCalls[rollCallID] = rc
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeUpstream struct {
	mu          sync.Mutex
	bills       map[string]string
	rollCalls   map[string]legiscan.RollCall
	people      map[string]string
	personCalls int
	searchFn    func(legiscan.SearchParams) (legiscan.SearchResult, error)
}

func (f *fakeUpstream) GetBill(_ context.Context, billID string) (legiscan.Bill, error) {
	raw, ok := f.bills[billID]
	if !ok {
		return legiscan.Bill{}, legiscan.ErrNotFound
	}
	var snapshot feed.Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return legiscan.Bill{}, err
	}
	return legiscan.Bill{Snapshot: snapshot, Raw: json.RawMessage(raw)}, nil
}

func (f *fakeUpstream) GetRollCall(_ context.Context, rollCallID string) (legiscan.RollCall, error) {
	rc, ok := f.rollCalls[rollCallID]
	if !ok {
		return legiscan.RollCall{}, legiscan.ErrNotFound
	}
	return rc, nil
}

func (f *fakeUpstream) GetPerson(_ context.Context, peopleID string) (legiscan.Person, error) {
	f.mu.Lock()
	f.personCalls++
	f.mu.Unlock()
	raw, ok := f.people[peopleID]
	if !ok {
		return legiscan.Person{}, legiscan.ErrNotFound
	}
	var person legiscan.Person
	if err := json.Unmarshal([]byte(raw), &person); err != nil {
		return legiscan.Person{}, err
	}
	person.Raw = json.RawMessage(raw)
	return person, nil
}

func (f *fakeUpstream) Search(_ context.Context, params legiscan.SearchParams) (legiscan.SearchResult, error) {
	if f.searchFn != nil {
		return f.searchFn(params)
	}
	return legiscan.SearchResult{}, nil
}

type fakeCache struct {
	mu      sync.Mutex
	people  map[string]json.RawMessage
	lockErr error
	pingErr error
	locked  int
	freed   int
}

func (f *fakeCache) GetPerson(_ context.Context, peopleID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.people[peopleID]
	if !ok {
		return nil, cache.ErrMiss
	}
	return data, nil
}

func (f *fakeCache) PutPerson(_ context.Context, peopleID string, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.people == nil {
		f.people = map[string]json.RawMessage{}
	}
	f.people[peopleID] = data
	return nil
}

func (f *fakeCache) LockBill(context.Context, string) (func(context.Context) error, error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	f.locked++
	return func(context.Context) error {
		f.freed++
		return nil
	}, nil
}

func (f *fakeCache) Ping(context.Context) error { return f.pingErr }

type fakeArchive struct {
	commits   []string
	history   []archive.Commit
	snapshots map[string]json.RawMessage
	err       error
}

func (f *fakeArchive) Commit(billID, changeHash string, _ json.RawMessage, _ int) (archive.Commit, bool, error) {
	f.commits = append(f.commits, billID+"@"+changeHash)
	return archive.Commit{Hash: "abc1234", ChangeHash: changeHash}, true, nil
}

func (f *fakeArchive) History(string, int) ([]archive.Commit, error) {
	return f.history, f.err
}

func (f *fakeArchive) SnapshotAt(_ string, revision string) (json.RawMessage, error) {
	snapshot, ok := f.snapshots[revision]
	if !ok {
		return nil, archive.ErrUnknownRevision
	}
	return snapshot, nil
}

type fakePayloads struct {
	keys []string
	data map[string][]byte
}

func (f *fakePayloads) PutBill(_ context.Context, billID, changeHash string, _ []byte) (string, error) {
	key := archive.PayloadKey(billID, changeHash)
	f.keys = append(f.keys, key)
	return key, nil
}

func (f *fakePayloads) GetBill(_ context.Context, billID, changeHash string) ([]byte, error) {
	data, ok := f.data[archive.PayloadKey(billID, changeHash)]
	if !ok {
		return nil, archive.ErrNoPayload
	}
	return data, nil
}

type fakeSearch struct {
	bills  []search.BillRecord
	events []search.EventRecord
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{{Type: search.ResultEvent, ID: "1234_hi-0"}}, Total: 1, Query: q.Text}
}

func (f *fakeSearch) IndexBill(bill search.BillRecord, events []search.EventRecord) {
	f.bills = append(f.bills, bill)
	f.events = append(f.events, events...)
}

type testEnv struct {
	svc      *Service
	store    *fakeStore
	upstream *fakeUpstream
	cache    *fakeCache
	archive  *fakeArchive
	payloads *fakePayloads
	search   *fakeSearch
}

func newTestEnv(cfg config.Config) *testEnv {
	env := &testEnv{
		store: newFakeStore(),
		upstream: &fakeUpstream{
			bills:     map[string]string{},
			rollCalls: map[string]legiscan.RollCall{},
			people:    map[string]string{},
		},
		cache:    &fakeCache{},
		archive:  &fakeArchive{},
		payloads: &fakePayloads{},
		search:   &fakeSearch{},
	}
	if cfg.FeedOffset == 0 {
		cfg.FeedOffset = feed.ReferenceOffset
	}
	cfg.RollCallConcurrency = 2
	env.svc = NewService(cfg, Dependencies{
		Store:    env.store,
		Upstream: env.upstream,
		Cache:    env.cache,
		Archive:  env.archive,
		Payloads: env.payloads,
		Search:   env.search,
	})
	env.svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return env
}

const newBillJSON = `{
	"bill_id": 1234,
	"change_hash": "h1",
	"bill_number": "HB1001",
	"title": "Water rights",
	"state": "OK",
	"history": [
		{"date": "2024-01-02", "action": "Introduced", "chamber": "H"},
		{"date": "2024-01-05", "action": "Referred", "chamber": "H"}
	],
	"votes": [
		{"roll_call_id": 77, "date": "2024-01-05", "desc": "Third Reading", "yea": 60, "nay": 30, "nv": 2, "passed": 1, "chamber": "H"}
	]
}`

func withRollCall77(env *testEnv) {
	env.upstream.rollCalls["77"] = legiscan.RollCall{
		RollCallID: 77, BillID: 1234, Date: "2024-01-05", Desc: "Third Reading",
		Yea: 60, Nay: 30, NV: 2, Passed: 1, Chamber: "H", ChamberID: 12,
		Votes: []legiscan.Vote{{PeopleID: 5, VoteID: 1, VoteText: "Yea"}, {PeopleID: 5, VoteID: 1, VoteText: "Yea"}},
	}
	env.upstream.people["5"] = `{"people_id":5,"name":"Pat Doe","party_id":"2","district":"HD-042","role_id":1}`
}

func TestSaveBillCreatesNewBill(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.upstream.bills["1234"] = newBillJSON
	withRollCall77(env)

	result, err := env.svc.SaveBill(context.Background(), "1234")
	if err != nil {
		t.Fatalf("SaveBill() error = %v", err)
	}
	if result.Status != "created" || result.Response != ResponseBillCreated {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Events != 3 {
		t.Fatalf("expected 3 events, got %d", result.Events)
	}
	if len(result.FeedDates) != 2 || result.FeedDates[0] != "2024-01-02" || result.FeedDates[1] != "2024-01-05" {
		t.Fatalf("unexpected feed dates: %v", result.FeedDates)
	}
	if result.LastActionDate != "2024-01-05" || result.LastAction != "Referred" {
		t.Fatalf("unexpected last action: %s %s", result.LastActionDate, result.LastAction)
	}

	saved := env.store.bills["1234"]
	if saved.Projects == nil || len(saved.Projects) != 0 {
		t.Fatalf("expected empty projects on create, got %v", saved.Projects)
	}
	if !saved.CreatedOn.Equal(saved.UpdatedOn) {
		t.Fatalf("expected createdOn == updatedOn on create")
	}
	for _, id := range []string{"1234_hi-0", "1234_hi-1", "1234_vo-0"} {
		if _, ok := env.store.feed[id]; !ok {
			t.Fatalf("expected feed entry %s, have %v", id, env.store.feed)
		}
	}
	vote := env.store.feed["1234_vo-0"]
	if vote.Title == nil || *vote.Title != "Third Reading (Passed)" {
		t.Fatalf("unexpected vote title: %v", vote.Title)
	}

	if len(result.RollCalls) != 1 || result.RollCalls[0].Response != ResponseRollCallCreated {
		t.Fatalf("unexpected roll call results: %+v", result.RollCalls)
	}
	rc := env.store.rollCalls["77"]
	if len(rc.Votes) != 2 || rc.Votes[0].RepName != "Pat Doe" || rc.Votes[0].RepPartyID != "2" || rc.Votes[0].RepRoleType != "1" {
		t.Fatalf("unexpected resolved votes: %+v", rc.Votes)
	}
	if env.upstream.personCalls != 1 {
		t.Fatalf("expected one upstream person lookup, got %d", env.upstream.personCalls)
	}
	if _, ok := env.store.people["5"]; !ok {
		t.Fatal("expected person to be persisted")
	}
	if _, ok := env.cache.people["5"]; !ok {
		t.Fatal("expected person to be cached")
	}

	if len(env.archive.commits) != 1 || env.archive.commits[0] != "1234@h1" {
		t.Fatalf("unexpected archive commits: %v", env.archive.commits)
	}
	if len(env.payloads.keys) != 1 || env.payloads.keys[0] != "legiscan/bill/1234/h1.json" {
		t.Fatalf("unexpected payload keys: %v", env.payloads.keys)
	}
	if len(env.search.bills) != 1 || env.search.bills[0].BillNumber != "HB1001" || len(env.search.events) != 3 {
		t.Fatalf("unexpected search writes: %+v", env.search)
	}
	if env.cache.locked != 1 || env.cache.freed != 1 {
		t.Fatalf("expected lock to be taken and released, got %d/%d", env.cache.locked, env.cache.freed)
	}
}

func TestSaveBillUnchangedHash(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.upstream.bills["1234"] = `{"bill_id":1234,"change_hash":"h1","history":[]}`
	env.store.bills["1234"] = store.BillRecord{
		BillID:     "1234",
		ChangeHash: "h1",
		Snapshot:   json.RawMessage(`{"bill_id":1234,"change_hash":"h1","history":[]}`),
		FeedDates:  []string{"2024-01-02"},
	}

	result, err := env.svc.SaveBill(context.Background(), "1234")
	if err != nil {
		t.Fatalf("SaveBill() error = %v", err)
	}
	if result.Status != "unchanged" || result.Response != ResponseBillUnchanged {
		t.Fatalf("unexpected result: %+v", result)
	}
	if env.store.saves != 0 || len(env.archive.commits) != 0 {
		t.Fatalf("unchanged bill must not be written")
	}
}

func TestSaveBillAppendsOnlyNewEvents(t *testing.T) {
	env := newTestEnv(config.Config{})
	created := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	env.store.bills["1234"] = store.BillRecord{
		BillID:     "1234",
		ChangeHash: "h1",
		Snapshot: json.RawMessage(`{"bill_id":1234,"change_hash":"h1","history":[
			{"date":"2024-01-02","action":"Introduced","chamber":"H"},
			{"date":"2024-01-05","action":"Referred","chamber":"H"}]}`),
		FeedDates: []string{"2024-01-05", "2024-01-02"},
		Projects:  []string{"water"},
		CreatedOn: created,
	}
	env.upstream.bills["1234"] = `{"bill_id":1234,"change_hash":"h2","votes":[],"history":[
		{"date":"2024-01-02","action":"Introduced","chamber":"H"},
		{"date":"2024-01-05","action":"Referred","chamber":"H"},
		{"date":"2024-02-01","action":"Passed","chamber":"S"}]}`

	result, err := env.svc.SaveBill(context.Background(), "1234")
	if err != nil {
		t.Fatalf("SaveBill() error = %v", err)
	}
	if result.Status != "updated" || result.Response != ResponseBillUpdated || result.Events != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	entry, ok := env.store.feed["1234_hi-2"]
	if !ok || entry.TypeIndex != 2 {
		t.Fatalf("expected entry 1234_hi-2 with typeIndex 2, have %v", env.store.feed)
	}

	saved := env.store.bills["1234"]
	want := []string{"2024-01-05", "2024-01-02", "2024-02-01"}
	if len(saved.FeedDates) != len(want) {
		t.Fatalf("feed dates = %v, want %v", saved.FeedDates, want)
	}
	for i := range want {
		if saved.FeedDates[i] != want[i] {
			t.Fatalf("feed dates = %v, want %v", saved.FeedDates, want)
		}
	}
	if !saved.CreatedOn.Equal(created) || len(saved.Projects) != 1 {
		t.Fatalf("update must keep createdOn and projects: %+v", saved)
	}
	if saved.LastAction != "Passed" {
		t.Fatalf("unexpected last action %q", saved.LastAction)
	}
}

const rewrittenPrev = `{"bill_id":1234,"change_hash":"h1","history":[
	{"date":"2024-01-02","action":"Introduced","chamber":"H"},
	{"date":"2024-01-05","action":"Referred","chamber":"H"}]}`

const rewrittenNext = `{"bill_id":1234,"change_hash":"h2","history":[
	{"date":"2024-01-02","action":"Introduced in House","chamber":"H"},
	{"date":"2024-01-05","action":"Referred","chamber":"H"}]}`

func TestSaveBillStrictModeRejectsRewrites(t *testing.T) {
	env := newTestEnv(config.Config{StrictAppendOnly: true})
	env.store.bills["1234"] = store.BillRecord{BillID: "1234", ChangeHash: "h1", Snapshot: json.RawMessage(rewrittenPrev)}
	env.upstream.bills["1234"] = rewrittenNext

	_, err := env.svc.SaveBill(context.Background(), "1234")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "SEQUENCE_REWRITTEN" || domainErr.Status != http.StatusConflict {
		t.Fatalf("expected SEQUENCE_REWRITTEN, got %v", err)
	}
	if env.store.saves != 0 {
		t.Fatal("rejected save must not write")
	}
}

func TestSaveBillLenientModeReportsRewrites(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.store.bills["1234"] = store.BillRecord{BillID: "1234", ChangeHash: "h1", Snapshot: json.RawMessage(rewrittenPrev)}
	env.upstream.bills["1234"] = rewrittenNext

	result, err := env.svc.SaveBill(context.Background(), "1234")
	if err != nil {
		t.Fatalf("SaveBill() error = %v", err)
	}
	if len(result.Violations) != 1 || result.Violations[0].Kind != feed.KindHistory {
		t.Fatalf("expected one history violation, got %+v", result.Violations)
	}
	if result.Events != 1 {
		t.Fatalf("expected the rewritten record as one event, got %d", result.Events)
	}
}

func TestSaveBillAfterRewriteDoesNotReuseIDs(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.store.bills["1234"] = store.BillRecord{BillID: "1234", ChangeHash: "h1", Snapshot: json.RawMessage(rewrittenPrev)}
	env.upstream.bills["1234"] = rewrittenNext

	if _, err := env.svc.SaveBill(context.Background(), "1234"); err != nil {
		t.Fatalf("SaveBill() rewrite error = %v", err)
	}
	if got := env.store.bills["1234"].TypeCounts["history"]; got != 3 {
		t.Fatalf("expected 3 history indexes recorded, got %d", got)
	}
	rewritten, ok := env.store.feed["1234_hi-2"]
	if !ok || *rewritten.Title != "Introduced in House" {
		t.Fatalf("expected the rewritten record at 1234_hi-2, got %+v", rewritten)
	}

	env.upstream.bills["1234"] = `{"bill_id":1234,"change_hash":"h3","history":[
	{"date":"2024-01-02","action":"Introduced in House","chamber":"H"},
	{"date":"2024-01-05","action":"Referred","chamber":"H"},
	{"date":"2024-01-09","action":"Hearing","chamber":"H"}]}`

	result, err := env.svc.SaveBill(context.Background(), "1234")
	if err != nil {
		t.Fatalf("SaveBill() append error = %v", err)
	}
	if len(result.Violations) != 0 || result.Events != 1 {
		t.Fatalf("expected one appended event, got %+v", result)
	}
	if *env.store.feed["1234_hi-2"].Title != "Introduced in House" {
		t.Fatalf("1234_hi-2 was overwritten: %+v", env.store.feed["1234_hi-2"])
	}
	if appended, ok := env.store.feed["1234_hi-3"]; !ok || *appended.Title != "Hearing" {
		t.Fatalf("expected Hearing at 1234_hi-3, got %+v", appended)
	}
}

func TestSaveBillLockHeld(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.cache.lockErr = cache.ErrLockHeld
	env.upstream.bills["1234"] = newBillJSON

	_, err := env.svc.SaveBill(context.Background(), "1234")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "SAVE_IN_PROGRESS" {
		t.Fatalf("expected SAVE_IN_PROGRESS, got %v", err)
	}
}

func TestSaveBillLockUnavailableStillSaves(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.cache.lockErr = errors.New("redis down")
	env.upstream.bills["1234"] = `{"bill_id":1234,"change_hash":"h1","history":[]}`

	if _, err := env.svc.SaveBill(context.Background(), "1234"); err != nil {
		t.Fatalf("SaveBill() error = %v", err)
	}
	if env.store.saves != 1 {
		t.Fatalf("expected bill to be saved, got %d saves", env.store.saves)
	}
}

func TestSaveBillErrors(t *testing.T) {
	env := newTestEnv(config.Config{})

	_, err := env.svc.SaveBill(context.Background(), "abc")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}

	_, err = env.svc.SaveBill(context.Background(), "999")
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	env.upstream.bills["1234"] = `{"bill_id":1234,"change_hash":"h1","history":[]}`
	env.store.saveBillFn = func(context.Context, store.BillRecord, []store.FeedEntry) error {
		return errors.New("disk full")
	}
	_, err = env.svc.SaveBill(context.Background(), "1234")
	if !errors.As(err, &domainErr) || domainErr.Code != "STORE_FAILED" {
		t.Fatalf("expected STORE_FAILED, got %v", err)
	}
}

func TestSaveBillRollCallFailureDoesNotFailSave(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.upstream.bills["1234"] = newBillJSON

	result, err := env.svc.SaveBill(context.Background(), "1234")
	if err != nil {
		t.Fatalf("SaveBill() error = %v", err)
	}
	if len(result.RollCalls) != 1 || result.RollCalls[0].Error == "" {
		t.Fatalf("expected roll call error to be reported, got %+v", result.RollCalls)
	}
	if result.Status != "created" {
		t.Fatalf("expected bill to be created, got %q", result.Status)
	}
}

func TestSaveRollCallForceAndIdempotence(t *testing.T) {
	env := newTestEnv(config.Config{})
	withRollCall77(env)
	env.store.bodies["12"] = json.RawMessage(`{"name":"House"}`)
	ctx := context.Background()

	first, err := env.svc.SaveRollCall(ctx, "77", false)
	if err != nil || first.Response != ResponseRollCallCreated {
		t.Fatalf("first save: %+v %v", first, err)
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(env.store.rollCalls["77"].Data, &data); err != nil {
		t.Fatalf("decode stored roll call: %v", err)
	}
	if _, ok := data["votes"]; ok {
		t.Fatalf("votes must not be duplicated into data: %s", env.store.rollCalls["77"].Data)
	}
	if string(data["body"]) != `{"name":"House"}` {
		t.Fatalf("expected body attached, got %s", data["body"])
	}

	second, err := env.svc.SaveRollCall(ctx, "77", false)
	if err != nil || second.Response != ResponseRollCallUnchanged {
		t.Fatalf("second save: %+v %v", second, err)
	}

	forced, err := env.svc.SaveRollCall(ctx, "77", true)
	if err != nil || forced.Response != ResponseRollCallUpdated {
		t.Fatalf("forced save: %+v %v", forced, err)
	}
	if env.upstream.personCalls != 1 {
		t.Fatalf("stored person should be reused, got %d upstream lookups", env.upstream.personCalls)
	}
}

func TestResolvePersonUsesCache(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.cache.people = map[string]json.RawMessage{"5": json.RawMessage(`{"name":"Cached"}`)}

	data, err := env.svc.resolvePerson(context.Background(), "5")
	if err != nil {
		t.Fatalf("resolvePerson() error = %v", err)
	}
	if string(data) != `{"name":"Cached"}` || env.upstream.personCalls != 0 {
		t.Fatalf("expected cached person without upstream call, got %s (%d calls)", data, env.upstream.personCalls)
	}
}

func TestGetBillAddsID(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.upstream.bills["1234"] = `{"bill_id":1234,"change_hash":"h1"}`

	bill, err := env.svc.GetBill(context.Background(), "1234")
	if err != nil {
		t.Fatalf("GetBill() error = %v", err)
	}
	if string(bill["id"]) != "1234" || string(bill["bill_id"]) != "1234" {
		t.Fatalf("unexpected bill: %v", bill)
	}
}

func TestSearchBillsFilter(t *testing.T) {
	env := newTestEnv(config.Config{})
	var got legiscan.SearchParams
	env.upstream.searchFn = func(params legiscan.SearchParams) (legiscan.SearchResult, error) {
		got = params
		return legiscan.SearchResult{
			Summary: legiscan.SearchSummary{Count: 42},
			Hits:    []legiscan.SearchHit{{BillID: 1234, State: "OK", BillNumber: "HB1001"}},
		}, nil
	}

	items, total, err := env.svc.SearchBills(context.Background(), `{"q":"water","state":"TX","year":2}`, 3)
	if err != nil {
		t.Fatalf("SearchBills() error = %v", err)
	}
	if got.Query != "water" || got.State != "TX" || got.Year != 2 || got.Page != 3 {
		t.Fatalf("unexpected params: %+v", got)
	}
	if total != 42 || len(items) != 1 || items[0].ID != 1234 || items[0].StateAbbr != "OK" {
		t.Fatalf("unexpected items: %+v total=%d", items, total)
	}

	if _, _, err := env.svc.SearchBills(context.Background(), `not json`, 1); err == nil {
		t.Fatal("expected validation error for bad filter")
	}
}

func TestFeedByDateValidation(t *testing.T) {
	env := newTestEnv(config.Config{})
	for _, date := range []string{"", "2024-1-2", "2024-02-30"} {
		if _, err := env.svc.FeedByDate(context.Background(), date); err == nil {
			t.Errorf("expected validation error for %q", date)
		}
	}
}

func TestArchiveReadsRequireConfiguredArchive(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.svc.archive = nil
	env.svc.payloads = nil

	var domainErr *DomainError
	if _, err := env.svc.BillSnapshot(context.Background(), "1234", "h1"); !errors.As(err, &domainErr) || domainErr.Code != "ARCHIVE_UNAVAILABLE" {
		t.Fatalf("expected ARCHIVE_UNAVAILABLE for snapshots, got %v", err)
	}
	if _, err := env.svc.RawPayload(context.Background(), "1234", "h1"); !errors.As(err, &domainErr) || domainErr.Code != "ARCHIVE_UNAVAILABLE" {
		t.Fatalf("expected ARCHIVE_UNAVAILABLE for payloads, got %v", err)
	}
	if _, err := env.svc.BillSnapshot(context.Background(), "12x", "h1"); !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for a bad id, got %v", err)
	}
}
