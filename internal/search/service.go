package search

import (
	"context"
	"log/slog"
	"sync"
)

// Index is a search engine that can also be written to.
type Index interface {
	Searcher
	Indexer
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	index    Index
	fallback Searcher
	pending  sync.WaitGroup
	// async is false in tests so writes can be observed synchronously.
	async bool
}

// NewService creates a search service. index may be nil if Meilisearch is
// not configured.
func NewService(index Index, fallback Searcher) *Service {
	if m, ok := index.(*Meili); ok && m == nil {
		index = nil
	}
	return &Service{index: index, fallback: fallback, async: true}
}

// Search tries the index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		slog.WarnContext(ctx, "search: meilisearch error, falling back to pgfts", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		slog.ErrorContext(ctx, "search: pgfts error", "error", err)
		return Response{Results: []Result{}, Query: q.Text, Engine: "pgfts"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "pgfts"}
}

// IndexBill pushes a bill and its new events to the index (fire-and-forget).
func (s *Service) IndexBill(bill BillRecord, events []EventRecord) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	write := func() {
		if err := s.index.IndexBill(bill); err != nil {
			slog.Warn("search: index bill", "bill_id", bill.ID, "error", err)
		}
		if err := s.index.IndexEvents(events); err != nil {
			slog.Warn("search: index events", "bill_id", bill.ID, "count", len(events), "error", err)
		}
	}
	if s.async {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			write()
		}()
		return
	}
	write()
}

// Wait blocks until every index write started by IndexBill has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAllFromPG pushes every stored bill and event into the index.
func (s *Service) ReindexAllFromPG(ctx context.Context, pg *PgFTS) {
	if s.index == nil || !s.index.Healthy() || pg == nil {
		return
	}
	events, bills, err := pg.LoadAllRecords(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "search: reindex load failed", "error", err)
		return
	}
	for _, bill := range bills {
		if err := s.index.IndexBill(bill); err != nil {
			slog.WarnContext(ctx, "search: reindex bill", "bill_id", bill.ID, "error", err)
		}
	}
	if err := s.index.IndexEvents(events); err != nil {
		slog.WarnContext(ctx, "search: reindex events", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
