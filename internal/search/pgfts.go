package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over feed events and bills ranked with ts_rank.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultEvent {
		where := "f.fts @@ " + tsQuery
		if q.FilterBillID != "" {
			where += fmt.Sprintf(" AND f.bill_id = $%d", argN)
			args = append(args, q.FilterBillID)
			argN++
		}
		if q.FilterEventType != "" {
			where += fmt.Sprintf(" AND f.event_type = $%d", argN)
			args = append(args, q.FilterEventType)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'event'::text AS type, f.id, f.bill_id, f.event_type,
				coalesce(f.title, '') AS title,
				ts_headline('english', coalesce(f.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				f.date,
				ts_rank(f.fts, %s) AS rank
			FROM bill_feed f
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultBill {
		where := "b.fts @@ " + tsQuery
		if q.FilterBillID != "" {
			where += fmt.Sprintf(" AND b.bill_id = $%d", argN)
			args = append(args, q.FilterBillID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'bill'::text AS type, b.bill_id AS id, b.bill_id, ''::text AS event_type,
				coalesce(b.snapshot->>'title', b.snapshot->>'bill_number', '') AS title,
				ts_headline('english', coalesce(b.snapshot->>'description', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.last_action_date AS date,
				ts_rank(b.fts, %s) AS rank
			FROM bills b
			WHERE %s`, tsQuery, tsQuery, where))
	}

	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, bill_id, event_type, title, snippet, date
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.BillID, &r.EventType, &r.Title, &r.Snippet, &r.Date); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]EventRecord, []BillRecord, error) {
	eventRows, err := p.db.QueryContext(ctx, `
		SELECT id, bill_id, event_type, coalesce(title, ''), coalesce(description, ''),
			coalesce(chamber, ''), date
		FROM bill_feed
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	defer eventRows.Close()

	events := make([]EventRecord, 0)
	for eventRows.Next() {
		var e EventRecord
		if err := eventRows.Scan(&e.ID, &e.BillID, &e.EventType, &e.Title, &e.Description, &e.Chamber, &e.Date); err != nil {
			return nil, nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := eventRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate events: %w", err)
	}

	billRows, err := p.db.QueryContext(ctx, `
		SELECT bill_id, coalesce(snapshot->>'bill_number', ''), coalesce(snapshot->>'title', ''),
			coalesce(snapshot->>'description', ''), coalesce(snapshot->>'state', ''),
			last_action, last_action_date
		FROM bills
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load bills: %w", err)
	}
	defer billRows.Close()

	bills := make([]BillRecord, 0)
	for billRows.Next() {
		var b BillRecord
		if err := billRows.Scan(&b.ID, &b.BillNumber, &b.Title, &b.Description, &b.State, &b.LastAction, &b.LastActionDate); err != nil {
			return nil, nil, fmt.Errorf("scan bill: %w", err)
		}
		bills = append(bills, b)
	}
	if err := billRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate bills: %w", err)
	}

	return events, bills, nil
}
