package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetBill(ctx context.Context, billID string) (BillRecord, error) {
	var (
		item      BillRecord
		feedDates  []byte
		projects   []byte
		typeCounts []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT bill_id, change_hash, snapshot, last_action_date, last_action,
			feed_dates, projects, type_counts, created_on, updated_on
		FROM bills
		WHERE bill_id=$1
	`, billID).Scan(
		&item.BillID, &item.ChangeHash, &item.Snapshot, &item.LastActionDate, &item.LastAction,
		&feedDates, &projects, &typeCounts, &item.CreatedOn, &item.UpdatedOn,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return BillRecord{}, ErrNotFound
	}
	if err != nil {
		return BillRecord{}, fmt.Errorf("get bill: %w", err)
	}
	if err := decodeStrings(feedDates, &item.FeedDates); err != nil {
		return BillRecord{}, fmt.Errorf("decode feed dates: %w", err)
	}
	if err := decodeStrings(projects, &item.Projects); err != nil {
		return BillRecord{}, fmt.Errorf("decode projects: %w", err)
	}
	if len(typeCounts) > 0 {
		if err := json.Unmarshal(typeCounts, &item.TypeCounts); err != nil {
			return BillRecord{}, fmt.Errorf("decode type counts: %w", err)
		}
	}
	return item, nil
}

// SaveBill upserts the bill row and its new feed entries in one transaction.
// Projects are only written on insert so later saves keep whatever was
// attached to the bill in the meantime.
func (s *PostgresStore) SaveBill(ctx context.Context, bill BillRecord, entries []FeedEntry) error {
	feedDates, err := encodeStrings(bill.FeedDates)
	if err != nil {
		return fmt.Errorf("encode feed dates: %w", err)
	}
	projects, err := encodeStrings(bill.Projects)
	if err != nil {
		return fmt.Errorf("encode projects: %w", err)
	}
	typeCounts := []byte("{}")
	if len(bill.TypeCounts) > 0 {
		if typeCounts, err = json.Marshal(bill.TypeCounts); err != nil {
			return fmt.Errorf("encode type counts: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save bill tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bills (bill_id, change_hash, snapshot, last_action_date, last_action,
			feed_dates, projects, type_counts, created_on, updated_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (bill_id) DO UPDATE SET
			change_hash=EXCLUDED.change_hash,
			snapshot=EXCLUDED.snapshot,
			last_action_date=EXCLUDED.last_action_date,
			last_action=EXCLUDED.last_action,
			feed_dates=EXCLUDED.feed_dates,
			type_counts=EXCLUDED.type_counts,
			updated_on=EXCLUDED.updated_on
	`, bill.BillID, bill.ChangeHash, []byte(bill.Snapshot), bill.LastActionDate, bill.LastAction,
		feedDates, projects, typeCounts, bill.CreatedOn, bill.UpdatedOn); err != nil {
		return fmt.Errorf("upsert bill: %w", err)
	}

	for _, entry := range entries {
		data := entry.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bill_feed (id, bill_id, event_index, event_type, type_index,
				title, description, chamber, date, datetime, time, data, parent_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO UPDATE SET
				event_index=EXCLUDED.event_index,
				title=EXCLUDED.title,
				description=EXCLUDED.description,
				chamber=EXCLUDED.chamber,
				date=EXCLUDED.date,
				datetime=EXCLUDED.datetime,
				data=EXCLUDED.data
		`, entry.ID, entry.BillID, entry.EventIndex, entry.EventType, entry.TypeIndex,
			entry.Title, entry.Description, entry.Chamber, entry.Date, entry.Datetime,
			entry.Time, []byte(data), entry.ParentID); err != nil {
			return fmt.Errorf("upsert feed entry %s: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save bill tx: %w", err)
	}
	return nil
}

const feedColumns = `id, bill_id, event_index, event_type, type_index, title, description,
	chamber, date, datetime, time, data, parent_id`

func (s *PostgresStore) ListFeed(ctx context.Context, billID string) ([]FeedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+feedColumns+`
		FROM bill_feed
		WHERE bill_id=$1
		ORDER BY datetime IS NULL, datetime, id
	`, billID)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	return scanFeed(rows)
}

func (s *PostgresStore) ListFeedByDate(ctx context.Context, date string) ([]FeedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+feedColumns+`
		FROM bill_feed
		WHERE date=$1
		ORDER BY bill_id, event_index, id
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list feed by date: %w", err)
	}
	return scanFeed(rows)
}

func scanFeed(rows *sql.Rows) ([]FeedEntry, error) {
	defer rows.Close()

	items := make([]FeedEntry, 0)
	for rows.Next() {
		var (
			item     FeedEntry
			datetime sql.NullTime
			data     []byte
		)
		if err := rows.Scan(&item.ID, &item.BillID, &item.EventIndex, &item.EventType, &item.TypeIndex,
			&item.Title, &item.Description, &item.Chamber, &item.Date, &datetime, &item.Time,
			&data, &item.ParentID); err != nil {
			return nil, fmt.Errorf("scan feed entry: %w", err)
		}
		if datetime.Valid {
			t := datetime.Time
			item.Datetime = &t
		}
		item.Data = json.RawMessage(data)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, peopleID string) (Person, error) {
	var item Person
	err := s.db.QueryRowContext(ctx, `SELECT people_id, data FROM people WHERE people_id=$1`, peopleID).Scan(&item.PeopleID, &item.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, fmt.Errorf("get person: %w", err)
	}
	return item, nil
}

// InsertPersonIfAbsent never overwrites a stored person.
func (s *PostgresStore) InsertPersonIfAbsent(ctx context.Context, person Person) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO people (people_id, data)
		VALUES ($1, $2)
		ON CONFLICT (people_id) DO NOTHING
	`, person.PeopleID, []byte(person.Data))
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBody(ctx context.Context, bodyID string) (Body, error) {
	var item Body
	err := s.db.QueryRowContext(ctx, `SELECT body_id, data FROM bodies WHERE body_id=$1`, bodyID).Scan(&item.BodyID, &item.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Body{}, ErrNotFound
	}
	if err != nil {
		return Body{}, fmt.Errorf("get body: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetRollCall(ctx context.Context, rollCallID string) (RollCall, error) {
	var (
		item  RollCall
		votes []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT roll_call_id, bill_id, data, votes, created_at, updated_at
		FROM roll_calls
		WHERE roll_call_id=$1
	`, rollCallID).Scan(&item.RollCallID, &item.BillID, &item.Data, &votes, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RollCall{}, ErrNotFound
	}
	if err != nil {
		return RollCall{}, fmt.Errorf("get roll call: %w", err)
	}
	if len(votes) > 0 {
		if err := json.Unmarshal(votes, &item.Votes); err != nil {
			return RollCall{}, fmt.Errorf("decode votes: %w", err)
		}
	}
	return item, nil
}

// InsertRollCall reports whether a new row was written. An existing roll
// call is left untouched.
func (s *PostgresStore) InsertRollCall(ctx context.Context, rollCall RollCall) (bool, error) {
	votes, err := json.Marshal(nonNilVotes(rollCall.Votes))
	if err != nil {
		return false, fmt.Errorf("encode votes: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO roll_calls (roll_call_id, bill_id, data, votes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (roll_call_id) DO NOTHING
	`, rollCall.RollCallID, rollCall.BillID, []byte(rollCall.Data), votes)
	if err != nil {
		return false, fmt.Errorf("insert roll call: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert roll call rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateRollCallVotes(ctx context.Context, rollCallID string, votes []RollCallVote) error {
	encoded, err := json.Marshal(nonNilVotes(votes))
	if err != nil {
		return fmt.Errorf("encode votes: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE roll_calls SET votes=$2, updated_at=NOW()
		WHERE roll_call_id=$1
	`, rollCallID, encoded)
	if err != nil {
		return fmt.Errorf("update roll call votes: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update roll call votes rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func nonNilVotes(votes []RollCallVote) []RollCallVote {
	if votes == nil {
		return []RollCallVote{}
	}
	return votes
}

func encodeStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func decodeStrings(raw []byte, dst *[]string) error {
	*dst = []string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
