package property

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	// Wait out writer contention instead of failing with SQLITE_BUSY.
	if _, err = db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS properties (
			id           TEXT PRIMARY KEY,
			address      TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'PENDING_SCRAPE',
			payload      TEXT,
			result       TEXT,
			error        TEXT NOT NULL DEFAULT '',
			note         TEXT NOT NULL DEFAULT '',
			claimed_by   TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL,
			claimed_at   DATETIME,
			visited_at   DATETIME,
			completed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_properties_status_created ON properties(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_properties_completed_at   ON properties(completed_at);
	`)
	return err
}

const propertyColumns = `id, address, status, payload, result, error, note,
       claimed_by, created_at, claimed_at, visited_at, completed_at`

func (s *SQLiteStore) Create(ctx context.Context, p *Property) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties
			(id, address, status, payload, result, error, note, claimed_by, created_at)
		VALUES
			(?, ?, ?, ?, NULL, '', '', '', ?)
	`,
		p.ID,
		p.Address,
		p.Status,
		nullableJSON(p.Payload),
		p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create property: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Property, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)

	p, err := scanProperty(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get property %s: %w", id, err)
	}
	return p, nil
}

// List returns properties ordered by created_at DESC with pagination, and the total count.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Property, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count properties: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+propertyColumns+`
		FROM properties
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var props []*Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan property: %w", err)
		}
		props = append(props, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate properties: %w", err)
	}

	return props, total, nil
}

// ClaimNext claims the oldest property in kind's entry status. The
// select-and-mark runs as one statement so concurrent claimants racing for
// the same row cannot both win: SQLite serialises writers, and the
// `AND status = ?` guard makes the update conditional on the row still being
// eligible when the write lands.
func (s *SQLiteStore) ClaimNext(ctx context.Context, kind Kind, workerID string) (*Property, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE properties
		SET status = ?, claimed_by = ?, claimed_at = ?
		WHERE id = (
			SELECT id FROM properties
			WHERE status = ?
			ORDER BY created_at, id
			LIMIT 1
		) AND status = ?
		RETURNING `+propertyColumns,
		kind.ActiveStatus(), workerID, now,
		kind.EntryStatus(), kind.EntryStatus(),
	)

	p, err := scanProperty(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next %s: %w", kind, err)
	}
	return p, nil
}

// Resolve ends a claim. The update is conditional on the property still being
// in an active status, which makes a second resolve of the same claim a no-op.
func (s *SQLiteStore) Resolve(ctx context.Context, id string, outcome Outcome) error {
	now := time.Now().UTC()

	var res sql.Result
	var err error
	switch outcome.Kind {
	case OutcomeComplete:
		res, err = s.db.ExecContext(ctx, `
			UPDATE properties
			SET status = CASE status WHEN ? THEN ? ELSE ? END,
			    result = ?,
			    completed_at = CASE status WHEN ? THEN ? ELSE completed_at END
			WHERE id = ? AND status IN (?, ?)
		`,
			StatusScraping, StatusReadyForField, StatusComplete,
			nullableJSON(outcome.Result),
			StatusSubmitting, now,
			id, StatusScraping, StatusSubmitting,
		)
	case OutcomeFail:
		res, err = s.db.ExecContext(ctx, `
			UPDATE properties
			SET status = ?, error = ?, completed_at = ?
			WHERE id = ? AND status IN (?, ?)
		`,
			StatusFailed, outcome.Reason, now,
			id, StatusScraping, StatusSubmitting,
		)
	case OutcomeRequeue:
		res, err = s.db.ExecContext(ctx, `
			UPDATE properties
			SET status = CASE status WHEN ? THEN ? ELSE ? END,
			    note = ?, claimed_by = '', claimed_at = NULL
			WHERE id = ? AND status IN (?, ?)
		`,
			StatusScraping, StatusPendingScrape, StatusVisited,
			outcome.Reason,
			id, StatusScraping, StatusSubmitting,
		)
	default:
		return fmt.Errorf("unknown outcome kind %q", outcome.Kind)
	}
	if err != nil {
		return fmt.Errorf("resolve property %s (%s): %w", id, outcome.Kind, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve property %s: rows affected: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	// Nothing updated: either the id is unknown or the claim was already
	// resolved. The latter is a no-op by contract.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM properties WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolve property %s: lookup: %w", id, err)
	}
	return nil
}

// Transition performs a guarded lifecycle move. Moving to the status the
// property already has is a no-op so the requeue fallback stays idempotent.
func (s *SQLiteStore) Transition(ctx context.Context, id string, to Status) error {
	froms := legalSources(to)
	if len(froms) == 0 {
		return ErrBadTransition
	}

	args := []any{to}
	query := `UPDATE properties SET status = ?`
	if to == StatusVisited {
		query += `, visited_at = ?`
		args = append(args, time.Now().UTC())
	}
	if to.IsTerminal() {
		query += `, completed_at = ?`
		args = append(args, time.Now().UTC())
	}
	query += ` WHERE id = ? AND status IN (` + placeholders(len(froms)) + `)`
	args = append(args, id)
	for _, f := range froms {
		args = append(args, f)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition property %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition property %s: rows affected: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrNotFound
	}
	if cur.Status == to {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrBadTransition, cur.Status, to)
}

// ReclaimStale returns properties claimed before cutoff to their entry status.
// Returns the affected ids so the caller can log them.
func (s *SQLiteStore) ReclaimStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM properties
		WHERE status IN (?, ?) AND claimed_at < ?
	`, StatusScraping, StatusSubmitting, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("query stale claims: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale claim id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale claims: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE properties
		SET status = CASE status WHEN ? THEN ? ELSE ? END,
		    claimed_by = '', claimed_at = NULL
		WHERE status IN (?, ?) AND claimed_at < ?
	`,
		StatusScraping, StatusPendingScrape, StatusReadyForSubmission,
		StatusScraping, StatusSubmitting, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM properties
		WHERE status IN (?, ?)
		AND completed_at IS NOT NULL
		AND completed_at < ?
	`, StatusComplete, StatusFailed, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete terminal properties: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProperty(row scanner) (*Property, error) {
	p := &Property{}
	var payload, result sql.NullString
	var claimedAt, visitedAt, completedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.Address, &p.Status, &payload, &result, &p.Error, &p.Note,
		&p.ClaimedBy, &p.CreatedAt, &claimedAt, &visitedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		p.Payload = []byte(payload.String)
	}
	if result.Valid {
		p.Result = []byte(result.String)
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		p.ClaimedAt = &t
	}
	if visitedAt.Valid {
		t := visitedAt.Time
		p.VisitedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return p, nil
}

// legalSources lists every status that may legally move to `to`.
func legalSources(to Status) []Status {
	var froms []Status
	for from, nexts := range transitions {
		for _, n := range nexts {
			if n == to {
				froms = append(froms, from)
			}
		}
	}
	return froms
}

func placeholders(n int) string {
	out := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

// nullableJSON returns nil if b is empty, otherwise returns the raw bytes as a string.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
