package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteLedger keeps the chained ledger in an action_records table. The body
// column holds the exact JSON line that is hashed, so the chain is identical
// to the JSONL backend's.
type SQLiteLedger struct {
	db       *sql.DB
	prevHash string
	staged   bool
	mu       sync.Mutex
}

// OpenSQLite opens (or creates) a SQLite ledger at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// One writer at a time; staged transactions must not contend.
	db.SetMaxOpenConns(1)

	s := &SQLiteLedger{db: db, prevHash: GenesisHash}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	var tail sql.NullString
	err = db.QueryRowContext(ctx, `SELECT hash FROM action_records ORDER BY seq DESC LIMIT 1`).Scan(&tail)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		_ = db.Close()
		return nil, fmt.Errorf("audit: read chain tail: %w", err)
	case tail.Valid:
		s.prevHash = tail.String
	}
	return s, nil
}

func (s *SQLiteLedger) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS action_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		occurred_at TEXT NOT NULL,
		risk_tier TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		decision TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_action_records_occurred ON action_records(occurred_at);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("audit: migrate sqlite: %w", err)
	}
	return nil
}

// Load returns every committed record in sequence order.
func (s *SQLiteLedger) Load(ctx context.Context) ([]model.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, body FROM action_records ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit: load sqlite: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ActionRecord
	for rows.Next() {
		var (
			seq  int64
			body string
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, fmt.Errorf("audit: scan sqlite row: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("audit: parse sqlite row %d: %w", seq, err)
		}
		out = append(out, e.ActionRecord)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate sqlite rows: %w", err)
	}
	return out, nil
}

// Stage inserts the record inside an open transaction.
func (s *SQLiteLedger) Stage(ctx context.Context, rec model.ActionRecord) (Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged {
		return nil, errTxnOpen
	}

	line, err := json.Marshal(Entry{ActionRecord: rec, PrevHash: s.prevHash})
	if err != nil {
		return nil, fmt.Errorf("audit: marshal entry: %w", err)
	}
	hash := HashLine(line)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: begin sqlite tx: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO action_records (
		id, occurred_at, risk_tier, category, decision, session_id, body, prev_hash, hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OccurredAt.UTC().Format(time.RFC3339Nano), string(rec.Tier), rec.Category,
		string(rec.Decision), rec.SessionID, string(line), s.prevHash, hash,
	)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("audit: insert record: %w", err)
	}

	s.staged = true
	return &sqliteTxn{ledger: s, tx: tx, hash: hash}, nil
}

type sqliteTxn struct {
	ledger *SQLiteLedger
	tx     *sql.Tx
	hash   string
	done   bool
}

func (t *sqliteTxn) Commit() error {
	s := t.ledger
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	s.staged = false
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit sqlite tx: %w", err)
	}
	s.prevHash = t.hash
	return nil
}

func (t *sqliteTxn) Rollback() error {
	s := t.ledger
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	s.staged = false
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("audit: rollback sqlite tx: %w", err)
	}
	return nil
}

// Verify walks the table in sequence order and checks every link.
func (s *SQLiteLedger) Verify(ctx context.Context) VerifyResult {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, body, prev_hash, hash FROM action_records ORDER BY seq ASC`)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("query: %v", err)}
	}
	defer func() { _ = rows.Close() }()

	c := newChain()
	for rows.Next() {
		var (
			seq                  int64
			body, prevHash, hash string
		)
		if err := rows.Scan(&seq, &body, &prevHash, &hash); err != nil {
			return VerifyResult{Error: fmt.Sprintf("scan: %v", err), ErrorLine: c.n + 1}
		}
		e, err := c.link([]byte(body))
		if err != nil {
			return c.fail(fmt.Errorf("seq %d: %w", seq, err))
		}
		if prevHash != e.PrevHash {
			return c.fail(fmt.Errorf("seq %d: prev_hash column %s disagrees with body %s", seq, prevHash, e.PrevHash))
		}
		if hash != c.prev {
			return c.fail(fmt.Errorf("seq %d: body hash mismatch: stored %s, computed %s", seq, hash, c.prev))
		}
	}
	if err := rows.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("rows: %v", err)}
	}
	return c.result()
}

// Close closes the database handle.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
