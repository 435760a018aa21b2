package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
	"github.com/Mutual-Roots/Ford-Perfect/internal/telemetry"
)

// Ledger backends.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Mirror is the human-readable representation written alongside the ledger.
// Append returns an undo func used when the ledger commit fails afterwards.
type Mirror interface {
	Append(rec model.ActionRecord) (undo func() error, err error)
}

// snapshot is an immutable view of committed records. Appends never write
// into the first len(records) slots, so a held snapshot stays valid.
type snapshot struct {
	records []model.ActionRecord
}

// Store is the append-only action record store. Appends are serialized;
// readers work on a snapshot taken at call time and never block appends.
type Store struct {
	mu      sync.Mutex
	ledger  Ledger
	mirror  Mirror
	snap    atomic.Pointer[snapshot]
	index   sync.Map // id -> position in snapshot
	lastAt  time.Time
	closed  bool
	now     func() time.Time
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for occurred_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records append latency and faults.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// LedgerPath returns where the ledger for backend lives inside dir.
func LedgerPath(dir, backend string) string {
	if backend == BackendSQLite {
		return filepath.Join(dir, "ledger.db")
	}
	return filepath.Join(dir, "ledger.jsonl")
}

// JournalDir returns the journal directory inside dir.
func JournalDir(dir string) string {
	return filepath.Join(dir, "journal")
}

// Open opens the ledger for backend and the journal under dir.
func Open(ctx context.Context, dir, backend string, opts ...Option) (*Store, error) {
	var (
		ledger Ledger
		err    error
	)
	switch backend {
	case "", BackendJSONL:
		ledger, err = OpenLog(LedgerPath(dir, BackendJSONL))
	case BackendSQLite:
		ledger, err = OpenSQLite(ctx, LedgerPath(dir, BackendSQLite))
	default:
		return nil, fmt.Errorf("audit: unknown backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	journal, err := OpenJournal(JournalDir(dir))
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}
	s, err := New(ctx, ledger, journal, opts...)
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}
	return s, nil
}

// New builds a store over an opened ledger and mirror, loading the
// committed records to rebuild the index.
func New(ctx context.Context, ledger Ledger, mirror Mirror, opts ...Option) (*Store, error) {
	s := &Store{
		ledger: ledger,
		mirror: mirror,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	records, err := ledger.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i, r := range records {
		s.index.Store(r.ID, i)
		if r.OccurredAt.After(s.lastAt) {
			s.lastAt = r.OccurredAt
		}
	}
	s.snap.Store(&snapshot{records: records})
	s.logger.Debug("audit store opened", zap.Int("records", len(records)))
	return s, nil
}

// Append commits rec to the ledger and the mirror as one logical write and
// returns its id. An empty ID is assigned a UUIDv7. Appending an id that is
// already committed returns it without writing.
func (s *Store) Append(ctx context.Context, rec model.ActionRecord) (string, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", fmt.Errorf("%w: store closed", ErrStorageUnavailable)
	}

	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", s.fault(ctx, "id", err)
		}
		rec.ID = id.String()
	} else if _, ok := s.index.Load(rec.ID); ok {
		return rec.ID, nil
	}

	at := s.now().UTC()
	if !at.After(s.lastAt) {
		at = s.lastAt.Add(time.Nanosecond)
	}
	rec.OccurredAt = at
	if cost, err := rec.Cost.Normalize(); err == nil {
		rec.Cost = cost
	}

	if err := fitsLine(rec); err != nil {
		return "", err
	}

	txn, err := s.ledger.Stage(ctx, rec)
	if err != nil {
		return "", s.fault(ctx, "ledger", err)
	}
	undo, err := s.mirror.Append(rec)
	if err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			s.logger.Error("ledger rollback failed", zap.String("id", rec.ID), zap.Error(rbErr))
		}
		return "", s.fault(ctx, "journal", err)
	}
	if err := txn.Commit(); err != nil {
		if undoErr := undo(); undoErr != nil {
			s.logger.Error("journal undo failed", zap.String("id", rec.ID), zap.Error(undoErr))
		}
		return "", s.fault(ctx, "ledger", err)
	}

	s.lastAt = at
	old := s.snap.Load().records
	pos := len(old)
	s.snap.Store(&snapshot{records: append(old, rec)})
	s.index.Store(rec.ID, pos)

	s.metrics.AppendLatency(ctx, time.Since(start))
	s.logger.Debug("record appended",
		zap.String("id", rec.ID),
		zap.String("tier", string(rec.Tier)),
		zap.String("decision", string(rec.Decision)),
	)
	return rec.ID, nil
}

// fitsLine rejects a record whose ledger line the readers could not load back.
func fitsLine(rec model.ActionRecord) error {
	line, err := json.Marshal(Entry{ActionRecord: rec, PrevHash: GenesisHash})
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrMalformedAction, err)
	}
	if len(line) >= maxLineSize {
		return fmt.Errorf("%w: %d bytes, limit %d: %w", ErrRecordTooLarge, len(line), maxLineSize-1, model.ErrMalformedAction)
	}
	return nil
}

func (s *Store) fault(ctx context.Context, component string, err error) error {
	s.metrics.StorageFault(ctx, component)
	s.logger.Error("audit write failed", zap.String("component", component), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, component, err)
}

// Read returns the committed record with id.
func (s *Store) Read(id string) (model.ActionRecord, error) {
	v, ok := s.index.Load(id)
	if !ok {
		return model.ActionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	records := s.snap.Load().records
	pos := v.(int)
	if pos >= len(records) {
		return model.ActionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return records[pos], nil
}

// Snapshot returns every committed record in append order. The slice is
// shared and must not be modified.
func (s *Store) Snapshot() []model.ActionRecord {
	return s.snap.Load().records
}

// Len returns the number of committed records.
func (s *Store) Len() int {
	return len(s.snap.Load().records)
}

// Scan returns the records matching f, ordered by occurred_at.
func (s *Store) Scan(f Filter) []model.ActionRecord {
	records := s.Snapshot()
	var out []model.ActionRecord
	add := func(r model.ActionRecord) bool {
		if !f.Match(r) {
			return true
		}
		out = append(out, r)
		return f.Limit <= 0 || len(out) < f.Limit
	}
	if f.Reverse {
		for i := len(records) - 1; i >= 0; i-- {
			if !add(records[i]) {
				break
			}
		}
	} else {
		for _, r := range records {
			if !add(r) {
				break
			}
		}
	}
	return out
}

// Close closes the ledger. Later appends fail with ErrStorageUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.ledger.Close()
}
