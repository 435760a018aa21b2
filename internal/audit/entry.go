package audit

import (
	"context"
	"errors"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

var (
	// ErrStorageUnavailable means a record could not be made durable in every
	// representation. Callers must treat the action as not authorized.
	ErrStorageUnavailable = errors.New("audit: storage unavailable")

	// ErrNotFound is returned by Read for an unknown id.
	ErrNotFound = errors.New("audit: record not found")

	// ErrRecordTooLarge is returned by Append, before anything is written,
	// for a record whose ledger line would exceed the reader limit.
	ErrRecordTooLarge = errors.New("audit: record too large")
)

// TimestampFormat is the layout used in human renderings of occurred_at.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one line in the hash-chained ledger.
// All fields are structs (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type Entry struct {
	model.ActionRecord
	PrevHash string `json:"prev_hash"`
}

// Ledger is the machine-readable, authoritative representation of the store.
// Callers serialize Stage/Commit/Rollback; at most one Txn is open at a time.
type Ledger interface {
	// Load returns every committed record in append order.
	Load(ctx context.Context) ([]model.ActionRecord, error)
	// Stage durably writes rec but does not advance the chain until Commit.
	Stage(ctx context.Context, rec model.ActionRecord) (Txn, error)
	Close() error
}

// Txn is a staged ledger write.
type Txn interface {
	Commit() error
	Rollback() error
}
