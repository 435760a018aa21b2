package audit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

// GenesisHash is the prev_hash for the first entry in a new ledger.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

const maxLineSize = 4 << 20

var errTxnOpen = errors.New("audit: ledger already has a staged write")

// Log is a JSONL ledger. Every line carries the SHA-256 of the line before
// it, so any edit, deletion or insertion breaks the chain from that point on.
type Log struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	prevHash string
	size     int64
	staged   bool
}

// OpenLog opens the ledger at path for appending, creating it if needed.
// A torn final line left by a crash mid-write is cut off before the chain
// tail is recovered.
func OpenLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	tail, size, err := recoverTail(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &Log{path: path, file: file, prevHash: tail, size: size}, nil
}

// recoverTail returns the hash of the last complete line and the offset just
// past it, truncating any trailing partial line.
func recoverTail(f *os.File) (string, int64, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return "", 0, fmt.Errorf("audit: read existing log: %w", err)
	}
	end := bytes.LastIndexByte(data, '\n') + 1
	if end < len(data) {
		if err := f.Truncate(int64(end)); err != nil {
			return "", 0, fmt.Errorf("audit: drop torn line: %w", err)
		}
	}
	tail := GenesisHash
	err = scanLines(bytes.NewReader(data[:end]), func(_ int, line []byte) error {
		tail = HashLine(line)
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return tail, int64(end), nil
}

// scanLines calls fn for every non-empty line of r with its 1-based number.
// The slice passed to fn is only valid for the duration of the call.
func scanLines(r io.Reader, fn func(n int, line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	n := 0
	for sc.Scan() {
		n++
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(n, sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Path returns the ledger file path.
func (l *Log) Path() string { return l.path }

// Load decodes every committed record in file order.
func (l *Log) Load(_ context.Context) ([]model.ActionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("audit: open ledger: %w", err)
	}
	defer f.Close()

	var out []model.ActionRecord
	err = scanLines(io.LimitReader(f, l.size), func(n int, line []byte) error {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("audit: parse ledger line %d: %w", n, err)
		}
		out = append(out, e.ActionRecord)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stage writes and syncs one chained line. The chain tail only advances on
// Commit; Rollback truncates the line away.
func (l *Log) Stage(_ context.Context, rec model.ActionRecord) (Txn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.staged {
		return nil, errTxnOpen
	}

	line, err := json.Marshal(Entry{ActionRecord: rec, PrevHash: l.prevHash})
	if err != nil {
		return nil, fmt.Errorf("audit: marshal entry: %w", err)
	}

	offset := l.size
	n, err := l.file.WriteAt(append(line, '\n'), offset)
	if err != nil {
		_ = l.file.Truncate(offset)
		return nil, fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Truncate(offset)
		return nil, fmt.Errorf("audit: sync: %w", err)
	}

	l.staged = true
	return &logTxn{log: l, offset: offset, written: int64(n), hash: HashLine(line)}, nil
}

type logTxn struct {
	log     *Log
	offset  int64
	written int64
	hash    string
	done    bool
}

func (t *logTxn) Commit() error {
	l := t.log
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	l.staged = false
	l.prevHash = t.hash
	l.size = t.offset + t.written
	return nil
}

func (t *logTxn) Rollback() error {
	l := t.log
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	l.staged = false
	if err := l.file.Truncate(t.offset); err != nil {
		return fmt.Errorf("audit: rollback truncate: %w", err)
	}
	return l.file.Sync()
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
