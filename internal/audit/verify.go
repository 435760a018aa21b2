package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult reports whether a ledger's hash chain is intact. On failure
// ErrorLine is the 1-based record position of the first broken link.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// chain walks ledger bodies in order and checks each one against its
// predecessor. Both ledger backends feed it.
type chain struct {
	prev string
	seen map[string]int
	n    int
}

func newChain() *chain {
	return &chain{prev: GenesisHash, seen: make(map[string]int)}
}

// link accepts the next serialized entry. The body must reference the hash
// of the previous body and carry an id not seen before.
func (c *chain) link(body []byte) (Entry, error) {
	c.n++
	var e Entry
	if err := json.Unmarshal(body, &e); err != nil {
		return e, fmt.Errorf("parse error: %v", err)
	}
	if e.PrevHash != c.prev {
		return e, fmt.Errorf("hash mismatch: expected %s, got %s", c.prev, e.PrevHash)
	}
	if first, dup := c.seen[e.ID]; dup {
		return e, fmt.Errorf("duplicate id %s (first seen at record %d)", e.ID, first)
	}
	c.seen[e.ID] = c.n
	c.prev = HashLine(body)
	return e, nil
}

func (c *chain) fail(err error) VerifyResult {
	return VerifyResult{Error: err.Error(), ErrorLine: c.n}
}

func (c *chain) result() VerifyResult {
	return VerifyResult{Valid: true, Lines: c.n}
}

// Verify checks the hash chain of a JSONL ledger file.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	c := newChain()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		if _, err := c.link(sc.Bytes()); err != nil {
			return c.fail(err)
		}
	}
	if err := sc.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err), ErrorLine: c.n + 1}
	}
	return c.result()
}
