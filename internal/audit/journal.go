package audit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

const (
	journalDayFormat  = "2006-01-02"
	journalTimeFormat = "15:04:05.000Z"
	journalHeading    = "## "
)

// Journal is the human-readable mirror of the ledger: one Markdown file per
// UTC day, one section per record keyed by id.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// OpenJournal creates the journal directory if needed.
func OpenJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create journal directory: %w", err)
	}
	return &Journal{dir: dir}, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string { return j.dir }

// JournalPath returns the day file that holds a record occurring at t.
func (j *Journal) JournalPath(t time.Time) string {
	return filepath.Join(j.dir, t.UTC().Format(journalDayFormat)+".md")
}

// Append writes the record's section and returns an undo func that removes it.
func (j *Journal) Append(rec model.ActionRecord) (undo func() error, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := j.JournalPath(rec.OccurredAt)
	var offset int64
	created := false
	if info, statErr := os.Stat(path); statErr == nil {
		offset = info.Size()
	} else if os.IsNotExist(statErr) {
		created = true
	} else {
		return nil, fmt.Errorf("audit: stat journal: %w", statErr)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open journal: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	if created {
		fmt.Fprintf(&b, "# Action journal %s\n\n", rec.OccurredAt.UTC().Format(journalDayFormat))
	}
	writeSection(&b, rec)

	undo = func() error {
		j.mu.Lock()
		defer j.mu.Unlock()
		if created {
			return os.Remove(path)
		}
		return os.Truncate(path, offset)
	}

	if _, err := f.WriteString(b.String()); err != nil {
		_ = undo()
		return nil, fmt.Errorf("audit: write journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = undo()
		return nil, fmt.Errorf("audit: sync journal: %w", err)
	}
	return undo, nil
}

func writeSection(b *strings.Builder, rec model.ActionRecord) {
	fmt.Fprintf(b, "%s%s | %s | %s | %s\n",
		journalHeading, rec.OccurredAt.UTC().Format(journalTimeFormat), rec.Decision, rec.Tier, rec.ID)
	field := func(name, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(b, "- %s: %s\n", name, escapeLine(value))
	}
	field("what", rec.What)
	field("why", rec.Why)
	field("category", rec.Category)
	field("cost", rec.Cost.String())
	field("session", rec.SessionID)
	field("rollback", rec.RollbackPlan)
	field("outcome", rec.Outcome)
	field("reason", rec.Reason)
	field("pending", rec.PendingID)
	field("corrects", rec.Corrects)
	if rec.Flagged {
		field("flagged", "true")
	}
	b.WriteString("\n")
}

func escapeLine(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

// JournalEntry is the decision history recoverable from the journal alone.
type JournalEntry struct {
	ID         string
	OccurredAt time.Time
	Decision   model.Decision
	Tier       model.RiskTier
}

// ParseJournal reads every day file in dir in chronological order.
func ParseJournal(dir string) ([]JournalEntry, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("audit: list journal: %w", err)
	}
	sort.Strings(files)

	var out []JournalEntry
	for _, path := range files {
		day, err := time.Parse(journalDayFormat, strings.TrimSuffix(filepath.Base(path), ".md"))
		if err != nil {
			continue
		}
		entries, err := parseJournalFile(path, day)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func parseJournalFile(path string, day time.Time) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open journal: %w", err)
	}
	defer f.Close()

	var out []JournalEntry
	r := bufio.NewReader(f)
	lineNum := 0
	for {
		line, err := readJournalLine(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("audit: read journal: %w", err)
		}
		lineNum++
		if !strings.HasPrefix(line, journalHeading) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(line, journalHeading), " | ")
		if len(parts) != 4 {
			return nil, fmt.Errorf("audit: %s:%d: malformed section heading", filepath.Base(path), lineNum)
		}
		clock, err := time.Parse(journalTimeFormat, parts[0])
		if err != nil {
			return nil, fmt.Errorf("audit: %s:%d: %w", filepath.Base(path), lineNum, err)
		}
		at := time.Date(day.Year(), day.Month(), day.Day(),
			clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), time.UTC)
		out = append(out, JournalEntry{
			ID:         parts[3],
			OccurredAt: at,
			Decision:   model.Decision(parts[1]),
			Tier:       model.RiskTier(parts[2]),
		})
	}
	return out, nil
}

// readJournalLine returns the next line of r. Only section headings are
// parsed, so a body line longer than the buffer is returned truncated to
// its first chunk instead of failing the read.
func readJournalLine(r *bufio.Reader) (string, error) {
	chunk, isPrefix, err := r.ReadLine()
	if err != nil {
		return "", err
	}
	line := string(chunk)
	for isPrefix {
		if _, isPrefix, err = r.ReadLine(); err != nil && err != io.EOF {
			return "", err
		}
		if err == io.EOF {
			break
		}
	}
	return line, nil
}

// CrossCheck compares ledger records with journal entries and returns one
// message per divergence. An empty result means both views agree.
func CrossCheck(records []model.ActionRecord, entries []JournalEntry) []string {
	var problems []string
	byID := make(map[string]JournalEntry, len(entries))
	for _, e := range entries {
		if _, dup := byID[e.ID]; dup {
			problems = append(problems, fmt.Sprintf("journal: duplicate section for %s", e.ID))
		}
		byID[e.ID] = e
	}
	for _, r := range records {
		e, ok := byID[r.ID]
		if !ok {
			problems = append(problems, fmt.Sprintf("journal: missing section for %s", r.ID))
			continue
		}
		delete(byID, r.ID)
		if e.Decision != r.Decision {
			problems = append(problems, fmt.Sprintf("%s: decision %s in ledger, %s in journal", r.ID, r.Decision, e.Decision))
		}
		if e.Tier != r.Tier {
			problems = append(problems, fmt.Sprintf("%s: tier %s in ledger, %s in journal", r.ID, r.Tier, e.Tier))
		}
	}
	for id := range byID {
		problems = append(problems, fmt.Sprintf("ledger: missing record for journal section %s", id))
	}
	sort.Strings(problems)
	return problems
}
