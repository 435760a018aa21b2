package emergency

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	debounceDefault = 200 * time.Millisecond
	maxCommandSize  = 64 << 10
	maxQueueSize    = 200

	suffixDone   = ".done"
	suffixFailed = ".failed"
)

// Inbox turns JSON command files dropped into a directory into supervisor
// commands. Each file holds one Command, or a "line" field in the one-line
// form. After processing the file is replaced by a receipt named
// <file>.done or <file>.failed.
type Inbox struct {
	dir      string
	ch       *Channel
	logger   *zap.Logger
	debounce time.Duration
}

// NewInbox creates an inbox over dir.
func NewInbox(dir string, ch *Channel, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{dir: dir, ch: ch, logger: logger, debounce: debounceDefault}
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string { return in.dir }

// Run processes files already present, then watches for new ones. Commands
// are applied one at a time in file name order within each batch. Blocks
// until ctx is cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0o700); err != nil {
		return fmt.Errorf("emergency: create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("emergency: watch inbox: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("emergency: watch inbox: %w", err)
	}

	// Files that arrived while nothing was watching.
	if err := in.ScanExisting(ctx); err != nil {
		return err
	}

	var mu sync.Mutex
	ready := make(map[string]bool)
	queue := make(chan []string, maxQueueSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for batch := range queue {
			for _, path := range batch {
				in.process(ctx, path)
			}
		}
	}()

	flush := func() {
		mu.Lock()
		batch := make([]string, 0, len(ready))
		for p := range ready {
			batch = append(batch, p)
		}
		ready = make(map[string]bool)
		mu.Unlock()
		if len(batch) == 0 {
			return
		}
		slices.Sort(batch)
		select {
		case queue <- batch:
		case <-ctx.Done():
		}
	}

	timer := time.NewTimer(in.debounce)
	timer.Stop()
	defer func() {
		timer.Stop()
		close(queue)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isCommandFile(event.Name) {
				continue
			}
			mu.Lock()
			ready[event.Name] = true
			mu.Unlock()

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(in.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

// ScanExisting processes every command file currently in the inbox.
func (in *Inbox) ScanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("emergency: read inbox: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(in.dir, e.Name())
		if isCommandFile(path) {
			in.process(ctx, path)
		}
	}
	return nil
}

type commandFile struct {
	Command
	Line string `json:"line,omitempty"`
}

func (in *Inbox) process(ctx context.Context, path string) {
	data, err := readCommandFile(path)
	if os.IsNotExist(err) {
		// Already handled by an earlier batch.
		return
	}

	var rcpt Receipt
	if err == nil {
		var cmd Command
		cmd, err = decodeCommand(data)
		if err == nil {
			rcpt, err = in.ch.Submit(ctx, cmd)
		} else {
			rcpt = Receipt{State: in.ch.State(), Error: err.Error()}
		}
	} else {
		rcpt = Receipt{State: in.ch.State(), Error: err.Error()}
	}

	suffix := suffixDone
	if err != nil {
		suffix = suffixFailed
	}
	if werr := writeReceipt(path+suffix, rcpt); werr != nil {
		in.logger.Error("inbox receipt not written", zap.String("file", path), zap.Error(werr))
	}
	if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
		in.logger.Error("inbox command not removed", zap.String("file", path), zap.Error(rerr))
	}
	in.logger.Info("inbox command processed",
		zap.String("file", filepath.Base(path)),
		zap.String("command", rcpt.Command.String()),
		zap.Bool("ok", err == nil))
}

func readCommandFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxCommandSize {
		return nil, fmt.Errorf("%w: file is %d bytes", ErrMalformedCommand, info.Size())
	}
	return os.ReadFile(path)
}

func decodeCommand(data []byte) (Command, error) {
	var f commandFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	if f.Line != "" {
		cmd, err := ParseCommand(f.Line)
		if err != nil {
			return Command{}, err
		}
		if cmd.By == "" {
			cmd.By = f.By
		}
		return cmd, nil
	}
	kind, err := ParseKind(string(f.Kind))
	if err != nil {
		return Command{}, err
	}
	f.Command.Kind = kind
	return f.Command, f.Command.Validate()
}

func writeReceipt(path string, rcpt Receipt) error {
	data, err := json.MarshalIndent(rcpt, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// isCommandFile returns true for .json files, never for receipts or partial writes.
func isCommandFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}
