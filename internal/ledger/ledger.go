// Package ledger keeps the per-task set of processed listing keys and the
// append-only record store it is rebuilt from.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"xianyuwatch/internal/types"

	"go.uber.org/zap"
)

// ErrDuplicate is returned when a record for an already stored key is appended.
var ErrDuplicate = errors.New("record already stored for this key")

// maxLineSize bounds a single record line.
const maxLineSize = 16 << 20

// CanonicalKey truncates link at its first '&', dropping tracking parameters.
func CanonicalKey(link string) string {
	key, _, _ := strings.Cut(link, "&")
	return key
}

// Ledger is one task's seen-set backed by its JSONL record store. Safe for
// concurrent use, though a task uses it from a single goroutine.
type Ledger struct {
	path string
	log  *zap.Logger

	mu     sync.Mutex
	seen   map[string]struct{}
	stored map[string]struct{}
}

// Path returns the record store path for task under dir.
func Path(dir string, task types.Task) string {
	return filepath.Join(dir, task.RecordFileName())
}

// Open loads the ledger for task from dir. A missing store is an empty ledger.
func Open(dir string, task types.Task, log *zap.Logger) (*Ledger, error) {
	return Load(Path(dir, task), log)
}

// Load scans the store at path once, collecting the canonical key of every
// record. Unparsable lines are skipped with a warning.
func Load(path string, log *zap.Logger) (*Ledger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{
		path:   path,
		log:    log,
		seen:   make(map[string]struct{}),
		stored: make(map[string]struct{}),
	}

	skipped, err := scan(path, func(line []byte, n int) {
		link, ok := recordLink(line)
		if !ok {
			log.Warn("skipping unparsable record line", zap.String("path", path), zap.Int("line", n))
			return
		}
		if link == "" {
			return
		}
		key := CanonicalKey(link)
		l.seen[key] = struct{}{}
		l.stored[key] = struct{}{}
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("record store not found, starting empty", zap.String("path", path))
			return l, nil
		}
		return nil, err
	}
	log.Info("ledger loaded",
		zap.String("path", path),
		zap.Int("keys", len(l.seen)),
		zap.Int("skipped_lines", skipped))
	return l, nil
}

// recordLink extracts the listing link from one stored line. Lines written
// by the legacy scraper keep the link under a localized key.
func recordLink(line []byte) (string, bool) {
	var rec struct {
		Listing *struct {
			Link string `json:"link"`
		} `json:"listing"`
		Legacy map[string]any `json:"商品信息"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return "", false
	}
	if rec.Listing != nil {
		return rec.Listing.Link, true
	}
	if link, ok := rec.Legacy["商品链接"].(string); ok {
		return link, true
	}
	return "", true
}

// Path returns the store path.
func (l *Ledger) Path() string { return l.path }

// Len returns the number of seen keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Has reports whether key was seen.
func (l *Ledger) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[key]
	return ok
}

// MarkSeen records key in memory. It reports false when key was already seen.
func (l *Ledger) MarkSeen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false
	}
	l.seen[key] = struct{}{}
	return true
}

// Append writes rec as one line with a single write call. The key is marked
// seen even when the write fails; a key already in the store is refused.
func (l *Ledger) Append(rec types.Record) error {
	key := CanonicalKey(rec.Listing.Link)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[key] = struct{}{}
	if _, ok := l.stored[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close record store: %w", err)
	}
	l.stored[key] = struct{}{}
	return nil
}

// ReadRecords streams the records stored at path to fn in file order,
// skipping unparsable lines. It returns the number of skipped lines.
func ReadRecords(path string, fn func(types.Record) error) (int, error) {
	var fnErr error
	skipped, err := scan(path, func(line []byte, _ int) {
		if fnErr != nil {
			return
		}
		var rec types.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return
		}
		fnErr = fn(rec)
	})
	if err != nil {
		return skipped, err
	}
	return skipped, fnErr
}

// scan calls fn for every non-blank line and counts lines that are not JSON.
func scan(path string, fn func(line []byte, n int)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return scanReader(f, fn)
}

func scanReader(r io.Reader, fn func(line []byte, n int)) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	skipped, n := 0, 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
		}
		fn(line, n)
	}
	if err := sc.Err(); err != nil {
		return skipped, fmt.Errorf("read record store: %w", err)
	}
	return skipped, nil
}
