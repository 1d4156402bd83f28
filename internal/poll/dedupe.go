package poll

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Defaults for triggered-hash retention.
const (
	DefaultTriggerTTL     = 24 * time.Hour
	DefaultTriggerMaxSize = 10000
)

// TriggeredSet suppresses re-firing on unchanged polled items. Each entry
// maps a content hash (job name + item identity) to its first-triggered
// time. Entries expire after the TTL; a hard cap evicts oldest-first.
//
// With persistence enabled the set survives restarts, so a daemon bounce
// does not re-trigger every open item.
type TriggeredSet struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	maxSize int
	db      *sql.DB
	now     func() time.Time
}

// NewTriggeredSet creates an in-memory triggered set. Non-positive
// arguments select the defaults.
func NewTriggeredSet(ttl time.Duration, maxSize int) *TriggeredSet {
	if ttl <= 0 {
		ttl = DefaultTriggerTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultTriggerMaxSize
	}
	return &TriggeredSet{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// OpenPersistent creates a triggered set with default retention backed by
// a SQLite database at path.
func OpenPersistent(ctx context.Context, path string) (*TriggeredSet, error) {
	t := NewTriggeredSet(0, 0)
	if err := t.OpenPersistent(ctx, path); err != nil {
		return nil, err
	}
	return t, nil
}

// OpenPersistent attaches a SQLite database at path and loads surviving
// entries into memory. WAL mode keeps concurrent readers cheap.
func (t *TriggeredSet) OpenPersistent(ctx context.Context, path string) error {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	connStr := path
	if path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return fmt.Errorf("failed to open trigger state database: %w", err)
	}
	db.SetMaxOpenConns(2)

	schema := `
	CREATE TABLE IF NOT EXISTS triggered_items (
		hash TEXT PRIMARY KEY,
		first_triggered DATETIME NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create trigger state schema: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT hash, first_triggered FROM triggered_items`)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to load trigger state: %w", err)
	}
	defer rows.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	for rows.Next() {
		var hash string
		var first time.Time
		if err := rows.Scan(&hash, &first); err != nil {
			db.Close()
			return fmt.Errorf("failed to scan trigger state: %w", err)
		}
		t.entries[hash] = first
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return err
	}

	t.db = db
	return nil
}

// Close releases the persistence handle, if any.
func (t *TriggeredSet) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db != nil {
		err := t.db.Close()
		t.db = nil
		return err
	}
	return nil
}

// FilterTriggered returns the items not previously triggered for the job
// and records them. The second call with the same items returns nothing
// until the TTL expires.
func (t *TriggeredSet) FilterTriggered(ctx context.Context, job string, items []map[string]interface{}) []map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.evictLocked(ctx, now)

	var fresh []map[string]interface{}
	for _, item := range items {
		hash := ItemHash(job, item)
		if _, seen := t.entries[hash]; seen {
			continue
		}
		t.entries[hash] = now
		t.persistLocked(ctx, hash, now)
		fresh = append(fresh, item)
	}
	return fresh
}

// Len returns the current entry count.
func (t *TriggeredSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// evictLocked drops expired entries, then enforces the size cap
// oldest-first. Caller holds the mutex.
func (t *TriggeredSet) evictLocked(ctx context.Context, now time.Time) {
	cutoff := now.Add(-t.ttl)
	for hash, first := range t.entries {
		if first.Before(cutoff) {
			delete(t.entries, hash)
			t.deleteLocked(ctx, hash)
		}
	}

	if len(t.entries) <= t.maxSize {
		return
	}

	type entry struct {
		hash  string
		first time.Time
	}
	all := make([]entry, 0, len(t.entries))
	for hash, first := range t.entries {
		all = append(all, entry{hash, first})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].first.Before(all[j].first) })

	for _, e := range all[:len(t.entries)-t.maxSize] {
		delete(t.entries, e.hash)
		t.deleteLocked(ctx, e.hash)
	}
}

func (t *TriggeredSet) persistLocked(ctx context.Context, hash string, first time.Time) {
	if t.db == nil {
		return
	}
	_, _ = t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO triggered_items (hash, first_triggered) VALUES (?, ?)`,
		hash, first)
}

func (t *TriggeredSet) deleteLocked(ctx context.Context, hash string) {
	if t.db == nil {
		return
	}
	_, _ = t.db.ExecContext(ctx, `DELETE FROM triggered_items WHERE hash = ?`, hash)
}

// ItemHash derives the dedup hash for an item: job name plus the item's
// id or key field, falling back to a structural hash of the whole item.
func ItemHash(job string, item map[string]interface{}) string {
	identity := ""
	for _, field := range []string{"id", "key"} {
		if v, ok := item[field]; ok {
			identity = fmt.Sprintf("%v", v)
			break
		}
	}
	if identity == "" {
		if encoded, err := json.Marshal(item); err == nil {
			identity = string(encoded)
		} else {
			identity = fmt.Sprintf("%v", item)
		}
	}

	sum := sha256.Sum256([]byte(job + "\x00" + identity))
	return hex.EncodeToString(sum[:])
}
