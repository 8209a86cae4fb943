// Package store persists profiles.
//
// The SQLite backend keeps one bucket per profile in a key-value table with a
// change log. SQLWriter exposes the log as profile history and live change
// feeds, and snapshots as backups. The HCL backend writes one human-editable
// file per profile. Both implement profile.Writer and profile.Loader.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"grimm.is/rse/internal/clock"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrBucketExists  = errors.New("bucket already exists")
	ErrBucketMissing = errors.New("bucket does not exist")
	ErrStoreClosed   = errors.New("store is closed")
)

// ChangeType represents the type of stored change.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is one entry of the change log.
type Change struct {
	ID        uint64     `json:"id"`
	Bucket    string     `json:"bucket"`
	Key       string     `json:"key"`
	Value     []byte     `json:"value,omitempty"` // nil for deletes
	Type      ChangeType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Version   uint64     `json:"version"`
}

// Snapshot is a point-in-time copy of every bucket.
type Snapshot struct {
	Version   uint64            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Buckets   map[string]Bucket `json:"buckets"`
}

// Bucket is a collection of entries keyed by name.
type Bucket map[string]Entry

// Entry is a stored value with metadata.
type Entry struct {
	Value     []byte    `json:"value"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SQLiteStore is a bucketed key-value store on SQLite.
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	version uint64
	closed  bool
	clock   clock.Clock

	subMu       sync.RWMutex
	subscribers map[uint64]chan Change
	nextSubID   uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// Options configures the SQLite store.
type Options struct {
	Path            string        // Database file path (":memory:" for in-memory)
	WALMode         bool          // Enable WAL mode for better concurrency
	CleanupInterval time.Duration // How often to prune the change log
	ChangeRetention time.Duration // How long to keep change history
	Clock           clock.Clock   // Optional: time source (defaults to RealClock if nil)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{
		Path:            path,
		WALMode:         true,
		CleanupInterval: 5 * time.Minute,
		ChangeRetention: 24 * time.Hour,
	}
}

// NewSQLiteStore opens or creates the database at opts.Path.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && opts.Path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.Path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec("PRAGMA temp_store = MEMORY"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute pragma: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SQLiteStore{
		db:          db,
		clock:       clock.OrReal(opts.Clock),
		subscribers: make(map[uint64]chan Change),
		ctx:         ctx,
		cancel:      cancel,
	}

	if err := s.initSchema(); err != nil {
		cancel()
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.loadVersion(); err != nil {
		cancel()
		db.Close()
		return nil, fmt.Errorf("failed to load version: %w", err)
	}

	if opts.CleanupInterval > 0 && opts.ChangeRetention > 0 {
		go s.cleanupLoop(opts.CleanupInterval, opts.ChangeRetention)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS buckets (
			name TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entries (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			version INTEGER NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (bucket, key)
		);

		CREATE TABLE IF NOT EXISTS changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			change_type TEXT NOT NULL,
			version INTEGER NOT NULL,
			timestamp DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_changes_version ON changes(version);
		CREATE INDEX IF NOT EXISTS idx_changes_timestamp ON changes(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) loadVersion() error {
	var version sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(version) FROM changes").Scan(&version); err != nil {
		return err
	}
	if version.Valid {
		s.version = uint64(version.Int64)
	}
	return nil
}

func (s *SQLiteStore) cleanupLoop(interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.PruneChanges(retention)
		}
	}
}

// PruneChanges drops change log entries older than retention.
func (s *SQLiteStore) PruneChanges(retention time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	cutoff := s.clock.Now().Add(-retention)
	_, _ = s.db.Exec("DELETE FROM changes WHERE timestamp < ?", cutoff)
}

// ──────────────────────────────────────────────────────────────────────────────
// Buckets
// ──────────────────────────────────────────────────────────────────────────────

// CreateBucket creates a new bucket.
func (s *SQLiteStore) CreateBucket(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec("INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)", name, s.clock.Now())
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrBucketExists
	}
	return nil
}

// DeleteBucket removes a bucket and all its entries.
func (s *SQLiteStore) DeleteBucket(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM buckets WHERE name = ?", name)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrBucketMissing
	}
	keys, err := bucketKeysTx(tx, name)
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM entries WHERE bucket = ?", name); err != nil {
		return err
	}

	changes := make([]Change, 0, len(keys))
	now := s.clock.Now()
	version := s.version
	for _, key := range keys {
		version++
		c := Change{Bucket: name, Key: key, Type: ChangeDelete, Timestamp: now, Version: version}
		if err := recordChangeTx(tx, &c); err != nil {
			return err
		}
		changes = append(changes, c)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.version = version
	s.notifySubscribers(changes...)
	return nil
}

// ListBuckets returns all bucket names, sorted.
func (s *SQLiteStore) ListBuckets() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT name FROM buckets ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		buckets = append(buckets, name)
	}
	return buckets, rows.Err()
}

// ──────────────────────────────────────────────────────────────────────────────
// Entries
// ──────────────────────────────────────────────────────────────────────────────

// Get retrieves a value by bucket and key.
func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	entry, err := s.GetWithMeta(bucket, key)
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

// GetWithMeta retrieves a value with its metadata.
func (s *SQLiteStore) GetWithMeta(bucket, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var entry Entry
	err := s.db.QueryRow(`
		SELECT value, version, updated_at FROM entries
		WHERE bucket = ? AND key = ?
	`, bucket, key).Scan(&entry.Value, &entry.Version, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Set stores a value, creating the bucket if needed.
func (s *SQLiteStore) Set(bucket, key string, value []byte) error {
	return s.Update(bucket, func(b *Batch) error {
		b.Put(key, value)
		return nil
	})
}

// Delete removes a key.
func (s *SQLiteStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM entries WHERE bucket = ? AND key = ?", bucket, key)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	change := Change{
		Bucket:    bucket,
		Key:       key,
		Type:      ChangeDelete,
		Timestamp: s.clock.Now(),
		Version:   s.version + 1,
	}
	if err := recordChangeTx(tx, &change); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.version = change.Version
	s.notifySubscribers(change)
	return nil
}

// List returns all key-value pairs in a bucket. Map order is random, so
// callers that care about order must store it in the values.
func (s *SQLiteStore) List(bucket string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT key, value FROM entries WHERE bucket = ?", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, rows.Err()
}

// ListKeys returns all keys in a bucket, sorted.
func (s *SQLiteStore) ListKeys(bucket string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT key FROM entries WHERE bucket = ? ORDER BY key", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ──────────────────────────────────────────────────────────────────────────────
// Batches
// ──────────────────────────────────────────────────────────────────────────────

// Batch collects writes to one bucket applied atomically by Update.
type Batch struct {
	puts    []batchPut
	deletes []string
	replace bool
}

type batchPut struct {
	key   string
	value []byte
}

// Put stores value under key.
func (b *Batch) Put(key string, value []byte) {
	b.puts = append(b.puts, batchPut{key: key, value: value})
}

// PutJSON marshals v and stores it under key.
func (b *Batch) PutJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	b.Put(key, data)
	return nil
}

// Delete removes key. Missing keys are ignored.
func (b *Batch) Delete(key string) {
	b.deletes = append(b.deletes, key)
}

// Replace makes the batch the complete new content of the bucket: keys not
// put are deleted.
func (b *Batch) Replace() { b.replace = true }

// Update runs fn to fill a batch and applies it to bucket in one
// transaction. Nothing is written if fn returns an error.
func (s *SQLiteStore) Update(bucket string, fn func(b *Batch) error) error {
	var b Batch
	if err := fn(&b); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.clock.Now()
	if _, err := tx.Exec("INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)", bucket, now); err != nil {
		return err
	}

	existing, values, err := bucketValuesTx(tx, bucket)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, k := range existing {
		present[k] = true
	}

	version := s.version
	var changes []Change
	record := func(c Change) error {
		version++
		c.Bucket = bucket
		c.Timestamp = now
		c.Version = version
		if err := recordChangeTx(tx, &c); err != nil {
			return err
		}
		changes = append(changes, c)
		return nil
	}

	written := make(map[string]bool, len(b.puts))
	for _, p := range b.puts {
		written[p.key] = true
		if old, ok := values[p.key]; ok && bytes.Equal(old, p.value) {
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO entries (bucket, key, value, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(bucket, key) DO UPDATE SET
				value = excluded.value,
				version = excluded.version,
				updated_at = excluded.updated_at
		`, bucket, p.key, p.value, version+1, now)
		if err != nil {
			return err
		}
		typ := ChangeInsert
		if present[p.key] {
			typ = ChangeUpdate
		}
		if err := record(Change{Key: p.key, Value: p.value, Type: typ}); err != nil {
			return err
		}
		present[p.key] = true
		values[p.key] = p.value
	}

	deletes := b.deletes
	if b.replace {
		for _, k := range existing {
			if !written[k] {
				deletes = append(deletes, k)
			}
		}
	}
	for _, key := range deletes {
		if !present[key] {
			continue
		}
		if _, err := tx.Exec("DELETE FROM entries WHERE bucket = ? AND key = ?", bucket, key); err != nil {
			return err
		}
		delete(present, key)
		if err := record(Change{Key: key, Type: ChangeDelete}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.version = version
	s.notifySubscribers(changes...)
	return nil
}

// bucketValuesTx returns the sorted keys of bucket and their values.
func bucketValuesTx(tx *sql.Tx, bucket string) ([]string, map[string][]byte, error) {
	rows, err := tx.Query("SELECT key, value FROM entries WHERE bucket = ? ORDER BY key", bucket)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var keys []string
	values := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		values[key] = value
	}
	return keys, values, rows.Err()
}

func bucketKeysTx(tx *sql.Tx, bucket string) ([]string, error) {
	rows, err := tx.Query("SELECT key FROM entries WHERE bucket = ? ORDER BY key", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ──────────────────────────────────────────────────────────────────────────────
// Change tracking
// ──────────────────────────────────────────────────────────────────────────────

func recordChangeTx(tx *sql.Tx, change *Change) error {
	result, err := tx.Exec(`
		INSERT INTO changes (bucket, key, value, change_type, version, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, change.Bucket, change.Key, change.Value, change.Type, change.Version, change.Timestamp)
	if err != nil {
		return err
	}
	id, _ := result.LastInsertId()
	change.ID = uint64(id)
	return nil
}

func (s *SQLiteStore) notifySubscribers(changes ...Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, change := range changes {
		for _, ch := range s.subscribers {
			select {
			case ch <- change:
			default:
				// Subscriber is slow, skip
			}
		}
	}
}

// Subscribe returns a channel receiving every change until ctx is done.
func (s *SQLiteStore) Subscribe(ctx context.Context) <-chan Change {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Change, 100)
	s.subscribers[id] = ch
	s.subMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, exists := s.subscribers[id]; exists {
			delete(s.subscribers, id)
			close(ch)
		}
	}()

	return ch
}

// GetChangesSince returns the changes after version, oldest first. When
// buckets are given only their changes are returned.
func (s *SQLiteStore) GetChangesSince(version uint64, buckets ...string) ([]Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := "SELECT id, bucket, key, value, change_type, version, timestamp FROM changes WHERE version > ?"
	args := []any{version}
	if len(buckets) > 0 {
		query += " AND bucket IN (?" + strings.Repeat(", ?", len(buckets)-1) + ")"
		for _, b := range buckets {
			args = append(args, b)
		}
	}
	rows, err := s.db.Query(query+" ORDER BY version, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		if err := rows.Scan(&c.ID, &c.Bucket, &c.Key, &c.Value, &c.Type, &c.Version, &c.Timestamp); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// CurrentVersion returns the version of the last change.
func (s *SQLiteStore) CurrentVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ──────────────────────────────────────────────────────────────────────────────
// Snapshots
// ──────────────────────────────────────────────────────────────────────────────

// CreateSnapshot copies every bucket.
func (s *SQLiteStore) CreateSnapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	snapshot := &Snapshot{
		Version:   s.version,
		Timestamp: s.clock.Now(),
		Buckets:   make(map[string]Bucket),
	}

	names, err := s.db.Query("SELECT name FROM buckets")
	if err != nil {
		return nil, err
	}
	var bucketNames []string
	for names.Next() {
		var name string
		if err := names.Scan(&name); err != nil {
			names.Close()
			return nil, err
		}
		bucketNames = append(bucketNames, name)
	}
	names.Close()

	for _, name := range bucketNames {
		rows, err := s.db.Query("SELECT key, value, version, updated_at FROM entries WHERE bucket = ?", name)
		if err != nil {
			return nil, err
		}
		bucket := make(Bucket)
		for rows.Next() {
			var key string
			var entry Entry
			if err := rows.Scan(&key, &entry.Value, &entry.Version, &entry.UpdatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			bucket[key] = entry
		}
		rows.Close()
		snapshot.Buckets[name] = bucket
	}
	return snapshot, nil
}

// RestoreSnapshot replaces the store content with snapshot. The change log
// is not rewritten.
func (s *SQLiteStore) RestoreSnapshot(snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM buckets"); err != nil {
		return err
	}

	now := s.clock.Now()
	for name, bucket := range snapshot.Buckets {
		if _, err := tx.Exec("INSERT INTO buckets (name, created_at) VALUES (?, ?)", name, now); err != nil {
			return err
		}
		for key, entry := range bucket {
			if _, err := tx.Exec(`
				INSERT INTO entries (bucket, key, value, version, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, name, key, entry.Value, entry.Version, entry.UpdatedAt); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	// The change log is kept, so versions never go back.
	s.version = max(s.version, snapshot.Version)
	return nil
}

// Close closes the store and every subscriber channel.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	s.subMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()

	return s.db.Close()
}
