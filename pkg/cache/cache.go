// Package cache persists splice results so a class seen in an earlier
// run is rewritten without parsing it again.
//
// Entries live in an SQLite database and are all loaded into memory when
// the store opens. Lookups never touch the database; new entries are
// written by a background goroutine.
package cache

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/classweave/pkg/splice"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
	"github.com/tliron/commonlog"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("classweave.cache")

// ErrBadKey reports a stored key that is not a base58 digest.
var ErrBadKey = errors.New("cache: bad key")

// DefaultBuffer is the number of pending writes held before new entries
// are dropped.
const DefaultBuffer = 64

// Key identifies a splice: the input bytes, the target and the marker.
type Key [32]byte

// KeyOf returns the key of a splice.
func KeyOf(input []byte, target splice.Target, marker string) Key {
	h := blake3.New()
	for _, field := range [][]byte{input, []byte(target.Class), []byte(target.Method), []byte(target.Descriptor), []byte(marker)} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write(field)
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

func (k Key) String() string {
	return base58.Encode(k[:])
}

// ParseKey decodes the text form of a key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("%w: %s: %w", ErrBadKey, s, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("%w: %s decodes to %d bytes", ErrBadKey, s, len(b))
	}
	copy(k[:], b)
	return k, nil
}

type write struct {
	key    Key
	output []byte
}

// Stats are store counters.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
	Written int64
	Dropped int64
}

// Store is a persistent splice result cache. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	mu  sync.RWMutex
	mem map[Key][]byte

	sendMu sync.RWMutex
	closed bool
	writes chan write
	done   chan struct{}

	hits    atomic.Int64
	misses  atomic.Int64
	written atomic.Int64
	dropped atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the cache database at path and loads its
// entries. buffer bounds the pending writes; zero means DefaultBuffer.
func Open(path string, buffer int) (*Store, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS splices (
		key     TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		size    INTEGER NOT NULL,
		created INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		enc:    enc,
		dec:    dec,
		mem:    make(map[Key][]byte),
		writes: make(chan write, buffer),
		done:   make(chan struct{}),
	}
	if err := s.preload(); err != nil {
		db.Close()
		dec.Close()
		return nil, err
	}
	go s.writer()
	log.Debugf("opened %s with %d entries", path, len(s.mem))
	return s, nil
}

// preload reads every entry into memory. Rows that fail to decode are
// skipped.
func (s *Store) preload() error {
	rows, err := s.db.Query("SELECT key, payload, size FROM splices")
	if err != nil {
		return fmt.Errorf("querying cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			text    string
			payload []byte
			size    int
		)
		if err := rows.Scan(&text, &payload, &size); err != nil {
			return fmt.Errorf("reading cache row: %w", err)
		}
		key, err := ParseKey(text)
		if err != nil {
			log.Warningf("skipping cache row: %s", err)
			continue
		}
		out, err := s.dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil || len(out) != size {
			log.Warningf("skipping corrupt cache entry %s", text)
			continue
		}
		s.mem[key] = out
	}
	return rows.Err()
}

func (s *Store) writer() {
	defer close(s.done)
	for w := range s.writes {
		payload := s.enc.EncodeAll(w.output, nil)
		_, err := s.db.Exec(
			"INSERT OR REPLACE INTO splices (key, payload, size, created) VALUES (?, ?, ?, ?)",
			w.key.String(), payload, len(w.output), time.Now().Unix(),
		)
		if err != nil {
			log.Errorf("writing cache entry %s: %s", w.key, err)
			continue
		}
		s.written.Add(1)
	}
}

// Lookup returns the cached output of a splice.
func (s *Store) Lookup(input []byte, target splice.Target, marker string) ([]byte, bool) {
	key := KeyOf(input, target, marker)
	s.mu.RLock()
	out, ok := s.mem[key]
	s.mu.RUnlock()
	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return bytes.Clone(out), true
}

// Store records the output of a splice. The entry is usable at once and
// persisted in the background; it is dropped from persistence when the
// write buffer is full or the store is closed.
func (s *Store) Store(input []byte, target splice.Target, marker string, output []byte) {
	key := KeyOf(input, target, marker)
	output = bytes.Clone(output)

	s.mu.Lock()
	s.mem[key] = output
	s.mu.Unlock()

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.writes <- write{key: key, output: output}:
	default:
		s.dropped.Add(1)
		log.Warningf("write buffer full, not persisting %s", key)
	}
}

// Len returns the number of entries in memory.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mem)
}

// Stats returns the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Entries: s.Len(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Written: s.written.Load(),
		Dropped: s.dropped.Load(),
	}
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.closed = true
		close(s.writes)
		s.sendMu.Unlock()

		<-s.done
		s.enc.Close()
		s.dec.Close()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
