// Package journal records notable transformation events as a sequence
// of canonical CBOR records.
package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("classweave.journal")

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// DefaultBuffer is the number of records held before new ones are dropped.
const DefaultBuffer = 256

// Kind classifies a record.
type Kind string

const (
	KindStart   Kind = "start"
	KindVersion Kind = "version"
	KindRewrite Kind = "rewrite"
	KindFailure Kind = "failure"
	KindPanic   Kind = "panic"
	KindBoot    Kind = "boot"
	KindStop    Kind = "stop"
)

// Record is one journal entry. Run and Seq are assigned by the journal.
type Record struct {
	Run    string `cbor:"run"`
	Seq    uint64 `cbor:"seq"`
	Time   int64  `cbor:"time"`
	Kind   Kind   `cbor:"kind"`
	Class  string `cbor:"class,omitempty"`
	Loader uint64 `cbor:"loader,omitempty"`
	Key    string `cbor:"key,omitempty"`
	In     int    `cbor:"in,omitempty"`
	Out    int    `cbor:"out,omitempty"`
	Detail string `cbor:"detail,omitempty"`
}

// At returns the record time.
func (r Record) At() time.Time {
	return time.Unix(0, r.Time)
}

func (r Record) String() string {
	s := fmt.Sprintf("%s #%d %s %s", r.At().Format(time.RFC3339Nano), r.Seq, r.Run, r.Kind)
	if r.Class != "" {
		s += " " + r.Class
	}
	if r.In != 0 || r.Out != 0 {
		s += fmt.Sprintf(" %d->%d bytes", r.In, r.Out)
	}
	if r.Key != "" {
		s += " key=" + r.Key
	}
	if r.Detail != "" {
		s += ": " + r.Detail
	}
	return s
}

// Journal writes records in the background. Record never blocks; when
// the buffer is full the record is dropped and counted.
type Journal struct {
	run string
	seq atomic.Uint64

	mu      sync.RWMutex
	closed  bool
	records chan Record
	done    chan struct{}

	enc     *cbor.Encoder
	closer  io.Closer
	written atomic.Int64
	dropped atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New returns a journal writing to w with a fresh run ID. buffer zero
// means DefaultBuffer.
func New(w io.Writer, buffer int) *Journal {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	j := &Journal{
		run:     uuid.New().String(),
		records: make(chan Record, buffer),
		done:    make(chan struct{}),
		enc:     cborEncMode.NewEncoder(w),
	}
	go j.writer()
	return j
}

// Open appends to the journal file at path, creating it if needed.
func Open(path string, buffer int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	j := New(f, buffer)
	j.closer = f
	return j, nil
}

// RunID identifies this journal's records among those of other runs
// sharing the file.
func (j *Journal) RunID() string {
	return j.run
}

// Record queues r.
func (j *Journal) Record(r Record) {
	r.Run = j.run
	r.Seq = j.seq.Add(1)
	if r.Time == 0 {
		r.Time = time.Now().UnixNano()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.records <- r:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) writer() {
	defer close(j.done)
	failed := false
	for r := range j.records {
		if failed {
			j.dropped.Add(1)
			continue
		}
		if err := j.enc.Encode(r); err != nil {
			log.Errorf("writing journal: %s", err)
			failed = true
			j.dropped.Add(1)
			continue
		}
		j.written.Add(1)
	}
}

// Written returns the number of records written.
func (j *Journal) Written() int64 { return j.written.Load() }

// Dropped returns the number of records lost to a full buffer, a write
// error or a closed journal.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Close writes the queued records and closes the file opened by Open.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.records)
		j.mu.Unlock()

		<-j.done
		if j.closer != nil {
			j.closeErr = j.closer.Close()
		}
	})
	return j.closeErr
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// Read decodes every record in r. A record cut short at the end, as left
// by a crash, ends the journal without error.
func Read(r io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			log.Warningf("journal ends with a truncated record after %d records", len(out))
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("journal: record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}

// ReadFile decodes the journal file at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
