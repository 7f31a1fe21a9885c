package cache

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/chazu/classweave/pkg/splice"
	"golang.org/x/sync/errgroup"
)

var target = splice.Target{Class: "demo.ModList", Method: "active", Descriptor: "()Ljava/util/List;"}

func open(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestKeyOf(t *testing.T) {
	in := []byte{0xCA, 0xFE}
	k := KeyOf(in, target, "#hidden")

	tests := []struct {
		name   string
		other  Key
		differ bool
	}{
		{"same inputs", KeyOf([]byte{0xCA, 0xFE}, target, "#hidden"), false},
		{"other bytes", KeyOf([]byte{0xCA, 0xFF}, target, "#hidden"), true},
		{"other marker", KeyOf(in, target, "#secret"), true},
		{"other method", KeyOf(in, splice.Target{Class: target.Class, Method: "all"}, "#hidden"), true},
		// Field boundaries are part of the key.
		{"shifted fields", KeyOf(in, splice.Target{Class: "demo.ModLis", Method: "tactive", Descriptor: target.Descriptor}, "#hidden"), true},
	}
	for _, tt := range tests {
		if (k != tt.other) != tt.differ {
			t.Errorf("%s: keys differ = %v, want %v", tt.name, k != tt.other, tt.differ)
		}
	}

	parsed, err := ParseKey(k.String())
	if err != nil || parsed != k {
		t.Errorf("ParseKey(%s) = %v, %v", k, parsed, err)
	}
	for _, bad := range []string{"", "0OIl", "3mJr7AoUXx2Wqd"} {
		if _, err := ParseKey(bad); !errors.Is(err, ErrBadKey) {
			t.Errorf("ParseKey(%q) error = %v, want ErrBadKey", bad, err)
		}
	}
}

func TestStoreAndLookup(t *testing.T) {
	s := open(t, filepath.Join(t.TempDir(), "cache.db"))
	defer s.Close()

	in, out := []byte("input class"), []byte("rewritten class")
	if _, ok := s.Lookup(in, target, "#hidden"); ok {
		t.Fatal("empty cache reported a hit")
	}
	s.Store(in, target, "#hidden", out)

	got, ok := s.Lookup(in, target, "#hidden")
	if !ok || !bytes.Equal(got, out) {
		t.Fatalf("Lookup = %q, %v, want %q", got, ok, out)
	}
	got[0] = 'X'
	if again, _ := s.Lookup(in, target, "#hidden"); !bytes.Equal(again, out) {
		t.Error("modifying a lookup result changed the cache")
	}
	if _, ok := s.Lookup(in, target, "#other"); ok {
		t.Error("lookup with another marker hit")
	}

	st := s.Stats()
	if st.Entries != 1 || st.Hits != 2 || st.Misses != 2 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestPersistAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	s := open(t, path)
	for i := 0; i < 10; i++ {
		s.Store([]byte(fmt.Sprintf("in%d", i)), target, "#hidden", bytes.Repeat([]byte{byte(i)}, 1000+i))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := s.Stats(); st.Written+st.Dropped != 10 {
		t.Errorf("written %d + dropped %d, want 10", st.Written, st.Dropped)
	}
	written := s.Stats().Written

	s = open(t, path)
	defer s.Close()
	if int64(s.Len()) != written {
		t.Fatalf("reopened cache has %d entries, want %d", s.Len(), written)
	}
	for i := 0; i < int(written); i++ {
		got, ok := s.Lookup([]byte(fmt.Sprintf("in%d", i)), target, "#hidden")
		if !ok || len(got) != 1000+i || got[0] != byte(i) {
			t.Errorf("entry %d = %d bytes, %v", i, len(got), ok)
		}
	}
}

func TestCorruptRowsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s := open(t, path)
	s.Store([]byte("good"), target, "#hidden", []byte("output"))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	bad := KeyOf([]byte("bad"), target, "#hidden")
	rows := []struct {
		key     string
		payload []byte
	}{
		{"not a key!", []byte{1}},
		{bad.String(), []byte("not zstd")},
	}
	for _, r := range rows {
		if _, err := db.Exec("INSERT INTO splices (key, payload, size, created) VALUES (?, ?, 6, 0)", r.key, r.payload); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	s = open(t, path)
	defer s.Close()
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if _, ok := s.Lookup([]byte("good"), target, "#hidden"); !ok {
		t.Error("good entry lost")
	}
}

func TestStoreAfterClose(t *testing.T) {
	s := open(t, filepath.Join(t.TempDir(), "cache.db"))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s.Store([]byte("late"), target, "#hidden", []byte("x"))
	if s.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", s.Stats().Dropped)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestConcurrentUse(t *testing.T) {
	s := open(t, filepath.Join(t.TempDir(), "cache.db"))
	defer s.Close()

	var eg errgroup.Group
	for i := 0; i < 16; i++ {
		i := i
		eg.Go(func() error {
			in := []byte(fmt.Sprintf("class%d", i))
			s.Store(in, target, "#hidden", in)
			if got, ok := s.Lookup(in, target, "#hidden"); !ok || !bytes.Equal(got, in) {
				return fmt.Errorf("class%d: lookup = %q, %v", i, got, ok)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 16 {
		t.Errorf("Len = %d, want 16", s.Len())
	}
}
