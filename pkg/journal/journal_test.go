package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRecordAndRead(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf, 0)
	records := []Record{
		{Kind: KindStart, Detail: "allow 1.8.9"},
		{Kind: KindRewrite, Class: "demo/ModList", Loader: 2, In: 120, Out: 310, Key: "3yZe7d"},
		{Kind: KindFailure, Class: "demo/Broken", Detail: "malformed class file: truncated"},
		{Kind: KindBoot, Class: "demo/Early", Detail: "primary"},
	}
	for _, r := range records {
		j.Record(r)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if j.Written() != int64(len(records)) || j.Dropped() != 0 {
		t.Fatalf("written %d dropped %d, want %d and 0", j.Written(), j.Dropped(), len(records))
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("read %d records, want %d", len(got), len(records))
	}
	if _, err := uuid.Parse(j.RunID()); err != nil {
		t.Errorf("run ID %q is not a UUID: %v", j.RunID(), err)
	}
	for i, r := range got {
		want := records[i]
		if r.Run != j.RunID() || r.Seq != uint64(i+1) || r.Time == 0 {
			t.Errorf("record %d: run %s seq %d time %d", i, r.Run, r.Seq, r.Time)
		}
		if r.Kind != want.Kind || r.Class != want.Class || r.Loader != want.Loader ||
			r.In != want.In || r.Out != want.Out || r.Key != want.Key || r.Detail != want.Detail {
			t.Errorf("record %d = %+v, want %+v", i, r, want)
		}
	}
}

func TestCanonicalEncoding(t *testing.T) {
	r := Record{Run: "r", Seq: 1, Time: 42, Kind: KindRewrite, Class: "a/B", In: 1, Out: 2}
	a, err := cborEncMode.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	b, err := cborEncMode.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
	if bytes.Contains(a, []byte("detail")) {
		t.Error("empty detail was encoded")
	}
}

func TestOpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "journal.cbor")
	var runs []string
	for i := 0; i < 2; i++ {
		j, err := Open(path, 4)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		j.Record(Record{Kind: KindStart})
		j.Record(Record{Kind: KindStop})
		if err := j.Close(); err != nil {
			t.Fatal(err)
		}
		runs = append(runs, j.RunID())
	}
	if runs[0] == runs[1] {
		t.Error("two runs share a run ID")
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("read %d records, want 4", len(got))
	}
	if got[0].Run != runs[0] || got[3].Run != runs[1] || got[3].Seq != 2 {
		t.Errorf("records out of order: %v", got)
	}
}

func TestTruncatedJournal(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf, 0)
	for i := 0; i < 3; i++ {
		j.Record(Record{Kind: KindRewrite, Class: "demo/C", Detail: strings.Repeat("x", 40)})
	}
	j.Close()

	data := buf.Bytes()
	got, _ := Read(bytes.NewReader(data[:len(data)-5]))
	if len(got) != 2 {
		t.Errorf("read %d records from a truncated journal, want 2", len(got))
	}
}

func TestRecordAfterClose(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf, 1)
	j.Close()
	j.Record(Record{Kind: KindStop})
	if j.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", j.Dropped())
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "none.cbor")); !os.IsNotExist(err) {
		t.Errorf("ReadFile error = %v, want not-exist", err)
	}
}

func TestRecordString(t *testing.T) {
	r := Record{Run: "run", Seq: 3, Kind: KindRewrite, Class: "a/B", In: 10, Out: 20, Key: "k"}
	s := r.String()
	for _, part := range []string{"#3", "rewrite", "a/B", "10->20 bytes", "key=k"} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}
