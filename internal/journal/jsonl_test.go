package journal

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONLWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLWriter(dir, "actions")
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(dir, "actions")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	want := []string{
		filepath.Join(dir, "actions-2026-03-01-10.jsonl.zst"),
		filepath.Join(dir, "actions-2026-03-01-11.jsonl.zst"),
	}
	if len(files) != len(want) || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files=%v want=%v", files, want)
	}

	var got []int
	for _, f := range files {
		err := ReadFile(f, func(line []byte) error {
			var v struct{ N int }
			if err := json.Unmarshal(line, &v); err != nil {
				return err
			}
			got = append(got, v.N)
			return nil
		})
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("lines=%v", got)
	}
}

func TestJSONLWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 1; i <= 2; i++ {
		w := NewJSONLWriter(dir, "reflexes")
		w.now = func() time.Time { return clock }
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	files, _ := Files(dir, "reflexes")
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	n := 0
	if err := ReadFile(files[0], func([]byte) error { n++; return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("lines=%d want=2", n)
	}
}
