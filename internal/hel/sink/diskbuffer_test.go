package sink

import (
	"path/filepath"
	"testing"

	"github.com/timescale/hel/internal/hel/config"
)

type fakeInner struct {
	lines [][]byte
}

func (f *fakeInner) Write(line []byte) error {
	cp := append([]byte(nil), line...)
	f.lines = append(f.lines, cp)
	return nil
}
func (f *fakeInner) Close() error { return nil }

func TestDiskBuffer_SpillAndDrainRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := newDiskBuffer(&config.DiskBufferSpec{Path: filepath.Join(dir, "buf"), SegmentSizeMB: 1, MaxSizeMB: 10})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.spill([]byte("one\n")); err != nil {
		t.Fatal(err)
	}
	if err := db.spill([]byte("two\n")); err != nil {
		t.Fatal(err)
	}

	inner := &fakeInner{}
	if err := db.drainAll(inner); err != nil {
		t.Fatal(err)
	}
	if len(inner.lines) != 2 {
		t.Fatalf("drained %d lines, want 2", len(inner.lines))
	}
	if string(inner.lines[0]) != "one\n" || string(inner.lines[1]) != "two\n" {
		t.Fatalf("drained lines out of order: %q", inner.lines)
	}
	if db.spilledBytes() != 0 {
		t.Fatalf("spilled bytes after drain = %d, want 0", db.spilledBytes())
	}
}

func TestDiskBuffer_RotateKeepsOldBeforeCurrent(t *testing.T) {
	dir := t.TempDir()
	db, err := newDiskBuffer(&config.DiskBufferSpec{Path: filepath.Join(dir, "buf"), SegmentSizeMB: 0, MaxSizeMB: 10})
	if err != nil {
		t.Fatal(err)
	}
	db.segCap = 5 // force a rotation quickly

	if err := db.spill([]byte("aaaaaa")); err != nil { // exceeds segCap, rotates first
		t.Fatal(err)
	}
	if err := db.spill([]byte("bb")); err != nil {
		t.Fatal(err)
	}

	inner := &fakeInner{}
	if err := db.drainAll(inner); err != nil {
		t.Fatal(err)
	}
	joined := ""
	for _, l := range inner.lines {
		joined += string(l)
	}
	if joined != "aaaaaa\nbb\n" {
		t.Fatalf("drained content = %q, want \"aaaaaa\\nbb\\n\"", joined)
	}
}

func TestDiskBuffer_Full(t *testing.T) {
	dir := t.TempDir()
	db, err := newDiskBuffer(&config.DiskBufferSpec{Path: filepath.Join(dir, "buf"), SegmentSizeMB: 1, MaxSizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	if db.full() {
		t.Fatalf("should not be full initially")
	}
	db.maxCap = 4
	if err := db.spill([]byte("abcd")); err != nil {
		t.Fatal(err)
	}
	if !db.full() {
		t.Fatalf("expected full after reaching maxCap")
	}
}
