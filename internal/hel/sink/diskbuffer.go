package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/timescale/hel/internal/hel/config"
)

// diskBuffer implements the disk_buffer strategy's spill files (spec
// §4.H): lines are appended to a current segment which rotates to a
// single ".old" slot at segment_size_mb, and a drain walks ".old" then
// the current segment back into the inner sink.
type diskBuffer struct {
	mu sync.Mutex

	path    string
	oldPath string
	segCap  int64
	maxCap  int64

	current  *os.File
	curSize  int64
	spilled  int64
}

func newDiskBuffer(spec *config.DiskBufferSpec) (*diskBuffer, error) {
	segCap := int64(spec.SegmentSizeMB) << 20
	if segCap <= 0 {
		segCap = 64 << 20
	}

	f, err := os.OpenFile(spec.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open disk buffer segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat disk buffer segment: %w", err)
	}

	db := &diskBuffer{
		path:    spec.Path,
		oldPath: spec.Path + ".old",
		segCap:  segCap,
		maxCap:  int64(spec.MaxSizeMB) << 20,
		current: f,
		curSize: info.Size(),
		spilled: info.Size(),
	}
	if oldInfo, err := os.Stat(db.oldPath); err == nil {
		db.spilled += oldInfo.Size()
	}
	return db, nil
}

// full reports whether total spilled bytes have reached max_size_mb — the
// producer blocks rather than spilling further (spec §4.H).
func (db *diskBuffer) full() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.maxCap > 0 && db.spilled >= db.maxCap
}

func (db *diskBuffer) spilledBytes() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.spilled
}

func (db *diskBuffer) spill(line []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.curSize+int64(len(line)) >= db.segCap {
		if err := db.rotate(); err != nil {
			return fmt.Errorf("rotate disk buffer segment: %w", err)
		}
	}
	n, err := db.current.Write(line)
	db.curSize += int64(n)
	db.spilled += int64(n)
	return err
}

// rotate closes the current segment and appends it onto the single ".old"
// slot (concatenating rather than clobbering, in case the drain hasn't
// finished it yet), then opens a fresh current segment.
func (db *diskBuffer) rotate() error {
	if err := db.current.Close(); err != nil {
		return fmt.Errorf("close current segment: %w", err)
	}
	if err := appendFileTo(db.oldPath, db.path); err != nil {
		return err
	}
	if err := os.Remove(db.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove rotated segment: %w", err)
	}
	f, err := os.OpenFile(db.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen current segment: %w", err)
	}
	db.current = f
	db.curSize = 0
	return nil
}

func appendFileTo(dstPath, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s into %s: %w", srcPath, dstPath, err)
	}
	return nil
}

// drainAll walks .old then the current segment into inner, in that order,
// so previously-spilled lines reach the inner sink before freshly spilled
// ones (spec §4.H's FIFO invariant). Both files are truncated to empty
// (by removal) once fully drained.
func (db *diskBuffer) drainAll(inner innerSink) error {
	if err := drainFileInto(db.oldPath, inner); err != nil {
		return fmt.Errorf("drain .old segment: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.current.Close(); err != nil {
		return fmt.Errorf("close current segment for drain: %w", err)
	}
	if err := drainFileInto(db.path, inner); err != nil {
		f, reopenErr := os.OpenFile(db.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if reopenErr == nil {
			db.current = f
		}
		return fmt.Errorf("drain current segment: %w", err)
	}

	f, err := os.OpenFile(db.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen current segment after drain: %w", err)
	}
	db.current = f
	db.curSize = 0
	db.spilled = 0
	return nil
}

func drainFileInto(path string, inner innerSink) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		line := append(append([]byte(nil), scanner.Bytes()...), '\n')
		if err := inner.Write(line); err != nil {
			f.Close()
			return fmt.Errorf("write drained line: %w", err)
		}
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return fmt.Errorf("scan %s: %w", path, scanErr)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove drained segment %s: %w", path, err)
	}
	return nil
}
