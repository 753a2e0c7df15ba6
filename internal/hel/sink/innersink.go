package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/timescale/hel/internal/hel/config"
)

// innerSink is where accepted lines ultimately land (spec §4.H).
type innerSink interface {
	Write(line []byte) error
	Close() error
}

func newInnerSink(spec config.InnerSinkSpec, stdoutBufSize int, onFatal func(error)) (innerSink, error) {
	switch spec.Type {
	case "", "stdout":
		return newStdoutSink(stdoutBufSize, onFatal), nil
	case "file":
		return newFileSink(spec)
	default:
		return nil, fmt.Errorf("unknown inner sink type %q", spec.Type)
	}
}

// stdoutSink writes NDJSON lines to a buffered stdout. A broken pipe is
// fatal (spec §4.H): nobody is reading stdout, so the process exits
// non-zero rather than buffer indefinitely.
type stdoutSink struct {
	mu      sync.Mutex
	w       *bufio.Writer
	onFatal func(error)
}

func newStdoutSink(bufSize int, onFatal func(error)) *stdoutSink {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	if onFatal == nil {
		onFatal = func(err error) {
			fmt.Fprintln(os.Stderr, "hel: fatal output error:", err)
			os.Exit(1)
		}
	}
	return &stdoutSink{w: bufio.NewWriterSize(os.Stdout, bufSize), onFatal: onFatal}
}

func (s *stdoutSink) Write(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(line); err != nil {
		if isBrokenPipe(err) {
			s.onFatal(err)
		}
		return err
	}
	if err := s.w.Flush(); err != nil {
		if isBrokenPipe(err) {
			s.onFatal(err)
		}
		return err
	}
	return nil
}

func (s *stdoutSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe)
}

// fileSink writes NDJSON lines to a file, with optional daily or
// size-based rotation.
type fileSink struct {
	mu sync.Mutex

	path     string
	rotation string
	sizeCap  int64

	f            *os.File
	size         int64
	lastRotation string // UTC "2006-01-02", for daily rotation
}

func newFileSink(spec config.InnerSinkSpec) (*fileSink, error) {
	f, err := os.OpenFile(spec.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat output file: %w", err)
	}

	fs := &fileSink{
		path:     spec.Path,
		rotation: spec.Rotation,
		sizeCap:  int64(spec.RotationSizeMB) << 20,
		f:        f,
		size:     info.Size(),
	}
	if spec.Rotation == "daily" {
		fs.lastRotation = time.Now().UTC().Format("2006-01-02")
	}
	return fs, nil
}

func (fs *fileSink) Write(line []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.maybeRotate(int64(len(line))); err != nil {
		return fmt.Errorf("rotate output file: %w", err)
	}
	n, err := fs.f.Write(line)
	fs.size += int64(n)
	return err
}

func (fs *fileSink) maybeRotate(nextWrite int64) error {
	switch fs.rotation {
	case "daily":
		today := time.Now().UTC().Format("2006-01-02")
		if today == fs.lastRotation {
			return nil
		}
		if err := fs.rotateTo(fs.path + "." + fs.lastRotation); err != nil {
			return err
		}
		fs.lastRotation = today
	case "size":
		// Rotate at-or-above the configured size, checked before the
		// write that would cross it, so no segment exceeds the cap.
		if fs.size+nextWrite >= fs.sizeCap {
			return fs.rotateNumbered()
		}
	}
	return nil
}

func (fs *fileSink) rotateTo(target string) error {
	if err := fs.f.Close(); err != nil {
		return fmt.Errorf("close before rotate: %w", err)
	}
	if err := os.Rename(fs.path, target); err != nil {
		return fmt.Errorf("rename for rotation: %w", err)
	}
	f, err := os.OpenFile(fs.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen after rotation: %w", err)
	}
	fs.f = f
	fs.size = 0
	return nil
}

func (fs *fileSink) rotateNumbered() error {
	if err := fs.f.Close(); err != nil {
		return fmt.Errorf("close before rotate: %w", err)
	}
	for n := highestRotatedIndex(fs.path); n >= 1; n-- {
		src := fmt.Sprintf("%s.%d", fs.path, n)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := fmt.Sprintf("%s.%d", fs.path, n+1)
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("shift rotated segment %s: %w", src, err)
		}
	}
	if err := os.Rename(fs.path, fs.path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename for rotation: %w", err)
	}
	f, err := os.OpenFile(fs.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen after rotation: %w", err)
	}
	fs.f = f
	fs.size = 0
	return nil
}

func highestRotatedIndex(path string) int {
	matches, _ := filepath.Glob(path + ".[0-9]*")
	max := 0
	for _, m := range matches {
		suffix := strings.TrimPrefix(m, path+".")
		if n, err := strconv.Atoi(suffix); err == nil && n > max {
			max = n
		}
	}
	return max
}

func (fs *fileSink) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.f.Close()
}
