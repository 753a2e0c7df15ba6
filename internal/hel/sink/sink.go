// Package sink implements the process-wide Output Sink (spec §4.H): a
// bounded queue in front of an inner writer (stdout or a rotating file),
// with block, drop, and disk_buffer strategies for handling backpressure.
//
// The bounded queue is a mutex/condvar structure rather than a channel.
// A channel can't support the drop strategy's oldest_first/newest_first/
// random eviction, or age-based eviction, since neither lets you inspect
// or remove an arbitrary element; see queue.go.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/timescale/hel/internal/hel/config"
)

// DropReason classifies why a line never reached the inner sink.
type DropReason string

const (
	DropBackpressure DropReason = "backpressure"
	DropMaxQueueAge  DropReason = "max_queue_age"
)

// Stats is a snapshot for health reporting.
type Stats struct {
	Queued           int
	DroppedTotal     int64
	DroppedByReason  map[DropReason]int64
	DiskSpilledBytes int64
}

// Sink accepts NDJSON lines from poll ticks across all sources and writes
// them to the inner sink, applying the configured overflow strategy.
type Sink struct {
	spec config.OutputSpec

	queue    *boundedQueue
	diskBuf  *diskBuffer
	memGuard *memoryGuard

	innerMu sync.Mutex
	inner   innerSink

	wg        sync.WaitGroup
	stopDrain chan struct{}

	droppedMu sync.Mutex
	dropped   map[DropReason]int64
}

// New builds a Sink and starts its background writer (and, for the
// disk_buffer strategy, drain) goroutines. onFatal is invoked when the
// inner sink hits an unrecoverable error (a broken stdout pipe); it
// defaults to logging and os.Exit(1) when nil, mirroring the teacher's
// treatment of a dead Matrix connection in
// internal/ruriko/matrix/client.go's reconnect loop, which likewise
// treats an unrecoverable transport failure as fatal to the process
// rather than something to silently swallow.
func New(spec config.OutputSpec, onFatal func(error)) (*Sink, error) {
	inner, err := newInnerSink(spec.Inner, spec.StdoutBufferSize, onFatal)
	if err != nil {
		return nil, fmt.Errorf("build inner sink: %w", err)
	}

	s := &Sink{
		spec:     spec,
		queue:    newBoundedQueue(spec.EventQueueCapacity()),
		inner:    inner,
		memGuard: newMemoryGuard(spec.MemoryThresholdBytes()),
		dropped:  make(map[DropReason]int64),
	}

	if spec.Strategy == "disk_buffer" {
		db, err := newDiskBuffer(spec.DiskBuffer)
		if err != nil {
			return nil, fmt.Errorf("build disk buffer: %w", err)
		}
		s.diskBuf = db
		s.stopDrain = make(chan struct{})
		s.wg.Add(1)
		go s.drainLoop()
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// Enqueue hands one NDJSON line (already rendered, newline-terminated) to
// the sink. sourceID is carried only for drop logging.
func (s *Sink) Enqueue(sourceID string, line []byte) error {
	it := queuedLine{sourceID: sourceID, line: line, queuedAt: time.Now()}

	if s.spec.MaxQueueAgeSecs > 0 {
		if n := s.queue.evictAged(time.Duration(s.spec.MaxQueueAgeSecs) * time.Second); n > 0 {
			s.recordDropped(DropMaxQueueAge, n)
		}
	}

	switch s.spec.Strategy {
	case "disk_buffer":
		return s.enqueueDiskBuffer(it)
	case "drop":
		if dropped, reason := s.queue.pushDrop(it, s.spec.DropPolicy); dropped != nil {
			s.recordDropped(reason, 1)
			slog.Warn("output sink dropped line", "source", dropped.sourceID, "policy", s.spec.DropPolicy)
		}
		return nil
	default: // "block"
		// The memory guard degrades block to drop under pressure: the
		// incoming line is dropped as if the queue were full, since blocking
		// indefinitely with no signal for when RSS will fall risks wedging
		// every source's poll tick on a sink that never drains.
		if s.memGuard.tripped() {
			s.recordDropped(DropBackpressure, 1)
			slog.Warn("output sink dropped line under memory pressure", "source", sourceID)
			return nil
		}
		if !s.queue.pushBlock(it) {
			return fmt.Errorf("output sink closed")
		}
		return nil
	}
}

// enqueueDiskBuffer prefers the in-memory queue and only spills to disk
// once it's full, draining back out of order of arrival as the writer
// catches up. When the disk buffer itself is full it busy-waits rather
// than blocking on a condition variable, since there is no event to wait
// on besides "the drain loop made room" which fires on its own schedule;
// spec §4.H bounds the buffer by max_size_mb, not by latency, so a short
// poll interval here is an acceptable simplification over a proper
// wakeup channel.
func (s *Sink) enqueueDiskBuffer(it queuedLine) error {
	if !s.memGuard.tripped() && s.queue.tryPush(it) {
		return nil
	}
	for s.diskBuf.full() {
		time.Sleep(50 * time.Millisecond)
	}
	if err := s.diskBuf.spill(it.line); err != nil {
		return fmt.Errorf("spill to disk buffer: %w", err)
	}
	return nil
}

func (s *Sink) recordDropped(reason DropReason, n int) {
	s.droppedMu.Lock()
	defer s.droppedMu.Unlock()
	s.dropped[reason] += int64(n)
}

// writeLoop drains the in-memory queue into the inner sink until closed.
func (s *Sink) writeLoop() {
	defer s.wg.Done()
	for {
		it, ok := s.queue.pop()
		if !ok {
			return
		}
		s.writeInner(it.line)
	}
}

func (s *Sink) writeInner(line []byte) {
	s.innerMu.Lock()
	defer s.innerMu.Unlock()
	if err := s.inner.Write(line); err != nil {
		slog.Error("output sink write failed", "error", err)
	}
}

// drainLoop periodically flushes the disk buffer back into the inner sink,
// restoring arrival order once the queue backlog clears.
func (s *Sink) drainLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopDrain:
			s.innerMu.Lock()
			_ = s.diskBuf.drainAll(s.inner)
			s.innerMu.Unlock()
			return
		case <-ticker.C:
			s.innerMu.Lock()
			if err := s.diskBuf.drainAll(s.inner); err != nil {
				slog.Error("disk buffer drain failed", "error", err)
			}
			s.innerMu.Unlock()
		}
	}
}

// Capacity returns the bounded queue's configured size, used by the
// Scheduler's backpressure check (spec §4.J) to compare Stats().Queued
// against the 75%-full threshold.
func (s *Sink) Capacity() int {
	return s.queue.capacity
}

// Stats returns a point-in-time snapshot for health reporting.
func (s *Sink) Stats() Stats {
	s.droppedMu.Lock()
	byReason := make(map[DropReason]int64, len(s.dropped))
	var total int64
	for k, v := range s.dropped {
		byReason[k] = v
		total += v
	}
	s.droppedMu.Unlock()

	var spilled int64
	if s.diskBuf != nil {
		spilled = s.diskBuf.spilledBytes()
	}

	return Stats{
		Queued:           s.queue.len(),
		DroppedTotal:     total,
		DroppedByReason:  byReason,
		DiskSpilledBytes: spilled,
	}
}

// Close stops accepting new work, drains what remains, and closes the
// inner sink. It does not take a context for the queue drain itself (the
// queue is bounded and finite), but respects ctx for how long it will
// wait before giving up on the wait group.
func (s *Sink) Close(ctx context.Context) error {
	s.queue.close()
	if s.stopDrain != nil {
		close(s.stopDrain)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("output sink close: %w", ctx.Err())
	}

	return s.inner.Close()
}
