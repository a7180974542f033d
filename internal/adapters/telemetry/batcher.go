// Package telemetry provides adapters for collecting and processing build telemetry.
package telemetry

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

const (
	// DefaultSizeLimit is the buffer size threshold triggering a flush.
	DefaultSizeLimit = 4096
	// DefaultTimeLimit is the interval of the background flush ticker.
	DefaultTimeLimit = 50 * time.Millisecond
)

var errBatcherClosed = errors.New("BatchProcessor is closed")

// BatchProcessor buffers writes and delivers them in batches, either when
// the buffer crosses a size threshold or on a timer. Safe for concurrent
// use.
type BatchProcessor struct {
	sizeLimit int
	timeLimit time.Duration
	onFlush   func([]byte)

	mu     sync.Mutex
	buffer *bytes.Buffer
	ticker *time.Ticker
	done   chan struct{}
	closed bool
}

// NewBatchProcessor returns a running BatchProcessor. Zero limits select
// the defaults. Call Close to stop the background ticker.
func NewBatchProcessor(sizeLimit int, timeLimit time.Duration, onFlush func([]byte)) *BatchProcessor {
	if sizeLimit <= 0 {
		sizeLimit = DefaultSizeLimit
	}
	if timeLimit <= 0 {
		timeLimit = DefaultTimeLimit
	}

	bp := &BatchProcessor{
		sizeLimit: sizeLimit,
		timeLimit: timeLimit,
		onFlush:   onFlush,
		buffer:    new(bytes.Buffer),
		ticker:    time.NewTicker(timeLimit),
		done:      make(chan struct{}),
	}
	go bp.loop()

	return bp
}

// Write appends p to the buffer, flushing when the size limit is crossed.
func (bp *BatchProcessor) Write(p []byte) (n int, err error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.closed {
		return 0, errBatcherClosed
	}

	n, err = bp.buffer.Write(p)
	if err != nil {
		return n, err
	}

	if bp.buffer.Len() >= bp.sizeLimit {
		bp.flushLocked()
		// A full-buffer flush resets the clock so the ticker does not fire
		// again immediately.
		bp.ticker.Reset(bp.timeLimit)
	}

	return n, nil
}

// Flush delivers any buffered data to the callback.
func (bp *BatchProcessor) Flush() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.closed {
		return
	}
	bp.flushLocked()
}

// Close stops the background flusher and performs a final flush.
func (bp *BatchProcessor) Close() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.closed {
		return nil
	}

	bp.closed = true
	close(bp.done)
	bp.flushLocked()
	return nil
}

func (bp *BatchProcessor) loop() {
	for {
		select {
		case <-bp.ticker.C:
			bp.Flush()
		case <-bp.done:
			bp.ticker.Stop()
			return
		}
	}
}

// flushLocked must be called with mu held. The callback runs under the
// lock, which preserves batch ordering; onFlush must be fast.
func (bp *BatchProcessor) flushLocked() {
	if bp.buffer.Len() == 0 {
		return
	}

	data := make([]byte, bp.buffer.Len())
	copy(data, bp.buffer.Bytes())
	bp.buffer.Reset()

	if bp.onFlush != nil {
		bp.onFlush(data)
	}
}
