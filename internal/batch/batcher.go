// Package batch coalesces bursts of outbound messages for one device into a
// single write. The first enqueue after an idle period arms a short flush
// timer; later enqueues before it fires append to the queue without
// resetting the timer, so latency is bounded rather than debounced. On
// flush the device's queue is handed to the injected flush function in
// enqueue order; on disconnect the pending queue is discarded, never
// flushed.
package batch

import (
	"encoding/json"
	"sync"
	"time"
)

// FlushFunc delivers a device's queued frames when its timer fires.
// The slice is in enqueue order. A single frame should be written
// unwrapped; several should be wrapped in a batch envelope - that shaping
// belongs to the caller, the batcher only owns queueing and timing.
type FlushFunc func(deviceID string, frames []json.RawMessage)

// pendingBatch is one device's not-yet-sent queue plus its flush timer.
// Created on first enqueue after idle, destroyed on flush or discard.
type pendingBatch struct {
	frames []json.RawMessage
	timer  *time.Timer
}

// Batcher owns the per-device pending queues.
// Safe for concurrent use.
type Batcher struct {
	mu      sync.Mutex
	delay   time.Duration
	flush   FlushFunc
	pending map[string]*pendingBatch
}

// New creates a batcher that flushes each device's queue delay after its
// first enqueue.
func New(delay time.Duration, flush FlushFunc) *Batcher {
	return &Batcher{
		delay:   delay,
		flush:   flush,
		pending: make(map[string]*pendingBatch),
	}
}

// Enqueue appends a frame to the device's pending queue, arming the flush
// timer if the queue was empty. The timer is never extended by later
// enqueues.
func (b *Batcher) Enqueue(deviceID string, frame json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[deviceID]
	if !ok {
		p = &pendingBatch{}
		p.timer = time.AfterFunc(b.delay, func() { b.fire(deviceID) })
		b.pending[deviceID] = p
	}
	p.frames = append(p.frames, frame)
}

// PendingCount returns the number of frames queued for a device.
func (b *Batcher) PendingCount(deviceID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.pending[deviceID]; ok {
		return len(p.frames)
	}
	return 0
}

// Discard drops the device's pending queue and cancels its timer.
// Called on disconnect; frames queued for a closed session are never sent.
func (b *Batcher) Discard(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[deviceID]
	if !ok {
		return
	}
	p.timer.Stop()
	delete(b.pending, deviceID)
}

// fire runs on the flush timer goroutine. It detaches the device's queue
// under the lock and delivers outside it, so a slow flush function never
// blocks enqueues for other devices. If Discard won the race the queue is
// already gone and nothing is sent.
func (b *Batcher) fire(deviceID string) {
	b.mu.Lock()
	p, ok := b.pending[deviceID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.pending, deviceID)
	frames := p.frames
	b.mu.Unlock()

	if len(frames) > 0 {
		b.flush(deviceID, frames)
	}
}
