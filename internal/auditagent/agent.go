package auditagent

import (
	"context"
	"sync"
	"time"

	"github.com/teaclave-sh/lifecycle/internal/log"
	"github.com/teaclave-sh/lifecycle/internal/metrics"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

const defaultCapacity = 10000

// FlushFunc delivers a batch of entries to Management's save_logs RPC.
// A non-nil error leaves the batch queued for the next flush attempt.
type FlushFunc func(ctx context.Context, entries []types.AuditEntry) error

// Buffer is a bounded, drop-oldest FIFO of pending audit entries.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	entries  []types.AuditEntry
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Push appends entry, dropping the oldest queued entry if the buffer
// is already at capacity.
func (b *Buffer) Push(entry types.AuditEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
		metrics.AuditAgentEntriesDroppedTotal.Inc()
	}
	b.entries = append(b.entries, entry)
}

// Drain removes and returns every currently queued entry.
func (b *Buffer) Drain() []types.AuditEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil
	}
	out := b.entries
	b.entries = nil
	return out
}

// Requeue pushes entries back to the front of the buffer, used after
// a failed flush so they're retried ahead of anything newer, subject
// to the same capacity/drop-oldest policy.
func (b *Buffer) Requeue(entries []types.AuditEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(entries, b.entries...)
	if len(b.entries) > b.capacity {
		overflow := len(b.entries) - b.capacity
		b.entries = b.entries[overflow:]
		metrics.AuditAgentEntriesDroppedTotal.Add(float64(overflow))
	}
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Agent periodically flushes a Buffer to Management.
type Agent struct {
	buffer   *Buffer
	flush    FlushFunc
	interval time.Duration
}

// New builds an Agent flushing buffer to flush every interval
// (defaulting to 30s, spec §4.7).
func New(buffer *Buffer, flush FlushFunc, interval time.Duration) *Agent {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Agent{buffer: buffer, flush: flush, interval: interval}
}

// Record enqueues entry for the next flush. Never blocks on I/O.
func (a *Agent) Record(entry types.AuditEntry) {
	a.buffer.Push(entry)
}

// Run drives the flush ticker until ctx is canceled.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushOnce(context.Background())
			return
		case <-ticker.C:
			a.flushOnce(ctx)
		}
	}
}

func (a *Agent) flushOnce(ctx context.Context) {
	batch := a.buffer.Drain()
	if len(batch) == 0 {
		return
	}
	if err := a.flush(ctx, batch); err != nil {
		log.Logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("save_logs flush failed, requeuing batch")
		metrics.AuditAgentFlushFailuresTotal.Inc()
		a.buffer.Requeue(batch)
	}
}
