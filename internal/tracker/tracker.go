// Package tracker accounts for missing chunks: retry counts, in-flight
// dispatches with timeouts, and the terminal-failure threshold.
package tracker

import "time"

// DefaultMaxRetries is the default retry ceiling per chunk.
const DefaultMaxRetries = 5

// DefaultTimeout is the default in-flight retransmit timeout.
const DefaultTimeout = 5 * time.Second

type inFlightEntry struct {
	id        uint64
	dispatched time.Time
}

// Tracker tracks which chunks of a known total have been received, which
// are pending retransmission, and which are currently in flight.
type Tracker struct {
	totalChunks uint64
	received    map[uint64]struct{}
	pending     map[uint64]struct{}
	inFlight    []inFlightEntry
	maxRetries  uint32
	retryCounts []uint32
	timeout     time.Duration
	now         func() time.Time
}

// New creates a tracker for totalChunks with the default retry/timeout
// configuration.
func New(totalChunks uint64) *Tracker {
	return WithConfig(totalChunks, DefaultMaxRetries, DefaultTimeout)
}

// WithConfig creates a tracker with custom retry/timeout settings.
func WithConfig(totalChunks uint64, maxRetries uint32, timeout time.Duration) *Tracker {
	return &Tracker{
		totalChunks: totalChunks,
		received:    make(map[uint64]struct{}),
		pending:     make(map[uint64]struct{}),
		maxRetries:  maxRetries,
		retryCounts: make([]uint32, totalChunks),
		timeout:     timeout,
		now:         time.Now,
	}
}

func (t *Tracker) removeInFlight(id uint64) {
	out := t.inFlight[:0]
	for _, e := range t.inFlight {
		if e.id != id {
			out = append(out, e)
		}
	}
	t.inFlight = out
}

// MarkReceived clears id from pending and in-flight and records it as
// received.
func (t *Tracker) MarkReceived(id uint64) {
	t.received[id] = struct{}{}
	delete(t.pending, id)
	t.removeInFlight(id)
}

// MarkCorrupted moves id into pending and clears any in-flight record.
func (t *Tracker) MarkCorrupted(id uint64) {
	if id >= t.totalChunks {
		return
	}
	delete(t.received, id)
	t.pending[id] = struct{}{}
	t.removeInFlight(id)
}

// GetMissing returns every chunk id not yet received, in ascending order.
func (t *Tracker) GetMissing() []uint64 {
	var out []uint64
	for i := uint64(0); i < t.totalChunks; i++ {
		if _, ok := t.received[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

func (t *Tracker) inFlightSet() map[uint64]struct{} {
	s := make(map[uint64]struct{}, len(t.inFlight))
	for _, e := range t.inFlight {
		s[e.id] = struct{}{}
	}
	return s
}

// GetPendingRetransmit returns pending chunks that aren't already
// in-flight and haven't exceeded max retries.
func (t *Tracker) GetPendingRetransmit() []uint64 {
	inFlight := t.inFlightSet()
	var out []uint64
	for id := range t.pending {
		if _, busy := inFlight[id]; busy {
			continue
		}
		if t.retryCounts[id] < t.maxRetries {
			out = append(out, id)
		}
	}
	return out
}

// GetNextBatch drains timed-out in-flight entries back to pending (without
// incrementing their retry count, since the original attempt already
// counted), then fills up to batchSize slots from pending chunks whose
// retry count is below max_retries, incrementing the retry count and
// stamping the dispatch time only for chunks actually placed in the batch.
func (t *Tracker) GetNextBatch(batchSize int) []uint64 {
	now := t.now()
	var timedOut []uint64
	for _, e := range t.inFlight {
		if now.Sub(e.dispatched) > t.timeout {
			timedOut = append(timedOut, e.id)
		}
	}

	for _, id := range timedOut {
		t.removeInFlight(id)
		t.pending[id] = struct{}{}
	}

	batch := t.GetPendingRetransmit()
	if len(batch) > batchSize {
		batch = batch[:batchSize]
	}

	for _, id := range batch {
		t.inFlight = append(t.inFlight, inFlightEntry{id: id, dispatched: now})
		t.retryCounts[id]++
		delete(t.pending, id)
	}

	return batch
}

// IsComplete reports whether every chunk has been received.
func (t *Tracker) IsComplete() bool {
	return uint64(len(t.received)) == t.totalChunks
}

// CompletionPercentage returns the received fraction as a percentage.
func (t *Tracker) CompletionPercentage() float64 {
	if t.totalChunks == 0 {
		return 100.0
	}
	return float64(len(t.received)) / float64(t.totalChunks) * 100.0
}

// ReceivedCount returns the number of chunks marked received.
func (t *Tracker) ReceivedCount() int { return len(t.received) }

// GetFailedChunks enumerates ids not received whose retry count has
// reached max_retries.
func (t *Tracker) GetFailedChunks() []uint64 {
	var out []uint64
	for i := uint64(0); i < t.totalChunks; i++ {
		if _, ok := t.received[i]; ok {
			continue
		}
		if t.retryCounts[i] >= t.maxRetries {
			out = append(out, i)
		}
	}
	return out
}

// HasFailed is true whenever GetFailedChunks is non-empty; the
// orchestrator treats that as a terminal transfer failure.
func (t *Tracker) HasFailed() bool {
	return len(t.GetFailedChunks()) > 0
}

// RetryCount returns the current retry count for a chunk id.
func (t *Tracker) RetryCount(id uint64) uint32 {
	if id >= uint64(len(t.retryCounts)) {
		return 0
	}
	return t.retryCounts[id]
}
