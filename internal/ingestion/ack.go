package ingestion

import "sync"

// AckTracker holds broker acknowledgements for sequenced ops until the
// event log has committed them. An op acked any earlier could be lost by
// a crash and would leave a permanent gap in the source sequence.
//
// Track is called from the core goroutine and Release from the
// persistence worker.
type AckTracker struct {
	mu      sync.Mutex
	durable int64
	pending []pendingAck
}

type pendingAck struct {
	sequence int64
	in       Inbound
}

// NewAckTracker starts with every sequence up to durable already logged.
func NewAckTracker(durable int64) *AckTracker {
	return &AckTracker{durable: durable}
}

// Track acks in once sequence is durable. Sequences must be passed in
// non-decreasing order.
func (t *AckTracker) Track(sequence int64, in Inbound) {
	t.mu.Lock()
	if sequence <= t.durable {
		t.mu.Unlock()
		in.Ack()
		return
	}
	t.pending = append(t.pending, pendingAck{sequence: sequence, in: in})
	t.mu.Unlock()
}

// Release marks every sequence up to lastSequence durable and acks the
// ops waiting on it. It returns the number of acks sent.
func (t *AckTracker) Release(lastSequence int64) int {
	t.mu.Lock()
	if lastSequence > t.durable {
		t.durable = lastSequence
	}
	n := 0
	for n < len(t.pending) && t.pending[n].sequence <= t.durable {
		n++
	}
	ready := t.pending[:n]
	t.pending = append([]pendingAck(nil), t.pending[n:]...)
	t.mu.Unlock()

	for _, p := range ready {
		p.in.Ack()
	}
	return len(ready)
}

// NakPending redelivers every op still waiting on the log. Used at
// shutdown when the last flush did not cover them.
func (t *AckTracker) NakPending() int {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, p := range pending {
		p.in.Nak()
	}
	return len(pending)
}

// Pending reports how many ops wait on the log.
func (t *AckTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Durable returns the highest sequence known to be logged.
func (t *AckTracker) Durable() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.durable
}
