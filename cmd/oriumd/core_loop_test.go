package main

import (
	"OriumLedger/internal/event"
	"OriumLedger/internal/ingestion"
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// brokerLog counts how each queued op was settled.
type brokerLog struct {
	acks map[int]int
	naks map[int]int
}

func newBrokerLog() *brokerLog {
	return &brokerLog{acks: map[int]int{}, naks: map[int]int{}}
}

func (b *brokerLog) inbound(id int, op event.Op) ingestion.Inbound {
	return ingestion.Inbound{
		Op:       op,
		Source:   ingestion.SourceNATS,
		Received: time.Now(),
		AckFunc:  func() { b.acks[id]++ },
		NakFunc:  func() { b.naks[id]++ },
	}
}

func (b *brokerLog) settledOnce(t *testing.T, n int) {
	t.Helper()
	for id := 0; id < n; id++ {
		if b.acks[id]+b.naks[id] != 1 {
			t.Errorf("op %d: ack=%d nak=%d, want exactly one", id, b.acks[id], b.naks[id])
		}
	}
}

// ===========================================================================
// Core loop acknowledgements
// ===========================================================================

func TestRunCore_AcksOnlyAfterLog(t *testing.T) {
	c, _, _ := newCore(t)
	var o ops
	list := liquidationScenario(&o)

	broker := newBrokerLog()
	inbound := make(chan ingestion.Inbound, 16)
	for i, op := range list {
		inbound <- broker.inbound(i, op)
	}
	// A redelivery of the first op and one op past a missing sequence
	inbound <- broker.inbound(len(list), list[0])
	h := o.header(event.Root())
	h.Sequence += 5
	gap := &event.Mint{Header: h, Asset: ledger.AssetORM, To: 3, Amount: fpmath.NewAmount(1)}
	inbound <- broker.inbound(len(list)+1, gap)
	close(inbound)

	acks := ingestion.NewAckTracker(c.GetSequence() - 1)
	runCore(context.Background(), inbound, c, acks, newSnapshotter(nil, nil, zerolog.Nop()), 0, time.Hour, nil, zerolog.Nop())

	if c.GetSequence() != int64(len(list)) {
		t.Fatalf("sequence: got %d, want %d", c.GetSequence(), len(list))
	}
	if len(broker.acks) != 0 {
		t.Fatalf("acked before the log caught up: %v", broker.acks)
	}
	if broker.naks[len(list)+1] != 1 {
		t.Errorf("gapped op: nak=%d, want 1", broker.naks[len(list)+1])
	}
	if acks.Pending() != len(list)+1 {
		t.Errorf("pending: got %d, want %d", acks.Pending(), len(list)+1)
	}

	// The persistence worker reports the batch as committed
	acks.Release(c.GetSequence() - 1)
	broker.settledOnce(t, len(list)+2)
	for id := 0; id <= len(list); id++ {
		if broker.acks[id] != 1 {
			t.Errorf("op %d not acked", id)
		}
	}
}

func TestRunCore_ShutdownNaksQueuedOps(t *testing.T) {
	c, _, _ := newCore(t)
	var o ops
	list := liquidationScenario(&o)

	broker := newBrokerLog()
	inbound := make(chan ingestion.Inbound, len(list))
	for i, op := range list {
		inbound <- broker.inbound(i, op)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	acks := ingestion.NewAckTracker(-1)
	runCore(ctx, inbound, c, acks, newSnapshotter(nil, nil, zerolog.Nop()), 0, time.Hour, nil, zerolog.Nop())

	if len(inbound) != 0 {
		t.Fatalf("%d ops left in the inbound channel", len(inbound))
	}
	applied := int(c.GetSequence())
	if acks.Pending() != applied {
		t.Errorf("pending: got %d, want %d applied", acks.Pending(), applied)
	}

	// Simulate the final flush, then the unflushed remainder is returned
	acks.Release(c.GetSequence() - 1)
	acks.NakPending()
	broker.settledOnce(t, len(list))
	if len(broker.acks) != applied {
		t.Errorf("acks: got %d, want %d applied ops", len(broker.acks), applied)
	}
	for id := applied; id < len(list); id++ {
		if broker.naks[id] != 1 {
			t.Errorf("unapplied op %d: nak=%d", id, broker.naks[id])
		}
	}
}

func TestRunCore_UnflushedOpsReturnToBroker(t *testing.T) {
	c, _, _ := newCore(t)
	var o ops
	list := liquidationScenario(&o)

	broker := newBrokerLog()
	inbound := make(chan ingestion.Inbound, len(list))
	for i, op := range list {
		inbound <- broker.inbound(i, op)
	}
	close(inbound)

	acks := ingestion.NewAckTracker(-1)
	runCore(context.Background(), inbound, c, acks, newSnapshotter(nil, nil, zerolog.Nop()), 0, time.Hour, nil, zerolog.Nop())

	// Only the first three rows reached the log before shutdown
	acks.Release(2)
	if n := acks.NakPending(); n != len(list)-3 {
		t.Errorf("naked: got %d, want %d", n, len(list)-3)
	}
	broker.settledOnce(t, len(list))
	if acks.Durable() != 2 {
		t.Errorf("durable: got %d, want 2", acks.Durable())
	}
}

func TestNakQueued(t *testing.T) {
	broker := newBrokerLog()
	inbound := make(chan ingestion.Inbound, 4)
	inbound <- broker.inbound(0, nil)
	inbound <- broker.inbound(1, nil)
	inbound <- ingestion.Inbound{Source: ingestion.SourceAdmin}

	if n := nakQueued(inbound); n != 3 {
		t.Errorf("drained: got %d, want 3", n)
	}
	if broker.naks[0] != 1 || broker.naks[1] != 1 {
		t.Errorf("naks: %v", broker.naks)
	}
	if nakQueued(inbound) != 0 {
		t.Error("second drain should find nothing")
	}
}
