package projection

import (
	"sync"
)

// LiquidationEntry records one seized position.
type LiquidationEntry struct {
	Sequence   int64  `json:"sequence"`
	Height     uint64 `json:"height"`
	Owner      uint64 `json:"owner"`
	Liquidator uint64 `json:"liquidator"`
	Collateral string `json:"collateral_seized"`
}

// LiquidationHistory keeps the most recent liquidations in memory, newest
// last. It is written by the projection worker and read by the query API.
type LiquidationHistory struct {
	mu       sync.RWMutex
	entries  []LiquidationEntry
	capacity int
}

func NewLiquidationHistory(capacity int) *LiquidationHistory {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &LiquidationHistory{
		entries:  make([]LiquidationEntry, 0, capacity),
		capacity: capacity,
	}
}

// Add records entry, evicting the oldest when full.
func (h *LiquidationHistory) Add(entry LiquidationEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, entry)
}

// QueryByOwner returns up to limit liquidations of owner, newest first.
func (h *LiquidationHistory) QueryByOwner(owner uint64, limit int) []LiquidationEntry {
	return h.query(limit, func(e LiquidationEntry) bool { return e.Owner == owner })
}

// Recent returns up to limit liquidations, newest first.
func (h *LiquidationHistory) Recent(limit int) []LiquidationEntry {
	return h.query(limit, func(LiquidationEntry) bool { return true })
}

func (h *LiquidationHistory) query(limit int, match func(LiquidationEntry) bool) []LiquidationEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]LiquidationEntry, 0)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if match(h.entries[i]) {
			result = append(result, h.entries[i])
		}
	}
	return result
}

// Len returns the number of retained entries.
func (h *LiquidationHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
