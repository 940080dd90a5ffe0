package state

// HeightClock tracks the block height carried on inbound operations.
// It never moves backwards.
type HeightClock struct {
	height uint64
}

func (c *HeightClock) CurrentHeight() uint64 { return c.height }

// Observe advances the clock to h if h is ahead and reports whether it moved.
func (c *HeightClock) Observe(h uint64) bool {
	if h <= c.height {
		return false
	}
	c.height = h
	return true
}

// Set is used on snapshot restore.
func (c *HeightClock) Set(h uint64) { c.height = h }
