package athandler

import "go.uber.org/atomic"

// Stats is a snapshot of the data-loss counters of a Handler.
type Stats struct {
	Dropped    uint64 // bytes discarded because the buffer was full
	Sanitized  uint64 // 0x00 bytes stored as 0xFF
	Suppressed uint64 // repeated CRLF terminators folded into the previous one
	Rollbacks  uint64 // prompt terminators that overwrote the '>' for lack of room
	Resyncs    uint64 // MoveNext scans that found no terminator and flushed the buffer
}

type counters struct {
	dropped    atomic.Uint64
	sanitized  atomic.Uint64
	suppressed atomic.Uint64
	rollbacks  atomic.Uint64
	resyncs    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Dropped:    c.dropped.Load(),
		Sanitized:  c.sanitized.Load(),
		Suppressed: c.suppressed.Load(),
		Rollbacks:  c.rollbacks.Load(),
		Resyncs:    c.resyncs.Load(),
	}
}

func (c *counters) reset() {
	c.dropped.Store(0)
	c.sanitized.Store(0)
	c.suppressed.Store(0)
	c.rollbacks.Store(0)
	c.resyncs.Store(0)
}
