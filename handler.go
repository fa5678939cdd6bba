package athandler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultBufferSize is the capacity used when New is given a size of zero.
	DefaultBufferSize = 80
	// MinBufferSize is the smallest capacity New accepts.
	MinBufferSize = 2

	terminator byte = 0x00
	garbage    byte = 0xFF
	prompt     byte = '>'
)

// ErrBufferSize is returned by New for capacities below MinBufferSize.
var ErrBufferSize = errors.New("athandler: buffer size too small")

// Handler frames a byte stream into null-terminated records stored in a
// fixed-size ring. Records end at "\r\n" or right after a '>' prompt.
//
// Feed is the producer side; Pending, Match, MatchN, Current and MoveNext
// are the consumer side. All methods are safe for concurrent use.
type Handler struct {
	mu      sync.Mutex
	buf     []byte
	ring    ring
	put     int
	get     int
	pending int

	prev        byte
	justArrived bool

	ready chan struct{}
	log   logrus.FieldLogger
	stats counters
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for debug and error entries.
func WithLogger(l logrus.FieldLogger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// New returns a Handler with a buffer of size bytes. A size of zero selects
// DefaultBufferSize. The buffer must hold the longest expected record plus
// its terminator.
func New(size int, opts ...Option) (*Handler, error) {
	if size == 0 {
		size = DefaultBufferSize
	}
	if size < MinBufferSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrBufferSize, size, MinBufferSize)
	}
	h := &Handler{
		buf:   make([]byte, size),
		ring:  ring{size: size},
		ready: make(chan struct{}, 1),
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithField("component", "athandler")
	h.log.WithField("size", size).Debug("AT handler created")
	return h, nil
}

// Reset discards every stored record and returns the cursors to the
// buffer origin. Counters are cleared as well.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.buf {
		h.buf[i] = 0
	}
	h.put, h.get, h.pending = 0, 0, 0
	h.prev, h.justArrived = 0, false
	h.stats.reset()
	select {
	case <-h.ready:
	default:
	}
}

// Cap returns the buffer capacity in bytes.
func (h *Handler) Cap() int { return len(h.buf) }

// Stats returns the current data-loss counters.
func (h *Handler) Stats() Stats { return h.stats.snapshot() }

// Feed stores one byte received from the device.
//
// When the buffer is full while records are pending the byte is dropped;
// stored records are never overwritten. A 0x00 byte is stored as 0xFF since
// 0x00 is reserved for record terminators.
func (h *Handler) Feed(b byte) {
	h.mu.Lock()
	completed := h.feed(b)
	h.mu.Unlock()
	if completed {
		h.signal()
	}
}

func (h *Handler) feedAll(p []byte) {
	completed := false
	h.mu.Lock()
	for _, b := range p {
		if h.feed(b) {
			completed = true
		}
	}
	h.mu.Unlock()
	if completed {
		h.signal()
	}
}

// feed reports whether a new record was completed. Callers hold h.mu.
func (h *Handler) feed(b byte) bool {
	if h.put == h.get && h.pending > 0 {
		h.stats.dropped.Inc()
		h.log.Debug("no room for more data")
		return false
	}

	if b == terminator {
		h.stats.sanitized.Inc()
		h.log.Debug("garbage received, stored as 0xFF")
		b = garbage
	}

	h.buf[h.put] = b

	completed := false
	if (h.prev == '\r' && b == '\n') || b == prompt {
		if !h.justArrived || b == prompt {
			h.pending++
			completed = true
			h.log.WithField("pending", h.pending).Debug("new command pending")
		} else {
			// A CRLF right after a terminator opens the next record rather
			// than closing an empty one: step back onto the previous
			// terminator so the two collapse.
			h.put = h.ring.prev(h.put)
			h.stats.suppressed.Inc()
			h.log.Debug("duplicate terminator suppressed")
		}
		h.justArrived = true

		if b == prompt {
			// The '>' stays in the record and the terminator follows it.
			saved := h.put
			h.put = h.ring.next(h.put)
			if h.put == h.get {
				h.put = saved
				h.stats.rollbacks.Inc()
				h.log.Debug("rollback no room")
			}
		} else {
			// Overwrite the '\r'.
			h.put = h.ring.prev(h.put)
		}
		h.buf[h.put] = terminator
	} else if b != '\r' {
		// '\r' may start the next CRLF and must keep the flag.
		h.justArrived = false
	}

	h.prev = h.buf[h.put]
	h.put = h.ring.next(h.put)
	return completed
}

func (h *Handler) signal() {
	select {
	case h.ready <- struct{}{}:
	default:
	}
}

// Pending reports whether at least one complete record is waiting.
func (h *Handler) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending > 0
}

// PendingCount returns the number of complete records waiting.
func (h *Handler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

// Match reports whether the oldest pending record matches expected.
// It is MatchN bounded by the buffer capacity.
func (h *Handler) Match(expected string) bool {
	return h.MatchN(expected, len(h.buf))
}

// MatchN compares the oldest pending record with expected, byte by byte,
// for at most n bytes. Comparison also stops at the end of either string, so
// a record and an expected value that share a prefix match:
//
//	record "OK", expected "OK"      -> true
//	record "+CSQ: 20,0", "+CSQ"     -> true
//	record "OK", expected "OKAY"    -> true
//	record "ERROR", expected "OK"   -> false
//
// The first byte is always compared, so an empty record only matches an
// empty expected value. MatchN returns false when nothing is pending or n
// is not positive.
func (h *Handler) MatchN(expected string, n int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == 0 || n <= 0 {
		return false
	}
	return h.matchN(expected, n)
}

func (h *Handler) matchN(expected string, n int) bool {
	at := func(k int) byte {
		if k < len(expected) {
			return expected[k]
		}
		return terminator
	}

	i := h.get
	for k := 0; ; k++ {
		if h.buf[i] != at(k) {
			return false
		}
		i = h.ring.next(i)
		n--
		if h.buf[i] == terminator || at(k+1) == terminator || n == 0 {
			return true
		}
	}
}

// Current returns a copy of the oldest pending record without its
// terminator. ok is false when nothing is pending.
func (h *Handler) Current() (record []byte, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == 0 {
		return nil, false
	}
	return h.current(), true
}

func (h *Handler) current() []byte {
	record := make([]byte, 0, 16)
	for i, k := h.get, 0; k < len(h.buf) && h.buf[i] != terminator; i, k = h.ring.next(i), k+1 {
		record = append(record, h.buf[i])
	}
	return record
}

// MoveNext discards the oldest pending record. It is a no-op when nothing
// is pending.
//
// The terminator scan is bounded by the capacity. If no terminator is found
// the stored data cannot be trusted: every record is discarded and the get
// cursor is moved to the put cursor.
func (h *Handler) MoveNext() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moveNext()
}

func (h *Handler) moveNext() {
	if h.pending == 0 {
		return
	}
	h.pending--

	i := h.get
	for k := 0; k < len(h.buf); k++ {
		if h.buf[i] == terminator {
			h.get = h.ring.next(i)
			h.log.WithField("pending", h.pending).Debug("moved to next command")
			return
		}
		i = h.ring.next(i)
	}

	h.stats.resyncs.Inc()
	h.log.WithFields(logrus.Fields{
		"get":     h.get,
		"put":     h.put,
		"pending": h.pending + 1,
	}).Error("no terminator found, discarding stored commands")
	h.get = h.put
	h.pending = 0
}
