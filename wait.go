package athandler

import (
	"context"
	"fmt"
)

// Wait blocks until a record is pending or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	for {
		if h.Pending() {
			return nil
		}
		select {
		case <-h.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Next waits for the oldest pending record, consumes it and returns it.
func (h *Handler) Next(ctx context.Context) (string, error) {
	for {
		if err := h.Wait(ctx); err != nil {
			return "", err
		}
		h.mu.Lock()
		if h.pending == 0 {
			// Consumed by another goroutine between Wait and Lock.
			h.mu.Unlock()
			continue
		}
		record := h.current()
		h.moveNext()
		h.mu.Unlock()
		return string(record), nil
	}
}

// Expect consumes records until one matches expected (see Match), consuming
// the matching record as well. Echoed commands and unsolicited lines seen
// before the match are discarded.
func (h *Handler) Expect(ctx context.Context, expected string) error {
	for {
		if err := h.Wait(ctx); err != nil {
			return fmt.Errorf("expect %q: %w", expected, err)
		}
		h.mu.Lock()
		if h.pending == 0 {
			h.mu.Unlock()
			continue
		}
		matched := h.matchN(expected, len(h.buf))
		if !matched {
			h.log.WithField("record", string(h.current())).Debug("skipping command")
		}
		h.moveNext()
		h.mu.Unlock()
		if matched {
			return nil
		}
	}
}
