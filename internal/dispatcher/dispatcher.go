// Package dispatcher delivers lifecycle events to a callback URL in the
// background, with bounded buffering, retry and a per-host circuit breaker.
package dispatcher

import "errors"

var (
	// ErrBufferFull is returned when the buffer is full and the event is dropped.
	ErrBufferFull = errors.New("dispatcher buffer full, event dropped")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher is closed")
)

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth   int   // current queue size
	Queued       int64 // total events queued
	Delivered    int64 // successful deliveries
	Failed       int64 // failed after retries
	Dropped      int64 // dropped due to full buffer or open circuit
	RetriesTotal int64 // total retry attempts
	BreakersOpen int   // currently open breakers
}
