// Package dispatcher delivers events asynchronously with buffering, retry
// and a circuit breaker per destination host.
package dispatcher

import (
	"context"
	"errors"
	"recorder/pkg/cloudevent"
)

// ErrBufferFull is returned when the buffer is full and the event is dropped.
var ErrBufferFull = errors.New("dispatcher buffer full, event dropped")

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher handles async delivery of events.
type Dispatcher interface {
	// Dispatch queues an event for delivery without blocking.
	Dispatch(event *Event) error

	// Stats returns current dispatcher statistics.
	Stats() Stats

	// Close stops accepting events and delivers what is queued until ctx
	// is done.
	Close(ctx context.Context) error
}

// Event is an event to be delivered to a destination.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string // webhook URL
	SigningKey  string // HMAC key, empty = no signing
	Signature   string // pre-computed signature, takes precedence over SigningKey

	requeues int
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth    int
	Queued        int64
	Delivered     int64
	Failed        int64 // failed after retries
	Dropped       int64 // full buffer, max requeues or shutdown
	Requeued      int64 // waited for an open breaker
	RetriesTotal  int64
	BreakersTotal int
	BreakersOpen  int
}
