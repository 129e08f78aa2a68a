// Package orderqueue is the durable inbox for asynchronous broker
// notifications. Fills and price marks are persisted on receipt and applied to
// the ledger in arrival order, so a crash between receipt and commit loses
// nothing.
package orderqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Aidin1998/pincex_fno/common/errors"
)

// Entry kinds
const (
	KindFill = "fill"
	KindMark = "mark"
)

// Entry is one inbound notification.
type Entry struct {
	Seq        uint64          `json:"seq"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
	// Error is set on dead letters only.
	Error string `json:"error,omitempty"`
}

// Handler applies one entry. A nil return acknowledges it.
type Handler func(ctx context.Context, e Entry) error

// Inbox is a FIFO of notifications awaiting application.
type Inbox interface {
	// Enqueue persists a notification and returns its sequence number.
	Enqueue(ctx context.Context, kind string, payload interface{}) (uint64, error)
	// Drain hands pending entries to h in arrival order. Entries are removed
	// only after h succeeds. A retriable failure stops the drain and keeps the
	// entry at the head; any other failure moves the entry to dead letters.
	Drain(ctx context.Context, h Handler) (int, error)
	Depth(ctx context.Context) (int, error)
	DeadLetters(ctx context.Context) ([]Entry, error)
	Close() error
}

var errClosed = errors.New("inbox is closed")

// ErrNotReady marks a handler failure that waits on ledger state another
// writer has yet to commit. The entry is held at the head like a storage
// failure; the handler decides how long to keep returning it.
var ErrNotReady = errors.NewWithKind("NotReadyError").Explain("inbox entry not ready")

func newEntry(seq uint64, kind string, payload interface{}) (Entry, error) {
	if kind != KindFill && kind != KindMark {
		return Entry{}, errors.Validation.Explain("unknown inbox entry kind %q", kind)
	}
	raw, ok := payload.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return Entry{}, errors.Validation.Explain("failed to encode %s notification", kind).Wrap(err)
		}
		raw = data
	}
	return Entry{Seq: seq, Kind: kind, Payload: raw, ReceivedAt: time.Now().UTC()}, nil
}

// shouldHold reports whether a failed entry stays at the head of the inbox.
// Storage hiccups, broker outages and not-yet-committed orders clear up;
// anything else will fail again.
func shouldHold(err error) bool {
	return errors.Retriable(err) || errors.Is(err, errors.BrokerUnavailable) || errors.Is(err, ErrNotReady) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
