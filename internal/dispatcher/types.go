package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier/internal/reporter"
	"courier/internal/splitter"
)

// ErrForwardUnavailable tells the dispatcher a forward was skipped rather
// than failed, e.g. the secondary destination is not reachable at all.
var ErrForwardUnavailable = errors.New("forward destination unavailable")

// Message is the payload and metadata of one transport unit on the wire.
type Message struct {
	FileID        int64
	Name          string
	Archive       string
	Source        string
	Digest        string
	ArchiveDigest string
	Index         int
	Count         int
	Caption       string
	Hint          string
	Encrypted     bool
	Data          []byte
}

// Size is the payload length.
func (m Message) Size() int64 {
	return int64(len(m.Data))
}

// ID identifies the unit across retries so the transport can drop duplicates.
func (m Message) ID() string {
	return fmt.Sprintf("%d:%s:%d", m.FileID, m.ArchiveDigest, m.Index)
}

// Receipt is the transport's acknowledgement of a unit.
type Receipt struct {
	Stream    string
	Sequence  uint64
	Duplicate bool
	Location  string
}

// Transport delivers a message to the primary endpoint. Errors that may
// succeed on retry must wrap services.ErrTransient.
type Transport interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// Forwarder copies a delivered message to a secondary destination.
type Forwarder interface {
	Forward(ctx context.Context, msg Message, receipt Receipt) error
}

// Reporter receives one event per dispatched unit.
type Reporter interface {
	Report(ctx context.Context, event reporter.Event) error
}

// Unit is the work item handed to Dispatch.
type Unit struct {
	RecordID       int64
	FileID         int64
	Source         string
	SourcePath     string
	Digest         string
	Encrypted      bool
	ProcessingTime time.Duration
	Part           splitter.Part
}

// Result is the terminal outcome of a unit.
type Result struct {
	Unit     Unit
	Receipt  Receipt
	Attempts int
	Err      error
	Forward  string
	Elapsed  time.Duration
	Rate     float64
	Event    reporter.Event
}

// OK reports whether the unit was delivered.
func (r Result) OK() bool {
	return r.Err == nil
}
