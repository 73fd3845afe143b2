// Package progress defines the narrow reporting surface by which the
// sender and receiver engines publish state transitions to whatever
// shell embeds them. Modeled on the teacher's rate-limited Event signal
// in event.go and on the shape of the original Tauri TaskEvent/TaskStatus
// types in apps/{client,server}/src-tauri/src/event.rs, merged into one
// status enum covering both directions.
package progress

import "encoding/json"

// Status is the lifecycle stage an Event reports.
type Status string

const (
	StatusSending  Status = "send"
	StatusReceiving Status = "recv"
	StatusMerging  Status = "merge"
	StatusDone     Status = "done"
)

// Event is one state-transition report from either engine. Not every
// field is meaningful for every Status: PPS is sender-only, and
// RemainingOrDone is the sender's remaining-block count while sending
// and the receiver's rebuilt-block count while receiving.
type Event struct {
	TransferID      string `json:"transferId"`
	Filename        string `json:"filename"`
	FileSize        uint64 `json:"fileSize"`
	PPS             uint64 `json:"pps,omitempty"`
	BlockCount      uint32 `json:"blockCount"`
	RemainingOrDone uint32 `json:"remainingOrDoneBlockCount"`
	Status          Status `json:"status"`
}

// MarshalJSON is the default encoding/json behavior made explicit: the
// event shape is intentionally a flat, stable JSON record consumable by
// any shell (desktop UI, CLI progress printer, test harness) without a
// qft-specific decoder.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(alias(e))
}

// Sink receives Event reports. Implementations must not block the
// calling engine goroutine for long; a slow consumer should buffer or
// drop, not stall the transfer.
type Sink interface {
	Report(Event)
}

// NullSink discards every event. The zero value is ready to use and is
// the default for headless operation.
type NullSink struct{}

func (NullSink) Report(Event) {}

// ChannelSink fans events out over a buffered channel so a CLI shell can
// print progress without the engine ever blocking on a slow terminal.
// Modeled on the teacher's Event type: a guarded, non-blocking send that
// drops rather than stalls the producer.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer depth.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{C: make(chan Event, buffer)}
}

func (s *ChannelSink) Report(e Event) {
	select {
	case s.C <- e:
	default:
		// Drop rather than block the engine; the shell missed one frame
		// of progress but the transfer itself is unaffected.
	}
}
