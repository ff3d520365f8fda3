package protocol

import "sync"

// EventKind tags a decoded event.
type EventKind int

const (
	EventWeight EventKind = iota
	EventID
	EventParams
)

// Event is one decoded, address-attributed sample.
type Event struct {
	Kind    EventKind      `json:"kind"`
	Address byte           `json:"address"`
	Weight  *DecodedWeight `json:"weight,omitempty"`
	ID      *DeviceID      `json:"id,omitempty"`
	Params  *Parameters    `json:"params,omitempty"`
}

// Engine owns the receive buffer and turns raw transport bytes into
// decoded events. Exactly one Feed call should be in flight at a time per
// bus; the internal lock only protects against concurrent Reset from the
// command path.
type Engine struct {
	mu      sync.Mutex
	buf     []byte
	decoder WeightDecoder
	dropped uint64
	subs    []chan Event
}

// NewEngine returns an engine using hexUnitsPerGram for the 9-byte weight
// format, or the default divisor when 0.
func NewEngine(hexUnitsPerGram float64) *Engine {
	return &Engine{decoder: WeightDecoder{HexUnitsPerGram: hexUnitsPerGram}}
}

// Feed appends p to the receive buffer, extracts every validated frame,
// and returns the decoded events in stream order. Bytes consumed by
// frames or rejected during resync are compacted away; an incomplete tail
// is kept for the next append.
func (e *Engine) Feed(p []byte) []Event {
	e.mu.Lock()
	e.buf = append(e.buf, p...)
	frames, consumed, skipped := Scan(e.buf)
	e.buf = e.buf[:copy(e.buf, e.buf[consumed:])]
	e.dropped += uint64(skipped)
	dec := e.decoder
	e.mu.Unlock()

	if len(frames) == 0 {
		return nil
	}
	events := make([]Event, 0, len(frames))
	for _, f := range frames {
		events = append(events, decodeFrame(dec, f))
	}
	e.publish(events)
	return events
}

func decodeFrame(dec WeightDecoder, f Frame) Event {
	switch f.Register() {
	case RegID:
		id := DecodeID(f)
		return Event{Kind: EventID, Address: id.Address, ID: &id}
	case RegParam:
		p := DecodeParams(f)
		return Event{Kind: EventParams, Address: p.Address, Params: &p}
	default:
		w := dec.Decode(f)
		return Event{Kind: EventWeight, Address: f.Address(), Weight: &w}
	}
}

// Reset discards any buffered bytes. Callers drain the transport and call
// Reset before transmitting a new command so a stale response cannot be
// attributed to it.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.buf = e.buf[:0]
	e.mu.Unlock()
}

// Dropped reports the total count of bytes discarded as noise.
func (e *Engine) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Subscribe returns a channel receiving every decoded event. Slow
// subscribers miss events rather than stalling the scan path.
func (e *Engine) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}

func (e *Engine) publish(events []Event) {
	e.mu.Lock()
	subs := e.subs
	e.mu.Unlock()
	for _, ch := range subs {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
				// Subscriber too slow, skip
			}
		}
	}
}
