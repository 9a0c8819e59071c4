// Package eventhub implements the Event Distribution Hub (C11): a
// fan-out point for spectrum frames, decoded packets, and transcript
// events to every interested sink, decoupled from how any one sink
// chooses to deliver them (WebSocket push, MQTT publish, ...).
//
// Sinks follow a per-connection buffered writer goroutine with
// drop-on-full backpressure (WebSocket) or a background publisher
// goroutine with configurable QoS/retain (MQTT).
package eventhub

import "time"

// Topic names the kind of event flowing through the hub.
type Topic string

const (
	TopicSpectrum    Topic = "spectrum"
	TopicPacket      Topic = "packet"
	TopicTranscript  Topic = "transcript"
	TopicStatus      Topic = "status"
)

// Event is one unit of distributable state. Payload's concrete type is
// topic-dependent (e.g. *spectrum.Frame for TopicSpectrum); sinks type-
// assert on what they care about and ignore the rest.
type Event struct {
	Topic     Topic
	SourceID  string
	SessionID string // empty for source-wide events (e.g. spectrum)
	At        time.Time
	Payload   any
}

// Sink receives every published event; implementations must not block
// the publisher and must be safe for concurrent use.
type Sink interface {
	Publish(ev Event)
}

// Hub fans events out to a registry of sinks. Sinks are added/removed
// at any time; Publish never blocks on a slow sink — that is each
// Sink implementation's own responsibility (see WSHub's per-connection
// buffered writer).
type Hub struct {
	subscribe   chan Sink
	unsubscribe chan Sink
	events      chan Event
	done        chan struct{}
}

// New builds a hub with the given event buffer depth.
func New(bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = 256
	}
	return &Hub{
		subscribe:   make(chan Sink),
		unsubscribe: make(chan Sink),
		events:      make(chan Event, bufferSize),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a sink to receive every future event.
func (h *Hub) Subscribe(s Sink) {
	select {
	case h.subscribe <- s:
	case <-h.done:
	}
}

// Unsubscribe removes a previously-registered sink.
func (h *Hub) Unsubscribe(s Sink) {
	select {
	case h.unsubscribe <- s:
	case <-h.done:
	}
}

// Publish enqueues an event for distribution without blocking: when the
// hub's internal buffer is full the new event is dropped rather than
// stalling upstream producers (spectrum/decoder/transcribe workers must
// never back up on slow fan-out).
func (h *Hub) Publish(ev Event) {
	select {
	case h.events <- ev:
	default:
	}
}

// Run drives the hub's dispatch loop until done is closed via Stop.
func (h *Hub) Run() {
	sinks := make(map[Sink]struct{})
	for {
		select {
		case s := <-h.subscribe:
			sinks[s] = struct{}{}
		case s := <-h.unsubscribe:
			delete(sinks, s)
		case ev := <-h.events:
			for s := range sinks {
				s.Publish(ev)
			}
		case <-h.done:
			return
		}
	}
}

// Stop terminates the dispatch loop.
func (h *Hub) Stop() {
	close(h.done)
}
