package eventhub

import (
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu   sync.Mutex
	recv []Event
}

func (s *recordingSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recv = append(s.recv, ev)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recv)
}

func TestHubDeliversToSubscribedSink(t *testing.T) {
	h := New(8)
	go h.Run()
	defer h.Stop()

	sink := &recordingSink{}
	h.Subscribe(sink)
	h.Publish(Event{Topic: TopicSpectrum, SourceID: "rx0"})

	deadline := time.After(time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for event delivery")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := New(8)
	go h.Run()
	defer h.Stop()

	sink := &recordingSink{}
	h.Subscribe(sink)
	h.Publish(Event{Topic: TopicStatus})
	time.Sleep(20 * time.Millisecond)
	h.Unsubscribe(sink)

	before := sink.count()
	h.Publish(Event{Topic: TopicStatus})
	time.Sleep(20 * time.Millisecond)
	if sink.count() != before {
		t.Errorf("sink received events after unsubscribe: before=%d after=%d", before, sink.count())
	}
}

func TestHubFansOutToMultipleSinks(t *testing.T) {
	h := New(8)
	go h.Run()
	defer h.Stop()

	s1, s2 := &recordingSink{}, &recordingSink{}
	h.Subscribe(s1)
	h.Subscribe(s2)
	h.Publish(Event{Topic: TopicPacket})

	deadline := time.After(time.Second)
	for s1.count() == 0 || s2.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for fan-out to both sinks")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHubPublishDropsWhenFullWithoutBlocking(t *testing.T) {
	h := New(1)
	// No Run() goroutine draining events: the buffer fills after the
	// first Publish, and a second must not block the caller.
	h.Publish(Event{Topic: TopicSpectrum})
	done := make(chan struct{})
	go func() {
		h.Publish(Event{Topic: TopicSpectrum})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer with no reader")
	}
}
