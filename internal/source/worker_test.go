package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cwsl/groundstation/internal/iqblock"
)

type fakeDriver struct {
	openErr     error
	blocks      chan *iqblock.Block
	reconfigErr error
	closed      bool
	reconfigs   int
}

func (f *fakeDriver) Open(ctx context.Context, cfg Config) error { return f.openErr }
func (f *fakeDriver) Read(ctx context.Context) (*iqblock.Block, error) {
	select {
	case b, ok := <-f.blocks:
		if !ok {
			return nil, nil
		}
		return b, nil
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}
func (f *fakeDriver) Reconfigure(ctx context.Context, patch Config) error {
	f.reconfigs++
	return f.reconfigErr
}
func (f *fakeDriver) Close() error                    { f.closed = true; return nil }
func (f *fakeDriver) Capabilities() Capabilities      { return Capabilities{} }

func TestWorkerRunEmitsStreamingStartedThenBlocks(t *testing.T) {
	fd := &fakeDriver{blocks: make(chan *iqblock.Block, 1)}
	w := NewWorker("rx0", fd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, Config{})

	select {
	case ev := <-w.Status():
		if ev.Kind != EventStreamingStarted {
			t.Fatalf("first status event = %v, want %v", ev.Kind, EventStreamingStarted)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for streaming-started event")
	}

	block := &iqblock.Block{SampleRate: 48000}
	fd.blocks <- block
	select {
	case got := <-w.Blocks():
		if got != block {
			t.Error("received a different block than the driver produced")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for emitted block")
	}

	w.Stop()
	if !fd.closed {
		t.Error("expected driver.Close() to be called on Stop")
	}
}

func TestWorkerRunOpenFailureTerminatesImmediately(t *testing.T) {
	fd := &fakeDriver{openErr: errors.New("boom"), blocks: make(chan *iqblock.Block)}
	w := NewWorker("rx0", fd)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), Config{})
		close(done)
	}()

	var sawError, sawTerminated bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-w.Status():
			if ev.Kind == EventError {
				sawError = true
			}
			if ev.Kind == EventTerminated {
				sawTerminated = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for status events")
		}
	}
	if !sawError || !sawTerminated {
		t.Errorf("sawError=%v sawTerminated=%v, want both true", sawError, sawTerminated)
	}
	<-done
	if w.State() != StateTerminated {
		t.Errorf("State() = %v, want %v", w.State(), StateTerminated)
	}
}

func TestWorkerReconfigureDeliversPatch(t *testing.T) {
	fd := &fakeDriver{blocks: make(chan *iqblock.Block, 1)}
	w := NewWorker("rx0", fd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, Config{})
	<-w.Status() // streaming started

	hz := int64(100_000_000)
	w.Reconfigure(Config{CenterHz: &hz})

	deadline := time.After(time.Second)
	for fd.reconfigs == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Reconfigure to reach the driver")
		case <-time.After(10 * time.Millisecond):
		}
	}
	w.Stop()
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateInit: "init", StateOpening: "opening", StateStreaming: "streaming",
		StateReconfiguring: "reconfiguring", StateTerminating: "terminating",
		StateTerminated: "terminated", State(99): "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
