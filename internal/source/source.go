// Package source implements the Sample Source Worker (C1): one
// goroutine per radio (or SigMF file) producing a continuous stream of
// timestamped IQ blocks and lifecycle/error events.
package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cwsl/groundstation/internal/iqblock"
)

// State is the worker's lifecycle state.
type State int

const (
	StateInit State = iota
	StateOpening
	StateStreaming
	StateReconfiguring
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateReconfiguring:
		return "reconfiguring"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EventKind tags a lifecycle/error event emitted on the worker's status channel.
type EventKind string

const (
	EventStreamingStarted EventKind = "streaming-started"
	EventError            EventKind = "error"
	EventTerminated       EventKind = "terminated"
)

// Event is a single lifecycle/error notification.
type Event struct {
	Kind EventKind
	Err  error
	At   time.Time
}

// Config is a patch of optional fields delivered to a running worker.
// A zero value for a pointer field means "no change requested".
type Config struct {
	CenterHz      *int64
	SampleRate    *int64
	GainDB        *float64
	AGC           *bool
	Antenna       *string
	FFTSize       *int
	FFTWindow     *string
	FFTAveraging  *int
	FFTOverlap    *bool
	OffsetHz      *int64
}

// Driver is implemented by each concrete source (SigMF playback,
// rtl_tcp, raw UDP IQ, ...). Open blocks until the stream is ready or
// ctx is cancelled. Read returns the next block; it must return within
// a short timeout so the worker can observe cancellation promptly.
type Driver interface {
	Open(ctx context.Context, cfg Config) error
	Read(ctx context.Context) (*iqblock.Block, error)
	Reconfigure(ctx context.Context, patch Config) error
	Close() error
	// Capabilities returns cached, once-enumerated runtime capabilities.
	Capabilities() Capabilities
}

// Capabilities describes what a driver's underlying hardware/file supports.
type Capabilities struct {
	SampleRates []int64
	GainSteps   []float64
	Antennas    []string
	MinHz       int64
	MaxHz       int64
}

// Worker owns one Driver and runs its read loop on its own goroutine.
type Worker struct {
	ID     string
	driver Driver

	mu    sync.Mutex
	state State

	out      chan *iqblock.Block
	control  chan Config
	status   chan Event
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWorker constructs a worker around driver, not yet started.
func NewWorker(id string, driver Driver) *Worker {
	return &Worker{
		ID:      id,
		driver:  driver,
		state:   StateInit,
		out:     make(chan *iqblock.Block, 4),
		control: make(chan Config, 4),
		status:  make(chan Event, 8),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Blocks returns the channel of produced IQ blocks.
func (w *Worker) Blocks() <-chan *iqblock.Block { return w.out }

// Status returns the channel of lifecycle/error events.
func (w *Worker) Status() <-chan Event { return w.status }

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Reconfigure delivers a config patch to the running worker's control channel.
func (w *Worker) Reconfigure(patch Config) {
	select {
	case w.control <- patch:
	default:
		// control channel backlog: coalesce by draining one and retrying once.
		select {
		case <-w.control:
		default:
		}
		select {
		case w.control <- patch:
		default:
		}
	}
}

// Stop signals the worker to terminate and waits for its goroutine to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// Run executes the worker's lifecycle loop. Call it in its own goroutine.
func (w *Worker) Run(ctx context.Context, initial Config) {
	defer close(w.done)
	defer close(w.out)

	w.setState(StateOpening)
	if err := w.driver.Open(ctx, initial); err != nil {
		w.emitError(fmt.Errorf("source %s: open: %w", w.ID, err))
		w.setState(StateTerminated)
		w.status <- Event{Kind: EventTerminated, At: time.Now()}
		return
	}
	w.setState(StateStreaming)
	w.status <- Event{Kind: EventStreamingStarted, At: time.Now()}

	for {
		select {
		case <-w.stop:
			w.setState(StateTerminating)
			_ = w.driver.Close()
			w.setState(StateTerminated)
			w.status <- Event{Kind: EventTerminated, At: time.Now()}
			return
		case <-ctx.Done():
			w.setState(StateTerminating)
			_ = w.driver.Close()
			w.setState(StateTerminated)
			w.status <- Event{Kind: EventTerminated, At: time.Now()}
			return
		case patch := <-w.control:
			w.setState(StateReconfiguring)
			if err := w.driver.Reconfigure(ctx, patch); err != nil {
				// Reconfiguration failures are treated as transient I/O:
				// log and keep streaming with prior config.
				log.Printf("source %s: reconfigure: %v", w.ID, err)
			}
			w.setState(StateStreaming)
		default:
		}

		block, err := w.driver.Read(ctx)
		if err != nil {
			if isFatal(err) {
				w.emitError(fmt.Errorf("source %s: %w", w.ID, err))
				w.setState(StateTerminating)
				_ = w.driver.Close()
				w.setState(StateTerminated)
				w.status <- Event{Kind: EventTerminated, At: time.Now()}
				return
			}
			// Non-fatal error (timeout/overflow): retry without logging.
			continue
		}
		if block == nil {
			continue
		}
		select {
		case w.out <- block:
		case <-w.stop:
		case <-ctx.Done():
		}
	}
}

func (w *Worker) emitError(err error) {
	select {
	case w.status <- Event{Kind: EventError, Err: err, At: time.Now()}:
	default:
	}
}

// fatalErr marks driver errors that should terminate the source:
// auth/unreachable/driver errors are fatal, timeouts and overflow are not.
type fatalErr struct{ err error }

func (f fatalErr) Error() string { return f.err.Error() }
func (f fatalErr) Unwrap() error { return f.err }

// Fatal wraps err so the worker loop tears the source down instead of retrying.
func Fatal(err error) error { return fatalErr{err} }

func isFatal(err error) bool {
	var f fatalErr
	return errors.As(err, &f)
}
