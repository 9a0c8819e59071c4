// Package broadcast implements the IQ Broadcast Fabric (C2): it fans
// each source's IQ blocks out to independent bounded per-consumer
// queues without ever blocking the source.
package broadcast

import (
	"log"
	"sync/atomic"

	"github.com/cwsl/groundstation/internal/iqblock"
)

// Kind tags a consumer channel's role.
type Kind string

const (
	KindSpectrum     Kind = "spectrum"
	KindDemodulation Kind = "demod"
	KindDecoder      Kind = "decoder"
)

// consumer is one attached output channel plus its drop counter.
type consumer struct {
	id   string
	kind Kind
	ch   chan *iqblock.Block
	drop *uint64
}

// table is the immutable snapshot swapped atomically on attach/detach.
type table struct {
	consumers []*consumer
}

// Fabric fans one source's IQ blocks to its attached consumers.
type Fabric struct {
	sourceID   string
	queueDepth func(kind Kind, sampleRate int64) int

	tbl atomic.Pointer[table]
}

// New constructs a fabric for sourceID. queueDepth sizes a new consumer's
// channel capacity for ~0.5s of data at the source's current sample rate;
// pass nil to use DefaultQueueDepth.
func New(sourceID string, queueDepth func(kind Kind, sampleRate int64) int) *Fabric {
	if queueDepth == nil {
		queueDepth = DefaultQueueDepth
	}
	f := &Fabric{sourceID: sourceID, queueDepth: queueDepth}
	f.tbl.Store(&table{})
	return f
}

// DefaultQueueDepth sizes for ~0.5s of blocks at ~15 blocks/sec, i.e. ~8
// blocks of headroom regardless of kind.
func DefaultQueueDepth(kind Kind, sampleRate int64) int {
	return 8
}

// Attach registers a new bounded consumer channel and returns it along
// with a function to read its current drop count. The swap is atomic:
// in-flight Publish calls either include or exclude the new consumer,
// never partially.
func (f *Fabric) Attach(id string, kind Kind, sampleRate int64) (<-chan *iqblock.Block, func() uint64) {
	depth := f.queueDepth(kind, sampleRate)
	var drops uint64
	c := &consumer{id: id, kind: kind, ch: make(chan *iqblock.Block, depth), drop: &drops}

	for {
		old := f.tbl.Load()
		next := &table{consumers: append(append([]*consumer{}, old.consumers...), c)}
		if f.tbl.CompareAndSwap(old, next) {
			break
		}
	}
	return c.ch, func() uint64 { return atomic.LoadUint64(c.drop) }
}

// Detach removes a consumer by id. Safe to call concurrently with Publish.
func (f *Fabric) Detach(id string) {
	for {
		old := f.tbl.Load()
		next := make([]*consumer, 0, len(old.consumers))
		for _, c := range old.consumers {
			if c.id != id {
				next = append(next, c)
			}
		}
		if f.tbl.CompareAndSwap(old, &table{consumers: next}) {
			return
		}
	}
}

// Publish fans block out to every attached consumer via a non-blocking
// try-send. A full channel drops the block for that consumer only and
// increments its drop counter; the source is never blocked.
func (f *Fabric) Publish(block *iqblock.Block) {
	tbl := f.tbl.Load()
	for _, c := range tbl.consumers {
		safeSend(c, block)
	}
}

func safeSend(c *consumer, block *iqblock.Block) {
	defer func() {
		// Detach can race a close of the channel by a caller that tore the
		// consumer down out-of-band; recover rather than let a stray send
		// on a closed channel take down the source's publish loop.
		if r := recover(); r != nil {
			log.Printf("broadcast: recovered send to %s/%s: %v", c.kind, c.id, r)
		}
	}()
	select {
	case c.ch <- block:
	default:
		atomic.AddUint64(c.drop, 1)
	}
}

// QueueDurationDepth converts a target queue duration (seconds) and the
// source's block rate into a channel capacity, used by callers that want
// capacity sized off Config.Broadcast.QueueDurationSec instead of the
// fixed default.
func QueueDurationDepth(queueDurationSec float64, blocksPerSec float64) int {
	if blocksPerSec <= 0 {
		blocksPerSec = 15
	}
	n := int(queueDurationSec*blocksPerSec + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}
