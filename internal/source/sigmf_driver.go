package source

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/cwsl/groundstation/internal/iqblock"
	"github.com/cwsl/groundstation/internal/sigmf"
)

// SigMFDriver plays back a .sigmf-data/.sigmf-meta recording pair as if
// it were a live radio: it paces emission in wall-clock time and loops
// at EOF unless configured otherwise.
type SigMFDriver struct {
	path string
	loop bool

	meta       *sigmf.Meta
	file       *os.File
	bps        int
	sampleRate int64

	captureIdx  int
	totalRead   int64
	recStart    time.Time
	haveRecTime bool

	fftSize int
}

// NewSigMFDriver constructs a driver for the recording at path (with or
// without extension). loop controls EOF behavior.
func NewSigMFDriver(path string, loop bool) *SigMFDriver {
	return &SigMFDriver{path: path, loop: loop}
}

func (d *SigMFDriver) Open(ctx context.Context, cfg Config) error {
	metaPath := sigmf.MetaPathFor(d.path)
	meta, err := sigmf.LoadMeta(metaPath)
	if err != nil {
		return Fatal(err)
	}
	d.meta = meta
	d.sampleRate = int64(meta.Global.SampleRate)
	d.bps = sigmf.BytesPerSample(meta.Global.DataType)
	if d.bps == 0 {
		log.Printf("sigmf: datatype %q unrecognized, assuming cf32_le", meta.Global.DataType)
		d.bps = 8
	}
	if cfg.FFTSize != nil {
		d.fftSize = *cfg.FFTSize
	} else {
		d.fftSize = 2048
	}

	dataPath := sigmf.DataPathFor(metaPath)
	f, err := os.Open(dataPath)
	if err != nil {
		return Fatal(fmt.Errorf("open data file: %w", err))
	}
	d.file = f

	if t, ok := sigmf.RecordingStart(meta.Captures); ok {
		d.recStart = t
		d.haveRecTime = true
	}
	d.captureIdx = 0
	d.totalRead = 0
	return nil
}

func (d *SigMFDriver) currentFreq() int64 {
	if d.meta == nil || len(d.meta.Captures) == 0 {
		return 0
	}
	return int64(d.meta.Captures[d.captureIdx].Frequency)
}

func (d *SigMFDriver) Read(ctx context.Context) (*iqblock.Block, error) {
	if d.file == nil {
		return nil, Fatal(fmt.Errorf("sigmf: not opened"))
	}
	n := iqblock.SamplesPerBlock(d.sampleRate, d.fftSize)
	raw := make([]byte, n*int64(d.bps))
	read, err := io.ReadFull(d.file, raw)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if !d.loop {
			return nil, Fatal(fmt.Errorf("sigmf: end of recording"))
		}
		if _, serr := d.file.Seek(0, io.SeekStart); serr != nil {
			return nil, Fatal(fmt.Errorf("sigmf: rewind: %w", serr))
		}
		d.captureIdx = 0
		d.totalRead = 0
		return nil, nil // caller retries on next Read call
	}
	if err != nil {
		return nil, fmt.Errorf("sigmf: read: %w", err)
	}
	raw = raw[:read]

	samples, err := sigmf.Decode(raw, d.meta.Global.DataType)
	if err != nil {
		return nil, Fatal(err)
	}

	idx, _ := sigmf.CaptureAt(d.meta.Captures, d.totalRead, d.captureIdx)
	d.captureIdx = idx
	d.totalRead += int64(len(samples))

	capturedAt := time.Now()
	if d.haveRecTime {
		capturedAt = d.recStart.Add(time.Duration(float64(d.totalRead)/float64(d.sampleRate)) * time.Second)
	}

	block := &iqblock.Block{
		Samples:        samples,
		CenterHz:       d.currentFreq(),
		SampleRate:     d.sampleRate,
		CapturedAt:     capturedAt,
		PlaybackFile:   d.path,
		PlaybackOffset: d.totalRead,
	}

	// Pace emission to simulate real time.
	delay := time.Duration(float64(len(samples)) / float64(d.sampleRate) * float64(time.Second))
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return block, nil
}

func (d *SigMFDriver) Reconfigure(ctx context.Context, patch Config) error {
	// SigMF playback ignores hardware-only fields (gain, antenna); a
	// sample-rate/center-frequency change has no meaning against a fixed
	// recording and is accepted as a no-op, matching the real driver
	// contract's "patch delivered as a single message" shape.
	if patch.FFTSize != nil {
		d.fftSize = *patch.FFTSize
	}
	return nil
}

func (d *SigMFDriver) Close() error {
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}

func (d *SigMFDriver) Capabilities() Capabilities {
	if d.meta == nil {
		return Capabilities{}
	}
	return Capabilities{
		SampleRates: []int64{int64(d.meta.Global.SampleRate)},
		MinHz:       int64(d.meta.Captures[0].Frequency),
		MaxHz:       int64(d.meta.Captures[len(d.meta.Captures)-1].Frequency),
	}
}
