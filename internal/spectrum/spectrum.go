// Package spectrum implements the Spectrum Processor (C3): window + FFT
// + IIR-averaged power spectrum frames, one processor per source.
//
// The FFT technique (gonum's fourier.FFT, hand-rolled window tables, DC
// recentering) is the same approach used by the spectrum analyzer
// decoder extension, computing its own FFT rather than delegating to
// external radio hardware.
package spectrum

import (
	"math"

	"github.com/cwsl/groundstation/internal/iqblock"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Window names accepted by Config.Spectrum.Window.
const (
	WindowHann     = "hann"
	WindowHamming  = "hamming"
	WindowBlackman = "blackman"
	WindowRect     = "rect"
)

// Frame is one emitted power-spectrum frame.
type Frame struct {
	CenterHz   int64
	SampleRate int64
	Window     string
	Averaging  int
	PowerDBFS  []float64 // length FFTSize, DC-centered
}

// Processor holds per-source FFT state: the window table, FFT plan, and
// the running exponential average.
type Processor struct {
	fftSize   int
	window    string
	averaging int

	windowTable []float64
	fft         *fourier.CmplxFFT
	avg         []float64 // linear power, exponentially averaged
	haveAvg     bool
}

// New constructs a processor for the given FFT size/window/averaging.
func New(fftSize int, window string, averaging int) *Processor {
	if averaging < 1 {
		averaging = 1
	}
	p := &Processor{
		fftSize:   fftSize,
		window:    window,
		averaging: averaging,
		fft:       fourier.NewCmplxFFT(fftSize),
		avg:       make([]float64, fftSize),
	}
	p.windowTable = buildWindow(window, fftSize)
	return p
}

func buildWindow(name string, n int) []float64 {
	w := make([]float64, n)
	switch name {
	case WindowHamming:
		for i := range w {
			w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		}
	case WindowBlackman:
		for i := range w {
			x := 2 * math.Pi * float64(i) / float64(n-1)
			w[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
		}
	case WindowRect:
		for i := range w {
			w[i] = 1.0
		}
	default: // hann
		for i := range w {
			w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		}
	}
	return w
}

// Process consumes one IQ block and returns the emitted frame. The block
// is zero-padded or truncated/decimated to the configured FFT size.
func (p *Processor) Process(block *iqblock.Block) *Frame {
	windowed := make([]complex128, p.fftSize)
	n := block.Len()
	if n >= p.fftSize {
		// Decimate down to fftSize by picking every stride-th sample.
		stride := n / p.fftSize
		if stride < 1 {
			stride = 1
		}
		for i := 0; i < p.fftSize; i++ {
			srcIdx := i * stride
			if srcIdx >= n {
				srcIdx = n - 1
			}
			s := block.Samples[srcIdx]
			windowed[i] = complex(float64(real(s))*p.windowTable[i], float64(imag(s))*p.windowTable[i])
		}
	} else {
		for i := 0; i < n; i++ {
			s := block.Samples[i]
			windowed[i] = complex(float64(real(s))*p.windowTable[i], float64(imag(s))*p.windowTable[i])
		}
		// remaining entries are zero: zero-padded
	}

	out := p.fft.Coefficients(nil, windowed)

	power := make([]float64, p.fftSize)
	for i, c := range out {
		re, im := real(c), imag(c)
		pwr := re*re + im*im
		if pwr < 1e-20 {
			pwr = 1e-20
		}
		// DC-center: shift so bin 0 (DC) lands at fftSize/2.
		shifted := (i + p.fftSize/2) % p.fftSize
		power[shifted] = pwr
	}

	alpha := 1.0 / float64(p.averaging)
	if !p.haveAvg {
		copy(p.avg, power)
		p.haveAvg = true
	} else {
		for i := range p.avg {
			p.avg[i] = p.avg[i]*(1-alpha) + power[i]*alpha
		}
	}

	dbfs := make([]float64, p.fftSize)
	for i, v := range p.avg {
		dbfs[i] = 10 * math.Log10(v)
	}

	return &Frame{
		CenterHz:   block.CenterHz,
		SampleRate: block.SampleRate,
		Window:     p.window,
		Averaging:  p.averaging,
		PowerDBFS:  dbfs,
	}
}

