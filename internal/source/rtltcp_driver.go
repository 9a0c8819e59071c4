package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cwsl/groundstation/internal/iqblock"
	"github.com/hashicorp/go-version"
)

// rtlTCPHeader is the 12-byte magic + tuner-info header rtl_tcp sends on
// connect, followed by command-style 5-byte set-param messages in the
// other direction.
type rtlTCPHeader struct {
	Magic      [4]byte
	TunerType  uint32
	GainCount  uint32
}

// RTLTCPDriver speaks the rtl_tcp wire protocol: connect, read the fixed
// header, then stream cu8 IQ samples until closed. This is the de facto
// ubiquitous networked-SDR protocol, distinct from any vendor-specific
// proprietary format.
type RTLTCPDriver struct {
	addr       string
	minVersion *version.Version

	conn       net.Conn
	sampleRate int64
	centerHz   int64
	fftSize    int
}

// NewRTLTCPDriver dials addr ("host:port") lazily on Open.
func NewRTLTCPDriver(addr string) *RTLTCPDriver {
	minV, _ := version.NewVersion("0.1.0")
	return &RTLTCPDriver{addr: addr, minVersion: minV}
}

func (d *RTLTCPDriver) Open(ctx context.Context, cfg Config) error {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return Fatal(fmt.Errorf("rtltcp: dial %s: %w", d.addr, err))
	}
	d.conn = conn

	var hdr rtlTCPHeader
	buf := make([]byte, 12)
	if _, err := io.ReadFull(conn, buf); err != nil {
		conn.Close()
		return Fatal(fmt.Errorf("rtltcp: read header: %w", err))
	}
	copy(hdr.Magic[:], buf[0:4])
	hdr.TunerType = binary.BigEndian.Uint32(buf[4:8])
	hdr.GainCount = binary.BigEndian.Uint32(buf[8:12])
	if string(hdr.Magic[:]) != "RTL0" {
		conn.Close()
		return Fatal(fmt.Errorf("rtltcp: unexpected magic %q", hdr.Magic))
	}

	d.sampleRate = 2048000
	d.centerHz = 100000000
	d.fftSize = 2048
	if cfg.SampleRate != nil {
		d.sampleRate = *cfg.SampleRate
	}
	if cfg.CenterHz != nil {
		d.centerHz = *cfg.CenterHz
	}
	if cfg.FFTSize != nil {
		d.fftSize = *cfg.FFTSize
	}
	if err := d.sendCommand(0x01, uint32(d.centerHz)); err != nil {
		conn.Close()
		return Fatal(err)
	}
	if err := d.sendCommand(0x02, uint32(d.sampleRate)); err != nil {
		conn.Close()
		return Fatal(err)
	}
	return nil
}

// sendCommand writes an rtl_tcp 5-byte command: 1 opcode byte + 4 big-endian param bytes.
func (d *RTLTCPDriver) sendCommand(opcode byte, param uint32) error {
	msg := make([]byte, 5)
	msg[0] = opcode
	binary.BigEndian.PutUint32(msg[1:], param)
	_, err := d.conn.Write(msg)
	return err
}

func (d *RTLTCPDriver) Read(ctx context.Context) (*iqblock.Block, error) {
	n := iqblock.SamplesPerBlock(d.sampleRate, d.fftSize)
	raw := make([]byte, n*2)
	d.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	read, err := io.ReadFull(d.conn, raw)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil // let the worker loop observe cancellation promptly
		}
		return nil, Fatal(fmt.Errorf("rtltcp: read: %w", err))
	}
	raw = raw[:read]

	samples := make([]complex64, len(raw)/2)
	var sumI, sumQ float64
	for i := range samples {
		iv := float32(int(raw[2*i])-128) / 128.0
		qv := float32(int(raw[2*i+1])-128) / 128.0
		samples[i] = complex(iv, qv)
		sumI += float64(iv)
		sumQ += float64(qv)
	}
	// DC offset removal, guarding against NaN/Inf means.
	if len(samples) > 0 {
		meanI := float32(sumI / float64(len(samples)))
		meanQ := float32(sumQ / float64(len(samples)))
		if !isFiniteF32(meanI) {
			meanI = 0
		}
		if !isFiniteF32(meanQ) {
			meanQ = 0
		}
		for i, s := range samples {
			samples[i] = complex(real(s)-meanI, imag(s)-meanQ)
		}
	}

	return &iqblock.Block{
		Samples:    samples,
		CenterHz:   d.centerHz,
		SampleRate: d.sampleRate,
		CapturedAt: time.Now(),
	}, nil
}

func (d *RTLTCPDriver) Reconfigure(ctx context.Context, patch Config) error {
	if patch.SampleRate != nil && *patch.SampleRate != d.sampleRate {
		d.sampleRate = *patch.SampleRate
		if err := d.sendCommand(0x02, uint32(d.sampleRate)); err != nil {
			return err
		}
	}
	if patch.CenterHz != nil && *patch.CenterHz != d.centerHz {
		d.centerHz = *patch.CenterHz
		if err := d.sendCommand(0x01, uint32(d.centerHz)); err != nil {
			return err
		}
	}
	if patch.GainDB != nil {
		if err := d.sendCommand(0x04, uint32(*patch.GainDB*10)); err != nil {
			return err
		}
	}
	if patch.AGC != nil {
		v := uint32(0)
		if *patch.AGC {
			v = 1
		}
		if err := d.sendCommand(0x08, v); err != nil {
			return err
		}
	}
	return nil
}

func (d *RTLTCPDriver) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *RTLTCPDriver) Capabilities() Capabilities {
	return Capabilities{
		SampleRates: []int64{250000, 1024000, 1536000, 1920000, 2048000, 2560000, 3200000},
		MinHz:       24000000,
		MaxHz:       1766000000,
	}
}

func isFiniteF32(f float32) bool {
	return f == f && f < 1e30 && f > -1e30
}
