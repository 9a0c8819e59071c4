package source

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/cwsl/groundstation/internal/iqblock"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// UDPIQDriver receives raw cf32 IQ samples over a UDP multicast or
// unicast socket. Socket setup (SO_REUSEPORT/SO_REUSEADDR, multicast
// group join with loopback) follows the same pattern used for
// multicast status/audio sockets, repurposed here to receive sample
// data instead.
type UDPIQDriver struct {
	addr      string
	ifaceName string

	mu         sync.Mutex
	conn       *net.UDPConn
	sampleRate int64
	centerHz   int64
}

// NewUDPIQDriver listens on addr ("ip:port", multicast or unicast) using
// the named interface (may be empty for the default).
func NewUDPIQDriver(addr, ifaceName string) *UDPIQDriver {
	return &UDPIQDriver{addr: addr, ifaceName: ifaceName}
}

func (d *UDPIQDriver) Open(ctx context.Context, cfg Config) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", d.addr)
	if err != nil {
		return Fatal(fmt.Errorf("udpiq: resolve %s: %w", d.addr, err))
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
					sockErr = e
					return
				}
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
					sockErr = e
					return
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp4", udpAddr.String())
	if err != nil {
		return Fatal(fmt.Errorf("udpiq: listen: %w", err))
	}
	conn := pc.(*net.UDPConn)
	_ = conn.SetReadBuffer(1024 * 1024)

	if udpAddr.IP.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		var iface *net.Interface
		if d.ifaceName != "" {
			iface, _ = net.InterfaceByName(d.ifaceName)
		}
		if err := p.JoinGroup(iface, udpAddr); err != nil {
			return Fatal(fmt.Errorf("udpiq: join group: %w", err))
		}
		_ = p.SetMulticastLoopback(true)
	}

	d.mu.Lock()
	d.conn = conn
	d.sampleRate = 2048000
	d.centerHz = 100000000
	if cfg.SampleRate != nil {
		d.sampleRate = *cfg.SampleRate
	}
	if cfg.CenterHz != nil {
		d.centerHz = *cfg.CenterHz
	}
	d.mu.Unlock()
	return nil
}

func (d *UDPIQDriver) Read(ctx context.Context) (*iqblock.Block, error) {
	d.mu.Lock()
	conn := d.conn
	sr, center := d.sampleRate, d.centerHz
	d.mu.Unlock()

	buf := make([]byte, 65536)
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, Fatal(fmt.Errorf("udpiq: read: %w", err))
	}
	raw := buf[:n-n%8]
	samples := make([]complex64, len(raw)/8)
	for i := range samples {
		off := i * 8
		var ib, qb [4]byte
		copy(ib[:], raw[off:off+4])
		copy(qb[:], raw[off+4:off+8])
		re := le32ToFloat(ib)
		im := le32ToFloat(qb)
		samples[i] = complex(re, im)
	}

	return &iqblock.Block{
		Samples:    samples,
		CenterHz:   center,
		SampleRate: sr,
		CapturedAt: time.Now(),
	}, nil
}

func le32ToFloat(b [4]byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

func (d *UDPIQDriver) Reconfigure(ctx context.Context, patch Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if patch.SampleRate != nil {
		d.sampleRate = *patch.SampleRate
	}
	if patch.CenterHz != nil {
		d.centerHz = *patch.CenterHz
	}
	return nil
}

func (d *UDPIQDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *UDPIQDriver) Capabilities() Capabilities {
	return Capabilities{}
}
