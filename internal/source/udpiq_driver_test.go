package source

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"testing"
)

func TestLe32ToFloat(t *testing.T) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(3.5))
	if got := le32ToFloat(b); got != 3.5 {
		t.Errorf("le32ToFloat = %v, want 3.5", got)
	}
}

func TestUDPIQDriverOpenAndReadUnicast(t *testing.T) {
	d := NewUDPIQDriver("127.0.0.1:0", "")
	if err := d.Open(context.Background(), Config{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	bound := d.conn.LocalAddr().(*net.UDPAddr)
	sender, err := net.DialUDP("udp4", nil, bound)
	if err != nil {
		t.Fatalf("dial sender: %v", err)
	}
	defer sender.Close()

	payload := make([]byte, 16) // two complex64 samples
	binary.LittleEndian.PutUint32(payload[0:4], math.Float32bits(1.0))
	binary.LittleEndian.PutUint32(payload[4:8], math.Float32bits(-1.0))
	binary.LittleEndian.PutUint32(payload[8:12], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(payload[12:16], math.Float32bits(-0.5))
	if _, err := sender.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	block, err := d.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if block == nil {
		t.Fatal("expected a non-nil block after sending a datagram")
	}
	if len(block.Samples) != 2 {
		t.Fatalf("len(block.Samples) = %d, want 2", len(block.Samples))
	}
	if real(block.Samples[0]) != 1.0 || imag(block.Samples[0]) != -1.0 {
		t.Errorf("block.Samples[0] = %v, want (1-1i)", block.Samples[0])
	}
}

func TestUDPIQDriverReconfigureUpdatesState(t *testing.T) {
	d := NewUDPIQDriver("127.0.0.1:0", "")
	if err := d.Open(context.Background(), Config{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	hz := int64(200_000_000)
	sr := int64(96000)
	if err := d.Reconfigure(context.Background(), Config{CenterHz: &hz, SampleRate: &sr}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if d.centerHz != hz || d.sampleRate != sr {
		t.Errorf("centerHz=%d sampleRate=%d, want %d/%d", d.centerHz, d.sampleRate, hz, sr)
	}
}
