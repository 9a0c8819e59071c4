package audioout

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/cwsl/groundstation/internal/demod"
)

func TestFloatToPCM16ClampsFullScale(t *testing.T) {
	out := floatToPCM16([]float32{2.0, -2.0, 0.5})
	if out[0] != 32767 {
		t.Errorf("out[0] = %d, want clamped to 32767", out[0])
	}
	if out[1] != -32768 {
		t.Errorf("out[1] = %d, want clamped to -32768", out[1])
	}
	want := int16(16383) // 0.5*32767 = 16383.5, truncated toward zero
	if out[2] != want {
		t.Errorf("out[2] = %d, want %d", out[2], want)
	}
}

func TestInt16ToBigEndianBytes(t *testing.T) {
	out := int16ToBigEndianBytes([]int16{1, -1})
	if len(out) != 4 {
		t.Fatalf("len(out) = %d, want 4", len(out))
	}
	if binary.BigEndian.Uint16(out[0:2]) != 1 {
		t.Errorf("first sample = %d, want 1", binary.BigEndian.Uint16(out[0:2]))
	}
}

func TestSenderSendWritesRTPPacket(t *testing.T) {
	ln, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	s, err := NewSender(ln.LocalAddr().String(), 0xABCD, 44100, 1, false)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer s.Close()

	frame := &demod.Frame{PCM: []float32{0.1, 0.2, 0.3, 0.4}, SampleRate: 44100}
	if err := s.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ln.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2000)
	n, _, err := ln.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if n < 12 {
		t.Fatalf("received %d bytes, want at least a 12-byte RTP header", n)
	}
	// RTP header: version bits 7-6 of byte 0 must be 2.
	if buf[0]>>6 != 2 {
		t.Errorf("RTP version = %d, want 2", buf[0]>>6)
	}
	ssrc := binary.BigEndian.Uint32(buf[8:12])
	if ssrc != 0xABCD {
		t.Errorf("SSRC = %x, want ABCD", ssrc)
	}
}

func TestSenderSendIncrementsSequenceAndTimestamp(t *testing.T) {
	ln, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	s, err := NewSender(ln.LocalAddr().String(), 1, 44100, 1, false)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer s.Close()

	frame := &demod.Frame{PCM: make([]float32, 441), SampleRate: 44100} // 10ms of audio
	if err := s.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if s.seq != 1 {
		t.Errorf("seq = %d, want 1 after one Send", s.seq)
	}
	if s.tsMs == 0 {
		t.Error("expected tsMs to advance after a nonzero-duration frame")
	}
}
