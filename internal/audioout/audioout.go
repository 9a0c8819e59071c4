// Package audioout implements the C4 audio egress path: packetizing
// demodulated audio frames as RTP and streaming them to a client over
// UDP, with an optional Opus-encoded payload.
//
// RTP marshaling uses pion/rtp, the same library an incoming-RTP
// receiver would use to parse packets and route PCM by SSRC; here the
// role is inverted, marshaling outgoing RTP packets from demod.Frame
// output, one SSRC per VFO, mirroring the same big-endian PCM16
// payload convention when Opus is not requested.
package audioout

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/cwsl/groundstation/internal/demod"
)

// payloadType values for the two supported RTP payload encodings;
// dynamic range (96-127) per RFC 3551.
const (
	PayloadTypePCM  uint8 = 96
	PayloadTypeOpus uint8 = 97
)

const rtpClockHz = 1000 // timestamp units: ms, since sample rate varies per VFO

// Sender streams one VFO's demodulated audio to a destination as RTP,
// optionally Opus-encoded.
type Sender struct {
	conn       net.Conn
	ssrc       uint32
	seq        uint16
	tsMs       uint32
	useOpus    bool
	encoder    *opus.Encoder
	sampleRate int
	channels   int

	mu sync.Mutex
}

// NewSender dials a UDP destination and builds a sender for one VFO.
// When useOpus is true, sampleRate/channels configure the Opus
// encoder (Opus requires 8/12/16/24/48kHz; callers must resample
// demod output to one of those rates upstream if it differs).
func NewSender(destAddr string, ssrc uint32, sampleRate, channels int, useOpus bool) (*Sender, error) {
	conn, err := net.Dial("udp", destAddr)
	if err != nil {
		return nil, fmt.Errorf("audioout: dial %s: %w", destAddr, err)
	}

	s := &Sender{
		conn:       conn,
		ssrc:       ssrc,
		useOpus:    useOpus,
		sampleRate: sampleRate,
		channels:   channels,
	}

	if useOpus {
		enc, err := opus.NewEncoder(sampleRate, channels, opus.AppRestrictedLowdelay)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("audioout: new opus encoder: %w", err)
		}
		s.encoder = enc
	}
	return s, nil
}

// Send packetizes one demodulated frame and writes it as an RTP
// packet. PCM is interleaved float32 in [-1, 1]; it is converted to
// int16 before encoding/framing.
func (s *Sender) Send(frame *demod.Frame) error {
	pcm16 := floatToPCM16(frame.PCM)

	var payload []byte
	payloadType := PayloadTypePCM
	if s.useOpus {
		encoded := make([]byte, 4000)
		n, err := s.encoder.Encode(pcm16, encoded)
		if err != nil {
			return fmt.Errorf("audioout: opus encode: %w", err)
		}
		payload = encoded[:n]
		payloadType = PayloadTypeOpus
	} else {
		payload = int16ToBigEndianBytes(pcm16)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.tsMs,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.seq++
	channels := s.channels
	if channels < 1 {
		channels = 1
	}
	frameSamples := len(frame.PCM) / channels
	durationMs := uint32(frameSamples * rtpClockHz / frame.SampleRate)
	if durationMs == 0 {
		durationMs = 1 // guarantee forward progress for sub-millisecond frames
	}
	s.tsMs += durationMs

	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("audioout: marshal RTP packet: %w", err)
	}
	_, err = s.conn.Write(data)
	return err
}

// Close releases the sender's UDP socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

func floatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		sample := v * 32767
		switch {
		case sample > 32767:
			sample = 32767
		case sample < -32768:
			sample = -32768
		}
		out[i] = int16(sample)
	}
	return out
}

func int16ToBigEndianBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.BigEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
