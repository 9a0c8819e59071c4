// Package iqblock defines the IQ sample block, the one data type that
// flows from a source, through the broadcast fabric, into every consumer.
package iqblock

import "time"

// Block is a contiguous buffer of complex baseband samples plus the
// capture metadata needed to interpret it. Blocks are immutable once
// published: nothing downstream of the broadcast fabric may mutate
// Samples in place.
type Block struct {
	Samples    []complex64
	CenterHz   int64
	SampleRate int64
	CapturedAt time.Time

	// PlaybackFile and PlaybackOffset are set only by file-backed sources
	// (SigMF playback); nil/zero for live hardware sources.
	PlaybackFile   string
	PlaybackOffset int64
}

// Len returns the number of samples in the block.
func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Samples)
}

// RoundUpPow2 returns the smallest power of two >= n, with a floor of 1.
func RoundUpPow2(n int64) int64 {
	if n <= 1 {
		return 1
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// SamplesPerBlock implements the source worker's block-sizing policy:
// target ~15 blocks/sec, rounded up to a power of two, floored at the
// configured FFT size, and capped at 2^20.
func SamplesPerBlock(sampleRate int64, fftSize int) int64 {
	const (
		targetBlocksPerSec = 15
		cap20              = 1 << 20
	)
	n := RoundUpPow2(sampleRate / targetBlocksPerSec)
	if fftSize > 0 && n < int64(fftSize) {
		n = RoundUpPow2(int64(fftSize))
	}
	if n > cap20 {
		n = cap20
	}
	return n
}
