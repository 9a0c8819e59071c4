package iqblock

import "testing"

func TestBlockLen(t *testing.T) {
	var nilBlock *Block
	if got := nilBlock.Len(); got != 0 {
		t.Errorf("nil block Len() = %d, want 0", got)
	}

	b := &Block{Samples: make([]complex64, 5)}
	if got := b.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
}

func TestRoundUpPow2(t *testing.T) {
	cases := []struct {
		in, want int64
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{1023, 1024},
		{1024, 1024},
		{1025, 2048},
	}
	for _, c := range cases {
		if got := RoundUpPow2(c.in); got != c.want {
			t.Errorf("RoundUpPow2(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestSamplesPerBlock(t *testing.T) {
	// ~15 blocks/sec at 2.4Msps rounds up to the next power of two.
	n := SamplesPerBlock(2_400_000, 2048)
	if n < 2_400_000/15 {
		t.Errorf("SamplesPerBlock too small: %d", n)
	}
	if n&(n-1) != 0 {
		t.Errorf("SamplesPerBlock(%d) not a power of two", n)
	}

	// A large FFT size floors the block size even at a low sample rate.
	n = SamplesPerBlock(8000, 1<<16)
	if n < 1<<16 {
		t.Errorf("SamplesPerBlock did not floor at fftSize: got %d", n)
	}

	// The cap holds even for absurd sample rates.
	n = SamplesPerBlock(1<<40, 0)
	if n > 1<<20 {
		t.Errorf("SamplesPerBlock exceeded cap: %d", n)
	}
}
