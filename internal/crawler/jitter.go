package crawler

import (
	"math/rand/v2"
	"time"
)

// Rand is the randomness source used for humanlike pacing. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Int64N(n int64) int64
}

// NewRand returns a PCG-backed source. A zero seed draws one from the clock.
func NewRand(seed uint64) Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func uniformInt64(r Rand, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + r.Int64N(hi-lo+1)
}

func uniformDuration(r Rand, lo, hi time.Duration) time.Duration {
	return time.Duration(uniformInt64(r, int64(lo), int64(hi)))
}

func uniformInt(r Rand, lo, hi int) int {
	return int(uniformInt64(r, int64(lo), int64(hi)))
}
