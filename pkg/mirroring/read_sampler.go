package mirroring

import (
	"math/rand"
	"sync"
)

// ReadSampler decides, per read, whether the secondary should be
// exercised at all (§4.1). Implementations must be safe for
// concurrent use, since the dispatcher calls it from the caller's
// goroutine for every read and every batch.
type ReadSampler interface {
	ShouldNextReadOperationBeSampled() bool
}

// probabilisticReadSampler samples a fixed fraction of reads, the way
// a tracing sampler would (the mirroring client's Read Sampler plays
// the same role for secondary read verification that a trace sampler
// plays for span export).
type probabilisticReadSampler struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64
}

// NewProbabilisticReadSampler returns a ReadSampler that samples reads
// with probability rate, clamped to [0, 1].
func NewProbabilisticReadSampler(rate float64) ReadSampler {
	if rate < 0 {
		rate = 0
	} else if rate > 1 {
		rate = 1
	}
	return &probabilisticReadSampler{
		rng:  rand.New(rand.NewSource(rand.Int63())),
		rate: rate,
	}
}

func (s *probabilisticReadSampler) ShouldNextReadOperationBeSampled() bool {
	if s.rate >= 1 {
		return true
	}
	if s.rate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.rate
}

// AlwaysSample is a ReadSampler that samples every read; useful for
// continuous replica-validation deployments where every read should be
// checked.
var AlwaysSample ReadSampler = alwaysSample{}

type alwaysSample struct{}

func (alwaysSample) ShouldNextReadOperationBeSampled() bool { return true }

// NeverSample is a ReadSampler that never samples; equivalent to
// running the mirroring table with the secondary write-only.
var NeverSample ReadSampler = neverSample{}

type neverSample struct{}

func (neverSample) ShouldNextReadOperationBeSampled() bool { return false }
