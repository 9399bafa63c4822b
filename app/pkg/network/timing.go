package network

import (
	"sync"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/utils/slicex"
)

const timingWindow = 100

type Sample struct {
	Status   int
	Path     string
	Duration time.Duration
}

type TimingStats struct {
	Count int
	Min   time.Duration
	Avg   time.Duration
	Max   time.Duration
}

// Timings keeps the last timingWindow request samples.
type Timings struct {
	samples []Sample
	mu      sync.Mutex
}

func (t *Timings) Add(sample Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = append(t.samples, sample)
	if overflow := len(t.samples) - timingWindow; overflow > 0 {
		t.samples = append(t.samples[:0], t.samples[overflow:]...)
	}
}

func (t *Timings) Samples() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]Sample(nil), t.samples...)
}

func (t *Timings) Stats() TimingStats {
	t.mu.Lock()
	durations := make([]time.Duration, len(t.samples))
	for idx, sample := range t.samples {
		durations[idx] = sample.Duration
	}
	t.mu.Unlock()

	if len(durations) == 0 {
		return TimingStats{}
	}

	return TimingStats{
		Count: len(durations),
		Min:   slicex.Min(durations),
		Avg:   slicex.Sum(durations) / time.Duration(len(durations)),
		Max:   slicex.Max(durations),
	}
}
