package rigscope

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// A single timestamped reading. Timestamp is in seconds.
type Sample struct {
	Timestamp float64
	Value     float64
	// Name the device printed in front of the reading, like "RPM" in
	// "RPM: 1234.50". Empty for unlabelled readings, which go to every view.
	Label string `json:",omitempty"`
}

// ErrNoData is returned by a SampleSource that has nothing ready for the
// current tick. The Dispatcher skips the tick when it sees it.
var ErrNoData = errors.New("no data available")

// SampleSource produces one Sample per tick.
//
// NextSample is called from the tick loop and must not block: anything slow
// (like reading a serial port) has to happen elsewhere, with NextSample only
// draining data that is already available.
type SampleSource interface {
	NextSample(context.Context) (Sample, error)
}

// SourceHealth describes a source that reads on its own goroutine.
type SourceHealth struct {
	// The reader stopped; the source will only return ErrNoData from now on.
	Ended bool
	Err   string `json:",omitempty"`
	// Samples discarded because the queue was full.
	Overflow uint64
}

// Optionally implemented by a SampleSource. The Dispatcher reports it in its
// stats.
type SourceHealthReporter interface {
	Health() SourceHealth
}

// Placeholder source used until real rig hardware is attached. Every call
// advances the timestamp by one period and draws a value uniformly from
// [Min, Max).
type SimulatedSource struct {
	period time.Duration
	min    float64
	max    float64

	mutex sync.Mutex
	rng   *rand.Rand
	time  float64
}

func NewSimulatedSource(period time.Duration, rng *rand.Rand) *SimulatedSource {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &SimulatedSource{
		period: period,
		min:    0,
		max:    100,
		rng:    rng,
	}
}

// WithRange changes the value domain. Values are drawn from [min, max).
func (s *SimulatedSource) WithRange(min, max float64) *SimulatedSource {
	s.min = min
	s.max = max
	return s
}

func (s *SimulatedSource) NextSample(ctx context.Context) (Sample, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.time += s.period.Seconds()

	return Sample{
		Timestamp: s.time,
		Value:     s.min + s.rng.Float64()*(s.max-s.min),
	}, nil
}
