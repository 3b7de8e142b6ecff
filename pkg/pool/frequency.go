package pool

import (
	"sync"
	"time"
)

// Frequency decides whether a pool is under-used and should shrink.
type Frequency interface {
	Hit()
	IsLowFrequency() bool
}

// Flusher is the part of a pool a background strategy drives.
type Flusher interface {
	FlushOne(must bool)
}

// Runner is implemented by strategies that need a goroutine of their own.
type Runner interface {
	Start(f Flusher)
	Stop()
}

// FrequencyFactory builds a fresh strategy for a configuration. Pools call it
// at construction and on every Reconfigure.
type FrequencyFactory func(cfg Config, now func() time.Time) Frequency

const (
	defaultWindow    = 10 * time.Second
	defaultThreshold = 5.0
	defaultCooldown  = 60 * time.Second
)

// DefaultFrequency keeps per-second hit counts over a sliding window. Only
// seconds since creation count towards the mean, so a young pool is not
// judged by time it did not exist.
type DefaultFrequency struct {
	Window    time.Duration
	Threshold float64
	Cooldown  time.Duration

	mu      sync.Mutex
	hits    map[int64]int
	begin   int64
	lastLow int64
	now     func() time.Time
}

func NewDefaultFrequency(now func() time.Time) *DefaultFrequency {
	return NewDefaultFrequencyWith(defaultWindow, defaultThreshold, defaultCooldown, now)
}

func NewDefaultFrequencyWith(window time.Duration, threshold float64, cooldown time.Duration, now func() time.Time) *DefaultFrequency {
	if now == nil {
		now = time.Now
	}
	if window < time.Second {
		window = time.Second
	}
	start := now().Unix()
	return &DefaultFrequency{
		Window:    window,
		Threshold: threshold,
		Cooldown:  cooldown,
		hits:      make(map[int64]int),
		begin:     start,
		lastLow:   start,
		now:       now,
	}
}

func (f *DefaultFrequency) Hit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	sec := f.now().Unix()
	f.prune(sec)
	f.hits[sec]++
}

// Mean returns the average hits per second over the current window.
func (f *DefaultFrequency) Mean() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mean(f.now().Unix())
}

func (f *DefaultFrequency) IsLowFrequency() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sec := f.now().Unix()
	if f.lastLow+int64(f.Cooldown/time.Second) >= sec {
		return false
	}
	if f.mean(sec) >= f.Threshold {
		return false
	}
	f.lastLow = sec
	return true
}

func (f *DefaultFrequency) windowStart(sec int64) int64 {
	start := sec - int64(f.Window/time.Second) + 1
	if start < f.begin {
		start = f.begin
	}
	return start
}

func (f *DefaultFrequency) mean(sec int64) float64 {
	f.prune(sec)
	start := f.windowStart(sec)
	total := 0
	for s, n := range f.hits {
		if s >= start && s <= sec {
			total += n
		}
	}
	return float64(total) / float64(sec-start+1)
}

func (f *DefaultFrequency) prune(sec int64) {
	start := f.windowStart(sec)
	for s := range f.hits {
		if s < start {
			delete(f.hits, s)
		}
	}
}

func DefaultFrequencyFactory(cfg Config, now func() time.Time) Frequency {
	return NewDefaultFrequency(now)
}

// ConstantFrequency never reports low use. Instead it runs FlushOne on a
// fixed tick, which evicts stale connections and heartbeats live ones.
type ConstantFrequency struct {
	Interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewConstantFrequency(interval time.Duration) *ConstantFrequency {
	return &ConstantFrequency{Interval: interval}
}

// ConstantFrequencyFactory ticks every interval, or every cfg.Heartbeat when
// interval is zero.
func ConstantFrequencyFactory(interval time.Duration) FrequencyFactory {
	return func(cfg Config, _ func() time.Time) Frequency {
		tick := interval
		if tick <= 0 {
			tick = cfg.Heartbeat
		}
		return NewConstantFrequency(tick)
	}
}

func (f *ConstantFrequency) Hit() {}

func (f *ConstantFrequency) IsLowFrequency() bool { return false }

func (f *ConstantFrequency) Start(p Flusher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil || f.Interval <= 0 {
		return
	}
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(f.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.FlushOne(false)
			}
		}
	}(f.stop, f.done)
}

func (f *ConstantFrequency) Stop() {
	f.mu.Lock()
	stop, done := f.stop, f.done
	f.stop, f.done = nil, nil
	f.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}
