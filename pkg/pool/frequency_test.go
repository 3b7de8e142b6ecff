package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivecore/internal/testutil"
)

func TestDefaultFrequencyReportsLowOnceAfterIdle(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	f := NewDefaultFrequencyWith(60*time.Second, 0.5, 60*time.Second, clock.Now)

	var reports []int
	for sec := 0; sec < 70; sec++ {
		f.Hit()
		if f.IsLowFrequency() {
			reports = append(reports, sec)
		}
		clock.Advance(time.Second)
	}
	assert.Empty(t, reports, "busy pool is never low")

	for sec := 70; sec <= 131; sec++ {
		if f.IsLowFrequency() {
			reports = append(reports, sec)
		}
		if sec < 131 {
			clock.Advance(time.Second)
		}
	}
	assert.Equal(t, []int{100}, reports)
}

func TestDefaultFrequencyCooldownFromCreation(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(500, 0))
	f := NewDefaultFrequency(clock.Now)

	assert.False(t, f.IsLowFrequency(), "cooldown runs from creation")
	clock.Advance(61 * time.Second)
	assert.True(t, f.IsLowFrequency())
	assert.False(t, f.IsLowFrequency())
	clock.Advance(61 * time.Second)
	assert.True(t, f.IsLowFrequency())
}

func TestDefaultFrequencyMeanOnlyCountsLifetime(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	f := NewDefaultFrequency(clock.Now)

	for i := 0; i < 6; i++ {
		f.Hit()
	}
	assert.Equal(t, 6.0, f.Mean())

	clock.Advance(time.Second)
	assert.Equal(t, 3.0, f.Mean())

	clock.Advance(20 * time.Second)
	assert.Equal(t, 0.0, f.Mean())
}

type countingFlusher struct {
	calls atomic.Int32
}

func (c *countingFlusher) FlushOne(must bool) { c.calls.Add(1) }

func TestConstantFrequencyTicks(t *testing.T) {
	f := NewConstantFrequency(5 * time.Millisecond)
	fl := &countingFlusher{}
	f.Start(fl)
	assert.Eventually(t, func() bool { return fl.calls.Load() >= 3 }, time.Second, time.Millisecond)
	f.Stop()
	n := fl.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, fl.calls.Load())
	assert.False(t, f.IsLowFrequency())
	f.Stop()
}

func TestConstantFrequencyEvictsStaleConnections(t *testing.T) {
	r := &factoryRecorder{}
	cfg := testConfig(0, 2)
	cfg.MaxIdleTime = 10 * time.Millisecond
	p, err := New[*fakeConn](cfg, r.factory, func(o *Options) {
		o.Frequency = ConstantFrequencyFactory(5 * time.Millisecond)
	})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Get(context.Background())
	require.NoError(t, err)
	c.Release()

	assert.Eventually(t, func() bool { return p.Stats().Current == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.Resource.closed.Load())
}

func TestConstantFrequencyFactoryFallsBackToHeartbeat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Heartbeat = 7 * time.Second
	f := ConstantFrequencyFactory(0)(cfg, time.Now).(*ConstantFrequency)
	assert.Equal(t, 7*time.Second, f.Interval)

	cfg.Heartbeat = 9 * time.Second
	f = ConstantFrequencyFactory(0)(cfg, time.Now).(*ConstantFrequency)
	assert.Equal(t, 9*time.Second, f.Interval)
}
