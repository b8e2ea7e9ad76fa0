package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpEmbed, 10*time.Millisecond, nil)
	c.RecordTiming(OpEmbed, 30*time.Millisecond, errors.New("boom"))
	c.RecordRetry(OpEmbed)
	c.RecordFallback(OpSummarize)

	snap := c.Snapshot()
	embed, ok := snap.Operations[OpEmbed]
	require.True(t, ok)
	assert.Equal(t, int64(2), embed.Count)
	assert.Equal(t, int64(1), embed.Errors)
	assert.Equal(t, int64(1), embed.Retries)
	assert.Equal(t, int64(40), embed.TotalTimeMs)
	assert.InDelta(t, 20.0, embed.AvgTimeMs, 0.001)
	assert.Equal(t, int64(10), embed.MinTimeMs)
	assert.Equal(t, int64(30), embed.MaxTimeMs)

	summarize := snap.Operations[OpSummarize]
	assert.Equal(t, int64(0), summarize.Count)
	assert.Equal(t, int64(0), summarize.MinTimeMs, "min stays zero until a call completes")
	assert.Equal(t, int64(1), summarize.Fallbacks)

	assert.Equal(t, []string{OpEmbed, OpSummarize}, snap.Names())
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}

func TestNilCollectorDiscards(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordTiming(OpPersist, time.Millisecond, nil)
		c.RecordRetry(OpPersist)
		c.RecordFallback(OpPersist)
	})
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.RecordTiming(OpMemorize, time.Microsecond, nil)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(5000), c.Snapshot().Operations[OpMemorize].Count)
}
