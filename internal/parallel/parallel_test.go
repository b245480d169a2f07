package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), Sequential(), {Enabled: true, NumWorkers: 4, MinChunkSize: 3}} {
		var counter int64
		seen := make([]int32, 1000)
		For(len(seen), func(i int) {
			atomic.AddInt64(&counter, 1)
			atomic.AddInt32(&seen[i], 1)
		}, cfg)

		assert.Equal(t, int64(len(seen)), counter)
		for i, v := range seen {
			assert.Equal(t, int32(1), v, "index %d", i)
		}
	}
}

func TestForSmallFallsBackToSequential(t *testing.T) {
	cfg := DefaultConfig()
	var counter int64
	n := cfg.MinChunkSize - 1
	For(n, func(_ int) { atomic.AddInt64(&counter, 1) }, cfg)
	assert.Equal(t, int64(n), counter)
}

func TestTasks(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 3, MinChunkSize: 64}
	var inFlight, peak int64
	done := make([]bool, 17)
	Tasks(len(done), func(i int) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if cur <= p || atomic.CompareAndSwapInt64(&peak, p, cur) {
				break
			}
		}
		done[i] = true
		atomic.AddInt64(&inFlight, -1)
	}, cfg)

	for i, d := range done {
		assert.True(t, d, "task %d", i)
	}
	assert.LessOrEqual(t, peak, int64(3))
}

func TestForBatch(t *testing.T) {
	batch, channels := 4, 8
	results := make([][]bool, batch)
	for b := range results {
		results[b] = make([]bool, channels)
	}

	ForBatch(batch, channels, func(b, c int) {
		results[b][c] = true
	}, Config{Enabled: true, NumWorkers: 4, MinChunkSize: 2})

	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			assert.True(t, results[b][c], "missing result at [%d][%d]", b, c)
		}
	}
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, Sequential())
		}
	})
}
