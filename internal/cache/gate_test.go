package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct{ v atomic.Int64 }

func (c *fakeClock) LastUpdated(context.Context) (int64, error) { return c.v.Load(), nil }

func counting(calls *atomic.Int32, out string) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(out), nil
	}
}

func TestGetOrCompute_GatedOnClock(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{}
	g := New(clk)
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		v, err := g.GetOrCompute(ctx, "k", counting(&calls, "a"))
		require.NoError(t, err)
		assert.Equal(t, "a", string(v))
	}
	assert.Equal(t, int32(1), calls.Load(), "no mutation, no recompute")

	clk.v.Store(10)
	v, err := g.GetOrCompute(ctx, "k", counting(&calls, "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(v))
	assert.Equal(t, int32(2), calls.Load())

	at, ok := g.ComputedAt("k")
	require.True(t, ok)
	assert.Equal(t, int64(10), at)

	_, err = g.GetOrCompute(ctx, "k", counting(&calls, "c"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrCompute_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	g := New(&fakeClock{})
	var calls atomic.Int32

	a, err := g.GetOrCompute(ctx, "a", counting(&calls, "A"))
	require.NoError(t, err)
	b, err := g.GetOrCompute(ctx, "b", counting(&calls, "B"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(a))
	assert.Equal(t, "B", string(b))
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	g := New(&fakeClock{})
	var calls atomic.Int32

	_, err := g.GetOrCompute(ctx, "k", counting(&calls, "a"))
	require.NoError(t, err)
	g.Invalidate("k")
	_, ok := g.ComputedAt("k")
	assert.False(t, ok)

	v, err := g.GetOrCompute(ctx, "k", counting(&calls, "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(v))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrCompute_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{}
	g := New(clk)
	boom := errors.New("boom")

	_, err := g.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)

	clk.v.Store(5)
	_, err = g.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	// The stale entry is kept but not served: the next read recomputes.
	at, ok := g.ComputedAt("k")
	require.True(t, ok)
	assert.Equal(t, int64(0), at)

	v, err := g.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) { return []byte("again"), nil })
	require.NoError(t, err)
	assert.Equal(t, "again", string(v))
}

func TestGetOrCompute_ConcurrentSingleFlight(t *testing.T) {
	ctx := context.Background()
	g := New(&fakeClock{})
	var calls atomic.Int32
	release := make(chan struct{})

	slow := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := g.GetOrCompute(ctx, "k", slow)
			assert.NoError(t, err)
			assert.Equal(t, "v", string(v))
		}()
	}
	// Give every goroutine a chance to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
