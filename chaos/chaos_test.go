package chaos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avivl/leasekeeper/store"
	"github.com/avivl/leasekeeper/store/memory"
)

func TestZeroRatesPassThrough(t *testing.T) {
	mem := memory.New()
	p := Wrap(mem, Config{})
	ctx := context.Background()

	assert.Equal(t, "memory", p.Backend())

	acq, err := p.AttemptAcquire(ctx, "orders", 30*time.Second, nil)
	require.NoError(t, err)

	_, err = p.RenewIfOwned(ctx, "orders", acq.Token, 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, p.ReleaseIfOwned(ctx, "orders", acq.Token))
	assert.Empty(t, mem.Holder("orders"))
}

func TestInjectedFailures(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()

	t.Run("acquire", func(t *testing.T) {
		p := Wrap(mem, Config{AcquireFailureRate: 1})
		_, err := p.AttemptAcquire(ctx, "orders", 30*time.Second, nil)
		require.Error(t, err)
		assert.True(t, store.IsTransient(err))
		assert.ErrorIs(t, err, ErrInjected)
		assert.Empty(t, mem.Holder("orders"), "injected failures must not reach the backend")
	})

	t.Run("renew", func(t *testing.T) {
		acq, err := mem.AttemptAcquire(ctx, "orders", 30*time.Second, nil)
		require.NoError(t, err)
		defer mem.ForceBreak(ctx, "orders")

		p := Wrap(mem, Config{RenewFailureRate: 1})
		_, err = p.RenewIfOwned(ctx, "orders", acq.Token, 30*time.Second)
		require.Error(t, err)
		assert.True(t, store.IsTransient(err))
	})

	t.Run("release", func(t *testing.T) {
		acq, err := mem.AttemptAcquire(ctx, "billing", 30*time.Second, nil)
		require.NoError(t, err)
		defer mem.ForceBreak(ctx, "billing")

		p := Wrap(mem, Config{ReleaseFailureRate: 1})
		err = p.ReleaseIfOwned(ctx, "billing", acq.Token)
		require.Error(t, err)
		assert.Equal(t, acq.Token, mem.Holder("billing"))
	})
}

func TestForceBreakNeverInjected(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()

	_, err := mem.AttemptAcquire(ctx, "orders", 30*time.Second, nil)
	require.NoError(t, err)

	p := Wrap(mem, Config{AcquireFailureRate: 1, RenewFailureRate: 1, ReleaseFailureRate: 1})
	require.NoError(t, p.ForceBreak(ctx, "orders"))
	assert.Empty(t, mem.Holder("orders"))
}

func TestLatencyHonorsContext(t *testing.T) {
	p := Wrap(memory.New(), Config{Latency: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.AttemptAcquire(ctx, "orders", 30*time.Second, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
