package refcount

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountInitialState(t *testing.T) {
	c := New()
	require.Equal(t, uint64(1), c.Strong())
	require.Equal(t, uint64(0), c.Weak())
	require.True(t, c.IsUnique())
}

func TestCountStrongLifecycle(t *testing.T) {
	c := New()
	c.IncStrong()
	require.Equal(t, uint64(2), c.Strong())
	require.False(t, c.DecStrong())
	require.True(t, c.DecStrong())
}

func TestCountDowngradeUpgradeRoundTrip(t *testing.T) {
	c := New()
	require.NoError(t, c.Downgrade())
	require.Equal(t, uint64(1), c.Weak())

	require.NoError(t, c.Upgrade())
	require.Equal(t, uint64(2), c.Strong())
}

func TestCountUpgradeDeadAfterLastStrongDrop(t *testing.T) {
	c := New()
	require.NoError(t, c.Downgrade())
	require.True(t, c.DecStrong())
	require.ErrorIs(t, c.Upgrade(), ErrDead)
}

func TestAtomicCountInitialState(t *testing.T) {
	a := NewAtomic()
	require.Equal(t, uint64(1), a.Strong())
	require.Equal(t, uint64(0), a.WeakGuarded())
	require.True(t, a.IsUnique())
}

func TestAtomicCountIsUniqueFalseWithExtraStrong(t *testing.T) {
	a := NewAtomic()
	a.IncStrong()
	require.False(t, a.IsUnique())
	require.True(t, a.DecStrong() == false)
}

func TestAtomicCountConcurrentIncDec(t *testing.T) {
	a := NewAtomic()
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			a.IncStrong()
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(n+1), a.Strong())

	destroyed := 0
	for i := 0; i < n+1; i++ {
		if a.DecStrong() {
			destroyed++
		}
	}
	require.Equal(t, 1, destroyed)
}

func TestAtomicCountUpgradeDeadAfterDrop(t *testing.T) {
	a := NewAtomic()
	require.NoError(t, a.Downgrade())
	require.True(t, a.DecStrong())
	require.ErrorIs(t, a.Upgrade(), ErrDead)
}
