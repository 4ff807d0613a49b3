package order

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const staleAge = 30 * time.Second

func TestFulfillOnce(t *testing.T) {
	var m = NewMap()
	var o, release = m.Acquire("ticket-1")
	defer release()

	require.False(t, o.Fulfilled())
	require.Nil(t, o.Outcome())

	select {
	case <-o.Ready():
		t.Fatal("Ready closed before fulfillment")
	default:
	}

	require.NoError(t, o.Fulfill(true))
	require.ErrorIs(t, o.Fulfill(false), ErrAlreadyFulfilled)

	// The first write sticks.
	require.True(t, o.Fulfilled())
	require.True(t, o.Outcome().Success)

	select {
	case <-o.Ready():
	default:
		t.Fatal("Ready not closed after fulfillment")
	}
}

func TestFulfillConcurrent(t *testing.T) {
	var m = NewMap()
	var o, release = m.Acquire("ticket-race")
	defer release()

	var wins, losses int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			var err = o.Fulfill(success)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				losses++
			}
		}(i%2 == 0)
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, 15, losses)
	// Once written, the outcome is never observed empty again.
	require.NotNil(t, o.Outcome())
}

func TestStaleness(t *testing.T) {
	for _, tc := range []struct {
		name     string
		age      time.Duration
		hold     bool
		complete bool
		release  bool
		expected bool
	}{
		{"new unfulfilled order", 0, false, false, false, false},
		{"new fulfilled order", 0, false, true, false, false},
		{"stale fulfilled order", 32 * time.Second, false, true, false, true},
		{"aged unfulfilled order", 32 * time.Second, false, false, false, false},
		{"stale fulfilled order with holders", 32 * time.Second, true, true, false, false},
		{"stale fulfilled order with holders released", 32 * time.Second, true, true, true, true},
		{"aged unfulfilled order with holders", 32 * time.Second, true, false, false, false},
		{"new fulfilled order with holders", 0, true, true, false, false},
		{"new fulfilled order with holders released", 0, true, true, true, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var m = NewMap()
			var o, release = m.Acquire("ticket")
			if !tc.hold {
				release()
			}
			if tc.complete {
				require.NoError(t, o.FulfillAt(true, time.Now().Add(-tc.age)))
			}
			if tc.hold && tc.release {
				release()
			}
			require.Equal(t, tc.expected, o.stale(staleAge))
		})
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	var m = NewMap()
	var o, release = m.Acquire("ticket")
	release()
	release()
	// A double release must not free someone else's reference.
	var _, release2 = m.Acquire("ticket")
	require.NoError(t, o.FulfillAt(true, time.Now().Add(-time.Minute)))
	require.False(t, o.stale(staleAge))
	release2()
	require.True(t, o.stale(staleAge))
}

func TestMapAcquireSharesOrders(t *testing.T) {
	var m = NewMap()
	var a, releaseA = m.Acquire("ticket")
	var b, releaseB = m.Acquire("ticket")
	defer releaseA()
	defer releaseB()

	require.Same(t, a, b)
	require.Equal(t, 1, m.Len())
}

func TestMapFulfill(t *testing.T) {
	var m = NewMap()
	require.False(t, m.Fulfill("unknown", true))

	var o, release = m.Acquire("ticket")
	defer release()

	require.True(t, m.Fulfill("ticket", false))
	require.False(t, o.Outcome().Success)

	// Replays are absorbed by the write-once slot.
	require.True(t, m.Fulfill("ticket", true))
	require.False(t, o.Outcome().Success)
}

func TestMapUnfulfilled(t *testing.T) {
	var m = NewMap()
	var _, releaseA = m.Acquire("a")
	var _, releaseB = m.Acquire("b")
	defer releaseA()
	defer releaseB()

	require.ElementsMatch(t, []string{"a", "b"}, m.Unfulfilled())

	m.Fulfill("a", true)
	require.Equal(t, []string{"b"}, m.Unfulfilled())
}

func TestMapPurgeStale(t *testing.T) {
	var m = NewMap()

	var stale, releaseStale = m.Acquire("stale")
	releaseStale()
	require.NoError(t, stale.FulfillAt(true, time.Now().Add(-time.Minute)))

	var fresh, releaseFresh = m.Acquire("fresh")
	releaseFresh()
	require.NoError(t, fresh.Fulfill(true))

	var _, releaseHeld = m.Acquire("held")
	defer releaseHeld()

	require.Equal(t, 1, m.PurgeStale(staleAge))
	require.Equal(t, 2, m.Len())

	var _, ok = m.Get("stale")
	require.False(t, ok)
}
