package coalesce

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hold = 1500 * time.Millisecond

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func TestMergesBurstIntoOneRefresh(t *testing.T) {
	c := New(hold, 3)
	for i := 0; i < 10; i++ {
		c.Notify(fmt.Sprintf("r%d", i%4), Upsert)
	}
	d := c.Flush(t0)
	assert.True(t, d.Refresh)
	assert.Equal(t, []string{"r0", "r1", "r2", "r3"}, d.IDs)

	assert.False(t, c.Pending())
	assert.False(t, c.Flush(t0.Add(16*time.Millisecond)).Refresh)
}

func TestDeleteDominates(t *testing.T) {
	c := New(hold, 3)
	c.MarkLocal(t0, "r1")
	c.Notify("r1", Delete)
	c.Notify("r1", Upsert)
	d := c.Flush(t0.Add(100 * time.Millisecond))
	assert.Equal(t, 1, d.Deletes)
	assert.True(t, d.Refresh)
	assert.Empty(t, d.Suppressed)
}

func TestLocalEchoIsSuppressedOnce(t *testing.T) {
	c := New(hold, 3)
	c.MarkLocal(t0, "r1", "r2")
	c.Notify("r1", Upsert)
	c.Notify("r2", Upsert)

	d := c.Flush(t0.Add(200 * time.Millisecond))
	assert.False(t, d.Refresh)
	assert.Equal(t, []string{"r1", "r2"}, d.Suppressed)

	// The marks were consumed; a second notification is real.
	c.Notify("r1", Upsert)
	assert.True(t, c.Flush(t0.Add(300*time.Millisecond)).Refresh)
}

func TestExpiredHoldDoesNotSuppress(t *testing.T) {
	c := New(hold, 3)
	c.MarkLocal(t0, "r1")
	c.Notify("r1", Upsert)
	assert.True(t, c.Flush(t0.Add(hold+time.Millisecond)).Refresh)
}

func TestLargeBatchIsNotSuppressed(t *testing.T) {
	c := New(hold, 3)
	ids := []string{"a", "b", "c", "d"}
	c.MarkLocal(t0, ids...)
	for _, id := range ids {
		c.Notify(id, Upsert)
	}
	d := c.Flush(t0.Add(10 * time.Millisecond))
	assert.False(t, d.Refresh)
	assert.True(t, d.Delayed)
	assert.Empty(t, d.Suppressed)
}

func TestPartialMatchDelaysUntilHoldExpiry(t *testing.T) {
	c := New(hold, 3)
	c.MarkLocal(t0, "mine")
	c.Notify("mine", Upsert)
	c.Notify("theirs", Upsert)

	d := c.Flush(t0.Add(100 * time.Millisecond))
	assert.False(t, d.Refresh)
	assert.True(t, d.Delayed)
	assert.True(t, c.Pending())

	d = c.Flush(t0.Add(hold - time.Millisecond))
	assert.False(t, d.Refresh)
	assert.True(t, d.Delayed)

	d = c.Flush(t0.Add(hold))
	assert.True(t, d.Refresh)
	assert.False(t, c.Pending())
}

func TestDelayFollowsOnlyTheBatchMarks(t *testing.T) {
	c := New(hold, 3)
	c.MarkLocal(t0, "mine")
	c.MarkLocal(t0.Add(time.Second), "later")
	c.Notify("mine", Upsert)
	c.Notify("theirs", Upsert)

	d := c.Flush(t0.Add(1100 * time.Millisecond))
	require.True(t, d.Delayed)

	// "later" is not in the batch, so its mark does not extend the delay.
	d = c.Flush(t0.Add(hold))
	assert.True(t, d.Refresh)
	assert.False(t, d.Delayed)
}

func TestUnrelatedBatchRefreshesImmediately(t *testing.T) {
	c := New(hold, 3)
	c.MarkLocal(t0, "mine")
	c.Notify("theirs", Upsert)
	assert.True(t, c.Flush(t0.Add(10*time.Millisecond)).Refresh)
}

// Property: a burst of held ids only, without deletes and within the small
// batch size, never refreshes; anything else always ends in a refresh.
func TestEchoSuppressionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for round := 0; round < 300; round++ {
		c := New(hold, 3)
		now := t0

		local := map[string]bool{}
		for i := 0; i < rng.Intn(5); i++ {
			id := fmt.Sprintf("r%d", rng.Intn(6))
			local[id] = true
			c.MarkLocal(now, id)
		}

		burst := map[string]Kind{}
		for i := 0; i <= rng.Intn(5); i++ {
			id := fmt.Sprintf("r%d", rng.Intn(6))
			k := Upsert
			if rng.Intn(8) == 0 {
				k = Delete
			}
			if burst[id] != Delete {
				burst[id] = k
			}
			c.Notify(id, k)
		}

		echo := len(burst) <= 3
		for id, k := range burst {
			if k == Delete || !local[id] {
				echo = false
			}
		}

		d := c.Flush(now.Add(50 * time.Millisecond))
		if echo {
			require.False(t, d.Refresh, "round %d", round)
			require.Len(t, d.Suppressed, len(burst), "round %d", round)
			continue
		}

		refreshed := d.Refresh
		for step := 1; !refreshed && step <= 200; step++ {
			refreshed = c.Flush(now.Add(time.Duration(step) * 16 * time.Millisecond)).Refresh
		}
		require.True(t, refreshed, "round %d: burst %v local %v", round, burst, local)
	}
}

func TestRefresherQueuesWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	var mu sync.Mutex
	calls := 0

	r := NewRefresher(func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		started <- struct{}{}
		<-release
		return nil
	})

	ctx := context.Background()
	require.True(t, r.Request(ctx))
	<-started
	assert.True(t, r.InFlight())

	assert.False(t, r.Request(ctx))
	assert.False(t, r.Request(ctx))
	assert.False(t, r.Request(ctx))

	release <- struct{}{}
	<-started
	release <- struct{}{}
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(2), r.Runs())
	assert.False(t, r.InFlight())
}
