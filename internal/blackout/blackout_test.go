package blackout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivecal/internal/model"
)

func at(month time.Month, day, hour, min int) time.Time {
	return time.Date(2026, month, day, hour, min, 0, 0, time.UTC)
}

func TestExpandSingleAndPeriodicRules(t *testing.T) {
	from, to := model.MonthKey("2026-10").Range()
	until := at(10, 20, 23, 59)
	rules := []model.BlackoutRule{
		{ID: "once", Start: at(10, 5, 9, 0)},
		{ID: "outside", Start: at(11, 1, 9, 0)},
		{ID: "weekly", Start: at(9, 29, 14, 30), StepDays: 7, Until: &until},
		{ID: "open", Start: at(10, 28, 8, 0), StepDays: 2},
	}

	got := Expand(rules, from, to)
	want := []string{
		"2026-10-05|09:00",
		"2026-10-06|14:30", "2026-10-13|14:30", "2026-10-20|14:30",
		"2026-10-28|08:00", "2026-10-30|08:00",
	}
	assert.Len(t, got, len(want))
	for _, k := range want {
		assert.True(t, got[k], k)
	}
}

func TestExpandSkipsRulesEndingBeforeMonth(t *testing.T) {
	from, to := model.MonthKey("2026-10").Range()
	until := at(9, 30, 0, 0)
	got := Expand([]model.BlackoutRule{{Start: at(9, 1, 9, 0), StepDays: 1, Until: &until}}, from, to)
	assert.Empty(t, got)
}

type fakeSource struct {
	mu      sync.Mutex
	calls   map[string]int
	rules   map[string][]model.BlackoutRule
	fail    map[string]bool
	block   chan struct{}
	active  int32
	maxSeen int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: map[string]int{}, rules: map[string][]model.BlackoutRule{}, fail: map[string]bool{}}
}

func (f *fakeSource) ListBlackouts(ctx context.Context, id string, from, to time.Time) ([]model.BlackoutRule, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		m := atomic.LoadInt32(&f.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxSeen, m, n) {
			break
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.fail[id] {
		return nil, errors.New("backend down")
	}
	return f.rules[id], nil
}

func (f *fakeSource) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func TestEnsureFetchesOnce(t *testing.T) {
	src := newFakeSource()
	src.rules["i1"] = []model.BlackoutRule{{Start: at(10, 2, 10, 0)}}
	p := New(src, 2)
	p.SetMonth("2026-10")

	ctx := context.Background()
	p.Ensure(ctx, "i1")
	p.Ensure(ctx, "i1")
	assert.Equal(t, 1, src.count("i1"))
	assert.Equal(t, []string{"2026-10-02|10:00"}, p.Snapshot("i1"))
	assert.True(t, p.Blocked("i1", "2026-10-02|10:00"))
}

func TestFailureCachesEmptySet(t *testing.T) {
	src := newFakeSource()
	src.fail["i1"] = true
	p := New(src, 2)
	p.SetMonth("2026-10")

	p.Ensure(context.Background(), "i1")
	p.Ensure(context.Background(), "i1")
	assert.True(t, p.Cached("i1"))
	assert.Empty(t, p.Snapshot("i1"))
	assert.Equal(t, 1, src.count("i1"))
}

func TestPrefetchAllIsBounded(t *testing.T) {
	src := newFakeSource()
	src.block = make(chan struct{})
	p := New(src, 3)
	p.SetMonth("2026-10")

	var ids []string
	for i := 0; i < 12; i++ {
		ids = append(ids, fmt.Sprintf("i%d", i))
	}

	var changed int32
	p.OnChange(func(string) { atomic.AddInt32(&changed, 1) })

	done := make(chan error, 1)
	go func() { done <- p.PrefetchAll(context.Background(), ids) }()
	close(src.block)
	require.NoError(t, <-done)

	assert.LessOrEqual(t, atomic.LoadInt32(&src.maxSeen), int32(3))
	assert.Equal(t, int32(12), atomic.LoadInt32(&changed))
	assert.Len(t, p.All(), 12)
}

func TestInvalidateDropsRunningCompletions(t *testing.T) {
	src := newFakeSource()
	src.block = make(chan struct{})
	src.rules["i1"] = []model.BlackoutRule{{Start: at(10, 2, 10, 0)}}
	p := New(src, 1)
	p.SetMonth("2026-10")

	done := make(chan struct{})
	go func() {
		p.Ensure(context.Background(), "i1")
		close(done)
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&src.active) == 1 }, time.Second, time.Millisecond)

	p.Invalidate()
	close(src.block)
	<-done
	assert.False(t, p.Cached("i1"))

	p.Ensure(context.Background(), "i1")
	assert.True(t, p.Cached("i1"))
}

func TestToggleAndRefetch(t *testing.T) {
	src := newFakeSource()
	src.rules["i1"] = []model.BlackoutRule{{Start: at(10, 2, 10, 0)}}
	p := New(src, 2)
	p.SetMonth("2026-10")
	ctx := context.Background()

	assert.False(t, p.Toggle("i1", "2026-10-03|08:00", true), "uncached instructor is left alone")

	p.Ensure(ctx, "i1")
	assert.True(t, p.Toggle("i1", "2026-10-03|08:00", true))
	assert.True(t, p.Toggle("i1", "2026-10-02|10:00", false))
	assert.Equal(t, []string{"2026-10-03|08:00"}, p.Snapshot("i1"))
	assert.Equal(t, 1, src.count("i1"))

	p.Refetch(ctx, "i1")
	assert.Equal(t, 2, src.count("i1"))
	assert.Equal(t, []string{"2026-10-02|10:00"}, p.Snapshot("i1"))
}

func TestSetMonthDropsCache(t *testing.T) {
	src := newFakeSource()
	p := New(src, 2)
	p.SetMonth("2026-10")
	p.Ensure(context.Background(), "i1")
	require.True(t, p.Cached("i1"))

	p.SetMonth("2026-10")
	assert.True(t, p.Cached("i1"))
	p.SetMonth("2026-11")
	assert.False(t, p.Cached("i1"))
}

func TestRouterPrefersFeed(t *testing.T) {
	feed, rest := newFakeSource(), newFakeSource()
	r := Router{Feeds: map[string]Source{"i1": feed}, Default: rest}
	from, to := model.MonthKey("2026-10").Range()

	_, _ = r.ListBlackouts(context.Background(), "i1", from, to)
	_, _ = r.ListBlackouts(context.Background(), "i2", from, to)
	assert.Equal(t, 1, feed.count("i1"))
	assert.Equal(t, 1, rest.count("i2"))
	assert.Equal(t, 0, rest.count("i1"))
}
