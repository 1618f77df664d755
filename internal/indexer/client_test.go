package indexer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivecal/internal/model"
)

func receive(t *testing.T, w *Worker) Response {
	t.Helper()
	select {
	case resp := <-w.Responses():
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for indexer response")
		return Response{}
	}
}

func TestClientDropsStaleResponses(t *testing.T) {
	w := StartWorker(4)
	c := NewClient(w)
	defer c.Close()

	first := []model.Reservation{res("r1", "i1", at(7, 8, 0))}
	_, ready := c.Sync(month, testDir, first)
	require.False(t, ready)

	second := append(first, res("r2", "i2", at(8, 8, 0)))
	_, ready = c.Sync(month, testDir, second)
	require.False(t, ready)

	stale := receive(t, w)
	assert.EqualValues(t, 1, stale.ID)
	assert.Equal(t, KindResult, stale.Kind)
	_, ok := c.Accept(stale)
	assert.False(t, ok)

	latest := receive(t, w)
	assert.Equal(t, KindResult, latest.Kind)
	mi, ok := c.Accept(latest)
	require.True(t, ok)
	assert.Equal(t, 2, mi.Len())
	assert.EqualValues(t, 2, c.Enriched())
}

func TestClientSkipsUnchangedList(t *testing.T) {
	w := StartWorker(4)
	c := NewClient(w)
	defer c.Close()

	list := []model.Reservation{res("r1", "i1", at(7, 8, 0))}
	c.Sync(month, testDir, list)
	_, ok := c.Accept(receive(t, w))
	require.True(t, ok)

	mi, ready := c.Sync(month, testDir, list)
	assert.Nil(t, mi)
	assert.False(t, ready)
	select {
	case resp := <-w.Responses():
		t.Fatalf("unexpected response %d", resp.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWorkerReportsErrors(t *testing.T) {
	w := StartWorker(1)
	defer w.Stop()

	require.NoError(t, w.Submit(Request{ID: 7, Kind: KindPatch, Month: month}))
	resp := receive(t, w)
	assert.EqualValues(t, 7, resp.ID)
	assert.Equal(t, KindError, resp.Kind)
	assert.True(t, errors.Is(resp.Err, ErrMonthMismatch))

	require.NoError(t, w.Submit(Request{ID: 8, Kind: "index-bogus"}))
	assert.Equal(t, KindError, receive(t, w).Kind)
}

func TestClientFallsBackAfterWorkerError(t *testing.T) {
	w := StartWorker(4)
	c := NewClient(w)
	defer c.Close()

	list := []model.Reservation{res("r1", "i1", at(7, 8, 0)), res("r2", "i1", at(7, 9, 0))}
	c.Sync(month, testDir, list)
	<-w.Responses()

	mi, ok := c.Accept(Response{ID: 1, Kind: KindError, Err: errors.New("worker crashed")})
	require.True(t, ok)
	assert.True(t, c.Fallback())
	assert.Nil(t, c.Responses())
	assert.Equal(t, 2, mi.Len())

	// From now on results are synchronous.
	list = append(list, res("r3", "i2", at(9, 9, 0)))
	mi, ready := c.Sync(month, testDir, list)
	require.True(t, ready)
	assert.Equal(t, 3, mi.Len())
}

func TestWorkerStopRejectsSubmit(t *testing.T) {
	w := StartWorker(1)
	w.Stop()
	assert.ErrorIs(t, w.Submit(Request{ID: 1, Kind: KindReset}), ErrWorkerStopped)
}
