package indexer

import (
	"errors"
	"fmt"
	"sync"

	appLog "drivecal/internal/log"
	"drivecal/internal/model"
)

// Kind names a message on the indexer channel.
type Kind string

const (
	KindReset  Kind = "index-reset"
	KindPatch  Kind = "index-patch"
	KindResult Kind = "index-result"
	KindError  Kind = "index-error"
)

// ErrWorkerStopped is returned by Submit after Stop.
var ErrWorkerStopped = errors.New("indexer: worker stopped")

// Request is sent to the worker. Slices are owned by the worker once
// submitted; Directory must be treated as read-only by everyone.
type Request struct {
	ID           uint64
	Kind         Kind
	Month        model.MonthKey
	Directory    *model.Directory
	Reservations []model.Reservation
	Removals     []string
	Upserts      []model.Reservation
}

// Response answers exactly one Request with the same ID.
type Response struct {
	ID       uint64
	Kind     Kind
	Index    *MonthIndex
	Enriched uint64
	Err      error
}

// Worker runs index builds on its own goroutine. Requests are handled in
// submission order.
type Worker struct {
	in   chan Request
	out  chan Response
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	st state
}

// StartWorker launches the worker goroutine. buffer sizes both queues.
func StartWorker(buffer int) *Worker {
	if buffer <= 0 {
		buffer = 8
	}
	w := &Worker{
		in:   make(chan Request, buffer),
		out:  make(chan Response, buffer),
		done: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Submit enqueues req, blocking while the queue is full.
func (w *Worker) Submit(req Request) error {
	select {
	case <-w.done:
		return ErrWorkerStopped
	default:
	}
	select {
	case w.in <- req:
		return nil
	case <-w.done:
		return ErrWorkerStopped
	}
}

// Responses delivers one Response per Request.
func (w *Worker) Responses() <-chan Response {
	return w.out
}

// Stop terminates the goroutine. Pending requests are discarded.
func (w *Worker) Stop() {
	w.once.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case req := <-w.in:
			resp := w.handle(req)
			select {
			case w.out <- resp:
			case <-w.done:
				return
			}
		}
	}
}

func (w *Worker) handle(req Request) (resp Response) {
	resp.ID = req.ID
	defer func() {
		if r := recover(); r != nil {
			resp = Response{ID: req.ID, Kind: KindError, Err: fmt.Errorf("indexer: panic: %v", r)}
		}
		if resp.Err != nil {
			appLog.Error("indexer request failed", resp.Err, "id", req.ID, "kind", req.Kind, "month", req.Month)
		}
	}()

	var (
		mi  *MonthIndex
		err error
	)
	switch req.Kind {
	case KindReset:
		mi = w.st.reset(req.Month, req.Directory, req.Reservations)
	case KindPatch:
		mi, err = w.st.patch(req.Month, req.Removals, req.Upserts)
	default:
		err = fmt.Errorf("indexer: unknown request kind %q", req.Kind)
	}
	if err != nil {
		return Response{ID: req.ID, Kind: KindError, Err: err}
	}
	return Response{ID: req.ID, Kind: KindResult, Index: mi, Enriched: w.st.enriched}
}
