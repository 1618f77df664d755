// Package calendar runs one mounted month view. A Session owns every piece
// of render-side state on a single loop goroutine; other goroutines reach
// it through its inbox and read it through immutable snapshots.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"drivecal/internal/api"
	"drivecal/internal/blackout"
	"drivecal/internal/coalesce"
	"drivecal/internal/config"
	"drivecal/internal/indexer"
	appLog "drivecal/internal/log"
	"drivecal/internal/model"
	"drivecal/internal/pan"
	"drivecal/internal/persist"
	"drivecal/internal/presence"
	"drivecal/internal/protocol"
	"drivecal/internal/realtime"
	"drivecal/internal/search"
	"drivecal/internal/virtual"
)

// ErrClosed is returned by calls made after Run has returned.
var ErrClosed = errors.New("calendar: session closed")

// Backend is the REST data source.
type Backend interface {
	ListReservations(ctx context.Context, month model.MonthKey, f api.Filters) ([]model.Reservation, error)
	Directory(ctx context.Context) (*model.Directory, error)
}

// Channel is the real-time collaboration channel.
type Channel interface {
	presence.Sender
	Events() <-chan realtime.Event
}

type Options struct {
	Config    *config.Config
	Backend   Backend
	Blackouts blackout.Source
	// Channel is optional; without it the session works offline.
	Channel Channel
	// Store is optional; without it nothing is persisted.
	Store *persist.Store
	// Worker is optional; without it indexing runs on the loop.
	Worker  *indexer.Worker
	Filters api.Filters
	// Month overrides the last viewed month.
	Month model.MonthKey
}

// Session is one calendar view.
type Session struct {
	id      string
	cfg     *config.Config
	backend Backend
	channel Channel
	filters api.Filters
	now     func() time.Time

	inbox chan func()
	done  chan struct{}
	ctx   context.Context

	// Read by refresh goroutines.
	sharedMu    sync.Mutex
	sharedMonth model.MonthKey
	dirStale    atomic.Bool
	// Set by blackout fetches, consumed by the loop.
	blackoutsChanged atomic.Bool

	snap atomic.Pointer[Snapshot]

	// Everything below belongs to the loop goroutine.
	month    model.MonthKey
	dir      *model.Directory
	cols     []model.Instructor
	list     []model.Reservation
	loaded   bool
	degraded bool
	mi       *indexer.MonthIndex

	index     *indexer.Client
	virt      *virtual.Controller
	pan       *pan.Controller
	nav       *search.Navigator
	presence  *presence.Coordinator
	coal      *coalesce.Coalescer
	refresher *coalesce.Refresher
	blackouts *blackout.Prefetcher
	store     *persist.Store
	saver     *persist.Saver

	zoom         int
	x, y         float64
	viewW, viewH float64
	panning      bool
	focused      string
	dirty        bool

	// restoreX is set while the month was entered before any column was
	// known, so the saved X offset could not be applied yet.
	restoreX bool

	prefetchCtx    context.Context
	prefetchCancel context.CancelFunc
}

// New wires a session. Run must be called to start it.
func New(opts Options) *Session {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	store := opts.Store
	if store == nil {
		store = persist.Open("", cfg.Persistence.MaxMonths)
	}

	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		backend: opts.Backend,
		channel: opts.Channel,
		filters: opts.Filters,
		now:     time.Now,
		inbox:   make(chan func(), 64),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		store:   store,
		zoom:    store.Zoom(),
		viewW:   float64(cfg.Capture.Width),
		viewH:   float64(cfg.Capture.Height),
	}
	s.dirStale.Store(true)

	vc := cfg.Virtualization
	s.virt = virtual.New(virtual.Config{
		Overscan:       vc.Overscan,
		PanOverscanMax: vc.PanOverscanMax,
		StickyCapacity: vc.StickyCapacity,
		SyncHydrate:    vc.SyncHydrate,
		HydrateBatch:   vc.HydrateBatch,
		PanRecompute:   time.Duration(vc.PanRecomputeMs) * time.Millisecond,
	})
	s.pan = pan.New(pan.FromConfig(cfg.Pan), grid{s}, pan.Hooks{
		PanStart: s.panStarted,
		PanEnd:   s.panEnded,
	})
	s.nav = search.NewNavigator(s.virt, grid{s}, cfg.NavigatorRetries)

	var sender presence.Sender = offline{}
	if opts.Channel != nil {
		sender = opts.Channel
	}
	s.presence = presence.New(cfg.Realtime.UserID, sender, time.Duration(cfg.Realtime.DraftTTLSec)*time.Second)
	s.coal = coalesce.New(cfg.HoldWindow(), cfg.Coalescer.SmallBatch)
	s.refresher = coalesce.NewRefresher(s.fetch)
	s.blackouts = blackout.New(opts.Blackouts, cfg.Blackout.Concurrency)
	s.blackouts.OnChange(func(string) {
		s.blackoutsChanged.Store(true)
		s.wake()
	})
	s.saver = persist.NewSaver(store, time.Duration(cfg.Persistence.DebounceMs)*time.Millisecond)
	s.index = indexer.NewClient(opts.Worker)

	s.month = opts.Month
	if s.month == "" {
		if m, ok := store.LastMonth(); ok {
			s.month = m
		} else {
			s.month = model.MonthOf(time.Now())
		}
	}
	s.setFetchMonth(s.month)
	s.publish()
	return s
}

// ID identifies the session, e.g. in logs.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns the latest published state. It never blocks.
func (s *Session) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Run is the loop. It returns when ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	appLog.Info("calendar session started", "session", s.id, "month", s.month, "user", s.presence.Self())

	sched, err := s.schedule()
	if err != nil {
		appLog.Error("safety refresh disabled", err, "session", s.id)
	}

	var events <-chan realtime.Event
	if s.channel != nil {
		events = s.channel.Events()
	}
	frame := time.NewTicker(s.cfg.Frame())
	defer frame.Stop()
	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	s.enterMonth(s.month)
	s.publish()

	for {
		var tick <-chan time.Time
		if s.framePending() {
			tick = frame.C
		}

		select {
		case <-ctx.Done():
			if sched != nil {
				sched.Stop()
			}
			s.shutdown()
			return ctx.Err()
		case fn := <-s.inbox:
			fn()
		case resp := <-s.index.Responses():
			if mi, ok := s.index.Accept(resp); ok {
				s.install(mi)
			}
		case ev := <-events:
			s.handleEvent(ev)
		case now := <-tick:
			s.frame(now)
		case now := <-sweep.C:
			if n := s.presence.Sweep(now); n > 0 {
				appLog.Debug("expired drafts swept", "count", n)
				s.dirty = true
			}
		}
		if s.blackoutsChanged.Swap(false) {
			s.dirty = true
		}
		if s.dirty {
			s.publish()
		}
	}
}

func (s *Session) shutdown() {
	close(s.done)
	s.invalidatePrefetch()
	s.saver.Flush(s.now())
	s.refresher.Wait()
	s.index.Close()
	appLog.Info("calendar session stopped", "session", s.id)
}

// post queues fn on the loop without waiting.
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// wake nudges the loop without ever blocking, so it is safe to call from
// the loop itself. A full inbox already guarantees another iteration.
func (s *Session) wake() {
	select {
	case s.inbox <- func() {}:
	default:
	}
}

// call runs fn on the loop and waits for it.
func (s *Session) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.inbox <- func() {
		fn()
		if s.dirty {
			s.publish()
		}
		close(finished)
	}:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) setFetchMonth(m model.MonthKey) {
	s.sharedMu.Lock()
	s.sharedMonth = m
	s.sharedMu.Unlock()
}

func (s *Session) fetchMonth() model.MonthKey {
	s.sharedMu.Lock()
	defer s.sharedMu.Unlock()
	return s.sharedMonth
}

// fetch is the refresher body. It runs off the loop and posts its result.
func (s *Session) fetch(ctx context.Context) error {
	month := s.fetchMonth()

	var dir *model.Directory
	if s.dirStale.Swap(false) {
		d, err := s.backend.Directory(ctx)
		if err != nil {
			s.dirStale.Store(true)
			return fmt.Errorf("load directory: %w", err)
		}
		dir = d
	}

	list, err := s.backend.ListReservations(ctx, month, s.filters)
	if err != nil {
		if dir != nil {
			s.dirStale.Store(true)
		}
		return fmt.Errorf("list reservations %s: %w", month, err)
	}
	appLog.Debug("reservations fetched", "month", month, "count", len(list))
	s.post(func() { s.applyList(month, dir, list) })
	return nil
}

func (s *Session) requestRefresh() {
	s.refresher.Request(s.ctx)
}

func (s *Session) applyList(month model.MonthKey, dir *model.Directory, list []model.Reservation) {
	if month != s.month {
		appLog.Debug("stale reservation list dropped", "month", month, "current", s.month)
		return
	}
	if dir != nil {
		s.dir = dir
		s.presence.SetProfileColors(dir.ProfileColors)
		s.cols = columns(dir, s.filters)
		if s.restoreX && len(s.cols) > 0 {
			// X cannot have moved while there were no columns.
			s.x, _ = s.store.Restore(month, s.maxX(), s.maxY())
			s.restoreX = false
		}
		s.clampOffsets()
	}
	s.list = list
	s.loaded = true
	s.dirty = true
	if mi, ready := s.index.Sync(month, s.dir, list); ready {
		s.install(mi)
	}
	s.prefetch()
}

func (s *Session) install(mi *indexer.MonthIndex) {
	if mi == nil || mi.Month != s.month {
		return
	}
	s.mi = mi
	if s.index.Fallback() && !s.degraded {
		s.degraded = true
		s.virt.Degrade()
		appLog.Warn("virtualization degraded", "session", s.id)
	}
	s.dirty = true
}

func (s *Session) handleEvent(ev realtime.Event) {
	switch ev.Kind {
	case realtime.Connected, realtime.Disconnected:
		s.presence.Reset()
		s.coal.Reset()
		s.dirty = true
		if ev.Kind == realtime.Connected && s.focused != "" {
			if err := s.presence.Join(s.ctx, s.focused); err != nil {
				appLog.Warn("rejoin failed", "reservation", s.focused, "err", err)
			}
		}
		if s.loaded {
			s.index.Forget()
			s.requestRefresh()
		}
	case realtime.Received:
		m := ev.Message
		if m.Type == protocol.TypeChanged {
			if m.ReservationID == "" {
				s.requestRefresh()
				return
			}
			kind := coalesce.Upsert
			if protocol.IsDelete(m.Event) {
				kind = coalesce.Delete
			}
			s.coal.Notify(m.ReservationID, kind)
			return
		}
		if s.presence.Apply(m) {
			s.dirty = true
		}
	}
}

func (s *Session) framePending() bool {
	return s.pan.Coasting() || s.virt.Pending() || s.nav.Pending() || s.coal.Pending() || s.saver.Pending()
}

// frame runs one display-refresh worth of deferred work.
func (s *Session) frame(now time.Time) {
	if s.pan.Coasting() {
		s.pan.Frame(now)
	}
	if len(s.virt.Frame()) > 0 {
		s.dirty = true
	}
	if s.nav.Pending() {
		s.nav.Frame()
		s.dirty = true
	}
	if s.coal.Pending() {
		d := s.coal.Flush(now)
		if len(d.Suppressed) > 0 {
			appLog.Debug("local echoes suppressed", "ids", d.Suppressed)
		}
		if d.Refresh {
			appLog.Debug("remote changes", "ids", d.IDs, "deletes", d.Deletes)
			s.requestRefresh()
		}
	}
	s.saver.Tick(now)
}

func (s *Session) enterMonth(m model.MonthKey) {
	now := s.now()
	s.saver.Flush(now)
	s.pan.Stop()
	s.nav.Cancel()
	s.invalidatePrefetch()

	s.month = m
	s.setFetchMonth(m)
	s.blackouts.SetMonth(m)
	s.mi = nil
	s.list = nil
	s.loaded = false

	s.virt.Reset(s.layout())
	s.x, s.y = s.store.Restore(m, s.maxX(), s.maxY())
	s.restoreX = len(s.cols) == 0
	s.virt.Update(s.y, s.viewH, false, now)

	s.store.SetLastMonth(m)
	if err := s.store.Save(); err != nil {
		appLog.Warn("state save failed", "err", err)
	}
	s.dirty = true
	s.requestRefresh()
}

func (s *Session) panStarted(m pan.Modality) {
	s.panning = true
	s.invalidatePrefetch()
	s.dirty = true
	appLog.Debug("pan started", "modality", m.String())
}

func (s *Session) panEnded() {
	now := s.now()
	s.panning = false
	s.saver.PanEnded(now)
	s.virt.Update(s.y, s.viewH, false, now)
	s.prefetch()
	s.dirty = true
}

// scrolled reacts to any offset change.
func (s *Session) scrolled() {
	now := s.now()
	s.virt.Update(s.y, s.viewH, s.panning, now)
	s.saver.Scrolled(s.month, s.x, s.y, s.panning, now)
	s.dirty = true
	if !s.panning {
		s.prefetch()
	}
}

// prefetch loads blackouts of the visible instructors that are not cached.
func (s *Session) prefetch() {
	if s.panning || s.virt.VisibleCount() == 0 {
		return
	}
	var missing []string
	for _, id := range s.visibleInstructors() {
		if !s.blackouts.Cached(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return
	}
	if s.prefetchCtx == nil {
		s.prefetchCtx, s.prefetchCancel = context.WithCancel(s.ctx)
	}
	ctx := s.prefetchCtx
	go func() {
		if err := s.blackouts.PrefetchAll(ctx, missing); err != nil && ctx.Err() == nil {
			appLog.Warn("blackout prefetch failed", "err", err)
		}
	}()
}

// invalidatePrefetch cancels running blackout fetches and ignores their
// completions.
func (s *Session) invalidatePrefetch() {
	if s.prefetchCancel != nil {
		s.prefetchCancel()
	}
	s.prefetchCtx, s.prefetchCancel = nil, nil
	s.blackouts.Invalidate()
}

// columns lists the instructors shown as grid columns, by name.
func columns(dir *model.Directory, f api.Filters) []model.Instructor {
	if dir == nil {
		return nil
	}
	var out []model.Instructor
	for id, in := range dir.Instructors {
		if f.InstructorID != "" && id != f.InstructorID {
			continue
		}
		if in.ID == "" {
			in.ID = id
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type offline struct{}

func (offline) Send(context.Context, protocol.Message) error {
	return realtime.ErrNotConnected
}
