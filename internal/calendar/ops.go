package calendar

import (
	"context"
	"time"

	appLog "drivecal/internal/log"
	"drivecal/internal/model"
	"drivecal/internal/pan"
	"drivecal/internal/persist"
	"drivecal/internal/protocol"
	"drivecal/internal/search"
)

// SetMonth switches the displayed month.
func (s *Session) SetMonth(ctx context.Context, m model.MonthKey) error {
	return s.call(ctx, func() {
		if m != s.month {
			s.enterMonth(m)
		}
	})
}

// SetViewport resizes the visible area.
func (s *Session) SetViewport(ctx context.Context, width, height float64) error {
	return s.call(ctx, func() {
		if width < 0 {
			width = 0
		}
		if height < 0 {
			height = 0
		}
		s.viewW, s.viewH = width, height
		s.clampOffsets()
		s.scrolled()
	})
}

// ScrollTo moves the viewport to an absolute offset, clamped.
func (s *Session) ScrollTo(ctx context.Context, x, y float64) error {
	return s.call(ctx, func() {
		s.pan.Stop()
		grid{s}.ScrollBy(x-s.x, y-s.y)
	})
}

// Pointer feeds a pointer event to the pan controller. On release it
// reports whether the click ending the gesture must be ignored.
func (s *Session) Pointer(ctx context.Context, ev pan.Pointer) (suppressClick bool, err error) {
	err = s.call(ctx, func() {
		if ev.At.IsZero() {
			ev.At = s.now()
		}
		s.pan.Pointer(ev)
		if ev.Kind == pan.Up {
			suppressClick = s.pan.ConsumeClick()
		}
	})
	return suppressClick, err
}

// Wheel scrolls by a wheel delta, stopping any inertia.
func (s *Session) Wheel(ctx context.Context, dx, dy float64) error {
	return s.call(ctx, func() {
		s.pan.Wheel(dx, dy)
	})
}

// SetZoom changes the zoom percentage, keeping the centre of the viewport
// on the same content.
func (s *Session) SetZoom(ctx context.Context, pct int) error {
	return s.call(ctx, func() {
		pct = persist.ClampZoom(pct)
		if pct == s.zoom {
			return
		}
		oldW, oldH := s.contentWidth(), s.virt.Layout().Extent()
		cx, cy := s.x+s.viewW/2, s.y+s.viewH/2

		s.zoom = pct
		s.store.SetZoom(pct)
		s.virt.Relayout(s.layout())

		if oldW > 0 {
			s.x = cx/oldW*s.contentWidth() - s.viewW/2
		}
		if oldH > 0 {
			s.y = cy/oldH*s.virt.Layout().Extent() - s.viewH/2
		}
		s.clampOffsets()
		s.scrolled()
	})
}

// Search matches the query against the current month index. It reads the
// latest snapshot and does not involve the loop.
func (s *Session) Search(query string, limit int) []search.Hit {
	snap := s.Snapshot()
	if snap == nil {
		return nil
	}
	return search.Search(snap.Index, query, limit)
}

// Focus scrolls a day, and optionally one of its events, into view. A
// focused event is joined on the real-time channel.
func (s *Session) Focus(ctx context.Context, day model.DayKey, eventID string) (seq uint64, ok bool, err error) {
	err = s.call(ctx, func() {
		seq, ok = s.nav.Navigate(search.Target{Day: day, EventID: eventID})
		s.dirty = true
		if eventID == s.focused {
			return
		}
		if s.focused != "" {
			if err := s.presence.Leave(ctx, s.focused); err != nil {
				appLog.Debug("leave not sent", "reservation", s.focused, "err", err)
			}
		}
		s.focused = eventID
		if eventID != "" {
			if err := s.presence.Join(ctx, eventID); err != nil {
				appLog.Debug("join not sent", "reservation", eventID, "err", err)
			}
		}
	})
	return seq, ok, err
}

// StartDraft marks a slot as being composed by this user.
func (s *Session) StartDraft(ctx context.Context, instructorID string, start time.Time, rows []protocol.DraftRow) (slotKey string, err error) {
	var sendErr error
	err = s.call(ctx, func() {
		slotKey, sendErr = s.presence.StartDraft(ctx, instructorID, start, rows)
		s.dirty = true
	})
	if err != nil {
		return "", err
	}
	return slotKey, sendErr
}

// ClearDraft ends this user's draft in a slot.
func (s *Session) ClearDraft(ctx context.Context, slotKey string) error {
	var sendErr error
	err := s.call(ctx, func() {
		sendErr = s.presence.ClearDraft(ctx, slotKey)
		s.dirty = true
	})
	if err != nil {
		return err
	}
	return sendErr
}

// ToggleBlackout flips one cached blackout slot locally. It reports false
// when the instructor's set is not loaded.
func (s *Session) ToggleBlackout(ctx context.Context, instructorID, key string, blocked bool) (changed bool, err error) {
	err = s.call(ctx, func() {
		changed = s.blackouts.Toggle(instructorID, key, blocked)
		s.dirty = s.dirty || changed
	})
	return changed, err
}

// RefetchBlackouts drops and reloads one instructor's blackouts.
func (s *Session) RefetchBlackouts(instructorID string) {
	s.post(func() {
		ctx := s.ctx
		go s.blackouts.Refetch(ctx, instructorID)
	})
}

// MarkLocal records a reservation this client just wrote, so that the
// echo from the real-time channel does not trigger a refresh.
func (s *Session) MarkLocal(id string) {
	s.post(func() {
		s.coal.MarkLocal(s.now(), id)
	})
}

// Refresh reloads the directory and the month's reservations.
func (s *Session) Refresh() {
	s.dirStale.Store(true)
	s.post(s.requestRefresh)
}

// Reload refetches the month's reservations, keeping the directory.
func (s *Session) Reload() {
	s.post(s.requestRefresh)
}
