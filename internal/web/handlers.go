package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"drivecal/internal/api"
	"drivecal/internal/model"
	"drivecal/internal/pan"
	"drivecal/internal/presence"
	"drivecal/internal/protocol"
)

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

type monthResponse struct {
	Month  model.MonthKey `json:"month"`
	Loaded bool           `json:"loaded"`
}

func (s *Server) handleMonth(w http.ResponseWriter, _ *http.Request) {
	snap := s.sess.Snapshot()
	writeJSON(w, http.StatusOK, monthResponse{Month: snap.Month, Loaded: snap.Loaded})
}

// handleSetMonth switches month.
//
// POST /api/month {"month": "2026-11"} or {"step": "next"|"prev"}
func (s *Server) handleSetMonth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Month string `json:"month"`
		Step  string `json:"step"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	current := s.sess.Snapshot().Month
	var target model.MonthKey
	switch {
	case req.Month != "":
		m, err := model.ParseMonth(req.Month)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		target = m
	case req.Step == "next":
		target = current.Next()
	case req.Step == "prev":
		target = current.Prev()
	default:
		writeError(w, http.StatusBadRequest, "month or step required")
		return
	}

	if err := s.sess.SetMonth(r.Context(), target); err != nil {
		callFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, monthResponse{Month: target})
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width  float64  `json:"width"`
		Height float64  `json:"height"`
		X      *float64 `json:"x"`
		Y      *float64 `json:"y"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	ctx := r.Context()
	if err := s.sess.SetViewport(ctx, req.Width, req.Height); err != nil {
		callFailed(w, err)
		return
	}
	if req.X != nil || req.Y != nil {
		snap := s.sess.Snapshot()
		x, y := snap.X, snap.Y
		if req.X != nil {
			x = *req.X
		}
		if req.Y != nil {
			y = *req.Y
		}
		if err := s.sess.ScrollTo(ctx, x, y); err != nil {
			callFailed(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Percent int `json:"percent"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.sess.SetZoom(r.Context(), req.Percent); err != nil {
		callFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"zoom": s.sess.Snapshot().Zoom})
}

var pointerKinds = map[string]pan.PointerKind{
	"down":   pan.Down,
	"move":   pan.Move,
	"up":     pan.Up,
	"cancel": pan.Cancel,
}

// handlePointer feeds one pointer event. The response tells the client
// whether the click that follows an "up" must be swallowed.
func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind     string  `json:"kind"`
		Modality string  `json:"modality"`
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	kind, ok := pointerKinds[strings.ToLower(req.Kind)]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown pointer kind")
		return
	}
	suppress, err := s.sess.Pointer(r.Context(), pan.Pointer{
		Kind:     kind,
		Modality: pan.ParseModality(req.Modality),
		X:        req.X,
		Y:        req.Y,
	})
	if err != nil {
		callFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"suppress_click": suppress})
}

func (s *Server) handleWheel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DX float64 `json:"dx"`
		DY float64 `json:"dy"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.sess.Wheel(r.Context(), req.DX, req.DY); err != nil {
		callFailed(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type hitDTO struct {
	Day     model.DayKey         `json:"day"`
	Date    string               `json:"date"`
	EventID string               `json:"event_id,omitempty"`
	Event   *model.CalendarEvent `json:"event,omitempty"`
}

// handleSearch matches reservations of the current month.
//
// GET /api/search?q=lucia&limit=20
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 50)

	snap := s.sess.Snapshot()
	hits := s.sess.Search(q.Get("q"), limit)
	out := make([]hitDTO, 0, len(hits))
	for _, h := range hits {
		dto := hitDTO{Day: h.Day, Date: h.Day.String(), EventID: h.EventID}
		if h.EventID != "" && snap.Index != nil {
			if ev, ok := snap.Index.Event(h.EventID); ok {
				dto.Event = &ev
			}
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleFocus scrolls a day into view and joins the focused reservation.
//
// POST /api/focus {"date": "2026-10-05", "event_id": "r1"}
func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date    string `json:"date"`
		Day     int64  `json:"day"`
		EventID string `json:"event_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	day := model.DayKey(req.Day)
	if req.Date != "" {
		t, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
		day = model.DayOf(t)
	}
	if day == 0 {
		writeError(w, http.StatusBadRequest, "date required")
		return
	}

	seq, ok, err := s.sess.Focus(r.Context(), day, req.EventID)
	if err != nil {
		callFailed(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "day not in current month")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"seq": seq})
}

type presenceResponse struct {
	User     string              `json:"user"`
	Presence map[string][]string `json:"presence"`
	Drafts   []presence.Draft    `json:"drafts"`
	Colors   map[string]string   `json:"colors"`
}

func (s *Server) handlePresence(w http.ResponseWriter, _ *http.Request) {
	snap := s.sess.Snapshot()
	writeJSON(w, http.StatusOK, presenceResponse{
		User:     snap.User,
		Presence: snap.Presence,
		Drafts:   snap.Drafts,
		Colors:   snap.Colors,
	})
}

func (s *Server) handleDrafts(w http.ResponseWriter, _ *http.Request) {
	drafts := s.sess.Snapshot().Drafts
	if drafts == nil {
		drafts = []presence.Draft{}
	}
	writeJSON(w, http.StatusOK, drafts)
}

// handleStartDraft announces that this user is composing in a slot.
//
// POST /api/drafts {"instructor_id": "i1", "start": "2026-10-05T09:00:00", "reservations": [...]}
func (s *Server) handleStartDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstructorID string              `json:"instructor_id"`
		Start        string              `json:"start"`
		Reservations []protocol.DraftRow `json:"reservations"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.InstructorID == "" {
		writeError(w, http.StatusBadRequest, "instructor_id required")
		return
	}
	start, err := api.ParseFloating(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}

	slot, err := s.sess.StartDraft(r.Context(), req.InstructorID, start, req.Reservations)
	if slot == "" && err != nil {
		callFailed(w, err)
		return
	}
	resp := map[string]any{"slot_key": slot, "sent": err == nil}
	writeJSON(w, http.StatusOK, resp)
}

// DELETE /api/drafts?slot=i1|2026-10-05T09:00:00
func (s *Server) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	slot := r.URL.Query().Get("slot")
	if slot == "" {
		writeError(w, http.StatusBadRequest, "slot required")
		return
	}
	err := s.sess.ClearDraft(r.Context(), slot)
	writeJSON(w, http.StatusOK, map[string]bool{"sent": err == nil})
}

// handleToggleBlackout flips one cached blackout slot.
//
// POST /api/blackouts {"instructor_id": "i1", "key": "2026-10-05|09:00", "blocked": true}
func (s *Server) handleToggleBlackout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstructorID string `json:"instructor_id"`
		Key          string `json:"key"`
		Blocked      bool   `json:"blocked"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.InstructorID == "" || req.Key == "" {
		writeError(w, http.StatusBadRequest, "instructor_id and key required")
		return
	}
	changed, err := s.sess.ToggleBlackout(r.Context(), req.InstructorID, req.Key, req.Blocked)
	if err != nil {
		callFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (s *Server) handleRefetchBlackouts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstructorID string `json:"instructor_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.InstructorID == "" {
		writeError(w, http.StatusBadRequest, "instructor_id required")
		return
	}
	s.sess.RefetchBlackouts(req.InstructorID)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.sess.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

// reservationInput is the JSON body of reservation writes. Times are
// floating wall-clock strings.
type reservationInput struct {
	Start        string `json:"start"`
	End          string `json:"end"`
	InstructorID string `json:"instructor_id"`
	GroupID      string `json:"group_id"`
	StudentID    string `json:"student_id"`
	Sector       string `json:"sector"`
	Gearbox      string `json:"gearbox"`
	Color        string `json:"color"`
	Confirmed    bool   `json:"confirmed"`
	Notes        string `json:"notes"`
}

func (in reservationInput) reservation(id string) (model.Reservation, error) {
	start, err := api.ParseFloating(in.Start)
	if err != nil {
		return model.Reservation{}, errors.New("invalid start")
	}
	r := model.Reservation{
		ID:           id,
		Start:        start,
		InstructorID: in.InstructorID,
		GroupID:      in.GroupID,
		StudentID:    in.StudentID,
		Sector:       in.Sector,
		Gearbox:      in.Gearbox,
		Color:        in.Color,
		Confirmed:    in.Confirmed,
		Notes:        in.Notes,
	}
	if in.End != "" {
		end, err := api.ParseFloating(in.End)
		if err != nil {
			return model.Reservation{}, errors.New("invalid end")
		}
		if end.Before(start) {
			return model.Reservation{}, errors.New("end before start")
		}
		r.End = &end
	}
	return r, nil
}

func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	s.writeReservation(w, r, "")
}

func (s *Server) handleUpdateReservation(w http.ResponseWriter, r *http.Request) {
	s.writeReservation(w, r, r.PathValue("id"))
}

func (s *Server) writeReservation(w http.ResponseWriter, r *http.Request, id string) {
	if s.writer == nil {
		writeError(w, http.StatusNotImplemented, "reservation writes disabled")
		return
	}
	var in reservationInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := in.reservation(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusOK
	if id == "" {
		res, err = s.writer.CreateReservation(r.Context(), res)
		status = http.StatusCreated
	} else {
		res, err = s.writer.UpdateReservation(r.Context(), res)
	}
	if err != nil {
		s.writeFailed(w, err)
		return
	}
	s.sess.Reload()
	writeJSON(w, status, map[string]string{"id": res.ID})
}

func (s *Server) handleDeleteReservation(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		writeError(w, http.StatusNotImplemented, "reservation writes disabled")
		return
	}
	if err := s.writer.DeleteReservation(r.Context(), r.PathValue("id")); err != nil {
		s.writeFailed(w, err)
		return
	}
	s.sess.Reload()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, api.ErrNotFound) {
		writeError(w, http.StatusNotFound, "reservation not found")
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}
