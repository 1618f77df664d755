package web

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"drivecal/internal/calendar"
	"drivecal/internal/capture"
	appLog "drivecal/internal/log"
	"drivecal/internal/model"
	"drivecal/internal/render"
)

// loadWait bounds how long a page request waits for a month switch.
const loadWait = 10 * time.Second

// previewTTL is how long a captured PNG is served without re-capturing,
// as long as the month and its data are unchanged.
const previewTTL = 30 * time.Second

// handleCalendar renders the month grid.
//
// GET /calendar?month=2026-10&static=1
//   - month:  switches the session first and waits until it is loaded
//   - static: omits the live-update script (used for PNG capture)
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	static, _ := strconv.ParseBool(q.Get("static"))

	snap := s.sess.Snapshot()
	if raw := q.Get("month"); raw != "" {
		m, err := model.ParseMonth(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if m != snap.Month || !snap.Loaded {
			if err := s.sess.SetMonth(r.Context(), m); err != nil {
				callFailed(w, err)
				return
			}
			snap = s.waitLoaded(r.Context(), m)
		}
	}

	var buf bytes.Buffer
	if err := render.Page(&buf, snap, render.Options{Static: static}); err != nil {
		appLog.Error("render failed", err, "month", snap.Month)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// waitLoaded polls the session until month is loaded or the wait ends. It
// returns the latest snapshot either way; an unloaded page reports
// data-ready="false".
func (s *Server) waitLoaded(ctx context.Context, month model.MonthKey) *calendar.Snapshot {
	ctx, cancel := context.WithTimeout(ctx, loadWait)
	defer cancel()
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		snap := s.sess.Snapshot()
		if snap.Month == month && snap.Loaded {
			return snap
		}
		select {
		case <-ctx.Done():
			appLog.Warn("month not loaded in time", "month", month)
			return s.sess.Snapshot()
		case <-t.C:
		}
	}
}

// handlePreview serves a PNG of the current month, capturing it when the
// cached one is stale.
//
// GET /preview.png?month=2026-10
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	snap := s.sess.Snapshot()
	month := snap.Month
	if raw := r.URL.Query().Get("month"); raw != "" {
		m, err := model.ParseMonth(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		month = m
	}

	s.previewMu.Lock()
	defer s.previewMu.Unlock()

	now := time.Now()
	pc := s.previewCache
	if pc != nil && pc.month == month && pc.refreshes == snap.Refreshes && now.Sub(pc.updatedAt) < previewTTL {
		servePNG(w, pc.png)
		return
	}

	png, err := s.capture(r.Context(), month)
	if err != nil {
		appLog.Error("preview capture failed", err, "month", month)
		writeError(w, http.StatusInternalServerError, "failed to capture preview")
		return
	}
	s.previewCache = &previewCache{
		month:     month,
		refreshes: snap.Refreshes,
		png:       png,
		updatedAt: time.Now(),
	}
	servePNG(w, png)
}

func servePNG(w http.ResponseWriter, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// capturePNG points a headless browser at this server's own /calendar page.
func (s *Server) capturePNG(ctx context.Context, month model.MonthKey) ([]byte, error) {
	opts := capture.Options{
		BaseURL:    capture.LocalBaseURL(s.cfg.Listen),
		OutputPath: s.cfg.Capture.OutputPath,
		Width:      s.cfg.Capture.Width,
		Height:     s.cfg.Capture.Height,
	}
	if s.basicAuthEnabled() {
		opts.Username = s.cfg.BasicAuth.Username
		opts.Password = s.cfg.BasicAuth.Password
	}
	return capture.MonthPNG(ctx, month, opts)
}
