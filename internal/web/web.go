// Package web exposes a calendar session over HTTP: a JSON API for the
// interactive client, the rendered month grid and its PNG capture.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"drivecal/internal/calendar"
	"drivecal/internal/config"
	appLog "drivecal/internal/log"
	"drivecal/internal/model"
)

// Writer persists reservation edits made from the UI.
type Writer interface {
	CreateReservation(ctx context.Context, r model.Reservation) (model.Reservation, error)
	UpdateReservation(ctx context.Context, r model.Reservation) (model.Reservation, error)
	DeleteReservation(ctx context.Context, id string) error
}

// Server provides the HTTP API of one calendar session.
type Server struct {
	cfg    *config.Config
	sess   *calendar.Session
	writer Writer
	mux    *http.ServeMux

	// capture renders the month PNG; replaced in tests.
	capture func(ctx context.Context, month model.MonthKey) ([]byte, error)

	// In-memory cache for /preview.png so that repeated requests do not
	// launch a browser each time.
	previewMu    sync.Mutex
	previewCache *previewCache
}

// previewCache holds the last captured PNG and its timestamp.
type previewCache struct {
	month     model.MonthKey
	refreshes uint64
	png       []byte
	updatedAt time.Time
}

// NewServer constructs a new Server. writer may be nil, in which case the
// reservation endpoints answer 501.
func NewServer(cfg *config.Config, sess *calendar.Session, writer Writer) *Server {
	s := &Server{
		cfg:    cfg,
		sess:   sess,
		writer: writer,
		mux:    http.NewServeMux(),
	}
	s.capture = s.capturePNG
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="DriveCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the session on cfg.Listen until ctx is cancelled,
// then shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, sess *calendar.Session, writer Writer) error {
	s := NewServer(cfg, sess, writer)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen, "session", sess.ID())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /api/month", s.handleMonth)
	s.mux.HandleFunc("POST /api/month", s.handleSetMonth)
	s.mux.HandleFunc("POST /api/viewport", s.handleViewport)
	s.mux.HandleFunc("POST /api/zoom", s.handleZoom)
	s.mux.HandleFunc("POST /api/pointer", s.handlePointer)
	s.mux.HandleFunc("POST /api/wheel", s.handleWheel)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)
	s.mux.HandleFunc("POST /api/focus", s.handleFocus)
	s.mux.HandleFunc("GET /api/presence", s.handlePresence)
	s.mux.HandleFunc("GET /api/drafts", s.handleDrafts)
	s.mux.HandleFunc("POST /api/drafts", s.handleStartDraft)
	s.mux.HandleFunc("DELETE /api/drafts", s.handleClearDraft)
	s.mux.HandleFunc("POST /api/blackouts", s.handleToggleBlackout)
	s.mux.HandleFunc("POST /api/blackouts/refetch", s.handleRefetchBlackouts)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/reservations", s.handleCreateReservation)
	s.mux.HandleFunc("PUT /api/reservations/{id}", s.handleUpdateReservation)
	s.mux.HandleFunc("DELETE /api/reservations/{id}", s.handleDeleteReservation)

	s.mux.HandleFunc("GET /calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/calendar", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// callFailed maps a session call error to a response.
func callFailed(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calendar.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "session closed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		appLog.Error("session call failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
