// Package api is the REST data source: reservations, the reference
// directory and instructor blackouts.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"drivecal/internal/config"
	appLog "drivecal/internal/log"
	"drivecal/internal/model"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("api: not found")

const floatingLayout = "2006-01-02T15:04:05"

// Filters narrow a month listing.
type Filters struct {
	InstructorID string
	GroupID      string
}

// Client talks to the school backend.
type Client struct {
	base  string
	token string
	http  *http.Client

	// OnLocalWrite is called with the id of every reservation this client
	// created or updated successfully.
	OnLocalWrite func(id string)
}

func New(cfg config.APIConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
	}
}

// ListReservations returns the month's reservations, normalized.
func (c *Client) ListReservations(ctx context.Context, month model.MonthKey, f Filters) ([]model.Reservation, error) {
	q := url.Values{"month": {string(month)}}
	if f.InstructorID != "" {
		q.Set("instructor", f.InstructorID)
	}
	if f.GroupID != "" {
		q.Set("group", f.GroupID)
	}
	body, err := c.do(ctx, http.MethodGet, "/reservations?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	list, skipped, err := NormalizeReservations(body)
	if err != nil {
		return nil, fmt.Errorf("api: decode reservations: %w", err)
	}
	if skipped > 0 {
		appLog.Warn("reservations without start dropped", "month", month, "count", skipped)
	}
	return list, nil
}

// CreateReservation posts r and returns the stored reservation.
func (c *Client) CreateReservation(ctx context.Context, r model.Reservation) (model.Reservation, error) {
	out, err := c.write(ctx, http.MethodPost, "/reservations", r)
	if err != nil {
		return model.Reservation{}, err
	}
	c.localWrite(out.ID)
	return out, nil
}

// UpdateReservation replaces the reservation with r.ID.
func (c *Client) UpdateReservation(ctx context.Context, r model.Reservation) (model.Reservation, error) {
	if r.ID == "" {
		return model.Reservation{}, errors.New("api: update without id")
	}
	out, err := c.write(ctx, http.MethodPut, "/reservations/"+url.PathEscape(r.ID), r)
	if err != nil {
		return model.Reservation{}, err
	}
	if out.ID == "" {
		out.ID = r.ID
	}
	c.localWrite(out.ID)
	return out, nil
}

// DeleteReservation removes one reservation.
func (c *Client) DeleteReservation(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/reservations/"+url.PathEscape(id), nil)
	return err
}

type studentDTO struct {
	ID      flexID `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	GroupID flexID `json:"group_id"`
}

type groupDTO struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
}

type instructorDTO struct {
	ID     flexID `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	UserID flexID `json:"user_id"`
}

type profileDTO struct {
	UserID flexID `json:"user_id"`
	Color  string `json:"color"`
}

// Directory loads students, groups, instructors and profile colours
// concurrently. Profiles are optional; a 404 leaves instructor colours.
func (c *Client) Directory(ctx context.Context) (*model.Directory, error) {
	var (
		students    []studentDTO
		groups      []groupDTO
		instructors []instructorDTO
		profiles    []profileDTO
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.getJSON(gctx, "/students", &students) })
	g.Go(func() error { return c.getJSON(gctx, "/groups", &groups) })
	g.Go(func() error { return c.getJSON(gctx, "/instructors", &instructors) })
	g.Go(func() error {
		err := c.getJSON(gctx, "/profiles", &profiles)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("api: directory: %w", err)
	}

	dir := &model.Directory{
		Students:      make(map[string]model.Student, len(students)),
		Groups:        make(map[string]string, len(groups)),
		Instructors:   make(map[string]model.Instructor, len(instructors)),
		ProfileColors: make(map[string]string),
	}
	for _, s := range students {
		dir.Students[string(s.ID)] = model.Student{ID: string(s.ID), Name: s.Name, Phone: s.Phone, GroupID: string(s.GroupID)}
	}
	for _, gr := range groups {
		dir.Groups[string(gr.ID)] = gr.Name
	}
	for _, in := range instructors {
		dir.Instructors[string(in.ID)] = model.Instructor{ID: string(in.ID), Name: in.Name, Color: in.Color, UserID: string(in.UserID)}
		if in.UserID != "" && in.Color != "" {
			dir.ProfileColors[string(in.UserID)] = in.Color
		}
	}
	for _, p := range profiles {
		if p.UserID != "" && p.Color != "" {
			dir.ProfileColors[string(p.UserID)] = p.Color
		}
	}
	return dir, nil
}

type blackoutDTO struct {
	ID       flexID `json:"id"`
	Start    string `json:"start"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	StepDays int    `json:"step_days"`
	Until    string `json:"until"`
}

// ListBlackouts returns an instructor's unavailability rules.
func (c *Client) ListBlackouts(ctx context.Context, instructorID string, from, to time.Time) ([]model.BlackoutRule, error) {
	q := url.Values{
		"from": {from.Format(floatingLayout)},
		"to":   {to.Format(floatingLayout)},
	}
	var rows []blackoutDTO
	if err := c.getJSON(ctx, "/instructors/"+url.PathEscape(instructorID)+"/blackouts?"+q.Encode(), &rows); err != nil {
		return nil, err
	}
	out := make([]model.BlackoutRule, 0, len(rows))
	for _, row := range rows {
		start := row.Start
		if start == "" && row.Date != "" {
			start = row.Date + "T" + row.Time
		}
		t, err := ParseFloating(start)
		if err != nil {
			appLog.Warn("blackout rule skipped", "instructor", instructorID, "id", string(row.ID), "err", err)
			continue
		}
		rule := model.BlackoutRule{ID: string(row.ID), InstructorID: instructorID, Start: t, StepDays: row.StepDays}
		if row.Until != "" {
			if u, err := ParseFloating(row.Until); err == nil {
				rule.Until = &u
			}
		}
		out = append(out, rule)
	}
	return out, nil
}

type reservationBody struct {
	InstructorID string `json:"instructor_id"`
	GroupID      string `json:"group_id,omitempty"`
	StudentID    string `json:"student_id,omitempty"`
	Start        string `json:"start"`
	End          string `json:"end,omitempty"`
	Sector       string `json:"sector,omitempty"`
	Gearbox      string `json:"gearbox,omitempty"`
	Color        string `json:"color,omitempty"`
	Confirmed    bool   `json:"confirmed"`
	Notes        string `json:"notes,omitempty"`
}

func (c *Client) write(ctx context.Context, method, path string, r model.Reservation) (model.Reservation, error) {
	body := reservationBody{
		InstructorID: r.InstructorID,
		GroupID:      r.GroupID,
		StudentID:    r.StudentID,
		Start:        r.Start.Format(floatingLayout),
		Sector:       r.Sector,
		Gearbox:      r.Gearbox,
		Color:        r.Color,
		Confirmed:    r.Confirmed,
		Notes:        r.Notes,
	}
	if r.End != nil {
		body.End = r.End.Format(floatingLayout)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return model.Reservation{}, err
	}
	resp, err := c.do(ctx, method, path, data)
	if err != nil {
		return model.Reservation{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal(resp, &raw); err != nil {
		return model.Reservation{}, fmt.Errorf("api: decode reservation: %w", err)
	}
	if inner, ok := raw["data"].(map[string]any); ok {
		raw = inner
	}
	out, err := NormalizeReservation(raw, 0)
	if errors.Is(err, errNoStart) {
		// Some endpoints only echo the id.
		out = r
		out.ID = str(raw, idKeys...)
		return out, nil
	}
	return out, err
}

func (c *Client) localWrite(id string) {
	if id != "" && c.OnLocalWrite != nil {
		c.OnLocalWrite(id)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err == nil {
		return nil
	}
	// Wrapped list.
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil || len(wrapped.Data) == 0 {
		return fmt.Errorf("api: decode %s: unexpected body", path)
	}
	return json.Unmarshal(wrapped.Data, v)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("api: %s %s: %s", method, path, resp.Status)
	}
	appLog.Debug("api call", "method", method, "path", path, "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}
