package ics

import (
	"context"
	"fmt"
	"time"

	"drivecal/internal/model"
)

// Source serves blackout rules from per-instructor ICS feeds.
type Source struct {
	fetcher *Fetcher
	feeds   map[string]Feed
	loc     *time.Location
	slot    time.Duration
}

func NewSource(fetcher *Fetcher, feeds []Feed, loc *time.Location, slot time.Duration) *Source {
	m := make(map[string]Feed, len(feeds))
	for _, f := range feeds {
		if f.InstructorID != "" && f.URL != "" {
			m[f.InstructorID] = f
		}
	}
	return &Source{fetcher: fetcher, feeds: m, loc: loc, slot: slot}
}

// Instructors lists the instructors that have a feed.
func (s *Source) Instructors() []string {
	out := make([]string, 0, len(s.feeds))
	for id := range s.feeds {
		out = append(out, id)
	}
	return out
}

func (s *Source) ListBlackouts(ctx context.Context, instructorID string, from, to time.Time) ([]model.BlackoutRule, error) {
	feed, ok := s.feeds[instructorID]
	if !ok {
		return nil, fmt.Errorf("ics: no feed for instructor %q", instructorID)
	}
	body, _, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, err
	}
	events, err := Parse(feed, body)
	if err != nil {
		return nil, err
	}
	return Slots(instructorID, Expand(events, from, to, s.loc), s.slot, from, to), nil
}
