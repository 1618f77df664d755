// Package presence tracks who is looking at which reservation and who is
// composing a draft in which grid slot.
package presence

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"drivecal/internal/protocol"
	"drivecal/internal/signature"
)

const startLayout = "2006-01-02T15:04:05"

// Anonymous stands in for messages that carry no user id.
const Anonymous = "anonymous"

// Sender delivers outbound channel messages.
type Sender interface {
	Send(ctx context.Context, m protocol.Message) error
}

// Draft is a read-only copy of one draft slot.
type Draft struct {
	SlotKey      string
	InstructorID string
	Start        string
	Users        []string
	LastStarter  string
	ExpiresAt    time.Time
	Rows         []protocol.DraftRow
}

type slot struct {
	instructorID string
	start        string
	users        map[string]bool
	lastStarter  string
	expiresAt    time.Time
	rows         []protocol.DraftRow
}

// Coordinator owns the presence and draft maps. Consumers only see copies.
type Coordinator struct {
	self   string
	sender Sender
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	viewers  map[string]map[string]bool
	drafts   map[string]*slot
	userSlot map[string]string
	colors   map[string]string
}

func New(self string, sender Sender, ttl time.Duration) *Coordinator {
	if self == "" {
		self = Anonymous
	}
	c := &Coordinator{
		self:   self,
		sender: sender,
		ttl:    ttl,
		now:    time.Now,
		colors: map[string]string{},
	}
	c.Reset()
	return c
}

// Self returns the local user id.
func (c *Coordinator) Self() string {
	return c.self
}

// SetProfileColors installs the assigned user colours.
func (c *Coordinator) SetProfileColors(colors map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.colors = make(map[string]string, len(colors))
	for k, v := range colors {
		c.colors[k] = v
	}
}

// Reset drops every viewer and draft. Called on reconnect and unmount.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewers = make(map[string]map[string]bool)
	c.drafts = make(map[string]*slot)
	c.userSlot = make(map[string]string)
}

// Join marks the local user as viewing reservationID and broadcasts it.
func (c *Coordinator) Join(ctx context.Context, reservationID string) error {
	c.mu.Lock()
	c.addViewer(reservationID, c.self)
	c.mu.Unlock()
	return c.send(ctx, protocol.Message{Type: protocol.TypeJoin, UserID: c.self, ReservationID: reservationID})
}

// Leave mirrors Join.
func (c *Coordinator) Leave(ctx context.Context, reservationID string) error {
	c.mu.Lock()
	c.removeViewer(reservationID, c.self)
	c.mu.Unlock()
	return c.send(ctx, protocol.Message{Type: protocol.TypeLeave, UserID: c.self, ReservationID: reservationID})
}

// StartDraft places the local user into the slot of (instructorID, start),
// leaving any slot they held before, and broadcasts a start action.
func (c *Coordinator) StartDraft(ctx context.Context, instructorID string, start time.Time, rows []protocol.DraftRow) (string, error) {
	key := signature.SlotKey(instructorID, start)
	if len(rows) == 0 {
		rows = []protocol.DraftRow{{InstructorID: instructorID, Start: start.Format(startLayout)}}
	}
	c.mu.Lock()
	c.enter(key, instructorID, start.Format(startLayout), c.self, rows, c.ttl)
	c.mu.Unlock()

	err := c.send(ctx, protocol.Message{
		Type:   protocol.TypeDraftStart,
		UserID: c.self,
		Draft: &protocol.Draft{
			Action:       protocol.ActionStart,
			SlotKey:      key,
			InstructorID: instructorID,
			Start:        start.Format(startLayout),
			TTLSeconds:   int(c.ttl / time.Second),
			Reservations: rows,
		},
	})
	return key, err
}

// ClearDraft removes the local user from slotKey and broadcasts a clear.
func (c *Coordinator) ClearDraft(ctx context.Context, slotKey string) error {
	c.mu.Lock()
	if c.userSlot[c.self] == slotKey {
		c.clearUser(c.self)
	}
	c.mu.Unlock()
	return c.send(ctx, protocol.Message{
		Type:   protocol.TypeDraftClear,
		UserID: c.self,
		Draft:  &protocol.Draft{Action: protocol.ActionClear, SlotKey: slotKey},
	})
}

// Apply folds one inbound channel message into the maps. It reports whether
// anything changed.
func (c *Coordinator) Apply(m protocol.Message) bool {
	user := m.UserID
	if user == "" {
		user = Anonymous
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m.Type {
	case protocol.TypeJoined:
		if m.ReservationID == "" {
			return false
		}
		return c.addViewer(m.ReservationID, user)
	case protocol.TypeLeft:
		return c.removeViewer(m.ReservationID, user)
	case protocol.TypeDraftStarted:
		d := m.Draft
		if d == nil || protocol.IsClear(d.Action) || len(d.Reservations) == 0 {
			return c.clearUser(user)
		}
		key := d.SlotKey
		if key == "" {
			key = d.InstructorID + "|" + d.Start
		}
		ttl := c.ttl
		if d.TTLSeconds > 0 {
			ttl = time.Duration(d.TTLSeconds) * time.Second
		}
		c.enter(key, d.InstructorID, d.Start, user, d.Reservations, ttl)
		return true
	case protocol.TypeDraftEnded:
		return c.clearUser(user)
	}
	return false
}

// Sweep drops draft slots whose expiry has passed.
func (c *Coordinator) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, s := range c.drafts {
		if now.Before(s.expiresAt) {
			continue
		}
		for u := range s.users {
			if c.userSlot[u] == key {
				delete(c.userSlot, u)
			}
		}
		delete(c.drafts, key)
		n++
	}
	return n
}

// Viewers returns the sorted viewer ids of one reservation.
func (c *Coordinator) Viewers(reservationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedSet(c.viewers[reservationID])
}

// Presence returns a copy of the whole presence map.
func (c *Coordinator) Presence() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]string, len(c.viewers))
	for id, set := range c.viewers {
		out[id] = sortedSet(set)
	}
	return out
}

// Drafts returns copies of all draft slots ordered by slot key.
func (c *Coordinator) Drafts() []Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Draft, 0, len(c.drafts))
	for key, s := range c.drafts {
		out = append(out, Draft{
			SlotKey:      key,
			InstructorID: s.instructorID,
			Start:        s.start,
			Users:        sortedSet(s.users),
			LastStarter:  s.lastStarter,
			ExpiresAt:    s.expiresAt,
			Rows:         append([]protocol.DraftRow(nil), s.rows...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotKey < out[j].SlotKey })
	return out
}

// DraftUsers returns the users composing in slotKey.
func (c *Coordinator) DraftUsers(slotKey string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.drafts[slotKey]; ok {
		return sortedSet(s.users)
	}
	return nil
}

// Color returns the user's profile colour, or a stable colour derived from
// the user id.
func (c *Coordinator) Color(user string) string {
	c.mu.Lock()
	col, ok := c.colors[user]
	c.mu.Unlock()
	if ok && col != "" {
		return col
	}
	return FallbackColor(user)
}

// FallbackColor hashes the user id onto the hue circle.
func FallbackColor(user string) string {
	h := fnv.New32a()
	h.Write([]byte(user))
	sum := h.Sum32()
	hue := float64(sum % 360)
	return hslHex(hue, 0.65, 0.5)
}

func (c *Coordinator) send(ctx context.Context, m protocol.Message) error {
	if c.sender == nil {
		return nil
	}
	if err := c.sender.Send(ctx, m); err != nil {
		return fmt.Errorf("presence: send %s: %w", m.Type, err)
	}
	return nil
}

func (c *Coordinator) addViewer(reservationID, user string) bool {
	set := c.viewers[reservationID]
	if set == nil {
		set = make(map[string]bool)
		c.viewers[reservationID] = set
	}
	if set[user] {
		return false
	}
	set[user] = true
	return true
}

func (c *Coordinator) removeViewer(reservationID, user string) bool {
	set := c.viewers[reservationID]
	if !set[user] {
		return false
	}
	delete(set, user)
	if len(set) == 0 {
		delete(c.viewers, reservationID)
	}
	return true
}

// enter moves user into key, expiring after ttl. Caller holds mu.
func (c *Coordinator) enter(key, instructorID, start, user string, rows []protocol.DraftRow, ttl time.Duration) {
	if prev, ok := c.userSlot[user]; ok && prev != key {
		c.clearUser(user)
	}
	s := c.drafts[key]
	if s == nil {
		s = &slot{instructorID: instructorID, start: start, users: make(map[string]bool)}
		c.drafts[key] = s
	}
	s.users[user] = true
	s.lastStarter = user
	s.expiresAt = c.now().Add(ttl)
	s.rows = append([]protocol.DraftRow(nil), rows...)
	c.userSlot[user] = key
}

// clearUser removes user from every slot. Caller holds mu.
func (c *Coordinator) clearUser(user string) bool {
	changed := false
	for key, s := range c.drafts {
		if !s.users[user] {
			continue
		}
		delete(s.users, user)
		changed = true
		if len(s.users) == 0 {
			delete(c.drafts, key)
		}
	}
	delete(c.userSlot, user)
	return changed
}

func sortedSet(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func hslHex(h, s, l float64) string {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	to := func(v float64) int { return int(math.Round((v + m) * 255)) }
	return fmt.Sprintf("#%02x%02x%02x", to(r), to(g), to(b))
}
