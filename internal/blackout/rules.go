package blackout

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "drivecal/internal/log"
	"drivecal/internal/model"
)

// Expand turns rules into the set of "day|HH:mm" keys that fall inside
// [from, to). Single rules yield at most one key; periodic rules repeat every
// StepDays days from Start through Until (inclusive), or through to when
// Until is unset.
func Expand(rules []model.BlackoutRule, from, to time.Time) map[string]bool {
	out := make(map[string]bool)
	for _, r := range rules {
		for _, t := range occurrences(r, from, to) {
			out[model.BlackoutKey(t)] = true
		}
	}
	return out
}

func occurrences(r model.BlackoutRule, from, to time.Time) []time.Time {
	start := model.Floating(r.Start)
	if r.StepDays <= 0 {
		if start.Before(from) || !start.Before(to) {
			return nil
		}
		return []time.Time{start}
	}

	until := to.Add(-time.Nanosecond)
	if r.Until != nil && !r.Until.IsZero() {
		u := model.Floating(*r.Until)
		if u.Before(until) {
			until = u
		}
	}
	if until.Before(start) || until.Before(from) {
		return nil
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: r.StepDays,
		Dtstart:  start,
		Until:    until,
	})
	if err != nil {
		appLog.Error("blackout: invalid periodic rule", err, "rule", r.ID, "instructor", r.InstructorID)
		return nil
	}
	return rule.Between(from, until, true)
}
