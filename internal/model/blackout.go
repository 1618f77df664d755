package model

import "time"

// BlackoutRule marks an instructor as unavailable.
//
// A rule without StepDays is a single occurrence at Start. A periodic rule
// repeats every StepDays days from Start up to and including Until.
type BlackoutRule struct {
	ID           string
	InstructorID string
	Start        time.Time
	StepDays     int
	Until        *time.Time
}

// BlackoutKeyLayout is the "day|HH:mm" format of blackout slot keys.
const BlackoutKeyLayout = "2006-01-02|15:04"

// BlackoutKey formats a floating time as a blackout slot key.
func BlackoutKey(t time.Time) string {
	return t.Format(BlackoutKeyLayout)
}
