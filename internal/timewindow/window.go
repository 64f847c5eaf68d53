// Package timewindow derives phases and countdowns from fixed anchor
// timestamps. Everything here is a pure function of (now, anchors) and safe
// to evaluate from any number of goroutines.
package timewindow

import (
	"time"

	"github.com/hako/durafmt"
)

type State int

const (
	StatePending State = iota
	StateActive
	StateElapsed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	}
	return "elapsed"
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func New(start time.Time, d time.Duration) Window {
	return Window{Start: start, End: start.Add(d)}
}

func (w Window) State(now time.Time) State {
	switch {
	case now.Before(w.Start):
		return StatePending
	case now.Before(w.End):
		return StateActive
	}
	return StateElapsed
}

func (w Window) Contains(now time.Time) bool {
	return w.State(now) == StateActive
}

// Remaining is the time left until End, never negative.
func (w Window) Remaining(now time.Time) time.Duration {
	return clamp(w.End.Sub(now))
}

// FormatRemaining renders a countdown with at most two units,
// e.g. "1 hour 30 minutes". Non-positive durations render as "-".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		d = time.Second
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).String()
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
