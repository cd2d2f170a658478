package experiment

import (
	"errors"
	"fmt"
)

// Schedule describes when the active query and config windows shift.
// The i-th shift point adopts the window [Start[i], End[i]).
type Schedule struct {
	Rounds int `json:"rounds"`

	WorkloadShifts []int `json:"workloadShifts"`
	QueriesStart   []int `json:"queriesStart"`
	QueriesEnd     []int `json:"queriesEnd"`

	ConfigShifts []int `json:"configShifts"`
	ConfigStart  []int `json:"configStart"`
	ConfigEnd    []int `json:"configEnd"`
}

// Validate checks the schedule against the number of queries and arms.
func (s Schedule) Validate(numQueries, numArms int) error {
	if s.Rounds <= 0 {
		return fmt.Errorf("rounds must be positive, got %d", s.Rounds)
	}
	if len(s.WorkloadShifts) == 0 {
		return errors.New("at least one workload window is required")
	}
	if err := validateShifts("workload", s.WorkloadShifts, s.QueriesStart, s.QueriesEnd, numQueries); err != nil {
		return err
	}
	return validateShifts("config", s.ConfigShifts, s.ConfigStart, s.ConfigEnd, numArms)
}

func validateShifts(name string, shifts, starts, ends []int, limit int) error {
	if len(shifts) != len(starts) || len(shifts) != len(ends) {
		return fmt.Errorf("%s schedule: %d shifts, %d starts and %d ends", name, len(shifts), len(starts), len(ends))
	}
	for i := range shifts {
		if shifts[i] < 0 {
			return fmt.Errorf("%s schedule: negative shift point %d", name, shifts[i])
		}
		if i > 0 && shifts[i] <= shifts[i-1] {
			return fmt.Errorf("%s schedule: shift points must be strictly increasing, got %d after %d", name, shifts[i], shifts[i-1])
		}
		if starts[i] < 0 || starts[i] > ends[i] || ends[i] > limit {
			return fmt.Errorf("%s schedule: window [%d, %d) out of range [0, %d)", name, starts[i], ends[i], limit)
		}
		if i > 0 && (starts[i] < starts[i-1] || ends[i] < ends[i-1]) {
			return fmt.Errorf("%s schedule: window [%d, %d) moves backward from [%d, %d)", name, starts[i], ends[i], starts[i-1], ends[i-1])
		}
	}
	return nil
}

// window is a step function over the round index.
// Each shift point is consumed at most once.
type window struct {
	shifts, starts, ends []int

	next       int
	start, end int
	active     bool
	lastShift  int
	shiftCount int
}

func newWindow(shifts, starts, ends []int) *window {
	return &window{shifts: shifts, starts: starts, ends: ends, lastShift: -1}
}

// initial adopts the first window without consuming its shift point.
func (w *window) initial() {
	if len(w.starts) > 0 {
		w.start, w.end, w.active = w.starts[0], w.ends[0], true
	}
}

// advance adopts the next window if round is its shift point.
func (w *window) advance(round int) bool {
	if w.next >= len(w.shifts) || round != w.shifts[w.next] {
		return false
	}
	w.start, w.end, w.active = w.starts[w.next], w.ends[w.next], true
	w.lastShift = round
	w.next++
	w.shiftCount++
	return true
}
