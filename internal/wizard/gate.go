// Package wizard implements the step navigation gate, the shared step data
// bag and the flow definitions that describe a wizard's steps.
package wizard

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoSteps is returned when a gate is created without any steps.
var ErrNoSteps = errors.New("wizard must have at least one step")

// Gate tracks the current step and the completion ledger and decides which
// steps are reachable. Back navigation is always allowed; moving forward
// requires every earlier step to be complete.
//
// Gate is not safe for concurrent use. Callers share it through a single
// owner (see session.Session).
type Gate struct {
	current   int
	total     int
	initial   int
	completed map[int]bool
}

// GateState is a read-only view of a gate.
type GateState struct {
	CurrentStep    int    `json:"currentStep"`
	TotalSteps     int    `json:"totalSteps"`
	InitialStep    int    `json:"initialStep"`
	CompletedSteps []int  `json:"completedSteps"`
	Reachable      []bool `json:"reachable"`
	CanGoNext      bool   `json:"canGoNext"`
	CanGoPrev      bool   `json:"canGoPrev"`
}

// NewGate creates a gate with totalSteps steps positioned at initialStep.
// initialStep is clamped into range.
func NewGate(totalSteps, initialStep int) (*Gate, error) {
	if totalSteps < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrNoSteps, totalSteps)
	}
	initialStep = clamp(initialStep, 0, totalSteps-1)
	return &Gate{
		current:   initialStep,
		total:     totalSteps,
		initial:   initialStep,
		completed: make(map[int]bool),
	}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (g *Gate) inRange(step int) bool {
	return step >= 0 && step < g.total
}

// CurrentStep returns the index of the current step.
func (g *Gate) CurrentStep() int { return g.current }

// TotalSteps returns the number of steps.
func (g *Gate) TotalSteps() int { return g.total }

// InitialStep returns the step the gate starts on and resets to.
func (g *Gate) InitialStep() int { return g.initial }

// MarkStepComplete sets the ledger entry for step. It never advances.
func (g *Gate) MarkStepComplete(step int) {
	if g.inRange(step) {
		g.completed[step] = true
	}
}

// MarkStepIncomplete clears the ledger entry for step.
func (g *Gate) MarkStepIncomplete(step int) {
	if g.inRange(step) {
		g.completed[step] = false
	}
}

// IsStepComplete reports whether step is marked complete. Absent entries are incomplete.
func (g *Gate) IsStepComplete(step int) bool {
	return g.completed[step]
}

// CanNavigateToStep reports whether step is reachable from the current position.
func (g *Gate) CanNavigateToStep(step int) bool {
	if step <= g.current {
		return true
	}
	for i := 0; i < step; i++ {
		if !g.completed[i] {
			return false
		}
	}
	return true
}

// GoToStep moves to step if it is in range and reachable. A refused move is
// not an error; the return value only reports whether the gate moved.
func (g *Gate) GoToStep(step int) bool {
	if !g.inRange(step) || !g.CanNavigateToStep(step) {
		return false
	}
	g.current = step
	return true
}

// NextStep advances one step when the current step is complete and not last.
func (g *Gate) NextStep() bool {
	if !g.CanGoNext() {
		return false
	}
	g.current++
	return true
}

// PrevStep goes back one step, stopping at 0.
func (g *Gate) PrevStep() bool {
	if g.current == 0 {
		return false
	}
	g.current--
	return true
}

// CanGoNext reports whether NextStep would move.
func (g *Gate) CanGoNext() bool {
	return g.current < g.total-1 && g.completed[g.current]
}

// CanGoPrev reports whether PrevStep would move.
func (g *Gate) CanGoPrev() bool {
	return g.current > 0
}

// Reset returns to the initial step and empties the ledger.
func (g *Gate) Reset() {
	g.current = g.initial
	g.completed = make(map[int]bool)
}

// Snapshot returns the gate's current state.
func (g *Gate) Snapshot() GateState {
	done := make([]int, 0, len(g.completed))
	for step, ok := range g.completed {
		if ok {
			done = append(done, step)
		}
	}
	sort.Ints(done)

	reachable := make([]bool, g.total)
	for i := range reachable {
		reachable[i] = g.CanNavigateToStep(i)
	}

	return GateState{
		CurrentStep:    g.current,
		TotalSteps:     g.total,
		InitialStep:    g.initial,
		CompletedSteps: done,
		Reachable:      reachable,
		CanGoNext:      g.CanGoNext(),
		CanGoPrev:      g.CanGoPrev(),
	}
}
