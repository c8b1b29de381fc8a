// Package progress emits typed pipeline progress events. Consumers (the
// dashboard push channel) receive phase-local counters plus a derived overall
// percentage; delivery is at-least-once and the percentage is
// monotonic-non-decreasing within a run.
package progress

import (
	"fmt"
	"sync"
)

// Phase identifies one pipeline stage.
type Phase int

const (
	PhaseLogin Phase = iota
	PhaseDiscover
	PhaseFetch
	PhaseCompose
)

func (p Phase) String() string {
	switch p {
	case PhaseLogin:
		return "login"
	case PhaseDiscover:
		return "discover"
	case PhaseFetch:
		return "fetch"
	case PhaseCompose:
		return "compose"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a terminal run state.
type State int

const (
	StateCompleted State = iota
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is one progress update for the active phase.
type Event struct {
	Phase   Phase  `json:"phase"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Terminal is the single end-of-run event.
type Terminal struct {
	State   State  `json:"state"`
	Message string `json:"message"`
}

// Listener consumes the event stream. Implementations must tolerate repeated
// identical events.
type Listener interface {
	OnProgress(Event)
	OnTerminal(Terminal)
}

// NopListener discards all events.
type NopListener struct{}

func (NopListener) OnProgress(Event)    {}
func (NopListener) OnTerminal(Terminal) {}

// Band maps a phase onto a slice of the overall percentage.
type Band struct {
	Base   int
	Weight int
}

// DefaultBands allocates login 0-10, discovery 10-20, fetch 20-80 and
// compose 80-100. The split is a configuration choice, not a measurement.
func DefaultBands() [4]Band {
	return [4]Band{
		PhaseLogin:    {Base: 0, Weight: 10},
		PhaseDiscover: {Base: 10, Weight: 10},
		PhaseFetch:    {Base: 20, Weight: 60},
		PhaseCompose:  {Base: 80, Weight: 20},
	}
}

// Reporter tracks the active phase counters and publishes events. It is safe
// for concurrent use by fetch workers.
type Reporter struct {
	listener Listener
	bands    [4]Band

	mu          sync.Mutex
	phase       Phase
	done        int
	total       int
	lastPercent int
	terminal    bool
}

// NewReporter builds a reporter publishing to listener with DefaultBands.
func NewReporter(listener Listener) *Reporter {
	return NewReporterWithBands(listener, DefaultBands())
}

// NewReporterWithBands builds a reporter with a custom phase band table.
func NewReporterWithBands(listener Listener, bands [4]Band) *Reporter {
	if listener == nil {
		listener = NopListener{}
	}
	return &Reporter{listener: listener, bands: bands}
}

// StartPhase switches the active phase and resets its counters.
func (r *Reporter) StartPhase(phase Phase, total int, message string) {
	r.mu.Lock()
	r.phase = phase
	r.done = 0
	r.total = total
	event := r.eventLocked(message)
	r.mu.Unlock()
	r.listener.OnProgress(event)
}

// Increment advances the active phase counter by one and publishes.
func (r *Reporter) Increment(message string) {
	r.mu.Lock()
	r.done++
	event := r.eventLocked(message)
	r.mu.Unlock()
	r.listener.OnProgress(event)
}

// Completed emits the completed terminal event. Only the first terminal
// event of a run is delivered.
func (r *Reporter) Completed(message string) {
	r.finish(Terminal{State: StateCompleted, Message: message})
}

// Failed emits the failed terminal event carrying the fatal error message.
func (r *Reporter) Failed(err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	r.finish(Terminal{State: StateFailed, Message: message})
}

// Stopped emits the stopped-by-request terminal event.
func (r *Reporter) Stopped() {
	r.finish(Terminal{State: StateStopped, Message: "stopped by request"})
}

func (r *Reporter) finish(t Terminal) {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		return
	}
	r.terminal = true
	r.mu.Unlock()
	r.listener.OnTerminal(t)
}

// eventLocked derives the overall percentage from the phase band and clamps
// it so the emitted sequence never decreases.
func (r *Reporter) eventLocked(message string) Event {
	band := r.bands[r.phase]
	percent := band.Base
	if r.total > 0 {
		fraction := float64(r.done) / float64(r.total)
		if fraction > 1 {
			fraction = 1
		}
		percent = band.Base + int(fraction*float64(band.Weight))
	}
	if percent < r.lastPercent {
		percent = r.lastPercent
	}
	r.lastPercent = percent
	return Event{
		Phase:   r.phase,
		Done:    r.done,
		Total:   r.total,
		Percent: percent,
		Message: message,
	}
}
