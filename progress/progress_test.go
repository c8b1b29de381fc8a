package progress

import (
	"errors"
	"sync"
	"testing"
)

type capture struct {
	mu        sync.Mutex
	events    []Event
	terminals []Terminal
}

func (c *capture) OnProgress(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *capture) OnTerminal(t Terminal) {
	c.mu.Lock()
	c.terminals = append(c.terminals, t)
	c.mu.Unlock()
}

func (c *capture) last() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func TestBandMapping(t *testing.T) {
	tests := []struct {
		name        string
		phase       Phase
		done, total int
		want        int
	}{
		{"login start", PhaseLogin, 0, 3, 0},
		{"login done", PhaseLogin, 3, 3, 10},
		{"discover halfway", PhaseDiscover, 1, 2, 15},
		{"fetch start", PhaseFetch, 0, 10, 20},
		{"fetch halfway", PhaseFetch, 5, 10, 50},
		{"fetch done", PhaseFetch, 10, 10, 80},
		{"compose done", PhaseCompose, 4, 4, 100},
		{"overshoot clamps", PhaseFetch, 15, 10, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &capture{}
			r := NewReporter(c)
			r.StartPhase(tt.phase, tt.total, "start")
			for i := 0; i < tt.done; i++ {
				r.Increment("update")
			}
			if got := c.last().Percent; got != tt.want {
				t.Errorf("percent = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPercentMonotonic(t *testing.T) {
	c := &capture{}
	r := NewReporter(c)

	r.StartPhase(PhaseLogin, 3, "")
	r.Increment("")
	r.Increment("")
	r.Increment("")
	r.StartPhase(PhaseDiscover, 4, "")
	r.Increment("")
	r.Increment("")
	// Restarting a phase resets its counters; the overall percent must hold.
	r.StartPhase(PhaseDiscover, 8, "")
	r.Increment("")
	r.StartPhase(PhaseFetch, 2, "")
	r.Increment("")
	r.Increment("")
	r.StartPhase(PhaseCompose, 2, "")
	r.Increment("")
	r.Increment("")

	last := -1
	for i, e := range c.events {
		if e.Percent < last {
			t.Errorf("events[%d] percent %d decreased below %d", i, e.Percent, last)
		}
		last = e.Percent
	}
	if last != 100 {
		t.Errorf("final percent = %d, want 100", last)
	}
}

func TestZeroTotalStaysAtBase(t *testing.T) {
	c := &capture{}
	r := NewReporter(c)

	r.StartPhase(PhaseFetch, 0, "nothing to fetch")
	if got := c.last().Percent; got != 20 {
		t.Errorf("percent = %d, want phase base 20", got)
	}
}

func TestTerminalDeliveredOnce(t *testing.T) {
	c := &capture{}
	r := NewReporter(c)

	r.Completed("done")
	r.Failed(errors.New("late failure"))
	r.Stopped()

	if len(c.terminals) != 1 {
		t.Fatalf("got %d terminal events, want exactly 1", len(c.terminals))
	}
	if c.terminals[0].State != StateCompleted {
		t.Errorf("state = %s, want the first terminal to win", c.terminals[0].State)
	}
}

func TestFailedCarriesMessage(t *testing.T) {
	c := &capture{}
	r := NewReporter(c)

	r.Failed(errors.New("authentication failed: bad credentials"))

	if len(c.terminals) != 1 {
		t.Fatalf("got %d terminal events, want 1", len(c.terminals))
	}
	if c.terminals[0].State != StateFailed {
		t.Errorf("state = %s, want failed", c.terminals[0].State)
	}
	if c.terminals[0].Message != "authentication failed: bad credentials" {
		t.Errorf("message = %q", c.terminals[0].Message)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	c := &capture{}
	r := NewReporter(c)
	r.StartPhase(PhaseFetch, 100, "")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Increment("")
		}()
	}
	wg.Wait()

	// Listener delivery order is not guaranteed across goroutines; check the
	// counters reached completion rather than the last event seen.
	maxDone, maxPercent := 0, 0
	c.mu.Lock()
	for _, e := range c.events {
		if e.Done > maxDone {
			maxDone = e.Done
		}
		if e.Percent > maxPercent {
			maxPercent = e.Percent
		}
	}
	c.mu.Unlock()

	if maxDone != 100 {
		t.Errorf("done = %d, want 100", maxDone)
	}
	if maxPercent != 80 {
		t.Errorf("percent = %d, want 80 at fetch completion", maxPercent)
	}
}

func TestStringers(t *testing.T) {
	if PhaseFetch.String() != "fetch" {
		t.Errorf("PhaseFetch = %q", PhaseFetch.String())
	}
	if StateStopped.String() != "stopped" {
		t.Errorf("StateStopped = %q", StateStopped.String())
	}
}
