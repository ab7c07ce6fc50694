package status

import (
	"testing"

	"github.com/jpvalente/adsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Attaching},
		{Booting, Error},
		{Attaching, Watching},
		{Attaching, AuthRequired},
		{AuthRequired, Attaching},
		{Watching, Processing},
		{Processing, Watching},
		{Watching, Degraded},
		{Degraded, Watching},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Processing); err == nil {
		t.Error("Transition(BOOTING -> PROCESSING) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("daemon.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Attaching); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(Change)
	if !ok {
		t.Fatalf("payload type = %T, want Change", evt.Payload)
	}
	if change.From != Booting || change.To != Attaching {
		t.Errorf("change = %v -> %v, want BOOTING -> ATTACHING", change.From, change.To)
	}
}

// TestProcessingRequiresWatching verifies a chat cannot be processed before
// the daemon is attached and watching the inbox.
func TestProcessingRequiresWatching(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(Attaching)

	if err := m.Transition(Processing); err == nil {
		t.Fatal("Transition(ATTACHING -> PROCESSING) should fail; must go through WATCHING first")
	}
	if m.Current() != Attaching {
		t.Errorf("state = %s, want ATTACHING (should not have changed)", m.Current())
	}
}

// TestLoginWallLifecycle simulates the page showing a login wall mid-watch:
// WATCHING → AUTH_REQUIRED → ATTACHING → WATCHING
func TestLoginWallLifecycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Watching)

	steps := []State{AuthRequired, Attaching, Watching}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Watching {
		t.Errorf("final state = %s, want WATCHING", m.Current())
	}
}

// TestDegradedRecovery verifies the backend-trouble loop:
// WATCHING → DEGRADED → WATCHING
func TestDegradedRecovery(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Watching)

	if err := m.Transition(Degraded); err != nil {
		t.Fatalf("WATCHING -> DEGRADED: %v", err)
	}
	if err := m.Transition(Watching); err != nil {
		t.Fatalf("DEGRADED -> WATCHING: %v", err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		Attaching:    {Attaching},
		AuthRequired: {Attaching, AuthRequired},
		Watching:     {Attaching, Watching},
		Processing:   {Attaching, Watching, Processing},
		Degraded:     {Attaching, Watching, Degraded},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
