package counter

import (
	"bytes"
	"errors"
	"testing"

	"custodia/core/events"
	"custodia/native/common"
)

type mockState struct {
	counters map[[32]byte]*Counter
}

func newMockState() *mockState {
	return &mockState{counters: make(map[[32]byte]*Counter)}
}

func (m *mockState) CounterPut(c *Counter) error {
	m.counters[c.ID] = c.Clone()
	return nil
}

func (m *mockState) CounterGet(id [32]byte) (*Counter, bool) {
	c, ok := m.counters[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestEngine(state *mockState) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	return engine
}

func TestInitRejectsDuplicates(t *testing.T) {
	engine := newTestEngine(newMockState())
	authority := newTestAddress(0x01)

	c, err := engine.Init(authority)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if c.Total != 0 || c.Authority != authority {
		t.Fatalf("unexpected counter: %+v", c)
	}
	if _, err := engine.Init(authority); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}

func TestBoundsCheckedBeforeMutation(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	authority := newTestAddress(0x01)
	c, err := engine.Init(authority)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := engine.Add(c.ID, authority, MaxTotal); err != nil {
		t.Fatalf("add to max: %v", err)
	}
	if _, err := engine.Add(c.ID, authority, 1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("above max: want ErrOutOfRange, got %v", err)
	}
	stored, _ := state.CounterGet(c.ID)
	if stored.Total != MaxTotal {
		t.Fatalf("total mutated on failed add: %d", stored.Total)
	}

	if _, err := engine.Sub(c.ID, authority, MaxTotal-MinTotal); err != nil {
		t.Fatalf("sub to min: %v", err)
	}
	if _, err := engine.Sub(c.ID, authority, 1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("below min: want ErrOutOfRange, got %v", err)
	}
	stored, _ = state.CounterGet(c.ID)
	if stored.Total != MinTotal {
		t.Fatalf("total mutated on failed sub: %d", stored.Total)
	}
}

func TestAuthorityGate(t *testing.T) {
	engine := newTestEngine(newMockState())
	authority := newTestAddress(0x01)
	stranger := newTestAddress(0x02)
	c, err := engine.Init(authority)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := engine.Add(c.ID, stranger, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger add: want ErrUnauthorized, got %v", err)
	}
	if _, err := engine.ChangeAuthority(c.ID, stranger, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger handover: want ErrUnauthorized, got %v", err)
	}

	if _, err := engine.ChangeAuthority(c.ID, authority, stranger); err != nil {
		t.Fatalf("handover: %v", err)
	}
	if _, err := engine.Add(c.ID, authority, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old authority add: want ErrUnauthorized, got %v", err)
	}
	if _, err := engine.Add(c.ID, stranger, 1); err != nil {
		t.Fatalf("new authority add: %v", err)
	}
}

func TestMissingCounter(t *testing.T) {
	engine := newTestEngine(newMockState())
	if _, err := engine.Add([32]byte{0xEE}, newTestAddress(0x01), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPauseGuard(t *testing.T) {
	engine := newTestEngine(newMockState())
	engine.SetPauses(common.NewPauses("counter"))
	if _, err := engine.Init(newTestAddress(0x01)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("want ErrModulePaused, got %v", err)
	}
}

func TestMutationEvents(t *testing.T) {
	engine := newTestEngine(newMockState())
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	authority := newTestAddress(0x01)
	next := newTestAddress(0x02)

	c, err := engine.Init(authority)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := engine.Add(c.ID, authority, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.ChangeAuthority(c.ID, authority, next); err != nil {
		t.Fatalf("handover: %v", err)
	}

	if len(emitter.events) != 3 {
		t.Fatalf("event count = %d, want 3", len(emitter.events))
	}
	updated, ok := emitter.events[1].(events.CounterUpdated)
	if !ok || updated.Total != 3 {
		t.Fatalf("unexpected update event: %+v", emitter.events[1])
	}
	changed, ok := emitter.events[2].(events.CounterAuthorityChanged)
	if !ok || changed.Authority != next || changed.Previous != authority {
		t.Fatalf("unexpected handover event: %+v", emitter.events[2])
	}
}
