package counter

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"custodia/core/events"
	"custodia/native/common"
)

const moduleName = "counter"

// Counters are bounded to a small signed window; both bounds are checked
// before any mutation is applied.
const (
	MinTotal int64 = -5
	MaxTotal int64 = 10
)

var (
	ErrNotFound     = errors.New("counter: not found")
	ErrUnauthorized = errors.New("counter: unauthorized caller")
	ErrOutOfRange   = errors.New("counter: total out of range")
	ErrDuplicate    = errors.New("counter: already exists")

	errNilState = errors.New("counter engine: state not configured")
)

// Counter is a small authority-gated accumulator.
type Counter struct {
	ID        [32]byte
	Authority [20]byte
	Total     int64
}

// Clone returns a copy of the counter.
func (c *Counter) Clone() *Counter {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

type ledger interface {
	CounterPut(*Counter) error
	CounterGet(id [32]byte) (*Counter, bool)
}

// Engine mediates counter mutations behind authority checks and bounds.
type Engine struct {
	state   ledger
	emitter events.Emitter
	pauses  common.PauseView
}

// NewEngine creates a counter engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state ledger) { e.state = state }

// SetPauses configures the operator pause switches.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return common.Guard(e.pauses, moduleName)
}

// Init creates a zeroed counter owned by the authority.
func (e *Engine) Init(authority [20]byte) (*Counter, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	id := ethcrypto.Keccak256Hash([]byte(moduleName), authority[:])
	if _, ok := e.state.CounterGet(id); ok {
		return nil, ErrDuplicate
	}
	c := &Counter{ID: id, Authority: authority}
	if err := e.state.CounterPut(c); err != nil {
		return nil, err
	}
	e.emit(events.CounterUpdated{ID: c.ID, Authority: c.Authority, Total: c.Total})
	return c.Clone(), nil
}

func (e *Engine) load(id [32]byte) (*Counter, error) {
	c, ok := e.state.CounterGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (e *Engine) apply(id [32]byte, caller [20]byte, delta int64) (*Counter, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	c, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if caller != c.Authority {
		return nil, ErrUnauthorized
	}
	next := c.Total + delta
	if next < MinTotal || next > MaxTotal {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, next, MinTotal, MaxTotal)
	}
	c.Total = next
	if err := e.state.CounterPut(c); err != nil {
		return nil, err
	}
	e.emit(events.CounterUpdated{ID: c.ID, Authority: c.Authority, Total: c.Total})
	return c.Clone(), nil
}

// Add increases the counter by value.
func (e *Engine) Add(id [32]byte, caller [20]byte, value int64) (*Counter, error) {
	return e.apply(id, caller, value)
}

// Sub decreases the counter by value.
func (e *Engine) Sub(id [32]byte, caller [20]byte, value int64) (*Counter, error) {
	return e.apply(id, caller, -value)
}

// ChangeAuthority hands the counter to a new authority.
func (e *Engine) ChangeAuthority(id [32]byte, caller, next [20]byte) (*Counter, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	c, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if caller != c.Authority {
		return nil, ErrUnauthorized
	}
	c.Authority = next
	if err := e.state.CounterPut(c); err != nil {
		return nil, err
	}
	e.emit(events.CounterAuthorityChanged{ID: c.ID, Previous: caller, Authority: next})
	return c.Clone(), nil
}
