// Package enginetest provides a scripted engine double for driver and
// session unit tests: every behaviour is observable or programmable, and
// nothing depends on the bookkeeping engine's real semantics.
package enginetest

import (
	"encoding/json"
	"errors"

	"battlerewind/rewinder/internal/engine"
)

// Call records one submission the driver made to the engine.
type Call struct {
	Side   string
	Choice string
}

// Engine is a deterministic fake. Zero value is usable: every choice is
// accepted, requests default to move, and turns never advance on their own.
type Engine struct {
	// ChooseFunc overrides choice handling; nil accepts everything.
	ChooseFunc func(side, choice string) engine.Result
	// Requests maps sides to their current request state.
	Requests map[string]engine.RequestKind
	// SideViews holds the live side surface handed to the driver.
	SideViews map[string]*engine.Side

	TurnValue  int
	EndedValue bool
	WinnerName string
	Serialized []byte

	Calls             []Call
	ClearCount        int
	MakeRequestKinds  []engine.RequestKind
	MakeRequestErrors int

	hook engine.SnapshotHook
	send func(lines ...string)
}

// PushSnapshot invokes the registered hook as a real engine's turn hook would.
func (e *Engine) PushSnapshot(turn int, snapshot []byte) {
	if e.hook != nil {
		e.hook(turn, snapshot)
	}
}

// Request sets one side's request state.
func (e *Engine) Request(side string, kind engine.RequestKind) {
	if e.Requests == nil {
		e.Requests = make(map[string]engine.RequestKind)
	}
	e.Requests[side] = kind
}

// SetPlayer records nothing; registration is out of scope for the double.
func (e *Engine) SetPlayer(side, name, packedTeam string) error { return nil }

// Choose records the call and consults the script.
func (e *Engine) Choose(side, choice string) engine.Result {
	e.Calls = append(e.Calls, Call{Side: side, Choice: choice})
	if e.ChooseFunc != nil {
		return e.ChooseFunc(side, choice)
	}
	return engine.Accepted
}

// UndoChoice always succeeds.
func (e *Engine) UndoChoice(side string) error { return nil }

// RequestState reports the scripted request, defaulting to move.
func (e *Engine) RequestState(side string) engine.RequestKind {
	if kind, ok := e.Requests[side]; ok {
		return kind
	}
	return engine.RequestMove
}

// MakeRequest applies the kind to every known side, or fails when scripted.
func (e *Engine) MakeRequest(kind engine.RequestKind) error {
	e.MakeRequestKinds = append(e.MakeRequestKinds, kind)
	if e.MakeRequestErrors > 0 {
		e.MakeRequestErrors--
		return errors.New("request maker refused")
	}
	for side := range e.Requests {
		e.Requests[side] = kind
	}
	return nil
}

// ClearRequests counts invocations and drops every request state.
func (e *Engine) ClearRequests() {
	e.ClearCount++
	for side := range e.Requests {
		e.Requests[side] = engine.RequestNone
	}
}

// Turn reports the scripted completed-turn counter.
func (e *Engine) Turn() int { return e.TurnValue }

// ForceTurn overrides the counter.
func (e *Engine) ForceTurn(turn int) { e.TurnValue = turn }

// Ended reports the scripted end flag.
func (e *Engine) Ended() bool { return e.EndedValue }

// Winner reports the scripted winner.
func (e *Engine) Winner() string { return e.WinnerName }

// ForceWin marks the battle decided.
func (e *Engine) ForceWin(side string) error {
	e.EndedValue = true
	e.WinnerName = side
	return nil
}

// Tie marks the battle drawn.
func (e *Engine) Tie() error {
	e.EndedValue = true
	e.WinnerName = ""
	return nil
}

// Reseed is a no-op.
func (e *Engine) Reseed(seed string) error { return nil }

// Side returns the scripted view for a side.
func (e *Engine) Side(id string) *engine.Side { return e.SideViews[id] }

// Sides returns the scripted views in p1, p2 order.
func (e *Engine) Sides() []*engine.Side {
	out := make([]*engine.Side, 0, len(e.SideViews))
	for _, id := range []string{"p1", "p2"} {
		if side, ok := e.SideViews[id]; ok {
			out = append(out, side)
		}
	}
	return out
}

// InputLog replays the recorded calls as input lines.
func (e *Engine) InputLog() []string {
	lines := make([]string, 0, len(e.Calls))
	for _, call := range e.Calls {
		lines = append(lines, ">"+call.Side+" "+call.Choice)
	}
	return lines
}

// ToJSON returns the scripted serialization, defaulting to a turn document.
func (e *Engine) ToJSON() ([]byte, error) {
	if e.Serialized != nil {
		return append([]byte(nil), e.Serialized...), nil
	}
	return json.Marshal(map[string]int{"turn": e.TurnValue})
}

// SetSnapshotHook stores the driver's hook for PushSnapshot.
func (e *Engine) SetSnapshotHook(hook engine.SnapshotHook) { e.hook = hook }

// Restart stores the output binding.
func (e *Engine) Restart(send func(lines ...string)) error {
	e.send = send
	return nil
}

// Emit writes through the bound output channel, if any.
func (e *Engine) Emit(lines ...string) {
	if e.send != nil {
		e.send(lines...)
	}
}

// Factory hands out scripted engines.
type Factory struct {
	// NewFunc overrides construction; nil returns a fresh Engine whose two
	// sides both await team preview.
	NewFunc func(cfg engine.FormatConfig) (engine.Engine, error)
	// FromJSONFunc overrides deserialization; nil returns a fresh Engine.
	FromJSONFunc func(data []byte) (engine.Engine, error)
	// Built collects every engine the factory produced.
	Built []*Engine
}

// New constructs an engine per the script.
func (f *Factory) New(cfg engine.FormatConfig) (engine.Engine, error) {
	if f.NewFunc != nil {
		return f.NewFunc(cfg)
	}
	built := &Engine{Requests: map[string]engine.RequestKind{"p1": engine.RequestTeamPreview, "p2": engine.RequestTeamPreview}}
	f.Built = append(f.Built, built)
	return built, nil
}

// FromJSON rehydrates per the script.
func (f *Factory) FromJSON(data []byte) (engine.Engine, error) {
	if f.FromJSONFunc != nil {
		return f.FromJSONFunc(data)
	}
	built := &Engine{Serialized: append([]byte(nil), data...)}
	f.Built = append(f.Built, built)
	return built, nil
}
