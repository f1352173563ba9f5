// Package bookkeep provides the reference engine implementation: a
// deterministic simulator that tracks rosters, switches, turns, and
// serialization but resolves no damage of its own. Because the replay driver
// patches externally observable state after every turn, a bookkeeping engine
// converges to the recorded game at each turn boundary.
package bookkeep

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"battlerewind/rewinder/internal/engine"
	"battlerewind/rewinder/internal/teams"
)

var (
	// ErrUnknownSide is returned when a command names a side that was never
	// registered.
	ErrUnknownSide = errors.New("unknown side")
	// ErrEnded rejects mutations after the battle has been decided.
	ErrEnded = errors.New("battle already ended")
)

// Factory builds bookkeeping engines.
type Factory struct{}

// New constructs a fresh engine for the given format configuration.
func (Factory) New(cfg engine.FormatConfig) (engine.Engine, error) {
	if strings.TrimSpace(cfg.FormatID) == "" {
		return nil, errors.New("format id must be provided")
	}
	active := cfg.ActiveCount
	if active <= 0 {
		//1.- Doubles formats expose two simultaneous slots, everything else one.
		active = 1
		lowered := strings.ToLower(cfg.FormatID)
		if strings.Contains(lowered, "doubles") || strings.Contains(lowered, "vgc") {
			active = 2
		}
	}
	return &Engine{
		cfg:         cfg,
		activeCount: active,
		sides:       make(map[string]*engine.Side),
		requests:    make(map[string]engine.RequestKind),
		pending:     make(map[string]string),
		previews:    make(map[string]string),
	}, nil
}

// FromJSON rehydrates an engine from its serialized form.
func (Factory) FromJSON(data []byte) (engine.Engine, error) {
	var doc serializedState
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode engine state: %w", err)
	}
	eng := &Engine{
		cfg:         engine.FormatConfig{FormatID: doc.FormatID, Seed: doc.Seed, ActiveCount: doc.ActiveCount},
		activeCount: doc.ActiveCount,
		turn:        doc.Turn,
		ended:       doc.Ended,
		winner:      doc.Winner,
		sides:       make(map[string]*engine.Side),
		requests:    make(map[string]engine.RequestKind),
		pending:     make(map[string]string),
		previews:    make(map[string]string),
		inputLog:    append([]string(nil), doc.InputLog...),
	}
	if eng.activeCount <= 0 {
		eng.activeCount = 1
	}
	for _, raw := range doc.Sides {
		side := &engine.Side{ID: raw.ID, Name: raw.Name, Team: raw.Team}
		for index, entry := range raw.Pokemon {
			creature := entry.toCreature(index)
			side.Pokemon = append(side.Pokemon, creature)
		}
		side.Active = make([]*engine.Creature, eng.activeCount)
		for i := 0; i < eng.activeCount && i < len(side.Pokemon); i++ {
			side.Active[i] = side.Pokemon[i]
		}
		eng.sides[raw.ID] = side
		eng.order = append(eng.order, raw.ID)
	}
	for id, kind := range doc.Requests {
		eng.requests[id] = engine.RequestKind(kind)
	}
	return eng, nil
}

// Engine is the bookkeeping simulator.
type Engine struct {
	cfg         engine.FormatConfig
	activeCount int
	turn        int
	ended       bool
	winner      string

	sides    map[string]*engine.Side
	order    []string
	requests map[string]engine.RequestKind
	pending  map[string]string
	previews map[string]string

	hook     engine.SnapshotHook
	send     func(lines ...string)
	inputLog []string
}

// SetPlayer registers a side with its packed team. Once every expected side
// is present the engine snapshots its pre-preview state as turn zero.
func (e *Engine) SetPlayer(side, name, packedTeam string) error {
	if e == nil {
		return errors.New("engine is nil")
	}
	if e.ended {
		return ErrEnded
	}
	if side != "p1" && side != "p2" {
		return fmt.Errorf("%w: %q", ErrUnknownSide, side)
	}
	creatures := teams.Unpack(packedTeam)
	state := &engine.Side{ID: side, Name: name}
	for index, declared := range creatures {
		maxHP := 100 + declared.Level
		creature := &engine.Creature{
			Ident:     side + ": " + declared.DisplayName(),
			Details:   detailsOf(declared),
			SpeciesID: declared.SpeciesID,
			Species:   declared.Species,
			Level:     declared.Level,
			Gender:    declared.Gender,
			HP:        maxHP,
			MaxHP:     maxHP,
			Position:  index,
			DeclIndex: index,
			TeraType:  declared.TeraType,
			Moves:     append([]string(nil), declared.Moves...),
		}
		state.Pokemon = append(state.Pokemon, creature)
	}
	state.Active = make([]*engine.Creature, e.activeCount)
	state.Team = engine.IdentityTeamOrder(len(state.Pokemon))
	if _, exists := e.sides[side]; !exists {
		e.order = append(e.order, side)
	}
	e.sides[side] = state
	e.requests[side] = engine.RequestTeamPreview
	e.inputLog = append(e.inputLog, ">player "+side+" "+name)
	sort.Strings(e.order)
	//1.- Both sides registered: emit the turn-zero snapshot awaiting team preview.
	if len(e.sides) == 2 {
		e.pushSnapshot()
	}
	return nil
}

// Choose submits a choice string for a side. Invalid submissions are
// reported, never thrown, and leave the engine untouched.
func (e *Engine) Choose(side, choice string) (result engine.Result) {
	if e == nil {
		return engine.Rejected("engine is nil")
	}
	if e.ended {
		return engine.Rejected("battle already ended")
	}
	state, ok := e.sides[side]
	if !ok {
		return engine.Rejected("unknown side %q", side)
	}
	logged := len(e.inputLog)
	e.inputLog = append(e.inputLog, ">"+side+" "+choice)
	// A rejected submission is dropped from the input log again.
	defer func() {
		if !result.Accepted {
			e.inputLog = e.inputLog[:logged]
		}
	}()
	trimmed := strings.TrimSpace(choice)
	switch e.requests[side] {
	case engine.RequestTeamPreview:
		if !strings.HasPrefix(trimmed, "team ") {
			return engine.Rejected("expected a team choice, got %q", choice)
		}
		e.previews[side] = strings.TrimSpace(strings.TrimPrefix(trimmed, "team "))
		e.requests[side] = engine.RequestNone
		//1.- Both previews in: reorder rosters and open the first move request.
		if len(e.previews) == 2 {
			for id, selection := range e.previews {
				e.applyPreview(e.sides[id], selection)
			}
			e.previews = make(map[string]string)
			for id := range e.sides {
				e.requests[id] = engine.RequestMove
			}
		}
		return engine.Accepted
	case engine.RequestSwitch:
		if result := e.applySwitchChoice(state, trimmed); !result.Accepted {
			return result
		}
		e.requests[side] = engine.RequestMove
		return engine.Accepted
	case engine.RequestMove:
		//2.- A pure switch/pass batch is a forced replacement arriving after
		// the turn already resolved; apply it immediately instead of queueing.
		if isSwitchBatch(trimmed) {
			return e.applySwitchChoice(state, trimmed)
		}
		if result := e.validateMoveChoice(state, trimmed); !result.Accepted {
			return result
		}
		e.pending[side] = trimmed
		//3.- Once every side has a valid batch the turn resolves.
		if len(e.pending) == len(e.sides) {
			e.resolveTurn()
		}
		return engine.Accepted
	default:
		return engine.Rejected("no request pending for %q", side)
	}
}

// UndoChoice retracts a side's pending submission.
func (e *Engine) UndoChoice(side string) error {
	if e == nil {
		return errors.New("engine is nil")
	}
	if _, ok := e.sides[side]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSide, side)
	}
	delete(e.pending, side)
	delete(e.previews, side)
	return nil
}

// RequestState reports what the engine currently expects from a side.
func (e *Engine) RequestState(side string) engine.RequestKind {
	if e == nil {
		return engine.RequestNone
	}
	return e.requests[side]
}

// MakeRequest forces every side into the given request state.
func (e *Engine) MakeRequest(kind engine.RequestKind) error {
	if e == nil {
		return errors.New("engine is nil")
	}
	for side := range e.sides {
		e.requests[side] = kind
	}
	return nil
}

// ClearRequests drops pending submissions and open requests.
func (e *Engine) ClearRequests() {
	if e == nil {
		return
	}
	e.pending = make(map[string]string)
	for side := range e.sides {
		e.requests[side] = engine.RequestNone
	}
}

// Turn reports the number of completed turns.
func (e *Engine) Turn() int {
	if e == nil {
		return 0
	}
	return e.turn
}

// ForceTurn overrides the completed-turn counter.
func (e *Engine) ForceTurn(turn int) {
	if e == nil {
		return
	}
	e.turn = turn
}

// Ended reports whether the battle has been decided.
func (e *Engine) Ended() bool { return e != nil && e.ended }

// Winner names the winning side's player, empty for ties or live battles.
func (e *Engine) Winner() string {
	if e == nil {
		return ""
	}
	return e.winner
}

// ForceWin decides the battle in favour of a side.
func (e *Engine) ForceWin(side string) error {
	if e == nil {
		return errors.New("engine is nil")
	}
	state, ok := e.sides[side]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSide, side)
	}
	e.ended = true
	e.winner = state.Name
	e.emit("update", "|win|"+state.Name)
	return nil
}

// Tie ends the battle without a winner.
func (e *Engine) Tie() error {
	if e == nil {
		return errors.New("engine is nil")
	}
	e.ended = true
	e.winner = ""
	e.emit("update", "|tie")
	return nil
}

// Reseed replaces the stored RNG seed. The bookkeeping engine consumes no
// randomness, so this only affects the serialized configuration.
func (e *Engine) Reseed(seed string) error {
	if e == nil {
		return errors.New("engine is nil")
	}
	e.cfg.Seed = seed
	return nil
}

// Side returns the live view of one side.
func (e *Engine) Side(id string) *engine.Side {
	if e == nil {
		return nil
	}
	return e.sides[id]
}

// Sides returns the live views in side order.
func (e *Engine) Sides() []*engine.Side {
	if e == nil {
		return nil
	}
	out := make([]*engine.Side, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.sides[id])
	}
	return out
}

// InputLog returns every command the engine has accepted so far.
func (e *Engine) InputLog() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.inputLog...)
}

// SetSnapshotHook registers the per-turn serialization callback.
func (e *Engine) SetSnapshotHook(hook engine.SnapshotHook) {
	if e == nil {
		return
	}
	e.hook = hook
}

// Restart rebinds the output channel after deserialization.
func (e *Engine) Restart(send func(lines ...string)) error {
	if e == nil {
		return errors.New("engine is nil")
	}
	e.send = send
	return nil
}

func (e *Engine) emit(tag string, lines ...string) {
	if e.send == nil {
		return
	}
	e.send(append([]string{tag}, lines...)...)
}

func (e *Engine) pushSnapshot() {
	if e.hook == nil {
		return
	}
	data, err := e.ToJSON()
	if err != nil {
		return
	}
	e.hook(e.turn, data)
}

func (e *Engine) applyPreview(side *engine.Side, selection string) {
	if side == nil {
		return
	}
	indices := parseTeamOrder(selection)
	reordered := make([]*engine.Creature, 0, len(side.Pokemon))
	taken := make(map[int]bool)
	for _, index := range indices {
		if index < 0 || index >= len(side.Pokemon) || taken[index] {
			continue
		}
		reordered = append(reordered, side.Pokemon[index])
		taken[index] = true
	}
	//1.- Unchosen creatures keep their declaration order behind the selection.
	for index, creature := range side.Pokemon {
		if !taken[index] {
			reordered = append(reordered, creature)
		}
	}
	side.Pokemon = reordered
	for index, creature := range side.Pokemon {
		creature.Position = index
		creature.Active = index < e.activeCount
	}
	for i := 0; i < e.activeCount && i < len(side.Pokemon); i++ {
		side.Active[i] = side.Pokemon[i]
	}
	side.RecomputeTeam()
}

func (e *Engine) validateMoveChoice(side *engine.Side, choice string) engine.Result {
	entries := splitChoice(choice)
	needed := 0
	for _, creature := range side.Active {
		if creature != nil {
			needed++
		}
	}
	if len(entries) != needed {
		return engine.Rejected("expected %d choices for %s, got %d", needed, side.ID, len(entries))
	}
	for _, entry := range entries {
		kind, arg := splitEntry(entry)
		switch kind {
		case "move", "default", "pass":
		case "switch":
			if result := e.checkSwitchTarget(side, arg); !result.Accepted {
				return result
			}
		default:
			return engine.Rejected("unrecognized choice %q", entry)
		}
	}
	return engine.Accepted
}

func (e *Engine) checkSwitchTarget(side *engine.Side, arg string) engine.Result {
	index, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return engine.Rejected("switch target must be an index, got %q", arg)
	}
	if index < 1 || index > len(side.Pokemon) {
		return engine.Rejected("switch index %d out of range for %s", index, side.ID)
	}
	target := side.Pokemon[index-1]
	if target == nil || target.Fainted {
		return engine.Rejected("switch target %d has fainted", index)
	}
	if index-1 < e.activeCount {
		return engine.Rejected("switch target %d is already active", index)
	}
	return engine.Accepted
}

func (e *Engine) applySwitchChoice(side *engine.Side, choice string) engine.Result {
	entries := splitChoice(choice)
	// Every entry is checked before any swap, so a rejected batch moves nothing.
	for _, entry := range entries {
		kind, arg := splitEntry(entry)
		switch kind {
		case "pass", "default":
		case "switch":
			if result := e.checkSwitchTarget(side, arg); !result.Accepted {
				return result
			}
		default:
			return engine.Rejected("unrecognized forced choice %q", entry)
		}
	}
	for slot, entry := range entries {
		kind, arg := splitEntry(entry)
		if kind != "switch" || slot >= e.activeCount {
			continue
		}
		index, _ := strconv.Atoi(strings.TrimSpace(arg))
		side.Swap(slot, index-1)
	}
	return engine.Accepted
}

func (e *Engine) resolveTurn() {
	//1.- Apply the batched switch entries; moves are bookkeeping no-ops whose
	// observable consequences arrive via the driver's patches.
	for _, id := range e.order {
		side := e.sides[id]
		entries := splitChoice(e.pending[id])
		for slot, entry := range entries {
			kind, arg := splitEntry(entry)
			if kind != "switch" || slot >= e.activeCount {
				continue
			}
			if index, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil && index >= 1 && index <= len(side.Pokemon) {
				side.Swap(slot, index-1)
			}
		}
	}
	e.pending = make(map[string]string)
	e.turn++
	for id := range e.sides {
		e.requests[id] = engine.RequestMove
	}
	//2.- The turn hook fires before any external correction, mirroring the
	// simulator's own state_by_turn bookkeeping.
	e.pushSnapshot()
}

// isSwitchBatch reports whether every entry of a choice is switch or pass,
// with at least one switch: the shape of a forced replacement batch.
func isSwitchBatch(choice string) bool {
	entries := splitChoice(choice)
	hasSwitch := false
	for _, entry := range entries {
		kind, _ := splitEntry(entry)
		switch kind {
		case "switch":
			hasSwitch = true
		case "pass":
		default:
			return false
		}
	}
	return hasSwitch
}

func splitChoice(choice string) []string {
	if strings.TrimSpace(choice) == "" {
		return nil
	}
	parts := strings.Split(choice, ",")
	entries := make([]string, 0, len(parts))
	for _, part := range parts {
		entries = append(entries, strings.TrimSpace(part))
	}
	return entries
}

func splitEntry(entry string) (string, string) {
	kind, rest, _ := strings.Cut(entry, " ")
	return kind, rest
}

func parseTeamOrder(selection string) []int {
	trimmed := strings.TrimSpace(selection)
	if trimmed == "" {
		return nil
	}
	var indices []int
	//1.- Past nine entries the encoding switches from digits to a comma list.
	if strings.Contains(trimmed, ",") {
		for _, part := range strings.Split(trimmed, ",") {
			if value, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				indices = append(indices, value-1)
			}
		}
		return indices
	}
	for _, r := range trimmed {
		if r >= '1' && r <= '9' {
			indices = append(indices, int(r-'1'))
		}
	}
	return indices
}

func detailsOf(declared teams.Creature) string {
	details := declared.Species
	if declared.Level != 100 {
		details += ", L" + strconv.Itoa(declared.Level)
	}
	if declared.Gender != "" {
		details += ", " + declared.Gender
	}
	if declared.Shiny {
		details += ", shiny"
	}
	return details
}
