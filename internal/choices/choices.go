// Package choices reconstructs per-turn player decisions from a finished
// battle's event log: move choices with targets, switches, terastallization
// declarations, forced post-faint switches, and no-op placeholders.
package choices

import (
	"iter"
	"sort"
	"strconv"
	"strings"

	"battlerewind/rewinder/internal/preview"
	"battlerewind/rewinder/internal/protocol"
	"battlerewind/rewinder/internal/teams"
)

// Sides enumerated by the reconstructor. The engine admits four sides for
// free-for-alls but reconstruction assumes two.
var Sides = []string{"p1", "p2"}

type phase int

const (
	phasePreBattle phase = iota
	phaseTeamPreview
	phaseBattle
)

type actionKind int

const (
	actionMove actionKind = iota
	actionSwitch
	actionDefault
)

type action struct {
	slot        string
	kind        actionKind
	moveID      string
	target      int
	hasTarget   bool
	switchIndex int
}

type forcedEntry struct {
	index   int
	species string
}

// Turn carries one reconstructed turn: the choice string per side, the
// forced-switch string per side (empty when no slot fainted), and the
// slot-to-species map the driver uses to re-resolve forced team indices.
type Turn struct {
	Number        int                          `json:"turn"`
	Choices       map[string]string            `json:"choices"`
	Forced        map[string]string            `json:"forced"`
	ForcedSpecies map[string]map[string]string `json:"forced_species"`
}

// Result is the full reconstruction of a battle log.
type Result struct {
	Previews map[string]preview.Selection `json:"previews"`
	Turns    []Turn                       `json:"turns"`
	Winner   string                       `json:"winner,omitempty"`
}

// Reconstructor folds the event stream into per-turn choices. All mutable
// state lives on the struct; nothing is closed over.
type Reconstructor struct {
	selections map[string]preview.Selection

	phase      phase
	active     map[string]string
	commanding map[string]bool
	between    bool
	done       bool

	turnNumber          int
	actions             map[string][]action
	acted               map[string]bool
	teras               map[string]bool
	fainted             map[string]bool
	turnStartActive     map[string]string
	turnStartCommanding map[string]bool
	forced              map[string]map[string]forcedEntry

	turns  []Turn
	winner string
}

// NewReconstructor prepares a reconstructor bound to the sides' resolved
// team-preview selections.
func NewReconstructor(selections map[string]preview.Selection) *Reconstructor {
	if selections == nil {
		selections = make(map[string]preview.Selection)
	}
	return &Reconstructor{
		selections: selections,
		active:     make(map[string]string),
		commanding: make(map[string]bool),
		actions:    make(map[string][]action),
		acted:      make(map[string]bool),
		teras:      make(map[string]bool),
		fainted:    make(map[string]bool),
		forced:     make(map[string]map[string]forcedEntry),
	}
}

// Reconstruct runs the whole pipeline over a log: roster extraction,
// appearance scanning, team-preview resolution, then the per-turn fold.
func Reconstruct(log string, bringCount int) Result {
	rosters := teams.ExtractRosters(protocol.Records(log))
	appearances := preview.ScanAppearances(protocol.Records(log))
	selections := make(map[string]preview.Selection, len(Sides))
	for _, side := range Sides {
		selections[side] = preview.Resolve(rosters[side], appearances[side], bringCount)
	}
	reconstructor := NewReconstructor(selections)
	for record := range protocol.Records(log) {
		reconstructor.Apply(record)
	}
	return reconstructor.Finish()
}

// Apply advances the reconstruction state machine by one record.
func (r *Reconstructor) Apply(record protocol.Record) {
	if r == nil || r.done {
		return
	}
	switch record.Kind {
	case protocol.KindStart:
		if r.phase == phasePreBattle {
			r.phase = phaseTeamPreview
		}
	case protocol.KindTurn:
		r.handleTurn(record)
	case protocol.KindUpkeep:
		//1.- Forced switches are whatever arrives between upkeep and the next turn.
		r.between = true
		r.forced = make(map[string]map[string]forcedEntry)
	case protocol.KindSwitch, protocol.KindDrag, protocol.KindReplace:
		r.handleSwitch(record)
	case protocol.KindMove:
		r.handleMove(record)
	case protocol.KindCant:
		r.handleCant(record)
	case protocol.KindFaint:
		r.handleFaint(record)
	case protocol.KindTerastallize:
		if ref, ok := protocol.ParseSlotRef(record.Arg(0)); ok {
			r.teras[ref.Slot()] = true
		}
	case protocol.KindActivate:
		if record.Arg(1) == "ability: Commander" {
			if ref, ok := protocol.ParseSlotRef(record.Arg(0)); ok {
				r.commanding[ref.Slot()] = true
			}
		}
	case protocol.KindDetailsChange:
		//1.- Identity changes update the slot mapping without emitting a choice.
		if ref, ok := protocol.ParseSlotRef(record.Arg(0)); ok {
			details := protocol.ParseDetails(record.Arg(1))
			if species := protocol.ToID(details.Species); species != "" {
				r.active[ref.Slot()] = species
			}
		}
	case protocol.KindWin:
		r.flushTurn()
		r.winner = record.Arg(0)
		r.done = true
	case protocol.KindMessage:
		if strings.Contains(strings.ToLower(record.Arg(0)), "forfeited") {
			r.flushTurn()
			r.done = true
		}
	}
}

// Finish flushes any trailing turn and returns the reconstruction result.
func (r *Reconstructor) Finish() Result {
	if r == nil {
		return Result{}
	}
	if !r.done {
		r.flushTurn()
		r.done = true
	}
	return Result{Previews: r.selections, Turns: r.turns, Winner: r.winner}
}

func (r *Reconstructor) handleTurn(record protocol.Record) {
	number, err := strconv.Atoi(strings.TrimSpace(record.Arg(0)))
	if err != nil {
		return
	}
	if r.phase == phaseBattle {
		r.flushTurn()
	}
	r.phase = phaseBattle
	r.turnNumber = number
	//1.- Snapshot actives and commanders now: needs-choice is judged at turn start.
	r.turnStartActive = cloneStrings(r.active)
	r.turnStartCommanding = cloneBools(r.commanding)
	r.actions = make(map[string][]action)
	r.acted = make(map[string]bool)
	r.teras = make(map[string]bool)
	r.fainted = make(map[string]bool)
	r.between = false
}

func (r *Reconstructor) handleSwitch(record protocol.Record) {
	ref, ok := protocol.ParseSlotRef(record.Arg(0))
	if !ok {
		return
	}
	slot := ref.Slot()
	details := protocol.ParseDetails(record.Arg(1))
	species := protocol.ToID(details.Species)
	if r.phase == phaseBattle {
		switch {
		case r.between && r.fainted[slot]:
			//1.- A switch between upkeep and the next turn into a fainted slot is forced.
			if r.forced[ref.Side] == nil {
				r.forced[ref.Side] = make(map[string]forcedEntry)
			}
			r.forced[ref.Side][slot] = forcedEntry{index: r.switchIndex(ref.Side, details.Species), species: species}
		case record.Kind == protocol.KindSwitch && !r.acted[slot]:
			//2.- A switch-in that trails a pivot move is a consequence, not a choice;
			// the acted guard keeps the first emitted action for the slot.
			r.actions[ref.Side] = append(r.actions[ref.Side], action{
				slot:        slot,
				kind:        actionSwitch,
				switchIndex: r.switchIndex(ref.Side, details.Species),
			})
			r.acted[slot] = true
		}
	}
	if species != "" {
		r.active[slot] = species
	}
}

func (r *Reconstructor) handleMove(record protocol.Record) {
	if r.phase != phaseBattle {
		return
	}
	ref, ok := protocol.ParseSlotRef(record.Arg(0))
	if !ok {
		return
	}
	slot := ref.Slot()
	//1.- Chained move records for the same slot collapse to the first action.
	if r.acted[slot] {
		return
	}
	act := action{slot: slot, kind: actionMove, moveID: protocol.ToID(record.Arg(1))}
	if target, ok := protocol.ParseSlotRef(record.Arg(2)); ok && target.Position != 0 && !strings.HasPrefix(record.Arg(2), "[") {
		act.target = targetLocation(ref.Side, target)
		act.hasTarget = true
	}
	r.actions[ref.Side] = append(r.actions[ref.Side], act)
	r.acted[slot] = true
}

func (r *Reconstructor) handleCant(record protocol.Record) {
	if r.phase != phaseBattle {
		return
	}
	ref, ok := protocol.ParseSlotRef(record.Arg(0))
	if !ok {
		return
	}
	slot := ref.Slot()
	if r.acted[slot] {
		return
	}
	r.actions[ref.Side] = append(r.actions[ref.Side], action{slot: slot, kind: actionDefault})
	r.acted[slot] = true
}

func (r *Reconstructor) handleFaint(record protocol.Record) {
	ref, ok := protocol.ParseSlotRef(record.Arg(0))
	if !ok {
		return
	}
	r.fainted[ref.Slot()] = true
	//1.- Release every commanding slot on the fainted side so the absorbed ally
	// re-enters the needs-choice set next turn. Species clause keeps this safe.
	for slot := range r.commanding {
		if strings.HasPrefix(slot, ref.Side) {
			delete(r.commanding, slot)
		}
	}
}

// switchIndex resolves a species to its 1-based post-preview roster position,
// defaulting to 1 so the driver's runtime remapping can fix a missing match.
func (r *Reconstructor) switchIndex(side, species string) int {
	if index := r.selections[side].IndexOf(species); index > 0 {
		return index
	}
	return 1
}

func (r *Reconstructor) flushTurn() {
	if r.turnNumber == 0 {
		return
	}
	turn := Turn{
		Number:        r.turnNumber,
		Choices:       make(map[string]string, len(Sides)),
		Forced:        make(map[string]string, len(Sides)),
		ForcedSpecies: make(map[string]map[string]string, len(Sides)),
	}
	for _, side := range Sides {
		turn.Choices[side] = r.buildChoice(side)
		forced, species := r.buildForced(side)
		turn.Forced[side] = forced
		turn.ForcedSpecies[side] = species
	}
	r.turns = append(r.turns, turn)
	r.forced = make(map[string]map[string]forcedEntry)
	r.turnNumber = 0
}

func (r *Reconstructor) buildChoice(side string) string {
	acts := append([]action(nil), r.actions[side]...)
	//1.- Every slot that was active and not commanding at turn start must have
	// an action; a creature KO'd before acting leaves no record, so fill default.
	for _, slot := range r.needsChoice(side) {
		if !r.acted[slot] {
			acts = append(acts, action{slot: slot, kind: actionDefault})
		}
	}
	//2.- Slot order is positional: a before b.
	sort.SliceStable(acts, func(i, j int) bool { return acts[i].slot < acts[j].slot })
	parts := make([]string, 0, len(acts))
	for _, act := range acts {
		parts = append(parts, r.serialize(act))
	}
	return strings.Join(parts, ", ")
}

func (r *Reconstructor) serialize(act action) string {
	switch act.kind {
	case actionMove:
		var b strings.Builder
		b.WriteString("move ")
		b.WriteString(act.moveID)
		if act.hasTarget {
			b.WriteString(" ")
			b.WriteString(strconv.Itoa(act.target))
		}
		if r.teras[act.slot] {
			b.WriteString(" terastallize")
		}
		return b.String()
	case actionSwitch:
		return "switch " + strconv.Itoa(act.switchIndex)
	default:
		return "default"
	}
}

func (r *Reconstructor) needsChoice(side string) []string {
	slots := make([]string, 0, 2)
	for slot := range r.turnStartActive {
		if !strings.HasPrefix(slot, side) {
			continue
		}
		if r.turnStartCommanding[slot] {
			continue
		}
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	return slots
}

func (r *Reconstructor) buildForced(side string) (string, map[string]string) {
	entries := r.forced[side]
	if len(entries) == 0 {
		return "", nil
	}
	slots := make([]string, 0, 2)
	for slot := range r.turnStartActive {
		if strings.HasPrefix(slot, side) {
			slots = append(slots, slot)
		}
	}
	sort.Strings(slots)
	parts := make([]string, 0, len(slots))
	species := make(map[string]string, len(entries))
	any := false
	//1.- Pair slot entries positionally, padding the untouched slots with pass.
	for _, slot := range slots {
		entry, ok := entries[slot]
		if !ok {
			parts = append(parts, "pass")
			continue
		}
		parts = append(parts, "switch "+strconv.Itoa(entry.index))
		species[slot] = entry.species
		any = true
	}
	if !any {
		return "", nil
	}
	return strings.Join(parts, ", "), species
}

// targetLocation encodes the engine's target convention: opposing slots are
// positive (a=1, b=2), allied slots negative (a=-1, b=-2).
func targetLocation(attackerSide string, target protocol.SlotRef) int {
	location := int(target.Position-'a') + 1
	if target.Side == attackerSide {
		return -location
	}
	return location
}

func cloneStrings(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneBools(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
