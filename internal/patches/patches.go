// Package patches extracts per-turn state corrections from a battle log so
// the replay driver can erase random-number divergence at turn boundaries.
package patches

import (
	"iter"
	"sort"
	"strconv"
	"strings"

	"battlerewind/rewinder/internal/protocol"
)

// SlotHP corrects one active slot's hit points at the end of a turn.
type SlotHP struct {
	Slot    string `json:"slot"`
	Percent int    `json:"hp"`
	Fainted bool   `json:"fainted"`
}

// SlotStatus corrects one active slot's status condition.
type SlotStatus struct {
	Slot   string `json:"slot"`
	Status string `json:"status"`
}

// SlotSpecies names the end-of-turn occupant of an active slot.
type SlotSpecies struct {
	Slot    string `json:"slot"`
	Species string `json:"species"`
}

// BenchState is the cumulative state of one non-active creature.
type BenchState struct {
	Side    string `json:"side"`
	Species string `json:"species"`
	Percent int    `json:"hp"`
	Fainted bool   `json:"fainted"`
	Status  string `json:"status"`
}

// TurnPatch is the full correction for one turn boundary.
type TurnPatch struct {
	Turn   int           `json:"turn"`
	HP     []SlotHP      `json:"hp"`
	Status []SlotStatus  `json:"status"`
	Active []SlotSpecies `json:"active"`
	Bench  []BenchState  `json:"bench"`
}

// tracker carries the cumulative state of one creature across the log.
type tracker struct {
	percent int
	fainted bool
	status  string
}

// Extractor is the cumulative single-pass walker. It is independent of the
// choice reconstructor and shares nothing with it.
type Extractor struct {
	trackers map[string]map[string]*tracker
	active   map[string]string

	turnNumber  int
	slotHP      map[string]SlotHP
	slotStatus  map[string]string
	patches     []TurnPatch
	turnsSeen   int
	flushedLast bool
}

// NewExtractor prepares an empty patch extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		trackers: make(map[string]map[string]*tracker),
		active:   make(map[string]string),
	}
}

// Extract walks a whole log and returns the per-turn patches plus the total
// turn count observed.
func Extract(records iter.Seq[protocol.Record]) ([]TurnPatch, int) {
	extractor := NewExtractor()
	for record := range records {
		extractor.Apply(record)
	}
	return extractor.Finish()
}

// Apply advances the walker by one record.
func (e *Extractor) Apply(record protocol.Record) {
	if e == nil {
		return
	}
	switch record.Kind {
	case protocol.KindTurn:
		number, err := strconv.Atoi(strings.TrimSpace(record.Arg(0)))
		if err != nil {
			return
		}
		if number > e.turnsSeen {
			e.turnsSeen = number
		}
		//1.- The arrival of turn N seals the deltas accumulated for turn N-1.
		e.flushTurn()
		e.turnNumber = number
		e.slotHP = make(map[string]SlotHP)
		e.slotStatus = make(map[string]string)
	case protocol.KindSwitch, protocol.KindDrag, protocol.KindReplace:
		e.handleSwitch(record)
	case protocol.KindDamage, protocol.KindHeal:
		e.handleHPChange(record)
	case protocol.KindFaint:
		e.handleFaint(record)
	case protocol.KindStatus:
		e.handleStatus(record, record.Arg(1))
	case protocol.KindCureStatus:
		e.handleStatus(record, "")
	case protocol.KindDetailsChange:
		if ref, ok := protocol.ParseSlotRef(record.Arg(0)); ok {
			details := protocol.ParseDetails(record.Arg(1))
			if species := protocol.ToID(details.Species); species != "" {
				e.renameActive(ref, species)
			}
		}
	}
}

// Finish seals the trailing turn and returns the accumulated patches.
func (e *Extractor) Finish() ([]TurnPatch, int) {
	if e == nil {
		return nil, 0
	}
	if !e.flushedLast {
		e.flushTurn()
		e.flushedLast = true
	}
	return e.patches, e.turnsSeen
}

func (e *Extractor) handleSwitch(record protocol.Record) {
	ref, ok := protocol.ParseSlotRef(record.Arg(0))
	if !ok {
		return
	}
	details := protocol.ParseDetails(record.Arg(1))
	species := protocol.ToID(details.Species)
	if species == "" {
		return
	}
	cond := protocol.ParseCondition(record.Arg(2))
	slot := ref.Slot()
	e.active[slot] = species
	state := e.track(ref.Side, species)
	state.percent = cond.Percent
	state.fainted = cond.Fainted
	//1.- A switch-in condition without a status token explicitly clears status.
	state.status = cond.Status
	if e.turnNumber > 0 {
		e.slotHP[slot] = SlotHP{Slot: slot, Percent: cond.Percent, Fainted: cond.Fainted}
		e.slotStatus[slot] = cond.Status
	}
}

func (e *Extractor) handleHPChange(record protocol.Record) {
	ref, ok := protocol.ParseSlotRef(record.Arg(0))
	if !ok {
		return
	}
	slot := ref.Slot()
	species := e.active[slot]
	if species == "" {
		return
	}
	cond := protocol.ParseCondition(record.Arg(1))
	state := e.track(ref.Side, species)
	state.percent = cond.Percent
	state.fainted = cond.Fainted
	if cond.Status != "" {
		//1.- Trailing status tokens on HP strings propagate into the tracker.
		state.status = cond.Status
	}
	if e.turnNumber > 0 {
		e.slotHP[slot] = SlotHP{Slot: slot, Percent: cond.Percent, Fainted: cond.Fainted}
		if cond.Status != "" {
			e.slotStatus[slot] = cond.Status
		}
	}
}

func (e *Extractor) handleFaint(record protocol.Record) {
	ref, ok := protocol.ParseSlotRef(record.Arg(0))
	if !ok {
		return
	}
	slot := ref.Slot()
	species := e.active[slot]
	if species == "" {
		return
	}
	state := e.track(ref.Side, species)
	state.percent = 0
	state.fainted = true
	if e.turnNumber > 0 {
		e.slotHP[slot] = SlotHP{Slot: slot, Percent: 0, Fainted: true}
	}
}

func (e *Extractor) handleStatus(record protocol.Record, status string) {
	ref, ok := protocol.ParseSlotRef(record.Arg(0))
	if !ok {
		return
	}
	slot := ref.Slot()
	species := e.active[slot]
	if species == "" {
		return
	}
	e.track(ref.Side, species).status = status
	if e.turnNumber > 0 {
		e.slotStatus[slot] = status
	}
}

func (e *Extractor) renameActive(ref protocol.SlotRef, species string) {
	slot := ref.Slot()
	previous := e.active[slot]
	if previous == species {
		return
	}
	e.active[slot] = species
	//1.- Carry the tracked state across the identity change so HP history survives.
	if state, ok := e.trackers[ref.Side][previous]; ok {
		delete(e.trackers[ref.Side], previous)
		e.trackers[ref.Side][species] = state
	}
}

func (e *Extractor) track(side, species string) *tracker {
	if e.trackers[side] == nil {
		e.trackers[side] = make(map[string]*tracker)
	}
	state, ok := e.trackers[side][species]
	if !ok {
		state = &tracker{percent: 100}
		e.trackers[side][species] = state
	}
	return state
}

func (e *Extractor) flushTurn() {
	if e.turnNumber == 0 {
		return
	}
	patch := TurnPatch{Turn: e.turnNumber}
	slots := make([]string, 0, len(e.slotHP))
	for slot := range e.slotHP {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	for _, slot := range slots {
		patch.HP = append(patch.HP, e.slotHP[slot])
	}
	statusSlots := make([]string, 0, len(e.slotStatus))
	for slot := range e.slotStatus {
		statusSlots = append(statusSlots, slot)
	}
	sort.Strings(statusSlots)
	for _, slot := range statusSlots {
		patch.Status = append(patch.Status, SlotStatus{Slot: slot, Status: e.slotStatus[slot]})
	}
	//1.- The active list names the end-of-turn occupant of every live slot.
	activeSlots := make([]string, 0, len(e.active))
	for slot := range e.active {
		activeSlots = append(activeSlots, slot)
	}
	sort.Strings(activeSlots)
	occupied := make(map[string]map[string]bool)
	for _, slot := range activeSlots {
		species := e.active[slot]
		patch.Active = append(patch.Active, SlotSpecies{Slot: slot, Species: species})
		side := slot[:2]
		if occupied[side] == nil {
			occupied[side] = make(map[string]bool)
		}
		occupied[side][species] = true
	}
	//2.- Bench entries snapshot every tracked creature not currently in a slot,
	// cumulatively, not just those touched this turn.
	sides := make([]string, 0, len(e.trackers))
	for side := range e.trackers {
		sides = append(sides, side)
	}
	sort.Strings(sides)
	for _, side := range sides {
		species := make([]string, 0, len(e.trackers[side]))
		for name := range e.trackers[side] {
			species = append(species, name)
		}
		sort.Strings(species)
		for _, name := range species {
			if occupied[side][name] {
				continue
			}
			state := e.trackers[side][name]
			patch.Bench = append(patch.Bench, BenchState{
				Side:    side,
				Species: name,
				Percent: state.percent,
				Fainted: state.fainted,
				Status:  state.status,
			})
		}
	}
	e.patches = append(e.patches, patch)
	e.turnNumber = 0
}
