// Package snapshot rewrites serialized engine states so active-slot
// occupants, per-creature state, and roster position encoding agree with the
// live engine. The serialization is treated as opaque bytes everywhere except
// the thin structural view edited here: the sides array, each side's
// per-creature state blocks, and its position-encoding string.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"battlerewind/rewinder/internal/engine"
	"battlerewind/rewinder/internal/protocol"
)

// DefaultWindow bounds the backward search through earlier snapshots when an
// active occupant vanished from the serialization entirely.
const DefaultWindow = 8

// Patcher rewrites one turn's serialized snapshot.
type Patcher struct {
	// Window caps how many earlier snapshots step one may consult.
	Window int
}

type creatureBlock struct {
	doc map[string]json.RawMessage
}

func (b *creatureBlock) str(key string) string {
	var value string
	if raw, ok := b.doc[key]; ok {
		_ = json.Unmarshal(raw, &value)
	}
	return value
}

func (b *creatureBlock) set(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	b.doc[key] = data
}

// species returns the best species name the block exposes for matching.
func (b *creatureBlock) species() string {
	if id := b.str("species"); id != "" {
		return id
	}
	if id := b.str("species_id"); id != "" {
		return id
	}
	return protocol.ParseDetails(b.str("details")).Species
}

func (b *creatureBlock) clone() *creatureBlock {
	doc := make(map[string]json.RawMessage, len(b.doc))
	for k, v := range b.doc {
		doc[k] = append(json.RawMessage(nil), v...)
	}
	return &creatureBlock{doc: doc}
}

type sideView struct {
	doc    map[string]json.RawMessage
	id     string
	blocks []*creatureBlock
}

type stateView struct {
	doc   map[string]json.RawMessage
	sides []*sideView
}

func parseState(snap []byte) (*stateView, error) {
	view := &stateView{doc: make(map[string]json.RawMessage)}
	if err := json.Unmarshal(snap, &view.doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	var rawSides []json.RawMessage
	if sides, ok := view.doc["sides"]; ok {
		if err := json.Unmarshal(sides, &rawSides); err != nil {
			return nil, fmt.Errorf("decode snapshot sides: %w", err)
		}
	}
	for _, rawSide := range rawSides {
		side := &sideView{doc: make(map[string]json.RawMessage)}
		if err := json.Unmarshal(rawSide, &side.doc); err != nil {
			return nil, fmt.Errorf("decode snapshot side: %w", err)
		}
		_ = json.Unmarshal(side.doc["id"], &side.id)
		var rawBlocks []json.RawMessage
		if pokemon, ok := side.doc["pokemon"]; ok {
			if err := json.Unmarshal(pokemon, &rawBlocks); err != nil {
				return nil, fmt.Errorf("decode snapshot roster: %w", err)
			}
		}
		for _, rawBlock := range rawBlocks {
			block := &creatureBlock{doc: make(map[string]json.RawMessage)}
			if err := json.Unmarshal(rawBlock, &block.doc); err != nil {
				return nil, fmt.Errorf("decode creature block: %w", err)
			}
			side.blocks = append(side.blocks, block)
		}
		view.sides = append(view.sides, side)
	}
	return view, nil
}

func (v *stateView) marshal() ([]byte, error) {
	rawSides := make([]json.RawMessage, 0, len(v.sides))
	for _, side := range v.sides {
		rawBlocks := make([]json.RawMessage, 0, len(side.blocks))
		for _, block := range side.blocks {
			data, err := json.Marshal(block.doc)
			if err != nil {
				return nil, err
			}
			rawBlocks = append(rawBlocks, data)
		}
		blocksData, err := json.Marshal(rawBlocks)
		if err != nil {
			return nil, err
		}
		side.doc["pokemon"] = blocksData
		data, err := json.Marshal(side.doc)
		if err != nil {
			return nil, err
		}
		rawSides = append(rawSides, data)
	}
	sidesData, err := json.Marshal(rawSides)
	if err != nil {
		return nil, err
	}
	v.doc["sides"] = sidesData
	return json.Marshal(v.doc)
}

func (v *stateView) side(id string) *sideView {
	for _, side := range v.sides {
		if side.id == id {
			return side
		}
	}
	return nil
}

// Rewrite patches one serialized snapshot against the live sides. The earlier
// slice holds preceding snapshots most-recent-first; only Window entries are
// consulted when a creature has vanished from the serialization.
func (p Patcher) Rewrite(snap []byte, sides []*engine.Side, earlier [][]byte) ([]byte, error) {
	if len(snap) == 0 {
		return nil, errors.New("empty snapshot")
	}
	view, err := parseState(snap)
	if err != nil {
		return nil, err
	}
	window := p.Window
	if window <= 0 {
		window = DefaultWindow
	}
	if len(earlier) > window {
		earlier = earlier[:window]
	}
	for _, live := range sides {
		if live == nil {
			continue
		}
		side := view.side(live.ID)
		if side == nil {
			continue
		}
		p.fixActiveSlots(side, live, earlier)
		p.syncState(side, live)
		//1.- Identity encoding is safe: resumption always overwrites the full
		// state immediately, and it survives roster-corrupting ability swaps.
		side.doc["team"] = mustMarshal(engine.IdentityTeamOrder(len(side.blocks)))
	}
	return view.marshal()
}

// fixActiveSlots makes the serialized occupant of every active position match
// the live engine, swapping within the roster or recovering a block from an
// earlier snapshot when the creature is gone entirely.
func (p Patcher) fixActiveSlots(side *sideView, live *engine.Side, earlier [][]byte) {
	for position, creature := range live.Active {
		if creature == nil || position >= len(side.blocks) {
			continue
		}
		if protocol.SameSpecies(side.blocks[position].species(), creature.Species) {
			continue
		}
		//1.- Prefer an in-roster swap: the creature usually just moved seats.
		if found := p.findBlock(side, creature.Species, position); found >= 0 {
			side.blocks[position], side.blocks[found] = side.blocks[found], side.blocks[position]
			side.blocks[position].set("position", position)
			side.blocks[found].set("position", found)
			continue
		}
		//2.- The creature is gone from the serialization; recover its last
		// known block from an earlier snapshot.
		recovered := p.recoverBlock(live.ID, creature.Species, earlier)
		if recovered == nil {
			continue
		}
		target := position
		if dup := p.findDuplicate(side); dup >= 0 {
			target = dup
		}
		side.blocks[target] = recovered
		if target != position {
			side.blocks[position], side.blocks[target] = side.blocks[target], side.blocks[position]
			side.blocks[target].set("position", target)
		}
		side.blocks[position].set("position", position)
	}
}

func (p Patcher) findBlock(side *sideView, species string, skip int) int {
	for index, block := range side.blocks {
		if index == skip {
			continue
		}
		if protocol.SameSpecies(block.species(), species) {
			return index
		}
	}
	return -1
}

// findDuplicate locates the later of two blocks sharing a species, the
// signature of identity-changing abilities corrupting the roster.
func (p Patcher) findDuplicate(side *sideView) int {
	seen := make(map[string]int)
	for index, block := range side.blocks {
		id := protocol.ToID(block.species())
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			return index
		}
		seen[id] = index
	}
	return -1
}

func (p Patcher) recoverBlock(sideID, species string, earlier [][]byte) *creatureBlock {
	for _, snap := range earlier {
		view, err := parseState(snap)
		if err != nil {
			continue
		}
		side := view.side(sideID)
		if side == nil {
			continue
		}
		for _, block := range side.blocks {
			if protocol.SameSpecies(block.species(), species) {
				return block.clone()
			}
		}
	}
	return nil
}

// syncState copies HP, status, fainted, and active flags from the live
// engine into the serialized blocks: active positions by position, bench
// entries by species.
func (p Patcher) syncState(side *sideView, live *engine.Side) {
	activeCount := len(live.Active)
	consumed := make(map[*engine.Creature]bool)
	for position, creature := range live.Active {
		if creature == nil || position >= len(side.blocks) {
			continue
		}
		block := side.blocks[position]
		block.set("condition", creature.Condition())
		//1.- A fainted active keeps its seat but reports its own active flag.
		block.set("active", creature.Active)
		consumed[creature] = true
	}
	for index := activeCount; index < len(side.blocks); index++ {
		block := side.blocks[index]
		match := p.matchBench(live, block.species(), consumed)
		if match == nil {
			continue
		}
		consumed[match] = true
		block.set("condition", match.Condition())
		block.set("active", false)
	}
}

func (p Patcher) matchBench(live *engine.Side, species string, consumed map[*engine.Creature]bool) *engine.Creature {
	for _, creature := range live.Pokemon {
		if creature == nil || consumed[creature] {
			continue
		}
		if protocol.SameSpecies(creature.Species, species) {
			return creature
		}
	}
	return nil
}

func mustMarshal(value any) json.RawMessage {
	data, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return data
}
