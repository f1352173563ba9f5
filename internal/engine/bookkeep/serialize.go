package bookkeep

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"battlerewind/rewinder/internal/engine"
	"battlerewind/rewinder/internal/protocol"
)

// serializedCreature is the per-creature state block of the snapshot format.
// The snapshot patcher finds blocks by their species fields and edits their
// condition, active and position fields, so those JSON names are a contract
// shared with internal/snapshot.
type serializedCreature struct {
	Ident     string   `json:"ident"`
	Details   string   `json:"details"`
	Species   string   `json:"species"`
	SpeciesID string   `json:"species_id"`
	Condition string   `json:"condition"`
	Active    bool     `json:"active"`
	Position  int      `json:"position"`
	DeclIndex int      `json:"decl_index"`
	Level     int      `json:"level,omitempty"`
	Gender    string   `json:"gender,omitempty"`
	TeraType  string   `json:"tera_type,omitempty"`
	Moves     []string `json:"moves,omitempty"`
}

type serializedSide struct {
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	Team    string               `json:"team"`
	Pokemon []serializedCreature `json:"pokemon"`
}

type serializedState struct {
	FormatID    string            `json:"format_id"`
	Seed        string            `json:"seed,omitempty"`
	Turn        int               `json:"turn"`
	Ended       bool              `json:"ended"`
	Winner      string            `json:"winner,omitempty"`
	ActiveCount int               `json:"active_count"`
	Requests    map[string]string `json:"requests"`
	Sides       []serializedSide  `json:"sides"`
	InputLog    []string          `json:"input_log,omitempty"`
}

// ToJSON serializes the complete engine state.
func (e *Engine) ToJSON() ([]byte, error) {
	if e == nil {
		return nil, errors.New("engine is nil")
	}
	doc := serializedState{
		FormatID:    e.cfg.FormatID,
		Seed:        e.cfg.Seed,
		Turn:        e.turn,
		Ended:       e.ended,
		Winner:      e.winner,
		ActiveCount: e.activeCount,
		Requests:    make(map[string]string, len(e.requests)),
		InputLog:    append([]string(nil), e.inputLog...),
	}
	for side, kind := range e.requests {
		doc.Requests[side] = string(kind)
	}
	for _, id := range e.order {
		side := e.sides[id]
		serialized := serializedSide{ID: side.ID, Name: side.Name, Team: side.Team}
		for _, creature := range side.Pokemon {
			serialized.Pokemon = append(serialized.Pokemon, serializeCreature(creature))
		}
		doc.Sides = append(doc.Sides, serialized)
	}
	return json.Marshal(doc)
}

func serializeCreature(creature *engine.Creature) serializedCreature {
	if creature == nil {
		return serializedCreature{}
	}
	return serializedCreature{
		Ident:     creature.Ident,
		Details:   creature.Details,
		Species:   creature.Species,
		SpeciesID: creature.SpeciesID,
		Condition: creature.Condition(),
		Active:    creature.Active,
		Position:  creature.Position,
		DeclIndex: creature.DeclIndex,
		Level:     creature.Level,
		Gender:    creature.Gender,
		TeraType:  creature.TeraType,
		Moves:     append([]string(nil), creature.Moves...),
	}
}

func (s serializedCreature) toCreature(position int) *engine.Creature {
	cond := protocol.ParseCondition(s.Condition)
	creature := &engine.Creature{
		Ident:     s.Ident,
		Details:   s.Details,
		Species:   s.Species,
		SpeciesID: s.SpeciesID,
		Level:     s.Level,
		Gender:    s.Gender,
		Status:    cond.Status,
		Fainted:   cond.Fainted,
		Active:    s.Active,
		Position:  position,
		DeclIndex: s.DeclIndex,
		TeraType:  s.TeraType,
		Moves:     append([]string(nil), s.Moves...),
	}
	//1.- The condition string is authoritative for raw HP on rehydration.
	if cur, max, ok := parseRawCondition(s.Condition); ok {
		creature.HP = cur
		creature.MaxHP = max
	} else {
		creature.MaxHP = 100 + s.Level
		creature.HP = protocol.PercentToHP(cond.Percent, creature.MaxHP, cond.Fainted)
	}
	return creature
}

// parseRawCondition extracts the raw current/max pair from a condition
// string, reporting false for fainted or malformed encodings.
func parseRawCondition(raw string) (int, int, bool) {
	head, _, _ := strings.Cut(raw, " ")
	curPart, maxPart, found := strings.Cut(head, "/")
	if !found {
		return 0, 0, false
	}
	cur, err1 := strconv.Atoi(curPart)
	max, err2 := strconv.Atoi(maxPart)
	if err1 != nil || err2 != nil || max <= 0 {
		return 0, 0, false
	}
	return cur, max, true
}
