package snapshot

import (
	"encoding/json"
	"strings"
	"testing"

	"battlerewind/rewinder/internal/engine"
)

func creatureJSON(species, condition string, active bool, position int) map[string]any {
	return map[string]any{
		"ident":      "p1: " + species,
		"details":    species + ", L50",
		"species":    species,
		"species_id": strings.ToLower(strings.ReplaceAll(species, " ", "")),
		"condition":  condition,
		"active":     active,
		"position":   position,
		"decl_index": position,
	}
}

func snapshotJSON(t *testing.T, sideID string, team string, creatures ...map[string]any) []byte {
	t.Helper()
	doc := map[string]any{
		"format_id": "gen9ou",
		"turn":      3,
		"rng_state": "opaque-seed-blob",
		"sides": []map[string]any{
			{"id": sideID, "name": "Alice", "team": team, "pokemon": creatures},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return data
}

func liveSide(species ...string) *engine.Side {
	side := &engine.Side{ID: "p1"}
	for i, name := range species {
		creature := &engine.Creature{
			Species:   name,
			SpeciesID: strings.ToLower(strings.ReplaceAll(name, " ", "")),
			HP:        150,
			MaxHP:     150,
			Position:  i,
			DeclIndex: i,
			Active:    i == 0,
		}
		side.Pokemon = append(side.Pokemon, creature)
	}
	side.Active = []*engine.Creature{side.Pokemon[0]}
	return side
}

func decodeSide(t *testing.T, snap []byte) (map[string]json.RawMessage, []map[string]any) {
	t.Helper()
	var top map[string]json.RawMessage
	if err := json.Unmarshal(snap, &top); err != nil {
		t.Fatalf("decode top: %v", err)
	}
	var sides []map[string]json.RawMessage
	if err := json.Unmarshal(top["sides"], &sides); err != nil {
		t.Fatalf("decode sides: %v", err)
	}
	var blocks []map[string]any
	if err := json.Unmarshal(sides[0]["pokemon"], &blocks); err != nil {
		t.Fatalf("decode pokemon: %v", err)
	}
	return top, blocks
}

func TestRewriteSwapsWrongActiveOccupant(t *testing.T) {
	//1.- The serialization has Iron Hands leading while the live engine has
	// Chi-Yu in the slot after the turn's real switches.
	snap := snapshotJSON(t, "p1", "12",
		creatureJSON("Iron Hands", "150/150", true, 0),
		creatureJSON("Chi-Yu", "150/150", false, 1),
	)
	live := liveSide("Chi-Yu", "Iron Hands")
	live.Active[0].HP = 75
	live.Active[0].Status = "brn"

	out, err := Patcher{}.Rewrite(snap, []*engine.Side{live}, nil)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	_, blocks := decodeSide(t, out)
	if blocks[0]["species"] != "Chi-Yu" {
		t.Fatalf("active slot not fixed: %v", blocks[0]["species"])
	}
	//2.- State sync stamped the live condition into the active position.
	if blocks[0]["condition"] != "75/150 brn" {
		t.Fatalf("condition not synced: %v", blocks[0]["condition"])
	}
	if blocks[1]["species"] != "Iron Hands" || blocks[1]["condition"] != "150/150" {
		t.Fatalf("bench entry corrupted: %v", blocks[1])
	}
}

func TestRewriteRecoversVanishedCreatureFromHistory(t *testing.T) {
	//1.- The current serialization lost Chi-Yu entirely; an earlier snapshot
	// still carries its block.
	current := snapshotJSON(t, "p1", "12",
		creatureJSON("Iron Hands", "150/150", true, 0),
		creatureJSON("Amoonguss", "150/150", false, 1),
	)
	earlier := snapshotJSON(t, "p1", "12",
		creatureJSON("Chi-Yu", "110/150", true, 0),
		creatureJSON("Iron Hands", "150/150", false, 1),
	)
	live := liveSide("Chi-Yu", "Iron Hands")

	out, err := Patcher{}.Rewrite(current, []*engine.Side{live}, [][]byte{earlier})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	_, blocks := decodeSide(t, out)
	if blocks[0]["species"] != "Chi-Yu" {
		t.Fatalf("vanished creature not recovered: %v", blocks[0]["species"])
	}
	//2.- The recovered block is synced to the live state, not the old HP.
	if blocks[0]["condition"] != "150/150" {
		t.Fatalf("recovered block not synced: %v", blocks[0]["condition"])
	}
}

func TestRewriteBoundsBackwardSearch(t *testing.T) {
	current := snapshotJSON(t, "p1", "1",
		creatureJSON("Iron Hands", "150/150", true, 0),
	)
	old := snapshotJSON(t, "p1", "1",
		creatureJSON("Chi-Yu", "110/150", true, 0),
	)
	live := liveSide("Chi-Yu")
	//1.- The only snapshot holding Chi-Yu sits beyond the search window, so
	// the occupant cannot be recovered and stays unchanged.
	history := [][]byte{}
	for i := 0; i < 3; i++ {
		history = append(history, snapshotJSON(t, "p1", "1", creatureJSON("Iron Hands", "150/150", true, 0)))
	}
	history = append(history, old)

	out, err := Patcher{Window: 3}.Rewrite(current, []*engine.Side{live}, history)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	_, blocks := decodeSide(t, out)
	if blocks[0]["species"] != "Iron Hands" {
		t.Fatalf("expected unrecoverable occupant to stay, got %v", blocks[0]["species"])
	}
}

func TestRewriteSetsIdentityTeamEncodingAndPreservesUnknownFields(t *testing.T) {
	snap := snapshotJSON(t, "p1", "21",
		creatureJSON("Chi-Yu", "150/150", true, 0),
		creatureJSON("Iron Hands", "150/150", false, 1),
	)
	live := liveSide("Chi-Yu", "Iron Hands")

	out, err := Patcher{}.Rewrite(snap, []*engine.Side{live}, nil)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	top, _ := decodeSide(t, out)
	//1.- Opaque engine internals survive the rewrite untouched.
	var rng string
	if err := json.Unmarshal(top["rng_state"], &rng); err != nil || rng != "opaque-seed-blob" {
		t.Fatalf("unknown field lost: %v %q", err, rng)
	}
	var sides []map[string]json.RawMessage
	if err := json.Unmarshal(top["sides"], &sides); err != nil {
		t.Fatalf("decode sides: %v", err)
	}
	var team string
	if err := json.Unmarshal(sides[0]["team"], &team); err != nil || team != "12" {
		t.Fatalf("expected identity encoding, got %q", team)
	}
}

func TestRewriteFaintedActiveFlag(t *testing.T) {
	snap := snapshotJSON(t, "p1", "12",
		creatureJSON("Chi-Yu", "150/150", true, 0),
		creatureJSON("Iron Hands", "150/150", false, 1),
	)
	live := liveSide("Chi-Yu", "Iron Hands")
	//1.- A fainted active keeps the seat but reports inactive.
	live.Active[0].HP = 0
	live.Active[0].Fainted = true
	live.Active[0].Active = false

	out, err := Patcher{}.Rewrite(snap, []*engine.Side{live}, nil)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	_, blocks := decodeSide(t, out)
	if blocks[0]["condition"] != "0 fnt" {
		t.Fatalf("fainted condition not written: %v", blocks[0]["condition"])
	}
	if blocks[0]["active"] != false {
		t.Fatalf("fainted active flag must be false")
	}
}

func TestRewriteRejectsEmptySnapshot(t *testing.T) {
	if _, err := (Patcher{}).Rewrite(nil, nil, nil); err == nil {
		t.Fatalf("expected error for empty snapshot")
	}
}
