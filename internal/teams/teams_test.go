package teams

import (
	"reflect"
	"testing"

	"battlerewind/rewinder/internal/protocol"
)

const packedPair = "Flutter Mane||boosterenergy|protosynthesis|moonblast,dazzlinggleam,shadowball,protect|Timid|,,,252,4,252||||50|,,,,,Fairy]Ogerpon-Wellspring|" +
	"|wellspringmask|waterabsorb|ivycudgel,hornleech,followme,spikyshield|Adamant|252,,,,4,252|F|||50|,,,,,Water"

func TestUnpackReadsBattleRelevantFields(t *testing.T) {
	creatures := Unpack(packedPair)
	if len(creatures) != 2 {
		t.Fatalf("expected 2 creatures, got %d", len(creatures))
	}
	first := creatures[0]
	//1.- An empty species field falls back to the nickname slot.
	if first.Species != "Flutter Mane" || first.SpeciesID != "fluttermane" {
		t.Fatalf("unexpected species %q/%q", first.Species, first.SpeciesID)
	}
	if first.Level != 50 || first.TeraType != "Fairy" {
		t.Fatalf("unexpected level/tera %d/%q", first.Level, first.TeraType)
	}
	if len(first.Moves) != 4 || first.Moves[1] != "dazzlinggleam" {
		t.Fatalf("unexpected moves %v", first.Moves)
	}
	second := creatures[1]
	if second.Species != "Ogerpon-Wellspring" || second.Gender != "F" {
		t.Fatalf("unexpected second creature %+v", second)
	}
	if second.ShowteamIndex != 1 {
		t.Fatalf("expected stable declaration index, got %d", second.ShowteamIndex)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	original := Unpack(packedPair)
	//1.- Re-encoding then decoding must reproduce identical creature records.
	again := Unpack(Pack(original))
	if !reflect.DeepEqual(original, again) {
		t.Fatalf("round trip diverged:\n%+v\n%+v", original, again)
	}
}

func TestUnpackEmptyTeam(t *testing.T) {
	if creatures := Unpack(""); creatures != nil {
		t.Fatalf("expected nil roster for empty pack, got %v", creatures)
	}
	if creatures := Unpack("   "); creatures != nil {
		t.Fatalf("expected nil roster for blank pack, got %v", creatures)
	}
}

func TestRosterFindSpecies(t *testing.T) {
	roster := Roster{Side: "p1", Creatures: Unpack(packedPair)}
	if idx, ok := roster.FindSpecies("Flutter Mane"); !ok || idx != 0 {
		t.Fatalf("exact match failed: %d %v", idx, ok)
	}
	//1.- Base-form lookup resolves form-changed species to the declared entry.
	if idx, ok := roster.FindSpecies("Ogerpon"); !ok || idx != 1 {
		t.Fatalf("base form match failed: %d %v", idx, ok)
	}
	if _, ok := roster.FindSpecies("Amoonguss"); ok {
		t.Fatalf("unexpected match for absent species")
	}
}

func TestExtractRosters(t *testing.T) {
	log := "|showteam|p1|" + packedPair + "\n|start\n|turn|1\n"
	rosters := ExtractRosters(protocol.Records(log))
	if rosters["p1"].Len() != 2 {
		t.Fatalf("expected 2 creatures for p1, got %d", rosters["p1"].Len())
	}
	//1.- A side without a showteam record fails soft to an absent roster.
	if rosters["p2"].Len() != 0 {
		t.Fatalf("expected empty p2 roster")
	}
}
