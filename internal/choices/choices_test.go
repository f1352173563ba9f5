package choices

import (
	"strings"
	"testing"
)

const doublesPreamble = "|showteam|p1|Flutter Mane|||protosynthesis|moonblast,dazzlinggleam,shadowball,protect|||||50|,,,,,Fairy]Ogerpon-Wellspring|||waterabsorb|ivycudgel,hornleech,followme,spikyshield||F|||50|,,,,,Water]Chi-Yu|||beadsofruin|heatwave,snarl,overheat,protect|||||50|]Iron Hands|||quarkdrive|fakeout,drainpunch,wildcharge,protect|||||50|\n" +
	"|showteam|p2|Porygon2||eviolite|download|trickroom,icebeam,recover,protect|||||50|]Incineroar|||intimidate|fakeout,knockoff,partingshot,uturn|||||50|]Amoonguss|||regenerator|spore,pollenpuff,ragepowder,protect|||||50|]Dondozo|||unaware|wavecrash,orderup,earthquake,protect|||||50|]Tatsugiri|||commander|dracometeor,muddywater,icywind,protect|||||50|]Farigiraf|||armortail|psychic,foulplay,trickroom,protect|||||50|\n" +
	"|start\n" +
	"|switch|p1a: Flutter Mane|Flutter Mane, L50|100/100\n" +
	"|switch|p1b: Ogerpon|Ogerpon-Wellspring, L50, F|100/100\n" +
	"|switch|p2a: Porygon2|Porygon2, L50|100/100\n" +
	"|switch|p2b: Incineroar|Incineroar, L50, M|100/100\n"

func reconstruct(t *testing.T, log string) Result {
	t.Helper()
	return Reconstruct(log, 4)
}

func TestFirstTurnSpreadAttackAndMidTurnSwitch(t *testing.T) {
	log := doublesPreamble +
		"|turn|1\n" +
		"|switch|p2b: Amoonguss|Amoonguss, L50, M|100/100\n" +
		"|move|p1a: Flutter Mane|Dazzling Gleam|p2b: Amoonguss|[spread] p2a,p2b\n" +
		"|move|p1b: Ogerpon|Ivy Cudgel|p2b: Amoonguss\n" +
		"|move|p2a: Porygon2|Trick Room|\n" +
		"|upkeep\n" +
		"|turn|2\n"
	result := reconstruct(t, log)
	if len(result.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(result.Turns))
	}
	turn := result.Turns[0]
	//1.- Both p1 slots chose targeted moves against the opposing b slot.
	if turn.Choices["p1"] != "move dazzlinggleam 2, move ivycudgel 2" {
		t.Fatalf("unexpected p1 choice %q", turn.Choices["p1"])
	}
	//2.- Amoonguss sits third in p2's post-preview order (Porygon2, Incineroar, Amoonguss).
	if turn.Choices["p2"] != "move trickroom, switch 3" {
		t.Fatalf("unexpected p2 choice %q", turn.Choices["p2"])
	}
	if turn.Forced["p1"] != "" || turn.Forced["p2"] != "" {
		t.Fatalf("unexpected forced switches %+v", turn.Forced)
	}
}

func TestFlinchEmitsDefault(t *testing.T) {
	log := doublesPreamble +
		"|turn|1\n" +
		"|move|p1a: Flutter Mane|Moonblast|p2a: Porygon2\n" +
		"|move|p1b: Ogerpon|Follow Me|\n" +
		"|move|p2a: Porygon2|Ice Beam|p1b: Ogerpon\n" +
		"|cant|p2b: Incineroar|flinch\n" +
		"|upkeep\n" +
		"|turn|2\n"
	result := reconstruct(t, log)
	choice := result.Turns[0].Choices["p2"]
	parts := strings.Split(choice, ", ")
	if len(parts) != 2 {
		t.Fatalf("expected two slot entries, got %q", choice)
	}
	//1.- The flinched b slot degrades to the default placeholder.
	if parts[1] != "default" {
		t.Fatalf("expected default for slot b, got %q", parts[1])
	}
}

func TestFaintBeforeActingFillsDefaultAndForcesSwitch(t *testing.T) {
	log := doublesPreamble +
		"|turn|1\n" +
		"|move|p1b: Ogerpon|Ivy Cudgel|p2b: Incineroar\n" +
		"|-damage|p2b: Incineroar|0 fnt\n" +
		"|faint|p2b: Incineroar\n" +
		"|move|p1a: Flutter Mane|Protect|\n" +
		"|move|p2a: Porygon2|Trick Room|\n" +
		"|upkeep\n" +
		"|switch|p2b: Amoonguss|Amoonguss, L50, M|100/100\n" +
		"|turn|2\n"
	result := reconstruct(t, log)
	turn := result.Turns[0]
	parts := strings.Split(turn.Choices["p2"], ", ")
	if len(parts) != 2 {
		t.Fatalf("expected exactly two comma-joined entries, got %q", turn.Choices["p2"])
	}
	if parts[1] != "default" {
		t.Fatalf("expected default for the KO'd slot, got %q", parts[1])
	}
	//1.- The between-turns replacement produces a forced switch keyed to slot b.
	if turn.Forced["p2"] != "pass, switch 3" {
		t.Fatalf("unexpected forced string %q", turn.Forced["p2"])
	}
	if turn.ForcedSpecies["p2"]["p2b"] != "amoonguss" {
		t.Fatalf("unexpected forced species map %+v", turn.ForcedSpecies["p2"])
	}
	if turn.Forced["p1"] != "" {
		t.Fatalf("no p1 slot fainted, forced must be empty, got %q", turn.Forced["p1"])
	}
}

func TestMidTurnTerastallizeFlagsTheMove(t *testing.T) {
	log := doublesPreamble +
		"|turn|1\n" +
		"|-terastallize|p1a: Flutter Mane|Fairy\n" +
		"|move|p1a: Flutter Mane|Dazzling Gleam|p2b: Incineroar\n" +
		"|move|p1b: Ogerpon|Follow Me|\n" +
		"|move|p2a: Porygon2|Recover|\n" +
		"|move|p2b: Incineroar|Knock Off|p1a: Flutter Mane\n" +
		"|upkeep\n" +
		"|turn|2\n"
	result := reconstruct(t, log)
	parts := strings.Split(result.Turns[0].Choices["p1"], ", ")
	if parts[0] != "move dazzlinggleam 2 terastallize" {
		t.Fatalf("expected terastallize suffix, got %q", parts[0])
	}
	//1.- The ally slot never declared tera so its move stays untouched.
	if parts[1] != "move followme" {
		t.Fatalf("unexpected ally move %q", parts[1])
	}
}

func TestTerastallizeAfterMoveRecordStillFlags(t *testing.T) {
	log := doublesPreamble +
		"|turn|1\n" +
		"|move|p1a: Flutter Mane|Moonblast|p2a: Porygon2\n" +
		"|-terastallize|p1a: Flutter Mane|Fairy\n" +
		"|move|p1b: Ogerpon|Follow Me|\n" +
		"|move|p2a: Porygon2|Recover|\n" +
		"|move|p2b: Incineroar|Fake Out|p1b: Ogerpon\n" +
		"|upkeep\n" +
		"|turn|2\n"
	result := reconstruct(t, log)
	if !strings.HasPrefix(result.Turns[0].Choices["p1"], "move moonblast 1 terastallize") {
		t.Fatalf("late tera record must still flag the move, got %q", result.Turns[0].Choices["p1"])
	}
}

func TestCommanderAbsorptionSuppressesChoices(t *testing.T) {
	//1.- p2 leads with the Dondozo/Tatsugiri pair so Commander fires on entry.
	log := strings.Replace(strings.Replace(doublesPreamble,
		"|switch|p2a: Porygon2|Porygon2, L50|100/100\n",
		"|switch|p2a: Dondozo|Dondozo, L50|100/100\n", 1),
		"|switch|p2b: Incineroar|Incineroar, L50, M|100/100\n",
		"|switch|p2b: Tatsugiri|Tatsugiri, L50|100/100\n|-activate|p2b: Tatsugiri|ability: Commander|[of] p2a: Dondozo\n", 1) +
		"|turn|1\n" +
		"|move|p2a: Dondozo|Wave Crash|p1a: Flutter Mane\n" +
		"|move|p1a: Flutter Mane|Moonblast|p2a: Dondozo\n" +
		"|move|p1b: Ogerpon|Follow Me|\n" +
		"|upkeep\n" +
		"|turn|2\n" +
		"|move|p2a: Dondozo|Order Up|p1a: Flutter Mane\n" +
		"|move|p1a: Flutter Mane|Moonblast|p2a: Dondozo\n" +
		"|move|p1b: Ogerpon|Ivy Cudgel|p2a: Dondozo\n" +
		"|-damage|p2a: Dondozo|0 fnt\n" +
		"|faint|p2a: Dondozo\n" +
		"|upkeep\n" +
		"|switch|p2a: Amoonguss|Amoonguss, L50, M|100/100\n" +
		"|turn|3\n" +
		"|move|p2a: Amoonguss|Spore|p1a: Flutter Mane\n" +
		"|move|p2b: Tatsugiri|Draco Meteor|p1a: Flutter Mane\n" +
		"|move|p1a: Flutter Mane|Protect|\n" +
		"|move|p1b: Ogerpon|Follow Me|\n" +
		"|upkeep\n" +
		"|turn|4\n"
	result := reconstruct(t, log)
	//2.- Every turn under absorption emits a single commanding-exempt entry.
	turn1 := result.Turns[0]
	if got := turn1.Choices["p2"]; got != "move wavecrash 1" {
		t.Fatalf("expected a single entry while absorbed, got %q", got)
	}
	turn2 := result.Turns[1]
	if got := turn2.Choices["p2"]; got != "move orderup 1" {
		t.Fatalf("expected a single entry while absorbed, got %q", got)
	}
	//3.- Dondozo's faint releases the commander; turn 3 has both slots again.
	turn3 := result.Turns[2]
	parts := strings.Split(turn3.Choices["p2"], ", ")
	if len(parts) != 2 {
		t.Fatalf("expected both slots after release, got %q", turn3.Choices["p2"])
	}
	//4.- The forced replacement for the fainted Dondozo rides on turn 2.
	if turn2.Forced["p2"] == "" {
		t.Fatalf("expected forced switch on turn 2")
	}
}

func TestPivotSwitchDoesNotDoubleAct(t *testing.T) {
	log := doublesPreamble +
		"|turn|1\n" +
		"|move|p2b: Incineroar|Parting Shot|p1a: Flutter Mane\n" +
		"|switch|p2b: Amoonguss|Amoonguss, L50, M|100/100\n" +
		"|move|p1a: Flutter Mane|Moonblast|p2a: Porygon2\n" +
		"|move|p1b: Ogerpon|Follow Me|\n" +
		"|move|p2a: Porygon2|Trick Room|\n" +
		"|upkeep\n" +
		"|turn|2\n"
	result := reconstruct(t, log)
	parts := strings.Split(result.Turns[0].Choices["p2"], ", ")
	if len(parts) != 2 {
		t.Fatalf("expected two entries, got %q", result.Turns[0].Choices["p2"])
	}
	//1.- The pivot move is the choice; the trailing switch record is its consequence.
	if parts[1] != "move partingshot 1" {
		t.Fatalf("unexpected slot b entry %q", parts[1])
	}
}

func TestDragIsPassive(t *testing.T) {
	log := doublesPreamble +
		"|turn|1\n" +
		"|move|p1a: Flutter Mane|Moonblast|p2a: Porygon2\n" +
		"|move|p1b: Ogerpon|Follow Me|\n" +
		"|move|p2a: Porygon2|Trick Room|\n" +
		"|drag|p2b: Dondozo|Dondozo, L50|100/100\n" +
		"|upkeep\n" +
		"|turn|2\n"
	result := reconstruct(t, log)
	parts := strings.Split(result.Turns[0].Choices["p2"], ", ")
	//1.- The dragged slot emitted no action, so the flush fills a default.
	if parts[1] != "default" {
		t.Fatalf("expected default for dragged slot, got %q", parts[1])
	}
}

func TestEmptyLogYieldsNothing(t *testing.T) {
	result := reconstruct(t, "")
	if len(result.Turns) != 0 {
		t.Fatalf("expected no turns, got %d", len(result.Turns))
	}
	if result.Previews["p1"].Choice != "team " {
		t.Fatalf("unexpected preview %q", result.Previews["p1"].Choice)
	}
}

func TestLoneTurnFlushesDefaults(t *testing.T) {
	log := doublesPreamble + "|turn|1\n"
	result := reconstruct(t, log)
	if len(result.Turns) != 1 {
		t.Fatalf("expected one flushed turn, got %d", len(result.Turns))
	}
	//1.- With no events at all, every active slot degrades to default.
	if result.Turns[0].Choices["p1"] != "default, default" {
		t.Fatalf("unexpected p1 choice %q", result.Turns[0].Choices["p1"])
	}
	if result.Turns[0].Choices["p2"] != "default, default" {
		t.Fatalf("unexpected p2 choice %q", result.Turns[0].Choices["p2"])
	}
}

func TestForfeitFlushesWithoutForcedSwitches(t *testing.T) {
	log := doublesPreamble +
		"|turn|1\n" +
		"|move|p1a: Flutter Mane|Moonblast|p2a: Porygon2\n" +
		"|-message|OpponentName forfeited.\n" +
		"|switch|p2a: Amoonguss|Amoonguss, L50, M|100/100\n"
	result := reconstruct(t, log)
	if len(result.Turns) != 1 {
		t.Fatalf("expected the final turn flushed, got %d", len(result.Turns))
	}
	//1.- Nothing after the forfeit may synthesize forced switches.
	if result.Turns[0].Forced["p2"] != "" {
		t.Fatalf("unexpected forced switch after forfeit %q", result.Turns[0].Forced["p2"])
	}
}

func TestWinnerRecorded(t *testing.T) {
	log := doublesPreamble +
		"|turn|1\n" +
		"|move|p1a: Flutter Mane|Moonblast|p2a: Porygon2\n" +
		"|win|Alice\n"
	result := reconstruct(t, log)
	if result.Winner != "Alice" {
		t.Fatalf("unexpected winner %q", result.Winner)
	}
	if len(result.Turns) != 1 {
		t.Fatalf("expected final turn flush on win, got %d", len(result.Turns))
	}
}
