package logdump

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleLog = "|showteam|p1|Chi-Yu|||beadsofruin|heatwave,snarl|||||50|]Iron Hands|||quarkdrive|drainpunch|||||50|\n" +
	"|showteam|p2|Porygon2||eviolite|download|trickroom,icebeam|||||50|]Incineroar|||intimidate|knockoff,uturn|||||50|\n" +
	"|start\n" +
	"|switch|p1a: Chi-Yu|Chi-Yu, L50|100/100\n" +
	"|switch|p2a: Porygon2|Porygon2, L50|100/100\n" +
	"|turn|1\n" +
	"|move|p1a: Chi-Yu|Heat Wave|p2a: Porygon2\n" +
	"|-damage|p2a: Porygon2|60/191\n" +
	"|move|p2a: Porygon2|Trick Room|\n" +
	"|upkeep\n" +
	"|turn|2\n" +
	"|move|p1a: Chi-Yu|Heat Wave|p2a: Porygon2\n" +
	"|-damage|p2a: Porygon2|0 fnt\n" +
	"|faint|p2a: Porygon2\n" +
	"|win|Alice\n"

func TestBuildTiesTheParsersTogether(t *testing.T) {
	report := Build(sampleLog, 4)
	if report.TurnCount != 2 {
		t.Fatalf("expected 2 turns, got %d", report.TurnCount)
	}
	if len(report.Turns) != 2 || len(report.Patches) != 2 {
		t.Fatalf("expected choices and patches for both turns, got %d/%d", len(report.Turns), len(report.Patches))
	}
	if report.Winner != "Alice" {
		t.Fatalf("unexpected winner %q", report.Winner)
	}
	//1.- Roster sizes reflect the showteam declarations.
	if report.Rosters["p1"] != 2 || report.Rosters["p2"] != 2 {
		t.Fatalf("unexpected roster sizes %+v", report.Rosters)
	}
	if report.Turns[0].Choices["p1"] != "move heatwave 1" {
		t.Fatalf("unexpected p1 choice %q", report.Turns[0].Choices["p1"])
	}
	//2.- The report carries driver-ready bundles zipped from choices and patches.
	if len(report.Bundles) != 2 {
		t.Fatalf("expected a bundle per turn, got %d", len(report.Bundles))
	}
	if report.Bundles[0].P1Choice != "move heatwave 1" || report.Bundles[0].Patch.Turn != 1 {
		t.Fatalf("bundle not zipped from parser output: %+v", report.Bundles[0])
	}
	if report.FormatID != "gen9ou" {
		t.Fatalf("unexpected inferred format %q", report.FormatID)
	}
}

func TestBuildFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "battle.log")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	report, err := BuildFromFile(path, 4)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if report.TurnCount != 2 {
		t.Fatalf("expected 2 turns, got %d", report.TurnCount)
	}
	if _, err := BuildFromFile(filepath.Join(t.TempDir(), "missing.log"), 4); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
