// Package logdump reconstructs a battle log offline and renders the result
// as one inspectable report: previews, per-turn choices, forced switches,
// and state patches.
package logdump

import (
	"fmt"
	"os"

	"battlerewind/rewinder/internal/choices"
	"battlerewind/rewinder/internal/driver"
	"battlerewind/rewinder/internal/patches"
	"battlerewind/rewinder/internal/preview"
	"battlerewind/rewinder/internal/protocol"
	"battlerewind/rewinder/internal/replay"
	"battlerewind/rewinder/internal/teams"
)

// Report is the full offline reconstruction of one log.
type Report struct {
	FormatID  string                       `json:"format_id"`
	Previews  map[string]preview.Selection `json:"previews"`
	Turns     []choices.Turn               `json:"turns"`
	Patches   []patches.TurnPatch          `json:"patches"`
	Bundles   []driver.TurnBundle          `json:"bundles"`
	TurnCount int                          `json:"turn_count"`
	Winner    string                       `json:"winner,omitempty"`
	Rosters   map[string]int               `json:"roster_sizes"`
}

// Build runs the whole parsing pipeline over a log.
func Build(logText string, bringCount int) Report {
	result := choices.Reconstruct(logText, bringCount)
	turnPatches, turnCount := patches.Extract(protocol.Records(logText))
	rosters := teams.ExtractRosters(protocol.Records(logText))
	report := Report{
		FormatID:  replay.InferFormatID(protocol.Records(logText)),
		Previews:  result.Previews,
		Turns:     result.Turns,
		Patches:   turnPatches,
		Bundles:   replay.Bundles(result, turnPatches),
		TurnCount: turnCount,
		Winner:    result.Winner,
		Rosters:   make(map[string]int, len(rosters)),
	}
	for side, roster := range rosters {
		report.Rosters[side] = roster.Len()
	}
	return report
}

// BuildFromFile loads a log file and reconstructs it.
func BuildFromFile(path string, bringCount int) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read log: %w", err)
	}
	return Build(string(data), bringCount), nil
}
