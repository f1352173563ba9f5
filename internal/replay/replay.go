// Package replay assembles the parsing pipeline and the driver into one
// pass: it reconstructs a recorded log, zips the per-turn choices with the
// per-turn patches into turn bundles, and feeds them through a driver so the
// session ends with a resumable snapshot for every turn of the recording.
package replay

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"battlerewind/rewinder/internal/choices"
	"battlerewind/rewinder/internal/driver"
	"battlerewind/rewinder/internal/engine"
	"battlerewind/rewinder/internal/patches"
	"battlerewind/rewinder/internal/protocol"
	"battlerewind/rewinder/internal/teams"
)

// ErrNoRosters is returned when the log declares no team for either side.
var ErrNoRosters = errors.New("log carries no showteam declarations")

// Options parameterize a reconstruction run.
type Options struct {
	// FormatID overrides format inference from the log's slot usage.
	FormatID string
	// Seed is handed to the engine constructor verbatim.
	Seed string
	// BringCount overrides the format's bring-to-battle count.
	BringCount int
	// PlayerNames overrides the display names registered per side.
	PlayerNames map[string]string
}

// Outcome is the result of driving a full recorded game.
type Outcome struct {
	FormatID  string
	TurnCount int
	Winner    string
	Bundles   []driver.TurnBundle
	Snapshots [][]byte
}

// Bundles zips reconstructed choices with extracted patches into the
// driver's per-turn input, keyed by turn number.
func Bundles(result choices.Result, turnPatches []patches.TurnPatch) []driver.TurnBundle {
	byTurn := make(map[int]patches.TurnPatch, len(turnPatches))
	for _, patch := range turnPatches {
		byTurn[patch.Turn] = patch
	}
	bundles := make([]driver.TurnBundle, 0, len(result.Turns))
	for _, turn := range result.Turns {
		//1.- Choices and patches describe the same turn from independent
		// walks; the turn number is the join key.
		bundles = append(bundles, driver.TurnBundle{
			P1Choice:        turn.Choices["p1"],
			P2Choice:        turn.Choices["p2"],
			Patch:           byTurn[turn.Number],
			ForcedP1:        turn.Forced["p1"],
			ForcedP2:        turn.Forced["p2"],
			ForcedP1Species: turn.ForcedSpecies["p1"],
			ForcedP2Species: turn.ForcedSpecies["p2"],
		})
	}
	return bundles
}

// InferFormatID guesses the format from the log's slot usage: any b-position
// activity means a doubles battle.
func InferFormatID(records iter.Seq[protocol.Record]) string {
	for record := range records {
		switch record.Kind {
		case protocol.KindSwitch, protocol.KindDrag, protocol.KindMove, protocol.KindCant:
		default:
			continue
		}
		if ref, ok := protocol.ParseSlotRef(record.Arg(0)); ok && ref.Position == 'b' {
			return "gen9doublesou"
		}
	}
	return "gen9ou"
}

// Run reconstructs a complete recorded game and replays it through the
// driver: start, player registration, team preview, then one ReplayTurn per
// recorded turn. The driver's snapshot array afterwards resumes any turn.
func Run(d *driver.Driver, logText string, opts Options) (Outcome, error) {
	if d == nil {
		return Outcome{}, errors.New("driver must be provided")
	}
	rosters := teams.ExtractRosters(protocol.Records(logText))
	if rosters["p1"].Len() == 0 && rosters["p2"].Len() == 0 {
		return Outcome{}, ErrNoRosters
	}
	formatID := opts.FormatID
	if formatID == "" {
		formatID = InferFormatID(protocol.Records(logText))
	}
	bringCount := opts.BringCount
	if bringCount <= 0 {
		bringCount = defaultBringCount(formatID)
	}

	result := choices.Reconstruct(logText, bringCount)
	turnPatches, turnCount := patches.Extract(protocol.Records(logText))
	bundles := Bundles(result, turnPatches)

	if err := d.Start(engine.FormatConfig{FormatID: formatID, Seed: opts.Seed, BringCount: bringCount}); err != nil {
		return Outcome{}, err
	}
	for _, side := range choices.Sides {
		name := opts.PlayerNames[side]
		if name == "" {
			name = side
		}
		//1.- The packed team is re-encoded from the extracted roster so the
		// engine sees exactly what the recording declared.
		if err := d.Player(side, name, teams.Pack(rosters[side].Creatures)); err != nil {
			return Outcome{}, fmt.Errorf("register %s: %w", side, err)
		}
	}
	for _, side := range choices.Sides {
		if res := d.Choose(side, result.Previews[side].Choice); !res.Accepted {
			return Outcome{}, fmt.Errorf("team preview for %s rejected: %s", side, res.Reason)
		}
	}
	//2.- Every recorded turn goes through the full replay procedure; per-turn
	// anomalies are absorbed by the driver, so errors here are structural.
	for index, bundle := range bundles {
		if err := d.ReplayTurn(bundle); err != nil {
			return Outcome{}, fmt.Errorf("replay turn %d: %w", index+1, err)
		}
	}
	return Outcome{
		FormatID:  formatID,
		TurnCount: turnCount,
		Winner:    result.Winner,
		Bundles:   bundles,
		Snapshots: d.Snapshots(),
	}, nil
}

func defaultBringCount(formatID string) int {
	//1.- Doubles formats bring four; singles bring the full roster of six.
	lowered := strings.ToLower(formatID)
	if strings.Contains(lowered, "doubles") || strings.Contains(lowered, "vgc") {
		return 4
	}
	return 6
}
