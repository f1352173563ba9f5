// Package preview derives each side's team-selection choice and the roster
// ordering the engine settles on after selection.
package preview

import (
	"iter"
	"strconv"
	"strings"

	"battlerewind/rewinder/internal/protocol"
	"battlerewind/rewinder/internal/teams"
)

// DefaultBringCount is the number of creatures a side brings to battle when
// the format does not override it.
const DefaultBringCount = 4

// Appearances holds, per side, the species that ever occupied an active slot
// in first-appearance order.
type Appearances map[string][]string

// ScanAppearances walks switch and drag records once, recording the first
// time each species enters play for a side. The order is stable: the first
// appearance fixes the position permanently.
func ScanAppearances(records iter.Seq[protocol.Record]) Appearances {
	appearances := make(Appearances)
	seen := make(map[string]map[string]bool)
	for record := range records {
		switch record.Kind {
		case protocol.KindSwitch, protocol.KindDrag, protocol.KindReplace:
		default:
			continue
		}
		ref, ok := protocol.ParseSlotRef(record.Arg(0))
		if !ok {
			continue
		}
		details := protocol.ParseDetails(record.Arg(1))
		species := protocol.ToID(details.Species)
		if species == "" {
			continue
		}
		if seen[ref.Side] == nil {
			seen[ref.Side] = make(map[string]bool)
		}
		//1.- Only the first sighting of a species extends the appearance list.
		if seen[ref.Side][species] {
			continue
		}
		seen[ref.Side][species] = true
		appearances[ref.Side] = append(appearances[ref.Side], details.Species)
	}
	return appearances
}

// Selection is the resolved team-preview outcome for one side.
type Selection struct {
	// Choice is the engine command, e.g. "team 2413".
	Choice string
	// Order lists species identifiers in the post-selection roster order:
	// chosen creatures in appearance order, then unchosen declaration order.
	Order []string
}

// IndexOf returns the 1-based post-preview position of a species, matching
// exactly first and by base form second. Zero means not found.
func (s Selection) IndexOf(species string) int {
	want := protocol.ToID(species)
	for i, id := range s.Order {
		if id == want {
			return i + 1
		}
	}
	wantBase := protocol.ToID(protocol.BaseForm(species))
	for i, id := range s.Order {
		if protocol.ToID(protocol.BaseForm(id)) == wantBase {
			return i + 1
		}
	}
	return 0
}

// Resolve translates a side's appearance order and declared roster into the
// team-selection choice and the post-preview ordering.
func Resolve(roster teams.Roster, appeared []string, bringCount int) Selection {
	if bringCount <= 0 {
		bringCount = DefaultBringCount
	}
	chosen := make([]int, 0, bringCount)
	taken := make(map[int]bool)
	//1.- Bring the creatures that appeared, in appearance order, never
	// exceeding the format's bring count.
	for _, species := range appeared {
		if len(chosen) >= bringCount {
			break
		}
		index, ok := roster.FindSpecies(species)
		if !ok || taken[index] {
			continue
		}
		chosen = append(chosen, index)
		taken[index] = true
	}
	//2.- Pad from the front of the declaration when too few creatures appeared.
	for index := 0; index < roster.Len() && len(chosen) < bringCount; index++ {
		if taken[index] {
			continue
		}
		chosen = append(chosen, index)
		taken[index] = true
	}
	digits := make([]string, 0, len(chosen))
	order := make([]string, 0, roster.Len())
	for _, index := range chosen {
		digits = append(digits, strconv.Itoa(index+1))
		order = append(order, roster.Creatures[index].SpeciesID)
	}
	//3.- Unchosen creatures trail in their original declaration order.
	for index, creature := range roster.Creatures {
		if !taken[index] {
			order = append(order, creature.SpeciesID)
		}
	}
	return Selection{Choice: "team " + strings.Join(digits, ""), Order: order}
}
