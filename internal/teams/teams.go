// Package teams decodes and re-encodes the engine's packed team format and
// tracks each side's declared roster in encounter order.
package teams

import (
	"iter"
	"strconv"
	"strings"

	"battlerewind/rewinder/internal/protocol"
)

// Creature is one declared team member. Fields beyond the battle-relevant
// ones are carried verbatim so a roster can be re-packed losslessly.
type Creature struct {
	Nickname        string
	Species         string
	SpeciesID       string
	Item            string
	Ability         string
	Moves           []string
	Nature          string
	EVs             string
	Gender          string
	IVs             string
	Shiny           bool
	Level           int
	Happiness       string
	Pokeball        string
	HiddenPowerType string
	Gigantamax      bool
	DynamaxLevel    string
	TeraType        string
	ShowteamIndex   int
}

// DisplayName returns the name the event log uses for this creature.
func (c Creature) DisplayName() string {
	if c.Nickname != "" {
		return c.Nickname
	}
	return c.Species
}

// Roster is a side's declared team in declaration order.
type Roster struct {
	Side      string
	Creatures []Creature
}

// Len reports the number of declared creatures.
func (r Roster) Len() int { return len(r.Creatures) }

// FindSpecies locates a creature by species name, matching the exact
// identifier first and the base form second. The returned index is 0-based.
func (r Roster) FindSpecies(species string) (int, bool) {
	want := protocol.ToID(species)
	//1.- Prefer the exact identifier so form suffixes stay significant.
	for i, creature := range r.Creatures {
		if protocol.ToID(creature.Species) == want {
			return i, true
		}
	}
	//2.- Fall back to the base form to absorb mid-battle form changes.
	wantBase := protocol.ToID(protocol.BaseForm(species))
	for i, creature := range r.Creatures {
		if protocol.ToID(protocol.BaseForm(creature.Species)) == wantBase {
			return i, true
		}
	}
	return 0, false
}

// Unpack decodes a packed team declaration into creature records. Species
// entries are ]-delimited with |-delimited fields inside.
func Unpack(packed string) []Creature {
	trimmed := strings.TrimSpace(packed)
	if trimmed == "" {
		return nil
	}
	entries := strings.Split(trimmed, "]")
	creatures := make([]Creature, 0, len(entries))
	for index, entry := range entries {
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "|")
		field := func(i int) string {
			if i < len(fields) {
				return fields[i]
			}
			return ""
		}
		creature := Creature{
			Nickname:      field(0),
			Species:       field(1),
			Item:          field(2),
			Ability:       field(3),
			Nature:        field(5),
			EVs:           field(6),
			Gender:        field(7),
			IVs:           field(8),
			Shiny:         field(9) == "S",
			Level:         100,
			ShowteamIndex: index,
		}
		//1.- An empty species field means the nickname is the species name.
		if creature.Species == "" {
			creature.Species = creature.Nickname
		}
		creature.SpeciesID = protocol.ToID(creature.Species)
		if moves := field(4); moves != "" {
			creature.Moves = strings.Split(moves, ",")
		}
		if level := field(10); level != "" {
			if value, err := strconv.Atoi(level); err == nil {
				creature.Level = value
			}
		}
		//2.- The trailing field packs happiness through tera type comma-joined.
		extras := strings.Split(field(11), ",")
		extra := func(i int) string {
			if i < len(extras) {
				return extras[i]
			}
			return ""
		}
		creature.Happiness = extra(0)
		creature.Pokeball = extra(1)
		creature.HiddenPowerType = extra(2)
		creature.Gigantamax = extra(3) == "G"
		creature.DynamaxLevel = extra(4)
		creature.TeraType = extra(5)
		creatures = append(creatures, creature)
	}
	return creatures
}

// Pack re-encodes creature records into the packed team format.
func Pack(creatures []Creature) string {
	entries := make([]string, 0, len(creatures))
	for _, creature := range creatures {
		species := creature.Species
		//1.- Omit the species field when it matches the nickname exactly.
		if species == creature.Nickname {
			species = ""
		}
		shiny := ""
		if creature.Shiny {
			shiny = "S"
		}
		level := ""
		if creature.Level != 100 {
			level = strconv.Itoa(creature.Level)
		}
		gmax := ""
		if creature.Gigantamax {
			gmax = "G"
		}
		tail := strings.Join([]string{creature.Happiness, creature.Pokeball, creature.HiddenPowerType, gmax, creature.DynamaxLevel, creature.TeraType}, ",")
		//2.- A tail of empty segments collapses so minimal teams stay minimal.
		if tail == ",,,,," {
			tail = ""
		}
		fields := []string{
			creature.Nickname,
			species,
			creature.Item,
			creature.Ability,
			strings.Join(creature.Moves, ","),
			creature.Nature,
			creature.EVs,
			creature.Gender,
			creature.IVs,
			shiny,
			level,
			tail,
		}
		entries = append(entries, strings.Join(fields, "|"))
	}
	return strings.Join(entries, "]")
}

// ExtractRosters collects each side's declared roster from showteam records.
// Sides without a showteam record come back with an empty roster.
func ExtractRosters(records iter.Seq[protocol.Record]) map[string]Roster {
	rosters := make(map[string]Roster)
	for record := range records {
		if record.Kind != protocol.KindShowTeam {
			continue
		}
		side := record.Arg(0)
		if side == "" {
			continue
		}
		//1.- The first declaration per side wins so duplicates cannot reorder teams.
		if _, exists := rosters[side]; exists {
			continue
		}
		//2.- The tokenizer splits the packed team on its own '|' field separators; rejoin them.
		rosters[side] = Roster{Side: side, Creatures: Unpack(strings.Join(record.Args[1:], "|"))}
	}
	return rosters
}
