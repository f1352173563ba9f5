package protocol

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SlotRef names one active position: side, position letter, and the nickname
// the log attached to the occupant.
type SlotRef struct {
	Side     string
	Position byte
	Nickname string
}

// Slot returns the combined slot identifier, e.g. "p1a".
func (s SlotRef) Slot() string {
	if s.Side == "" || s.Position == 0 {
		return s.Side
	}
	return s.Side + string(s.Position)
}

// SideIdent returns the side-scoped identity string, e.g. "p1: Garchomp".
func (s SlotRef) SideIdent() string {
	return s.Side + ": " + s.Nickname
}

// ParseSlotRef splits an identifier of the form "p1a: Nickname". The position
// letter is optional for side-scoped identifiers like "p1: Nickname".
func ParseSlotRef(ident string) (SlotRef, bool) {
	head, nick, found := strings.Cut(ident, ": ")
	if !found {
		head = strings.TrimSpace(ident)
	}
	head = strings.TrimSpace(head)
	if len(head) < 2 || head[0] != 'p' {
		return SlotRef{}, false
	}
	if head[1] < '1' || head[1] > '4' {
		return SlotRef{}, false
	}
	ref := SlotRef{Side: head[:2], Nickname: strings.TrimSpace(nick)}
	//1.- A trailing letter beyond the side digits names the active position.
	if len(head) > 2 {
		pos := head[2]
		if pos < 'a' || pos > 'd' {
			return SlotRef{}, false
		}
		ref.Position = pos
	}
	return ref, true
}

// Details is the parsed species detail string that accompanies switch, drag,
// and detailschange records: "Species, Lxx, Gender[, shiny][, tera:Type]".
type Details struct {
	Species  string
	Level    int
	Gender   string
	Shiny    bool
	TeraType string
}

// ParseDetails decodes a species detail string. Missing level defaults to 100.
func ParseDetails(raw string) Details {
	details := Details{Level: 100}
	for i, part := range strings.Split(raw, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		if i == 0 {
			details.Species = token
			continue
		}
		switch {
		case token == "M" || token == "F":
			details.Gender = token
		case token == "shiny":
			details.Shiny = true
		case strings.HasPrefix(token, "tera:"):
			details.TeraType = strings.TrimSpace(strings.TrimPrefix(token, "tera:"))
		case len(token) > 1 && token[0] == 'L':
			if level, err := strconv.Atoi(token[1:]); err == nil {
				details.Level = level
			}
		}
	}
	return details
}

// Condition is a parsed HP string: "cur/max[ status]", "0 fnt", or blank.
type Condition struct {
	Percent int
	Fainted bool
	Status  string
}

// ParseCondition decodes an HP string into a percentage condition. Blank and
// "0 fnt" strings both collapse to a fainted zero.
func ParseCondition(raw string) Condition {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Condition{Percent: 0, Fainted: true}
	}
	hpPart := trimmed
	tail := ""
	if idx := strings.IndexByte(trimmed, ' '); idx >= 0 {
		hpPart = trimmed[:idx]
		tail = strings.TrimSpace(trimmed[idx+1:])
	}
	if tail == "fnt" || hpPart == "0" {
		return Condition{Percent: 0, Fainted: true}
	}
	cond := Condition{Status: tail}
	cur, max, found := strings.Cut(hpPart, "/")
	if !found {
		return cond
	}
	curValue, err1 := strconv.Atoi(cur)
	maxValue, err2 := strconv.Atoi(max)
	if err1 != nil || err2 != nil || maxValue <= 0 {
		return cond
	}
	//1.- Normalize raw HP to an integral percentage so divergent max HP values compare.
	cond.Percent = int(math.Round(100 * float64(curValue) / float64(maxValue)))
	return cond
}

// PercentToHP converts a patch percentage back to raw hit points, clamped to
// [1, maxHP] for living creatures and 0 for fainted ones.
func PercentToHP(percent, maxHP int, fainted bool) int {
	if fainted {
		return 0
	}
	hp := int(math.Round(float64(percent) * float64(maxHP) / 100))
	if hp < 1 {
		hp = 1
	}
	if hp > maxHP {
		hp = maxHP
	}
	return hp
}

var markStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// ToID canonicalizes a display name into a lowercase alphanumeric identifier,
// folding accented characters so "Flabébé" becomes "flabebe".
func ToID(name string) string {
	folded, _, err := transform.String(markStripper, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BaseForm trims the form suffix from a hyphenated species name, so
// "Ogerpon-Wellspring" and "Ogerpon" share the identifier "ogerpon".
func BaseForm(species string) string {
	if idx := strings.IndexByte(species, '-'); idx >= 0 {
		return species[:idx]
	}
	return species
}

// SameSpecies reports whether two species names refer to the same creature,
// first by exact identifier and then by base-form identifier.
func SameSpecies(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if ToID(a) == ToID(b) {
		return true
	}
	return ToID(BaseForm(a)) == ToID(BaseForm(b))
}
