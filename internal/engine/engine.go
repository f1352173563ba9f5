// Package engine declares the contract the replay driver expects from an
// injected battle simulator. The simulator owns damage calculation, move
// effects, and its RNG; the driver only borrows its mutable surface.
package engine

import (
	"fmt"

	"battlerewind/rewinder/internal/protocol"
)

// RequestKind enumerates the choice the engine is currently waiting on for a
// side.
type RequestKind string

const (
	RequestNone        RequestKind = ""
	RequestTeamPreview RequestKind = "teampreview"
	RequestMove        RequestKind = "move"
	RequestSwitch      RequestKind = "switch"
)

// Result reports how the engine handled a submitted choice. Rejection leaves
// the engine state unchanged and never aborts a replay.
type Result struct {
	Accepted bool
	Reason   string
}

// Rejected builds a rejection result with a formatted reason.
func Rejected(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Accepted is the canonical success result.
var Accepted = Result{Accepted: true}

// Creature is one roster member of a live engine side. The driver mutates
// these fields directly when applying patches.
type Creature struct {
	Ident     string
	Details   string
	SpeciesID string
	Species   string
	Level     int
	Gender    string
	HP        int
	MaxHP     int
	Status    string
	Fainted   bool
	Active    bool
	Position  int
	DeclIndex int
	TeraType  string
	Moves     []string
}

// Condition renders the creature's state in the engine's HP string dialect.
func (c *Creature) Condition() string {
	if c == nil {
		return "0 fnt"
	}
	if c.Fainted || c.HP <= 0 {
		return "0 fnt"
	}
	cond := fmt.Sprintf("%d/%d", c.HP, c.MaxHP)
	if c.Status != "" {
		cond += " " + c.Status
	}
	return cond
}

// Side is the live engine's view of one player.
type Side struct {
	ID   string
	Name string
	// Active holds one pointer per simultaneously active position; nil when
	// the slot is empty.
	Active []*Creature
	// Pokemon is the side's roster in the engine's current internal order.
	Pokemon []*Creature
	// Team is the roster position encoding mapping declaration order to
	// current positions, e.g. "123456".
	Team string
}

// FindBySpecies locates a roster member by species, exact identifier first
// and base form second. The returned index is 0-based.
func (s *Side) FindBySpecies(species string) (int, bool) {
	if s == nil {
		return 0, false
	}
	want := protocol.ToID(species)
	for i, creature := range s.Pokemon {
		if creature != nil && creature.SpeciesID == want {
			return i, true
		}
	}
	for i, creature := range s.Pokemon {
		if creature != nil && protocol.SameSpecies(creature.Species, species) {
			return i, true
		}
	}
	return 0, false
}

// FormatConfig parameterizes engine construction.
type FormatConfig struct {
	FormatID    string `json:"formatid"`
	Seed        string `json:"seed,omitempty"`
	ActiveCount int    `json:"active_count,omitempty"`
	BringCount  int    `json:"bring_count,omitempty"`
}

// SnapshotHook receives the engine's serialized state each time a turn
// completes, before any external corrections run.
type SnapshotHook func(turn int, snapshot []byte)

// Engine is the deterministic simulator surface the driver drives. Choose
// never panics on invalid input; it reports rejection instead.
type Engine interface {
	SetPlayer(side, name, packedTeam string) error
	Choose(side, choice string) Result
	UndoChoice(side string) error
	RequestState(side string) RequestKind
	MakeRequest(kind RequestKind) error
	ClearRequests()
	Turn() int
	ForceTurn(turn int)
	Ended() bool
	Winner() string
	ForceWin(side string) error
	Tie() error
	Reseed(seed string) error
	Side(id string) *Side
	Sides() []*Side
	InputLog() []string
	ToJSON() ([]byte, error)
	SetSnapshotHook(hook SnapshotHook)
	Restart(send func(lines ...string)) error
}

// Factory constructs engines for a session, either fresh or from a prior
// serialization.
type Factory interface {
	New(cfg FormatConfig) (Engine, error)
	FromJSON(data []byte) (Engine, error)
}

