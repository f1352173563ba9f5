// Package driver feeds reconstructed choices into a live battle engine and
// patches its state after every turn so the externally visible session
// matches the recorded game despite random-number divergence.
package driver

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"battlerewind/rewinder/internal/engine"
	"battlerewind/rewinder/internal/logging"
	"battlerewind/rewinder/internal/patches"
	"battlerewind/rewinder/internal/protocol"
	"battlerewind/rewinder/internal/snapshot"
)

var (
	// ErrNotStarted is returned when a command arrives before start.
	ErrNotStarted = errors.New("no engine started")
	// ErrNoSnapshot is returned when a jump target has no usable snapshot.
	ErrNoSnapshot = errors.New("no snapshot available")
)

// TurnBundle carries everything needed to replay one turn end-to-end.
type TurnBundle struct {
	P1Choice        string            `json:"p1_choice"`
	P2Choice        string            `json:"p2_choice"`
	Patch           patches.TurnPatch `json:"patch"`
	ForcedP1        string            `json:"forced_p1,omitempty"`
	ForcedP2        string            `json:"forced_p2,omitempty"`
	ForcedP1Species map[string]string `json:"forced_p1_species,omitempty"`
	ForcedP2Species map[string]string `json:"forced_p2_species,omitempty"`
}

// ExportBundle is the full session state handed back by exportstate.
type ExportBundle struct {
	FormatID    string            `json:"format_id"`
	Turn        int               `json:"turn"`
	State       json.RawMessage   `json:"state"`
	StateByTurn []json.RawMessage `json:"state_by_turn"`
	Log         []string          `json:"log"`
}

// Option configures optional driver behaviour at construction time.
type Option func(*Driver)

// WithLogger overrides the logger used for per-turn diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.log = logger
		}
	}
}

// WithSend wires the output channel responses are written to.
func WithSend(send func(tag string, lines ...string)) Option {
	return func(d *Driver) {
		d.send = send
	}
}

// WithSnapshotWindow bounds the backward snapshot search during repairs.
func WithSnapshotWindow(window int) Option {
	return func(d *Driver) {
		if window > 0 {
			d.patcher.Window = window
		}
	}
}

// WithAutoResolveLimit caps residual switch-request resolution per turn.
func WithAutoResolveLimit(limit int) Option {
	return func(d *Driver) {
		if limit > 0 {
			d.autoResolveLimit = limit
		}
	}
}

// Driver owns one live engine and its per-turn snapshot array.
type Driver struct {
	log              *logging.Logger
	factory          engine.Factory
	eng              engine.Engine
	cfg              engine.FormatConfig
	snapshots        [][]byte
	packedTeams      map[string]string
	outputLog        []string
	patcher          snapshot.Patcher
	autoResolveLimit int
	send             func(tag string, lines ...string)
}

// New constructs a driver bound to an engine factory.
func New(factory engine.Factory, opts ...Option) *Driver {
	driver := &Driver{
		log:              logging.NewTestLogger(),
		factory:          factory,
		packedTeams:      make(map[string]string),
		patcher:          snapshot.Patcher{Window: snapshot.DefaultWindow},
		autoResolveLimit: 10,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(driver)
		}
	}
	return driver
}

// Start instantiates the engine with the provided format configuration.
func (d *Driver) Start(cfg engine.FormatConfig) error {
	if d == nil {
		return errors.New("driver is nil")
	}
	if d.factory == nil {
		return errors.New("no engine factory configured")
	}
	eng, err := d.factory.New(cfg)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	d.cfg = cfg
	d.snapshots = nil
	d.outputLog = nil
	d.adopt(eng)
	return nil
}

// Player registers a side with the engine and retains its packed team.
func (d *Driver) Player(side, name, packedTeam string) error {
	if d == nil || d.eng == nil {
		return ErrNotStarted
	}
	if err := d.eng.SetPlayer(side, name, packedTeam); err != nil {
		return err
	}
	d.packedTeams[side] = packedTeam
	return nil
}

// Choose submits a raw choice string, used for team preview and manual play.
func (d *Driver) Choose(side, choice string) engine.Result {
	if d == nil || d.eng == nil {
		return engine.Rejected("no engine started")
	}
	return d.eng.Choose(side, choice)
}

// Undo retracts a side's pending choice.
func (d *Driver) Undo(side string) error {
	if d == nil || d.eng == nil {
		return ErrNotStarted
	}
	return d.eng.UndoChoice(side)
}

// Engine exposes the live engine for session-level commands.
func (d *Driver) Engine() engine.Engine {
	if d == nil {
		return nil
	}
	return d.eng
}

// PackedTeam returns the packed team registered for a side.
func (d *Driver) PackedTeam(side string) string {
	if d == nil {
		return ""
	}
	return d.packedTeams[side]
}

// OutputLog returns a copy of the raw output emitted so far.
func (d *Driver) OutputLog() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.outputLog...)
}

// Snapshots hands the snapshot array to the caller for read-only resumption.
func (d *Driver) Snapshots() [][]byte {
	if d == nil {
		return nil
	}
	out := make([][]byte, len(d.snapshots))
	for i, snap := range d.snapshots {
		out[i] = append([]byte(nil), snap...)
	}
	return out
}

// ReplayTurn processes a single recorded turn end-to-end: submit choices,
// resolve forced switches, auto-resolve residuals, force progress if stuck,
// apply the state patch, resync the stale snapshot, and re-prime requests.
func (d *Driver) ReplayTurn(bundle TurnBundle) error {
	if d == nil || d.eng == nil {
		return ErrNotStarted
	}
	turnBefore := d.eng.Turn()

	//1.- Submit both sides' reconstructed choices; rejection is non-fatal
	// because the patch erases whatever the refused choice would have done.
	for _, submission := range []struct{ side, choice string }{{"p1", bundle.P1Choice}, {"p2", bundle.P2Choice}} {
		side, choice := submission.side, submission.choice
		if strings.TrimSpace(choice) == "" {
			continue
		}
		if result := d.eng.Choose(side, choice); !result.Accepted {
			d.log.Debug("choice rejected",
				logging.String("side", side),
				logging.String("choice", choice),
				logging.String("reason", result.Reason))
		}
	}

	//2.- Resolve forced switches against the engine's current roster order.
	d.resolveForced("p1", bundle.ForcedP1, bundle.ForcedP1Species)
	d.resolveForced("p2", bundle.ForcedP2, bundle.ForcedP2Species)

	//3.- Auto-resolve residual switch requests with defaults, bounded so a
	// divergent sim with an empty bench cannot stall the replay.
	d.autoResolve()

	//4.- Force progress when the engine refused everything for this turn.
	if d.eng.Turn() == turnBefore && !d.eng.Ended() {
		d.eng.ClearRequests()
		d.eng.ForceTurn(turnBefore + 1)
		d.storeSnapshot(turnBefore+1, d.placeholderSnapshot(turnBefore))
		d.log.Warn("force-advanced stuck turn", logging.Int("turn", turnBefore+1))
	}

	//5.- Apply the recorded corrections; any failure restores the request
	// state so the engine never sticks in a half-mutated wait.
	if err := d.applyPatch(bundle.Patch); err != nil {
		_ = d.eng.MakeRequest(engine.RequestMove)
		d.log.Warn("patch application failed", logging.Error(err))
	}

	//6.- The engine's own turn hook saved its snapshot before forced switches
	// and patches ran, so rewrite the stale entry from the live state.
	d.resyncSnapshot()

	//7.- Leave the engine waiting on move choices for the next turn.
	d.ensureMoveRequest()
	return nil
}

// resolveForced rewrites switch indices in a forced-choice string using the
// expected species map and the engine's current in-memory ordering, then
// submits it. The parser's indices are keyed to the post-preview order, which
// the engine's roster reordering invalidates.
func (d *Driver) resolveForced(side, forced string, species map[string]string) {
	//1.- A bare switch request with no recorded string is left to the
	// auto-resolve pass; only recorded forced choices are translated here.
	if forced == "" {
		return
	}
	live := d.eng.Side(side)
	entries := strings.Split(forced, ",")
	for i, raw := range entries {
		entry := strings.TrimSpace(raw)
		if !strings.HasPrefix(entry, "switch ") {
			entries[i] = entry
			continue
		}
		slot := side + string(rune('a'+i))
		expected := species[slot]
		if expected == "" || live == nil {
			entries[i] = entry
			continue
		}
		//2.- Search the current roster, skipping active and fainted creatures;
		// a miss leaves the parser's index unchanged.
		if index, ok := d.findBenched(live, expected); ok {
			entries[i] = "switch " + strconv.Itoa(index+1)
		} else {
			entries[i] = entry
		}
	}
	resolved := strings.Join(entries, ", ")
	if result := d.eng.Choose(side, resolved); !result.Accepted {
		d.log.Debug("forced switch rejected",
			logging.String("side", side),
			logging.String("choice", resolved),
			logging.String("reason", result.Reason))
	}
}

func (d *Driver) findBenched(live *engine.Side, species string) (int, bool) {
	for index, creature := range live.Pokemon {
		if creature == nil || creature.Fainted {
			continue
		}
		if index < len(live.Active) && live.Active[index] == creature {
			continue
		}
		if protocol.SameSpecies(creature.Species, species) {
			return index, true
		}
	}
	return 0, false
}

func (d *Driver) autoResolve() {
	for attempt := 0; attempt < d.autoResolveLimit; attempt++ {
		pending := ""
		for _, side := range []string{"p1", "p2"} {
			if d.eng.RequestState(side) == engine.RequestSwitch {
				pending = side
				break
			}
		}
		if pending == "" {
			return
		}
		if result := d.eng.Choose(pending, "default"); !result.Accepted {
			//1.- No valid switch target remains in the divergent sim: clear the
			// request outright and fall back to move state.
			d.eng.ClearRequests()
			_ = d.eng.MakeRequest(engine.RequestMove)
			return
		}
	}
	d.eng.ClearRequests()
	_ = d.eng.MakeRequest(engine.RequestMove)
}

// ApplyPatch applies a recorded turn patch outside the replayturn flow,
// serving the patchturn session command.
func (d *Driver) ApplyPatch(patch patches.TurnPatch) error {
	if d == nil || d.eng == nil {
		return ErrNotStarted
	}
	return d.applyPatch(patch)
}

// applyPatch pushes the recorded end-of-turn state into the live engine:
// active occupants first, then HP and status, then the cumulative bench.
func (d *Driver) applyPatch(patch patches.TurnPatch) error {
	for _, entry := range patch.Active {
		side, position, ok := d.slotOf(entry.Slot)
		if !ok || position >= len(side.Active) {
			continue
		}
		current := side.Active[position]
		if current != nil && protocol.SameSpecies(current.Species, entry.Species) {
			continue
		}
		if index, found := side.FindBySpecies(entry.Species); found && index != position {
			side.Swap(position, index)
		}
	}
	for _, entry := range patch.HP {
		side, position, ok := d.slotOf(entry.Slot)
		if !ok || position >= len(side.Active) {
			continue
		}
		creature := side.Active[position]
		if creature == nil {
			continue
		}
		creature.HP = protocol.PercentToHP(entry.Percent, creature.MaxHP, entry.Fainted)
		creature.Fainted = entry.Fainted
		if entry.Fainted {
			creature.Active = false
		}
	}
	for _, entry := range patch.Status {
		side, position, ok := d.slotOf(entry.Slot)
		if !ok || position >= len(side.Active) {
			continue
		}
		if creature := side.Active[position]; creature != nil {
			creature.Status = entry.Status
		}
	}
	for _, entry := range patch.Bench {
		side := d.eng.Side(entry.Side)
		if side == nil {
			continue
		}
		creature := d.benchCreature(side, entry.Species)
		if creature == nil {
			continue
		}
		creature.HP = protocol.PercentToHP(entry.Percent, creature.MaxHP, entry.Fainted)
		creature.Fainted = entry.Fainted
		creature.Status = entry.Status
		creature.Active = false
	}
	return nil
}

func (d *Driver) benchCreature(side *engine.Side, species string) *engine.Creature {
	for index, creature := range side.Pokemon {
		if creature == nil {
			continue
		}
		if index < len(side.Active) && side.Active[index] == creature {
			continue
		}
		if protocol.SameSpecies(creature.Species, species) {
			return creature
		}
	}
	return nil
}

func (d *Driver) slotOf(slot string) (*engine.Side, int, bool) {
	if len(slot) < 3 {
		return nil, 0, false
	}
	side := d.eng.Side(slot[:2])
	if side == nil {
		return nil, 0, false
	}
	return side, int(slot[2] - 'a'), true
}

func (d *Driver) resyncSnapshot() {
	turn := d.eng.Turn()
	if turn < 0 || turn >= len(d.snapshots) || len(d.snapshots[turn]) == 0 {
		//1.- Nothing stored yet: serialize the already-patched live state.
		if data, err := d.eng.ToJSON(); err == nil {
			d.storeSnapshot(turn, data)
		}
		return
	}
	rewritten, err := d.patcher.Rewrite(d.snapshots[turn], d.eng.Sides(), d.earlierSnapshots(turn))
	if err != nil {
		d.log.Warn("snapshot rewrite failed", logging.Int("turn", turn), logging.Error(err))
		return
	}
	d.snapshots[turn] = rewritten
}

// earlierSnapshots lists preceding snapshots most-recent-first for the
// patcher's bounded backward search.
func (d *Driver) earlierSnapshots(turn int) [][]byte {
	earlier := make([][]byte, 0, turn)
	for t := turn - 1; t >= 0 && t < len(d.snapshots); t-- {
		if len(d.snapshots[t]) > 0 {
			earlier = append(earlier, d.snapshots[t])
		}
	}
	return earlier
}

func (d *Driver) ensureMoveRequest() {
	ready := true
	for _, side := range []string{"p1", "p2"} {
		if d.eng.RequestState(side) != engine.RequestMove {
			ready = false
		}
	}
	if ready || d.eng.Ended() {
		return
	}
	if err := d.eng.MakeRequest(engine.RequestMove); err != nil {
		//1.- The request maker refused: clear stale choices and set the state
		// by hand so the next replayturn can proceed.
		d.eng.ClearRequests()
		_ = d.eng.MakeRequest(engine.RequestMove)
	}
}

// JumpToTurn replaces the live engine with one deserialized from the stored
// snapshot at N, or the nearest earlier turn, re-primed for turn N+1.
func (d *Driver) JumpToTurn(turn int) error {
	if d == nil || d.eng == nil {
		return ErrNotStarted
	}
	best := -1
	for t := turn; t >= 0; t-- {
		if t < len(d.snapshots) && len(d.snapshots[t]) > 0 {
			best = t
			break
		}
	}
	if best < 0 {
		return fmt.Errorf("%w for turn %d", ErrNoSnapshot, turn)
	}
	eng, err := d.factory.FromJSON(d.snapshots[best])
	if err != nil {
		//1.- Deserialization failure retains the live engine unchanged.
		d.emit("update", "|error|jump failed: "+err.Error())
		return fmt.Errorf("deserialize snapshot %d: %w", best, err)
	}
	d.adopt(eng)
	if best > 0 {
		_ = d.eng.MakeRequest(engine.RequestMove)
	}
	d.log.Info("jumped to turn", logging.Int("requested", turn), logging.Int("landed", best))
	return nil
}

// LoadState replaces the engine and snapshot array from an external bundle.
func (d *Driver) LoadState(bundle ExportBundle) error {
	if d == nil {
		return errors.New("driver is nil")
	}
	if d.factory == nil {
		return errors.New("no engine factory configured")
	}
	eng, err := d.factory.FromJSON(bundle.State)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	d.cfg.FormatID = bundle.FormatID
	d.snapshots = make([][]byte, len(bundle.StateByTurn))
	for i, snap := range bundle.StateByTurn {
		d.snapshots[i] = append([]byte(nil), snap...)
	}
	d.outputLog = append([]string(nil), bundle.Log...)
	d.adopt(eng)
	if eng.Turn() > 0 {
		_ = d.eng.MakeRequest(engine.RequestMove)
	}
	return nil
}

// ExportState emits the engine serialization, the snapshot array, and the raw
// output log as one bundle.
func (d *Driver) ExportState() (ExportBundle, error) {
	if d == nil || d.eng == nil {
		return ExportBundle{}, ErrNotStarted
	}
	state, err := d.eng.ToJSON()
	if err != nil {
		return ExportBundle{}, fmt.Errorf("serialize engine: %w", err)
	}
	bundle := ExportBundle{
		FormatID: d.cfg.FormatID,
		Turn:     d.eng.Turn(),
		State:    state,
		Log:      append([]string(nil), d.outputLog...),
	}
	bundle.StateByTurn = make([]json.RawMessage, len(d.snapshots))
	for i, snap := range d.snapshots {
		bundle.StateByTurn[i] = append(json.RawMessage(nil), snap...)
	}
	return bundle, nil
}

func (d *Driver) adopt(eng engine.Engine) {
	d.eng = eng
	eng.SetSnapshotHook(func(turn int, snap []byte) {
		d.storeSnapshot(turn, snap)
	})
	_ = eng.Restart(func(lines ...string) {
		d.outputLog = append(d.outputLog, lines...)
		if d.send != nil && len(lines) > 0 {
			d.send(lines[0], lines[1:]...)
		}
	})
}

func (d *Driver) storeSnapshot(turn int, snap []byte) {
	if turn < 0 {
		return
	}
	for len(d.snapshots) <= turn {
		d.snapshots = append(d.snapshots, nil)
	}
	d.snapshots[turn] = append([]byte(nil), snap...)
}

// placeholderSnapshot serializes the live engine so the forced-advance entry
// carries the right turn number; the patcher rewrites its state afterwards.
func (d *Driver) placeholderSnapshot(previousTurn int) []byte {
	if data, err := d.eng.ToJSON(); err == nil {
		return data
	}
	for t := previousTurn; t >= 0; t-- {
		if t < len(d.snapshots) && len(d.snapshots[t]) > 0 {
			return d.snapshots[t]
		}
	}
	return nil
}

func (d *Driver) emit(tag string, lines ...string) {
	d.outputLog = append(d.outputLog, append([]string{tag}, lines...)...)
	if d.send != nil {
		d.send(tag, lines...)
	}
}
