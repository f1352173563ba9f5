// Package session dispatches the line-oriented replay command alphabet onto a
// driver and frames responses for the output channel: first line a tag
// (update, sideupdate, requesteddata, end), subsequent lines the payload.
package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"battlerewind/rewinder/internal/driver"
	"battlerewind/rewinder/internal/engine"
	"battlerewind/rewinder/internal/logging"
	"battlerewind/rewinder/internal/patches"
)

// Version identifies the session protocol implementation.
const Version = "1"

// Session processes commands for one replay, strictly in arrival order.
type Session struct {
	driver *driver.Driver
	log    *logging.Logger
	out    func(string)
}

// New binds a session to an engine factory and an output writer. Extra
// driver options tune snapshot repair and auto-resolve behaviour.
func New(factory engine.Factory, logger *logging.Logger, out func(string), opts ...driver.Option) *Session {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	session := &Session{log: logger, out: out}
	options := append([]driver.Option{
		driver.WithLogger(logger),
		driver.WithSend(session.send),
	}, opts...)
	session.driver = driver.New(factory, options...)
	return session
}

// Driver exposes the underlying replay driver.
func (s *Session) Driver() *driver.Driver {
	if s == nil {
		return nil
	}
	return s.driver
}

func (s *Session) send(tag string, lines ...string) {
	if s == nil || s.out == nil {
		return
	}
	payload := tag
	if len(lines) > 0 {
		payload += "\n" + strings.Join(lines, "\n")
	}
	s.out(payload)
}

func (s *Session) sendError(format string, args ...any) {
	s.send("update", "|error|"+fmt.Sprintf(format, args...))
}

// playerPayload is the JSON argument of the player command.
type playerPayload struct {
	Name string `json:"name"`
	Team string `json:"team"`
}

// Dispatch processes one command line. Commands carry a leading ">".
func (s *Session) Dispatch(line string) {
	if s == nil {
		return
	}
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ">"))
	if trimmed == "" {
		return
	}
	command, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "start":
		s.handleStart(rest)
	case "player":
		s.handlePlayer(rest)
	case "p1", "p2":
		s.handleSideChoice(command, rest)
	case "forcewin":
		s.handleForceWin(rest)
	case "forcelose":
		s.handleForceLose(rest)
	case "forcetie", "tiebreak":
		s.handleTie()
	case "reseed":
		s.handleReseed(rest)
	case "chat":
		s.send("update", "|chat|"+rest)
	case "eval":
		//1.- The injected engine exposes no expression evaluator; report it
		// instead of pretending the command ran.
		s.sendError("eval is not supported by this engine")
	case "requestlog":
		s.handleRequestLog()
	case "requestteam":
		s.handleRequestTeam(rest)
	case "show-openteamsheets":
		s.handleOpenTeamSheets()
	case "requestexport", "exportstate":
		s.handleExportState()
	case "jumptoturn":
		s.handleJumpToTurn(rest)
	case "loadstate":
		s.handleLoadState(rest)
	case "replayturn":
		s.handleReplayTurn(rest)
	case "patchturn":
		s.handlePatchTurn(rest)
	case "replaydone":
		s.send("end", "|replaydone")
	case "version":
		s.send("update", "|version|"+Version)
	default:
		s.sendError("unknown command %q", command)
	}
}

func (s *Session) handleStart(rest string) {
	var cfg engine.FormatConfig
	if strings.HasPrefix(rest, "{") {
		if err := json.Unmarshal([]byte(rest), &cfg); err != nil {
			s.sendError("malformed start payload: %v", err)
			return
		}
	} else {
		cfg.FormatID = rest
	}
	if err := s.driver.Start(cfg); err != nil {
		s.sendError("start failed: %v", err)
		return
	}
	s.log.Info("session started", logging.String("format", cfg.FormatID))
}

func (s *Session) handlePlayer(rest string) {
	side, payload, _ := strings.Cut(rest, " ")
	var decoded playerPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &decoded); err != nil {
		s.sendError("malformed player payload: %v", err)
		return
	}
	if err := s.driver.Player(side, decoded.Name, decoded.Team); err != nil {
		s.sendError("player registration failed: %v", err)
	}
}

func (s *Session) handleSideChoice(side, choice string) {
	if choice == "undo" {
		if err := s.driver.Undo(side); err != nil {
			s.sendError("undo failed: %v", err)
		}
		return
	}
	if result := s.driver.Choose(side, choice); !result.Accepted {
		//1.- Invalid choices surface on the side channel, mirroring the
		// engine's own rejection dialect, and never abort the session.
		s.send("sideupdate", side, "|error|[Invalid choice] "+result.Reason)
	}
}

func (s *Session) handleForceWin(side string) {
	eng := s.driver.Engine()
	if eng == nil {
		s.sendError("no battle in progress")
		return
	}
	if side == "" {
		side = "p1"
	}
	if err := eng.ForceWin(side); err != nil {
		s.sendError("forcewin failed: %v", err)
	}
}

func (s *Session) handleForceLose(side string) {
	if side == "" {
		side = "p1"
	}
	//1.- Losing a side is winning for its opponent.
	opponent := "p1"
	if side == "p1" {
		opponent = "p2"
	}
	s.handleForceWin(opponent)
}

func (s *Session) handleTie() {
	eng := s.driver.Engine()
	if eng == nil {
		s.sendError("no battle in progress")
		return
	}
	if err := eng.Tie(); err != nil {
		s.sendError("tie failed: %v", err)
	}
}

func (s *Session) handleReseed(seed string) {
	eng := s.driver.Engine()
	if eng == nil {
		s.sendError("no battle in progress")
		return
	}
	if err := eng.Reseed(seed); err != nil {
		s.sendError("reseed failed: %v", err)
	}
}

func (s *Session) handleRequestLog() {
	eng := s.driver.Engine()
	if eng == nil {
		s.sendError("no battle in progress")
		return
	}
	s.send("requesteddata", eng.InputLog()...)
}

func (s *Session) handleRequestTeam(side string) {
	if side == "" {
		side = "p1"
	}
	s.send("requesteddata", s.driver.PackedTeam(side))
}

func (s *Session) handleOpenTeamSheets() {
	lines := make([]string, 0, 2)
	for _, side := range []string{"p1", "p2"} {
		if team := s.driver.PackedTeam(side); team != "" {
			lines = append(lines, "|showteam|"+side+"|"+team)
		}
	}
	if len(lines) == 0 {
		s.sendError("no teams registered")
		return
	}
	s.send("update", lines...)
}

func (s *Session) handleExportState() {
	bundle, err := s.driver.ExportState()
	if err != nil {
		s.sendError("export failed: %v", err)
		return
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		s.sendError("export encoding failed: %v", err)
		return
	}
	s.send("requesteddata", string(data))
}

func (s *Session) handleJumpToTurn(rest string) {
	turn, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || turn < 0 {
		s.sendError("jumptoturn expects a non-negative turn number, got %q", rest)
		return
	}
	if err := s.driver.JumpToTurn(turn); err != nil {
		s.sendError("jump failed: %v", err)
		return
	}
	s.send("update", "|jumptoturn|"+strconv.Itoa(turn))
}

func (s *Session) handleLoadState(rest string) {
	var bundle driver.ExportBundle
	if err := json.Unmarshal([]byte(rest), &bundle); err != nil {
		s.sendError("malformed state bundle: %v", err)
		return
	}
	if err := s.driver.LoadState(bundle); err != nil {
		s.sendError("loadstate failed: %v", err)
		return
	}
	s.send("update", "|loadedstate|"+strconv.Itoa(bundle.Turn))
}

func (s *Session) handleReplayTurn(rest string) {
	var bundle driver.TurnBundle
	if err := json.Unmarshal([]byte(rest), &bundle); err != nil {
		s.sendError("malformed turn bundle: %v", err)
		return
	}
	if err := s.driver.ReplayTurn(bundle); err != nil {
		s.sendError("replayturn failed: %v", err)
		return
	}
	s.send("update", "|replayedturn|"+strconv.Itoa(s.driver.Engine().Turn()))
}

func (s *Session) handlePatchTurn(rest string) {
	var patch patches.TurnPatch
	if err := json.Unmarshal([]byte(rest), &patch); err != nil {
		s.sendError("malformed patch: %v", err)
		return
	}
	if err := s.driver.ApplyPatch(patch); err != nil {
		s.sendError("patchturn failed: %v", err)
	}
}
