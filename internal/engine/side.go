package engine

import (
	"strconv"
	"strings"
)

// Swap exchanges two roster positions and refreshes the active pointers,
// position fields, and active flags the exchange touches.
func (s *Side) Swap(i, j int) {
	if s == nil || i < 0 || j < 0 || i >= len(s.Pokemon) || j >= len(s.Pokemon) || i == j {
		return
	}
	s.Pokemon[i], s.Pokemon[j] = s.Pokemon[j], s.Pokemon[i]
	for _, idx := range []int{i, j} {
		creature := s.Pokemon[idx]
		if creature == nil {
			continue
		}
		creature.Position = idx
		creature.Active = idx < len(s.Active) && !creature.Fainted
		if idx < len(s.Active) {
			s.Active[idx] = creature
		}
	}
	s.RecomputeTeam()
}

// RecomputeTeam rebuilds the roster position encoding from declaration order
// to current positions: "123456", or comma-joined past nine entries.
func (s *Side) RecomputeTeam() {
	if s == nil {
		return
	}
	positions := make([]int, len(s.Pokemon))
	for index, creature := range s.Pokemon {
		if creature == nil {
			continue
		}
		decl := creature.DeclIndex
		if decl >= 0 && decl < len(positions) {
			positions[decl] = index + 1
		}
	}
	s.Team = EncodeTeamOrder(positions)
}

// EncodeTeamOrder renders a position list in the engine's encoding dialect.
func EncodeTeamOrder(positions []int) string {
	if len(positions) > 9 {
		parts := make([]string, len(positions))
		for i, p := range positions {
			parts[i] = strconv.Itoa(p)
		}
		return strings.Join(parts, ",")
	}
	var b strings.Builder
	for _, p := range positions {
		b.WriteString(strconv.Itoa(p))
	}
	return b.String()
}

// IdentityTeamOrder returns the identity encoding over n roster entries.
func IdentityTeamOrder(n int) string {
	positions := make([]int, n)
	for i := range positions {
		positions[i] = i + 1
	}
	return EncodeTeamOrder(positions)
}
