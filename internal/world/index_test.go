package world

import "testing"

type placed struct {
	pos  Coord
	flag bool
}

func buildIndex(g Grid, radius int, agents []placed) *Index {
	ix := NewIndex(g, radius, len(agents))
	ix.Rebuild(len(agents), func(i int) (Coord, bool) {
		return agents[i].pos, agents[i].flag
	})
	return ix
}

func TestGrid_WrapNegativeAndOverflow(t *testing.T) {
	g := NewGrid(10)
	cases := []struct{ in, want Coord }{
		{Coord{-1, -1}, Coord{9, 9}},
		{Coord{10, 0}, Coord{0, 0}},
		{Coord{23, -21}, Coord{3, 9}},
		{Coord{4, 5}, Coord{4, 5}},
	}
	for _, tc := range cases {
		if got := g.Wrap(tc.in); got != tc.want {
			t.Fatalf("Wrap(%v)=%v want %v", tc.in, got, tc.want)
		}
		if !g.Contains(g.Wrap(tc.in)) {
			t.Fatalf("Wrap(%v) not on grid", tc.in)
		}
	}
}

func TestGrid_MooreNeighborhoodAtCorner(t *testing.T) {
	g := NewGrid(5)
	cells := g.Neighborhood(Coord{0, 0}, 1)
	if len(cells) != 9 {
		t.Fatalf("len=%d want 9", len(cells))
	}
	seen := map[Coord]bool{}
	for _, c := range cells {
		if seen[c] {
			t.Fatalf("duplicate cell %v", c)
		}
		seen[c] = true
		if g.Distance(c, Coord{0, 0}) > 1 {
			t.Fatalf("cell %v outside the Moore neighbourhood", c)
		}
	}
	for _, want := range []Coord{{4, 4}, {0, 4}, {4, 0}, {1, 1}} {
		if !seen[want] {
			t.Fatalf("missing wrapped neighbour %v", want)
		}
	}
}

func TestGrid_CellRoundTrip(t *testing.T) {
	g := NewGrid(7)
	for cell := 0; cell < g.Cells(); cell++ {
		if got := g.Cell(g.CoordOf(cell)); got != cell {
			t.Fatalf("Cell(CoordOf(%d))=%d", cell, got)
		}
	}
}

func TestIndex_OccupantsGroupedByCell(t *testing.T) {
	g := NewGrid(4)
	ix := buildIndex(g, 1, []placed{
		{pos: Coord{1, 1}}, {pos: Coord{3, 2}}, {pos: Coord{1, 1}}, {pos: Coord{0, 0}},
	})
	occ := ix.Occupants(Coord{1, 1})
	if len(occ) != 2 || occ[0] != 0 || occ[1] != 2 {
		t.Fatalf("occupants of (1,1)=%v want [0 2]", occ)
	}
	if got := len(ix.Occupants(Coord{2, 2})); got != 0 {
		t.Fatalf("empty cell has %d occupants", got)
	}
	if got := ix.CellOf(1); got != (Coord{3, 2}) {
		t.Fatalf("CellOf(1)=%v", got)
	}
}

func TestIndex_SelfExclusion(t *testing.T) {
	g := NewGrid(10)
	// A lone flagged agent never counts itself.
	ix := buildIndex(g, 1, []placed{{pos: Coord{5, 5}, flag: true}})
	if got := ix.CountFlagged(0); got != 0 {
		t.Fatalf("lone agent counted %d neighbours", got)
	}
	if got := ix.CountMatching(0, func(int) bool { return true }); got != 0 {
		t.Fatalf("lone agent matched %d neighbours", got)
	}
	// A third party querying the same cell does see it.
	if got := ix.CountFlaggedAt(Coord{5, 5}, -1); got != 1 {
		t.Fatalf("CountFlaggedAt=%d want 1", got)
	}
}

func TestIndex_CountsWrapAroundEdges(t *testing.T) {
	g := NewGrid(10)
	agents := []placed{
		{pos: Coord{0, 0}},              // querying agent
		{pos: Coord{9, 9}, flag: true},  // diagonal across both edges
		{pos: Coord{0, 9}, flag: true},  // across the top edge
		{pos: Coord{1, 0}, flag: true},  // plain neighbour
		{pos: Coord{0, 0}, flag: true},  // same cell
		{pos: Coord{2, 0}, flag: true},  // two cells away
		{pos: Coord{9, 0}, flag: false}, // adjacent but not flagged
	}
	ix := buildIndex(g, 1, agents)
	if got := ix.CountFlagged(0); got != 4 {
		t.Fatalf("CountFlagged=%d want 4", got)
	}
}

func TestIndex_SaturatedNeighbourhood(t *testing.T) {
	g := NewGrid(10)
	var agents []placed
	center := Coord{3, 3}
	agents = append(agents, placed{pos: center, flag: true})
	for _, c := range g.Neighborhood(center, 1) {
		if c == center {
			continue
		}
		agents = append(agents, placed{pos: c, flag: true})
	}
	ix := buildIndex(g, 1, agents)
	if got := ix.CountFlagged(0); got != 8 {
		t.Fatalf("CountFlagged=%d want 8", got)
	}
}

func TestIndex_RebuildReplacesPreviousDay(t *testing.T) {
	g := NewGrid(6)
	pos := []Coord{{1, 1}, {1, 2}}
	ix := NewIndex(g, 1, len(pos))
	ix.Rebuild(len(pos), func(i int) (Coord, bool) { return pos[i], true })
	if got := ix.CountFlagged(0); got != 1 {
		t.Fatalf("day 1 count=%d want 1", got)
	}

	pos[1] = Coord{4, 4}
	ix.Rebuild(len(pos), func(i int) (Coord, bool) { return pos[i], true })
	if got := ix.CountFlagged(0); got != 0 {
		t.Fatalf("day 2 count=%d want 0", got)
	}
	if got := len(ix.Occupants(Coord{1, 2})); got != 0 {
		t.Fatalf("stale occupant left in (1,2)")
	}
}

func TestIndex_FlagIsFrozenAtBuild(t *testing.T) {
	g := NewGrid(6)
	live := []bool{false, true}
	ix := NewIndex(g, 1, 2)
	ix.Rebuild(2, func(i int) (Coord, bool) { return Coord{2, 2}, live[i] })

	live[1] = false // the store changes after the build
	if got := ix.CountFlagged(0); got != 1 {
		t.Fatalf("snapshot count=%d want 1", got)
	}
	if got := ix.CountMatching(0, func(id int) bool { return live[id] }); got != 0 {
		t.Fatalf("live count=%d want 0", got)
	}
}

func TestIndex_LargerRadius(t *testing.T) {
	g := NewGrid(9)
	ix := buildIndex(g, 2, []placed{
		{pos: Coord{4, 4}},
		{pos: Coord{6, 6}, flag: true},
		{pos: Coord{7, 4}, flag: true},
	})
	if got := ix.CountFlagged(0); got != 1 {
		t.Fatalf("radius 2 count=%d want 1", got)
	}
}
