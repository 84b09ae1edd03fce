package world

// Index maps each cell to the agents standing in it on a given day.
//
// It is rebuilt from scratch once per day (counting sort over cells, so a
// rebuild is linear in population plus cells) and is read-only until the next
// Rebuild. Alongside positions it freezes one flag per agent, the agent's
// infectious status at build time, so neighbourhood counts see the morning
// snapshot even while the agent store mutates during the update pass.
type Index struct {
	grid   Grid
	radius int

	start   []int32 // start[c]..start[c+1] delimits cell c in members
	members []int32 // agent ids grouped by cell
	cellOf  []int32 // indexed cell of each agent
	flagged []bool  // frozen per-agent flag
	cursor  []int32 // scratch for Rebuild
}

// NewIndex allocates an index for a population on grid g. radius is the
// neighbourhood radius used by the Count methods (1 = Moore).
func NewIndex(g Grid, radius, population int) *Index {
	cells := g.Cells()
	return &Index{
		grid:    g,
		radius:  radius,
		start:   make([]int32, cells+1),
		cursor:  make([]int32, cells),
		members: make([]int32, population),
		cellOf:  make([]int32, population),
		flagged: make([]bool, population),
	}
}

// Grid returns the grid the index was built for.
func (ix *Index) Grid() Grid { return ix.grid }

// Radius returns the neighbourhood radius.
func (ix *Index) Radius() int { return ix.radius }

// Len returns the number of agents indexed.
func (ix *Index) Len() int { return len(ix.members) }

// Rebuild discards the previous day's contents and indexes n agents. at
// reports agent i's position and the flag to freeze for it.
func (ix *Index) Rebuild(n int, at func(i int) (Coord, bool)) {
	if n != len(ix.members) {
		ix.members = make([]int32, n)
		ix.cellOf = make([]int32, n)
		ix.flagged = make([]bool, n)
	}
	for c := range ix.start {
		ix.start[c] = 0
	}

	for i := 0; i < n; i++ {
		pos, flag := at(i)
		c := ix.grid.Cell(pos)
		ix.cellOf[i] = int32(c)
		ix.flagged[i] = flag
		ix.start[c+1]++
	}
	for c := 1; c < len(ix.start); c++ {
		ix.start[c] += ix.start[c-1]
	}
	copy(ix.cursor, ix.start[:len(ix.cursor)])
	for i := 0; i < n; i++ {
		c := ix.cellOf[i]
		ix.members[ix.cursor[c]] = int32(i)
		ix.cursor[c]++
	}
}

// Occupants returns the ids of the agents in cell c. The slice aliases the
// index and must not be modified.
func (ix *Index) Occupants(c Coord) []int32 {
	cell := ix.grid.Cell(c)
	return ix.members[ix.start[cell]:ix.start[cell+1]]
}

// CellOf returns where agent id was when the index was built.
func (ix *Index) CellOf(id int) Coord {
	return ix.grid.CoordOf(int(ix.cellOf[id]))
}

// Flagged reports the flag frozen for agent id.
func (ix *Index) Flagged(id int) bool {
	return ix.flagged[id]
}

// CountFlagged counts flagged agents in the neighbourhood of agent self's
// indexed cell, never counting self.
func (ix *Index) CountFlagged(self int) int {
	return ix.CountFlaggedAt(ix.CellOf(self), self)
}

// CountFlaggedAt counts flagged agents in the neighbourhood of c, skipping the
// agent with id exclude (pass -1 to skip nobody).
func (ix *Index) CountFlaggedAt(c Coord, exclude int) int {
	n := 0
	size, r := ix.grid.Size, ix.radius
	for dy := -r; dy <= r; dy++ {
		row := ix.grid.wrap(c.Y+dy) * size
		for dx := -r; dx <= r; dx++ {
			cell := row + ix.grid.wrap(c.X+dx)
			for _, id := range ix.members[ix.start[cell]:ix.start[cell+1]] {
				if ix.flagged[id] && int(id) != exclude {
					n++
				}
			}
		}
	}
	return n
}

// CountMatching is CountFlagged with a caller-supplied predicate evaluated at
// query time instead of the frozen flag.
func (ix *Index) CountMatching(self int, match func(id int) bool) int {
	c := ix.CellOf(self)
	n := 0
	size, r := ix.grid.Size, ix.radius
	for dy := -r; dy <= r; dy++ {
		row := ix.grid.wrap(c.Y+dy) * size
		for dx := -r; dx <= r; dx++ {
			cell := row + ix.grid.wrap(c.X+dx)
			for _, id := range ix.members[ix.start[cell]:ix.start[cell+1]] {
				if int(id) != self && match(int(id)) {
					n++
				}
			}
		}
	}
	return n
}
