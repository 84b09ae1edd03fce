// Package world provides the toroidal grid agents live on and the per-day
// spatial index used for neighbourhood queries.
package world

import "fmt"

// Coord is a cell position on the grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Grid is a square torus: coordinates wrap on both axes.
type Grid struct {
	Size int `json:"size"`
}

// NewGrid returns a grid with the given side length.
func NewGrid(size int) Grid {
	return Grid{Size: size}
}

// Cells returns the number of cells on the grid.
func (g Grid) Cells() int {
	return g.Size * g.Size
}

// wrap maps any integer onto [0, Size).
func (g Grid) wrap(v int) int {
	v %= g.Size
	if v < 0 {
		v += g.Size
	}
	return v
}

// Wrap maps a coordinate onto the torus. Out-of-range values wrap around,
// they are never clamped.
func (g Grid) Wrap(c Coord) Coord {
	return Coord{X: g.wrap(c.X), Y: g.wrap(c.Y)}
}

// Contains reports whether c is already a canonical (wrapped) coordinate.
func (g Grid) Contains(c Coord) bool {
	return c.X >= 0 && c.X < g.Size && c.Y >= 0 && c.Y < g.Size
}

// Cell returns the row-major cell number of a coordinate.
func (g Grid) Cell(c Coord) int {
	c = g.Wrap(c)
	return c.Y*g.Size + c.X
}

// CoordOf is the inverse of Cell.
func (g Grid) CoordOf(cell int) Coord {
	return Coord{X: cell % g.Size, Y: cell / g.Size}
}

// Neighborhood returns the (2r+1)² cells around c, c included, wrapping at
// the edges. Radius 1 is the Moore neighbourhood.
func (g Grid) Neighborhood(c Coord, radius int) []Coord {
	out := make([]Coord, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			out = append(out, g.Wrap(Coord{X: c.X + dx, Y: c.Y + dy}))
		}
	}
	return out
}

// Distance returns the Chebyshev distance between two cells on the torus.
func (g Grid) Distance(a, b Coord) int {
	axis := func(u, v int) int {
		d := g.wrap(u - v)
		if g.Size-d < d {
			d = g.Size - d
		}
		return d
	}
	dx, dy := axis(a.X, b.X), axis(a.Y, b.Y)
	if dy > dx {
		return dy
	}
	return dx
}

// String returns a summary of the grid.
func (g Grid) String() string {
	return fmt.Sprintf("Grid(size=%d, cells=%d)", g.Size, g.Cells())
}

// IntSource yields uniform integers in [0, n).
type IntSource interface {
	IntN(n int) int
}

// Random draws a uniform cell, x first then y.
func (g Grid) Random(src IntSource) Coord {
	x := src.IntN(g.Size)
	y := src.IntN(g.Size)
	return Coord{X: x, Y: y}
}
