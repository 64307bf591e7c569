package domain

import (
	"strconv"

	"github.com/cockroachdb/errors"
)

type CellKind string

const (
	CellSeat    CellKind = "seat"
	CellAisle   CellKind = "aisle"
	CellBlocked CellKind = "blocked"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatSold      SeatStatus = "sold"
)

type Cell struct {
	Row           int        `json:"row"`
	Col           int        `json:"col"`
	Label         string     `json:"label"`
	Kind          CellKind   `json:"kind"`
	CategoryIndex int        `json:"category_index"`
	Status        SeatStatus `json:"status"`
}

func (c Cell) Sellable() bool {
	return c.Kind == CellSeat && c.Status == SeatAvailable
}

type SeatGrid struct {
	Rows  int      `json:"rows"`
	Cols  int      `json:"cols"`
	Cells [][]Cell `json:"cells"`
}

// RowLetter maps 0 to A, 25 to Z, 26 to AA.
func RowLetter(row int) string {
	var b []byte
	for n := row + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

func NewSeatGrid(rows, cols int) (*SeatGrid, error) {
	if rows < 1 || cols < 1 {
		return nil, errors.Wrapf(ErrInvalidInput, "grid %dx%d", rows, cols)
	}
	g := &SeatGrid{Rows: rows, Cols: cols, Cells: make([][]Cell, rows)}
	for r := 0; r < rows; r++ {
		g.Cells[r] = make([]Cell, cols)
		for c := 0; c < cols; c++ {
			g.Cells[r][c] = Cell{
				Row:    r,
				Col:    c,
				Label:  RowLetter(r) + strconv.Itoa(c+1),
				Kind:   CellSeat,
				Status: SeatAvailable,
			}
		}
	}
	return g, nil
}

func (g *SeatGrid) Clone() *SeatGrid {
	c := &SeatGrid{Rows: g.Rows, Cols: g.Cols, Cells: make([][]Cell, len(g.Cells))}
	for r, row := range g.Cells {
		c.Cells[r] = append([]Cell(nil), row...)
	}
	return c
}

func (g *SeatGrid) At(row, col int) (*Cell, bool) {
	if row < 0 || row >= len(g.Cells) || col < 0 || col >= len(g.Cells[row]) {
		return nil, false
	}
	return &g.Cells[row][col], true
}

func (g *SeatGrid) FindLabel(label string) (*Cell, bool) {
	for r := range g.Cells {
		for c := range g.Cells[r] {
			if g.Cells[r][c].Label == label {
				return &g.Cells[r][c], true
			}
		}
	}
	return nil, false
}

// Resolve finds the cell for ref by row/col when both are given, else by label.
func (g *SeatGrid) Resolve(ref SeatRef) (*Cell, bool) {
	if ref.Row != nil && ref.Col != nil {
		return g.At(*ref.Row, *ref.Col)
	}
	if ref.Label == "" {
		return nil, false
	}
	return g.FindLabel(ref.Label)
}

// Capacity is the number of seat cells regardless of status.
func (g *SeatGrid) Capacity() int {
	n := 0
	for _, row := range g.Cells {
		for _, c := range row {
			if c.Kind == CellSeat {
				n++
			}
		}
	}
	return n
}

func (g *SeatGrid) Available() int {
	n := 0
	for _, row := range g.Cells {
		for _, c := range row {
			if c.Sellable() {
				n++
			}
		}
	}
	return n
}

// Cycle advances a cell through seat(0) … seat(n-1), aisle, blocked and back to seat(0).
// Sold seats cannot be edited.
func (g *SeatGrid) Cycle(row, col, categoryCount int) (Cell, error) {
	cell, ok := g.At(row, col)
	if !ok {
		return Cell{}, errors.Wrapf(ErrInvalidInput, "cell %d,%d out of range", row, col)
	}
	if cell.Kind == CellSeat && cell.Status == SeatSold {
		return Cell{}, errors.Wrapf(ErrSeatUnavailable, "seat %s is sold", cell.Label)
	}
	switch cell.Kind {
	case CellSeat:
		if cell.CategoryIndex+1 < categoryCount {
			cell.CategoryIndex++
		} else {
			cell.Kind = CellAisle
			cell.CategoryIndex = 0
		}
	case CellAisle:
		cell.Kind = CellBlocked
	default:
		cell.Kind = CellSeat
		cell.CategoryIndex = 0
		cell.Status = SeatAvailable
	}
	return *cell, nil
}
