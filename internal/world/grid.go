package world

import "math"

// spatialGrid provides O(1) average proximity queries via fixed-size 3D cells.
// Uses preallocated slices with entity indices (not pointers) for GC efficiency.
//
// The grid holds no per-query state, so reads may run concurrently as long
// as the caller serializes them against mutations.
//
// Optimal cell size equals the largest query radius. Cells are stored in
// x-major order (cells[(z*rows+y)*cols+x]).
type spatialGrid struct {
	cellSize    float64
	invCellSize float64 // 1/cellSize for faster division
	cols        int     // extent along X
	rows        int     // extent along Y
	layers      int     // extent along Z
	cells       [][]uint32
}

// newSpatialGrid creates a grid for the given world bounds.
// cellSize should equal the largest query radius for optimal performance.
func newSpatialGrid(width, height, depth, cellSize float64) *spatialGrid {
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))
	layers := int(math.Ceil(depth / cellSize))

	// Ensure at least a 1x1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	if layers < 1 {
		layers = 1
	}

	return &spatialGrid{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cols:        cols,
		rows:        rows,
		layers:      layers,
		cells:       make([][]uint32, cols*rows*layers),
	}
}

// cellIndex computes the cell index for a position, clamped to grid bounds.
func (g *spatialGrid) cellIndex(p Vec3) int {
	x := clampCell(int(p.X*g.invCellSize), g.cols)
	y := clampCell(int(p.Y*g.invCellSize), g.rows)
	z := clampCell(int(p.Z*g.invCellSize), g.layers)
	return (z*g.rows+y)*g.cols + x
}

func clampCell(i, max int) int {
	if i < 0 {
		return 0
	}
	if i >= max {
		return max - 1
	}
	return i
}

// insert adds an entity index at position p. O(1).
func (g *spatialGrid) insert(entityID uint32, p Vec3) {
	idx := g.cellIndex(p)
	g.cells[idx] = append(g.cells[idx], entityID)
}

// remove deletes an entity index from the cell containing p.
// No-op if the entity is not in that cell.
func (g *spatialGrid) remove(entityID uint32, p Vec3) {
	idx := g.cellIndex(p)
	cell := g.cells[idx]
	for i, id := range cell {
		if id == entityID {
			cell[i] = cell[len(cell)-1]
			g.cells[idx] = cell[:len(cell)-1]
			return
		}
	}
}

// move relocates an entity from oldPos to newPos, skipping the
// remove/insert pair when both positions share a cell.
func (g *spatialGrid) move(entityID uint32, oldPos, newPos Vec3) {
	oldIdx := g.cellIndex(oldPos)
	newIdx := g.cellIndex(newPos)
	if oldIdx == newIdx {
		return
	}
	g.remove(entityID, oldPos)
	g.cells[newIdx] = append(g.cells[newIdx], entityID)
}

// queryRadius appends all entity indices potentially within radius of
// center to out and returns the extended slice. The buffer is caller-owned:
// concurrent queries each bring their own, so reads never share state.
//
// The returned candidates may include entities outside the radius;
// the caller must perform a precise distance check (narrow phase).
func (g *spatialGrid) queryRadius(center Vec3, radius float64, out []uint32) []uint32 {
	minX := clampCell(int((center.X-radius)*g.invCellSize), g.cols)
	maxX := clampCell(int((center.X+radius)*g.invCellSize), g.cols)
	minY := clampCell(int((center.Y-radius)*g.invCellSize), g.rows)
	maxY := clampCell(int((center.Y+radius)*g.invCellSize), g.rows)
	minZ := clampCell(int((center.Z-radius)*g.invCellSize), g.layers)
	maxZ := clampCell(int((center.Z+radius)*g.invCellSize), g.layers)

	for z := minZ; z <= maxZ; z++ {
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				idx := (z*g.rows+y)*g.cols + x
				out = append(out, g.cells[idx]...)
			}
		}
	}

	return out
}
