package cloud

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// VoxelKey identifies a cubic cell of a uniform grid anchored at the origin.
type VoxelKey struct {
	X, Y, Z int64
}

// KeyOf floor-divides each coordinate of p by size. Negative coordinates map
// to negative keys, so -0.5 with size 1 lands in cell -1.
func KeyOf(p r3.Vec, size float64) VoxelKey {
	return VoxelKey{
		X: int64(math.Floor(p.X / size)),
		Y: int64(math.Floor(p.Y / size)),
		Z: int64(math.Floor(p.Z / size)),
	}
}

// Less orders keys by X, then Y, then Z.
func (k VoxelKey) Less(o VoxelKey) bool {
	if k.X != o.X {
		return k.X < o.X
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	return k.Z < o.Z
}

// Add offsets a key by the given cell counts.
func (k VoxelKey) Add(dx, dy, dz int64) VoxelKey {
	return VoxelKey{X: k.X + dx, Y: k.Y + dy, Z: k.Z + dz}
}
