package viewer

import (
	"math"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"gonum.org/v1/gonum/spatial/r3"
)

// Camera is an orthographic camera derived from ViewParams and the bounds of
// the scene it looks at.
type Camera struct {
	Right, Up, Front r3.Vec // orthonormal, right-handed
	LookAt           r3.Vec

	// HalfExtent is half the visible height in world units.
	HalfExtent float64
	// Diameter is the length of the scene bounding box diagonal.
	Diameter float64
}

// NewCamera builds the camera basis for p looking at a scene with the given
// bounds.
func NewCamera(p ViewParams, bounds r3.Box) (*Camera, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	front := r3.Unit(p.Front)
	right := r3.Unit(r3.Cross(p.Up, front))
	up := r3.Cross(front, right)

	diameter := r3.Norm(r3.Sub(bounds.Max, bounds.Min))
	if !(diameter > 0) || math.IsInf(diameter, 0) {
		diameter = 1
	}
	return &Camera{
		Right:      right,
		Up:         up,
		Front:      front,
		LookAt:     p.LookAt,
		HalfExtent: p.Zoom * diameter,
		Diameter:   diameter,
	}, nil
}

// Project maps a world point into view coordinates. u and v are measured
// along Right and Up from the look-at point; depth grows away from the eye.
func (c *Camera) Project(p r3.Vec) (u, v, depth float64) {
	d := r3.Sub(p, c.LookAt)
	return r3.Dot(d, c.Right), r3.Dot(d, c.Up), -r3.Dot(d, c.Front)
}

// sceneBounds returns the union of the bounds of all non-empty clouds.
func sceneBounds(clouds []*cloud.PointCloud) r3.Box {
	var (
		box   r3.Box
		first = true
	)
	for _, c := range clouds {
		if c.IsEmpty() {
			continue
		}
		b := c.Bounds()
		if first {
			box, first = b, false
			continue
		}
		box.Min = r3.Vec{X: math.Min(box.Min.X, b.Min.X), Y: math.Min(box.Min.Y, b.Min.Y), Z: math.Min(box.Min.Z, b.Min.Z)}
		box.Max = r3.Vec{X: math.Max(box.Max.X, b.Max.X), Y: math.Max(box.Max.Y, b.Max.Y), Z: math.Max(box.Max.Z, b.Max.Z)}
	}
	return box
}

// normalLength is the drawn length of a normal glyph in world units.
func (c *Camera) normalLength() float64 { return c.Diameter / 100 }

func totalPoints(clouds []*cloud.PointCloud) int {
	n := 0
	for _, c := range clouds {
		n += c.Len()
	}
	return n
}
