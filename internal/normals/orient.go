package normals

import (
	"fmt"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"gonum.org/v1/gonum/spatial/r3"
)

// OrientTowardsViewpoint flips each normal so it points toward eye.
// Zero normals are left untouched.
func OrientTowardsViewpoint(c *cloud.PointCloud, eye r3.Vec) (*cloud.PointCloud, error) {
	if !c.HasNormals() {
		return nil, fmt.Errorf("orient normals: cloud has no normals: %w", cloud.ErrInvalidParameter)
	}
	out := &cloud.PointCloud{Points: c.Points, Colors: c.Colors, Normals: make([]r3.Vec, c.Len())}
	for i, n := range c.Normals {
		if r3.Dot(n, r3.Sub(eye, c.Points[i])) < 0 {
			n = r3.Scale(-1, n)
		}
		out.Normals[i] = n
	}
	return out, nil
}

// OrientAlongDirection flips each normal so it has a non-negative component
// along dir. Zero normals are left untouched.
func OrientAlongDirection(c *cloud.PointCloud, dir r3.Vec) (*cloud.PointCloud, error) {
	if !c.HasNormals() {
		return nil, fmt.Errorf("orient normals: cloud has no normals: %w", cloud.ErrInvalidParameter)
	}
	if r3.Norm2(dir) == 0 {
		return nil, fmt.Errorf("orient normals: zero direction: %w", cloud.ErrInvalidParameter)
	}
	out := &cloud.PointCloud{Points: c.Points, Colors: c.Colors, Normals: make([]r3.Vec, c.Len())}
	for i, n := range c.Normals {
		if r3.Dot(n, dir) < 0 {
			n = r3.Scale(-1, n)
		}
		out.Normals[i] = n
	}
	return out, nil
}
