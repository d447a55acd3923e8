package viewer

import (
	"fmt"
	"math"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/config"
	"gonum.org/v1/gonum/spatial/r3"
)

// ViewParams is the camera pose and display toggles for one view.
type ViewParams struct {
	Zoom        float64
	Front       r3.Vec // from LookAt toward the eye
	LookAt      r3.Vec
	Up          r3.Vec
	ShowNormals bool

	// Output size in pixels for raster renderers.
	Width  int
	Height int
}

// DefaultViewParams returns the reference camera.
func DefaultViewParams() ViewParams {
	return FromConfig(config.EmptyPipelineConfig().GetView())
}

// FromConfig builds ViewParams from a view config section, applying its
// defaults for unset fields.
func FromConfig(v *config.ViewConfig) ViewParams {
	return ViewParams{
		Zoom:        v.GetZoom(),
		Front:       vec(v.GetFront()),
		LookAt:      vec(v.GetLookAt()),
		Up:          vec(v.GetUp()),
		ShowNormals: v.GetShowNormals(),
		Width:       v.GetWidth(),
		Height:      v.GetHeight(),
	}
}

func vec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

// Validate rejects camera poses that cannot produce a basis.
func (p ViewParams) Validate() error {
	if !(p.Zoom > 0) || math.IsInf(p.Zoom, 0) {
		return fmt.Errorf("%w: zoom must be positive, got %v", cloud.ErrInvalidParameter, p.Zoom)
	}
	if r3.Norm(p.Front) == 0 {
		return fmt.Errorf("%w: front vector is zero", cloud.ErrInvalidParameter)
	}
	if r3.Norm(r3.Cross(p.Up, p.Front)) == 0 {
		return fmt.Errorf("%w: up vector %v is zero or parallel to front", cloud.ErrInvalidParameter, p.Up)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: image size %dx%d", cloud.ErrInvalidParameter, p.Width, p.Height)
	}
	return nil
}
