package cloud

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// FormatPoints writes the points as a numpy-style array. Clouds longer than
// 2*edge rows are elided with "..." after the first edge rows. An edge below
// 1 uses DefaultPrintEdge.
func (c *PointCloud) FormatPoints(w io.Writer, edge int) error {
	return formatRows(w, c.pointsOrNil(), edge)
}

// FormatNormals is FormatPoints for the normals slice.
func (c *PointCloud) FormatNormals(w io.Writer, edge int) error {
	if c == nil {
		return formatRows(w, nil, edge)
	}
	return formatRows(w, c.Normals, edge)
}

func (c *PointCloud) pointsOrNil() []r3.Vec {
	if c == nil {
		return nil
	}
	return c.Points
}

// DefaultPrintEdge is the number of leading and trailing rows printed for a
// long cloud.
const DefaultPrintEdge = 3

func formatRows(w io.Writer, rows []r3.Vec, edge int) error {
	if len(rows) == 0 {
		_, err := io.WriteString(w, "[]\n")
		return err
	}
	if edge <= 0 {
		edge = DefaultPrintEdge
	}

	var b strings.Builder
	b.WriteString("[")
	writeRow := func(i int, v r3.Vec) {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "[%s %s %s]", formatFloat(v.X), formatFloat(v.Y), formatFloat(v.Z))
	}

	if len(rows) <= 2*edge {
		for i, v := range rows {
			writeRow(i, v)
			if i < len(rows)-1 {
				b.WriteString("\n")
			}
		}
	} else {
		for i := 0; i < edge; i++ {
			writeRow(i, rows[i])
			b.WriteString("\n")
		}
		b.WriteString(" ...\n")
		for i := len(rows) - edge; i < len(rows); i++ {
			writeRow(i, rows[i])
			if i < len(rows)-1 {
				b.WriteString("\n")
			}
		}
	}
	b.WriteString("]\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 8, 64)
}
