package pcio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"gonum.org/v1/gonum/spatial/r3"
)

type pcdField struct {
	name   string
	kind   scalarKind
	count  int
	offset int // byte offset within a binary record
}

type pcdHeader struct {
	fields []pcdField
	width  int
	height int
	points int
	data   string
	stride int
}

func (h *pcdHeader) index(name string) int {
	for i, f := range h.fields {
		if f.name == name {
			return i
		}
	}
	return -1
}

func readPCDHeader(r *bufio.Reader) (*pcdHeader, error) {
	h := &pcdHeader{points: -1}
	var sizes, counts []int
	var types []string

	for lines := 0; ; lines++ {
		if lines > maxPLYHeader {
			return nil, formatErrorf("pcd: header too long")
		}
		line, err := readHeaderLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		key, args := strings.ToUpper(fields[0]), fields[1:]

		switch key {
		case "VERSION", "VIEWPOINT":
		case "FIELDS":
			for _, name := range args {
				h.fields = append(h.fields, pcdField{name: name})
			}
		case "SIZE":
			if sizes, err = atoiAll(args); err != nil {
				return nil, err
			}
		case "TYPE":
			types = args
		case "COUNT":
			if counts, err = atoiAll(args); err != nil {
				return nil, err
			}
		case "WIDTH":
			if h.width, err = atoiOne(args); err != nil {
				return nil, err
			}
		case "HEIGHT":
			if h.height, err = atoiOne(args); err != nil {
				return nil, err
			}
		case "POINTS":
			if h.points, err = atoiOne(args); err != nil {
				return nil, err
			}
		case "DATA":
			if len(args) != 1 {
				return nil, formatErrorf("pcd: malformed DATA line %q", line)
			}
			h.data = strings.ToLower(args[0])
			if err := h.finish(sizes, types, counts); err != nil {
				return nil, err
			}
			return h, nil
		default:
			return nil, formatErrorf("pcd: unknown header keyword %q", fields[0])
		}
	}
}

func (h *pcdHeader) finish(sizes []int, types []string, counts []int) error {
	if len(h.fields) == 0 {
		return formatErrorf("pcd: missing FIELDS")
	}
	if len(sizes) != len(h.fields) || len(types) != len(h.fields) {
		return formatErrorf("pcd: FIELDS/SIZE/TYPE length mismatch")
	}
	if counts != nil && len(counts) != len(h.fields) {
		return formatErrorf("pcd: FIELDS/COUNT length mismatch")
	}
	for i := range h.fields {
		f := &h.fields[i]
		f.kind = pcdKind(strings.ToUpper(types[i]), sizes[i])
		if f.kind == kindInvalid {
			return formatErrorf("pcd: unsupported field type %s%d for %q", types[i], sizes[i], f.name)
		}
		f.count = 1
		if counts != nil {
			f.count = counts[i]
		}
		if f.count < 1 {
			return formatErrorf("pcd: invalid COUNT %d for %q", f.count, f.name)
		}
		f.offset = h.stride
		h.stride += f.count * sizes[i]
	}
	if h.points < 0 {
		rows := max(h.height, 1)
		if h.width > math.MaxInt/rows {
			return formatErrorf("pcd: WIDTH %d x HEIGHT %d overflows", h.width, rows)
		}
		h.points = h.width * rows
	}
	if h.index("x") < 0 || h.index("y") < 0 || h.index("z") < 0 {
		return formatErrorf("pcd: FIELDS lacks x/y/z")
	}
	switch h.data {
	case "ascii", "binary":
	default:
		return formatErrorf("pcd: unsupported DATA %q", h.data)
	}
	return nil
}

func atoiAll(args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, formatErrorf("pcd: invalid integer %q", a)
		}
		out[i] = v
	}
	return out, nil
}

func atoiOne(args []string) (int, error) {
	if len(args) != 1 {
		return 0, formatErrorf("pcd: expected one value, got %d", len(args))
	}
	v, err := strconv.Atoi(args[0])
	if err != nil || v < 0 {
		return 0, formatErrorf("pcd: invalid integer %q", args[0])
	}
	return v, nil
}

// unpackRGB splits a PCL packed colour (0x00RRGGBB stored in a float or
// uint32 field) into [0,1] channels.
func unpackRGB(v float64, kind scalarKind) r3.Vec {
	var bits uint32
	if kind == kindFloat32 {
		bits = math.Float32bits(float32(v))
	} else {
		bits = uint32(v)
	}
	return r3.Vec{
		X: float64((bits>>16)&0xff) / 255,
		Y: float64((bits>>8)&0xff) / 255,
		Z: float64(bits&0xff) / 255,
	}
}

func packRGB(c r3.Vec) uint32 {
	return uint32(toByte(c.X))<<16 | uint32(toByte(c.Y))<<8 | uint32(toByte(c.Z))
}

func decodePCD(r *bufio.Reader) (*cloud.PointCloud, error) {
	h, err := readPCDHeader(r)
	if err != nil {
		return nil, err
	}

	ix, iy, iz := h.index("x"), h.index("y"), h.index("z")
	nx, ny, nz := h.index("normal_x"), h.index("normal_y"), h.index("normal_z")
	irgb := h.index("rgb")
	if irgb < 0 {
		irgb = h.index("rgba")
	}

	n := preallocCap(h.points)
	c := &cloud.PointCloud{Points: make([]r3.Vec, 0, n)}
	hasNormals := nx >= 0 && ny >= 0 && nz >= 0
	if hasNormals {
		c.Normals = make([]r3.Vec, 0, n)
	}
	if irgb >= 0 {
		c.Colors = make([]r3.Vec, 0, n)
	}

	// first value of each field for the current point
	values := make([]float64, len(h.fields))
	emit := func() {
		c.Points = append(c.Points, r3.Vec{X: values[ix], Y: values[iy], Z: values[iz]})
		if hasNormals {
			c.Normals = append(c.Normals, r3.Vec{X: values[nx], Y: values[ny], Z: values[nz]})
		}
		if irgb >= 0 {
			c.Colors = append(c.Colors, unpackRGB(values[irgb], h.fields[irgb].kind))
		}
	}

	switch h.data {
	case "binary":
		rec := make([]byte, h.stride)
		for i := 0; i < h.points; i++ {
			if _, err := io.ReadFull(r, rec); err != nil {
				return nil, formatErrorf("pcd: truncated binary body at point %d: %v", i, err)
			}
			for j, f := range h.fields {
				values[j] = f.kind.decode(rec[f.offset:], binary.LittleEndian)
			}
			emit()
		}
	case "ascii":
		s := bufio.NewScanner(r)
		s.Buffer(make([]byte, 64*1024), 1<<20)
		for i := 0; i < h.points; {
			if !s.Scan() {
				if err := s.Err(); err != nil {
					return nil, fmt.Errorf("pcd: %w: %w", cloud.ErrFileFormat, err)
				}
				return nil, formatErrorf("pcd: expected %d points, got %d", h.points, i)
			}
			tokens := strings.Fields(s.Text())
			if len(tokens) == 0 {
				continue
			}
			t := 0
			for j, f := range h.fields {
				if t+f.count > len(tokens) {
					return nil, formatErrorf("pcd: point %d has %d values, header needs more", i, len(tokens))
				}
				v, err := parsePCDToken(tokens[t], f.kind)
				if err != nil {
					return nil, err
				}
				values[j] = v
				t += f.count
			}
			emit()
			i++
		}
	}
	return c, nil
}

// parsePCDToken parses one ascii value. Packed float rgb is written by PCL
// as a float whose bit pattern holds the colour, so it is read as float32.
func parsePCDToken(tok string, kind scalarKind) (float64, error) {
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, formatErrorf("pcd: invalid number %q", tok)
	}
	if kind == kindFloat32 {
		return float64(float32(v)), nil
	}
	return v, nil
}

func encodePCD(w *bufio.Writer, c *cloud.PointCloud, binaryBody bool) error {
	fields := []string{"x", "y", "z"}
	sizes := []string{"8", "8", "8"}
	types := []string{"F", "F", "F"}
	if c.HasNormals() {
		fields = append(fields, "normal_x", "normal_y", "normal_z")
		sizes = append(sizes, "8", "8", "8")
		types = append(types, "F", "F", "F")
	}
	if c.HasColors() {
		fields = append(fields, "rgb")
		sizes = append(sizes, "4")
		types = append(types, "U")
	}
	counts := strings.TrimSpace(strings.Repeat("1 ", len(fields)))
	data := "ascii"
	if binaryBody {
		data = "binary"
	}

	fmt.Fprintf(w, "# .PCD v0.7 - Point Cloud Data file format\nVERSION 0.7\n")
	fmt.Fprintf(w, "FIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\n",
		strings.Join(fields, " "), strings.Join(sizes, " "), strings.Join(types, " "), counts)
	fmt.Fprintf(w, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n", c.Len(), c.Len())
	if _, err := fmt.Fprintf(w, "DATA %s\n", data); err != nil {
		return err
	}

	var buf [8]byte
	for i, p := range c.Points {
		vals := []float64{p.X, p.Y, p.Z}
		if c.HasNormals() {
			n := c.Normals[i]
			vals = append(vals, n.X, n.Y, n.Z)
		}

		if !binaryBody {
			strs := make([]string, len(vals), len(vals)+1)
			for j, v := range vals {
				strs[j] = ftoa(v)
			}
			if c.HasColors() {
				strs = append(strs, strconv.FormatUint(uint64(packRGB(c.Colors[i])), 10))
			}
			if _, err := fmt.Fprintln(w, strings.Join(strs, " ")); err != nil {
				return err
			}
			continue
		}

		for _, v := range vals {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
		if c.HasColors() {
			binary.LittleEndian.PutUint32(buf[:4], packRGB(c.Colors[i]))
			if _, err := w.Write(buf[:4]); err != nil {
				return err
			}
		}
	}
	return nil
}
