package pcio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/monitoring"
)

// Format identifies an on-disk point cloud encoding.
type Format string

const (
	FormatPLY    Format = "ply"
	FormatPCD    Format = "pcd"
	FormatXYZ    Format = "xyz"
	FormatXYZN   Format = "xyzn"
	FormatXYZRGB Format = "xyzrgb"
	FormatPTS    Format = "pts"
)

// FormatFromPath infers the format from the file extension (case-insensitive).
func FormatFromPath(path string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch Format(ext) {
	case FormatPLY, FormatPCD, FormatXYZ, FormatXYZN, FormatXYZRGB, FormatPTS:
		return Format(ext), nil
	case "":
		return "", fmt.Errorf("%s: missing file extension: %w", path, cloud.ErrFileFormat)
	default:
		return "", fmt.Errorf("%s: unrecognised extension %q: %w", path, ext, cloud.ErrFileFormat)
	}
}

// ReadOptions tunes decoding.
type ReadOptions struct {
	// KeepNormals retains normals stored in the file. By default a loaded
	// cloud carries no normals.
	KeepNormals bool
}

// Read loads the point cloud at path with default options.
func Read(path string) (*cloud.PointCloud, error) {
	return ReadFile(path, ReadOptions{})
}

// ReadFile loads the point cloud at path. Missing or unreadable files are
// reported as cloud.ErrFileFormat wrapping the underlying os error.
func ReadFile(path string, opts ReadOptions) (*cloud.PointCloud, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, cloud.ErrFileFormat, err)
	}
	defer f.Close()

	c, err := Decode(f, format, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	monitoring.Debugf("pcio: loaded %d points from %s in %v", c.Len(), path, time.Since(start).Round(time.Millisecond))
	return c, nil
}

// Decode parses a point cloud of the given format from r.
func Decode(r io.Reader, format Format, opts ReadOptions) (*cloud.PointCloud, error) {
	br := bufio.NewReaderSize(r, 1<<16)

	var (
		c   *cloud.PointCloud
		err error
	)
	switch format {
	case FormatPLY:
		c, err = decodePLY(br)
	case FormatPCD:
		c, err = decodePCD(br)
	case FormatXYZ, FormatXYZN, FormatXYZRGB, FormatPTS:
		c, err = decodeText(br, format)
	default:
		return nil, fmt.Errorf("unsupported format %q: %w", format, cloud.ErrFileFormat)
	}
	if err != nil {
		return nil, err
	}
	if !opts.KeepNormals {
		c.Normals = nil
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, cloud.ErrFileFormat)
	}
	return c, nil
}

// WriteOptions tunes encoding.
type WriteOptions struct {
	// Binary selects the binary body for PLY and PCD. Text formats ignore it.
	Binary bool
}

// Write saves c to path, choosing the format from the extension.
func Write(path string, c *cloud.PointCloud, opts WriteOptions) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Encode(f, format, c, opts); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Encode serialises c in the given format to w.
func Encode(w io.Writer, format Format, c *cloud.PointCloud, opts WriteOptions) error {
	bw := bufio.NewWriterSize(w, 1<<16)
	var err error
	switch format {
	case FormatPLY:
		err = encodePLY(bw, c, opts.Binary)
	case FormatPCD:
		err = encodePCD(bw, c, opts.Binary)
	case FormatXYZ, FormatXYZN, FormatXYZRGB, FormatPTS:
		err = encodeText(bw, c, format)
	default:
		return fmt.Errorf("unsupported format %q: %w", format, cloud.ErrFileFormat)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

// formatErrorf builds a decode error that matches cloud.ErrFileFormat.
func formatErrorf(format string, v ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, v...), cloud.ErrFileFormat)
}

// maxPrealloc bounds the capacity reserved from a header point count. Counts
// come from untrusted files; slices beyond this grow as points are read.
const maxPrealloc = 1 << 20

func preallocCap(n int) int {
	return min(max(n, 0), maxPrealloc)
}
