package cloud

import "errors"

// Error kinds shared by the loader, the transforms and the pipeline.
// Callers match them with errors.Is; producers wrap them with %w.
var (
	// ErrFileFormat reports an unrecognised extension or a corrupt/unreadable file.
	ErrFileFormat = errors.New("file format error")

	// ErrInvalidParameter reports a non-positive or non-finite numeric parameter.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrEmptyCloud reports an operation that needs at least one point.
	ErrEmptyCloud = errors.New("empty point cloud")
)
