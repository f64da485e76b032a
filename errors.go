package gpgpu

import "errors"

// Configuration errors. These are returned while the renderer is being set
// up and leave it unchanged.
var (
	// ErrNilDevice is returned when NewRenderer is called without a device.
	ErrNilDevice = errors.New("gpgpu: device is required")

	// ErrInvalidSize is returned for a non-positive grid size.
	ErrInvalidSize = errors.New("gpgpu: invalid grid size")

	// ErrEmptyName is returned when a variable is registered without a name.
	ErrEmptyName = errors.New("gpgpu: variable name is empty")

	// ErrDuplicateVariable is returned when a variable name is already registered.
	ErrDuplicateVariable = errors.New("gpgpu: duplicate variable name")

	// ErrNilImage is returned when a variable is registered without an initial image.
	ErrNilImage = errors.New("gpgpu: initial image is nil")

	// ErrDimensionMismatch is returned when an image does not match the grid size.
	ErrDimensionMismatch = errors.New("gpgpu: image dimensions do not match grid")

	// ErrUnknownVariable is returned for a nil variable or one registered
	// on another renderer.
	ErrUnknownVariable = errors.New("gpgpu: unknown variable")

	// ErrUnknownTarget is returned for a target not owned by the renderer.
	ErrUnknownTarget = errors.New("gpgpu: unknown target")

	// ErrNoFloatTargets is returned when Config.RequireFloatTargets is set
	// and the device cannot store 32-bit float pixels.
	ErrNoFloatTargets = errors.New("gpgpu: device does not support float targets")
)

// Lifecycle errors.
var (
	// ErrInitialized is returned when the configuration is changed, or Init
	// is called again, after Init.
	ErrInitialized = errors.New("gpgpu: renderer already initialized")

	// ErrNotInitialized is returned by Compute before Init.
	ErrNotInitialized = errors.New("gpgpu: renderer not initialized")

	// ErrClosed is returned by any operation on a closed renderer.
	ErrClosed = errors.New("gpgpu: renderer closed")
)

// Execution errors.
var (
	// ErrProgram wraps every per-step program compilation failure. It is
	// fatal: the program the caller supplied cannot run on the device.
	ErrProgram = errors.New("gpgpu: program error")

	// ErrAliasedTarget is returned when a pass would read the target it
	// writes.
	ErrAliasedTarget = errors.New("gpgpu: pass output aliases an input")

	// ErrUnknownProgram is returned by devices for an unknown program ID.
	ErrUnknownProgram = errors.New("gpgpu: unknown program")
)
