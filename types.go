package gpgpu

// Resource IDs
//
// These opaque IDs represent device resources. Each Device implementation
// maintains the mapping between IDs and its actual resources.

// TargetID is an opaque handle to a device render target: a width×height
// buffer of four-component pixels.
type TargetID uint64

// ProgramID is an opaque handle to a compiled per-step program.
type ProgramID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// TextureFormat specifies the storage precision of a target.
type TextureFormat uint32

// Target formats, from highest to lowest precision.
const (
	// TextureFormatRGBA32Float is 32-bit float RGBA.
	TextureFormatRGBA32Float TextureFormat = iota + 1

	// TextureFormatRGBA16Float is 16-bit (half) float RGBA.
	TextureFormatRGBA16Float

	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	// Values are clamped to [0, 1].
	TextureFormatRGBA8Unorm
)

// String returns the format name.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA32Float:
		return "rgba32float"
	case TextureFormatRGBA16Float:
		return "rgba16float"
	case TextureFormatRGBA8Unorm:
		return "rgba8unorm"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the format stores floating-point values.
func (f TextureFormat) IsFloat() bool {
	return f == TextureFormatRGBA32Float || f == TextureFormatRGBA16Float
}

// Capabilities describes what a device can provide.
type Capabilities struct {
	// FloatTargets indicates support for TextureFormatRGBA32Float targets.
	FloatTargets bool

	// HalfFloatTargets indicates support for TextureFormatRGBA16Float targets.
	HalfFloatTargets bool

	// MaxTargetSize is the largest supported width or height.
	// Zero means unlimited.
	MaxTargetSize int
}

// bestFormat picks the most precise format the device supports.
// reduced is true when 32-bit floats are not available.
func (c Capabilities) bestFormat() (f TextureFormat, reduced bool) {
	switch {
	case c.FloatTargets:
		return TextureFormatRGBA32Float, false
	case c.HalfFloatTargets:
		return TextureFormatRGBA16Float, true
	default:
		return TextureFormatRGBA8Unorm, true
	}
}
