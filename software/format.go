package software

import (
	"math"

	"github.com/gogpu/gpgpu"
)

// quantizer returns the function that rounds a value to what a target of
// format f can store.
func quantizer(f gpgpu.TextureFormat) func(float32) float32 {
	switch f {
	case gpgpu.TextureFormatRGBA16Float:
		return quantizeHalf
	case gpgpu.TextureFormatRGBA8Unorm:
		return quantizeUnorm8
	default:
		return nil
	}
}

// storeRow copies src into dst, rounding each value through q.
// A nil q copies exactly.
func storeRow(dst, src []float32, q func(float32) float32) {
	if q == nil {
		copy(dst, src)
		return
	}
	for i, v := range src {
		dst[i] = q(v)
	}
}

func quantizeHalf(v float32) float32 {
	return halfToFloat32(float32ToHalf(v))
}

func quantizeUnorm8(v float32) float32 {
	switch {
	case v != v || v <= 0: // NaN or negative
		return 0
	case v >= 1:
		return 1
	}
	return float32(math.Round(float64(v)*255)) / 255
}

// float32ToHalf converts to IEEE 754 binary16 with round-to-nearest-even.
// Values too large for a half become infinity.
func float32ToHalf(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int((b >> 23) & 0xff)
	mant := b & 0x7fffff

	if exp == 0xff {
		if mant != 0 {
			return sign | 0x7e00 // quiet NaN
		}
		return sign | 0x7c00
	}

	e := exp - 127 + 15
	if e >= 0x1f {
		return sign | 0x7c00
	}

	if e <= 0 {
		// Subnormal half (or zero).
		if e < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - e)
		half := mant >> shift
		rem := mant & (1<<shift - 1)
		halfway := uint32(1) << (shift - 1)
		if rem > halfway || (rem == halfway && half&1 == 1) {
			half++
		}
		return sign | uint16(half)
	}

	half := uint32(e)<<10 | mant>>13
	rem := mant & 0x1fff
	if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
		half++ // may carry into the exponent, which rounds up correctly
	}
	return sign | uint16(half)
}

// halfToFloat32 converts an IEEE 754 binary16 value to float32 exactly.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		return math.Float32frombits(sign | e<<23 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}
