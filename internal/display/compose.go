package display

import "github.com/guacfabric/gateway/internal/protocol"

// Mode is the masked-region compositing operator selector, reusing the wire
// protocol's CompositingMode values directly so "copy"/"cfill"/"transfer"
// instructions can be dispatched into Buffer operations without a
// translation table.
type Mode = protocol.CompositingMode

const (
	ModeRout  = protocol.ModeRout
	ModeAtop  = protocol.ModeAtop
	ModeXor   = protocol.ModeXor
	ModeRover = protocol.ModeRover
	ModeOver  = protocol.ModeOver
	ModePlus  = protocol.ModePlus
	ModeSrc   = protocol.ModeSrc
	ModeIn    = protocol.ModeIn
	ModeOut   = protocol.ModeOut
	ModeRin   = protocol.ModeRin
	ModeRatop = protocol.ModeRatop
)

// compose blends src over dst under mode's 4-bit channel mask: spec.md
// §4.F's "{source∩dst', source∩dst, dst∩src', dst∩src}" region selector,
// which is exactly the Porter-Duff Fa/Fb weighting with on/off terms instead
// of continuous coverage fractions. Bit 3 (A) through bit 0 (D) pick which
// of the four mutually-exclusive regions show through.
func compose(mode Mode, src, dst pixel) pixel {
	a := mode&0x8 != 0 // source where destination transparent
	b := mode&0x4 != 0 // source where destination opaque
	c := mode&0x2 != 0 // destination where source transparent
	d := mode&0x1 != 0 // destination where source opaque

	sa := float64(src.A) / 255
	da := float64(dst.A) / 255

	fa := boolToF(a)*(1-da) + boolToF(b)*da
	fb := boolToF(c)*(1-sa) + boolToF(d)*sa

	outA := fa*sa + fb*da
	if mode == ModePlus {
		// Additive: both terms contribute fully rather than being
		// mutually-exclusive regions.
		outA = sa + da
		if outA > 1 {
			outA = 1
		}
	}

	blend := func(s, dd uint8) uint8 {
		sp := float64(s) / 255 * sa
		dp := float64(dd) / 255 * da
		var out float64
		if mode == ModePlus {
			out = sp + dp
		} else {
			out = fa*sp + fb*dp
		}
		if out > 1 {
			out = 1
		}
		if outA > 0 {
			return clamp255(out / outA * 255)
		}
		return 0
	}

	return pixel{
		R: blend(src.R, dst.R),
		G: blend(src.G, dst.G),
		B: blend(src.B, dst.B),
		A: clamp255(outA * 255),
	}
}

func boolToF(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func clamp255(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
