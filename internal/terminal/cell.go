// Package terminal implements the buffer/scrollback/delta engine spec.md
// §4.E/F describes: a dense character grid, a ring-buffer scrollback, and
// a three-pass delta flush that turns cell-level changes into a minimal
// set of outbound drawing instructions. It is driven by an external
// caller (the backend protocol driver, out of scope here) through Set/
// Copy/Clear/Scroll operations — this package does not itself parse any
// terminal escape sequence grammar.
package terminal

// Color is a packed 8-bit RGBA color, matching the palette/true-color
// representation spec.md §4.F uses for cell foreground/background.
type Color struct {
	R, G, B, A uint8
}

// CellAttrs holds the non-color rendering attributes of one character
// cell. Selected is owned by the selection tracker, not the backend
// driver: it flips when the cell enters or leaves the user's text
// selection and renders as reverse video (reverse XOR selected).
type CellAttrs struct {
	Bold      bool
	Underline bool
	Reverse   bool
	Selected  bool
}

// Cell is a single character position: a rune plus its colors and
// attributes. The zero Cell is a blank space on the default background.
type Cell struct {
	Rune       rune
	Foreground Color
	Background Color
	Attrs      CellAttrs
}

// Equal reports whether two cells render identically.
func (c Cell) Equal(other Cell) bool {
	return c == other
}

var blankCell = Cell{Rune: ' '}
