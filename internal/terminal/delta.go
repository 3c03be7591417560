package terminal

import (
	"github.com/guacfabric/gateway/internal/protocol"
)

// OpKind identifies what, if anything, a delta cell is pending: spec.md
// §3's {NOP, COPY(src), SET(cell)} triple.
type OpKind int

const (
	OpNOP OpKind = iota
	OpCopy
	OpSet
)

// Op is one pending per-cell draw operation. SrcRow/SrcCol are valid only
// when Kind is OpCopy; Cell is valid only when Kind is OpSet.
type Op struct {
	Kind           OpKind
	SrcRow, SrcCol int
	Cell           Cell
}

// Delta is the pending-operation grid shadowing a terminal's visible
// screen, plus the glyph cache and default-layer coloring state the flush
// passes need. It corresponds to spec.md §4.F.
type Delta struct {
	rows, cols int
	ops        []Op

	glyphs *GlyphCache

	charWidth, charHeight int
}

// NewDelta allocates a delta grid the same shape as a rows x cols visible
// screen. charWidth/charHeight are the glyph cell's pixel dimensions,
// used to translate cell coordinates into the pixel coordinates
// instructions like "copy" and "rect" carry.
func NewDelta(rows, cols, charWidth, charHeight int, session layerSession, defaultFG, defaultBG int) *Delta {
	d := &Delta{
		rows:       rows,
		cols:       cols,
		ops:        make([]Op, rows*cols),
		charWidth:  charWidth,
		charHeight: charHeight,
		glyphs:     NewGlyphCache(session, charWidth, charHeight, defaultFG, defaultBG),
	}
	return d
}

func (d *Delta) index(row, col int) int { return row*d.cols + col }

// Set records a SET operation for one cell. If the cell already carries a
// COPY, the SET replaces it outright (a direct write always wins over a
// stale copy source).
func (d *Delta) Set(row, col int, c Cell) {
	d.ops[d.index(row, col)] = Op{Kind: OpSet, Cell: c}
}

// Copy records a COPY operation for one destination cell sourced from
// (srcRow, srcCol). If the source cell itself already carries a pending
// op, that op is carried forward onto the destination instead of
// layering a COPY-of-a-COPY — spec.md §4.F: "A copy whose source cell
// already has a non-NOP op carries that op forward".
func (d *Delta) Copy(dstRow, dstCol, srcRow, srcCol int) {
	srcOp := d.ops[d.index(srcRow, srcCol)]
	switch srcOp.Kind {
	case OpSet:
		d.ops[d.index(dstRow, dstCol)] = srcOp
	case OpCopy:
		d.ops[d.index(dstRow, dstCol)] = Op{Kind: OpCopy, SrcRow: srcOp.SrcRow, SrcCol: srcOp.SrcCol}
	default:
		d.ops[d.index(dstRow, dstCol)] = Op{Kind: OpCopy, SrcRow: srcRow, SrcCol: srcCol}
	}
}

// Clear records a SET(blank) operation for every cell in the given
// rectangle, inclusive.
func (d *Delta) Clear(row0, col0, row1, col1 int, bg Color) {
	blank := Cell{Rune: ' ', Background: bg}
	for r := row0; r <= row1; r++ {
		for c := col0; c <= col1; c++ {
			d.Set(r, c, blank)
		}
	}
}

// Resize reshapes the delta grid after a terminal resize, discarding any
// pending ops. The glyph cache survives: glyph slots and coloring state
// are independent of the screen's dimensions. The caller is expected to
// follow up by marking the whole new screen dirty, since pending ops for
// the old shape no longer map to valid positions.
func (d *Delta) Resize(rows, cols int) {
	d.rows, d.cols = rows, cols
	d.ops = make([]Op, rows*cols)
}

// IsAllNOP reports whether every cell in the delta grid is unset,
// satisfying spec.md §8's post-flush invariant. Exposed for tests.
func (d *Delta) IsAllNOP() bool {
	for _, op := range d.ops {
		if op.Kind != OpNOP {
			return false
		}
	}
	return true
}

// layerSession is the subset of internal/session.Session the glyph cache
// needs to allocate its two offscreen buffers.
type layerSession interface {
	AllocBuffer() (int, error)
}

// Flush runs the three-pass flush order spec.md §4.F mandates — copy
// pass, then clear pass, then set pass — emitting the resulting
// instructions to sock. After Flush returns, every cell is back to NOP
// (spec.md §8's flush invariant).
func (d *Delta) Flush(sock protocol.Socket) error {
	sock.InstructionBegin()
	defer sock.InstructionEnd()

	if err := d.flushCopy(sock); err != nil {
		return err
	}
	if err := d.flushClear(sock); err != nil {
		return err
	}
	return d.flushSet(sock)
}

// flushCopy implements __guac_terminal_delta_flush_copy: find maximal
// translated rectangles of COPY ops and emit one "copy" instruction per
// rectangle, in cell-to-pixel coordinates.
func (d *Delta) flushCopy(sock protocol.Socket) error {
	for row := 0; row < d.rows; row++ {
		for col := 0; col < d.cols; col++ {
			op := d.ops[d.index(row, col)]
			if op.Kind != OpCopy {
				continue
			}

			width, height := d.growCopyRect(row, col, op.SrcRow, op.SrcCol)
			d.clearCopyRect(row, col, op.SrcRow, op.SrcCol, width, height)

			inst := protocol.NewInstruction(protocol.OpCopy).
				Int(int64(protocol.DefaultLayer)).
				Int(int64(op.SrcCol * d.charWidth)).
				Int(int64(op.SrcRow * d.charHeight)).
				Int(int64(width * d.charWidth)).
				Int(int64(height * d.charHeight)).
				Int(int64(protocol.ModeOver)).
				Int(int64(protocol.DefaultLayer)).
				Int(int64(col * d.charWidth)).
				Int(int64(row * d.charHeight))
			if err := sock.WriteInstruction(inst); err != nil {
				return err
			}
		}
	}
	return nil
}

// growCopyRect finds the maximal rectangle, rooted at (row,col), of COPY
// ops that are all translated by the same (srcRow-row, srcCol-col)
// offset — mirroring the original's row-by-row width/height detection:
// each subsequent row may only be as wide or narrower (down to the
// already-detected right bound), never wider.
func (d *Delta) growCopyRect(row, col, srcRow, srcCol int) (width, height int) {
	detectedRight := -1
	detectedBottom := row

	for r := row; r < d.rows; r++ {
		expectedSrcRow := srcRow + (r - row)
		rightmost := -1
		for c := col; c < d.cols; c++ {
			expectedSrcCol := srcCol + (c - col)
			op := d.ops[d.index(r, c)]
			if op.Kind != OpCopy || op.SrcRow != expectedSrcRow || op.SrcCol != expectedSrcCol {
				break
			}
			rightmost = c
		}

		if rightmost < detectedRight {
			break
		}
		detectedBottom = r
		if detectedRight == -1 {
			detectedRight = rightmost
		}
	}

	return detectedRight - col + 1, detectedBottom - row + 1
}

func (d *Delta) clearCopyRect(row, col, srcRow, srcCol, width, height int) {
	for r := 0; r < height; r++ {
		expectedSrcRow := srcRow + r
		for c := 0; c < width; c++ {
			expectedSrcCol := srcCol + c
			idx := d.index(row+r, col+c)
			op := d.ops[idx]
			if op.Kind == OpCopy && op.SrcRow == expectedSrcRow && op.SrcCol == expectedSrcCol {
				d.ops[idx] = Op{}
			}
		}
	}
}

// flushClear implements __guac_terminal_delta_flush_clear: find maximal
// rectangles of SET(' ') ops whose effective background color (reverse/
// selection aware) matches, and emit one "rect"+"cfill" pair per
// rectangle instead of per-cell glyph draws.
func (d *Delta) flushClear(sock protocol.Socket) error {
	for row := 0; row < d.rows; row++ {
		for col := 0; col < d.cols; col++ {
			op := d.ops[d.index(row, col)]
			if op.Kind != OpSet || op.Cell.Rune != ' ' {
				continue
			}
			color := effectiveBackground(op.Cell)

			width, height := d.growClearRect(row, col, color)
			d.clearClearRect(row, col, width, height, color)

			rect := protocol.NewInstruction(protocol.OpRect).
				Int(int64(protocol.DefaultLayer)).
				Int(int64(col * d.charWidth)).
				Int(int64(row * d.charHeight)).
				Int(int64(width * d.charWidth)).
				Int(int64(height * d.charHeight))
			if err := sock.WriteInstruction(rect); err != nil {
				return err
			}

			fill := protocol.NewInstruction(protocol.OpCfill).
				Int(int64(protocol.ModeOver)).
				Int(int64(protocol.DefaultLayer)).
				Int(int64(color.R)).Int(int64(color.G)).Int(int64(color.B)).Int(255)
			if err := sock.WriteInstruction(fill); err != nil {
				return err
			}
		}
	}
	return nil
}

// effectiveBackground returns the color a blank cell actually renders
// with, honoring the reverse-video/selected XOR the original's
// __guac_terminal_delta_flush_clear uses: reverse XOR selected swaps fg
// and bg.
func effectiveBackground(c Cell) Color {
	if c.Attrs.Reverse != c.Attrs.Selected {
		return c.Foreground
	}
	return c.Background
}

func (d *Delta) growClearRect(row, col int, color Color) (width, height int) {
	detectedRight := -1
	detectedBottom := row

	for r := row; r < d.rows; r++ {
		rightmost := -1
		for c := col; c < d.cols; c++ {
			op := d.ops[d.index(r, c)]
			if op.Kind != OpSet || op.Cell.Rune != ' ' || effectiveBackground(op.Cell) != color {
				break
			}
			rightmost = c
		}
		if rightmost < detectedRight {
			break
		}
		detectedBottom = r
		if detectedRight == -1 {
			detectedRight = rightmost
		}
	}

	return detectedRight - col + 1, detectedBottom - row + 1
}

func (d *Delta) clearClearRect(row, col, width, height int, color Color) {
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			idx := d.index(row+r, col+c)
			op := d.ops[idx]
			if op.Kind == OpSet && op.Cell.Rune == ' ' && effectiveBackground(op.Cell) == color {
				d.ops[idx] = Op{}
			}
		}
	}
}

// flushSet implements __guac_terminal_delta_flush_set: every remaining
// SET op re-tints the glyph cache as needed, then copies the glyph into
// the default layer at the cell's pixel position.
func (d *Delta) flushSet(sock protocol.Socket) error {
	for row := 0; row < d.rows; row++ {
		for col := 0; col < d.cols; col++ {
			idx := d.index(row, col)
			op := d.ops[idx]
			if op.Kind != OpSet {
				continue
			}

			if err := d.glyphs.SetColors(sock, op.Cell); err != nil {
				return err
			}
			if err := d.glyphs.DrawGlyph(sock, op.Cell.Rune, row, col); err != nil {
				return err
			}
			d.ops[idx] = Op{}
		}
	}
	return nil
}
