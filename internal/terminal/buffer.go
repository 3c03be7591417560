package terminal

import "github.com/guacfabric/gateway/internal/guac"

// Buffer is the dense rows x cols character grid backing the visible
// terminal area. All mutation is through Set/CopyRect/ClearRect/ScrollUp/
// ScrollDown; there is no cursor state here, since cursor placement is a
// concern of the (out-of-scope) backend driver issuing these calls.
type Buffer struct {
	rows, cols int
	cells      []Cell

	// scrollTop/scrollBottom bound the rows ScrollUp/ScrollDown rotate,
	// inclusive, 0-indexed. By default the whole buffer is the scroll
	// region.
	scrollTop    int
	scrollBottom int

	scrollback *Scrollback
}

// NewBuffer allocates a rows x cols buffer, blank-filled, with scrollback
// capacity rows drawn from spec.md §5 (default 1000).
func NewBuffer(rows, cols, scrollbackRows int) *Buffer {
	b := &Buffer{
		rows:         rows,
		cols:         cols,
		scrollTop:    0,
		scrollBottom: rows - 1,
		scrollback:   NewScrollback(scrollbackRows, cols),
	}
	b.cells = make([]Cell, rows*cols)
	for i := range b.cells {
		b.cells[i] = blankCell
	}
	return b
}

func (b *Buffer) Rows() int { return b.rows }
func (b *Buffer) Cols() int { return b.cols }

func (b *Buffer) index(row, col int) int { return row*b.cols + col }

// Get returns the cell at (row, col).
func (b *Buffer) Get(row, col int) Cell {
	return b.cells[b.index(row, col)]
}

// Set writes a single cell.
func (b *Buffer) Set(row, col int, c Cell) {
	b.cells[b.index(row, col)] = c
}

// SetScrollRegion narrows the rows ScrollUp/ScrollDown affect, matching a
// terminal's DECSTBM-equivalent scroll region.
func (b *Buffer) SetScrollRegion(top, bottom int) {
	if top < 0 {
		top = 0
	}
	if bottom >= b.rows {
		bottom = b.rows - 1
	}
	if top > bottom {
		return
	}
	b.scrollTop = top
	b.scrollBottom = bottom
}

// ClearRect blanks every cell in [row0,row1] x [col0,col1], inclusive.
func (b *Buffer) ClearRect(row0, col0, row1, col1 int) {
	for r := row0; r <= row1; r++ {
		for c := col0; c <= col1; c++ {
			b.cells[b.index(r, c)] = blankCell
		}
	}
}

// CopyRect copies a w x h rectangle from (srcRow, srcCol) to (dstRow,
// dstCol), handling overlap correctly by choosing iteration order from
// the relative position of source and destination.
func (b *Buffer) CopyRect(dstRow, dstCol, srcRow, srcCol, w, h int) {
	if dstRow <= srcRow {
		if dstCol <= srcCol {
			b.copyRectOrdered(dstRow, dstCol, srcRow, srcCol, w, h, 1, 1)
		} else {
			b.copyRectOrdered(dstRow, dstCol, srcRow, srcCol, w, h, 1, -1)
		}
	} else {
		if dstCol <= srcCol {
			b.copyRectOrdered(dstRow, dstCol, srcRow, srcCol, w, h, -1, 1)
		} else {
			b.copyRectOrdered(dstRow, dstCol, srcRow, srcCol, w, h, -1, -1)
		}
	}
}

func (b *Buffer) copyRectOrdered(dstRow, dstCol, srcRow, srcCol, w, h, rowStep, colStep int) {
	rowStart, rowEnd := 0, h
	if rowStep < 0 {
		rowStart, rowEnd = h-1, -1
	}
	colStartBase, colEndBase := 0, w
	if colStep < 0 {
		colStartBase, colEndBase = w-1, -1
	}

	for i := rowStart; i != rowEnd; i += rowStep {
		for j := colStartBase; j != colEndBase; j += colStep {
			b.cells[b.index(dstRow+i, dstCol+j)] = b.cells[b.index(srcRow+i, srcCol+j)]
		}
	}
}

// ScrollUp rotates the scroll region up by one row, pushing the top row
// of the region into scrollback (only when the region spans the whole
// buffer, matching a real terminal's behavior of only retaining history
// for full-screen scrolls) and blanking the newly exposed bottom row.
func (b *Buffer) ScrollUp() {
	if b.scrollTop == 0 && b.scrollBottom == b.rows-1 {
		row := make([]Cell, b.cols)
		copy(row, b.cells[b.index(b.scrollTop, 0):b.index(b.scrollTop, 0)+b.cols])
		b.scrollback.Push(row)
	}

	for r := b.scrollTop; r < b.scrollBottom; r++ {
		copy(b.cells[b.index(r, 0):b.index(r, 0)+b.cols], b.cells[b.index(r+1, 0):b.index(r+1, 0)+b.cols])
	}
	b.ClearRect(b.scrollBottom, 0, b.scrollBottom, b.cols-1)
}

// ScrollDown rotates the scroll region down by one row, discarding the
// bottom row and blanking the newly exposed top row.
func (b *Buffer) ScrollDown() {
	for r := b.scrollBottom; r > b.scrollTop; r-- {
		copy(b.cells[b.index(r, 0):b.index(r, 0)+b.cols], b.cells[b.index(r-1, 0):b.index(r-1, 0)+b.cols])
	}
	b.ClearRect(b.scrollTop, 0, b.scrollTop, b.cols-1)
}

// Scrollback returns the buffer's history ring.
func (b *Buffer) Scrollback() *Scrollback { return b.scrollback }

// Resize changes the buffer's dimensions, preserving the top-left
// overlap of old and new content and reinitializing the rest as blank.
// guac.CheckedMulInt guards against an overflow-sized allocation request.
func (b *Buffer) Resize(rows, cols int) error {
	size, err := guac.CheckedMulInt(rows, cols)
	if err != nil {
		return err
	}

	next := make([]Cell, size)
	for i := range next {
		next[i] = blankCell
	}

	copyRows := min(rows, b.rows)
	copyCols := min(cols, b.cols)
	for r := 0; r < copyRows; r++ {
		for c := 0; c < copyCols; c++ {
			next[r*cols+c] = b.cells[b.index(r, c)]
		}
	}

	b.rows, b.cols, b.cells = rows, cols, next
	b.scrollTop = 0
	b.scrollBottom = rows - 1
	b.scrollback.SetWidth(cols)
	return nil
}
