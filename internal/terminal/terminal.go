package terminal

import (
	"strings"
	"sync"

	"github.com/guacfabric/gateway/internal/protocol"
)

// Terminal ties the buffer, scrollback, delta grid, and selection tracker
// together behind one coarse mutex, the concurrency model spec.md §5
// assigns to the terminal: every public operation locks the whole
// terminal, since callers arrive from several threads (the backend
// driver writing output, user input handlers scrolling the display or
// dragging a selection) and the buffer/delta pair must mutate together.
//
// Buffer mutations only touch the delta when they land inside the
// currently-visible window: with a positive scroll offset the bottom
// rows of the live buffer are off screen, and redrawing them would waste
// instructions on cells the viewer cannot see. They are repainted when
// the display scrolls back down.
type Terminal struct {
	mu sync.Mutex

	buf   *Buffer
	delta *Delta
	sel   *Selection

	// scrollOffset counts how many rows of history the viewer has
	// scrolled into view: visible row v shows scrollback for
	// v < scrollOffset and live buffer row v-scrollOffset otherwise.
	scrollOffset int

	rows, cols int

	defaultBG Color
}

// NewTerminal creates a rows x cols terminal with the given scrollback
// capacity and glyph cell pixel dimensions. session provides the two
// offscreen buffers the glyph cache draws through.
func NewTerminal(rows, cols, scrollbackRows, charWidth, charHeight int, session layerSession) *Terminal {
	return &Terminal{
		buf:   NewBuffer(rows, cols, scrollbackRows),
		delta: NewDelta(rows, cols, charWidth, charHeight, session, 7, 0),
		sel:   NewSelection(cols),
		rows:  rows,
		cols:  cols,
	}
}

func (t *Terminal) Rows() int { return t.rows }
func (t *Terminal) Cols() int { return t.cols }

// ScrollOffset reports how many history rows are currently scrolled into
// view.
func (t *Terminal) ScrollOffset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scrollOffset
}

// visibleRow maps a live buffer row to its on-screen row, reporting
// false when the buffer row is pushed below the window by the current
// scroll offset.
func (t *Terminal) visibleRow(bufRow int) (int, bool) {
	v := bufRow + t.scrollOffset
	if v >= 0 && v < t.rows {
		return v, true
	}
	return 0, false
}

func (t *Terminal) setLocked(row, col int, c Cell) {
	t.buf.Set(row, col, c)
	if v, ok := t.visibleRow(row); ok {
		t.delta.Set(v, col, c)
	}
}

// Set writes one cell of the live buffer, annotating the delta when the
// cell is on screen.
func (t *Terminal) Set(row, col int, c Cell) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(row, col, c)
}

// Get returns the live buffer cell at (row, col).
func (t *Terminal) Get(row, col int) Cell {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Get(row, col)
}

// Clear blanks every cell in [row0,row1] x [col0,col1] inclusive, using
// bg as the background of the cleared cells.
func (t *Terminal) Clear(row0, col0, row1, col1 int, bg Color) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked(row0, col0, row1, col1, bg)
}

func (t *Terminal) clearLocked(row0, col0, row1, col1 int, bg Color) {
	blank := Cell{Rune: ' ', Background: bg}
	for r := row0; r <= row1; r++ {
		for c := col0; c <= col1; c++ {
			t.setLocked(r, c, blank)
		}
	}
}

// ClearRange clears from (r0,c0) through (r1,c1) in document order: the
// tail of the first row, every full row between, and the head of the
// last row. This is the "clear to end of screen"-shaped operation, not a
// rectangle.
func (t *Terminal) ClearRange(r0, c0, r1, c1 int, bg Color) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r0 == r1 {
		t.clearLocked(r0, c0, r1, c1, bg)
		return
	}
	t.clearLocked(r0, c0, r0, t.cols-1, bg)
	if r1 > r0+1 {
		t.clearLocked(r0+1, 0, r1-1, t.cols-1, bg)
	}
	t.clearLocked(r1, 0, r1, c1, bg)
}

// Copy moves a w x h cell rectangle from (srcRow, srcCol) to (dstRow,
// dstCol) in the live buffer, recording matching COPY ops in the delta.
// Iteration order follows the rectangles' relative positions so an
// overlapping move never reads a cell it has already overwritten — the
// same aliasing discipline Buffer.CopyRect applies, mirrored here so the
// delta's pending-op carry-forward sees sources before they change.
func (t *Terminal) Copy(dstRow, dstCol, srcRow, srcCol, w, h int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rowStep, colStep := 1, 1
	if dstRow > srcRow {
		rowStep = -1
	}
	if dstCol > srcCol {
		colStep = -1
	}

	rowStart, rowEnd := 0, h
	if rowStep < 0 {
		rowStart, rowEnd = h-1, -1
	}
	colStart, colEnd := 0, w
	if colStep < 0 {
		colStart, colEnd = w-1, -1
	}

	for i := rowStart; i != rowEnd; i += rowStep {
		for j := colStart; j != colEnd; j += colStep {
			dv, dok := t.visibleRow(dstRow + i)
			sv, sok := t.visibleRow(srcRow + i)
			if dok {
				if sok {
					t.delta.Copy(dv, dstCol+j, sv, srcCol+j)
				} else {
					t.delta.Set(dv, dstCol+j, t.buf.Get(srcRow+i, srcCol+j))
				}
			}
			t.buf.Set(dstRow+i, dstCol+j, t.buf.Get(srcRow+i, srcCol+j))
		}
	}
}

// SetScrollRegion narrows the rows ScrollUp/ScrollDown rotate.
func (t *Terminal) SetScrollRegion(top, bottom int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.SetScrollRegion(top, bottom)
}

// ScrollUp scrolls the region [start, end] up by n rows: rows leave off
// the top (into scrollback when the region spans the whole screen) and n
// blank rows appear at the bottom. The delta records the surviving rows
// as one translated COPY block and the exposed band as blank SETs, so a
// flush turns a full-screen scroll into a single "copy" plus one clear
// rectangle.
func (t *Terminal) ScrollUp(start, end, n int, bg Color) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 {
		return
	}
	if n > end-start+1 {
		n = end - start + 1
	}

	t.buf.SetScrollRegion(start, end)

	// Annotate the delta before the buffer rotates: COPY sources refer
	// to what is on screen now, which is the pre-rotation content.
	for r := start; r <= end-n; r++ {
		dv, dok := t.visibleRow(r)
		sv, sok := t.visibleRow(r + n)
		if !dok {
			continue
		}
		for c := 0; c < t.cols; c++ {
			if sok {
				t.delta.Copy(dv, c, sv, c)
			} else {
				t.delta.Set(dv, c, t.buf.Get(r+n, c))
			}
		}
	}

	for i := 0; i < n; i++ {
		t.buf.ScrollUp()
	}

	blank := Cell{Rune: ' ', Background: bg}
	for r := end - n + 1; r <= end; r++ {
		if dv, ok := t.visibleRow(r); ok {
			for c := 0; c < t.cols; c++ {
				t.delta.Set(dv, c, blank)
			}
		}
	}
}

// ScrollDown scrolls the region [start, end] down by n rows. Rows leave
// off the bottom and are discarded; scrollback is never involved.
func (t *Terminal) ScrollDown(start, end, n int, bg Color) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 {
		return
	}
	if n > end-start+1 {
		n = end - start + 1
	}

	t.buf.SetScrollRegion(start, end)

	for r := end; r >= start+n; r-- {
		dv, dok := t.visibleRow(r)
		sv, sok := t.visibleRow(r - n)
		if !dok {
			continue
		}
		for c := 0; c < t.cols; c++ {
			if sok {
				t.delta.Copy(dv, c, sv, c)
			} else {
				t.delta.Set(dv, c, t.buf.Get(r-n, c))
			}
		}
	}

	for i := 0; i < n; i++ {
		t.buf.ScrollDown()
	}

	blank := Cell{Rune: ' ', Background: bg}
	for r := start; r < start+n; r++ {
		if dv, ok := t.visibleRow(r); ok {
			for c := 0; c < t.cols; c++ {
				t.delta.Set(dv, c, blank)
			}
		}
	}
}

// ToggleReverse flips one cell's reverse-video attribute, keeping the
// delta in step so the flip is repainted on the next flush.
func (t *Terminal) ToggleReverse(row, col int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.buf.Get(row, col)
	c.Attrs.Reverse = !c.Attrs.Reverse
	t.setLocked(row, col, c)
}

// ScrollDisplayUp scrolls n rows of history into view. The on-screen
// content shifts down as one translated COPY block; the exposed top band
// is filled from scrollback, padding blank past each history row's
// recorded length.
func (t *Terminal) ScrollDisplayUp(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	avail := t.buf.Scrollback().Len() - t.scrollOffset
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return
	}

	for v := t.rows - 1; v >= n; v-- {
		for c := 0; c < t.cols; c++ {
			t.delta.Copy(v, c, v-n, c)
		}
	}

	t.scrollOffset += n
	for v := 0; v < n; v++ {
		t.redrawVisibleRow(v)
	}
}

// ScrollDisplayDown scrolls the view n rows back toward the live buffer.
func (t *Terminal) ScrollDisplayDown(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n > t.scrollOffset {
		n = t.scrollOffset
	}
	if n <= 0 {
		return
	}

	for v := 0; v < t.rows-n; v++ {
		for c := 0; c < t.cols; c++ {
			t.delta.Copy(v, c, v+n, c)
		}
	}

	t.scrollOffset -= n
	for v := t.rows - n; v < t.rows; v++ {
		t.redrawVisibleRow(v)
	}
}

// redrawVisibleRow marks every cell of on-screen row v dirty with its
// current content, pulling from scrollback or the live buffer depending
// on the scroll offset.
func (t *Terminal) redrawVisibleRow(v int) {
	if v < t.scrollOffset {
		sb := t.buf.Scrollback()
		row := sb.Row(sb.Len() - t.scrollOffset + v)
		for c := 0; c < t.cols; c++ {
			if c < len(row) {
				t.delta.Set(v, c, row[c])
			} else {
				t.delta.Set(v, c, Cell{Rune: ' ', Background: t.defaultBG})
			}
		}
		return
	}
	bufRow := v - t.scrollOffset
	for c := 0; c < t.cols; c++ {
		t.delta.Set(v, c, t.buf.Get(bufRow, c))
	}
}

// SelectStart begins a text selection at (row, col). An unfinished prior
// selection is cleared first, its highlight flips included in the same
// pending delta.
func (t *Terminal) SelectStart(row, col int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sel.Active() {
		t.applySpans(t.sel.End())
	}
	t.sel.Start(row, col)
	t.applySpans([]RowSpan{{Row: row, Start: col, End: col + 1, Selected: true}})
}

// SelectUpdate extends the selection to (row, col), flipping only the
// cells whose selected state changed since the previous extent.
func (t *Terminal) SelectUpdate(row, col int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applySpans(t.sel.Update(row, col))
}

// SelectEnd finishes the selection, returning its text (rows joined by
// newline, trailing blanks trimmed) and clearing every cell's selected
// flag.
func (t *Terminal) SelectEnd() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.sel.Active() {
		return ""
	}

	from, to := t.sel.normalized()
	var rows []string
	for r := from.row; r <= to.row; r++ {
		start, end, ok := rowSpan(from, to, t.cols, r)
		if !ok {
			rows = append(rows, "")
			continue
		}
		var sb strings.Builder
		for c := start; c < end; c++ {
			sb.WriteRune(t.buf.Get(r, c).Rune)
		}
		rows = append(rows, strings.TrimRight(sb.String(), " "))
	}

	t.applySpans(t.sel.End())
	return strings.Join(rows, "\n")
}

// applySpans flips the Selected attribute on every cell the spans cover.
func (t *Terminal) applySpans(spans []RowSpan) {
	for _, span := range spans {
		if span.Row < 0 || span.Row >= t.rows {
			continue
		}
		end := span.End
		if end > t.cols {
			end = t.cols
		}
		for c := span.Start; c < end; c++ {
			cell := t.buf.Get(span.Row, c)
			cell.Attrs.Selected = span.Selected
			t.setLocked(span.Row, c, cell)
		}
	}
}

// Resize changes the terminal's dimensions. When the row count shrinks,
// the top rows are ejected into scrollback (the cursor lives near the
// bottom of a terminal, so the bottom rows are the ones worth keeping on
// screen). Any scrollback view is reset and the whole new screen is
// marked dirty, since pending ops for the old shape no longer map.
func (t *Terminal) Resize(rows, cols int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rows < t.rows {
		drop := t.rows - rows
		for r := 0; r < drop; r++ {
			row := make([]Cell, t.cols)
			for c := 0; c < t.cols; c++ {
				row[c] = t.buf.Get(r, c)
			}
			t.buf.Scrollback().Push(row)
		}
		t.buf.CopyRect(0, 0, drop, 0, t.cols, t.rows-drop)
	}

	if err := t.buf.Resize(rows, cols); err != nil {
		return err
	}

	t.rows, t.cols = rows, cols
	t.scrollOffset = 0
	t.sel = NewSelection(cols)
	t.delta.Resize(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			t.delta.Set(r, c, t.buf.Get(r, c))
		}
	}
	return nil
}

// Flush coalesces and emits every pending delta op to sock.
func (t *Terminal) Flush(sock protocol.Socket) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delta.Flush(sock)
}

// Buffer exposes the live cell grid, for callers that need direct
// read access (tests, the selection text extractor's peers).
func (t *Terminal) Buffer() *Buffer { return t.buf }
