package terminal

// Scrollback is a fixed-capacity ring buffer of terminal rows. Pushing
// past capacity silently discards the oldest row, matching the bounded
// history spec.md §5 requires (default 1000 rows, configurable).
type Scrollback struct {
	rows     [][]Cell
	capacity int
	width    int
	start    int
	count    int
}

// NewScrollback allocates a scrollback ring holding up to capacity rows
// of width cols.
func NewScrollback(capacity, width int) *Scrollback {
	if capacity < 0 {
		capacity = 0
	}
	return &Scrollback{
		rows:     make([][]Cell, capacity),
		capacity: capacity,
		width:    width,
	}
}

// Push adds a row (copied) to the ring, evicting the oldest row if full.
func (s *Scrollback) Push(row []Cell) {
	if s.capacity == 0 {
		return
	}
	stored := make([]Cell, len(row))
	copy(stored, row)

	writeIdx := (s.start + s.count) % s.capacity
	if s.count < s.capacity {
		s.rows[writeIdx] = stored
		s.count++
	} else {
		s.rows[s.start] = stored
		s.start = (s.start + 1) % s.capacity
	}
}

// Len reports the number of rows currently retained.
func (s *Scrollback) Len() int { return s.count }

// Row returns the row at the given history index, 0 being the oldest
// retained row and Len()-1 the most recently pushed.
func (s *Scrollback) Row(index int) []Cell {
	if index < 0 || index >= s.count {
		return nil
	}
	return s.rows[(s.start+index)%s.capacity]
}

// SetWidth updates the expected row width after a resize. Existing rows
// are left as-is (their original width); only newly pushed rows use the
// new width. This matches a real terminal's scrollback, which doesn't
// reflow history on resize.
func (s *Scrollback) SetWidth(width int) { s.width = width }

// Width returns the current expected row width.
func (s *Scrollback) Width() int { return s.width }
