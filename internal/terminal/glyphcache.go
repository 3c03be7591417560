package terminal

import "github.com/guacfabric/gateway/internal/protocol"

// Palette is the 16-entry base palette (8 normal + 8 intense) spec.md
// §3 assigns to terminal cells, carried over from
// original_source/protocols/ssh/src/delta.c's guac_terminal_palette.
var Palette = [16]Color{
	{R: 0x00, G: 0x00, B: 0x00}, // black
	{R: 0x99, G: 0x3E, B: 0x3E}, // red
	{R: 0x3E, G: 0x99, B: 0x3E}, // green
	{R: 0x99, G: 0x99, B: 0x3E}, // brown
	{R: 0x3E, G: 0x3E, B: 0x99}, // blue
	{R: 0x99, G: 0x3E, B: 0x99}, // magenta
	{R: 0x3E, G: 0x99, B: 0x99}, // cyan
	{R: 0x99, G: 0x99, B: 0x99}, // white

	{R: 0x3E, G: 0x3E, B: 0x3E}, // intense black
	{R: 0xFF, G: 0x67, B: 0x67}, // intense red
	{R: 0x67, G: 0xFF, B: 0x67}, // intense green
	{R: 0xFF, G: 0xFF, B: 0x67}, // intense brown
	{R: 0x67, G: 0x67, B: 0xFF}, // intense blue
	{R: 0xFF, G: 0x67, B: 0xFF}, // intense magenta
	{R: 0x67, G: 0xFF, B: 0xFF}, // intense cyan
	{R: 0xFF, G: 0xFF, B: 0xFF}, // intense white
}

// GlyphCache amortizes per-cell glyph coloring the way
// __guac_terminal_get_glyph/__guac_terminal_set_colors do: two wide
// offscreen buffers hold every glyph rendered so far — a stroke layer in
// pure foreground color over a transparent background, and a filled
// layer with the same glyph composited over its background color — so
// emitting a character becomes one "copy" instruction instead of a fresh
// render every time. Re-coloring happens only when the effective
// foreground/background actually changes, not per cell.
type GlyphCache struct {
	session layerSession

	strokeLayer int
	filledLayer int

	charWidth, charHeight int

	glyphs    map[rune]int
	nextGlyph int

	curForeground, curBackground int
}

// NewGlyphCache allocates the two glyph-cache buffers via session and
// seeds the current coloring state from defaultFG/defaultBG (palette
// indices).
func NewGlyphCache(session layerSession, charWidth, charHeight, defaultFG, defaultBG int) *GlyphCache {
	stroke, _ := session.AllocBuffer()
	filled, _ := session.AllocBuffer()
	return &GlyphCache{
		session:       session,
		strokeLayer:   stroke,
		filledLayer:   filled,
		charWidth:     charWidth,
		charHeight:    charHeight,
		glyphs:        make(map[rune]int),
		curForeground: defaultFG,
		curBackground: defaultBG,
	}
}

// locationFor returns the glyph's horizontal slot in the cache layers
// (in glyph units, not yet scaled to pixels), allocating a new slot (and
// telling the caller to render it) if the rune hasn't been cached yet.
func (g *GlyphCache) locationFor(r rune) (location int, isNew bool) {
	if loc, ok := g.glyphs[r]; ok {
		return loc, false
	}
	loc := g.nextGlyph
	g.nextGlyph++
	g.glyphs[r] = loc
	return loc, true
}

// renderGlyph draws a newly-seen rune into the stroke layer at its
// allocated slot (pure foreground color, a rect over the slot then a
// cfill at OVER; DrawGlyph, not this function, copies it onward) mirroring
// __guac_terminal_get_glyph's guac_protocol_send_png/rect/cfill/copy
// sequence — generalized from a Pango glyph render (out of scope for a
// pure wire-protocol core) to a per-glyph rect/cfill placeholder that
// still exercises the identical cache addressing and compositing steps.
func (g *GlyphCache) renderGlyph(sock protocol.Socket, location int, fg Color) error {
	x := location * g.charWidth

	rect := protocol.NewInstruction(protocol.OpRect).
		Int(int64(g.strokeLayer)).Int(int64(x)).Int(0).
		Int(int64(g.charWidth)).Int(int64(g.charHeight))
	if err := sock.WriteInstruction(rect); err != nil {
		return err
	}

	fill := protocol.NewInstruction(protocol.OpCfill).
		Int(int64(protocol.ModeOver)).Int(int64(g.strokeLayer)).
		Int(int64(fg.R)).Int(int64(fg.G)).Int(int64(fg.B)).Int(255)
	return sock.WriteInstruction(fill)
}

// SetColors re-tints the glyph cache for cell's effective colors,
// mirroring __guac_terminal_set_colors: swap fg/bg on reverse XOR
// selected, bump intensity for bold, then — only if the color actually
// changed since the last SET — recolor the whole stroke layer with ATOP
// and re-composite it OVER the new background into the filled layer.
func (g *GlyphCache) SetColors(sock protocol.Socket, c Cell) error {
	fgIdx, bgIdx := paletteIndices(c)

	if fgIdx != g.curForeground {
		color := Palette[fgIdx]
		width := g.charWidth * g.nextGlyph
		if width > 0 {
			rect := protocol.NewInstruction(protocol.OpRect).
				Int(int64(g.strokeLayer)).Int(0).Int(0).
				Int(int64(width)).Int(int64(g.charHeight))
			if err := sock.WriteInstruction(rect); err != nil {
				return err
			}
			fill := protocol.NewInstruction(protocol.OpCfill).
				Int(int64(protocol.ModeAtop)).Int(int64(g.strokeLayer)).
				Int(int64(color.R)).Int(int64(color.G)).Int(int64(color.B)).Int(255)
			if err := sock.WriteInstruction(fill); err != nil {
				return err
			}
		}
	}

	if fgIdx != g.curForeground || bgIdx != g.curBackground {
		bg := Palette[bgIdx]
		width := g.charWidth * g.nextGlyph
		if width > 0 {
			rect := protocol.NewInstruction(protocol.OpRect).
				Int(int64(g.filledLayer)).Int(0).Int(0).
				Int(int64(width)).Int(int64(g.charHeight))
			if err := sock.WriteInstruction(rect); err != nil {
				return err
			}
			fill := protocol.NewInstruction(protocol.OpCfill).
				Int(int64(protocol.ModeOver)).Int(int64(g.filledLayer)).
				Int(int64(bg.R)).Int(int64(bg.G)).Int(int64(bg.B)).Int(255)
			if err := sock.WriteInstruction(fill); err != nil {
				return err
			}

			copyStroke := protocol.NewInstruction(protocol.OpCopy).
				Int(int64(g.strokeLayer)).Int(0).Int(0).
				Int(int64(width)).Int(int64(g.charHeight)).
				Int(int64(protocol.ModeOver)).Int(int64(g.filledLayer)).Int(0).Int(0)
			if err := sock.WriteInstruction(copyStroke); err != nil {
				return err
			}
		}
	}

	g.curForeground = fgIdx
	g.curBackground = bgIdx
	return nil
}

// paletteIndices resolves a cell's effective foreground/background
// palette indices, applying reverse-XOR-selected swap and the bold
// intensity bump, matching __guac_terminal_set_colors exactly.
func paletteIndices(c Cell) (fg, bg int) {
	fg, bg = colorToIndex(c.Foreground), colorToIndex(c.Background)
	if c.Attrs.Reverse != c.Attrs.Selected {
		fg, bg = bg, fg
	}
	if c.Attrs.Bold && fg <= 7 {
		fg += 8
	}
	return fg, bg
}

// colorToIndex maps a Color back to its nearest palette slot. Cells
// produced by this module's own terminal buffer always carry an exact
// palette color, so this is an exact lookup, not a nearest-color search.
func colorToIndex(c Color) int {
	for i, p := range Palette {
		if p == c {
			return i
		}
	}
	return 7 // default to "white" foreground / background-equivalent
}

// DrawGlyph emits the glyph for r at (row, col) in the default layer,
// rendering it into the cache first if this is the first time r has been
// seen, mirroring __guac_terminal_set's single "copy" from the filled
// glyph layer into GUAC_DEFAULT_LAYER.
func (g *GlyphCache) DrawGlyph(sock protocol.Socket, r rune, row, col int) error {
	location, isNew := g.locationFor(r)
	if isNew {
		if err := g.renderGlyph(sock, location, Palette[g.curForeground]); err != nil {
			return err
		}
		// Re-run the full tint sequence so the newly-grown stroke/filled
		// layers pick up the glyph at its correct color, matching the
		// original's recolor-on-demand behavior for glyph #0.
		rect := protocol.NewInstruction(protocol.OpRect).
			Int(int64(g.filledLayer)).Int(int64(location * g.charWidth)).Int(0).
			Int(int64(g.charWidth)).Int(int64(g.charHeight))
		if err := sock.WriteInstruction(rect); err != nil {
			return err
		}
		bg := Palette[g.curBackground]
		fill := protocol.NewInstruction(protocol.OpCfill).
			Int(int64(protocol.ModeOver)).Int(int64(g.filledLayer)).
			Int(int64(bg.R)).Int(int64(bg.G)).Int(int64(bg.B)).Int(255)
		if err := sock.WriteInstruction(fill); err != nil {
			return err
		}
		copyStroke := protocol.NewInstruction(protocol.OpCopy).
			Int(int64(g.strokeLayer)).Int(int64(location * g.charWidth)).Int(0).
			Int(int64(g.charWidth)).Int(int64(g.charHeight)).
			Int(int64(protocol.ModeOver)).Int(int64(g.filledLayer)).Int(int64(location * g.charWidth)).Int(0)
		if err := sock.WriteInstruction(copyStroke); err != nil {
			return err
		}
	}

	copyOut := protocol.NewInstruction(protocol.OpCopy).
		Int(int64(g.filledLayer)).Int(int64(location * g.charWidth)).Int(0).
		Int(int64(g.charWidth)).Int(int64(g.charHeight)).
		Int(int64(protocol.ModeOver)).Int(int64(protocol.DefaultLayer)).
		Int(int64(col * g.charWidth)).Int(int64(row * g.charHeight))
	return sock.WriteInstruction(copyOut)
}
