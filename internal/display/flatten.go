package display

import "sort"

// renderEntry pairs a layer with the index it's stored under, since
// flatten needs each layer's own index to look up its parent's *Layer.
type renderEntry struct {
	index int
	layer *Layer
}

// Flatten composites the layer tree into each layer's Frame and finally
// the default layer's frame, bottom-up, per spec.md §4.G — called once per
// "sync". No package-level sort state is used (the original's
// __qsort_display global becomes a closure capturing d directly).
func (d *Display) Flatten() {
	order := make([]renderEntry, 0, len(d.layers))
	for idx, layer := range d.layers {
		order = append(order, renderEntry{index: idx, layer: layer})
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if da, db := d.Depth(a.layer), d.Depth(b.layer); da != db {
			return da > db
		}
		if a.layer.ParentIndex != b.layer.ParentIndex {
			return a.layer.ParentIndex > b.layer.ParentIndex
		}
		return a.layer.Z > b.layer.Z
	})

	for _, entry := range order {
		entry.layer.Frame.CopyFrom(entry.layer.Buffer)
	}

	for _, entry := range order {
		layer := entry.layer
		if layer.Opacity == 0 {
			continue
		}
		if layer.ParentIndex == NoParent {
			continue
		}
		parent, ok := d.layers[layer.ParentIndex]
		if !ok {
			continue
		}
		if layer.Frame.Width == 0 || layer.Frame.Height == 0 {
			continue
		}
		parent.Frame.CompositeWithOpacity(layer.Frame, layer.X, layer.Y, float64(layer.Opacity)/255)
	}

	d.renderCursor()
}

// renderCursor paints the mouse pointer on top of the default layer's
// frame at its hotspot-adjusted position, suppressed when either
// coordinate is negative (no pointer shown yet), mirroring
// guacenc_display_render_cursor.
func (d *Display) renderCursor() {
	cursor := d.Cursor
	if cursor.X < 0 || cursor.Y < 0 {
		return
	}

	def := d.GetLayer(0)
	if cursor.Buffer.Width == 0 || cursor.Buffer.Height == 0 {
		return
	}

	def.Frame.Composite(cursor.Buffer, 0, 0, cursor.Buffer.Width, cursor.Buffer.Height,
		cursor.X-cursor.HotspotX, cursor.Y-cursor.HotspotY, ModeOver)
}
