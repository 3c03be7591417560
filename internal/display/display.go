package display

import "github.com/guacfabric/gateway/internal/logging"

var log = logging.L("display")

// Cursor is the display's single mouse pointer: hotspot-adjusted position
// plus the buffer the "cursor" instruction last pointed it at, painted on
// top of everything else during flatten.
type Cursor struct {
	X, Y               int
	HotspotX, HotspotY int
	Buffer             *Buffer
}

// Display is the layer/buffer forest a recording replays against: a
// dynamically growing set of visible layers (non-negative index) and
// off-screen buffers (negative index, internally stored as -index-1),
// mirroring guacenc_display. Unlike the original's fixed
// GUACENC_DISPLAY_MAX_LAYERS array, layers and buffers are allocated
// lazily in Go maps — the original's array bound was a C implementation
// detail, not part of the wire protocol.
type Display struct {
	layers  map[int]*Layer
	buffers map[int]*Buffer
	streams map[int]*imageStream

	Cursor *Cursor

	// OnSync, if set, is invoked once per flattened frame (every "sync",
	// or a "mouse" instruction carrying a timestamp) with the resulting
	// default-layer frame — internal/video's hook for timeline
	// advancement and encoding.
	OnSync SyncFunc
}

// New returns an empty display with only the implicit default layer.
func New() *Display {
	d := &Display{
		layers:  make(map[int]*Layer),
		buffers: make(map[int]*Buffer),
		streams: make(map[int]*imageStream),
		Cursor:  &Cursor{X: -1, Y: -1, Buffer: NewBuffer()},
	}
	d.GetLayer(0)
	d.layers[0].ParentIndex = NoParent
	return d
}

// GetLayer returns the layer at index, allocating it (fully opaque,
// parented to the default layer) on first reference, mirroring
// guacenc_display_get_layer.
func (d *Display) GetLayer(index int) *Layer {
	layer, ok := d.layers[index]
	if ok {
		return layer
	}
	layer = newLayer()
	if index == 0 {
		layer.ParentIndex = NoParent
	}
	d.layers[index] = layer
	return layer
}

// GetBuffer returns the off-screen buffer identified by the negative
// index, allocating an autosized buffer on first reference, mirroring
// guacenc_display_get_buffer.
func (d *Display) GetBuffer(index int) *Buffer {
	internalIndex := -index - 1
	buffer, ok := d.buffers[internalIndex]
	if ok {
		return buffer
	}
	buffer = NewBuffer()
	buffer.Autosize = true
	d.buffers[internalIndex] = buffer
	return buffer
}

// GetRelatedBuffer resolves index to the raster surface instructions
// actually draw into: a layer's Buffer for non-negative indices, or the
// off-screen buffer directly for negative ones — mirroring
// guacenc_display_get_related_buffer.
func (d *Display) GetRelatedBuffer(index int) *Buffer {
	if index >= 0 {
		return d.GetLayer(index).Buffer
	}
	return d.GetBuffer(index)
}

// FreeLayer discards the layer at index, if allocated. The default layer
// cannot be disposed; a "dispose 0" is ignored rather than tearing down
// the surface every later instruction draws into.
func (d *Display) FreeLayer(index int) {
	if index == 0 {
		return
	}
	delete(d.layers, index)
}

// FreeBuffer discards the off-screen buffer at index, if allocated.
func (d *Display) FreeBuffer(index int) {
	delete(d.buffers, -index-1)
}

// Depth walks layer's parent chain to the default layer, counting hops —
// the default layer and any layer with NoParent have depth 0 — mirroring
// guacenc_display_get_depth.
func (d *Display) Depth(layer *Layer) int {
	depth := 0
	for layer != nil && layer.ParentIndex != NoParent {
		layer = d.layers[layer.ParentIndex]
		depth++
	}
	return depth
}
