package render

import (
	"errors"
	"fmt"

	"github.com/demogame/runtime/internal/gpu"
)

// Layer is a draw list of the dispatcher. Layers are replayed in
// declaration order; within a layer, in emission order.
type Layer int

const (
	LayerTerrain Layer = iota
	LayerSprites
	LayerProjectiles
	LayerGui
	LayerDebug
	layerCount
)

func (l Layer) String() string {
	switch l {
	case LayerTerrain:
		return "terrain"
	case LayerSprites:
		return "sprites"
	case LayerProjectiles:
		return "projectiles"
	case LayerGui:
		return "gui"
	case LayerDebug:
		return "debug"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// worldSpace reports whether a layer is translated by the view offset.
func (l Layer) worldSpace() bool { return l <= LayerProjectiles }

// Dispatcher collects the frame's draws per layer and replays them in the
// fixed back-to-front order, whatever order the draw updates came in.
type Dispatcher struct {
	lists [layerCount][]gpu.DrawCall
}

// Reset clears every list, keeping capacity.
func (d *Dispatcher) Reset() {
	for i := range d.lists {
		d.lists[i] = d.lists[i][:0]
	}
}

func (d *Dispatcher) Enqueue(l Layer, dc gpu.DrawCall) {
	d.lists[l] = append(d.lists[l], dc)
}

// Len returns the number of draws queued on a layer.
func (d *Dispatcher) Len(l Layer) int { return len(d.lists[l]) }

// Replay submits every queued draw. World-space layers are translated by
// view. A failed submit skips that draw only; the failures are returned
// together.
func (d *Dispatcher) Replay(dev gpu.Device, view [2]float32) error {
	var errs []error
	for l := Layer(0); l < layerCount; l++ {
		for _, dc := range d.lists[l] {
			if l.worldSpace() {
				dc.Offset[0] += view[0]
				dc.Offset[1] += view[1]
			}
			if err := dev.Submit(dc); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", l, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Retarget points the queued draws of a layer that use vertex array from
// at to instead. Used when a pool rebuilds its array mid-frame.
func (d *Dispatcher) Retarget(l Layer, from, to gpu.VertexArrayID) {
	for i := range d.lists[l] {
		if d.lists[l][i].VertexArray == from {
			d.lists[l][i].VertexArray = to
		}
	}
}
