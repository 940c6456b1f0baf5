// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/vulkan-go/vulkan"

	"github.com/devblok/koru-present/model"
)

// CoordinateSpace tells how the destination of an element is measured.
type CoordinateSpace int

// Coordinate spaces
const (
	// Logical coordinates are global compositor units, scaled by the output scale.
	Logical CoordinateSpace = iota
	// Physical coordinates are pixels of the output.
	Physical
)

// Rect is an axis aligned rectangle.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

// Empty reports a zero area.
func (r Rect) Empty() bool {
	return r.Width == 0 || r.Height == 0
}

// RenderElement is one textured quad of a frame.
type RenderElement struct {
	Texture *Texture
	Dst     Rect
	Space   CoordinateSpace
	Tint    [3]float32
	Alpha   float32
}

// OutputGeometry places the output in the logical compositor space.
type OutputGeometry struct {
	X, Y          int32
	Width, Height uint32
}

// toPhysical converts an element destination into output pixels.
func toPhysical(dst Rect, space CoordinateSpace, output OutputGeometry, scale float64) Rect {
	if space == Physical {
		return dst
	}
	ox := int64(dst.X) - int64(output.X)
	oy := int64(dst.Y) - int64(output.Y)
	x0 := clampFloat(math.Round(float64(ox)*scale), math.MinInt32, math.MaxInt32)
	y0 := clampFloat(math.Round(float64(oy)*scale), math.MinInt32, math.MaxInt32)
	x1 := math.Round(float64(ox+int64(dst.Width)) * scale)
	y1 := math.Round(float64(oy+int64(dst.Height)) * scale)
	return Rect{
		X:      int32(x0),
		Y:      int32(y0),
		Width:  uint32(clampFloat(x1-x0, 0, math.MaxUint32)),
		Height: uint32(clampFloat(y1-y0, 0, math.MaxUint32)),
	}
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// clipRect intersects r with the extent, returning false when nothing is left.
func clipRect(r Rect, extent vk.Extent2D) (vk.Rect2D, bool) {
	x0 := int64(r.X)
	y0 := int64(r.Y)
	x1 := x0 + int64(r.Width)
	y1 := y0 + int64(r.Height)

	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > int64(extent.Width) {
		x1 = int64(extent.Width)
	}
	if y1 > int64(extent.Height) {
		y1 = int64(extent.Height)
	}
	if x1 <= x0 || y1 <= y0 {
		return vk.Rect2D{}, false
	}
	return vk.Rect2D{
		Offset: vk.Offset2D{X: int32(x0), Y: int32(y0)},
		Extent: vk.Extent2D{Width: uint32(x1 - x0), Height: uint32(y1 - y0)},
	}, true
}

// plannedDraw is an element that made it into the frame.
type plannedDraw struct {
	texture *Texture
	object  uint32
	scissor vk.Rect2D
	uniform model.ObjectUniform
	push    model.DrawPushConstants
}

// drawPlan is the outcome of planning a frame.
type drawPlan struct {
	draws   []plannedDraw
	culled  int
	skipped int
}

// planDraws turns elements into draws in order, back to front. Elements
// without a live texture or with nothing on screen are culled, elements
// past maxObjects are skipped. Released textures count as dead.
func planDraws(elements []RenderElement, output OutputGeometry, scale float64, extent vk.Extent2D, maxObjects uint32) drawPlan {
	var plan drawPlan
	type visible struct {
		element RenderElement
		dst     Rect
		scissor vk.Rect2D
	}
	var accepted []visible
	for _, element := range elements {
		if element.Texture == nil || !element.Texture.drawable() {
			plan.culled++
			continue
		}
		dst := toPhysical(element.Dst, element.Space, output, scale)
		if dst.Empty() {
			plan.culled++
			continue
		}
		scissor, ok := clipRect(dst, extent)
		if !ok {
			plan.culled++
			continue
		}
		if uint32(len(accepted)) >= maxObjects {
			plan.skipped++
			continue
		}
		accepted = append(accepted, visible{element: element, dst: dst, scissor: scissor})
	}

	n := len(accepted)
	for i, v := range accepted {
		depth := model.ElementDepth(i, n)
		plan.draws = append(plan.draws, plannedDraw{
			texture: v.element.Texture,
			object:  uint32(i),
			scissor: v.scissor,
			uniform: model.ObjectUniform{
				Transform: model.ElementTransform(
					float32(v.dst.X), float32(v.dst.Y),
					float32(v.dst.Width), float32(v.dst.Height),
					float32(extent.Width), float32(extent.Height),
					depth,
				),
			},
			push: model.DrawPushConstants{
				Tint:  v.element.Tint,
				Alpha: v.element.Alpha,
			},
		})
	}
	return plan
}

// frameRing cycles through the frame slots.
type frameRing struct {
	count   int
	current int
}

func (r *frameRing) advance() int {
	r.current = (r.current + 1) % r.count
	return r.current
}

type frameState int

const (
	frameIdle frameState = iota
	frameAcquiring
	frameRecording
	frameSubmitted
	framePresenting
)

func (s frameState) String() string {
	switch s {
	case frameIdle:
		return "idle"
	case frameAcquiring:
		return "acquiring"
	case frameRecording:
		return "recording"
	case frameSubmitted:
		return "submitted"
	case framePresenting:
		return "presenting"
	default:
		return fmt.Sprintf("frameState(%d)", int(s))
	}
}

var frameTransitions = map[frameState][]frameState{
	frameIdle:       {frameAcquiring},
	frameAcquiring:  {frameRecording, frameIdle},
	frameRecording:  {frameSubmitted, frameIdle},
	frameSubmitted:  {framePresenting, frameIdle},
	framePresenting: {frameIdle},
}

// to moves the state, refusing moves the frame loop never makes.
func (s *frameState) to(next frameState) error {
	for _, allowed := range frameTransitions[*s] {
		if allowed == next {
			*s = next
			return nil
		}
	}
	return fmt.Errorf("frame cannot go from %s to %s", *s, next)
}

type retired struct {
	texture *Texture
	frame   uint64
}

// retireQueue holds released textures until the last frame that could
// have drawn them is complete.
type retireQueue struct {
	mutex   sync.Mutex
	pending []retired
}

func (q *retireQueue) push(texture *Texture, frame uint64) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.pending = append(q.pending, retired{texture: texture, frame: frame})
}

// collect removes and returns the textures whose frame is complete.
func (q *retireQueue) collect(completed uint64) []*Texture {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	var done []*Texture
	kept := q.pending[:0]
	for _, r := range q.pending {
		if r.frame <= completed {
			done = append(done, r.texture)
		} else {
			kept = append(kept, r)
		}
	}
	q.pending = kept
	return done
}

func (q *retireQueue) drain() []*Texture {
	return q.collect(math.MaxUint64)
}

func (q *retireQueue) len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.pending)
}

type bindingKey struct {
	slot    int
	texture uint64
}

// bindingCache remembers the descriptor set of every (slot, texture)
// pair. Sets are written once, when they are allocated.
type bindingCache struct {
	mutex sync.Mutex
	sets  map[bindingKey]vk.DescriptorSet
}

func (b *bindingCache) get(slot int, texture uint64) (vk.DescriptorSet, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	set, ok := b.sets[bindingKey{slot, texture}]
	return set, ok
}

func (b *bindingCache) put(slot int, texture uint64, set vk.DescriptorSet) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.sets == nil {
		b.sets = make(map[bindingKey]vk.DescriptorSet)
	}
	b.sets[bindingKey{slot, texture}] = set
}

// forget drops and returns every set of texture.
func (b *bindingCache) forget(texture uint64) []vk.DescriptorSet {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var sets []vk.DescriptorSet
	for key, set := range b.sets {
		if key.texture == texture {
			sets = append(sets, set)
			delete(b.sets, key)
		}
	}
	return sets
}

func (b *bindingCache) all() []vk.DescriptorSet {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	sets := make([]vk.DescriptorSet, 0, len(b.sets))
	for _, set := range b.sets {
		sets = append(sets, set)
	}
	return sets
}

// Stats counts what the frame loop did since the renderer was created.
type Stats struct {
	FramesSubmitted uint64
	FramesDropped   uint64
	Recreations     uint64
	SkippedElements uint64
	CulledElements  uint64
}
