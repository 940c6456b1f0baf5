// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"math"
	"testing"

	qt "github.com/frankban/quicktest"
	vk "github.com/vulkan-go/vulkan"
)

func TestChooseSurfaceFormat(t *testing.T) {
	a := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	srgb := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	c3 := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	tests := []struct {
		name    string
		formats []vk.SurfaceFormat
		want    vk.SurfaceFormat
		ok      bool
	}{
		{name: "srgb wins", formats: []vk.SurfaceFormat{a, srgb, c3}, want: srgb, ok: true},
		{name: "first otherwise", formats: []vk.SurfaceFormat{a, c3}, want: a, ok: true},
		{name: "undefined means any", formats: []vk.SurfaceFormat{{Format: vk.FormatUndefined}}, want: srgb, ok: true},
		{name: "none", formats: nil, ok: false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := qt.New(t)
			got, ok := ChooseSurfaceFormat(test.formats)
			c.Assert(ok, qt.Equals, test.ok)
			if ok {
				c.Assert(got, qt.Equals, test.want)
			}
		})
	}
}

func TestChoosePresentMode(t *testing.T) {
	c := qt.New(t)
	c.Assert(ChoosePresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}), qt.Equals, vk.PresentModeMailbox)
	c.Assert(ChoosePresentMode([]vk.PresentMode{vk.PresentModeFifo}), qt.Equals, vk.PresentModeFifo)
	c.Assert(ChoosePresentMode([]vk.PresentMode{vk.PresentModeFifoRelaxed, vk.PresentModeFifo}), qt.Equals, vk.PresentModeFifoRelaxed)
	c.Assert(ChoosePresentMode([]vk.PresentMode{vk.PresentModeImmediate}), qt.Equals, vk.PresentModeFifo)
	c.Assert(ChoosePresentMode(nil), qt.Equals, vk.PresentModeFifo)
}

func TestChooseExtent(t *testing.T) {
	min := vk.Extent2D{Width: 100, Height: 100}
	max := vk.Extent2D{Width: 2000, Height: 2000}
	any := vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}

	tests := []struct {
		name          string
		current       vk.Extent2D
		width, height uint32
		want          vk.Extent2D
	}{
		{name: "preferred fits", current: any, width: 800, height: 600, want: vk.Extent2D{Width: 800, Height: 600}},
		{name: "clamped up", current: any, width: 50, height: 50, want: vk.Extent2D{Width: 100, Height: 100}},
		{name: "clamped down", current: any, width: 4000, height: 150, want: vk.Extent2D{Width: 2000, Height: 150}},
		{name: "surface decides", current: vk.Extent2D{Width: 1024, Height: 768}, width: 800, height: 600, want: vk.Extent2D{Width: 1024, Height: 768}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(ChooseExtent(test.current, min, max, test.width, test.height), qt.Equals, test.want)
		})
	}
}

func TestChooseImageCount(t *testing.T) {
	c := qt.New(t)
	c.Assert(chooseImageCount(2, 8, 0), qt.Equals, uint32(3))
	c.Assert(chooseImageCount(2, 8, 4), qt.Equals, uint32(4))
	c.Assert(chooseImageCount(2, 3, 5), qt.Equals, uint32(3))
	c.Assert(chooseImageCount(3, 0, 0), qt.Equals, uint32(4))
}

func TestChooseCompositeAlpha(t *testing.T) {
	c := qt.New(t)
	c.Assert(chooseCompositeAlpha(vk.CompositeAlphaFlags(vk.CompositeAlphaInheritBit|vk.CompositeAlphaPreMultipliedBit)), qt.Equals, vk.CompositeAlphaPreMultipliedBit)
	c.Assert(chooseCompositeAlpha(0), qt.Equals, vk.CompositeAlphaOpaqueBit)
}

func TestChooseDepthFormat(t *testing.T) {
	c := qt.New(t)
	c.Assert(chooseDepthFormat(func(vk.Format) bool { return true }), qt.Equals, vk.FormatD32Sfloat)
	c.Assert(chooseDepthFormat(func(f vk.Format) bool { return f == vk.FormatD16Unorm }), qt.Equals, vk.FormatD16Unorm)
}

func TestCheckSwapchainCounts(t *testing.T) {
	c := qt.New(t)
	c.Assert(checkSwapchainCounts(3, 3, 3), qt.IsNil)
	err := checkSwapchainCounts(3, 3, 2)
	c.Assert(errors.Is(err, ErrSwapchainInconsistent), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, ".*3 images, 3 views, 2 framebuffers")
}

func builtSwapchain(calls *destroyLog) *Swapchain {
	return &Swapchain{
		objects:      calls,
		owner:        ownerFunc(calls.destroyOwned),
		handle:       vk.Swapchain(fakeHandle()),
		images:       []vk.Image{vk.Image(fakeHandle()), vk.Image(fakeHandle())},
		views:        []vk.ImageView{vk.ImageView(fakeHandle()), vk.ImageView(fakeHandle())},
		framebuffers: []vk.Framebuffer{vk.Framebuffer(fakeHandle()), vk.Framebuffer(fakeHandle())},
		depth: depthBuffer{
			format: vk.FormatD32Sfloat,
			image:  vk.Image(fakeHandle()),
			alloc:  &Allocation{},
			view:   vk.ImageView(fakeHandle()),
		},
	}
}

func TestSwapchainTeardownOrder(t *testing.T) {
	c := qt.New(t)
	calls := &destroyLog{}
	s := builtSwapchain(calls)
	c.Assert(s.Ready(), qt.IsTrue)

	s.teardown()
	c.Assert(calls.calls, qt.DeepEquals, []string{
		"device.DestroyFramebuffer",
		"device.DestroyFramebuffer",
		"device.DestroyImageView",
		"allocator.DestroyImage",
		"device.DestroyImageView",
		"device.DestroyImageView",
		"device.DestroySwapchain",
	})
	c.Assert(s.handle == nil, qt.IsTrue)

	s.teardown()
	c.Assert(calls.calls, qt.HasLen, 7)
}

func TestSwapchainNotReadyAfterRelease(t *testing.T) {
	c := qt.New(t)
	calls := &destroyLog{}
	s := builtSwapchain(calls)

	// a rebuild failing after the release keeps the handle only
	s.releaseSized()
	c.Assert(s.Ready(), qt.IsFalse)
	c.Assert(s.Framebuffer(1) == nil, qt.IsTrue)
	c.Assert(calls.calls, qt.Not(qt.Contains), "device.DestroySwapchain")

	s.images = []vk.Image{vk.Image(fakeHandle()), vk.Image(fakeHandle())}
	s.views = []vk.ImageView{vk.ImageView(fakeHandle())}
	s.framebuffers = []vk.Framebuffer{vk.Framebuffer(fakeHandle())}
	c.Assert(s.Ready(), qt.IsFalse)
}
