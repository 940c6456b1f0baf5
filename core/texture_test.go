// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"testing"
	"unsafe"

	qt "github.com/frankban/quicktest"
	vk "github.com/vulkan-go/vulkan"

	"github.com/devblok/koru-present/device"
)

// fakeHandle makes distinct non-nil handles for objects never given to a driver.
func fakeHandle() unsafe.Pointer {
	return unsafe.Pointer(new(uint64))
}

type destroyLog struct {
	calls []string
}

func (d *destroyLog) DestroyImage(vk.Image)              { d.calls = append(d.calls, "device.DestroyImage") }
func (d *destroyLog) FreeMemory(vk.DeviceMemory)         { d.calls = append(d.calls, "device.FreeMemory") }
func (d *destroyLog) DestroyImageView(vk.ImageView)      { d.calls = append(d.calls, "device.DestroyImageView") }
func (d *destroyLog) DestroySampler(vk.Sampler)          { d.calls = append(d.calls, "device.DestroySampler") }
func (d *destroyLog) destroyOwned(vk.Image, *Allocation) { d.calls = append(d.calls, "allocator.DestroyImage") }
func (d *destroyLog) DestroyFramebuffer(vk.Framebuffer)  { d.calls = append(d.calls, "device.DestroyFramebuffer") }
func (d *destroyLog) DestroySwapchain(vk.Swapchain)      { d.calls = append(d.calls, "device.DestroySwapchain") }

type ownerFunc func(vk.Image, *Allocation)

func (f ownerFunc) DestroyImage(img vk.Image, alloc *Allocation) {
	f(img, alloc)
}

func TestOwnedTextureDestroy(t *testing.T) {
	c := qt.New(t)
	calls := &destroyLog{}
	storage := &ownedStorage{
		img:   vk.Image(fakeHandle()),
		alloc: &Allocation{},
		owner: ownerFunc(calls.destroyOwned),
	}
	texture := newTexture(storage, calls, vk.ImageView(fakeHandle()), vk.Sampler(fakeHandle()), 4, 4, vk.FormatB8g8r8a8Unorm)
	c.Assert(texture.Imported(), qt.IsFalse)
	c.Assert(texture.Image(), qt.Equals, storage.img)

	texture.Destroy()
	c.Assert(calls.calls, qt.DeepEquals, []string{
		"device.DestroySampler",
		"device.DestroyImageView",
		"allocator.DestroyImage",
	})
	c.Assert(texture.Destroyed(), qt.IsTrue)
	c.Assert(texture.Image(), qt.IsNil)

	texture.Destroy()
	c.Assert(calls.calls, qt.HasLen, 3)
}

func TestImportedTextureDestroy(t *testing.T) {
	c := qt.New(t)
	calls := &destroyLog{}
	storage := &importedStorage{
		img:    vk.Image(fakeHandle()),
		memory: vk.DeviceMemory(fakeHandle()),
		device: calls,
	}
	texture := newTexture(storage, calls, vk.ImageView(fakeHandle()), vk.Sampler(fakeHandle()), 4, 4, vk.FormatB8g8r8a8Unorm)
	c.Assert(texture.Imported(), qt.IsTrue)

	texture.Destroy()
	texture.Destroy()
	c.Assert(calls.calls, qt.DeepEquals, []string{
		"device.DestroySampler",
		"device.DestroyImageView",
		"device.DestroyImage",
		"device.FreeMemory",
	})
}

func TestTextureIDsAreUnique(t *testing.T) {
	c := qt.New(t)
	a := newTexture(&importedStorage{}, &destroyLog{}, nil, nil, 1, 1, vk.FormatUndefined)
	b := newTexture(&importedStorage{}, &destroyLog{}, nil, nil, 1, 1, vk.FormatUndefined)
	c.Assert(a.ID(), qt.Not(qt.Equals), b.ID())
	c.Assert(a.Width(), qt.Equals, uint32(1))
}

func TestSamplerCreateInfo(t *testing.T) {
	c := qt.New(t)
	sci := samplerCreateInfo(device.PhysicalDeviceInfo{})
	c.Assert(sci.AnisotropyEnable, qt.Equals, vk.Bool32(vk.False))
	c.Assert(sci.MaxAnisotropy, qt.Equals, float32(1))

	sci = samplerCreateInfo(device.PhysicalDeviceInfo{Anisotropy: true, MaxSamplerAnisotropy: 16})
	c.Assert(sci.AnisotropyEnable, qt.Equals, vk.Bool32(vk.True))
	c.Assert(sci.MaxAnisotropy, qt.Equals, float32(16))
}
