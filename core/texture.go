// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync"
	"sync/atomic"

	vk "github.com/vulkan-go/vulkan"

	"github.com/devblok/koru-present/device"
)

// deviceObjects destroys objects created straight on the device.
type deviceObjects interface {
	DestroyImage(vk.Image)
	FreeMemory(vk.DeviceMemory)
	DestroyImageView(vk.ImageView)
	DestroySampler(vk.Sampler)
}

type vkDeviceObjects struct {
	device vk.Device
}

func (d vkDeviceObjects) DestroyImage(image vk.Image) {
	vk.DestroyImage(d.device, image, nil)
}

func (d vkDeviceObjects) FreeMemory(memory vk.DeviceMemory) {
	vk.FreeMemory(d.device, memory, nil)
}

func (d vkDeviceObjects) DestroyImageView(view vk.ImageView) {
	vk.DestroyImageView(d.device, view, nil)
}

func (d vkDeviceObjects) DestroySampler(sampler vk.Sampler) {
	vk.DestroySampler(d.device, sampler, nil)
}

func (d vkDeviceObjects) DestroyFramebuffer(framebuffer vk.Framebuffer) {
	vk.DestroyFramebuffer(d.device, framebuffer, nil)
}

func (d vkDeviceObjects) DestroySwapchain(swapchain vk.Swapchain) {
	vk.DestroySwapchain(d.device, swapchain, nil)
}

// imageOwner destroys images made by the Allocator.
type imageOwner interface {
	DestroyImage(vk.Image, *Allocation)
}

// textureStorage is the image behind a texture, either allocated
// by us or imported from a client.
type textureStorage interface {
	image() vk.Image
	free()
}

type ownedStorage struct {
	img   vk.Image
	alloc *Allocation
	owner imageOwner
}

func (s *ownedStorage) image() vk.Image {
	return s.img
}

func (s *ownedStorage) free() {
	s.owner.DestroyImage(s.img, s.alloc)
}

type importedStorage struct {
	img    vk.Image
	memory vk.DeviceMemory
	device deviceObjects
}

func (s *importedStorage) image() vk.Image {
	return s.img
}

func (s *importedStorage) free() {
	s.device.DestroyImage(s.img)
	s.device.FreeMemory(s.memory)
}

var textureIDs uint64

// Texture is a sampled image created from a client buffer.
type Texture struct {
	id     uint64
	width  uint32
	height uint32
	format vk.Format

	device  deviceObjects
	view    vk.ImageView
	sampler vk.Sampler

	mutex   sync.Mutex
	storage textureStorage
	layout  layoutState

	retired atomic.Bool
}

func newTexture(storage textureStorage, device deviceObjects, view vk.ImageView, sampler vk.Sampler, width, height uint32, format vk.Format) *Texture {
	return &Texture{
		id:      atomic.AddUint64(&textureIDs, 1),
		width:   width,
		height:  height,
		format:  format,
		device:  device,
		view:    view,
		sampler: sampler,
		storage: storage,
		layout:  layoutState{current: vk.ImageLayoutShaderReadOnlyOptimal},
	}
}

// ID identifies the texture for as long as the process lives.
func (t *Texture) ID() uint64 {
	return t.id
}

// Width of the texture in pixels.
func (t *Texture) Width() uint32 {
	return t.width
}

// Height of the texture in pixels.
func (t *Texture) Height() uint32 {
	return t.height
}

// Format is the vulkan format of the image.
func (t *Texture) Format() vk.Format {
	return t.format
}

// View returns the image view.
func (t *Texture) View() vk.ImageView {
	return t.view
}

// Sampler returns the sampler.
func (t *Texture) Sampler() vk.Sampler {
	return t.sampler
}

// Image returns the image, or nil once destroyed.
func (t *Texture) Image() vk.Image {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.storage == nil {
		return nil
	}
	return t.storage.image()
}

// Imported reports whether the memory came from a dma-buf.
func (t *Texture) Imported() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	_, ok := t.storage.(*importedStorage)
	return ok
}

// Destroyed reports whether Destroy was called.
func (t *Texture) Destroyed() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.storage == nil
}

// Retired reports whether the texture was released. Released textures
// are no longer drawn.
func (t *Texture) Retired() bool {
	return t.retired.Load()
}

// markRetired reports false when the texture was already released.
func (t *Texture) markRetired() bool {
	return t.retired.CompareAndSwap(false, true)
}

// drawable reports whether the texture may go into a new frame.
func (t *Texture) drawable() bool {
	return !t.Retired() && !t.Destroyed()
}

// Destroy frees the texture right away. The GPU must not be using it,
// the renderer's ReleaseTexture waits for that. Calling it again does nothing.
func (t *Texture) Destroy() {
	t.mutex.Lock()
	storage := t.storage
	t.storage = nil
	t.mutex.Unlock()

	if storage == nil {
		return
	}
	t.device.DestroySampler(t.sampler)
	t.device.DestroyImageView(t.view)
	storage.free()
}

func createImageView(device vk.Device, image vk.Image, format vk.Format, components vk.ComponentMapping) (vk.ImageView, error) {
	ivci := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            image,
		ViewType:         vk.ImageViewType2d,
		Format:           format,
		Components:       components,
		SubresourceRange: colorSubresourceRange(),
	}
	var view vk.ImageView
	if err := checkResult("CreateImageView", vk.CreateImageView(device, &ivci, nil, &view)); err != nil {
		return nil, err
	}
	return view, nil
}

func samplerCreateInfo(info device.PhysicalDeviceInfo) vk.SamplerCreateInfo {
	sci := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		CompareOp:               vk.CompareOpAlways,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	if info.Anisotropy && info.MaxSamplerAnisotropy > 1 {
		sci.AnisotropyEnable = vk.True
		sci.MaxAnisotropy = info.MaxSamplerAnisotropy
	}
	return sci
}

func createSampler(device vk.Device, info device.PhysicalDeviceInfo) (vk.Sampler, error) {
	sci := samplerCreateInfo(info)
	var sampler vk.Sampler
	if err := checkResult("CreateSampler", vk.CreateSampler(device, &sci, nil, &sampler)); err != nil {
		return nil, err
	}
	return sampler, nil
}
