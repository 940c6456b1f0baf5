// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/devblok/koru-present/device"
)

// Destroyable is anything holding GPU objects that have to be
// released explicitly.
type Destroyable interface {
	// Destroy destroys internal members
	Destroy()
}

// Instance describes a Vulkan instance and supporting methods.
// Once created it is ready to use.
type Instance interface {
	Destroyable

	// PhysicalDevicesInfo returns a struct for each Physical Device
	// along with info about those devices
	PhysicalDevicesInfo() []device.PhysicalDeviceInfo

	// AvailableDevices returns handles of Physical Devices
	// from the Vulkan API
	AvailableDevices() []vk.PhysicalDevice

	// SetSurface sets the window surface for rendering
	SetSurface(unsafe.Pointer)

	// Surface returns the window surface, if it's not set
	// it should return a valid but empty surface
	Surface() vk.Surface

	// Extensions returns enabled instance extensions
	Extensions() []string

	// Instance returns the inner handle of the underlying API
	Instance() interface{}
}

// Renderer turns the render elements of one output into presented frames.
// RenderFrame and SubmitAndPresentFrame are called in pairs from one goroutine,
// textures may be created from any goroutine.
type Renderer interface {
	Destroyable

	// RenderFrame records the frame for elements, drawn back to front
	// in the given order.
	RenderFrame(elements []RenderElement, output OutputGeometry, scale float64) error

	// SubmitAndPresentFrame submits the frame recorded by RenderFrame
	// and queues it for presentation.
	SubmitAndPresentFrame() error

	// CreateTextureFromShm copies a shared memory buffer into a new texture.
	CreateTextureFromShm(pixels []byte, width, height, stride uint32, format ShmFormat) (*Texture, error)

	// CreateTextureFromDmabuf imports a dma-buf as a texture without copying.
	CreateTextureFromDmabuf(desc DmabufDescriptor) (*Texture, error)

	// ReleaseTexture stops drawing the texture and destroys it once no
	// frame in flight uses it.
	ReleaseTexture(*Texture)

	// ScreenSize returns the current swapchain extent.
	ScreenSize() (uint32, uint32)

	// NotifyResized marks the swapchain for recreation on the next frame.
	NotifyResized(width, height uint32)
}

// ShaderType represents the type of shader thats loaded
type ShaderType int

// Identifies shader objects with their types
const (
	VertexShaderType ShaderType = iota
	FragmentShaderType
	ComputeShaderType
	UnknownShaderType
)

func (s ShaderType) String() string {
	switch s {
	case VertexShaderType:
		return "vert"
	case FragmentShaderType:
		return "frag"
	case ComputeShaderType:
		return "comp"
	default:
		return "unknown"
	}
}

func (s ShaderType) stage() vk.ShaderStageFlagBits {
	switch s {
	case VertexShaderType:
		return vk.ShaderStageVertexBit
	case FragmentShaderType:
		return vk.ShaderStageFragmentBit
	case ComputeShaderType:
		return vk.ShaderStageComputeBit
	default:
		return 0
	}
}
