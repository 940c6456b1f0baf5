// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package device describes physical rendering devices and decides
// which one of them, and which of its queue families, the presentation
// backend runs on.
package device

import vk "github.com/vulkan-go/vulkan"

// Type is the kind of a physical device.
type Type int

// Device kinds as reported by the driver
const (
	TypeOther Type = iota
	TypeIntegrated
	TypeDiscrete
	TypeVirtual
	TypeCPU
)

func (t Type) String() string {
	switch t {
	case TypeIntegrated:
		return "integrated"
	case TypeDiscrete:
		return "discrete"
	case TypeVirtual:
		return "virtual"
	case TypeCPU:
		return "cpu"
	default:
		return "other"
	}
}

// QueueFamilyInfo describes the capabilities of one queue family.
type QueueFamilyInfo struct {
	Index    uint32
	Count    uint32
	Graphics bool
	Compute  bool
	Transfer bool
	Present  bool
}

// PhysicalDeviceInfo describes available physical properties of a rendering device
type PhysicalDeviceInfo struct {
	ID            int
	VendorID      int
	DriverVersion int
	APIVersion    uint32
	Name          string
	Type          Type
	Invalid       bool
	Extensions    []string
	Layers        []string
	Memory        vk.DeviceSize

	// Anisotropy is true when the device can sample anisotropically.
	Anisotropy bool

	MaxImageDimension2D             uint32
	MaxSamplerAnisotropy            float32
	MinUniformBufferOffsetAlignment vk.DeviceSize
	NonCoherentAtomSize             vk.DeviceSize
	PipelineCacheUUID               [vk.UuidSize]byte

	QueueFamilies []QueueFamilyInfo
}

// HasExtension reports whether the device advertises the extension.
func (p PhysicalDeviceInfo) HasExtension(name string) bool {
	for _, ext := range p.Extensions {
		if ext == name {
			return true
		}
	}
	return false
}
