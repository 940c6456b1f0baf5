// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Enumerate lists the physical devices of an instance.
func Enumerate(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var deviceCount uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &deviceCount, nil)); err != nil {
		return nil, fmt.Errorf("vulkan physical device enumeration failed: %s", err)
	}
	availableDevices := make([]vk.PhysicalDevice, deviceCount)
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &deviceCount, availableDevices)); err != nil {
		return nil, fmt.Errorf("vulkan physical device enumeration failed: %s", err)
	}
	return availableDevices, nil
}

// Describe queries everything the scoring needs from a physical device.
// Presentation support is checked against surface; pass vk.NullSurface
// to describe a device without a window.
func Describe(pd vk.PhysicalDevice, surface vk.Surface) PhysicalDeviceInfo {
	var info PhysicalDeviceInfo

	// Get extension info
	var numDeviceExtensions uint32
	if err := vk.Error(vk.EnumerateDeviceExtensionProperties(pd, "", &numDeviceExtensions, nil)); err != nil {
		info.Invalid = true
	}
	deviceExt := make([]vk.ExtensionProperties, numDeviceExtensions)
	if err := vk.Error(vk.EnumerateDeviceExtensionProperties(pd, "", &numDeviceExtensions, deviceExt)); err != nil {
		info.Invalid = true
	}
	for _, ext := range deviceExt {
		ext.Deref()
		info.Extensions = append(info.Extensions, vk.ToString(ext.ExtensionName[:]))
	}

	// Get layers info
	var numDeviceLayers uint32
	if err := vk.Error(vk.EnumerateDeviceLayerProperties(pd, &numDeviceLayers, nil)); err != nil {
		info.Invalid = true
	}
	deviceLayers := make([]vk.LayerProperties, numDeviceLayers)
	if err := vk.Error(vk.EnumerateDeviceLayerProperties(pd, &numDeviceLayers, deviceLayers)); err != nil {
		info.Invalid = true
	}
	for _, layer := range deviceLayers {
		layer.Deref()
		info.Layers = append(info.Layers, vk.ToString(layer.LayerName[:]))
	}

	// Get memory info
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &memoryProperties)
	memoryProperties.Deref()
	for iMem := uint32(0); iMem < memoryProperties.MemoryHeapCount; iMem++ {
		memoryProperties.MemoryHeaps[iMem].Deref()
		info.Memory += memoryProperties.MemoryHeaps[iMem].Size
	}

	// Get general device info
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &properties)
	properties.Deref()
	properties.Limits.Deref()
	info.ID = int(properties.DeviceID)
	info.VendorID = int(properties.VendorID)
	info.Name = vk.ToString(properties.DeviceName[:])
	info.DriverVersion = int(properties.DriverVersion)
	info.APIVersion = properties.ApiVersion
	info.Type = deviceType(properties.DeviceType)
	info.MaxImageDimension2D = properties.Limits.MaxImageDimension2D
	info.MaxSamplerAnisotropy = properties.Limits.MaxSamplerAnisotropy
	info.MinUniformBufferOffsetAlignment = properties.Limits.MinUniformBufferOffsetAlignment
	info.NonCoherentAtomSize = properties.Limits.NonCoherentAtomSize
	info.PipelineCacheUUID = properties.PipelineCacheUUID

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(pd, &features)
	features.Deref()
	info.Anisotropy = features.SamplerAnisotropy == vk.True

	info.QueueFamilies = describeQueueFamilies(pd, surface)
	return info
}

func describeQueueFamilies(pd vk.PhysicalDevice, surface vk.Surface) []QueueFamilyInfo {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &queueFamilyCount, queueFamilies)

	families := make([]QueueFamilyInfo, queueFamilyCount)
	for i := uint32(0); i < queueFamilyCount; i++ {
		queueFamilies[i].Deref()
		flags := queueFamilies[i].QueueFlags
		families[i] = QueueFamilyInfo{
			Index:    i,
			Count:    queueFamilies[i].QueueCount,
			Graphics: flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0,
			Compute:  flags&vk.QueueFlags(vk.QueueComputeBit) != 0,
			Transfer: flags&vk.QueueFlags(vk.QueueTransferBit) != 0,
		}
		if surface == vk.NullSurface {
			// Without a surface any graphics family is assumed to present
			families[i].Present = families[i].Graphics
			continue
		}
		var supportsPresent vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(pd, i, surface, &supportsPresent)
		families[i].Present = supportsPresent.B()
	}
	return families
}

func deviceType(t vk.PhysicalDeviceType) Type {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return TypeIntegrated
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return TypeDiscrete
	case vk.PhysicalDeviceTypeVirtualGpu:
		return TypeVirtual
	case vk.PhysicalDeviceTypeCpu:
		return TypeCPU
	default:
		return TypeOther
	}
}
