// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"errors"

	vk "github.com/vulkan-go/vulkan"
)

// Extensions a device must support to present and import client buffers
const (
	ExtSwapchain              = "VK_KHR_swapchain"
	ExtExternalMemory         = "VK_KHR_external_memory"
	ExtExternalMemoryFd       = "VK_KHR_external_memory_fd"
	ExtExternalMemoryDmaBuf   = "VK_EXT_external_memory_dma_buf"
	ExtImageDrmFormatModifier = "VK_EXT_image_drm_format_modifier"
)

// RequiredExtensions are the device extensions without which
// a device scores zero.
var RequiredExtensions = []string{
	ExtSwapchain,
	ExtExternalMemoryFd,
	ExtExternalMemoryDmaBuf,
	ExtImageDrmFormatModifier,
}

// TargetAPIVersion is the newest API version the backend takes advantage of.
var TargetAPIVersion = vk.MakeVersion(1, 2, 0)

// Score weights
const (
	scoreBase       = 1
	scoreIntegrated = 1000
	scoreDiscrete   = 500
	scoreAPIVersion = 200
	scoreAnisotropy = 100
	dimensionUnit   = 1024
)

// ErrNoSuitableDevice is returned when no candidate has a non-zero score.
var ErrNoSuitableDevice = errors.New("no physical device meets the requirements")

// Score rates a device for presentation. Zero means the device
// cannot be used at all.
func Score(info PhysicalDeviceInfo, required []string) int {
	if info.Invalid {
		return 0
	}
	for _, ext := range required {
		if !info.HasExtension(ext) {
			return 0
		}
	}
	if _, ok := graphicsPresentFamily(info.QueueFamilies); !ok {
		return 0
	}

	score := scoreBase
	switch info.Type {
	case TypeIntegrated:
		score += scoreIntegrated
	case TypeDiscrete:
		score += scoreDiscrete
	}
	if info.APIVersion >= TargetAPIVersion {
		score += scoreAPIVersion
	}
	if info.Anisotropy {
		score += scoreAnisotropy
	}
	score += int(info.MaxImageDimension2D / dimensionUnit)
	return score
}

// Best returns the index of the highest scoring device and its score.
// Ties go to the device enumerated first.
func Best(infos []PhysicalDeviceInfo, required []string) (int, int, error) {
	best, bestScore := -1, 0
	for i, info := range infos {
		if s := Score(info, required); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return -1, 0, ErrNoSuitableDevice
	}
	return best, bestScore, nil
}

// QueueSelection names the queue families a logical device is built with.
type QueueSelection struct {
	Graphics uint32
	Present  uint32
	Transfer uint32
	Compute  uint32

	// DedicatedTransfer is set when Transfer has neither graphics
	// nor compute capability.
	DedicatedTransfer bool
	// DedicatedCompute is set when Compute has no graphics capability.
	DedicatedCompute bool
}

// Unique returns the distinct family indices of the selection in a
// stable order, graphics first.
func (q QueueSelection) Unique() []uint32 {
	var families []uint32
	seen := make(map[uint32]bool)
	for _, idx := range []uint32{q.Graphics, q.Present, q.Transfer, q.Compute} {
		if !seen[idx] {
			seen[idx] = true
			families = append(families, idx)
		}
	}
	return families
}

// SelectQueueFamilies picks queue families for graphics, presentation,
// transfer and compute work.
func SelectQueueFamilies(families []QueueFamilyInfo) (QueueSelection, error) {
	var sel QueueSelection

	if idx, ok := graphicsPresentFamily(families); ok {
		sel.Graphics, sel.Present = idx, idx
	} else {
		return sel, errors.New("no queue family supports graphics and presentation")
	}

	sel.Transfer = sel.Graphics
	for _, f := range families {
		if f.Transfer && !f.Graphics && !f.Compute {
			sel.Transfer = f.Index
			sel.DedicatedTransfer = true
			break
		}
	}

	sel.Compute = sel.Graphics
	for _, f := range families {
		if f.Compute && !f.Graphics {
			sel.Compute = f.Index
			sel.DedicatedCompute = true
			break
		}
	}
	return sel, nil
}

func graphicsPresentFamily(families []QueueFamilyInfo) (uint32, bool) {
	for _, f := range families {
		if f.Graphics && f.Present && f.Count > 0 {
			return f.Index, true
		}
	}
	return 0, false
}
