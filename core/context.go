// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"

	"github.com/devblok/koru-present/device"
)

// refCount counts the holders of a shared object. The release
// function runs once, when the last holder lets go.
type refCount struct {
	count   int32
	release func()
}

func newRefCount(release func()) refCount {
	return refCount{count: 1, release: release}
}

func (r *refCount) retain() {
	if atomic.AddInt32(&r.count, 1) <= 1 {
		panic("retain of a released object")
	}
}

func (r *refCount) drop() {
	switch n := atomic.AddInt32(&r.count, -1); {
	case n == 0:
		r.release()
	case n < 0:
		log.WithField("count", n).Error("release of an already released object")
	}
}

// Queue is a device queue. Every Queue of the same family shares
// one lock, so submissions to a family are serialized.
type Queue struct {
	family uint32
	handle vk.Queue
	mutex  *sync.Mutex
}

// Family is the queue family index.
func (q *Queue) Family() uint32 {
	return q.family
}

// Submit submits work to the queue.
func (q *Queue) Submit(submits []vk.SubmitInfo, fence vk.Fence) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return checkResult("QueueSubmit", vk.QueueSubmit(q.handle, uint32(len(submits)), submits, fence))
}

// Present queues images for presentation. The raw result is returned
// because out of date and suboptimal are expected answers.
func (q *Queue) Present(info *vk.PresentInfo) vk.Result {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return vk.QueuePresent(q.handle, info)
}

// WaitIdle blocks until the queue has no pending work.
func (q *Queue) WaitIdle() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return checkResult("QueueWaitIdle", vk.QueueWaitIdle(q.handle))
}

// GPUContext is the logical device with its queues. It is shared by
// every component built on it and destroyed when the last one releases it.
type GPUContext struct {
	refs refCount

	physicalDevice   vk.PhysicalDevice
	info             device.PhysicalDeviceInfo
	score            int
	families         device.QueueSelection
	memoryProperties vk.PhysicalDeviceMemoryProperties
	extensions       []string

	device vk.Device

	// Graphics also serves presentation, Transfer and Compute fall
	// back to the graphics queue when the device has no dedicated family.
	Graphics *Queue
	Present  *Queue
	Transfer *Queue
	Compute  *Queue
}

// NewGPUContext scores the physical devices of the instance against its
// surface, and creates a logical device on the best one.
func NewGPUContext(instance Instance, cfg RendererConfiguration) (*GPUContext, error) {
	infos := instance.PhysicalDevicesInfo()
	required := mergeExtensions(device.RequiredExtensions, cfg.DeviceExtensions)

	best, score, err := device.Best(infos, required)
	if err != nil {
		for _, info := range infos {
			log.WithFields(log.Fields{
				"device": info.Name,
				"type":   info.Type,
			}).Warn("physical device rejected")
		}
		return nil, fmt.Errorf("%w: %s", ErrPhysicalDeviceSelectionFailed, err.Error())
	}
	info := infos[best]
	physicalDevice := instance.AvailableDevices()[best]

	families, err := device.SelectQueueFamilies(info.QueueFamilies)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPhysicalDeviceSelectionFailed, err.Error())
	}

	enabled := required
	if info.HasExtension(device.ExtExternalMemory) {
		enabled = mergeExtensions(enabled, []string{device.ExtExternalMemory})
	}

	/* Logical Device setup */
	var queueInfos []vk.DeviceQueueCreateInfo
	for _, family := range families.Unique() {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1},
		})
	}

	features := vk.PhysicalDeviceFeatures{}
	if info.Anisotropy {
		features.SamplerAnisotropy = vk.True
	}

	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: safeStrings(enabled),
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
	}

	var vkDevice vk.Device
	if res := vk.CreateDevice(physicalDevice, &dci, nil, &vkDevice); res != vk.Success {
		return nil, fmt.Errorf("%w: %s", ErrDeviceCreation, checkResult("CreateDevice", res).Error())
	}

	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &memoryProperties)
	memoryProperties.Deref()
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
	}

	ctx := &GPUContext{
		physicalDevice:   physicalDevice,
		info:             info,
		score:            score,
		families:         families,
		memoryProperties: memoryProperties,
		extensions:       enabled,
		device:           vkDevice,
	}
	ctx.refs = newRefCount(ctx.destroy)

	queues := make(map[uint32]*Queue)
	for _, family := range families.Unique() {
		var handle vk.Queue
		vk.GetDeviceQueue(vkDevice, family, 0, &handle)
		queues[family] = &Queue{family: family, handle: handle, mutex: &sync.Mutex{}}
	}
	ctx.Graphics = queues[families.Graphics]
	ctx.Present = queues[families.Present]
	ctx.Transfer = queues[families.Transfer]
	ctx.Compute = queues[families.Compute]

	log.WithFields(log.Fields{
		"device":            info.Name,
		"type":              info.Type,
		"score":             score,
		"graphics":          families.Graphics,
		"transfer":          families.Transfer,
		"compute":           families.Compute,
		"dedicatedTransfer": families.DedicatedTransfer,
	}).Info("gpu context created")

	return ctx, nil
}

func mergeExtensions(base, extra []string) []string {
	merged := append([]string{}, base...)
	for _, ext := range extra {
		found := false
		for _, m := range merged {
			if m == ext {
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, ext)
		}
	}
	return merged
}

// Retain adds a holder to the context.
func (c *GPUContext) Retain() *GPUContext {
	c.refs.retain()
	return c
}

// Release drops a holder, the last one destroys the device.
func (c *GPUContext) Release() {
	c.refs.drop()
}

func (c *GPUContext) destroy() {
	vk.DeviceWaitIdle(c.device)
	vk.DestroyDevice(c.device, nil)
	log.WithField("device", c.info.Name).Debug("gpu context destroyed")
}

// Device returns the logical device handle.
func (c *GPUContext) Device() vk.Device {
	return c.device
}

// PhysicalDevice returns the selected physical device handle.
func (c *GPUContext) PhysicalDevice() vk.PhysicalDevice {
	return c.physicalDevice
}

// Info describes the selected physical device.
func (c *GPUContext) Info() device.PhysicalDeviceInfo {
	return c.info
}

// Score is the score the selected device won with.
func (c *GPUContext) Score() int {
	return c.score
}

// Families are the queue families the device was created with.
func (c *GPUContext) Families() device.QueueSelection {
	return c.families
}

// WaitIdle waits until the whole device is idle.
func (c *GPUContext) WaitIdle() error {
	return checkResult("DeviceWaitIdle", vk.DeviceWaitIdle(c.device))
}
