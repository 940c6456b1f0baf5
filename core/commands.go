// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync"

	vk "github.com/vulkan-go/vulkan"
)

// commandContext records and submits one-time command buffers,
// waiting for each to complete. It is safe for concurrent use.
type commandContext struct {
	device vk.Device
	queue  *Queue

	mutex sync.Mutex
	pool  vk.CommandPool
}

func newCommandContext(device vk.Device, queue *Queue) (*commandContext, error) {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queue.Family(),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}

	var pool vk.CommandPool
	if err := checkResult("CreateCommandPool", vk.CreateCommandPool(device, &cpci, nil, &pool)); err != nil {
		return nil, err
	}
	return &commandContext{
		device: device,
		queue:  queue,
		pool:   pool,
	}, nil
}

// run records commands with record, submits them and blocks until
// the device has executed them.
func (c *commandContext) run(record func(cmd vk.CommandBuffer) error) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        c.pool,
		CommandBufferCount: 1,
	}

	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := checkResult("AllocateCommandBuffers", vk.AllocateCommandBuffers(c.device, &cbai, commandBuffers)); err != nil {
		return err
	}
	defer vk.FreeCommandBuffers(c.device, c.pool, 1, commandBuffers)
	cmd := commandBuffers[0]

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := checkResult("BeginCommandBuffer", vk.BeginCommandBuffer(cmd, &cbbi)); err != nil {
		return err
	}

	if err := record(cmd); err != nil {
		vk.EndCommandBuffer(cmd)
		return err
	}

	if err := checkResult("EndCommandBuffer", vk.EndCommandBuffer(cmd)); err != nil {
		return err
	}

	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var fence vk.Fence
	if err := checkResult("CreateFence", vk.CreateFence(c.device, &fci, nil, &fence)); err != nil {
		return err
	}
	defer vk.DestroyFence(c.device, fence, nil)

	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    commandBuffers,
	}
	if err := c.queue.Submit([]vk.SubmitInfo{si}, fence); err != nil {
		return err
	}

	return checkResult("WaitForFences", vk.WaitForFences(c.device, 1, []vk.Fence{fence}, vk.True, vk.MaxUint64))
}

func (c *commandContext) destroy() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	vk.DestroyCommandPool(c.device, c.pool, nil)
}
