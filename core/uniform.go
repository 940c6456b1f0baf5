// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// bufferOwner is the part of the Allocator the uniform ring uses.
type bufferOwner interface {
	Flush(alloc *Allocation, offset, size vk.DeviceSize) error
	DestroyBuffer(buffer vk.Buffer, alloc *Allocation)
}

func alignUp(size, alignment vk.DeviceSize) vk.DeviceSize {
	if alignment <= 1 {
		return size
	}
	return (size + alignment - 1) / alignment * alignment
}

// UniformRing is a dynamic uniform buffer per frame slot, each holding
// MaxDynamicObjects items placed stride bytes apart.
type UniformRing struct {
	owner      bufferOwner
	itemSize   vk.DeviceSize
	stride     vk.DeviceSize
	maxObjects uint32

	buffers []vk.Buffer
	allocs  []*Allocation
}

// NewUniformRing creates frames persistently mapped buffers.
func NewUniformRing(allocator *Allocator, frames int, maxObjects uint32, itemSize, minAlignment vk.DeviceSize) (*UniformRing, error) {
	u := &UniformRing{
		owner:      allocator,
		itemSize:   itemSize,
		stride:     alignUp(itemSize, minAlignment),
		maxObjects: maxObjects,
	}
	for i := 0; i < frames; i++ {
		buffer, alloc, err := allocator.CreateBuffer(u.stride*vk.DeviceSize(maxObjects),
			vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), CpuToGpu, true)
		if err != nil {
			u.Destroy()
			return nil, err
		}
		u.buffers = append(u.buffers, buffer)
		u.allocs = append(u.allocs, alloc)
	}
	return u, nil
}

// Update writes the data of object into the buffer of frame.
func (u *UniformRing) Update(frame int, object uint32, data []byte) error {
	if frame < 0 || frame >= len(u.allocs) {
		return fmt.Errorf("frame %d out of %d", frame, len(u.allocs))
	}
	if object >= u.maxObjects {
		return fmt.Errorf("%w: %d >= %d", ErrObjectIndexOutOfRange, object, u.maxObjects)
	}
	if vk.DeviceSize(len(data)) > u.itemSize {
		return fmt.Errorf("uniform of %d bytes exceeds item size %d", len(data), u.itemSize)
	}

	alloc := u.allocs[frame]
	offset := u.DynamicOffset(object)
	if err := alloc.Write(vk.DeviceSize(offset), data); err != nil {
		return err
	}
	return u.owner.Flush(alloc, vk.DeviceSize(offset), vk.DeviceSize(len(data)))
}

// DynamicOffset is the offset bound with the descriptor set to draw object.
func (u *UniformRing) DynamicOffset(object uint32) uint32 {
	return object * uint32(u.stride)
}

// AlignedItemSize is the distance between two items.
func (u *UniformRing) AlignedItemSize() vk.DeviceSize {
	return u.stride
}

// ItemSizeForDescriptor is the range a descriptor covers.
func (u *UniformRing) ItemSizeForDescriptor() vk.DeviceSize {
	return u.itemSize
}

// MaxObjects is the number of items per frame.
func (u *UniformRing) MaxObjects() uint32 {
	return u.maxObjects
}

// Buffer returns the buffer of frame.
func (u *UniformRing) Buffer(frame int) vk.Buffer {
	return u.buffers[frame]
}

// Destroy implements interface
func (u *UniformRing) Destroy() {
	for i, buffer := range u.buffers {
		u.owner.DestroyBuffer(buffer, u.allocs[i])
	}
	u.buffers = nil
	u.allocs = nil
}
