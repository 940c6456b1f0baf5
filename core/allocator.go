// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// MemoryUsage hints the allocator which memory type suits a resource.
type MemoryUsage int

// Usage hints
const (
	// GpuOnly memory is only touched by the device.
	GpuOnly MemoryUsage = iota
	// CpuOnly memory is host visible and coherent, for staging.
	CpuOnly
	// CpuToGpu memory is written by the host every frame and read by the device.
	CpuToGpu
)

func (u MemoryUsage) String() string {
	switch u {
	case GpuOnly:
		return "GpuOnly"
	case CpuOnly:
		return "CpuOnly"
	case CpuToGpu:
		return "CpuToGpu"
	default:
		return fmt.Sprintf("MemoryUsage(%d)", int(u))
	}
}

func (u MemoryUsage) flags() (required, preferred vk.MemoryPropertyFlags) {
	switch u {
	case CpuOnly:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit), 0
	case CpuToGpu:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit), vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	default:
		return 0, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	}
}

func (u MemoryUsage) hostVisible() bool {
	return u == CpuOnly || u == CpuToGpu
}

// chooseMemoryType finds a memory type allowed by typeBits having all
// required flags, preferring one that also has the preferred flags.
func chooseMemoryType(types []vk.MemoryPropertyFlags, typeBits uint32, required, preferred vk.MemoryPropertyFlags) (uint32, bool) {
	for _, want := range []vk.MemoryPropertyFlags{required | preferred, required} {
		for idx, flags := range types {
			if typeBits&(1<<uint(idx)) != 0 && flags&want == want {
				return uint32(idx), true
			}
		}
	}
	return 0, false
}

// atomRange widens [offset, offset+size) to multiples of atom, without
// running past the end of the allocation.
func atomRange(offset, size, atom, limit vk.DeviceSize) (vk.DeviceSize, vk.DeviceSize) {
	if atom <= 1 {
		return offset, size
	}
	start := offset / atom * atom
	end := (offset + size + atom - 1) / atom * atom
	if end > limit {
		end = limit
	}
	return start, end - start
}

// Allocation is the memory behind a buffer or image created by
// the Allocator. The owner keeps it until it destroys the resource.
type Allocation struct {
	memory    vk.DeviceMemory
	size      vk.DeviceSize
	typeIndex uint32
	coherent  bool
	mapped    unsafe.Pointer
	label     string
}

// Memory returns the vulkan memory handle.
func (a *Allocation) Memory() vk.DeviceMemory {
	return a.memory
}

// Size of the allocation in bytes.
func (a *Allocation) Size() vk.DeviceSize {
	return a.size
}

// Coherent reports whether host writes are visible without a flush.
func (a *Allocation) Coherent() bool {
	return a.coherent
}

// Mapped returns the persistently mapped pointer, or nil.
func (a *Allocation) Mapped() unsafe.Pointer {
	return a.mapped
}

// Write copies data into the mapped memory at offset.
func (a *Allocation) Write(offset vk.DeviceSize, data []byte) error {
	if a.mapped == nil {
		return errors.New("allocation is not mapped")
	}
	if offset+vk.DeviceSize(len(data)) > a.size {
		return fmt.Errorf("write of %d bytes at %d overruns allocation of %d", len(data), offset, a.size)
	}
	dst := unsafe.Slice((*byte)(a.mapped), int(a.size))
	copy(dst[offset:], data)
	return nil
}

// allocationTracker keeps the set of live allocations.
type allocationTracker struct {
	mutex sync.Mutex
	live  map[*Allocation]struct{}
}

func (t *allocationTracker) add(a *Allocation) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.live == nil {
		t.live = make(map[*Allocation]struct{})
	}
	t.live[a] = struct{}{}
}

// remove reports false when a is not live, it was freed before
// or never came from this allocator.
func (t *allocationTracker) remove(a *Allocation) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if _, ok := t.live[a]; !ok {
		return false
	}
	delete(t.live, a)
	return true
}

func (t *allocationTracker) labels() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	var labels []string
	for a := range t.live {
		labels = append(labels, a.label)
	}
	return labels
}

// Allocator creates and destroys buffers and images together with
// their memory. Everything created through it is destroyed through it.
type Allocator struct {
	ctx    *GPUContext
	device vk.Device

	types []vk.MemoryPropertyFlags
	atom  vk.DeviceSize

	tracker allocationTracker
	logger  *log.Entry
}

// NewAllocator creates an allocator holding a reference to ctx.
func NewAllocator(ctx *GPUContext) *Allocator {
	types := make([]vk.MemoryPropertyFlags, ctx.memoryProperties.MemoryTypeCount)
	for i := range types {
		types[i] = ctx.memoryProperties.MemoryTypes[i].PropertyFlags
	}
	atom := ctx.info.NonCoherentAtomSize
	if atom == 0 {
		atom = 1
	}
	return &Allocator{
		ctx:    ctx.Retain(),
		device: ctx.device,
		types:  types,
		atom:   atom,
		logger: log.WithField("component", "allocator"),
	}
}

func (a *Allocator) allocate(req vk.MemoryRequirements, usage MemoryUsage, label string) (*Allocation, error) {
	required, preferred := usage.flags()
	typeIndex, ok := chooseMemoryType(a.types, req.MemoryTypeBits, required, preferred)
	if !ok {
		return nil, fmt.Errorf("no memory type for %s %s (type bits %b)", usage, label, req.MemoryTypeBits)
	}

	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	if err := checkResult("AllocateMemory", vk.AllocateMemory(a.device, &mai, nil, &memory)); err != nil {
		return nil, err
	}

	coherent := a.types[typeIndex]&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0
	return &Allocation{
		memory:    memory,
		size:      req.Size,
		typeIndex: typeIndex,
		coherent:  coherent,
		label:     label,
	}, nil
}

func (a *Allocator) free(alloc *Allocation) {
	if alloc.mapped != nil {
		vk.UnmapMemory(a.device, alloc.memory)
		alloc.mapped = nil
	}
	vk.FreeMemory(a.device, alloc.memory, nil)
}

// CreateBuffer creates a buffer with bound memory. Host visible usages
// may ask for the memory to stay mapped for the buffer's lifetime.
func (a *Allocator) CreateBuffer(size vk.DeviceSize, usage vk.BufferUsageFlags, memUsage MemoryUsage, mapped bool) (vk.Buffer, *Allocation, error) {
	if size == 0 {
		return nil, nil, ErrZeroSized
	}
	if mapped && !memUsage.hostVisible() {
		return nil, nil, fmt.Errorf("%s memory cannot be mapped", memUsage)
	}

	bci := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := checkResult("CreateBuffer", vk.CreateBuffer(a.device, &bci, nil, &buffer)); err != nil {
		return nil, nil, err
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(a.device, buffer, &req)
	req.Deref()

	alloc, err := a.allocate(req, memUsage, "buffer")
	if err != nil {
		vk.DestroyBuffer(a.device, buffer, nil)
		return nil, nil, err
	}

	if err := checkResult("BindBufferMemory", vk.BindBufferMemory(a.device, buffer, alloc.memory, 0)); err != nil {
		a.free(alloc)
		vk.DestroyBuffer(a.device, buffer, nil)
		return nil, nil, err
	}

	if mapped {
		var ptr unsafe.Pointer
		if err := checkResult("MapMemory", vk.MapMemory(a.device, alloc.memory, 0, vk.DeviceSize(vk.WholeSize), 0, &ptr)); err != nil {
			a.free(alloc)
			vk.DestroyBuffer(a.device, buffer, nil)
			return nil, nil, err
		}
		alloc.mapped = ptr
	}

	a.tracker.add(alloc)
	return buffer, alloc, nil
}

// CreateImage creates an image with bound memory.
func (a *Allocator) CreateImage(info *vk.ImageCreateInfo, memUsage MemoryUsage) (vk.Image, *Allocation, error) {
	if info.Extent.Width == 0 || info.Extent.Height == 0 {
		return nil, nil, ErrZeroSized
	}

	var image vk.Image
	if err := checkResult("CreateImage", vk.CreateImage(a.device, info, nil, &image)); err != nil {
		return nil, nil, err
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(a.device, image, &req)
	req.Deref()

	alloc, err := a.allocate(req, memUsage, "image")
	if err != nil {
		vk.DestroyImage(a.device, image, nil)
		return nil, nil, err
	}

	if err := checkResult("BindImageMemory", vk.BindImageMemory(a.device, image, alloc.memory, 0)); err != nil {
		a.free(alloc)
		vk.DestroyImage(a.device, image, nil)
		return nil, nil, err
	}

	a.tracker.add(alloc)
	return image, alloc, nil
}

// DestroyBuffer destroys a buffer created by CreateBuffer along with its memory.
func (a *Allocator) DestroyBuffer(buffer vk.Buffer, alloc *Allocation) {
	if !a.tracker.remove(alloc) {
		a.logger.Error("buffer allocation destroyed twice or not owned")
		return
	}
	vk.DestroyBuffer(a.device, buffer, nil)
	a.free(alloc)
}

// DestroyImage destroys an image created by CreateImage along with its memory.
func (a *Allocator) DestroyImage(image vk.Image, alloc *Allocation) {
	if !a.tracker.remove(alloc) {
		a.logger.Error("image allocation destroyed twice or not owned")
		return
	}
	vk.DestroyImage(a.device, image, nil)
	a.free(alloc)
}

// Flush makes host writes to non-coherent memory visible to the device.
func (a *Allocator) Flush(alloc *Allocation, offset, size vk.DeviceSize) error {
	if alloc.coherent {
		return nil
	}
	start, length := atomRange(offset, size, a.atom, alloc.size)
	return checkResult("FlushMappedMemoryRanges", vk.FlushMappedMemoryRanges(a.device, 1, []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: alloc.memory,
		Offset: start,
		Size:   length,
	}}))
}

// Invalidate makes device writes to non-coherent memory visible to the host.
func (a *Allocator) Invalidate(alloc *Allocation, offset, size vk.DeviceSize) error {
	if alloc.coherent {
		return nil
	}
	start, length := atomRange(offset, size, a.atom, alloc.size)
	return checkResult("InvalidateMappedMemoryRanges", vk.InvalidateMappedMemoryRanges(a.device, 1, []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: alloc.memory,
		Offset: start,
		Size:   length,
	}}))
}

// LiveAllocations returns the number of allocations not yet destroyed.
func (a *Allocator) LiveAllocations() int {
	return len(a.tracker.labels())
}

// Destroy releases the context. Allocations still alive are leaked
// and logged.
func (a *Allocator) Destroy() {
	if leaked := a.tracker.labels(); len(leaked) > 0 {
		a.logger.WithField("leaked", leaked).Warn("allocator destroyed with live allocations")
	}
	a.ctx.Release()
}
