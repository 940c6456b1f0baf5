// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package core

/*
#include <stdint.h>
#include <stdlib.h>

typedef struct {
	int32_t sType;
	const void* pNext;
	uint32_t handleTypes;
} koruExternalMemoryImageCreateInfo;

typedef struct {
	uint64_t offset;
	uint64_t size;
	uint64_t rowPitch;
	uint64_t arrayPitch;
	uint64_t depthPitch;
} koruSubresourceLayout;

typedef struct {
	int32_t sType;
	const void* pNext;
	uint64_t drmFormatModifier;
	uint32_t drmFormatModifierPlaneCount;
	const koruSubresourceLayout* pPlaneLayouts;
} koruDrmFormatModifierExplicitCreateInfo;

typedef struct {
	int32_t sType;
	const void* pNext;
	uint32_t handleType;
	int fd;
} koruImportMemoryFdInfo;

typedef struct {
	int32_t sType;
	const void* pNext;
	uint64_t image;
	uint64_t buffer;
} koruMemoryDedicatedAllocateInfo;
*/
import "C"

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Extension structures the bindings have no types for.
const (
	structureTypeExternalMemoryImageCreateInfo       = 1000072001
	structureTypeImportMemoryFdInfo                  = 1000074000
	structureTypeMemoryDedicatedAllocateInfo         = 1000127001
	structureTypeDrmFormatModifierExplicitCreateInfo = 1000158004

	externalMemoryHandleTypeDmaBuf = 0x00000200

	imageTilingDrmFormatModifier = vk.ImageTiling(1000158000)
)

// cChain is a pNext chain living in C memory, so the driver never
// sees Go pointers.
type cChain struct {
	ptrs []unsafe.Pointer
}

func (c *cChain) alloc(size C.size_t) unsafe.Pointer {
	p := C.calloc(1, size)
	c.ptrs = append(c.ptrs, p)
	return p
}

func (c *cChain) head() unsafe.Pointer {
	if len(c.ptrs) == 0 {
		return nil
	}
	return c.ptrs[0]
}

func (c *cChain) free() {
	for _, p := range c.ptrs {
		C.free(p)
	}
	c.ptrs = nil
}

// newImageChain chains external memory and explicit modifier info
// for a single plane dma-buf image.
func newImageChain(modifier uint64, offset, stride uint32) *cChain {
	chain := &cChain{}
	external := (*C.koruExternalMemoryImageCreateInfo)(chain.alloc(C.sizeof_koruExternalMemoryImageCreateInfo))
	explicit := (*C.koruDrmFormatModifierExplicitCreateInfo)(chain.alloc(C.sizeof_koruDrmFormatModifierExplicitCreateInfo))
	layout := (*C.koruSubresourceLayout)(chain.alloc(C.sizeof_koruSubresourceLayout))

	external.sType = structureTypeExternalMemoryImageCreateInfo
	external.pNext = unsafe.Pointer(explicit)
	external.handleTypes = externalMemoryHandleTypeDmaBuf

	layout.offset = C.uint64_t(offset)
	layout.rowPitch = C.uint64_t(stride)

	explicit.sType = structureTypeDrmFormatModifierExplicitCreateInfo
	explicit.drmFormatModifier = C.uint64_t(modifier)
	explicit.drmFormatModifierPlaneCount = 1
	explicit.pPlaneLayouts = layout
	return chain
}

// newAllocateChain chains fd import and dedicated allocation info.
// On success the driver owns fd.
func newAllocateChain(fd int, image vk.Image) *cChain {
	chain := &cChain{}
	importFd := (*C.koruImportMemoryFdInfo)(chain.alloc(C.sizeof_koruImportMemoryFdInfo))
	dedicated := (*C.koruMemoryDedicatedAllocateInfo)(chain.alloc(C.sizeof_koruMemoryDedicatedAllocateInfo))

	importFd.sType = structureTypeImportMemoryFdInfo
	importFd.pNext = unsafe.Pointer(dedicated)
	importFd.handleType = externalMemoryHandleTypeDmaBuf
	importFd.fd = C.int(fd)

	dedicated.sType = structureTypeMemoryDedicatedAllocateInfo
	dedicated.image = C.uint64_t(uintptr(unsafe.Pointer(image)))
	return chain
}
