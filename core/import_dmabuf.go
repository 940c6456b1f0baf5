// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// DRM fourcc codes of the supported dma-buf formats
const (
	DrmFormatARGB8888 uint32 = 0x34325241
	DrmFormatXRGB8888 uint32 = 0x34325258
	DrmFormatABGR8888 uint32 = 0x34324241
	DrmFormatXBGR8888 uint32 = 0x34324258
)

// DRM format modifiers
const (
	DrmFormatModLinear  uint64 = 0
	DrmFormatModInvalid uint64 = 0x00ffffffffffffff
)

var drmFormats = map[uint32]pixelFormat{
	DrmFormatARGB8888: {format: vk.FormatB8g8r8a8Unorm},
	DrmFormatXRGB8888: {format: vk.FormatB8g8r8a8Unorm, opaque: true},
	DrmFormatABGR8888: {format: vk.FormatR8g8b8a8Unorm},
	DrmFormatXBGR8888: {format: vk.FormatR8g8b8a8Unorm, opaque: true},
}

func fourccString(code uint32) string {
	b := []byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("%#08x", code)
		}
	}
	return string(b)
}

// DmabufPlane is one plane of a dma-buf.
type DmabufPlane struct {
	Fd     int
	Offset uint32
	Stride uint32
}

// DmabufDescriptor describes a client dma-buf. The file descriptors
// stay owned by the caller.
type DmabufDescriptor struct {
	Width       uint32
	Height      uint32
	Format      uint32
	Modifier    uint64
	HasModifier bool
	Planes      []DmabufPlane
}

// modifier is the modifier the image is created with.
func (d DmabufDescriptor) modifier() uint64 {
	if !d.HasModifier || d.Modifier == DrmFormatModInvalid {
		return DrmFormatModLinear
	}
	return d.Modifier
}

// validateDmabuf checks everything that can be checked without
// touching the file descriptor.
func validateDmabuf(desc DmabufDescriptor) (pixelFormat, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return pixelFormat{}, fmt.Errorf("%w: %dx%d", ErrZeroSized, desc.Width, desc.Height)
	}
	pf, ok := drmFormats[desc.Format]
	if !ok {
		return pixelFormat{}, &UnsupportedFormatError{Format: fourccString(desc.Format), Width: desc.Width, Height: desc.Height}
	}
	if len(desc.Planes) != 1 {
		return pixelFormat{}, fmt.Errorf("%w: %d planes, only single plane buffers are supported", ErrInvalidDmabuf, len(desc.Planes))
	}
	plane := desc.Planes[0]
	if plane.Fd < 0 {
		return pixelFormat{}, fmt.Errorf("%w: fd %d", ErrInvalidDmabuf, plane.Fd)
	}
	if uint64(plane.Stride) < uint64(desc.Width)*bytesPerPixel {
		return pixelFormat{}, fmt.Errorf("%w: stride %d is shorter than a row of %d pixels", ErrInvalidDmabuf, plane.Stride, desc.Width)
	}
	return pf, nil
}

// checkDmabufSize makes sure the buffer of size bytes holds the plane.
func checkDmabufSize(desc DmabufDescriptor, size int64) error {
	plane := desc.Planes[0]
	need := uint64(plane.Offset) + uint64(plane.Stride)*uint64(desc.Height-1) + uint64(desc.Width)*bytesPerPixel
	if size < 0 || uint64(size) < need {
		return fmt.Errorf("%w: buffer of %d bytes is too small, %d needed", ErrInvalidDmabuf, size, need)
	}
	return nil
}
