// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// ShmFormat is a wl_shm pixel format code.
type ShmFormat uint32

// Supported shared memory formats
const (
	ShmARGB8888 ShmFormat = 0
	ShmXRGB8888 ShmFormat = 1
	ShmABGR8888 ShmFormat = 0x34324241
	ShmXBGR8888 ShmFormat = 0x34324258
)

func (f ShmFormat) String() string {
	switch f {
	case ShmARGB8888:
		return "ARGB8888"
	case ShmXRGB8888:
		return "XRGB8888"
	case ShmABGR8888:
		return "ABGR8888"
	case ShmXBGR8888:
		return "XBGR8888"
	default:
		return fmt.Sprintf("ShmFormat(%#x)", uint32(f))
	}
}

// pixelFormat is how a client format is sampled. Formats without
// alpha read it as one.
type pixelFormat struct {
	format vk.Format
	opaque bool
}

func (p pixelFormat) components() vk.ComponentMapping {
	components := vk.ComponentMapping{
		R: vk.ComponentSwizzleIdentity,
		G: vk.ComponentSwizzleIdentity,
		B: vk.ComponentSwizzleIdentity,
		A: vk.ComponentSwizzleIdentity,
	}
	if p.opaque {
		components.A = vk.ComponentSwizzleOne
	}
	return components
}

var shmFormats = map[ShmFormat]pixelFormat{
	ShmARGB8888: {format: vk.FormatB8g8r8a8Unorm},
	ShmXRGB8888: {format: vk.FormatB8g8r8a8Unorm, opaque: true},
	ShmABGR8888: {format: vk.FormatR8g8b8a8Unorm},
	ShmXBGR8888: {format: vk.FormatR8g8b8a8Unorm, opaque: true},
}

const bytesPerPixel = 4

// validateShm checks a shared memory buffer before anything is created.
func validateShm(pixels []byte, width, height, stride uint32, format ShmFormat) (pixelFormat, error) {
	if width == 0 || height == 0 {
		return pixelFormat{}, fmt.Errorf("%w: %dx%d", ErrZeroSized, width, height)
	}
	pf, ok := shmFormats[format]
	if !ok {
		return pixelFormat{}, &UnsupportedFormatError{Format: format.String(), Width: width, Height: height}
	}
	if uint64(stride) < uint64(width)*bytesPerPixel {
		return pixelFormat{}, fmt.Errorf("stride %d is shorter than a row of %d pixels", stride, width)
	}
	// the last row does not need to be padded to the stride
	need := uint64(stride)*uint64(height-1) + uint64(width)*bytesPerPixel
	if uint64(len(pixels)) < need {
		return pixelFormat{}, fmt.Errorf("buffer of %d bytes is too small for %dx%d with stride %d", len(pixels), width, height, stride)
	}
	return pf, nil
}

// packRows drops the row padding of a validated buffer.
func packRows(pixels []byte, width, height, stride uint32) []byte {
	row := int(width) * bytesPerPixel
	if int(stride) == row {
		return pixels[:row*int(height)]
	}
	packed := make([]byte, row*int(height))
	for y := 0; y < int(height); y++ {
		src := y * int(stride)
		copy(packed[y*row:(y+1)*row], pixels[src:src+row])
	}
	return packed
}

// uploader turns client buffers into textures.
type uploader struct {
	ctx       *GPUContext
	allocator *Allocator
	commands  *commandContext
	objects   deviceObjects
	logger    *log.Entry
}

func newUploader(ctx *GPUContext, allocator *Allocator) (*uploader, error) {
	commands, err := newCommandContext(ctx.Device(), ctx.Graphics)
	if err != nil {
		return nil, err
	}
	return &uploader{
		ctx:       ctx,
		allocator: allocator,
		commands:  commands,
		objects:   vkDeviceObjects{device: ctx.Device()},
		logger:    log.WithField("component", "import"),
	}, nil
}

func (u *uploader) destroy() {
	u.commands.destroy()
}

// textureFromShm copies a shared memory buffer into a new texture.
func (u *uploader) textureFromShm(pixels []byte, width, height, stride uint32, format ShmFormat) (*Texture, error) {
	pf, err := validateShm(pixels, width, height, stride, format)
	if err != nil {
		return nil, err
	}
	data := packRows(pixels, width, height, stride)

	staging, stagingAlloc, err := u.allocator.CreateBuffer(vk.DeviceSize(len(data)),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), CpuOnly, true)
	if err != nil {
		return nil, err
	}
	defer u.allocator.DestroyBuffer(staging, stagingAlloc)

	if err := stagingAlloc.Write(0, data); err != nil {
		return nil, err
	}
	if err := u.allocator.Flush(stagingAlloc, 0, vk.DeviceSize(len(data))); err != nil {
		return nil, err
	}

	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    pf.format,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	image, alloc, err := u.allocator.CreateImage(&ici, GpuOnly)
	if err != nil {
		return nil, err
	}

	state := layoutState{current: vk.ImageLayoutUndefined}
	if err := u.commands.run(func(cmd vk.CommandBuffer) error {
		if err := cmdTransition(cmd, image, &state, vk.ImageLayoutTransferDstOptimal); err != nil {
			return err
		}
		vk.CmdCopyBufferToImage(cmd, staging, image, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{
				Width:  width,
				Height: height,
				Depth:  1,
			},
		}})
		return cmdTransition(cmd, image, &state, vk.ImageLayoutShaderReadOnlyOptimal)
	}); err != nil {
		u.allocator.DestroyImage(image, alloc)
		return nil, err
	}

	storage := &ownedStorage{img: image, alloc: alloc, owner: u.allocator}
	texture, err := u.finish(storage, pf, width, height)
	if err != nil {
		return nil, err
	}
	u.logger.WithFields(log.Fields{
		"texture": texture.ID(),
		"format":  format,
		"width":   width,
		"height":  height,
	}).Debug("shm texture created")
	return texture, nil
}

// finish creates view and sampler for a ready image. The storage is
// freed when they cannot be created.
func (u *uploader) finish(storage textureStorage, pf pixelFormat, width, height uint32) (*Texture, error) {
	view, err := createImageView(u.ctx.Device(), storage.image(), pf.format, pf.components())
	if err != nil {
		storage.free()
		return nil, err
	}
	sampler, err := createSampler(u.ctx.Device(), u.ctx.Info())
	if err != nil {
		u.objects.DestroyImageView(view)
		storage.free()
		return nil, err
	}
	return newTexture(storage, u.objects, view, sampler, width, height, pf.format), nil
}
