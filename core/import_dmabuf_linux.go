// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package core

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/sys/unix"
)

// fdSize returns the size of the buffer behind fd, leaving the
// offset where it was.
func fdSize(fd int) (int64, error) {
	current, err := unix.Seek(fd, 0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	size, err := unix.Seek(fd, 0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := unix.Seek(fd, current, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// textureFromDmabuf imports a dma-buf as a texture. Everything created
// along the way is destroyed again when a step fails.
func (u *uploader) textureFromDmabuf(desc DmabufDescriptor) (*Texture, error) {
	pf, err := validateDmabuf(desc)
	if err != nil {
		return nil, err
	}
	plane := desc.Planes[0]

	size, err := fdSize(plane.Fd)
	if err != nil {
		return nil, fmt.Errorf("%w: lseek: %s", ErrInvalidDmabuf, err.Error())
	}
	if err := checkDmabufSize(desc, size); err != nil {
		return nil, err
	}

	fd, err := unix.FcntlInt(uintptr(plane.Fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: dup: %s", ErrInvalidDmabuf, err.Error())
	}
	fdOwned := true
	defer func() {
		if fdOwned {
			unix.Close(fd)
		}
	}()

	device := u.ctx.Device()
	imageChain := newImageChain(desc.modifier(), plane.Offset, plane.Stride)
	defer imageChain.free()

	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		PNext:     imageChain.head(),
		ImageType: vk.ImageType2d,
		Format:    pf.format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        imageTilingDrmFormatModifier,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var image vk.Image
	if err := checkResult("CreateImage", vk.CreateImage(device, &ici, nil, &image)); err != nil {
		return nil, err
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, image, &req)
	req.Deref()

	typeIndex, ok := chooseMemoryType(u.allocator.types, req.MemoryTypeBits, 0, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if !ok {
		u.objects.DestroyImage(image)
		return nil, fmt.Errorf("%w: no memory type for type bits %b", ErrInvalidDmabuf, req.MemoryTypeBits)
	}

	allocChain := newAllocateChain(fd, image)
	defer allocChain.free()

	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           allocChain.head(),
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	if err := checkResult("AllocateMemory", vk.AllocateMemory(device, &mai, nil, &memory)); err != nil {
		u.objects.DestroyImage(image)
		return nil, err
	}
	fdOwned = false

	storage := &importedStorage{img: image, memory: memory, device: u.objects}
	if err := checkResult("BindImageMemory", vk.BindImageMemory(device, image, memory, 0)); err != nil {
		storage.free()
		return nil, err
	}

	state := layoutState{current: vk.ImageLayoutUndefined}
	if err := u.commands.run(func(cmd vk.CommandBuffer) error {
		return cmdTransition(cmd, image, &state, vk.ImageLayoutShaderReadOnlyOptimal)
	}); err != nil {
		storage.free()
		return nil, err
	}

	texture, err := u.finish(storage, pf, desc.Width, desc.Height)
	if err != nil {
		return nil, err
	}
	u.logger.WithFields(log.Fields{
		"texture":  texture.ID(),
		"format":   fourccString(desc.Format),
		"modifier": fmt.Sprintf("%#x", desc.modifier()),
		"width":    desc.Width,
		"height":   desc.Height,
	}).Debug("dma-buf texture imported")
	return texture, nil
}
