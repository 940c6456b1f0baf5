// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// ChooseSurfaceFormat prefers 8 bit BGRA sRGB with the non-linear sRGB
// color space, falling back to the first reported format.
func ChooseSurfaceFormat(formats []vk.SurfaceFormat) (vk.SurfaceFormat, bool) {
	preferred := vk.SurfaceFormat{
		Format:     vk.FormatB8g8r8a8Srgb,
		ColorSpace: vk.ColorSpaceSrgbNonlinear,
	}
	if len(formats) == 0 {
		return vk.SurfaceFormat{}, false
	}
	// A single undefined entry means the surface takes anything
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return preferred, true
	}
	for _, f := range formats {
		if f.Format == preferred.Format && f.ColorSpace == preferred.ColorSpace {
			return f, true
		}
	}
	return formats[0], true
}

// ChoosePresentMode prefers mailbox, then relaxed fifo. Fifo is
// always available.
func ChoosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, want := range []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeFifoRelaxed} {
		for _, mode := range modes {
			if mode == want {
				return mode
			}
		}
	}
	return vk.PresentModeFifo
}

// ChooseExtent returns the current extent, unless the surface reports
// the special value letting the swapchain decide, in which case the
// preferred size is clamped into [min, max].
func ChooseExtent(current, min, max vk.Extent2D, width, height uint32) vk.Extent2D {
	if current.Width != math.MaxUint32 {
		return current
	}
	return vk.Extent2D{
		Width:  clampUint32(width, min.Width, max.Width),
		Height: clampUint32(height, min.Height, max.Height),
	}
}

func clampUint32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// chooseImageCount asks for one more image than the minimum, or the
// configured amount if bigger. A zero max means no limit.
func chooseImageCount(min, max, configured uint32) uint32 {
	count := min + 1
	if configured > count {
		count = configured
	}
	if max != 0 && count > max {
		count = max
	}
	return count
}

func chooseCompositeAlpha(supported vk.CompositeAlphaFlags) vk.CompositeAlphaFlagBits {
	compositeAlphaFlags := []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	}
	for _, flag := range compositeAlphaFlags {
		if supported&vk.CompositeAlphaFlags(flag) != 0 {
			return flag
		}
	}
	return vk.CompositeAlphaOpaqueBit
}

// chooseDepthFormat picks the first format the device can use as an
// optimally tiled depth attachment.
func chooseDepthFormat(supported func(vk.Format) bool) vk.Format {
	for _, format := range []vk.Format{vk.FormatD32Sfloat, vk.FormatD16Unorm} {
		if supported(format) {
			return format
		}
	}
	// D16 support is mandatory
	return vk.FormatD16Unorm
}

func checkSwapchainCounts(images, views, framebuffers int) error {
	if images != views || views != framebuffers {
		return fmt.Errorf("%w: %d images, %d views, %d framebuffers", ErrSwapchainInconsistent, images, views, framebuffers)
	}
	return nil
}

// renderPassProvider hands out the render pass framebuffers are built for.
// It is asked again after every rebuild, the surface format may change.
type renderPassProvider interface {
	renderPassFor(color, depth vk.Format) (vk.RenderPass, error)
}

// swapchainObjects destroys the device objects a swapchain creates.
type swapchainObjects interface {
	DestroyFramebuffer(vk.Framebuffer)
	DestroyImageView(vk.ImageView)
	DestroySwapchain(vk.Swapchain)
}

type depthBuffer struct {
	format vk.Format
	image  vk.Image
	alloc  *Allocation
	view   vk.ImageView
}

// Swapchain owns the presentable images of a surface and everything
// sized after them.
type Swapchain struct {
	ctx       *GPUContext
	allocator *Allocator
	objects   swapchainObjects
	owner     imageOwner
	surface   vk.Surface
	logger    *log.Entry

	configuredImages uint32

	handle       vk.Swapchain
	format       vk.SurfaceFormat
	presentMode  vk.PresentMode
	extent       vk.Extent2D
	images       []vk.Image
	views        []vk.ImageView
	depth        depthBuffer
	framebuffers []vk.Framebuffer
	generation   uint64
}

// NewSwapchain builds a swapchain for the surface with framebuffers
// for the render pass the provider returns.
func NewSwapchain(ctx *GPUContext, allocator *Allocator, surface vk.Surface, cfg RendererConfiguration, passes renderPassProvider) (*Swapchain, error) {
	s := &Swapchain{
		ctx:              ctx.Retain(),
		allocator:        allocator,
		objects:          vkDeviceObjects{device: ctx.Device()},
		owner:            allocator,
		surface:          surface,
		configuredImages: cfg.SwapchainSize,
		logger:           log.WithField("component", "swapchain"),
	}
	if err := s.build(cfg.ScreenWidth, cfg.ScreenHeight, passes); err != nil {
		s.teardown()
		s.ctx.Release()
		return nil, err
	}
	return s, nil
}

// Recreate rebuilds the swapchain after it went out of date. The device
// is idle when it returns, frames in flight are finished.
func (s *Swapchain) Recreate(width, height uint32, passes renderPassProvider) error {
	if err := s.ctx.WaitIdle(); err != nil {
		return err
	}
	s.releaseSized()
	return s.build(width, height, passes)
}

// releaseSized destroys everything sized after the images, users first.
func (s *Swapchain) releaseSized() {
	s.destroyFramebuffers()
	s.destroyDepth()
	s.destroyViews()
}

func (s *Swapchain) build(width, height uint32, passes renderPassProvider) error {
	pd := s.ctx.PhysicalDevice()
	device := s.ctx.Device()

	var caps vk.SurfaceCapabilities
	if err := checkResult("GetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(pd, s.surface, &caps)); err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	var formatCount uint32
	if err := checkResult("GetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(pd, s.surface, &formatCount, nil)); err != nil {
		return err
	}
	formats := make([]vk.SurfaceFormat, formatCount)
	if err := checkResult("GetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(pd, s.surface, &formatCount, formats)); err != nil {
		return err
	}
	for i := range formats {
		formats[i].Deref()
	}
	format, ok := ChooseSurfaceFormat(formats)
	if !ok {
		return fmt.Errorf("%w: surface reports no formats", ErrUnsupportedFormat)
	}

	var modeCount uint32
	if err := checkResult("GetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(pd, s.surface, &modeCount, nil)); err != nil {
		return err
	}
	modes := make([]vk.PresentMode, modeCount)
	if err := checkResult("GetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(pd, s.surface, &modeCount, modes)); err != nil {
		return err
	}
	presentMode := ChoosePresentMode(modes)

	extent := ChooseExtent(caps.CurrentExtent, caps.MinImageExtent, caps.MaxImageExtent, width, height)
	if extent.Width == 0 || extent.Height == 0 {
		// minimized, keep the old swapchain until the window has a size
		return fmt.Errorf("%w: surface extent is %dx%d", errSwapchainOutOfDate, extent.Width, extent.Height)
	}

	oldSwapchain := s.handle
	scci := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.surface,
		MinImageCount:    chooseImageCount(caps.MinImageCount, caps.MaxImageCount, s.configuredImages),
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   chooseCompositeAlpha(caps.SupportedCompositeAlpha),
		PresentMode:      presentMode,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     oldSwapchain,
	}

	var swapchain vk.Swapchain
	if err := checkResult("CreateSwapchain", vk.CreateSwapchain(device, &scci, nil, &swapchain)); err != nil {
		return err
	}
	if oldSwapchain != nil {
		s.objects.DestroySwapchain(oldSwapchain)
	}
	s.handle = swapchain
	s.format = format
	s.presentMode = presentMode
	s.extent = extent

	var numImages uint32
	if err := checkResult("GetSwapchainImages", vk.GetSwapchainImages(device, s.handle, &numImages, nil)); err != nil {
		return err
	}
	s.images = make([]vk.Image, numImages)
	if err := checkResult("GetSwapchainImages", vk.GetSwapchainImages(device, s.handle, &numImages, s.images)); err != nil {
		return err
	}

	if err := s.createViews(); err != nil {
		return err
	}
	if err := s.createDepth(); err != nil {
		return err
	}

	renderPass, err := passes.renderPassFor(s.format.Format, s.depth.format)
	if err != nil {
		return err
	}
	if err := s.createFramebuffers(renderPass); err != nil {
		return err
	}
	if err := checkSwapchainCounts(len(s.images), len(s.views), len(s.framebuffers)); err != nil {
		return err
	}

	s.generation++
	s.logger.WithFields(log.Fields{
		"generation":  s.generation,
		"width":       extent.Width,
		"height":      extent.Height,
		"images":      numImages,
		"format":      format.Format,
		"presentMode": presentMode,
	}).Info("swapchain built")
	return nil
}

func (s *Swapchain) createViews() error {
	for _, image := range s.images {
		ivci := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    image,
			ViewType: vk.ImageViewType2d,
			Format:   s.format.Format,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: colorSubresourceRange(),
		}

		var view vk.ImageView
		if err := checkResult("CreateImageView", vk.CreateImageView(s.ctx.Device(), &ivci, nil, &view)); err != nil {
			return err
		}
		s.views = append(s.views, view)
	}
	return nil
}

func (s *Swapchain) createDepth() error {
	format := chooseDepthFormat(func(f vk.Format) bool {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(s.ctx.PhysicalDevice(), f, &props)
		props.Deref()
		return props.OptimalTilingFeatures&vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit) != 0
	})

	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  s.extent.Width,
			Height: s.extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	image, alloc, err := s.allocator.CreateImage(&ici, GpuOnly)
	if err != nil {
		return err
	}

	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := checkResult("CreateImageView", vk.CreateImageView(s.ctx.Device(), &ivci, nil, &view)); err != nil {
		s.allocator.DestroyImage(image, alloc)
		return err
	}

	s.depth = depthBuffer{
		format: format,
		image:  image,
		alloc:  alloc,
		view:   view,
	}
	return nil
}

func (s *Swapchain) createFramebuffers(renderPass vk.RenderPass) error {
	for _, view := range s.views {
		attachments := []vk.ImageView{
			view,
			s.depth.view,
		}
		fci := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      renderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           s.extent.Width,
			Height:          s.extent.Height,
			Layers:          1,
		}

		var framebuffer vk.Framebuffer
		if err := checkResult("CreateFramebuffer", vk.CreateFramebuffer(s.ctx.Device(), &fci, nil, &framebuffer)); err != nil {
			return err
		}
		s.framebuffers = append(s.framebuffers, framebuffer)
	}
	return nil
}

func (s *Swapchain) destroyFramebuffers() {
	for _, fb := range s.framebuffers {
		s.objects.DestroyFramebuffer(fb)
	}
	s.framebuffers = nil
}

func (s *Swapchain) destroyDepth() {
	if s.depth.view != nil {
		s.objects.DestroyImageView(s.depth.view)
	}
	if s.depth.alloc != nil {
		s.owner.DestroyImage(s.depth.image, s.depth.alloc)
	}
	s.depth = depthBuffer{}
}

// destroyViews destroys the image views. The images belong to the
// swapchain handle and go with it.
func (s *Swapchain) destroyViews() {
	for _, view := range s.views {
		s.objects.DestroyImageView(view)
	}
	s.views = nil
	s.images = nil
}

func (s *Swapchain) teardown() {
	s.releaseSized()
	if s.handle != nil {
		s.objects.DestroySwapchain(s.handle)
		s.handle = nil
	}
}

// Ready reports whether every image has a view and a framebuffer.
// A failed rebuild leaves the swapchain not ready.
func (s *Swapchain) Ready() bool {
	return len(s.framebuffers) > 0 && checkSwapchainCounts(len(s.images), len(s.views), len(s.framebuffers)) == nil
}

// AcquireNextImage waits without timeout for the next presentable image.
// Out of date swapchains return errSwapchainOutOfDate, suboptimal ones
// are reported through the bool.
func (s *Swapchain) AcquireNextImage(signal vk.Semaphore) (uint32, bool, error) {
	var index uint32
	res := vk.AcquireNextImage(s.ctx.Device(), s.handle, vk.MaxUint64, signal, vk.NullFence, &index)
	switch res {
	case vk.Success:
		return index, false, nil
	case vk.Suboptimal:
		return index, true, nil
	default:
		return 0, false, checkResult("AcquireNextImage", res)
	}
}

// Handle returns the swapchain handle.
func (s *Swapchain) Handle() vk.Swapchain {
	return s.handle
}

// Extent is the size of the swapchain images.
func (s *Swapchain) Extent() vk.Extent2D {
	return s.extent
}

// Format is the chosen surface format.
func (s *Swapchain) Format() vk.SurfaceFormat {
	return s.format
}

// DepthFormat is the format of the depth attachment.
func (s *Swapchain) DepthFormat() vk.Format {
	return s.depth.format
}

// Framebuffer returns the framebuffer of a swapchain image, nil for an
// index the swapchain has no framebuffer for.
func (s *Swapchain) Framebuffer(index uint32) vk.Framebuffer {
	if int(index) >= len(s.framebuffers) {
		return nil
	}
	return s.framebuffers[index]
}

// Generation increments with every build.
func (s *Swapchain) Generation() uint64 {
	return s.generation
}

// Destroy tears the swapchain down, the device must be idle.
func (s *Swapchain) Destroy() {
	s.teardown()
	s.ctx.Release()
}
