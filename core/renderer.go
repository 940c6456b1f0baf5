// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// resizeRequest is the pending swapchain recreation.
type resizeRequest struct {
	mutex  sync.Mutex
	dirty  bool
	width  uint32
	height uint32
}

func (r *resizeRequest) resize(width, height uint32) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.dirty = true
	r.width = width
	r.height = height
}

// markDirty asks for a recreation at the last requested size.
func (r *resizeRequest) markDirty() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.dirty = true
}

func (r *resizeRequest) pending() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.dirty
}

// take clears the request and returns the size to recreate at.
func (r *resizeRequest) take() (uint32, uint32, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	dirty := r.dirty
	r.dirty = false
	return r.width, r.height, dirty
}

type counters struct {
	submitted   uint64
	dropped     uint64
	recreations uint64
	skipped     uint64
	culled      uint64
}

// VulkanRenderer presents the render elements of one output through
// a swapchain, keeping FramesInFlight frames on the GPU at a time.
type VulkanRenderer struct {
	cfg    RendererConfiguration
	logger *log.Entry

	ctx       *GPUContext
	allocator *Allocator
	cache     *PipelineCache
	uploader  *uploader
	target    frameTarget
	post      *postProcess

	ring frameRing
	// slotFrames is the number of the last frame recorded in each slot
	slotFrames []uint64

	state      frameState
	imageIndex uint32
	recorded   bool
	dropped    bool
	suboptimal bool
	lost       bool
	destroyed  bool

	// lastFrame is the number of the last recorded frame, completed
	// the newest frame known to be finished on the GPU
	lastFrame uint64
	completed uint64

	resize resizeRequest
	retire retireQueue

	texturesMutex sync.Mutex
	textures      map[uint64]*Texture

	stats counters
}

// NewVulkanRenderer creates a renderer for the surface of instance.
// Shaders are read from shaders, or from the configured directory
// when it is nil.
func NewVulkanRenderer(instance Instance, cfg RendererConfiguration, shaders ShaderSource) (*VulkanRenderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if shaders == nil {
		source, err := NewDirectorySource(cfg.ShaderDirectory)
		if err != nil {
			return nil, err
		}
		shaders = source
	}

	ctx, err := NewGPUContext(instance, cfg)
	if err != nil {
		return nil, err
	}

	v := &VulkanRenderer{
		cfg:        cfg,
		logger:     log.WithField("component", "renderer"),
		ctx:        ctx,
		ring:       frameRing{count: cfg.FramesInFlight},
		slotFrames: make([]uint64, cfg.FramesInFlight),
		textures:   make(map[uint64]*Texture),
	}
	v.resize.width = cfg.ScreenWidth
	v.resize.height = cfg.ScreenHeight

	if err := v.initialise(instance.Surface(), shaders); err != nil {
		v.teardown()
		return nil, err
	}

	extent := v.target.extent()
	v.logger.WithFields(log.Fields{
		"width":          extent.Width,
		"height":         extent.Height,
		"framesInFlight": cfg.FramesInFlight,
		"maxObjects":     cfg.MaxDynamicObjects,
		"postProcess":    v.post != nil,
	}).Info("renderer created")
	return v, nil
}

func (v *VulkanRenderer) initialise(surface vk.Surface, shaders ShaderSource) error {
	var err error
	v.allocator = NewAllocator(v.ctx)

	if v.cache, err = NewPipelineCache(v.ctx, v.cfg.PipelineCachePath); err != nil {
		return err
	}
	if v.uploader, err = newUploader(v.ctx, v.allocator); err != nil {
		return err
	}
	target, err := newSwapchainTarget(v.ctx, v.allocator, v.uploader, surface, shaders, v.cache.Handle(), v.cfg)
	if err != nil {
		return err
	}
	v.target = target
	v.post = target.post
	return nil
}

func (v *VulkanRenderer) checkUsable() error {
	if v.destroyed {
		return ErrRendererDestroyed
	}
	if v.lost {
		return ErrDeviceLost
	}
	return nil
}

// fail ends the frame with err. A lost device makes every later
// frame fail too.
func (v *VulkanRenderer) fail(err error) error {
	v.state = frameIdle
	v.recorded = false
	if errors.Is(err, ErrDeviceLost) {
		v.lost = true
		if v.logger != nil {
			v.logger.WithError(err).Error("device lost")
		}
	}
	return err
}

// drop ends the frame without drawing anything.
func (v *VulkanRenderer) drop(reason string) {
	v.state = frameIdle
	v.dropped = true
	atomic.AddUint64(&v.stats.dropped, 1)
	v.logger.WithField("reason", reason).Debug("frame dropped")
}

// RenderFrame implements interface
func (v *VulkanRenderer) RenderFrame(elements []RenderElement, output OutputGeometry, scale float64) error {
	if err := v.checkUsable(); err != nil {
		return err
	}
	if err := v.state.to(frameAcquiring); err != nil {
		return err
	}
	v.dropped = false

	if v.resize.pending() {
		if err := v.recreate(); err != nil {
			return v.fail(err)
		}
		v.drop("swapchain recreated")
		return nil
	}
	if !v.target.ready() {
		v.resize.markDirty()
		v.drop("swapchain incomplete")
		return nil
	}

	slot := v.ring.current
	if err := v.target.wait(slot); err != nil {
		return v.fail(err)
	}
	if v.slotFrames[slot] > v.completed {
		v.completed = v.slotFrames[slot]
	}
	v.collectRetired()

	// everything that can fail softly happens before acquiring, an
	// acquired image must be submitted
	extent := v.target.extent()
	plan := planDraws(elements, output, scale, extent, uint32(v.cfg.MaxDynamicObjects))
	atomic.AddUint64(&v.stats.culled, uint64(plan.culled))
	if plan.skipped > 0 {
		atomic.AddUint64(&v.stats.skipped, uint64(plan.skipped))
		v.logger.WithFields(log.Fields{
			"skipped":    plan.skipped,
			"maxObjects": v.cfg.MaxDynamicObjects,
		}).Warn("too many render elements, skipping the rest")
	}
	sets, err := v.bindDraws(slot, &plan)
	if err != nil {
		return v.fail(err)
	}

	imageIndex, suboptimal, err := v.target.acquire(slot)
	if errors.Is(err, errSwapchainOutOfDate) {
		v.resize.markDirty()
		v.drop("swapchain out of date")
		return nil
	}
	if err != nil {
		return v.fail(err)
	}
	if err := v.state.to(frameRecording); err != nil {
		return v.fail(err)
	}
	if err := v.target.record(slot, imageIndex, plan, sets); err != nil {
		return v.fail(err)
	}

	frame := atomic.AddUint64(&v.lastFrame, 1)
	v.slotFrames[slot] = frame
	v.imageIndex = imageIndex
	v.suboptimal = suboptimal
	v.recorded = true
	return nil
}

// bindDraws finds the descriptor set of every draw and writes its
// uniform. Draws whose set cannot be allocated are skipped.
func (v *VulkanRenderer) bindDraws(slot int, plan *drawPlan) ([]vk.DescriptorSet, error) {
	draws := plan.draws[:0]
	sets := make([]vk.DescriptorSet, 0, len(plan.draws))
	var unbound int
	var lastErr error
	for _, draw := range plan.draws {
		set, err := v.target.bind(slot, draw.texture)
		if errors.Is(err, ErrDeviceLost) {
			return nil, err
		}
		if err != nil {
			unbound++
			lastErr = err
			continue
		}
		if err := v.target.update(slot, &draw); err != nil {
			return nil, err
		}
		draws = append(draws, draw)
		sets = append(sets, set)
	}
	plan.draws = draws
	if unbound > 0 {
		plan.skipped += unbound
		atomic.AddUint64(&v.stats.skipped, uint64(unbound))
		v.logger.WithError(lastErr).WithField("skipped", unbound).Warn("no descriptor set for render elements, skipping them")
	}
	return sets, nil
}

// SubmitAndPresentFrame implements interface
func (v *VulkanRenderer) SubmitAndPresentFrame() error {
	if err := v.checkUsable(); err != nil {
		return err
	}
	if !v.recorded {
		if v.dropped {
			v.dropped = false
			return nil
		}
		return ErrFrameNotRecorded
	}

	slot := v.ring.current
	if err := v.state.to(frameSubmitted); err != nil {
		return v.fail(err)
	}
	if err := v.target.submit(slot); err != nil {
		return v.fail(err)
	}
	atomic.AddUint64(&v.stats.submitted, 1)
	v.recorded = false

	if err := v.state.to(framePresenting); err != nil {
		return v.fail(err)
	}
	presentResult := v.target.present(slot, v.imageIndex)

	v.state = frameIdle
	v.ring.advance()

	switch presentResult {
	case vk.Success:
	case vk.Suboptimal, vk.ErrorOutOfDate:
		v.resize.markDirty()
	default:
		return v.fail(checkResult("QueuePresent", presentResult))
	}
	if v.suboptimal {
		v.resize.markDirty()
	}
	if v.resize.pending() {
		if err := v.recreate(); err != nil {
			return v.fail(err)
		}
	}
	return nil
}

// recreate rebuilds the swapchain at the requested size. A surface
// without area or a failed rebuild keeps the request pending.
func (v *VulkanRenderer) recreate() error {
	width, height, dirty := v.resize.take()
	if !dirty {
		return nil
	}

	err := v.target.recreate(width, height)
	if err != nil {
		v.resize.markDirty()
	}
	if errors.Is(err, errSwapchainOutOfDate) {
		v.logger.WithError(err).Debug("swapchain recreation postponed")
		return nil
	}
	if err != nil {
		return err
	}
	v.suboptimal = false
	atomic.AddUint64(&v.stats.recreations, 1)

	// every frame is complete after the idle wait of the rebuild
	v.completed = atomic.LoadUint64(&v.lastFrame)
	v.collectRetired()
	return nil
}

func (v *VulkanRenderer) collectRetired() {
	for _, texture := range v.retire.collect(v.completed) {
		v.destroyTexture(texture)
	}
}

// destroyTexture frees the descriptor sets of texture and destroys it.
// No frame in flight may use it.
func (v *VulkanRenderer) destroyTexture(texture *Texture) {
	v.target.forget(texture)
	v.texturesMutex.Lock()
	delete(v.textures, texture.ID())
	v.texturesMutex.Unlock()
	texture.Destroy()
}

func (v *VulkanRenderer) track(texture *Texture, err error) (*Texture, error) {
	if err != nil {
		return nil, err
	}
	v.texturesMutex.Lock()
	defer v.texturesMutex.Unlock()
	v.textures[texture.ID()] = texture
	return texture, nil
}

// CreateTextureFromShm implements interface
func (v *VulkanRenderer) CreateTextureFromShm(pixels []byte, width, height, stride uint32, format ShmFormat) (*Texture, error) {
	if v.destroyed {
		return nil, ErrRendererDestroyed
	}
	return v.track(v.uploader.textureFromShm(pixels, width, height, stride, format))
}

// CreateTextureFromDmabuf implements interface
func (v *VulkanRenderer) CreateTextureFromDmabuf(desc DmabufDescriptor) (*Texture, error) {
	if v.destroyed {
		return nil, ErrRendererDestroyed
	}
	return v.track(v.uploader.textureFromDmabuf(desc))
}

// ReleaseTexture implements interface. Frames recorded from now on
// skip the texture, it is destroyed after the last frame that drew it.
func (v *VulkanRenderer) ReleaseTexture(texture *Texture) {
	if texture == nil || texture.Destroyed() || !texture.markRetired() {
		return
	}
	v.retire.push(texture, atomic.LoadUint64(&v.lastFrame))
}

// SetPostProcessInput selects the texture the compute shader reads from,
// nil turns post processing off. It has no effect without a compute shader.
func (v *VulkanRenderer) SetPostProcessInput(texture *Texture) {
	if v.post != nil {
		v.post.setInput(texture)
	}
}

// PostProcessOutput returns the texture the next frame's compute pass
// writes, to be drawn as a render element of that frame.
func (v *VulkanRenderer) PostProcessOutput() *Texture {
	if v.post == nil {
		return nil
	}
	return v.post.output(v.ring.current)
}

// ScreenSize implements interface
func (v *VulkanRenderer) ScreenSize() (uint32, uint32) {
	extent := v.target.extent()
	return extent.Width, extent.Height
}

// NotifyResized implements interface
func (v *VulkanRenderer) NotifyResized(width, height uint32) {
	v.resize.resize(width, height)
}

// Stats returns the frame loop counters.
func (v *VulkanRenderer) Stats() Stats {
	return Stats{
		FramesSubmitted: atomic.LoadUint64(&v.stats.submitted),
		FramesDropped:   atomic.LoadUint64(&v.stats.dropped),
		Recreations:     atomic.LoadUint64(&v.stats.recreations),
		SkippedElements: atomic.LoadUint64(&v.stats.skipped),
		CulledElements:  atomic.LoadUint64(&v.stats.culled),
	}
}

// Context returns the GPU context the renderer runs on.
func (v *VulkanRenderer) Context() *GPUContext {
	return v.ctx
}

// Destroy implements interface
func (v *VulkanRenderer) Destroy() {
	if v.destroyed {
		return
	}
	v.destroyed = true
	v.teardown()
	v.logger.Info("renderer destroyed")
}

// teardown destroys whatever initialise got to create.
func (v *VulkanRenderer) teardown() {
	if err := v.ctx.WaitIdle(); err != nil {
		v.logger.WithError(err).Warn("device did not go idle")
	}

	// descriptor sets of these go with the target
	for _, texture := range v.retire.drain() {
		texture.Destroy()
	}
	v.texturesMutex.Lock()
	for id, texture := range v.textures {
		texture.Destroy()
		delete(v.textures, id)
	}
	v.texturesMutex.Unlock()

	if v.target != nil {
		v.target.destroy()
	}
	if v.uploader != nil {
		v.uploader.destroy()
	}
	if v.cache != nil {
		if err := v.cache.Save(); err != nil {
			v.logger.WithError(err).Warn("pipeline cache not saved")
		}
		v.cache.Destroy()
	}
	if v.allocator != nil {
		v.allocator.Destroy()
	}
	v.ctx.Release()
}
