// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"unsafe"

	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"

	"github.com/devblok/koru-present/model"
)

// frameTarget is the GPU side of the frame loop. The renderer decides
// when to wait, acquire, submit and rebuild, the target does it.
type frameTarget interface {
	extent() vk.Extent2D
	// ready is false while the swapchain has no framebuffer per image
	ready() bool

	// wait blocks until the last frame submitted from slot is complete.
	wait(slot int) error
	// bind returns the descriptor set drawing texture from slot.
	bind(slot int, texture *Texture) (vk.DescriptorSet, error)
	// update writes the uniform of draw into the ring of slot.
	update(slot int, draw *plannedDraw) error

	acquire(slot int) (image uint32, suboptimal bool, err error)
	record(slot int, image uint32, plan drawPlan, sets []vk.DescriptorSet) error
	submit(slot int) error
	present(slot int, image uint32) vk.Result

	// recreate rebuilds the swapchain, leaving the device idle.
	recreate(width, height uint32) error
	// forget frees what the target holds for texture.
	forget(texture *Texture)
	destroy()
}

// frameSlot holds what one frame in flight needs.
type frameSlot struct {
	imageAvailable vk.Semaphore
	renderFinished vk.Semaphore
	inFlight       vk.Fence
	command        vk.CommandBuffer
}

// swapchainTarget draws into the swapchain of a surface.
type swapchainTarget struct {
	cfg    RendererConfiguration
	logger *log.Entry

	ctx       *GPUContext
	device    vk.Device
	allocator *Allocator
	pipelines *PipelineSet
	swapchain *Swapchain
	uniforms  *UniformRing
	post      *postProcess

	commandPool    vk.CommandPool
	descriptorPool vk.DescriptorPool
	slots          []frameSlot
	bindings       bindingCache

	vertexBuffer vk.Buffer
	vertexAlloc  *Allocation
	indexBuffer  vk.Buffer
	indexAlloc   *Allocation
}

func newSwapchainTarget(ctx *GPUContext, allocator *Allocator, u *uploader, surface vk.Surface, shaders ShaderSource, cache vk.PipelineCache, cfg RendererConfiguration) (*swapchainTarget, error) {
	t := &swapchainTarget{
		cfg:       cfg,
		logger:    log.WithField("component", "target"),
		ctx:       ctx,
		device:    ctx.Device(),
		allocator: allocator,
	}
	if err := t.initialise(u, surface, shaders, cache); err != nil {
		t.destroy()
		return nil, err
	}
	return t, nil
}

func (t *swapchainTarget) initialise(u *uploader, surface vk.Surface, shaders ShaderSource, cache vk.PipelineCache) error {
	var err error
	if t.pipelines, err = NewPipelineSet(t.device, shaders, cache); err != nil {
		return err
	}
	if t.swapchain, err = NewSwapchain(t.ctx, t.allocator, surface, t.cfg, t.pipelines); err != nil {
		return err
	}
	if t.uniforms, err = NewUniformRing(t.allocator, t.cfg.FramesInFlight, uint32(t.cfg.MaxDynamicObjects),
		vk.DeviceSize(model.ObjectUniformSize), t.ctx.Info().MinUniformBufferOffsetAlignment); err != nil {
		return err
	}
	if err := t.createCommandPool(); err != nil {
		return err
	}
	if err := t.createFrameSlots(); err != nil {
		return err
	}
	if err := t.createDescriptorPool(); err != nil {
		return err
	}
	if err := t.createQuadBuffers(); err != nil {
		return err
	}
	if t.pipelines.HasCompute() {
		if t.post, err = newPostProcess(u, t.pipelines, t.cfg.FramesInFlight, t.swapchain.Extent()); err != nil {
			return err
		}
	}
	return nil
}

func (t *swapchainTarget) createCommandPool() error {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: t.ctx.Graphics.Family(),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	return checkResult("CreateCommandPool", vk.CreateCommandPool(t.device, &cpci, nil, &t.commandPool))
}

func (t *swapchainTarget) createFrameSlots() error {
	count := t.cfg.FramesInFlight
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        t.commandPool,
		CommandBufferCount: uint32(count),
	}
	commandBuffers := make([]vk.CommandBuffer, count)
	if err := checkResult("AllocateCommandBuffers", vk.AllocateCommandBuffers(t.device, &cbai, commandBuffers)); err != nil {
		return err
	}

	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	// signaled, so the first wait on every slot returns at once
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}
	for i := 0; i < count; i++ {
		slot := frameSlot{command: commandBuffers[i]}
		if err := checkResult("CreateSemaphore", vk.CreateSemaphore(t.device, &sci, nil, &slot.imageAvailable)); err != nil {
			return err
		}
		t.slots = append(t.slots, slot)
		s := &t.slots[len(t.slots)-1]
		if err := checkResult("CreateSemaphore", vk.CreateSemaphore(t.device, &sci, nil, &s.renderFinished)); err != nil {
			return err
		}
		if err := checkResult("CreateFence", vk.CreateFence(t.device, &fci, nil, &s.inFlight)); err != nil {
			return err
		}
	}
	return nil
}

// createDescriptorPool sizes the pool for a set per texture and slot.
// Sets are freed one by one as textures are released.
func (t *swapchainTarget) createDescriptorPool() error {
	sets := uint32(t.cfg.MaxTextures * t.cfg.FramesInFlight)
	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       sets,
		PoolSizeCount: 2,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeUniformBufferDynamic,
			DescriptorCount: sets,
		}, {
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: sets,
		}},
	}
	return checkResult("CreateDescriptorPool", vk.CreateDescriptorPool(t.device, &dpci, nil, &t.descriptorPool))
}

// createQuadBuffers uploads the unit quad every element is drawn with.
func (t *swapchainTarget) createQuadBuffers() error {
	upload := func(data []byte, usage vk.BufferUsageFlagBits) (vk.Buffer, *Allocation, error) {
		buffer, alloc, err := t.allocator.CreateBuffer(vk.DeviceSize(len(data)), vk.BufferUsageFlags(usage), CpuToGpu, true)
		if err != nil {
			return nil, nil, err
		}
		if err := alloc.Write(0, data); err != nil {
			t.allocator.DestroyBuffer(buffer, alloc)
			return nil, nil, err
		}
		if err := t.allocator.Flush(alloc, 0, vk.DeviceSize(len(data))); err != nil {
			t.allocator.DestroyBuffer(buffer, alloc)
			return nil, nil, err
		}
		return buffer, alloc, nil
	}

	var err error
	if t.vertexBuffer, t.vertexAlloc, err = upload(model.VerticesBytes(model.QuadVertices), vk.BufferUsageVertexBufferBit); err != nil {
		return err
	}
	t.indexBuffer, t.indexAlloc, err = upload(model.IndicesBytes(model.QuadIndices), vk.BufferUsageIndexBufferBit)
	return err
}

func (t *swapchainTarget) extent() vk.Extent2D {
	return t.swapchain.Extent()
}

func (t *swapchainTarget) ready() bool {
	return t.swapchain.Ready()
}

func (t *swapchainTarget) wait(slot int) error {
	return checkResult("WaitForFences", vk.WaitForFences(t.device, 1, []vk.Fence{t.slots[slot].inFlight}, vk.True, vk.MaxUint64))
}

func (t *swapchainTarget) update(slot int, draw *plannedDraw) error {
	return t.uniforms.Update(slot, draw.object, draw.uniform.Bytes())
}

// bind returns the set drawing texture from slot, writing a new one
// the first time the pair is drawn.
func (t *swapchainTarget) bind(slot int, texture *Texture) (vk.DescriptorSet, error) {
	if set, ok := t.bindings.get(slot, texture.ID()); ok {
		return set, nil
	}

	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     t.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{t.pipelines.SetLayout()},
	}
	var set vk.DescriptorSet
	if err := checkResult("AllocateDescriptorSets", vk.AllocateDescriptorSets(t.device, &dsai, &set)); err != nil {
		return nil, fmt.Errorf("texture %d: %w", texture.ID(), err)
	}

	writes := []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBufferDynamic,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: t.uniforms.Buffer(slot),
			Offset: 0,
			Range:  t.uniforms.ItemSizeForDescriptor(),
		}},
	}, {
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      1,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler:     texture.Sampler(),
			ImageView:   texture.View(),
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}},
	}}
	vk.UpdateDescriptorSets(t.device, uint32(len(writes)), writes, 0, nil)
	t.bindings.put(slot, texture.ID(), set)
	return set, nil
}

func (t *swapchainTarget) acquire(slot int) (uint32, bool, error) {
	return t.swapchain.AcquireNextImage(t.slots[slot].imageAvailable)
}

func (t *swapchainTarget) record(slot int, image uint32, plan drawPlan, sets []vk.DescriptorSet) error {
	framebuffer := t.swapchain.Framebuffer(image)
	if framebuffer == nil {
		return fmt.Errorf("%w: no framebuffer for image %d", ErrSwapchainInconsistent, image)
	}
	extent := t.swapchain.Extent()
	cmd := t.slots[slot].command
	if err := checkResult("ResetCommandBuffer", vk.ResetCommandBuffer(cmd, 0)); err != nil {
		return err
	}
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := checkResult("BeginCommandBuffer", vk.BeginCommandBuffer(cmd, &cbbi)); err != nil {
		return err
	}

	if t.post != nil && t.post.prepare(slot) {
		if err := t.post.record(cmd, slot); err != nil {
			vk.EndCommandBuffer(cmd)
			return err
		}
	}

	clearValues := make([]vk.ClearValue, 2)
	clearValues[0].SetColor(t.cfg.ClearColor[:])
	clearValues[1].SetDepthStencil(1, 0)

	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  t.pipelines.RenderPass(),
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		ClearValueCount: 2,
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd, &rpbi, vk.SubpassContentsInline)

	if len(plan.draws) > 0 {
		vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, t.pipelines.Pipeline())
		vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{{
			Width:    float32(extent.Width),
			Height:   float32(extent.Height),
			MinDepth: 0,
			MaxDepth: 1,
		}})
		vk.CmdBindVertexBuffers(cmd, 0, 1, []vk.Buffer{t.vertexBuffer}, []vk.DeviceSize{0})
		vk.CmdBindIndexBuffer(cmd, t.indexBuffer, 0, vk.IndexTypeUint16)

		stages := vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)
		for i := range plan.draws {
			draw := &plan.draws[i]
			vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{draw.scissor})
			vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, t.pipelines.Layout(), 0, 1,
				[]vk.DescriptorSet{sets[i]}, 1, []uint32{t.uniforms.DynamicOffset(draw.object)})
			vk.CmdPushConstants(cmd, t.pipelines.Layout(), stages, 0, model.DrawPushConstantsSize, unsafe.Pointer(&draw.push))
			vk.CmdDrawIndexed(cmd, uint32(len(model.QuadIndices)), 1, 0, 0, 0)
		}
	}

	vk.CmdEndRenderPass(cmd)
	return checkResult("EndCommandBuffer", vk.EndCommandBuffer(cmd))
}

func (t *swapchainTarget) submit(slot int) error {
	s := &t.slots[slot]
	submit := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{s.imageAvailable},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{s.command},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{s.renderFinished},
	}}
	// reset only now, a frame failing before submission leaves the fence signaled
	if err := checkResult("ResetFences", vk.ResetFences(t.device, 1, []vk.Fence{s.inFlight})); err != nil {
		return err
	}
	return t.ctx.Graphics.Submit(submit, s.inFlight)
}

func (t *swapchainTarget) present(slot int, image uint32) vk.Result {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{t.slots[slot].renderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{t.swapchain.Handle()},
		PImageIndices:      []uint32{image},
	}
	return t.ctx.Present.Present(&presentInfo)
}

func (t *swapchainTarget) recreate(width, height uint32) error {
	generation := t.swapchain.Generation()
	if err := t.swapchain.Recreate(width, height, t.pipelines); err != nil {
		return err
	}
	if t.post != nil {
		old, err := t.post.resize(t.swapchain.Extent())
		for _, output := range old {
			t.forget(output)
			output.Destroy()
		}
		if err != nil {
			return err
		}
	}
	t.logger.WithFields(log.Fields{
		"from": generation,
		"to":   t.swapchain.Generation(),
	}).Debug("swapchain recreated")
	return nil
}

func (t *swapchainTarget) forget(texture *Texture) {
	if sets := t.bindings.forget(texture.ID()); len(sets) > 0 {
		vk.FreeDescriptorSets(t.device, t.descriptorPool, uint32(len(sets)), &sets[0])
	}
}

// destroy releases whatever initialise got to create. The device
// must be idle.
func (t *swapchainTarget) destroy() {
	if t.post != nil {
		for _, output := range t.post.outputs {
			t.forget(output)
		}
		t.post.destroy()
	}
	if t.descriptorPool != nil {
		if sets := t.bindings.all(); len(sets) > 0 {
			vk.FreeDescriptorSets(t.device, t.descriptorPool, uint32(len(sets)), &sets[0])
		}
		vk.DestroyDescriptorPool(t.device, t.descriptorPool, nil)
	}
	if t.vertexAlloc != nil {
		t.allocator.DestroyBuffer(t.vertexBuffer, t.vertexAlloc)
	}
	if t.indexAlloc != nil {
		t.allocator.DestroyBuffer(t.indexBuffer, t.indexAlloc)
	}
	for _, slot := range t.slots {
		vk.DestroySemaphore(t.device, slot.imageAvailable, nil)
		if slot.renderFinished != nil {
			vk.DestroySemaphore(t.device, slot.renderFinished, nil)
		}
		if slot.inFlight != nil {
			vk.DestroyFence(t.device, slot.inFlight, nil)
		}
	}
	if t.commandPool != nil {
		vk.DestroyCommandPool(t.device, t.commandPool, nil)
	}
	if t.uniforms != nil {
		t.uniforms.Destroy()
	}
	if t.swapchain != nil {
		t.swapchain.Destroy()
	}
	if t.pipelines != nil {
		t.pipelines.Destroy()
	}
}
