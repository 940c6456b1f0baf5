// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// postProcess runs the compute shader over an input texture. Every
// frame slot writes its own output texture, so a frame in flight never
// reads what the next one writes.
type postProcess struct {
	device    vk.Device
	pipelines *PipelineSet
	uploader  *uploader
	logger    *log.Entry

	pool    vk.DescriptorPool
	sets    []vk.DescriptorSet
	outputs []*Texture
	// written is the id of the input each slot's set points at
	written []uint64
	extent  vk.Extent2D

	input *Texture
}

func newPostProcess(u *uploader, pipelines *PipelineSet, slots int, extent vk.Extent2D) (*postProcess, error) {
	p := &postProcess{
		device:    u.ctx.Device(),
		pipelines: pipelines,
		uploader:  u,
		logger:    log.WithField("component", "postprocess"),
		written:   make([]uint64, slots),
	}

	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       uint32(slots),
		PoolSizeCount: 2,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: uint32(slots),
		}, {
			Type:            vk.DescriptorTypeStorageImage,
			DescriptorCount: uint32(slots),
		}},
	}
	if err := checkResult("CreateDescriptorPool", vk.CreateDescriptorPool(p.device, &dpci, nil, &p.pool)); err != nil {
		return nil, err
	}

	layouts := make([]vk.DescriptorSetLayout, slots)
	for i := range layouts {
		layouts[i] = pipelines.ComputeSetLayout()
	}
	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.pool,
		DescriptorSetCount: uint32(slots),
		PSetLayouts:        layouts,
	}
	p.sets = make([]vk.DescriptorSet, slots)
	if err := checkResult("AllocateDescriptorSets", vk.AllocateDescriptorSets(p.device, &dsai, &p.sets[0])); err != nil {
		p.destroy()
		return nil, err
	}

	if err := p.createOutputs(extent); err != nil {
		p.destroy()
		return nil, err
	}
	return p, nil
}

func (p *postProcess) createOutputs(extent vk.Extent2D) error {
	pf := pixelFormat{format: PostProcessFormat}
	for range p.sets {
		ici := vk.ImageCreateInfo{
			SType:     vk.StructureTypeImageCreateInfo,
			ImageType: vk.ImageType2d,
			Format:    PostProcessFormat,
			Extent: vk.Extent3D{
				Width:  extent.Width,
				Height: extent.Height,
				Depth:  1,
			},
			MipLevels:     1,
			ArrayLayers:   1,
			Samples:       vk.SampleCount1Bit,
			Tiling:        vk.ImageTilingOptimal,
			Usage:         vk.ImageUsageFlags(vk.ImageUsageStorageBit | vk.ImageUsageSampledBit),
			SharingMode:   vk.SharingModeExclusive,
			InitialLayout: vk.ImageLayoutUndefined,
		}
		image, alloc, err := p.uploader.allocator.CreateImage(&ici, GpuOnly)
		if err != nil {
			return err
		}

		// the output may be drawn before the first dispatch
		state := layoutState{current: vk.ImageLayoutUndefined}
		if err := p.uploader.commands.run(func(cmd vk.CommandBuffer) error {
			if err := cmdTransition(cmd, image, &state, vk.ImageLayoutGeneral); err != nil {
				return err
			}
			return cmdTransition(cmd, image, &state, vk.ImageLayoutShaderReadOnlyOptimal)
		}); err != nil {
			p.uploader.allocator.DestroyImage(image, alloc)
			return err
		}

		output, err := p.uploader.finish(&ownedStorage{img: image, alloc: alloc, owner: p.uploader.allocator}, pf, extent.Width, extent.Height)
		if err != nil {
			return err
		}
		p.outputs = append(p.outputs, output)
	}
	for i := range p.written {
		p.written[i] = 0
	}
	p.extent = extent
	return nil
}

// resize replaces the outputs with ones of the new extent. The device
// must be idle, the old outputs are returned for the caller to destroy.
func (p *postProcess) resize(extent vk.Extent2D) ([]*Texture, error) {
	old := p.outputs
	p.outputs = nil
	if err := p.createOutputs(extent); err != nil {
		return old, err
	}
	return old, nil
}

func (p *postProcess) setInput(input *Texture) {
	p.input = input
}

// output is the texture slot writes to.
func (p *postProcess) output(slot int) *Texture {
	if slot < 0 || slot >= len(p.outputs) {
		return nil
	}
	return p.outputs[slot]
}

// prepare points the set of slot at the current input. The slot's
// previous frame must be complete. It reports false when there is
// nothing to process.
func (p *postProcess) prepare(slot int) bool {
	input := p.input
	if input == nil || !input.drawable() || slot >= len(p.outputs) {
		return false
	}
	if p.written[slot] == input.ID() {
		return true
	}

	output := p.outputs[slot]
	writes := []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          p.sets[slot],
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler:     input.Sampler(),
			ImageView:   input.View(),
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}},
	}, {
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          p.sets[slot],
		DstBinding:      1,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageView:   output.View(),
			ImageLayout: vk.ImageLayoutGeneral,
		}},
	}}
	vk.UpdateDescriptorSets(p.device, uint32(len(writes)), writes, 0, nil)
	p.written[slot] = input.ID()
	return true
}

// record dispatches the compute shader of slot, leaving the output
// ready to be sampled by the render pass that follows.
func (p *postProcess) record(cmd vk.CommandBuffer, slot int) error {
	output := p.outputs[slot]
	image := output.Image()
	if err := cmdTransition(cmd, image, &output.layout, vk.ImageLayoutGeneral); err != nil {
		return err
	}
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointCompute, p.pipelines.ComputePipeline())
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointCompute, p.pipelines.ComputeLayout(), 0, 1, []vk.DescriptorSet{p.sets[slot]}, 0, nil)
	x, y := dispatchGroups(p.extent)
	vk.CmdDispatch(cmd, x, y, 1)
	return cmdTransition(cmd, image, &output.layout, vk.ImageLayoutShaderReadOnlyOptimal)
}

func (p *postProcess) destroy() {
	for _, output := range p.outputs {
		output.Destroy()
	}
	p.outputs = nil
	if p.pool != nil {
		vk.DestroyDescriptorPool(p.device, p.pool, nil)
		p.pool = nil
	}
}
