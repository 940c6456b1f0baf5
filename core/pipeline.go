// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"

	"github.com/devblok/koru-present/model"
)

// computeGroupSize is the local size of the post processing shader.
const computeGroupSize = 16

// PostProcessFormat is the format of the compute output image.
const PostProcessFormat = vk.FormatR8g8b8a8Unorm

func dispatchGroups(extent vk.Extent2D) (uint32, uint32) {
	return (extent.Width + computeGroupSize - 1) / computeGroupSize,
		(extent.Height + computeGroupSize - 1) / computeGroupSize
}

func graphicsBindings() []vk.DescriptorSetLayoutBinding {
	return []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeUniformBufferDynamic,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		},
		{
			Binding:         1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	}
}

func computeBindings() []vk.DescriptorSetLayoutBinding {
	return []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
		{
			Binding:         1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
	}
}

func drawPushConstantRange() vk.PushConstantRange {
	return vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
		Offset:     0,
		Size:       model.DrawPushConstantsSize,
	}
}

// PipelineSet holds the render pass and the pipelines drawn with it.
// The render pass and graphics pipeline follow the swapchain formats,
// layouts and the compute pipeline live as long as the set.
type PipelineSet struct {
	device vk.Device
	cache  vk.PipelineCache
	logger *log.Entry

	vertex   *VulkanShader
	fragment *VulkanShader
	compute  *VulkanShader

	colorFormat vk.Format
	depthFormat vk.Format
	renderPass  vk.RenderPass
	pipeline    vk.Pipeline

	setLayout      vk.DescriptorSetLayout
	pipelineLayout vk.PipelineLayout

	computeSetLayout      vk.DescriptorSetLayout
	computePipelineLayout vk.PipelineLayout
	computePipeline       vk.Pipeline
}

// NewPipelineSet loads the shaders and creates the layouts. The compute
// pipeline is only built when the source has a compute shader.
func NewPipelineSet(device vk.Device, source ShaderSource, cache vk.PipelineCache) (*PipelineSet, error) {
	p := &PipelineSet{
		device: device,
		cache:  cache,
		logger: log.WithField("component", "pipeline"),
	}

	var err error
	if p.vertex, err = NewVulkanShader(device, source, VertexShaderName); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.fragment, err = NewVulkanShader(device, source, FragmentShaderName); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.setLayout, p.pipelineLayout, err = p.createLayout(graphicsBindings(), []vk.PushConstantRange{drawPushConstantRange()}); err != nil {
		p.Destroy()
		return nil, err
	}

	if !hasShader(source, ComputeShaderName) {
		p.logger.Info("no compute shader, post processing disabled")
		return p, nil
	}
	if p.compute, err = NewVulkanShader(device, source, ComputeShaderName); err != nil {
		p.Destroy()
		return nil, err
	}
	if err := p.createComputePipeline(); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *PipelineSet) createLayout(bindings []vk.DescriptorSetLayoutBinding, pushConstants []vk.PushConstantRange) (vk.DescriptorSetLayout, vk.PipelineLayout, error) {
	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}

	var setLayout vk.DescriptorSetLayout
	if err := checkResult("CreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(p.device, &dslci, nil, &setLayout)); err != nil {
		return nil, nil, err
	}

	plci := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: uint32(len(pushConstants)),
		PPushConstantRanges:    pushConstants,
	}

	var pipelineLayout vk.PipelineLayout
	if err := checkResult("CreatePipelineLayout", vk.CreatePipelineLayout(p.device, &plci, nil, &pipelineLayout)); err != nil {
		vk.DestroyDescriptorSetLayout(p.device, setLayout, nil)
		return nil, nil, err
	}
	return setLayout, pipelineLayout, nil
}

// renderPassFor returns the render pass for the attachment formats,
// rebuilding it together with the graphics pipeline when they changed.
func (p *PipelineSet) renderPassFor(color, depth vk.Format) (vk.RenderPass, error) {
	if p.renderPass != nil && p.colorFormat == color && p.depthFormat == depth {
		return p.renderPass, nil
	}
	p.destroyGraphics()

	if err := p.createRenderPass(color, depth); err != nil {
		return nil, err
	}
	if err := p.createGraphicsPipeline(); err != nil {
		p.destroyGraphics()
		return nil, err
	}
	p.colorFormat = color
	p.depthFormat = depth

	p.logger.WithFields(log.Fields{
		"color": color,
		"depth": depth,
	}).Info("render pass built")
	return p.renderPass, nil
}

func (p *PipelineSet) createRenderPass(color, depth vk.Format) error {
	attachments := []vk.AttachmentDescription{
		{
			Format:         color,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		},
		{
			Format:         depth,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	colorAttachmentRef := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	depthAttachmentRef := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	subpassDependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    uint32(len(colorAttachmentRef)),
		PColorAttachments:       colorAttachmentRef,
		PDepthStencilAttachment: &depthAttachmentRef,
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{subpassDependency},
	}

	var renderPass vk.RenderPass
	if err := checkResult("CreateRenderPass", vk.CreateRenderPass(p.device, &rpci, nil, &renderPass)); err != nil {
		return err
	}
	p.renderPass = renderPass
	return nil
}

func (p *PipelineSet) createGraphicsPipeline() error {
	stages := []vk.PipelineShaderStageCreateInfo{
		p.vertex.stageInfo(),
		p.fragment.stageInfo(),
	}
	bindings := model.VertexBindingDescriptions()
	attributes := model.VertexAttributeDescriptions()

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(vk.CullModeNone),
			FrontFace:   vk.FrontFaceClockwise,
			LineWidth:   1.0,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       vk.True,
			DepthWriteEnable:      vk.True,
			DepthCompareOp:        vk.CompareOpLessOrEqual,
			DepthBoundsTestEnable: vk.False,
			StencilTestEnable:     vk.False,
			Back: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
			Front: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				ColorWriteMask: 0xF,
				BlendEnable:    vk.False,
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     p.pipelineLayout,
		RenderPass: p.renderPass,
	}}

	pipelines := make([]vk.Pipeline, len(gpci))
	if err := checkResult("CreateGraphicsPipelines", vk.CreateGraphicsPipelines(p.device, p.cache, uint32(len(gpci)), gpci, nil, pipelines)); err != nil {
		return err
	}
	p.pipeline = pipelines[0]
	return nil
}

func (p *PipelineSet) createComputePipeline() error {
	var err error
	if p.computeSetLayout, p.computePipelineLayout, err = p.createLayout(computeBindings(), nil); err != nil {
		return err
	}

	cpci := []vk.ComputePipelineCreateInfo{{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  p.compute.stageInfo(),
		Layout: p.computePipelineLayout,
	}}
	pipelines := make([]vk.Pipeline, len(cpci))
	if err := checkResult("CreateComputePipelines", vk.CreateComputePipelines(p.device, p.cache, uint32(len(cpci)), cpci, nil, pipelines)); err != nil {
		return err
	}
	p.computePipeline = pipelines[0]
	return nil
}

func (p *PipelineSet) destroyGraphics() {
	if p.pipeline != nil {
		vk.DestroyPipeline(p.device, p.pipeline, nil)
		p.pipeline = nil
	}
	if p.renderPass != nil {
		vk.DestroyRenderPass(p.device, p.renderPass, nil)
		p.renderPass = nil
	}
}

// RenderPass returns the current render pass.
func (p *PipelineSet) RenderPass() vk.RenderPass {
	return p.renderPass
}

// Pipeline returns the graphics pipeline.
func (p *PipelineSet) Pipeline() vk.Pipeline {
	return p.pipeline
}

// Layout returns the graphics pipeline layout.
func (p *PipelineSet) Layout() vk.PipelineLayout {
	return p.pipelineLayout
}

// SetLayout returns the descriptor set layout of the graphics pipeline.
func (p *PipelineSet) SetLayout() vk.DescriptorSetLayout {
	return p.setLayout
}

// HasCompute reports whether a post processing pipeline exists.
func (p *PipelineSet) HasCompute() bool {
	return p.computePipeline != nil
}

// ComputePipeline returns the post processing pipeline, or nil.
func (p *PipelineSet) ComputePipeline() vk.Pipeline {
	return p.computePipeline
}

// ComputeLayout returns the post processing pipeline layout.
func (p *PipelineSet) ComputeLayout() vk.PipelineLayout {
	return p.computePipelineLayout
}

// ComputeSetLayout returns the descriptor set layout of the post processing pipeline.
func (p *PipelineSet) ComputeSetLayout() vk.DescriptorSetLayout {
	return p.computeSetLayout
}

// Destroy implements interface
func (p *PipelineSet) Destroy() {
	p.destroyGraphics()
	if p.computePipeline != nil {
		vk.DestroyPipeline(p.device, p.computePipeline, nil)
	}
	if p.computePipelineLayout != nil {
		vk.DestroyPipelineLayout(p.device, p.computePipelineLayout, nil)
	}
	if p.computeSetLayout != nil {
		vk.DestroyDescriptorSetLayout(p.device, p.computeSetLayout, nil)
	}
	if p.pipelineLayout != nil {
		vk.DestroyPipelineLayout(p.device, p.pipelineLayout, nil)
	}
	if p.setLayout != nil {
		vk.DestroyDescriptorSetLayout(p.device, p.setLayout, nil)
	}
	for _, shader := range []*VulkanShader{p.vertex, p.fragment, p.compute} {
		if shader != nil {
			shader.Destroy()
		}
	}
}
