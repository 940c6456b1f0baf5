// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

type layoutPair struct {
	old, new vk.ImageLayout
}

// barrierMasks are the access and stage masks of one layout transition.
type barrierMasks struct {
	srcAccess vk.AccessFlags
	dstAccess vk.AccessFlags
	srcStage  vk.PipelineStageFlags
	dstStage  vk.PipelineStageFlags
}

// layoutTransitions lists every transition an image may go through.
// Uploaded textures: Undefined -> TransferDst -> ShaderReadOnly.
// Imported textures: Undefined -> ShaderReadOnly.
// Compute targets: Undefined -> General -> ShaderReadOnly -> General ...
var layoutTransitions = map[layoutPair]barrierMasks{
	{vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal}: {
		srcAccess: 0,
		dstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	},
	{vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal}: {
		srcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		dstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit),
	},
	{vk.ImageLayoutUndefined, vk.ImageLayoutShaderReadOnlyOptimal}: {
		srcAccess: 0,
		dstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit),
	},
	{vk.ImageLayoutUndefined, vk.ImageLayoutGeneral}: {
		srcAccess: 0,
		dstAccess: vk.AccessFlags(vk.AccessShaderWriteBit),
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
	},
	{vk.ImageLayoutGeneral, vk.ImageLayoutShaderReadOnlyOptimal}: {
		srcAccess: vk.AccessFlags(vk.AccessShaderWriteBit),
		dstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
	},
	{vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutGeneral}: {
		srcAccess: vk.AccessFlags(vk.AccessShaderReadBit),
		dstAccess: vk.AccessFlags(vk.AccessShaderWriteBit),
		srcStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		dstStage:  vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
	},
}

func transitionMasks(old, new vk.ImageLayout) (barrierMasks, error) {
	masks, ok := layoutTransitions[layoutPair{old, new}]
	if !ok {
		return barrierMasks{}, fmt.Errorf("unsupported layout transition %d -> %d", old, new)
	}
	return masks, nil
}

// layoutState tracks the current layout of one image, and only
// moves along transitions from the table.
type layoutState struct {
	current vk.ImageLayout
}

// to validates the move to layout and returns the barrier for it.
// The state only changes on success.
func (s *layoutState) to(image vk.Image, layout vk.ImageLayout) (vk.ImageMemoryBarrier, vk.PipelineStageFlags, vk.PipelineStageFlags, error) {
	masks, err := transitionMasks(s.current, layout)
	if err != nil {
		return vk.ImageMemoryBarrier{}, 0, 0, err
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           s.current,
		NewLayout:           layout,
		SrcAccessMask:       masks.srcAccess,
		DstAccessMask:       masks.dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange:    colorSubresourceRange(),
	}
	s.current = layout
	return barrier, masks.srcStage, masks.dstStage, nil
}

// cmdTransition records the move of image to layout into cmd.
func cmdTransition(cmd vk.CommandBuffer, image vk.Image, state *layoutState, layout vk.ImageLayout) error {
	barrier, srcStage, dstStage, err := state.to(image, layout)
	if err != nil {
		return err
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	return nil
}

func colorSubresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}
