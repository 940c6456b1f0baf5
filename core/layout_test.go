// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"testing"

	qt "github.com/frankban/quicktest"
	vk "github.com/vulkan-go/vulkan"
)

func TestLayoutPaths(t *testing.T) {
	paths := map[string][]vk.ImageLayout{
		"shm upload": {
			vk.ImageLayoutTransferDstOptimal,
			vk.ImageLayoutShaderReadOnlyOptimal,
		},
		"dmabuf import": {
			vk.ImageLayoutShaderReadOnlyOptimal,
		},
		"compute target": {
			vk.ImageLayoutGeneral,
			vk.ImageLayoutShaderReadOnlyOptimal,
			vk.ImageLayoutGeneral,
			vk.ImageLayoutShaderReadOnlyOptimal,
		},
	}
	for name, path := range paths {
		t.Run(name, func(t *testing.T) {
			c := qt.New(t)
			state := layoutState{current: vk.ImageLayoutUndefined}
			for _, layout := range path {
				old := state.current
				barrier, src, dst, err := state.to(nil, layout)
				c.Assert(err, qt.IsNil)
				c.Assert(barrier.OldLayout, qt.Equals, old)
				c.Assert(barrier.NewLayout, qt.Equals, layout)
				c.Assert(src, qt.Not(qt.Equals), vk.PipelineStageFlags(0))
				c.Assert(dst, qt.Not(qt.Equals), vk.PipelineStageFlags(0))
				c.Assert(state.current, qt.Equals, layout)
			}
		})
	}
}

func TestLayoutRejectsUnknownTransition(t *testing.T) {
	c := qt.New(t)
	state := layoutState{current: vk.ImageLayoutUndefined}
	_, _, _, err := state.to(nil, vk.ImageLayoutPresentSrc)
	c.Assert(err, qt.ErrorMatches, "unsupported layout transition .*")
	c.Assert(state.current, qt.Equals, vk.ImageLayoutUndefined)

	// skipping the copy destination on the way back is not allowed
	state.current = vk.ImageLayoutShaderReadOnlyOptimal
	_, _, _, err = state.to(nil, vk.ImageLayoutTransferDstOptimal)
	c.Assert(err, qt.IsNotNil)
	c.Assert(state.current, qt.Equals, vk.ImageLayoutShaderReadOnlyOptimal)
}

func TestLayoutWriteThenRead(t *testing.T) {
	c := qt.New(t)
	for pair, masks := range layoutTransitions {
		if pair.old == vk.ImageLayoutUndefined {
			c.Assert(masks.srcAccess, qt.Equals, vk.AccessFlags(0), qt.Commentf("%v", pair))
		}
		if pair.new == vk.ImageLayoutShaderReadOnlyOptimal {
			c.Assert(masks.dstAccess&vk.AccessFlags(vk.AccessShaderReadBit), qt.Not(qt.Equals), vk.AccessFlags(0))
		}
	}
}
