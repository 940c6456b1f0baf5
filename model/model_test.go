// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model_test

import (
	"testing"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koru-present/model"
)

func TestSizes(t *testing.T) {
	c := qt.New(t)
	c.Assert(model.ObjectUniformSize, qt.Equals, uint32(64))
	c.Assert(model.DrawPushConstantsSize, qt.Equals, uint32(16))
	c.Assert(model.VertexBindingDescriptions()[0].Stride, qt.Equals, uint32(32))
	c.Assert(model.VerticesBytes(model.QuadVertices), qt.HasLen, 4*32)
	c.Assert(model.IndicesBytes(model.QuadIndices), qt.HasLen, 12)
	c.Assert(model.VerticesBytes(nil), qt.IsNil)
}

func TestVertexAttributes(t *testing.T) {
	c := qt.New(t)
	attrs := model.VertexAttributeDescriptions()
	c.Assert(attrs, qt.HasLen, 3)
	offsets := []uint32{0, 12, 24}
	for idx, attr := range attrs {
		c.Assert(attr.Location, qt.Equals, uint32(idx))
		c.Assert(attr.Offset, qt.Equals, offsets[idx])
	}
}

func TestElementDepth(t *testing.T) {
	c := qt.New(t)
	n := 3
	prev := float32(1)
	for i := 0; i < n; i++ {
		z := model.ElementDepth(i, n)
		c.Assert(z < prev, qt.IsTrue)
		c.Assert(z > 0, qt.IsTrue)
		prev = z
	}
	c.Assert(model.ElementDepth(0, 1), qt.Equals, float32(0.5))
}

func TestElementTransform(t *testing.T) {
	c := qt.New(t)
	m := model.ElementTransform(100, 50, 200, 100, 400, 200, 0.25)

	corners := []struct {
		in   glm.Vec4
		want glm.Vec4
	}{
		{in: glm.Vec4{0, 0, 0, 1}, want: glm.Vec4{-0.5, -0.5, 0.25, 1}},
		{in: glm.Vec4{1, 1, 0, 1}, want: glm.Vec4{0.5, 0.5, 0.25, 1}},
		{in: glm.Vec4{1, 0, 0, 1}, want: glm.Vec4{0.5, -0.5, 0.25, 1}},
	}
	for _, corner := range corners {
		got := m.Mul4x1(corner.in)
		c.Assert(got.ApproxEqual(corner.want), qt.IsTrue, qt.Commentf("got %v want %v", got, corner.want))
	}
}

func TestUniformBytes(t *testing.T) {
	c := qt.New(t)
	u := model.ObjectUniform{Transform: glm.Ident4()}
	b := u.Bytes()
	c.Assert(b, qt.HasLen, 64)
	// 1.0f little endian
	c.Assert(b[0:4], qt.DeepEquals, []byte{0, 0, 0x80, 0x3f})

	p := model.DrawPushConstants{Alpha: 1}
	c.Assert(p.Bytes()[12:16], qt.DeepEquals, []byte{0, 0, 0x80, 0x3f})
}
