// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"unsafe"

	glm "github.com/go-gl/mathgl/mgl32"
	vk "github.com/vulkan-go/vulkan"
)

// Vertex is a model vertex
type Vertex struct {
	Pos      glm.Vec3
	Color    glm.Vec3
	TexCoord glm.Vec2
}

// ObjectUniform is the per element data behind the dynamic uniform buffer.
type ObjectUniform struct {
	Transform glm.Mat4
}

// ObjectUniformSize is the unaligned size of ObjectUniform in bytes.
const ObjectUniformSize = uint32(unsafe.Sizeof(ObjectUniform{}))

// Bytes views the uniform as the bytes the shader reads.
func (u *ObjectUniform) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(u)), ObjectUniformSize)
}

// DrawPushConstants are pushed before every draw, to both stages.
type DrawPushConstants struct {
	Tint  glm.Vec3
	Alpha float32
}

// DrawPushConstantsSize is the size of the push constant range.
const DrawPushConstantsSize = uint32(unsafe.Sizeof(DrawPushConstants{}))

// Bytes views the push constants as raw bytes.
func (p *DrawPushConstants) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), DrawPushConstantsSize)
}

// QuadVertices is the unit quad every element is drawn with,
// spanning [0,1] on both axes with matching texture coordinates.
var QuadVertices = []Vertex{
	{Pos: glm.Vec3{0, 0, 0}, Color: glm.Vec3{1, 1, 1}, TexCoord: glm.Vec2{0, 0}},
	{Pos: glm.Vec3{1, 0, 0}, Color: glm.Vec3{1, 1, 1}, TexCoord: glm.Vec2{1, 0}},
	{Pos: glm.Vec3{1, 1, 0}, Color: glm.Vec3{1, 1, 1}, TexCoord: glm.Vec2{1, 1}},
	{Pos: glm.Vec3{0, 1, 0}, Color: glm.Vec3{1, 1, 1}, TexCoord: glm.Vec2{0, 1}},
}

// QuadIndices draws QuadVertices as two triangles.
var QuadIndices = []uint16{0, 1, 2, 2, 3, 0}

// VerticesBytes returns the vertices as one contiguous byte slice.
func VerticesBytes(vertices []Vertex) []byte {
	if len(vertices) == 0 {
		return nil
	}
	size := len(vertices) * int(unsafe.Sizeof(Vertex{}))
	return unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), size)
}

// IndicesBytes returns the indices as one contiguous byte slice.
func IndicesBytes(indices []uint16) []byte {
	if len(indices) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&indices[0])), len(indices)*2)
}

// VertexBindingDescriptions return Vulkan Vertex descriptors
func VertexBindingDescriptions() []vk.VertexInputBindingDescription {
	return []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    uint32(unsafe.Sizeof(Vertex{})),
		InputRate: vk.VertexInputRateVertex,
	}}
}

// VertexAttributeDescriptions return Vulkan attribute descriptors
func VertexAttributeDescriptions() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Pos)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Color)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   vk.FormatR32g32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.TexCoord)),
		},
	}
}

// ElementDepth spreads n elements drawn back to front over (0,1).
// The first element is furthest away.
func ElementDepth(i, n int) float32 {
	return 1 - float32(i+1)/float32(n+1)
}

// ElementTransform maps the unit quad onto the pixel rectangle
// (x, y, w, h) of an output sized outW x outH, at the given depth.
// Vulkan clip space has y pointing down, like the output.
func ElementTransform(x, y, w, h, outW, outH, depth float32) glm.Mat4 {
	model := glm.Translate3D(x, y, 0).Mul4(glm.Scale3D(w, h, 1))
	projection := glm.Translate3D(-1, -1, depth).Mul4(glm.Scale3D(2/outW, 2/outH, 0))
	return projection.Mul4(model)
}
