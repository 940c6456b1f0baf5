// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestShaderTypeOf(t *testing.T) {
	c := qt.New(t)
	c.Assert(shaderTypeOf("quad.vert.spv"), qt.Equals, VertexShaderType)
	c.Assert(shaderTypeOf("quad.frag.spv"), qt.Equals, FragmentShaderType)
	c.Assert(shaderTypeOf("post.comp.spv"), qt.Equals, ComputeShaderType)
	c.Assert(shaderTypeOf("quad.vert"), qt.Equals, UnknownShaderType)
	c.Assert(shaderTypeOf("quad.geom.spv"), qt.Equals, UnknownShaderType)
	c.Assert(shaderTypeOf("a.quad.vert.spv"), qt.Equals, UnknownShaderType)
}

func TestLoadShaderFilesFromDirectory(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	for _, name := range []string{"quad.vert.spv", "quad.frag.spv", "post.comp.spv", "quad.vert", "README"} {
		c.Assert(os.WriteFile(filepath.Join(dir, name), []byte{3, 2, 35, 7}, 0644), qt.IsNil)
	}

	files, types, err := loadShaderFilesFromDirectory(dir)
	c.Assert(err, qt.IsNil)
	c.Assert(files, qt.HasLen, 3)
	c.Assert(types, qt.HasLen, 3)
	for idx, file := range files {
		c.Assert(shaderTypeOf(filepath.Base(file)), qt.Equals, types[idx])
	}

	_, _, err = loadShaderFilesFromDirectory(filepath.Join(dir, "missing"))
	c.Assert(err, qt.IsNotNil)
}

func TestSliceUint32(t *testing.T) {
	c := qt.New(t)
	data := []byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0, 0xff}
	words := SliceUint32(data)
	c.Assert(words, qt.HasLen, 2)
	c.Assert(words[0], qt.Equals, uint32(spirvMagic))
	c.Assert(words[1], qt.Equals, uint32(1))
	c.Assert(SliceUint32([]byte{1, 2}), qt.IsNil)
}

func TestGetPixels(t *testing.T) {
	c := qt.New(t)
	img := image.NewNRGBA(image.Rect(10, 10, 12, 11))
	img.Set(10, 10, color.NRGBA{R: 255, A: 255})
	img.Set(11, 10, color.NRGBA{B: 255, A: 255})

	pixels, stride := GetPixels(img, 0)
	c.Assert(stride, qt.Equals, 8)
	c.Assert(pixels, qt.DeepEquals, []uint8{255, 0, 0, 255, 0, 0, 255, 255})

	pixels, stride = GetPixels(img, 16)
	c.Assert(stride, qt.Equals, 16)
	c.Assert(pixels, qt.HasLen, 16)
	c.Assert(pixels[4:8], qt.DeepEquals, []uint8{0, 0, 255, 255})
}

func BenchmarkSliceUint32Small(b *testing.B) {
	data := make([]byte, 100)
	for idx := 0; idx < b.N; idx++ {
		SliceUint32(data)
	}
}

func BenchmarkSliceUint32Medium(b *testing.B) {
	data := make([]byte, 1000)
	for idx := 0; idx < b.N; idx++ {
		SliceUint32(data)
	}
}

func BenchmarkSliceUint32Big(b *testing.B) {
	data := make([]byte, 100000)
	for idx := 0; idx < b.N; idx++ {
		SliceUint32(data)
	}
}
