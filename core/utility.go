// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/image/draw"
)

const shaderSuffix = ".spv"

// loadShaderFilesFromDirectory get the list of files that are compiled shaders
// it is important that the file name does not contain more than two dots,
// the first is always the name of the shader, second is type, and the third one
// ensured that the shader is compiled (only compiled shaders have an .spv extension).
func loadShaderFilesFromDirectory(dir string) ([]string, []ShaderType, error) {
	var (
		shaders     []string
		shaderTypes []ShaderType
	)
	if err := filepath.Walk(dir, func(path string, f os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if t := shaderTypeOf(f.Name()); t != UnknownShaderType {
			shaderTypes = append(shaderTypes, t)
			shaders = append(shaders, path)
		}
		return nil
	}); err != nil {
		return nil, nil, err
	}
	return shaders, shaderTypes, nil
}

// shaderTypeOf reads the type out of a name.type.spv file name.
func shaderTypeOf(filename string) ShaderType {
	if !strings.HasSuffix(filename, shaderSuffix) {
		return UnknownShaderType
	}
	nodes := strings.Split(strings.TrimSuffix(filename, shaderSuffix), ".")
	if len(nodes) != 2 {
		return UnknownShaderType
	}
	switch nodes[1] {
	case "vert":
		return VertexShaderType
	case "frag":
		return FragmentShaderType
	case "comp":
		return ComputeShaderType
	default:
		return UnknownShaderType
	}
}

// SliceUint32 reslices bytes into a uint32, that is used
// to sumbit vulkan shaders for processing
func SliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

func safeString(s string) string {
	return fmt.Sprintf("%s\x00", s)
}

func safeStrings(sgs []string) []string {
	safe := []string{}
	for _, s := range sgs {
		safe = append(safe, fmt.Sprintf("%s\x00", s))
	}
	return safe
}

// GetPixels draws a decoded image onto an RGBA canvas with the given
// row pitch, ready for CreateTextureFromShm with ShmABGR8888. A row
// pitch shorter than a packed row is ignored.
func GetPixels(img image.Image, rowPitch int) ([]uint8, int) {
	bounds := img.Bounds()
	if packed := 4 * bounds.Dx(); rowPitch < packed {
		rowPitch = packed
	}
	canvas := &image.RGBA{
		Pix:    make([]uint8, rowPitch*bounds.Dy()),
		Stride: rowPitch,
		Rect:   image.Rect(0, 0, bounds.Dx(), bounds.Dy()),
	}
	draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Src)
	return canvas.Pix, rowPitch
}
