// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	vk "github.com/vulkan-go/vulkan"
)

// Shaders the renderer loads from its ShaderSource
const (
	VertexShaderName   = "quad.vert.spv"
	FragmentShaderName = "quad.frag.spv"
	ComputeShaderName  = "post.comp.spv"
)

const spirvMagic = 0x07230203

// ShaderSource finds compiled shaders by file name. A packr.Box
// satisfies it.
type ShaderSource interface {
	Find(name string) ([]byte, error)
}

type directorySource struct {
	files map[string]string
}

// NewDirectorySource indexes the compiled shaders in dir.
func NewDirectorySource(dir string) (ShaderSource, error) {
	paths, _, err := loadShaderFilesFromDirectory(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(paths))
	for _, path := range paths {
		files[filepath.Base(path)] = path
	}
	return &directorySource{files: files}, nil
}

func (d *directorySource) Find(name string) ([]byte, error) {
	path, ok := d.files[name]
	if !ok {
		return nil, fmt.Errorf("shader %s: %w", name, os.ErrNotExist)
	}
	return os.ReadFile(path)
}

func (d *directorySource) Has(name string) bool {
	_, ok := d.files[name]
	return ok
}

// hasShader asks the source whether it has name, without loading it
// when the source can tell.
func hasShader(source ShaderSource, name string) bool {
	if h, ok := source.(interface{ Has(string) bool }); ok {
		return h.Has(name)
	}
	_, err := source.Find(name)
	return err == nil
}

func validateSpirv(name string, code []byte) error {
	if len(code) == 0 || len(code)%4 != 0 {
		return fmt.Errorf("shader %s: size %d is not a multiple of 4", name, len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return fmt.Errorf("shader %s: bad magic %#x", name, magic)
	}
	return nil
}

// VulkanShader is a Vulkan specific shader
type VulkanShader struct {
	name       string
	shaderType ShaderType
	device     vk.Device
	module     vk.ShaderModule
}

// NewVulkanShader creates a shader module from the named shader of source.
func NewVulkanShader(device vk.Device, source ShaderSource, name string) (*VulkanShader, error) {
	shaderType := shaderTypeOf(name)
	if shaderType == UnknownShaderType {
		return nil, fmt.Errorf("shader %s: unknown type", name)
	}
	code, err := source.Find(name)
	if err != nil {
		return nil, err
	}
	if err := validateSpirv(name, code); err != nil {
		return nil, err
	}

	// copy so the words are aligned no matter where the source got them
	words := make([]uint32, len(code)/4)
	copy(words, SliceUint32(code))

	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}

	var module vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(device, &smci, nil, &module)); err != nil {
		return nil, fmt.Errorf("vk.CreateShaderModule(%s): %s", name, err.Error())
	}

	return &VulkanShader{
		name:       name,
		shaderType: shaderType,
		device:     device,
		module:     module,
	}, nil
}

// Type implements interface
func (v *VulkanShader) Type() ShaderType {
	return v.shaderType
}

// Module is the shader module handle.
func (v *VulkanShader) Module() vk.ShaderModule {
	return v.module
}

// Name is the file name the shader was loaded from.
func (v *VulkanShader) Name() string {
	return v.name
}

func (v *VulkanShader) stageInfo() vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  v.shaderType.stage(),
		Module: v.module,
		PName:  "main\x00",
	}
}

// Destroy implements interface
func (v *VulkanShader) Destroy() {
	vk.DestroyShaderModule(v.device, v.module, nil)
}
