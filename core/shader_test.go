// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestValidateSpirv(t *testing.T) {
	c := qt.New(t)
	c.Assert(validateSpirv("ok", []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}), qt.IsNil)
	c.Assert(validateSpirv("empty", nil), qt.ErrorMatches, "shader empty: size 0 is not a multiple of 4")
	c.Assert(validateSpirv("odd", []byte{0x03, 0x02, 0x23, 0x07, 0}), qt.ErrorMatches, "shader odd: size 5 .*")
	c.Assert(validateSpirv("glsl", []byte("#ver")), qt.ErrorMatches, "shader glsl: bad magic .*")
}

func TestDirectorySource(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	code := []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}
	c.Assert(os.MkdirAll(filepath.Join(dir, "nested"), 0755), qt.IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, VertexShaderName), code, 0644), qt.IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "nested", FragmentShaderName), code, 0644), qt.IsNil)

	source, err := NewDirectorySource(dir)
	c.Assert(err, qt.IsNil)

	got, err := source.Find(FragmentShaderName)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, code)

	_, err = source.Find(ComputeShaderName)
	c.Assert(errors.Is(err, os.ErrNotExist), qt.IsTrue)
}

type mapSource map[string][]byte

func (m mapSource) Find(name string) ([]byte, error) {
	code, ok := m[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return code, nil
}

func TestHasShader(t *testing.T) {
	c := qt.New(t)
	source := mapSource{VertexShaderName: {3, 2, 35, 7}}
	c.Assert(hasShader(source, VertexShaderName), qt.IsTrue)
	c.Assert(hasShader(source, ComputeShaderName), qt.IsFalse)

	dir := c.TempDir()
	c.Assert(os.WriteFile(filepath.Join(dir, ComputeShaderName), []byte{3, 2, 35, 7}, 0644), qt.IsNil)
	dirSource, err := NewDirectorySource(dir)
	c.Assert(err, qt.IsNil)
	c.Assert(hasShader(dirSource, ComputeShaderName), qt.IsTrue)
	c.Assert(hasShader(dirSource, VertexShaderName), qt.IsFalse)
}
