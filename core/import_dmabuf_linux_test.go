// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package core

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	qt "github.com/frankban/quicktest"
)

func TestFdSize(t *testing.T) {
	c := qt.New(t)
	f, err := os.Create(filepath.Join(c.TempDir(), "buffer"))
	c.Assert(err, qt.IsNil)
	defer f.Close()
	_, err = f.Write(make([]byte, 8192))
	c.Assert(err, qt.IsNil)
	_, err = f.Seek(100, io.SeekStart)
	c.Assert(err, qt.IsNil)

	size, err := fdSize(int(f.Fd()))
	c.Assert(err, qt.IsNil)
	c.Assert(size, qt.Equals, int64(8192))

	offset, err := f.Seek(0, io.SeekCurrent)
	c.Assert(err, qt.IsNil)
	c.Assert(offset, qt.Equals, int64(100))

	_, err = fdSize(-1)
	c.Assert(err, qt.IsNotNil)
}

func chainTypes(chain *cChain) []int32 {
	var types []int32
	for _, p := range chain.ptrs {
		types = append(types, *(*int32)(p))
	}
	return types
}

func TestImageChain(t *testing.T) {
	c := qt.New(t)
	chain := newImageChain(DrmFormatModLinear, 0, 256)
	defer chain.free()
	// the plane layout carries no structure type
	c.Assert(chainTypes(chain)[:2], qt.DeepEquals, []int32{
		structureTypeExternalMemoryImageCreateInfo,
		structureTypeDrmFormatModifierExplicitCreateInfo,
	})
	c.Assert(chain.head(), qt.Equals, chain.ptrs[0])
}

func TestAllocateChain(t *testing.T) {
	c := qt.New(t)
	chain := newAllocateChain(7, nil)
	c.Assert(chainTypes(chain), qt.DeepEquals, []int32{
		structureTypeImportMemoryFdInfo,
		structureTypeMemoryDedicatedAllocateInfo,
	})
	chain.free()
	c.Assert(chain.head(), qt.Equals, unsafe.Pointer(nil))
}
