// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
	vk "github.com/vulkan-go/vulkan"
)

func validDmabuf() DmabufDescriptor {
	return DmabufDescriptor{
		Width:  64,
		Height: 32,
		Format: DrmFormatXRGB8888,
		Planes: []DmabufPlane{{Fd: 3, Offset: 0, Stride: 256}},
	}
}

func TestValidateDmabuf(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*DmabufDescriptor)
		is     error
	}{
		{name: "valid", modify: func(*DmabufDescriptor) {}},
		{name: "zero sized", modify: func(d *DmabufDescriptor) { d.Height = 0 }, is: ErrZeroSized},
		{name: "unknown fourcc", modify: func(d *DmabufDescriptor) { d.Format = 0x3231564e }, is: ErrUnsupportedFormat},
		{name: "no planes", modify: func(d *DmabufDescriptor) { d.Planes = nil }, is: ErrInvalidDmabuf},
		{name: "two planes", modify: func(d *DmabufDescriptor) { d.Planes = append(d.Planes, d.Planes[0]) }, is: ErrInvalidDmabuf},
		{name: "bad fd", modify: func(d *DmabufDescriptor) { d.Planes[0].Fd = -1 }, is: ErrInvalidDmabuf},
		{name: "short stride", modify: func(d *DmabufDescriptor) { d.Planes[0].Stride = 255 }, is: ErrInvalidDmabuf},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := qt.New(t)
			desc := validDmabuf()
			test.modify(&desc)
			pf, err := validateDmabuf(desc)
			if test.is == nil {
				c.Assert(err, qt.IsNil)
				c.Assert(pf.format, qt.Equals, vk.FormatB8g8r8a8Unorm)
				c.Assert(pf.opaque, qt.IsTrue)
				return
			}
			c.Assert(errors.Is(err, test.is), qt.IsTrue, qt.Commentf("%v", err))
		})
	}
}

func TestUnsupportedFourccMessage(t *testing.T) {
	c := qt.New(t)
	desc := validDmabuf()
	desc.Format = 0x3231564e
	_, err := validateDmabuf(desc)
	c.Assert(err, qt.ErrorMatches, "unsupported format NV12 for 64x32 buffer")
	c.Assert(fourccString(1), qt.Equals, "0x00000001")
}

func TestCheckDmabufSize(t *testing.T) {
	c := qt.New(t)
	desc := validDmabuf()
	need := int64(256*31 + 64*4)
	c.Assert(checkDmabufSize(desc, need), qt.IsNil)
	c.Assert(errors.Is(checkDmabufSize(desc, need-1), ErrInvalidDmabuf), qt.IsTrue)

	desc.Planes[0].Offset = 4096
	c.Assert(errors.Is(checkDmabufSize(desc, need), ErrInvalidDmabuf), qt.IsTrue)
	c.Assert(checkDmabufSize(desc, need+4096), qt.IsNil)
}

func TestDmabufModifier(t *testing.T) {
	c := qt.New(t)
	desc := validDmabuf()
	desc.Modifier = 0x0100000000000001
	c.Assert(desc.modifier(), qt.Equals, DrmFormatModLinear)

	desc.HasModifier = true
	c.Assert(desc.modifier(), qt.Equals, uint64(0x0100000000000001))

	desc.Modifier = DrmFormatModInvalid
	c.Assert(desc.modifier(), qt.Equals, DrmFormatModLinear)
}
