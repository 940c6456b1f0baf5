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

func TestValidateShm(t *testing.T) {
	tests := []struct {
		name          string
		size          int
		width, height uint32
		stride        uint32
		format        ShmFormat
		err           string
		is            error
	}{
		{name: "packed", size: 64, width: 4, height: 4, stride: 16, format: ShmARGB8888},
		{name: "padded", size: 4*32 - 16, width: 4, height: 4, stride: 32, format: ShmXBGR8888},
		{name: "zero width", size: 64, width: 0, height: 4, stride: 16, format: ShmARGB8888, is: ErrZeroSized},
		{name: "zero height", size: 64, width: 4, height: 0, stride: 16, format: ShmARGB8888, is: ErrZeroSized},
		{name: "short stride", size: 64, width: 4, height: 4, stride: 12, format: ShmARGB8888, err: "stride 12 is shorter than a row of 4 pixels"},
		{name: "short buffer", size: 63, width: 4, height: 4, stride: 16, format: ShmARGB8888, err: "buffer of 63 bytes is too small for 4x4 with stride 16"},
		{name: "unsupported", size: 64, width: 4, height: 4, stride: 16, format: ShmFormat(0x36314752), err: "unsupported format ShmFormat\\(0x36314752\\) for 4x4 buffer", is: ErrUnsupportedFormat},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := qt.New(t)
			_, err := validateShm(make([]byte, test.size), test.width, test.height, test.stride, test.format)
			if test.err == "" && test.is == nil {
				c.Assert(err, qt.IsNil)
				return
			}
			if test.err != "" {
				c.Assert(err, qt.ErrorMatches, test.err)
			}
			if test.is != nil {
				c.Assert(errors.Is(err, test.is), qt.IsTrue)
			}
		})
	}
}

func TestShmUnsupportedFormatError(t *testing.T) {
	c := qt.New(t)
	_, err := validateShm(make([]byte, 16), 2, 2, 8, ShmFormat(7))
	var formatErr *UnsupportedFormatError
	c.Assert(errors.As(err, &formatErr), qt.IsTrue)
	c.Assert(formatErr.Width, qt.Equals, uint32(2))
	c.Assert(formatErr.Height, qt.Equals, uint32(2))
}

func TestShmFormatMapping(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		format ShmFormat
		vk     vk.Format
		alpha  vk.ComponentSwizzle
	}{
		{ShmARGB8888, vk.FormatB8g8r8a8Unorm, vk.ComponentSwizzleIdentity},
		{ShmXRGB8888, vk.FormatB8g8r8a8Unorm, vk.ComponentSwizzleOne},
		{ShmABGR8888, vk.FormatR8g8b8a8Unorm, vk.ComponentSwizzleIdentity},
		{ShmXBGR8888, vk.FormatR8g8b8a8Unorm, vk.ComponentSwizzleOne},
	}
	for _, test := range tests {
		pf, err := validateShm(make([]byte, 4), 1, 1, 4, test.format)
		c.Assert(err, qt.IsNil)
		c.Assert(pf.format, qt.Equals, test.vk, qt.Commentf("%s", test.format))
		c.Assert(pf.components().A, qt.Equals, test.alpha)
		c.Assert(pf.components().R, qt.Equals, vk.ComponentSwizzleIdentity)
	}
}

func TestPackRows(t *testing.T) {
	c := qt.New(t)
	packed := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	c.Assert(packRows(packed, 1, 2, 4), qt.DeepEquals, packed)

	padded := []byte{
		1, 2, 3, 4, 0, 0,
		5, 6, 7, 8,
	}
	c.Assert(packRows(padded, 1, 2, 6), qt.DeepEquals, packed)
}
