// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	vk "github.com/vulkan-go/vulkan"
)

func TestResultErrorMapping(t *testing.T) {
	tests := []struct {
		result vk.Result
		want   error
	}{
		{vk.ErrorDeviceLost, ErrDeviceLost},
		{vk.ErrorOutOfDeviceMemory, ErrOutOfDeviceMemory},
		{vk.ErrorOutOfHostMemory, ErrOutOfHostMemory},
		{vk.ErrorOutOfDate, errSwapchainOutOfDate},
		{vk.ErrorFormatNotSupported, ErrUnsupportedFormat},
	}
	for _, test := range tests {
		c := qt.New(t)
		err := fmt.Errorf("frame 3: %w", checkResult("QueueSubmit", test.result))
		c.Assert(errors.Is(err, test.want), qt.IsTrue, qt.Commentf("%v", err))

		var resultErr *ResultError
		c.Assert(errors.As(err, &resultErr), qt.IsTrue)
		c.Assert(resultErr.Call, qt.Equals, "QueueSubmit")
	}
}

func TestResultErrorUnmapped(t *testing.T) {
	c := qt.New(t)
	err := checkResult("CreateSampler", vk.ErrorInitializationFailed)
	c.Assert(err, qt.ErrorMatches, `vk\.CreateSampler\(\): .*`)
	c.Assert(errors.Is(err, ErrDeviceLost), qt.IsFalse)
	c.Assert(errors.Unwrap(err), qt.IsNil)
}

func TestCheckResultSuccess(t *testing.T) {
	c := qt.New(t)
	c.Assert(checkResult("QueuePresent", vk.Success), qt.IsNil)
}

func TestUnsupportedFormatError(t *testing.T) {
	c := qt.New(t)
	var err error = &UnsupportedFormatError{Format: "RGB565", Width: 64, Height: 32}
	c.Assert(err, qt.ErrorMatches, "unsupported format RGB565 for 64x32 buffer")
	c.Assert(errors.Is(err, ErrUnsupportedFormat), qt.IsTrue)
}
