// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Fatal errors, the whole context has to be rebuilt
var (
	ErrDeviceLost                    = errors.New("device lost")
	ErrPhysicalDeviceSelectionFailed = errors.New("physical device selection failed")
	ErrInstanceCreation              = errors.New("instance creation failed")
	ErrDeviceCreation                = errors.New("device creation failed")
)

// Resource exhaustion, the caller may free resources and retry
var (
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	ErrOutOfHostMemory   = errors.New("out of host memory")
)

// Input rejection, nothing was created on the GPU
var (
	ErrUnsupportedFormat     = errors.New("unsupported format")
	ErrInvalidDmabuf         = errors.New("invalid dma-buf descriptor")
	ErrZeroSized             = errors.New("zero sized buffer")
	ErrObjectIndexOutOfRange = errors.New("object index out of range")
)

// Other state errors
var (
	ErrSwapchainInconsistent = errors.New("swapchain image, view and framebuffer counts differ")
	ErrTextureDestroyed      = errors.New("texture is destroyed")
	ErrRendererDestroyed     = errors.New("renderer is destroyed")
	ErrFrameNotRecorded      = errors.New("no recorded frame to submit")

	// errSwapchainOutOfDate never leaves the package, the frame
	// orchestrator answers it with a recreation.
	errSwapchainOutOfDate = errors.New("swapchain out of date")
)

// ResultError is a failed API call.
type ResultError struct {
	Call   string
	Result vk.Result
}

func (e *ResultError) Error() string {
	return "vk." + e.Call + "(): " + vk.Error(e.Result).Error()
}

// Unwrap maps the result onto the package error taxonomy.
func (e *ResultError) Unwrap() error {
	switch e.Result {
	case vk.ErrorDeviceLost:
		return ErrDeviceLost
	case vk.ErrorOutOfDeviceMemory:
		return ErrOutOfDeviceMemory
	case vk.ErrorOutOfHostMemory:
		return ErrOutOfHostMemory
	case vk.ErrorOutOfDate:
		return errSwapchainOutOfDate
	case vk.ErrorFormatNotSupported:
		return ErrUnsupportedFormat
	default:
		return nil
	}
}

// checkResult turns a non-success result into a ResultError.
func checkResult(call string, res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	return &ResultError{Call: call, Result: res}
}

// UnsupportedFormatError names the pixel format that could not be imported.
type UnsupportedFormatError struct {
	Format        string
	Width, Height uint32
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format %s for %dx%d buffer", e.Format, e.Width, e.Height)
}

// Unwrap implements errors.Unwrap
func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}
