// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build !linux

package core

import "fmt"

func (u *uploader) textureFromDmabuf(desc DmabufDescriptor) (*Texture, error) {
	if _, err := validateDmabuf(desc); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: dma-buf import needs linux", ErrInvalidDmabuf)
}
