// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"

	"github.com/devblok/koru-present/device"
)

func testDeviceInfo() device.PhysicalDeviceInfo {
	info := device.PhysicalDeviceInfo{
		ID:       0x1912,
		VendorID: 0x8086,
		Name:     "test gpu",
	}
	for i := range info.PipelineCacheUUID {
		info.PipelineCacheUUID[i] = byte(i)
	}
	return info
}

func cacheBlob(info device.PhysicalDeviceInfo, payload ...byte) []byte {
	blob := make([]byte, pipelineCacheHeaderSize, pipelineCacheHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(blob[0:], pipelineCacheHeaderSize)
	binary.LittleEndian.PutUint32(blob[4:], uint32(vk.PipelineCacheHeaderVersionOne))
	binary.LittleEndian.PutUint32(blob[8:], uint32(info.VendorID))
	binary.LittleEndian.PutUint32(blob[12:], uint32(info.ID))
	copy(blob[16:], info.PipelineCacheUUID[:])
	return append(blob, payload...)
}

func TestPipelineCacheKey(t *testing.T) {
	c := qt.New(t)
	c.Assert(pipelineCacheKey(testDeviceInfo()), qt.Equals, "8086-1912-000102030405060708090a0b0c0d0e0f")
}

func TestValidCacheBlob(t *testing.T) {
	c := qt.New(t)
	info := testDeviceInfo()
	c.Assert(validCacheBlob(cacheBlob(info, 1, 2, 3), info), qt.IsTrue)
	c.Assert(validCacheBlob(cacheBlob(info)[:10], info), qt.IsFalse)
	c.Assert(validCacheBlob(nil, info), qt.IsFalse)

	other := info
	other.ID = 0x3e92
	c.Assert(validCacheBlob(cacheBlob(info), other), qt.IsFalse)

	other = info
	other.PipelineCacheUUID[3] = 0xff
	c.Assert(validCacheBlob(cacheBlob(info), other), qt.IsFalse)
}

func TestCacheEntriesRoundTrip(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "cache", "pipeline.kar")
	entries := map[string][]byte{
		"8086-1912-aa": {1, 2, 3, 4},
		"10de-1c82-bb": {5, 6},
	}
	c.Assert(writeCacheEntries(path, entries), qt.IsNil)

	got, err := loadCacheEntries(path)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, entries)

	// rewriting one entry keeps the others
	got["8086-1912-aa"] = []byte{9}
	c.Assert(writeCacheEntries(path, got), qt.IsNil)
	again, err := loadCacheEntries(path)
	c.Assert(err, qt.IsNil)
	c.Assert(again["8086-1912-aa"], qt.DeepEquals, []byte{9})
	c.Assert(again["10de-1c82-bb"], qt.DeepEquals, []byte{5, 6})

	// no temporary files are left behind
	files, err := os.ReadDir(filepath.Dir(path))
	c.Assert(err, qt.IsNil)
	c.Assert(files, qt.HasLen, 1)
}

func TestCacheEntriesCorrupted(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "pipeline.kar")
	c.Assert(os.WriteFile(path, []byte("definitely not an archive"), 0644), qt.IsNil)

	_, err := loadCacheEntries(path)
	c.Assert(err, qt.IsNotNil)

	_, err = loadCacheEntries(filepath.Join(c.TempDir(), "missing.kar"))
	c.Assert(os.IsNotExist(err), qt.IsTrue)
}

func TestPipelineCacheLoadFallback(t *testing.T) {
	c := qt.New(t)
	defer c.Done()
	dir := c.TempDir()
	info := testDeviceInfo()

	tests := []struct {
		name  string
		setup func(c *qt.C, path string)
		want  []byte
	}{{
		name:  "missing file",
		setup: func(*qt.C, string) {},
	}, {
		name: "corrupted file",
		setup: func(c *qt.C, path string) {
			c.Assert(os.WriteFile(path, []byte("KAR\x00garbage"), 0644), qt.IsNil)
		},
	}, {
		name: "foreign blob",
		setup: func(c *qt.C, path string) {
			other := info
			other.VendorID = 0x1002
			c.Assert(writeCacheEntries(path, map[string][]byte{pipelineCacheKey(info): cacheBlob(other)}), qt.IsNil)
		},
	}, {
		name: "matching blob",
		setup: func(c *qt.C, path string) {
			c.Assert(writeCacheEntries(path, map[string][]byte{pipelineCacheKey(info): cacheBlob(info, 7)}), qt.IsNil)
		},
		want: cacheBlob(info, 7),
	}}
	for _, test := range tests {
		c.Run(test.name, func(c *qt.C) {
			path := filepath.Join(dir, test.name+".kar")
			test.setup(c, path)
			cache := &PipelineCache{info: info, path: path, logger: log.WithField("component", "test")}
			c.Assert(cache.load(), qt.DeepEquals, test.want)
		})
	}
}
