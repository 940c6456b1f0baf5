// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
	"unsafe"

	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/mmap"

	"github.com/devblok/koru-present/device"
	"github.com/devblok/koru-present/utility/kar"
)

const (
	pipelineCacheAuthor  = "koru"
	pipelineCacheVersion = 1

	// length, version, vendor id, device id, uuid
	pipelineCacheHeaderSize = 16 + vk.UuidSize
)

// pipelineCacheKey names the archive entry of one GPU.
func pipelineCacheKey(info device.PhysicalDeviceInfo) string {
	return fmt.Sprintf("%04x-%04x-%x", info.VendorID, info.ID, info.PipelineCacheUUID[:])
}

// validCacheBlob checks the header the driver writes in front of
// pipeline cache data against the device about to consume it.
func validCacheBlob(data []byte, info device.PhysicalDeviceInfo) bool {
	if len(data) < pipelineCacheHeaderSize {
		return false
	}
	length := binary.LittleEndian.Uint32(data[0:])
	version := binary.LittleEndian.Uint32(data[4:])
	vendor := binary.LittleEndian.Uint32(data[8:])
	deviceID := binary.LittleEndian.Uint32(data[12:])
	return length >= pipelineCacheHeaderSize &&
		version == uint32(vk.PipelineCacheHeaderVersionOne) &&
		vendor == uint32(info.VendorID) &&
		deviceID == uint32(info.ID) &&
		bytes.Equal(data[16:pipelineCacheHeaderSize], info.PipelineCacheUUID[:])
}

// loadCacheEntries maps the archive at path and reads every entry.
func loadCacheEntries(path string) (map[string][]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	archive, err := kar.Open(r)
	if err != nil {
		return nil, err
	}
	entries := make(map[string][]byte)
	for _, entry := range archive.Header().Index {
		data, err := archive.ReadAll(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", entry.Name, err)
		}
		entries[entry.Name] = data
	}
	return entries, nil
}

// writeCacheEntries replaces the archive at path. Readers see either
// the old or the new file, never a partial one.
func writeCacheEntries(path string, entries map[string][]byte) (err error) {
	builder, err := kar.NewBuilder(kar.Header{
		Author:      pipelineCacheAuthor,
		DateCreated: time.Now().Unix(),
		Version:     pipelineCacheVersion,
	})
	if err != nil {
		return err
	}
	defer builder.Close()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := builder.Add(name, bytes.NewReader(entries[name])); err != nil {
			return err
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = builder.WriteTo(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// PipelineCache is a vulkan pipeline cache persisted between runs in
// a kar archive shared by every GPU of the machine.
type PipelineCache struct {
	device vk.Device
	handle vk.PipelineCache
	info   device.PhysicalDeviceInfo
	path   string
	logger *log.Entry
}

// NewPipelineCache creates a pipeline cache seeded from the archive at
// path. An empty path disables persistence. Unreadable or foreign data
// is dropped with a warning.
func NewPipelineCache(ctx *GPUContext, path string) (*PipelineCache, error) {
	c := &PipelineCache{
		device: ctx.Device(),
		info:   ctx.Info(),
		path:   path,
		logger: log.WithFields(log.Fields{
			"component": "pipelinecache",
			"path":      path,
		}),
	}

	initial := c.load()
	handle, err := c.create(initial)
	if err != nil && initial != nil {
		c.logger.WithError(err).Warn("driver rejected pipeline cache data, starting empty")
		handle, err = c.create(nil)
	}
	if err != nil {
		return nil, err
	}
	c.handle = handle
	return c, nil
}

func (c *PipelineCache) load() []byte {
	if c.path == "" {
		return nil
	}
	entries, err := loadCacheEntries(c.path)
	switch {
	case os.IsNotExist(err):
		c.logger.Debug("no pipeline cache yet")
		return nil
	case err != nil:
		c.logger.WithError(err).Warn("pipeline cache unreadable, starting empty")
		return nil
	}

	data, ok := entries[pipelineCacheKey(c.info)]
	if !ok {
		return nil
	}
	if !validCacheBlob(data, c.info) {
		c.logger.Warn("pipeline cache entry does not match the device, starting empty")
		return nil
	}
	c.logger.WithField("bytes", len(data)).Debug("pipeline cache loaded")
	return data
}

func (c *PipelineCache) create(initial []byte) (vk.PipelineCache, error) {
	pcci := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(initial) > 0 {
		pcci.InitialDataSize = uint(len(initial))
		pcci.PInitialData = unsafe.Pointer(&initial[0])
	}

	var handle vk.PipelineCache
	if err := checkResult("CreatePipelineCache", vk.CreatePipelineCache(c.device, &pcci, nil, &handle)); err != nil {
		return nil, err
	}
	return handle, nil
}

// Handle returns the pipeline cache handle.
func (c *PipelineCache) Handle() vk.PipelineCache {
	return c.handle
}

// Save writes the cache data of this device into the archive,
// keeping the entries of other devices.
func (c *PipelineCache) Save() error {
	if c.path == "" {
		return nil
	}

	var size uint
	if err := checkResult("GetPipelineCacheData", vk.GetPipelineCacheData(c.device, c.handle, &size, nil)); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	data := make([]byte, size)
	if err := checkResult("GetPipelineCacheData", vk.GetPipelineCacheData(c.device, c.handle, &size, unsafe.Pointer(&data[0]))); err != nil {
		return err
	}

	entries, err := loadCacheEntries(c.path)
	if err != nil {
		entries = make(map[string][]byte)
	}
	entries[pipelineCacheKey(c.info)] = data[:size]
	if err := writeCacheEntries(c.path, entries); err != nil {
		return err
	}
	c.logger.WithField("bytes", size).Info("pipeline cache saved")
	return nil
}

// Destroy implements interface
func (c *PipelineCache) Destroy() {
	vk.DestroyPipelineCache(c.device, c.handle, nil)
}
