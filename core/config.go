// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"strconv"

	"github.com/gobuffalo/envy"
	log "github.com/sirupsen/logrus"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration
	Instance InstanceConfiguration
	Renderer RendererConfiguration

	// LogLevel is parsed with logrus.ParseLevel
	LogLevel string
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the delay between window event polls, in milliseconds
	EventPollDelay int
}

// InstanceConfiguration is used to create an instance
type InstanceConfiguration struct {
	DebugMode  bool
	Extensions []string
	Layers     []string
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	SwapchainSize    uint32
	DeviceExtensions []string

	ScreenWidth  uint32
	ScreenHeight uint32

	// FramesInFlight is the number of frame slots, 2 or 3
	FramesInFlight int

	// MaxDynamicObjects bounds the render elements drawn per frame
	MaxDynamicObjects int

	// MaxTextures bounds the live textures the descriptor pool is sized for
	MaxTextures int

	// ShaderDirectory holds quad.vert.spv, quad.frag.spv and
	// the optional post.comp.spv
	ShaderDirectory string

	// PipelineCachePath is where the pipeline cache archive is kept,
	// empty disables persistence
	PipelineCachePath string

	ClearColor [4]float32
}

// Defaults for the renderer
const (
	DefaultFramesInFlight    = 2
	DefaultMaxDynamicObjects = 1024
	DefaultMaxTextures       = 256
	DefaultSwapchainSize     = 3
)

// DefaultConfiguration returns a configuration usable for a single output.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
			EventPollDelay:  5,
		},
		Renderer: RendererConfiguration{
			SwapchainSize:     DefaultSwapchainSize,
			ScreenWidth:       1280,
			ScreenHeight:      720,
			FramesInFlight:    DefaultFramesInFlight,
			MaxDynamicObjects: DefaultMaxDynamicObjects,
			MaxTextures:       DefaultMaxTextures,
			ShaderDirectory:   "./shaders",
			PipelineCachePath: "pipeline.kar",
			ClearColor:        [4]float32{0.005, 0.005, 0.005, 1},
		},
		LogLevel: "info",
	}
}

// Environment keys read by ConfigurationFromEnv
const (
	EnvScreenWidth       = "KORU_SCREEN_WIDTH"
	EnvScreenHeight      = "KORU_SCREEN_HEIGHT"
	EnvSwapchainSize     = "KORU_SWAPCHAIN_SIZE"
	EnvFramesInFlight    = "KORU_FRAMES_IN_FLIGHT"
	EnvMaxDynamicObjects = "KORU_MAX_DYNAMIC_OBJECTS"
	EnvShaderDirectory   = "KORU_SHADER_DIR"
	EnvPipelineCache     = "KORU_PIPELINE_CACHE"
	EnvFramesPerSecond   = "KORU_FPS"
	EnvDebug             = "KORU_DEBUG"
	EnvLogLevel          = "KORU_LOG_LEVEL"
)

// ConfigurationFromEnv overlays KORU_* environment variables on base.
func ConfigurationFromEnv(base Configuration) (Configuration, error) {
	cfg := base

	uints := []struct {
		key string
		dst *uint32
	}{
		{EnvScreenWidth, &cfg.Renderer.ScreenWidth},
		{EnvScreenHeight, &cfg.Renderer.ScreenHeight},
		{EnvSwapchainSize, &cfg.Renderer.SwapchainSize},
	}
	for _, u := range uints {
		if v := envy.Get(u.key, ""); v != "" {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return base, fmt.Errorf("%s: %s", u.key, err.Error())
			}
			*u.dst = uint32(n)
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvFramesInFlight, &cfg.Renderer.FramesInFlight},
		{EnvMaxDynamicObjects, &cfg.Renderer.MaxDynamicObjects},
		{EnvFramesPerSecond, &cfg.Time.FramesPerSecond},
	}
	for _, i := range ints {
		if v := envy.Get(i.key, ""); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return base, fmt.Errorf("%s: %s", i.key, err.Error())
			}
			*i.dst = n
		}
	}

	cfg.Renderer.ShaderDirectory = envy.Get(EnvShaderDirectory, cfg.Renderer.ShaderDirectory)
	cfg.Renderer.PipelineCachePath = envy.Get(EnvPipelineCache, cfg.Renderer.PipelineCachePath)
	cfg.LogLevel = envy.Get(EnvLogLevel, cfg.LogLevel)

	if v := envy.Get(EnvDebug, ""); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return base, fmt.Errorf("%s: %s", EnvDebug, err.Error())
		}
		cfg.Instance.DebugMode = debug
	}

	if err := cfg.Renderer.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

// Validate checks the renderer configuration for values the renderer
// cannot work with.
func (r RendererConfiguration) Validate() error {
	if r.FramesInFlight < 2 || r.FramesInFlight > 3 {
		return fmt.Errorf("frames in flight must be 2 or 3, got %d", r.FramesInFlight)
	}
	if r.MaxDynamicObjects <= 0 {
		return fmt.Errorf("max dynamic objects must be positive, got %d", r.MaxDynamicObjects)
	}
	if r.MaxTextures <= 0 {
		return fmt.Errorf("max textures must be positive, got %d", r.MaxTextures)
	}
	if r.ScreenWidth == 0 || r.ScreenHeight == 0 {
		return fmt.Errorf("screen size %dx%d is empty", r.ScreenWidth, r.ScreenHeight)
	}
	return nil
}

// ApplyLogLevel sets the global logrus level from the configuration.
func (c Configuration) ApplyLogLevel() error {
	if c.LogLevel == "" {
		return nil
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}
