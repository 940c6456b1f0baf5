// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:generate glslc ../../shaders/quad.vert -o ../../shaders/quad.vert.spv
//go:generate glslc ../../shaders/quad.frag -o ../../shaders/quad.frag.spv
//go:generate glslc ../../shaders/post.comp -o ../../shaders/post.comp.spv

package main

import (
	"errors"
	"flag"
	"image"
	"image/color"
	"math"
	"os"
	"runtime"

	"github.com/gobuffalo/packr"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/devblok/koru-present/core"
)

func init() {
	runtime.LockOSThread()
}

var (
	envFile  = flag.String("env", ".env", "Environment file to load before reading KORU_* variables")
	boxed    = flag.Bool("boxed", true, "Read shaders from the packed box instead of KORU_SHADER_DIR")
	frameCap = flag.Int("frames", 0, "Exit after this many frames, 0 runs until closed")
)

// ShaderBox packs the compiled shaders into the binary
var ShaderBox = packr.NewBox("../../shaders")

func newWindow(cfg core.RendererConfiguration) (*sdl.Window, error) {
	return sdl.CreateWindow("Koru",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.ScreenWidth),
		int32(cfg.ScreenHeight),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
}

func loadConfiguration() (core.Configuration, error) {
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return core.Configuration{}, err
	}
	cfg, err := core.ConfigurationFromEnv(core.DefaultConfiguration())
	if err != nil {
		return core.Configuration{}, err
	}
	if err := cfg.ApplyLogLevel(); err != nil {
		return core.Configuration{}, err
	}
	return cfg, nil
}

// checkerboard is the demo client buffer.
func checkerboard(size, cell int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	light := color.NRGBA{R: 0xe0, G: 0x90, B: 0x30, A: 0xff}
	dark := color.NRGBA{R: 0x20, G: 0x30, B: 0x50, A: 0xff}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetNRGBA(x, y, light)
			} else {
				img.SetNRGBA(x, y, dark)
			}
		}
	}
	return img
}

func main() {
	flag.Parse()

	configuration, err := loadConfiguration()
	if err != nil {
		log.WithError(err).Fatal("configuration")
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		log.WithError(err).Fatal("sdl.Init()")
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		log.WithError(err).Fatal("sdl.VulkanLoadLibrary()")
	}
	defer sdl.VulkanUnloadLibrary()

	window, err := newWindow(configuration.Renderer)
	if err != nil {
		log.WithError(err).Fatal("sdl.CreateWindow()")
	}
	defer window.Destroy()

	configuration.Instance.Extensions = append(configuration.Instance.Extensions, window.VulkanGetInstanceExtensions()...)
	instance, err := core.NewVulkanInstance(core.DefaultVulkanApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), configuration.Instance)
	if err != nil {
		log.WithError(err).Fatal("instance")
	}
	defer instance.Destroy()

	surface, err := window.VulkanCreateSurface(instance.Instance())
	if err != nil {
		log.WithError(err).Fatal("window.VulkanCreateSurface()")
	}
	instance.SetSurface(surface)

	var shaders core.ShaderSource
	if *boxed && len(ShaderBox.List()) > 0 {
		shaders = &ShaderBox
	}
	renderer, err := core.NewVulkanRenderer(instance, configuration.Renderer, shaders)
	if err != nil {
		log.WithError(err).Fatal("renderer")
	}
	defer renderer.Destroy()

	board := checkerboard(256, 32)
	pixels, stride := core.GetPixels(board, 0)
	size := uint32(board.Bounds().Dx())
	texture, err := renderer.CreateTextureFromShm(pixels, size, size, uint32(stride), core.ShmABGR8888)
	if err != nil {
		log.WithError(err).Fatal("demo texture")
	}
	defer renderer.ReleaseTexture(texture)
	renderer.SetPostProcessInput(texture)

	time := core.NewTime(configuration.Time)
	defer time.Stop()

	var frame int
EventLoop:
	for {
		select {
		case <-time.EventTicker().C:
			for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch et := event.(type) {
				case *sdl.KeyboardEvent:
					if et.Keysym.Sym == sdl.K_ESCAPE {
						break EventLoop
					}
				case *sdl.WindowEvent:
					if et.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
						w, h := window.VulkanGetDrawableSize()
						renderer.NotifyResized(uint32(w), uint32(h))
					}
				case *sdl.QuitEvent:
					break EventLoop
				}
			}
		case <-time.FpsTicker().C:
			if err := drawFrame(renderer, texture, frame); err != nil {
				if errors.Is(err, core.ErrDeviceLost) {
					log.WithError(err).Error("giving up")
					break EventLoop
				}
				log.WithError(err).Warn("frame failed")
			}
			frame++
			if *frameCap > 0 && frame >= *frameCap {
				break EventLoop
			}
		}
	}

	stats := renderer.Stats()
	log.WithFields(log.Fields{
		"submitted":   stats.FramesSubmitted,
		"dropped":     stats.FramesDropped,
		"recreations": stats.Recreations,
		"skipped":     stats.SkippedElements,
	}).Info("Event loop exited")
}

// drawFrame lays the checkerboard out as a background, a bouncing tile
// and, with post processing, its filtered copy in the corner.
func drawFrame(renderer *core.VulkanRenderer, texture *core.Texture, frame int) error {
	width, height := renderer.ScreenSize()
	output := core.OutputGeometry{Width: width, Height: height}
	white := [3]float32{1, 1, 1}

	phase := float64(frame) / 60
	tile := uint32(128)
	spanX := math.Max(0, float64(width)-float64(tile)) / 2
	spanY := math.Max(0, float64(height)-float64(tile)) / 2
	x := int32(spanX * (1 + math.Sin(phase)))
	y := int32(spanY * (1 + math.Cos(phase*0.7)))

	elements := []core.RenderElement{
		{Texture: texture, Dst: core.Rect{Width: width, Height: height}, Space: core.Physical, Tint: [3]float32{0.3, 0.3, 0.3}, Alpha: 1},
		{Texture: texture, Dst: core.Rect{X: x, Y: y, Width: tile, Height: tile}, Space: core.Physical, Tint: white, Alpha: 1},
	}
	if filtered := renderer.PostProcessOutput(); filtered != nil {
		elements = append(elements, core.RenderElement{
			Texture: filtered,
			Dst:     core.Rect{X: int32(width) - 256 - 16, Y: 16, Width: 256, Height: 256},
			Space:   core.Physical,
			Tint:    white,
			Alpha:   1,
		})
	}

	if err := renderer.RenderFrame(elements, output, 1); err != nil {
		return err
	}
	return renderer.SubmitAndPresentFrame()
}
