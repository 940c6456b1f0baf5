// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/koru-present/core"
	"github.com/devblok/koru-present/device"
)

var (
	debug  = flag.Bool("debug", false, "Enable validation layers")
	extra  = flag.String("extensions", "", "Comma separated device extensions to require on top of the defaults")
	indent = flag.Bool("indent", true, "Indent the JSON output")
)

// deviceReport is what korucli prints for one physical device.
type deviceReport struct {
	Device device.PhysicalDeviceInfo
	Score  int
	Chosen bool
	Queues *device.QueueSelection `json:",omitempty"`
	Reason string                 `json:",omitempty"`
}

func requiredExtensions(extra string) []string {
	required := append([]string{}, device.RequiredExtensions...)
	for _, ext := range strings.Split(extra, ",") {
		if ext = strings.TrimSpace(ext); ext != "" {
			required = append(required, ext)
		}
	}
	return required
}

// report scores every device and marks the one a renderer would pick.
// Without a surface no queue family can present, so every device
// scores zero.
func report(infos []device.PhysicalDeviceInfo, required []string) []deviceReport {
	reports := make([]deviceReport, len(infos))
	for i, info := range infos {
		reports[i] = deviceReport{Device: info, Score: device.Score(info, required)}
		if queues, err := device.SelectQueueFamilies(info.QueueFamilies); err == nil {
			reports[i].Queues = &queues
		} else {
			reports[i].Reason = err.Error()
		}
		if reports[i].Score == 0 && reports[i].Reason == "" {
			reports[i].Reason = "missing required extensions or features"
		}
	}
	if best, _, err := device.Best(infos, required); err == nil {
		reports[best].Chosen = true
	}
	return reports
}

func main() {
	flag.Parse()

	cfg := core.InstanceConfiguration{
		DebugMode:  *debug,
		Extensions: []string{},
		Layers:     []string{},
	}

	coreInstance, err := core.NewVulkanInstance(core.DefaultVulkanApplicationInfo, nil, cfg)
	if err != nil {
		log.WithError(err).Fatal("instance")
	}
	defer coreInstance.Destroy()

	encoder := json.NewEncoder(os.Stdout)
	if *indent {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(report(coreInstance.PhysicalDevicesInfo(), requiredExtensions(*extra))); err != nil {
		log.WithError(err).Fatal("encode")
	}
}
