// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koru-present/device"
)

func TestRequiredExtensions(t *testing.T) {
	c := qt.New(t)
	c.Assert(requiredExtensions(""), qt.DeepEquals, device.RequiredExtensions)
	got := requiredExtensions(" VK_KHR_a, ,VK_KHR_b")
	c.Assert(got[len(got)-2:], qt.DeepEquals, []string{"VK_KHR_a", "VK_KHR_b"})
}

func TestReport(t *testing.T) {
	c := qt.New(t)
	presenting := device.PhysicalDeviceInfo{
		Name:                "presenting",
		Type:                device.TypeIntegrated,
		APIVersion:          device.TargetAPIVersion,
		MaxImageDimension2D: 8192,
		Extensions:          append([]string{}, device.RequiredExtensions...),
		QueueFamilies: []device.QueueFamilyInfo{
			{Index: 0, Count: 1, Graphics: true, Transfer: true, Present: true},
		},
	}
	headless := presenting
	headless.Name = "headless"
	headless.QueueFamilies = []device.QueueFamilyInfo{
		{Index: 0, Count: 1, Graphics: true},
	}

	reports := report([]device.PhysicalDeviceInfo{headless, presenting}, device.RequiredExtensions)
	c.Assert(reports, qt.HasLen, 2)

	c.Assert(reports[0].Chosen, qt.IsFalse)
	c.Assert(reports[0].Score, qt.Equals, 0)
	c.Assert(reports[0].Queues, qt.IsNil)
	c.Assert(reports[0].Reason, qt.Not(qt.Equals), "")

	c.Assert(reports[1].Chosen, qt.IsTrue)
	c.Assert(reports[1].Score > 0, qt.IsTrue)
	c.Assert(reports[1].Queues, qt.IsNotNil)
	c.Assert(reports[1].Reason, qt.Equals, "")

	data, err := json.Marshal(reports)
	c.Assert(err, qt.IsNil)
	var decoded []map[string]interface{}
	c.Assert(json.Unmarshal(data, &decoded), qt.IsNil)
	c.Assert(decoded[1]["Chosen"], qt.Equals, true)
	_, hasQueues := decoded[0]["Queues"]
	c.Assert(hasQueues, qt.IsFalse)
}
