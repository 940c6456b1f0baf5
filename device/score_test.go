// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koru-present/device"
)

func candidate(t device.Type) device.PhysicalDeviceInfo {
	return device.PhysicalDeviceInfo{
		Name:                "candidate",
		Type:                t,
		APIVersion:          device.TargetAPIVersion,
		Anisotropy:          true,
		MaxImageDimension2D: 16384,
		Extensions:          append([]string{}, device.RequiredExtensions...),
		QueueFamilies: []device.QueueFamilyInfo{
			{Index: 0, Count: 1, Graphics: true, Compute: true, Transfer: true, Present: true},
		},
	}
}

func TestScoreIntegratedBeatsDiscrete(t *testing.T) {
	c := qt.New(t)
	integrated := device.Score(candidate(device.TypeIntegrated), device.RequiredExtensions)
	discrete := device.Score(candidate(device.TypeDiscrete), device.RequiredExtensions)
	c.Assert(integrated > discrete, qt.IsTrue, qt.Commentf("integrated %d, discrete %d", integrated, discrete))
	c.Assert(integrated, qt.Equals, 1+1000+200+100+16)
}

func TestScoreMissingExtension(t *testing.T) {
	c := qt.New(t)
	for _, missing := range device.RequiredExtensions {
		info := candidate(device.TypeIntegrated)
		info.Extensions = nil
		for _, ext := range device.RequiredExtensions {
			if ext != missing {
				info.Extensions = append(info.Extensions, ext)
			}
		}
		c.Assert(device.Score(info, device.RequiredExtensions), qt.Equals, 0, qt.Commentf("without %s", missing))
	}
}

func TestScoreNoPresentFamily(t *testing.T) {
	c := qt.New(t)
	info := candidate(device.TypeDiscrete)
	info.QueueFamilies = []device.QueueFamilyInfo{
		{Index: 0, Count: 1, Graphics: true},
		{Index: 1, Count: 1, Present: true, Transfer: true},
	}
	c.Assert(device.Score(info, device.RequiredExtensions), qt.Equals, 0)
}

func TestScoreOlderAPIAndNoAnisotropy(t *testing.T) {
	c := qt.New(t)
	info := candidate(device.TypeOther)
	info.APIVersion = 0
	info.Anisotropy = false
	info.MaxImageDimension2D = 4096
	c.Assert(device.Score(info, device.RequiredExtensions), qt.Equals, 1+4)
}

func TestBest(t *testing.T) {
	c := qt.New(t)

	broken := candidate(device.TypeIntegrated)
	broken.Extensions = nil
	infos := []device.PhysicalDeviceInfo{
		candidate(device.TypeDiscrete),
		broken,
		candidate(device.TypeIntegrated),
		candidate(device.TypeIntegrated),
	}
	idx, score, err := device.Best(infos, device.RequiredExtensions)
	c.Assert(err, qt.IsNil)
	c.Assert(idx, qt.Equals, 2)
	c.Assert(score, qt.Equals, device.Score(infos[2], device.RequiredExtensions))

	_, _, err = device.Best([]device.PhysicalDeviceInfo{broken}, device.RequiredExtensions)
	c.Assert(err, qt.Equals, device.ErrNoSuitableDevice)
}

func TestSelectQueueFamilies(t *testing.T) {
	tests := []struct {
		name     string
		families []device.QueueFamilyInfo
		want     device.QueueSelection
		err      bool
	}{{
		name: "single universal family",
		families: []device.QueueFamilyInfo{
			{Index: 0, Count: 16, Graphics: true, Compute: true, Transfer: true, Present: true},
		},
		want: device.QueueSelection{},
	}, {
		name: "dedicated transfer and compute",
		families: []device.QueueFamilyInfo{
			{Index: 0, Count: 16, Graphics: true, Compute: true, Transfer: true, Present: true},
			{Index: 1, Count: 2, Transfer: true},
			{Index: 2, Count: 8, Compute: true, Transfer: true},
		},
		want: device.QueueSelection{
			Transfer:          1,
			Compute:           2,
			DedicatedTransfer: true,
			DedicatedCompute:  true,
		},
	}, {
		name: "present on second graphics family",
		families: []device.QueueFamilyInfo{
			{Index: 0, Count: 1, Graphics: true, Transfer: true},
			{Index: 1, Count: 1, Graphics: true, Compute: true, Transfer: true, Present: true},
		},
		want: device.QueueSelection{Graphics: 1, Present: 1, Transfer: 1, Compute: 1},
	}, {
		name: "no presentation",
		families: []device.QueueFamilyInfo{
			{Index: 0, Count: 1, Graphics: true},
		},
		err: true,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := qt.New(t)
			sel, err := device.SelectQueueFamilies(test.families)
			if test.err {
				c.Assert(err, qt.IsNotNil)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(sel, qt.DeepEquals, test.want)
		})
	}
}

func TestQueueSelectionUnique(t *testing.T) {
	c := qt.New(t)
	sel := device.QueueSelection{Graphics: 0, Present: 0, Transfer: 2, Compute: 1}
	c.Assert(sel.Unique(), qt.DeepEquals, []uint32{0, 2, 1})
}
