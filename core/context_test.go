// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestRefCountReleasesOnLastHolder(t *testing.T) {
	c := qt.New(t)
	released := 0
	refs := newRefCount(func() { released++ })

	refs.retain()
	refs.retain()
	refs.drop()
	refs.drop()
	c.Assert(released, qt.Equals, 0)

	refs.drop()
	c.Assert(released, qt.Equals, 1)

	// an extra drop is logged, never released twice
	refs.drop()
	c.Assert(released, qt.Equals, 1)
}

func TestRefCountConcurrent(t *testing.T) {
	c := qt.New(t)
	var mutex sync.Mutex
	released := 0
	refs := newRefCount(func() {
		mutex.Lock()
		released++
		mutex.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		refs.retain()
		wg.Add(1)
		go func() {
			defer wg.Done()
			refs.drop()
		}()
	}
	wg.Wait()
	c.Assert(released, qt.Equals, 0)

	refs.drop()
	c.Assert(released, qt.Equals, 1)
}

func TestRefCountRetainAfterRelease(t *testing.T) {
	c := qt.New(t)
	refs := newRefCount(func() {})
	refs.drop()
	c.Assert(func() { refs.retain() }, qt.PanicMatches, "retain of a released object")
}

func TestMergeExtensions(t *testing.T) {
	c := qt.New(t)
	got := mergeExtensions([]string{"a", "b"}, []string{"b", "c", "a", "d"})
	c.Assert(got, qt.DeepEquals, []string{"a", "b", "c", "d"})
}
