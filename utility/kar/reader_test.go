// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"golang.org/x/exp/mmap"

	"github.com/devblok/koru-present/utility/kar"
)

func TestOpenmmap(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "opentest.kar")
	data := buildArchive(c, map[string]string{
		"test/test1.txt": "this is a test",
		"test/test2.txt": "this is another test",
	})
	c.Assert(ioutil.WriteFile(path, data, 0644), qt.IsNil)

	r, err := mmap.Open(path)
	c.Assert(err, qt.IsNil)
	defer r.Close()

	ar, err := kar.Open(r)
	c.Assert(err, qt.IsNil)

	got, err := ar.ReadAll("test/test1.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(string(got), qt.Equals, "this is a test")

	got, err = ar.ReadAll("test/test2.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(string(got), qt.Equals, "this is another test")
}
