// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"os"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestAddAndWrite(t *testing.T) {
	c := qt.New(t)
	builder, err := NewBuilder(Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	c.Assert(err, qt.IsNil)
	defer builder.Close()

	c.Assert(builder.Add("test", bytes.NewReader([]byte("idunvovkjnreovmegihjbrqlkmfrjnb"))), qt.IsNil)
	c.Assert(builder.Add("test2", bytes.NewReader([]byte("idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"))), qt.IsNil)
	c.Assert(builder.files, qt.HasLen, 2)

	buf := bytes.NewBuffer(nil)
	num, err := builder.WriteTo(buf)
	c.Assert(err, qt.IsNil)
	c.Assert(num, qt.Equals, int64(buf.Len()))
	c.Assert(buf.Bytes()[:MagicLength], qt.DeepEquals, Magic[:])
}

func TestCloseRemovesTempDir(t *testing.T) {
	c := qt.New(t)
	builder, err := NewBuilder(Header{Version: 1})
	c.Assert(err, qt.IsNil)
	c.Assert(builder.Add("a", bytes.NewReader([]byte("a"))), qt.IsNil)
	c.Assert(builder.Close(), qt.IsNil)

	_, err = os.Stat(builder.tempDir)
	c.Assert(os.IsNotExist(err), qt.IsTrue)
}

func TestHeaderSizeEncoding(t *testing.T) {
	c := qt.New(t)
	for _, n := range []int64{0, 1, 255, 1 << 40} {
		got, err := binaryToint64(int64ToBinary(n))
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, n)
	}
	_, err := binaryToint64([]byte{1, 2})
	c.Assert(err, qt.Equals, ErrFileFormat)
}
