// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// accumulator collects the bytes of one line across Decode calls.
type accumulator struct {
	buf     []byte
	decoder *encoding.Decoder
}

func (a *accumulator) appendBytes(b []byte) {
	a.buf = append(a.buf, b...)
}

func (a *accumulator) len() int {
	return len(a.buf)
}

func (a *accumulator) reset() {
	a.buf = a.buf[:0]
}

// latin1 returns the accumulated octets as text, each octet being one
// ISO-8859-1 character.
func (a *accumulator) latin1() string {
	ascii := true
	for _, c := range a.buf {
		if c >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return string(a.buf)
	}
	if a.decoder == nil {
		a.decoder = charmap.ISO8859_1.NewDecoder()
	}
	b, err := a.decoder.Bytes(a.buf)
	if err != nil {
		// every octet maps in ISO-8859-1
		panic("http1: latin-1 decoding failed: " + err.Error())
	}
	return string(b)
}
