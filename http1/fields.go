// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

import (
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Value is a typed header field value. String renders the wire text.
type Value interface {
	String() string
}

// combiner is implemented by list values that may appear on several lines.
// combine returns false when other has a different type.
type combiner interface {
	combine(other Value) (Value, bool)
}

// multiLine is implemented by values that are written one line per element.
type multiLine interface {
	lines() []string
}

// Field is a named value.
type Field struct {
	Name  string
	Value Value
}

// ContentLength .
type ContentLength int64

func (v ContentLength) String() string {
	return strconv.FormatInt(int64(v), 10)
}

// TokenList is a comma separated list such as Transfer-Encoding or
// Connection.
type TokenList []string

func (v TokenList) String() string {
	return strings.Join(v, ", ")
}

func (v TokenList) combine(other Value) (Value, bool) {
	o, ok := other.(TokenList)
	if !ok {
		return nil, false
	}
	return append(append(TokenList(nil), v...), o...), true
}

// Has reports whether the list contains token, case-insensitively.
func (v TokenList) Has(token string) bool {
	for _, t := range v {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}

// Last returns the final element or "".
func (v TokenList) Last() string {
	if len(v) == 0 {
		return ""
	}
	return v[len(v)-1]
}

// MediaType is a Content-Type value.
type MediaType struct {
	Type   string
	Params map[string]string
}

func (v MediaType) String() string {
	if s := mime.FormatMediaType(v.Type, v.Params); s != "" {
		return s
	}
	return v.Type
}

// Charset returns the charset parameter or "".
func (v MediaType) Charset() string {
	return v.Params["charset"]
}

// WithParam returns a copy of v with the parameter set.
func (v MediaType) WithParam(key, value string) MediaType {
	params := make(map[string]string, len(v.Params)+1)
	for k, p := range v.Params {
		params[k] = p
	}
	params[key] = value
	return MediaType{Type: v.Type, Params: params}
}

// Date is an HTTP-date value.
type Date time.Time

func (v Date) String() string {
	return string(fasthttp.AppendHTTPDate(nil, time.Time(v)))
}

// Host .
type Host string

func (v Host) String() string {
	return string(v)
}

// Text is a single valued opaque field.
type Text string

func (v Text) String() string {
	return string(v)
}

// TextList is an opaque field that may be repeated; repetitions are joined
// with commas.
type TextList []string

func (v TextList) String() string {
	return strings.Join(v, ", ")
}

func (v TextList) combine(other Value) (Value, bool) {
	o, ok := other.(TextList)
	if !ok {
		return nil, false
	}
	return append(append(TextList(nil), v...), o...), true
}

// LineList is a repeatable field that cannot be joined with commas
// (Set-Cookie). Each element is written on its own line.
type LineList []string

func (v LineList) String() string {
	return strings.Join(v, "\n")
}

func (v LineList) combine(other Value) (Value, bool) {
	o, ok := other.(LineList)
	if !ok {
		return nil, false
	}
	return append(append(LineList(nil), v...), o...), true
}

func (v LineList) lines() []string {
	return v
}
