// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

import (
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

// Header is the start line and header fields of one HTTP message.
// Fields keep their insertion order.
type Header struct {
	Proto Version

	// request start line
	Method string
	Target string

	// response start line
	StatusCode int
	Reason     string

	// HasPayload reports whether a body follows the header. The decoder sets
	// it from the framing; for encoding the caller sets it.
	HasPayload bool

	request bool
	index   map[string]int
	fields  []Field
}

// NewRequest .
func NewRequest(method, target string, proto Version) *Header {
	return &Header{Method: method, Target: target, Proto: proto, request: true}
}

// NewResponse .
func NewResponse(statusCode int, reason string, proto Version) *Header {
	return &Header{StatusCode: statusCode, Reason: reason, Proto: proto}
}

// IsRequest .
func (h *Header) IsRequest() bool {
	return h.request
}

// StartLine renders the request-line or status-line without CRLF.
func (h *Header) StartLine() string {
	if h.request {
		return h.Method + " " + h.Target + " " + h.Proto.String()
	}
	return h.Proto.String() + " " + strconv.Itoa(h.StatusCode) + " " + h.Reason
}

// Len returns the number of distinct fields.
func (h *Header) Len() int {
	return len(h.fields)
}

// Fields returns the fields in emission order. The slice must not be
// modified.
func (h *Header) Fields() []Field {
	return h.fields
}

// Get .
func (h *Header) Get(name string) (Value, bool) {
	i, ok := h.index[textproto.CanonicalMIMEHeaderKey(name)]
	if !ok {
		return nil, false
	}
	return h.fields[i].Value, true
}

// Text returns the wire text of a field or "".
func (h *Header) Text(name string) string {
	if v, ok := h.Get(name); ok {
		return v.String()
	}
	return ""
}

// Set replaces a field, keeping its position if it exists.
func (h *Header) Set(name string, v Value) {
	name = textproto.CanonicalMIMEHeaderKey(name)
	if i, ok := h.index[name]; ok {
		h.fields[i].Value = v
		return
	}
	if h.index == nil {
		h.index = map[string]int{}
	}
	h.index[name] = len(h.fields)
	h.fields = append(h.fields, Field{Name: name, Value: v})
}

// Del .
func (h *Header) Del(name string) {
	name = textproto.CanonicalMIMEHeaderKey(name)
	i, ok := h.index[name]
	if !ok {
		return
	}
	h.fields = append(h.fields[:i], h.fields[i+1:]...)
	delete(h.index, name)
	for j := i; j < len(h.fields); j++ {
		h.index[h.fields[j].Name] = j
	}
}

// Add adds a parsed field applying the rules for repeated fields:
// Transfer-Encoding wins over Content-Length, identical Content-Length
// repetitions are accepted and differing ones are not, list values of the
// same type are combined and every other repetition is an error.
func (h *Header) Add(f Field) error {
	f.Name = textproto.CanonicalMIMEHeaderKey(f.Name)
	switch f.Name {
	case contentLengthHeader:
		if _, ok := h.index[transferEncodingHeader]; ok {
			return nil
		}
		if old, ok := h.Get(contentLengthHeader); ok {
			if old.String() == f.Value.String() {
				return nil
			}
			return fmt.Errorf("%w: %v and %v", ErrContentLengthMismatch, old, f.Value)
		}
	case transferEncodingHeader:
		h.Del(contentLengthHeader)
	}

	i, ok := h.index[f.Name]
	if !ok {
		h.Set(f.Name, f.Value)
		return nil
	}
	if c, ok := h.fields[i].Value.(combiner); ok {
		if v, ok := c.combine(f.Value); ok {
			h.fields[i].Value = v
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDuplicateField, f.Name)
}

// ContentLength returns the Content-Length value if present.
func (h *Header) ContentLength() (int64, bool) {
	v, ok := h.Get(contentLengthHeader)
	if !ok {
		return 0, false
	}
	cl, ok := v.(ContentLength)
	return int64(cl), ok
}

// TransferEncoding returns the Transfer-Encoding list, nil if absent.
func (h *Header) TransferEncoding() TokenList {
	v, _ := h.Get(transferEncodingHeader)
	te, _ := v.(TokenList)
	return te
}

// Chunked reports whether chunked is the final transfer coding.
func (h *Header) Chunked() bool {
	return strings.EqualFold(h.TransferEncoding().Last(), "chunked")
}

// Connection returns the Connection options, nil if absent.
func (h *Header) Connection() TokenList {
	v, _ := h.Get(connectionHeader)
	c, _ := v.(TokenList)
	return c
}

// WantsClose reports whether the connection ends after this message:
// an explicit close option, or HTTP/1.0 without keep-alive.
func (h *Header) WantsClose() bool {
	conn := h.Connection()
	if conn.Has("close") {
		return true
	}
	return !h.Proto.AtLeast(1, 1) && !conn.Has("keep-alive")
}

// Clone returns a deep copy of the field set.
func (h *Header) Clone() *Header {
	c := *h
	c.fields = append([]Field(nil), h.fields...)
	c.index = make(map[string]int, len(h.index))
	for k, v := range h.index {
		c.index[k] = v
	}
	return &c
}
