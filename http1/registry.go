// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

import (
	"fmt"
	"mime"
	"net/textproto"
	"strconv"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
	"golang.org/x/net/http/httpguts"
)

const (
	contentLengthHeader    = "Content-Length"
	transferEncodingHeader = "Transfer-Encoding"
	connectionHeader       = "Connection"
	contentTypeHeader      = "Content-Type"
	dateHeader             = "Date"
	hostHeader             = "Host"
)

// FieldParser turns the text of a field value into a typed Value.
type FieldParser func(value string) (Value, error)

// Registry maps canonical field names to value parsers. Names without a
// parser are parsed as TextList.
type Registry struct {
	mux     sync.RWMutex
	parsers map[string]FieldParser
}

// DefaultRegistry .
var DefaultRegistry = NewRegistry()

// NewRegistry returns a registry with the built-in field types.
func NewRegistry() *Registry {
	r := &Registry{parsers: map[string]FieldParser{}}
	r.Register(contentLengthHeader, ParseContentLength)
	r.Register(contentTypeHeader, ParseMediaType)
	r.Register(hostHeader, ParseHost)
	for _, name := range []string{
		transferEncodingHeader, connectionHeader, "Trailer", "Te", "Upgrade",
		"Content-Encoding", "Vary", "Allow",
	} {
		r.Register(name, ParseTokenList)
	}
	for _, name := range []string{dateHeader, "Last-Modified", "If-Modified-Since", "If-Unmodified-Since"} {
		r.Register(name, ParseDate)
	}
	for _, name := range []string{
		"Location", "Content-Location", "Server", "User-Agent", "Referer",
		"Authorization", "Etag", "Age", "Expires", "Retry-After",
	} {
		r.Register(name, ParseText)
	}
	r.Register("Set-Cookie", ParseLine)
	return r
}

// Register binds a parser to a field name.
func (r *Registry) Register(name string, parser FieldParser) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.parsers[textproto.CanonicalMIMEHeaderKey(name)] = parser
}

// Parse validates name and value and returns the typed field.
func (r *Registry) Parse(name, value string) (Field, error) {
	if !httpguts.ValidHeaderFieldName(name) {
		return Field{}, fmt.Errorf("%w: %q", ErrInvalidFieldName, name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return Field{}, fmt.Errorf("%w: %s", ErrInvalidFieldValue, name)
	}
	name = textproto.CanonicalMIMEHeaderKey(name)

	r.mux.RLock()
	parser, ok := r.parsers[name]
	r.mux.RUnlock()
	if !ok {
		parser = ParseTextList
	}
	v, err := parser(value)
	if err != nil {
		return Field{}, fmt.Errorf("%s: %w", name, err)
	}
	return Field{Name: name, Value: v}, nil
}

// ParseContentLength .
func ParseContentLength(value string) (Value, error) {
	if value == "" || len(value) > 18 {
		return nil, ErrInvalidContentLength
	}
	for i := 0; i < len(value); i++ {
		if !isNum(value[i]) {
			return nil, ErrInvalidContentLength
		}
	}
	n, err := strconv.ParseInt(value, 10, 63)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContentLength, err)
	}
	return ContentLength(n), nil
}

// ParseTokenList splits a comma separated list, dropping empty elements.
func ParseTokenList(value string) (Value, error) {
	var list TokenList
	for _, s := range strings.Split(value, ",") {
		if s = textproto.TrimString(s); s != "" {
			list = append(list, s)
		}
	}
	return list, nil
}

// ParseMediaType .
func ParseMediaType(value string) (Value, error) {
	typ, params, err := mime.ParseMediaType(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFieldValue, err)
	}
	return MediaType{Type: typ, Params: params}, nil
}

// ParseDate parses an HTTP-date. Unparsable dates are kept as Text, clients
// send all kinds of them and none is worth a 400.
func ParseDate(value string) (Value, error) {
	t, err := fasthttp.ParseHTTPDate([]byte(value))
	if err != nil {
		return Text(value), nil
	}
	return Date(t), nil
}

// ParseHost .
func ParseHost(value string) (Value, error) {
	if !httpguts.ValidHostHeader(value) {
		return nil, fmt.Errorf("%w: host %q", ErrInvalidFieldValue, value)
	}
	return Host(value), nil
}

// ParseText .
func ParseText(value string) (Value, error) {
	return Text(value), nil
}

// ParseTextList .
func ParseTextList(value string) (Value, error) {
	return TextList{value}, nil
}

// ParseLine .
func ParseLine(value string) (Value, error) {
	return LineList{value}, nil
}
