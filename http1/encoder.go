// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// chunk-size hex digits plus two CRLFs for a chunk of up to 0xFFFFFFFF bytes
const chunkReserve = 12

const maxChunkSize uint64 = 0xFFFFFFFF

// Encoder writes one HTTP/1.x message at a time. Prime sets up a message and
// Encode writes its header and body into the caller's output buffers.
type Encoder struct {
	conf         Config
	pendingLimit int

	states stack
	header *Header
	lines  []string

	staged    []byte
	stagedOff int

	// header fully staged, reported once flushed
	headerStaged bool

	pending    []byte
	closeAfter bool

	latin1 *encoding.Encoder
}

// NewEncoder .
func NewEncoder(conf Config) *Encoder {
	conf = conf.withDefaults()
	e := &Encoder{
		conf:         conf,
		pendingLimit: conf.PendingLimit,
		latin1:       encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()),
	}
	e.Reset()
	return e
}

// SetPendingLimit sets how many body bytes of an HTTP/1.0 message without
// Content-Length are buffered to compute one. 0 disables buffering.
func (e *Encoder) SetPendingLimit(n int) {
	if n < 0 {
		n = 0
	}
	e.pendingLimit = n
}

// Reset drops the message in progress and reopens a closed encoder.
func (e *Encoder) Reset() {
	e.states = append(e.states[:0], frame{state: encInitial})
	e.header = nil
	e.lines = nil
	e.staged = e.staged[:0]
	e.stagedOff = 0
	e.headerStaged = false
	e.pending = e.pending[:0]
	e.closeAfter = false
}

// Header returns the header of the primed message as it is emitted,
// including fields added by Prime.
func (e *Encoder) Header() *Header {
	return e.header
}

// Prime starts a message. The header is copied; Date, a default charset and
// the framing fields are added to the copy. A response without payload whose
// status allows a body gets Content-Length: 0 unless it carries a
// Content-Length or Transfer-Encoding already.
func (e *Encoder) Prime(h *Header) error {
	if e.states[0].state == encClosed {
		return ErrEncoderClosed
	}
	if len(e.states) > 1 {
		return ErrEncoderBusy
	}

	h = h.Clone()
	if _, ok := h.Get(dateHeader); !ok {
		h.Set(dateHeader, Date(e.conf.Now().UTC()))
	}
	if v, ok := h.Get(contentTypeHeader); ok {
		if mt, ok := v.(MediaType); ok && mt.Charset() == "" && strings.HasPrefix(mt.Type, "text/") {
			h.Set(contentTypeHeader, mt.WithParam("charset", "utf-8"))
		}
	}
	e.header = h
	e.closeAfter = h.WantsClose()
	e.pending = e.pending[:0]
	e.headerStaged = false

	e.states.push(encDone, 0)
	if !h.HasPayload {
		if bodyAllowed(h) && len(h.TransferEncoding()) == 0 {
			if _, ok := h.ContentLength(); !ok {
				h.Set(contentLengthHeader, ContentLength(0))
			}
		}
		e.pushHeaders()
		return nil
	}

	if h.Chunked() {
		e.states.push(encChunked, 0)
		e.pushHeaders()
		return nil
	}
	if cl, ok := h.ContentLength(); ok {
		if cl > 0 {
			e.states.push(encCopyLength, cl)
		}
		e.pushHeaders()
		return nil
	}
	if h.Proto.AtLeast(1, 1) {
		te := append(TokenList(nil), h.TransferEncoding()...)
		h.Set(transferEncodingHeader, append(te, "chunked"))
		e.states.push(encChunked, 0)
		e.pushHeaders()
		return nil
	}
	if e.pendingLimit == 0 {
		e.forceClose()
		e.states.push(encStream, 0)
		e.pushHeaders()
		return nil
	}
	e.states.push(encCollect, 0)
	return nil
}

// bodyAllowed reports whether a receiver looks for a body after h. A
// response without framing fields would otherwise be read until close.
// Responses to HEAD keep an explicit Content-Length set by the caller.
func bodyAllowed(h *Header) bool {
	if h.IsRequest() {
		return false
	}
	code := h.StatusCode
	return code/100 != 1 && code != 204 && code != 304
}

func (e *Encoder) forceClose() {
	e.closeAfter = true
	if !e.header.Connection().Has("close") {
		e.header.Set(connectionHeader, TokenList{"close"})
	}
}

// pushHeaders renders the header lines and schedules their emission.
func (e *Encoder) pushHeaders() {
	h := e.header
	lines := append(e.lines[:0], h.StartLine())
	for _, f := range h.Fields() {
		if ml, ok := f.Value.(multiLine); ok {
			for _, l := range ml.lines() {
				lines = append(lines, f.Name+": "+l)
			}
			continue
		}
		lines = append(lines, f.Name+": "+f.Value.String())
	}
	e.lines = lines
	e.states.push(encHeaders, 0)
}

func (e *Encoder) stage(s string) {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if !ascii {
		if b, err := e.latin1.Bytes([]byte(s)); err == nil {
			e.staged = append(e.staged, b...)
			return
		}
	}
	e.staged = append(e.staged, s...)
}

// Encode writes the primed message to out, taking body bytes from in.
// endOfInput marks the end of the body.
func (e *Encoder) Encode(in, out []byte, endOfInput bool) (res Result, err error) {
	for {
		if e.stagedOff < len(e.staged) {
			n := copy(out[res.Produced:], e.staged[e.stagedOff:])
			res.Produced += n
			e.stagedOff += n
			if e.stagedOff < len(e.staged) {
				res.Overflow = true
				return res, nil
			}
			e.staged = e.staged[:0]
			e.stagedOff = 0
		}
		if e.headerStaged {
			e.headerStaged = false
			res.HeaderCompleted = true
		}

		top := e.states.top()
		switch top.state {
		case encInitial:
			return res, ErrNoMessage

		case encClosed:
			return res, ErrEncoderClosed

		case encHeaders:
			i := int(top.remaining)
			if i < len(e.lines) {
				e.stage(e.lines[i])
				e.staged = append(e.staged, '\r', '\n')
				top.remaining++
				continue
			}
			e.staged = append(e.staged, '\r', '\n')
			e.headerStaged = true
			e.states.pop()

		case encCollect:
			avail := len(in) - res.Consumed
			if len(e.pending)+avail > e.pendingLimit {
				e.forceClose()
				e.states.replace(encStream, 0)
				e.states.push(encCollected, 0)
				e.pushHeaders()
				continue
			}
			e.pending = append(e.pending, in[res.Consumed:]...)
			res.Consumed = len(in)
			if !endOfInput {
				res.Underflow = true
				return res, nil
			}
			e.header.Set(contentLengthHeader, ContentLength(len(e.pending)))
			e.states.replace(encCollected, 0)
			e.pushHeaders()

		case encCollected:
			off := int(top.remaining)
			if off == len(e.pending) {
				e.pending = e.pending[:0]
				e.states.pop()
				continue
			}
			if res.Produced == len(out) {
				res.Overflow = true
				return res, nil
			}
			n := copy(out[res.Produced:], e.pending[off:])
			res.Produced += n
			top.remaining += int64(n)

		case encCopyLength:
			avail := len(in) - res.Consumed
			if top.remaining == 0 {
				if avail > 0 {
					return res, ErrBodyLength
				}
				e.states.pop()
				continue
			}
			if avail == 0 {
				if endOfInput {
					return res, ErrBodyLength
				}
				res.Underflow = true
				return res, nil
			}
			room := len(out) - res.Produced
			if room == 0 {
				res.Overflow = true
				return res, nil
			}
			n := avail
			if room < n {
				n = room
			}
			if top.remaining < int64(n) {
				n = int(top.remaining)
			}
			copy(out[res.Produced:], in[res.Consumed:res.Consumed+n])
			res.Consumed += n
			res.Produced += n
			top.remaining -= int64(n)

		case encChunked:
			avail := len(in) - res.Consumed
			if avail == 0 {
				if endOfInput {
					e.staged = append(e.staged, "0\r\n\r\n"...)
					e.states.pop()
					continue
				}
				res.Underflow = true
				return res, nil
			}
			room := len(out) - res.Produced
			if room == 0 {
				res.Overflow = true
				return res, nil
			}
			if room > chunkReserve {
				n := avail
				if n > room-chunkReserve {
					n = room - chunkReserve
				}
				if size := uint64(n); size > maxChunkSize {
					n -= int(size - maxChunkSize)
				}
				b := appendChunk(out[:res.Produced], in[res.Consumed:res.Consumed+n])
				res.Consumed += n
				res.Produced = len(b)
				continue
			}
			// too little room for a useful chunk, go through staging
			n := avail
			if n > chunkReserve+1 {
				n = chunkReserve + 1
			}
			e.staged = appendChunk(e.staged, in[res.Consumed:res.Consumed+n])
			res.Consumed += n

		case encStream:
			avail := len(in) - res.Consumed
			if avail == 0 {
				if endOfInput {
					e.states.pop()
					continue
				}
				res.Underflow = true
				return res, nil
			}
			if res.Produced == len(out) {
				res.Overflow = true
				return res, nil
			}
			n := copy(out[res.Produced:], in[res.Consumed:])
			res.Consumed += n
			res.Produced += n

		case encDone:
			e.states.pop()
			if e.closeAfter {
				e.states[0].state = encClosed
				res.CloseConnection = true
			}
			res.MessageCompleted = true
			return res, nil

		default:
			panic("http1: invalid encoder state " + strconv.Itoa(int(top.state)))
		}
	}
}

func appendChunk(b, data []byte) []byte {
	b = strconv.AppendUint(b, uint64(len(data)), 16)
	b = append(b, '\r', '\n')
	b = append(b, data...)
	return append(b, '\r', '\n')
}
