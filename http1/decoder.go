// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// BodyMode is how the end of a message body is found.
type BodyMode int8

const (
	// NoBody .
	NoBody BodyMode = iota
	// BodyLength is Content-Length framing.
	BodyLength
	// BodyChunked is chunked transfer coding.
	BodyChunked
	// BodyUntilClose ends the body when the connection closes.
	BodyUntilClose
)

func (m BodyMode) String() string {
	switch m {
	case NoBody:
		return "no-body"
	case BodyLength:
		return "content-length"
	case BodyChunked:
		return "chunked"
	case BodyUntilClose:
		return "until-close"
	}
	return "BodyMode(" + strconv.Itoa(int(m)) + ")"
}

// Decoder parses a stream of HTTP/1.x requests or responses.
//
// Decode is called with whatever input is available; the decoder keeps its
// position in an explicit state stack, so input may be split anywhere.
// Body bytes are written to the output buffer passed to Decode.
type Decoder struct {
	conf     Config
	response bool

	states stack
	acc    accumulator
	cr     bool
	line   string

	inHeader    bool
	headerBytes int

	building   *Header
	pending    string
	hasPending bool

	header     *Header
	mode       BodyMode
	closeAfter bool
	proto      Version

	// method of the request the next response answers
	method string

	err error
}

// NewRequestDecoder .
func NewRequestDecoder(conf Config) *Decoder {
	return newDecoder(conf, false)
}

// NewResponseDecoder .
func NewResponseDecoder(conf Config) *Decoder {
	return newDecoder(conf, true)
}

func newDecoder(conf Config, response bool) *Decoder {
	d := &Decoder{conf: conf.withDefaults(), response: response}
	d.Reset()
	return d
}

// Reset drops any message in progress and a previous error.
func (d *Decoder) Reset() {
	d.states = append(d.states[:0], frame{state: stateAwaitMessage})
	d.acc.reset()
	d.cr = false
	d.line = ""
	d.inHeader = false
	d.headerBytes = 0
	d.building = nil
	d.pending = ""
	d.hasPending = false
	d.header = nil
	d.mode = NoBody
	d.closeAfter = false
	d.proto = HTTP11
	d.err = nil
}

// Header returns the most recently completed header. It is nil until a
// header section has been decoded and again once the next message starts.
func (d *Decoder) Header() *Header {
	return d.header
}

// BodyMode returns the framing of the current message body.
func (d *Decoder) BodyMode() BodyMode {
	return d.mode
}

// ExpectResponseTo records the method of the request whose response is
// decoded next. Responses to HEAD have no body.
func (d *Decoder) ExpectResponseTo(method string) {
	d.method = method
}

func (d *Decoder) fail(err error) error {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		pe = &ProtocolError{StatusCode: statusFor(err), Proto: d.proto, Err: err}
	}
	d.err = pe
	return pe
}

// Decode consumes input from in and writes body bytes to out. endOfInput
// reports that no input follows in: it ends close-delimited bodies and makes
// an incomplete message an error.
func (d *Decoder) Decode(in, out []byte, endOfInput bool) (res Result, err error) {
	if d.err != nil {
		return res, d.err
	}

	for {
		top := d.states.top()
		switch top.state {
		case stateAwaitMessage:
			if res.Consumed == len(in) {
				if endOfInput {
					res.CloseConnection = true
				} else {
					res.Underflow = true
				}
				return res, nil
			}
			d.inHeader = true
			d.headerBytes = 0
			d.states.push(stateStartLine, 0)
			d.states.push(stateReceiveLine, 0)

		case stateReceiveLine:
			done, err := d.receiveLine(in, &res)
			if err != nil {
				return res, d.fail(err)
			}
			if !done {
				if endOfInput {
					if d.idleAtEOF() {
						d.states = d.states[:1]
						res.CloseConnection = true
						return res, nil
					}
					return res, d.fail(ErrUnexpectedEOF)
				}
				res.Underflow = true
				return res, nil
			}
			d.states.pop()

		case stateStartLine:
			if d.line == "" {
				// stray CRLF between messages
				d.states.pop()
				continue
			}
			h, err := d.parseStartLine(d.line)
			if err != nil {
				return res, d.fail(err)
			}
			d.header = nil
			d.building = h
			d.proto = h.Proto
			d.states.replace(stateHeaderLine, 0)
			d.states.push(stateReceiveLine, 0)

		case stateHeaderLine:
			line := d.line
			if line == "" {
				if err := d.evaluatePending(); err != nil {
					return res, d.fail(err)
				}
				d.states.pop()
				if err := d.headerDone(&res); err != nil {
					return res, d.fail(err)
				}
				if d.mode == NoBody {
					d.completeMessage(&res)
					return res, nil
				}
				continue
			}
			if isOWS(line[0]) {
				if !d.hasPending {
					return res, d.fail(fmt.Errorf("%w: continuation without field", ErrInvalidHeaderLine))
				}
				d.pending += " " + strings.Trim(line, " \t")
			} else {
				if err := d.evaluatePending(); err != nil {
					return res, d.fail(err)
				}
				d.pending = line
				d.hasPending = true
			}
			d.states.push(stateReceiveLine, 0)

		case stateChunkStart:
			size, err := parseChunkSize(d.line)
			if err != nil {
				return res, d.fail(err)
			}
			if size == 0 {
				d.states.replace(stateChunkTrailer, 0)
				d.states.push(stateReceiveLine, 0)
				continue
			}
			d.states.replace(stateChunkEnd, 0)
			d.states.push(stateReceiveLine, 0)
			d.states.push(stateCopyLength, size)

		case stateChunkEnd:
			if d.line != "" {
				return res, d.fail(ErrInvalidChunkEnd)
			}
			d.states.replace(stateChunkStart, 0)
			d.states.push(stateReceiveLine, 0)

		case stateChunkTrailer:
			if d.line == "" {
				d.states.pop()
				continue
			}
			// trailer fields are discarded
			d.states.push(stateReceiveLine, 0)

		case stateCopyLength:
			if top.remaining == 0 {
				d.states.pop()
				continue
			}
			avail := len(in) - res.Consumed
			if avail == 0 {
				if endOfInput {
					return res, d.fail(ErrUnexpectedEOF)
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

		case stateCopyUntilClose:
			avail := len(in) - res.Consumed
			if avail == 0 {
				if endOfInput {
					d.closeAfter = true
					d.states.pop()
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
			n := copy(out[res.Produced:], in[res.Consumed:])
			res.Consumed += n
			res.Produced += n

		case stateBodyDone:
			d.states.pop()
			d.completeMessage(&res)
			return res, nil

		default:
			panic("http1: invalid decoder state " + strconv.Itoa(int(top.state)))
		}
	}
}

// receiveLine accumulates input up to CRLF. It returns true with d.line set
// once a full line has been read.
func (d *Decoder) receiveLine(in []byte, res *Result) (bool, error) {
	limit := d.conf.MaxHeaderLength
	for res.Consumed < len(in) {
		if d.cr {
			if in[res.Consumed] != '\n' {
				return false, ErrInvalidCRLF
			}
			res.Consumed++
			d.cr = false
			if d.inHeader {
				d.headerBytes += 2
				if d.headerBytes > limit {
					return false, ErrTooLong
				}
			}
			d.line = d.acc.latin1()
			d.acc.reset()
			return true, nil
		}

		rest := in[res.Consumed:]
		end := bytes.IndexByte(rest, '\r')
		chunk := rest
		if end >= 0 {
			chunk = rest[:end]
		}
		if bytes.IndexByte(chunk, '\n') >= 0 {
			return false, ErrInvalidCRLF
		}
		if d.acc.len()+len(chunk) > limit {
			return false, fmt.Errorf("%w: line exceeds %d bytes", ErrTooLong, limit)
		}
		if d.inHeader {
			d.headerBytes += len(chunk)
			if d.headerBytes > limit {
				return false, fmt.Errorf("%w: header section exceeds %d bytes", ErrTooLong, limit)
			}
		}
		d.acc.appendBytes(chunk)
		res.Consumed += len(chunk)
		if end >= 0 {
			d.cr = true
			res.Consumed++
		}
	}
	return false, nil
}

// idleAtEOF reports whether input ended between messages.
func (d *Decoder) idleAtEOF() bool {
	return len(d.states) == 3 && d.states[1].state == stateStartLine && d.acc.len() == 0 && !d.cr
}

func (d *Decoder) parseStartLine(line string) (*Header, error) {
	if d.response {
		return parseStatusLine(line)
	}
	return parseRequestLine(line)
}

func parseRequestLine(line string) (*Header, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStartLine, line)
	}
	method, target, proto := parts[0], parts[1], parts[2]
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	if target == "" {
		return nil, ErrInvalidRequestURI
	}
	for i := 0; i < len(target); i++ {
		if !isTargetChar(target[i]) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRequestURI, target)
		}
	}
	v, err := ParseVersion(proto)
	if err != nil {
		return nil, err
	}
	return NewRequest(method, target, v), nil
}

func parseStatusLine(line string) (*Header, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStartLine, line)
	}
	v, err := ParseVersion(parts[0])
	if err != nil {
		return nil, err
	}
	code := parts[1]
	if len(code) != 3 || !isNum(code[0]) || !isNum(code[1]) || !isNum(code[2]) || code[0] == '0' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHTTPStatusCode, code)
	}
	status, _ := strconv.Atoi(code)
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return NewResponse(status, reason, v), nil
}

func (d *Decoder) evaluatePending() error {
	if !d.hasPending {
		return nil
	}
	line := d.pending
	d.pending = ""
	d.hasPending = false

	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidHeaderLine, line)
	}
	f, err := d.conf.Registry.Parse(line[:colon], strings.Trim(line[colon+1:], " \t"))
	if err != nil {
		return err
	}
	return d.building.Add(f)
}

// headerDone hands over the built header and pushes the body states.
func (d *Decoder) headerDone(res *Result) error {
	h := d.building
	d.building = nil
	d.inHeader = false

	mode, length, err := d.bodyMode(h)
	if err != nil {
		return err
	}
	d.mode = mode
	h.HasPayload = mode != NoBody
	d.header = h
	d.closeAfter = h.WantsClose()
	res.HeaderCompleted = true

	switch mode {
	case BodyLength:
		d.states.push(stateBodyDone, 0)
		d.states.push(stateCopyLength, length)
	case BodyChunked:
		d.states.push(stateBodyDone, 0)
		d.states.push(stateChunkStart, 0)
		d.states.push(stateReceiveLine, 0)
	case BodyUntilClose:
		d.closeAfter = true
		d.states.push(stateBodyDone, 0)
		d.states.push(stateCopyUntilClose, 0)
	}
	return nil
}

// bodyMode decides the framing following RFC 7230 section 3.3.3.
func (d *Decoder) bodyMode(h *Header) (BodyMode, int64, error) {
	if d.response {
		code := h.StatusCode
		if code/100 == 1 || code == 204 || code == 304 || strings.EqualFold(d.method, "HEAD") {
			return NoBody, 0, nil
		}
	}
	if te := h.TransferEncoding(); len(te) > 0 {
		if strings.EqualFold(te.Last(), "chunked") {
			return BodyChunked, 0, nil
		}
		if !d.response {
			return NoBody, 0, fmt.Errorf("%w: %v", ErrUnsupportedTransferEncoding, te)
		}
		return BodyUntilClose, 0, nil
	}
	if cl, ok := h.ContentLength(); ok {
		if cl == 0 {
			return NoBody, 0, nil
		}
		return BodyLength, cl, nil
	}
	if !d.response {
		return NoBody, 0, nil
	}
	return BodyUntilClose, 0, nil
}

func (d *Decoder) completeMessage(res *Result) {
	res.MessageCompleted = true
	if d.closeAfter {
		res.CloseConnection = true
	}
	if d.response && d.header != nil && d.header.StatusCode/100 != 1 {
		d.method = ""
	}
	d.closeAfter = false
}

// parseChunkSize parses a chunk-size line, ignoring extensions.
func parseChunkSize(line string) (int64, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimRight(line, " \t")
	if line == "" || len(line) > 15 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChunkSize, line)
	}
	var size int64
	for i := 0; i < len(line); i++ {
		c := line[i]
		if !isHex(c) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidChunkSize, line)
		}
		size = size<<4 | int64(hexValueMap[c])
	}
	return size, nil
}
