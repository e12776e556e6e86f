// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

// decoder states
const (
	// bottom of the stack, never popped
	stateAwaitMessage int8 = iota

	// reads one CRLF terminated line into Decoder.line, then pops
	stateReceiveLine

	// consumers of a received line
	stateStartLine
	stateHeaderLine
	stateChunkStart
	stateChunkEnd
	stateChunkTrailer

	// body copying, frame.remaining holds the bytes left
	stateCopyLength
	stateCopyUntilClose

	// below the body states; reaching it completes the message
	stateBodyDone
)

// encoder states
const (
	// bottom of the stack while the connection stays usable
	encInitial int8 = iota
	// bottom of the stack once the connection must close
	encClosed

	// start line and fields, frame.remaining indexes the next line
	encHeaders
	// HTTP/1.0 body buffered to compute Content-Length
	encCollect
	// writes the buffered body after the header
	encCollected
	// copies frame.remaining body bytes verbatim
	encCopyLength
	// frames input as chunks, the last chunk on end of input
	encChunked
	// copies the body until end of input, close delimited
	encStream
	// below the body states; reaching it completes the message
	encDone
)

// frame is one entry of a state stack.
type frame struct {
	state     int8
	remaining int64
}

type stack []frame

func (s *stack) push(state int8, remaining int64) {
	*s = append(*s, frame{state: state, remaining: remaining})
}

func (s *stack) pop() {
	if len(*s) <= 1 {
		panic("http1: state stack underflow")
	}
	*s = (*s)[:len(*s)-1]
}

func (s stack) top() *frame {
	return &s[len(s)-1]
}

// replace swaps the top state.
func (s stack) replace(state int8, remaining int64) {
	s[len(s)-1] = frame{state: state, remaining: remaining}
}
