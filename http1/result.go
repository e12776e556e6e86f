// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

// Result describes one Decode or Encode call.
//
// Consumed input bytes must not be offered again; the caller passes
// in[Consumed:] (plus any new bytes) to the next call. Produced is the number
// of bytes written to the front of out.
type Result struct {
	Consumed int
	Produced int

	// HeaderCompleted is set by the call that finished a header section.
	HeaderCompleted bool
	// MessageCompleted is set by the call that finished a message. The call
	// returns at the message boundary.
	MessageCompleted bool

	// Overflow: out is full; call again with fresh output space.
	Overflow bool
	// Underflow: all input used; call again with more input.
	Underflow bool

	// CloseConnection: the connection must be closed once the current
	// message has been handled.
	CloseConnection bool
}
