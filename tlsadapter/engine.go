// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tlsadapter

import "strconv"

// Status is the outcome of one Wrap or Unwrap call.
type Status int8

const (
	// StatusOK .
	StatusOK Status = iota
	// StatusBufferUnderflow means src does not hold a complete record.
	StatusBufferUnderflow
	// StatusBufferOverflow means dst is too small for the pending output.
	StatusBufferOverflow
	// StatusClosed means the direction is closed.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBufferUnderflow:
		return "BUFFER_UNDERFLOW"
	case StatusBufferOverflow:
		return "BUFFER_OVERFLOW"
	case StatusClosed:
		return "CLOSED"
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// HandshakeStatus tells the caller what the engine needs next.
type HandshakeStatus int8

const (
	// NotHandshaking .
	NotHandshaking HandshakeStatus = iota
	// Finished is reported once, by the call that saw the handshake complete.
	Finished
	// NeedTask means DelegatedTask returns work that must run before the
	// handshake can go on.
	NeedTask
	// NeedWrap means the engine has handshake output to send.
	NeedWrap
	// NeedUnwrap means the engine waits for data from the peer.
	NeedUnwrap
)

func (s HandshakeStatus) String() string {
	switch s {
	case NotHandshaking:
		return "NOT_HANDSHAKING"
	case Finished:
		return "FINISHED"
	case NeedTask:
		return "NEED_TASK"
	case NeedWrap:
		return "NEED_WRAP"
	case NeedUnwrap:
		return "NEED_UNWRAP"
	}
	return "HandshakeStatus(" + strconv.Itoa(int(s)) + ")"
}

// EngineResult .
type EngineResult struct {
	Status          Status
	HandshakeStatus HandshakeStatus
	Consumed        int
	Produced        int
}

// Task is a delegated handshake step.
type Task func() error

// Session describes the negotiated session.
type Session struct {
	// ApplicationBufferSize is the largest plaintext one record carries.
	ApplicationBufferSize int
	// PacketBufferSize is the largest record on the wire.
	PacketBufferSize int
	// ServerNames holds the SNI host names, in ASCII form.
	ServerNames []string
}

// Engine is a TLS state machine working on byte slices. Unwrap turns
// ciphertext into plaintext, Wrap plaintext into ciphertext.
type Engine interface {
	Unwrap(src, dst []byte) (EngineResult, error)
	Wrap(src, dst []byte) (EngineResult, error)
	DelegatedTask() Task
	HandshakeStatus() HandshakeStatus
	CloseInbound() error
	CloseOutbound()
	IsInboundDone() bool
	IsOutboundDone() bool
	Session() Session
}
