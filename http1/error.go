// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

import (
	"errors"
	"strconv"
)

var (
	// ErrInvalidCRLF .
	ErrInvalidCRLF = errors.New("invalid cr/lf at the end of line")

	// ErrTooLong .
	ErrTooLong = errors.New("header section too long")

	// ErrInvalidStartLine .
	ErrInvalidStartLine = errors.New("invalid start line")

	// ErrInvalidHTTPVersion .
	ErrInvalidHTTPVersion = errors.New("invalid HTTP version")

	// ErrInvalidMethod .
	ErrInvalidMethod = errors.New("invalid HTTP method")

	// ErrInvalidRequestURI .
	ErrInvalidRequestURI = errors.New("invalid request target")

	// ErrInvalidHTTPStatusCode .
	ErrInvalidHTTPStatusCode = errors.New("invalid HTTP status code")

	// ErrInvalidHeaderLine .
	ErrInvalidHeaderLine = errors.New("invalid header line")

	// ErrInvalidFieldName .
	ErrInvalidFieldName = errors.New("invalid header field name")

	// ErrInvalidFieldValue .
	ErrInvalidFieldValue = errors.New("invalid header field value")

	// ErrDuplicateField .
	ErrDuplicateField = errors.New("duplicate header field")

	// ErrInvalidContentLength .
	ErrInvalidContentLength = errors.New("invalid Content-Length")

	// ErrContentLengthMismatch .
	ErrContentLengthMismatch = errors.New("conflicting Content-Length values")

	// ErrUnsupportedTransferEncoding .
	ErrUnsupportedTransferEncoding = errors.New("unsupported transfer encoding")

	// ErrInvalidChunkSize .
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidChunkEnd .
	ErrInvalidChunkEnd = errors.New("chunk data not followed by CRLF")

	// ErrUnexpectedEOF .
	ErrUnexpectedEOF = errors.New("input ended inside a message")
)

var (
	// ErrEncoderBusy .
	ErrEncoderBusy = errors.New("encoder is busy with a message")

	// ErrEncoderClosed .
	ErrEncoderClosed = errors.New("encoder closed the connection")

	// ErrNoMessage .
	ErrNoMessage = errors.New("no message primed")

	// ErrBodyLength .
	ErrBodyLength = errors.New("body length does not match Content-Length")
)

// ProtocolError is a fatal decoding error. StatusCode and Proto are meant
// for the error response the caller may send before closing.
type ProtocolError struct {
	StatusCode int
	Proto      Version
	Err        error
}

// Error .
func (e *ProtocolError) Error() string {
	return "http1: protocol error (" + strconv.Itoa(e.StatusCode) + ", " + e.Proto.String() + "): " + e.Err.Error()
}

// Unwrap .
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrTooLong):
		return 431
	case errors.Is(err, ErrUnsupportedTransferEncoding):
		return 501
	}
	return 400
}
