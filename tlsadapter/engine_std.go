// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tlsadapter

import (
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/idna"
)

const (
	recordHeaderLen = 5
	maxPlaintext    = 16384
	// header, plaintext and the largest expansion allowed by RFC 5246
	maxCiphertext = recordHeaderLen + maxPlaintext + 2048
)

var (
	// ErrNoCloseNotify is returned by CloseInbound when the peer did not
	// send close_notify.
	ErrNoCloseNotify = errors.New("tlsadapter: inbound closed before receiving peer's close_notify")

	errPipeClosed = errors.New("tlsadapter: pipe closed")
)

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

// pipe is the transport under the tls.Conn: records fed by Unwrap are read
// from in, records the tls.Conn writes collect in out.
type pipe struct {
	mux  sync.Mutex
	cond *sync.Cond

	in  []byte
	out []byte

	// reader blocked on empty input
	waiting bool
	// reads return io.EOF once in is drained
	inEOF  bool
	closed bool
}

func newPipe() *pipe {
	p := &pipe{}
	p.cond = sync.NewCond(&p.mux)
	return p
}

func (p *pipe) Read(b []byte) (int, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for len(p.in) == 0 && !p.inEOF && !p.closed {
		p.waiting = true
		p.cond.Broadcast()
		p.cond.Wait()
	}
	p.waiting = false
	if p.closed {
		return 0, errPipeClosed
	}
	if len(p.in) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.in)
	p.in = p.in[:copy(p.in, p.in[n:])]
	return n, nil
}

func (p *pipe) Write(b []byte) (int, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.closed {
		return 0, errPipeClosed
	}
	p.out = append(p.out, b...)
	p.cond.Broadcast()
	return len(b), nil
}

func (p *pipe) Close() error {
	p.mux.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mux.Unlock()
	return nil
}

func (p *pipe) LocalAddr() net.Addr                { return pipeAddr{} }
func (p *pipe) RemoteAddr() net.Addr               { return pipeAddr{} }
func (p *pipe) SetDeadline(t time.Time) error      { return nil }
func (p *pipe) SetReadDeadline(t time.Time) error  { return nil }
func (p *pipe) SetWriteDeadline(t time.Time) error { return nil }

// drain moves up to len(dst) bytes from the head of *buf into dst.
func drain(dst []byte, buf *[]byte) int {
	n := copy(dst, *buf)
	*buf = (*buf)[:copy(*buf, (*buf)[n:])]
	return n
}

// recordLen returns the length of the first complete record in b, or 0.
func recordLen(b []byte) int {
	if len(b) < recordHeaderLen {
		return 0
	}
	n := recordHeaderLen + int(binary.BigEndian.Uint16(b[3:5]))
	if n > len(b) {
		return 0
	}
	return n
}

// StdEngine implements Engine with crypto/tls. The tls.Conn runs on an
// in-memory pipe; a pump goroutine drives the handshake and reads records
// as Unwrap feeds them.
type StdEngine struct {
	config *tls.Config
	client bool
	conn   *tls.Conn
	p      *pipe

	// guarded by p.mux
	started          bool
	handshakeDone    bool
	handshakeErr     error
	finishedReported bool
	taskPending      bool
	plain            []byte
	readErr          error
	closeNotify      bool
	pumpDone         bool
	inboundClosed    bool
	outboundClosed   bool
	serverNames      []string
}

// NewServerEngine .
func NewServerEngine(config *tls.Config) *StdEngine {
	return newStdEngine(config, false)
}

// NewClientEngine .
func NewClientEngine(config *tls.Config) *StdEngine {
	return newStdEngine(config, true)
}

func newStdEngine(config *tls.Config, client bool) *StdEngine {
	e := &StdEngine{config: config, client: client, p: newPipe()}
	if client {
		e.conn = tls.Client(e.p, config)
	} else {
		e.conn = tls.Server(e.p, config)
	}
	return e
}

func (e *StdEngine) start() {
	e.p.mux.Lock()
	defer e.p.mux.Unlock()
	if e.started {
		return
	}
	e.started = true
	go e.pump()
}

func (e *StdEngine) pump() {
	err := e.conn.Handshake()
	var names []string
	if err == nil {
		names = e.normalizedServerNames(e.conn.ConnectionState())
	}

	e.p.mux.Lock()
	e.handshakeErr = err
	e.handshakeDone = err == nil
	e.serverNames = names
	e.p.mux.Unlock()

	if err == nil {
		buf := make([]byte, maxPlaintext)
		for {
			n, err := e.conn.Read(buf)
			e.p.mux.Lock()
			e.plain = append(e.plain, buf[:n]...)
			if err != nil {
				if errors.Is(err, io.EOF) {
					e.closeNotify = !e.p.inEOF
				} else if !errors.Is(err, errPipeClosed) {
					e.readErr = err
				}
				e.p.mux.Unlock()
				break
			}
			e.p.mux.Unlock()
		}
	}

	e.p.mux.Lock()
	e.pumpDone = true
	e.p.cond.Broadcast()
	e.p.mux.Unlock()
}

func (e *StdEngine) normalizedServerNames(state tls.ConnectionState) []string {
	name := state.ServerName
	if e.client {
		name = e.config.ServerName
	}
	if name == "" || net.ParseIP(name) != nil {
		return nil
	}
	if ascii, err := idna.Lookup.ToASCII(name); err == nil {
		name = ascii
	}
	return []string{name}
}

// waitIdleLocked waits until the pump has processed all fed input.
func (e *StdEngine) waitIdleLocked() {
	p := e.p
	for !e.pumpDone && !(p.waiting && len(p.in) == 0) {
		p.cond.Wait()
	}
}

func (e *StdEngine) statusLocked() HandshakeStatus {
	switch {
	case !e.started:
		if e.client {
			return NeedWrap
		}
		return NeedUnwrap
	case e.taskPending:
		return NeedTask
	case len(e.p.out) > 0:
		return NeedWrap
	case e.handshakeDone:
		if !e.finishedReported {
			e.finishedReported = true
			return Finished
		}
		return NotHandshaking
	case e.pumpDone:
		return NotHandshaking
	}
	return NeedUnwrap
}

func (e *StdEngine) deliverLocked(dst []byte, res EngineResult) (EngineResult, error) {
	res.Produced = drain(dst, &e.plain)
	switch {
	case res.Produced == 0 && len(e.plain) > 0:
		res.Status = StatusBufferOverflow
	case len(e.plain) == 0 && e.pumpDone:
		res.Status = StatusClosed
	}
	res.HandshakeStatus = e.statusLocked()
	if len(e.plain) == 0 && e.readErr != nil {
		return res, e.readErr
	}
	return res, nil
}

// Unwrap feeds at most one complete record from src.
func (e *StdEngine) Unwrap(src, dst []byte) (EngineResult, error) {
	e.start()

	p := e.p
	p.mux.Lock()
	defer p.mux.Unlock()

	var res EngineResult
	if len(e.plain) > 0 {
		return e.deliverLocked(dst, res)
	}
	if e.pumpDone {
		if e.handshakeErr != nil {
			return res, e.handshakeErr
		}
		return e.deliverLocked(dst, res)
	}
	if e.inboundClosed {
		res.Status = StatusClosed
		res.HandshakeStatus = e.statusLocked()
		return res, nil
	}

	n := recordLen(src)
	if n == 0 {
		res.Status = StatusBufferUnderflow
		res.HandshakeStatus = e.statusLocked()
		return res, nil
	}
	p.in = append(p.in, src[:n]...)
	p.waiting = false
	p.cond.Broadcast()
	res.Consumed = n

	if !e.handshakeDone {
		e.taskPending = true
		res.HandshakeStatus = NeedTask
		return res, nil
	}
	e.waitIdleLocked()
	return e.deliverLocked(dst, res)
}

// DelegatedTask returns the pending handshake step or nil. The task waits for
// the pump to digest the records fed so far.
func (e *StdEngine) DelegatedTask() Task {
	e.p.mux.Lock()
	defer e.p.mux.Unlock()
	if !e.taskPending {
		return nil
	}
	e.taskPending = false
	return func() error {
		e.p.mux.Lock()
		defer e.p.mux.Unlock()
		e.waitIdleLocked()
		return e.handshakeErr
	}
}

// HandshakeStatus .
func (e *StdEngine) HandshakeStatus() HandshakeStatus {
	e.p.mux.Lock()
	defer e.p.mux.Unlock()
	return e.statusLocked()
}

// Wrap drains pending handshake output first, then encrypts at most one
// record of plaintext from src.
func (e *StdEngine) Wrap(src, dst []byte) (EngineResult, error) {
	e.start()

	p := e.p
	p.mux.Lock()
	if !e.handshakeDone {
		e.waitIdleLocked()
	}

	var res EngineResult
	if len(p.out) > 0 {
		res.Produced = drain(dst, &p.out)
		if res.Produced == 0 {
			res.Status = StatusBufferOverflow
		} else if e.outboundClosed && len(p.out) == 0 {
			res.Status = StatusClosed
		}
		res.HandshakeStatus = e.statusLocked()
		p.mux.Unlock()
		return res, nil
	}
	if e.outboundClosed || (e.pumpDone && !e.handshakeDone) {
		res.Status = StatusClosed
		res.HandshakeStatus = e.statusLocked()
		err := e.handshakeErr
		p.mux.Unlock()
		return res, err
	}
	if !e.handshakeDone || len(src) == 0 {
		res.HandshakeStatus = e.statusLocked()
		p.mux.Unlock()
		return res, nil
	}
	p.mux.Unlock()

	n := len(src)
	if n > maxPlaintext {
		n = maxPlaintext
	}
	if _, err := e.conn.Write(src[:n]); err != nil {
		return res, err
	}

	p.mux.Lock()
	defer p.mux.Unlock()
	res.Consumed = n
	res.Produced = drain(dst, &p.out)
	res.HandshakeStatus = e.statusLocked()
	return res, nil
}

// CloseInbound stops reading. It returns ErrNoCloseNotify unless the peer
// closed with close_notify first.
func (e *StdEngine) CloseInbound() error {
	p := e.p
	p.mux.Lock()
	defer p.mux.Unlock()
	if e.inboundClosed {
		return nil
	}
	e.inboundClosed = true
	p.inEOF = true
	p.cond.Broadcast()
	if !e.closeNotify {
		return ErrNoCloseNotify
	}
	return nil
}

// CloseOutbound queues close_notify. Wrap emits it.
func (e *StdEngine) CloseOutbound() {
	e.p.mux.Lock()
	if e.outboundClosed {
		e.p.mux.Unlock()
		return
	}
	e.outboundClosed = true
	handshakeDone := e.handshakeDone
	e.p.mux.Unlock()

	if handshakeDone {
		_ = e.conn.CloseWrite()
	}
}

// IsInboundDone .
func (e *StdEngine) IsInboundDone() bool {
	e.p.mux.Lock()
	defer e.p.mux.Unlock()
	return (e.closeNotify || e.inboundClosed) && len(e.plain) == 0
}

// IsOutboundDone .
func (e *StdEngine) IsOutboundDone() bool {
	e.p.mux.Lock()
	defer e.p.mux.Unlock()
	return e.outboundClosed && len(e.p.out) == 0
}

// Session .
func (e *StdEngine) Session() Session {
	e.p.mux.Lock()
	defer e.p.mux.Unlock()
	return Session{
		ApplicationBufferSize: maxPlaintext,
		PacketBufferSize:      maxCiphertext,
		ServerNames:           append([]string(nil), e.serverNames...),
	}
}

// Close stops the pump goroutine.
func (e *StdEngine) Close() error {
	return e.p.Close()
}
