// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package tlsadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/lesismal/nbcodec/logging"
	"github.com/lesismal/nbcodec/mempool"
	"github.com/lesismal/nbcodec/taskpool"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrTaskFailed wraps the error of a delegated handshake task.
	ErrTaskFailed = errors.New("tlsadapter: delegated task failed")

	// ErrClosed is returned by FeedPlaintext after Close.
	ErrClosed = errors.New("tlsadapter: adapter closed")
)

// Upstream receives ciphertext for the transport. The receiver owns buf and
// must Release it.
type Upstream interface {
	OnCiphertext(buf *mempool.Buffer, endOfRecord bool) error
	OnClose()
}

// Downstream receives decrypted application data. The receiver owns buf and
// must Release it.
type Downstream interface {
	OnPlaintext(buf *mempool.Buffer, endOfRecord bool) error
	OnAccepted(serverNames []string)
}

// Config .
type Config struct {
	// Pool provides plaintext and ciphertext buffers, mempool.DefaultPool if
	// nil.
	Pool *mempool.Pool
	// Executor runs delegated tasks. Tasks run on the calling goroutine if
	// nil.
	Executor *taskpool.TaskPool
	// Logger defaults to logging.DefaultLogger.
	Logger logging.Logger
	// Name prefixes log lines, a new ULID if empty.
	Name string
}

// Adapter connects a TLS Engine to a byte transport. Ciphertext from the
// transport goes in through FeedCiphertext and comes out as plaintext on the
// Downstream; plaintext goes in through FeedPlaintext and comes out as
// ciphertext on the Upstream.
type Adapter struct {
	engine Engine
	up     Upstream
	down   Downstream
	pool   *mempool.Pool
	exec   *taskpool.TaskPool
	logger logging.Logger
	name   string

	// FeedCiphertext is not reentrant
	readMu sync.Mutex
	carry  []byte
	plain  *mempool.Buffer

	// serializes wrap-and-forward sequences
	wrapMu sync.Mutex

	roundMu sync.Mutex
	round   chan struct{}

	acceptOnce sync.Once
	closeOnce  sync.Once
	closed     int32
}

// New .
func New(engine Engine, up Upstream, down Downstream, conf Config) *Adapter {
	a := &Adapter{
		engine: engine,
		up:     up,
		down:   down,
		pool:   conf.Pool,
		exec:   conf.Executor,
		name:   conf.Name,
		round:  make(chan struct{}),
	}
	if a.pool == nil {
		a.pool = mempool.DefaultPool
	}
	if a.name == "" {
		a.name = ulid.Make().String()
	}
	a.logger = logging.Named(conf.Logger, a.name)
	return a
}

// Name .
func (a *Adapter) Name() string {
	return a.name
}

// signalRound wakes writers waiting for an unwrap round.
func (a *Adapter) signalRound() {
	a.roundMu.Lock()
	close(a.round)
	a.round = make(chan struct{})
	a.roundMu.Unlock()
}

func (a *Adapter) currentRound() <-chan struct{} {
	a.roundMu.Lock()
	defer a.roundMu.Unlock()
	return a.round
}

func (a *Adapter) accept() {
	a.acceptOnce.Do(func() {
		names := a.engine.Session().ServerNames
		a.logger.Debug("handshake finished, server names: %v", names)
		a.down.OnAccepted(names)
	})
}

func (a *Adapter) runTasks() error {
	for task := a.engine.DelegatedTask(); task != nil; task = a.engine.DelegatedTask() {
		var err error
		if a.exec != nil {
			err = a.exec.Call(task)
		} else {
			err = task()
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTaskFailed, err)
		}
	}
	return nil
}

// Begin starts the handshake of a client engine. Server engines wait for
// the peer and need no call.
func (a *Adapter) Begin() error {
	if a.engine.HandshakeStatus() != NeedWrap {
		return nil
	}
	_, err := a.wrapHandshake()
	return err
}

// handshake runs tasks and handshake wraps until the engine waits for the
// peer or is done.
func (a *Adapter) handshake(hs HandshakeStatus) error {
	var err error
	for {
		switch hs {
		case NeedTask:
			if err = a.runTasks(); err != nil {
				return err
			}
			hs = a.engine.HandshakeStatus()
		case NeedWrap:
			if hs, err = a.wrapHandshake(); err != nil {
				return err
			}
		case Finished:
			a.accept()
			return nil
		default:
			return nil
		}
	}
}

// wrapHandshake sends the engine's pending handshake output upstream.
func (a *Adapter) wrapHandshake() (HandshakeStatus, error) {
	a.wrapMu.Lock()
	defer a.wrapMu.Unlock()

	size := a.engine.Session().PacketBufferSize
	for {
		buf, err := a.pool.Acquire(context.Background(), size)
		if err != nil {
			return NotHandshaking, err
		}
		res, err := a.engine.Wrap(nil, buf.Space())
		if err != nil {
			buf.Release()
			return NotHandshaking, fmt.Errorf("tlsadapter: wrap: %w", err)
		}
		buf.Advance(res.Produced)
		if res.Produced > 0 {
			eor := res.Status == StatusClosed || res.HandshakeStatus != NeedWrap
			if err = a.up.OnCiphertext(buf, eor); err != nil {
				return NotHandshaking, err
			}
		} else {
			buf.Release()
		}
		if res.Status == StatusClosed || res.HandshakeStatus != NeedWrap {
			return res.HandshakeStatus, nil
		}
		if res.Status == StatusBufferOverflow {
			size *= 2
		}
	}
}

func (a *Adapter) plainBuffer(size int) (*mempool.Buffer, error) {
	if a.plain != nil && a.plain.Cap() >= size {
		return a.plain, nil
	}
	if a.plain != nil {
		a.plain.Release()
		a.plain = nil
	}
	buf, err := a.pool.Acquire(context.Background(), size)
	if err != nil {
		return nil, err
	}
	a.plain = buf
	return buf, nil
}

// FeedCiphertext processes bytes read from the transport. Bytes of an
// incomplete record are kept and prefixed to the next call. After Close the
// input is discarded.
func (a *Adapter) FeedCiphertext(in []byte) error {
	a.readMu.Lock()
	defer a.readMu.Unlock()

	if atomic.LoadInt32(&a.closed) == 1 {
		a.logger.Debug("closed, %d bytes of ciphertext discarded", len(in))
		return nil
	}

	data := in
	if len(a.carry) > 0 {
		a.carry = append(a.carry, in...)
		data = a.carry
	}

	size := a.engine.Session().ApplicationBufferSize
	for {
		buf, err := a.plainBuffer(size)
		if err != nil {
			return err
		}
		res, err := a.engine.Unwrap(data, buf.Space())
		a.signalRound()
		if err != nil {
			return fmt.Errorf("tlsadapter: unwrap: %w", err)
		}
		data = data[res.Consumed:]

		if res.Produced > 0 {
			buf.Advance(res.Produced)
			a.plain = nil
			if err = a.down.OnPlaintext(buf, a.engine.IsInboundDone()); err != nil {
				return err
			}
		}

		if err = a.handshake(res.HandshakeStatus); err != nil {
			return err
		}

		switch res.Status {
		case StatusBufferUnderflow:
			a.keep(data)
			return nil
		case StatusBufferOverflow:
			size *= 2
			continue
		case StatusClosed:
			if len(data) > 0 {
				a.logger.Debug("%d bytes after close discarded", len(data))
			}
			a.keep(nil)
			return nil
		}
		if len(data) == 0 && res.Produced == 0 && res.HandshakeStatus != NeedTask {
			a.keep(nil)
			return nil
		}
	}
}

// keep stores rest as the carry-over for the next FeedCiphertext.
func (a *Adapter) keep(rest []byte) {
	if len(rest) == 0 {
		a.carry = a.carry[:0]
		return
	}
	if len(a.carry) > 0 && &rest[0] == &a.carry[0] {
		// nothing consumed
		a.carry = a.carry[:len(rest)]
		return
	}
	need := len(rest) + a.engine.Session().PacketBufferSize
	if cap(a.carry) < need {
		a.carry = append(make([]byte, 0, need), rest...)
		return
	}
	a.carry = append(a.carry[:0], rest...)
}

// FeedPlaintext encrypts in and sends it upstream. While the handshake waits
// for the peer it blocks until the next unwrap round or until ctx is done.
func (a *Adapter) FeedPlaintext(ctx context.Context, in []byte, endOfRecord bool) error {
	if atomic.LoadInt32(&a.closed) == 1 {
		return ErrClosed
	}
	size := a.engine.Session().PacketBufferSize
	for {
		a.wrapMu.Lock()
		round := a.currentRound()
		buf, err := a.pool.Acquire(ctx, size)
		if err != nil {
			a.wrapMu.Unlock()
			return err
		}
		res, err := a.engine.Wrap(in, buf.Space())
		if err != nil {
			a.wrapMu.Unlock()
			buf.Release()
			return fmt.Errorf("tlsadapter: wrap: %w", err)
		}
		in = in[res.Consumed:]
		buf.Advance(res.Produced)
		if res.Produced > 0 {
			last := endOfRecord && len(in) == 0 && res.HandshakeStatus != NeedWrap
			eor := last || res.Status == StatusClosed || a.engine.IsOutboundDone()
			if err = a.up.OnCiphertext(buf, eor); err != nil {
				a.wrapMu.Unlock()
				return err
			}
		} else {
			buf.Release()
		}
		a.wrapMu.Unlock()

		switch res.HandshakeStatus {
		case Finished:
			a.accept()
		case NeedTask:
			if err = a.runTasks(); err != nil {
				return err
			}
			continue
		case NeedUnwrap:
			if res.Consumed == 0 && res.Produced == 0 {
				select {
				case <-round:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}

		switch res.Status {
		case StatusClosed:
			if len(in) > 0 {
				a.logger.Warn("engine closed, %d bytes of plaintext discarded", len(in))
			}
			return nil
		case StatusBufferOverflow:
			size *= 2
			continue
		}
		if len(in) == 0 && res.Produced == 0 {
			return nil
		}
	}
}

// Close sends close_notify, closes the upstream and then the engine if it is
// an io.Closer. Ciphertext fed after Close is discarded.
func (a *Adapter) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		atomic.StoreInt32(&a.closed, 1)
		a.engine.CloseOutbound()
		err = a.flushClose(ctx)
		a.readMu.Lock()
		if a.plain != nil {
			a.plain.Release()
			a.plain = nil
		}
		a.readMu.Unlock()
		a.up.OnClose()
		if c, ok := a.engine.(io.Closer); ok {
			if cerr := c.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

func (a *Adapter) flushClose(ctx context.Context) error {
	a.wrapMu.Lock()
	defer a.wrapMu.Unlock()

	size := a.engine.Session().PacketBufferSize
	for !a.engine.IsOutboundDone() {
		buf, err := a.pool.Acquire(ctx, size)
		if err != nil {
			return err
		}
		res, err := a.engine.Wrap(nil, buf.Space())
		if err != nil {
			buf.Release()
			return fmt.Errorf("tlsadapter: wrap: %w", err)
		}
		if res.Produced == 0 {
			buf.Release()
			if res.Status == StatusBufferOverflow {
				size *= 2
				continue
			}
			return nil
		}
		buf.Advance(res.Produced)
		if err = a.up.OnCiphertext(buf, a.engine.IsOutboundDone()); err != nil {
			return err
		}
	}
	return nil
}

// HalfClosed handles end of input from the transport.
func (a *Adapter) HalfClosed() error {
	if err := a.engine.CloseInbound(); err != nil {
		if !errors.Is(err, ErrNoCloseNotify) {
			return err
		}
		a.logger.Debug("%v", err)
	}
	return a.Close(context.Background())
}
