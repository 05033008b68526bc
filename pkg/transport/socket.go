// Copyright 2022 The jackal Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ortuman/xmppnotify/pkg/taskrunner"
	"golang.org/x/time/rate"
)

// ErrReadLimitExceeded will be delivered to a read callback when the read rate limit is exceeded.
var ErrReadLimitExceeded = errors.New("transport: read limit exceeded")

type readOp struct {
	p  []byte
	cb func(n int, err error)
}

type writeOp struct {
	p   []byte
	gen uint64
	cb  func(err error)
}

// SocketOption defines a socket configuration option.
type SocketOption func(s *Socket)

// WithReadRateLimiter limits the socket inbound byte rate.
func WithReadRateLimiter(rLim *rate.Limiter) SocketOption {
	return func(s *Socket) {
		s.r = &limitedReader{r: s.conn, rLim: rLim}
	}
}

// Socket implements Stream on top of a net.Conn.
//
// Blocking I/O runs on a reader and a writer goroutine. Their results are
// posted back to the task runner, which is the only place where socket
// state is touched. Read, Write, CancelPendingOperations and Close must be
// called from the task runner.
type Socket struct {
	conn   net.Conn
	r      io.Reader
	runner taskrunner.TaskRunner

	gen          uint64
	closed       bool
	readInFlight bool
	pendingRead  *readOp
	stash        []byte
	readErr      error

	readCh chan int
	doneCh chan struct{}

	wmu     sync.Mutex
	wq      []writeOp
	wSignal chan struct{}
}

// NewSocket returns a new Socket stream wrapping conn.
func NewSocket(conn net.Conn, runner taskrunner.TaskRunner, opts ...SocketOption) *Socket {
	s := &Socket{
		conn:    conn,
		r:       conn,
		runner:  runner,
		readCh:  make(chan int, 1),
		doneCh:  make(chan struct{}),
		wSignal: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.readLoop()
	go s.writeLoop()
	return s
}

// Read satisfies Stream interface.
func (s *Socket) Read(p []byte, cb func(n int, err error)) {
	if s.closed {
		s.runner.PostTask(func() { cb(0, ErrClosed) })
		return
	}
	s.pendingRead = &readOp{p: p, cb: cb}
	if len(s.stash) > 0 || s.readErr != nil {
		s.runner.PostTask(s.deliverRead)
		return
	}
	s.requestRead()
}

// Write satisfies Stream interface.
func (s *Socket) Write(p []byte, cb func(err error)) {
	if s.closed {
		s.runner.PostTask(func() { cb(ErrClosed) })
		return
	}
	b := make([]byte, len(p))
	copy(b, p)

	s.wmu.Lock()
	s.wq = append(s.wq, writeOp{p: b, gen: s.gen, cb: cb})
	s.wmu.Unlock()

	select {
	case s.wSignal <- struct{}{}:
	default:
	}
}

// CancelPendingOperations satisfies Stream interface.
func (s *Socket) CancelPendingOperations() {
	s.gen++
	s.pendingRead = nil
}

// Close satisfies Stream interface.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pendingRead = nil
	close(s.doneCh)
	return s.conn.Close()
}

func (s *Socket) requestRead() {
	if s.readInFlight || s.pendingRead == nil {
		return
	}
	s.readInFlight = true
	s.readCh <- len(s.pendingRead.p)
}

func (s *Socket) onRead(b []byte, err error) {
	s.readInFlight = false
	if s.closed {
		return
	}
	s.stash = append(s.stash, b...)
	if err != nil {
		s.readErr = err
	}
	s.deliverRead()
}

func (s *Socket) deliverRead() {
	if s.closed || s.pendingRead == nil {
		return
	}
	if len(s.stash) == 0 && s.readErr == nil {
		s.requestRead()
		return
	}
	op := s.pendingRead
	s.pendingRead = nil

	if len(s.stash) > 0 {
		n := copy(op.p, s.stash)
		s.stash = s.stash[n:]
		op.cb(n, nil)
		return
	}
	op.cb(0, s.readErr)
}

func (s *Socket) onWrite(op writeOp, err error) {
	if s.closed || op.gen != s.gen {
		return
	}
	op.cb(err)
}

func (s *Socket) readLoop() {
	for {
		var size int
		select {
		case size = <-s.readCh:
		case <-s.doneCh:
			return
		}
		buf := make([]byte, size)
		n, err := s.r.Read(buf)
		s.runner.PostTask(func() { s.onRead(buf[:n], err) })
	}
}

func (s *Socket) writeLoop() {
	for {
		select {
		case <-s.wSignal:
		case <-s.doneCh:
			return
		}
		for {
			s.wmu.Lock()
			if len(s.wq) == 0 {
				s.wmu.Unlock()
				break
			}
			op := s.wq[0]
			s.wq = s.wq[1:]
			s.wmu.Unlock()

			_, err := s.conn.Write(op.p)
			s.runner.PostTask(func() { s.onWrite(op, err) })
		}
	}
}

type limitedReader struct {
	r    io.Reader
	rLim *rate.Limiter
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	n, err := lr.r.Read(p)
	if n > 0 && !lr.rLim.AllowN(time.Now(), n) {
		return 0, ErrReadLimitExceeded
	}
	return n, err
}
