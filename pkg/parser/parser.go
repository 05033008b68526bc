// Copyright 2020 The jackal Authors
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

package xmppparser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/ortuman/xmppnotify/pkg/xmlnode"
)

// ErrTooLargeStanza will be returned by ParseData when the size of the incoming stanza is too large.
var ErrTooLargeStanza = errors.New("parser: too large stanza")

// ErrParserClosed will be returned by ParseData once the parser has been closed.
var ErrParserClosed = errors.New("parser: closed")

// Handler receives XML stream events.
type Handler interface {
	// OnStreamStart is invoked when the outermost stream element is opened.
	OnStreamStart(name string, attrs map[string]string)

	// OnStanza is invoked every time a stream top-level element is completely parsed.
	OnStanza(stanza *xmlnode.Node)

	// OnStreamEnd is invoked when the outermost stream element is closed.
	OnStreamEnd(name string)
}

// Option defines a parser configuration option.
type Option func(p *Parser)

// WithMaxStanzaSize limits the size in bytes of a single stanza.
func WithMaxStanzaSize(maxStanzaSize int) Option {
	return func(p *Parser) {
		p.maxStanzaSize = int64(maxStanzaSize)
	}
}

// Parser is an incremental XML stream parser.
//
// Input is pushed in arbitrary sized chunks through ParseData and events are
// emitted to the handler before ParseData returns, regardless of how the
// stream bytes were split.
type Parser struct {
	h             Handler
	maxStanzaSize int64

	inCh   chan []byte
	doneCh chan error
	r      *chunkReader
	dec    *xml.Decoder

	stack   []*xmlnode.Node
	started bool

	err    error
	closed bool
}

// New creates an empty Parser instance.
func New(h Handler, opts ...Option) *Parser {
	p := &Parser{
		h:      h,
		inCh:   make(chan []byte),
		doneCh: make(chan error),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.r = &chunkReader{inCh: p.inCh, doneCh: p.doneCh, maxSize: p.maxStanzaSize}
	p.dec = xml.NewDecoder(p.r)

	go p.loop()
	return p
}

// ParseData feeds a chunk of stream bytes into the parser.
func (p *Parser) ParseData(b []byte) error {
	switch {
	case p.closed:
		return ErrParserClosed
	case p.err != nil:
		return p.err
	case len(b) == 0:
		return nil
	}
	p.inCh <- b
	if err := <-p.doneCh; err != nil {
		p.err = err
		return err
	}
	return nil
}

// Reset clears parsing state so that a new stream header is expected.
// Tokenizer byte position is preserved.
func (p *Parser) Reset() {
	p.stack = nil
	p.started = false
	p.r.mark = p.r.offset
}

// IsStarted tells whether stream opening element has already been parsed.
func (p *Parser) IsStarted() bool {
	return p.started
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.closed {
		return
	}
	p.closed = true
	close(p.inCh)
}

func (p *Parser) loop() {
	for {
		t, err := p.dec.RawToken()
		if err != nil {
			if p.r.closed {
				return
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			p.doneCh <- err
			return
		}
		if err := p.handleToken(t); err != nil {
			p.doneCh <- err
			return
		}
	}
}

func (p *Parser) handleToken(t xml.Token) error {
	switch t1 := t.(type) {
	case xml.StartElement:
		p.startElement(t1)

	case xml.CharData:
		if len(p.stack) > 0 {
			p.stack[len(p.stack)-1].AppendText(string(t1))
		}

	case xml.EndElement:
		p.endElement(t1)
	}
	if len(p.stack) == 0 {
		p.r.mark = p.r.offset
	}
	return nil
}

func (p *Parser) startElement(t xml.StartElement) {
	name := xmlName(t.Name.Space, t.Name.Local)

	attrs := make(map[string]string, len(t.Attr))
	for _, a := range t.Attr {
		attrs[xmlName(a.Name.Space, a.Name.Local)] = a.Value
	}
	if !p.started {
		p.started = true
		p.h.OnStreamStart(name, attrs)
		return
	}
	node := xmlnode.New(name, attrs)
	if len(p.stack) > 0 {
		p.stack[len(p.stack)-1].AddChild(node)
	}
	p.stack = append(p.stack, node)
}

func (p *Parser) endElement(t xml.EndElement) {
	if len(p.stack) == 0 {
		p.started = false
		p.h.OnStreamEnd(xmlName(t.Name.Space, t.Name.Local))
		return
	}
	node := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]

	if len(p.stack) == 0 {
		p.h.OnStanza(node)
	}
}

// chunkReader hands pushed chunks to the XML decoder one byte at a time.
// Once a chunk has been consumed, it signals the pusher and blocks until the next one arrives.
//
// No more than maxSize bytes may be read past mark, the offset of the last top-level element boundary.
type chunkReader struct {
	buf    []byte
	fed    bool
	closed bool
	inCh   <-chan []byte
	doneCh chan<- error

	maxSize int64
	offset  int64
	mark    int64
}

func (r *chunkReader) ReadByte() (byte, error) {
	for len(r.buf) == 0 {
		if r.fed {
			r.fed = false
			r.doneCh <- nil
		}
		b, ok := <-r.inCh
		if !ok {
			r.closed = true
			return 0, io.EOF
		}
		r.buf, r.fed = b, true
	}
	if r.maxSize > 0 && r.offset-r.mark >= r.maxSize {
		return 0, ErrTooLargeStanza
	}
	c := r.buf[0]
	r.buf = r.buf[1:]
	r.offset++
	return c, nil
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	p[0] = c
	return 1, nil
}

func xmlName(space, local string) string {
	if len(space) > 0 {
		return fmt.Sprintf("%s:%s", space, local)
	}
	return local
}
