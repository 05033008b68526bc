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

package iq

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppnotify/pkg/taskrunner"
	"github.com/ortuman/xmppnotify/pkg/xmlnode"
)

// DefaultTimeout is the time a request waits for its response.
const DefaultTimeout = time.Second * 30

const (
	// GetType represents a 'get' IQ type.
	GetType = "get"

	// SetType represents a 'set' IQ type.
	SetType = "set"

	// ResultType represents a 'result' IQ type.
	ResultType = "result"

	// ErrorType represents an 'error' IQ type.
	ErrorType = "error"
)

const featureNotImplementedError = `<error type='modify'>` +
	`<feature-not-implemented xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/>` +
	`</error>`

const invalidAddressChars = "<'>"

// ResponseFunc is invoked with the response stanza of a request.
type ResponseFunc func(stanza *xmlnode.Node)

// TimeoutFunc is invoked when a request response has not arrived in time.
type TimeoutFunc func()

// MessageSender writes raw stanzas to the stream.
type MessageSender interface {
	SendMessage(msg string)
}

// Handler correlates outgoing IQ requests with their responses.
// Handler must only be used from its task runner.
type Handler struct {
	runner   taskrunner.TaskRunner
	sender   MessageSender
	lastID   int
	requests map[int]ResponseFunc
	logger   kitlog.Logger
}

// NewHandler returns a new initialized IQ handler.
func NewHandler(runner taskrunner.TaskRunner, sender MessageSender, logger kitlog.Logger) *Handler {
	return &Handler{
		runner:   runner,
		sender:   sender,
		requests: make(map[int]ResponseFunc),
		logger:   logger,
	}
}

// SendRequest sends an IQ request using the default timeout.
func (h *Handler) SendRequest(typ, from, to, body string, onResponse ResponseFunc, onTimeout TimeoutFunc) {
	h.SendRequestWithTimeout(typ, from, to, body, DefaultTimeout, onResponse, onTimeout)
}

// SendRequestWithTimeout sends an IQ request.
// A non-positive timeout makes the request wait for its response forever.
func (h *Handler) SendRequestWithTimeout(
	typ, from, to, body string,
	timeout time.Duration,
	onResponse ResponseFunc,
	onTimeout TimeoutFunc,
) {
	h.lastID++
	id := h.lastID
	h.requests[id] = onResponse

	if timeout > 0 {
		h.runner.PostDelayedTask(func() { h.onTimeout(id, onTimeout) }, timeout)
	}
	reportOutgoingRequest(typ)

	h.sender.SendMessage(BuildIQStanza(strconv.Itoa(id), typ, from, to, body))
}

// HandleIQStanza processes an incoming IQ stanza.
// It returns false if the stanza is malformed and the stream should be closed.
func (h *Handler) HandleIQStanza(stanza *xmlnode.Node) bool {
	typ, ok := stanza.GetAttribute("type")
	if !ok {
		level.Error(h.logger).Log("msg", "IQ stanza missing 'type' attribute")
		return false
	}
	idStr, ok := stanza.GetAttribute("id")
	if !ok {
		level.Error(h.logger).Log("msg", "IQ stanza missing 'id' attribute")
		return false
	}
	switch typ {
	case ResultType, ErrorType:
		id, err := strconv.Atoi(idStr)
		if err != nil {
			level.Error(h.logger).Log("msg", "IQ stanza 'id' attribute is invalid", "id", idStr)
			return false
		}
		reportIncomingResponse(typ)

		onResponse, ok := h.requests[id]
		if !ok {
			level.Debug(h.logger).Log("msg", "ignoring IQ response for unknown request", "id", id)
			return true
		}
		delete(h.requests, id)
		h.runner.PostTask(func() { onResponse(stanza) })

	default:
		// server initiated requests are not supported
		reportIncomingRequest(typ)

		h.sender.SendMessage(BuildIQStanza(
			idStr,
			ErrorType,
			stanza.GetAttributeOrEmpty("to"),
			stanza.GetAttributeOrEmpty("from"),
			featureNotImplementedError,
		))
	}
	return true
}

// PendingRequests returns the number of requests waiting for a response.
func (h *Handler) PendingRequests() int {
	return len(h.requests)
}

// CancelAll drops every pending request.
// Neither the response nor the timeout callback of a dropped request is invoked.
func (h *Handler) CancelAll() {
	h.requests = make(map[int]ResponseFunc)
}

func (h *Handler) onTimeout(id int, onTimeout TimeoutFunc) {
	if _, ok := h.requests[id]; !ok {
		return
	}
	delete(h.requests, id)
	reportRequestTimeout()

	level.Warn(h.logger).Log("msg", "IQ request timed out", "id", id)
	if onTimeout != nil {
		onTimeout()
	}
}

// BuildIQStanza returns the serialized representation of an IQ stanza.
// from and to are omitted when empty and must not contain XML special characters.
func BuildIQStanza(id, typ, from, to, body string) string {
	var fromAttr, toAttr string
	if len(from) > 0 {
		if strings.ContainsAny(from, invalidAddressChars) {
			panic(fmt.Sprintf("iq: source address contains invalid XML characters: %s", from))
		}
		fromAttr = fmt.Sprintf(" from='%s'", from)
	}
	if len(to) > 0 {
		if strings.ContainsAny(to, invalidAddressChars) {
			panic(fmt.Sprintf("iq: destination address contains invalid XML characters: %s", to))
		}
		toAttr = fmt.Sprintf(" to='%s'", to)
	}
	return fmt.Sprintf("<iq id='%s' type='%s'%s%s>%s</iq>", id, typ, fromAttr, toAttr, body)
}
