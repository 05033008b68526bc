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

package xmpp

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackal-xmpp/stravaganza/v2/jid"
	"github.com/ortuman/xmppnotify/pkg/backoff"
	"github.com/ortuman/xmppnotify/pkg/iq"
	"github.com/ortuman/xmppnotify/pkg/notification"
	xmppparser "github.com/ortuman/xmppnotify/pkg/parser"
	"github.com/ortuman/xmppnotify/pkg/sasl"
	"github.com/ortuman/xmppnotify/pkg/taskrunner"
	"github.com/ortuman/xmppnotify/pkg/transport"
	"github.com/ortuman/xmppnotify/pkg/xmlnode"
)

// Name is the notification channel name reported to the delegate.
const Name = "xmpp"

const (
	streamOpen = `<stream:stream to='clouddevices.gserviceaccount.com' ` +
		`xmlns:stream='http://etherx.jabber.org/streams' xml:lang='*' version='1.0' xmlns='jabber:client'>`
	streamClose = `</stream:stream>`

	bindBody      = `<bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/>`
	sessionBody   = `<session xmlns='urn:ietf:params:xml:ns:xmpp-session'/>`
	subscribeBody = `<subscribe xmlns='google:push'><item channel='cloud_devices' from=''/></subscribe>`
	pingBody      = `<ping xmlns='urn:xmpp:ping'/>`
)

// connectivity changes are ignored while a reconnection is this close.
const connectivityChangeReconnectThreshold = time.Second * 30

// ErrAlreadyStarted is returned by Start when the channel is already running.
var ErrAlreadyStarted = errors.New("xmpp: channel already started")

// State represents a channel connection state.
type State int

const (
	// NotStarted is the initial channel state.
	NotStarted State = iota

	// Connecting means the TLS connection is being established.
	Connecting

	// Connected means the stream header has been sent and features are awaited.
	Connected

	// AuthenticationStarted means the SASL auth element has been sent.
	AuthenticationStarted

	// AuthenticationFailed means the credentials were rejected.
	AuthenticationFailed

	// StreamRestartedPostAuthentication means the stream was reopened after a successful authentication.
	StreamRestartedPostAuthentication

	// BindSent means the resource bind request has been sent.
	BindSent

	// SessionStarted means the session request has been sent.
	SessionStarted

	// SubscribeStarted means the push subscription request has been sent.
	SubscribeStarted

	// Subscribed means the channel is ready to deliver notifications.
	Subscribed
)

// String satisfies fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case AuthenticationStarted:
		return "authentication_started"
	case AuthenticationFailed:
		return "authentication_failed"
	case StreamRestartedPostAuthentication:
		return "stream_restarted_post_authentication"
	case BindSent:
		return "bind_sent"
	case SessionStarted:
		return "session_started"
	case SubscribeStarted:
		return "subscribe_started"
	case Subscribed:
		return "subscribed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Option defines a channel configuration option.
type Option func(c *Channel)

// WithBackoffOptions sets the options used to build the reconnection backoff entry.
func WithBackoffOptions(opts ...backoff.Option) Option {
	return func(c *Channel) {
		c.backoffOpts = opts
	}
}

// Channel is a push notification channel over a persistent XMPP stream.
//
// Every method must be invoked from the channel task runner.
type Channel struct {
	cfg         Config
	host        string
	port        int
	runner      taskrunner.TaskRunner
	network     transport.Network
	backoffOpts []backoff.Option
	logger      kitlog.Logger

	delegate    notification.Delegate
	state       State
	accessToken string
	jid         string

	stream    transport.Stream
	parser    *xmppparser.Parser
	iqHandler *iq.Handler
	backoff   *backoff.Entry

	readBuf      []byte
	readPending  bool
	writePending bool
	queuedWrite  string

	pingScope taskrunner.Scope
	taskScope taskrunner.Scope
}

// NewChannel returns a new XMPP notification channel.
func NewChannel(
	cfg Config,
	runner taskrunner.TaskRunner,
	network transport.Network,
	logger kitlog.Logger,
	opts ...Option,
) (*Channel, error) {
	host, port, err := cfg.hostPort()
	if err != nil {
		return nil, err
	}
	bufSize := cfg.ReadBufferSize
	if bufSize <= 0 {
		bufSize = 4096
	}
	c := &Channel{
		cfg:         cfg,
		host:        host,
		port:        port,
		runner:      runner,
		network:     network,
		accessToken: cfg.AccessToken,
		readBuf:     make([]byte, bufSize),
		logger:      kitlog.With(logger, "channel", Name),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.backoff = backoff.NewEntry(cfg.Backoff, c.backoffOpts...)
	c.iqHandler = iq.NewHandler(runner, c, c.logger)

	network.AddConnectionChangedCallback(c.onConnectivityChanged)
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return Name
}

// State returns current channel state.
func (c *Channel) State() State {
	return c.state
}

// IsConnected tells whether the channel is subscribed to push notifications.
func (c *Channel) IsConnected() bool {
	return c.state == Subscribed
}

// JID returns the bound JID. It is empty until resource binding completes.
func (c *Channel) JID() string {
	return c.jid
}

// SetAccessToken replaces the access token used on next connection.
// Connection backoff starts over with new credentials.
func (c *Channel) SetAccessToken(accessToken string) {
	c.accessToken = accessToken
	c.backoff.Reset()
}

// Start starts connecting the channel.
func (c *Channel) Start(delegate notification.Delegate) error {
	switch c.state {
	case NotStarted:
	case AuthenticationFailed:
		c.teardown()
	default:
		return ErrAlreadyStarted
	}
	c.delegate = delegate

	level.Info(c.logger).Log("msg", "starting channel", "account", c.cfg.Account, "host", c.host, "port", c.port)
	c.connect()
	return nil
}

// Stop disconnects the channel and cancels every pending operation.
func (c *Channel) Stop() {
	if c.IsConnected() && c.delegate != nil {
		c.delegate.OnDisconnected()
	}
	c.teardown()
	c.setState(NotStarted)
}

// Reconnect counts a failed connection attempt and starts connecting the
// channel again once the backoff delay has elapsed.
func (c *Channel) Reconnect(delegate notification.Delegate) error {
	switch c.state {
	case NotStarted:
	case AuthenticationFailed:
		c.teardown()
	default:
		return ErrAlreadyStarted
	}
	c.delegate = delegate
	c.backoff.InformOfRequest(false)

	if !c.backoff.ShouldRejectRequest() {
		c.connect()
		return nil
	}
	c.setState(Connecting)
	c.scheduleConnect()
	return nil
}

// Restart stops the channel and starts it again.
func (c *Channel) Restart() {
	level.Info(c.logger).Log("msg", "restarting channel", "state", c.state)
	reportRestart()

	c.Stop()
	_ = c.Start(c.delegate)
}

// SendMessage writes a raw message to the stream.
// Messages sent while a write is in flight are queued and flushed once it completes.
func (c *Channel) SendMessage(msg string) {
	if c.stream == nil {
		return
	}
	if c.writePending {
		c.queuedWrite += msg
		return
	}
	c.write(msg)
}

func (c *Channel) connect() {
	c.setState(Connecting)

	tok := c.taskScope.Token()
	c.network.OpenSSLSocket(c.host, c.port, func(stm transport.Stream, err error) {
		if !tok.Valid() {
			if stm != nil {
				_ = stm.Close()
			}
			return
		}
		c.onConnected(stm, err)
	})
}

func (c *Channel) onConnected(stm transport.Stream, err error) {
	reportConnectAttempt(err == nil)
	if err != nil {
		level.Warn(c.logger).Log("msg", "failed to connect", "err", err)

		c.backoff.InformOfRequest(false)
		c.scheduleConnect()
		return
	}
	c.backoff.InformOfRequest(true)
	reportConnectFailures(c.backoff.FailureCount())

	c.stream = stm
	c.parser = xmppparser.New(
		&parserHandler{c: c, tok: c.taskScope.Token()},
		xmppparser.WithMaxStanzaSize(c.cfg.MaxStanzaSize),
	)
	c.setState(Connected)

	level.Info(c.logger).Log("msg", "connected", "host", c.host, "port", c.port)
	c.SendMessage(streamOpen)
}

func (c *Channel) scheduleConnect() {
	failures := c.backoff.FailureCount()
	reportConnectFailures(failures)

	level.Info(c.logger).Log("msg", "scheduling connection attempt",
		"failures", failures,
		"retry_in", c.backoff.TimeUntilRelease(),
		"retry_at", c.backoff.ReleaseTime().Format(time.RFC3339),
	)
	c.runner.PostDelayedTask(c.taskScope.Wrap(c.connect), c.backoff.TimeUntilRelease())
}

func (c *Channel) teardown() {
	reportSubscribed(false)

	c.pingScope.Invalidate()
	c.taskScope.Invalidate()
	c.iqHandler.CancelAll()

	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	if c.parser != nil {
		c.parser.Close()
		c.parser = nil
	}
	c.readPending = false
	c.writePending = false
	c.queuedWrite = ""
	c.jid = ""
}

func (c *Channel) closeStream() {
	c.SendMessage(streamClose)
}

func (c *Channel) write(msg string) {
	c.writePending = true

	tok := c.taskScope.Token()
	c.stream.Write([]byte(msg), func(err error) {
		if !tok.Valid() {
			return
		}
		c.onMessageSent(err)
	})
}

func (c *Channel) onMessageSent(err error) {
	c.writePending = false
	if err != nil {
		level.Warn(c.logger).Log("msg", "failed to write to stream", "err", err)
		c.onStreamError()
		return
	}
	if len(c.queuedWrite) > 0 {
		msg := c.queuedWrite
		c.queuedWrite = ""
		c.write(msg)
		return
	}
	c.waitForMessage()
}

func (c *Channel) waitForMessage() {
	if c.readPending || c.stream == nil {
		return
	}
	c.readPending = true

	tok := c.taskScope.Token()
	c.stream.Read(c.readBuf, func(n int, err error) {
		if !tok.Valid() {
			return
		}
		c.onMessageRead(n, err)
	})
}

func (c *Channel) onMessageRead(n int, err error) {
	c.readPending = false
	if err != nil {
		level.Warn(c.logger).Log("msg", "failed to read from stream", "err", err)
		c.onStreamError()
		return
	}
	if err := c.parser.ParseData(c.readBuf[:n]); err != nil {
		level.Warn(c.logger).Log("msg", "failed to parse stream", "err", err)
		c.onStreamError()
		return
	}
	c.waitForMessage()
}

func (c *Channel) onStreamError() {
	if c.state == AuthenticationFailed {
		c.teardown()
		return
	}
	c.Restart()
}

func (c *Channel) onStreamStart(name string) {
	level.Debug(c.logger).Log("msg", "stream started", "name", name)
}

func (c *Channel) onStreamEnd(name string) {
	level.Debug(c.logger).Log("msg", "stream ended", "name", name, "state", c.state)

	if c.state == AuthenticationFailed {
		c.teardown()
		return
	}
	wasSubscribed := c.IsConnected()
	c.Stop()

	if wasSubscribed {
		c.runner.PostTask(c.taskScope.Wrap(c.Restart))
		return
	}
	if c.delegate != nil {
		c.delegate.OnPermanentFailure()
	}
}

func (c *Channel) onStanza(stanza *xmlnode.Node) {
	reportIncomingStanza(stanza.Name())

	var handled bool
	switch c.state {
	case Connected:
		handled = c.handleConnected(stanza)
	case AuthenticationStarted:
		handled = c.handleAuthenticating(stanza)
	case StreamRestartedPostAuthentication:
		handled = c.handleStreamRestarted(stanza)
	default:
		c.handleStanza(stanza)
		return
	}
	if !handled {
		level.Warn(c.logger).Log("msg", "unexpected stanza", "state", c.state, "stanza", stanza)
		c.closeStream()
	}
}

func (c *Channel) handleConnected(stanza *xmlnode.Node) bool {
	if stanza.Name() != "stream:features" {
		return false
	}
	if !hasMechanism(stanza, sasl.MechanismName) {
		return false
	}
	auth, err := sasl.AuthStanza(c.cfg.Account, c.accessToken)
	if err != nil {
		level.Error(c.logger).Log("msg", "failed to build auth element", "err", err)
		return false
	}
	c.setState(AuthenticationStarted)
	c.SendMessage(auth)
	return true
}

func (c *Channel) handleAuthenticating(stanza *xmlnode.Node) bool {
	switch stanza.Name() {
	case "success":
		c.parser.Reset()
		c.stream.CancelPendingOperations()
		c.readPending = false
		c.writePending = false
		c.queuedWrite = ""

		c.setState(StreamRestartedPostAuthentication)
		c.SendMessage(streamOpen)
		return true

	case "failure":
		if stanza.FindFirstChild("not-authorized", false) == nil {
			return false
		}
		level.Error(c.logger).Log("msg", "authentication failed", "account", c.cfg.Account)

		c.setState(AuthenticationFailed)
		c.closeStream()
		if c.delegate != nil {
			c.delegate.OnPermanentFailure()
		}
		return true
	}
	return false
}

func (c *Channel) handleStreamRestarted(stanza *xmlnode.Node) bool {
	if stanza.Name() != "stream:features" || stanza.FindFirstChild("bind", false) == nil {
		return false
	}
	c.setState(BindSent)
	c.iqHandler.SendRequest(iq.SetType, "", "", bindBody, c.guardResponse(c.onBindCompleted), c.guardTimeout(c.onIQTimeout))
	return true
}

func (c *Channel) handleStanza(stanza *xmlnode.Node) {
	switch stanza.Name() {
	case "message":
		c.handleMessage(stanza)
	case "iq":
		if !c.iqHandler.HandleIQStanza(stanza) {
			c.closeStream()
		}
	default:
		level.Debug(c.logger).Log("msg", "ignoring stanza", "state", c.state, "name", stanza.Name())
	}
}

func (c *Channel) handleMessage(stanza *xmlnode.Node) {
	data := stanza.FindFirstChild("push:push/push:data", true)
	if data == nil {
		level.Warn(c.logger).Log("msg", "message stanza without push data", "stanza", stanza)
		return
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data.Text()))
	if err != nil {
		level.Warn(c.logger).Log("msg", "failed to decode push data", "err", err)
		return
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(b, &payload); err != nil {
		level.Warn(c.logger).Log("msg", "failed to decode push payload", "err", err)
		return
	}
	if c.delegate == nil {
		return
	}
	if err := notification.Parse(payload, c.delegate, Name); err != nil {
		level.Warn(c.logger).Log("msg", "failed to parse notification", "err", err)
	}
}

func (c *Channel) onBindCompleted(reply *xmlnode.Node) {
	if reply.GetAttributeOrEmpty("type") != iq.ResultType {
		c.closeStream()
		return
	}
	jidNode := reply.FindFirstChild("bind/jid", false)
	if jidNode == nil {
		level.Warn(c.logger).Log("msg", "bind response missing jid", "stanza", reply)
		c.closeStream()
		return
	}
	j, err := jid.NewWithString(strings.TrimSpace(jidNode.Text()), false)
	if err != nil {
		level.Warn(c.logger).Log("msg", "bind response jid is invalid", "err", err)
		c.closeStream()
		return
	}
	c.jid = j.String()
	level.Debug(c.logger).Log("msg", "resource bound", "jid", c.jid)

	c.setState(SessionStarted)
	c.iqHandler.SendRequest(iq.SetType, "", "", sessionBody, c.guardResponse(c.onSessionEstablished), c.guardTimeout(c.onIQTimeout))
}

func (c *Channel) onSessionEstablished(reply *xmlnode.Node) {
	if reply.GetAttributeOrEmpty("type") != iq.ResultType {
		c.closeStream()
		return
	}
	c.setState(SubscribeStarted)
	c.iqHandler.SendRequest(iq.SetType, "", c.cfg.Account, subscribeBody, c.guardResponse(c.onSubscribed), c.guardTimeout(c.onIQTimeout))
}

func (c *Channel) onSubscribed(reply *xmlnode.Node) {
	if reply.GetAttributeOrEmpty("type") != iq.ResultType {
		c.closeStream()
		return
	}
	c.setState(Subscribed)
	reportSubscribed(true)

	level.Info(c.logger).Log("msg", "subscribed to push notifications", "jid", c.jid)
	if c.delegate != nil {
		c.delegate.OnConnected(Name)
	}
	c.scheduleRegularPing()
}

func (c *Channel) onIQTimeout() {
	level.Warn(c.logger).Log("msg", "handshake request timed out", "state", c.state)
	c.Restart()
}

func (c *Channel) onConnectivityChanged() {
	switch {
	case c.state == NotStarted, c.state == AuthenticationFailed:
		return
	case c.state == Connecting && c.backoff.TimeUntilRelease() < connectivityChangeReconnectThreshold:
		level.Debug(c.logger).Log("msg", "connectivity changed while connecting", "retry_in", c.backoff.TimeUntilRelease())
		return
	}
	level.Info(c.logger).Log("msg", "connectivity changed, probing connection", "state", c.state)
	c.scheduleFastPing()
}

func (c *Channel) scheduleRegularPing() {
	c.schedulePing(c.cfg.Ping.Interval, c.cfg.Ping.Timeout)
}

func (c *Channel) scheduleFastPing() {
	c.schedulePing(c.cfg.Ping.FastInterval, c.cfg.Ping.FastTimeout)
}

func (c *Channel) schedulePing(interval, timeout time.Duration) {
	c.pingScope.Invalidate()
	c.runner.PostDelayedTask(c.pingScope.Wrap(func() {
		c.pingServer(timeout)
	}), interval)
}

func (c *Channel) pingServer(timeout time.Duration) {
	if !c.IsConnected() {
		level.Info(c.logger).Log("msg", "channel not subscribed, reconnecting", "state", c.state)
		c.Restart()
		return
	}
	level.Debug(c.logger).Log("msg", "pinging server", "timeout", timeout)

	c.iqHandler.SendRequestWithTimeout(
		iq.GetType,
		c.cfg.Account,
		c.jid,
		pingBody,
		timeout,
		c.guardResponse(c.onPingResponse),
		c.guardTimeout(c.onPingTimeout),
	)
}

func (c *Channel) onPingResponse(_ *xmlnode.Node) {
	reportPing("pong")
	c.scheduleRegularPing()
}

func (c *Channel) onPingTimeout() {
	reportPing("timeout")

	level.Warn(c.logger).Log("msg", "ping timed out")
	c.Restart()
}

func (c *Channel) guardResponse(fn iq.ResponseFunc) iq.ResponseFunc {
	tok := c.taskScope.Token()
	return func(stanza *xmlnode.Node) {
		if tok.Valid() {
			fn(stanza)
		}
	}
}

func (c *Channel) guardTimeout(fn iq.TimeoutFunc) iq.TimeoutFunc {
	tok := c.taskScope.Token()
	return func() {
		if tok.Valid() {
			fn()
		}
	}
}

func (c *Channel) setState(state State) {
	if c.state == state {
		return
	}
	level.Debug(c.logger).Log("msg", "channel state changed", "from", c.state, "to", state)
	c.state = state
}

func hasMechanism(features *xmlnode.Node, name string) bool {
	for _, m := range features.FindChildren("mechanisms/mechanism", false) {
		if m.Text() == name {
			return true
		}
	}
	return false
}

// parserHandler posts stream events to the channel task runner.
type parserHandler struct {
	c   *Channel
	tok taskrunner.Token
}

func (h *parserHandler) OnStreamStart(name string, _ map[string]string) {
	h.c.runner.PostTask(func() {
		if h.tok.Valid() {
			h.c.onStreamStart(name)
		}
	})
}

func (h *parserHandler) OnStanza(stanza *xmlnode.Node) {
	h.c.runner.PostTask(func() {
		if h.tok.Valid() {
			h.c.onStanza(stanza)
		}
	})
}

func (h *parserHandler) OnStreamEnd(name string) {
	h.c.runner.PostTask(func() {
		if h.tok.Valid() {
			h.c.onStreamEnd(name)
		}
	})
}
