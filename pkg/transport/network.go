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
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppnotify/pkg/taskrunner"
	"golang.org/x/time/rate"
)

// ReadRateConfig defines inbound rate limiting.
type ReadRateConfig struct {
	// Limit is the allowed number of bytes per second. Zero disables rate limiting.
	Limit float64 `fig:"limit"`

	// Burst is the maximum number of bytes allowed in a single burst.
	Burst int `fig:"burst" default:"65536"`
}

// Config contains network configuration.
type Config struct {
	// DialTimeout bounds the TCP connect and TLS handshake.
	DialTimeout time.Duration `fig:"dial_timeout" default:"15s"`

	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool `fig:"insecure_skip_verify"`

	// ReadRate limits inbound traffic of every opened stream.
	ReadRate ReadRateConfig `fig:"read_rate"`
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// TLSNetwork implements Network over TLS sockets.
type TLSNetwork struct {
	cfg    Config
	runner taskrunner.TaskRunner
	dialFn dialFunc
	logger kitlog.Logger

	mu  sync.RWMutex
	cbs []func()
}

// NewTLSNetwork returns a new TLSNetwork instance.
// Every stream callback is invoked from runner.
func NewTLSNetwork(cfg Config, runner taskrunner.TaskRunner, logger kitlog.Logger) *TLSNetwork {
	return &TLSNetwork{
		cfg:    cfg,
		runner: runner,
		dialFn: newTLSDialer(cfg).DialContext,
		logger: kitlog.With(logger, "component", "network"),
	}
}

// OpenSSLSocket satisfies Network interface.
func (n *TLSNetwork) OpenSSLSocket(host string, port int, cb func(stm Stream, err error)) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.DialTimeout)
		conn, err := n.dialFn(ctx, "tcp", addr)
		cancel()

		if err != nil {
			level.Debug(n.logger).Log("msg", "failed to dial", "addr", addr, "err", err)
			n.runner.PostTask(func() { cb(nil, err) })
			return
		}
		level.Debug(n.logger).Log("msg", "dialed", "addr", addr)

		var opts []SocketOption
		if n.cfg.ReadRate.Limit > 0 {
			opts = append(opts, WithReadRateLimiter(rate.NewLimiter(rate.Limit(n.cfg.ReadRate.Limit), n.cfg.ReadRate.Burst)))
		}
		n.runner.PostTask(func() {
			cb(NewSocket(conn, n.runner, opts...), nil)
		})
	}()
}

// AddConnectionChangedCallback satisfies Network interface.
func (n *TLSNetwork) AddConnectionChangedCallback(cb func()) {
	n.mu.Lock()
	n.cbs = append(n.cbs, cb)
	n.mu.Unlock()
}

// NotifyConnectionChanged posts every registered connectivity callback.
func (n *TLSNetwork) NotifyConnectionChanged() {
	n.mu.RLock()
	cbs := make([]func(), len(n.cbs))
	copy(cbs, n.cbs)
	n.mu.RUnlock()

	for _, cb := range cbs {
		n.runner.PostTask(cb)
	}
}

func newTLSDialer(cfg Config) *tls.Dialer {
	return &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: cfg.DialTimeout},
		Config: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}
}
