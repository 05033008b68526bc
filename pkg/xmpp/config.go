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
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ortuman/xmppnotify/pkg/backoff"
	"github.com/ortuman/xmppnotify/pkg/transport"
)

// PingConfig defines liveness probing cadences.
type PingConfig struct {
	// Interval is the regular time between pings.
	Interval time.Duration `fig:"interval" default:"60s"`

	// Timeout is the regular ping response timeout.
	Timeout time.Duration `fig:"timeout" default:"30s"`

	// FastInterval is the time between pings after a connectivity change.
	FastInterval time.Duration `fig:"fast_interval" default:"5s"`

	// FastTimeout is the ping response timeout after a connectivity change.
	FastTimeout time.Duration `fig:"fast_timeout" default:"10s"`
}

// Config defines XMPP channel configuration.
type Config struct {
	// Account is the robot account used to authenticate.
	Account string `fig:"account" validate:"required"`

	// AccessToken is the OAuth2 token used to authenticate.
	AccessToken string `fig:"access_token"`

	// AccessTokenFile, if set, is read to obtain the access token and re-read on permanent failures.
	AccessTokenFile string `fig:"access_token_file"`

	// Endpoint is the host:port of the push service.
	Endpoint string `fig:"endpoint" default:"talk.google.com:5223"`

	// DialTimeout bounds the TCP connect and TLS handshake.
	DialTimeout time.Duration `fig:"dial_timeout" default:"15s"`

	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool `fig:"insecure_skip_verify"`

	// MaxStanzaSize is the maximum size an incoming stanza may have.
	MaxStanzaSize int `fig:"max_stanza_size" default:"131072"`

	// ReadBufferSize is the size of the stream read buffer.
	ReadBufferSize int `fig:"read_buffer_size" default:"4096"`

	// ReadRate limits inbound traffic.
	ReadRate transport.ReadRateConfig `fig:"read_rate"`

	// Ping defines liveness probing cadences.
	Ping PingConfig `fig:"ping"`

	// Backoff defines the reconnection backoff policy.
	Backoff backoff.Policy `fig:"backoff"`
}

// DefaultConfig returns a configuration for account with every other value set to its default.
func DefaultConfig(account, accessToken string) Config {
	return Config{
		Account:        account,
		AccessToken:    accessToken,
		Endpoint:       "talk.google.com:5223",
		DialTimeout:    time.Second * 15,
		MaxStanzaSize:  131072,
		ReadBufferSize: 4096,
		ReadRate:       transport.ReadRateConfig{Burst: 65536},
		Ping: PingConfig{
			Interval:     time.Second * 60,
			Timeout:      time.Second * 30,
			FastInterval: time.Second * 5,
			FastTimeout:  time.Second * 10,
		},
		Backoff: backoff.DefaultPolicy(),
	}
}

// NetworkConfig returns the transport configuration derived from cfg.
func (cfg Config) NetworkConfig() transport.Config {
	return transport.Config{
		DialTimeout:        cfg.DialTimeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ReadRate:           cfg.ReadRate,
	}
}

func (cfg Config) hostPort() (string, int, error) {
	if len(cfg.Account) == 0 {
		return "", 0, errors.New("xmpp: account is required")
	}
	host, portStr, err := net.SplitHostPort(cfg.Endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("xmpp: invalid endpoint: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("xmpp: invalid endpoint port: %s", portStr)
	}
	return host, port, nil
}
