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

package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/ortuman/xmppnotify/pkg/notification"
	"github.com/ortuman/xmppnotify/pkg/taskrunner"
	"github.com/ortuman/xmppnotify/pkg/xmpp"
	"github.com/stretchr/testify/require"
)

type channelMock struct {
	StartFunc          func(delegate notification.Delegate) error
	ReconnectFunc      func(delegate notification.Delegate) error
	StopFunc           func()
	StateFunc          func() xmpp.State
	IsConnectedFunc    func() bool
	SetAccessTokenFunc func(accessToken string)
}

func (m *channelMock) Start(delegate notification.Delegate) error     { return m.StartFunc(delegate) }
func (m *channelMock) Reconnect(delegate notification.Delegate) error { return m.ReconnectFunc(delegate) }
func (m *channelMock) Stop()                                          { m.StopFunc() }
func (m *channelMock) State() xmpp.State                              { return m.StateFunc() }
func (m *channelMock) IsConnected() bool                              { return m.IsConnectedFunc() }
func (m *channelMock) SetAccessToken(accessToken string)              { m.SetAccessTokenFunc(accessToken) }

type senderMock struct {
	events []notification.Event
}

func (m *senderMock) Send(evt notification.Event) {
	m.events = append(m.events, evt)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestApp_Version(t *testing.T) {
	buf := bytes.NewBuffer(nil)

	err := New(buf, []string{"xmppnotify", "--version"}).Run()

	require.NoError(t, err)
	require.Equal(t, "xmppnotify version: v0.1.0\n", buf.String())
}

func TestApp_Help(t *testing.T) {
	buf := bytes.NewBuffer(nil)

	err := New(buf, []string{"xmppnotify", "--help"}).Run()

	require.NoError(t, err)
	require.Contains(t, buf.String(), "Usage: xmppnotify [options]")
}

func TestApp_InvalidConfigFile(t *testing.T) {
	buf := bytes.NewBuffer(nil)

	err := New(buf, []string{"xmppnotify", "--config", filepath.Join(t.TempDir(), "missing.yaml")}).Run()

	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	// given
	dir := t.TempDir()
	tokenFile := writeFile(t, dir, "token", "ya29.token\n")
	cfgFile := writeFile(t, dir, "config.yaml", `
logger:
  level: debug

xmpp:
  account: robot@clouddevices.gserviceaccount.com
  access_token_file: `+tokenFile+`
  ping:
    interval: 2m

webhook:
  url: http://127.0.0.1:8080/events
`)

	// when
	cfg, err := loadConfig(cfgFile)

	// then
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, 6060, cfg.HTTPPort)
	require.Equal(t, "robot@clouddevices.gserviceaccount.com", cfg.XMPP.Account)
	require.Equal(t, "ya29.token", cfg.XMPP.AccessToken)
	require.Equal(t, "talk.google.com:5223", cfg.XMPP.Endpoint)
	require.Equal(t, 131072, cfg.XMPP.MaxStanzaSize)
	require.Equal(t, 2*time.Minute, cfg.XMPP.Ping.Interval)
	require.Equal(t, 30*time.Second, cfg.XMPP.Ping.Timeout)
	require.Equal(t, 5*time.Second, cfg.XMPP.Ping.FastInterval)
	require.Equal(t, 30*time.Second, cfg.XMPP.Backoff.InitialDelay)
	require.Equal(t, 10*time.Minute, cfg.XMPP.Backoff.MaximumBackoff)
	require.Equal(t, float64(2), cfg.XMPP.Backoff.MultiplyFactor)
	require.Equal(t, 10*time.Second, cfg.Connectivity.PollInterval)
	require.Equal(t, "http://127.0.0.1:8080/events", cfg.Webhook.URL)
	require.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	var tests = []struct {
		name   string
		config string
	}{
		{
			name:   "MissingAccount",
			config: "xmpp:\n  access_token: ya29.token\n",
		},
		{
			name:   "MissingToken",
			config: "xmpp:\n  account: robot@clouddevices.gserviceaccount.com\n",
		},
		{
			name:   "MissingTokenFile",
			config: "xmpp:\n  account: robot@clouddevices.gserviceaccount.com\n  access_token_file: /nonexistent/token\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgFile := writeFile(t, t.TempDir(), "config.yaml", tt.config)

			_, err := loadConfig(cfgFile)
			require.Error(t, err)
		})
	}
}

func TestDelegate_ForwardsEvents(t *testing.T) {
	// given
	sender := &senderMock{}
	d := &delegate{sender: sender, logger: kitlog.NewNopLogger()}

	// when
	d.OnConnected("xmpp")
	d.OnCommandCreated(map[string]interface{}{"id": "c1"}, "xmpp")
	d.OnDeviceDeleted("d1")
	d.OnDisconnected()

	// then
	require.Len(t, sender.events, 4)
	require.Equal(t, notification.ConnectedEvent, sender.events[0].Type)
	require.Equal(t, "xmpp", sender.events[0].Channel)
	require.Equal(t, notification.CommandCreatedType, sender.events[1].Type)
	require.Equal(t, "c1", sender.events[1].Command["id"])
	require.Equal(t, notification.DeviceDeletedType, sender.events[2].Type)
	require.Equal(t, "d1", sender.events[2].DeviceID)
	require.Equal(t, notification.DisconnectedEvent, sender.events[3].Type)
}

func TestDelegate_PermanentFailureRefreshesToken(t *testing.T) {
	// given
	tokenFile := writeFile(t, t.TempDir(), "token", "ya29.new")

	var setToken string
	var started int
	chMock := &channelMock{
		SetAccessTokenFunc: func(accessToken string) { setToken = accessToken },
		StartFunc: func(_ notification.Delegate) error {
			started++
			return nil
		},
		StateFunc: func() xmpp.State { return xmpp.AuthenticationFailed },
	}
	fatalCh := make(chan error, 1)
	d := &delegate{
		ch:          chMock,
		sender:      &senderMock{},
		tokenFile:   tokenFile,
		accessToken: "ya29.old",
		fatalCh:     fatalCh,
		logger:      kitlog.NewNopLogger(),
	}

	// when
	d.OnPermanentFailure()

	// then
	require.Equal(t, "ya29.new", setToken)
	require.Equal(t, 1, started)
	require.Len(t, fatalCh, 0)

	// rejected again with the same token
	d.OnPermanentFailure()

	require.Equal(t, 1, started)
	require.Equal(t, errPermanentFailure, <-fatalCh)
}

func TestDelegate_PermanentFailure(t *testing.T) {
	var tests = []struct {
		name          string
		state         xmpp.State
		tokenFile     bool
		reconnectErr  error
		expectedErr   error
		expectedRetry int
	}{
		{name: "AuthenticationFailed", state: xmpp.AuthenticationFailed, expectedErr: errPermanentFailure},
		{name: "AuthenticationFailedSameToken", state: xmpp.AuthenticationFailed, tokenFile: true, expectedErr: errPermanentFailure},
		{name: "HandshakeFailure", state: xmpp.NotStarted, expectedRetry: 1},
		{name: "HandshakeFailureSameToken", state: xmpp.NotStarted, tokenFile: true, expectedRetry: 1},
		{name: "ReconnectError", state: xmpp.NotStarted, reconnectErr: xmpp.ErrAlreadyStarted, expectedErr: xmpp.ErrAlreadyStarted, expectedRetry: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// given
			var reconnects int
			chMock := &channelMock{
				StateFunc: func() xmpp.State { return tt.state },
				ReconnectFunc: func(_ notification.Delegate) error {
					reconnects++
					return tt.reconnectErr
				},
			}
			fatalCh := make(chan error, 1)
			sender := &senderMock{}
			d := &delegate{
				ch:          chMock,
				sender:      sender,
				accessToken: "ya29.current",
				fatalCh:     fatalCh,
				logger:      kitlog.NewNopLogger(),
			}
			if tt.tokenFile {
				d.tokenFile = writeFile(t, t.TempDir(), "token", "ya29.current\n")
			}

			// when
			d.OnPermanentFailure()

			// then
			require.Equal(t, notification.PermanentFailureEvent, sender.events[0].Type)
			require.Equal(t, tt.expectedRetry, reconnects)
			if tt.expectedErr != nil {
				require.Equal(t, tt.expectedErr, <-fatalCh)
			} else {
				require.Len(t, fatalCh, 0)
			}
		})
	}
}

func TestChannelService(t *testing.T) {
	// given
	r := taskrunner.New("app-test")
	defer func() { _ = r.Stop(context.Background()) }()

	var connected bool
	chMock := &channelMock{
		StartFunc: func(_ notification.Delegate) error {
			connected = true
			return nil
		},
		StopFunc:        func() { connected = false },
		IsConnectedFunc: func() bool { return connected },
	}
	svc := newChannelService(chMock, r, &delegate{})

	// when
	require.NoError(t, svc.Start(context.Background()))
	isConnected, err := svc.IsConnected(context.Background())

	// then
	require.NoError(t, err)
	require.True(t, isConnected)

	require.NoError(t, svc.Stop(context.Background()))
	isConnected, err = svc.IsConnected(context.Background())
	require.NoError(t, err)
	require.False(t, isConnected)
}

func TestHTTPServer_Health(t *testing.T) {
	var tests = []struct {
		name           string
		connected      bool
		err            error
		expectedStatus int
	}{
		{name: "Subscribed", connected: true, expectedStatus: http.StatusOK},
		{name: "NotSubscribed", connected: false, expectedStatus: http.StatusServiceUnavailable},
		{name: "Error", err: errors.New("timeout"), expectedStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newHTTPServer(0, func(_ context.Context) (bool, error) {
				return tt.connected, tt.err
			}, kitlog.NewNopLogger())

			rec := httptest.NewRecorder()
			srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			require.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}
