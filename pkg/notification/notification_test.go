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

package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

type delegateMock struct {
	commands   []map[string]interface{}
	channels   []string
	deletedIDs []string
}

func (d *delegateMock) OnConnected(string)  {}
func (d *delegateMock) OnDisconnected()     {}
func (d *delegateMock) OnPermanentFailure() {}

func (d *delegateMock) OnCommandCreated(command map[string]interface{}, channelName string) {
	d.commands = append(d.commands, command)
	d.channels = append(d.channels, channelName)
}

func (d *delegateMock) OnDeviceDeleted(deviceID string) {
	d.deletedIDs = append(d.deletedIDs, deviceID)
}

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestParse(t *testing.T) {
	var tests = []struct {
		name string

		// input
		payload string

		// expectations
		expectedErr      bool
		expectedCommands int
		expectedDeleted  []string
	}{
		{
			name:             "CommandCreated",
			payload:          `{"kind":"clouddevices#notification","type":"COMMAND_CREATED","deviceId":"d1","command":{"id":"c1","name":"base.reboot"}}`,
			expectedCommands: 1,
		},
		{
			name:             "CommandCreatedEmptyCommand",
			payload:          `{"kind":"clouddevices#notification","type":"COMMAND_CREATED","command":{}}`,
			expectedCommands: 1,
		},
		{
			name:        "CommandCreatedMissingCommand",
			payload:     `{"kind":"clouddevices#notification","type":"COMMAND_CREATED"}`,
			expectedErr: true,
		},
		{
			name:            "DeviceDeleted",
			payload:         `{"kind":"clouddevices#notification","type":"DEVICE_DELETED","deviceId":"d1"}`,
			expectedDeleted: []string{"d1"},
		},
		{
			name:        "DeviceDeletedMissingID",
			payload:     `{"kind":"clouddevices#notification","type":"DEVICE_DELETED"}`,
			expectedErr: true,
		},
		{
			name:    "UnknownTypeIgnored",
			payload: `{"kind":"clouddevices#notification","type":"DEVICE_UPDATED"}`,
		},
		{
			name:        "InvalidKind",
			payload:     `{"kind":"foo","type":"COMMAND_CREATED","command":{}}`,
			expectedErr: true,
		},
		{
			name:        "MissingType",
			payload:     `{"kind":"clouddevices#notification"}`,
			expectedErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &delegateMock{}
			err := Parse(decode(t, tt.payload), d, "xmpp")

			if tt.expectedErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Len(t, d.commands, tt.expectedCommands)
			require.Equal(t, tt.expectedDeleted, d.deletedIDs)
		})
	}
}

func TestParse_CommandPayload(t *testing.T) {
	d := &delegateMock{}
	payload := decode(t, `{"kind":"clouddevices#notification","type":"COMMAND_CREATED","command":{"id":"c1","name":"base.reboot"}}`)

	require.NoError(t, Parse(payload, d, "xmpp"))
	require.Equal(t, "c1", d.commands[0]["id"])
	require.Equal(t, "base.reboot", d.commands[0]["name"])
	require.Equal(t, []string{"xmpp"}, d.channels)
}

func TestWebhook_Send(t *testing.T) {
	var mu sync.Mutex
	var received []Event
	var authHeaders []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)

		var evt Event
		_ = json.Unmarshal(b, &evt)

		mu.Lock()
		received = append(received, evt)
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{URL: srv.URL, AuthToken: "Bearer s3cr3t", Timeout: time.Second}, kitlog.NewNopLogger())
	require.True(t, wh.Enabled())
	require.NoError(t, wh.Start(context.Background()))

	wh.Send(Event{Type: ConnectedEvent, Channel: "xmpp"})
	wh.Send(Event{Type: DeviceDeletedType, DeviceID: "d1"})

	require.NoError(t, wh.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	require.Equal(t, ConnectedEvent, received[0].Type)
	require.Equal(t, "xmpp", received[0].Channel)
	require.False(t, received[0].Timestamp.IsZero())
	require.Equal(t, "d1", received[1].DeviceID)
	require.Equal(t, []string{"Bearer s3cr3t", "Bearer s3cr3t"}, authHeaders)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{URL: srv.URL, Timeout: time.Second}, kitlog.NewNopLogger())
	require.Error(t, wh.post(Event{Type: ConnectedEvent}))
}

func TestWebhook_Disabled(t *testing.T) {
	wh := NewWebhook(WebhookConfig{}, kitlog.NewNopLogger())
	require.False(t, wh.Enabled())

	wh.Send(Event{Type: ConnectedEvent})
	require.NoError(t, wh.Stop(context.Background()))
}
