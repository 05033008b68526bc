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
	"errors"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppnotify/pkg/notification"
	"github.com/ortuman/xmppnotify/pkg/xmpp"
)

var errPermanentFailure = errors.New("app: authentication failed and no new access token is available")

type eventSender interface {
	Send(evt notification.Event)
}

// delegate receives channel events on the channel task runner.
type delegate struct {
	ch          channel
	sender      eventSender
	tokenFile   string
	accessToken string
	fatalCh     chan<- error
	logger      kitlog.Logger
}

func (d *delegate) OnConnected(channelName string) {
	level.Info(d.logger).Log("msg", "notification channel connected", "channel", channelName)
	d.sender.Send(notification.Event{Type: notification.ConnectedEvent, Channel: channelName})
}

func (d *delegate) OnDisconnected() {
	level.Info(d.logger).Log("msg", "notification channel disconnected")
	d.sender.Send(notification.Event{Type: notification.DisconnectedEvent})
}

func (d *delegate) OnPermanentFailure() {
	d.sender.Send(notification.Event{Type: notification.PermanentFailureEvent})

	switch {
	case d.refreshAccessToken():
		level.Info(d.logger).Log("msg", "access token refreshed, restarting channel")
		if err := d.ch.Start(d); err != nil {
			level.Error(d.logger).Log("msg", "failed to restart channel", "err", err)
			d.fail(err)
		}

	case d.ch.State() == xmpp.AuthenticationFailed:
		level.Error(d.logger).Log("msg", "notification channel permanently failed")
		d.fail(errPermanentFailure)

	default:
		level.Warn(d.logger).Log("msg", "notification channel failed, reconnecting")
		if err := d.ch.Reconnect(d); err != nil {
			level.Error(d.logger).Log("msg", "failed to reconnect channel", "err", err)
			d.fail(err)
		}
	}
}

// refreshAccessToken re-reads the access token file and hands a changed token to the channel.
func (d *delegate) refreshAccessToken() bool {
	if len(d.tokenFile) == 0 {
		return false
	}
	token, err := readAccessToken(d.tokenFile)
	if err != nil {
		level.Warn(d.logger).Log("msg", "failed to refresh access token", "err", err)
		return false
	}
	if len(token) == 0 || token == d.accessToken {
		return false
	}
	d.accessToken = token
	d.ch.SetAccessToken(token)
	return true
}

func (d *delegate) OnCommandCreated(command map[string]interface{}, channelName string) {
	level.Info(d.logger).Log("msg", "command created", "channel", channelName, "command_id", command["id"])
	d.sender.Send(notification.Event{
		Type:    notification.CommandCreatedType,
		Channel: channelName,
		Command: command,
	})
}

func (d *delegate) OnDeviceDeleted(deviceID string) {
	level.Warn(d.logger).Log("msg", "device deleted", "device_id", deviceID)
	d.sender.Send(notification.Event{Type: notification.DeviceDeletedType, DeviceID: deviceID})
}

func (d *delegate) fail(err error) {
	select {
	case d.fatalCh <- err:
	default:
	}
}
