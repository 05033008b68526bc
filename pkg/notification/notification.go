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
	"errors"
	"fmt"
)

const (
	notificationKind = "clouddevices#notification"

	// CommandCreatedType is the type of a new command notification.
	CommandCreatedType = "COMMAND_CREATED"

	// DeviceDeletedType is the type of a device removal notification.
	DeviceDeletedType = "DEVICE_DELETED"
)

var (
	// ErrInvalidKind is returned by Parse when the payload is not a cloud devices notification.
	ErrInvalidKind = errors.New("notification: invalid kind")

	// ErrMissingType is returned by Parse when the payload has no type property.
	ErrMissingType = errors.New("notification: missing type")
)

// Delegate receives notification channel events.
type Delegate interface {
	// OnConnected is invoked once the channel is ready to deliver notifications.
	OnConnected(channelName string)

	// OnDisconnected is invoked when a connected channel goes down.
	OnDisconnected()

	// OnPermanentFailure is invoked when the channel gives up and needs new credentials.
	OnPermanentFailure()

	// OnCommandCreated is invoked for every new command notification.
	// command may be empty when the command was too large to be delivered.
	OnCommandCreated(command map[string]interface{}, channelName string)

	// OnDeviceDeleted is invoked when the cloud removes a device.
	OnDeviceDeleted(deviceID string)
}

// Parse interprets a decoded push notification payload and dispatches it to d.
// Unknown notification types are ignored.
func Parse(payload map[string]interface{}, d Delegate, channelName string) error {
	kind, _ := payload["kind"].(string)
	if kind != notificationKind {
		return ErrInvalidKind
	}
	typ, ok := payload["type"].(string)
	if !ok {
		return ErrMissingType
	}
	switch typ {
	case CommandCreatedType:
		cmd, ok := payload["command"].(map[string]interface{})
		if !ok {
			return fmt.Errorf("notification: %s missing 'command' property", typ)
		}
		d.OnCommandCreated(cmd, channelName)

	case DeviceDeletedType:
		deviceID, ok := payload["deviceId"].(string)
		if !ok {
			return fmt.Errorf("notification: %s missing 'deviceId' property", typ)
		}
		d.OnDeviceDeleted(deviceID)
	}
	return nil
}
