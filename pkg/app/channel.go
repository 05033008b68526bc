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
	"context"

	"github.com/ortuman/xmppnotify/pkg/notification"
	"github.com/ortuman/xmppnotify/pkg/taskrunner"
	"github.com/ortuman/xmppnotify/pkg/xmpp"
)

type channel interface {
	Start(delegate notification.Delegate) error
	Reconnect(delegate notification.Delegate) error
	Stop()
	State() xmpp.State
	IsConnected() bool
	SetAccessToken(accessToken string)
}

// channelService drives a channel from outside its task runner.
type channelService struct {
	ch       channel
	runner   taskrunner.TaskRunner
	delegate notification.Delegate
}

func newChannelService(ch channel, runner taskrunner.TaskRunner, delegate notification.Delegate) *channelService {
	return &channelService{
		ch:       ch,
		runner:   runner,
		delegate: delegate,
	}
}

func (s *channelService) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	s.runner.PostTask(func() {
		errCh <- s.ch.Start(s.delegate)
	})
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *channelService) Stop(ctx context.Context) error {
	doneCh := make(chan struct{})
	s.runner.PostTask(func() {
		s.ch.Stop()
		close(doneCh)
	})
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *channelService) IsConnected(ctx context.Context) (bool, error) {
	resCh := make(chan bool, 1)
	s.runner.PostTask(func() {
		resCh <- s.ch.IsConnected()
	})
	select {
	case connected := <-resCh:
		return connected, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
