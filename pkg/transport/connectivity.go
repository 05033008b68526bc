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
	"net"
	"sort"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var interfaceAddresses = net.InterfaceAddrs

// ConnectivityMonitor polls local network interfaces and reports address changes.
type ConnectivityMonitor struct {
	interval time.Duration
	notify   func()
	logger   kitlog.Logger

	lastAddrs string
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewConnectivityMonitor returns a new monitor that invokes notify every time
// the set of non-loopback interface addresses changes.
func NewConnectivityMonitor(interval time.Duration, notify func(), logger kitlog.Logger) *ConnectivityMonitor {
	return &ConnectivityMonitor{
		interval: interval,
		notify:   notify,
		logger:   kitlog.With(logger, "component", "connectivity"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts polling network interfaces.
func (m *ConnectivityMonitor) Start(_ context.Context) error {
	addrs, err := localAddresses()
	if err != nil {
		return err
	}
	m.lastAddrs = addrs

	go m.loop()

	level.Info(m.logger).Log("msg", "started connectivity monitor", "interval", m.interval)
	return nil
}

// Stop stops polling network interfaces.
func (m *ConnectivityMonitor) Stop(ctx context.Context) error {
	close(m.stopCh)
	select {
	case <-m.doneCh:
		level.Info(m.logger).Log("msg", "stopped connectivity monitor")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *ConnectivityMonitor) loop() {
	defer close(m.doneCh)

	tc := time.NewTicker(m.interval)
	defer tc.Stop()

	for {
		select {
		case <-tc.C:
			if m.poll() {
				m.notify()
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *ConnectivityMonitor) poll() bool {
	addrs, err := localAddresses()
	if err != nil {
		level.Warn(m.logger).Log("msg", "failed to list interface addresses", "err", err)
		return false
	}
	if addrs == m.lastAddrs {
		return false
	}
	level.Info(m.logger).Log("msg", "connectivity changed", "addrs", addrs)
	m.lastAddrs = addrs
	return true
}

func localAddresses() (string, error) {
	addrs, err := interfaceAddresses()
	if err != nil {
		return "", err
	}
	var ips []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ips = append(ips, ipNet.IP.String())
	}
	sort.Strings(ips)
	return strings.Join(ips, ","), nil
}
