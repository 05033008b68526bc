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
	"github.com/ortuman/xmppnotify/pkg/instance"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	channelConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppnotify",
			Subsystem: "channel",
			Name:      "connect_attempts_total",
			Help:      "The total number of channel connection attempts.",
		},
		[]string{"instance", "status"},
	)
	channelConnectFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "xmppnotify",
			Subsystem: "channel",
			Name:      "connect_failures",
			Help:      "The number of connection failures currently accounted by the reconnection backoff.",
		},
		[]string{"instance"},
	)
	channelSubscribed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "xmppnotify",
			Subsystem: "channel",
			Name:      "subscribed",
			Help:      "Whether the channel is subscribed to push notifications.",
		},
		[]string{"instance"},
	)
	channelIncomingStanzas = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppnotify",
			Subsystem: "channel",
			Name:      "incoming_stanzas_total",
			Help:      "The total number of stanzas received by the channel.",
		},
		[]string{"instance", "name"},
	)
	channelRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppnotify",
			Subsystem: "channel",
			Name:      "restarts_total",
			Help:      "The total number of channel restarts.",
		},
		[]string{"instance"},
	)
	channelPings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppnotify",
			Subsystem: "channel",
			Name:      "pings_total",
			Help:      "The total number of pings sent to the server.",
		},
		[]string{"instance", "result"},
	)
)

func init() {
	prometheus.MustRegister(channelConnectAttempts)
	prometheus.MustRegister(channelConnectFailures)
	prometheus.MustRegister(channelSubscribed)
	prometheus.MustRegister(channelIncomingStanzas)
	prometheus.MustRegister(channelRestarts)
	prometheus.MustRegister(channelPings)
}

func reportConnectAttempt(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	channelConnectAttempts.With(prometheus.Labels{
		"instance": instance.ID(),
		"status":   status,
	}).Inc()
}

func reportConnectFailures(failures int) {
	channelConnectFailures.With(prometheus.Labels{
		"instance": instance.ID(),
	}).Set(float64(failures))
}

func reportSubscribed(subscribed bool) {
	var v float64
	if subscribed {
		v = 1
	}
	channelSubscribed.With(prometheus.Labels{
		"instance": instance.ID(),
	}).Set(v)
}

func reportIncomingStanza(name string) {
	channelIncomingStanzas.With(prometheus.Labels{
		"instance": instance.ID(),
		"name":     name,
	}).Inc()
}

func reportRestart() {
	channelRestarts.With(prometheus.Labels{
		"instance": instance.ID(),
	}).Inc()
}

func reportPing(result string) {
	channelPings.With(prometheus.Labels{
		"instance": instance.ID(),
		"result":   result,
	}).Inc()
}
