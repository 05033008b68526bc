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

package iq

import (
	"github.com/ortuman/xmppnotify/pkg/instance"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	iqOutgoingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppnotify",
			Subsystem: "iq",
			Name:      "outgoing_requests_total",
			Help:      "The total number of outgoing IQ requests.",
		},
		[]string{"instance", "type"},
	)
	iqIncomingResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppnotify",
			Subsystem: "iq",
			Name:      "incoming_responses_total",
			Help:      "The total number of incoming IQ responses.",
		},
		[]string{"instance", "type"},
	)
	iqIncomingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppnotify",
			Subsystem: "iq",
			Name:      "incoming_unsupported_requests_total",
			Help:      "The total number of server initiated IQ requests answered with an error.",
		},
		[]string{"instance", "type"},
	)
	iqRequestTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppnotify",
			Subsystem: "iq",
			Name:      "request_timeouts_total",
			Help:      "The total number of timed out IQ requests.",
		},
		[]string{"instance"},
	)
)

func init() {
	prometheus.MustRegister(iqOutgoingRequests)
	prometheus.MustRegister(iqIncomingResponses)
	prometheus.MustRegister(iqIncomingRequests)
	prometheus.MustRegister(iqRequestTimeouts)
}

func reportOutgoingRequest(typ string) {
	iqOutgoingRequests.With(prometheus.Labels{
		"instance": instance.ID(),
		"type":     typ,
	}).Inc()
}

func reportIncomingResponse(typ string) {
	iqIncomingResponses.With(prometheus.Labels{
		"instance": instance.ID(),
		"type":     typ,
	}).Inc()
}

func reportIncomingRequest(typ string) {
	iqIncomingRequests.With(prometheus.Labels{
		"instance": instance.ID(),
		"type":     typ,
	}).Inc()
}

func reportRequestTimeout() {
	iqRequestTimeouts.With(prometheus.Labels{
		"instance": instance.ID(),
	}).Inc()
}
