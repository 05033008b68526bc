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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackal-xmpp/runqueue/v2"
	"github.com/sony/gobreaker"
)

// Event types forwarded to the webhook.
const (
	ConnectedEvent        = "CONNECTED"
	DisconnectedEvent     = "DISCONNECTED"
	PermanentFailureEvent = "PERMANENT_FAILURE"
)

// Event is the JSON document posted to the webhook.
type Event struct {
	Type      string                 `json:"type"`
	Channel   string                 `json:"channel,omitempty"`
	DeviceID  string                 `json:"deviceId,omitempty"`
	Command   map[string]interface{} `json:"command,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// WebhookConfig contains webhook forwarding configuration.
type WebhookConfig struct {
	// URL is the endpoint where events are posted. Forwarding is disabled if empty.
	URL string `fig:"url"`

	// AuthToken is sent as the request Authorization header.
	AuthToken string `fig:"auth_token"`

	// Timeout bounds every webhook request.
	Timeout time.Duration `fig:"timeout" default:"10s"`
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Webhook posts notification events to an HTTP endpoint.
// Requests are issued in order from a dedicated run queue.
type Webhook struct {
	cfg    WebhookConfig
	client httpClient
	cb     *gobreaker.CircuitBreaker
	rq     *runqueue.RunQueue
	logger kitlog.Logger
}

// NewWebhook returns a new webhook forwarder.
func NewWebhook(cfg WebhookConfig, logger kitlog.Logger) *Webhook {
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "webhook",
		}),
		rq:     runqueue.New("webhook"),
		logger: kitlog.With(logger, "component", "webhook"),
	}
}

// Enabled tells whether a webhook URL has been configured.
func (w *Webhook) Enabled() bool {
	return len(w.cfg.URL) > 0
}

// Send enqueues an event to be posted.
func (w *Webhook) Send(evt Event) {
	if !w.Enabled() {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	w.rq.Run(func() {
		if err := w.post(evt); err != nil {
			level.Warn(w.logger).Log("msg", "failed to post webhook event", "type", evt.Type, "err", err)
			return
		}
		level.Debug(w.logger).Log("msg", "posted webhook event", "type", evt.Type)
	})
}

// Start satisfies application starter interface.
func (w *Webhook) Start(_ context.Context) error {
	if w.Enabled() {
		level.Info(w.logger).Log("msg", "forwarding notifications", "url", w.cfg.URL)
	}
	return nil
}

// Stop waits until every enqueued event has been posted.
func (w *Webhook) Stop(ctx context.Context) error {
	doneCh := make(chan struct{})
	w.rq.Stop(func() { close(doneCh) })

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Webhook) post(evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = w.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequest(http.MethodPost, w.cfg.URL, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if len(w.cfg.AuthToken) > 0 {
			req.Header.Set("Authorization", w.cfg.AuthToken)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("response status code: %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
