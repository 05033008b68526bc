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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"
	"github.com/ortuman/xmppnotify/pkg/log"
	"github.com/ortuman/xmppnotify/pkg/notification"
	"github.com/ortuman/xmppnotify/pkg/xmpp"
)

// ConnectivityConfig defines network connectivity monitoring configuration.
type ConnectivityConfig struct {
	// PollInterval is the time between network interface checks.
	PollInterval time.Duration `fig:"poll_interval" default:"10s"`
}

// Config defines xmppnotify configuration.
type Config struct {
	Logger log.Config `fig:"logger"`

	HTTPPort int `fig:"http_port" default:"6060"`

	XMPP         xmpp.Config                `fig:"xmpp"`
	Connectivity ConnectivityConfig         `fig:"connectivity"`
	Webhook      notification.WebhookConfig `fig:"webhook"`
}

func loadConfig(configFile string) (*Config, error) {
	var cfg Config
	file := filepath.Base(configFile)
	dir := filepath.Dir(configFile)

	err := fig.Load(&cfg, fig.File(file), fig.Dirs(dir))
	if err != nil {
		return nil, err
	}
	if len(cfg.XMPP.AccessTokenFile) > 0 {
		token, err := readAccessToken(cfg.XMPP.AccessTokenFile)
		if err != nil {
			return nil, err
		}
		cfg.XMPP.AccessToken = token
	}
	if len(cfg.XMPP.AccessToken) == 0 {
		return nil, fmt.Errorf("app: missing xmpp access token")
	}
	return &cfg, nil
}

func readAccessToken(tokenFile string) (string, error) {
	b, err := os.ReadFile(tokenFile)
	if err != nil {
		return "", fmt.Errorf("app: failed to read access token file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
