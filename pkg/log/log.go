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

package log

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	debugLevel   = "debug"
	infoLevel    = "info"
	warningLevel = "warn"
	errorLevel   = "error"
	offLevel     = "off"

	jsonFormat = "json"
)

// Config defines logger configuration.
type Config struct {
	// Level is the minimum logged level: debug, info, warn, error or off.
	Level string `fig:"level" default:"info"`

	// Format is either logfmt or json.
	Format string `fig:"format" default:"logfmt"`

	// OutputPath is the file where log lines are appended. Logs go to stderr if empty.
	OutputPath string `fig:"output_path"`
}

// New creates a go-kit logger writing to w.
func New(w io.Writer, lv, format string) (log.Logger, error) {
	allow, err := levelOption(lv)
	if err != nil {
		return nil, err
	}
	var logger log.Logger

	sw := log.NewSyncWriter(w)
	if format == jsonFormat {
		logger = log.NewJSONLogger(sw)
	} else {
		logger = log.NewLogfmtLogger(sw)
	}
	return log.With(level.NewFilter(logger, allow), "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}

// Open creates a logger from cfg. The returned closer releases the output file, if any.
func Open(cfg Config) (log.Logger, io.Closer, error) {
	if len(cfg.OutputPath) == 0 {
		logger, err := New(os.Stderr, cfg.Level, cfg.Format)
		return logger, nopCloser{}, err
	}
	f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	logger, err := New(f, cfg.Level, cfg.Format)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return logger, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func levelOption(lv string) (level.Option, error) {
	switch lv {
	case debugLevel:
		return level.AllowDebug(), nil
	case infoLevel, "":
		return level.AllowInfo(), nil
	case warningLevel:
		return level.AllowWarn(), nil
	case errorLevel:
		return level.AllowError(), nil
	case offLevel:
		return level.AllowNone(), nil
	}
	return nil, fmt.Errorf("log: unrecognized level: %s", lv)
}
