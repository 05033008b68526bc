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

import "errors"

// ErrClosed is delivered to operations issued on a closed stream.
var ErrClosed = errors.New("transport: stream closed")

// Stream is an asynchronous byte stream.
// Completion callbacks are always invoked from the stream task runner,
// never inline from the issuing call.
type Stream interface {
	// Read reads up to len(p) bytes into p and invokes cb once done.
	Read(p []byte, cb func(n int, err error))

	// Write writes p and invokes cb once the whole buffer has been written.
	Write(p []byte, cb func(err error))

	// CancelPendingOperations drops the callbacks of every outstanding operation.
	// Data received for a cancelled read is handed to the next one.
	CancelPendingOperations()

	// Close closes the stream. Outstanding callbacks are never invoked.
	Close() error
}

// Network opens streams and reports connectivity changes.
type Network interface {
	// OpenSSLSocket opens a TLS stream to host:port and invokes cb with the result.
	OpenSSLSocket(host string, port int, cb func(stm Stream, err error))

	// AddConnectionChangedCallback registers cb to be invoked on every connectivity change.
	AddConnectionChangedCallback(cb func())
}
