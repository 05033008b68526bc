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

package sasl

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
	melliumsasl "mellium.im/sasl"
)

func TestAuthStanza(t *testing.T) {
	stanza, err := AuthStanza("robot@example.com", "token-123")
	require.NoError(t, err)

	payload := base64.StdEncoding.EncodeToString([]byte("\x00robot@example.com\x00token-123"))
	require.Equal(t,
		"<auth xmlns='urn:ietf:params:xml:ns:xmpp-sasl' mechanism='X-OAUTH2' auth:service='oauth2' "+
			"auth:allow-non-google-login='true' auth:client-uses-full-bind-result='true' "+
			"xmlns:auth='http://www.google.com/talk/protocol/auth'>"+payload+"</auth>",
		stanza,
	)
}

func TestXOAuth2_ClientSingleStep(t *testing.T) {
	c := melliumsasl.NewClient(XOAuth2, melliumsasl.Credentials(func() ([]byte, []byte, []byte) {
		return []byte("user"), []byte("tok"), nil
	}))
	more, resp, err := c.Step(nil)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, []byte("\x00user\x00tok"), resp)

	_, _, err = c.Step([]byte("challenge"))
	require.Equal(t, melliumsasl.ErrTooManySteps, err)
}

func TestXOAuth2_Server(t *testing.T) {
	var tests = []struct {
		name        string
		payload     string
		expectedErr error
	}{
		{name: "Valid", payload: "\x00user\x00tok"},
		{name: "WrongToken", payload: "\x00user\x00bad", expectedErr: melliumsasl.ErrAuthn},
		{name: "Malformed", payload: "user\x00tok", expectedErr: melliumsasl.ErrInvalidChallenge},
		{name: "EmptyToken", payload: "\x00user\x00", expectedErr: melliumsasl.ErrInvalidChallenge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := melliumsasl.NewServer(XOAuth2, func(n *melliumsasl.Negotiator) bool {
				user, pass, _ := n.Credentials()
				return string(user) == "user" && string(pass) == "tok"
			})
			_, _, err := s.Step([]byte(tt.payload))
			require.Equal(t, tt.expectedErr, err)
		})
	}
}
