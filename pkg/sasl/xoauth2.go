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
	"bytes"
	"encoding/base64"
	"fmt"

	melliumsasl "mellium.im/sasl"
)

// MechanismName is the Google Talk OAuth2 SASL mechanism name.
const MechanismName = "X-OAUTH2"

const authStanzaFormat = `<auth xmlns='urn:ietf:params:xml:ns:xmpp-sasl' mechanism='X-OAUTH2' ` +
	`auth:service='oauth2' auth:allow-non-google-login='true' auth:client-uses-full-bind-result='true' ` +
	`xmlns:auth='http://www.google.com/talk/protocol/auth'>%s</auth>`

// XOAuth2 is the X-OAUTH2 SASL mechanism.
// Its single client message is "authzid\x00account\x00token".
var XOAuth2 = melliumsasl.Mechanism{
	Name: MechanismName,
	Start: func(m *melliumsasl.Negotiator) (bool, []byte, interface{}, error) {
		username, password, identity := m.Credentials()

		payload := make([]byte, 0, len(identity)+len(username)+len(password)+2)
		payload = append(payload, identity...)
		payload = append(payload, 0)
		payload = append(payload, username...)
		payload = append(payload, 0)
		payload = append(payload, password...)
		return false, payload, nil, nil
	},
	Next: func(m *melliumsasl.Negotiator, challenge []byte, _ interface{}) (bool, []byte, interface{}, error) {
		state := m.State()
		if state&melliumsasl.Receiving != melliumsasl.Receiving || state&melliumsasl.StepMask != melliumsasl.AuthTextSent {
			return false, nil, nil, melliumsasl.ErrTooManySteps
		}
		parts := bytes.Split(challenge, []byte{0})
		if len(parts) != 3 || len(parts[1]) == 0 || len(parts[2]) == 0 {
			return false, nil, nil, melliumsasl.ErrInvalidChallenge
		}
		if m.Permissions(melliumsasl.Credentials(func() ([]byte, []byte, []byte) {
			return parts[1], parts[2], parts[0]
		})) {
			return false, nil, nil, nil
		}
		return false, nil, nil, melliumsasl.ErrAuthn
	},
}

// AuthStanza returns the SASL auth element that authenticates account with an OAuth2 access token.
func AuthStanza(account, accessToken string) (string, error) {
	c := melliumsasl.NewClient(XOAuth2, melliumsasl.Credentials(func() ([]byte, []byte, []byte) {
		return []byte(account), []byte(accessToken), nil
	}))
	_, resp, err := c.Step(nil)
	if err != nil {
		return "", fmt.Errorf("sasl: %w", err)
	}
	return fmt.Sprintf(authStanzaFormat, base64.StdEncoding.EncodeToString(resp)), nil
}
