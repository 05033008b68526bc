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

package taskrunner

// Scope groups callbacks that can be invalidated at once.
// A scope must only be used from its task runner.
type Scope struct {
	gen uint64
}

// Token identifies a scope generation.
type Token struct {
	s   *Scope
	gen uint64
}

// Valid tells whether the scope has not been invalidated since the token was issued.
func (t Token) Valid() bool {
	return t.s != nil && t.s.gen == t.gen
}

// Token returns a token bound to current scope generation.
func (s *Scope) Token() Token {
	return Token{s: s, gen: s.gen}
}

// Invalidate invalidates every previously issued token.
func (s *Scope) Invalidate() {
	s.gen++
}

// Wrap returns a function that runs fn only if the scope is still valid at call time.
func (s *Scope) Wrap(fn func()) func() {
	tok := s.Token()
	return func() {
		if tok.Valid() {
			fn()
		}
	}
}
