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

package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version represents xmppnotify current version.
var Version = NewVersion(0, 1, 0)

// SemanticVersion represents a semantic version value.
type SemanticVersion struct {
	major uint
	minor uint
	patch uint
}

// NewVersion returns a new SemanticVersion value.
func NewVersion(major, minor, patch uint) *SemanticVersion {
	return &SemanticVersion{
		major: major,
		minor: minor,
		patch: patch,
	}
}

// Parse parses a "vX.Y.Z" or "X.Y.Z" string.
func Parse(s string) (*SemanticVersion, error) {
	parts := strings.Split(strings.TrimPrefix(s, "v"), ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("version: malformed version: %s", s)
	}
	var nums [3]uint
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("version: malformed version: %s", s)
		}
		nums[i] = uint(n)
	}
	return NewVersion(nums[0], nums[1], nums[2]), nil
}

// Major returns version major value.
func (v *SemanticVersion) Major() uint { return v.major }

// Minor returns version minor value.
func (v *SemanticVersion) Minor() uint { return v.minor }

// Patch returns version patch value.
func (v *SemanticVersion) Patch() uint { return v.patch }

// String returns the "vX.Y.Z" representation of v.
func (v *SemanticVersion) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.major, v.minor, v.patch)
}

// IsEqual tells whether v is equal to v2.
func (v *SemanticVersion) IsEqual(v2 *SemanticVersion) bool {
	return v.compare(v2) == 0
}

// IsLess tells whether v precedes v2.
func (v *SemanticVersion) IsLess(v2 *SemanticVersion) bool {
	return v.compare(v2) < 0
}

// IsLessOrEqual tells whether v precedes or is equal to v2.
func (v *SemanticVersion) IsLessOrEqual(v2 *SemanticVersion) bool {
	return v.compare(v2) <= 0
}

// IsGreater tells whether v follows v2.
func (v *SemanticVersion) IsGreater(v2 *SemanticVersion) bool {
	return v.compare(v2) > 0
}

// IsGreaterOrEqual tells whether v follows or is equal to v2.
func (v *SemanticVersion) IsGreaterOrEqual(v2 *SemanticVersion) bool {
	return v.compare(v2) >= 0
}

func (v *SemanticVersion) compare(v2 *SemanticVersion) int {
	switch {
	case v.major != v2.major:
		return cmpUint(v.major, v2.major)
	case v.minor != v2.minor:
		return cmpUint(v.minor, v2.minor)
	default:
		return cmpUint(v.patch, v2.patch)
	}
}

func cmpUint(a, b uint) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
