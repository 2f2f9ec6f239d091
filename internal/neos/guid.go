// Copyright (c) 2026 John Earle
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

package neos

import (
	"regexp"

	"github.com/google/uuid"
)

var (
	guidShape   = regexp.MustCompile(`^[0-9a-fA-F-]{36}$`)
	guidInShape = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

// ValidCaseID reports whether id is a 36-character GUID.
func ValidCaseID(id string) bool {
	if !guidShape.MatchString(id) {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// ExtractGUID returns the first GUID found in subject, or "".
func ExtractGUID(subject string) string {
	return guidInShape.FindString(subject)
}
