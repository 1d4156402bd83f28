// Copyright 2025 Tom Barlow
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

package capability

import "strings"

// Many backends signal failure through text rather than structured status,
// so a nominally-successful outcome must be scanned for known failure
// signatures. The signature list is heuristic: backends that legitimately
// return words like "timeout" can produce false positives. Known source of
// flaky behavior; covered explicitly by tests.
var softFailureSignatures = []string{
	// Explicit failure markers
	"error:",
	"failed:",
	"fatal:",
	"exception:",

	// Network
	"no such host",
	"connection refused",
	"connection reset",
	"connection timed out",
	"dial tcp",
	"i/o timeout",
	"request timeout",
	"network is unreachable",

	// HTTP auth
	"401 unauthorized",
	"403 forbidden",
	"http 401",
	"http 403",
	"unauthorized",
	"forbidden",

	// Kubernetes credential errors
	"you must be logged in to the server",
	"unable to connect to the server",
	"credentials have expired",

	// Stack traces
	"traceback (most recent call last)",
	"panic:",
	"[running]:",
}

// snippetRadius is the number of characters of context extracted around a
// matched signature.
const snippetRadius = 60

// DetectSoftFailure scans result text for known failure signatures.
// Returns true and a context snippet around the first match.
func DetectSoftFailure(text string) (bool, string) {
	if text == "" {
		return false, ""
	}

	lower := strings.ToLower(text)
	for _, sig := range softFailureSignatures {
		idx := strings.Index(lower, sig)
		if idx < 0 {
			continue
		}
		return true, extractSnippet(text, idx, idx+len(sig))
	}

	return false, ""
}

// extractSnippet pulls the text surrounding a signature match, trimmed to
// single-line form for log and error readability.
func extractSnippet(text string, start, end int) string {
	from := start - snippetRadius
	if from < 0 {
		from = 0
	}
	to := end + snippetRadius
	if to > len(text) {
		to = len(text)
	}

	snippet := text[from:to]
	snippet = strings.ReplaceAll(snippet, "\n", " ")
	snippet = strings.ReplaceAll(snippet, "\t", " ")
	return strings.TrimSpace(snippet)
}
