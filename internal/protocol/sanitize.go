// Copyright 2025 Arion Yau
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

package protocol

import (
	"strings"

	"cabana/internal/logger"
)

// Characters stripped from free-text fields before a command goes to the
// panel. The firmware's parser chokes on markup characters and a crafted
// name could otherwise be reflected into other clients' sessions.
const denylist = "<>&\"'`;\\"

// SanitizeRequest repairs an outbound frame in place: free-text fields and
// object identifiers are cleaned, and an invalid correlation id is replaced
// with a fresh one. Sanitization never rejects a command, it repairs and
// forwards.
func SanitizeRequest(f *Frame) {
	log := logger.Component("sanitizer")

	if cleaned := stripDenylist(f.Arguments); cleaned != f.Arguments {
		log.Warn().
			Str("before", f.Arguments).
			Str("after", cleaned).
			Msg("Stripped markup characters from request arguments")
		f.Arguments = cleaned
	}

	for i := range f.ObjectList {
		entry := &f.ObjectList[i]
		if cleaned := cleanIdentifier(entry.Objnam); cleaned != entry.Objnam {
			log.Warn().
				Str("before", entry.Objnam).
				Str("after", cleaned).
				Msg("Cleaned object identifier")
			entry.Objnam = cleaned
		}
		for key, value := range entry.Params {
			if text, ok := value.(string); ok {
				if cleaned := stripDenylist(text); cleaned != text {
					log.Warn().
						Str("objnam", entry.Objnam).
						Str("param", key).
						Msg("Stripped markup characters from parameter value")
					entry.Params[key] = cleaned
				}
			}
		}
	}

	if !ValidMessageID(f.MessageID) {
		regenerated := GenerateMessageID()
		log.Warn().
			Str("invalid_id", f.MessageID).
			Str("message_id", regenerated).
			Msg("Regenerated malformed correlation id")
		f.MessageID = regenerated
	}
}

// stripDenylist removes markup-injection characters from free text
func stripDenylist(s string) string {
	if !strings.ContainsAny(s, denylist) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if !strings.ContainsRune(denylist, c) {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// cleanIdentifier constrains an object name to alphanumerics plus '_'/'-'
func cleanIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '_' || c == '-':
			b.WriteRune(c)
		}
	}
	return b.String()
}
