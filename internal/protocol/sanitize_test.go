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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRequest(t *testing.T) {
	t.Run("strips markup from arguments", func(t *testing.T) {
		f := NewQueryRequest(`CIRCUITS<script>`)
		SanitizeRequest(f)
		assert.Equal(t, "CIRCUITSscript", f.Arguments)
	})

	t.Run("cleans object identifiers", func(t *testing.T) {
		f := NewWriteRequest([]ObjectEntry{{
			Objnam: "C00;01'--",
			Params: map[string]interface{}{"STATUS": "ON"},
		}})
		SanitizeRequest(f)
		assert.Equal(t, "C0001--", f.ObjectList[0].Objnam)
	})

	t.Run("strips markup from string params only", func(t *testing.T) {
		f := NewWriteRequest([]ObjectEntry{{
			Objnam: "B1101",
			Params: map[string]interface{}{
				"SNAME": `Spa "Jets" <hi>`,
				"LOTMP": 78,
			},
		}})
		SanitizeRequest(f)
		assert.Equal(t, "Spa Jets hi", f.ObjectList[0].Params["SNAME"])
		assert.Equal(t, 78, f.ObjectList[0].Params["LOTMP"])
	})

	t.Run("regenerates invalid correlation id", func(t *testing.T) {
		f := NewQueryRequest("PUMPS")
		f.MessageID = "not-a-uuid"
		SanitizeRequest(f)
		assert.True(t, ValidMessageID(f.MessageID))
		assert.NotEqual(t, "not-a-uuid", f.MessageID)
	})

	t.Run("keeps a valid correlation id", func(t *testing.T) {
		f := NewQueryRequest("PUMPS")
		original := f.MessageID
		SanitizeRequest(f)
		assert.Equal(t, original, f.MessageID)
	})

	t.Run("never rejects a command", func(t *testing.T) {
		f := &Frame{Command: CommandSetParamList, ObjectList: []ObjectEntry{{Objnam: ";;;"}}}
		SanitizeRequest(f)
		// Repaired, not dropped: the frame is still sendable
		assert.Equal(t, CommandSetParamList, f.Command)
		assert.True(t, ValidMessageID(f.MessageID))
	})
}

func TestValidateRequest(t *testing.T) {
	t.Run("valid query", func(t *testing.T) {
		assert.NoError(t, ValidateRequest(NewQueryRequest("CIRCUITS")))
	})

	t.Run("query missing arguments", func(t *testing.T) {
		f := NewQueryRequest("")
		assert.Error(t, ValidateRequest(f))
	})

	t.Run("write missing objectList", func(t *testing.T) {
		f := NewWriteRequest(nil)
		assert.Error(t, ValidateRequest(f))
	})

	t.Run("unknown command", func(t *testing.T) {
		assert.Error(t, ValidateRequest(&Frame{Command: "Reboot", MessageID: GenerateMessageID()}))
	})
}
