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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ObjectEntry is one element of an objectList: a panel object name plus
// either params (writes, notifications), keys (subscriptions) or changes
// (delta notifications).
type ObjectEntry struct {
	Objnam  string                 `json:"objnam"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Keys    []string               `json:"keys,omitempty"`
	Changes map[string]interface{} `json:"changes,omitempty"`
}

// Frame is a single decoded JSON message from the panel's line protocol.
// Outbound requests use the same shape with the response fields empty.
type Frame struct {
	Command     string                 `json:"command"`
	MessageID   string                 `json:"messageID,omitempty"`
	QueryName   string                 `json:"queryName,omitempty"`
	Arguments   string                 `json:"arguments,omitempty"`
	Response    string                 `json:"response,omitempty"`
	Description string                 `json:"description,omitempty"`
	Answer      map[string]interface{} `json:"answer,omitempty"`
	ObjectList  []ObjectEntry          `json:"objectList,omitempty"`
}

// GenerateMessageID returns a fresh correlation id
func GenerateMessageID() string {
	return uuid.New().String()
}

// ValidMessageID reports whether id is a well-formed correlation id
func ValidMessageID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// NewQueryRequest builds a hardware-definition query for one discovery step
func NewQueryRequest(argument string) *Frame {
	return &Frame{
		Command:   CommandGetQuery,
		QueryName: QueryGetHardwareDefinition,
		Arguments: argument,
		MessageID: GenerateMessageID(),
	}
}

// NewWriteRequest builds a parameter write for the given objects
func NewWriteRequest(objects []ObjectEntry) *Frame {
	return &Frame{
		Command:    CommandSetParamList,
		ObjectList: objects,
		MessageID:  GenerateMessageID(),
	}
}

// NewSubscribeRequest builds a change-notification subscription for the
// given object names and parameter keys
func NewSubscribeRequest(objnam string, keys []string) *Frame {
	return &Frame{
		Command:    CommandRequestParamList,
		ObjectList: []ObjectEntry{{Objnam: objnam, Keys: keys}},
		MessageID:  GenerateMessageID(),
	}
}

// IsOK reports whether the frame carries a success status. Frames without a
// response field (notifications) count as OK.
func (f *Frame) IsOK() bool {
	return f.Response == "" || f.Response == StatusOK
}

// IsDiscoveryAnswer reports whether the frame is an answer to a
// hardware-definition query
func (f *Frame) IsDiscoveryAnswer() bool {
	return f.Command == CommandSendQuery && f.QueryName == QueryGetHardwareDefinition
}

// Serialize encodes the frame as a single JSON line without the trailing
// newline
func (f *Frame) Serialize() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}
	return data, nil
}

// ParseFrame decodes one JSON line into a frame
func ParseFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	if frame.Command == "" {
		return nil, fmt.Errorf("frame missing command field")
	}
	return &frame, nil
}

// ValidateRequest checks an outbound frame for the fields its command kind
// requires
func ValidateRequest(f *Frame) error {
	switch f.Command {
	case CommandGetQuery:
		if f.QueryName == "" {
			return fmt.Errorf("query request missing queryName")
		}
		if f.Arguments == "" {
			return fmt.Errorf("query request missing arguments")
		}
	case CommandSetParamList, CommandWriteParamList, CommandRequestParamList:
		if len(f.ObjectList) == 0 {
			return fmt.Errorf("%s request missing objectList", f.Command)
		}
	case CommandPing:
		// No extra fields
	default:
		return fmt.Errorf("unknown request command: %s", f.Command)
	}
	if f.MessageID == "" {
		return fmt.Errorf("request missing messageID")
	}
	return nil
}
