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

// Command kinds spoken by the panel firmware
const (
	CommandGetQuery         = "GetQuery"
	CommandSendQuery        = "SendQuery"
	CommandSetParamList     = "SetParamList"
	CommandRequestParamList = "RequestParamList"
	CommandNotifyList       = "NotifyList"
	CommandWriteParamList   = "WriteParamList"
	CommandPing             = "Ping"
	CommandPong             = "Pong"
)

// Query names
const (
	QueryGetHardwareDefinition = "GetHardwareDefinition"
)

// Response status codes as reported by the panel
const (
	StatusOK         = "200"
	StatusParseError = "400"
)

// DiscoverySequence is the fixed, ordered list of hardware-definition
// queries issued after connect. The order must not change: later answers
// deep-merge over earlier ones and the panel keys some sections off
// objects introduced by earlier steps.
var DiscoverySequence = []string{
	"CIRCUITS",
	"PUMPS",
	"CHEMS",
	"VALVES",
	"HEATERS",
	"SENSORS",
	"GROUPS",
}

// RequestKinds lists the outbound command kinds. An inbound frame echoing
// one of these is a delivery acknowledgment, not a notification.
var RequestKinds = map[string]bool{
	CommandGetQuery:         true,
	CommandSetParamList:     true,
	CommandRequestParamList: true,
	CommandWriteParamList:   true,
	CommandPing:             true,
}

// Parameter keys that show up in notification payloads
const (
	ParamSpeed        = "SPEED"
	ParamSelect       = "SELECT"
	ParamObjectType   = "OBJTYP"
	ParamSubType      = "SUBTYP"
	ParamName         = "SNAME"
	ParamStatus       = "STATUS"
	ParamRPM          = "RPM"
	ParamGPM          = "GPM"
	ParamWatts        = "PWR"
	ParamLowSetpoint  = "LOTMP"
	ParamHighSetpoint = "HITMP"
	ParamProbe        = "PROBE"
)
