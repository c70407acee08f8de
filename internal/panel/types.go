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

package panel

import (
	"fmt"
	"strconv"
)

// Entity is one addressable object on the panel: a circuit, pump, heater,
// sensor, valve, chem controller or group.
//
// Setpoints and probe readings are pointers on purpose: the panel reports
// 0 as a real low-setpoint value, so absence has to be modeled as nil
// rather than a zero sentinel.
type Entity struct {
	ObjectName   string                 `json:"objnam"`
	ObjectType   string                 `json:"objtyp,omitempty"`
	SubType      string                 `json:"subtyp,omitempty"`
	Name         string                 `json:"sname,omitempty"`
	Status       string                 `json:"status,omitempty"`
	LowSetpoint  *float64               `json:"low_setpoint,omitempty"`
	HighSetpoint *float64               `json:"high_setpoint,omitempty"`
	Probe        *float64               `json:"probe,omitempty"`
	Params       map[string]interface{} `json:"params,omitempty"`
}

// PumpCircuit links a pump to one of the circuits it serves, carrying the
// latest speed telemetry for that pairing
type PumpCircuit struct {
	ObjectName string   `json:"objnam"`
	Pump       string   `json:"pump"`
	Circuit    string   `json:"circuit"`
	Speed      *float64 `json:"speed,omitempty"`
	Watts      *float64 `json:"watts,omitempty"`
	SelectType string   `json:"select,omitempty"` // RPM or GPM
}

// HardwareTree is the immutable snapshot produced when discovery completes
type HardwareTree struct {
	Entities     []Entity                `json:"entities"`
	PumpCircuits map[string]*PumpCircuit `json:"pump_circuits"`
}

// Clone returns a copy whose Params map is independent of the receiver.
// Snapshots handed to the registry cross the session lock boundary, so they
// must not alias the map the update path keeps mutating.
func (e *Entity) Clone() Entity {
	clone := *e
	if e.Params != nil {
		clone.Params = make(map[string]interface{}, len(e.Params))
		for key, value := range e.Params {
			clone.Params[key] = value
		}
	}
	return clone
}

// EntityIDs returns the object names of every entity in the tree
func (t *HardwareTree) EntityIDs() map[string]bool {
	ids := make(map[string]bool, len(t.Entities))
	for _, e := range t.Entities {
		ids[e.ObjectName] = true
	}
	return ids
}

// AsFloat coerces a panel parameter value to a float. The firmware is
// inconsistent about numeric encoding: discovery answers carry JSON
// numbers, notifications carry strings.
func AsFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if v == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsString coerces a panel parameter value to a string
func AsString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s(%s/%s %q)", e.ObjectName, e.ObjectType, e.SubType, e.Name)
}
