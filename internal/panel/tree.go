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
	"cabana/internal/logger"
	"cabana/internal/protocol"
)

// BuildTree transforms the merged discovery buffer into the domain tree.
// The buffer is the deep-merged union of every discovery answer: sections
// keyed by category, each an array of {objnam, params} objects. Pump
// entries additionally carry an objlist of pump-circuit pairings that feed
// the speed-telemetry lookup table.
func BuildTree(buffer map[string]interface{}) *HardwareTree {
	log := logger.Component("panel")

	tree := &HardwareTree{
		PumpCircuits: make(map[string]*PumpCircuit),
	}

	for section, value := range buffer {
		items, ok := value.([]interface{})
		if !ok {
			log.Warn().
				Str("section", section).
				Msg("Discovery section is not an object list, skipping")
			continue
		}

		for _, item := range items {
			raw, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			entity, ok := buildEntity(raw)
			if !ok {
				log.Warn().
					Str("section", section).
					Interface("item", raw).
					Msg("Discovery item missing objnam, skipping")
				continue
			}
			tree.Entities = append(tree.Entities, entity)
			collectPumpCircuits(tree, entity.ObjectName, raw)
		}
	}

	log.Info().
		Int("entities", len(tree.Entities)).
		Int("pump_circuits", len(tree.PumpCircuits)).
		Msg("Built hardware tree from discovery buffer")

	return tree
}

// buildEntity maps one {objnam, params} object into an Entity
func buildEntity(raw map[string]interface{}) (Entity, bool) {
	objnam, ok := AsString(raw["objnam"])
	if !ok || objnam == "" {
		return Entity{}, false
	}

	entity := Entity{ObjectName: objnam}

	params, _ := raw["params"].(map[string]interface{})
	if params != nil {
		entity.Params = params
		if v, ok := AsString(params[protocol.ParamObjectType]); ok {
			entity.ObjectType = v
		}
		if v, ok := AsString(params[protocol.ParamSubType]); ok {
			entity.SubType = v
		}
		if v, ok := AsString(params[protocol.ParamName]); ok {
			entity.Name = v
		}
		if v, ok := AsString(params[protocol.ParamStatus]); ok {
			entity.Status = v
		}
		entity.LowSetpoint = optionalFloat(params, protocol.ParamLowSetpoint)
		entity.HighSetpoint = optionalFloat(params, protocol.ParamHighSetpoint)
		entity.Probe = optionalFloat(params, protocol.ParamProbe)
	}

	return entity, true
}

// collectPumpCircuits registers the pump-circuit pairings listed under a
// pump entry's objlist so notification routing can redirect their speed
// telemetry
func collectPumpCircuits(tree *HardwareTree, pump string, raw map[string]interface{}) {
	params, _ := raw["params"].(map[string]interface{})
	if params == nil {
		return
	}
	objlist, ok := params["objlist"].([]interface{})
	if !ok {
		return
	}

	for _, item := range objlist {
		pc, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		objnam, ok := AsString(pc["objnam"])
		if !ok || objnam == "" {
			continue
		}

		circuit := &PumpCircuit{ObjectName: objnam, Pump: pump}
		if pcParams, ok := pc["params"].(map[string]interface{}); ok {
			if v, ok := AsString(pcParams["CIRCUIT"]); ok {
				circuit.Circuit = v
			}
			if v, ok := AsString(pcParams[protocol.ParamSelect]); ok {
				circuit.SelectType = v
			}
			if v, ok := AsFloat(pcParams[protocol.ParamSpeed]); ok {
				speed := v
				circuit.Speed = &speed
			}
		}
		tree.PumpCircuits[objnam] = circuit
	}
}

// optionalFloat reads a numeric parameter, keeping absence distinct from
// zero: a missing key or empty value yields nil, a literal 0 yields a
// pointer to 0
func optionalFloat(params map[string]interface{}, key string) *float64 {
	value, present := params[key]
	if !present {
		return nil
	}
	f, ok := AsFloat(value)
	if !ok {
		return nil
	}
	return &f
}

// ApplyTelemetry folds a notification's params into the pump circuit,
// returning true when anything changed
func (pc *PumpCircuit) ApplyTelemetry(params map[string]interface{}) bool {
	changed := false
	if v, ok := AsString(params[protocol.ParamSelect]); ok && v != pc.SelectType {
		pc.SelectType = v
		changed = true
	}

	speed, ok := AsFloat(params[protocol.ParamSpeed])
	if !ok {
		// Some firmware revisions report the unit-specific key instead of
		// the generic speed key
		switch pc.SelectType {
		case "GPM":
			speed, ok = AsFloat(params[protocol.ParamGPM])
		default:
			speed, ok = AsFloat(params[protocol.ParamRPM])
		}
	}
	if ok && (pc.Speed == nil || *pc.Speed != speed) {
		s := speed
		pc.Speed = &s
		changed = true
	}

	if v, ok := AsFloat(params[protocol.ParamWatts]); ok {
		if pc.Watts == nil || *pc.Watts != v {
			watts := v
			pc.Watts = &watts
			changed = true
		}
	}
	return changed
}

// ApplyUpdate folds changed fields from a notification into the entity.
// Absent or unparseable probe/setpoint values leave the previous reading in
// place rather than zeroing it.
func (e *Entity) ApplyUpdate(changes map[string]interface{}) {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	for key, value := range changes {
		e.Params[key] = value
		switch key {
		case protocol.ParamName:
			if v, ok := AsString(value); ok {
				e.Name = v
			}
		case protocol.ParamStatus:
			if v, ok := AsString(value); ok {
				e.Status = v
			}
		case protocol.ParamLowSetpoint:
			if f, ok := AsFloat(value); ok {
				e.LowSetpoint = &f
			}
		case protocol.ParamHighSetpoint:
			if f, ok := AsFloat(value); ok {
				e.HighSetpoint = &f
			}
		case protocol.ParamProbe:
			if f, ok := AsFloat(value); ok {
				e.Probe = &f
			}
		}
	}
}
