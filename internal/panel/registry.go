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
	"sort"
	"sync"
)

// Registry is the presentation-layer boundary. The session calls these
// hooks when discovery completes or an update frame resolves; how entities
// are rendered downstream is not this layer's concern.
type Registry interface {
	Upsert(entity Entity)
	Remove(objectName string)
}

// MemoryRegistry is a map-backed Registry used by the bridge daemon and
// exposed read-only over the diagnostics API
type MemoryRegistry struct {
	entities map[string]Entity
	mutex    sync.RWMutex
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entities: make(map[string]Entity),
	}
}

// Upsert stores or replaces an entity
func (r *MemoryRegistry) Upsert(entity Entity) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entities[entity.ObjectName] = entity
}

// Remove drops an entity by object name
func (r *MemoryRegistry) Remove(objectName string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.entities, objectName)
}

// Get returns an entity by object name
func (r *MemoryRegistry) Get(objectName string) (Entity, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	entity, ok := r.entities[objectName]
	return entity, ok
}

// Entities returns all registered entities ordered by object name
func (r *MemoryRegistry) Entities() []Entity {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]Entity, 0, len(r.entities))
	for _, entity := range r.entities {
		out = append(out, entity)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ObjectName < out[j].ObjectName
	})
	return out
}

// Count returns the number of registered entities
func (r *MemoryRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entities)
}
