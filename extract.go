package guard

import (
	"reflect"
	"sync"
)

// ResourceMapper turns one concrete resource entity into its flat attribute
// map. Registering a mapper per entity type is the supported path: extraction
// stays total and statically checkable, with no runtime introspection.
type ResourceMapper func(entity any) map[string]any

// AttributeExtractor produces the resource attribute map for an entity.
// Entities with a registered mapper use it; anything else falls back to
// reflecting over exported struct fields, one entry per field with the field
// name as key. Nested values pass through as opaque structured values.
type AttributeExtractor struct {
	mu      sync.RWMutex
	mappers map[reflect.Type]ResourceMapper
}

func NewAttributeExtractor() *AttributeExtractor {
	return &AttributeExtractor{mappers: make(map[reflect.Type]ResourceMapper)}
}

// RegisterMapper binds fn to the dynamic type of sample. Call at process
// startup, before checks begin.
func (x *AttributeExtractor) RegisterMapper(sample any, fn ResourceMapper) {
	if sample == nil || fn == nil {
		return
	}
	x.mu.Lock()
	x.mappers[indirectType(reflect.TypeOf(sample))] = fn
	x.mu.Unlock()
}

// Extract returns the entity's attribute map. A nil entity yields an empty
// map, never an error.
func (x *AttributeExtractor) Extract(entity any) AttributeMap {
	if entity == nil {
		return make(AttributeMap)
	}

	x.mu.RLock()
	fn, ok := x.mappers[indirectType(reflect.TypeOf(entity))]
	x.mu.RUnlock()
	if ok {
		return NewAttributeMap(fn(entity))
	}

	if m, ok := entity.(map[string]any); ok {
		return NewAttributeMap(m)
	}
	return reflectAttributes(entity)
}

func reflectAttributes(entity any) AttributeMap {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return make(AttributeMap)
		}
		v = v.Elem()
	}
	out := make(AttributeMap)
	if v.Kind() != reflect.Struct {
		return out
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		out.Set(f.Name, v.Field(i).Interface())
	}
	return out
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
