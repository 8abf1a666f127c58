package secretstore

import (
	"context"
	"fmt"
	"maps"
)

// Map serves stores declared in the configuration file.
type Map struct {
	stores map[string]map[string]string
}

func NewMap(stores map[string]map[string]string) *Map {
	m := &Map{stores: make(map[string]map[string]string, len(stores))}
	for name, kv := range stores {
		m.stores[name] = maps.Clone(kv)
	}
	return m
}

func (m *Map) Open(_ context.Context, name string) (Handle, error) {
	kv, ok := m.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, name)
	}
	return mapHandle(kv), nil
}

type mapHandle map[string]string

func (h mapHandle) Get(_ context.Context, key string, maxLen int) (string, error) {
	v, ok := h[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return checkLen(key, v, maxLen)
}
