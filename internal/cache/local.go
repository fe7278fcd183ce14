package cache

import (
	"context"
	"fmt"
	"slices"

	"github.com/alphadose/haxmap"
	"github.com/goccy/go-json"
	"github.com/workforce-oss/workforce-sub002/pkg/stdx"
)

// localMap stores encoded values so callers never share mutable state with
// the cache, matching what they get back from the distributed backing.
type localMap[T any] struct {
	values *haxmap.Map[string, []byte]
}

func (m *localMap[T]) Get(_ context.Context, key string) (T, bool, error) {
	data, ok := m.values.Get(key)
	if !ok {
		return stdx.Zero[T](), false, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return stdx.Zero[T](), false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return v, true, nil
}

func (m *localMap[T]) Set(_ context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	m.values.Set(key, data)
	return nil
}

func (m *localMap[T]) Delete(_ context.Context, key string) error {
	m.values.Del(key)
	return nil
}

func (m *localMap[T]) Keys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, m.values.Len())
	m.values.ForEach(func(k string, _ []byte) bool {
		keys = append(keys, k)
		return true
	})
	slices.Sort(keys)
	return keys, nil
}
