// Package registry is the concurrent id to instance map behind every broker.
package registry

import (
	"slices"

	"github.com/alphadose/haxmap"
)

type Registry[T any] interface {
	Get(id string) (T, bool)
	Set(id string, value T)
	GetOrAdd(id string, value func() T) (T, bool)
	Del(id string)
	Keys() []string
	Len() int
	// Range calls fn for every entry until fn returns false.
	Range(fn func(id string, value T) bool)
}

type registry[T any] struct {
	values *haxmap.Map[string, T]
}

func New[T any]() Registry[T] {
	return &registry[T]{
		values: haxmap.New[string, T](),
	}
}

func (r *registry[T]) Get(id string) (T, bool) {
	return r.values.Get(id)
}

func (r *registry[T]) Set(id string, value T) {
	r.values.Set(id, value)
}

func (r *registry[T]) GetOrAdd(id string, valueFn func() T) (T, bool) {
	return r.values.GetOrCompute(id, valueFn)
}

func (r *registry[T]) Del(id string) {
	r.values.Del(id)
}

func (r *registry[T]) Keys() []string {
	keys := make([]string, 0, r.values.Len())
	r.values.ForEach(func(k string, _ T) bool {
		keys = append(keys, k)
		return true
	})
	slices.Sort(keys)
	return keys
}

func (r *registry[T]) Len() int {
	return int(r.values.Len())
}

func (r *registry[T]) Range(fn func(id string, value T) bool) {
	r.values.ForEach(fn)
}
