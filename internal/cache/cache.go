// Package cache provides the string keyed maps that hold session/thread
// mappings and tool state. Maps are either process local or stored in a NATS
// JetStream key/value bucket so several processes share them.
package cache

import (
	"context"
	"fmt"
	"regexp"

	"github.com/alphadose/haxmap"
	"github.com/nats-io/nats.go"
)

type Map[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	Set(ctx context.Context, key string, value T) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

type Mode string

const (
	ModeLocal Mode = "in-memory"
	ModeNATS  Mode = "nats"
)

// Backend decides where maps live. Maps created twice with the same name on
// one backend share their contents.
type Backend struct {
	mode  Mode
	js    nats.JetStreamContext
	local *haxmap.Map[string, *haxmap.Map[string, []byte]]
}

// NewLocal returns a backend keeping every map in memory.
func NewLocal() *Backend {
	return &Backend{mode: ModeLocal, local: haxmap.New[string, *haxmap.Map[string, []byte]]()}
}

// NewNATS returns a backend storing maps as JetStream key/value buckets.
func NewNATS(nc *nats.Conn) (*Backend, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("cache: jetstream: %w", err)
	}
	return &Backend{mode: ModeNATS, js: js}, nil
}

func (b *Backend) Mode() Mode {
	if b == nil || b.mode == "" {
		return ModeLocal
	}
	return b.mode
}

var invalidBucketChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// BucketName maps an arbitrary map name onto the character set JetStream
// accepts for bucket names.
func BucketName(name string) string {
	return invalidBucketChars.ReplaceAllString(name, "_")
}

// New returns the map called name on backend b. A nil backend is local and
// private to the returned map.
func New[T any](b *Backend, name string) (Map[T], error) {
	if b == nil {
		b = NewLocal()
	}
	switch b.Mode() {
	case ModeLocal:
		if b.local == nil {
			return &localMap[T]{values: haxmap.New[string, []byte]()}, nil
		}
		values, _ := b.local.GetOrCompute(name, func() *haxmap.Map[string, []byte] {
			return haxmap.New[string, []byte]()
		})
		return &localMap[T]{values: values}, nil
	case ModeNATS:
		return newKVMap[T](b.js, name)
	default:
		return nil, fmt.Errorf("cache: unknown mode %q", b.mode)
	}
}
