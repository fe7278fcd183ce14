package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/workforce-oss/workforce-sub002/pkg/stdx"
)

// kvMap keys are base64url encoded because JetStream restricts key
// characters and thread ids come from external systems.
type kvMap[T any] struct {
	kv nats.KeyValue
}

func newKVMap[T any](js nats.JetStreamContext, name string) (*kvMap[T], error) {
	if js == nil {
		return nil, fmt.Errorf("cache: nats backend without jetstream")
	}
	bucket := BucketName(name)
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("cache: bucket %s: %w", bucket, err)
	}
	return &kvMap[T]{kv: kv}, nil
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	return string(b), err
}

func (m *kvMap[T]) Get(_ context.Context, key string) (T, bool, error) {
	entry, err := m.kv.Get(encodeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return stdx.Zero[T](), false, nil
	}
	if err != nil {
		return stdx.Zero[T](), false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	var v T
	if err := json.Unmarshal(entry.Value(), &v); err != nil {
		return stdx.Zero[T](), false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return v, true, nil
}

func (m *kvMap[T]) Set(_ context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if _, err := m.kv.Put(encodeKey(key), data); err != nil {
		return fmt.Errorf("cache: put %s: %w", key, err)
	}
	return nil
}

func (m *kvMap[T]) Delete(_ context.Context, key string) error {
	if err := m.kv.Delete(encodeKey(key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

func (m *kvMap[T]) Keys(_ context.Context) ([]string, error) {
	raw, err := m.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: keys: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		decoded, err := decodeKey(k)
		if err != nil {
			continue
		}
		keys = append(keys, decoded)
	}
	slices.Sort(keys)
	return keys, nil
}
