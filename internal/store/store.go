// Package store provides the persistent key-value store shared by every
// context. Values are opaque bytes; callers use GetJSON/SetJSON for typed
// access. A single Set is atomic: readers observe the previous or the new
// value, never a mix.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key holds no value.
	ErrNotFound = errors.New("store: key not found")
	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("store: invalid key")
)

// Store is an asynchronous namespaced key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// GetJSON decodes the value under key into out. It returns ErrNotFound when
// the key is absent.
func GetJSON(ctx context.Context, s Store, key string, out any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

type namespaced struct {
	inner  Store
	prefix string
}

// Namespaced scopes every key of inner under ns.
func Namespaced(inner Store, ns string) Store {
	ns = strings.Trim(strings.TrimSpace(ns), ".")
	if ns == "" {
		return inner
	}
	return &namespaced{inner: inner, prefix: ns + "."}
}

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Remove(ctx context.Context, keys ...string) error {
	full := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := validKey(key); err != nil {
			return err
		}
		full = append(full, n.prefix+key)
	}
	return n.inner.Remove(ctx, full...)
}

func (n *namespaced) Close() error {
	return n.inner.Close()
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
