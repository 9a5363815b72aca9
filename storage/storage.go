// Package storage defines the key/value contract used for durable session
// snapshots and for tab-scoped volatile values such as OAuth state.
package storage

import "errors"

var ErrKeyRequired = errors.New("key cannot be empty")

// KV is a string key/value store. Get reports false when the key is absent.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Inspector is implemented by stores that can enumerate their keys.
type Inspector interface {
	Keys() ([]string, error)
}
