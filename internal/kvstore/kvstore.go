package kvstore

import "errors"

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrNotOpen     = errors.New("store not open")
)

// Store is a flat key/value persistence backend
type Store interface {
	// Get returns ErrKeyNotFound when key has never been set
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}
