// Package backup creates and restores point-in-time snapshots of a store.
// A backup is two objects in an ObjectStorage destination: the snappy
// compressed database snapshot and a JSON manifest describing it.
package backup

import (
	"context"
	"errors"
)

var (
	ErrObjectNotFound   = errors.New("backup: object not found")
	ErrChecksumMismatch = errors.New("backup: payload checksum mismatch")
	ErrStoreExists      = errors.New("backup: target store already exists")
)

// ObjectStorage abstracts the destination holding backup objects. Keys are
// slash-separated relative paths; Put overwrites, Get of a missing key
// returns ErrObjectNotFound, List returns every key under the prefix.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
