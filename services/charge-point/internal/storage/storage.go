// Package storage provides path-addressed document stores used to persist
// meter value slots: a filesystem adapter for flash/SD deployments and a
// Postgres adapter for gateways with a local database.
package storage

import (
	"errors"
)

// ErrNotExist is returned by Load when no document is stored under the path.
var ErrNotExist = errors.New("storage: document does not exist")

// Adapter is the capability set required by the metering core.
type Adapter interface {
	// Stat reports whether a document exists under path and its size in bytes.
	Stat(path string) (size int64, exists bool, err error)
	// Store writes doc under path, replacing any previous document.
	Store(path string, doc []byte) error
	// Load returns the document stored under path or ErrNotExist.
	Load(path string) ([]byte, error)
	// Remove deletes the document under path. Removing a missing document is an error.
	Remove(path string) error
}
