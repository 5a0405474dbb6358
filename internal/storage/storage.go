// Package storage defines the seen-set persistence interface and its sqlite implementation.
package storage

import (
	"context"
	"errors"
)

// ErrStore wraps every I/O or corruption failure of the seen-set.
var ErrStore = errors.New("seen-set store")

// SeenSet is a persistent set of resource fingerprints.
// Implementations are safe for concurrent use.
type SeenSet interface {
	Contains(ctx context.Context, fingerprint string) (bool, error)
	// Insert is idempotent: inserting a present fingerprint is a no-op.
	Insert(ctx context.Context, fingerprint string) error
	// Flush durably persists every prior Insert.
	Flush(ctx context.Context) error
}

// OpenState reports what Open found at the store path.
type OpenState int

// Possible open states.
const (
	// StateExisting means prior state was loaded and passed the integrity check.
	StateExisting OpenState = iota
	// StateCreated means no store existed and an empty one was created.
	StateCreated
	// StateRebuilt means the existing store was unreadable, moved aside, and recreated empty.
	StateRebuilt
)

func (s OpenState) String() string {
	switch s {
	case StateExisting:
		return "existing"
	case StateCreated:
		return "created"
	case StateRebuilt:
		return "rebuilt"
	}
	return "unknown"
}

// Fresh reports whether the store holds no prior state and needs reconciling.
func (s OpenState) Fresh() bool {
	return s != StateExisting
}
