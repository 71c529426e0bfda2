// Package store provides the record store implementations behind the gate: an
// embedded in-memory store with JSON file persistence for single-node
// deployments, and a Redis-backed store for anything shared. Both satisfy
// gate.RecordStore; business logic never lives here.
package store

import (
	"context"

	"github.com/eternal-audio/eternal-gate/internal/gate"
)

// Lister is implemented by stores that can enumerate their record ids. It is
// optional on the gate.RecordStore contract and exists for migration and ops
// tooling only.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Source is what a migration reads from: a store that can also enumerate.
type Source interface {
	gate.RecordStore
	Lister
}
