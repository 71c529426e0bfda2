package store

import (
	"context"
	"fmt"

	"github.com/eternal-audio/eternal-gate/internal/gate"
)

// Migrate copies every record from src into dst. This covers both directions:
// embedded -> Redis when a deployment outgrows a single node, and
// Redis -> embedded for backups or offline inspection.
//
// Store-level expiry is not carried over: a record still live at migration
// time is re-written without a TTL in the destination.
func Migrate(ctx context.Context, src Source, dst gate.RecordStore) error {
	ids, err := src.List(ctx)
	if err != nil {
		return fmt.Errorf("list source records: %w", err)
	}

	for _, id := range ids {
		rec, err := src.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("read record %s: %w", id, err)
		}
		if err := dst.Put(ctx, id, rec, 0); err != nil {
			return fmt.Errorf("write record %s: %w", id, err)
		}
	}
	return nil
}
