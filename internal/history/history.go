// Package history keeps the append-only journal of order status changes.
package history

import (
	"context"

	"storefront/internal/order"
)

// Journal records and lists order status changes. The SQL order store
// implements it; Cassandra is used when configured.
type Journal interface {
	Record(ctx context.Context, c order.StatusChange) error
	List(ctx context.Context, orderID string) ([]order.StatusChange, error)
}

// Fanout records to every journal and lists from the first. The SQL
// journal goes first so reads stay consistent with the order store.
type Fanout []Journal

func (f Fanout) Record(ctx context.Context, sc order.StatusChange) error {
	for _, j := range f {
		if err := j.Record(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}

func (f Fanout) List(ctx context.Context, orderID string) ([]order.StatusChange, error) {
	if len(f) == 0 {
		return []order.StatusChange{}, nil
	}
	return f[0].List(ctx, orderID)
}
