package records

import (
	"context"
	"errors"
	"fmt"
)

// ErrGroupNotFound is returned when a store holds no table for a group.
var ErrGroupNotFound = errors.New("record group not found")

// Store holds the record groups. Checkout returns a private copy the caller
// may mutate freely; nothing is persisted until Commit. Stores are shared
// state across trials and are not safe for concurrent trials.
type Store interface {
	Checkout(ctx context.Context, group Group) (*Table, error)
	Commit(ctx context.Context, table *Table) error
}

// BatchCommitter is implemented by stores that can persist several groups
// in one transaction.
type BatchCommitter interface {
	CommitBatch(ctx context.Context, tables []*Table) error
}

// Copy checks out each group from src and commits it to dst. Groups src does
// not hold are skipped. It returns the groups copied.
func Copy(ctx context.Context, dst, src Store, groups ...Group) ([]Group, error) {
	var copied []Group
	for _, g := range groups {
		t, err := src.Checkout(ctx, g)
		if errors.Is(err, ErrGroupNotFound) {
			continue
		}
		if err != nil {
			return copied, fmt.Errorf("loading group %s: %w", g, err)
		}
		if err := dst.Commit(ctx, t); err != nil {
			return copied, fmt.Errorf("committing group %s: %w", g, err)
		}
		copied = append(copied, g)
	}
	return copied, nil
}
