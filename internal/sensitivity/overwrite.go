package sensitivity

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/demand.sensitivity/internal/monitoring"
	"github.com/banshee-data/demand.sensitivity/internal/records"
)

// Overwriter broadcasts each bound parameter to every building of its
// record group. All touched groups are checked out before anything is
// written; a failed commit restores the groups already committed.
type Overwriter struct {
	store  records.Store
	table  DistributionTable
	groups []records.Group
}

// NewOverwriter binds a store to the parameters of table that have targets.
func NewOverwriter(store records.Store, table DistributionTable) (*Overwriter, error) {
	if store == nil {
		return nil, configErrorf("overwriter needs a record store")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Overwriter{store: store, table: table.Clone(), groups: table.Groups()}, nil
}

// Groups returns the groups written each trial, in commit order.
func (o *Overwriter) Groups() []records.Group {
	return append([]records.Group(nil), o.groups...)
}

// Preflight checks that every measured building exists in every group the
// overwriter writes. It reads only.
func (o *Overwriter) Preflight(ctx context.Context, buildings []string) error {
	if len(buildings) == 0 {
		return configErrorf("building subset is empty")
	}
	for _, g := range o.groups {
		t, err := o.store.Checkout(ctx, g)
		if errors.Is(err, records.ErrGroupNotFound) {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
		if err != nil {
			return fmt.Errorf("%w: loading group %s: %w", ErrRecordIO, g, err)
		}
		for _, b := range buildings {
			if !t.Has(b) {
				return configErrorf("building %s missing from group %s", b, g)
			}
		}
	}
	return nil
}

// Apply writes params into the record groups.
func (o *Overwriter) Apply(ctx context.Context, params ParameterSet) error {
	if len(o.groups) == 0 {
		return nil
	}

	tables := make([]*records.Table, 0, len(o.groups))
	snapshots := make([]*records.Table, 0, len(o.groups))
	for _, g := range o.groups {
		t, err := o.store.Checkout(ctx, g)
		if err != nil {
			return fmt.Errorf("%w: loading group %s: %w", ErrRecordIO, g, err)
		}
		snapshots = append(snapshots, t.Clone())
		tables = append(tables, t)
	}

	for _, p := range o.table {
		if p.Target == nil {
			continue
		}
		v, ok := params[p.Name]
		if !ok {
			return configErrorf("parameter %s missing from trial", p.Name)
		}
		for _, t := range tables {
			if t.Group == p.Target.Group {
				t.SetAll(p.Target.Attribute, v)
			}
		}
	}

	if bc, ok := o.store.(records.BatchCommitter); ok {
		if err := bc.CommitBatch(ctx, tables); err != nil {
			return fmt.Errorf("%w: %w", ErrRecordIO, err)
		}
		return nil
	}

	for i, t := range tables {
		if err := o.store.Commit(ctx, t); err != nil {
			err = fmt.Errorf("%w: committing group %s: %w", ErrRecordIO, t.Group, err)
			if rerr := o.restore(ctx, snapshots[:i]); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
	}
	return nil
}

func (o *Overwriter) restore(ctx context.Context, snapshots []*records.Table) error {
	var errs []error
	for _, s := range snapshots {
		if err := o.store.Commit(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("restoring group %s: %w", s.Group, err))
			continue
		}
		monitoring.Opsf("restored group %s after failed commit", s.Group)
	}
	return errors.Join(errs...)
}
