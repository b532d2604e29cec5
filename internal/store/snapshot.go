package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/model"
	"github.com/dnsweaver/dnsweaver/internal/render"
)

// Snapshot loads the full model state the renderer works from. Call it on
// a Queries bound to a repeatable-read transaction so the view is
// self-consistent.
func (q *Queries) Snapshot(ctx context.Context) (render.Snapshot, error) {
	snap := render.Snapshot{
		Records:    make(map[uuid.UUID][]model.Record),
		RPZSerials: make(map[string]uint32),
	}

	zones, err := q.ListZones(ctx)
	if err != nil {
		return render.Snapshot{}, err
	}
	snap.Zones = zones

	for _, z := range zones {
		if z.Type != model.ZoneMaster {
			continue
		}
		records, err := q.ListZoneRecords(ctx, z.ID)
		if err != nil {
			return render.Snapshot{}, err
		}
		active := records[:0]
		for _, r := range records {
			if r.Active {
				active = append(active, r)
			}
		}
		snap.Records[z.ID] = active
	}

	forwarders, err := q.ListForwarders(ctx)
	if err != nil {
		return render.Snapshot{}, err
	}
	snap.Forwarders = forwarders

	rules, err := q.ListRPZRules(ctx, "")
	if err != nil {
		return render.Snapshot{}, err
	}
	for _, r := range rules {
		if r.Active {
			snap.RPZRules = append(snap.RPZRules, r)
		}
	}

	serials, err := q.ListRPZSerials(ctx)
	if err != nil {
		return render.Snapshot{}, err
	}
	snap.RPZSerials = serials

	return snap, nil
}
