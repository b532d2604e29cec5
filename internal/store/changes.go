package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/dnscheck"
	"github.com/dnsweaver/dnsweaver/internal/model"
	"github.com/dnsweaver/dnsweaver/internal/render"
)

// ChangeTx is one open repeatable-read transaction with a change set
// already applied. The projection engine renders from it, bumps serials
// through it and commits it only after the resolver has accepted the new
// files; any failure rolls the whole model change back.
type ChangeTx struct {
	store  *Store
	tx     pgx.Tx
	q      *Queries
	events []model.Event
}

// Begin opens the transaction and applies cs inside it, change by change
// in category order: zones, records, forwarders, RPZ rules. A record may
// name a zone the same set creates. The first failing change aborts and
// rolls back.
func (s *Store) Begin(ctx context.Context, cs model.ChangeSet) (*ChangeTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStoreUnavailable, "beginning transaction", err)
	}
	c := &ChangeTx{store: s, tx: tx, q: New(tx)}
	if err := c.apply(ctx, cs); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return c, nil
}

// Snapshot assembles the renderer input from the transaction's view.
func (c *ChangeTx) Snapshot(ctx context.Context) (render.Snapshot, error) {
	snap, err := c.q.Snapshot(ctx)
	if err != nil {
		return render.Snapshot{}, mapPgError(err, "snapshot")
	}
	return snap, nil
}

// BumpZoneSerial persists a bumped zone serial inside the transaction.
func (c *ChangeTx) BumpZoneSerial(ctx context.Context, zoneID uuid.UUID, serial uint32) error {
	return c.q.BumpZoneSerial(ctx, zoneID, serial)
}

// SetRPZSerial persists the serial rendered into an RPZ category file.
func (c *ChangeTx) SetRPZSerial(ctx context.Context, rpzZone string, serial uint32) error {
	return mapPgError(c.q.SetRPZSerial(ctx, rpzZone, serial), "rpz_serial")
}

// Commit commits the transaction and emits the per-change events held
// back while it was open.
func (c *ChangeTx) Commit(ctx context.Context) error {
	if err := c.tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.CodeStoreUnavailable, "committing transaction", err)
	}
	for _, e := range c.events {
		c.store.emit(e)
	}
	c.events = nil
	return nil
}

// Rollback discards the transaction and its queued events.
func (c *ChangeTx) Rollback(ctx context.Context) error {
	c.events = nil
	if err := c.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (c *ChangeTx) apply(ctx context.Context, cs model.ChangeSet) error {
	for i, zc := range cs.Zones {
		if err := c.applyZone(ctx, zc); err != nil {
			return fmt.Errorf("zone change %d: %w", i, err)
		}
	}
	for i, rc := range cs.Records {
		if err := c.applyRecord(ctx, rc); err != nil {
			return fmt.Errorf("record change %d: %w", i, err)
		}
	}
	for i, fc := range cs.Forwarders {
		if err := c.applyForwarder(ctx, fc); err != nil {
			return fmt.Errorf("forwarder change %d: %w", i, err)
		}
	}
	for i, pc := range cs.RPZRules {
		if err := c.applyRPZRule(ctx, pc); err != nil {
			return fmt.Errorf("rpz rule change %d: %w", i, err)
		}
	}
	return nil
}

func (c *ChangeTx) applyZone(ctx context.Context, zc model.ZoneChange) error {
	z := zc.Zone
	now := time.Now().UTC()

	switch zc.Op {
	case model.OpCreate:
		if z.ID == uuid.Nil {
			id, _ := uuid.NewV7()
			z.ID = id
		}
		z.CreatedAt, z.UpdatedAt = now, now
		if verr := dnscheck.ValidateZone(z); verr != nil {
			return verr
		}
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "create", "zone", z.ID.String(), nil, z)); err != nil {
			return err
		}
		if err := mapPgError(c.q.InsertZone(ctx, z), "zone"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventZoneCreated, "zone", map[string]any{
			"zone_id": z.ID.String(), "name": z.Name, "zone_type": string(z.Type),
		}))

	case model.OpUpdate:
		if verr := dnscheck.ValidateZone(z); verr != nil {
			return verr
		}
		prev, err := c.q.GetZone(ctx, z.ID)
		if err != nil {
			return mapPgError(err, "zone")
		}
		if z.Serial < prev.Serial {
			z.Serial = prev.Serial
		}
		z.CreatedAt, z.UpdatedAt = prev.CreatedAt, now
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "update", "zone", z.ID.String(), prev, z)); err != nil {
			return err
		}
		if err := mapPgError(c.q.UpdateZone(ctx, z), "zone"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventZoneUpdated, "zone", map[string]any{
			"zone_id": z.ID.String(), "name": z.Name,
		}))

	case model.OpDelete:
		prev, err := c.q.GetZone(ctx, z.ID)
		if err != nil {
			return mapPgError(err, "zone")
		}
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "delete", "zone", z.ID.String(), prev, nil)); err != nil {
			return err
		}
		if err := mapPgError(c.q.DeleteZone(ctx, z.ID), "zone"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventZoneDeleted, "zone", map[string]any{
			"zone_id": z.ID.String(), "name": prev.Name,
		}))

	default:
		return apperr.Validation("op", fmt.Sprintf("unknown change op %q", zc.Op), "use create, update or delete")
	}
	return nil
}

func (c *ChangeTx) applyRecord(ctx context.Context, rc model.RecordChange) error {
	r := rc.Record
	now := time.Now().UTC()

	switch rc.Op {
	case model.OpCreate:
		zone, err := c.resolveZone(ctx, rc)
		if err != nil {
			return err
		}
		if zone.Type != model.ZoneMaster {
			return apperr.Validation("zone_id",
				fmt.Sprintf("zone %s is %s; only master zones own records", zone.Name, zone.Type),
				"create the record in a master zone")
		}
		r.ZoneID = zone.ID
		if r.ID == uuid.Nil {
			id, _ := uuid.NewV7()
			r.ID = id
		}
		r.CreatedAt, r.UpdatedAt = now, now
		if verr := dnscheck.ValidateRecord(r); verr != nil {
			return verr
		}
		existing, err := c.q.ListZoneRecords(ctx, r.ZoneID)
		if err != nil {
			return mapPgError(err, "record")
		}
		if verr := dnscheck.CheckZoneRecords(append(existing, r)); verr != nil {
			return verr
		}
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "create", "record", r.ID.String(), nil, r)); err != nil {
			return err
		}
		if err := mapPgError(c.q.InsertRecord(ctx, r), "record"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventRecordCreated, "record", map[string]any{
			"record_id": r.ID.String(), "zone_id": r.ZoneID.String(),
			"name": r.Name, "type": string(r.Type), "value": r.Value,
		}))

	case model.OpUpdate:
		if verr := dnscheck.ValidateRecord(r); verr != nil {
			return verr
		}
		prev, err := c.q.GetRecord(ctx, r.ID)
		if err != nil {
			return mapPgError(err, "record")
		}
		r.ZoneID, r.CreatedAt, r.UpdatedAt = prev.ZoneID, prev.CreatedAt, now
		existing, err := c.q.ListZoneRecords(ctx, r.ZoneID)
		if err != nil {
			return mapPgError(err, "record")
		}
		merged := make([]model.Record, 0, len(existing))
		for _, e := range existing {
			if e.ID != r.ID {
				merged = append(merged, e)
			}
		}
		if verr := dnscheck.CheckZoneRecords(append(merged, r)); verr != nil {
			return verr
		}
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "update", "record", r.ID.String(), prev, r)); err != nil {
			return err
		}
		if err := mapPgError(c.q.UpdateRecord(ctx, r), "record"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventRecordUpdated, "record", map[string]any{
			"record_id": r.ID.String(), "zone_id": r.ZoneID.String(), "name": r.Name,
		}))

	case model.OpDelete:
		prev, err := c.q.GetRecord(ctx, r.ID)
		if err != nil {
			return mapPgError(err, "record")
		}
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "delete", "record", r.ID.String(), prev, nil)); err != nil {
			return err
		}
		if err := mapPgError(c.q.DeleteRecord(ctx, r.ID), "record"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventRecordDeleted, "record", map[string]any{
			"record_id": r.ID.String(), "zone_id": prev.ZoneID.String(),
		}))

	default:
		return apperr.Validation("op", fmt.Sprintf("unknown change op %q", rc.Op), "use create, update or delete")
	}
	return nil
}

// resolveZone finds the record's owning zone by ID or, failing that, by
// the name given on the change. The lookup runs inside the transaction,
// so zones created earlier in the same set are visible.
func (c *ChangeTx) resolveZone(ctx context.Context, rc model.RecordChange) (model.Zone, error) {
	if rc.Record.ZoneID != uuid.Nil {
		z, err := c.q.GetZone(ctx, rc.Record.ZoneID)
		if err != nil {
			return model.Zone{}, mapPgError(err, "zone")
		}
		return z, nil
	}
	if rc.ZoneName == "" {
		return model.Zone{}, apperr.Validation("zone", "record change names no zone",
			"set zone_id or the zone name")
	}
	z, err := c.q.GetZoneByName(ctx, rc.ZoneName)
	if err != nil {
		return model.Zone{}, mapPgError(err, "zone")
	}
	return z, nil
}

func (c *ChangeTx) applyForwarder(ctx context.Context, fc model.ForwarderChange) error {
	f := fc.Forwarder
	now := time.Now().UTC()

	switch fc.Op {
	case model.OpCreate:
		if f.ID == uuid.Nil {
			id, _ := uuid.NewV7()
			f.ID = id
		}
		f.CreatedAt, f.UpdatedAt = now, now
		if verr := dnscheck.ValidateForwarder(f); verr != nil {
			return verr
		}
		others, err := c.q.ListForwarders(ctx)
		if err != nil {
			return mapPgError(err, "forwarder")
		}
		if verr := checkDomainOverlap(f, others); verr != nil {
			return verr
		}
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "create", "forwarder", f.ID.String(), nil, f)); err != nil {
			return err
		}
		if err := mapPgError(c.q.InsertForwarder(ctx, f), "forwarder"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventForwarderCreated, "forwarder", map[string]any{
			"forwarder_id": f.ID.String(), "name": f.Name,
		}))

	case model.OpUpdate:
		if verr := dnscheck.ValidateForwarder(f); verr != nil {
			return verr
		}
		prev, err := c.q.GetForwarder(ctx, f.ID)
		if err != nil {
			return mapPgError(err, "forwarder")
		}
		others, err := c.q.ListForwarders(ctx)
		if err != nil {
			return mapPgError(err, "forwarder")
		}
		if verr := checkDomainOverlap(f, others); verr != nil {
			return verr
		}
		f.CreatedAt, f.UpdatedAt = prev.CreatedAt, now
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "update", "forwarder", f.ID.String(), prev, f)); err != nil {
			return err
		}
		if err := mapPgError(c.q.UpdateForwarder(ctx, f), "forwarder"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventForwarderUpdated, "forwarder", map[string]any{
			"forwarder_id": f.ID.String(), "name": f.Name,
		}))

	case model.OpDelete:
		prev, err := c.q.GetForwarder(ctx, f.ID)
		if err != nil {
			return mapPgError(err, "forwarder")
		}
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "delete", "forwarder", f.ID.String(), prev, nil)); err != nil {
			return err
		}
		if err := mapPgError(c.q.DeleteForwarder(ctx, f.ID), "forwarder"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventForwarderDeleted, "forwarder", map[string]any{
			"forwarder_id": f.ID.String(), "name": prev.Name,
		}))

	default:
		return apperr.Validation("op", fmt.Sprintf("unknown change op %q", fc.Op), "use create, update or delete")
	}
	return nil
}

func (c *ChangeTx) applyRPZRule(ctx context.Context, pc model.RPZRuleChange) error {
	r := pc.Rule
	now := time.Now().UTC()

	switch pc.Op {
	case model.OpCreate:
		if r.ID == uuid.Nil {
			id, _ := uuid.NewV7()
			r.ID = id
		}
		if r.Source == "" {
			r.Source = "manual"
		}
		r.CreatedAt, r.UpdatedAt = now, now
		if verr := dnscheck.ValidateRPZRule(r); verr != nil {
			return verr
		}
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "create", "rpz_rule", r.ID.String(), nil, r)); err != nil {
			return err
		}
		if err := mapPgError(c.q.InsertRPZRule(ctx, r), "rpz_rule"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventRPZRuleCreated, "rpz", map[string]any{
			"rule_id": r.ID.String(), "rpz_zone": r.RPZZone, "domain": r.Domain, "action": string(r.Action),
		}))

	case model.OpUpdate:
		if verr := dnscheck.ValidateRPZRule(r); verr != nil {
			return verr
		}
		prev, err := c.q.GetRPZRule(ctx, r.ID)
		if err != nil {
			return mapPgError(err, "rpz_rule")
		}
		r.RPZZone, r.Domain = prev.RPZZone, prev.Domain
		r.CreatedAt, r.UpdatedAt = prev.CreatedAt, now
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "update", "rpz_rule", r.ID.String(), prev, r)); err != nil {
			return err
		}
		if err := mapPgError(c.q.UpdateRPZRule(ctx, r), "rpz_rule"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventRPZRuleUpdated, "rpz", map[string]any{
			"rule_id": r.ID.String(), "rpz_zone": r.RPZZone, "domain": r.Domain,
		}))

	case model.OpDelete:
		prev, err := c.q.GetRPZRule(ctx, r.ID)
		if err != nil {
			return mapPgError(err, "rpz_rule")
		}
		if err := c.q.InsertAudit(ctx, auditEntry(ctx, "delete", "rpz_rule", r.ID.String(), prev, nil)); err != nil {
			return err
		}
		if err := mapPgError(c.q.DeleteRPZRule(ctx, r.ID), "rpz_rule"); err != nil {
			return err
		}
		c.queue(entityEvent(model.EventRPZRuleDeleted, "rpz", map[string]any{
			"rule_id": r.ID.String(), "rpz_zone": prev.RPZZone, "domain": prev.Domain,
		}))

	default:
		return apperr.Validation("op", fmt.Sprintf("unknown change op %q", pc.Op), "use create, update or delete")
	}
	return nil
}

// queue holds an event back until the transaction commits; a rolled-back
// change must not announce itself.
func (c *ChangeTx) queue(e model.Event) {
	c.events = append(c.events, e)
}
