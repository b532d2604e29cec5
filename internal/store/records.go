package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/dnscheck"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

const recordColumns = `id, zone_id, name, rtype, value, ttl, priority, weight, port,
	active, created_at, updated_at`

func scanRecord(row interface{ Scan(dest ...any) error }) (model.Record, error) {
	var (
		r   model.Record
		ttl int64
		pri, wgt, prt *int32
	)
	err := row.Scan(&r.ID, &r.ZoneID, &r.Name, &r.Type, &r.Value, &ttl, &pri, &wgt, &prt,
		&r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return model.Record{}, err
	}
	r.TTL = uint32(ttl)
	r.Priority = toU16(pri)
	r.Weight = toU16(wgt)
	r.Port = toU16(prt)
	return r, nil
}

func toU16(v *int32) *uint16 {
	if v == nil {
		return nil
	}
	u := uint16(*v)
	return &u
}

func fromU16(v *uint16) *int32 {
	if v == nil {
		return nil
	}
	i := int32(*v)
	return &i
}

func (q *Queries) InsertRecord(ctx context.Context, r model.Record) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.ZoneID, r.Name, r.Type, r.Value, int64(r.TTL),
		fromU16(r.Priority), fromU16(r.Weight), fromU16(r.Port),
		r.Active, r.CreatedAt, r.UpdatedAt)
	return err
}

func (q *Queries) UpdateRecord(ctx context.Context, r model.Record) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE records SET name=$2, rtype=$3, value=$4, ttl=$5, priority=$6, weight=$7,
			port=$8, active=$9, updated_at=$10
		WHERE id=$1`,
		r.ID, r.Name, r.Type, r.Value, int64(r.TTL),
		fromU16(r.Priority), fromU16(r.Weight), fromU16(r.Port), r.Active, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("record", r.ID.String())
	}
	return nil
}

func (q *Queries) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM records WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("record", id.String())
	}
	return nil
}

func (q *Queries) GetRecord(ctx context.Context, id uuid.UUID) (model.Record, error) {
	return scanRecord(q.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id=$1`, id))
}

func (q *Queries) ListZoneRecords(ctx context.Context, zoneID uuid.UUID) ([]model.Record, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+recordColumns+` FROM records WHERE zone_id=$1 ORDER BY name, rtype, value`, zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- gateway ---

// CreateRecord validates a record, checks the zone accepts it and persists.
func (s *Store) CreateRecord(ctx context.Context, r model.Record) (model.Record, error) {
	if r.ID == uuid.Nil {
		id, _ := uuid.NewV7()
		r.ID = id
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	if verr := dnscheck.ValidateRecord(r); verr != nil {
		return model.Record{}, verr
	}

	err := s.withTx(ctx, func(q *Queries) error {
		zone, err := q.GetZone(ctx, r.ZoneID)
		if err != nil {
			return mapPgError(err, "zone")
		}
		if zone.Type != model.ZoneMaster {
			return apperr.Validation("zone_id",
				fmt.Sprintf("zone %s is %s; only master zones own records", zone.Name, zone.Type),
				"create the record in a master zone")
		}
		existing, err := q.ListZoneRecords(ctx, r.ZoneID)
		if err != nil {
			return mapPgError(err, "record")
		}
		if verr := dnscheck.CheckZoneRecords(append(existing, r)); verr != nil {
			return verr
		}
		if err := q.InsertAudit(ctx, auditEntry(ctx, "create", "record", r.ID.String(), nil, r)); err != nil {
			return err
		}
		return mapPgError(q.InsertRecord(ctx, r), "record")
	})
	if err != nil {
		return model.Record{}, err
	}

	s.emit(entityEvent(model.EventRecordCreated, "record", map[string]any{
		"record_id": r.ID.String(), "zone_id": r.ZoneID.String(),
		"name": r.Name, "type": string(r.Type), "value": r.Value,
	}))
	return r, nil
}

// UpdateRecord validates and persists a changed record.
func (s *Store) UpdateRecord(ctx context.Context, r model.Record) (model.Record, error) {
	if verr := dnscheck.ValidateRecord(r); verr != nil {
		return model.Record{}, verr
	}

	err := s.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetRecord(ctx, r.ID)
		if err != nil {
			return mapPgError(err, "record")
		}
		r.ZoneID, r.CreatedAt = prev.ZoneID, prev.CreatedAt
		r.UpdatedAt = time.Now().UTC()

		existing, err := q.ListZoneRecords(ctx, r.ZoneID)
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
		if err := q.InsertAudit(ctx, auditEntry(ctx, "update", "record", r.ID.String(), prev, r)); err != nil {
			return err
		}
		return mapPgError(q.UpdateRecord(ctx, r), "record")
	})
	if err != nil {
		return model.Record{}, err
	}

	s.emit(entityEvent(model.EventRecordUpdated, "record", map[string]any{
		"record_id": r.ID.String(), "zone_id": r.ZoneID.String(), "name": r.Name,
	}))
	return r, nil
}

// DeleteRecord removes one record.
func (s *Store) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	var zoneID uuid.UUID
	err := s.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetRecord(ctx, id)
		if err != nil {
			return mapPgError(err, "record")
		}
		zoneID = prev.ZoneID
		if err := q.InsertAudit(ctx, auditEntry(ctx, "delete", "record", id.String(), prev, nil)); err != nil {
			return err
		}
		return mapPgError(q.DeleteRecord(ctx, id), "record")
	})
	if err != nil {
		return err
	}

	s.emit(entityEvent(model.EventRecordDeleted, "record", map[string]any{
		"record_id": id.String(), "zone_id": zoneID.String(),
	}))
	return nil
}

func (s *Store) ListZoneRecords(ctx context.Context, zoneID uuid.UUID) ([]model.Record, error) {
	rs, err := s.q.ListZoneRecords(ctx, zoneID)
	if err != nil {
		return nil, mapPgError(err, "record")
	}
	return rs, nil
}

// BulkUpsertRecords inserts or updates many records of one zone. A bad row
// never aborts the batch; per-row outcomes are reported.
func (s *Store) BulkUpsertRecords(ctx context.Context, zoneID uuid.UUID, rows []model.Record) (model.BulkResult, error) {
	res := model.BulkResult{Total: len(rows)}

	err := s.withTx(ctx, func(q *Queries) error {
		zone, err := q.GetZone(ctx, zoneID)
		if err != nil {
			return mapPgError(err, "zone")
		}
		if zone.Type != model.ZoneMaster {
			return apperr.Validation("zone_id", "only master zones own records", "pick a master zone")
		}
		existing, err := q.ListZoneRecords(ctx, zoneID)
		if err != nil {
			return mapPgError(err, "record")
		}
		byIdentity := make(map[model.RecordIdentity]model.Record, len(existing))
		for _, e := range existing {
			byIdentity[e.IdentityTuple()] = e
		}

		now := time.Now().UTC()
		for i, r := range rows {
			r.ZoneID = zoneID
			if verr := dnscheck.ValidateRecord(r); verr != nil {
				res.Skipped++
				res.Errors = append(res.Errors, model.BulkRowError{
					Index: i, Value: r.Name + " " + string(r.Type), Reason: verr.Reason,
				})
				continue
			}

			if prev, ok := byIdentity[r.IdentityTuple()]; ok {
				if prev.TTL == r.TTL && prev.Active == r.Active {
					res.Skipped++
					continue
				}
				prev.TTL, prev.Active, prev.UpdatedAt = r.TTL, r.Active, now
				if err := mapPgError(q.UpdateRecord(ctx, prev), "record"); err != nil {
					res.Skipped++
					res.Errors = append(res.Errors, model.BulkRowError{Index: i, Value: r.Name, Reason: err.Error()})
					continue
				}
				byIdentity[r.IdentityTuple()] = prev
				res.Updated++
				continue
			}

			id, _ := uuid.NewV7()
			r.ID = id
			r.CreatedAt, r.UpdatedAt = now, now
			if err := mapPgError(q.InsertRecord(ctx, r), "record"); err != nil {
				res.Skipped++
				res.Errors = append(res.Errors, model.BulkRowError{Index: i, Value: r.Name, Reason: err.Error()})
				continue
			}
			byIdentity[r.IdentityTuple()] = r
			res.Added++
		}

		return q.InsertAudit(ctx, auditEntry(ctx, "bulk_upsert", "record", zoneID.String(), nil, res))
	})
	if err != nil {
		return model.BulkResult{}, err
	}

	s.emit(entityEvent(model.EventBulkImport, "record", map[string]any{
		"zone_id": zoneID.String(), "added": res.Added, "updated": res.Updated, "skipped": res.Skipped,
	}))
	return res, nil
}
