package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/dnscheck"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

type actorKey struct{}

// WithActor tags the context with the acting identity for audit rows.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "system"
}

const zoneColumns = `id, name, zone_type, admin_email, serial, refresh, retry, expire, minimum,
	master_servers, forwarder_ips, active, created_at, updated_at`

func scanZone(row interface{ Scan(dest ...any) error }) (model.Zone, error) {
	var (
		z              model.Zone
		masters, fwds  []byte
		serial         int64
		ref, ret       int64
		exp, min       int64
	)
	err := row.Scan(&z.ID, &z.Name, &z.Type, &z.AdminEmail, &serial, &ref, &ret, &exp, &min,
		&masters, &fwds, &z.Active, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return model.Zone{}, err
	}
	z.Serial = uint32(serial)
	z.Refresh, z.Retry, z.Expire, z.Minimum = uint32(ref), uint32(ret), uint32(exp), uint32(min)
	if err := json.Unmarshal(masters, &z.MasterServers); err != nil {
		return model.Zone{}, err
	}
	if err := json.Unmarshal(fwds, &z.ForwarderIPs); err != nil {
		return model.Zone{}, err
	}
	return z, nil
}

func (q *Queries) InsertZone(ctx context.Context, z model.Zone) error {
	masters, _ := json.Marshal(orEmpty(z.MasterServers))
	fwds, _ := json.Marshal(orEmpty(z.ForwarderIPs))
	_, err := q.db.Exec(ctx, `
		INSERT INTO zones (`+zoneColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		z.ID, z.Name, z.Type, z.AdminEmail, int64(z.Serial), int64(z.Refresh), int64(z.Retry),
		int64(z.Expire), int64(z.Minimum), masters, fwds, z.Active, z.CreatedAt, z.UpdatedAt)
	return err
}

func (q *Queries) UpdateZone(ctx context.Context, z model.Zone) error {
	masters, _ := json.Marshal(orEmpty(z.MasterServers))
	fwds, _ := json.Marshal(orEmpty(z.ForwarderIPs))
	tag, err := q.db.Exec(ctx, `
		UPDATE zones SET zone_type=$2, admin_email=$3, serial=$4, refresh=$5, retry=$6,
			expire=$7, minimum=$8, master_servers=$9, forwarder_ips=$10, active=$11,
			updated_at=$12
		WHERE id=$1`,
		z.ID, z.Type, z.AdminEmail, int64(z.Serial), int64(z.Refresh), int64(z.Retry),
		int64(z.Expire), int64(z.Minimum), masters, fwds, z.Active, z.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("zone", z.ID.String())
	}
	return nil
}

func (q *Queries) DeleteZone(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM zones WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("zone", id.String())
	}
	return nil
}

func (q *Queries) GetZone(ctx context.Context, id uuid.UUID) (model.Zone, error) {
	return scanZone(q.db.QueryRow(ctx, `SELECT `+zoneColumns+` FROM zones WHERE id=$1`, id))
}

func (q *Queries) GetZoneByName(ctx context.Context, name string) (model.Zone, error) {
	return scanZone(q.db.QueryRow(ctx, `SELECT `+zoneColumns+` FROM zones WHERE name=$1`, name))
}

func (q *Queries) ListZones(ctx context.Context) ([]model.Zone, error) {
	rows, err := q.db.Query(ctx, `SELECT `+zoneColumns+` FROM zones ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// BumpZoneSerial sets a zone's serial. The projection engine computes the
// new value; serials never move backwards.
func (q *Queries) BumpZoneSerial(ctx context.Context, zoneID uuid.UUID, serial uint32) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE zones SET serial=$2, updated_at=now() WHERE id=$1 AND serial < $2`,
		zoneID, int64(serial))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("serial", "serial would not advance")
	}
	return nil
}

// --- gateway ---

// CreateZone validates and persists a new zone, emitting the domain event.
func (s *Store) CreateZone(ctx context.Context, z model.Zone) (model.Zone, error) {
	if z.ID == uuid.Nil {
		id, _ := uuid.NewV7()
		z.ID = id
	}
	now := time.Now().UTC()
	z.CreatedAt, z.UpdatedAt = now, now

	if verr := dnscheck.ValidateZone(z); verr != nil {
		return model.Zone{}, verr
	}

	err := s.withTx(ctx, func(q *Queries) error {
		if err := q.InsertAudit(ctx, auditEntry(ctx, "create", "zone", z.ID.String(), nil, z)); err != nil {
			return err
		}
		return mapPgError(q.InsertZone(ctx, z), "zone")
	})
	if err != nil {
		return model.Zone{}, err
	}

	s.emit(entityEvent(model.EventZoneCreated, "zone", map[string]any{
		"zone_id": z.ID.String(), "name": z.Name, "zone_type": string(z.Type),
	}))
	return z, nil
}

// UpdateZone validates and persists changes to an existing zone.
func (s *Store) UpdateZone(ctx context.Context, z model.Zone) (model.Zone, error) {
	if verr := dnscheck.ValidateZone(z); verr != nil {
		return model.Zone{}, verr
	}

	err := s.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetZone(ctx, z.ID)
		if err != nil {
			return mapPgError(err, "zone")
		}
		if z.Serial < prev.Serial {
			// Serial is monotonically non-decreasing across edits.
			z.Serial = prev.Serial
		}
		z.CreatedAt = prev.CreatedAt
		z.UpdatedAt = time.Now().UTC()
		if err := q.InsertAudit(ctx, auditEntry(ctx, "update", "zone", z.ID.String(), prev, z)); err != nil {
			return err
		}
		return mapPgError(q.UpdateZone(ctx, z), "zone")
	})
	if err != nil {
		return model.Zone{}, err
	}

	s.emit(entityEvent(model.EventZoneUpdated, "zone", map[string]any{
		"zone_id": z.ID.String(), "name": z.Name,
	}))
	return z, nil
}

// DeleteZone removes a zone and, through the cascade, its records.
func (s *Store) DeleteZone(ctx context.Context, id uuid.UUID) error {
	var name string
	err := s.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetZone(ctx, id)
		if err != nil {
			return mapPgError(err, "zone")
		}
		name = prev.Name
		if err := q.InsertAudit(ctx, auditEntry(ctx, "delete", "zone", id.String(), prev, nil)); err != nil {
			return err
		}
		return mapPgError(q.DeleteZone(ctx, id), "zone")
	})
	if err != nil {
		return err
	}

	s.emit(entityEvent(model.EventZoneDeleted, "zone", map[string]any{
		"zone_id": id.String(), "name": name,
	}))
	return nil
}

func (s *Store) GetZone(ctx context.Context, id uuid.UUID) (model.Zone, error) {
	z, err := s.q.GetZone(ctx, id)
	if err != nil {
		return model.Zone{}, mapPgError(err, "zone")
	}
	return z, nil
}

func (s *Store) GetZoneByName(ctx context.Context, name string) (model.Zone, error) {
	z, err := s.q.GetZoneByName(ctx, name)
	if err != nil {
		return model.Zone{}, mapPgError(err, "zone")
	}
	return z, nil
}

func (s *Store) ListZones(ctx context.Context) ([]model.Zone, error) {
	zs, err := s.q.ListZones(ctx)
	if err != nil {
		return nil, mapPgError(err, "zone")
	}
	return zs, nil
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
