package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/dnscheck"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

const forwarderColumns = `id, name, forwarder_type, domains, servers, health_check_enabled,
	active, created_at, updated_at`

func scanForwarder(row interface{ Scan(dest ...any) error }) (model.Forwarder, error) {
	var (
		f       model.Forwarder
		domains []byte
		servers []byte
	)
	err := row.Scan(&f.ID, &f.Name, &f.Type, &domains, &servers,
		&f.HealthCheckEnabled, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return model.Forwarder{}, err
	}
	if err := json.Unmarshal(domains, &f.Domains); err != nil {
		return model.Forwarder{}, err
	}
	if err := json.Unmarshal(servers, &f.Servers); err != nil {
		return model.Forwarder{}, err
	}
	return f, nil
}

func (q *Queries) InsertForwarder(ctx context.Context, f model.Forwarder) error {
	domains, _ := json.Marshal(orEmpty(f.Domains))
	servers, _ := json.Marshal(f.Servers)
	_, err := q.db.Exec(ctx, `
		INSERT INTO forwarders (`+forwarderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		f.ID, f.Name, f.Type, domains, servers, f.HealthCheckEnabled,
		f.Active, f.CreatedAt, f.UpdatedAt)
	return err
}

func (q *Queries) UpdateForwarder(ctx context.Context, f model.Forwarder) error {
	domains, _ := json.Marshal(orEmpty(f.Domains))
	servers, _ := json.Marshal(f.Servers)
	tag, err := q.db.Exec(ctx, `
		UPDATE forwarders SET name=$2, forwarder_type=$3, domains=$4, servers=$5,
			health_check_enabled=$6, active=$7, updated_at=$8
		WHERE id=$1`,
		f.ID, f.Name, f.Type, domains, servers, f.HealthCheckEnabled, f.Active, f.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("forwarder", f.ID.String())
	}
	return nil
}

func (q *Queries) DeleteForwarder(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM forwarders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("forwarder", id.String())
	}
	return nil
}

func (q *Queries) GetForwarder(ctx context.Context, id uuid.UUID) (model.Forwarder, error) {
	return scanForwarder(q.db.QueryRow(ctx,
		`SELECT `+forwarderColumns+` FROM forwarders WHERE id=$1`, id))
}

func (q *Queries) ListForwarders(ctx context.Context) ([]model.Forwarder, error) {
	rows, err := q.db.Query(ctx, `SELECT `+forwarderColumns+` FROM forwarders ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Forwarder
	for rows.Next() {
		f, err := scanForwarder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- gateway ---

// checkDomainOverlap enforces that every domain is owned by at most one
// active forwarder.
func checkDomainOverlap(f model.Forwarder, others []model.Forwarder) *apperr.Error {
	if !f.Active {
		return nil
	}
	owned := make(map[string]string)
	for _, o := range others {
		if o.ID == f.ID || !o.Active {
			continue
		}
		for _, d := range o.Domains {
			owned[d] = o.Name
		}
	}
	for _, d := range f.Domains {
		if owner, taken := owned[d]; taken {
			return apperr.Conflict("domains",
				fmt.Sprintf("domain %s is already routed by forwarder %q", d, owner))
		}
	}
	return nil
}

func (s *Store) CreateForwarder(ctx context.Context, f model.Forwarder) (model.Forwarder, error) {
	if f.ID == uuid.Nil {
		id, _ := uuid.NewV7()
		f.ID = id
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now

	if verr := dnscheck.ValidateForwarder(f); verr != nil {
		return model.Forwarder{}, verr
	}

	err := s.withTx(ctx, func(q *Queries) error {
		others, err := q.ListForwarders(ctx)
		if err != nil {
			return mapPgError(err, "forwarder")
		}
		if verr := checkDomainOverlap(f, others); verr != nil {
			return verr
		}
		if err := q.InsertAudit(ctx, auditEntry(ctx, "create", "forwarder", f.ID.String(), nil, f)); err != nil {
			return err
		}
		return mapPgError(q.InsertForwarder(ctx, f), "forwarder")
	})
	if err != nil {
		return model.Forwarder{}, err
	}

	s.emit(entityEvent(model.EventForwarderCreated, "forwarder", map[string]any{
		"forwarder_id": f.ID.String(), "name": f.Name,
	}))
	return f, nil
}

func (s *Store) UpdateForwarder(ctx context.Context, f model.Forwarder) (model.Forwarder, error) {
	if verr := dnscheck.ValidateForwarder(f); verr != nil {
		return model.Forwarder{}, verr
	}

	err := s.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetForwarder(ctx, f.ID)
		if err != nil {
			return mapPgError(err, "forwarder")
		}
		others, err := q.ListForwarders(ctx)
		if err != nil {
			return mapPgError(err, "forwarder")
		}
		if verr := checkDomainOverlap(f, others); verr != nil {
			return verr
		}
		f.CreatedAt = prev.CreatedAt
		f.UpdatedAt = time.Now().UTC()
		if err := q.InsertAudit(ctx, auditEntry(ctx, "update", "forwarder", f.ID.String(), prev, f)); err != nil {
			return err
		}
		return mapPgError(q.UpdateForwarder(ctx, f), "forwarder")
	})
	if err != nil {
		return model.Forwarder{}, err
	}

	s.emit(entityEvent(model.EventForwarderUpdated, "forwarder", map[string]any{
		"forwarder_id": f.ID.String(), "name": f.Name,
	}))
	return f, nil
}

func (s *Store) DeleteForwarder(ctx context.Context, id uuid.UUID) error {
	var name string
	err := s.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetForwarder(ctx, id)
		if err != nil {
			return mapPgError(err, "forwarder")
		}
		name = prev.Name
		if err := q.InsertAudit(ctx, auditEntry(ctx, "delete", "forwarder", id.String(), prev, nil)); err != nil {
			return err
		}
		return mapPgError(q.DeleteForwarder(ctx, id), "forwarder")
	})
	if err != nil {
		return err
	}

	s.emit(entityEvent(model.EventForwarderDeleted, "forwarder", map[string]any{
		"forwarder_id": id.String(), "name": name,
	}))
	return nil
}

func (s *Store) GetForwarder(ctx context.Context, id uuid.UUID) (model.Forwarder, error) {
	f, err := s.q.GetForwarder(ctx, id)
	if err != nil {
		return model.Forwarder{}, mapPgError(err, "forwarder")
	}
	return f, nil
}

func (s *Store) ListForwarders(ctx context.Context) ([]model.Forwarder, error) {
	fs, err := s.q.ListForwarders(ctx)
	if err != nil {
		return nil, mapPgError(err, "forwarder")
	}
	return fs, nil
}
