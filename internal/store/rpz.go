package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/dnscheck"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

const rpzColumns = `id, rpz_zone, domain, action, redirect_target, source, description,
	active, created_at, updated_at`

func scanRPZRule(row interface{ Scan(dest ...any) error }) (model.RPZRule, error) {
	var r model.RPZRule
	err := row.Scan(&r.ID, &r.RPZZone, &r.Domain, &r.Action, &r.RedirectTarget,
		&r.Source, &r.Description, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (q *Queries) InsertRPZRule(ctx context.Context, r model.RPZRule) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO rpz_rules (`+rpzColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.RPZZone, r.Domain, r.Action, r.RedirectTarget, r.Source,
		r.Description, r.Active, r.CreatedAt, r.UpdatedAt)
	return err
}

func (q *Queries) UpdateRPZRule(ctx context.Context, r model.RPZRule) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE rpz_rules SET action=$2, redirect_target=$3, source=$4, description=$5,
			active=$6, updated_at=$7
		WHERE id=$1`,
		r.ID, r.Action, r.RedirectTarget, r.Source, r.Description, r.Active, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("rpz_rule", r.ID.String())
	}
	return nil
}

func (q *Queries) DeleteRPZRule(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM rpz_rules WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("rpz_rule", id.String())
	}
	return nil
}

func (q *Queries) GetRPZRule(ctx context.Context, id uuid.UUID) (model.RPZRule, error) {
	return scanRPZRule(q.db.QueryRow(ctx, `SELECT `+rpzColumns+` FROM rpz_rules WHERE id=$1`, id))
}

func (q *Queries) ListRPZRules(ctx context.Context, rpzZone string) ([]model.RPZRule, error) {
	sql := `SELECT ` + rpzColumns + ` FROM rpz_rules`
	var args []any
	if rpzZone != "" {
		sql += ` WHERE rpz_zone=$1`
		args = append(args, rpzZone)
	}
	sql += ` ORDER BY rpz_zone, domain`

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RPZRule
	for rows.Next() {
		r, err := scanRPZRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRPZRulesBySource returns the rules a given feed owns.
func (q *Queries) ListRPZRulesBySource(ctx context.Context, source string) ([]model.RPZRule, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+rpzColumns+` FROM rpz_rules WHERE source=$1 ORDER BY domain`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RPZRule
	for rows.Next() {
		r, err := scanRPZRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRPZSerial returns the current serial for a category (0 when unset).
func (q *Queries) GetRPZSerial(ctx context.Context, rpzZone string) (uint32, error) {
	var serial int64
	err := q.db.QueryRow(ctx,
		`SELECT serial FROM rpz_serials WHERE rpz_zone=$1`, rpzZone).Scan(&serial)
	if err != nil {
		return 0, nil //nolint:nilerr // missing row means "never rendered"
	}
	return uint32(serial), nil
}

// SetRPZSerial upserts the serial for a category.
func (q *Queries) SetRPZSerial(ctx context.Context, rpzZone string, serial uint32) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO rpz_serials (rpz_zone, serial) VALUES ($1,$2)
		ON CONFLICT (rpz_zone) DO UPDATE SET serial=EXCLUDED.serial`,
		rpzZone, int64(serial))
	return err
}

// ListRPZSerials loads every category serial.
func (q *Queries) ListRPZSerials(ctx context.Context) (map[string]uint32, error) {
	rows, err := q.db.Query(ctx, `SELECT rpz_zone, serial FROM rpz_serials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]uint32)
	for rows.Next() {
		var (
			zone   string
			serial int64
		)
		if err := rows.Scan(&zone, &serial); err != nil {
			return nil, err
		}
		out[zone] = uint32(serial)
	}
	return out, rows.Err()
}

// --- gateway ---

func (s *Store) CreateRPZRule(ctx context.Context, r model.RPZRule) (model.RPZRule, error) {
	if r.ID == uuid.Nil {
		id, _ := uuid.NewV7()
		r.ID = id
	}
	if r.Source == "" {
		r.Source = "manual"
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	if verr := dnscheck.ValidateRPZRule(r); verr != nil {
		return model.RPZRule{}, verr
	}

	err := s.withTx(ctx, func(q *Queries) error {
		if err := q.InsertAudit(ctx, auditEntry(ctx, "create", "rpz_rule", r.ID.String(), nil, r)); err != nil {
			return err
		}
		return mapPgError(q.InsertRPZRule(ctx, r), "rpz_rule")
	})
	if err != nil {
		return model.RPZRule{}, err
	}

	s.emit(entityEvent(model.EventRPZRuleCreated, "rpz", map[string]any{
		"rule_id": r.ID.String(), "rpz_zone": r.RPZZone, "domain": r.Domain, "action": string(r.Action),
	}))
	return r, nil
}

func (s *Store) UpdateRPZRule(ctx context.Context, r model.RPZRule) (model.RPZRule, error) {
	if verr := dnscheck.ValidateRPZRule(r); verr != nil {
		return model.RPZRule{}, verr
	}

	err := s.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetRPZRule(ctx, r.ID)
		if err != nil {
			return mapPgError(err, "rpz_rule")
		}
		r.RPZZone, r.Domain = prev.RPZZone, prev.Domain
		r.CreatedAt = prev.CreatedAt
		r.UpdatedAt = time.Now().UTC()
		if err := q.InsertAudit(ctx, auditEntry(ctx, "update", "rpz_rule", r.ID.String(), prev, r)); err != nil {
			return err
		}
		return mapPgError(q.UpdateRPZRule(ctx, r), "rpz_rule")
	})
	if err != nil {
		return model.RPZRule{}, err
	}

	s.emit(entityEvent(model.EventRPZRuleUpdated, "rpz", map[string]any{
		"rule_id": r.ID.String(), "rpz_zone": r.RPZZone, "domain": r.Domain,
	}))
	return r, nil
}

func (s *Store) DeleteRPZRule(ctx context.Context, id uuid.UUID) error {
	var (
		zone   string
		domain string
	)
	err := s.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetRPZRule(ctx, id)
		if err != nil {
			return mapPgError(err, "rpz_rule")
		}
		zone, domain = prev.RPZZone, prev.Domain
		if err := q.InsertAudit(ctx, auditEntry(ctx, "delete", "rpz_rule", id.String(), prev, nil)); err != nil {
			return err
		}
		return mapPgError(q.DeleteRPZRule(ctx, id), "rpz_rule")
	})
	if err != nil {
		return err
	}

	s.emit(entityEvent(model.EventRPZRuleDeleted, "rpz", map[string]any{
		"rule_id": id.String(), "rpz_zone": zone, "domain": domain,
	}))
	return nil
}

func (s *Store) ListRPZRules(ctx context.Context, rpzZone string) ([]model.RPZRule, error) {
	rs, err := s.q.ListRPZRules(ctx, rpzZone)
	if err != nil {
		return nil, mapPgError(err, "rpz_rule")
	}
	return rs, nil
}

func (s *Store) ListRPZRulesBySource(ctx context.Context, source string) ([]model.RPZRule, error) {
	rs, err := s.q.ListRPZRulesBySource(ctx, source)
	if err != nil {
		return nil, mapPgError(err, "rpz_rule")
	}
	return rs, nil
}

// BulkUpsertRPZRules applies many rules of one source in one transaction.
// Re-running the same batch reports every row as skipped.
func (s *Store) BulkUpsertRPZRules(ctx context.Context, rules []model.RPZRule) (model.BulkResult, error) {
	res := model.BulkResult{Total: len(rules)}

	err := s.withTx(ctx, func(q *Queries) error {
		now := time.Now().UTC()
		for i, r := range rules {
			if r.Source == "" {
				r.Source = "bulk_import"
			}
			if verr := dnscheck.ValidateRPZRule(r); verr != nil {
				res.Skipped++
				res.Errors = append(res.Errors, model.BulkRowError{
					Index: i, Value: r.Domain, Reason: verr.Reason,
				})
				continue
			}

			existing, err := q.findRPZRule(ctx, r.RPZZone, r.Domain)
			switch {
			case err == nil && existing.Action == r.Action &&
				existing.RedirectTarget == r.RedirectTarget && existing.Active == r.Active:
				res.Skipped++
			case err == nil:
				existing.Action, existing.RedirectTarget = r.Action, r.RedirectTarget
				existing.Active, existing.UpdatedAt = r.Active, now
				if uerr := mapPgError(q.UpdateRPZRule(ctx, existing), "rpz_rule"); uerr != nil {
					res.Skipped++
					res.Errors = append(res.Errors, model.BulkRowError{Index: i, Value: r.Domain, Reason: uerr.Error()})
					continue
				}
				res.Updated++
			default:
				id, _ := uuid.NewV7()
				r.ID = id
				r.CreatedAt, r.UpdatedAt = now, now
				if ierr := mapPgError(q.InsertRPZRule(ctx, r), "rpz_rule"); ierr != nil {
					res.Skipped++
					res.Errors = append(res.Errors, model.BulkRowError{Index: i, Value: r.Domain, Reason: ierr.Error()})
					continue
				}
				res.Added++
			}
		}
		return q.InsertAudit(ctx, auditEntry(ctx, "bulk_upsert", "rpz_rule", "batch", nil, res))
	})
	if err != nil {
		return model.BulkResult{}, err
	}

	s.emit(entityEvent(model.EventBulkImport, "rpz", map[string]any{
		"added": res.Added, "updated": res.Updated, "skipped": res.Skipped,
	}))
	return res, nil
}

// BulkDeleteRPZRules removes the named domains for one source (feed diff
// removals). Unknown domains are counted as skipped.
func (s *Store) BulkDeleteRPZRules(ctx context.Context, source string, domains []string) (model.BulkResult, error) {
	res := model.BulkResult{Total: len(domains)}

	err := s.withTx(ctx, func(q *Queries) error {
		for i, d := range domains {
			tag, err := q.db.Exec(ctx,
				`DELETE FROM rpz_rules WHERE source=$1 AND domain=$2`, source, d)
			if err != nil {
				res.Skipped++
				res.Errors = append(res.Errors, model.BulkRowError{Index: i, Value: d, Reason: err.Error()})
				continue
			}
			if tag.RowsAffected() == 0 {
				res.Skipped++
				continue
			}
			res.Updated += int(tag.RowsAffected())
		}
		return q.InsertAudit(ctx, auditEntry(ctx, "bulk_delete", "rpz_rule", source, nil, res))
	})
	if err != nil {
		return model.BulkResult{}, err
	}
	return res, nil
}

func (q *Queries) findRPZRule(ctx context.Context, rpzZone, domain string) (model.RPZRule, error) {
	return scanRPZRule(q.db.QueryRow(ctx,
		`SELECT `+rpzColumns+` FROM rpz_rules WHERE rpz_zone=$1 AND domain=$2`, rpzZone, domain))
}
