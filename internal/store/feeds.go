package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

const feedColumns = `id, name, url, feed_type, format, update_frequency_s, last_update_at,
	last_update_status, rules_count, active, created_at, updated_at`

func scanFeed(row interface{ Scan(dest ...any) error }) (model.ThreatFeed, error) {
	var (
		f    model.ThreatFeed
		freq int64
	)
	err := row.Scan(&f.ID, &f.Name, &f.URL, &f.FeedType, &f.Format, &freq,
		&f.LastUpdateAt, &f.LastUpdateStatus, &f.RulesCount, &f.Active,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return model.ThreatFeed{}, err
	}
	f.UpdateFrequency = time.Duration(freq) * time.Second
	return f, nil
}

func (q *Queries) InsertFeed(ctx context.Context, f model.ThreatFeed) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO threat_feeds (`+feedColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		f.ID, f.Name, f.URL, f.FeedType, f.Format, int64(f.UpdateFrequency/time.Second),
		f.LastUpdateAt, f.LastUpdateStatus, f.RulesCount, f.Active, f.CreatedAt, f.UpdatedAt)
	return err
}

func (q *Queries) UpdateFeed(ctx context.Context, f model.ThreatFeed) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE threat_feeds SET url=$2, feed_type=$3, format=$4, update_frequency_s=$5,
			last_update_at=$6, last_update_status=$7, rules_count=$8, active=$9, updated_at=$10
		WHERE id=$1`,
		f.ID, f.URL, f.FeedType, f.Format, int64(f.UpdateFrequency/time.Second),
		f.LastUpdateAt, f.LastUpdateStatus, f.RulesCount, f.Active, f.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("threat_feed", f.ID.String())
	}
	return nil
}

func (q *Queries) DeleteFeed(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM threat_feeds WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("threat_feed", id.String())
	}
	return nil
}

func (q *Queries) GetFeed(ctx context.Context, id uuid.UUID) (model.ThreatFeed, error) {
	return scanFeed(q.db.QueryRow(ctx, `SELECT `+feedColumns+` FROM threat_feeds WHERE id=$1`, id))
}

func (q *Queries) ListFeeds(ctx context.Context, activeOnly bool) ([]model.ThreatFeed, error) {
	sql := `SELECT ` + feedColumns + ` FROM threat_feeds`
	if activeOnly {
		sql += ` WHERE active`
	}
	sql += ` ORDER BY name`

	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ThreatFeed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- gateway ---

func (s *Store) CreateFeed(ctx context.Context, f model.ThreatFeed) (model.ThreatFeed, error) {
	if f.ID == uuid.Nil {
		id, _ := uuid.NewV7()
		f.ID = id
	}
	if f.Name == "" {
		return model.ThreatFeed{}, apperr.Validation("name", "feed name is empty", "give the feed a name")
	}
	if f.URL == "" {
		return model.ThreatFeed{}, apperr.Validation("url", "feed url is empty", "provide the list URL")
	}
	switch f.Format {
	case model.FormatDomains, model.FormatHosts, model.FormatJSON, model.FormatCSV:
	default:
		return model.ThreatFeed{}, apperr.Validation("format",
			"unknown feed format", "use domains, hosts, json or csv")
	}
	if f.LastUpdateStatus == "" {
		f.LastUpdateStatus = model.FeedNever
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now

	err := s.withTx(ctx, func(q *Queries) error {
		if err := q.InsertAudit(ctx, auditEntry(ctx, "create", "threat_feed", f.ID.String(), nil, f)); err != nil {
			return err
		}
		return mapPgError(q.InsertFeed(ctx, f), "threat_feed")
	})
	if err != nil {
		return model.ThreatFeed{}, err
	}
	return f, nil
}

func (s *Store) UpdateFeed(ctx context.Context, f model.ThreatFeed) (model.ThreatFeed, error) {
	err := s.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetFeed(ctx, f.ID)
		if err != nil {
			return mapPgError(err, "threat_feed")
		}
		f.CreatedAt = prev.CreatedAt
		f.UpdatedAt = time.Now().UTC()
		if err := q.InsertAudit(ctx, auditEntry(ctx, "update", "threat_feed", f.ID.String(), prev, f)); err != nil {
			return err
		}
		return mapPgError(q.UpdateFeed(ctx, f), "threat_feed")
	})
	if err != nil {
		return model.ThreatFeed{}, err
	}
	return f, nil
}

func (s *Store) DeleteFeed(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(q *Queries) error {
		prev, err := q.GetFeed(ctx, id)
		if err != nil {
			return mapPgError(err, "threat_feed")
		}
		if err := q.InsertAudit(ctx, auditEntry(ctx, "delete", "threat_feed", id.String(), prev, nil)); err != nil {
			return err
		}
		return mapPgError(q.DeleteFeed(ctx, id), "threat_feed")
	})
}

func (s *Store) GetFeed(ctx context.Context, id uuid.UUID) (model.ThreatFeed, error) {
	f, err := s.q.GetFeed(ctx, id)
	if err != nil {
		return model.ThreatFeed{}, mapPgError(err, "threat_feed")
	}
	return f, nil
}

func (s *Store) ListFeeds(ctx context.Context, activeOnly bool) ([]model.ThreatFeed, error) {
	fs, err := s.q.ListFeeds(ctx, activeOnly)
	if err != nil {
		return nil, mapPgError(err, "threat_feed")
	}
	return fs, nil
}

// MarkFeedRefreshed records the outcome of a refresh cycle.
func (s *Store) MarkFeedRefreshed(ctx context.Context, id uuid.UUID, status model.FeedStatus, rulesCount int) error {
	now := time.Now().UTC()
	_, err := s.q.db.Exec(ctx, `
		UPDATE threat_feeds SET last_update_at=$2, last_update_status=$3, rules_count=$4, updated_at=$2
		WHERE id=$1`,
		id, now, status, rulesCount)
	return mapPgError(err, "threat_feed")
}
