// Package feeds keeps RPZ rule sets in sync with external threat feeds and
// handles operator bulk imports. Each feed owns the rules tagged with its
// source label; a refresh diffs the fetched list against them.
package feeds

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/model"
	"github.com/dnsweaver/dnsweaver/internal/projection"
)

// SourceLabel is the rule source a feed's rules carry.
func SourceLabel(feedName string) string { return "threat_feed:" + feedName }

// Store is what the service needs from the relational store.
type Store interface {
	ListFeeds(ctx context.Context, activeOnly bool) ([]model.ThreatFeed, error)
	ListRPZRulesBySource(ctx context.Context, source string) ([]model.RPZRule, error)
	BulkUpsertRPZRules(ctx context.Context, rules []model.RPZRule) (model.BulkResult, error)
	BulkDeleteRPZRules(ctx context.Context, source string, domains []string) (model.BulkResult, error)
	MarkFeedRefreshed(ctx context.Context, id uuid.UUID, status model.FeedStatus, rulesCount int) error
}

// Projector pushes the resulting rule set at the resolver.
type Projector interface {
	Apply(ctx context.Context, req projection.Request) (projection.Result, error)
}

// Publisher receives refresh-outcome events.
type Publisher interface {
	Emit(model.Event)
}

// Refreshed is the payload of threat_feed_refreshed events.
type Refreshed struct {
	Feed    string           `json:"feed"`
	Status  model.FeedStatus `json:"status"`
	Total   int              `json:"total"`
	Added   int              `json:"added"`
	Updated int              `json:"updated"`
	Removed int              `json:"removed"`
	Skipped int              `json:"skipped"`
}

// Service drives feed refreshes and bulk imports.
type Service struct {
	store   Store
	fetch   Getter
	project Projector
	pub     Publisher
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(st Store, fetch Getter, project Projector, pub Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:   st,
		fetch:   fetch,
		project: project,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
	}
}

// RefreshDue refreshes every active feed whose interval has elapsed. One
// failing feed never blocks the others.
func (s *Service) RefreshDue(ctx context.Context) error {
	feeds, err := s.store.ListFeeds(ctx, true)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	var errs *multierror.Error
	for _, f := range feeds {
		if f.UpdateFrequency <= 0 {
			continue // manual-only feed
		}
		if f.LastUpdateAt != nil && now.Before(f.LastUpdateAt.Add(f.UpdateFrequency)) {
			continue
		}
		if _, err := s.RefreshFeed(ctx, f); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("feed %s: %w", f.Name, err))
		}
	}
	return errs.ErrorOrNil()
}

// RefreshFeed fetches, parses and applies one feed. The existing rule set
// is kept untouched when the fetch or parse fails outright, or when the
// body yields no domains at all.
func (s *Service) RefreshFeed(ctx context.Context, feed model.ThreatFeed) (model.BulkResult, error) {
	log := s.logger.With(zap.String("feed", feed.Name))

	body, err := s.fetch.Fetch(ctx, feed.URL)
	if err != nil {
		s.markFailed(ctx, feed, log, err)
		return model.BulkResult{}, err
	}

	domains, rowErrs, err := Parse(feed.Format, bytes.NewReader(body))
	if err != nil {
		s.markFailed(ctx, feed, log, err)
		return model.BulkResult{}, err
	}
	if len(domains) == 0 {
		err := fmt.Errorf("feed %s yielded no usable domains", feed.Name)
		s.markFailed(ctx, feed, log, err)
		return model.BulkResult{}, err
	}

	src := SourceLabel(feed.Name)
	rules := make([]model.RPZRule, 0, len(domains))
	fetched := make(map[string]bool, len(domains))
	for _, d := range domains {
		fetched[d] = true
		rules = append(rules, model.RPZRule{
			RPZZone:     feed.FeedType,
			Domain:      d,
			Action:      model.ActionBlock,
			Source:      src,
			Description: "from feed " + feed.Name,
			Active:      true,
		})
	}

	existing, err := s.store.ListRPZRulesBySource(ctx, src)
	if err != nil {
		return model.BulkResult{}, err
	}
	var stale []string
	for _, r := range existing {
		if !fetched[r.Domain] {
			stale = append(stale, r.Domain)
		}
	}

	removed := 0
	if len(stale) > 0 {
		del, err := s.store.BulkDeleteRPZRules(ctx, src, stale)
		if err != nil {
			return model.BulkResult{}, err
		}
		removed = del.Updated
	}

	res, err := s.store.BulkUpsertRPZRules(ctx, rules)
	if err != nil {
		return model.BulkResult{}, err
	}
	// Fold the parse rejections into the batch outcome.
	res.Total += len(rowErrs)
	res.Skipped += len(rowErrs)
	res.Errors = append(rowErrs, res.Errors...)

	status := model.FeedOK
	if len(res.Errors) > 0 {
		status = model.FeedPartial
	}
	if err := s.store.MarkFeedRefreshed(ctx, feed.ID, status, len(domains)); err != nil {
		return res, err
	}

	log.Info("feed refreshed",
		zap.String("status", string(status)),
		zap.Int("domains", len(domains)),
		zap.Int("added", res.Added),
		zap.Int("removed", removed),
		zap.Int("skipped", res.Skipped),
	)
	s.emitRefreshed(feed, status, res, removed)

	if res.Added > 0 || res.Updated > 0 || removed > 0 {
		if _, err := s.project.Apply(ctx, projection.Request{
			Source: "feeds",
			Reason: "refresh of feed " + feed.Name,
		}); err != nil {
			return res, err
		}
	}
	return res, nil
}

// BulkImport applies an operator-supplied list to one RPZ category. Rows
// come in under the bulk_import source with the given action.
func (s *Service) BulkImport(ctx context.Context, rpzZone string, format model.FeedFormat,
	action model.RPZAction, redirectTarget string, body []byte) (model.BulkResult, error) {

	domains, rowErrs, err := Parse(format, bytes.NewReader(body))
	if err != nil {
		return model.BulkResult{}, err
	}

	rules := make([]model.RPZRule, 0, len(domains))
	for _, d := range domains {
		rules = append(rules, model.RPZRule{
			RPZZone:        rpzZone,
			Domain:         d,
			Action:         action,
			RedirectTarget: redirectTarget,
			Source:         "bulk_import",
			Active:         true,
		})
	}

	res, err := s.store.BulkUpsertRPZRules(ctx, rules)
	if err != nil {
		return model.BulkResult{}, err
	}
	res.Total += len(rowErrs)
	res.Skipped += len(rowErrs)
	res.Errors = append(rowErrs, res.Errors...)

	if res.Added > 0 || res.Updated > 0 {
		if _, err := s.project.Apply(ctx, projection.Request{
			Source: "feeds",
			Reason: "bulk import into " + rpzZone,
		}); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Service) markFailed(ctx context.Context, feed model.ThreatFeed, log *zap.Logger, cause error) {
	log.Warn("feed refresh failed, keeping current rules", zap.Error(cause))
	if err := s.store.MarkFeedRefreshed(ctx, feed.ID, model.FeedFailed, feed.RulesCount); err != nil {
		log.Warn("recording feed failure", zap.Error(err))
	}
	s.emitRefreshed(feed, model.FeedFailed, model.BulkResult{}, 0)
}

func (s *Service) emitRefreshed(feed model.ThreatFeed, status model.FeedStatus, res model.BulkResult, removed int) {
	if s.pub == nil {
		return
	}
	sev := model.SeverityInfo
	if status == model.FeedFailed {
		sev = model.SeverityWarning
	}
	id, _ := uuid.NewV7()
	s.pub.Emit(model.Event{
		ID:       id,
		Type:     model.EventFeedRefreshed,
		Category: model.CategorySecurity,
		Severity: sev,
		Priority: model.PriorityNormal,
		Source:   "feeds",
		Data: Refreshed{
			Feed:    feed.Name,
			Status:  status,
			Total:   res.Total,
			Added:   res.Added,
			Updated: res.Updated,
			Removed: removed,
			Skipped: res.Skipped,
		},
		CreatedAt: s.now().UTC(),
		Persist:   true,
	})
}
