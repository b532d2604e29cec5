package feeds_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/feeds"
	"github.com/dnsweaver/dnsweaver/internal/feeds/mock"
	"github.com/dnsweaver/dnsweaver/internal/model"
	"github.com/dnsweaver/dnsweaver/internal/projection"
)

type staticGetter struct {
	body []byte
}

func (g staticGetter) Fetch(context.Context, string) ([]byte, error) { return g.body, nil }

func TestRefreshFeed_FullFlow(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mock.NewMockStore(ctrl)
	mockProj := mock.NewMockProjector(ctrl)
	mockPub := mock.NewMockPublisher(ctrl)

	feed := model.ThreatFeed{
		ID:       uuid.New(),
		Name:     "phish",
		URL:      "https://feeds.example/phish.txt",
		FeedType: "rpz.phishing",
		Format:   model.FormatDomains,
		Active:   true,
	}
	src := "threat_feed:phish"

	// 1. Diff the fetched list against the feed's current rules.
	mockStore.EXPECT().ListRPZRulesBySource(gomock.Any(), src).Return([]model.RPZRule{
		{RPZZone: "rpz.phishing", Domain: "bad.example", Source: src},
		{RPZZone: "rpz.phishing", Domain: "stale.example", Source: src},
	}, nil)

	// 2. Drop the rule the feed no longer carries.
	mockStore.EXPECT().BulkDeleteRPZRules(gomock.Any(), src, []string{"stale.example"}).Return(
		model.BulkResult{Total: 1, Updated: 1}, nil,
	)

	// 3. Upsert exactly what was fetched, tagged with the feed's source.
	mockStore.EXPECT().BulkUpsertRPZRules(gomock.Any(), []model.RPZRule{
		{RPZZone: "rpz.phishing", Domain: "bad.example", Action: model.ActionBlock,
			Source: src, Description: "from feed phish", Active: true},
		{RPZZone: "rpz.phishing", Domain: "worse.example", Action: model.ActionBlock,
			Source: src, Description: "from feed phish", Active: true},
	}).Return(model.BulkResult{Total: 2, Added: 1, Updated: 1}, nil)

	// 4. Record the refresh outcome.
	mockStore.EXPECT().MarkFeedRefreshed(gomock.Any(), feed.ID, model.FeedOK, 2).Return(nil)

	// 5. Announce it and push the rule set at the resolver.
	mockPub.EXPECT().Emit(gomock.Any())
	mockProj.EXPECT().Apply(gomock.Any(), projection.Request{
		Source: "feeds",
		Reason: "refresh of feed phish",
	}).Return(projection.Result{}, nil)

	svc := feeds.NewService(mockStore,
		staticGetter{body: []byte("bad.example\nworse.example\n")},
		mockProj, mockPub, zap.NewNop())

	res, err := svc.RefreshFeed(context.Background(), feed)
	require.NoError(t, err)
	require.Equal(t, 1, res.Added)
	require.Equal(t, 1, res.Updated)
}

func TestRefreshFeed_StoreFailureStopsBeforeAnyWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mock.NewMockStore(ctrl)
	mockProj := mock.NewMockProjector(ctrl)
	mockPub := mock.NewMockPublisher(ctrl)

	feed := model.ThreatFeed{
		ID:       uuid.New(),
		Name:     "phish",
		FeedType: "rpz.phishing",
		Format:   model.FormatDomains,
		Active:   true,
	}

	mockStore.EXPECT().ListRPZRulesBySource(gomock.Any(), "threat_feed:phish").Return(
		nil, errors.New("store down"),
	)

	svc := feeds.NewService(mockStore,
		staticGetter{body: []byte("bad.example\n")},
		mockProj, mockPub, zap.NewNop())

	_, err := svc.RefreshFeed(context.Background(), feed)
	require.Error(t, err)
}
