package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

type fakeStore struct {
	forwarders []model.Forwarder
	rows       []model.ForwarderHealth
}

func (f *fakeStore) ListForwarders(context.Context) ([]model.Forwarder, error) {
	return f.forwarders, nil
}

func (f *fakeStore) InsertForwarderHealth(_ context.Context, h model.ForwarderHealth) error {
	f.rows = append(f.rows, h)
	return nil
}

// fakeProber answers by address, recording the names it was asked for;
// unknown addresses probe healthy.
type fakeProber struct {
	mu     sync.Mutex
	byAddr map[string]Probe
	names  []string
}

func (f *fakeProber) Probe(_ context.Context, addr, name string) Probe {
	f.mu.Lock()
	f.names = append(f.names, name)
	p, ok := f.byAddr[addr]
	f.mu.Unlock()
	if ok {
		return p
	}
	return Probe{Status: model.HealthHealthy, RTT: 5 * time.Millisecond}
}

func (f *fakeProber) askedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

type eventRecorder struct {
	events []model.Event
}

func (r *eventRecorder) Emit(e model.Event) { r.events = append(r.events, e) }

func testForwarder() model.Forwarder {
	return model.Forwarder{
		ID:   uuid.New(),
		Name: "corp",
		Type: model.ForwarderIntranet,
		Servers: []model.ForwarderServer{
			{IP: "10.0.0.1", Port: 53, Priority: 1},
			{IP: "10.0.0.2", Port: 53, Priority: 2},
		},
		HealthCheckEnabled: true,
		Active:             true,
	}
}

func newTracker(t *testing.T, st Store, prober Prober, pub Publisher) *Tracker {
	t.Helper()
	return New(Config{Concurrency: 2}, st, prober, pub, zaptest.NewLogger(t))
}

func TestAggregate(t *testing.T) {
	h := ServerProbe{Probe: Probe{Status: model.HealthHealthy}}
	bad := ServerProbe{Probe: Probe{Status: model.HealthTimeout}}

	assert.Equal(t, model.StatusUnknown, Aggregate(nil))
	assert.Equal(t, model.StatusHealthy, Aggregate([]ServerProbe{h, h}))
	assert.Equal(t, model.StatusDegraded, Aggregate([]ServerProbe{h, bad}))
	assert.Equal(t, model.StatusUnhealthy, Aggregate([]ServerProbe{bad, bad}))
}

func TestTickPersistsProbeRows(t *testing.T) {
	fw := testForwarder()
	st := &fakeStore{forwarders: []model.Forwarder{fw}}
	prober := &fakeProber{byAddr: map[string]Probe{
		"10.0.0.2:53": {Status: model.HealthError, Err: "connection refused"},
	}}
	tr := newTracker(t, st, prober, &eventRecorder{})

	require.NoError(t, tr.Tick(context.Background()))
	require.Len(t, st.rows, 2)

	byIP := map[string]model.ForwarderHealth{}
	for _, r := range st.rows {
		byIP[r.ServerIP] = r
		assert.Equal(t, fw.ID, r.ForwarderID)
	}
	require.NotNil(t, byIP["10.0.0.1"].ResponseTimeMs)
	assert.InDelta(t, 5.0, *byIP["10.0.0.1"].ResponseTimeMs, 0.01)
	assert.Equal(t, model.HealthError, byIP["10.0.0.2"].Status)
	assert.Equal(t, "connection refused", byIP["10.0.0.2"].ErrorMessage)
	assert.Nil(t, byIP["10.0.0.2"].ResponseTimeMs)
}

func TestStatusTransitionsEmitOnce(t *testing.T) {
	fw := testForwarder()
	st := &fakeStore{forwarders: []model.Forwarder{fw}}
	prober := &fakeProber{byAddr: map[string]Probe{}}
	rec := &eventRecorder{}
	tr := newTracker(t, st, prober, rec)

	// unknown -> healthy
	require.NoError(t, tr.Tick(context.Background()))
	require.Len(t, rec.events, 1)
	change := rec.events[0].Data.(StatusChange)
	assert.Equal(t, model.StatusUnknown, change.OldStatus)
	assert.Equal(t, model.StatusHealthy, change.NewStatus)
	assert.Equal(t, model.SeverityInfo, rec.events[0].Severity)

	// healthy -> healthy: no event
	require.NoError(t, tr.Tick(context.Background()))
	assert.Len(t, rec.events, 1)

	// healthy -> degraded
	prober.byAddr["10.0.0.2:53"] = Probe{Status: model.HealthTimeout, Err: "i/o timeout"}
	require.NoError(t, tr.Tick(context.Background()))
	require.Len(t, rec.events, 2)
	change = rec.events[1].Data.(StatusChange)
	assert.Equal(t, model.StatusHealthy, change.OldStatus)
	assert.Equal(t, model.StatusDegraded, change.NewStatus)
	assert.Equal(t, model.SeverityWarning, rec.events[1].Severity)

	assert.Equal(t, model.StatusDegraded, tr.Summary()[fw.ID])
}

func TestUnhealthyIsCriticalAndBypassesBatching(t *testing.T) {
	fw := testForwarder()
	st := &fakeStore{forwarders: []model.Forwarder{fw}}
	prober := &fakeProber{byAddr: map[string]Probe{
		"10.0.0.1:53": {Status: model.HealthError, Err: "no route"},
		"10.0.0.2:53": {Status: model.HealthTimeout, Err: "i/o timeout"},
	}}
	rec := &eventRecorder{}
	tr := newTracker(t, st, prober, rec)

	require.NoError(t, tr.Tick(context.Background()))
	require.Len(t, rec.events, 1)
	assert.Equal(t, model.SeverityCritical, rec.events[0].Severity)
	assert.True(t, rec.events[0].Priority.Bypass())
}

func TestDisabledForwardersAreSkipped(t *testing.T) {
	disabled := testForwarder()
	disabled.HealthCheckEnabled = false
	inactive := testForwarder()
	inactive.Active = false

	st := &fakeStore{forwarders: []model.Forwarder{disabled, inactive}}
	rec := &eventRecorder{}
	tr := newTracker(t, st, &fakeProber{}, rec)

	require.NoError(t, tr.Tick(context.Background()))
	assert.Empty(t, st.rows)
	assert.Empty(t, rec.events)
	assert.Empty(t, tr.Summary())
}

func TestTickProbesDeclaredDomain(t *testing.T) {
	fw := testForwarder()
	fw.Domains = []string{"corp.example", "ad.corp.example"}
	st := &fakeStore{forwarders: []model.Forwarder{fw}}
	prober := &fakeProber{}
	tr := newTracker(t, st, prober, &eventRecorder{})

	require.NoError(t, tr.Tick(context.Background()))

	// A conditional forwarder is asked for its own first domain, not the
	// default name it may refuse to resolve.
	names := prober.askedNames()
	require.Len(t, names, 2)
	for _, n := range names {
		assert.Equal(t, "corp.example", n)
	}
}

func TestTestForwarderDoesNotPersist(t *testing.T) {
	fw := testForwarder()
	st := &fakeStore{}
	prober := &fakeProber{byAddr: map[string]Probe{
		"10.0.0.2:53": {Status: model.HealthTimeout, Err: "i/o timeout"},
	}}
	tr := newTracker(t, st, prober, &eventRecorder{})

	res := tr.TestForwarder(context.Background(), fw, []string{"corp.example", "ad.corp.example"})

	// Two servers by two domains, with the per-domain outcome kept.
	require.Len(t, res.Probes, 4)
	byServer := map[string][]DomainProbe{}
	for _, p := range res.Probes {
		byServer[p.ServerIP] = append(byServer[p.ServerIP], p)
	}
	require.Len(t, byServer["10.0.0.1"], 2)
	assert.Equal(t, "corp.example", byServer["10.0.0.1"][0].Domain)
	assert.Equal(t, "ad.corp.example", byServer["10.0.0.1"][1].Domain)
	assert.Equal(t, model.HealthHealthy, byServer["10.0.0.1"][0].Status)
	assert.Equal(t, model.HealthTimeout, byServer["10.0.0.2"][0].Status)

	// Half the probes succeeded.
	assert.InDelta(t, 0.5, res.SuccessRate, 0.001)

	assert.Empty(t, st.rows)
	assert.Empty(t, tr.Summary())
}

func TestTestForwarderDefaultsToDeclaredDomains(t *testing.T) {
	fw := testForwarder()
	fw.Domains = []string{"corp.example"}
	prober := &fakeProber{}
	tr := newTracker(t, &fakeStore{}, prober, &eventRecorder{})

	res := tr.TestForwarder(context.Background(), fw, nil)
	require.Len(t, res.Probes, 2)
	assert.Equal(t, "corp.example", res.Probes[0].Domain)
	assert.InDelta(t, 1.0, res.SuccessRate, 0.001)
}

func TestServerAddrDefaultsPort(t *testing.T) {
	assert.Equal(t, "10.0.0.1:53", serverAddr(model.ForwarderServer{IP: "10.0.0.1"}))
	assert.Equal(t, "10.0.0.1:5353", serverAddr(model.ForwarderServer{IP: "10.0.0.1", Port: 5353}))
}
