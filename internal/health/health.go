// Package health probes forwarder upstreams over DNS and tracks each
// forwarder's aggregate status. Probe rows are insert-only history; status
// transitions surface as events.
package health

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// Probe is the outcome of a single upstream check.
type Probe struct {
	Status model.HealthStatus
	RTT    time.Duration
	Err    string
}

// ServerProbe ties a probe outcome to the server it checked.
type ServerProbe struct {
	ServerIP string
	Port     uint16
	Probe
}

// Prober checks one upstream address for one name. Tests substitute a
// fake.
type Prober interface {
	Probe(ctx context.Context, addr, name string) Probe
}

// DNSProber sends a real DNS query per probe.
type DNSProber struct {
	client *dns.Client
	query  string
}

// NewDNSProber builds a prober with the given per-probe timeout; query is
// the fallback name asked for when a probe names none (root by default).
func NewDNSProber(timeout time.Duration, query string) *DNSProber {
	if query == "" {
		query = "."
	}
	return &DNSProber{
		client: &dns.Client{Timeout: timeout},
		query:  dns.Fqdn(query),
	}
}

func (p *DNSProber) Probe(ctx context.Context, addr, name string) Probe {
	q := p.query
	if name != "" {
		q = dns.Fqdn(name)
	}
	m := new(dns.Msg)
	m.SetQuestion(q, dns.TypeNS)
	m.RecursionDesired = true

	in, rtt, err := p.client.ExchangeContext(ctx, m, addr)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return Probe{Status: model.HealthTimeout, Err: err.Error()}
		}
		return Probe{Status: model.HealthError, Err: err.Error()}
	}
	switch in.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		return Probe{Status: model.HealthHealthy, RTT: rtt}
	default:
		return Probe{Status: model.HealthUnhealthy, Err: dns.RcodeToString[in.Rcode]}
	}
}

// Store is what the tracker needs from the relational store.
type Store interface {
	ListForwarders(ctx context.Context) ([]model.Forwarder, error)
	InsertForwarderHealth(ctx context.Context, h model.ForwarderHealth) error
}

// Publisher receives status-transition events.
type Publisher interface {
	Emit(model.Event)
}

// StatusChange is the payload of forwarder_status_change events.
type StatusChange struct {
	ForwarderID string                `json:"forwarder_id"`
	Name        string                `json:"name"`
	OldStatus   model.ForwarderStatus `json:"old_status"`
	NewStatus   model.ForwarderStatus `json:"new_status"`
}

// Config carries the tracker's probing knobs.
type Config struct {
	ProbeTimeout time.Duration // per upstream query
	SweepTimeout time.Duration // whole tick budget
	Concurrency  int           // upstream probes in flight
	QueryName    string        // probed name, root by default
}

// Tracker sweeps every health-checked forwarder and records the outcome.
type Tracker struct {
	cfg    Config
	store  Store
	prober Prober
	pub    Publisher
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	status map[uuid.UUID]model.ForwarderStatus
}

func New(cfg Config, st Store, prober Prober, pub Publisher, logger *zap.Logger) *Tracker {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if prober == nil {
		prober = NewDNSProber(cfg.ProbeTimeout, cfg.QueryName)
	}
	return &Tracker{
		cfg:    cfg,
		store:  st,
		prober: prober,
		pub:    pub,
		logger: logger,
		now:    time.Now,
		status: make(map[uuid.UUID]model.ForwarderStatus),
	}
}

// Tick runs one sweep: probe every server of every active, health-checked
// forwarder, persist the rows and emit a status event per transition.
func (t *Tracker) Tick(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.SweepTimeout)
	defer cancel()

	fws, err := t.store.ListForwarders(ctx)
	if err != nil {
		return err
	}

	type keyed struct {
		fw uuid.UUID
		sp ServerProbe
	}
	sem := make(chan struct{}, t.cfg.Concurrency)
	out := make(chan keyed)
	var wg sync.WaitGroup

	probed := 0
	for _, fw := range fws {
		if !fw.Active || !fw.HealthCheckEnabled {
			continue
		}
		name := t.probeName(fw)
		for _, srv := range fw.Servers {
			probed++
			wg.Add(1)
			go func(fwID uuid.UUID, srv model.ForwarderServer, name string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				pctx, pcancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
				p := t.prober.Probe(pctx, serverAddr(srv), name)
				pcancel()
				out <- keyed{fw: fwID, sp: ServerProbe{ServerIP: srv.IP, Port: srv.Port, Probe: p}}
			}(fw.ID, srv, name)
		}
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	results := make(map[uuid.UUID][]ServerProbe, len(fws))
	for k := range out {
		results[k.fw] = append(results[k.fw], k.sp)
	}

	checkedAt := t.now().UTC()
	for _, fw := range fws {
		probes, ok := results[fw.ID]
		if !ok {
			continue
		}
		for _, sp := range probes {
			row := model.ForwarderHealth{
				ForwarderID:  fw.ID,
				ServerIP:     sp.ServerIP,
				Status:       sp.Status,
				ErrorMessage: sp.Err,
				CheckedAt:    checkedAt,
			}
			if sp.Status == model.HealthHealthy {
				ms := float64(sp.RTT) / float64(time.Millisecond)
				row.ResponseTimeMs = &ms
			}
			if err := t.store.InsertForwarderHealth(ctx, row); err != nil {
				t.logger.Warn("recording probe failed",
					zap.String("forwarder", fw.Name), zap.Error(err))
			}
		}
		t.transition(fw, Aggregate(probes))
	}

	t.logger.Debug("health sweep done", zap.Int("probes", probed))
	return nil
}

// probeName picks the name a forwarder is asked to resolve: its first
// declared domain, else the configured default. A conditional forwarder
// that only answers for its own domains would otherwise always fail the
// sweep.
func (t *Tracker) probeName(fw model.Forwarder) string {
	if len(fw.Domains) > 0 {
		return fw.Domains[0]
	}
	return t.cfg.QueryName
}

// DomainProbe is one server-and-domain outcome of an on-demand test.
type DomainProbe struct {
	ServerIP string
	Port     uint16
	Domain   string
	Probe
}

// TestResult is what an on-demand forwarder test returns.
type TestResult struct {
	Probes      []DomainProbe `json:"probes"`
	SuccessRate float64       `json:"success_rate"`
}

// TestForwarder probes every server of fw against each test domain,
// without touching history or tracked status. An empty domain list falls
// back to the forwarder's declared domains, else the configured default
// name.
func (t *Tracker) TestForwarder(ctx context.Context, fw model.Forwarder, domains []string) TestResult {
	if len(domains) == 0 {
		domains = fw.Domains
	}
	if len(domains) == 0 {
		domains = []string{t.cfg.QueryName}
	}

	res := TestResult{Probes: make([]DomainProbe, 0, len(fw.Servers)*len(domains))}
	healthy := 0
	for _, srv := range fw.Servers {
		for _, d := range domains {
			pctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
			p := t.prober.Probe(pctx, serverAddr(srv), d)
			cancel()
			if p.Status == model.HealthHealthy {
				healthy++
			}
			res.Probes = append(res.Probes, DomainProbe{
				ServerIP: srv.IP, Port: srv.Port, Domain: d, Probe: p,
			})
		}
	}
	if len(res.Probes) > 0 {
		res.SuccessRate = float64(healthy) / float64(len(res.Probes))
	}
	return res
}

// Summary returns the tracked aggregate status per forwarder.
func (t *Tracker) Summary() map[uuid.UUID]model.ForwarderStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uuid.UUID]model.ForwarderStatus, len(t.status))
	for k, v := range t.status {
		out[k] = v
	}
	return out
}

// Aggregate folds per-server probes into a forwarder status.
func Aggregate(probes []ServerProbe) model.ForwarderStatus {
	if len(probes) == 0 {
		return model.StatusUnknown
	}
	healthy := 0
	for _, p := range probes {
		if p.Status == model.HealthHealthy {
			healthy++
		}
	}
	switch {
	case healthy == len(probes):
		return model.StatusHealthy
	case healthy == 0:
		return model.StatusUnhealthy
	default:
		return model.StatusDegraded
	}
}

func (t *Tracker) transition(fw model.Forwarder, next model.ForwarderStatus) {
	t.mu.Lock()
	prev, known := t.status[fw.ID]
	t.status[fw.ID] = next
	t.mu.Unlock()

	if !known {
		prev = model.StatusUnknown
	}
	if prev == next {
		return
	}

	t.logger.Info("forwarder status changed",
		zap.String("forwarder", fw.Name),
		zap.String("old", string(prev)),
		zap.String("new", string(next)),
	)
	if t.pub == nil {
		return
	}

	sev, prio := model.SeverityInfo, model.PriorityNormal
	switch next {
	case model.StatusDegraded:
		sev, prio = model.SeverityWarning, model.PriorityHigh
	case model.StatusUnhealthy:
		sev, prio = model.SeverityCritical, model.PriorityCritical
	}
	id, _ := uuid.NewV7()
	t.pub.Emit(model.Event{
		ID:       id,
		Type:     model.EventForwarderStatusChange,
		Category: model.CategoryHealth,
		Severity: sev,
		Priority: prio,
		Source:   "health",
		Data: StatusChange{
			ForwarderID: fw.ID.String(),
			Name:        fw.Name,
			OldStatus:   prev,
			NewStatus:   next,
		},
		CreatedAt: t.now().UTC(),
		Persist:   true,
	})
}

func serverAddr(s model.ForwarderServer) string {
	port := s.Port
	if port == 0 {
		port = 53
	}
	return net.JoinHostPort(s.IP, strconv.Itoa(int(port)))
}
