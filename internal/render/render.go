// Package render compiles a model snapshot into the resolver's on-disk
// configuration: the global options file, the local zone stanzas, one zone
// file per master zone and one RPZ file per response-policy category.
// Rendering is pure — the same snapshot yields byte-identical output.
package render

import (
	"fmt"
	"path"
	"sort"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// File paths relative to the resolver's configuration root.
const (
	OptionsFile = "named.conf.options"
	LocalFile   = "named.conf.local"
	ZoneDir     = "zones"
	RPZDir      = "rpz"
)

// ZoneFilePath returns the relative path of a master zone's file.
func ZoneFilePath(zone string) string {
	return path.Join(ZoneDir, "db."+zone)
}

// RPZFilePath returns the relative path of an RPZ category's file.
func RPZFilePath(category string) string {
	return path.Join(RPZDir, "db.rpz."+category)
}

// Snapshot is the full model state the renderer works from. Callers build
// it inside a repeatable-read store transaction so it is self-consistent.
type Snapshot struct {
	Zones      []model.Zone
	Records    map[uuid.UUID][]model.Record // active records by zone ID
	Forwarders []model.Forwarder
	RPZRules   []model.RPZRule // active rules, all categories
	// RPZSerials carries the current serial per category; the renderer
	// uses them as-is, serial bumping is the projection engine's job.
	RPZSerials map[string]uint32
}

// Options carries the resolver-wide knobs rendered into the options file.
type Options struct {
	CacheSizeMB       int
	RecursionACL      []string // networks allowed to recurse
	DefaultForwarders []string // upstreams when no conditional forwarder matches
	RateLimitQPS      int
	DNSSECValidation  bool
	StatisticsPort    int
	QueryLogPath      string
}

// DefaultOptions are the values used when the operator configures nothing.
func DefaultOptions() Options {
	return Options{
		CacheSizeMB:       256,
		RecursionACL:      []string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
		DefaultForwarders: []string{"1.1.1.1", "8.8.8.8"},
		RateLimitQPS:      20,
		DNSSECValidation:  true,
		StatisticsPort:    8053,
		QueryLogPath:      "/var/log/named/query.log",
	}
}

// Renderer produces the resolver file set from snapshots.
type Renderer struct {
	opts Options
}

func New(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// All renders every file for the snapshot, keyed by path relative to the
// resolver configuration root.
func (r *Renderer) All(snap Snapshot) (map[string][]byte, error) {
	files := make(map[string][]byte)

	files[OptionsFile] = r.OptionsConf(snap)
	files[LocalFile] = r.LocalConf(snap)

	for _, z := range sortedZones(snap.Zones) {
		if z.Type != model.ZoneMaster || !z.Active {
			continue
		}
		b, err := r.ZoneFile(z, snap.Records[z.ID])
		if err != nil {
			return nil, fmt.Errorf("zone %s: %w", z.Name, err)
		}
		files[ZoneFilePath(z.Name)] = b
	}

	byCat := rulesByCategory(snap.RPZRules)
	for _, cat := range sortedKeys(byCat) {
		files[RPZFilePath(cat)] = r.RPZFile(cat, snap.RPZSerials[cat], byCat[cat])
	}
	return files, nil
}

// Categories returns the sorted RPZ categories present in the snapshot.
func Categories(rules []model.RPZRule) []string {
	return sortedKeys(rulesByCategory(rules))
}

func rulesByCategory(rules []model.RPZRule) map[string][]model.RPZRule {
	out := make(map[string][]model.RPZRule)
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		out[rule.RPZZone] = append(out[rule.RPZZone], rule)
	}
	return out
}

func sortedZones(zones []model.Zone) []model.Zone {
	out := append([]model.Zone(nil), zones...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
