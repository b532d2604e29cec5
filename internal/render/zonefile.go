package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// ZoneFile renders one master zone. The SOA uses the zone's current serial;
// records are emitted sorted by (name, type, value, priority) so the output
// is stable across runs.
func (r *Renderer) ZoneFile(z model.Zone, records []model.Record) ([]byte, error) {
	var b strings.Builder

	origin := fqdn(z.Name)
	primaryNS := "ns1." + origin

	fmt.Fprintf(&b, "$ORIGIN %s\n", origin)
	fmt.Fprintf(&b, "$TTL %d\n", z.Minimum)
	fmt.Fprintf(&b, "@\tIN\tSOA\t%s %s (\n", primaryNS, fqdn(z.AdminEmail))
	fmt.Fprintf(&b, "\t\t%d\t; serial\n", z.Serial)
	fmt.Fprintf(&b, "\t\t%d\t; refresh\n", z.Refresh)
	fmt.Fprintf(&b, "\t\t%d\t; retry\n", z.Retry)
	fmt.Fprintf(&b, "\t\t%d\t; expire\n", z.Expire)
	fmt.Fprintf(&b, "\t\t%d )\t; minimum\n", z.Minimum)
	fmt.Fprintf(&b, "@\tIN\tNS\t%s\n", primaryNS)

	active := make([]model.Record, 0, len(records))
	for _, rec := range records {
		if rec.Active {
			active = append(active, rec)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		a, c := active[i], active[j]
		if a.Name != c.Name {
			return a.Name < c.Name
		}
		if a.Type != c.Type {
			return a.Type < c.Type
		}
		if a.Value != c.Value {
			return a.Value < c.Value
		}
		return prio(a) < prio(c)
	})

	for _, rec := range active {
		rdata, err := formatRData(rec)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%s\t%d\tIN\t%s\t%s\n", rec.Name, rec.TTL, rec.Type, rdata)
	}
	return []byte(b.String()), nil
}

func prio(r model.Record) int {
	if r.Priority == nil {
		return -1
	}
	return int(*r.Priority)
}

// formatRData renders the type-appropriate right-hand side of a record.
func formatRData(r model.Record) (string, error) {
	switch r.Type {
	case model.TypeA, model.TypeAAAA:
		return r.Value, nil
	case model.TypeCNAME, model.TypeNS, model.TypePTR:
		return fqdn(r.Value), nil
	case model.TypeMX:
		if r.Priority == nil {
			return "", fmt.Errorf("MX record %s has no priority", r.Name)
		}
		return fmt.Sprintf("%d %s", *r.Priority, fqdn(r.Value)), nil
	case model.TypeSRV:
		if r.Priority == nil || r.Weight == nil || r.Port == nil {
			return "", fmt.Errorf("SRV record %s is missing priority/weight/port", r.Name)
		}
		target := r.Value
		if target != "." {
			target = fqdn(target)
		}
		return fmt.Sprintf("%d %d %d %s", *r.Priority, *r.Weight, *r.Port, target), nil
	case model.TypeTXT:
		return quoteTXT(r.Value), nil
	case model.TypeCAA, model.TypeSSHFP, model.TypeTLSA, model.TypeNAPTR, model.TypeLOC:
		return r.Value, nil
	default:
		return "", fmt.Errorf("cannot render record type %q", r.Type)
	}
}

// quoteTXT splits long TXT content into 255-byte quoted chunks as the zone
// file grammar requires.
func quoteTXT(v string) string {
	v = strings.Trim(v, `"`)
	if len(v) <= 255 {
		return `"` + v + `"`
	}
	var parts []string
	for len(v) > 0 {
		n := 255
		if len(v) < n {
			n = len(v)
		}
		parts = append(parts, `"`+v[:n]+`"`)
		v = v[n:]
	}
	return strings.Join(parts, " ")
}

func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}
