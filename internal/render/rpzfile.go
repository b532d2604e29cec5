package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// RPZFile renders one response-policy category. Each active rule becomes a
// CNAME row whose target encodes the action: "." blocks, "rpz-passthru."
// whitelists, and a hostname redirects.
func (r *Renderer) RPZFile(category string, serial uint32, rules []model.RPZRule) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "$TTL 300\n")
	fmt.Fprintf(&b, "@\tIN\tSOA\tlocalhost. admin.localhost. (\n")
	fmt.Fprintf(&b, "\t\t%d\t; serial\n", serial)
	fmt.Fprintf(&b, "\t\t3600\t; refresh\n")
	fmt.Fprintf(&b, "\t\t900\t; retry\n")
	fmt.Fprintf(&b, "\t\t604800\t; expire\n")
	fmt.Fprintf(&b, "\t\t300 )\t; minimum\n")
	fmt.Fprintf(&b, "@\tIN\tNS\tlocalhost.\n")

	active := make([]model.RPZRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Active {
			active = append(active, rule)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Domain < active[j].Domain })

	for _, rule := range active {
		fmt.Fprintf(&b, "%s\tIN\tCNAME\t%s\n", rule.Domain, rpzTarget(rule))
	}
	return []byte(b.String())
}

func rpzTarget(rule model.RPZRule) string {
	switch rule.Action {
	case model.ActionPassthru:
		return "rpz-passthru."
	case model.ActionRedirect:
		return fqdn(rule.RedirectTarget)
	default:
		return "."
	}
}
