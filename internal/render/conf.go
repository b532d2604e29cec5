package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// OptionsConf renders named.conf.options: the options block, ACLs, default
// forwarders, rate limiting, the statistics channel, query logging and the
// response-policy block listing every active RPZ category.
func (r *Renderer) OptionsConf(snap Snapshot) []byte {
	var b strings.Builder

	b.WriteString("// Managed file. Manual edits are overwritten on the next projection.\n\n")

	b.WriteString("acl \"trusted\" {\n")
	for _, cidr := range r.opts.RecursionACL {
		fmt.Fprintf(&b, "\t%s;\n", cidr)
	}
	b.WriteString("};\n\n")

	b.WriteString("options {\n")
	b.WriteString("\tdirectory \"/var/cache/bind\";\n")
	b.WriteString("\trecursion yes;\n")
	b.WriteString("\tallow-recursion { trusted; };\n")
	b.WriteString("\tallow-query { trusted; };\n")
	fmt.Fprintf(&b, "\tmax-cache-size %dm;\n", r.opts.CacheSizeMB)

	if len(r.opts.DefaultForwarders) > 0 {
		b.WriteString("\tforwarders {\n")
		for _, ip := range r.opts.DefaultForwarders {
			fmt.Fprintf(&b, "\t\t%s;\n", ip)
		}
		b.WriteString("\t};\n")
		b.WriteString("\tforward only;\n")
	}

	if r.opts.DNSSECValidation {
		b.WriteString("\tdnssec-validation auto;\n")
	} else {
		b.WriteString("\tdnssec-validation no;\n")
	}

	if r.opts.RateLimitQPS > 0 {
		b.WriteString("\trate-limit {\n")
		fmt.Fprintf(&b, "\t\tresponses-per-second %d;\n", r.opts.RateLimitQPS)
		b.WriteString("\t\twindow 5;\n")
		b.WriteString("\t};\n")
	}

	categories := Categories(snap.RPZRules)
	if len(categories) > 0 {
		b.WriteString("\tresponse-policy {\n")
		for _, cat := range categories {
			fmt.Fprintf(&b, "\t\tzone \"rpz.%s\";\n", cat)
		}
		b.WriteString("\t};\n")
	}

	b.WriteString("};\n\n")

	fmt.Fprintf(&b, "statistics-channels {\n\tinet 127.0.0.1 port %d allow { 127.0.0.1; };\n};\n\n", r.opts.StatisticsPort)

	b.WriteString("logging {\n")
	fmt.Fprintf(&b, "\tchannel query_log {\n\t\tfile \"%s\" versions 5 size 50m;\n\t\tseverity info;\n\t\tprint-time yes;\n\t};\n", r.opts.QueryLogPath)
	b.WriteString("\tcategory queries { query_log; };\n")
	b.WriteString("\tcategory rpz { query_log; };\n")
	b.WriteString("};\n")

	return []byte(b.String())
}

// LocalConf renders named.conf.local: one stanza per zone, conditional
// forward zones for every active forwarder domain, then the RPZ zones.
func (r *Renderer) LocalConf(snap Snapshot) []byte {
	var b strings.Builder

	b.WriteString("// Managed file. Manual edits are overwritten on the next projection.\n\n")

	for _, z := range sortedZones(snap.Zones) {
		if !z.Active {
			continue
		}
		switch z.Type {
		case model.ZoneMaster:
			fmt.Fprintf(&b, "zone \"%s\" {\n\ttype master;\n\tfile \"%s\";\n\tallow-transfer { none; };\n};\n\n",
				z.Name, ZoneFilePath(z.Name))
		case model.ZoneSlave:
			fmt.Fprintf(&b, "zone \"%s\" {\n\ttype slave;\n\tmasters { %s };\n\tfile \"%s\";\n};\n\n",
				z.Name, joinIPs(z.MasterServers), ZoneFilePath(z.Name))
		case model.ZoneForward:
			fmt.Fprintf(&b, "zone \"%s\" {\n\ttype forward;\n\tforward only;\n\tforwarders { %s };\n};\n\n",
				z.Name, joinIPs(z.ForwarderIPs))
		}
	}

	for _, fw := range sortedForwarders(snap.Forwarders) {
		if !fw.Active {
			continue
		}
		ips := make([]string, 0, len(fw.Servers))
		for _, s := range sortedServers(fw.Servers) {
			if s.Port == 53 {
				ips = append(ips, s.IP)
			} else {
				ips = append(ips, fmt.Sprintf("%s port %d", s.IP, s.Port))
			}
		}
		for _, domain := range sortedStrings(fw.Domains) {
			fmt.Fprintf(&b, "// forwarder %q\nzone \"%s\" {\n\ttype forward;\n\tforward only;\n\tforwarders { %s };\n};\n\n",
				fw.Name, domain, joinIPs(ips))
		}
	}

	for _, cat := range Categories(snap.RPZRules) {
		fmt.Fprintf(&b, "zone \"rpz.%s\" {\n\ttype master;\n\tfile \"%s\";\n\tallow-query { none; };\n};\n\n",
			cat, RPZFilePath(cat))
	}

	return []byte(b.String())
}

func joinIPs(ips []string) string {
	return strings.Join(ips, "; ") + ";"
}

func sortedForwarders(fws []model.Forwarder) []model.Forwarder {
	out := append([]model.Forwarder(nil), fws...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedServers(servers []model.ForwarderServer) []model.ForwarderServer {
	out := append([]model.ForwarderServer(nil), servers...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].IP < out[j].IP
	})
	return out
}

func sortedStrings(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}
