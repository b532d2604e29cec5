package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// BIND query-log timestamp layout (print-time yes).
const timeLayout = "02-Jan-2006 15:04:05.000"

var (
	queryRe = regexp.MustCompile(
		`^(\d{2}-\w{3}-\d{4} \d{2}:\d{2}:\d{2}\.\d{3})` +
			`(?: queries: \w+:)?` +
			` client(?: @0x[0-9a-f]+)? ([0-9a-fA-F.:]+)#(\d+)` +
			` \(([^)]*)\): query: (\S+) (\S+) (\S+)`)

	rpzRe = regexp.MustCompile(
		`^(\d{2}-\w{3}-\d{4} \d{2}:\d{2}:\d{2}\.\d{3})` +
			`(?: rpz: \w+:)?` +
			` client(?: @0x[0-9a-f]+)? ([0-9a-fA-F.:]+)#(\d+)` +
			` \(([^)]*)\): rpz (\S+) (\S+) rewrite (\S+) via (\S+)`)
)

// ParseLine turns one resolver log line into a row. The second return is
// false for lines that are not query or rewrite entries.
func ParseLine(line string) (model.QueryLogRow, bool) {
	if m := rpzRe.FindStringSubmatch(line); m != nil {
		ts, err := time.Parse(timeLayout, m[1])
		if err != nil {
			return model.QueryLogRow{}, false
		}
		port, _ := strconv.ParseUint(m[3], 10, 16)

		// The rewrite subject is logged as "<qname>/<type>/<class>".
		qname, qtype := m[7], ""
		if parts := strings.SplitN(m[7], "/", 3); len(parts) >= 2 {
			qname, qtype = parts[0], parts[1]
		}
		qname = strings.TrimSuffix(qname, ".")
		return model.QueryLogRow{
			Timestamp:  ts.UTC(),
			ClientIP:   m[2],
			ClientPort: uint16(port),
			QueryName:  strings.ToLower(qname),
			QueryType:  qtype,
			Blocked:    true,
			RPZAction:  strings.ToLower(m[6]),
			RPZZone:    rpzZoneFromVia(m[8], qname),
		}, true
	}

	if m := queryRe.FindStringSubmatch(line); m != nil {
		ts, err := time.Parse(timeLayout, m[1])
		if err != nil {
			return model.QueryLogRow{}, false
		}
		port, _ := strconv.ParseUint(m[3], 10, 16)
		return model.QueryLogRow{
			Timestamp:  ts.UTC(),
			ClientIP:   m[2],
			ClientPort: uint16(port),
			QueryName:  strings.ToLower(strings.TrimSuffix(m[5], ".")),
			QueryType:  m[7],
		}, true
	}

	return model.QueryLogRow{}, false
}

// rpzZoneFromVia extracts the policy zone from the rewrite target, which
// BIND logs as "<qname>.<rpz-zone>".
func rpzZoneFromVia(via, qname string) string {
	via = strings.TrimSuffix(via, ".")
	rest := strings.TrimPrefix(via, qname+".")
	if rest == via {
		return ""
	}
	return rest
}
