package feeds

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/dnscheck"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

// maxLineBytes bounds a single feed line; real lists stay far below this.
const maxLineBytes = 64 * 1024

// Parse extracts domains from a feed body. A bad row never aborts the
// parse; it is reported with its index and reason. Duplicates are folded,
// first occurrence wins.
func Parse(format model.FeedFormat, r io.Reader) ([]string, []model.BulkRowError, error) {
	switch format {
	case model.FormatDomains:
		return parseLines(r, false)
	case model.FormatHosts:
		return parseLines(r, true)
	case model.FormatJSON:
		return parseJSON(r)
	case model.FormatCSV:
		return parseCSV(r)
	default:
		return nil, nil, apperr.Validation("format",
			fmt.Sprintf("unknown feed format %q", format), "use domains, hosts, json or csv")
	}
}

func parseLines(r io.Reader, hosts bool) ([]string, []model.BulkRowError, error) {
	var (
		domains []string
		errs    []model.BulkRowError
		seen    = make(map[string]bool)
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || isComment(raw) {
			continue
		}
		// Inline comments after the data.
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			raw = strings.TrimSpace(raw[:i])
			if raw == "" {
				continue
			}
		}

		domain := raw
		if hosts {
			fields := strings.Fields(raw)
			if len(fields) < 2 {
				errs = append(errs, model.BulkRowError{
					Index: line, Value: raw, Reason: "hosts line needs an address and a name",
				})
				continue
			}
			if _, err := netip.ParseAddr(fields[0]); err != nil {
				errs = append(errs, model.BulkRowError{
					Index: line, Value: fields[0], Reason: "hosts line does not start with an address",
				})
				continue
			}
			domain = fields[1]
			if domain == "localhost" || strings.HasSuffix(domain, ".localdomain") {
				continue
			}
		}

		domain = strings.ToLower(strings.TrimSuffix(domain, "."))
		if verr := dnscheck.ValidateRPZDomain(domain); verr != nil {
			errs = append(errs, model.BulkRowError{Index: line, Value: domain, Reason: verr.Reason})
			continue
		}
		if !seen[domain] {
			seen[domain] = true
			domains = append(domains, domain)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, apperr.Wrap(apperr.CodeValidation, "reading feed body", err)
	}
	return domains, errs, nil
}

func parseJSON(r io.Reader) ([]string, []model.BulkRowError, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, nil, apperr.Wrap(apperr.CodeValidation, "feed body is not a JSON array", err)
	}

	var (
		domains []string
		errs    []model.BulkRowError
		seen    = make(map[string]bool)
	)
	for i, item := range raw {
		var domain string
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			domain = s
		} else {
			var obj struct {
				Domain string `json:"domain"`
			}
			if err := json.Unmarshal(item, &obj); err != nil || obj.Domain == "" {
				errs = append(errs, model.BulkRowError{
					Index: i, Value: string(item), Reason: `entry is neither a string nor {"domain": ...}`,
				})
				continue
			}
			domain = obj.Domain
		}

		domain = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
		if verr := dnscheck.ValidateRPZDomain(domain); verr != nil {
			errs = append(errs, model.BulkRowError{Index: i, Value: domain, Reason: verr.Reason})
			continue
		}
		if !seen[domain] {
			seen[domain] = true
			domains = append(domains, domain)
		}
	}
	return domains, errs, nil
}

func parseCSV(r io.Reader) ([]string, []model.BulkRowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	var (
		domains []string
		errs    []model.BulkRowError
		seen    = make(map[string]bool)
	)
	row := -1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			errs = append(errs, model.BulkRowError{Index: row, Reason: err.Error()})
			continue
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}
		domain := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(record[0]), "."))
		// A leading header row is conventional in exported lists.
		if row == 0 && domain == "domain" {
			continue
		}
		if verr := dnscheck.ValidateRPZDomain(domain); verr != nil {
			errs = append(errs, model.BulkRowError{Index: row, Value: domain, Reason: verr.Reason})
			continue
		}
		if !seen[domain] {
			seen[domain] = true
			domains = append(domains, domain)
		}
	}
	return domains, errs, nil
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, ";") ||
		strings.HasPrefix(line, "//")
}
