package dnscheck

import (
	"fmt"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

// ValidateZone checks a zone's name, SOA fields and type-specific extras.
func ValidateZone(z model.Zone) *apperr.Error {
	if err := ValidateName("name", z.Name, NameOptions{}); err != nil {
		return err
	}
	if err := ValidateSOAEmail(z.AdminEmail); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		v    uint32
	}{
		{"refresh", z.Refresh},
		{"retry", z.Retry},
		{"expire", z.Expire},
		{"minimum", z.Minimum},
	} {
		if f.v == 0 || f.v > MaxTTL {
			return apperr.Validation(f.name,
				fmt.Sprintf("%s must be a positive 32-bit value", f.name),
				"use a positive number of seconds")
		}
	}

	switch z.Type {
	case model.ZoneMaster:
		// Records hang off master zones; nothing extra to require here.
	case model.ZoneSlave:
		if len(z.MasterServers) == 0 {
			return apperr.Validation("master_servers",
				"slave zones need at least one master server",
				"add the IP of the primary to transfer from")
		}
		for _, ip := range z.MasterServers {
			if err := ValidateIP("master_servers", ip); err != nil {
				return err
			}
		}
	case model.ZoneForward:
		if len(z.ForwarderIPs) == 0 {
			return apperr.Validation("forwarder_ips",
				"forward zones need at least one forwarder IP",
				"add the upstream resolver address")
		}
		for _, ip := range z.ForwarderIPs {
			if err := ValidateIP("forwarder_ips", ip); err != nil {
				return err
			}
		}
	default:
		return apperr.Validation("zone_type",
			fmt.Sprintf("unknown zone type %q", z.Type),
			"use master, slave or forward")
	}
	return nil
}

// ValidateForwarder checks a forwarder's domains and server list.
func ValidateForwarder(f model.Forwarder) *apperr.Error {
	if f.Name == "" {
		return apperr.Validation("name", "forwarder name is empty", "give the forwarder a name")
	}
	switch f.Type {
	case model.ForwarderActiveDirectory, model.ForwarderIntranet, model.ForwarderPublic:
	default:
		return apperr.Validation("forwarder_type",
			fmt.Sprintf("unknown forwarder type %q", f.Type),
			"use active_directory, intranet or public")
	}
	if len(f.Domains) == 0 {
		return apperr.Validation("domains", "forwarder owns no domains", "add at least one domain to route")
	}
	for _, d := range f.Domains {
		if err := ValidateName("domains", d, NameOptions{AllowUnderscore: true}); err != nil {
			return err
		}
	}
	if len(f.Servers) == 0 {
		return apperr.Validation("servers", "forwarder has no servers", "add at least one upstream server")
	}
	seen := make(map[string]bool, len(f.Servers))
	for _, s := range f.Servers {
		if err := ValidateIP("servers", s.IP); err != nil {
			return err
		}
		if s.Port == 0 {
			return apperr.Validation("servers", "server port must be non-zero", "use 53 unless the upstream listens elsewhere")
		}
		if s.Priority < 1 || s.Priority > 10 {
			return apperr.Validation("servers",
				fmt.Sprintf("server priority %d is out of range 1..10", s.Priority),
				"use 1 for the preferred upstream")
		}
		key := fmt.Sprintf("%s:%d", s.IP, s.Port)
		if seen[key] {
			return apperr.Validation("servers",
				fmt.Sprintf("duplicate server %s", key),
				"remove the duplicate ip:port entry")
		}
		seen[key] = true
	}
	return nil
}

// ValidateRPZRule checks a single RPZ rule.
func ValidateRPZRule(r model.RPZRule) *apperr.Error {
	if r.RPZZone == "" {
		return apperr.Validation("rpz_zone", "rpz zone is empty", "assign the rule to a category such as malware")
	}
	if err := ValidateRPZDomain(r.Domain); err != nil {
		return err
	}
	switch r.Action {
	case model.ActionBlock, model.ActionPassthru:
		if r.RedirectTarget != "" {
			return apperr.Validation("redirect_target",
				fmt.Sprintf("redirect_target is only valid with action=redirect, not %s", r.Action),
				"clear the redirect target or change the action")
		}
	case model.ActionRedirect:
		if r.RedirectTarget == "" {
			return apperr.Validation("redirect_target",
				"action=redirect requires a redirect target",
				"set the hostname queries should resolve to")
		}
		if err := ValidateName("redirect_target", r.RedirectTarget, NameOptions{}); err != nil {
			return err
		}
	default:
		return apperr.Validation("action",
			fmt.Sprintf("unknown action %q", r.Action),
			"use block, redirect or passthru")
	}
	return nil
}

// CheckZoneRecords runs the cross-record rules over a zone's active records:
// no CNAME at the apex, no CNAME sharing an owner with other data, and no
// two active records with the same identity tuple.
func CheckZoneRecords(records []model.Record) *apperr.Error {
	seen := make(map[model.RecordIdentity]bool, len(records))
	owners := make(map[string][]model.RecordType)

	for _, r := range records {
		if !r.Active {
			continue
		}
		if r.Type == model.TypeCNAME && r.Name == "@" {
			return apperr.Validation("name", "CNAME at zone apex", "use A/AAAA at @")
		}
		id := r.IdentityTuple()
		if seen[id] {
			return apperr.Conflict("record",
				fmt.Sprintf("duplicate active record %s %s %s", r.Name, r.Type, r.Value))
		}
		seen[id] = true
		owners[r.Name] = append(owners[r.Name], r.Type)
	}

	for name, types := range owners {
		var hasCNAME, hasOther bool
		for _, t := range types {
			if t == model.TypeCNAME {
				hasCNAME = true
			} else {
				hasOther = true
			}
		}
		if hasCNAME && hasOther {
			return apperr.Conflict("record",
				fmt.Sprintf("%s has a CNAME alongside other record types", name))
		}
	}
	return nil
}
