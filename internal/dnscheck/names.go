// Package dnscheck holds the pure validation functions for DNS names,
// addresses and record payloads. Nothing here touches the store or the
// network; every failure is an apperr.Validation carrying the field, the
// reason and an actionable suggestion.
package dnscheck

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
)

const (
	maxLabelLen = 63
	maxNameLen  = 253

	// TTL is a positive signed 32-bit quantity on the wire.
	MinTTL = 1
	MaxTTL = 1<<31 - 1
)

// NameOptions tunes domain-name validation for the different call sites.
type NameOptions struct {
	// AllowWildcard accepts a single leading "*." label.
	AllowWildcard bool
	// AllowUnderscore accepts underscores in labels (service labels such
	// as _ldap._tcp need them).
	AllowUnderscore bool
	// AllowApex accepts the literal "@".
	AllowApex bool
}

// ValidateName checks a DNS name against RFC length and label rules.
func ValidateName(field, name string, opts NameOptions) *apperr.Error {
	if name == "" {
		return apperr.Validation(field, "name is empty", "provide a DNS name such as example.com")
	}
	if name == "@" {
		if opts.AllowApex {
			return nil
		}
		return apperr.Validation(field, "@ is not valid here", "use a full DNS name")
	}

	trimmed := strings.TrimSuffix(name, ".")
	if strings.HasPrefix(trimmed, "*.") {
		if !opts.AllowWildcard {
			return apperr.Validation(field, "wildcard names are not allowed here", "remove the leading *. label")
		}
		trimmed = strings.TrimPrefix(trimmed, "*.")
	} else if strings.Contains(trimmed, "*") {
		return apperr.Validation(field, "* may only appear as a leading *. label", "use *.example.com form")
	}

	if len(trimmed) > maxNameLen {
		return apperr.Validation(field,
			fmt.Sprintf("name is %d characters, maximum is %d", len(trimmed), maxNameLen),
			"shorten the name")
	}

	labels := strings.Split(trimmed, ".")
	for _, label := range labels {
		if err := validateLabel(field, label, opts.AllowUnderscore); err != nil {
			return err
		}
	}
	return nil
}

func validateLabel(field, label string, allowUnderscore bool) *apperr.Error {
	if label == "" {
		return apperr.Validation(field, "empty label (consecutive or leading dots)", "remove the extra dot")
	}
	if len(label) > maxLabelLen {
		return apperr.Validation(field,
			fmt.Sprintf("label %q is %d characters, maximum is %d", label, len(label), maxLabelLen),
			"shorten the label")
	}
	for i, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-':
			if i == 0 || i == len(label)-1 {
				return apperr.Validation(field,
					fmt.Sprintf("label %q starts or ends with a hyphen", label),
					"hyphens may only appear inside a label")
			}
		case r == '_':
			if !allowUnderscore {
				return apperr.Validation(field,
					fmt.Sprintf("label %q contains an underscore", label),
					"underscores are only valid in service labels such as _ldap._tcp")
			}
			if i != 0 {
				return apperr.Validation(field,
					fmt.Sprintf("underscore must lead the label in %q", label),
					"write service labels as _name")
			}
		default:
			return apperr.Validation(field,
				fmt.Sprintf("label %q contains invalid character %q", label, r),
				"use letters, digits and hyphens")
		}
	}
	return nil
}

// ValidateRPZDomain accepts what an RPZ rule may match: a plain name or a
// wildcard.
func ValidateRPZDomain(domain string) *apperr.Error {
	return ValidateName("domain", domain, NameOptions{AllowWildcard: true, AllowUnderscore: true})
}

// ValidateIPv4 checks a dotted-quad address.
func ValidateIPv4(field, s string) *apperr.Error {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return apperr.Validation(field,
			fmt.Sprintf("%q is not a valid IPv4 address", s),
			"use dotted-quad form such as 192.168.1.10")
	}
	return nil
}

// ValidateIPv6 checks an IPv6 address (4-in-6 forms are rejected).
func ValidateIPv6(field, s string) *apperr.Error {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is6() || addr.Is4In6() {
		return apperr.Validation(field,
			fmt.Sprintf("%q is not a valid IPv6 address", s),
			"use colon-hex form such as 2001:db8::1")
	}
	return nil
}

// ValidateIP accepts either family.
func ValidateIP(field, s string) *apperr.Error {
	if _, err := netip.ParseAddr(s); err != nil {
		return apperr.Validation(field,
			fmt.Sprintf("%q is not a valid IP address", s),
			"use an IPv4 or IPv6 literal")
	}
	return nil
}

// ValidateTTL bounds a TTL to the signed 32-bit positive range.
func ValidateTTL(ttl int64) *apperr.Error {
	if ttl < MinTTL || ttl > MaxTTL {
		return apperr.Validation("ttl",
			fmt.Sprintf("ttl %d is out of range %d..%d", ttl, MinTTL, MaxTTL),
			"use a ttl between 1 and 2147483647 seconds")
	}
	return nil
}

// ValidateSOAEmail checks the DNS-dotted admin mailbox form used in SOA
// records ("admin.example.com", not "admin@example.com").
func ValidateSOAEmail(email string) *apperr.Error {
	if strings.Contains(email, "@") {
		return apperr.Validation("admin_email",
			"email contains @",
			"use DNS-dotted form, e.g. admin.example.com")
	}
	if err := ValidateName("admin_email", email, NameOptions{}); err != nil {
		return err
	}
	if !strings.Contains(strings.TrimSuffix(email, "."), ".") {
		return apperr.Validation("admin_email",
			"email needs at least a mailbox and a domain label",
			"use DNS-dotted form, e.g. admin.example.com")
	}
	return nil
}
