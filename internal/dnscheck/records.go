package dnscheck

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

// ValidateRecord checks a record's owner name, TTL and type-specific payload.
// Cross-record rules (apex CNAME, duplicate tuples) live in CheckZoneRecords.
func ValidateRecord(r model.Record) *apperr.Error {
	nameOpts := NameOptions{AllowApex: true, AllowUnderscore: true, AllowWildcard: true}
	if err := ValidateName("name", r.Name, nameOpts); err != nil {
		return err
	}
	if err := ValidateTTL(int64(r.TTL)); err != nil {
		return err
	}

	switch r.Type {
	case model.TypeA:
		return ValidateIPv4("value", r.Value)
	case model.TypeAAAA:
		return ValidateIPv6("value", r.Value)
	case model.TypeCNAME:
		return validateTargetName(r.Value)
	case model.TypeMX:
		if r.Priority == nil {
			return apperr.Validation("priority", "MX records require a priority", "add a preference such as 10")
		}
		return validateTargetName(r.Value)
	case model.TypeTXT:
		return validateTXT(r)
	case model.TypeSRV:
		return validateSRV(r)
	case model.TypePTR, model.TypeNS:
		return validateTargetName(r.Value)
	case model.TypeSOA:
		return apperr.Validation("type", "SOA is managed on the zone, not as a record", "edit the zone's SOA fields instead")
	case model.TypeCAA:
		return validateCAA(r.Value)
	case model.TypeSSHFP:
		return validateSSHFP(r.Value)
	case model.TypeTLSA:
		return validateTLSA(r)
	case model.TypeNAPTR:
		return validateNAPTR(r.Value)
	case model.TypeLOC:
		return validateLOC(r.Value)
	default:
		return apperr.Validation("type",
			fmt.Sprintf("unsupported record type %q", r.Type),
			"use one of A, AAAA, CNAME, MX, TXT, SRV, PTR, NS, CAA, SSHFP, TLSA, NAPTR, LOC")
	}
}

func validateTargetName(value string) *apperr.Error {
	if value == "" {
		return apperr.Validation("value", "target name is empty", "provide a fully qualified target such as host.example.com.")
	}
	return ValidateName("value", value, NameOptions{AllowUnderscore: true})
}

func validateTXT(r model.Record) *apperr.Error {
	v := strings.Trim(r.Value, `"`)
	if v == "" {
		return apperr.Validation("value", "TXT value is empty", "provide the text content")
	}
	if len(v) > 4096 {
		return apperr.Validation("value", "TXT value exceeds 4096 characters", "split the content across multiple records")
	}

	// Well-known TXT payloads get a sanity pass so typos surface at write
	// time instead of at mail-delivery time.
	switch {
	case strings.HasPrefix(v, "v=spf1"):
		if !strings.Contains(v, "all") {
			return apperr.Validation("value",
				"SPF policy has no terminal all mechanism",
				`end the policy with ~all or -all`)
		}
	case strings.HasPrefix(v, "v=DKIM1"):
		if !strings.Contains(v, "p=") {
			return apperr.Validation("value",
				"DKIM record is missing the public key tag",
				"include p=<base64 key>")
		}
	case strings.HasPrefix(v, "v=DMARC1"):
		if !strings.Contains(v, "p=") {
			return apperr.Validation("value",
				"DMARC record is missing the policy tag",
				"include p=none, p=quarantine or p=reject")
		}
		if !strings.HasPrefix(r.Name, "_dmarc") {
			return apperr.Validation("name",
				"DMARC records must live at _dmarc",
				"name the record _dmarc or _dmarc.<subdomain>")
		}
	}
	return nil
}

func validateSRV(r model.Record) *apperr.Error {
	if r.Priority == nil || r.Weight == nil || r.Port == nil {
		return apperr.Validation("value",
			"SRV records require priority, weight and port",
			"provide all three numeric fields plus the target")
	}
	if !srvNameOK(r.Name) {
		return apperr.Validation("name",
			fmt.Sprintf("SRV name %q does not match _service._proto form", r.Name),
			"name the record like _ldap._tcp or _sip._udp.branch")
	}
	if r.Value == "." {
		// RFC 2782: a target of "." means the service is decidedly absent.
		return nil
	}
	return validateTargetName(r.Value)
}

func srvNameOK(name string) bool {
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	if !strings.HasPrefix(labels[0], "_") || len(labels[0]) < 2 {
		return false
	}
	proto := labels[1]
	return proto == "_tcp" || proto == "_udp" || proto == "_tls"
}

var caaTags = map[string]bool{"issue": true, "issuewild": true, "iodef": true}

func validateCAA(value string) *apperr.Error {
	parts := strings.SplitN(value, " ", 3)
	if len(parts) != 3 {
		return apperr.Validation("value",
			"CAA value must be: flags tag value",
			`use e.g. 0 issue "letsencrypt.org"`)
	}
	flags, err := strconv.Atoi(parts[0])
	if err != nil || flags < 0 || flags > 255 {
		return apperr.Validation("value", "CAA flags must be 0..255", "use 0 unless you need the critical bit (128)")
	}
	if !caaTags[parts[1]] {
		return apperr.Validation("value",
			fmt.Sprintf("unknown CAA tag %q", parts[1]),
			"use issue, issuewild or iodef")
	}
	return nil
}

func validateSSHFP(value string) *apperr.Error {
	parts := strings.Fields(value)
	if len(parts) != 3 {
		return apperr.Validation("value",
			"SSHFP value must be: algorithm fp-type fingerprint",
			"use e.g. 4 2 <hex sha256>")
	}
	alg, err := strconv.Atoi(parts[0])
	if err != nil || alg < 1 || alg > 6 {
		return apperr.Validation("value", "SSHFP algorithm must be 1..6", "1=RSA 2=DSA 3=ECDSA 4=Ed25519 6=Ed448")
	}
	fpt, err := strconv.Atoi(parts[1])
	if err != nil || (fpt != 1 && fpt != 2) {
		return apperr.Validation("value", "SSHFP fingerprint type must be 1 (SHA-1) or 2 (SHA-256)", "use 2")
	}
	if _, err := hex.DecodeString(parts[2]); err != nil {
		return apperr.Validation("value", "SSHFP fingerprint is not valid hex", "paste the hex fingerprint without colons")
	}
	return nil
}

func validateTLSA(r model.Record) *apperr.Error {
	if !strings.HasPrefix(r.Name, "_") {
		return apperr.Validation("name",
			"TLSA names carry the port and protocol",
			"name the record like _443._tcp.www")
	}
	parts := strings.Fields(r.Value)
	if len(parts) != 4 {
		return apperr.Validation("value",
			"TLSA value must be: usage selector matching-type certificate-data",
			"use e.g. 3 1 1 <hex sha256>")
	}
	for i, max := range []int{3, 1, 2} {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 || n > max {
			return apperr.Validation("value",
				fmt.Sprintf("TLSA field %d must be 0..%d", i+1, max),
				"check usage/selector/matching-type against RFC 6698")
		}
	}
	if _, err := hex.DecodeString(parts[3]); err != nil {
		return apperr.Validation("value", "TLSA certificate data is not valid hex", "paste the hex digest")
	}
	return nil
}

func validateNAPTR(value string) *apperr.Error {
	// order pref "flags" "service" "regexp" replacement
	parts := strings.SplitN(value, " ", 3)
	if len(parts) < 3 {
		return apperr.Validation("value",
			"NAPTR value must be: order preference flags service regexp replacement",
			`use e.g. 100 10 "u" "E2U+sip" "!^.*$!sip:info@example.com!" .`)
	}
	for i := 0; i < 2; i++ {
		if n, err := strconv.Atoi(parts[i]); err != nil || n < 0 || n > 65535 {
			return apperr.Validation("value", "NAPTR order and preference must be 0..65535", "use 16-bit integers")
		}
	}
	if strings.Count(parts[2], `"`) < 4 {
		return apperr.Validation("value",
			"NAPTR flags, service and regexp must be quoted",
			`quote the three string fields, e.g. "u" "E2U+sip" "!..!"`)
	}
	return nil
}

func validateLOC(value string) *apperr.Error {
	// Loose shape check: degrees ... "N"/"S" degrees ... "E"/"W" altitude.
	fields := strings.Fields(value)
	if len(fields) < 7 {
		return apperr.Validation("value",
			"LOC value is too short",
			`use e.g. 52 22 23.000 N 4 53 32.000 E -2.00m`)
	}
	hasNS, hasEW := false, false
	for _, f := range fields {
		switch f {
		case "N", "S":
			hasNS = true
		case "E", "W":
			hasEW = true
		}
	}
	if !hasNS || !hasEW {
		return apperr.Validation("value",
			"LOC value is missing hemisphere letters",
			"include N/S after latitude and E/W after longitude")
	}
	return nil
}
