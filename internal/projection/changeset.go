package projection

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/dnscheck"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

// ValidateChangeSet runs every pure check over a change set before any
// store work: per-entity validation plus the inter-change conflicts a
// grouped submission can introduce. All problems are collected so the
// caller gets one complete report, not just the first failure.
func ValidateChangeSet(cs model.ChangeSet) []*apperr.Error {
	var errs []*apperr.Error
	add := func(e *apperr.Error) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	zoneSeen := make(map[uuid.UUID]bool)
	for _, zc := range cs.Zones {
		switch zc.Op {
		case model.OpCreate, model.OpUpdate:
			add(dnscheck.ValidateZone(zc.Zone))
		case model.OpDelete:
			if zc.Zone.ID == uuid.Nil {
				add(apperr.Validation("zone_id", "zone delete needs the zone id", "set the id of the zone to remove"))
			}
		default:
			add(apperr.Validation("op", fmt.Sprintf("unknown change op %q", zc.Op), "use create, update or delete"))
		}
		if zc.Zone.ID != uuid.Nil {
			if zoneSeen[zc.Zone.ID] {
				add(apperr.Conflict("zones", fmt.Sprintf("zone %s is changed twice in one transaction", zc.Zone.Name)))
			}
			zoneSeen[zc.Zone.ID] = true
		}
	}

	deletedZones := make(map[uuid.UUID]bool)
	deletedNames := make(map[string]bool)
	for _, zc := range cs.Zones {
		if zc.Op == model.OpDelete {
			deletedZones[zc.Zone.ID] = true
			if zc.Zone.Name != "" {
				deletedNames[zc.Zone.Name] = true
			}
		}
	}

	recSeen := make(map[uuid.UUID]bool)
	type recKey struct {
		zone uuid.UUID
		name string
		id   model.RecordIdentity
	}
	createSeen := make(map[recKey]bool)
	for _, rc := range cs.Records {
		switch rc.Op {
		case model.OpCreate, model.OpUpdate:
			add(dnscheck.ValidateRecord(rc.Record))
			if rc.Record.ZoneID == uuid.Nil && rc.ZoneName == "" {
				add(apperr.Validation("zone", "record change names no zone", "set zone_id or the zone name"))
			}
		case model.OpDelete:
			if rc.Record.ID == uuid.Nil {
				add(apperr.Validation("record_id", "record delete needs the record id", "set the id of the record to remove"))
			}
		default:
			add(apperr.Validation("op", fmt.Sprintf("unknown change op %q", rc.Op), "use create, update or delete"))
		}

		if rc.Record.ID != uuid.Nil && rc.Op != model.OpCreate {
			if recSeen[rc.Record.ID] {
				add(apperr.Conflict("records", fmt.Sprintf("record %s is changed twice in one transaction", rc.Record.ID)))
			}
			recSeen[rc.Record.ID] = true
		}
		if rc.Op == model.OpCreate {
			k := recKey{zone: rc.Record.ZoneID, name: rc.ZoneName, id: rc.Record.IdentityTuple()}
			if createSeen[k] {
				add(apperr.Conflict("records", fmt.Sprintf("record %s %s %s is created twice in one transaction",
					rc.Record.Name, rc.Record.Type, rc.Record.Value)))
			}
			createSeen[k] = true
		}

		if deletedZones[rc.Record.ZoneID] || deletedNames[rc.ZoneName] {
			add(apperr.Conflict("zones", fmt.Sprintf("record change targets zone %s which the same transaction deletes",
				zoneLabel(rc))))
		}
	}

	fwSeen := make(map[uuid.UUID]bool)
	for _, fc := range cs.Forwarders {
		switch fc.Op {
		case model.OpCreate, model.OpUpdate:
			add(dnscheck.ValidateForwarder(fc.Forwarder))
		case model.OpDelete:
			if fc.Forwarder.ID == uuid.Nil {
				add(apperr.Validation("forwarder_id", "forwarder delete needs the id", "set the id of the forwarder to remove"))
			}
		default:
			add(apperr.Validation("op", fmt.Sprintf("unknown change op %q", fc.Op), "use create, update or delete"))
		}
		if fc.Forwarder.ID != uuid.Nil {
			if fwSeen[fc.Forwarder.ID] {
				add(apperr.Conflict("forwarders", fmt.Sprintf("forwarder %s is changed twice in one transaction", fc.Forwarder.Name)))
			}
			fwSeen[fc.Forwarder.ID] = true
		}
	}

	ruleSeen := make(map[string]bool)
	for _, rc := range cs.RPZRules {
		switch rc.Op {
		case model.OpCreate, model.OpUpdate:
			add(dnscheck.ValidateRPZRule(rc.Rule))
		case model.OpDelete:
			if rc.Rule.ID == uuid.Nil {
				add(apperr.Validation("rule_id", "rpz rule delete needs the id", "set the id of the rule to remove"))
			}
		default:
			add(apperr.Validation("op", fmt.Sprintf("unknown change op %q", rc.Op), "use create, update or delete"))
		}
		key := rc.Rule.RPZZone + "/" + rc.Rule.Domain
		if rc.Rule.Domain != "" {
			if ruleSeen[key] {
				add(apperr.Conflict("rpz_rules", fmt.Sprintf("rule %s is changed twice in one transaction", key)))
			}
			ruleSeen[key] = true
		}
	}

	return errs
}

func zoneLabel(rc model.RecordChange) string {
	if rc.ZoneName != "" {
		return rc.ZoneName
	}
	return rc.Record.ZoneID.String()
}
