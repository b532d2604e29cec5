package model

import "github.com/google/uuid"

// ChangeOp is the kind of mutation a change requests.
type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ZoneChange is one zone mutation inside a change set. Delete needs only
// the zone ID.
type ZoneChange struct {
	Op   ChangeOp
	Zone Zone
}

// RecordChange is one record mutation. ZoneName resolves the owning zone
// when Record.ZoneID is unset, so a record may target a zone created
// earlier in the same change set.
type RecordChange struct {
	Op       ChangeOp
	ZoneName string
	Record   Record
}

// ForwarderChange is one forwarder mutation.
type ForwarderChange struct {
	Op        ChangeOp
	Forwarder Forwarder
}

// RPZRuleChange is one RPZ rule mutation.
type RPZRuleChange struct {
	Op   ChangeOp
	Rule RPZRule
}

// ChangeSet is an ordered group of mutations applied and projected as one
// transaction: either every change commits and the resolver picks up the
// result, or none do.
type ChangeSet struct {
	Zones      []ZoneChange
	Records    []RecordChange
	Forwarders []ForwarderChange
	RPZRules   []RPZRuleChange
}

// Empty reports whether the set carries no changes at all.
func (cs ChangeSet) Empty() bool { return cs.Len() == 0 }

// Len is the total number of changes across the groups.
func (cs ChangeSet) Len() int {
	return len(cs.Zones) + len(cs.Records) + len(cs.Forwarders) + len(cs.RPZRules)
}

// DeletedZoneIDs lists the zones the set removes.
func (cs ChangeSet) DeletedZoneIDs() []uuid.UUID {
	var out []uuid.UUID
	for _, zc := range cs.Zones {
		if zc.Op == OpDelete {
			out = append(out, zc.Zone.ID)
		}
	}
	return out
}
