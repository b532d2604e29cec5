package projection

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

func validZoneChange() model.ZoneChange {
	return model.ZoneChange{
		Op: model.OpCreate,
		Zone: model.Zone{
			ID: uuid.New(), Name: "internal.local", Type: model.ZoneMaster,
			AdminEmail: "admin.internal.local",
			Refresh:    3600, Retry: 600, Expire: 86400, Minimum: 300,
			Active: true,
		},
	}
}

func TestValidateChangeSetAcceptsZonePlusRecords(t *testing.T) {
	pri := uint16(10)
	cs := model.ChangeSet{
		Zones: []model.ZoneChange{validZoneChange()},
		Records: []model.RecordChange{
			{
				Op: model.OpCreate, ZoneName: "internal.local",
				Record: model.Record{Name: "www", Type: model.TypeA, Value: "192.168.1.10", TTL: 3600, Active: true},
			},
			{
				Op: model.OpCreate, ZoneName: "internal.local",
				Record: model.Record{Name: "@", Type: model.TypeMX, Value: "mail.internal.local.", Priority: &pri, TTL: 3600, Active: true},
			},
		},
	}
	assert.Empty(t, ValidateChangeSet(cs))
}

func TestValidateChangeSetCollectsEveryProblem(t *testing.T) {
	cs := model.ChangeSet{
		Records: []model.RecordChange{
			{
				Op: model.OpCreate, ZoneName: "internal.local",
				Record: model.Record{Name: "@", Type: model.TypeCNAME, Value: "www.internal.local.", TTL: 3600, Active: true},
			},
			{
				Op: model.OpCreate, ZoneName: "internal.local",
				Record: model.Record{Name: "www", Type: model.TypeA, Value: "999.0.0.1", TTL: 3600, Active: true},
			},
		},
	}
	errs := ValidateChangeSet(cs)
	require.Len(t, errs, 2)

	apex := errs[0]
	assert.Equal(t, "name", apex.Field)
	assert.Equal(t, "CNAME at zone apex", apex.Reason)
	assert.Equal(t, "use A/AAAA at @", apex.Suggestion)
}

func TestValidateChangeSetRejectsRecordIntoDeletedZone(t *testing.T) {
	zoneID := uuid.New()
	cs := model.ChangeSet{
		Zones: []model.ZoneChange{{
			Op:   model.OpDelete,
			Zone: model.Zone{ID: zoneID, Name: "internal.local"},
		}},
		Records: []model.RecordChange{{
			Op: model.OpCreate,
			Record: model.Record{
				ZoneID: zoneID,
				Name:   "www", Type: model.TypeA, Value: "192.168.1.10", TTL: 3600, Active: true,
			},
		}},
	}
	errs := ValidateChangeSet(cs)
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Field == "zones" {
			found = true
			assert.Contains(t, e.Reason, "deletes")
		}
	}
	assert.True(t, found, "expected a conflict for the deleted zone")
}

func TestValidateChangeSetRejectsDoubleChange(t *testing.T) {
	recID := uuid.New()
	zoneID := uuid.New()
	base := model.Record{
		ID: recID, ZoneID: zoneID,
		Name: "www", Type: model.TypeA, Value: "192.168.1.10", TTL: 3600, Active: true,
	}
	cs := model.ChangeSet{Records: []model.RecordChange{
		{Op: model.OpUpdate, Record: base},
		{Op: model.OpDelete, Record: base},
	}}
	errs := ValidateChangeSet(cs)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Reason, "changed twice")
}

func TestValidateChangeSetRejectsDuplicateCreates(t *testing.T) {
	rc := model.RecordChange{
		Op: model.OpCreate, ZoneName: "internal.local",
		Record: model.Record{Name: "www", Type: model.TypeA, Value: "192.168.1.10", TTL: 3600, Active: true},
	}
	errs := ValidateChangeSet(model.ChangeSet{Records: []model.RecordChange{rc, rc}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Reason, "created twice")
}

func TestValidateChangeSetEmptyIsValid(t *testing.T) {
	assert.Empty(t, ValidateChangeSet(model.ChangeSet{}))
	assert.True(t, model.ChangeSet{}.Empty())
}
