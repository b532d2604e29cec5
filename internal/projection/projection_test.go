package projection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/backup"
	"github.com/dnsweaver/dnsweaver/internal/model"
	"github.com/dnsweaver/dnsweaver/internal/render"
)

type fakeModelStore struct {
	snap      render.Snapshot
	snapErr   error
	beginErr  error
	commitErr error
	bumped    map[uuid.UUID]uint32

	begun     []model.ChangeSet
	commits   int
	rollbacks int
}

func (f *fakeModelStore) Begin(_ context.Context, cs model.ChangeSet) (ModelTx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.begun = append(f.begun, cs)
	return &fakeModelTx{f: f}, nil
}

type fakeModelTx struct {
	f *fakeModelStore
}

func (t *fakeModelTx) Snapshot(context.Context) (render.Snapshot, error) {
	return t.f.snap, t.f.snapErr
}

func (t *fakeModelTx) BumpZoneSerial(_ context.Context, zoneID uuid.UUID, serial uint32) error {
	if t.f.bumped == nil {
		t.f.bumped = make(map[uuid.UUID]uint32)
	}
	t.f.bumped[zoneID] = serial
	for i := range t.f.snap.Zones {
		if t.f.snap.Zones[i].ID == zoneID {
			t.f.snap.Zones[i].Serial = serial
		}
	}
	return nil
}

func (t *fakeModelTx) SetRPZSerial(_ context.Context, rpzZone string, serial uint32) error {
	if t.f.snap.RPZSerials == nil {
		t.f.snap.RPZSerials = make(map[string]uint32)
	}
	t.f.snap.RPZSerials[rpzZone] = serial
	return nil
}

func (t *fakeModelTx) Commit(context.Context) error {
	if t.f.commitErr != nil {
		return t.f.commitErr
	}
	t.f.commits++
	return nil
}

func (t *fakeModelTx) Rollback(context.Context) error {
	t.f.rollbacks++
	return nil
}

type fakeControl struct {
	calls       []string
	reconfigErr error
	checkErr    error
}

func (f *fakeControl) Reload(context.Context) error { f.calls = append(f.calls, "reload"); return nil }
func (f *fakeControl) Flush(context.Context) error  { f.calls = append(f.calls, "flush"); return nil }

func (f *fakeControl) Reconfig(context.Context) error {
	f.calls = append(f.calls, "reconfig")
	return f.reconfigErr
}

func (f *fakeControl) CheckConf(context.Context, string) error {
	f.calls = append(f.calls, "checkconf")
	return f.checkErr
}

type eventRecorder struct {
	events []model.Event
}

func (r *eventRecorder) Emit(e model.Event) { r.events = append(r.events, e) }

type fakeBackups struct {
	created    int
	restored   []uuid.UUID
	restoreErr error
}

func (f *fakeBackups) Create([]string, model.BackupType, string) (model.Backup, error) {
	f.created++
	id, _ := uuid.NewV7()
	return model.Backup{ID: id}, nil
}

func (f *fakeBackups) Restore(id uuid.UUID) (uuid.UUID, error) {
	f.restored = append(f.restored, id)
	if f.restoreErr != nil {
		return uuid.Nil, f.restoreErr
	}
	pre, _ := uuid.NewV7()
	return pre, nil
}

func testSnapshot() render.Snapshot {
	zoneID := uuid.New()
	return render.Snapshot{
		Zones: []model.Zone{{
			ID: zoneID, Name: "internal.local", Type: model.ZoneMaster,
			AdminEmail: "admin.internal.local",
			Refresh:    3600, Retry: 600, Expire: 86400, Minimum: 300,
			Active: true,
		}},
		Records: map[uuid.UUID][]model.Record{zoneID: {{
			ID: uuid.New(), ZoneID: zoneID,
			Name: "www", Type: model.TypeA, Value: "192.168.1.10", TTL: 3600,
			Active: true,
		}}},
		Forwarders: []model.Forwarder{{
			ID: uuid.New(), Name: "corp", Type: model.ForwarderIntranet,
			Domains: []string{"corp.example"},
			Servers: []model.ForwarderServer{{IP: "10.0.0.1", Port: 53, Priority: 1}},
			Active:  true,
		}},
		RPZRules: []model.RPZRule{{
			ID: uuid.New(), RPZZone: "malware", Domain: "bad.example",
			Action: model.ActionBlock, Source: "manual", Active: true,
		}},
		RPZSerials: map[string]uint32{},
	}
}

func newTestEngine(t *testing.T, ms ModelStore, bk Backups, ctl *fakeControl, pub Publisher) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	eng := New(Config{
		Root:     root,
		ConfPath: filepath.Join(root, render.OptionsFile),
	}, ms, bk, ctl, render.New(render.DefaultOptions()), pub, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	return eng, root
}

func newTestBackups(t *testing.T) *backup.Store {
	t.Helper()
	bk, err := backup.New(t.TempDir(), 10, 30, zaptest.NewLogger(t))
	require.NoError(t, err)
	return bk
}

func TestApplyWritesAndCommits(t *testing.T) {
	ms := &fakeModelStore{snap: testSnapshot()}
	ctl := &fakeControl{}
	rec := &eventRecorder{}
	eng, root := newTestEngine(t, ms, newTestBackups(t), ctl, rec)

	res, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "initial"})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, []string{
		render.LocalFile,
		render.OptionsFile,
		render.RPZFilePath("malware"),
		render.ZoneFilePath("internal.local"),
	}, res.ChangedFiles)
	assert.Equal(t, []string{"reconfig", "checkconf"}, ctl.calls)

	zone, err := os.ReadFile(filepath.Join(root, render.ZoneFilePath("internal.local")))
	require.NoError(t, err)
	assert.Contains(t, string(zone), "www\t3600\tIN\tA\t192.168.1.10")

	zoneID := ms.snap.Zones[0].ID
	assert.NotZero(t, ms.bumped[zoneID], "zone serial persisted")
	assert.NotZero(t, ms.snap.RPZSerials["malware"], "rpz serial persisted")
	assert.Equal(t, 1, ms.commits, "store transaction committed")

	require.Len(t, rec.events, 1)
	e := rec.events[0]
	assert.Equal(t, model.EventConfigChange, e.Type)
	assert.Equal(t, model.PriorityHigh, e.Priority)
	assert.True(t, e.Persist)
}

func TestApplyIsNoOpWhenNothingChanged(t *testing.T) {
	ms := &fakeModelStore{snap: testSnapshot()}
	ctl := &fakeControl{}
	eng, _ := newTestEngine(t, ms, newTestBackups(t), ctl, &eventRecorder{})

	_, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "initial"})
	require.NoError(t, err)
	firstCalls := len(ctl.calls)

	res, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "again"})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.Empty(t, res.ChangedFiles)
	assert.Len(t, ctl.calls, firstCalls, "no reload for a no-op")
}

func TestDryRunTouchesNothing(t *testing.T) {
	ms := &fakeModelStore{snap: testSnapshot()}
	ctl := &fakeControl{}
	bk := &fakeBackups{}
	eng, root := newTestEngine(t, ms, bk, ctl, &eventRecorder{})

	res, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "preview", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.True(t, res.DryRun)
	assert.NotEmpty(t, res.ChangedFiles)

	_, statErr := os.Stat(filepath.Join(root, render.OptionsFile))
	assert.True(t, os.IsNotExist(statErr), "dry run must not write")
	assert.Empty(t, ctl.calls)
	assert.Zero(t, bk.created)
	assert.Empty(t, ms.bumped, "dry run must not persist serials")
	assert.Zero(t, ms.commits, "dry run must not commit the store transaction")
	assert.Equal(t, 1, ms.rollbacks)
}

func TestRollbackOnVerifyFailure(t *testing.T) {
	ms := &fakeModelStore{snap: testSnapshot()}
	ctl := &fakeControl{}
	eng, root := newTestEngine(t, ms, newTestBackups(t), ctl, &eventRecorder{})

	_, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "initial"})
	require.NoError(t, err)
	goodZone, err := os.ReadFile(filepath.Join(root, render.ZoneFilePath("internal.local")))
	require.NoError(t, err)

	zoneID := ms.snap.Zones[0].ID
	ms.snap.Records[zoneID] = append(ms.snap.Records[zoneID], model.Record{
		ID: uuid.New(), ZoneID: zoneID,
		Name: "mail", Type: model.TypeA, Value: "192.168.1.20", TTL: 3600,
		Active: true,
	})
	ctl.checkErr = apperr.Wrap(apperr.CodeResolverRejectedConf, "zone has errors", errors.New("exit 1"))

	res, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "add mail"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeRollbackSucceeded, apperr.CodeOf(err))
	assert.Equal(t, StateRolledBack, res.State)
	assert.NotEqual(t, uuid.Nil, res.PreRestoreID)

	restored, err := os.ReadFile(filepath.Join(root, render.ZoneFilePath("internal.local")))
	require.NoError(t, err)
	assert.Equal(t, string(goodZone), string(restored), "zone file restored from backup")
	assert.NotContains(t, string(restored), "mail")
	assert.Equal(t, 1, ms.commits, "only the first projection committed")
	assert.NotZero(t, ms.rollbacks, "failed projection discards the store transaction")
}

func TestRollbackFailureIsFatal(t *testing.T) {
	ms := &fakeModelStore{snap: testSnapshot()}
	ctl := &fakeControl{reconfigErr: apperr.Wrap(apperr.CodeResolverUnavailable, "rndc reconfig failed", nil)}
	bk := &fakeBackups{restoreErr: errors.New("disk gone")}
	rec := &eventRecorder{}
	eng, _ := newTestEngine(t, ms, bk, ctl, rec)

	res, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "initial"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeFatal, apperr.CodeOf(err))
	assert.Equal(t, StateFatal, res.State)
	require.Len(t, bk.restored, 1)

	var alert *model.Event
	for i := range rec.events {
		if rec.events[i].Type == model.EventRollbackFailed {
			alert = &rec.events[i]
		}
	}
	require.NotNil(t, alert, "rollback_failed event emitted")
	assert.Equal(t, model.PriorityUrgent, alert.Priority)
	assert.Equal(t, model.SeverityCritical, alert.Severity)
}

func TestSerialAdvancesAcrossProjections(t *testing.T) {
	ms := &fakeModelStore{snap: testSnapshot()}
	ctl := &fakeControl{}
	eng, _ := newTestEngine(t, ms, newTestBackups(t), ctl, &eventRecorder{})

	_, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "initial"})
	require.NoError(t, err)
	zoneID := ms.snap.Zones[0].ID
	first := ms.bumped[zoneID]
	require.NotZero(t, first)

	ms.snap.Records[zoneID][0].Value = "192.168.1.11"
	_, err = eng.Apply(context.Background(), Request{Source: "test", Reason: "change www"})
	require.NoError(t, err)
	assert.Greater(t, ms.bumped[zoneID], first)
}

func TestLastReportsMostRecentResult(t *testing.T) {
	ms := &fakeModelStore{snap: testSnapshot()}
	eng, _ := newTestEngine(t, ms, newTestBackups(t), &fakeControl{}, &eventRecorder{})

	_, ok := eng.Last()
	assert.False(t, ok)

	res, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "initial"})
	require.NoError(t, err)

	last, ok := eng.Last()
	require.True(t, ok)
	assert.Equal(t, res.ID, last.ID)
	assert.Equal(t, StateCommitted, last.State)
}

func TestBadChangeSetFailsBeforeAnythingIsTouched(t *testing.T) {
	ms := &fakeModelStore{snap: testSnapshot()}
	bk := &fakeBackups{}
	ctl := &fakeControl{}
	eng, _ := newTestEngine(t, ms, bk, ctl, &eventRecorder{})

	res, err := eng.Apply(context.Background(), Request{
		Source: "test",
		Reason: "cname at apex",
		Changes: model.ChangeSet{Records: []model.RecordChange{{
			Op:       model.OpCreate,
			ZoneName: "internal.local",
			Record: model.Record{
				Name: "@", Type: model.TypeCNAME, Value: "www.internal.local.",
				TTL: 3600, Active: true,
			},
		}}},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "CNAME at zone apex")
	assert.Equal(t, StateFailed, res.State)
	assert.Zero(t, bk.created, "no backup before validation passes")
	assert.Empty(t, ctl.calls)
	assert.Empty(t, ms.begun, "store is never touched for an invalid change set")
}

func TestModelOnlyChangeSetCommitsWithoutReload(t *testing.T) {
	ms := &fakeModelStore{snap: testSnapshot()}
	ctl := &fakeControl{}
	rec := &eventRecorder{}
	eng, _ := newTestEngine(t, ms, newTestBackups(t), ctl, rec)

	_, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "initial"})
	require.NoError(t, err)
	callsAfterFirst := len(ctl.calls)
	commitsAfterFirst := ms.commits

	// An inactive record changes the model but not the rendered files.
	res, err := eng.Apply(context.Background(), Request{
		Source: "test",
		Reason: "add disabled record",
		Changes: model.ChangeSet{Records: []model.RecordChange{{
			Op:       model.OpCreate,
			ZoneName: "internal.local",
			Record: model.Record{
				Name: "staging", Type: model.TypeA, Value: "192.168.1.30",
				TTL: 3600, Active: false,
			},
		}}},
	})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.Empty(t, res.ChangedFiles)
	assert.Len(t, ctl.calls, callsAfterFirst, "no reload when no file changed")
	assert.Equal(t, commitsAfterFirst+1, ms.commits, "model change still commits")
	require.Len(t, ms.begun, 2)
	assert.Equal(t, 1, ms.begun[1].Len())
}

func TestForceBackupSnapshotsANoOp(t *testing.T) {
	ms := &fakeModelStore{snap: testSnapshot()}
	ctl := &fakeControl{}
	bk := &fakeBackups{}
	eng, _ := newTestEngine(t, ms, bk, ctl, &eventRecorder{})

	_, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "initial"})
	require.NoError(t, err)
	require.Equal(t, 1, bk.created)

	res, err := eng.Apply(context.Background(), Request{Source: "test", Reason: "snapshot", ForceBackup: true})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.Empty(t, res.ChangedFiles, "nothing changed on disk")
	assert.Equal(t, 2, bk.created, "backup taken anyway")
	assert.NotEqual(t, uuid.Nil, res.BackupID)
}

func TestWriteOrderPutsDataBeforeStanzas(t *testing.T) {
	paths := []string{
		render.OptionsFile,
		render.ZoneFilePath("a.example"),
		render.LocalFile,
		render.RPZFilePath("malware"),
	}
	ordered := orderedForWrite(paths)
	var idx = func(p string) int {
		for i, v := range ordered {
			if v == p {
				return i
			}
		}
		t.Fatalf("missing %s", p)
		return -1
	}
	assert.Less(t, idx(render.ZoneFilePath("a.example")), idx(render.LocalFile))
	assert.Less(t, idx(render.RPZFilePath("malware")), idx(render.LocalFile))
	assert.Less(t, idx(render.LocalFile), idx(render.OptionsFile))
	assert.True(t, strings.HasPrefix(ordered[0], "zones/") || strings.HasPrefix(ordered[0], "rpz/"))
}
