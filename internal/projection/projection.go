// Package projection turns the stored model into the resolver's on-disk
// configuration. Projections run one at a time through a FIFO queue; each
// walks a fixed state machine (validate, backup, write, reload, verify)
// and rolls the files back if the resolver rejects the result.
package projection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/model"
	"github.com/dnsweaver/dnsweaver/internal/render"
	"github.com/dnsweaver/dnsweaver/internal/resolver"
)

// State is where a projection transaction currently is.
type State string

const (
	StateReceived    State = "received"
	StateValidating  State = "validating"
	StateBackingUp   State = "backing_up"
	StateWriting     State = "writing"
	StateReloading   State = "reloading"
	StateVerifying   State = "verifying"
	StateCommitted   State = "committed"
	StateFailed      State = "failed"
	StateRollingBack State = "rolling_back"
	StateRolledBack  State = "rolled_back"
	StateFatal       State = "fatal"
)

// Request asks for one projection run. Changes, when non-empty, are
// applied to the model inside the same transaction the projection
// commits: a failed projection leaves the model untouched.
type Request struct {
	Source  string // component that triggered the run
	Reason  string
	Changes model.ChangeSet
	DryRun  bool
	// ForceBackup takes a full-config backup even when the rendered files
	// match disk and no write is needed.
	ForceBackup   bool
	CorrelationID string
}

// Result is the final record of a projection transaction.
type Result struct {
	ID     uuid.UUID
	State  State
	DryRun bool

	// ChangedFiles lists the paths (relative to the configuration root)
	// whose rendered content differed from disk, sorted.
	ChangedFiles []string

	BackupID     uuid.UUID // pre-projection backup, if one was taken
	PreRestoreID uuid.UUID // backup of the broken state, set after rollback

	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// ConfigChange is the payload of the config_change event emitted on commit.
type ConfigChange struct {
	TransactionID string   `json:"transaction_id"`
	Reason        string   `json:"reason"`
	ChangedFiles  []string `json:"changed_files"`
	DryRun        bool     `json:"dry_run,omitempty"`
	BackupID      string   `json:"backup_id,omitempty"`
}

// ModelStore is what the engine needs from the relational store. Begin
// applies the change set under an open transaction and hands back the
// handle; the engine commits it only once the resolver has accepted the
// projected files.
type ModelStore interface {
	Begin(ctx context.Context, cs model.ChangeSet) (ModelTx, error)
}

// ModelTx is one open store transaction with the change set applied.
type ModelTx interface {
	Snapshot(ctx context.Context) (render.Snapshot, error)
	BumpZoneSerial(ctx context.Context, zoneID uuid.UUID, serial uint32) error
	SetRPZSerial(ctx context.Context, rpzZone string, serial uint32) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backups is what the engine needs from the backup store.
type Backups interface {
	Create(paths []string, typ model.BackupType, description string) (model.Backup, error)
	Restore(id uuid.UUID) (preRestoreID uuid.UUID, err error)
}

// Publisher receives the engine's lifecycle events.
type Publisher interface {
	Emit(model.Event)
}

// Config carries the engine's filesystem and timing knobs.
type Config struct {
	// Root is the resolver configuration directory, e.g. /etc/bind.
	Root string
	// ConfPath is the entry-point configuration file named-checkconf parses.
	ConfPath string
	// CommandTimeout bounds each rndc / named-checkconf invocation.
	CommandTimeout time.Duration
	// QueueDepth bounds how many projections may wait behind the running one.
	QueueDepth int
}

type job struct {
	ctx  context.Context
	req  Request
	done chan Result
}

// Engine serializes projections and drives the state machine.
type Engine struct {
	cfg      Config
	store    ModelStore
	backups  Backups
	control  resolver.Control
	renderer *render.Renderer
	pub      Publisher
	logger   *zap.Logger
	now      func() time.Time

	queue chan *job

	mu   sync.Mutex
	last *Result
}

func New(cfg Config, st ModelStore, bk Backups, ctl resolver.Control,
	r *render.Renderer, pub Publisher, logger *zap.Logger) *Engine {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		backups:  bk,
		control:  ctl,
		renderer: r,
		pub:      pub,
		logger:   logger,
		now:      time.Now,
		queue:    make(chan *job, cfg.QueueDepth),
	}
}

// Run processes queued projections until ctx is cancelled. Exactly one
// projection is in flight at a time.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.queue:
			res := e.project(j.ctx, j.req)
			e.mu.Lock()
			e.last = &res
			e.mu.Unlock()
			j.done <- res
		}
	}
}

// Apply enqueues a projection and waits for its result. The ctx cancels
// waiting in the queue and the phases before files are written; once
// writing starts the transaction always runs to a terminal state.
func (e *Engine) Apply(ctx context.Context, req Request) (Result, error) {
	j := &job{ctx: ctx, req: req, done: make(chan Result, 1)}
	select {
	case e.queue <- j:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	res := <-j.done
	return res, res.Err
}

// Last returns the most recently finished projection, if any.
func (e *Engine) Last() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Result{}, false
	}
	return *e.last, true
}

func (e *Engine) project(ctx context.Context, req Request) Result {
	id, _ := uuid.NewV7()
	res := Result{ID: id, State: StateReceived, DryRun: req.DryRun, StartedAt: e.now().UTC()}
	log := e.logger.With(
		zap.String("transaction_id", id.String()),
		zap.String("source", req.Source),
		zap.Bool("dry_run", req.DryRun),
	)
	log.Info("projection started", zap.String("reason", req.Reason))

	res.State = StateValidating
	if err := ctx.Err(); err != nil {
		return e.finish(log, res, err)
	}

	// Pure checks first: nothing is touched, so a bad change set costs one
	// report and no backup.
	if verrs := ValidateChangeSet(req.Changes); len(verrs) > 0 {
		var merr *multierror.Error
		for _, v := range verrs {
			merr = multierror.Append(merr, v)
		}
		return e.finish(log, res, merr.ErrorOrNil())
	}

	tx, err := e.store.Begin(ctx, req.Changes)
	if err != nil {
		return e.finish(log, res, err)
	}

	snap, err := tx.Snapshot(ctx)
	if err != nil {
		tx.Rollback(ctx)
		return e.finish(log, res, err)
	}
	files, err := e.renderer.All(snap)
	if err != nil {
		tx.Rollback(ctx)
		return e.finish(log, res, apperr.Wrap(apperr.CodeRendering, "rendering configuration", err))
	}
	if err := e.bumpSerials(ctx, tx, req, snap, files); err != nil {
		tx.Rollback(ctx)
		return e.finish(log, res, err)
	}

	for p, data := range files {
		if e.differs(p, data) {
			res.ChangedFiles = append(res.ChangedFiles, p)
		}
	}
	sort.Strings(res.ChangedFiles)

	if req.DryRun {
		tx.Rollback(ctx)
		res.State = StateCommitted
		return e.finish(log, res, nil)
	}
	if len(res.ChangedFiles) == 0 {
		// Model-only change set, or a true no-op. No file work, no reload.
		if req.ForceBackup {
			all := make([]string, 0, len(files))
			for p := range files {
				all = append(all, p)
			}
			sort.Strings(all)
			b, err := e.takeBackup(all, fmt.Sprintf("on-demand %s", id))
			if err != nil {
				tx.Rollback(ctx)
				return e.finish(log, res, err)
			}
			res.BackupID = b.ID
		}
		if req.Changes.Empty() {
			tx.Rollback(ctx)
			log.Info("projection is a no-op, nothing written")
		} else if err := tx.Commit(ctx); err != nil {
			return e.finish(log, res, err)
		}
		res.State = StateCommitted
		if !req.Changes.Empty() {
			e.emitCommit(req, res)
		}
		return e.finish(log, res, nil)
	}

	res.State = StateBackingUp
	b, err := e.takeBackup(res.ChangedFiles, fmt.Sprintf("pre-projection %s", id))
	if err != nil {
		tx.Rollback(ctx)
		return e.finish(log, res, err)
	}
	res.BackupID = b.ID

	// Last chance to cancel: from here the transaction must reach a
	// terminal state even if the caller goes away.
	if err := ctx.Err(); err != nil {
		tx.Rollback(ctx)
		return e.finish(log, res, err)
	}
	ctx = context.WithoutCancel(ctx)

	res.State = StateWriting
	// Zone and RPZ data first so the stanza files never point at content
	// that is not on disk yet.
	for _, p := range orderedForWrite(res.ChangedFiles) {
		if err := writeFileAtomic(filepath.Join(e.cfg.Root, p), files[p]); err != nil {
			return e.rollback(ctx, log, req, res, tx,
				apperr.Wrap(apperr.CodeFilesystemFailed, fmt.Sprintf("writing %s", p), err))
		}
	}

	res.State = StateReloading
	if err := e.controlCall(ctx, e.control.Reconfig); err != nil {
		return e.rollback(ctx, log, req, res, tx, err)
	}

	res.State = StateVerifying
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	err = e.control.CheckConf(cctx, e.cfg.ConfPath)
	cancel()
	if err != nil {
		return e.rollback(ctx, log, req, res, tx, err)
	}
	if err := e.verifySerials(files, res.ChangedFiles); err != nil {
		return e.rollback(ctx, log, req, res, tx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		// The resolver accepted the files but the model did not commit;
		// put the files back so disk and store stay in step.
		return e.rollback(ctx, log, req, res, nil, err)
	}
	res.State = StateCommitted
	e.emitCommit(req, res)
	return e.finish(log, res, nil)
}

// verifySerials reads the written zone and RPZ files back and checks each
// still carries the serial that was rendered into it.
func (e *Engine) verifySerials(files map[string][]byte, changed []string) error {
	for _, p := range changed {
		want, err := render.ParseSerial(files[p])
		if err != nil {
			continue // stanza files carry no serial
		}
		data, err := os.ReadFile(filepath.Join(e.cfg.Root, p))
		if err != nil {
			return apperr.Wrap(apperr.CodeFilesystemFailed, fmt.Sprintf("reading back %s", p), err)
		}
		got, err := render.ParseSerial(data)
		if err != nil || got != want {
			return apperr.Wrap(apperr.CodeFilesystemFailed,
				fmt.Sprintf("%s does not carry serial %d after write", p, want), err)
		}
	}
	return nil
}

// takeBackup captures the files at the given relative paths that exist
// on disk as one full-config backup.
func (e *Engine) takeBackup(paths []string, description string) (model.Backup, error) {
	var originals []string
	for _, p := range paths {
		abs := filepath.Join(e.cfg.Root, p)
		if _, err := os.Stat(abs); err == nil {
			originals = append(originals, abs)
		}
	}
	return e.backups.Create(originals, model.BackupFullConfig, description)
}

// bumpSerials advances the serial of every zone and RPZ category whose
// rendered file differs from disk, re-rendering those files with the new
// serial. Serials are persisted before any file is written so the store
// never lags the filesystem.
func (e *Engine) bumpSerials(ctx context.Context, tx ModelTx, req Request, snap render.Snapshot, files map[string][]byte) error {
	now := e.now()

	for i := range snap.Zones {
		z := &snap.Zones[i]
		if z.Type != model.ZoneMaster || !z.Active {
			continue
		}
		p := render.ZoneFilePath(z.Name)
		if !e.differs(p, files[p]) {
			continue
		}
		z.Serial = render.NextSerial(z.Serial, now)
		data, err := e.renderer.ZoneFile(*z, snap.Records[z.ID])
		if err != nil {
			return apperr.Wrap(apperr.CodeRendering, fmt.Sprintf("rendering zone %s", z.Name), err)
		}
		files[p] = data
		if req.DryRun {
			continue
		}
		if err := tx.BumpZoneSerial(ctx, z.ID, z.Serial); err != nil {
			return err
		}
	}

	byCat := make(map[string][]model.RPZRule)
	for _, r := range snap.RPZRules {
		if r.Active {
			byCat[r.RPZZone] = append(byCat[r.RPZZone], r)
		}
	}
	for cat, rules := range byCat {
		p := render.RPZFilePath(cat)
		if !e.differs(p, files[p]) {
			continue
		}
		next := render.NextSerial(snap.RPZSerials[cat], now)
		files[p] = e.renderer.RPZFile(cat, next, rules)
		if req.DryRun {
			continue
		}
		if err := tx.SetRPZSerial(ctx, cat, next); err != nil {
			return err
		}
	}
	return nil
}

// rollback restores the pre-projection backup, reloads and discards the
// open store transaction. cause is the error that triggered it.
func (e *Engine) rollback(ctx context.Context, log *zap.Logger, req Request, res Result, tx ModelTx, cause error) Result {
	failedIn := res.State
	res.State = StateRollingBack
	log.Warn("projection failed, rolling back",
		zap.String("failed_in", string(failedIn)), zap.Error(cause))

	if tx != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			log.Warn("store transaction rollback failed", zap.Error(rerr))
		}
	}

	pre, err := e.backups.Restore(res.BackupID)
	if err == nil {
		res.PreRestoreID = pre
		err = e.controlCall(ctx, e.control.Reconfig)
	}
	if err != nil {
		res.State = StateFatal
		res.Err = apperr.Wrap(apperr.CodeFatal,
			"rollback failed, resolver configuration is in an unknown state",
			multierror.Append(cause, err))
		log.Error("rollback failed", zap.Error(err))
		e.emit(req, model.EventRollbackFailed, model.SeverityCritical, model.PriorityUrgent,
			map[string]any{
				"transaction_id": res.ID.String(),
				"failed_in":      string(failedIn),
				"cause":          cause.Error(),
				"rollback_error": err.Error(),
			})
		return e.finish(log, res, res.Err)
	}

	res.State = StateRolledBack
	res.Err = apperr.Wrap(apperr.CodeRollbackSucceeded,
		"projection failed, previous configuration restored", cause)
	return e.finish(log, res, res.Err)
}

func (e *Engine) controlCall(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()
	return fn(cctx)
}

func (e *Engine) finish(log *zap.Logger, res Result, err error) Result {
	if err != nil && res.Err == nil {
		res.Err = err
		if res.State != StateFatal && res.State != StateRolledBack {
			res.State = StateFailed
		}
	}
	res.FinishedAt = e.now().UTC()

	switch res.State {
	case StateCommitted:
		log.Info("projection committed",
			zap.Int("changed_files", len(res.ChangedFiles)),
			zap.Duration("took", res.FinishedAt.Sub(res.StartedAt)))
	default:
		log.Error("projection finished",
			zap.String("state", string(res.State)), zap.Error(res.Err))
	}
	return res
}

func (e *Engine) emitCommit(req Request, res Result) {
	e.emit(req, model.EventConfigChange, model.SeverityInfo, model.PriorityHigh, ConfigChange{
		TransactionID: res.ID.String(),
		Reason:        req.Reason,
		ChangedFiles:  res.ChangedFiles,
		DryRun:        res.DryRun,
		BackupID:      nonNilID(res.BackupID),
	})
}

func (e *Engine) emit(req Request, typ model.EventType, sev model.EventSeverity, prio model.EventPriority, data any) {
	if e.pub == nil {
		return
	}
	id, _ := uuid.NewV7()
	e.pub.Emit(model.Event{
		ID:            id,
		Type:          typ,
		Category:      model.CategorySystem,
		Severity:      sev,
		Priority:      prio,
		Source:        "projection",
		Data:          data,
		CorrelationID: req.CorrelationID,
		CreatedAt:     e.now().UTC(),
		Persist:       true,
	})
}

// differs reports whether the file at relative path p differs from data.
// A missing file always differs.
func (e *Engine) differs(p string, data []byte) bool {
	cur, err := os.ReadFile(filepath.Join(e.cfg.Root, p))
	if err != nil {
		return true
	}
	return string(cur) != string(data)
}

// orderedForWrite puts data files before the stanza files that reference
// them, options last.
func orderedForWrite(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.SliceStable(out, func(i, j int) bool {
		return writeRank(out[i]) < writeRank(out[j])
	})
	return out
}

func writeRank(p string) int {
	switch {
	case p == render.OptionsFile:
		return 3
	case p == render.LocalFile:
		return 2
	default:
		return 1
	}
}

func nonNilID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
