// Package ingest tails the resolver's query log, parses it into rows and
// flushes them to the store in batches. Rotation is detected both through
// filesystem notifications and a polling fallback.
package ingest

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// Store receives the parsed rows.
type Store interface {
	RecordQueryLogBatch(ctx context.Context, rows []model.QueryLogRow) error
}

// Publisher receives sampled query events.
type Publisher interface {
	Emit(model.Event)
}

// Config carries the ingestor's knobs.
type Config struct {
	Path          string
	BatchSize     int           // flush when this many rows are buffered
	FlushInterval time.Duration // flush at least this often
	PollInterval  time.Duration // rotation / growth check cadence
	// SampleEvery publishes every Nth parsed row as a low-priority event;
	// zero disables sampling.
	SampleEvery int
}

// Ingestor is the tailer. One per query-log file.
type Ingestor struct {
	cfg    Config
	store  Store
	pub    Publisher
	logger *zap.Logger

	file    *os.File
	reader  *bufio.Reader
	pos     int64 // bytes consumed of the current file
	partial string

	buf        []model.QueryLogRow
	parsed     uint64
	parseErrs  atomic.Uint64
	dropped    atomic.Uint64
	flushErrs  atomic.Uint64
}

func New(cfg Config, st Store, pub Publisher, logger *zap.Logger) *Ingestor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Ingestor{cfg: cfg, store: st, pub: pub, logger: logger}
}

// ParseErrors reports how many lines failed to parse so far.
func (i *Ingestor) ParseErrors() uint64 { return i.parseErrs.Load() }

// Dropped reports rows discarded because the store kept failing.
func (i *Ingestor) Dropped() uint64 { return i.dropped.Load() }

// Run tails the file until ctx is cancelled. The first open seeks to the
// end so history is not replayed; after a rotation reading restarts at
// offset zero of the new file.
func (i *Ingestor) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		i.logger.Warn("fsnotify unavailable, polling only", zap.Error(err))
	} else {
		defer watcher.Close()
		if werr := watcher.Add(filepath.Dir(i.cfg.Path)); werr != nil {
			i.logger.Warn("watching log directory failed, polling only", zap.Error(werr))
		}
	}

	i.open(true)

	flush := time.NewTicker(i.cfg.FlushInterval)
	defer flush.Stop()
	poll := time.NewTicker(i.cfg.PollInterval)
	defer poll.Stop()

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			i.flush(context.WithoutCancel(ctx))
			i.close()
			return
		case ev := <-events:
			if ev.Name != i.cfg.Path {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Write):
				i.consume(ctx)
			case ev.Op.Has(fsnotify.Create):
				// Rotation: a fresh file appeared under the tailed name.
				i.close()
				i.open(false)
				i.consume(ctx)
			case ev.Op.Has(fsnotify.Rename), ev.Op.Has(fsnotify.Remove):
				i.close()
			}
		case werr := <-watchErrs:
			i.logger.Warn("log watcher error", zap.Error(werr))
		case <-poll.C:
			i.checkRotation()
			i.consume(ctx)
		case <-flush.C:
			i.flush(ctx)
		}
	}
}

func (i *Ingestor) open(seekEnd bool) {
	f, err := os.Open(i.cfg.Path)
	if err != nil {
		return // retried on the next poll tick
	}
	i.file = f
	i.pos = 0
	i.partial = ""
	if seekEnd {
		if end, err := f.Seek(0, io.SeekEnd); err == nil {
			i.pos = end
		}
	}
	i.reader = bufio.NewReader(f)
	i.logger.Info("tailing query log", zap.String("path", i.cfg.Path), zap.Int64("offset", i.pos))
}

func (i *Ingestor) close() {
	if i.file != nil {
		i.file.Close()
		i.file = nil
		i.reader = nil
	}
}

// checkRotation reopens when the path points at a different or truncated
// file. This is the fallback for rotations fsnotify missed.
func (i *Ingestor) checkRotation() {
	st, err := os.Stat(i.cfg.Path)
	if err != nil {
		return
	}
	if i.file == nil {
		i.open(false)
		return
	}
	cur, err := i.file.Stat()
	if err != nil || !os.SameFile(st, cur) || st.Size() < i.pos {
		i.close()
		i.open(false)
	}
}

func (i *Ingestor) consume(ctx context.Context) {
	if i.reader == nil {
		return
	}
	for {
		chunk, err := i.reader.ReadString('\n')
		i.pos += int64(len(chunk))
		if err != nil {
			// Partial line: keep it until the rest arrives.
			i.partial += chunk
			return
		}
		line := i.partial + chunk
		i.partial = ""
		i.handleLine(ctx, line[:len(line)-1])
	}
}

func (i *Ingestor) handleLine(ctx context.Context, line string) {
	if line == "" {
		return
	}
	row, ok := ParseLine(line)
	if !ok {
		i.parseErrs.Add(1)
		return
	}
	i.buf = append(i.buf, row)
	i.parsed++

	if i.pub != nil && i.cfg.SampleEvery > 0 && i.parsed%uint64(i.cfg.SampleEvery) == 0 {
		id, _ := uuid.NewV7()
		i.pub.Emit(model.Event{
			ID:        id,
			Type:      model.EventQueryLog,
			Category:  model.CategoryDNS,
			Severity:  model.SeverityDebug,
			Priority:  model.PriorityLow,
			Source:    "ingest",
			Data:      row,
			CreatedAt: time.Now().UTC(),
		})
	}

	if len(i.buf) >= i.cfg.BatchSize {
		i.flush(ctx)
	}
}

func (i *Ingestor) flush(ctx context.Context) {
	if len(i.buf) == 0 {
		return
	}
	if err := i.store.RecordQueryLogBatch(ctx, i.buf); err != nil {
		i.flushErrs.Add(1)
		i.logger.Warn("query log flush failed", zap.Int("rows", len(i.buf)), zap.Error(err))
		// Bound the buffer so a dead store cannot grow it without limit.
		if keep := i.cfg.BatchSize * 10; len(i.buf) > keep {
			i.dropped.Add(uint64(len(i.buf) - keep))
			i.buf = append(i.buf[:0], i.buf[len(i.buf)-keep:]...)
		}
		return
	}
	i.buf = i.buf[:0]
}
