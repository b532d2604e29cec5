// Package backup implements the content-addressed backup store: file copies
// grouped per backup under a type-partitioned directory tree, described by a
// single rewritable JSON metadata document guarded by a file lock.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

const metadataFile = "backup_metadata.json"

// Store is the backup store rooted at one directory.
type Store struct {
	root          string
	retainPerType int
	retainDays    int
	logger        *zap.Logger
	now           func() time.Time
}

// New opens (creating if needed) a backup store at root.
func New(root string, retainPerType, retainDays int, logger *zap.Logger) (*Store, error) {
	for _, t := range []model.BackupType{
		model.BackupZoneFile, model.BackupRPZFile, model.BackupConfiguration, model.BackupFullConfig,
	} {
		if err := os.MkdirAll(filepath.Join(root, string(t)), 0o750); err != nil {
			return nil, apperr.Wrap(apperr.CodeFilesystemFailed, "creating backup tree", err)
		}
	}
	return &Store{
		root:          root,
		retainPerType: retainPerType,
		retainDays:    retainDays,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Create copies the given files into a new backup entry and records it in
// the metadata document. Missing source files abort the backup.
func (s *Store) Create(paths []string, typ model.BackupType, description string) (model.Backup, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return model.Backup{}, apperr.Wrap(apperr.CodeBackupFailed, "generating backup id", err)
	}

	dir := filepath.Join(s.root, string(typ), id.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return model.Backup{}, apperr.Wrap(apperr.CodeBackupFailed, "creating backup directory", err)
	}

	b := model.Backup{
		ID:          id,
		Type:        typ,
		Description: description,
		CreatedAt:   s.now().UTC(),
	}

	for i, src := range paths {
		stored := filepath.Join(dir, fmt.Sprintf("%03d_%s", i, filepath.Base(src)))
		sum, size, err := copyFile(src, stored)
		if err != nil {
			os.RemoveAll(dir)
			return model.Backup{}, apperr.Wrap(apperr.CodeBackupFailed,
				fmt.Sprintf("backing up %s", src), err)
		}
		b.Files = append(b.Files, model.BackupFile{
			OriginalPath: src,
			StoredPath:   stored,
			SHA256:       sum,
			SizeBytes:    size,
		})
	}

	if err := s.updateMetadata(func(entries []model.Backup) []model.Backup {
		return append(entries, b)
	}); err != nil {
		os.RemoveAll(dir)
		return model.Backup{}, err
	}

	s.logger.Info("backup created",
		zap.String("backup_id", id.String()),
		zap.String("type", string(typ)),
		zap.Int("files", len(b.Files)),
	)
	return b, nil
}

// ListFilter narrows a backup listing.
type ListFilter struct {
	Type  model.BackupType
	Since time.Time
	Limit int
}

// List returns backups newest first.
func (s *Store) List(filter ListFilter) ([]model.Backup, error) {
	entries, err := s.readMetadata()
	if err != nil {
		return nil, err
	}
	out := make([]model.Backup, 0, len(entries))
	for _, b := range entries {
		if filter.Type != "" && b.Type != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && b.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Get returns one backup by id.
func (s *Store) Get(id uuid.UUID) (model.Backup, error) {
	entries, err := s.readMetadata()
	if err != nil {
		return model.Backup{}, err
	}
	for _, b := range entries {
		if b.ID == id {
			return b, nil
		}
	}
	return model.Backup{}, apperr.NotFound("backup", id.String())
}

// Verify recomputes every stored file's checksum against the metadata.
func (s *Store) Verify(id uuid.UUID) error {
	b, err := s.Get(id)
	if err != nil {
		return err
	}
	for _, f := range b.Files {
		sum, _, err := hashFile(f.StoredPath)
		if err != nil {
			return apperr.Wrap(apperr.CodeBackupFailed,
				fmt.Sprintf("reading stored file %s", f.StoredPath), err)
		}
		if sum != f.SHA256 {
			return apperr.Wrap(apperr.CodeBackupFailed,
				fmt.Sprintf("checksum mismatch for %s", f.OriginalPath), nil)
		}
	}
	return nil
}

// Restore puts every file of the backup back at its original path. The
// stored copies are verified first and a pre-restore backup of the current
// originals is always taken; if verification fails nothing is touched.
func (s *Store) Restore(id uuid.UUID) (preRestoreID uuid.UUID, err error) {
	b, err := s.Get(id)
	if err != nil {
		return uuid.Nil, err
	}

	// All-or-nothing: refuse to start if any stored file is corrupt.
	if err := s.Verify(id); err != nil {
		return uuid.Nil, err
	}

	originals := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		if _, statErr := os.Stat(f.OriginalPath); statErr == nil {
			originals = append(originals, f.OriginalPath)
		}
	}
	pre, err := s.Create(originals, model.BackupFullConfig,
		fmt.Sprintf("pre_restore of %s", id))
	if err != nil {
		return uuid.Nil, err
	}

	for _, f := range b.Files {
		if err := restoreFile(f.StoredPath, f.OriginalPath); err != nil {
			return pre.ID, apperr.Wrap(apperr.CodeFilesystemFailed,
				fmt.Sprintf("restoring %s", f.OriginalPath), err)
		}
	}

	s.logger.Info("backup restored",
		zap.String("backup_id", id.String()),
		zap.String("pre_restore_id", pre.ID.String()),
	)
	return pre.ID, nil
}

// Prune drops entries beyond the newest N per type and entries older than
// the retention horizon. Pre-restore backups are ordinary entries here.
func (s *Store) Prune() (removed int, err error) {
	horizon := s.now().UTC().AddDate(0, 0, -s.retainDays)
	var errs *multierror.Error

	err = s.updateMetadata(func(entries []model.Backup) []model.Backup {
		sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })

		perType := make(map[model.BackupType]int)
		kept := entries[:0]
		for _, b := range entries {
			perType[b.Type]++
			if perType[b.Type] > s.retainPerType || b.CreatedAt.Before(horizon) {
				if rmErr := os.RemoveAll(filepath.Join(s.root, string(b.Type), b.ID.String())); rmErr != nil {
					errs = multierror.Append(errs, rmErr)
					kept = append(kept, b)
					continue
				}
				removed++
				continue
			}
			kept = append(kept, b)
		}
		return kept
	})
	if err != nil {
		return removed, err
	}
	if errs.ErrorOrNil() != nil {
		return removed, apperr.Wrap(apperr.CodeFilesystemFailed, "pruning backups", errs)
	}
	if removed > 0 {
		s.logger.Info("backups pruned", zap.Int("removed", removed))
	}
	return removed, nil
}

// --- metadata document ---

func (s *Store) metadataPath() string { return filepath.Join(s.root, metadataFile) }

func (s *Store) readMetadata() ([]model.Backup, error) {
	data, err := os.ReadFile(s.metadataPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeFilesystemFailed, "reading backup metadata", err)
	}
	var entries []model.Backup
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, apperr.Wrap(apperr.CodeFilesystemFailed, "parsing backup metadata", err)
	}
	return entries, nil
}

// updateMetadata rewrites the metadata document under the file lock.
func (s *Store) updateMetadata(mutate func([]model.Backup) []model.Backup) error {
	lock := flock.New(s.metadataPath() + ".lock")
	if err := lock.Lock(); err != nil {
		return apperr.Wrap(apperr.CodeFilesystemFailed, "locking backup metadata", err)
	}
	defer lock.Unlock()

	entries, err := s.readMetadata()
	if err != nil {
		return err
	}
	entries = mutate(entries)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.CodeFilesystemFailed, "encoding backup metadata", err)
	}

	tmp := s.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return apperr.Wrap(apperr.CodeFilesystemFailed, "writing backup metadata", err)
	}
	if err := os.Rename(tmp, s.metadataPath()); err != nil {
		return apperr.Wrap(apperr.CodeFilesystemFailed, "replacing backup metadata", err)
	}
	return nil
}

// --- file helpers ---

func copyFile(src, dst string) (sum string, size int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	h := sha256.New()
	size, err = io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		return "", 0, err
	}
	if err := out.Sync(); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func hashFile(path string) (sum string, size int64, err error) {
	in, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	h := sha256.New()
	size, err = io.Copy(h, in)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// restoreFile writes dst via a sibling temp file and atomic rename.
func restoreFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	tmp := dst + ".restore.tmp"
	if _, _, err := copyFile(src, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
