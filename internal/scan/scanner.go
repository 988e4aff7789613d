// Package scan implements the multi-pass filesystem Scanner: change
// detection decoupled from backup, driven entirely against the Files
// Cache rather than a recursive filesystem walk.
package scan

import (
	"context"
	"fmt"

	"dagback/internal/core"
)

// Scanner drives the Files Cache to reflect the current state of a backup
// set's root directory tree, without touching object payloads.
type Scanner struct {
	fs core.FilesystemManager
	fc core.FilesCache
}

// New creates a Scanner over fs and fc.
func New(fs core.FilesystemManager, fc core.FilesCache) *Scanner {
	return &Scanner{fs: fs, fc: fc}
}

// Scan brings backupSetName's Files Cache entries up to date with the real
// filesystem rooted at rootPath, running entirely inside one transaction.
func (s *Scanner) Scan(ctx context.Context, backupSetName, rootPath string) error {
	return s.fc.WithTx(ctx, func(tx core.FilesCache) error {
		txScanner := &Scanner{fs: s.fs, fc: tx}
		if err := txScanner.bootstrapRoot(ctx, backupSetName, rootPath); err != nil {
			return err
		}
		if err := txScanner.runPasses(ctx, backupSetName); err != nil {
			return err
		}
		return txScanner.invalidationSweep(ctx, backupSetName)
	})
}

// bootstrapRoot is pass 0: if the root has no stat columns yet, lstat it,
// clear its new_flag, and insert its children via listdir.
func (s *Scanner) bootstrapRoot(ctx context.Context, backupSetName, rootPath string) error {
	root, err := s.fc.RootEntry(ctx, backupSetName, rootPath)
	if err != nil {
		return fmt.Errorf("scan: loading root entry: %w", err)
	}
	if root.StMode != nil {
		return nil
	}

	info, _, err := s.fs.Lstat(rootPath)
	if err != nil {
		return fmt.Errorf("scan: statting root: %w", err)
	}

	if err := s.fc.UpdateStat(ctx, root.ID, uint32(info.Mode()), info.ModTime().UnixNano(), info.Size(), true); err != nil {
		return fmt.Errorf("scan: recording root stat: %w", err)
	}
	if err := s.fc.ClearNewFlag(ctx, root.ID); err != nil {
		return fmt.Errorf("scan: clearing root new_flag: %w", err)
	}

	return s.listAndReconcile(ctx, root.ID, rootPath)
}

// runPasses repeats general passes until no new_flag row remains. The
// first pass re-examines every entry in the backup set (spec: a
// subsequent scan must re-lstat previously-tracked entries to detect
// changes, not just walk brand-new rows); later passes only need the
// rows newly marked dirty by the pass before them, which SelectDirty's
// new_flag filter already gives us.
func (s *Scanner) runPasses(ctx context.Context, backupSetName string) error {
	first := true
	for {
		entries, err := s.fc.SelectDirty(ctx, backupSetName, first)
		if err != nil {
			return fmt.Errorf("scan: selecting entries: %w", err)
		}
		first = false

		if len(entries) == 0 {
			return nil
		}

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.processEntry(ctx, e); err != nil {
				return err
			}
		}
	}
}

func (s *Scanner) processEntry(ctx context.Context, e *core.FSEntry) error {
	absPath, err := core.EntryPath(ctx, s.fc, e)
	if err != nil {
		return err
	}

	info, _, err := s.fs.Lstat(absPath)
	if err != nil {
		// Missing: delete the row and its descendants, invalidate parent.
		if err := s.fc.DeleteRecursive(ctx, e.ID); err != nil {
			return fmt.Errorf("scan: deleting missing entry: %w", err)
		}
		if e.ParentID != nil {
			// e's row is gone, so InvalidateAncestors can't start from
			// e.ID (it looks up e's own parent to find the first row to
			// clear). Clear the parent itself here, then let
			// InvalidateAncestors walk everything above it.
			if err := s.fc.ClearObjID(ctx, *e.ParentID); err != nil {
				return fmt.Errorf("scan: invalidating parent of missing entry: %w", err)
			}
			if err := s.fc.InvalidateAncestors(ctx, *e.ParentID); err != nil {
				return fmt.Errorf("scan: invalidating parent of missing entry: %w", err)
			}
		}
		return nil
	}

	mode := uint32(info.Mode())
	mtimeNs := info.ModTime().UnixNano()
	size := info.Size()

	changed := e.StMode == nil || *e.StMode != mode || e.StMtime == nil || *e.StMtime != mtimeNs || e.StSize == nil || *e.StSize != size

	if changed {
		if err := s.fc.UpdateStat(ctx, e.ID, mode, mtimeNs, size, true); err != nil {
			return fmt.Errorf("scan: updating stat: %w", err)
		}
	}

	if info.IsDir() {
		mtimeChanged := e.StMtime == nil || *e.StMtime != mtimeNs
		if mtimeChanged {
			if err := s.listAndReconcile(ctx, e.ID, absPath); err != nil {
				return err
			}
		}
	}

	return s.fc.ClearNewFlag(ctx, e.ID)
}

// listAndReconcile lists dirPath's children and reconciles them against the
// cached children of parentID: newly-present names are inserted with
// new_flag=true; names no longer present are deleted recursively.
func (s *Scanner) listAndReconcile(ctx context.Context, parentID int64, dirPath string) error {
	names, err := s.fs.Listdir(dirPath)
	if err != nil {
		return fmt.Errorf("scan: listing directory: %w", err)
	}

	present := make(map[string]bool, len(names))
	// IsIgnored is given the bare entry name, so only ignore patterns
	// without a '/' take effect during a scan; path patterns never match.
	for _, name := range names {
		if s.fs.IsIgnored(name) {
			continue
		}
		present[name] = true
	}

	cached, err := s.fc.Children(ctx, parentID)
	if err != nil {
		return fmt.Errorf("scan: loading cached children: %w", err)
	}
	cachedByName := make(map[string]*core.FSEntry, len(cached))
	for _, c := range cached {
		cachedByName[c.Name] = c
	}

	for name := range present {
		if _, ok := cachedByName[name]; ok {
			continue
		}
		if _, err := s.fc.InsertChild(ctx, parentID, name); err != nil {
			return fmt.Errorf("scan: inserting new child %q: %w", name, err)
		}
	}

	for name, c := range cachedByName {
		if present[name] {
			continue
		}
		if err := s.fc.DeleteRecursive(ctx, c.ID); err != nil {
			return fmt.Errorf("scan: deleting removed child %q: %w", name, err)
		}
	}

	return nil
}

// invalidationSweep repeats upward propagation until a fixed point: any
// entry with a NULL obj_id must have every ancestor's obj_id cleared too.
func (s *Scanner) invalidationSweep(ctx context.Context, backupSetName string) error {
	entries, err := s.fc.SelectDirty(ctx, backupSetName, true)
	if err != nil {
		return fmt.Errorf("scan: selecting entries for invalidation sweep: %w", err)
	}
	for _, e := range entries {
		if e.ObjID != nil {
			continue
		}
		if e.ParentID == nil {
			continue
		}
		// InvalidateAncestors(e.ID) starts by clearing e's own immediate
		// parent (the row whose serialized tree embeds e's now-stale
		// OID), then continues clearing every ancestor above it.
		if err := s.fc.InvalidateAncestors(ctx, e.ID); err != nil {
			return fmt.Errorf("scan: invalidation sweep: %w", err)
		}
	}
	return nil
}
