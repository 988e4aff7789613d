package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dagback/internal/backend"
	"dagback/internal/config"
	"dagback/internal/core"
	"dagback/internal/cryptoprovider"
	"dagback/internal/fswalk"
	"dagback/internal/gc"
	"dagback/internal/restore"
	"dagback/internal/scan"
	"dagback/internal/store"
	"dagback/internal/walker"
)

// App is the application layer between the CLI and the core subsystems.
// It constructs all dependencies from config, exposes high-level
// operations that accept raw string paths, and manages resource lifetime
// on Close.
type App struct {
	cfg     *config.Config
	store   *store.Store
	crypto  *cryptoprovider.AgeProvider
	backend core.Backend
	fsmgr   core.FilesystemManager
	logger  core.Logger
	logFile *os.File
}

// New creates a fully wired App from the given config. operation
// identifies the CLI command being run, used only to tag log lines.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	fsmgr := fswalk.New("/", fswalk.NewIgnoreMatcher(cfg.Filesystem.Ignore))

	be, err := backend.New(ctx, cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("creating backend: %w", err)
	}

	dbPath := filepath.Join(cfg.Database.DataDir, "cache.db")
	if cfg.Database.Type == "memory" {
		dbPath = ":memory:"
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	cp, err := cryptoprovider.New(cfg.Crypto)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating crypto provider: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID+"-"+operation)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &App{
		cfg:     cfg,
		store:   s,
		crypto:  cp,
		backend: be,
		fsmgr:   fsmgr,
		logger:  &slogAdapter{l: logger},
		logFile: logFile,
	}, nil
}

// Close releases the App's resources.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing cache: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// SetupCrypto provisions a new key pair under the passphrase, failing if
// keys already exist.
func (a *App) SetupCrypto(passphrase string) error {
	if a.crypto.IsConfigured() {
		return fmt.Errorf("app: crypto provider is already configured")
	}
	return a.crypto.Setup(passphrase)
}

// findRoot resolves a configured root by name.
func (a *App) findRoot(name string) (*config.RootConfig, error) {
	for i := range a.cfg.Roots {
		if a.cfg.Roots[i].Name == name {
			return &a.cfg.Roots[i], nil
		}
	}
	return nil, fmt.Errorf("app: no configured root named %q", name)
}

// Scan brings the named root's Files Cache up to date with the real
// filesystem, without uploading anything.
func (a *App) Scan(ctx context.Context, rootName string) error {
	root, err := a.findRoot(rootName)
	if err != nil {
		return err
	}
	scanner := scan.New(a.fsmgr, a.store.FilesCache())
	return scanner.Scan(ctx, rootName, root.Path)
}

// Backup scans the named root, walks its dirty entries, uploads the
// resulting object DAG, and records a new named Snapshot.
func (a *App) Backup(ctx context.Context, rootName, snapshotName string) (*core.Snapshot, error) {
	root, err := a.findRoot(rootName)
	if err != nil {
		return nil, err
	}

	opLogger := a.logger.With("root", rootName, "snapshot", snapshotName)

	fc := a.store.FilesCache()
	scanner := scan.New(a.fsmgr, fc)
	if err := scanner.Scan(ctx, rootName, root.Path); err != nil {
		return nil, fmt.Errorf("app: scanning %s: %w", rootName, err)
	}

	w := walker.New(fc, a.store.ObjectCache(), a.fsmgr, a.crypto, a.backend, opLogger, core.RealClock{}, walker.Config{
		ChunkSize:    a.cfg.Chunker.ChunkSize,
		MinChunkable: a.cfg.Chunker.MinChunkable,
	})

	rootEntry, err := fc.RootEntry(ctx, rootName, root.Path)
	if err != nil {
		return nil, fmt.Errorf("app: loading root entry: %w", err)
	}

	rootOID, err := w.Walk(ctx, rootEntry)
	if err != nil {
		return nil, fmt.Errorf("app: walking %s: %w", rootName, err)
	}

	snap, err := w.FinalizeSnapshot(ctx, a.store.SnapshotRegistry(), snapshotName, root.Path, rootOID)
	if err != nil {
		return nil, fmt.Errorf("app: recording snapshot: %w", err)
	}
	opLogger.Info("backup complete", "oid", fmt.Sprintf("%x", rootOID))
	return snap, nil
}

// ListSnapshots returns every recorded snapshot.
func (a *App) ListSnapshots(ctx context.Context) ([]*core.Snapshot, error) {
	return a.store.SnapshotRegistry().List(ctx)
}

// PruneSnapshot removes a named snapshot from the registry. Objects it
// alone referenced become eligible for the next GC run.
func (a *App) PruneSnapshot(ctx context.Context, name string) (*core.Snapshot, error) {
	return a.store.SnapshotRegistry().Remove(ctx, name)
}

// RunGC performs a garbage collection sweep over the object cache and
// backend.
func (a *App) RunGC(ctx context.Context) (*gc.Result, error) {
	collector := gc.New(a.store.ObjectCache(), a.backend, a.store.SnapshotRegistry(), a.logger.With("op", "gc"))
	return collector.Run(ctx)
}

// Restore reconstructs the named snapshot's tree into outDir, unlocking the
// private key with passphrase.
func (a *App) Restore(ctx context.Context, snapshotName, passphrase, outDir string) error {
	snap, err := a.store.SnapshotRegistry().Get(ctx, snapshotName)
	if err != nil {
		return fmt.Errorf("app: loading snapshot: %w", err)
	}
	if snap == nil {
		return fmt.Errorf("app: no such snapshot %q", snapshotName)
	}

	decryptor, err := a.crypto.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("app: unlocking private key: %w", err)
	}

	opLogger := a.logger.With("snapshot", snapshotName)
	r := restore.New(a.backend, opLogger)
	if err := r.RestoreTree(ctx, snap.RootTreeOID, decryptor, outDir); err != nil {
		return fmt.Errorf("app: restoring %s: %w", snapshotName, err)
	}
	opLogger.Info("restore complete", "out", outDir)
	return nil
}

// AddRoot registers rawPath as a new tracked root under name and persists
// the updated config back to configPath.
func (a *App) AddRoot(configPath, name, rawPath string) error {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("app: resolving path: %w", err)
	}
	if _, err := a.findRoot(name); err == nil {
		return fmt.Errorf("app: root %q is already configured", name)
	}
	a.cfg.Roots = append(a.cfg.Roots, config.RootConfig{Name: name, Path: absPath})

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("app: writing config: %w", err)
	}
	defer f.Close()

	m := &config.Manager{}
	return m.Write(f, a.cfg)
}
