package store

import (
	"context"
	"database/sql"
	"fmt"

	"dagback/internal/core"
)

type snapshotRegistry struct {
	q dbtx
}

var _ core.SnapshotRegistry = (*snapshotRegistry)(nil)

const snapshotColumns = "id, name, root_path, root_tree_oid, created_at"

func scanSnapshot(row interface {
	Scan(dest ...any) error
}) (*core.Snapshot, error) {
	var (
		s    core.Snapshot
		oid  []byte
	)
	if err := row.Scan(&s.SnapshotID, &s.Name, &s.RootPath, &oid, &s.CreatedAt); err != nil {
		return nil, err
	}
	rootOID, err := oidFromBytes(oid)
	if err != nil {
		return nil, err
	}
	s.RootTreeOID = rootOID
	return &s, nil
}

func (r *snapshotRegistry) List(ctx context.Context) ([]*core.Snapshot, error) {
	rows, err := r.q.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM snapshot ORDER BY created_at`, snapshotColumns))
	if err != nil {
		return nil, fmt.Errorf("store: listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []*core.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *snapshotRegistry) Create(ctx context.Context, name, rootPath string, rootOID core.OID, createdAt int64) (*core.Snapshot, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO snapshot (name, root_path, root_tree_oid, created_at) VALUES (?, ?, ?, ?)`,
		name, rootPath, oidBytes(rootOID), createdAt)
	if err != nil {
		return nil, fmt.Errorf("store: creating snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &core.Snapshot{SnapshotID: id, Name: name, RootPath: rootPath, RootTreeOID: rootOID, CreatedAt: createdAt}, nil
}

func (r *snapshotRegistry) Remove(ctx context.Context, name string) (*core.Snapshot, error) {
	s, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("store: snapshot %q: %w", name, core.ErrNotFound)
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM snapshot WHERE name = ?`, name); err != nil {
		return nil, fmt.Errorf("store: removing snapshot: %w", err)
	}
	return s, nil
}

func (r *snapshotRegistry) Get(ctx context.Context, name string) (*core.Snapshot, error) {
	row := r.q.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM snapshot WHERE name = ?`, snapshotColumns), name)
	s, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: loading snapshot: %w", err)
	}
	return s, nil
}
