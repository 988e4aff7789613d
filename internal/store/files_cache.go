package store

import (
	"context"
	"database/sql"
	"fmt"

	"dagback/internal/core"
)

type filesCache struct {
	q dbtx
}

var _ core.FilesCache = (*filesCache)(nil)

func scanFSEntry(row interface {
	Scan(dest ...any) error
}) (*core.FSEntry, error) {
	var (
		e           core.FSEntry
		parentID    sql.NullInt64
		objID       []byte
		stMode      sql.NullInt64
		stMtime     sql.NullInt64
		stSize      sql.NullInt64
		newFlagInt  int64
	)
	if err := row.Scan(&e.ID, &parentID, &e.Name, &objID, &stMode, &stMtime, &stSize, &newFlagInt); err != nil {
		return nil, err
	}
	if parentID.Valid {
		v := parentID.Int64
		e.ParentID = &v
	}
	if len(objID) > 0 {
		oid, err := oidFromBytes(objID)
		if err != nil {
			return nil, err
		}
		e.ObjID = &oid
	}
	if stMode.Valid {
		v := uint32(stMode.Int64)
		e.StMode = &v
	}
	if stMtime.Valid {
		v := stMtime.Int64
		e.StMtime = &v
	}
	if stSize.Valid {
		v := stSize.Int64
		e.StSize = &v
	}
	e.NewFlag = newFlagInt != 0
	return &e, nil
}

const fsEntryColumns = "id, parent_id, name, obj_id, st_mode, st_mtime, st_size, new_flag"

func (c *filesCache) backupSetID(ctx context.Context, name, rootPath string) (int64, error) {
	var id int64
	err := c.q.QueryRowContext(ctx, `SELECT id FROM backup_set WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("store: looking up backup set: %w", err)
	}
	res, err := c.q.ExecContext(ctx, `INSERT INTO backup_set (name, root_path) VALUES (?, ?)`, name, rootPath)
	if err != nil {
		return 0, fmt.Errorf("store: creating backup set: %w", err)
	}
	return res.LastInsertId()
}

func (c *filesCache) RootEntry(ctx context.Context, backupSetName, rootPath string) (*core.FSEntry, error) {
	setID, err := c.backupSetID(ctx, backupSetName, rootPath)
	if err != nil {
		return nil, err
	}

	row := c.q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM fs_entry WHERE backup_set_id = ? AND parent_id IS NULL`, fsEntryColumns), setID)
	entry, err := scanFSEntry(row)
	if err == nil {
		return entry, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("store: loading root entry: %w", err)
	}

	res, err := c.q.ExecContext(ctx, `
		INSERT INTO fs_entry (backup_set_id, parent_id, name, new_flag) VALUES (?, NULL, ?, 1)`,
		setID, rootPath)
	if err != nil {
		return nil, fmt.Errorf("store: creating root entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &core.FSEntry{ID: id, Name: rootPath, NewFlag: true}, nil
}

func (c *filesCache) Children(ctx context.Context, parentID int64) ([]*core.FSEntry, error) {
	rows, err := c.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM fs_entry WHERE parent_id = ? ORDER BY name`, fsEntryColumns), parentID)
	if err != nil {
		return nil, fmt.Errorf("store: querying children: %w", err)
	}
	defer rows.Close()

	var out []*core.FSEntry
	for rows.Next() {
		e, err := scanFSEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *filesCache) GetByID(ctx context.Context, id int64) (*core.FSEntry, error) {
	row := c.q.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM fs_entry WHERE id = ?`, fsEntryColumns), id)
	entry, err := scanFSEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: entry %d: %w", id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("store: loading entry: %w", err)
	}
	return entry, nil
}

func (c *filesCache) InsertChild(ctx context.Context, parentID int64, name string) (*core.FSEntry, error) {
	row := c.q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM fs_entry WHERE parent_id = ? AND name = ?`, fsEntryColumns), parentID, name)
	if entry, err := scanFSEntry(row); err == nil {
		return entry, nil
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("store: looking up child: %w", err)
	}

	var backupSetID int64
	if err := c.q.QueryRowContext(ctx, `SELECT backup_set_id FROM fs_entry WHERE id = ?`, parentID).Scan(&backupSetID); err != nil {
		return nil, fmt.Errorf("store: resolving parent's backup set: %w", err)
	}

	res, err := c.q.ExecContext(ctx, `
		INSERT INTO fs_entry (backup_set_id, parent_id, name, new_flag) VALUES (?, ?, ?, 1)`,
		backupSetID, parentID, name)
	if err != nil {
		return nil, fmt.Errorf("store: inserting child: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &core.FSEntry{ID: id, ParentID: &parentID, Name: name, NewFlag: true}, nil
}

func (c *filesCache) UpdateStat(ctx context.Context, id int64, mode uint32, mtimeNs int64, size int64, clearObjID bool) error {
	query := `UPDATE fs_entry SET st_mode = ?, st_mtime = ?, st_size = ?`
	if clearObjID {
		query += `, obj_id = NULL`
	}
	query += ` WHERE id = ?`
	_, err := c.q.ExecContext(ctx, query, mode, mtimeNs, size, id)
	if err != nil {
		return fmt.Errorf("store: updating stat: %w", err)
	}
	return nil
}

func (c *filesCache) SetObjID(ctx context.Context, id int64, oid core.OID) error {
	_, err := c.q.ExecContext(ctx, `UPDATE fs_entry SET obj_id = ? WHERE id = ?`, oidBytes(oid), id)
	if err != nil {
		return fmt.Errorf("store: setting obj_id: %w", err)
	}
	return nil
}

func (c *filesCache) ClearObjID(ctx context.Context, id int64) error {
	_, err := c.q.ExecContext(ctx, `UPDATE fs_entry SET obj_id = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: clearing obj_id: %w", err)
	}
	return nil
}

func (c *filesCache) ClearNewFlag(ctx context.Context, id int64) error {
	_, err := c.q.ExecContext(ctx, `UPDATE fs_entry SET new_flag = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: clearing new_flag: %w", err)
	}
	return nil
}

func (c *filesCache) DeleteRecursive(ctx context.Context, id int64) error {
	// ON DELETE CASCADE on fs_entry.parent_id handles descendants.
	_, err := c.q.ExecContext(ctx, `DELETE FROM fs_entry WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: deleting entry recursively: %w", err)
	}
	return nil
}

func (c *filesCache) SelectDirty(ctx context.Context, backupSetName string, all bool) ([]*core.FSEntry, error) {
	var setID int64
	if err := c.q.QueryRowContext(ctx, `SELECT id FROM backup_set WHERE name = ?`, backupSetName).Scan(&setID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: resolving backup set: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM fs_entry WHERE backup_set_id = ?`, fsEntryColumns)
	if !all {
		query += ` AND new_flag = 1`
	}
	rows, err := c.q.QueryContext(ctx, query, setID)
	if err != nil {
		return nil, fmt.Errorf("store: querying dirty entries: %w", err)
	}
	defer rows.Close()

	var out []*core.FSEntry
	for rows.Next() {
		e, err := scanFSEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *filesCache) ParentID(ctx context.Context, id int64) (*int64, error) {
	var parentID sql.NullInt64
	if err := c.q.QueryRowContext(ctx, `SELECT parent_id FROM fs_entry WHERE id = ?`, id).Scan(&parentID); err != nil {
		return nil, fmt.Errorf("store: looking up parent: %w", err)
	}
	if !parentID.Valid {
		return nil, nil
	}
	v := parentID.Int64
	return &v, nil
}

func (c *filesCache) InvalidateAncestors(ctx context.Context, id int64) error {
	current := &id
	for current != nil {
		parent, err := c.ParentID(ctx, *current)
		if err != nil {
			return err
		}
		if parent == nil {
			return nil
		}

		var objID []byte
		if err := c.q.QueryRowContext(ctx, `SELECT obj_id FROM fs_entry WHERE id = ?`, *parent).Scan(&objID); err != nil {
			return fmt.Errorf("store: reading ancestor obj_id: %w", err)
		}
		if objID == nil {
			return nil
		}
		if err := c.ClearObjID(ctx, *parent); err != nil {
			return err
		}
		current = parent
	}
	return nil
}

func (c *filesCache) WithTx(ctx context.Context, fn func(tx core.FilesCache) error) error {
	db, ok := c.q.(*sql.DB)
	if !ok {
		return fn(c)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&filesCache{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing transaction: %w", err)
	}
	return nil
}
