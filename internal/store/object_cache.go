package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dagback/internal/core"
)

type objectCache struct {
	q dbtx
}

var _ core.ObjectCache = (*objectCache)(nil)

func (c *objectCache) Exists(ctx context.Context, oid core.OID) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM object WHERE obj_id = ?`, oidBytes(oid)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: checking object existence: %w", err)
	}
	return count > 0, nil
}

func (c *objectCache) Record(ctx context.Context, oid core.OID, kind core.ObjectKind, payloadLen, compressedLen int64, children []core.OID) error {
	db, ok := c.q.(*sql.DB)
	if !ok {
		return c.recordTx(ctx, c.q, oid, kind, payloadLen, compressedLen, children)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := c.recordTx(ctx, tx, oid, kind, payloadLen, compressedLen, children); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *objectCache) recordTx(ctx context.Context, q dbtx, oid core.OID, kind core.ObjectKind, payloadLen, compressedLen int64, children []core.OID) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO object (obj_id, kind, payload_length, compressed_length, uploaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (obj_id) DO NOTHING`,
		oidBytes(oid), string(rune(kind)), payloadLen, compressedLen, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store: recording object: %w", err)
	}

	for _, child := range children {
		_, err := q.ExecContext(ctx, `
			INSERT INTO object_relation (parent_oid, child_oid) VALUES (?, ?)
			ON CONFLICT (parent_oid, child_oid) DO NOTHING`,
			oidBytes(oid), oidBytes(child))
		if err != nil {
			return fmt.Errorf("store: recording object relation: %w", err)
		}
	}
	return nil
}

func (c *objectCache) IterAll(ctx context.Context, fn func(oid core.OID) error) error {
	rows, err := c.q.QueryContext(ctx, `SELECT obj_id FROM object`)
	if err != nil {
		return fmt.Errorf("store: iterating objects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		oid, err := oidFromBytes(raw)
		if err != nil {
			return err
		}
		if err := fn(oid); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (c *objectCache) Children(ctx context.Context, oid core.OID, fn func(child core.OID) error) error {
	rows, err := c.q.QueryContext(ctx, `SELECT child_oid FROM object_relation WHERE parent_oid = ?`, oidBytes(oid))
	if err != nil {
		return fmt.Errorf("store: querying children: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		child, err := oidFromBytes(raw)
		if err != nil {
			return err
		}
		if err := fn(child); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (c *objectCache) Parents(ctx context.Context, oid core.OID, fn func(parent core.OID) error) error {
	rows, err := c.q.QueryContext(ctx, `SELECT parent_oid FROM object_relation WHERE child_oid = ?`, oidBytes(oid))
	if err != nil {
		return fmt.Errorf("store: querying parents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		parent, err := oidFromBytes(raw)
		if err != nil {
			return err
		}
		if err := fn(parent); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (c *objectCache) Delete(ctx context.Context, oid core.OID) error {
	key := oidBytes(oid)
	if _, err := c.q.ExecContext(ctx, `DELETE FROM object_relation WHERE parent_oid = ? OR child_oid = ?`, key, key); err != nil {
		return fmt.Errorf("store: deleting object relations: %w", err)
	}
	if _, err := c.q.ExecContext(ctx, `DELETE FROM object WHERE obj_id = ?`, key); err != nil {
		return fmt.Errorf("store: deleting object: %w", err)
	}
	return nil
}
