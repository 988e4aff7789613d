// Package gc implements the Garbage Collector: a two-pass Bloom-filter
// reachability sweep that prunes objects orphaned by pruned snapshots or
// superseded backups, without ever reading object payloads back from the
// Storage Backend.
package gc

import (
	"context"
	"crypto/rand"
	"fmt"

	"dagback/internal/core"
)

// Collector runs the reachability sweep over an ObjectCache and issues
// deletions to a Backend for anything it proves unreachable.
type Collector struct {
	oc       core.ObjectCache
	backend  core.Backend
	registry core.SnapshotRegistry
	logger   core.Logger
}

// New creates a Collector over the given components.
func New(oc core.ObjectCache, backend core.Backend, registry core.SnapshotRegistry, logger core.Logger) *Collector {
	return &Collector{oc: oc, backend: backend, registry: registry, logger: logger}
}

// Result summarizes one GC run.
type Result struct {
	LiveObjects    int
	Deleted        int
	DeleteFailures int
}

// Run performs the two-pass sweep: pass 1 builds a Bloom filter of every
// OID reachable from a live snapshot root; pass 2 iterates the entire
// object cache, deleting anything the filter proves unreachable.
func (c *Collector) Run(ctx context.Context) (*Result, error) {
	live, err := c.reachableSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("gc: computing reachable set: %w", err)
	}

	masks, err := randomMasks()
	if err != nil {
		return nil, fmt.Errorf("gc: generating filter masks: %w", err)
	}
	filter := newBloomFilter(len(live), masks)
	for oid := range live {
		filter.Add(oid)
	}
	c.logger.Info("gc: reachability filter built", "live_objects", len(live))

	result := &Result{LiveObjects: len(live)}
	var toDelete []core.OID
	err = c.oc.IterAll(ctx, func(oid core.OID) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if filter.MightContain(oid) {
			return nil
		}
		toDelete = append(toDelete, oid)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gc: scanning object cache: %w", err)
	}

	for _, oid := range toDelete {
		if err := c.deleteOne(ctx, oid); err != nil {
			c.logger.Warn("gc: delete failed, will retry next run", "oid", fmt.Sprintf("%x", oid), "error", err)
			result.DeleteFailures++
			continue
		}
		result.Deleted++
	}

	c.logger.Info("gc: sweep complete", "deleted", result.Deleted, "failures", result.DeleteFailures)
	return result, nil
}

// deleteOne removes oid from the backend first, then the object cache. If
// the backend delete fails, the cache row is left in place so the next
// run retries it; the cache is never ahead of the backend.
func (c *Collector) deleteOne(ctx context.Context, oid core.OID) error {
	key := core.ObjectKey(oid)
	if err := c.backend.Delete(ctx, key); err != nil {
		return &core.IOError{Op: "delete", Err: err}
	}
	if err := c.oc.Delete(ctx, oid); err != nil {
		return fmt.Errorf("gc: removing cache row: %w", err)
	}
	return nil
}

// reachableSet performs a BFS from every live snapshot's root OID over
// ObjectRelation edges, returning every OID visited.
func (c *Collector) reachableSet(ctx context.Context) (map[core.OID]struct{}, error) {
	snapshots, err := c.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("gc: listing snapshots: %w", err)
	}

	visited := make(map[core.OID]struct{})
	var queue []core.OID
	for _, snap := range snapshots {
		if _, ok := visited[snap.RootTreeOID]; !ok {
			visited[snap.RootTreeOID] = struct{}{}
			queue = append(queue, snap.RootTreeOID)
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		oid := queue[0]
		queue = queue[1:]

		var children []core.OID
		err := c.oc.Children(ctx, oid, func(child core.OID) error {
			children = append(children, child)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("gc: loading children of %x: %w", oid, err)
		}
		for _, child := range children {
			if _, ok := visited[child]; ok {
				continue
			}
			visited[child] = struct{}{}
			queue = append(queue, child)
		}
	}

	return visited, nil
}

func randomMasks() ([numHashes]core.OID, error) {
	var masks [numHashes]core.OID
	for i := range masks {
		if _, err := rand.Read(masks[i][:]); err != nil {
			return masks, err
		}
	}
	return masks, nil
}
