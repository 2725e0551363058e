// Package index maintains the catalog of archived resources and the
// snapshots that point into content storage.
package index

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arechgie/webarchive/internal/archive"
)

// Indexer links fetched pages to their canonical resource rows and
// keeps content-store reference counts in step with snapshot rows.
type Indexer struct {
	resources archive.ResourceStore
	content   archive.ContentStore
	ids       archive.IDGenerator
	logger    *zap.Logger
}

// New constructs an Indexer over the given stores.
func New(resources archive.ResourceStore, content archive.ContentStore, ids archive.IDGenerator, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		resources: resources,
		content:   content,
		ids:       ids,
		logger:    logger,
	}
}

// Archive records one successful fetch: it upserts the resource row for
// the normalized URL, takes a reference on the stored content, and
// appends an immutable snapshot. The snapshot is queryable as soon as
// this returns.
func (ix *Indexer) Archive(ctx context.Context, sessionID, rawURL string, meta archive.ResourceMeta, put archive.PutResult, statusCode int, fetchedAt time.Time) (archive.Snapshot, error) {
	key, err := archive.NormalizeURL(rawURL)
	if err != nil {
		return archive.Snapshot{}, fmt.Errorf("normalize %q: %w", rawURL, err)
	}
	resourceID, err := ix.resources.UpsertResource(ctx, key, meta, fetchedAt)
	if err != nil {
		return archive.Snapshot{}, fmt.Errorf("upsert resource: %w", err)
	}
	if err := ix.content.Link(ctx, put.Hash); err != nil {
		return archive.Snapshot{}, fmt.Errorf("link content %s: %w", put.Hash, err)
	}

	snapshotID, err := ix.ids.NewID()
	if err != nil {
		return archive.Snapshot{}, fmt.Errorf("allocate snapshot id: %w", err)
	}
	snapshot := archive.Snapshot{
		ID:          snapshotID,
		SessionID:   sessionID,
		ResourceID:  resourceID,
		ContentHash: put.Hash,
		Compression: put.Compression,
		Bytes:       put.UncompressedSize,
		StatusCode:  statusCode,
		FetchedAt:   fetchedAt,
	}
	if err := ix.resources.LinkSnapshot(ctx, snapshot); err != nil {
		// Undo the content reference so the refcount stays honest.
		if relErr := ix.content.Release(ctx, put.Hash); relErr != nil {
			ix.logger.Warn("release content after failed snapshot link",
				zap.String("hash", put.Hash), zap.Error(relErr))
		}
		return archive.Snapshot{}, fmt.Errorf("link snapshot: %w", err)
	}
	return snapshot, nil
}

// Lookup returns the resource for a URL along with its snapshots, most
// recent last.
func (ix *Indexer) Lookup(ctx context.Context, rawURL string) (archive.Resource, []archive.Snapshot, error) {
	key, err := archive.NormalizeURL(rawURL)
	if err != nil {
		return archive.Resource{}, nil, fmt.Errorf("normalize %q: %w", rawURL, err)
	}
	resource, err := ix.resources.GetResource(ctx, key)
	if err != nil {
		return archive.Resource{}, nil, err
	}
	snapshots, err := ix.resources.ListSnapshots(ctx, resource.ID)
	if err != nil {
		return archive.Resource{}, nil, err
	}
	return resource, snapshots, nil
}

// Content returns the decompressed payload for a snapshot ID.
func (ix *Indexer) Content(ctx context.Context, snapshotID string) (archive.Snapshot, []byte, error) {
	snapshot, err := ix.resources.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return archive.Snapshot{}, nil, err
	}
	data, err := ix.content.Get(ctx, snapshot.ContentHash)
	if err != nil {
		return archive.Snapshot{}, nil, err
	}
	return snapshot, data, nil
}

// Remove deletes a resource and its snapshots, releasing each
// snapshot's content reference. Blobs with no remaining references are
// reclaimed by the content store.
func (ix *Indexer) Remove(ctx context.Context, resourceID string) error {
	snapshots, err := ix.resources.DeleteResource(ctx, resourceID)
	if err != nil {
		return err
	}
	for _, snapshot := range snapshots {
		if err := ix.content.Release(ctx, snapshot.ContentHash); err != nil {
			ix.logger.Warn("release content for deleted resource",
				zap.String("resource_id", resourceID),
				zap.String("hash", snapshot.ContentHash),
				zap.Error(err))
		}
	}
	return nil
}
