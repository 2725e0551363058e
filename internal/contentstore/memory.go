package contentstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arechgie/webarchive/internal/archive"
)

// Memory stores blobs in-memory for development and testing. Semantics
// match the local store: dedup by hash, compression tags, refcounts.
type Memory struct {
	minComp int
	hasher  archive.Hasher
	clock   archive.Clock

	mu    sync.Mutex
	blobs map[string][]byte
	metas map[string]blobMeta
}

// NewMemory creates an in-memory content store.
func NewMemory(compressMinBytes int, hasher archive.Hasher, clock archive.Clock) *Memory {
	return &Memory{
		minComp: compressMinBytes,
		hasher:  hasher,
		clock:   clock,
		blobs:   make(map[string][]byte),
		metas:   make(map[string]blobMeta),
	}
}

// Put stores the payload under its content hash, once.
func (s *Memory) Put(_ context.Context, data []byte) (archive.PutResult, error) {
	hash, err := s.hasher.Hash(data)
	if err != nil {
		return archive.PutResult{}, fmt.Errorf("hash payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if meta, exists := s.metas[hash]; exists {
		return archive.PutResult{
			Hash:             hash,
			Compression:      meta.Compression,
			UncompressedSize: meta.UncompressedSize,
			StoredSize:       meta.StoredSize,
			Deduplicated:     true,
		}, nil
	}

	encoded, tag, err := compressPayload(data, s.minComp)
	if err != nil {
		return archive.PutResult{}, fmt.Errorf("%w: %v", archive.ErrStorageUnavailable, err)
	}
	s.blobs[hash] = append([]byte(nil), encoded...)
	s.metas[hash] = blobMeta{
		Hash:             hash,
		Compression:      tag,
		UncompressedSize: int64(len(data)),
		StoredSize:       int64(len(encoded)),
		StoredAt:         s.clock.Now(),
	}
	return archive.PutResult{
		Hash:             hash,
		Compression:      tag,
		UncompressedSize: int64(len(data)),
		StoredSize:       int64(len(encoded)),
	}, nil
}

// Get returns the decompressed payload for a hash.
func (s *Memory) Get(_ context.Context, hash string) ([]byte, error) {
	s.mu.Lock()
	encoded, ok := s.blobs[hash]
	meta := s.metas[hash]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", archive.ErrContentNotFound, hash)
	}
	return decodePayload(encoded, meta.Compression)
}

// Link increments the snapshot reference count for a hash.
func (s *Memory) Link(_ context.Context, hash string) error {
	return s.adjustRef(hash, 1)
}

// Release decrements the reference count, deleting the blob at zero.
func (s *Memory) Release(_ context.Context, hash string) error {
	return s.adjustRef(hash, -1)
}

func (s *Memory) adjustRef(hash string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, exists := s.metas[hash]
	if !exists {
		return fmt.Errorf("%w: %s", archive.ErrContentNotFound, hash)
	}
	meta.RefCount += delta
	if meta.RefCount <= 0 {
		delete(s.metas, hash)
		delete(s.blobs, hash)
		return nil
	}
	s.metas[hash] = meta
	return nil
}

// ListHashesSince enumerates blobs stored at or after the given time.
func (s *Memory) ListHashesSince(_ context.Context, since time.Time) ([]archive.HashInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []archive.HashInfo
	for _, meta := range s.metas {
		if meta.StoredAt.Before(since) {
			continue
		}
		out = append(out, archive.HashInfo{
			Hash:        meta.Hash,
			Compression: meta.Compression,
			Bytes:       meta.StoredSize,
			StoredAt:    meta.StoredAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoredAt.Before(out[j].StoredAt) })
	return out, nil
}

// PhysicalCopies reports how many blobs are stored (test hook).
func (s *Memory) PhysicalCopies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
