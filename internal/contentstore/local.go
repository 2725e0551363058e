// Package contentstore implements content-addressed, deduplicating blob
// storage with transparent compression.
package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arechgie/webarchive/internal/archive"
)

// Config captures the parameters for the local filesystem content store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir"`
	// CompressMinBytes is the payload size below which compression is skipped.
	CompressMinBytes int `mapstructure:"compress_min_bytes"`
}

// blobMeta is the sidecar record persisted next to each blob.
type blobMeta struct {
	Hash             string              `json:"hash"`
	Compression      archive.Compression `json:"compression"`
	UncompressedSize int64               `json:"uncompressed_size"`
	StoredSize       int64               `json:"stored_size"`
	RefCount         int64               `json:"ref_count"`
	StoredAt         time.Time           `json:"stored_at"`
}

// Local writes content-addressed blobs to the local filesystem. Blobs
// live at <base>/<hash[:2]>/<hash>.blob with a .json metadata sidecar.
type Local struct {
	baseDir string
	minComp int
	hasher  archive.Hasher
	clock   archive.Clock

	mu    sync.Mutex
	index map[string]blobMeta
}

// NewLocal creates a filesystem-backed content store, loading the
// metadata index from any blobs already on disk.
func NewLocal(cfg Config, hasher archive.Hasher, clock archive.Clock) (*Local, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	s := &Local{
		baseDir: cfg.BaseDir,
		minComp: cfg.CompressMinBytes,
		hasher:  hasher,
		clock:   clock,
		index:   make(map[string]blobMeta),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Local) loadIndex() error {
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		raw, err := os.ReadFile(path) // #nosec G304 -- path comes from our own walk
		if err != nil {
			return fmt.Errorf("read blob metadata %s: %w", path, err)
		}
		var meta blobMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("decode blob metadata %s: %w", path, err)
		}
		s.index[meta.Hash] = meta
		return nil
	})
	if err != nil {
		return fmt.Errorf("load content index: %w", err)
	}
	return nil
}

// Put stores the payload under its content hash. Identical bytes are
// stored once; concurrent puts of the same bytes race on a single
// check-and-insert under the store mutex.
func (s *Local) Put(_ context.Context, data []byte) (archive.PutResult, error) {
	hash, err := s.hasher.Hash(data)
	if err != nil {
		return archive.PutResult{}, fmt.Errorf("hash payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if meta, exists := s.index[hash]; exists {
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

	blobPath := s.blobPath(hash)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o750); err != nil {
		return archive.PutResult{}, fmt.Errorf("%w: create shard dir: %v", archive.ErrStorageUnavailable, err)
	}

	// Write-then-rename keeps a crashed put from leaving a readable
	// partial blob under the final name.
	tmp := blobPath + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return archive.PutResult{}, fmt.Errorf("%w: write blob: %v", archive.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, blobPath); err != nil {
		return archive.PutResult{}, fmt.Errorf("%w: commit blob: %v", archive.ErrStorageUnavailable, err)
	}

	meta := blobMeta{
		Hash:             hash,
		Compression:      tag,
		UncompressedSize: int64(len(data)),
		StoredSize:       int64(len(encoded)),
		StoredAt:         s.clock.Now(),
	}
	if err := s.writeMeta(meta); err != nil {
		return archive.PutResult{}, err
	}
	s.index[hash] = meta

	return archive.PutResult{
		Hash:             hash,
		Compression:      tag,
		UncompressedSize: meta.UncompressedSize,
		StoredSize:       meta.StoredSize,
	}, nil
}

// Get returns the decompressed payload for a hash.
func (s *Local) Get(_ context.Context, hash string) ([]byte, error) {
	s.mu.Lock()
	meta, exists := s.index[hash]
	s.mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", archive.ErrContentNotFound, hash)
	}

	encoded, err := os.ReadFile(s.blobPath(hash)) // #nosec G304 -- hash is hex, path is ours
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", archive.ErrContentNotFound, hash)
		}
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}
	return decodePayload(encoded, meta.Compression)
}

// Link increments the snapshot reference count for a hash.
func (s *Local) Link(_ context.Context, hash string) error {
	return s.adjustRef(hash, 1)
}

// Release decrements the reference count, deleting the blob at zero.
func (s *Local) Release(_ context.Context, hash string) error {
	return s.adjustRef(hash, -1)
}

func (s *Local) adjustRef(hash string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, exists := s.index[hash]
	if !exists {
		return fmt.Errorf("%w: %s", archive.ErrContentNotFound, hash)
	}
	meta.RefCount += delta
	if meta.RefCount <= 0 {
		delete(s.index, hash)
		if err := os.Remove(s.blobPath(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove blob %s: %w", hash, err)
		}
		if err := os.Remove(s.metaPath(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove blob metadata %s: %w", hash, err)
		}
		return nil
	}
	s.index[hash] = meta
	return s.writeMeta(meta)
}

// ListHashesSince enumerates blobs stored at or after the given time,
// oldest first, for incremental backup.
func (s *Local) ListHashesSince(_ context.Context, since time.Time) ([]archive.HashInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []archive.HashInfo
	for _, meta := range s.index {
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

func (s *Local) blobPath(hash string) string {
	return filepath.Join(s.baseDir, shard(hash), hash+".blob")
}

func (s *Local) metaPath(hash string) string {
	return filepath.Join(s.baseDir, shard(hash), hash+".json")
}

func (s *Local) writeMeta(meta blobMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode blob metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(meta.Hash), raw, 0o600); err != nil {
		return fmt.Errorf("%w: write blob metadata: %v", archive.ErrStorageUnavailable, err)
	}
	return nil
}

func shard(hash string) string {
	if len(hash) < 2 {
		return "00"
	}
	return hash[:2]
}
