package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arechgie/webarchive/internal/archive"
)

// ResourceStore provides an in-memory archive.ResourceStore for
// development and testing.
type ResourceStore struct {
	ids archive.IDGenerator

	mu        sync.RWMutex
	byURL     map[string]string
	resources map[string]archive.Resource
	snapshots map[string]archive.Snapshot
	byRes     map[string][]string
}

// NewResourceStore constructs an empty ResourceStore using the given
// ID generator for new resource rows.
func NewResourceStore(ids archive.IDGenerator) *ResourceStore {
	return &ResourceStore{
		ids:       ids,
		byURL:     make(map[string]string),
		resources: make(map[string]archive.Resource),
		snapshots: make(map[string]archive.Snapshot),
		byRes:     make(map[string][]string),
	}
}

// UpsertResource creates the resource row on first sight and returns
// its ID. Metadata is merged last-writer-wins on later calls.
func (s *ResourceStore) UpsertResource(_ context.Context, normalizedURL string, meta archive.ResourceMeta, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byURL[normalizedURL]; ok {
		resource := s.resources[id]
		for k, v := range meta {
			resource.Data[k] = v
		}
		resource.LastFetched = now
		s.resources[id] = resource
		return id, nil
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", err
	}
	data := make(map[string]string, len(meta))
	for k, v := range meta {
		data[k] = v
	}
	s.byURL[normalizedURL] = id
	s.resources[id] = archive.Resource{
		ID:            id,
		NormalizedURL: normalizedURL,
		Data:          data,
		FirstSeen:     now,
		LastFetched:   now,
	}
	return id, nil
}

// GetResource fetches a resource by normalized URL.
func (s *ResourceStore) GetResource(_ context.Context, normalizedURL string) (archive.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[normalizedURL]
	if !ok {
		return archive.Resource{}, archive.ErrResourceNotFound
	}
	return cloneResource(s.resources[id]), nil
}

// LinkSnapshot appends an immutable snapshot row.
func (s *ResourceStore) LinkSnapshot(_ context.Context, snapshot archive.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[snapshot.ResourceID]; !ok {
		return archive.ErrResourceNotFound
	}
	s.snapshots[snapshot.ID] = snapshot
	s.byRes[snapshot.ResourceID] = append(s.byRes[snapshot.ResourceID], snapshot.ID)
	return nil
}

// ListSnapshots returns a resource's snapshots ordered by fetch time.
func (s *ResourceStore) ListSnapshots(_ context.Context, resourceID string) ([]archive.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.resources[resourceID]; !ok {
		return nil, archive.ErrResourceNotFound
	}
	ids := s.byRes[resourceID]
	out := make([]archive.Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.snapshots[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchedAt.Before(out[j].FetchedAt) })
	return out, nil
}

// GetSnapshot fetches a snapshot by ID.
func (s *ResourceStore) GetSnapshot(_ context.Context, id string) (archive.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[id]
	if !ok {
		return archive.Snapshot{}, archive.ErrSnapshotNotFound
	}
	return snapshot, nil
}

// LastFetched reports when a URL was last fetched, if ever.
func (s *ResourceStore) LastFetched(_ context.Context, normalizedURL string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[normalizedURL]
	if !ok {
		return time.Time{}, false, nil
	}
	return s.resources[id].LastFetched, true, nil
}

// DeleteResource removes a resource and its snapshots, returning the
// removed snapshots so callers can release content references.
func (s *ResourceStore) DeleteResource(_ context.Context, resourceID string) ([]archive.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resource, ok := s.resources[resourceID]
	if !ok {
		return nil, archive.ErrResourceNotFound
	}
	removed := make([]archive.Snapshot, 0, len(s.byRes[resourceID]))
	for _, id := range s.byRes[resourceID] {
		removed = append(removed, s.snapshots[id])
		delete(s.snapshots, id)
	}
	delete(s.byRes, resourceID)
	delete(s.resources, resourceID)
	delete(s.byURL, resource.NormalizedURL)
	return removed, nil
}

func cloneResource(resource archive.Resource) archive.Resource {
	out := resource
	out.Data = make(map[string]string, len(resource.Data))
	for k, v := range resource.Data {
		out.Data[k] = v
	}
	return out
}
