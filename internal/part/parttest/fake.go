// Package parttest provides in-memory reference PartStore and Fetcher
// implementations for hermetic replica tests, mirroring the shape of
// part.LevelPartStore without the filesystem dependency.
package parttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/clusterdb/repltree/internal/part"
)

type FakeStore struct {
	mu    sync.Mutex
	parts map[string]part.Part
	stale map[string]bool
}

func NewFakeStore() *FakeStore {
	return &FakeStore{parts: map[string]part.Part{}, stale: map[string]bool{}}
}

// Seed inserts a part directly, bypassing any merge/fetch bookkeeping, for
// test setup.
func (s *FakeStore) Seed(p part.Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[p.Name] = p
}

func (s *FakeStore) GetDataParts() ([]part.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]part.Part, 0, len(s.parts))
	for _, p := range s.parts {
		out = append(out, p)
	}
	return out, nil
}

func (s *FakeStore) GetContainingPart(name part.Part) (part.Part, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.parts {
		if p.Contains(name) {
			return p, true, nil
		}
	}
	return part.Part{}, false, nil
}

func (s *FakeStore) MergeParts(parts []part.Part, newName string) (part.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(parts) == 0 {
		return part.Part{}, fmt.Errorf("cannot merge zero parts")
	}
	merged := part.Part{Name: newName, Left: parts[0].Left, Right: parts[0].Right}
	for _, p := range parts {
		if p.Left < merged.Left {
			merged.Left = p.Left
		}
		if p.Right > merged.Right {
			merged.Right = p.Right
		}
		merged.Size += p.Size
		merged.Checksums = append(merged.Checksums, p.Checksums...)
	}
	s.parts[newName] = merged
	for _, p := range parts {
		if p.Name != newName {
			s.stale[p.Name] = true
		}
	}
	return merged, nil
}

func (s *FakeStore) RenameTempPartAndReplace(p part.Part) ([]part.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[p.Name] = p
	var obsolete []part.Part
	for name, existing := range s.parts {
		if name == p.Name {
			continue
		}
		if p.Contains(existing) {
			obsolete = append(obsolete, existing)
			s.stale[name] = true
		}
	}
	return obsolete, nil
}

func (s *FakeStore) ClearOldParts() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.stale {
		delete(s.parts, name)
	}
	s.stale = map[string]bool{}
	return nil
}

func (s *FakeStore) RenameAndDetachPart(p part.Part, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parts, p.Name)
	detached := p
	detached.Name = prefix + p.Name
	s.parts[detached.Name] = detached
	return nil
}

// FakeFetcher serves FetchPart calls directly from a map of peer stores,
// skipping any network transport.
type FakeFetcher struct {
	mu    sync.Mutex
	peers map[string]*FakeStore // keyed "host:port"
}

func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{peers: map[string]*FakeStore{}}
}

func (f *FakeFetcher) Register(host string, port int, store *FakeStore) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[fmt.Sprintf("%s:%d", host, port)] = store
}

func (f *FakeFetcher) FetchPart(_ context.Context, host string, port int, name string) (part.Part, error) {
	f.mu.Lock()
	store, ok := f.peers[fmt.Sprintf("%s:%d", host, port)]
	f.mu.Unlock()
	if !ok {
		return part.Part{}, fmt.Errorf("no such peer %s:%d", host, port)
	}
	parts, err := store.GetDataParts()
	if err != nil {
		return part.Part{}, err
	}
	for _, p := range parts {
		if p.Name == name {
			return p, nil
		}
	}
	return part.Part{}, fmt.Errorf("peer %s:%d does not have part %s", host, port, name)
}
