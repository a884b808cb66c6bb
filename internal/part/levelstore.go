package part

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/clusterdb/repltree/pkg/common/utils"
)

// key prefixes, following the teacher's Shard convention of one
// fmt.Sprintf-built prefix per concern (internal/replica/server_shard.go).
const (
	metaPrefix      = "meta/%s"
	checksumsPrefix = "checksums/%s"
	stalePrefix     = "stale/%s"
)

type partMeta struct {
	Left, Right, Size int64
}

// LevelPartStore is a reference Store backed by goleveldb, grounded on the
// teacher's LevelStore (internal/replica/level_db.go). It performs a
// logical merge only: per spec.md §1 the real columnar merge algorithm is
// out of scope, so MergeParts unions ranges and concatenates checksum
// blobs rather than touching any column data. It exists to exercise the
// core's coordinator choreography end to end, not to replace a storage
// engine.
type LevelPartStore struct {
	mu sync.RWMutex
	db *leveldb.DB
}

func OpenLevelPartStore(path string) (*LevelPartStore, error) {
	if err := utils.CheckAndMkdir(path); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelPartStore{db: db}, nil
}

func (s *LevelPartStore) Close() error { return s.db.Close() }

func (s *LevelPartStore) putPart(p Part) error {
	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(partMeta{Left: p.Left, Right: p.Right, Size: p.Size}); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(fmt.Sprintf(metaPrefix, p.Name)), buf.Bytes())
	batch.Put([]byte(fmt.Sprintf(checksumsPrefix, p.Name)), p.Checksums)
	return s.db.Write(batch, nil)
}

func (s *LevelPartStore) getPart(name string) (Part, bool, error) {
	metaBytes, err := s.db.Get([]byte(fmt.Sprintf(metaPrefix, name)), nil)
	if err == leveldb.ErrNotFound {
		return Part{}, false, nil
	} else if err != nil {
		return Part{}, false, err
	}
	var m partMeta
	if err := gob.NewDecoder(bytes.NewReader(metaBytes)).Decode(&m); err != nil {
		return Part{}, false, err
	}
	checksums, err := s.db.Get([]byte(fmt.Sprintf(checksumsPrefix, name)), nil)
	if err != nil && err != leveldb.ErrNotFound {
		return Part{}, false, err
	}
	return Part{Name: name, Left: m.Left, Right: m.Right, Size: m.Size, Checksums: checksums}, true, nil
}

func (s *LevelPartStore) GetDataParts() ([]Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := []byte("meta/")
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []Part
	for it.Next() {
		name := string(it.Key()[len(prefix):])
		p, ok, err := s.getPart(name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, it.Error()
}

func (s *LevelPartStore) GetContainingPart(name Part) (Part, bool, error) {
	parts, err := s.GetDataParts()
	if err != nil {
		return Part{}, false, err
	}
	for _, p := range parts {
		if p.Contains(name) {
			return p, true, nil
		}
	}
	return Part{}, false, nil
}

func (s *LevelPartStore) MergeParts(parts []Part, newName string) (Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(parts) == 0 {
		return Part{}, fmt.Errorf("cannot merge zero parts")
	}
	merged := Part{Name: newName, Left: parts[0].Left, Right: parts[0].Right}
	var checksums bytes.Buffer
	for _, p := range parts {
		if p.Left < merged.Left {
			merged.Left = p.Left
		}
		if p.Right > merged.Right {
			merged.Right = p.Right
		}
		merged.Size += p.Size
		checksums.Write(p.Checksums)
	}
	merged.Checksums = checksums.Bytes()
	if err := s.putPart(merged); err != nil {
		return Part{}, err
	}
	for _, p := range parts {
		if p.Name == newName {
			continue
		}
		if err := s.markStaleLocked(p.Name); err != nil {
			return Part{}, err
		}
	}
	return merged, nil
}

// RenameTempPartAndReplace finalizes p and reports every locally-held part
// it contains as obsolete. It reports obsolescence for any contained part
// regardless of whether that part was a merge input being fetched as a
// fallback (spec.md §9 Open Question 2) — the executor's own
// obsolescence-handling multi removes exactly the parts this returns, so
// no stale /parts/<p> node is left behind by that path.
func (s *LevelPartStore) RenameTempPartAndReplace(p Part) ([]Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.putPart(p); err != nil {
		return nil, err
	}
	parts, err := s.unlockedDataParts()
	if err != nil {
		return nil, err
	}
	var obsolete []Part
	for _, existing := range parts {
		if existing.Name == p.Name {
			continue
		}
		if p.Contains(existing) {
			obsolete = append(obsolete, existing)
			if err := s.markStaleLocked(existing.Name); err != nil {
				return nil, err
			}
		}
	}
	return obsolete, nil
}

func (s *LevelPartStore) unlockedDataParts() ([]Part, error) {
	prefix := []byte("meta/")
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var out []Part
	for it.Next() {
		name := string(it.Key()[len(prefix):])
		p, ok, err := s.getPart(name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, it.Error()
}

func (s *LevelPartStore) markStaleLocked(name string) error {
	return s.db.Put([]byte(fmt.Sprintf(stalePrefix, name)), []byte{1}, nil)
}

func (s *LevelPartStore) ClearOldParts() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := []byte("stale/")
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	for it.Next() {
		name := string(it.Key()[len(prefix):])
		batch.Delete([]byte(fmt.Sprintf(metaPrefix, name)))
		batch.Delete([]byte(fmt.Sprintf(checksumsPrefix, name)))
		batch.Delete(append([]byte{}, it.Key()...))
	}
	if err := it.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *LevelPartStore) RenameAndDetachPart(p Part, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	detached := p
	detached.Name = prefix + p.Name
	if err := s.putPart(detached); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(fmt.Sprintf(metaPrefix, p.Name)))
	batch.Delete([]byte(fmt.Sprintf(checksumsPrefix, p.Name)))
	return s.db.Write(batch, nil)
}
