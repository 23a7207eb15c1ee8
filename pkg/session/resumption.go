package session

import (
	"encoding/hex"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/storage"
)

// ResumptionIDSize is the size of a CASE resumption ID.
const ResumptionIDSize = 16

// DefaultMaxResumptionRecords bounds the resumption cache.
const DefaultMaxResumptionRecords = 256

const storageKeyResumptionRecords = "resumptionRecords"

// ResumptionRecord is the state needed to resume a CASE session without a
// full handshake.
type ResumptionRecord struct {
	ResumptionID []byte
	SharedSecret []byte
	PeerNodeID   fabric.NodeID
	Fabric       *fabric.Fabric
}

// String never includes the shared secret.
func (r *ResumptionRecord) String() string {
	return "resumption " + hex.EncodeToString(r.ResumptionID) + " for " + r.PeerNodeID.String()
}

func (r *ResumptionRecord) validate() error {
	if len(r.ResumptionID) != ResumptionIDSize || len(r.SharedSecret) == 0 || r.Fabric == nil {
		return ErrInvalidResumptionRecord
	}
	return nil
}

// resumptionRecordObject is the persisted form of a record. The fabric is
// referenced by index and checked against its fabric ID on load.
type resumptionRecordObject struct {
	ResumptionID []byte             `cbor:"1,keyasint"`
	SharedSecret []byte             `cbor:"2,keyasint"`
	PeerNodeID   fabric.NodeID      `cbor:"3,keyasint"`
	FabricIndex  fabric.FabricIndex `cbor:"4,keyasint"`
	FabricID     fabric.FabricID    `cbor:"5,keyasint"`
}

type peerKey struct {
	fabricIndex fabric.FabricIndex
	nodeID      fabric.NodeID
}

// resumptionStore is an LRU of records keyed by peer, with a secondary
// index by resumption ID. Every mutation is written through to storage.
type resumptionStore struct {
	mu      sync.Mutex
	cache   *lru.Cache[peerKey, *ResumptionRecord]
	byID    map[string]peerKey
	storage *storage.Context
}

func newResumptionStore(size int, ctx *storage.Context) (*resumptionStore, error) {
	s := &resumptionStore{
		byID:    make(map[string]peerKey),
		storage: ctx,
	}
	cache, err := lru.NewWithEvict[peerKey, *ResumptionRecord](size, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// onEvict runs under the cache lock for removals and evictions.
func (s *resumptionStore) onEvict(_ peerKey, r *ResumptionRecord) {
	delete(s.byID, string(r.ResumptionID))
}

func (s *resumptionStore) save(r *ResumptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := peerKey{r.Fabric.Index(), r.PeerNodeID}
	if old, ok := s.cache.Peek(key); ok {
		delete(s.byID, string(old.ResumptionID))
	}
	s.cache.Add(key, r)
	s.byID[string(r.ResumptionID)] = key
	return s.persistLocked()
}

func (s *resumptionStore) findByID(id []byte) (*ResumptionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[string(id)]
	if !ok {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *resumptionStore) findByNode(nodeID fabric.NodeID) (*ResumptionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *ResumptionRecord
	for _, key := range s.cache.Keys() {
		if key.nodeID != nodeID {
			continue
		}
		if r, ok := s.cache.Peek(key); ok {
			found = r
		}
	}
	if found != nil {
		s.cache.Get(peerKey{found.Fabric.Index(), nodeID})
	}
	return found, found != nil
}

// deleteNode removes every record for nodeID and reports whether any existed.
func (s *resumptionStore) deleteNode(nodeID fabric.NodeID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for _, key := range s.cache.Keys() {
		if key.nodeID == nodeID {
			removed = s.cache.Remove(key) || removed
		}
	}
	if !removed {
		return false, nil
	}
	return true, s.persistLocked()
}

func (s *resumptionStore) len() int {
	return s.cache.Len()
}

// persistLocked writes the records oldest first so a reload keeps recency.
func (s *resumptionStore) persistLocked() error {
	if s.storage == nil {
		return nil
	}
	keys := s.cache.Keys()
	objs := make([]resumptionRecordObject, 0, len(keys))
	for _, key := range keys {
		r, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		objs = append(objs, resumptionRecordObject{
			ResumptionID: r.ResumptionID,
			SharedSecret: r.SharedSecret,
			PeerNodeID:   r.PeerNodeID,
			FabricIndex:  r.Fabric.Index(),
			FabricID:     r.Fabric.FabricID(),
		})
	}
	return s.storage.Set(storageKeyResumptionRecords, objs)
}

// load replaces the cache content with the stored records. Records whose
// fabric is not in fabrics are dropped; the count is returned.
func (s *resumptionStore) load(fabrics []*fabric.Fabric) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Purge()
	if s.storage == nil {
		return 0, nil
	}

	var objs []resumptionRecordObject
	if err := s.storage.Get(storageKeyResumptionRecords, &objs); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	dropped := 0
	for _, obj := range objs {
		f := findFabric(fabrics, obj.FabricIndex, obj.FabricID)
		r := &ResumptionRecord{
			ResumptionID: obj.ResumptionID,
			SharedSecret: obj.SharedSecret,
			PeerNodeID:   obj.PeerNodeID,
			Fabric:       f,
		}
		if f == nil || r.validate() != nil {
			dropped++
			continue
		}
		key := peerKey{f.Index(), r.PeerNodeID}
		s.cache.Add(key, r)
		s.byID[string(r.ResumptionID)] = key
	}
	if dropped > 0 {
		return dropped, s.persistLocked()
	}
	return 0, nil
}

func findFabric(fabrics []*fabric.Fabric, index fabric.FabricIndex, id fabric.FabricID) *fabric.Fabric {
	for _, f := range fabrics {
		if f.Index() == index && f.FabricID() == id {
			return f
		}
	}
	return nil
}
