package fabric

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Orzech99/matter.js/pkg/storage"
)

// storageKeyFabrics is the FabricManager key holding the fabric list.
const storageKeyFabrics = "fabrics"

// Table errors.
var (
	// ErrTableFull is returned when the fabric table is full.
	ErrTableFull = errors.New("fabric: table full")
	// ErrFabricNotFound is returned when a fabric is not found.
	ErrFabricNotFound = errors.New("fabric: not found")
	// ErrFabricConflict is returned when adding a fabric that conflicts with existing.
	ErrFabricConflict = errors.New("fabric: fabric already exists with same root key and fabric ID")
	// ErrFabricIndexInUse is returned when a fabric index is already in use.
	ErrFabricIndexInUse = errors.New("fabric: fabric index already in use")
)

// TableConfig configures the fabric table.
type TableConfig struct {
	// MaxFabrics is the maximum number of fabrics supported.
	// Valid range: 5-254. Default: 5.
	MaxFabrics uint8

	// Storage persists the table. When nil the table lives in memory only.
	Storage *storage.Context
}

// Table holds the fabrics this node is commissioned into.
//
// Thread Safety: All methods are safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	fabrics map[FabricIndex]*Fabric
	config  TableConfig
}

// NewTable creates a fabric table and loads persisted fabrics.
func NewTable(config TableConfig) (*Table, error) {
	if config.MaxFabrics == 0 {
		config.MaxFabrics = DefaultSupportedFabrics
	}
	if config.MaxFabrics < MinSupportedFabrics {
		config.MaxFabrics = MinSupportedFabrics
	}
	if config.MaxFabrics > MaxSupportedFabrics {
		config.MaxFabrics = MaxSupportedFabrics
	}

	t := &Table{
		fabrics: make(map[FabricIndex]*Fabric),
		config:  config,
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) load() error {
	if t.config.Storage == nil {
		return nil
	}
	var objs []StorageObject
	err := t.config.Storage.Get(storageKeyFabrics, &objs)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, obj := range objs {
		f, err := CreateFromStorageObject(obj)
		if err != nil {
			return fmt.Errorf("fabric: restore index %d: %w", obj.FabricIndex, err)
		}
		t.fabrics[f.Index()] = f
	}
	return nil
}

// persist writes the table. Callers hold t.mu.
func (t *Table) persist() error {
	if t.config.Storage == nil {
		return nil
	}
	objs := make([]StorageObject, 0, len(t.fabrics))
	for _, f := range t.sortedLocked() {
		obj, err := f.ToStorageObject()
		if err != nil {
			return err
		}
		objs = append(objs, obj)
	}
	return t.config.Storage.Set(storageKeyFabrics, objs)
}

// Add adds a fabric and persists the table.
//
// Returns ErrTableFull if the table is at capacity.
// Returns ErrFabricIndexInUse if the fabric index is already in use.
// Returns ErrFabricConflict if a fabric with the same root key and fabric ID exists.
func (t *Table) Add(f *Fabric) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.fabrics) >= int(t.config.MaxFabrics) {
		return ErrTableFull
	}
	if _, exists := t.fabrics[f.Index()]; exists {
		return ErrFabricIndexInUse
	}
	for _, existing := range t.fabrics {
		if bytes.Equal(existing.RootPublicKey(), f.RootPublicKey()) && existing.FabricID() == f.FabricID() {
			return ErrFabricConflict
		}
	}

	t.fabrics[f.Index()] = f
	if err := t.persist(); err != nil {
		delete(t.fabrics, f.Index())
		return err
	}
	return nil
}

// Remove removes a fabric by index and persists the table.
func (t *Table) Remove(index FabricIndex) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.fabrics[index]; !exists {
		return ErrFabricNotFound
	}
	delete(t.fabrics, index)
	return t.persist()
}

// Get returns a fabric by index.
func (t *Table) Get(index FabricIndex) (*Fabric, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.fabrics[index]
	return f, ok
}

// FindByDestinationID returns the fabric whose node is addressed by
// destinationID, as computed by the CASE initiator with random.
func (t *Table) FindByDestinationID(destinationID, random []byte) (*Fabric, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, f := range t.fabrics {
		if f.MatchesDestinationID(destinationID, random) {
			return f, nil
		}
	}
	return nil, ErrFabricNotFound
}

// FindByRootAndFabricID returns the fabric matching the full fabric reference.
func (t *Table) FindByRootAndFabricID(rootPublicKey []byte, fabricID FabricID) (*Fabric, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, f := range t.fabrics {
		if bytes.Equal(f.RootPublicKey(), rootPublicKey) && f.FabricID() == fabricID {
			return f, true
		}
	}
	return nil, false
}

// List returns all fabrics ordered by index.
func (t *Table) List() []*Fabric {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sortedLocked()
}

func (t *Table) sortedLocked() []*Fabric {
	out := make([]*Fabric, 0, len(t.fabrics))
	for _, f := range t.fabrics {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}

// Count returns the number of fabrics in the table.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.fabrics)
}

// AllocateFabricIndex returns the first unused fabric index.
//
// Returns ErrTableFull if no index is available.
func (t *Table) AllocateFabricIndex() (FabricIndex, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.fabrics) >= int(t.config.MaxFabrics) {
		return FabricIndexInvalid, ErrTableFull
	}
	for idx := FabricIndexMin; idx <= FabricIndexMax; idx++ {
		if _, exists := t.fabrics[idx]; !exists {
			return idx, nil
		}
	}
	return FabricIndexInvalid, ErrTableFull
}

// Clear removes all fabrics (factory reset).
func (t *Table) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fabrics = make(map[FabricIndex]*Fabric)
	if t.config.Storage == nil {
		return nil
	}
	return t.config.Storage.Delete(storageKeyFabrics)
}

func (t *Table) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fmt.Sprintf("FabricTable{Count=%d, Max=%d}", len(t.fabrics), t.config.MaxFabrics)
}
