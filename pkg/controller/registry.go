package controller

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/storage"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// NodeDetails is what the controller remembers about a commissioned node.
type NodeDetails struct {
	NodeID fabric.NodeID `cbor:"1,keyasint"`

	// OperationalAddress is the last address a CASE session succeeded on.
	OperationalAddress *transport.ServerAddress `cbor:"2,keyasint,omitempty"`
}

// nodeRegistry is the set of commissioned nodes, written through to the
// controller storage on every change.
type nodeRegistry struct {
	store *storage.Context

	mu    sync.Mutex
	nodes map[fabric.NodeID]NodeDetails
}

func loadNodeRegistry(store *storage.Context) (*nodeRegistry, error) {
	r := &nodeRegistry{store: store, nodes: make(map[fabric.NodeID]NodeDetails)}

	var stored []NodeDetails
	err := store.Get(storageKeyCommissionedNodes, &stored)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return r, nil
	case err != nil:
		return nil, err
	}
	for _, d := range stored {
		r.nodes[d.NodeID] = d
	}
	return r, nil
}

func (r *nodeRegistry) persistLocked() error {
	list := make([]NodeDetails, 0, len(r.nodes))
	for _, id := range slices.Sorted(maps.Keys(r.nodes)) {
		list = append(list, r.nodes[id])
	}
	return r.store.Set(storageKeyCommissionedNodes, list)
}

// setAddress records addr as the operational address of nodeID, adding
// the node when it is new.
func (r *nodeRegistry) setAddress(nodeID fabric.NodeID, addr transport.ServerAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.nodes[nodeID]; ok && d.OperationalAddress != nil && d.OperationalAddress.Equal(addr) {
		return nil
	}
	r.nodes[nodeID] = NodeDetails{NodeID: nodeID, OperationalAddress: &addr}
	return r.persistLocked()
}

func (r *nodeRegistry) remove(nodeID fabric.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[nodeID]; !ok {
		return nil
	}
	delete(r.nodes, nodeID)
	return r.persistLocked()
}

func (r *nodeRegistry) get(nodeID fabric.NodeID) (NodeDetails, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.nodes[nodeID]
	return d, ok
}

func (r *nodeRegistry) has(nodeID fabric.NodeID) bool {
	_, ok := r.get(nodeID)
	return ok
}

func (r *nodeRegistry) ids() []fabric.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.nodes))
}

func (r *nodeRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}
