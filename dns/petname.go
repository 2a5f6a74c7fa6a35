package dns

import (
	"sync"

	"github.com/code3hr/cyxchat-sub001/ids"
)

// petnameStore holds local-only node aliases, never transmitted (spec
// §4.4 "Petnames").
type petnameStore struct {
	mu    sync.RWMutex
	names map[ids.NodeId]string
}

func newPetnameStore() *petnameStore {
	return &petnameStore{names: make(map[ids.NodeId]string)}
}

// Set assigns a local petname to node, overwriting any previous one.
func (p *petnameStore) Set(node ids.NodeId, petname string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names[node] = petname
}

// Get returns the petname for node, if any.
func (p *petnameStore) Get(node ids.NodeId) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.names[node]
	return n, ok
}

// Remove deletes any petname assigned to node.
func (p *petnameStore) Remove(node ids.NodeId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.names, node)
}
