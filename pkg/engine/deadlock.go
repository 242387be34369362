package engine

import (
	"errors"
	"sync"
)

// WaitsForGraph is a precedence graph used to keep track of whether
// there are deadlocks in transactions
type WaitsForGraph struct {
	edges []Edge       // A slice of all the Edges that we have in our graph
	mtx   sync.RWMutex // Mutex for synchronizing access to the edges slice.
}

// An Edge between transactions in a ("waits-for") Graph
// if Txn1 is waiting for a row lock held by Txn2,
// then there is an Edge from Txn1 to Txn2
type Edge struct {
	from *Transaction
	to   *Transaction
}

func NewGraph() *WaitsForGraph {
	return &WaitsForGraph{edges: make([]Edge, 0)}
}

// Add an edge from `from` to `to`. Logically, `from` waits for `to`.
func (g *WaitsForGraph) AddEdge(from *Transaction, to *Transaction) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	g.edges = append(g.edges, Edge{from: from, to: to})
}

// Remove an edge. Only removes one of these edges if multiple copies exist.
func (g *WaitsForGraph) RemoveEdge(from *Transaction, to *Transaction) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	toRemove := Edge{from: from, to: to}
	for i, e := range g.edges {
		if e == toRemove {
			g.edges = removeHelper(g.edges, i)
			return nil
		}
	}
	return errors.New("edge not found")
}

// Remove every edge that starts or ends at t.
func (g *WaitsForGraph) RemoveTransaction(t *Transaction) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.from != t && e.to != t {
			kept = append(kept, e)
		}
	}
	g.edges = kept
}

// Remove the element at index `i` from `list`.
func removeHelper(list []Edge, i int) []Edge {
	list[i] = list[len(list)-1]
	return list[:len(list)-1]
}

// Return true if a cycle exists; false otherwise.
func (g *WaitsForGraph) DetectCycle() (hasCycle bool) {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	done := make(map[*Transaction]bool)
	for _, e := range g.edges {
		if done[e.from] {
			continue
		}
		if g.dfs(e.from, make(map[*Transaction]bool), done) {
			return true
		}
	}
	return false
}

// depth-first search from `from`; onPath holds the transactions on the
// current path, done those already fully explored without finding a cycle.
func (g *WaitsForGraph) dfs(from *Transaction, onPath, done map[*Transaction]bool) bool {
	onPath[from] = true
	for _, e := range g.edges {
		if e.from != from {
			continue
		}
		if onPath[e.to] {
			return true
		}
		if !done[e.to] && g.dfs(e.to, onPath, done) {
			return true
		}
	}
	delete(onPath, from)
	done[from] = true
	return false
}
