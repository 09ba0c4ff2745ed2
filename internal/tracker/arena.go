package tracker

import "github.com/relaywatch/relaywatch-backend/internal/model"

// arena holds the relay chain fork forest as index-linked nodes. Pruning is
// an explicit removal; nothing is dropped implicitly.
type arena struct {
	nodes  []blockNode
	free   []int
	byHash map[model.Hash]int
}

type blockNode struct {
	ref    model.BlockRef
	parent int // arena index, -1 when the parent block is not tracked
	inUse  bool
}

func newArena() *arena {
	return &arena{byHash: make(map[model.Hash]int)}
}

func (a *arena) len() int { return len(a.byHash) }

func (a *arena) lookup(hash model.Hash) (int, bool) {
	idx, ok := a.byHash[hash]
	return idx, ok
}

// add inserts a block and links it to its parent and any already-known
// children. Re-adding a known hash is a no-op.
func (a *arena) add(ref model.BlockRef) int {
	if idx, ok := a.byHash[ref.Hash]; ok {
		return idx
	}

	node := blockNode{ref: ref, parent: -1, inUse: true}
	if pidx, ok := a.byHash[ref.ParentHash]; ok {
		node.parent = pidx
	}

	var idx int
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
		a.nodes[idx] = node
	} else {
		idx = len(a.nodes)
		a.nodes = append(a.nodes, node)
	}
	a.byHash[ref.Hash] = idx

	// Orphans added earlier may now have their parent.
	for i := range a.nodes {
		if a.nodes[i].inUse && a.nodes[i].parent == -1 && a.nodes[i].ref.ParentHash == ref.Hash {
			a.nodes[i].parent = idx
		}
	}
	return idx
}

func (a *arena) remove(hash model.Hash) {
	idx, ok := a.byHash[hash]
	if !ok {
		return
	}
	for i := range a.nodes {
		if a.nodes[i].inUse && a.nodes[i].parent == idx {
			a.nodes[i].parent = -1
		}
	}
	a.nodes[idx] = blockNode{parent: -1}
	delete(a.byHash, hash)
	a.free = append(a.free, idx)
}

// canonicalChain walks parent links from tip and returns the known hash at
// each height. Heights where the chain has a gap are absent from the map.
func (a *arena) canonicalChain(tip model.Hash) map[uint64]model.Hash {
	chain := make(map[uint64]model.Hash)
	idx, ok := a.byHash[tip]
	for ok {
		node := a.nodes[idx]
		if _, seen := chain[node.ref.Height]; seen {
			break
		}
		chain[node.ref.Height] = node.ref.Hash
		if node.parent == -1 {
			// Parent may still be known by hash even when the index link
			// was severed by pruning.
			idx, ok = a.byHash[node.ref.ParentHash]
			continue
		}
		idx, ok = node.parent, true
	}
	return chain
}

// pruneBelow drops every block strictly older than the height floor.
func (a *arena) pruneBelow(floor uint64) []model.BlockRef {
	var dropped []model.BlockRef
	for hash, idx := range a.byHash {
		if a.nodes[idx].ref.Height < floor {
			dropped = append(dropped, a.nodes[idx].ref)
			a.remove(hash)
		}
	}
	return dropped
}
