package dag

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownBlock is returned when a hash has no corresponding entry.
var ErrUnknownBlock = errors.New("dag: unknown block")

// ErrMissingParent is returned by Add when a block's first (main) parent is
// not yet known; the node loop buffers the block as an orphan and retries
// once the parent arrives (spec.md §4.7.3).
var ErrMissingParent = errors.New("dag: missing parent")

type entry struct {
	block SignedBlock
	hash  Hash
	depth uint64 // longest main-chain depth ending at this block
}

// DAG is the append-only block store, indexed by hash and by timeslot,
// with a depth-memoized longest-chain walk along each block's first
// parent. Grounded on original_source/chain/dag.py's DAG class, adapted
// from Python's dict-of-lists storage to a mutex-guarded Go map pair.
type DAG struct {
	mu         sync.RWMutex
	byHash     map[Hash]*entry
	byTimeslot map[int64][]Hash
	tops       map[Hash]struct{}
	genesis    Hash
}

// New creates a DAG seeded with a single genesis block, which has no
// parents and is its own top.
func New(genesis SignedBlock) *DAG {
	h := genesis.Block.Hash()
	d := &DAG{
		byHash:     make(map[Hash]*entry),
		byTimeslot: make(map[int64][]Hash),
		tops:       make(map[Hash]struct{}),
		genesis:    h,
	}
	d.byHash[h] = &entry{block: genesis, hash: h, depth: 0}
	d.byTimeslot[genesis.Block.Timestamp] = []Hash{h}
	d.tops[h] = struct{}{}
	return d
}

// Genesis returns the hash of the genesis block.
func (d *DAG) Genesis() Hash { return d.genesis }

// Add inserts a new signed block. The block's first PrevHashes entry (its
// main parent) must already be present; other parents may be unknown
// without error, mirroring dag.py's tolerance for referencing blocks still
// in flight. Returns ErrMissingParent if the main parent is absent so the
// caller can buffer it as an orphan.
func (d *DAG) Add(sb SignedBlock) (Hash, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := sb.Block.Hash()
	if _, exists := d.byHash[h]; exists {
		return h, nil
	}
	if len(sb.Block.PrevHashes) == 0 {
		return h, fmt.Errorf("dag: non-genesis block has no parents")
	}
	mainParent := sb.Block.PrevHashes[0]
	parentEntry, ok := d.byHash[mainParent]
	if !ok {
		return h, ErrMissingParent
	}

	e := &entry{block: sb, hash: h, depth: parentEntry.depth + 1}
	d.byHash[h] = e
	d.byTimeslot[sb.Block.Timestamp] = append(d.byTimeslot[sb.Block.Timestamp], h)

	delete(d.tops, mainParent)
	for _, p := range sb.Block.PrevHashes[1:] {
		delete(d.tops, p)
	}
	d.tops[h] = struct{}{}
	return h, nil
}

// Get returns the signed block stored under h.
func (d *DAG) Get(h Hash) (SignedBlock, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byHash[h]
	if !ok {
		return SignedBlock{}, fmt.Errorf("%w: %s", ErrUnknownBlock, h)
	}
	return e.block, nil
}

// Has reports whether h is already stored.
func (d *DAG) Has(h Hash) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byHash[h]
	return ok
}

// Depth returns h's longest main-chain depth, 0 for genesis.
func (d *DAG) Depth(h Hash) (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byHash[h]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBlock, h)
	}
	return e.depth, nil
}

// AtTimeslot returns every block hash recorded for a given timestamp
// (normally at most one legitimate signer's worth, but equivocation can
// produce more).
func (d *DAG) AtTimeslot(ts int64) []Hash {
	d.mu.RLock()
	defer d.mu.RUnlock()
	hashes := d.byTimeslot[ts]
	out := make([]Hash, len(hashes))
	copy(out, hashes)
	return out
}

// All returns every block currently stored, in no particular order. Used
// by the storage package to snapshot the DAG to disk.
func (d *DAG) All() []SignedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]SignedBlock, 0, len(d.byHash))
	for _, e := range d.byHash {
		out = append(out, e.block)
	}
	return out
}

// Tops returns every block with no known child, the DAG's current
// frontier.
func (d *DAG) Tops() []Hash {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Hash, 0, len(d.tops))
	for h := range d.tops {
		out = append(out, h)
	}
	return out
}

// LongestChainTop walks every top's main-parent chain back to genesis and
// returns the one with the greatest depth, breaking ties by the
// lexicographically smaller hash (spec.md §4.3).
func (d *DAG) LongestChainTop() Hash {
	d.mu.RLock()
	defer d.mu.RUnlock()

	best := d.genesis
	bestDepth := d.byHash[d.genesis].depth
	for h := range d.tops {
		e := d.byHash[h]
		if e.depth > bestDepth || (e.depth == bestDepth && h.Less(best)) {
			best = h
			bestDepth = e.depth
		}
	}
	return best
}

// Ancestors walks h's main-parent chain back to genesis, h included,
// nearest first.
func (d *DAG) Ancestors(h Hash) ([]Hash, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Hash
	cur := h
	for {
		e, ok := d.byHash[cur]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, cur)
		}
		out = append(out, cur)
		if cur == d.genesis {
			return out, nil
		}
		cur = e.block.Block.PrevHashes[0]
	}
}

// IsAncestor reports whether anc lies on h's main-parent chain.
func (d *DAG) IsAncestor(anc, h Hash) (bool, error) {
	chain, err := d.Ancestors(h)
	if err != nil {
		return false, err
	}
	for _, c := range chain {
		if c == anc {
			return true, nil
		}
	}
	return false, nil
}

// BranchesIntersecting returns, for each hash in tops, the chain of main
// parents from that top down to (and including) ancestor, or an error if
// ancestor does not lie on that top's chain. Used by the conflict watcher
// to walk every branch back to a shared epoch boundary.
func (d *DAG) BranchesIntersecting(tops []Hash, ancestor Hash) (map[Hash][]Hash, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[Hash][]Hash, len(tops))
	for _, top := range tops {
		var branch []Hash
		cur := top
		for {
			e, ok := d.byHash[cur]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, cur)
			}
			branch = append(branch, cur)
			if cur == ancestor {
				break
			}
			if cur == d.genesis {
				return nil, fmt.Errorf("dag: %s is not an ancestor of %s", ancestor, top)
			}
			cur = e.block.Block.PrevHashes[0]
		}
		out[top] = branch
	}
	return out, nil
}

// Walk visits every block reachable by main-parent links from h back to
// genesis, calling fn with each hash nearest-first. Walking stops early if
// fn returns false.
func (d *DAG) Walk(h Hash, fn func(Hash) bool) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cur := h
	for {
		e, ok := d.byHash[cur]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownBlock, cur)
		}
		if !fn(cur) {
			return nil
		}
		if cur == d.genesis {
			return nil
		}
		cur = e.block.Block.PrevHashes[0]
	}
}
