// Package conflict tracks which signer produced which block in which
// era, so equivocations (two blocks from the same signer in the same era)
// can be told apart from ordinary forks when the DAG merges branches.
// Grounded almost line-for-line on
// original_source/chain/conflict_watcher.py's ConflictWatcher.
package conflict

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
)

type authorship struct {
	signer crypto.PublicKey
	epoch  uint64
}

// Watcher records (block hash -> signer, epoch) and partitions conflicting
// signatures into already-resolved equivocations versus candidates still
// subject to the longest-chain rule.
type Watcher struct {
	mu           sync.RWMutex
	blocks       map[dag.Hash]authorship
	bySignerEpoch map[uint64]map[string][]dag.Hash // epoch -> signer hex -> hashes
}

// New returns an empty Watcher.
func New() *Watcher {
	return &Watcher{
		blocks:        make(map[dag.Hash]authorship),
		bySignerEpoch: make(map[uint64]map[string][]dag.Hash),
	}
}

// OnNewBlock records that signer produced hash in the given era.
func (w *Watcher) OnNewBlock(hash dag.Hash, era uint64, signer crypto.PublicKey) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.blocks[hash] = authorship{signer: signer, epoch: era}
	bySigner, ok := w.bySignerEpoch[era]
	if !ok {
		bySigner = make(map[string][]dag.Hash)
		w.bySignerEpoch[era] = bySigner
	}
	key := hex.EncodeToString(signer)
	bySigner[key] = append(bySigner[key], hash)
}

// ConflictsOf returns every other hash the same signer produced in the
// same era as hash, or nil if hash is unknown or has no conflicts.
func (w *Watcher) ConflictsOf(hash dag.Hash) []dag.Hash {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conflictsOfLocked(hash)
}

func (w *Watcher) conflictsOfLocked(hash dag.Hash) []dag.Hash {
	a, ok := w.blocks[hash]
	if !ok {
		return nil
	}
	all := w.bySignerEpoch[a.epoch][hex.EncodeToString(a.signer)]
	if len(all) <= 1 {
		return nil
	}
	return all
}

// FindConflictsBetween walks every maximal branch from tops down to (and
// including) ancestor, collecting the full set of merge-range blocks, and
// partitions their equivocations into explicit (already resolved outside
// this range — ignored by candidate selection) and candidate (to be
// decided by the longest-chain rule), exactly per
// conflict_watcher.py's find_conflicts_in_between.
func (w *Watcher) FindConflictsBetween(d *dag.DAG, tops []dag.Hash, ancestor dag.Hash) (explicit, candidates []dag.Hash, err error) {
	branches, err := d.BranchesIntersecting(tops, ancestor)
	if err != nil {
		return nil, nil, fmt.Errorf("conflict: branches intersecting: %w", err)
	}

	mergeSet := make(map[dag.Hash]struct{})
	for _, branch := range branches {
		for _, h := range branch {
			mergeSet[h] = struct{}{}
		}
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	seenExplicit := make(map[dag.Hash]struct{})
	seenCandidate := make(map[dag.Hash]struct{})

	for block := range mergeSet {
		conflicts := w.conflictsOfLocked(block)
		if len(conflicts) == 0 {
			continue
		}

		resolvedEarlier := false
		var insideMerge []dag.Hash
		for _, conflict := range conflicts {
			if _, inMerge := mergeSet[conflict]; !inMerge {
				resolvedEarlier = true
				continue
			}
			insideMerge = append(insideMerge, conflict)
		}

		if resolvedEarlier {
			for _, h := range insideMerge {
				if _, dup := seenExplicit[h]; !dup {
					seenExplicit[h] = struct{}{}
					explicit = append(explicit, h)
				}
			}
		} else {
			for _, h := range insideMerge {
				if _, dup := seenCandidate[h]; !dup {
					seenCandidate[h] = struct{}{}
					candidates = append(candidates, h)
				}
			}
		}
	}
	return explicit, candidates, nil
}
