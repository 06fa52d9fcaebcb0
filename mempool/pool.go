// Package mempool holds systemic transactions partitioned by the round
// they are legal in, plus an insertion-ordered queue of payment
// transactions, generalizing core/mempool.go's insertion-ordered
// thread-safe pool to the round-based pop-on-assembly pattern spec.md §4.5
// requires.
package mempool

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/dagchain/consensus/dag"
)

// ErrAlreadyPresent is a no-op outcome, not a failure: Add is idempotent
// per invariant 8 (same tx hash twice -> second call does nothing).
var ErrAlreadyPresent = errors.New("mempool: transaction already present")

const maxPendingPayments = 10_000

// Pool is a thread-safe pending-transaction pool for one node.
type Pool struct {
	mu sync.RWMutex

	systemic    map[dag.Hash]dag.SystemicTx   // hash -> tx, all rounds
	systemicOrd map[dag.Round][]dag.Hash      // insertion order within round
	gossip      map[dag.Hash]dag.SystemicTx   // NegativeGossip/PositiveGossip/PenaltyGossip held separately
	gossipOrd   []dag.Hash

	payments    map[dag.Hash]dag.PaymentTx
	paymentsOrd []dag.Hash

	rateLimited map[string]struct{} // "signerHex:era:kind" seen-once guard
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{
		systemic:    make(map[dag.Hash]dag.SystemicTx),
		systemicOrd: make(map[dag.Round][]dag.Hash),
		gossip:      make(map[dag.Hash]dag.SystemicTx),
		payments:    make(map[dag.Hash]dag.PaymentTx),
		rateLimited: make(map[string]struct{}),
	}
}

func isGossip(kind dag.SystemicTxKind) bool {
	switch kind {
	case dag.KindNegativeGossip, dag.KindPositiveGossip, dag.KindPenaltyGossip:
		return true
	default:
		return false
	}
}

// AddSystemic inserts tx, deduplicating by hash. Returns
// ErrAlreadyPresent (not a failure; callers should treat it as a silent
// no-op) if the same transaction was already queued.
func (p *Pool) AddSystemic(tx dag.SystemicTx) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := tx.Hash()
	if isGossip(tx.Kind()) {
		if _, exists := p.gossip[h]; exists {
			return ErrAlreadyPresent
		}
		p.gossip[h] = tx
		p.gossipOrd = append(p.gossipOrd, h)
		return nil
	}
	if _, exists := p.systemic[h]; exists {
		return ErrAlreadyPresent
	}
	p.systemic[h] = tx
	round := tx.LegalRound()
	p.systemicOrd[round] = append(p.systemicOrd[round], h)
	return nil
}

// RateLimitKey reports whether (signer, era, kind) has already been seen
// this era, enforcing the mempool acceptor's one-per-era cap. Call
// MarkRateLimited after a transaction is accepted.
func (p *Pool) RateLimitKey(signerHex string, era uint64, kind dag.SystemicTxKind) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, seen := p.rateLimited[rateLimitKey(signerHex, era, kind)]
	return seen
}

// MarkRateLimited records that (signer, era, kind) has now been used.
func (p *Pool) MarkRateLimited(signerHex string, era uint64, kind dag.SystemicTxKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateLimited[rateLimitKey(signerHex, era, kind)] = struct{}{}
}

func rateLimitKey(signerHex string, era uint64, kind dag.SystemicTxKind) string {
	var eraBytes [8]byte
	binary.BigEndian.PutUint64(eraBytes[:], era)
	return signerHex + ":" + hex.EncodeToString(eraBytes[:]) + ":" + kind.String()
}

// AddPayment queues a payment transaction for inclusion.
func (p *Pool) AddPayment(tx dag.PaymentTx) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := tx.ID()
	if _, exists := p.payments[id]; exists {
		return ErrAlreadyPresent
	}
	if len(p.payments) >= maxPendingPayments {
		return errors.New("mempool: payment pool full")
	}
	p.payments[id] = tx
	p.paymentsOrd = append(p.paymentsOrd, id)
	return nil
}

// PopRoundSystemic returns and removes every queued systemic transaction
// legal in round.
func (p *Pool) PopRoundSystemic(round dag.Round) []dag.SystemicTx {
	p.mu.Lock()
	defer p.mu.Unlock()

	hashes := p.systemicOrd[round]
	delete(p.systemicOrd, round)
	out := make([]dag.SystemicTx, 0, len(hashes))
	for _, h := range hashes {
		if tx, ok := p.systemic[h]; ok {
			out = append(out, tx)
			delete(p.systemic, h)
		}
	}
	return out
}

// PopCurrentGossips drains every accumulated gossip transaction
// (negative, positive, and penalty), regardless of round.
func (p *Pool) PopCurrentGossips() []dag.SystemicTx {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]dag.SystemicTx, 0, len(p.gossipOrd))
	for _, h := range p.gossipOrd {
		if tx, ok := p.gossip[h]; ok {
			out = append(out, tx)
		}
	}
	p.gossip = make(map[dag.Hash]dag.SystemicTx)
	p.gossipOrd = nil
	return out
}

// RemoveIncluded drops every transaction in block from the pool, called
// after a block is accepted so its contents are not re-offered.
func (p *Pool) RemoveIncluded(block *dag.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, tx := range block.Systemic {
		h := tx.Hash()
		delete(p.systemic, h)
		delete(p.gossip, h)
	}
	for _, pay := range block.Payments {
		delete(p.payments, pay.ID())
	}
}

// RemoveAllSystemic clears every queued systemic transaction, called in
// the FINAL round to drop stale era state (spec.md §4.5).
func (p *Pool) RemoveAllSystemic() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.systemic = make(map[dag.Hash]dag.SystemicTx)
	p.systemicOrd = make(map[dag.Round][]dag.Hash)
}

// PendingPayments returns up to n queued payment transactions in
// insertion order.
func (p *Pool) PendingPayments(n int) []dag.PaymentTx {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]dag.PaymentTx, 0, n)
	for _, id := range p.paymentsOrd {
		tx, ok := p.payments[id]
		if !ok {
			continue
		}
		out = append(out, tx)
		if len(out) >= n {
			break
		}
	}
	return out
}

// SystemicSize returns the number of queued systemic transactions across
// all rounds, excluding gossip.
func (p *Pool) SystemicSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.systemic)
}

// All returns every queued systemic transaction, including gossip, without
// removing it. Used by the storage package to snapshot the pool to disk.
func (p *Pool) All() []dag.SystemicTx {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]dag.SystemicTx, 0, len(p.systemic)+len(p.gossip))
	for _, tx := range p.systemic {
		out = append(out, tx)
	}
	for _, tx := range p.gossip {
		out = append(out, tx)
	}
	return out
}
