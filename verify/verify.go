// Package verify implements three tiers of block/transaction acceptance:
// cheap mempool-admission checks, stricter in-block round/signer checks,
// full block structural+signer checks, and an orphan variant that defers
// signer verification until the block's ancestors (and therefore its
// epoch hash) are known. The layered-check style follows a chain-ID/
// signature/prev-hash/timestamp-drift validator pipeline, generalized to
// the three-acceptor split and to the orphan-vs-immediate branching a
// DAG with asynchronous block arrival requires.
package verify

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dagchain/consensus/conflict"
	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/epoch"
	"github.com/dagchain/consensus/mempool"
	"github.com/dagchain/consensus/permissions"
)

// Sentinel errors, compared with errors.Is by callers (node's recover-wrapped
// dispatch logs and continues on any one of these).
var (
	ErrMalformedFrame    = errors.New("verify: malformed frame")
	ErrUnknownSigner     = errors.New("verify: unknown signer")
	ErrBadSignature      = errors.New("verify: bad signature")
	ErrOutOfRound        = errors.New("verify: transaction not legal in this round")
	ErrDuplicateSystemic = errors.New("verify: duplicate systemic transaction")
	ErrEquivocation      = errors.New("verify: signer equivocated")
	ErrUnseededEra       = errors.New("verify: era has no entropy seed yet")
)

// MissingAncestorError carries the parent hashes an orphan block is
// waiting on, wrapping ErrMissingAncestor so callers can both errors.Is
// match and recover the hash list.
type MissingAncestorError struct {
	Missing []dag.Hash
}

func (e *MissingAncestorError) Error() string {
	return fmt.Sprintf("verify: %d missing ancestor(s)", len(e.Missing))
}

func (e *MissingAncestorError) Unwrap() error { return ErrMissingAncestor }

// ErrMissingAncestor is the sentinel *MissingAncestorError wraps.
var ErrMissingAncestor = errors.New("verify: missing ancestor")

// signatureCacheSize bounds the per-node verification cache: rather than
// an unbounded shared cache, this module evicts least recently used
// entries once the working set of recently-seen signatures exceeds this
// size.
const signatureCacheSize = 8192

// sigCacheKey is a [hash of signed bytes ‖ signature] composite; a plain
// dag.Hash of the signed content is not enough because VerifyAny can
// accept the same content under different candidate keys.
type sigCacheKey struct {
	content dag.Hash
	sig     crypto.Signature
}

// Verifier wires the acceptors together against the shared components of
// one node: the permission schedule, the conflict watcher, and the
// mempool.
type Verifier struct {
	schedule *permissions.Schedule
	watcher  *conflict.Watcher
	pool     *mempool.Pool
	tracker  *epoch.Tracker

	sigCache *lru.Cache[sigCacheKey, bool]
}

// New builds a Verifier over the given components.
func New(schedule *permissions.Schedule, watcher *conflict.Watcher, pool *mempool.Pool, tracker *epoch.Tracker) (*Verifier, error) {
	cache, err := lru.New[sigCacheKey, bool](signatureCacheSize)
	if err != nil {
		return nil, fmt.Errorf("verify: build signature cache: %w", err)
	}
	return &Verifier{schedule: schedule, watcher: watcher, pool: pool, tracker: tracker, sigCache: cache}, nil
}

func (v *Verifier) verifyCached(content dag.Hash, pub crypto.PublicKey, sig crypto.Signature) bool {
	key := sigCacheKey{content: content, sig: sig}
	if ok, hit := v.sigCache.Get(key); hit {
		return ok
	}
	ok := crypto.Verify(pub, content[:], sig) == nil
	v.sigCache.Add(key, ok)
	return ok
}

// AcceptMempool runs the cheap admission checks: a valid signature by
// tx.Author() (skipped when Author is empty) and a rate limit of one
// systemic tx per (signer, era, kind). It does not check that the signer
// sits on any committee.
func (v *Verifier) AcceptMempool(epochHash dag.Hash, era uint64, tx dag.SystemicTx) error {
	signingHash := tx.SigningHash(epochHash)
	pub := tx.Author()
	if len(pub) > 0 && !v.verifyCached(signingHash, pub, tx.Sig()) {
		return fmt.Errorf("%w: %s", ErrBadSignature, tx.Kind())
	}

	if v.pool.RateLimitKey(pub.Hex(), era, tx.Kind()) {
		return fmt.Errorf("%w: signer %s already sent a %s this era", ErrDuplicateSystemic, pub.Hex(), tx.Kind())
	}
	return nil
}

// AcceptInBlock runs the stricter in-block checks: the transaction's
// round must match the block's round, a commit's author must be one of
// epochHash's committers, and a penalty must cite at least one block and
// only blocks the conflict watcher reports conflicts for. It does not
// check that a reveal's CommitHash names a known commit.
func (v *Verifier) AcceptInBlock(round epoch.Round, epochHash dag.Hash, tx dag.SystemicTx) error {
	if tx.LegalRound() != round {
		return fmt.Errorf("%w: %s in round %s", ErrOutOfRound, tx.Kind(), round)
	}

	switch t := tx.(type) {
	case *dag.CommitRandomTransaction:
		committers, err := v.schedule.Committers(epochHash)
		if err != nil {
			return fmt.Errorf("verify: resolve committers: %w", err)
		}
		if _, ok := committers[t.PubKey.Hex()]; !ok {
			return fmt.Errorf("%w: %s is not a committer this era", ErrUnknownSigner, t.PubKey.Hex())
		}
	case *dag.PenaltyTransaction:
		if len(t.Conflicts) == 0 {
			return fmt.Errorf("%w: penalty cites no conflicts", ErrMalformedFrame)
		}
		for _, c := range t.Conflicts {
			if v.watcher.ConflictsOf(c) == nil {
				return fmt.Errorf("%w: cited conflict %s unknown to the conflict watcher", ErrMalformedFrame, c)
			}
		}
	}
	return nil
}

// AcceptBlock runs the full block checks: every parent is known, and the
// signer matches sign_permission for this timeslot. It does not check the
// block's timestamp, nor whether its timeslot is already filled on this
// fork.
func (v *Verifier) AcceptBlock(d *dag.DAG, sb *dag.SignedBlock, epochHash dag.Hash, inEpochBlockNumber uint64) error {
	for _, p := range sb.Block.PrevHashes {
		if !d.Has(p) {
			return &MissingAncestorError{Missing: []dag.Hash{p}}
		}
	}

	expected, err := v.schedule.SignPermission(epochHash, inEpochBlockNumber)
	if err != nil {
		return fmt.Errorf("verify: resolve sign permission: %w", err)
	}
	h := sb.Block.Hash()
	if !v.verifyCached(h, expected, sb.Signature) {
		return fmt.Errorf("%w: block not signed by the elected signer", ErrBadSignature)
	}
	return nil
}

// AcceptOrphan runs the block acceptor's structural checks but defers
// signer verification (the orphan's epoch hash, and therefore its sign
// schedule, cannot be resolved until its ancestors are known). It returns
// the parent hashes missing from d.
func (v *Verifier) AcceptOrphan(d *dag.DAG, sb *dag.SignedBlock) (missing []dag.Hash, err error) {
	for _, p := range sb.Block.PrevHashes {
		if !d.Has(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return missing, nil
	}
	return nil, nil
}
