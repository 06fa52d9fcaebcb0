// Package epoch slices wall-clock time into fixed-length eras of named
// rounds, promotes DAG tops into epoch hashes at era boundaries, and
// derives each era's entropy seed from the commit/reveal/secret-share
// transactions recorded in the previous era. The era-numbering scheme
// generalizes a three-round commit/reveal/partial-reveal model into the
// six named rounds this module's wire format carries.
package epoch

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
)

// Round re-exports dag.Round so epoch's public API doesn't force callers
// to import dag just to name a round; the type lives in dag because
// dag.SystemicTx.LegalRound returns it and epoch must not import back from
// dag's dependents.
type Round = dag.Round

const (
	RoundPublic      = dag.RoundPublic
	RoundSecretShare = dag.RoundSecretShare
	RoundCommit      = dag.RoundCommit
	RoundReveal      = dag.RoundReveal
	RoundPrivate     = dag.RoundPrivate
	RoundFinal       = dag.RoundFinal
)

// Params configures timeslot and round lengths. Defaults mirror the
// reference scenarios (BlockTime=5s, RoundDuration=2).
type Params struct {
	GenesisTimestamp int64  // unix seconds of timeslot 0
	BlockTime        int64  // seconds per timeslot
	RoundDuration    uint64 // timeslots per round
}

// EraLength is the number of timeslots in one era: six rounds.
func (p Params) EraLength() uint64 { return 6 * p.RoundDuration }

// Tracker computes round/era membership for timeslots and derives each
// era's entropy seed from the DAG it is bound to.
type Tracker struct {
	dag    *dag.DAG
	params Params

	mu          sync.RWMutex
	epochHashes map[dag.Hash]dag.Hash // top hash -> epoch hash governing it
}

// NewTracker builds a Tracker over d using params.
func NewTracker(d *dag.DAG, params Params) *Tracker {
	return &Tracker{
		dag:         d,
		params:      params,
		epochHashes: make(map[dag.Hash]dag.Hash),
	}
}

// TimeslotOf converts a unix timestamp to its timeslot number relative to
// genesis.
func (t *Tracker) TimeslotOf(genesisTimestamp, now int64) uint64 {
	if now <= genesisTimestamp {
		return 0
	}
	return uint64(now-genesisTimestamp) / uint64(t.params.BlockTime)
}

// TimeslotOfBlock converts a block's stored unix timestamp to its timeslot
// number, using the tracker's configured genesis instant. Every call site
// that needs to feed a block into EpochNumberOf/RoundOf/InEpochBlockNumber
// must go through this, never a raw Block.Timestamp.
func (t *Tracker) TimeslotOfBlock(blockTimestamp int64) uint64 {
	return t.TimeslotOf(t.params.GenesisTimestamp, blockTimestamp)
}

// InEpochBlockNumber returns timeslot's 0-based offset within its era.
// Genesis (timeslot 0) is the final timeslot of era 0 and has offset 0;
// era 1 begins at timeslot 1 with offset 0.
func (t *Tracker) InEpochBlockNumber(timeslot uint64) uint64 {
	if timeslot == 0 {
		return 0
	}
	return (timeslot - 1) % t.params.EraLength()
}

// EpochNumberOf returns the era number containing timeslot.
func (t *Tracker) EpochNumberOf(timeslot uint64) uint64 {
	if timeslot == 0 {
		return 0
	}
	return (timeslot-1)/t.params.EraLength() + 1
}

// RoundOf returns the named round timeslot falls in.
func (t *Tracker) RoundOf(timeslot uint64) Round {
	offset := t.InEpochBlockNumber(timeslot)
	return Round(offset / t.params.RoundDuration)
}

// IsNewEpochUpcoming reports whether timeslot is the first timeslot of its
// era, the point at which the node loop calls AcceptTopsAsEpochHashes.
func (t *Tracker) IsNewEpochUpcoming(timeslot uint64) bool {
	return t.InEpochBlockNumber(timeslot) == 0
}

// EraBounds returns the [start, end) timeslot range of the era containing
// timeslot.
func (t *Tracker) EraBounds(timeslot uint64) (start, end uint64) {
	era := t.EpochNumberOf(timeslot)
	if era == 0 {
		return 0, 1
	}
	length := t.params.EraLength()
	start = (era-1)*length + 1
	end = start + length
	return start, end
}

// AcceptTopsAsEpochHashes snapshots the DAG's current tops as the epoch
// hashes governing the era that is starting now.
func (t *Tracker) AcceptTopsAsEpochHashes() {
	tops := t.dag.Tops()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, top := range tops {
		t.epochHashes[top] = top
	}
}

// EpochHashes returns a copy of the current top->epoch-hash mapping.
func (t *Tracker) EpochHashes() map[dag.Hash]dag.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[dag.Hash]dag.Hash, len(t.epochHashes))
	for k, v := range t.epochHashes {
		out[k] = v
	}
	return out
}

// FindEpochHashForBlock walks ancestors strictly before hash until it
// finds a block whose timeslot falls in the previous era's FINAL round;
// that block's hash is the epoch hash governing hash. hash itself is
// never returned even if it happens to sit in a FINAL round, since a
// block's own era is always governed by an *earlier* era's frozen hash.
func (t *Tracker) FindEpochHashForBlock(hash dag.Hash) (dag.Hash, error) {
	ancestors, err := t.dag.Ancestors(hash)
	if err != nil {
		return dag.Hash{}, err
	}
	own, err := t.dag.Get(hash)
	if err != nil {
		return dag.Hash{}, err
	}
	ownEra := t.EpochNumberOf(t.TimeslotOfBlock(own.Block.Timestamp))
	for _, h := range ancestors[1:] {
		sb, getErr := t.dag.Get(h)
		if getErr != nil {
			return dag.Hash{}, getErr
		}
		slot := t.TimeslotOfBlock(sb.Block.Timestamp)
		if t.EpochNumberOf(slot)+1 == ownEra && t.RoundOf(slot) == RoundFinal {
			return h, nil
		}
	}
	return t.dag.Genesis(), nil
}

// FallbackSeed resolves Open Question 1: on an unseeded era, the next
// era's seed is SHA256(previous seed ‖ big-endian(era number)), chaining
// forward deterministically rather than freezing on a stuck value.
func FallbackSeed(previous [32]byte, era uint64) [32]byte {
	var eraBytes [8]byte
	binary.BigEndian.PutUint64(eraBytes[:], era)
	h := sha256.New()
	h.Write(previous[:])
	h.Write(eraBytes[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveEntropySeed walks the main chain from top back to (but not past)
// boundary, collecting every commit/reveal/split/private-key-disclosure
// transaction, and XORs every contribution it can recover into a single
// 32-byte seed. Matched commit/reveal pairs decrypt directly; a
// SplitRandomTransaction is a self-contained contribution, recoverable
// once at least k = ⌊n/2⌋+1 of its pieces can be decrypted using disclosed
// PrivateKeyTransactions. ok is false (UnseededEra) if fewer than
// k = ⌊n/2⌋+1 contributions recover, where n is the era's committee size
// (the validators who published a PublicKeyTransaction), not the number of
// commit/split transactions seen.
func (t *Tracker) DeriveEntropySeed(top dag.Hash, boundary dag.Hash) (seed [32]byte, ok bool, err error) {
	type commitEntry struct {
		tx *dag.CommitRandomTransaction
	}
	commits := make(map[dag.Hash]commitEntry) // commit hash -> commit
	var reveals []*dag.RevealRandomTransaction
	var splits []*dag.SplitRandomTransaction
	pubKeyBySigner := make(map[uint32]crypto.BoxPublicKey)
	privBySigner := make(map[uint32]crypto.BoxPrivateKey)
	pubKeyToSigner := make(map[crypto.BoxPublicKey]uint32)

	walkErr := t.dag.Walk(top, func(h dag.Hash) bool {
		if h == boundary {
			return false
		}
		sb, getErr := t.dag.Get(h)
		if getErr != nil {
			return false
		}
		for _, stx := range sb.Block.Systemic {
			switch v := stx.(type) {
			case *dag.CommitRandomTransaction:
				commits[v.Hash()] = commitEntry{tx: v}
			case *dag.RevealRandomTransaction:
				reveals = append(reveals, v)
			case *dag.SplitRandomTransaction:
				splits = append(splits, v)
			case *dag.PublicKeyTransaction:
				pubKeyBySigner[v.SignerIndex] = v.GeneratedPubKey
				pubKeyToSigner[v.GeneratedPubKey] = v.SignerIndex
			case *dag.PrivateKeyTransaction:
				pub, derivErr := v.PrivateKey.Public()
				if derivErr != nil {
					continue
				}
				if signer, found := pubKeyToSigner[pub]; found {
					privBySigner[signer] = v.PrivateKey
				}
			}
		}
		return true
	})
	if walkErr != nil {
		return seed, false, fmt.Errorf("epoch: derive entropy seed: %w", walkErr)
	}

	var recovered [][32]byte

	for commitHash, entry := range commits {
		for _, rv := range reveals {
			if rv.CommitHash != commitHash {
				continue
			}
			plain, openErr := crypto.BoxOpen(entry.tx.EncryptedRandom, rv.PrivateKey)
			if openErr != nil || len(plain) != 32 {
				continue
			}
			var v [32]byte
			copy(v[:], plain)
			recovered = append(recovered, v)
			break
		}
	}

	n := len(pubKeyBySigner)
	k := crypto.Threshold(n)
	for _, split := range splits {
		var shares [][]byte
		for signer := range pubKeyBySigner {
			priv, ok := privBySigner[signer]
			if !ok {
				continue
			}
			idx := int(signer)
			if idx >= len(split.Pieces) || split.Pieces[idx] == nil {
				continue
			}
			plain, openErr := crypto.BoxOpen(split.Pieces[idx], priv)
			if openErr != nil {
				continue
			}
			shares = append(shares, plain)
		}
		if n > 0 && len(shares) < k {
			continue
		}
		combined, combineErr := crypto.CombineShares(shares)
		if combineErr != nil || len(combined) != 32 {
			continue
		}
		var v [32]byte
		copy(v[:], combined)
		recovered = append(recovered, v)
	}

	threshold := crypto.Threshold(n)
	if len(recovered) < threshold || len(recovered) == 0 {
		return seed, false, nil
	}
	for _, v := range recovered {
		for i := range seed {
			seed[i] ^= v[i]
		}
	}
	return seed, true, nil
}
