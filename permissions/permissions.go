// Package permissions turns an era's entropy seed and its validator set
// into the three deterministic orderings the node loop
// consults every timeslot: who may sign, who sits on this round's
// randomizer committee, and who may answer for a given block number.
// Grounded directly on spec.md §4.2 (no teacher equivalent exists — the
// teacher's consensus.PoA elects signers round-robin over a static list,
// with no entropy-seeded shuffle), with the dependency-injected
// constructor style borrowed from consensus.New.
package permissions

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/epoch"
)

// Validator is one entry of the active signer set fed to the seed-keyed
// shuffle. Stake is carried but does not weight selection (spec.md treats
// stake mutation as recognized/aggregated, not as a weighting input to the
// shuffle itself).
type Validator struct {
	PubKey crypto.PublicKey
	Stake  uint64
}

// SeedSource resolves the entropy seed and active validator set governing
// a given epoch hash. Implemented by the node engine, which owns the
// epoch.Tracker and the stake ledger; kept as an interface here so
// permissions has no dependency on node.
type SeedSource interface {
	SeedFor(epochHash dag.Hash) ([32]byte, []Validator, error)
}

// Schedule computes and caches the three per-epoch-hash shuffles.
type Schedule struct {
	source SeedSource
	params epoch.Params

	mu     sync.Mutex
	cached map[dag.Hash]*shuffles
}

type shuffles struct {
	signers     []Validator // one per timeslot of the era
	randomizers []Validator // six entries; each round reads RoundDuration of them, wrapping
	gossips     []Validator // one per in-epoch block number
}

// New builds a Schedule drawing seed/validator data from source.
func New(source SeedSource, params epoch.Params) *Schedule {
	return &Schedule{
		source: source,
		params: params,
		cached: make(map[dag.Hash]*shuffles),
	}
}

func (s *Schedule) get(h dag.Hash) (*shuffles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.cached[h]; ok {
		return sh, nil
	}
	seed, validators, err := s.source.SeedFor(h)
	if err != nil {
		return nil, fmt.Errorf("permissions: resolve seed for %s: %w", h, err)
	}
	eraLen := int(s.params.EraLength())
	sh := &shuffles{
		signers:     Shuffle(seed, validators, "signers", eraLen),
		randomizers: Shuffle(seed, validators, "randomizers", 6),
		gossips:     Shuffle(seed, validators, "gossips", eraLen),
	}
	s.cached[h] = sh
	return sh, nil
}

// Shuffle produces a domain-separated deterministic ordering of length
// size: a seeded Fisher-Yates permutation of validators, tiled whole (not
// resampled slot by slot) when size > len(validators) so every validator
// still gets a fair, non-repeating share of each pass. The domain string
// lets the three orderings diverge even though they share one seed.
func Shuffle(seed [32]byte, validators []Validator, domain string, size int) []Validator {
	if len(validators) == 0 || size <= 0 {
		return nil
	}
	pool := make([]Validator, len(validators))
	copy(pool, validators)
	sort.Slice(pool, func(i, j int) bool {
		return pool[i].PubKey.Hex() < pool[j].PubKey.Hex()
	})

	permuted := fisherYates(seed, domain, pool)

	out := make([]Validator, size)
	for i := 0; i < size; i++ {
		out[i] = permuted[i%len(permuted)]
	}
	return out
}

// fisherYates returns a deterministic permutation of pool using the
// Durstenfeld variant: for i from len(pool)-1 down to 1, swap pool[i] with
// pool[j] for a seeded j in [0,i]. Every validator appears exactly once.
func fisherYates(seed [32]byte, domain string, pool []Validator) []Validator {
	out := make([]Validator, len(pool))
	copy(out, pool)
	for i := len(out) - 1; i > 0; i-- {
		j := swapIndex(seed, domain, i, i+1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func swapIndex(seed [32]byte, domain string, index, mod int) int {
	h := sha256.New()
	h.Write(seed[:])
	h.Write([]byte(domain))
	var idxBytes [8]byte
	binary.BigEndian.PutUint64(idxBytes[:], uint64(index))
	h.Write(idxBytes[:])
	sum := h.Sum(nil)
	v := binary.BigEndian.Uint64(sum[:8])
	if mod == 0 {
		return 0
	}
	return int(v % uint64(mod))
}

// SignPermission returns the public key allowed to sign timeslot
// inEpochBlockNumber within the era governed by epoch hash h.
func (s *Schedule) SignPermission(h dag.Hash, inEpochBlockNumber uint64) (crypto.PublicKey, error) {
	sh, err := s.get(h)
	if err != nil {
		return nil, err
	}
	if len(sh.signers) == 0 {
		return nil, fmt.Errorf("permissions: no signers for epoch hash %s", h)
	}
	return sh.signers[int(inEpochBlockNumber)%len(sh.signers)].PubKey, nil
}

// RandomizerPubkeysForRound returns the ordered committee (size =
// RoundDuration) responsible for round's randomizer duties.
func (s *Schedule) RandomizerPubkeysForRound(h dag.Hash, round epoch.Round) ([]crypto.PublicKey, error) {
	sh, err := s.get(h)
	if err != nil {
		return nil, err
	}
	d := int(s.params.RoundDuration)
	start := int(round) * d
	out := make([]crypto.PublicKey, 0, d)
	for i := 0; i < d; i++ {
		idx := (start + i) % len(sh.randomizers)
		out = append(out, sh.randomizers[idx].PubKey)
	}
	return out, nil
}

// SecretSharers returns the set (as a hex-keyed map) of randomizers
// responsible for SECRETSHARE round duties, i.e. the prior round's
// randomizer committee.
func (s *Schedule) SecretSharers(h dag.Hash) (map[string]crypto.PublicKey, error) {
	keys, err := s.RandomizerPubkeysForRound(h, epoch.RoundPublic)
	if err != nil {
		return nil, err
	}
	return toSet(keys), nil
}

// Committers returns the set of validators permitted to publish
// CommitRandomTransaction, i.e. the SECRETSHARE round's randomizer
// committee (the round before COMMIT, as SecretSharers uses the round
// before SECRETSHARE).
func (s *Schedule) Committers(h dag.Hash) (map[string]crypto.PublicKey, error) {
	keys, err := s.RandomizerPubkeysForRound(h, epoch.RoundSecretShare)
	if err != nil {
		return nil, err
	}
	return toSet(keys), nil
}

// GossipPermission returns the public keys permitted to emit negative
// gossip for in-epoch block number inEpochBlockNumber.
func (s *Schedule) GossipPermission(h dag.Hash, inEpochBlockNumber uint64) ([]crypto.PublicKey, error) {
	sh, err := s.get(h)
	if err != nil {
		return nil, err
	}
	if len(sh.gossips) == 0 {
		return nil, nil
	}
	idx := int(inEpochBlockNumber) % len(sh.gossips)
	return []crypto.PublicKey{sh.gossips[idx].PubKey}, nil
}

func toSet(keys []crypto.PublicKey) map[string]crypto.PublicKey {
	out := make(map[string]crypto.PublicKey, len(keys))
	for _, k := range keys {
		out[hex.EncodeToString(k)] = k
	}
	return out
}
