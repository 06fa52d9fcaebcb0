package tests

import (
	"errors"
	"testing"

	"github.com/dagchain/consensus/conflict"
	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/epoch"
	"github.com/dagchain/consensus/permissions"
)

func testParams() epoch.Params {
	return epoch.Params{BlockTime: 5, RoundDuration: 2}
}

// TestEraLengthAndRoundOf verifies the six-round era arithmetic: each round
// spans RoundDuration timeslots, genesis sits alone at the end of era 0.
func TestEraLengthAndRoundOf(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	genesis := dag.Sign(dag.Block{Timestamp: 0}, priv)
	d := dag.New(genesis)
	tr := epoch.NewTracker(d, testParams())

	if tr.EpochNumberOf(0) != 0 {
		t.Errorf("genesis era: got %d want 0", tr.EpochNumberOf(0))
	}
	if tr.EpochNumberOf(1) != 1 {
		t.Errorf("timeslot 1 era: got %d want 1", tr.EpochNumberOf(1))
	}
	// RoundDuration=2: timeslots 1,2 -> PUBLIC; 3,4 -> SECRETSHARE; ...
	if r := tr.RoundOf(1); r != epoch.RoundPublic {
		t.Errorf("round of timeslot 1: got %s want PUBLIC", r)
	}
	if r := tr.RoundOf(3); r != epoch.RoundSecretShare {
		t.Errorf("round of timeslot 3: got %s want SECRETSHARE", r)
	}
	if r := tr.RoundOf(11); r != epoch.RoundFinal {
		t.Errorf("round of timeslot 11: got %s want FINAL", r)
	}
	if !tr.IsNewEpochUpcoming(1) {
		t.Error("timeslot 1 should start a new era")
	}
	if tr.IsNewEpochUpcoming(2) {
		t.Error("timeslot 2 should not start a new era")
	}
}

// TestFindEpochHashForBlockBlockTimeFive verifies FindEpochHashForBlock
// converts a block's stored timestamp to a timeslot before asking which
// round it falls in. At BlockTime=5, RoundDuration=2 (era length 12), the
// block at timeslot 11 (timestamp 55) sits in the FINAL round (offset 10);
// a block at timeslot 13 (timestamp 65, era 2) should resolve its epoch
// hash back to that timeslot-11 block. Feeding the raw timestamp (55)
// straight into RoundOf instead of converting it to a timeslot computes a
// different offset (6, the REVEAL round) and would miss the match
// entirely, falling back to genesis.
func TestFindEpochHashForBlockBlockTimeFive(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	params := epoch.Params{BlockTime: 5, RoundDuration: 2} // era length 12
	genesis := dag.Sign(dag.Block{Timestamp: 0}, priv)
	d := dag.New(genesis)
	tr := epoch.NewTracker(d, params)

	prev := genesis.Block.Hash()
	var finalRoundHash dag.Hash
	for _, timeslot := range []int64{1, 11, 13} {
		b := dag.Block{PrevHashes: []dag.Hash{prev}, Timestamp: timeslot * params.BlockTime}
		sb := dag.Sign(b, priv)
		if _, err := d.Add(sb); err != nil {
			t.Fatal(err)
		}
		prev = sb.Block.Hash()
		if timeslot == 11 {
			finalRoundHash = prev
		}
	}

	boundary, err := tr.FindEpochHashForBlock(prev)
	if err != nil {
		t.Fatal(err)
	}
	if boundary != finalRoundHash {
		t.Errorf("epoch hash for the era-2 block: got %s want the timeslot-11 FINAL-round block %s", boundary, finalRoundHash)
	}
}

// TestAcceptTopsAsEpochHashes verifies tops get frozen as epoch hashes.
func TestAcceptTopsAsEpochHashes(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	genesis := dag.Sign(dag.Block{Timestamp: 0}, priv)
	d := dag.New(genesis)
	tr := epoch.NewTracker(d, testParams())

	tr.AcceptTopsAsEpochHashes()
	hashes := tr.EpochHashes()
	if _, ok := hashes[genesis.Block.Hash()]; !ok {
		t.Error("genesis should be frozen as an epoch hash after acceptance")
	}
}

// TestFallbackSeedDeterministic verifies FallbackSeed is a pure function of
// its inputs, chaining forward rather than reusing the same value.
func TestFallbackSeedDeterministic(t *testing.T) {
	var prev [32]byte
	prev[0] = 0x01

	s1 := epoch.FallbackSeed(prev, 5)
	s2 := epoch.FallbackSeed(prev, 5)
	if s1 != s2 {
		t.Error("FallbackSeed should be deterministic for identical inputs")
	}
	s3 := epoch.FallbackSeed(prev, 6)
	if s1 == s3 {
		t.Error("FallbackSeed should differ across era numbers")
	}
}

// fixedSeedSource returns a constant seed/validator set for every epoch hash.
type fixedSeedSource struct {
	seed       [32]byte
	validators []permissions.Validator
}

func (f fixedSeedSource) SeedFor(dag.Hash) ([32]byte, []permissions.Validator, error) {
	return f.seed, f.validators, nil
}

func threeValidators(t *testing.T) []permissions.Validator {
	t.Helper()
	var vs []permissions.Validator
	for i := 0; i < 3; i++ {
		_, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		vs = append(vs, permissions.Validator{PubKey: pub, Stake: uint64(i + 1)})
	}
	return vs
}

// TestScheduleSignPermissionDeterministic verifies SignPermission returns
// the same signer for the same (epoch hash, in-epoch block number) pair
// across repeated calls.
func TestScheduleSignPermissionDeterministic(t *testing.T) {
	vs := threeValidators(t)
	src := fixedSeedSource{validators: vs}
	src.seed[0] = 0x42
	sched := permissions.New(src, testParams())

	h := dag.Hash{0x01}
	first, err := sched.SignPermission(h, 0)
	if err != nil {
		t.Fatalf("SignPermission: %v", err)
	}
	second, err := sched.SignPermission(h, 0)
	if err != nil {
		t.Fatalf("SignPermission: %v", err)
	}
	if first.Hex() != second.Hex() {
		t.Error("SignPermission should be deterministic for the same epoch hash")
	}
}

// TestShuffleDomainSeparation verifies distinct domains produce distinct
// orderings even from the same seed, so signers/randomizers/gossips diverge.
func TestShuffleDomainSeparation(t *testing.T) {
	vs := threeValidators(t)
	var seed [32]byte
	seed[0] = 0x7

	signers := permissions.Shuffle(seed, vs, "signers", 6)
	randomizers := permissions.Shuffle(seed, vs, "randomizers", 6)

	same := true
	for i := range signers {
		if signers[i].PubKey.Hex() != randomizers[i].PubKey.Hex() {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct domains should not produce an identical ordering")
	}
}

// TestShuffleIsAPermutationNotResampling verifies Shuffle produces a true
// permutation of the validator set within each pass (no validator repeats
// before every other validator has appeared), and tiles whole passes when
// size exceeds the validator count rather than resampling independently.
func TestShuffleIsAPermutationNotResampling(t *testing.T) {
	vs := threeValidators(t)
	var seed [32]byte
	seed[0] = 0x11

	out := permissions.Shuffle(seed, vs, "signers", 9) // 3 full passes
	if len(out) != 9 {
		t.Fatalf("shuffle length: got %d want 9", len(out))
	}
	for pass := 0; pass < 3; pass++ {
		seen := make(map[string]bool, 3)
		for i := 0; i < 3; i++ {
			key := out[pass*3+i].PubKey.Hex()
			if seen[key] {
				t.Fatalf("pass %d repeats validator %s before the pass completed", pass, key)
			}
			seen[key] = true
		}
		if len(seen) != 3 {
			t.Fatalf("pass %d: got %d distinct validators want 3", pass, len(seen))
		}
	}
	for pass := 1; pass < 3; pass++ {
		for i := 0; i < 3; i++ {
			if out[i].PubKey.Hex() != out[pass*3+i].PubKey.Hex() {
				t.Fatalf("pass %d should tile the same permutation as pass 0 at offset %d", pass, i)
			}
		}
	}
}

// TestSchedulePropagatesSeedSourceError ensures a failing SeedSource error
// surfaces from every schedule query rather than panicking.
type failingSeedSource struct{}

func (failingSeedSource) SeedFor(dag.Hash) ([32]byte, []permissions.Validator, error) {
	return [32]byte{}, nil, errors.New("unseeded")
}

func TestSchedulePropagatesSeedSourceError(t *testing.T) {
	sched := permissions.New(failingSeedSource{}, testParams())
	if _, err := sched.SignPermission(dag.Hash{0x9}, 0); err == nil {
		t.Error("expected error to propagate from a failing SeedSource")
	}
}

// TestConflictWatcherDetectsEquivocation verifies that two blocks from the
// same signer in the same era are reported as mutual conflicts.
func TestConflictWatcherDetectsEquivocation(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	w := conflict.New()

	h1 := dag.Hash{0x01}
	h2 := dag.Hash{0x02}
	w.OnNewBlock(h1, 1, pub)
	w.OnNewBlock(h2, 1, pub)

	conflicts := w.ConflictsOf(h1)
	if len(conflicts) != 2 {
		t.Fatalf("conflicts of h1: got %d want 2", len(conflicts))
	}
}

// TestConflictWatcherNoFalsePositive verifies a single block from a signer
// reports no conflicts.
func TestConflictWatcherNoFalsePositive(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	w := conflict.New()
	h := dag.Hash{0x03}
	w.OnNewBlock(h, 1, pub)

	if conflicts := w.ConflictsOf(h); conflicts != nil {
		t.Errorf("expected no conflicts, got %v", conflicts)
	}
}
