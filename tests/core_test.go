package tests

import (
	"testing"

	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/mempool"
)

// TestKeyGenAndAddress verifies that key generation and address derivation work.
func TestKeyGenAndAddress(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(pub.Hex()) != 64 {
		t.Errorf("pubkey hex length: got %d want 64", len(pub.Hex()))
	}
	addr := pub.Address()
	if len(addr) != 40 {
		t.Errorf("address length: got %d want 40", len(addr))
	}
	// Roundtrip: derived public key should match
	derived := priv.Public()
	if derived.Hex() != pub.Hex() {
		t.Error("derived public key does not match")
	}
}

// TestSignVerify ensures Sign/Verify round-trips correctly.
func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("hello dagchain")
	sig := crypto.Sign(priv, data)
	if err := crypto.Verify(pub, data, sig); err != nil {
		t.Errorf("valid signature failed: %v", err)
	}
	if err := crypto.Verify(pub, []byte("tampered"), sig); err == nil {
		t.Error("tampered data should fail verification")
	}
}

// TestVerifyAny checks that the matching candidate key is returned, and
// that verification fails when no candidate matches.
func TestVerifyAny(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	_, other, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("candidate set")
	sig := crypto.Sign(priv, data)

	got, err := crypto.VerifyAny([]crypto.PublicKey{other, pub}, data, sig)
	if err != nil {
		t.Fatalf("VerifyAny: %v", err)
	}
	if got.Hex() != pub.Hex() {
		t.Error("VerifyAny returned the wrong candidate")
	}

	if _, err := crypto.VerifyAny([]crypto.PublicKey{other}, data, sig); err == nil {
		t.Error("VerifyAny should fail when no candidate matches")
	}
}

// TestBlockHashAndSign ensures block hashing is deterministic and Sign/
// VerifySigner round-trips.
func TestBlockHashAndSign(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	block := dag.Block{Timestamp: 1}
	if h1, h2 := block.Hash(), block.Hash(); h1 != h2 {
		t.Error("Hash() should be deterministic")
	}

	sb := dag.Sign(block, priv)
	if _, err := dag.VerifySigner(&sb, []crypto.PublicKey{pub}); err != nil {
		t.Errorf("VerifySigner: %v", err)
	}
}

// TestBlockPackParseRoundtrip ensures a signed block survives Pack/Parse.
func TestBlockPackParseRoundtrip(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	genesis := dag.Sign(dag.Block{Timestamp: 0}, priv)
	parent := genesis.Block.Hash()

	block := dag.Block{PrevHashes: []dag.Hash{parent}, Timestamp: 5}
	sb := dag.Sign(block, priv)

	raw := sb.Pack()
	parsed, err := dag.ParseSignedBlockBytes(raw)
	if err != nil {
		t.Fatalf("ParseSignedBlockBytes: %v", err)
	}
	if parsed.Block.Hash() != sb.Block.Hash() {
		t.Error("parsed block hash does not match original")
	}
	if parsed.Signature != sb.Signature {
		t.Error("parsed signature does not match original")
	}
}

// TestDAGAddAndTops verifies that adding a child block moves the frontier.
func TestDAGAddAndTops(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	genesis := dag.Sign(dag.Block{Timestamp: 0}, priv)
	d := dag.New(genesis)

	if got := d.Tops(); len(got) != 1 || got[0] != genesis.Block.Hash() {
		t.Fatalf("expected genesis as sole top, got %v", got)
	}

	child := dag.Sign(dag.Block{PrevHashes: []dag.Hash{genesis.Block.Hash()}, Timestamp: 1}, priv)
	if _, err := d.Add(child); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tops := d.Tops()
	if len(tops) != 1 || tops[0] != child.Block.Hash() {
		t.Fatalf("expected child as sole top, got %v", tops)
	}
	if !d.Has(genesis.Block.Hash()) {
		t.Error("genesis should still be present")
	}
}

// TestDAGAddMissingParent ensures a block referencing an unknown main
// parent is rejected so the caller can buffer it as an orphan.
func TestDAGAddMissingParent(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	genesis := dag.Sign(dag.Block{Timestamp: 0}, priv)
	d := dag.New(genesis)

	orphan := dag.Sign(dag.Block{PrevHashes: []dag.Hash{{0xAA}}, Timestamp: 1}, priv)
	if _, err := d.Add(orphan); err == nil {
		t.Error("expected ErrMissingParent")
	}
}

// TestDAGLongestChainTop verifies the deeper branch wins the frontier race.
func TestDAGLongestChainTop(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	genesis := dag.Sign(dag.Block{Timestamp: 0}, priv)
	d := dag.New(genesis)

	a := dag.Sign(dag.Block{PrevHashes: []dag.Hash{genesis.Block.Hash()}, Timestamp: 1}, priv)
	if _, err := d.Add(a); err != nil {
		t.Fatal(err)
	}
	b := dag.Sign(dag.Block{PrevHashes: []dag.Hash{a.Block.Hash()}, Timestamp: 2}, priv)
	if _, err := d.Add(b); err != nil {
		t.Fatal(err)
	}
	// A second, shallower branch off genesis.
	c := dag.Sign(dag.Block{PrevHashes: []dag.Hash{genesis.Block.Hash()}, Timestamp: 3}, priv)
	if _, err := d.Add(c); err != nil {
		t.Fatal(err)
	}

	if top := d.LongestChainTop(); top != b.Block.Hash() {
		t.Errorf("longest chain top: got %s want %s", top, b.Block.Hash())
	}
}

// TestMempoolSystemicRoundPartition verifies systemic transactions pop out
// partitioned by the round they are legal in, and that Add is idempotent.
func TestMempoolSystemicRoundPartition(t *testing.T) {
	pool := mempool.New()
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	tx := &dag.StakeHoldTransaction{Amount: 10, PubKey: pub}
	if err := pool.AddSystemic(tx); err != nil {
		t.Fatalf("AddSystemic: %v", err)
	}
	if err := pool.AddSystemic(tx); err == nil {
		t.Error("expected ErrAlreadyPresent on duplicate add")
	}
	if pool.SystemicSize() != 1 {
		t.Errorf("size: got %d want 1", pool.SystemicSize())
	}

	popped := pool.PopRoundSystemic(dag.RoundFinal)
	if len(popped) != 1 {
		t.Fatalf("popped: got %d want 1", len(popped))
	}
	if popped := pool.PopRoundSystemic(dag.RoundFinal); len(popped) != 0 {
		t.Error("second pop of the same round should be empty")
	}
}
