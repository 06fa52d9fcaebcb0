package storage_test

import (
	"testing"

	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/internal/testutil"
	"github.com/dagchain/consensus/mempool"
	"github.com/dagchain/consensus/storage"
)

// TestDAGStoreSnapshotAndLoad verifies a DAG's blocks survive a
// SnapshotDAG/LoadBlocks roundtrip through an in-memory DB.
func TestDAGStoreSnapshotAndLoad(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	genesis := dag.Sign(dag.Block{Timestamp: 0}, priv)
	d := dag.New(genesis)
	child := dag.Sign(dag.Block{PrevHashes: []dag.Hash{genesis.Block.Hash()}, Timestamp: 1}, priv)
	if _, err := d.Add(child); err != nil {
		t.Fatal(err)
	}

	db := testutil.NewMemDB()
	store := storage.NewDAGStore(db)
	if err := store.SnapshotDAG(d); err != nil {
		t.Fatalf("SnapshotDAG: %v", err)
	}

	loaded, err := store.LoadBlocks()
	if err != nil {
		t.Fatalf("LoadBlocks: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded blocks: got %d want 2", len(loaded))
	}

	byHash := make(map[dag.Hash]bool, len(loaded))
	for _, sb := range loaded {
		byHash[sb.Block.Hash()] = true
	}
	if !byHash[genesis.Block.Hash()] || !byHash[child.Block.Hash()] {
		t.Error("loaded set does not contain both persisted blocks")
	}
}

// TestDAGStoreSnapshotMempoolReplaces verifies SnapshotMempool clears any
// previously persisted systemic transactions before writing the current set.
func TestDAGStoreSnapshotMempoolReplaces(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	db := testutil.NewMemDB()
	store := storage.NewDAGStore(db)

	first := mempool.New()
	tx1 := &dag.StakeHoldTransaction{Amount: 1, PubKey: pub}
	if err := first.AddSystemic(tx1); err != nil {
		t.Fatal(err)
	}
	if err := store.SnapshotMempool(first); err != nil {
		t.Fatalf("SnapshotMempool (first): %v", err)
	}

	second := mempool.New()
	tx2 := &dag.StakeReleaseTransaction{PubKey: pub}
	if err := second.AddSystemic(tx2); err != nil {
		t.Fatal(err)
	}
	if err := store.SnapshotMempool(second); err != nil {
		t.Fatalf("SnapshotMempool (second): %v", err)
	}

	loaded, err := store.LoadSystemic()
	if err != nil {
		t.Fatalf("LoadSystemic: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("persisted systemic set: got %d want 1 (stale entry should be cleared)", len(loaded))
	}
	if loaded[0].Hash() != tx2.Hash() {
		t.Error("persisted systemic set still holds the replaced transaction")
	}
}
