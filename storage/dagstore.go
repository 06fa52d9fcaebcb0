package storage

import (
	"fmt"

	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/mempool"
)

// registerPrefix records a key prefix into storePrefixes so iteration and
// snapshotting stay in sync with the set of persisted namespaces.
func registerPrefix(p string) []byte {
	storePrefixes = append(storePrefixes, p)
	return []byte(p)
}

var storePrefixes []string

var (
	prefixBlock    = registerPrefix("blk:")
	prefixSystemic = registerPrefix("sys:")
)

// DAGStore persists a dag.DAG's blocks and a mempool.Pool's pending
// systemic transactions to a DB, replacing statedb.go's world-state
// write-buffer with periodic whole-snapshot persistence: the node is
// single-writer and ticks once per second, so there is no need for the
// per-transaction rollback statedb.go provided.
type DAGStore struct {
	db DB
}

// NewDAGStore wraps db as a DAGStore.
func NewDAGStore(db DB) *DAGStore {
	return &DAGStore{db: db}
}

// SnapshotDAG writes every block currently held by d to the store via a
// single batch. Safe to call periodically from outside the step loop; it
// only reads d.
func (s *DAGStore) SnapshotDAG(d *dag.DAG) error {
	batch := s.db.NewBatch()
	for _, sb := range d.All() {
		h := sb.Block.Hash()
		batch.Set(blockKey(h), sb.Pack())
	}
	return batch.Write()
}

// SnapshotMempool writes every pending systemic transaction in p to the
// store via a single batch, replacing whatever was persisted before.
func (s *DAGStore) SnapshotMempool(p *mempool.Pool) error {
	it := s.db.NewIterator(prefixSystemic)
	batch := s.db.NewBatch()
	for it.Next() {
		batch.Delete(append([]byte{}, it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("storage: clear systemic snapshot: %w", err)
	}
	for _, tx := range p.All() {
		batch.Set(systemicKey(tx.Hash()), tx.Pack())
	}
	return batch.Write()
}

// LoadBlocks returns every persisted block, unordered. Callers must
// re-`Add` them to a fresh *dag.DAG in an order that respects parent
// availability (the genesis block first, then repeated passes over the
// remainder until none are left, mirroring how blocks arrive live).
func (s *DAGStore) LoadBlocks() ([]dag.SignedBlock, error) {
	it := s.db.NewIterator(prefixBlock)
	defer it.Release()
	var out []dag.SignedBlock
	for it.Next() {
		sb, err := dag.ParseSignedBlockBytes(it.Value())
		if err != nil {
			return nil, fmt.Errorf("storage: parse persisted block: %w", err)
		}
		out = append(out, *sb)
	}
	return out, it.Error()
}

// LoadSystemic returns every persisted pending systemic transaction.
func (s *DAGStore) LoadSystemic() ([]dag.SystemicTx, error) {
	it := s.db.NewIterator(prefixSystemic)
	defer it.Release()
	var out []dag.SystemicTx
	for it.Next() {
		tx, err := dag.ParseSystemicTxBytes(it.Value())
		if err != nil {
			return nil, fmt.Errorf("storage: parse persisted systemic tx: %w", err)
		}
		out = append(out, tx)
	}
	return out, it.Error()
}

func blockKey(h dag.Hash) []byte {
	return append(append([]byte{}, prefixBlock...), h[:]...)
}

func systemicKey(h dag.Hash) []byte {
	return append(append([]byte{}, prefixSystemic...), h[:]...)
}
