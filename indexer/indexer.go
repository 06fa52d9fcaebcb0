// Package indexer maintains secondary indexes over committed blocks so RPC
// and explorer callers can query by signer or detect equivocation without
// scanning the whole DAG.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/dagchain/consensus/events"
	"github.com/dagchain/consensus/storage"
)

const (
	prefixSignerBlocks = "idx:signer:block:"
	prefixEquivocation = "idx:equivocation:"
)

// Indexer subscribes to engine events and updates secondary lookup tables.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventBlockCommit, idx.onBlockCommit)
	emitter.Subscribe(events.EventEquivocationDetected, idx.onEquivocation)
	return idx
}

// GetBlocksBySigner returns every block hash signed by the given pubkey hex.
func (idx *Indexer) GetBlocksBySigner(signer string) ([]string, error) {
	return idx.getList(prefixSignerBlocks + signer)
}

// GetEquivocations returns every flagged conflicting-block hash for signer.
func (idx *Indexer) GetEquivocations(signer string) ([]string, error) {
	return idx.getList(prefixEquivocation + signer)
}

// ---- event handlers ----

func (idx *Indexer) onBlockCommit(ev events.Event) {
	hash, _ := ev.Data["hash"].(string)
	signer, _ := ev.Data["signer"].(string)
	if hash == "" || signer == "" {
		return
	}
	if err := idx.addToList(prefixSignerBlocks+signer, hash); err != nil {
		log.Printf("[indexer] block index write failed (signer=%s hash=%s): %v", signer, hash, err)
	}
}

func (idx *Indexer) onEquivocation(ev events.Event) {
	hash, _ := ev.Data["hash"].(string)
	signer, _ := ev.Data["signer"].(string)
	if hash == "" || signer == "" {
		return
	}
	if err := idx.addToList(prefixEquivocation+signer, hash); err != nil {
		log.Printf("[indexer] equivocation index write failed (signer=%s hash=%s): %v", signer, hash, err)
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return fmt.Errorf("read list: %w", err)
	}
	for _, id := range ids {
		if id == value {
			return nil // already present
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
