package tests

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/dagchain/consensus/conflict"
	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/epoch"
	"github.com/dagchain/consensus/events"
	"github.com/dagchain/consensus/mempool"
	"github.com/dagchain/consensus/node"
	"github.com/dagchain/consensus/permissions"
	"github.com/dagchain/consensus/rpc"
	"github.com/dagchain/consensus/verify"
)

// seedAdapter forwards permissions.SeedSource to an Engine built after the
// Schedule, breaking the Schedule<->Engine construction cycle the same way
// cmd/consensusd/main.go does.
type seedAdapter struct{ engine *node.Engine }

func (s *seedAdapter) SeedFor(h dag.Hash) ([32]byte, []permissions.Validator, error) {
	return s.engine.SeedFor(h)
}

// newTestRPCHandler builds an RPC handler backed by a single-validator
// engine over a fresh genesis-only DAG.
func newTestRPCHandler(t *testing.T) *rpc.Handler {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	genesis := dag.Sign(dag.Block{Timestamp: 0}, priv)
	d := dag.New(genesis)
	params := epoch.Params{BlockTime: 5, RoundDuration: 2}
	tracker := epoch.NewTracker(d, params)
	watcher := conflict.New()
	pool := mempool.New()

	seedSrc := &seedAdapter{}
	schedule := permissions.New(seedSrc, params)

	verifier, err := verify.New(schedule, watcher, pool, tracker)
	if err != nil {
		t.Fatal(err)
	}

	engine := node.New(node.Config{
		DAG:              d,
		Tracker:          tracker,
		Schedule:         schedule,
		Watcher:          watcher,
		Pool:             pool,
		Verifier:         verifier,
		Emitter:          events.NewEmitter(),
		PrivKey:          priv,
		GenesisTimestamp: 0,
		BlockTimeSeconds: params.BlockTime,
		Validators:       []permissions.Validator{{PubKey: pub, Stake: 1}},
	})
	seedSrc.engine = engine

	return rpc.NewHandler(d, tracker, schedule, watcher, pool, engine, nil)
}

func dispatch(handler *rpc.Handler, method string, params any) rpc.Response {
	raw, _ := json.Marshal(params)
	return handler.Dispatch(rpc.Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  raw,
	})
}

// TestRPCGetTops verifies that getTops reports the genesis block as the
// sole top and longest-chain tip on a fresh DAG.
func TestRPCGetTops(t *testing.T) {
	handler := newTestRPCHandler(t)
	resp := dispatch(handler, "getTops", struct{}{})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	tops, ok := result["tops"].([]string)
	if !ok || len(tops) != 1 {
		t.Fatalf("tops: got %v", result["tops"])
	}
}

// TestRPCGetMempoolSize verifies getMempoolSize returns 0 for an empty mempool.
func TestRPCGetMempoolSize(t *testing.T) {
	handler := newTestRPCHandler(t)
	resp := dispatch(handler, "getMempoolSize", struct{}{})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	size, ok := resp.Result.(int)
	if !ok || size != 0 {
		t.Errorf("mempool size: got %v want 0", resp.Result)
	}
}

// TestRPCGetEpoch verifies getEpoch reports era 0 / round PUBLIC for
// timeslot 0.
func TestRPCGetEpoch(t *testing.T) {
	handler := newTestRPCHandler(t)
	resp := dispatch(handler, "getEpoch", map[string]uint64{"timeslot": 0})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result["era"] != uint64(0) {
		t.Errorf("era: got %v want 0", result["era"])
	}
}

// TestRPCSubmitTransaction verifies a stake-hold transaction submitted as
// hex-encoded wire bytes is parsed, enqueued, and its hash echoed back.
func TestRPCSubmitTransaction(t *testing.T) {
	handler := newTestRPCHandler(t)
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx := &dag.StakeHoldTransaction{Amount: 5, PubKey: pub}
	raw := tx.Pack()

	resp := dispatch(handler, "submitTransaction", map[string]string{"data": hex.EncodeToString(raw)})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	result, ok := resp.Result.(map[string]string)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result["tx_hash"] != tx.Hash().String() {
		t.Errorf("tx_hash: got %v want %s", result["tx_hash"], tx.Hash())
	}
}

// TestRPCMethodNotFound verifies that unknown methods return a -32601 error.
func TestRPCMethodNotFound(t *testing.T) {
	handler := newTestRPCHandler(t)
	resp := dispatch(handler, "nonExistentMethod", struct{}{})
	if resp.Error == nil {
		t.Error("expected error for unknown method")
	}
	if resp.Error.Code != rpc.CodeMethodNotFound {
		t.Errorf("error code: got %d want %d", resp.Error.Code, rpc.CodeMethodNotFound)
	}
}
