package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/dagchain/consensus/conflict"
	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/epoch"
	"github.com/dagchain/consensus/indexer"
	"github.com/dagchain/consensus/mempool"
	"github.com/dagchain/consensus/node"
	"github.com/dagchain/consensus/permissions"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	d         *dag.DAG
	tracker   *epoch.Tracker
	schedule  *permissions.Schedule
	watcher   *conflict.Watcher
	pool      *mempool.Pool
	engine    *node.Engine
	broadcast node.Broadcaster
	idx       *indexer.Indexer // optional; nil disables getBlocksBySigner/getEquivocations
}

// NewHandler creates an RPC Handler.
func NewHandler(d *dag.DAG, tracker *epoch.Tracker, schedule *permissions.Schedule, watcher *conflict.Watcher, pool *mempool.Pool, engine *node.Engine, broadcast node.Broadcaster) *Handler {
	return &Handler{
		d:         d,
		tracker:   tracker,
		schedule:  schedule,
		watcher:   watcher,
		pool:      pool,
		engine:    engine,
		broadcast: broadcast,
	}
}

// WithIndexer attaches a signer index, enabling getBlocksBySigner and
// getEquivocations. Optional: a Handler built without it still serves
// every other method.
func (h *Handler) WithIndexer(idx *indexer.Indexer) *Handler {
	h.idx = idx
	return h
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getTops":
		return h.getTops(req)

	case "getBlock":
		return h.getBlock(req)

	case "getEpoch":
		return h.getEpoch(req)

	case "getSignSchedule":
		return h.getSignSchedule(req)

	case "getConflicts":
		return h.getConflicts(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.pool.SystemicSize())

	case "submitTransaction":
		return h.submitTransaction(req)

	case "getBlocksBySigner":
		return h.getBlocksBySigner(req)

	case "getEquivocations":
		return h.getEquivocations(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getTops(req Request) Response {
	tops := h.d.Tops()
	return okResponse(req.ID, map[string]any{
		"tops":          hashesToHex(tops),
		"longest_chain": h.d.LongestChainTop().String(),
	})
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if params.Hash == "" {
		return errResponse(req.ID, CodeInvalidParams, "hash is required")
	}
	hash, err := dag.HashFromHex(params.Hash)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "hash: "+err.Error())
	}
	sb, err := h.d.Get(hash)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"hash":      hash.String(),
		"timestamp": sb.Block.Timestamp,
		"prev":      hashesToHex(sb.Block.PrevHashes),
		"num_tx":    len(sb.Block.Systemic),
		"signature": hex.EncodeToString(sb.Signature[:]),
	})
}

func (h *Handler) getEpoch(req Request) Response {
	var params struct {
		Timeslot uint64 `json:"timeslot"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	start, end := h.tracker.EraBounds(params.Timeslot)
	return okResponse(req.ID, map[string]any{
		"era":                h.tracker.EpochNumberOf(params.Timeslot),
		"round":              h.tracker.RoundOf(params.Timeslot).String(),
		"in_epoch_block_num": h.tracker.InEpochBlockNumber(params.Timeslot),
		"era_start":          start,
		"era_end":            end,
	})
}

func (h *Handler) getSignSchedule(req Request) Response {
	var params struct {
		EpochHash          string `json:"epoch_hash"`
		InEpochBlockNumber uint64 `json:"in_epoch_block_number"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	hash, err := dag.HashFromHex(params.EpochHash)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "epoch_hash: "+err.Error())
	}
	signer, err := h.schedule.SignPermission(hash, params.InEpochBlockNumber)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"signer": signer.Hex()})
}

func (h *Handler) getConflicts(req Request) Response {
	var params struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	hash, err := dag.HashFromHex(params.Hash)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "hash: "+err.Error())
	}
	return okResponse(req.ID, hashesToHex(h.watcher.ConflictsOf(hash)))
}

func (h *Handler) submitTransaction(req Request) Response {
	var params struct {
		Data string `json:"data"` // hex-encoded, wire-packed systemic transaction
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	raw, err := hex.DecodeString(params.Data)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "data: "+err.Error())
	}
	tx, err := dag.ParseSystemicTxBytes(raw)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "decode transaction: "+err.Error())
	}
	h.engine.EnqueueSystemic(tx)
	if h.broadcast != nil {
		h.broadcast.BroadcastSystemic(tx)
	}
	return okResponse(req.ID, map[string]string{"tx_hash": tx.Hash().String()})
}

func (h *Handler) getBlocksBySigner(req Request) Response {
	if h.idx == nil {
		return errResponse(req.ID, CodeInternalError, "signer index not available")
	}
	var params struct {
		Signer string `json:"signer"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	hashes, err := h.idx.GetBlocksBySigner(params.Signer)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, hashes)
}

func (h *Handler) getEquivocations(req Request) Response {
	if h.idx == nil {
		return errResponse(req.ID, CodeInternalError, "signer index not available")
	}
	var params struct {
		Signer string `json:"signer"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	hashes, err := h.idx.GetEquivocations(params.Signer)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, hashes)
}

func hashesToHex(hashes []dag.Hash) []string {
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, h.String())
	}
	return out
}
