// Package node implements the per-second cooperative step loop: detect
// timeslot transitions, drive round-specific emission, sign blocks when
// elected, emit gossip, process incoming messages, and buffer orphan
// blocks until their ancestors arrive. Grounded on consensus.PoA's
// constructor/Run/ticker/logging conventions, generalized from PoA's
// round-robin single-chain model to the DAG/epoch/permissions model, and
// on original_source/src/core/node/node.py's step()/try_to_*() sequencing.
package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/dagchain/consensus/conflict"
	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/epoch"
	"github.com/dagchain/consensus/events"
	"github.com/dagchain/consensus/mempool"
	"github.com/dagchain/consensus/permissions"
	"github.com/dagchain/consensus/verify"
)

// Broadcaster publishes outbound frames. Implemented by package network;
// kept as an interface here so node has no dependency on transport
// mechanics.
type Broadcaster interface {
	BroadcastBlock(sb *dag.SignedBlock)
	BroadcastSystemic(tx dag.SystemicTx)
	BroadcastConflictingBlock(sb *dag.SignedBlock)
	RequestParent(hash dag.Hash)
}

const (
	maxOrphans   = 256
	maxOrphanAge = 64 // timeslots
)

type orphanEntry struct {
	block     dag.SignedBlock
	missing   map[dag.Hash]struct{}
	bornSlot  uint64
}

// Engine is the single-writer node: every method that mutates DAG,
// mempool, conflict-watcher, or epoch state must run on the goroutine
// that calls Step.
type Engine struct {
	d         *dag.DAG
	tracker   *epoch.Tracker
	schedule  *permissions.Schedule
	watcher   *conflict.Watcher
	pool      *mempool.Pool
	verifier  *verify.Verifier
	emitter   *events.Emitter
	broadcast Broadcaster

	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey

	genesisTimestamp int64
	blockTimeSeconds int64
	validators       []permissions.Validator

	mu      sync.Mutex
	lastSeed map[uint64][32]byte // era -> seed, for fallback chaining

	// Per-era ephemeral protocol state, keyed by epoch hash.
	boxKeys      map[dag.Hash]crypto.BoxPrivateKey
	sentShares   map[dag.Hash]bool
	pendingReveal map[dag.Hash]*dag.RevealRandomTransaction
	signedSlot   map[uint64]bool // timeslot -> this node already signed it

	seenFirstTick    bool
	lastSeenTimeslot uint64

	orphans []*orphanEntry

	inbox chan inboxMessage
}

type inboxKind int

const (
	inboxBlock inboxKind = iota
	inboxConflictingBlock
	inboxSystemic
)

type inboxMessage struct {
	kind     inboxKind
	block    *dag.SignedBlock
	systemic dag.SystemicTx
}

// Config bundles the construction-time dependencies of an Engine.
type Config struct {
	DAG              *dag.DAG
	Tracker          *epoch.Tracker
	Schedule         *permissions.Schedule
	Watcher          *conflict.Watcher
	Pool             *mempool.Pool
	Verifier         *verify.Verifier
	Emitter          *events.Emitter
	Broadcast        Broadcaster
	PrivKey          crypto.PrivateKey
	GenesisTimestamp int64
	BlockTimeSeconds int64
	Validators       []permissions.Validator
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	return &Engine{
		d:                cfg.DAG,
		tracker:          cfg.Tracker,
		schedule:         cfg.Schedule,
		watcher:          cfg.Watcher,
		pool:             cfg.Pool,
		verifier:         cfg.Verifier,
		emitter:          cfg.Emitter,
		broadcast:        cfg.Broadcast,
		privKey:          cfg.PrivKey,
		pubKey:           cfg.PrivKey.Public(),
		genesisTimestamp: cfg.GenesisTimestamp,
		blockTimeSeconds: cfg.BlockTimeSeconds,
		validators:       cfg.Validators,
		lastSeed:         make(map[uint64][32]byte),
		boxKeys:          make(map[dag.Hash]crypto.BoxPrivateKey),
		sentShares:       make(map[dag.Hash]bool),
		pendingReveal:    make(map[dag.Hash]*dag.RevealRandomTransaction),
		signedSlot:       make(map[uint64]bool),
		inbox:            make(chan inboxMessage, 1024),
	}
}

// SeedFor implements permissions.SeedSource: it resolves the prior epoch
// hash governing epochHash's own era, derives that era's entropy seed, and
// falls back to a chained hash of the previous seed if recovery fails
// (Open Question 1).
func (e *Engine) SeedFor(epochHash dag.Hash) ([32]byte, []permissions.Validator, error) {
	boundary, err := e.tracker.FindEpochHashForBlock(epochHash)
	if err != nil {
		return [32]byte{}, nil, fmt.Errorf("node: resolve era boundary: %w", err)
	}
	seed, ok, err := e.tracker.DeriveEntropySeed(epochHash, boundary)
	if err != nil {
		return [32]byte{}, nil, fmt.Errorf("node: %w: %v", verify.ErrUnseededEra, err)
	}

	sb, getErr := e.d.Get(epochHash)
	if getErr != nil {
		return [32]byte{}, nil, getErr
	}
	era := e.tracker.EpochNumberOf(e.tracker.TimeslotOfBlock(sb.Block.Timestamp))

	e.mu.Lock()
	defer e.mu.Unlock()
	if !ok {
		prev := e.lastSeed[era-1]
		seed = epoch.FallbackSeed(prev, era)
		log.Printf("[node] era %d unseeded, falling back to chained seed", era)
	}
	e.lastSeed[era] = seed
	return seed, e.validators, nil
}

// Enqueue hands an inbound message to the step loop. Safe to call from any
// goroutine; the step loop is the only consumer.
func (e *Engine) Enqueue(msg inboxMessage) {
	select {
	case e.inbox <- msg:
	default:
		log.Printf("[node] inbox full, dropping message")
	}
}

// EnqueueBlock is the public entry point for a freshly received block.
func (e *Engine) EnqueueBlock(sb *dag.SignedBlock) {
	e.Enqueue(inboxMessage{kind: inboxBlock, block: sb})
}

// EnqueueConflictingBlock is the public entry point for a block received
// via the conflicting-block gossip channel.
func (e *Engine) EnqueueConflictingBlock(sb *dag.SignedBlock) {
	e.Enqueue(inboxMessage{kind: inboxConflictingBlock, block: sb})
}

// EnqueueSystemic is the public entry point for a received systemic
// transaction.
func (e *Engine) EnqueueSystemic(tx dag.SystemicTx) {
	e.Enqueue(inboxMessage{kind: inboxSystemic, systemic: tx})
}

// Run drives Step once per tickInterval until ctx is cancelled or done is
// closed, mirroring consensus.PoA.Run's ticker loop.
func (e *Engine) Run(ctx context.Context, tickInterval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case now := <-ticker.C:
			e.Step(now)
		}
	}
}

// Step runs one full tick: timeslot bookkeeping, round emission, signing,
// inbox drain, and orphan GC. All DAG/mempool/conflict-watcher/epoch
// mutation in this process happens here.
func (e *Engine) Step(now time.Time) {
	timeslot := e.tracker.TimeslotOf(e.genesisTimestamp, now.Unix())

	if e.tracker.IsNewEpochUpcoming(timeslot) {
		e.tracker.AcceptTopsAsEpochHashes()
	}

	round := e.tracker.RoundOf(timeslot)
	e.emit(events.EventRoundEntered, timeslot, nil)

	skipSign := false
	if !e.seenFirstTick || timeslot != e.lastSeenTimeslot {
		e.seenFirstTick = true
		e.lastSeenTimeslot = timeslot
		skipSign = e.checkMissedSlot(timeslot)
	}

	switch round {
	case epoch.RoundPublic:
		e.tryPublishPublicKey()
	case epoch.RoundSecretShare:
		e.trySecretShare()
	case epoch.RoundCommit:
		e.tryCommitRandom()
	case epoch.RoundReveal:
		e.tryRevealRandom()
	case epoch.RoundFinal:
		e.pool.RemoveAllSystemic()
	}

	e.validateGossip()

	if !skipSign {
		e.trySignBlock(timeslot, round)
	}
	e.drainInbox(timeslot)
	e.gcOrphans(timeslot)
}

// checkMissedSlot emits a NegativeGossipTransaction if the previous
// timeslot has no block in the local DAG and this node holds gossip
// permission for it, skipping this tick's sign attempt when it does.
func (e *Engine) checkMissedSlot(timeslot uint64) bool {
	if timeslot == 0 {
		return false
	}
	prev := timeslot - 1
	prevUnix := e.genesisTimestamp + int64(prev)*e.blockTimeSeconds
	if len(e.d.AtTimeslot(prevUnix)) > 0 {
		return false
	}

	gossiped := false
	for _, epochHash := range e.tracker.EpochHashes() {
		answerers, err := e.schedule.GossipPermission(epochHash, e.tracker.InEpochBlockNumber(prev))
		if err != nil {
			continue
		}
		for _, a := range answerers {
			if !a.Equal(e.pubKey) {
				continue
			}
			tx := &dag.NegativeGossipTransaction{
				PubKey:      e.pubKey,
				Timestamp:   prevUnix,
				BlockNumber: prev,
			}
			h := tx.SigningHash(epochHash)
			tx.Signature = crypto.Sign(e.privKey, h[:])
			e.submitSystemic(tx)
			gossiped = true
		}
	}
	return gossiped
}

// validateGossip pairs accumulated negative/positive gossip by author and
// timeslot; a contradicting pair (same author claims both "missing" and
// "here it is" for the same block number) is cited with a
// PenaltyGossipTransaction. Non-conflicting gossip is requeued so it isn't
// lost to the drain.
func (e *Engine) validateGossip() {
	gossips := e.pool.PopCurrentGossips()
	if len(gossips) == 0 {
		return
	}

	type authorBlock struct {
		author      string
		blockNumber uint64
	}
	neg := make(map[authorBlock]*dag.NegativeGossipTransaction)
	pos := make(map[authorBlock]*dag.PositiveGossipTransaction)
	var others []dag.SystemicTx

	for _, g := range gossips {
		switch v := g.(type) {
		case *dag.NegativeGossipTransaction:
			neg[authorBlock{v.PubKey.Hex(), v.BlockNumber}] = v
		case *dag.PositiveGossipTransaction:
			pos[authorBlock{v.PubKey.Hex(), e.timeslotOfBlock(v.BlockHash)}] = v
		default:
			others = append(others, g)
		}
	}

	flagged := make(map[authorBlock]bool)
	for ab, n := range neg {
		p, ok := pos[ab]
		if !ok {
			continue
		}
		penalty := &dag.PenaltyGossipTransaction{PositiveHash: p.Hash(), NegativeHash: n.Hash(), PubKey: e.pubKey}
		h := penalty.SigningHash(dag.Hash{})
		penalty.Signature = crypto.Sign(e.privKey, h[:])
		e.submitSystemic(penalty)
		flagged[ab] = true
	}

	for ab, n := range neg {
		if !flagged[ab] {
			_ = e.pool.AddSystemic(n)
		}
	}
	for ab, p := range pos {
		if !flagged[ab] {
			_ = e.pool.AddSystemic(p)
		}
	}
	for _, o := range others {
		_ = e.pool.AddSystemic(o)
	}
}

func (e *Engine) emit(typ events.EventType, timeslot uint64, data map[string]any) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(events.Event{Type: typ, BlockHeight: int64(timeslot), Data: data})
}

// ---- round emission (spec.md §4.7.1) ----

func (e *Engine) tryPublishPublicKey() {
	for _, epochHash := range e.tracker.EpochHashes() {
		if _, done := e.boxKeys[epochHash]; done {
			continue
		}
		sharers, err := e.schedule.SecretSharers(epochHash)
		if err != nil {
			log.Printf("[node] resolve secret sharers: %v", err)
			continue
		}
		if _, allowed := sharers[e.pubKey.Hex()]; !allowed {
			continue
		}
		boxPub, boxPriv, err := crypto.GenerateBoxKeyPair()
		if err != nil {
			log.Printf("[node] generate box keypair: %v", err)
			continue
		}
		tx := &dag.PublicKeyTransaction{
			GeneratedPubKey: boxPub,
			SignerIndex:     e.signerIndex(),
			PubKey:          e.pubKey,
		}
		h := tx.SigningHash(epochHash)
		tx.Signature = crypto.Sign(e.privKey, h[:])

		e.boxKeys[epochHash] = boxPriv
		e.submitSystemic(tx)
	}
}

func (e *Engine) trySecretShare() {
	for _, epochHash := range e.tracker.EpochHashes() {
		if e.sentShares[epochHash] {
			continue
		}
		randomizers, err := e.schedule.RandomizerPubkeysForRound(epochHash, epoch.RoundPublic)
		if err != nil {
			log.Printf("[node] resolve randomizers: %v", err)
			continue
		}
		isRandomizer := false
		for _, r := range randomizers {
			if r.Hex() == e.pubKey.Hex() {
				isRandomizer = true
				break
			}
		}
		if !isRandomizer {
			continue
		}

		secret := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, secret); err != nil {
			log.Printf("[node] draw split-random secret: %v", err)
			continue
		}
		n := len(e.validators)
		k := crypto.Threshold(n)
		shares, err := crypto.SplitSecret(secret, n, k)
		if err != nil {
			log.Printf("[node] split secret: %v", err)
			continue
		}

		pieces := make([][]byte, n)
		for i, v := range e.validators {
			pub, ok := e.boxPubForSigner(epochHash, v.PubKey)
			if !ok {
				pieces[i] = nil
				continue
			}
			sealed, sealErr := crypto.BoxSeal(shares[i], pub)
			if sealErr != nil {
				pieces[i] = nil
				continue
			}
			pieces[i] = sealed
		}

		tx := &dag.SplitRandomTransaction{Pieces: pieces, SignerIndex: e.signerIndex(), PubKey: e.pubKey}
		h := tx.SigningHash(epochHash)
		tx.Signature = crypto.Sign(e.privKey, h[:])

		e.sentShares[epochHash] = true
		e.submitSystemic(tx)
	}
}

// boxPubForSigner looks up the ephemeral box public key a validator
// published this era by scanning back to the era boundary for its
// PublicKeyTransaction.
func (e *Engine) boxPubForSigner(epochHash dag.Hash, signer crypto.PublicKey) (crypto.BoxPublicKey, bool) {
	boundary, err := e.tracker.FindEpochHashForBlock(epochHash)
	if err != nil {
		return crypto.BoxPublicKey{}, false
	}
	var found crypto.BoxPublicKey
	var ok bool
	_ = e.d.Walk(epochHash, func(h dag.Hash) bool {
		if h == boundary {
			return false
		}
		sb, getErr := e.d.Get(h)
		if getErr != nil {
			return false
		}
		for _, stx := range sb.Block.Systemic {
			if pk, isPub := stx.(*dag.PublicKeyTransaction); isPub && pk.PubKey.Equal(signer) {
				found = pk.GeneratedPubKey
				ok = true
				return false
			}
		}
		return true
	})
	return found, ok
}

func (e *Engine) tryCommitRandom() {
	for _, epochHash := range e.tracker.EpochHashes() {
		if _, done := e.pendingReveal[epochHash]; done {
			continue
		}
		committers, err := e.schedule.Committers(epochHash)
		if err != nil {
			log.Printf("[node] resolve committers: %v", err)
			continue
		}
		if _, allowed := committers[e.pubKey.Hex()]; !allowed {
			continue
		}

		secret := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, secret); err != nil {
			log.Printf("[node] draw commit secret: %v", err)
			continue
		}
		boxPub, boxPriv, err := crypto.GenerateBoxKeyPair()
		if err != nil {
			log.Printf("[node] generate commit keypair: %v", err)
			continue
		}
		encrypted, err := crypto.BoxSeal(secret, boxPub)
		if err != nil {
			log.Printf("[node] seal commit: %v", err)
			continue
		}

		commit := &dag.CommitRandomTransaction{EncryptedRandom: encrypted, SignerIndex: e.signerIndex(), PubKey: e.pubKey}
		h := commit.SigningHash(epochHash)
		commit.Signature = crypto.Sign(e.privKey, h[:])

		reveal := &dag.RevealRandomTransaction{
			CommitHash: commit.Hash(),
			PrivateKey: boxPriv,
			PubKey:     e.pubKey,
		}
		rh := reveal.SigningHash(epochHash)
		reveal.Signature = crypto.Sign(e.privKey, rh[:])

		e.pendingReveal[epochHash] = reveal
		e.submitSystemic(commit)
	}
}

func (e *Engine) tryRevealRandom() {
	for epochHash, reveal := range e.pendingReveal {
		e.submitSystemic(reveal)
		delete(e.pendingReveal, epochHash)
	}
}

func (e *Engine) submitSystemic(tx dag.SystemicTx) {
	if err := e.pool.AddSystemic(tx); err != nil {
		log.Printf("[node] queue %s: %v", tx.Kind(), err)
	}
	e.broadcast.BroadcastSystemic(tx)
}

// ---- signing (spec.md §4.7.2) ----

func (e *Engine) trySignBlock(timeslot uint64, round epoch.Round) {
	if e.signedSlot[timeslot] {
		return
	}
	inEpochBlockNumber := e.tracker.InEpochBlockNumber(timeslot)

	var electedEpochHash dag.Hash
	elected := false
	for top, epochHash := range e.tracker.EpochHashes() {
		pub, err := e.schedule.SignPermission(epochHash, inEpochBlockNumber)
		if err != nil {
			continue
		}
		if pub.Equal(e.pubKey) {
			electedEpochHash = epochHash
			elected = true
			_ = top
			break
		}
	}
	if !elected {
		return
	}

	systemic := e.pool.PopRoundSystemic(round)

	if round == epoch.RoundPrivate {
		if boxPriv, ok := e.boxKeys[electedEpochHash]; ok {
			tx := &dag.PrivateKeyTransaction{PrivateKey: boxPriv, PubKey: e.pubKey}
			h := tx.SigningHash(electedEpochHash)
			tx.Signature = crypto.Sign(e.privKey, h[:])
			systemic = append(systemic, tx)
			delete(e.boxKeys, electedEpochHash)
		}
	}

	top := e.d.LongestChainTop()
	tops := e.d.Tops()
	_, candidates, err := e.watcher.FindConflictsBetween(e.d, tops, e.ancestorFloor(top))
	if err == nil && len(candidates) > 0 {
		penalty := &dag.PenaltyTransaction{Conflicts: candidates, PubKey: e.pubKey}
		h := penalty.SigningHash(electedEpochHash)
		penalty.Signature = crypto.Sign(e.privKey, h[:])
		systemic = append(systemic, penalty)
	}

	prevHashes := []dag.Hash{top}
	for _, c := range candidates {
		if c != top {
			prevHashes = append(prevHashes, c)
		}
	}

	block := dag.Block{
		PrevHashes: prevHashes,
		Timestamp:  e.genesisTimestamp + int64(timeslot)*e.blockTime(),
		Systemic:   systemic,
	}
	signed := dag.Sign(block, e.privKey)

	if _, err := e.d.Add(signed); err != nil {
		log.Printf("[node] add own signed block: %v", err)
		return
	}
	e.watcher.OnNewBlock(signed.Block.Hash(), e.tracker.EpochNumberOf(timeslot), e.pubKey)
	e.signedSlot[timeslot] = true
	e.pool.RemoveIncluded(&signed.Block)
	e.broadcast.BroadcastBlock(&signed)
	e.emit(events.EventBlockCommit, timeslot, map[string]any{
		"hash":   signed.Block.Hash().String(),
		"signer": e.pubKey.Hex(),
	})
}

func (e *Engine) blockTime() int64 { return e.blockTimeSeconds }

// signerIndex returns this node's position in the static validator
// registry, the index systemic transactions carry so the entropy-seed
// derivation can map a disclosed private key back to its ephemeral
// public-key transaction.
func (e *Engine) signerIndex() uint32 {
	for i, v := range e.validators {
		if v.PubKey.Equal(e.pubKey) {
			return uint32(i)
		}
	}
	return 0
}

func (e *Engine) ancestorFloor(top dag.Hash) dag.Hash {
	epochHash, err := e.tracker.FindEpochHashForBlock(top)
	if err != nil {
		return e.d.Genesis()
	}
	return epochHash
}

// ---- incoming message handling (spec.md §4.7.3) ----

func (e *Engine) drainInbox(timeslot uint64) {
	for {
		select {
		case msg := <-e.inbox:
			e.handleInbox(msg, timeslot)
		default:
			return
		}
	}
}

func (e *Engine) handleInbox(msg inboxMessage, timeslot uint64) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[node] recovered while handling inbound message: %v", r)
		}
	}()
	switch msg.kind {
	case inboxSystemic:
		e.handleSystemic(msg.systemic)
	case inboxBlock, inboxConflictingBlock:
		e.handleBlock(msg.block, timeslot)
	}
}

func (e *Engine) handleSystemic(tx dag.SystemicTx) {
	for _, epochHash := range e.tracker.EpochHashes() {
		era := e.tracker.EpochNumberOf(e.timeslotOfBlock(epochHash))
		if err := e.verifier.AcceptMempool(epochHash, era, tx); err != nil {
			continue
		}
		if err := e.pool.AddSystemic(tx); err != nil && err != mempool.ErrAlreadyPresent {
			log.Printf("[node] queue incoming systemic tx: %v", err)
		}
		e.pool.MarkRateLimited(tx.Author().Hex(), era, tx.Kind())
		return
	}
}

func (e *Engine) timeslotOfBlock(h dag.Hash) uint64 {
	sb, err := e.d.Get(h)
	if err != nil {
		return 0
	}
	return e.tracker.TimeslotOfBlock(sb.Block.Timestamp)
}

func (e *Engine) handleBlock(sb *dag.SignedBlock, timeslot uint64) {
	if sb == nil {
		return
	}
	h := sb.Block.Hash()
	if e.d.Has(h) {
		return
	}

	inEpochBlockNumber := e.tracker.InEpochBlockNumber(e.tracker.TimeslotOfBlock(sb.Block.Timestamp))

	missing, err := e.verifier.AcceptOrphan(e.d, sb)
	if err != nil {
		log.Printf("[node] orphan check: %v", err)
		return
	}
	if len(missing) > 0 {
		e.bufferOrphan(sb, missing, timeslot)
		for _, m := range missing {
			e.broadcast.RequestParent(m)
		}
		return
	}

	epochHash, err := e.epochHashGoverning(sb)
	if err != nil {
		e.bufferOrphan(sb, sb.Block.PrevHashes, timeslot)
		return
	}

	if err := e.verifier.AcceptBlock(e.d, sb, epochHash, inEpochBlockNumber); err != nil {
		log.Printf("[node] reject block %s: %v", h, err)
		return
	}

	signer, _ := dag.VerifySigner(sb, e.validatorPubKeys())
	if _, err := e.d.Add(*sb); err != nil {
		log.Printf("[node] add block %s: %v", h, err)
		return
	}
	era := e.tracker.EpochNumberOf(e.tracker.TimeslotOfBlock(sb.Block.Timestamp))
	e.watcher.OnNewBlock(h, era, signer)
	if conflicts := e.watcher.ConflictsOf(h); len(conflicts) > 0 {
		e.emit(events.EventEquivocationDetected, timeslot, map[string]any{
			"hash":   h.String(),
			"signer": signer.Hex(),
		})
	}
	e.pool.RemoveIncluded(&sb.Block)
	e.flushOrphans(timeslot)
}

// epochHashGoverning resolves the epoch hash governing sb before sb is
// itself added to the DAG: if sb's main parent sits in a FINAL round, the
// parent is the boundary governing sb's era; otherwise sb shares its
// parent's era and inherits the same governing hash.
func (e *Engine) epochHashGoverning(sb *dag.SignedBlock) (dag.Hash, error) {
	var mainParent dag.Hash
	if len(sb.Block.PrevHashes) > 0 {
		mainParent = sb.Block.PrevHashes[0]
	} else {
		mainParent = e.d.Genesis()
	}
	parentBlock, err := e.d.Get(mainParent)
	if err != nil {
		return dag.Hash{}, err
	}
	if e.tracker.RoundOf(e.tracker.TimeslotOfBlock(parentBlock.Block.Timestamp)) == epoch.RoundFinal {
		return mainParent, nil
	}
	return e.tracker.FindEpochHashForBlock(mainParent)
}

func (e *Engine) validatorPubKeys() []crypto.PublicKey {
	out := make([]crypto.PublicKey, len(e.validators))
	for i, v := range e.validators {
		out[i] = v.PubKey
	}
	return out
}

func (e *Engine) bufferOrphan(sb *dag.SignedBlock, missing []dag.Hash, timeslot uint64) {
	set := make(map[dag.Hash]struct{}, len(missing))
	for _, m := range missing {
		set[m] = struct{}{}
	}
	e.orphans = append(e.orphans, &orphanEntry{block: *sb, missing: set, bornSlot: timeslot})
	e.emit(events.EventOrphanBuffered, timeslot, map[string]any{"hash": sb.Block.Hash().String()})
	if len(e.orphans) > maxOrphans {
		e.orphans = e.orphans[len(e.orphans)-maxOrphans:]
	}
}

func (e *Engine) flushOrphans(timeslot uint64) {
	retry := e.orphans
	e.orphans = nil
	for _, o := range retry {
		sb := o.block
		e.handleBlock(&sb, timeslot)
	}
}

func (e *Engine) gcOrphans(timeslot uint64) {
	if len(e.orphans) == 0 {
		return
	}
	kept := e.orphans[:0]
	for _, o := range e.orphans {
		if timeslot-o.bornSlot <= maxOrphanAge {
			kept = append(kept, o)
		}
	}
	e.orphans = kept
}
