package dag

import (
	"fmt"

	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/wire"
)

// SystemicTxKind tags the wire encoding of a systemic transaction. The many
// isinstance checks of a from-scratch port collapse to a switch on this
// byte, per spec.md §9's design note.
type SystemicTxKind byte

const (
	KindPublicKey SystemicTxKind = iota + 1
	KindSplitRandom
	KindCommitRandom
	KindRevealRandom
	KindPrivateKey
	KindStakeHold
	KindStakeRelease
	KindPenalty
	KindNegativeGossip
	KindPositiveGossip
	KindPenaltyGossip
)

func (k SystemicTxKind) String() string {
	switch k {
	case KindPublicKey:
		return "public_key"
	case KindSplitRandom:
		return "split_random"
	case KindCommitRandom:
		return "commit_random"
	case KindRevealRandom:
		return "reveal_random"
	case KindPrivateKey:
		return "private_key"
	case KindStakeHold:
		return "stake_hold"
	case KindStakeRelease:
		return "stake_release"
	case KindPenalty:
		return "penalty"
	case KindNegativeGossip:
		return "negative_gossip"
	case KindPositiveGossip:
		return "positive_gossip"
	case KindPenaltyGossip:
		return "penalty_gossip"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// Round identifies which of the six named rounds of an era a systemic
// transaction is legal in. Defined here (rather than in package epoch) so
// dag has no dependency on epoch; epoch imports dag, not the reverse.
type Round int

const (
	RoundPublic Round = iota
	RoundSecretShare
	RoundCommit
	RoundReveal
	RoundPrivate
	RoundFinal
)

func (r Round) String() string {
	switch r {
	case RoundPublic:
		return "PUBLIC"
	case RoundSecretShare:
		return "SECRETSHARE"
	case RoundCommit:
		return "COMMIT"
	case RoundReveal:
		return "REVEAL"
	case RoundPrivate:
		return "PRIVATE"
	case RoundFinal:
		return "FINAL"
	default:
		return "UNKNOWN"
	}
}

// SystemicTx is the tagged-sum interface every systemic transaction variant
// implements.
type SystemicTx interface {
	Kind() SystemicTxKind
	// LegalRound reports the round this transaction kind may appear in.
	LegalRound() Round
	// Pack returns the canonical wire encoding, kind byte included.
	Pack() []byte
	// SigningHash returns the hash the author's signature covers. epochHash
	// binds commit randomness to its era so it cannot be replayed into a
	// different one (grounded in original_source/transaction/
	// commit_transactions.py's get_signing_hash).
	SigningHash(epochHash Hash) Hash
	// Hash is this transaction's content-addressed identity, used for
	// mempool dedup and for RevealRandomTransaction.CommitHash binding.
	Hash() Hash
	// Author returns the public key that must have produced Signature.
	// PrivateKeyTransaction and RevealRandomTransaction also return their
	// PubKey field, not the generated ephemeral key they carry.
	Author() crypto.PublicKey
	// Sig returns the transaction's signature.
	Sig() crypto.Signature
}

func hashOf(b []byte) Hash {
	sum := crypto.HashBytes(b)
	var h Hash
	copy(h[:], sum)
	return h
}

// ---- PublicKeyTransaction ----

// PublicKeyTransaction declares the ephemeral Curve25519 public key a
// validator will use this era to receive secret-share pieces.
type PublicKeyTransaction struct {
	GeneratedPubKey crypto.BoxPublicKey
	SignerIndex     uint32
	PubKey          crypto.PublicKey // signing identity
	Signature       crypto.Signature
}

func (tx *PublicKeyTransaction) Kind() SystemicTxKind { return KindPublicKey }
func (tx *PublicKeyTransaction) LegalRound() Round    { return RoundPublic }
func (tx *PublicKeyTransaction) Author() crypto.PublicKey { return tx.PubKey }
func (tx *PublicKeyTransaction) Sig() crypto.Signature     { return tx.Signature }

func (tx *PublicKeyTransaction) body() []byte {
	return wire.NewWriter(64).
		PubKey(tx.GeneratedPubKey).
		U32(tx.SignerIndex).
		PubKey(tx.PubKey.Array()).
		Finish()
}

func (tx *PublicKeyTransaction) SigningHash(epochHash Hash) Hash {
	return hashOf(append(tx.body(), epochHash[:]...))
}

func (tx *PublicKeyTransaction) Hash() Hash {
	return hashOf(tx.Pack())
}

func (tx *PublicKeyTransaction) Pack() []byte {
	return wire.NewWriter(1+len(tx.body())+wire.SignatureSize).
		Byte(byte(KindPublicKey)).
		Raw(tx.body()).
		Signature(tx.Signature).
		Finish()
}

func parsePublicKeyTransaction(r *wire.Reader) (*PublicKeyTransaction, error) {
	gen, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("public_key: generated pubkey: %w", err)
	}
	idx, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("public_key: signer index: %w", err)
	}
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("public_key: pubkey: %w", err)
	}
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("public_key: signature: %w", err)
	}
	return &PublicKeyTransaction{
		GeneratedPubKey: crypto.BoxPublicKey(gen),
		SignerIndex:     idx,
		PubKey:          crypto.PubKeyFromArray(pub),
		Signature:       sig,
	}, nil
}

// ---- SplitRandomTransaction ----

// SplitRandomTransaction publishes one Shamir share per validator,
// encrypted under each recipient's ephemeral public key from PUBLIC.
type SplitRandomTransaction struct {
	Pieces      [][]byte // pieces[i] encrypted for the i-th validator; nil entry = recipient had no published key
	SignerIndex uint32
	PubKey      crypto.PublicKey
	Signature   crypto.Signature
}

func (tx *SplitRandomTransaction) Kind() SystemicTxKind      { return KindSplitRandom }
func (tx *SplitRandomTransaction) LegalRound() Round         { return RoundSecretShare }
func (tx *SplitRandomTransaction) Author() crypto.PublicKey  { return tx.PubKey }
func (tx *SplitRandomTransaction) Sig() crypto.Signature     { return tx.Signature }

func (tx *SplitRandomTransaction) body() []byte {
	w := wire.NewWriter(256).U32(uint32(len(tx.Pieces)))
	for _, p := range tx.Pieces {
		w.Bytes(p)
	}
	w.U32(tx.SignerIndex).PubKey(tx.PubKey.Array())
	return w.Finish()
}

func (tx *SplitRandomTransaction) SigningHash(epochHash Hash) Hash {
	return hashOf(append(tx.body(), epochHash[:]...))
}

func (tx *SplitRandomTransaction) Hash() Hash { return hashOf(tx.Pack()) }

func (tx *SplitRandomTransaction) Pack() []byte {
	return wire.NewWriter(1+len(tx.body())+wire.SignatureSize).
		Byte(byte(KindSplitRandom)).
		Raw(tx.body()).
		Signature(tx.Signature).
		Finish()
}

func parseSplitRandomTransaction(r *wire.Reader) (*SplitRandomTransaction, error) {
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("split_random: piece count: %w", err)
	}
	pieces := make([][]byte, count)
	for i := range pieces {
		pieces[i], err = r.Bytes()
		if err != nil {
			return nil, fmt.Errorf("split_random: piece %d: %w", i, err)
		}
	}
	idx, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("split_random: signer index: %w", err)
	}
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("split_random: pubkey: %w", err)
	}
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("split_random: signature: %w", err)
	}
	return &SplitRandomTransaction{
		Pieces:      pieces,
		SignerIndex: idx,
		PubKey:      crypto.PubKeyFromArray(pub),
		Signature:   sig,
	}, nil
}

// ---- CommitRandomTransaction ----

// CommitRandomTransaction encrypts 32 random bytes under a fresh keypair
// the signer keeps private until REVEAL.
type CommitRandomTransaction struct {
	EncryptedRandom []byte
	SignerIndex     uint32
	PubKey          crypto.PublicKey
	Signature       crypto.Signature
}

func (tx *CommitRandomTransaction) Kind() SystemicTxKind     { return KindCommitRandom }
func (tx *CommitRandomTransaction) LegalRound() Round        { return RoundCommit }
func (tx *CommitRandomTransaction) Author() crypto.PublicKey { return tx.PubKey }
func (tx *CommitRandomTransaction) Sig() crypto.Signature    { return tx.Signature }

func (tx *CommitRandomTransaction) body() []byte {
	return wire.NewWriter(128).
		Bytes(tx.EncryptedRandom).
		U32(tx.SignerIndex).
		PubKey(tx.PubKey.Array()).
		Finish()
}

// SigningHash includes epochHash so a commit cannot be replayed verbatim
// into a later era (original_source/transaction/commit_transactions.py).
func (tx *CommitRandomTransaction) SigningHash(epochHash Hash) Hash {
	return hashOf(append(tx.body(), epochHash[:]...))
}

// Hash is the reference hash reveals bind to
// (commit_transactions.py:get_reference_hash).
func (tx *CommitRandomTransaction) Hash() Hash {
	return hashOf(append(tx.Pack(), tx.Signature[:]...))
}

func (tx *CommitRandomTransaction) Pack() []byte {
	return wire.NewWriter(1+len(tx.body())+wire.SignatureSize).
		Byte(byte(KindCommitRandom)).
		Raw(tx.body()).
		Signature(tx.Signature).
		Finish()
}

func parseCommitRandomTransaction(r *wire.Reader) (*CommitRandomTransaction, error) {
	enc, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("commit_random: encrypted random: %w", err)
	}
	idx, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("commit_random: signer index: %w", err)
	}
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("commit_random: pubkey: %w", err)
	}
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("commit_random: signature: %w", err)
	}
	return &CommitRandomTransaction{
		EncryptedRandom: enc,
		SignerIndex:     idx,
		PubKey:          crypto.PubKeyFromArray(pub),
		Signature:       sig,
	}, nil
}

// ---- RevealRandomTransaction ----

// RevealRandomTransaction discloses the private key needed to decrypt a
// matching CommitRandomTransaction.
type RevealRandomTransaction struct {
	CommitHash Hash
	PrivateKey crypto.BoxPrivateKey
	PubKey     crypto.PublicKey
	Signature  crypto.Signature
}

func (tx *RevealRandomTransaction) Kind() SystemicTxKind     { return KindRevealRandom }
func (tx *RevealRandomTransaction) LegalRound() Round        { return RoundReveal }
func (tx *RevealRandomTransaction) Author() crypto.PublicKey { return tx.PubKey }
func (tx *RevealRandomTransaction) Sig() crypto.Signature    { return tx.Signature }

func (tx *RevealRandomTransaction) body() []byte {
	return wire.NewWriter(96).
		Hash([wire.HashSize]byte(tx.CommitHash)).
		PubKey([32]byte(tx.PrivateKey)).
		PubKey(tx.PubKey.Array()).
		Finish()
}

func (tx *RevealRandomTransaction) SigningHash(Hash) Hash {
	return hashOf(tx.body())
}

func (tx *RevealRandomTransaction) Hash() Hash { return hashOf(tx.Pack()) }

func (tx *RevealRandomTransaction) Pack() []byte {
	return wire.NewWriter(1+len(tx.body())+wire.SignatureSize).
		Byte(byte(KindRevealRandom)).
		Raw(tx.body()).
		Signature(tx.Signature).
		Finish()
}

func parseRevealRandomTransaction(r *wire.Reader) (*RevealRandomTransaction, error) {
	commitHash, err := r.Hash()
	if err != nil {
		return nil, fmt.Errorf("reveal_random: commit hash: %w", err)
	}
	priv, err := r.PubKey() // same fixed width as a box key
	if err != nil {
		return nil, fmt.Errorf("reveal_random: private key: %w", err)
	}
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("reveal_random: pubkey: %w", err)
	}
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("reveal_random: signature: %w", err)
	}
	return &RevealRandomTransaction{
		CommitHash: Hash(commitHash),
		PrivateKey: crypto.BoxPrivateKey(priv),
		PubKey:     crypto.PubKeyFromArray(pub),
		Signature:  sig,
	}, nil
}

// ---- PrivateKeyTransaction ----

// PrivateKeyTransaction discloses the ephemeral private key matching an
// earlier PublicKeyTransaction, letting everyone decode the SplitRandom
// piece addressed to this signer.
type PrivateKeyTransaction struct {
	PrivateKey crypto.BoxPrivateKey
	PubKey     crypto.PublicKey
	Signature  crypto.Signature
}

func (tx *PrivateKeyTransaction) Kind() SystemicTxKind     { return KindPrivateKey }
func (tx *PrivateKeyTransaction) LegalRound() Round        { return RoundPrivate }
func (tx *PrivateKeyTransaction) Author() crypto.PublicKey { return tx.PubKey }
func (tx *PrivateKeyTransaction) Sig() crypto.Signature    { return tx.Signature }

func (tx *PrivateKeyTransaction) body() []byte {
	return wire.NewWriter(64).
		PubKey([32]byte(tx.PrivateKey)).
		PubKey(tx.PubKey.Array()).
		Finish()
}

func (tx *PrivateKeyTransaction) SigningHash(Hash) Hash { return hashOf(tx.body()) }
func (tx *PrivateKeyTransaction) Hash() Hash            { return hashOf(tx.Pack()) }

func (tx *PrivateKeyTransaction) Pack() []byte {
	return wire.NewWriter(1+len(tx.body())+wire.SignatureSize).
		Byte(byte(KindPrivateKey)).
		Raw(tx.body()).
		Signature(tx.Signature).
		Finish()
}

func parsePrivateKeyTransaction(r *wire.Reader) (*PrivateKeyTransaction, error) {
	priv, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("private_key: private key: %w", err)
	}
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("private_key: pubkey: %w", err)
	}
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("private_key: signature: %w", err)
	}
	return &PrivateKeyTransaction{
		PrivateKey: crypto.BoxPrivateKey(priv),
		PubKey:     crypto.PubKeyFromArray(pub),
		Signature:  sig,
	}, nil
}

// ---- StakeHoldTransaction / StakeReleaseTransaction ----

// StakeHoldTransaction locks stake, making PubKey eligible for election
// from the next epoch it is accounted in.
type StakeHoldTransaction struct {
	Amount    uint64
	PubKey    crypto.PublicKey
	Signature crypto.Signature
}

func (tx *StakeHoldTransaction) Kind() SystemicTxKind     { return KindStakeHold }
func (tx *StakeHoldTransaction) LegalRound() Round        { return RoundFinal }
func (tx *StakeHoldTransaction) Author() crypto.PublicKey { return tx.PubKey }
func (tx *StakeHoldTransaction) Sig() crypto.Signature    { return tx.Signature }

func (tx *StakeHoldTransaction) body() []byte {
	return wire.NewWriter(48).U32(uint32(tx.Amount >> 32)).U32(uint32(tx.Amount)).PubKey(tx.PubKey.Array()).Finish()
}
func (tx *StakeHoldTransaction) SigningHash(Hash) Hash { return hashOf(tx.body()) }
func (tx *StakeHoldTransaction) Hash() Hash            { return hashOf(tx.Pack()) }
func (tx *StakeHoldTransaction) Pack() []byte {
	return wire.NewWriter(1+len(tx.body())+wire.SignatureSize).
		Byte(byte(KindStakeHold)).Raw(tx.body()).Signature(tx.Signature).Finish()
}

func parseStakeHoldTransaction(r *wire.Reader) (*StakeHoldTransaction, error) {
	hi, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("stake_hold: amount high: %w", err)
	}
	lo, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("stake_hold: amount low: %w", err)
	}
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("stake_hold: pubkey: %w", err)
	}
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("stake_hold: signature: %w", err)
	}
	return &StakeHoldTransaction{
		Amount:    uint64(hi)<<32 | uint64(lo),
		PubKey:    crypto.PubKeyFromArray(pub),
		Signature: sig,
	}, nil
}

// StakeReleaseTransaction unlocks stake previously held by PubKey.
type StakeReleaseTransaction struct {
	PubKey    crypto.PublicKey
	Signature crypto.Signature
}

func (tx *StakeReleaseTransaction) Kind() SystemicTxKind     { return KindStakeRelease }
func (tx *StakeReleaseTransaction) LegalRound() Round        { return RoundFinal }
func (tx *StakeReleaseTransaction) Author() crypto.PublicKey { return tx.PubKey }
func (tx *StakeReleaseTransaction) Sig() crypto.Signature    { return tx.Signature }

func (tx *StakeReleaseTransaction) body() []byte {
	return wire.NewWriter(32).PubKey(tx.PubKey.Array()).Finish()
}
func (tx *StakeReleaseTransaction) SigningHash(Hash) Hash { return hashOf(tx.body()) }
func (tx *StakeReleaseTransaction) Hash() Hash            { return hashOf(tx.Pack()) }
func (tx *StakeReleaseTransaction) Pack() []byte {
	return wire.NewWriter(1+len(tx.body())+wire.SignatureSize).
		Byte(byte(KindStakeRelease)).Raw(tx.body()).Signature(tx.Signature).Finish()
}

func parseStakeReleaseTransaction(r *wire.Reader) (*StakeReleaseTransaction, error) {
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("stake_release: pubkey: %w", err)
	}
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("stake_release: signature: %w", err)
	}
	return &StakeReleaseTransaction{PubKey: crypto.PubKeyFromArray(pub), Signature: sig}, nil
}

// ---- PenaltyTransaction ----

// PenaltyTransaction cites a set of conflicting block hashes signed by the
// same validator in the same epoch.
type PenaltyTransaction struct {
	Conflicts []Hash
	PubKey    crypto.PublicKey
	Signature crypto.Signature
}

func (tx *PenaltyTransaction) Kind() SystemicTxKind     { return KindPenalty }
func (tx *PenaltyTransaction) LegalRound() Round        { return RoundPrivate }
func (tx *PenaltyTransaction) Author() crypto.PublicKey { return tx.PubKey }
func (tx *PenaltyTransaction) Sig() crypto.Signature    { return tx.Signature }

func (tx *PenaltyTransaction) body() []byte {
	w := wire.NewWriter(64).U32(uint32(len(tx.Conflicts)))
	for _, h := range tx.Conflicts {
		w.Hash([wire.HashSize]byte(h))
	}
	w.PubKey(tx.PubKey.Array())
	return w.Finish()
}
func (tx *PenaltyTransaction) SigningHash(Hash) Hash { return hashOf(tx.body()) }
func (tx *PenaltyTransaction) Hash() Hash            { return hashOf(tx.Pack()) }
func (tx *PenaltyTransaction) Pack() []byte {
	return wire.NewWriter(1+len(tx.body())+wire.SignatureSize).
		Byte(byte(KindPenalty)).Raw(tx.body()).Signature(tx.Signature).Finish()
}

func parsePenaltyTransaction(r *wire.Reader) (*PenaltyTransaction, error) {
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("penalty: conflict count: %w", err)
	}
	conflicts := make([]Hash, count)
	for i := range conflicts {
		h, err := r.Hash()
		if err != nil {
			return nil, fmt.Errorf("penalty: conflict %d: %w", i, err)
		}
		conflicts[i] = Hash(h)
	}
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("penalty: pubkey: %w", err)
	}
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("penalty: signature: %w", err)
	}
	return &PenaltyTransaction{Conflicts: conflicts, PubKey: crypto.PubKeyFromArray(pub), Signature: sig}, nil
}

// ---- NegativeGossipTransaction / PositiveGossipTransaction ----

// NegativeGossipTransaction asserts "I have not seen a block for this
// timeslot."
type NegativeGossipTransaction struct {
	PubKey      crypto.PublicKey
	Timestamp   int64
	BlockNumber uint64
	Signature   crypto.Signature
}

func (tx *NegativeGossipTransaction) Kind() SystemicTxKind     { return KindNegativeGossip }
func (tx *NegativeGossipTransaction) LegalRound() Round        { return RoundFinal }
func (tx *NegativeGossipTransaction) Author() crypto.PublicKey { return tx.PubKey }
func (tx *NegativeGossipTransaction) Sig() crypto.Signature    { return tx.Signature }

func (tx *NegativeGossipTransaction) body() []byte {
	return wire.NewWriter(64).
		PubKey(tx.PubKey.Array()).
		Timestamp(tx.Timestamp).
		U32(uint32(tx.BlockNumber)).
		Finish()
}
func (tx *NegativeGossipTransaction) SigningHash(Hash) Hash { return hashOf(tx.body()) }
func (tx *NegativeGossipTransaction) Hash() Hash            { return hashOf(tx.body()) }
func (tx *NegativeGossipTransaction) Pack() []byte {
	return wire.NewWriter(1+len(tx.body())+wire.SignatureSize).
		Byte(byte(KindNegativeGossip)).Signature(tx.Signature).Raw(tx.body()).Finish()
}

func parseNegativeGossipTransaction(r *wire.Reader) (*NegativeGossipTransaction, error) {
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("negative_gossip: signature: %w", err)
	}
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("negative_gossip: pubkey: %w", err)
	}
	ts, err := r.Timestamp()
	if err != nil {
		return nil, fmt.Errorf("negative_gossip: timestamp: %w", err)
	}
	num, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("negative_gossip: block number: %w", err)
	}
	return &NegativeGossipTransaction{
		PubKey:      crypto.PubKeyFromArray(pub),
		Timestamp:   ts,
		BlockNumber: uint64(num),
		Signature:   sig,
	}, nil
}

// PositiveGossipTransaction asserts "here is the hash I have for that
// timeslot," and ends with the nested SignedBlock it vouches for.
type PositiveGossipTransaction struct {
	PubKey     crypto.PublicKey
	Timestamp  int64
	BlockHash  Hash
	Signature  crypto.Signature
	Referenced *SignedBlock // the block this gossip vouches for
}

func (tx *PositiveGossipTransaction) Kind() SystemicTxKind     { return KindPositiveGossip }
func (tx *PositiveGossipTransaction) LegalRound() Round        { return RoundFinal }
func (tx *PositiveGossipTransaction) Author() crypto.PublicKey { return tx.PubKey }
func (tx *PositiveGossipTransaction) Sig() crypto.Signature    { return tx.Signature }

func (tx *PositiveGossipTransaction) body() []byte {
	return wire.NewWriter(96).
		PubKey(tx.PubKey.Array()).
		Timestamp(tx.Timestamp).
		Hash([wire.HashSize]byte(tx.BlockHash)).
		Finish()
}
func (tx *PositiveGossipTransaction) SigningHash(Hash) Hash { return hashOf(tx.body()) }
func (tx *PositiveGossipTransaction) Hash() Hash            { return hashOf(tx.body()) }

// PositiveGossipOffset is the byte offset at which the nested SignedBlock
// frame begins within Pack()'s output: 1 (kind) + 64 (signature) + 32
// (pubkey) + 4 (timestamp) + 32 (block hash) = 133. Spec.md §6 cites 348 as
// a reference value for its own chosen field widths; this implementation
// recomputes the offset from its own widths rather than copying that
// number verbatim.
const PositiveGossipOffset = 1 + wire.SignatureSize + wire.PubKeySize + wire.TimestampSize + wire.HashSize

func (tx *PositiveGossipTransaction) Pack() []byte {
	w := wire.NewWriter(PositiveGossipOffset + 256).
		Byte(byte(KindPositiveGossip)).
		Signature(tx.Signature).
		Raw(tx.body())
	if tx.Referenced != nil {
		w.Raw(tx.Referenced.Pack())
	}
	return w.Finish()
}

func parsePositiveGossipTransaction(r *wire.Reader) (*PositiveGossipTransaction, error) {
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("positive_gossip: signature: %w", err)
	}
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("positive_gossip: pubkey: %w", err)
	}
	ts, err := r.Timestamp()
	if err != nil {
		return nil, fmt.Errorf("positive_gossip: timestamp: %w", err)
	}
	blockHash, err := r.Hash()
	if err != nil {
		return nil, fmt.Errorf("positive_gossip: block hash: %w", err)
	}
	tx := &PositiveGossipTransaction{
		PubKey:    crypto.PubKeyFromArray(pub),
		Timestamp: ts,
		BlockHash: Hash(blockHash),
		Signature: sig,
	}
	if r.Remaining() > 0 {
		sb, err := ParseSignedBlock(r)
		if err != nil {
			return nil, fmt.Errorf("positive_gossip: referenced block: %w", err)
		}
		tx.Referenced = sb
	}
	return tx, nil
}

// PenaltyGossipTransaction cites a pair (positive, negative) gossip by the
// same author contradicting each other.
type PenaltyGossipTransaction struct {
	PositiveHash Hash
	NegativeHash Hash
	PubKey       crypto.PublicKey
	Signature    crypto.Signature
}

func (tx *PenaltyGossipTransaction) Kind() SystemicTxKind     { return KindPenaltyGossip }
func (tx *PenaltyGossipTransaction) LegalRound() Round        { return RoundFinal }
func (tx *PenaltyGossipTransaction) Author() crypto.PublicKey { return tx.PubKey }
func (tx *PenaltyGossipTransaction) Sig() crypto.Signature    { return tx.Signature }

func (tx *PenaltyGossipTransaction) body() []byte {
	return wire.NewWriter(96).
		Hash([wire.HashSize]byte(tx.PositiveHash)).
		Hash([wire.HashSize]byte(tx.NegativeHash)).
		PubKey(tx.PubKey.Array()).
		Finish()
}
func (tx *PenaltyGossipTransaction) SigningHash(Hash) Hash { return hashOf(tx.body()) }
func (tx *PenaltyGossipTransaction) Hash() Hash            { return hashOf(tx.Pack()) }
func (tx *PenaltyGossipTransaction) Pack() []byte {
	return wire.NewWriter(1+len(tx.body())+wire.SignatureSize).
		Byte(byte(KindPenaltyGossip)).Raw(tx.body()).Signature(tx.Signature).Finish()
}

func parsePenaltyGossipTransaction(r *wire.Reader) (*PenaltyGossipTransaction, error) {
	pos, err := r.Hash()
	if err != nil {
		return nil, fmt.Errorf("penalty_gossip: positive hash: %w", err)
	}
	neg, err := r.Hash()
	if err != nil {
		return nil, fmt.Errorf("penalty_gossip: negative hash: %w", err)
	}
	pub, err := r.PubKey()
	if err != nil {
		return nil, fmt.Errorf("penalty_gossip: pubkey: %w", err)
	}
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("penalty_gossip: signature: %w", err)
	}
	return &PenaltyGossipTransaction{
		PositiveHash: Hash(pos),
		NegativeHash: Hash(neg),
		PubKey:       crypto.PubKeyFromArray(pub),
		Signature:    sig,
	}, nil
}

// ParseSystemicTx dispatches on the leading tag byte.
func ParseSystemicTx(r *wire.Reader) (SystemicTx, error) {
	tag, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("systemic tx: tag: %w", err)
	}
	switch SystemicTxKind(tag) {
	case KindPublicKey:
		return parsePublicKeyTransaction(r)
	case KindSplitRandom:
		return parseSplitRandomTransaction(r)
	case KindCommitRandom:
		return parseCommitRandomTransaction(r)
	case KindRevealRandom:
		return parseRevealRandomTransaction(r)
	case KindPrivateKey:
		return parsePrivateKeyTransaction(r)
	case KindStakeHold:
		return parseStakeHoldTransaction(r)
	case KindStakeRelease:
		return parseStakeReleaseTransaction(r)
	case KindPenalty:
		return parsePenaltyTransaction(r)
	case KindNegativeGossip:
		return parseNegativeGossipTransaction(r)
	case KindPositiveGossip:
		return parsePositiveGossipTransaction(r)
	case KindPenaltyGossip:
		return parsePenaltyGossipTransaction(r)
	default:
		return nil, fmt.Errorf("systemic tx: unknown kind %d", tag)
	}
}

// ParseSystemicTxBytes is a convenience wrapper for callers holding a full
// packed buffer rather than a shared Reader.
func ParseSystemicTxBytes(buf []byte) (SystemicTx, error) {
	return ParseSystemicTx(wire.NewReader(buf))
}
