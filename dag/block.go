package dag

import (
	"fmt"

	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/wire"
)

// Block is the unsigned content of one DAG vertex: a timeslot, its parent
// set (PrevHashes[0] is the "main" parent used for longest-chain depth),
// and the transactions it carries.
type Block struct {
	PrevHashes []Hash
	Timestamp  int64
	Systemic   []SystemicTx
	Payments   []PaymentTx
}

// SignedBlock pairs a Block with the signature of the validator elected to
// produce it for this timeslot (spec.md §4's sign-if-elected rule).
type SignedBlock struct {
	Block     Block
	Signature crypto.Signature
}

// Pack returns the canonical wire encoding of the unsigned block body.
func (b *Block) Pack() []byte {
	w := wire.NewWriter(256).
		Timestamp(b.Timestamp).
		U32(uint32(len(b.PrevHashes)))
	for _, h := range b.PrevHashes {
		w.Hash([wire.HashSize]byte(h))
	}
	w.U32(uint32(len(b.Systemic)))
	for _, tx := range b.Systemic {
		w.Bytes(tx.Pack())
	}
	w.U32(uint32(len(b.Payments)))
	for _, p := range b.Payments {
		w.Bytes(p.Pack())
	}
	return w.Finish()
}

// Hash is the block's content-addressed identity, the hash this module
// indexes by and that PrevHashes, Tops, and every acceptor refer to.
func (b *Block) Hash() Hash {
	return hashOf(b.Pack())
}

// ParseBlock decodes an unsigned block body.
func ParseBlock(r *wire.Reader) (*Block, error) {
	ts, err := r.Timestamp()
	if err != nil {
		return nil, fmt.Errorf("block: timestamp: %w", err)
	}
	prevCount, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("block: prev count: %w", err)
	}
	prevs := make([]Hash, prevCount)
	for i := range prevs {
		h, err := r.Hash()
		if err != nil {
			return nil, fmt.Errorf("block: prev hash %d: %w", i, err)
		}
		prevs[i] = Hash(h)
	}
	sysCount, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("block: systemic count: %w", err)
	}
	systemic := make([]SystemicTx, sysCount)
	for i := range systemic {
		raw, err := r.Bytes()
		if err != nil {
			return nil, fmt.Errorf("block: systemic tx %d: %w", i, err)
		}
		tx, err := ParseSystemicTxBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("block: systemic tx %d: %w", i, err)
		}
		systemic[i] = tx
	}
	payCount, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("block: payment count: %w", err)
	}
	payments := make([]PaymentTx, payCount)
	for i := range payments {
		raw, err := r.Bytes()
		if err != nil {
			return nil, fmt.Errorf("block: payment %d: %w", i, err)
		}
		p, err := ParsePaymentTx(raw)
		if err != nil {
			return nil, fmt.Errorf("block: payment %d: %w", i, err)
		}
		payments[i] = p
	}
	return &Block{PrevHashes: prevs, Timestamp: ts, Systemic: systemic, Payments: payments}, nil
}

// Pack returns the canonical wire encoding: signature followed by the
// unsigned block body, per spec.md §6.
func (sb *SignedBlock) Pack() []byte {
	body := sb.Block.Pack()
	return wire.NewWriter(wire.SignatureSize+len(body)).
		Signature(sb.Signature).
		Raw(body).
		Finish()
}

// ParseSignedBlock decodes a signature-prefixed block frame.
func ParseSignedBlock(r *wire.Reader) (*SignedBlock, error) {
	sig, err := r.Signature()
	if err != nil {
		return nil, fmt.Errorf("signed block: signature: %w", err)
	}
	block, err := ParseBlock(r)
	if err != nil {
		return nil, err
	}
	return &SignedBlock{Block: *block, Signature: sig}, nil
}

// ParseSignedBlockBytes is a convenience wrapper over a full packed buffer.
func ParseSignedBlockBytes(buf []byte) (*SignedBlock, error) {
	return ParseSignedBlock(wire.NewReader(buf))
}

// Sign produces a SignedBlock by signing the block's content hash with
// priv.
func Sign(block Block, priv crypto.PrivateKey) SignedBlock {
	h := block.Hash()
	return SignedBlock{Block: block, Signature: crypto.Sign(priv, h[:])}
}

// VerifySigner checks sb's signature against h and reports which candidate
// produced it, implementing spec.md §3's try-each-candidate rule. Orphan
// acceptance defers this call until the block's epoch hash (and therefore
// its sign schedule) is known; see verify.Verifier.AcceptOrphan.
func VerifySigner(sb *SignedBlock, candidates []crypto.PublicKey) (crypto.PublicKey, error) {
	h := sb.Block.Hash()
	return crypto.VerifyAny(candidates, h[:], sb.Signature)
}
