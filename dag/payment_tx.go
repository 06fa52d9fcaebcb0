package dag

import (
	"fmt"

	"github.com/dagchain/consensus/wire"
)

// PaymentTxKind tags the one concrete payment kind this module implements.
// Everything else travels as an OpaquePayment: spec.md scopes the payment
// ledger's full semantics out (Non-goals); RewardPayment, a block-reward
// credit, is the one kind with a real encoding.
type PaymentTxKind byte

const (
	KindOpaquePayment PaymentTxKind = iota
	KindRewardPayment
)

// PaymentTx is any transaction outside the systemic protocol: opaque
// payload as far as this module's consensus logic is concerned, carried
// and hashed but never interpreted.
type PaymentTx interface {
	Kind() PaymentTxKind
	ID() Hash
	Pack() []byte
}

// OpaquePayment carries an application-defined payment payload this module
// does not interpret, identified by the caller-supplied ID.
type OpaquePayment struct {
	TxID Hash
	Raw  []byte
}

func (p *OpaquePayment) Kind() PaymentTxKind { return KindOpaquePayment }
func (p *OpaquePayment) ID() Hash            { return p.TxID }

func (p *OpaquePayment) Pack() []byte {
	return wire.NewWriter(1+wire.HashSize+len(p.Raw)).
		Byte(byte(KindOpaquePayment)).
		Hash([wire.HashSize]byte(p.TxID)).
		Bytes(p.Raw).
		Finish()
}

// RewardPayment credits Amount to To. It packs and parses like any other
// payment; the node engine's block assembly does not create one, so the
// blocks it signs carry no reward payment.
type RewardPayment struct {
	To     Hash
	Amount uint64
}

func (p *RewardPayment) Kind() PaymentTxKind { return KindRewardPayment }

func (p *RewardPayment) ID() Hash {
	return hashOf(p.Pack())
}

func (p *RewardPayment) Pack() []byte {
	return wire.NewWriter(1+wire.HashSize+8).
		Byte(byte(KindRewardPayment)).
		Hash([wire.HashSize]byte(p.To)).
		U32(uint32(p.Amount>>32)).
		U32(uint32(p.Amount)).
		Finish()
}

// ParsePaymentTx dispatches on the leading tag byte.
func ParsePaymentTx(buf []byte) (PaymentTx, error) {
	r := wire.NewReader(buf)
	tag, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("payment tx: tag: %w", err)
	}
	switch PaymentTxKind(tag) {
	case KindOpaquePayment:
		id, err := r.Hash()
		if err != nil {
			return nil, fmt.Errorf("opaque payment: id: %w", err)
		}
		raw, err := r.Bytes()
		if err != nil {
			return nil, fmt.Errorf("opaque payment: raw: %w", err)
		}
		return &OpaquePayment{TxID: Hash(id), Raw: raw}, nil
	case KindRewardPayment:
		to, err := r.Hash()
		if err != nil {
			return nil, fmt.Errorf("reward payment: to: %w", err)
		}
		hi, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("reward payment: amount high: %w", err)
		}
		lo, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("reward payment: amount low: %w", err)
		}
		return &RewardPayment{To: Hash(to), Amount: uint64(hi)<<32 | uint64(lo)}, nil
	default:
		return nil, fmt.Errorf("payment tx: unknown kind %d", tag)
	}
}
