package wallet

import (
	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
)

// Wallet holds a key pair and provides systemic transaction-building
// helpers for the operations a validator operator signs directly, as
// opposed to the round-protocol transactions the node engine constructs
// on its own during the step loop.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (the validator identity).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// StakeHold builds and signs a transaction locking amount behind this
// wallet's identity, making it eligible for committee selection once
// included and confirmed.
func (w *Wallet) StakeHold(amount uint64) *dag.StakeHoldTransaction {
	tx := &dag.StakeHoldTransaction{Amount: amount, PubKey: w.pub}
	h := tx.SigningHash(dag.Hash{})
	tx.Signature = crypto.Sign(w.priv, h[:])
	return tx
}

// StakeRelease builds and signs a transaction unlocking this wallet's
// held stake, removing it from future committee selection.
func (w *Wallet) StakeRelease() *dag.StakeReleaseTransaction {
	tx := &dag.StakeReleaseTransaction{PubKey: w.pub}
	h := tx.SigningHash(dag.Hash{})
	tx.Signature = crypto.Sign(w.priv, h[:])
	return tx
}
