package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// BoxPublicKey and BoxPrivateKey are Curve25519 keys used for the
// per-era ephemeral encryption rounds (PUBLIC/SECRETSHARE/COMMIT). They are
// distinct from the ed25519 signing keys in keys.go: one key pair signs
// blocks and transactions for the validator's whole lifetime, the other is
// generated fresh every era purely to receive encrypted payloads.
type BoxPublicKey [32]byte
type BoxPrivateKey [32]byte

const (
	boxNonceSize = 24
	boxKeySize   = 32
)

// GenerateBoxKeyPair creates a fresh Curve25519 key pair for one era.
func GenerateBoxKeyPair() (BoxPublicKey, BoxPrivateKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return BoxPublicKey{}, BoxPrivateKey{}, err
	}
	return BoxPublicKey(*pub), BoxPrivateKey(*priv), nil
}

// BoxSeal encrypts message for recipient using a freshly generated
// ephemeral sender key pair, so the caller does not need a static key pair
// of its own. The ephemeral public key and nonce are prepended to the
// ciphertext so BoxOpen only needs the recipient's private key.
func BoxSeal(message []byte, recipient BoxPublicKey) ([]byte, error) {
	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	var nonce [boxNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	out := make([]byte, 0, boxKeySize+boxNonceSize+len(message)+box.Overhead)
	out = append(out, ephPub[:]...)
	out = append(out, nonce[:]...)
	recipientKey := [boxKeySize]byte(recipient)
	out = box.Seal(out, message, &nonce, &recipientKey, ephPriv)
	return out, nil
}

// BoxOpen decrypts a payload produced by BoxSeal using the recipient's
// private key.
func BoxOpen(ciphertext []byte, recipientPriv BoxPrivateKey) ([]byte, error) {
	if len(ciphertext) < boxKeySize+boxNonceSize {
		return nil, errors.New("crypto: box ciphertext too short")
	}
	var ephPub [boxKeySize]byte
	copy(ephPub[:], ciphertext[:boxKeySize])
	var nonce [boxNonceSize]byte
	copy(nonce[:], ciphertext[boxKeySize:boxKeySize+boxNonceSize])

	privKey := [boxKeySize]byte(recipientPriv)
	message, ok := box.Open(nil, ciphertext[boxKeySize+boxNonceSize:], &nonce, &ephPub, &privKey)
	if !ok {
		return nil, errors.New("crypto: box decryption failed")
	}
	return message, nil
}

// Hex/byte helpers mirroring the ed25519 key wrappers in keys.go.

func (pub BoxPublicKey) Bytes() []byte  { return pub[:] }
func (priv BoxPrivateKey) Bytes() []byte { return priv[:] }

// BoxPubKeyFromBytes parses a 32-byte Curve25519 public key.
func BoxPubKeyFromBytes(b []byte) (BoxPublicKey, error) {
	if len(b) != boxKeySize {
		return BoxPublicKey{}, fmt.Errorf("box pubkey must be %d bytes, got %d", boxKeySize, len(b))
	}
	var pub BoxPublicKey
	copy(pub[:], b)
	return pub, nil
}

// Public derives the Curve25519 public key matching priv. Used to check
// that a disclosed PrivateKeyTransaction matches an earlier
// PublicKeyTransaction.
func (priv BoxPrivateKey) Public() (BoxPublicKey, error) {
	var pub BoxPublicKey
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], out)
	return pub, nil
}
