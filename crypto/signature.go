package crypto

import (
	"crypto/ed25519"
	"errors"
)

// Signature is a raw 64-byte ed25519 signature, the fixed width the wire
// codec frames directly (no hex/base64 indirection on the wire).
type Signature [ed25519.SignatureSize]byte

// Sign signs data with the private key.
func Sign(priv PrivateKey, data []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(ed25519.PrivateKey(priv), data))
	return sig
}

// Verify checks sig against data using the public key.
func Verify(pub PublicKey, data []byte, sig Signature) error {
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig[:]) {
		return errors.New("crypto: signature verification failed")
	}
	return nil
}

// VerifyAny tries every candidate public key and reports the first match.
// The signer's identity is not carried in the signed block itself;
// verification tries each of a small set of candidate public keys and
// accepts the first one whose signature checks out.
func VerifyAny(candidates []PublicKey, data []byte, sig Signature) (PublicKey, error) {
	for _, pub := range candidates {
		if Verify(pub, data, sig) == nil {
			return pub, nil
		}
	}
	return nil, errors.New("crypto: signature does not match any candidate signer")
}
