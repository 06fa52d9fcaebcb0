package crypto

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// Threshold returns the minimum number of shares needed to reconstruct a
// secret split among n participants: floor(n/2)+1.
func Threshold(n int) int {
	return n/2 + 1
}

// SplitSecret divides secret into n Shamir shares, any k of which
// reconstruct it.
func SplitSecret(secret []byte, n, k int) ([][]byte, error) {
	shares, err := shamir.Split(secret, n, k)
	if err != nil {
		return nil, fmt.Errorf("crypto: split secret: %w", err)
	}
	return shares, nil
}

// CombineShares reconstructs the original secret from k or more shares
// produced by SplitSecret.
func CombineShares(shares [][]byte) ([]byte, error) {
	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("crypto: combine shares: %w", err)
	}
	return secret, nil
}
