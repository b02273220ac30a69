package custody

import (
	"crypto/rand"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Party identifies one of the two sides of a binary-outcome record.
type Party uint8

const (
	PartyOwner Party = iota
	PartyCounterparty
)

func (p Party) String() string {
	switch p {
	case PartyOwner:
		return "owner"
	case PartyCounterparty:
		return "counterparty"
	default:
		return "unknown"
	}
}

// WinnerOracle selects the winning party for a flip settlement. The
// selection must be unpredictable and unbiased; the engine refuses to
// settle flips until an oracle has been installed, so a fixed-outcome
// stand-in can never ship by omission.
type WinnerOracle interface {
	SelectWinner(seed []byte) (Party, error)
}

// EntropyOracle draws fresh entropy from crypto/rand for every selection
// and folds it into the record-derived seed through keccak, taking the low
// bit of the digest. Both parties influence the seed; neither can predict
// the entropy.
type EntropyOracle struct{}

// SelectWinner implements WinnerOracle.
func (EntropyOracle) SelectWinner(seed []byte) (Party, error) {
	var entropy [32]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return PartyOwner, fmt.Errorf("custody: oracle entropy: %w", err)
	}
	digest := ethcrypto.Keccak256(seed, entropy[:])
	if digest[len(digest)-1]&1 == 0 {
		return PartyOwner, nil
	}
	return PartyCounterparty, nil
}
