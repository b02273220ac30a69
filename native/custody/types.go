package custody

import (
	"fmt"
	"math/big"
	"strings"
)

// Stage represents the lifecycle position of a custody record.
type Stage uint8

const (
	StageUninitialized Stage = iota
	StageFunded
	StageMatched
	StagePartiallyWithdrawn
	StageSettled
	StageCancelled
)

// Valid reports whether the stage value is within the supported range.
func (s Stage) Valid() bool {
	switch s {
	case StageUninitialized, StageFunded, StageMatched, StagePartiallyWithdrawn, StageSettled, StageCancelled:
		return true
	default:
		return false
	}
}

func (s Stage) String() string {
	switch s {
	case StageUninitialized:
		return "uninitialized"
	case StageFunded:
		return "funded"
	case StageMatched:
		return "matched"
	case StagePartiallyWithdrawn:
		return "partially_withdrawn"
	case StageSettled:
		return "settled"
	case StageCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StageFromCode decodes a persisted stage byte. Unrecognised values fail
// with ErrInvalidStage rather than mapping onto an open integer.
func StageFromCode(code uint8) (Stage, error) {
	s := Stage(code)
	if !s.Valid() {
		return StageUninitialized, fmt.Errorf("%w: unknown stage code %d", ErrInvalidStage, code)
	}
	return s, nil
}

// Terminal reports whether the stage admits no further transitions.
func (s Stage) Terminal() bool {
	return s == StageSettled || s == StageCancelled
}

// Policy selects how custodied funds are released.
type Policy uint8

const (
	// PolicyEscrow holds funds for refundable withdrawal or an explicit
	// owner-authorised release to a matched counterparty.
	PolicyEscrow Policy = iota
	// PolicyFlip pools matching stakes from two parties and pays the
	// oracle-selected winner, minus a basis-points fee.
	PolicyFlip
	// PolicySale lists the custodied asset at a fixed unit price; the
	// buyer's payment settles the record.
	PolicySale
)

// Valid reports whether the policy value is within the supported range.
func (p Policy) Valid() bool {
	switch p {
	case PolicyEscrow, PolicyFlip, PolicySale:
		return true
	default:
		return false
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyEscrow:
		return "escrow"
	case PolicyFlip:
		return "flip"
	case PolicySale:
		return "sale"
	default:
		return "unknown"
	}
}

// AssetKind distinguishes the custody paths for native currency, fungible
// tokens and non-fungible tokens.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetToken
	AssetNFT
)

// Valid reports whether the asset kind is within the supported range.
func (k AssetKind) Valid() bool {
	switch k {
	case AssetNative, AssetToken, AssetNFT:
		return true
	default:
		return false
	}
}

func (k AssetKind) String() string {
	switch k {
	case AssetNative:
		return "native"
	case AssetToken:
		return "token"
	case AssetNFT:
		return "nft"
	default:
		return "unknown"
	}
}

// Asset references a specific denomination. Native assets carry no
// denomination; token and NFT assets name the minted denomination they
// custody. NFT quantities are whole units of a zero-decimal denomination.
type Asset struct {
	Kind  AssetKind
	Denom string
}

// NormalizeAsset validates the asset reference and returns its canonical
// form (uppercase denomination, empty for native).
func NormalizeAsset(a Asset) (Asset, error) {
	if !a.Kind.Valid() {
		return Asset{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidAsset, a.Kind)
	}
	denom := strings.ToUpper(strings.TrimSpace(a.Denom))
	if a.Kind == AssetNative {
		if denom != "" {
			return Asset{}, fmt.Errorf("%w: native assets carry no denomination", ErrInvalidAsset)
		}
		return Asset{Kind: AssetNative}, nil
	}
	if denom == "" {
		return Asset{}, fmt.Errorf("%w: %s asset requires a denomination", ErrInvalidAsset, a.Kind)
	}
	return Asset{Kind: a.Kind, Denom: denom}, nil
}

// Key returns a stable byte representation of the asset used in storage
// keys and vault address derivation.
func (a Asset) Key() []byte {
	return []byte(fmt.Sprintf("%d/%s", a.Kind, a.Denom))
}

func (a Asset) String() string {
	if a.Kind == AssetNative {
		return "native"
	}
	return fmt.Sprintf("%s:%s", a.Kind, a.Denom)
}

// Record captures one custody agreement and its runtime stage. Amount
// mirrors the balance tracked by the ledger's custody vault for the
// record; it never exceeds the cumulative net of deposits.
type Record struct {
	ID           [32]byte
	Owner        [20]byte
	Counterparty [20]byte
	Asset        Asset
	Policy       Policy
	Amount       *big.Int
	UnitPrice    *big.Int
	FeeBps       uint32
	Stage        Stage
	CreatedAt    int64
}

// Matched reports whether a counterparty has been recorded.
func (r *Record) Matched() bool {
	return r != nil && r.Counterparty != ([20]byte{})
}

// Clone returns a deep copy so callers can mutate the copy without
// affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if r.UnitPrice != nil {
		clone.UnitPrice = new(big.Int).Set(r.UnitPrice)
	}
	return &clone
}

// SanitizeRecord validates and normalises the supplied record, returning a
// cloned instance with a canonical asset and non-nil amount. The original
// value is not mutated.
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("custody: nil record")
	}
	clone := r.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if !clone.Policy.Valid() {
		return nil, fmt.Errorf("custody: invalid policy: %d", clone.Policy)
	}
	if !clone.Stage.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStage, clone.Stage)
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("custody: amount must be non-negative")
	}
	if clone.UnitPrice != nil && clone.UnitPrice.Sign() < 0 {
		return nil, fmt.Errorf("custody: unit price must be non-negative")
	}
	if clone.FeeBps > 10_000 {
		return nil, fmt.Errorf("custody: fee bps out of range: %d", clone.FeeBps)
	}
	return clone, nil
}
