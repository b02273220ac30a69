package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"custodia/native/custody"
)

func custodyRecordKey(id [32]byte) []byte {
	buf := make([]byte, len(custodyRecordPrefix)+len(id))
	copy(buf, custodyRecordPrefix)
	copy(buf[len(custodyRecordPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func custodyBalanceKey(id [32]byte, asset custody.Asset) []byte {
	assetKey := asset.Key()
	buf := make([]byte, len(custodyBalancePrefix)+len(id)+len(assetKey))
	copy(buf, custodyBalancePrefix)
	copy(buf[len(custodyBalancePrefix):], id[:])
	copy(buf[len(custodyBalancePrefix)+len(id):], assetKey)
	return ethcrypto.Keccak256(buf)
}

// storedRecord is the RLP shape of a custody record. Optional fields use
// zero values; the stage byte is re-validated through the closed decode on
// the way out.
type storedRecord struct {
	ID           [32]byte
	Owner        [20]byte
	Counterparty [20]byte
	AssetKind    uint8
	AssetDenom   string
	Policy       uint8
	Amount       *big.Int
	UnitPrice    *big.Int
	FeeBps       uint32
	Stage        uint8
	CreatedAt    *big.Int
}

func newStoredRecord(r *custody.Record) *storedRecord {
	amount := big.NewInt(0)
	if r.Amount != nil {
		amount = new(big.Int).Set(r.Amount)
	}
	unitPrice := big.NewInt(0)
	if r.UnitPrice != nil {
		unitPrice = new(big.Int).Set(r.UnitPrice)
	}
	return &storedRecord{
		ID:           r.ID,
		Owner:        r.Owner,
		Counterparty: r.Counterparty,
		AssetKind:    uint8(r.Asset.Kind),
		AssetDenom:   r.Asset.Denom,
		Policy:       uint8(r.Policy),
		Amount:       amount,
		UnitPrice:    unitPrice,
		FeeBps:       r.FeeBps,
		Stage:        uint8(r.Stage),
		CreatedAt:    big.NewInt(r.CreatedAt),
	}
}

func (s *storedRecord) toRecord() (*custody.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil stored record")
	}
	stage, err := custody.StageFromCode(s.Stage)
	if err != nil {
		return nil, err
	}
	rec := &custody.Record{
		ID:           s.ID,
		Owner:        s.Owner,
		Counterparty: s.Counterparty,
		Asset:        custody.Asset{Kind: custody.AssetKind(s.AssetKind), Denom: s.AssetDenom},
		Policy:       custody.Policy(s.Policy),
		Amount:       big.NewInt(0),
		FeeBps:       s.FeeBps,
		Stage:        stage,
	}
	if s.Amount != nil {
		rec.Amount = new(big.Int).Set(s.Amount)
	}
	if s.UnitPrice != nil && s.UnitPrice.Sign() > 0 {
		rec.UnitPrice = new(big.Int).Set(s.UnitPrice)
	}
	if s.CreatedAt != nil {
		rec.CreatedAt = s.CreatedAt.Int64()
	}
	return custody.SanitizeRecord(rec)
}

// CustodyPut persists the record after sanitising it.
func (m *Manager) CustodyPut(rec *custody.Record) error {
	sanitized, err := custody.SanitizeRecord(rec)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredRecord(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(custodyRecordKey(sanitized.ID), encoded)
}

// CustodyGet loads the record stored under id.
func (m *Manager) CustodyGet(id [32]byte) (*custody.Record, bool) {
	data, err := m.db.Get(custodyRecordKey(id))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedRecord)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	rec, err := stored.toRecord()
	if err != nil {
		return nil, false
	}
	return rec, true
}

// CustodyCredit increases the vault balance tracked for the record.
func (m *Manager) CustodyCredit(id [32]byte, asset custody.Asset, amt *big.Int) error {
	normalized, err := custody.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amt == nil || amt.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	key := custodyBalanceKey(id, normalized)
	balance, err := m.loadBigInt(key)
	if err != nil {
		return err
	}
	return m.writeBigInt(key, new(big.Int).Add(balance, amt))
}

// CustodyDebit decreases the vault balance tracked for the record. A debit
// beyond the tracked balance fails before any mutation.
func (m *Manager) CustodyDebit(id [32]byte, asset custody.Asset, amt *big.Int) error {
	normalized, err := custody.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amt == nil || amt.Sign() <= 0 {
		return fmt.Errorf("state: debit amount must be positive")
	}
	key := custodyBalanceKey(id, normalized)
	balance, err := m.loadBigInt(key)
	if err != nil {
		return err
	}
	if balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: custody vault", ErrInsufficientBalance)
	}
	return m.writeBigInt(key, new(big.Int).Sub(balance, amt))
}

// CustodyBalance reports the vault balance tracked for the record.
func (m *Manager) CustodyBalance(id [32]byte, asset custody.Asset) (*big.Int, error) {
	normalized, err := custody.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return m.loadBigInt(custodyBalanceKey(id, normalized))
}

// CustodyVaultAddress derives the module address holding custodied funds
// for the asset. The address has no known private key; funds held by it
// move only through the manager's transfer methods on behalf of the
// engine, which is what makes the vault a capability rather than an
// account a caller could sign for.
func (m *Manager) CustodyVaultAddress(asset custody.Asset) ([20]byte, error) {
	normalized, err := custody.NormalizeAsset(asset)
	if err != nil {
		return [20]byte{}, err
	}
	buf := make([]byte, len(custodyVaultPrefix))
	copy(buf, custodyVaultPrefix)
	hash := ethcrypto.Keccak256(append(buf, normalized.Key()...))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr, nil
}
