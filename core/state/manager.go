package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"custodia/core/types"
	"custodia/native/custody"
	"custodia/storage"
)

// ErrInsufficientBalance is returned when a debit exceeds the available
// balance of an account or custody vault.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

// Manager is the system of record behind the custody engine: it holds
// account balances, per-denomination asset balances, custody vaults and
// persisted records over a key-value database. Mutations to a given
// record are serialised by the admitting runtime; the manager performs no
// locking of its own beyond what the backing store provides.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func assetBalanceKey(addr []byte, asset custody.Asset) []byte {
	assetKey := asset.Key()
	buf := make([]byte, len(assetBalancePrefix)+len(addr)+len(assetKey))
	copy(buf, assetBalancePrefix)
	copy(buf[len(assetBalancePrefix):], addr)
	copy(buf[len(assetBalancePrefix)+len(addr):], assetKey)
	return ethcrypto.Keccak256(buf)
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the account stored at addr. Unknown addresses resolve
// to a zero-balance account.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	acc := &types.Account{Nonce: stored.Nonce, Balance: big.NewInt(0)}
	if stored.Balance != nil {
		acc.Balance = new(big.Int).Set(stored.Balance)
	}
	return acc, nil
}

// PutAccount persists the account at addr.
func (m *Manager) PutAccount(addr []byte, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("state: nil account")
	}
	balance := big.NewInt(0)
	if acc.Balance != nil {
		if acc.Balance.Sign() < 0 {
			return fmt.Errorf("state: negative account balance")
		}
		balance = new(big.Int).Set(acc.Balance)
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{Nonce: acc.Nonce, Balance: balance})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, fmt.Errorf("state: decode amount: %w", err)
	}
	return value, nil
}

func (m *Manager) writeBigInt(key []byte, value *big.Int) error {
	if value == nil || value.Sign() < 0 {
		return fmt.Errorf("state: amount must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// Transfer moves native currency between accounts. The debit is checked
// before any mutation; if persisting the credited side fails the debited
// side is restored.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: transfer amount must be positive")
	}
	fromAcc, err := m.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := m.GetAccount(to[:])
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: native transfer", custody.ErrInsufficientFunds)
	}
	originalFrom := fromAcc.Clone()
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := m.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if err := m.PutAccount(to[:], toAcc); err != nil {
		if restoreErr := m.PutAccount(from[:], originalFrom); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback sender: %w", restoreErr))
		}
		return err
	}
	return nil
}

// TransferAsset moves a fungible or non-fungible denomination between
// accounts. Native assets are rejected; callers use Transfer for those.
func (m *Manager) TransferAsset(from, to [20]byte, asset custody.Asset, amount *big.Int) error {
	normalized, err := custody.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if normalized.Kind == custody.AssetNative {
		return fmt.Errorf("%w: native assets move via Transfer", custody.ErrInvalidAsset)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: transfer amount must be positive")
	}
	fromKey := assetBalanceKey(from[:], normalized)
	toKey := assetBalanceKey(to[:], normalized)
	fromBal, err := m.loadBigInt(fromKey)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", custody.ErrInsufficientFunds, normalized)
	}
	toBal, err := m.loadBigInt(toKey)
	if err != nil {
		return err
	}
	originalFrom := new(big.Int).Set(fromBal)
	if err := m.writeBigInt(fromKey, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := m.writeBigInt(toKey, new(big.Int).Add(toBal, amount)); err != nil {
		if restoreErr := m.writeBigInt(fromKey, originalFrom); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback sender: %w", restoreErr))
		}
		return err
	}
	return nil
}

// AssetBalance reports the asset balance held by addr.
func (m *Manager) AssetBalance(addr [20]byte, asset custody.Asset) (*big.Int, error) {
	normalized, err := custody.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if normalized.Kind == custody.AssetNative {
		acc, err := m.GetAccount(addr[:])
		if err != nil {
			return nil, err
		}
		return new(big.Int).Set(acc.Balance), nil
	}
	return m.loadBigInt(assetBalanceKey(addr[:], normalized))
}

// Mint credits freshly issued units of an asset to addr. Native mints
// credit the account balance. Used to seed genesis and test fixtures.
func (m *Manager) Mint(addr [20]byte, asset custody.Asset, amount *big.Int) error {
	normalized, err := custody.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	if normalized.Kind == custody.AssetNative {
		acc, err := m.GetAccount(addr[:])
		if err != nil {
			return err
		}
		acc.Balance = new(big.Int).Add(acc.Balance, amount)
		return m.PutAccount(addr[:], acc)
	}
	key := assetBalanceKey(addr[:], normalized)
	balance, err := m.loadBigInt(key)
	if err != nil {
		return err
	}
	return m.writeBigInt(key, new(big.Int).Add(balance, amount))
}

// VerifySigner reports whether the address may act as a transaction
// signer. Signature verification happens when the admitting runtime
// validates the enclosing transaction; by the time an engine operation
// runs every caller address has been authenticated, so the base manager
// accepts all of them. Embedding runtimes veto callers by wrapping the
// ledger interface.
func (m *Manager) VerifySigner(addr [20]byte) bool {
	return true
}
