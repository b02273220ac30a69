package state

import (
	"errors"
	"math/big"
	"os"
	"testing"

	"custodia/native/custody"
	"custodia/observability/logging"
	"custodia/storage"
)

func TestMain(m *testing.M) {
	logging.Setup("custodia-test", "test")
	os.Exit(m.Run())
}

type ownerWinsOracle struct{}

func (ownerWinsOracle) SelectWinner([]byte) (custody.Party, error) {
	return custody.PartyOwner, nil
}

func newCustodyFixture(t *testing.T) (*custody.Engine, *Manager) {
	t.Helper()
	manager := NewManager(storage.NewMemDB())
	engine := custody.NewEngine()
	engine.SetState(manager)
	engine.SetOracle(ownerWinsOracle{})
	engine.SetFeeCollector(addr(0xFC))
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine, manager
}

func nativeBalanceOf(t *testing.T, m *Manager, a [20]byte) *big.Int {
	t.Helper()
	acc, err := m.GetAccount(a[:])
	if err != nil {
		t.Fatalf("account %x: %v", a[:2], err)
	}
	return acc.Balance
}

func TestFlipSettlementOverPersistentState(t *testing.T) {
	engine, manager := newCustodyFixture(t)
	native := custody.Asset{Kind: custody.AssetNative}
	owner, acceptor, collector := addr(0x01), addr(0x02), addr(0xFC)
	if err := manager.Mint(owner, native, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := manager.Mint(acceptor, native, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	rec, err := engine.Initialize(owner, native, custody.PolicyFlip, custody.InitOptions{FeeBps: 200})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(rec.ID, owner, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Accept(rec.ID, acceptor); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if got := nativeBalanceOf(t, manager, owner); got.Cmp(big.NewInt(1960)) != 0 {
		t.Fatalf("winner balance = %s, want 1960", got)
	}
	if got := nativeBalanceOf(t, manager, acceptor); got.Sign() != 0 {
		t.Fatalf("loser balance = %s, want 0", got)
	}
	if got := nativeBalanceOf(t, manager, collector); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("fee collector balance = %s, want 40", got)
	}
	vault, _ := manager.CustodyVaultAddress(native)
	if got := nativeBalanceOf(t, manager, vault); got.Sign() != 0 {
		t.Fatalf("vault residue = %s", got)
	}
	balance, _ := manager.CustodyBalance(rec.ID, native)
	if balance.Sign() != 0 {
		t.Fatalf("tracked balance residue = %s", balance)
	}
	stored, ok := manager.CustodyGet(rec.ID)
	if !ok || stored.Stage != custody.StageSettled {
		t.Fatalf("stored record: %+v", stored)
	}

	if err := engine.Accept(rec.ID, acceptor); !errors.Is(err, custody.ErrAlreadySettled) {
		t.Fatalf("second accept: want ErrAlreadySettled, got %v", err)
	}
}

func TestSaleSettlementOverPersistentState(t *testing.T) {
	engine, manager := newCustodyFixture(t)
	nft := custody.Asset{Kind: custody.AssetNFT, Denom: "RELIC-7"}
	native := custody.Asset{Kind: custody.AssetNative}
	seller, buyer := addr(0x01), addr(0x02)
	if err := manager.Mint(seller, nft, big.NewInt(1)); err != nil {
		t.Fatalf("mint nft: %v", err)
	}
	if err := manager.Mint(buyer, native, big.NewInt(75)); err != nil {
		t.Fatalf("mint native: %v", err)
	}

	rec, err := engine.Initialize(seller, nft, custody.PolicySale, custody.InitOptions{UnitPrice: big.NewInt(50)})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(rec.ID, seller, big.NewInt(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Accept(rec.ID, buyer); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if got := nativeBalanceOf(t, manager, seller); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("seller proceeds = %s, want 50", got)
	}
	nftBal, _ := manager.AssetBalance(buyer, nft)
	if nftBal.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("buyer nft balance = %s, want 1", nftBal)
	}
	stored, ok := manager.CustodyGet(rec.ID)
	if !ok || stored.Stage != custody.StageSettled {
		t.Fatalf("stored record: %+v", stored)
	}
}

func TestEscrowLifecycleOverPersistentState(t *testing.T) {
	engine, manager := newCustodyFixture(t)
	token := custody.Asset{Kind: custody.AssetToken, Denom: "USDQ"}
	owner, counterparty := addr(0x01), addr(0x02)
	if err := manager.Mint(owner, token, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	rec, err := engine.Initialize(owner, token, custody.PolicyEscrow, custody.InitOptions{})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(rec.ID, owner, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Withdraw(rec.ID, owner, big.NewInt(200)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := engine.Withdraw(rec.ID, owner, big.NewInt(400)); !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("overdraw: want ErrInsufficientFunds, got %v", err)
	}
	balance, _ := manager.CustodyBalance(rec.ID, token)
	if balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("balance = %s, want 300", balance)
	}

	// Top the record back up and run the matched release path.
	if err := engine.Deposit(rec.ID, owner, big.NewInt(200)); err != nil {
		t.Fatalf("redeposit: %v", err)
	}
	if err := engine.Accept(rec.ID, counterparty); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := engine.Settle(rec.ID, owner); err != nil {
		t.Fatalf("settle: %v", err)
	}
	released, _ := manager.AssetBalance(counterparty, token)
	if released.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("released = %s, want 500", released)
	}
	ownerBal, _ := manager.AssetBalance(owner, token)
	if ownerBal.Sign() != 0 {
		t.Fatalf("owner residue = %s", ownerBal)
	}
}
