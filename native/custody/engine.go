package custody

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"custodia/core/events"
	"custodia/native/common"
)

const moduleName = "custody"

var (
	errNilState     = errors.New("custody engine: ledger not configured")
	errNilCollector = errors.New("custody engine: fee collector not configured")
)

// Ledger is the external collaborator holding accounts, asset balances and
// the custody vaults. Transaction ordering and signature verification are
// its responsibility; the engine treats both as preconditions. The vault
// acts as the record's transfer authority and is only reachable through
// these methods, never handed to callers.
type Ledger interface {
	CustodyPut(*Record) error
	CustodyGet(id [32]byte) (*Record, bool)
	CustodyCredit(id [32]byte, asset Asset, amt *big.Int) error
	CustodyDebit(id [32]byte, asset Asset, amt *big.Int) error
	CustodyBalance(id [32]byte, asset Asset) (*big.Int, error)
	CustodyVaultAddress(asset Asset) ([20]byte, error)
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferAsset(from, to [20]byte, asset Asset, amount *big.Int) error
	VerifySigner(addr [20]byte) bool
}

// Engine wires the custody business logic with the external ledger, the
// event emitter and the fairness oracle.
type Engine struct {
	state        Ledger
	emitter      events.Emitter
	oracle       WinnerOracle
	feeCollector [20]byte
	pauses       common.PauseView
	nowFn        func() int64
}

// NewEngine creates a custody engine with a no-op emitter and no oracle.
// Callers install collaborators through the Set* methods.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the ledger backend used by the engine.
func (e *Engine) SetState(state Ledger) { e.state = state }

// SetFeeCollector configures the address receiving flip settlement fees.
func (e *Engine) SetFeeCollector(addr [20]byte) { e.feeCollector = addr }

// SetOracle installs the fairness oracle used for flip settlement. Flip
// records cannot settle while no oracle is configured.
func (e *Engine) SetOracle(oracle WinnerOracle) { e.oracle = oracle }

// SetPauses configures the operator pause switches consulted before every
// mutating operation.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) guard(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.state.VerifySigner(caller) {
		return fmt.Errorf("%w: signer rejected by ledger", ErrUnauthorized)
	}
	return nil
}

func (e *Engine) loadRecord(id [32]byte) (*Record, error) {
	rec, ok := e.state.CustodyGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return SanitizeRecord(rec)
}

func (e *Engine) storeRecord(rec *Record) error {
	return e.state.CustodyPut(rec)
}

// transfer moves an amount through the ledger, dispatching on the asset
// kind. Ledger failures other than insufficient balance surface as
// ErrLedgerTransfer so the caller aborts with no state change.
func (e *Engine) transfer(from, to [20]byte, asset Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer", ErrInvalidAmount)
	}
	var err error
	if asset.Kind == AssetNative {
		err = e.state.Transfer(from, to, amount)
	} else {
		err = e.state.TransferAsset(from, to, asset, amount)
	}
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// InitOptions carries the policy-specific parameters of a new record.
type InitOptions struct {
	// UnitPrice is required for sale records and forbidden elsewhere.
	UnitPrice *big.Int
	// FeeBps applies to flip records only; at most 10000.
	FeeBps uint32
}

// Initialize creates and persists an empty custody record for the
// owner+asset+policy key. The key deliberately includes the policy, so
// one owner may hold an escrow, a flip and a sale record over the same
// asset side by side. Re-creating an existing record fails with
// ErrDuplicateRecord regardless of whether the definition matches.
func (e *Engine) Initialize(owner [20]byte, asset Asset, policy Policy, opts InitOptions) (*Record, error) {
	if err := e.guard(owner); err != nil {
		return nil, err
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("custody: invalid policy: %d", policy)
	}
	if opts.FeeBps > 10_000 {
		return nil, fmt.Errorf("%w: fee bps out of range", ErrInvalidAmount)
	}
	if opts.FeeBps > 0 && policy != PolicyFlip {
		return nil, fmt.Errorf("%w: fee applies to flip records only", ErrInvalidAmount)
	}
	var unitPrice *big.Int
	switch policy {
	case PolicySale:
		if opts.UnitPrice == nil || opts.UnitPrice.Sign() <= 0 {
			return nil, fmt.Errorf("%w: sale records require a positive unit price", ErrInvalidAmount)
		}
		unitPrice = new(big.Int).Set(opts.UnitPrice)
	default:
		if opts.UnitPrice != nil {
			return nil, fmt.Errorf("%w: unit price applies to sale records only", ErrInvalidAmount)
		}
	}
	id := recordID(owner, normalized, policy)
	if _, ok := e.state.CustodyGet(id); ok {
		return nil, ErrDuplicateRecord
	}
	rec := &Record{
		ID:        id,
		Owner:     owner,
		Asset:     normalized,
		Policy:    policy,
		Amount:    big.NewInt(0),
		UnitPrice: unitPrice,
		FeeBps:    opts.FeeBps,
		Stage:     StageUninitialized,
		CreatedAt: e.now(),
	}
	if err := e.storeRecord(rec); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(rec))
	return rec.Clone(), nil
}

func recordID(owner [20]byte, asset Asset, policy Policy) [32]byte {
	return ethcrypto.Keccak256Hash(owner[:], []byte{byte(policy)}, asset.Key())
}

// Deposit moves amount from the owner into the record's custody vault and
// marks the record funded. Repeated deposits are permitted while the
// record is unmatched.
func (e *Engine) Deposit(id [32]byte, caller [20]byte, amount *big.Int) error {
	if err := e.guard(caller); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != rec.Owner {
		return fmt.Errorf("%w: only the owner deposits", ErrUnauthorized)
	}
	switch rec.Stage {
	case StageUninitialized, StageFunded, StagePartiallyWithdrawn:
	default:
		return fmt.Errorf("%w: cannot deposit in stage %s", ErrInvalidStage, rec.Stage)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	vault, err := e.state.CustodyVaultAddress(rec.Asset)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	if err := e.transfer(rec.Owner, vault, rec.Asset, amt); err != nil {
		return err
	}
	if err := e.state.CustodyCredit(id, rec.Asset, amt); err != nil {
		e.compensate(vault, rec.Owner, rec.Asset, amt)
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	rec.Amount = new(big.Int).Add(rec.Amount, amt)
	rec.Stage = StageFunded
	if err := e.storeRecord(rec); err != nil {
		if debitErr := e.state.CustodyDebit(id, rec.Asset, amt); debitErr != nil {
			slog.Error("custody: rollback deposit credit failed", slog.Any("error", debitErr))
		}
		e.compensate(vault, rec.Owner, rec.Asset, amt)
		return err
	}
	e.emit(NewDepositedEvent(rec, amt))
	return nil
}

// Accept matches a counterparty against a funded record. Sale and flip
// records settle inline: either every transfer of the settlement commits,
// or the record stays funded with no balance change.
func (e *Engine) Accept(id [32]byte, caller [20]byte) error {
	if err := e.guard(caller); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if rec.Stage == StageSettled {
		return ErrAlreadySettled
	}
	if rec.Stage != StageFunded {
		return fmt.Errorf("%w: cannot accept in stage %s", ErrInvalidStage, rec.Stage)
	}
	if caller == rec.Owner {
		return fmt.Errorf("%w: owner cannot accept own record", ErrUnauthorized)
	}
	switch rec.Policy {
	case PolicyEscrow:
		rec.Counterparty = caller
		rec.Stage = StageMatched
		if err := e.storeRecord(rec); err != nil {
			return err
		}
		e.emit(NewMatchedEvent(rec))
		return nil
	case PolicyFlip:
		return e.settleFlip(rec, caller)
	case PolicySale:
		return e.settleSale(rec, caller)
	default:
		return fmt.Errorf("custody: invalid policy: %d", rec.Policy)
	}
}

// settleFlip pools a matching stake from the counterparty and pays the
// oracle-selected winner. fee + payout == pool exactly.
func (e *Engine) settleFlip(rec *Record, counterparty [20]byte) error {
	if e.oracle == nil {
		return ErrOracleNotConfigured
	}
	stake, err := e.state.CustodyBalance(rec.ID, rec.Asset)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	if stake == nil || stake.Sign() <= 0 {
		return fmt.Errorf("%w: flip record holds no stake", ErrInvalidAmount)
	}
	pool := new(big.Int).Mul(stake, big.NewInt(2))
	fee := new(big.Int).Mul(pool, new(big.Int).SetUint64(uint64(rec.FeeBps)))
	fee.Div(fee, big.NewInt(10_000))
	payout := new(big.Int).Sub(pool, fee)
	if fee.Sign() > 0 && e.feeCollector == ([20]byte{}) {
		return errNilCollector
	}
	seed := ethcrypto.Keccak256(rec.ID[:], rec.Owner[:], counterparty[:], pool.Bytes())
	winner, err := e.oracle.SelectWinner(seed)
	if err != nil {
		return fmt.Errorf("custody: winner selection: %w", err)
	}
	winnerAddr := rec.Owner
	if winner == PartyCounterparty {
		winnerAddr = counterparty
	}
	vault, err := e.state.CustodyVaultAddress(rec.Asset)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	// Counterparty stake in.
	if err := e.transfer(counterparty, vault, rec.Asset, stake); err != nil {
		return err
	}
	if err := e.state.CustodyCredit(rec.ID, rec.Asset, stake); err != nil {
		e.compensate(vault, counterparty, rec.Asset, stake)
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	// Payout and fee out.
	if err := e.transfer(vault, winnerAddr, rec.Asset, payout); err != nil {
		e.rollbackFlipStake(rec, vault, counterparty, stake)
		return err
	}
	if fee.Sign() > 0 {
		if err := e.transfer(vault, e.feeCollector, rec.Asset, fee); err != nil {
			e.compensate(winnerAddr, vault, rec.Asset, payout)
			e.rollbackFlipStake(rec, vault, counterparty, stake)
			return err
		}
	}
	if err := e.state.CustodyDebit(rec.ID, rec.Asset, pool); err != nil {
		e.compensate(e.feeCollector, vault, rec.Asset, fee)
		e.compensate(winnerAddr, vault, rec.Asset, payout)
		e.rollbackFlipStake(rec, vault, counterparty, stake)
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	rec.Counterparty = counterparty
	rec.Amount = big.NewInt(0)
	rec.Stage = StageSettled
	if err := e.storeRecord(rec); err != nil {
		if creditErr := e.state.CustodyCredit(rec.ID, rec.Asset, pool); creditErr != nil {
			slog.Error("custody: restore flip pool failed", slog.Any("error", creditErr))
		}
		if fee.Sign() > 0 {
			e.compensate(e.feeCollector, vault, rec.Asset, fee)
		}
		e.compensate(winnerAddr, vault, rec.Asset, payout)
		e.rollbackFlipStake(rec, vault, counterparty, stake)
		return err
	}
	e.emit(NewFlipSettledEvent(rec, winner, winnerAddr, pool, fee, payout))
	return nil
}

func (e *Engine) rollbackFlipStake(rec *Record, vault, counterparty [20]byte, stake *big.Int) {
	if err := e.state.CustodyDebit(rec.ID, rec.Asset, stake); err != nil {
		slog.Error("custody: rollback flip stake failed", slog.Any("error", err))
		return
	}
	e.compensate(vault, counterparty, rec.Asset, stake)
}

// settleSale executes the buy: price first, asset second. A failed buyer
// payment never releases the asset.
func (e *Engine) settleSale(rec *Record, buyer [20]byte) error {
	if rec.UnitPrice == nil || rec.UnitPrice.Sign() <= 0 {
		return fmt.Errorf("%w: record has no unit price", ErrInvalidAmount)
	}
	quantity, err := e.state.CustodyBalance(rec.ID, rec.Asset)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	if quantity == nil || quantity.Sign() <= 0 {
		return fmt.Errorf("%w: nothing listed for sale", ErrInvalidAmount)
	}
	cost := new(big.Int).Mul(rec.UnitPrice, quantity)
	// Price leg: buyer pays the owner in native currency.
	if err := e.transfer(buyer, rec.Owner, Asset{Kind: AssetNative}, cost); err != nil {
		return err
	}
	// Asset leg: the custodied asset leaves the vault for the buyer.
	vault, err := e.state.CustodyVaultAddress(rec.Asset)
	if err != nil {
		e.compensate(rec.Owner, buyer, Asset{Kind: AssetNative}, cost)
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	if err := e.transfer(vault, buyer, rec.Asset, quantity); err != nil {
		e.compensate(rec.Owner, buyer, Asset{Kind: AssetNative}, cost)
		return err
	}
	if err := e.state.CustodyDebit(rec.ID, rec.Asset, quantity); err != nil {
		e.compensate(buyer, vault, rec.Asset, quantity)
		e.compensate(rec.Owner, buyer, Asset{Kind: AssetNative}, cost)
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	rec.Counterparty = buyer
	rec.Amount = big.NewInt(0)
	rec.Stage = StageSettled
	if err := e.storeRecord(rec); err != nil {
		if creditErr := e.state.CustodyCredit(rec.ID, rec.Asset, quantity); creditErr != nil {
			slog.Error("custody: restore sale quantity failed", slog.Any("error", creditErr))
		}
		e.compensate(buyer, vault, rec.Asset, quantity)
		e.compensate(rec.Owner, buyer, Asset{Kind: AssetNative}, cost)
		return err
	}
	e.emit(NewSoldEvent(rec, quantity, cost))
	return nil
}

// Withdraw returns amount from custody to the owner. The bounds check runs
// before any mutation.
func (e *Engine) Withdraw(id [32]byte, caller [20]byte, amount *big.Int) error {
	if err := e.guard(caller); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != rec.Owner {
		return fmt.Errorf("%w: only the owner withdraws", ErrUnauthorized)
	}
	if rec.Stage != StageFunded && rec.Stage != StagePartiallyWithdrawn {
		return fmt.Errorf("%w: cannot withdraw in stage %s", ErrInvalidStage, rec.Stage)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := e.state.CustodyBalance(id, rec.Asset)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	if balance == nil || balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	vault, err := e.state.CustodyVaultAddress(rec.Asset)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	if err := e.transfer(vault, rec.Owner, rec.Asset, amt); err != nil {
		return err
	}
	if err := e.state.CustodyDebit(id, rec.Asset, amt); err != nil {
		e.compensate(rec.Owner, vault, rec.Asset, amt)
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	rec.Amount = new(big.Int).Sub(rec.Amount, amt)
	rec.Stage = StagePartiallyWithdrawn
	if err := e.storeRecord(rec); err != nil {
		if creditErr := e.state.CustodyCredit(id, rec.Asset, amt); creditErr != nil {
			slog.Error("custody: rollback withdraw debit failed", slog.Any("error", creditErr))
		}
		e.compensate(rec.Owner, vault, rec.Asset, amt)
		return err
	}
	e.emit(NewWithdrawnEvent(rec, amt))
	return nil
}

// Settle releases the full custodied balance of a matched refundable
// record to its counterparty. Flip and sale records settle inline during
// Accept and can only reach this path once settled, which is rejected.
func (e *Engine) Settle(id [32]byte, caller [20]byte) error {
	if err := e.guard(caller); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if rec.Stage == StageSettled {
		return ErrAlreadySettled
	}
	if rec.Stage != StageMatched {
		return fmt.Errorf("%w: cannot settle in stage %s", ErrInvalidStage, rec.Stage)
	}
	if caller != rec.Owner {
		return fmt.Errorf("%w: only the owner releases custody", ErrUnauthorized)
	}
	if !rec.Matched() {
		return fmt.Errorf("%w: no counterparty recorded", ErrInvalidStage)
	}
	balance, err := e.state.CustodyBalance(id, rec.Asset)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	if balance == nil || balance.Sign() <= 0 {
		return fmt.Errorf("%w: nothing to release", ErrInvalidAmount)
	}
	vault, err := e.state.CustodyVaultAddress(rec.Asset)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	if err := e.transfer(vault, rec.Counterparty, rec.Asset, balance); err != nil {
		return err
	}
	if err := e.state.CustodyDebit(id, rec.Asset, balance); err != nil {
		e.compensate(rec.Counterparty, vault, rec.Asset, balance)
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	rec.Amount = big.NewInt(0)
	rec.Stage = StageSettled
	if err := e.storeRecord(rec); err != nil {
		if creditErr := e.state.CustodyCredit(id, rec.Asset, balance); creditErr != nil {
			slog.Error("custody: restore released balance failed", slog.Any("error", creditErr))
		}
		e.compensate(rec.Counterparty, vault, rec.Asset, balance)
		return err
	}
	e.emit(NewReleasedEvent(rec, balance))
	return nil
}

// Cancel refunds the full custodied balance to the owner and closes the
// record. Only unmatched funded records can be cancelled.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	if err := e.guard(caller); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != rec.Owner {
		return fmt.Errorf("%w: only the owner cancels", ErrUnauthorized)
	}
	if rec.Stage != StageFunded {
		return fmt.Errorf("%w: cannot cancel in stage %s", ErrInvalidStage, rec.Stage)
	}
	balance, err := e.state.CustodyBalance(id, rec.Asset)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	refund := cloneBigInt(balance)
	vault, err := e.state.CustodyVaultAddress(rec.Asset)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
	}
	if refund.Sign() > 0 {
		if err := e.transfer(vault, rec.Owner, rec.Asset, refund); err != nil {
			return err
		}
		if err := e.state.CustodyDebit(id, rec.Asset, refund); err != nil {
			e.compensate(rec.Owner, vault, rec.Asset, refund)
			return fmt.Errorf("%w: %s", ErrLedgerTransfer, err)
		}
	}
	rec.Amount = big.NewInt(0)
	rec.Stage = StageCancelled
	if err := e.storeRecord(rec); err != nil {
		if refund.Sign() > 0 {
			if creditErr := e.state.CustodyCredit(id, rec.Asset, refund); creditErr != nil {
				slog.Error("custody: rollback cancel debit failed", slog.Any("error", creditErr))
			}
			e.compensate(rec.Owner, vault, rec.Asset, refund)
		}
		return err
	}
	e.emit(NewCancelledEvent(rec, refund))
	return nil
}

// SetUnitPrice lets the owner reprice an unmatched sale listing. This is
// not a stage transition.
func (e *Engine) SetUnitPrice(id [32]byte, caller [20]byte, price *big.Int) error {
	if err := e.guard(caller); err != nil {
		return err
	}
	rec, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != rec.Owner {
		return fmt.Errorf("%w: only the owner edits the price", ErrUnauthorized)
	}
	if rec.Policy != PolicySale {
		return fmt.Errorf("custody: unit price applies to sale records only")
	}
	if rec.Stage != StageFunded {
		return fmt.Errorf("%w: cannot reprice in stage %s", ErrInvalidStage, rec.Stage)
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidAmount
	}
	rec.UnitPrice = new(big.Int).Set(price)
	if err := e.storeRecord(rec); err != nil {
		return err
	}
	e.emit(NewPricedEvent(rec))
	return nil
}

// compensate undoes an already-applied transfer leg after a later leg
// failed. A failing compensation cannot abort the abort; it is logged and
// left to operator reconciliation.
func (e *Engine) compensate(from, to [20]byte, asset Asset, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	if err := e.transfer(from, to, asset, amount); err != nil {
		slog.Error("custody: compensation transfer failed",
			slog.String("asset", asset.String()),
			slog.Any("error", err))
	}
}
