package custody

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"custodia/core/types"
	"custodia/crypto"
)

const (
	EventTypeCreated     = "custody.created"
	EventTypeDeposited   = "custody.deposited"
	EventTypeMatched     = "custody.matched"
	EventTypeWithdrawn   = "custody.withdrawn"
	EventTypeFlipSettled = "custody.flip.settled"
	EventTypeSold        = "custody.sold"
	EventTypeReleased    = "custody.released"
	EventTypeCancelled   = "custody.cancelled"
	EventTypePriced      = "custody.priced"
)

// custodyEvent adapts a *types.Event payload to the events.Emitter
// contract.
type custodyEvent struct {
	evt *types.Event
}

func (e custodyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e custodyEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the canonical payload for a new custody record.
func NewCreatedEvent(r *Record) custodyEvent {
	return newRecordEvent(EventTypeCreated, r, nil)
}

// NewDepositedEvent carries the deposited amount alongside the record.
func NewDepositedEvent(r *Record, amount *big.Int) custodyEvent {
	return newRecordEvent(EventTypeDeposited, r, map[string]string{"deposit": formatAmount(amount)})
}

// NewMatchedEvent marks the counterparty joining a refundable record.
func NewMatchedEvent(r *Record) custodyEvent {
	return newRecordEvent(EventTypeMatched, r, nil)
}

// NewWithdrawnEvent carries the withdrawn amount alongside the record.
func NewWithdrawnEvent(r *Record, amount *big.Int) custodyEvent {
	return newRecordEvent(EventTypeWithdrawn, r, map[string]string{"withdrawal": formatAmount(amount)})
}

// NewFlipSettledEvent reports the winner, pool, fee and payout of a flip.
func NewFlipSettledEvent(r *Record, winner Party, winnerAddr [20]byte, pool, fee, payout *big.Int) custodyEvent {
	return newRecordEvent(EventTypeFlipSettled, r, map[string]string{
		"winner":        winner.String(),
		"winnerAddress": crypto.NewAddress(crypto.CustodyPrefix, winnerAddr[:]).String(),
		"pool":          formatAmount(pool),
		"fee":           formatAmount(fee),
		"payout":        formatAmount(payout),
	})
}

// NewSoldEvent reports the quantity released and price paid in a sale.
func NewSoldEvent(r *Record, quantity, cost *big.Int) custodyEvent {
	return newRecordEvent(EventTypeSold, r, map[string]string{
		"quantity": formatAmount(quantity),
		"cost":     formatAmount(cost),
	})
}

// NewReleasedEvent reports an owner-authorised release to the counterparty.
func NewReleasedEvent(r *Record, amount *big.Int) custodyEvent {
	return newRecordEvent(EventTypeReleased, r, map[string]string{"released": formatAmount(amount)})
}

// NewCancelledEvent reports a cancellation refund to the owner.
func NewCancelledEvent(r *Record, refund *big.Int) custodyEvent {
	return newRecordEvent(EventTypeCancelled, r, map[string]string{"refund": formatAmount(refund)})
}

// NewPricedEvent reports a unit-price edit on a sale listing.
func NewPricedEvent(r *Record) custodyEvent {
	return newRecordEvent(EventTypePriced, r, nil)
}

func newRecordEvent(eventType string, r *Record, extra map[string]string) custodyEvent {
	attrs := make(map[string]string)
	evt := &types.Event{Type: eventType, Attributes: attrs}
	sanitized, err := SanitizeRecord(r)
	if err != nil {
		return custodyEvent{evt: evt}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["owner"] = crypto.NewAddress(crypto.CustodyPrefix, sanitized.Owner[:]).String()
	attrs["asset"] = sanitized.Asset.String()
	attrs["policy"] = sanitized.Policy.String()
	attrs["stage"] = sanitized.Stage.String()
	attrs["amount"] = sanitized.Amount.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	if sanitized.Matched() {
		attrs["counterparty"] = crypto.NewAddress(crypto.CustodyPrefix, sanitized.Counterparty[:]).String()
	}
	if sanitized.UnitPrice != nil {
		attrs["unitPrice"] = sanitized.UnitPrice.String()
	}
	if sanitized.Policy == PolicyFlip {
		attrs["feeBps"] = strconv.FormatUint(uint64(sanitized.FeeBps), 10)
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return custodyEvent{evt: evt}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
