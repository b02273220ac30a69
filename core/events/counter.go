package events

import (
	"encoding/hex"
	"strconv"

	"custodia/core/types"
	"custodia/crypto"
)

const (
	TypeCounterUpdated          = "counter.updated"
	TypeCounterAuthorityChanged = "counter.authority_changed"
)

// CounterUpdated reports the counter total after a successful mutation.
type CounterUpdated struct {
	ID        [32]byte
	Authority [20]byte
	Total     int64
}

func (CounterUpdated) EventType() string { return TypeCounterUpdated }

func (e CounterUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeCounterUpdated,
		Attributes: map[string]string{
			"id":        hex.EncodeToString(e.ID[:]),
			"authority": crypto.NewAddress(crypto.CustodyPrefix, e.Authority[:]).String(),
			"total":     strconv.FormatInt(e.Total, 10),
		},
	}
}

// CounterAuthorityChanged reports an authority handover.
type CounterAuthorityChanged struct {
	ID        [32]byte
	Previous  [20]byte
	Authority [20]byte
}

func (CounterAuthorityChanged) EventType() string { return TypeCounterAuthorityChanged }

func (e CounterAuthorityChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeCounterAuthorityChanged,
		Attributes: map[string]string{
			"id":        hex.EncodeToString(e.ID[:]),
			"previous":  crypto.NewAddress(crypto.CustodyPrefix, e.Previous[:]).String(),
			"authority": crypto.NewAddress(crypto.CustodyPrefix, e.Authority[:]).String(),
		},
	}
}
