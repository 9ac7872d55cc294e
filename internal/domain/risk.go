package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RiskStateType int

const (
	// RiskStateActive permits submitting and cancelling orders.
	RiskStateActive RiskStateType = iota
	// RiskStateCloseOrders only permits orders that reduce a position.
	RiskStateCloseOrders
	// RiskStateDisabled blocks all order submission.
	RiskStateDisabled
)

func (t RiskStateType) String() string {
	switch t {
	case RiskStateActive:
		return "ACTIVE"
	case RiskStateCloseOrders:
		return "CLOSE_ORDERS"
	case RiskStateDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// RiskState is an account's current risk state. A zero Expiry means the
// state does not expire.
type RiskState struct {
	Type   RiskStateType `json:"type" validate:"gte=0,lte=2"`
	Expiry time.Time     `json:"expiry"`
}

func (s RiskState) Equal(other RiskState) bool {
	return s.Type == other.Type && s.Expiry.Equal(other.Expiry)
}

// RiskParameters configures the risk engine for one account.
type RiskParameters struct {
	Currency       string          `json:"currency" validate:"omitempty,iso4217"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	AllowedState   RiskState       `json:"allowed_state"`
	NetLoss        decimal.Decimal `json:"net_loss"`
	TransitionTime time.Duration   `json:"transition_time" validate:"gte=0"`
}

func (p RiskParameters) Equal(other RiskParameters) bool {
	return p.Currency == other.Currency &&
		p.BuyingPower.Equal(other.BuyingPower) &&
		p.AllowedState.Equal(other.AllowedState) &&
		p.NetLoss.Equal(other.NetLoss) &&
		p.TransitionTime == other.TransitionTime
}

type IndexedRiskParameters struct {
	Account    DirectoryEntry `json:"account"`
	Parameters RiskParameters `json:"parameters"`
}

type IndexedRiskState struct {
	Account DirectoryEntry `json:"account"`
	State   RiskState      `json:"state"`
}
