// Package gate implements the purchase record state machine: payment
// verification, one-time device binding, and the single-consumption guarantee
// for the audio asset.
package gate

import (
	"time"

	"github.com/eternal-audio/eternal-gate/internal/token"
)

// State is the derived position of a record in its lifecycle.
type State string

const (
	// StateUnknown means no record exists for the identifier.
	StateUnknown State = "unknown"
	// StateCreated means a record exists but settlement is unconfirmed.
	StateCreated State = "created"
	// StatePaid means settlement is confirmed but no device has claimed.
	StatePaid State = "paid"
	// StateBound means a device token has been fixed to the record.
	StateBound State = "bound"
	// StateConsumed means the content has been played; access is closed.
	StateConsumed State = "consumed"
)

// Record is the persisted purchase state, keyed in the store by the payment
// authority's purchase identifier.
//
// ClaimSecret exists only between creation and the first successful claim.
// DeviceToken is minted at most once and never rotates. Neither field may ever
// appear in an API response; the json tags exist for store serialization only.
type Record struct {
	PurchaseID       string    `json:"purchase_id"`
	Paid             bool      `json:"paid"`
	SettlementStatus string    `json:"settlement_status,omitempty"`
	ClaimSecret      string    `json:"claim_secret,omitempty"`
	DeviceToken      string    `json:"device_token,omitempty"`
	Consumed         bool      `json:"consumed"`
	CreatedAt        time.Time `json:"created_at"`
	ClaimedAt        time.Time `json:"claimed_at,omitempty"`
	ConsumedAt       time.Time `json:"consumed_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// State derives the lifecycle position from the record fields.
func (r Record) State() State {
	switch {
	case r.Consumed:
		return StateConsumed
	case r.Paid && r.Bound():
		return StateBound
	case r.Paid:
		return StatePaid
	default:
		return StateCreated
	}
}

// Bound reports whether the record carries a usable device token. Tokens
// shorter than the minimum (including empty) come from pre-binding record
// shapes and are treated as not yet bound.
func (r Record) Bound() bool {
	return len(r.DeviceToken) >= token.MinDeviceLength
}

// Claimable reports whether the one-time claim secret is still outstanding.
func (r Record) Claimable() bool {
	return r.ClaimSecret != ""
}
