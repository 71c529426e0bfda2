package sdk

import "context"

// StatusView is what a status read reveals about a purchase. It deliberately
// mirrors the server's response: no claim secret, no device token.
type StatusView struct {
	State            string `json:"state"`
	Paid             bool   `json:"paid"`
	Consumed         bool   `json:"consumed"`
	SettlementStatus string `json:"status"`
}

// --- Functional interfaces ---

// StatusReader reports purchase lifecycle state.
type StatusReader interface {
	Status(ctx context.Context, id string) (StatusView, error)
}

// Claimer binds the current client to a purchase using its one-time claim
// secret. The device credential lands in the client's cookie jar, not in the
// return value.
type Claimer interface {
	Claim(ctx context.Context, id, secret string) error
}

// Completer commits the one-way consumed transition.
type Completer interface {
	Complete(ctx context.Context, id string) (consumed bool, err error)
}

// --- Composite interface ---

// GateClient is the full client-side contract for the gate API.
type GateClient interface {
	StatusReader
	Claimer
	Completer

	// PublishableKey fetches the payment authority's browser key.
	PublishableKey(ctx context.Context) (string, error)
}
