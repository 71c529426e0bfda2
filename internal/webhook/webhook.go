// Package webhook verifies and ingests signed settlement events pushed by the
// payment authority. Verification failures reject the event before any state
// is read or written.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/eternal-audio/eternal-gate/internal/gate"
)

// ErrSignatureInvalid covers every verification failure: missing header,
// malformed header, and mismatched signature. Callers must not distinguish
// them in responses; a detailed rejection is an oracle for an attacker
// iterating on forged payloads.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// settlementEvent is the only event type the gate acts on.
const settlementEvent = "checkout.session.completed"

// DefaultValidity bounds how long a push-created record lives if the buyer
// never returns to claim it.
const DefaultValidity = 24 * time.Hour

// Ingestor verifies inbound events against the shared signing secret and
// folds settlement confirmations into the gate's records.
type Ingestor struct {
	secret   string
	gate     *gate.Gate
	validity time.Duration
}

// NewIngestor returns an Ingestor writing through the given gate. A zero
// validity falls back to DefaultValidity.
func NewIngestor(secret string, g *gate.Gate, validity time.Duration) *Ingestor {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Ingestor{secret: secret, gate: g, validity: validity}
}

// Verify checks the signature header against the raw request body. The signed
// payload is the header's timestamp joined to the raw body with a dot, keyed
// with HMAC-SHA256 and compared in constant time.
func (i *Ingestor) Verify(sigHeader string, rawBody []byte) error {
	timestamp, provided, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(i.secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	providedBytes, err := hex.DecodeString(provided)
	if err != nil {
		return ErrSignatureInvalid
	}
	if !hmac.Equal(expected, providedBytes) {
		return ErrSignatureInvalid
	}
	return nil
}

// Process verifies the event and, for settlement completions, pre-warms the
// canonical record under the event's reference. Event types the gate does not
// care about verify successfully and are dropped.
func (i *Ingestor) Process(ctx context.Context, sigHeader string, rawBody []byte) error {
	if err := i.Verify(sigHeader, rawBody); err != nil {
		return err
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID            string `json:"id"`
				PaymentStatus string `json:"payment_status"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return errors.New("webhook payload is not valid JSON")
	}

	if event.Type != settlementEvent || event.Data.Object.ID == "" {
		return nil
	}

	// Store the session's payment status, keeping the record's status
	// vocabulary aligned with what the polling path writes. Older payloads
	// without the field get the settled default.
	status := event.Data.Object.PaymentStatus
	if status == "" {
		status = "succeeded"
	}
	return i.gate.IngestSettlement(ctx, event.Data.Object.ID, status, i.validity)
}

// parseSignatureHeader extracts t and v1 from a header shaped like
// "t=1700000000,v1=abcdef...". Unknown pairs are ignored.
func parseSignatureHeader(header string) (timestamp, signature string, err error) {
	if header == "" {
		return "", "", ErrSignatureInvalid
	}
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signature = v
		}
	}
	if timestamp == "" || signature == "" {
		return "", "", ErrSignatureInvalid
	}
	return timestamp, signature, nil
}
