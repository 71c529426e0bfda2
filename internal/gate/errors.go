package gate

import "errors"

// Business-rule denials. These are terminal for the request that hit them; the
// caller must redo the prior step (pay, claim) rather than retry the same call.
var (
	// ErrNotPaid is returned when the authority has not confirmed settlement.
	ErrNotPaid = errors.New("payment not confirmed")
	// ErrAlreadyConsumed is returned once the one-way consumed transition has
	// committed; the content can never be released again for this record.
	ErrAlreadyConsumed = errors.New("already consumed")
	// ErrDeviceTokenRequired is returned when the record has no device token
	// yet (claim not completed) or the presented credential does not match.
	ErrDeviceTokenRequired = errors.New("device token required")
	// ErrInvalidClaim is returned when a presented claim secret does not match
	// the stored one. No state is mutated.
	ErrInvalidClaim = errors.New("invalid claim")
	// ErrClaimUnavailable is returned when no claim secret remains on the
	// record: either it was already consumed by a successful claim or it was
	// never issued for this record shape.
	ErrClaimUnavailable = errors.New("claim not available")
)

// Service failures. Retriable, and always distinct from "unpaid": an
// unreachable authority must never silently read as a payment denial except on
// the claim path, which fails closed.
var (
	// ErrAuthorityUnreachable is returned when the payment authority cannot be
	// reached or answers with a server-side failure.
	ErrAuthorityUnreachable = errors.New("payment authority unreachable")
	// ErrAuthorityRejected is returned when the authority answers but refuses
	// the lookup (unknown identifier, bad credentials).
	ErrAuthorityRejected = errors.New("payment authority rejected request")
	// ErrRecordNotFound is returned by stores for absent records.
	ErrRecordNotFound = errors.New("record not found")
	// ErrStoreUnavailable wraps store transport failures.
	ErrStoreUnavailable = errors.New("record store unavailable")
)
