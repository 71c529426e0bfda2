package gate

import (
	"context"
	"errors"
	"time"

	"github.com/eternal-audio/eternal-gate/internal/token"
)

// RecordStore is the persistence contract the gate runs on. The store offers
// no transactions and no compare-and-swap; the gate compensates by never
// writing a record it did not load first (see mutate).
type RecordStore interface {
	// Get returns the record for id, or ErrRecordNotFound.
	Get(ctx context.Context, id string) (Record, error)
	// Put stores the record. A zero ttl means no expiry; a positive ttl lets
	// the store drop the record after that window.
	Put(ctx context.Context, id string, rec Record, ttl time.Duration) error
}

// Settlement is the authority's answer for a purchase identifier.
type Settlement struct {
	// Status is the raw authority status string, kept on the record for
	// observability. Informational only.
	Status string
	// Settled is true once funds have cleared. Settlement never regresses.
	Settled bool
}

// Authority is the payment source of truth. It is consulted whenever cached
// state says unpaid or is absent; a cached paid record is honored without a
// re-check because settlement does not regress.
type Authority interface {
	CheckSettlement(ctx context.Context, id string) (Settlement, error)
}

// Gate owns every transition of a purchase record. All collaborators are
// injected; the gate holds no process-wide caches, so concurrent requests
// coordinate only through the store.
type Gate struct {
	store     RecordStore
	authority Authority

	// Overridable in tests.
	now  func() time.Time
	mint func() string
}

// New returns a Gate over the given store and payment authority.
func New(store RecordStore, authority Authority) *Gate {
	return &Gate{
		store:     store,
		authority: authority,
		now:       time.Now,
		mint:      token.Mint,
	}
}

// mutate applies a whitelisted change to the current stored record and writes
// the result back. Absent records are healed to a minimal created-shape record
// first, supporting legacy flows that never ran purchase initiation. If apply
// returns an error nothing is written.
//
// Load-apply-put is the only write path in the package: operations may only
// touch the fields their apply function owns, which keeps a concurrent writer
// of other fields from being clobbered by a stale full overwrite.
func (g *Gate) mutate(ctx context.Context, id string, apply func(*Record) error) (Record, error) {
	rec, err := g.store.Get(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		rec = Record{PurchaseID: id, CreatedAt: g.now()}
	} else if err != nil {
		return Record{}, err
	}
	if err := apply(&rec); err != nil {
		return Record{}, err
	}
	rec.PurchaseID = id
	rec.UpdatedAt = g.now()
	if err := g.store.Put(ctx, id, rec, 0); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Create writes a fresh record for a purchase identifier just issued by the
// authority, holding the one-time claim secret minted during purchase
// initiation. The secret travels to the buyer out of band (URL fragment); it
// is never logged and never readable through any other operation.
func (g *Gate) Create(ctx context.Context, id, settlementStatus, secret string) error {
	now := g.now()
	rec := Record{
		PurchaseID:       id,
		SettlementStatus: settlementStatus,
		ClaimSecret:      secret,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return g.store.Put(ctx, id, rec, 0)
}

// StatusView is everything a status read is allowed to reveal. The device
// token and claim secret have no field here on purpose: a holder of the
// shareable purchase link must not be able to self-authorize a device through
// a read.
type StatusView struct {
	State            State
	Paid             bool
	Consumed         bool
	SettlementStatus string
}

// Status reports the lifecycle position of a purchase. When the cached record
// already says paid the authority is not consulted again; otherwise settlement
// is re-derived from the authority and the paid flag healed into the record.
// Status never mints a device token and never fabricates or clears a claim
// secret, whatever shape the stored record is in.
func (g *Gate) Status(ctx context.Context, id string) (StatusView, error) {
	rec, err := g.store.Get(ctx, id)
	exists := true
	if errors.Is(err, ErrRecordNotFound) {
		exists = false
	} else if err != nil {
		return StatusView{}, err
	}

	if exists && rec.Paid {
		return viewOf(rec), nil
	}

	settlement, err := g.authority.CheckSettlement(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	if !settlement.Settled {
		return StatusView{
			State:            StateCreated,
			SettlementStatus: settlement.Status,
		}, nil
	}

	if !exists {
		// Authority knows the purchase but we never stored a record (webhook
		// lost, legacy flow). Report unlocked without writing: there is no
		// claim secret to preserve and nothing for a later claim to use, so a
		// record would only be churn.
		return StatusView{
			State:            StatePaid,
			Paid:             true,
			SettlementStatus: settlement.Status,
		}, nil
	}

	rec, err = g.mutate(ctx, id, func(r *Record) error {
		mergeSettlement(r, settlement)
		return nil
	})
	if err != nil {
		return StatusView{}, err
	}
	return viewOf(rec), nil
}

func viewOf(rec Record) StatusView {
	return StatusView{
		State:            rec.State(),
		Paid:             rec.Paid,
		Consumed:         rec.Consumed,
		SettlementStatus: rec.SettlementStatus,
	}
}

// mergeSettlement folds an authority answer into a record. It owns only the
// paid flag and the status string: it never clears a claim secret, never
// fabricates one, and never touches the device token. Paid is monotonic.
func mergeSettlement(r *Record, s Settlement) {
	if s.Settled {
		r.Paid = true
	}
	r.SettlementStatus = s.Status
}

// IngestSettlement folds a push-delivered (webhook) settlement confirmation
// into the canonical record for the identifier. The push path is an
// optimization that pre-warms the same record the polling path would
// otherwise build: same key, same schema, paid flag only. A record that did
// not previously exist is written with the given ttl so a push-only record
// for a purchase nobody ever returns to expires at the store level; a record
// the polling path already owns keeps its fields and its permanence.
func (g *Gate) IngestSettlement(ctx context.Context, id, status string, ttl time.Duration) error {
	settlement := Settlement{Status: status, Settled: true}

	rec, err := g.store.Get(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		now := g.now()
		rec = Record{
			PurchaseID:       id,
			SettlementStatus: status,
			Paid:             true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return g.store.Put(ctx, id, rec, ttl)
	}
	if err != nil {
		return err
	}

	merged := rec
	mergeSettlement(&merged, settlement)
	if merged == rec {
		// Events arrive at least once. An unchanged redelivery writes nothing,
		// so a push-only record keeps whatever remains of its validity window
		// instead of being rewritten into permanence.
		return nil
	}
	merged.UpdatedAt = g.now()

	// A record only the push path ever touched re-arms the window; a record
	// carrying a claim secret, a binding, or a consumption belongs to a real
	// purchase and must not expire.
	if !rec.Claimable() && !rec.Bound() && !rec.Consumed {
		return g.store.Put(ctx, id, merged, ttl)
	}
	return g.store.Put(ctx, id, merged, 0)
}

// Claim binds the purchase to the calling device. The presented secret must
// match the stored one-time claim secret; on success the device token is
// minted (or kept, if an earlier shape already carried one), the secret is
// irreversibly cleared, and the token is returned for cookie transport.
//
// Settlement is re-verified with the authority on every claim; an authority
// that answers "not settled" fails the claim closed with ErrNotPaid.
func (g *Gate) Claim(ctx context.Context, id, presented string) (string, error) {
	settlement, err := g.authority.CheckSettlement(ctx, id)
	if err != nil {
		return "", err
	}
	if !settlement.Settled {
		return "", ErrNotPaid
	}

	var device string
	_, err = g.mutate(ctx, id, func(r *Record) error {
		if !r.Claimable() {
			// Already claimed, or a record shape that never carried a secret.
			// Strictly single-use: a stale tab replaying the old secret lands
			// here, not on a fresh token.
			return ErrClaimUnavailable
		}
		if !token.Equal(r.ClaimSecret, presented) {
			return ErrInvalidClaim
		}
		if !r.Bound() {
			r.DeviceToken = g.mint()
		}
		device = r.DeviceToken
		r.ClaimSecret = ""
		mergeSettlement(r, settlement)
		if r.ClaimedAt.IsZero() {
			r.ClaimedAt = g.now()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return device, nil
}

// Authorize decides whether content may be released for this purchase to the
// device presenting the given credential. Two gates compose: entitlement
// (paid, not consumed) and device binding (record token present, credential
// matches). Authorize marks nothing consumed; that is Complete's job.
//
// When the cached record says unpaid, settlement is re-derived from the
// authority and healed into the record, paid state only, never a token. An
// unreachable authority fails closed here: ambiguous state must never leak
// paid content.
func (g *Gate) Authorize(ctx context.Context, id, presented string) error {
	rec, err := g.store.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return err
	}

	if !rec.Paid {
		settlement, checkErr := g.authority.CheckSettlement(ctx, id)
		if checkErr != nil || !settlement.Settled {
			return ErrNotPaid
		}
		rec, err = g.mutate(ctx, id, func(r *Record) error {
			mergeSettlement(r, settlement)
			return nil
		})
		if err != nil {
			return err
		}
	}

	if !rec.Paid {
		return ErrNotPaid
	}
	if rec.Consumed {
		return ErrAlreadyConsumed
	}
	if !rec.Bound() {
		return ErrDeviceTokenRequired
	}
	if presented == "" || !token.Equal(presented, rec.DeviceToken) {
		return ErrDeviceTokenRequired
	}
	return nil
}

// Complete commits the one-way consumed transition. It requires confirmed
// payment (re-deriving it from the authority when the cached record says
// unpaid) and is idempotent: completing an already-consumed record succeeds
// without moving ConsumedAt. An unpaid record is never marked consumed.
func (g *Gate) Complete(ctx context.Context, id string) (Record, error) {
	rec, err := g.store.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return Record{}, err
	}

	if !rec.Paid {
		settlement, checkErr := g.authority.CheckSettlement(ctx, id)
		if checkErr != nil {
			return Record{}, checkErr
		}
		if !settlement.Settled {
			return Record{}, ErrNotPaid
		}
		// Heal paid state only. Unlike the claim path this deliberately does
		// not mint a device token: completion is unauthenticated, and a token
		// minted here would hand binding to whoever calls first.
		rec, err = g.mutate(ctx, id, func(r *Record) error {
			mergeSettlement(r, settlement)
			return nil
		})
		if err != nil {
			return Record{}, err
		}
	}

	return g.mutate(ctx, id, func(r *Record) error {
		if !r.Paid {
			return ErrNotPaid
		}
		if !r.Consumed {
			r.Consumed = true
			r.ConsumedAt = g.now()
		}
		return nil
	})
}
