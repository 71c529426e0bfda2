// Package api exposes the gate over HTTP. Handlers translate between the wire
// protocol (query params, headers, the device cookie) and the gate's
// operations; no purchase-record logic lives here.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eternal-audio/eternal-gate/internal/gate"
	"github.com/eternal-audio/eternal-gate/internal/stripe"
	"github.com/eternal-audio/eternal-gate/internal/token"
	"github.com/eternal-audio/eternal-gate/internal/webhook"
)

// DeviceCookie is the cookie carrying the device-binding credential. It is
// set only by the claim endpoint and read only by the audio endpoint.
const DeviceCookie = "eternal_device"

// ClaimHeader carries the claim secret. The client reads it from the URL
// fragment (never sent to servers) and forwards it here; it must not appear
// in a query string where proxies and logs would capture it.
const ClaimHeader = "X-Eternal-Claim"

const deviceCookieMaxAge = 365 * 24 * 60 * 60 // one year

// Payments is the slice of the authority client that purchase initiation
// needs.
type Payments interface {
	CreateIntent(ctx context.Context, claimHint string) (stripe.Intent, error)
	CreateCheckout(ctx context.Context, successURL, cancelURL string) (string, error)
}

// Handler holds the collaborators for all endpoints.
type Handler struct {
	Gate     *gate.Gate
	Payments Payments
	Webhooks *webhook.Ingestor

	PublishableKey string
	AudioURL       string
	SuccessURL     string
	CancelURL      string

	// AudioClient fetches the audio origin. Defaults to a bounded-timeout
	// client when nil.
	AudioClient *http.Client
}

// Register wires every endpoint onto the given group.
func (h *Handler) Register(api *gin.RouterGroup) {
	api.POST("/create-intent", h.CreateIntent)
	api.POST("/create-checkout", h.CreateCheckout)
	api.GET("/config", h.Config)
	api.GET("/status", h.Status)
	api.POST("/claim", h.Claim)
	api.GET("/audio", h.Audio)
	api.POST("/complete", h.Complete)
	api.POST("/stripe-webhook", h.Webhook)
}

// purchaseID pulls the purchase identifier from the query, accepting the
// legacy aliases older client pages still send.
func purchaseID(c *gin.Context) string {
	for _, key := range []string{"pi", "payment_intent", "session_id"} {
		if v := c.Query(key); v != "" {
			return v
		}
	}
	return ""
}

// CreateIntent starts a purchase: a PaymentIntent at the authority, a fresh
// record with a one-time claim secret. The claim secret is returned exactly
// once, here, for the client to stash in a URL fragment.
func (h *Handler) CreateIntent(c *gin.Context) {
	secret := token.Mint()

	// First 10 chars only: enough to correlate in the authority dashboard,
	// useless for claiming.
	intent, err := h.Payments.CreateIntent(c.Request.Context(), secret[:10])
	if err != nil {
		h.deny(c, err)
		return
	}

	if err := h.Gate.Create(c.Request.Context(), intent.ID, intent.Status, secret); err != nil {
		h.deny(c, err)
		return
	}

	noStore(c)
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"id":           intent.ID,
		"clientSecret": intent.ClientSecret,
		"claimSecret":  secret,
	})
}

// CreateCheckout opens a hosted checkout session. Settlement for these lands
// via the webhook.
func (h *Handler) CreateCheckout(c *gin.Context) {
	successURL := h.SuccessURL
	cancelURL := h.CancelURL
	origin := requestOrigin(c)
	if successURL == "" {
		successURL = origin + "/?session_id={CHECKOUT_SESSION_ID}"
	}
	if cancelURL == "" {
		cancelURL = origin + "/"
	}

	url, err := h.Payments.CreateCheckout(c.Request.Context(), successURL, cancelURL)
	if err != nil {
		h.deny(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Config hands the client the authority's publishable key.
func (h *Handler) Config(c *gin.Context) {
	if h.PublishableKey == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "missing publishable key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publishableKey": h.PublishableKey})
}

// Status reports the purchase lifecycle state. The response never includes a
// device token or claim secret for any record state; the view type the gate
// returns has no such fields to leak.
func (h *Handler) Status(c *gin.Context) {
	noStore(c)

	id := purchaseID(c)
	if id == "" {
		c.JSON(http.StatusOK, gin.H{"ok": true, "state": "locked", "paid": false})
		return
	}

	view, err := h.Gate.Status(c.Request.Context(), id)
	if err != nil {
		h.deny(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"state":    wireState(view.State),
		"paid":     view.Paid,
		"consumed": view.Consumed,
		"status":   view.SettlementStatus,
		"id":       id,
	})
}

// Claim exchanges the one-time claim secret for the device-binding cookie.
// The token travels only in the cookie; the JSON body never carries it.
func (h *Handler) Claim(c *gin.Context) {
	noStore(c)

	id := purchaseID(c)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing pi"})
		return
	}
	secret := c.GetHeader(ClaimHeader)
	if secret == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing claim"})
		return
	}

	device, err := h.Gate.Claim(c.Request.Context(), id, secret)
	if err != nil {
		h.deny(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(DeviceCookie, device, deviceCookieMaxAge, "/", "", true, true)

	view, err := h.Gate.Status(c.Request.Context(), id)
	if err != nil {
		// Claim already committed; report success with what we know.
		view = gate.StatusView{Paid: true}
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"paid":     true,
		"consumed": view.Consumed,
		"claimed":  true,
	})
}

// Audio releases the content stream when both gates pass: entitlement and
// device binding. The response is marked non-cacheable end to end.
func (h *Handler) Audio(c *gin.Context) {
	id := purchaseID(c)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing pi"})
		return
	}

	device, _ := c.Cookie(DeviceCookie)
	if err := h.Gate.Authorize(c.Request.Context(), id, device); err != nil {
		h.deny(c, err)
		return
	}

	client := h.AudioClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, h.AudioURL, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audio origin misconfigured"})
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "audio fetch failed"})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.JSON(http.StatusBadGateway, gin.H{"error": "audio fetch failed"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mp4"
	}
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, resp.ContentLength, contentType, resp.Body, nil)
}

// Complete commits the one-way consumed transition. Idempotent: completing
// twice reports consumed both times.
func (h *Handler) Complete(c *gin.Context) {
	noStore(c)

	var body struct {
		PI            string `json:"pi"`
		PaymentIntent string `json:"payment_intent"`
		SessionID     string `json:"session_id"`
	}
	// Tolerate an empty or malformed body; the id may also arrive in the query.
	_ = c.ShouldBindJSON(&body)

	id := body.PI
	if id == "" {
		id = body.PaymentIntent
	}
	if id == "" {
		id = body.SessionID
	}
	if id == "" {
		id = purchaseID(c)
	}
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing pi"})
		return
	}

	rec, err := h.Gate.Complete(c.Request.Context(), id)
	if err != nil {
		h.deny(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": rec.PurchaseID, "consumed": rec.Consumed})
}

// Webhook ingests signed settlement events. Rejections carry no detail about
// what failed to verify.
func (h *Handler) Webhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	sig := c.GetHeader("Stripe-Signature")
	if err := h.Webhooks.Process(c.Request.Context(), sig, raw); err != nil {
		if errors.Is(err, webhook.ErrSignatureInvalid) {
			c.String(http.StatusBadRequest, "invalid signature")
			return
		}
		c.String(http.StatusInternalServerError, "processing failed")
		return
	}
	c.String(http.StatusOK, "ok")
}

// deny maps gate errors onto wire status codes. Business denials are terminal
// for the request; service failures are retriable and distinguishable.
func (h *Handler) deny(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gate.ErrNotPaid):
		c.JSON(http.StatusPaymentRequired, gin.H{"ok": false, "error": "not paid"})
	case errors.Is(err, gate.ErrAlreadyConsumed):
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": "already consumed"})
	case errors.Is(err, gate.ErrDeviceTokenRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "DEVICE_TOKEN_REQUIRED"})
	case errors.Is(err, gate.ErrInvalidClaim):
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid claim"})
	case errors.Is(err, gate.ErrClaimUnavailable):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "CLAIM_NOT_AVAILABLE"})
	case errors.Is(err, gate.ErrAuthorityUnreachable), errors.Is(err, gate.ErrAuthorityRejected):
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "payment verification failed"})
	case errors.Is(err, gate.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
	}
}

func wireState(s gate.State) string {
	switch s {
	case gate.StateConsumed:
		return "consumed"
	case gate.StatePaid, gate.StateBound:
		return "unlocked"
	default:
		return "locked"
	}
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
}

func requestOrigin(c *gin.Context) string {
	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + c.Request.Host
}
