// Package stripe is the payment authority adapter. It speaks the Stripe REST
// API directly: settlement lookups for the gate, plus PaymentIntent and
// Checkout Session creation for purchase initiation.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eternal-audio/eternal-gate/internal/gate"
)

// DefaultBaseURL is the live Stripe API endpoint. Tests point BaseURL at an
// httptest server instead.
const DefaultBaseURL = "https://api.stripe.com"

// settled is the only authority status that counts as cleared funds.
const settled = "succeeded"

// Client calls the payment authority with the account's secret key. All calls
// carry a bounded timeout via the injected http.Client; a hung authority must
// surface as a retriable failure, not a stalled request.
type Client struct {
	SecretKey      string
	PublishableKey string
	BaseURL        string
	HTTPClient     *http.Client
}

// NewClient returns a Client against the live API with a 10s request timeout.
func NewClient(secretKey, publishableKey string) *Client {
	return &Client{
		SecretKey:      secretKey,
		PublishableKey: publishableKey,
		BaseURL:        DefaultBaseURL,
		HTTPClient:     &http.Client{Timeout: 10 * time.Second},
	}
}

// CheckSettlement implements gate.Authority. Transport errors and authority
// 5xx map to gate.ErrAuthorityUnreachable; a 4xx answer (unknown identifier,
// bad key) maps to gate.ErrAuthorityRejected.
func (c *Client) CheckSettlement(ctx context.Context, id string) (gate.Settlement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/v1/payment_intents/"+url.PathEscape(id), nil)
	if err != nil {
		return gate.Settlement{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return gate.Settlement{}, fmt.Errorf("%w: %v", gate.ErrAuthorityUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return gate.Settlement{}, fmt.Errorf("%w: status %d", gate.ErrAuthorityUnreachable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return gate.Settlement{}, fmt.Errorf("%w: status %d", gate.ErrAuthorityRejected, resp.StatusCode)
	}

	var body struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return gate.Settlement{}, fmt.Errorf("%w: decode response: %v", gate.ErrAuthorityUnreachable, err)
	}
	return gate.Settlement{Status: body.Status, Settled: body.Status == settled}, nil
}

// Intent is a freshly created PaymentIntent.
type Intent struct {
	ID string
	// ClientSecret authorizes the buyer's browser to confirm the payment with
	// the authority. It is not a gate credential and is safe in the creation
	// response.
	ClientSecret string
	Status       string
}

// CreateIntent opens a PaymentIntent for the single audio asset. claimHint is
// a short non-secret prefix of the claim secret, attached as metadata for
// dashboard correlation only.
func (c *Client) CreateIntent(ctx context.Context, claimHint string) (Intent, error) {
	form := url.Values{}
	form.Set("amount", "199")
	form.Set("currency", "usd")
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("description", "ETERNAL — listen now")
	form.Set("metadata[product]", "ETERNAL")
	form.Set("metadata[claim_hint]", claimHint)

	var body struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
		Status       string `json:"status"`
	}
	if err := c.postForm(ctx, "/v1/payment_intents", form, &body); err != nil {
		return Intent{}, err
	}
	status := body.Status
	if status == "" {
		status = "requires_payment_method"
	}
	return Intent{ID: body.ID, ClientSecret: body.ClientSecret, Status: status}, nil
}

// CreateCheckout opens a hosted Checkout Session and returns its redirect URL.
// Legacy flow kept alongside PaymentIntents; the webhook path settles these.
func (c *Client) CreateCheckout(ctx context.Context, successURL, cancelURL string) (string, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][unit_amount]", "100")
	form.Set("line_items[0][price_data][product_data][name]", "ETERNAL — listen now")
	form.Set("line_items[0][price_data][product_data][description]", "Immersive audio experience (one-time listen)")
	form.Set("metadata[product]", "ETERNAL")

	var body struct {
		URL string `json:"url"`
	}
	if err := c.postForm(ctx, "/v1/checkout/sessions", form, &body); err != nil {
		return "", err
	}
	return body.URL, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", gate.ErrAuthorityUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", gate.ErrAuthorityUnreachable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", gate.ErrAuthorityRejected, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
