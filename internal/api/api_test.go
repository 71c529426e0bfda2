package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eternal-audio/eternal-gate/internal/gate"
	"github.com/eternal-audio/eternal-gate/internal/store"
	"github.com/eternal-audio/eternal-gate/internal/stripe"
	"github.com/eternal-audio/eternal-gate/internal/webhook"
)

const webhookSecret = "whsec_api_test"

type fakeAuthority struct {
	settled map[string]bool
}

func (f *fakeAuthority) CheckSettlement(_ context.Context, id string) (gate.Settlement, error) {
	if f.settled[id] {
		return gate.Settlement{Status: "succeeded", Settled: true}, nil
	}
	return gate.Settlement{Status: "requires_payment_method"}, nil
}

type fakePayments struct {
	nextID    string
	claimHint string
}

func (f *fakePayments) CreateIntent(_ context.Context, claimHint string) (stripe.Intent, error) {
	f.claimHint = claimHint
	return stripe.Intent{ID: f.nextID, ClientSecret: f.nextID + "_cs", Status: "requires_payment_method"}, nil
}

func (f *fakePayments) CreateCheckout(_ context.Context, successURL, _ string) (string, error) {
	return "https://checkout.example/session", nil
}

type fixture struct {
	router    *gin.Engine
	authority *fakeAuthority
	payments  *fakePayments
	store     *store.MemStore
	audio     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mp4")
		fmt.Fprint(w, "FAKE-AUDIO-BYTES")
	}))
	t.Cleanup(audio.Close)

	authority := &fakeAuthority{settled: make(map[string]bool)}
	ms := store.NewMemStore(nil, nil)
	g := gate.New(ms, authority)
	payments := &fakePayments{nextID: "pi_fixture_1"}

	h := &Handler{
		Gate:           g,
		Payments:       payments,
		Webhooks:       webhook.NewIngestor(webhookSecret, g, time.Hour),
		PublishableKey: "pk_test_fixture",
		AudioURL:       audio.URL,
		AudioClient:    audio.Client(),
	}

	router := gin.New()
	h.Register(router.Group("/api"))

	return &fixture{router: router, authority: authority, payments: payments, store: ms, audio: audio}
}

func (f *fixture) do(t *testing.T, method, target string, body []byte, header http.Header, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Response is not JSON: %v\n%s", err, w.Body.String())
	}
	return out
}

func deviceCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, ck := range w.Result().Cookies() {
		if ck.Name == DeviceCookie {
			return ck
		}
	}
	return nil
}

// TestPurchaseLifecycle exercises the full path a real buyer walks: intent,
// locked status, settlement, claim, playback, completion, and the closed door
// afterwards.
func TestPurchaseLifecycle(t *testing.T) {
	f := newFixture(t)

	// 1. Create the intent. The claim secret appears here and nowhere else.
	w := f.do(t, http.MethodPost, "/api/create-intent", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("create-intent: %d %s", w.Code, w.Body.String())
	}
	created := decodeJSON(t, w)
	id, _ := created["id"].(string)
	secret, _ := created["claimSecret"].(string)
	if id != "pi_fixture_1" || secret == "" {
		t.Fatalf("Unexpected create-intent response: %v", created)
	}
	if !strings.HasPrefix(secret, f.payments.claimHint) || len(f.payments.claimHint) >= len(secret) {
		t.Error("Claim hint should be a strict prefix of the secret")
	}

	// 2. Unpaid: status locked, audio refused, claim refused.
	w = f.do(t, http.MethodGet, "/api/status?pi="+id, nil, nil)
	status := decodeJSON(t, w)
	if status["state"] != "locked" || status["paid"] != false {
		t.Errorf("Expected locked status, got %v", status)
	}

	claimHdr := http.Header{}
	claimHdr.Set(ClaimHeader, secret)
	if w = f.do(t, http.MethodPost, "/api/claim?pi="+id, nil, claimHdr); w.Code != http.StatusPaymentRequired {
		t.Errorf("Unpaid claim: expected 402, got %d", w.Code)
	}
	if w = f.do(t, http.MethodGet, "/api/audio?pi="+id, nil, nil); w.Code != http.StatusPaymentRequired {
		t.Errorf("Unpaid audio: expected 402, got %d", w.Code)
	}

	// 3. Settle the payment. Status unlocks; audio still needs binding.
	f.authority.settled[id] = true

	w = f.do(t, http.MethodGet, "/api/status?pi="+id, nil, nil)
	status = decodeJSON(t, w)
	if status["state"] != "unlocked" || status["paid"] != true {
		t.Errorf("Expected unlocked status, got %v", status)
	}

	w = f.do(t, http.MethodGet, "/api/audio?pi="+id, nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Unbound audio: expected 401, got %d", w.Code)
	}
	if got := decodeJSON(t, w)["error"]; got != "DEVICE_TOKEN_REQUIRED" {
		t.Errorf("Expected DEVICE_TOKEN_REQUIRED, got %v", got)
	}

	// 4. Claim. The token arrives only as a cookie.
	w = f.do(t, http.MethodPost, "/api/claim?pi="+id, nil, claimHdr)
	if w.Code != http.StatusOK {
		t.Fatalf("claim: %d %s", w.Code, w.Body.String())
	}
	ck := deviceCookie(w)
	if ck == nil || len(ck.Value) < 16 {
		t.Fatal("Claim should set the device cookie")
	}
	if !ck.HttpOnly || !ck.Secure {
		t.Error("Device cookie must be HttpOnly and Secure")
	}
	if strings.Contains(w.Body.String(), ck.Value) {
		t.Error("Device token leaked into the claim response body")
	}

	// 5. Replay of the spent secret fails; the cookie is not reissued.
	w = f.do(t, http.MethodPost, "/api/claim?pi="+id, nil, claimHdr)
	if w.Code != http.StatusConflict {
		t.Errorf("Replayed claim: expected 409, got %d %s", w.Code, w.Body.String())
	}
	if got := decodeJSON(t, w)["error"]; got != "CLAIM_NOT_AVAILABLE" {
		t.Errorf("Expected CLAIM_NOT_AVAILABLE, got %v", got)
	}
	if deviceCookie(w) != nil {
		t.Error("Failed claim must not set a cookie")
	}

	// 6. Audio plays with the cookie, refuses without and with a forged one.
	w = f.do(t, http.MethodGet, "/api/audio?pi="+id, nil, nil, ck)
	if w.Code != http.StatusOK {
		t.Fatalf("audio: %d %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "FAKE-AUDIO-BYTES" {
		t.Errorf("Unexpected audio body: %q", w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Audio must be no-store, got %q", got)
	}

	forged := &http.Cookie{Name: DeviceCookie, Value: "forged-device-token-aaaaaaaaaaaa"}
	if w = f.do(t, http.MethodGet, "/api/audio?pi="+id, nil, nil, forged); w.Code != http.StatusUnauthorized {
		t.Errorf("Forged cookie: expected 401, got %d", w.Code)
	}
	if w = f.do(t, http.MethodGet, "/api/audio?pi="+id, nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("Missing cookie: expected 401, got %d", w.Code)
	}

	// 7. Complete, twice. Both report consumed; playback is closed after.
	body := []byte(fmt.Sprintf(`{"pi":%q}`, id))
	w = f.do(t, http.MethodPost, "/api/complete", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}
	if got := decodeJSON(t, w)["consumed"]; got != true {
		t.Errorf("Expected consumed true, got %v", got)
	}
	w = f.do(t, http.MethodPost, "/api/complete", body, nil)
	if w.Code != http.StatusOK || decodeJSON(t, w)["consumed"] != true {
		t.Errorf("Repeat complete should succeed idempotently: %d %s", w.Code, w.Body.String())
	}

	if w = f.do(t, http.MethodGet, "/api/audio?pi="+id, nil, nil, ck); w.Code != http.StatusForbidden {
		t.Errorf("Consumed audio: expected 403, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/status?pi="+id, nil, nil)
	status = decodeJSON(t, w)
	if status["state"] != "consumed" || status["consumed"] != true {
		t.Errorf("Expected consumed status, got %v", status)
	}
}

func TestStatusNeverLeaksCredentials(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/create-intent", nil, nil)
	id, _ := decodeJSON(t, w)["id"].(string)
	secret, _ := decodeJSON(t, w)["claimSecret"].(string)
	f.authority.settled[id] = true

	hdr := http.Header{}
	hdr.Set(ClaimHeader, secret)
	w = f.do(t, http.MethodPost, "/api/claim?pi="+id, nil, hdr)
	device := deviceCookie(w).Value

	// Every lifecycle state the status endpoint can report.
	for _, target := range []string{
		"/api/status?pi=" + id,
		"/api/status?payment_intent=" + id,
		"/api/status",
	} {
		w = f.do(t, http.MethodGet, target, nil, nil)
		body := w.Body.String()
		if strings.Contains(body, device) {
			t.Errorf("%s leaked the device token", target)
		}
		if strings.Contains(body, secret) {
			t.Errorf("%s leaked the claim secret", target)
		}
		if strings.Contains(body, "deviceToken") || strings.Contains(body, "claimSecret") {
			t.Errorf("%s carries a credential field: %s", target, body)
		}
		if got := w.Header().Get("Cache-Control"); got != "no-store" {
			t.Errorf("%s must be no-store, got %q", target, got)
		}
	}
}

func TestStatusWithoutIDIsLocked(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/status", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	body := decodeJSON(t, w)
	if body["state"] != "locked" || body["paid"] != false {
		t.Errorf("Expected locked default, got %v", body)
	}
}

func TestClaimValidation(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/claim", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("Missing id: expected 400, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/claim?pi=pi_x", nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("Missing header: expected 401, got %d", w.Code)
	}

	// Paid purchase, wrong secret: 401, and the record keeps its secret.
	w := f.do(t, http.MethodPost, "/api/create-intent", nil, nil)
	id, _ := decodeJSON(t, w)["id"].(string)
	f.authority.settled[id] = true

	hdr := http.Header{}
	hdr.Set(ClaimHeader, "not-the-secret-0123456789abcdef0123456789")
	if w = f.do(t, http.MethodPost, "/api/claim?pi="+id, nil, hdr); w.Code != http.StatusUnauthorized {
		t.Errorf("Wrong secret: expected 401, got %d", w.Code)
	}
	rec, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.ClaimSecret == "" || rec.DeviceToken != "" {
		t.Errorf("Failed claim mutated the record: %+v", rec)
	}
}

func TestCompleteAcceptsLegacyShapes(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/create-intent", nil, nil)
	id, _ := decodeJSON(t, w)["id"].(string)
	f.authority.settled[id] = true

	// Query param fallback with an empty body.
	if w = f.do(t, http.MethodPost, "/api/complete?session_id="+id, nil, nil); w.Code != http.StatusOK {
		t.Errorf("Query-param complete: %d %s", w.Code, w.Body.String())
	}

	if w = f.do(t, http.MethodPost, "/api/complete", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("Missing id: expected 400, got %d", w.Code)
	}
}

func TestConfig(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/config", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("config: %d", w.Code)
	}
	if got := decodeJSON(t, w)["publishableKey"]; got != "pk_test_fixture" {
		t.Errorf("Unexpected publishable key: %v", got)
	}
}

func TestCreateCheckout(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/create-checkout", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("create-checkout: %d %s", w.Code, w.Body.String())
	}
	if got := decodeJSON(t, w)["url"]; got != "https://checkout.example/session" {
		t.Errorf("Unexpected checkout url: %v", got)
	}
}

func signWebhook(body []byte) string {
	timestamp := "1740830400"
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%s.%s", timestamp, body)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookEndpoint(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_hook_1"}}}`)

	// Valid signature: record pre-warmed, claimable via the complete path.
	hdr := http.Header{}
	hdr.Set("Stripe-Signature", signWebhook(body))
	w := f.do(t, http.MethodPost, "/api/stripe-webhook", body, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", w.Code, w.Body.String())
	}
	rec, err := f.store.Get(context.Background(), "cs_hook_1")
	if err != nil || !rec.Paid {
		t.Errorf("Expected pre-warmed paid record, got %+v err %v", rec, err)
	}

	// Tampered body under the old signature: rejected, no detail, no record.
	tampered := []byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_hook_2"}}}`)
	w = f.do(t, http.MethodPost, "/api/stripe-webhook", tampered, hdr)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Tampered webhook: expected 400, got %d", w.Code)
	}
	if got := w.Body.String(); got != "invalid signature" {
		t.Errorf("Rejection should carry no detail, got %q", got)
	}
	if _, err := f.store.Get(context.Background(), "cs_hook_2"); err == nil {
		t.Error("Rejected webhook must not create a record")
	}

	// Missing signature header entirely.
	if w = f.do(t, http.MethodPost, "/api/stripe-webhook", body, nil); w.Code != http.StatusBadRequest {
		t.Errorf("Unsigned webhook: expected 400, got %d", w.Code)
	}
}
