// Package sdk provides the client-side library for the eternal-gate HTTP API:
// status, claim, playback, and completion, with the device-binding cookie
// handled transparently through a cookie jar.
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// Client talks to a running gate daemon. It implements GateClient.
type Client struct {
	baseURL string
	http    *http.Client
}

// Connect builds a client for the daemon at baseURL (e.g.
// "https://localhost:8080"). The client keeps the device cookie issued by a
// successful claim and presents it on playback.
func Connect(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}, nil
}

func (c *Client) Status(ctx context.Context, id string) (StatusView, error) {
	var view StatusView
	err := c.getJSON(ctx, "/api/status?pi="+url.QueryEscape(id), &view)
	return view, err
}

func (c *Client) Claim(ctx context.Context, id, secret string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/claim?pi="+url.QueryEscape(id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Eternal-Claim", secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) Complete(ctx context.Context, id string) (bool, error) {
	payload := strings.NewReader(fmt.Sprintf(`{"pi":%q}`, id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/complete", payload)
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return false, err
	}

	var body struct {
		Consumed bool `json:"consumed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Consumed, nil
}

// Audio streams the content. The caller must have claimed first on this
// client so the device cookie is in the jar; the returned reader must be
// closed.
func (c *Client) Audio(ctx context.Context, id string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/audio?pi="+url.QueryEscape(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) PublishableKey(ctx context.Context) (string, error) {
	var body struct {
		PublishableKey string `json:"publishableKey"`
	}
	if err := c.getJSON(ctx, "/api/config", &body); err != nil {
		return "", err
	}
	return body.PublishableKey, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("gate returned %d: %s", resp.StatusCode, msg)
}
