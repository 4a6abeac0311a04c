// Package syncclient is the typed HTTP client for the pushsync server.
// Every transport or protocol failure is converted into the pushsync error
// taxonomy at this boundary, so callers (the reconciliation engine in
// particular) never see raw HTTP status codes or net errors.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/internal/httpclient"
	"github.com/peergrade/pushsync/platform"
	"github.com/peergrade/pushsync/prefs"
	"github.com/peergrade/pushsync/vapid"
)

const defaultTimeout = 15 * time.Second

// CredentialProvider supplies the bearer credential for authenticated
// calls. A single injected provider replaces ad-hoc token lookups at call
// sites and lets tests substitute a fake.
type CredentialProvider interface {
	// Credential returns the current bearer token. ok is false when no
	// session is available; authenticated calls then fail with
	// errors.ErrUnauthorized without touching the network.
	Credential() (token string, ok bool)
}

// StaticCredential is a CredentialProvider holding a fixed token. An empty
// value reports no credential.
type StaticCredential string

func (s StaticCredential) Credential() (string, bool) { return string(s), s != "" }

// Client performs the server-side half of subscription reconciliation:
// key fetch, record create/delete, and preference get/patch.
type Client struct {
	baseURL   string
	http      *httpclient.SaferClient
	creds     CredentialProvider
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Tests pass
// httpclient.WrapClient(server.Client()) so httptest loopback targets are
// reachable.
func WithHTTPClient(hc *httpclient.SaferClient) Option {
	return func(c *Client) { c.http = hc }
}

// WithUserAgent sets the user agent reported on subscribe.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New builds a client against baseURL. creds may not be nil; use
// StaticCredential("") for an unauthenticated client.
func New(baseURL string, creds CredentialProvider, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.NewSaferClient(defaultTimeout),
		creds:   creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type publicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// FetchPublicKey retrieves and decodes the server's VAPID public key.
// A server that reports no key configured (404/503 or an empty key field)
// is an operator problem, not a client bug: the call fails with
// errors.ErrConfig and must not be retried in a loop.
func (c *Client) FetchPublicKey(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/notifications/vapid-public-key", nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusServiceUnavailable:
		return nil, errors.Mark(errors.Newf("server has no VAPID key configured (status %d)", resp.StatusCode), errors.ErrConfig)
	default:
		return nil, unexpectedStatus(resp)
	}

	var body publicKeyResponse
	if err := decodeBody(resp.Body, &body); err != nil {
		return nil, err
	}
	if body.PublicKey == "" {
		return nil, errors.Mark(errors.New("server returned an empty VAPID key"), errors.ErrConfig)
	}

	key, err := vapid.DecodeKey(body.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "decoding server VAPID key")
	}
	return key, nil
}

type subscribeRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
	UserAgent string `json:"user_agent,omitempty"`
}

// CreateRecord registers the platform subscription with the server.
// Safe to repeat with the same endpoint: the server upserts on
// (user, endpoint), and the engine's repair path relies on that.
func (c *Client) CreateRecord(ctx context.Context, sub *platform.Subscription) error {
	if sub == nil || sub.Endpoint == "" {
		return errors.Mark(errors.New("subscription has no endpoint"), errors.ErrValidation)
	}
	req := subscribeRequest{
		Endpoint:  sub.Endpoint,
		P256dhKey: sub.P256dhKey,
		AuthKey:   sub.AuthKey,
		UserAgent: c.userAgent,
	}
	resp, err := c.do(ctx, http.MethodPost, "/notifications/subscribe", req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusBadRequest:
		return errors.Mark(errors.Newf("server rejected subscription: %s", readErrorMessage(resp.Body)), errors.ErrValidation)
	case http.StatusUnauthorized:
		return errors.Mark(errors.New("subscribe rejected: invalid credential"), errors.ErrUnauthorized)
	default:
		return unexpectedStatus(resp)
	}
}

// DeleteRecord removes the server record for endpoint. A missing record is
// success: the server answers 200 either way, and the engine treats
// "already gone" as converged.
func (c *Client) DeleteRecord(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return errors.Mark(errors.New("empty endpoint"), errors.ErrValidation)
	}
	path := "/notifications/unsubscribe?endpoint=" + url.QueryEscape(endpoint)
	resp, err := c.do(ctx, http.MethodDelete, path, nil, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	case http.StatusUnauthorized:
		return errors.Mark(errors.New("unsubscribe rejected: invalid credential"), errors.ErrUnauthorized)
	default:
		return unexpectedStatus(resp)
	}
}

// GetPreferences fetches the user's preference record. Absence of the
// record (404) returns errors.ErrNotFound; for a user with a live platform
// subscription that absence is the drift signal the engine repairs.
func (c *Client) GetPreferences(ctx context.Context) (*prefs.Record, error) {
	resp, err := c.do(ctx, http.MethodGet, "/notifications/preferences", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.Mark(errors.New("no preference record"), errors.ErrNotFound)
	case http.StatusUnauthorized:
		return nil, errors.Mark(errors.New("preferences rejected: invalid credential"), errors.ErrUnauthorized)
	default:
		return nil, unexpectedStatus(resp)
	}

	var rec prefs.Record
	if err := decodeBody(resp.Body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PatchPreferences applies a partial update and returns the full updated
// record. A 400 maps to errors.ErrValidation; callers doing optimistic UI
// updates must roll back on that error.
func (c *Client) PatchPreferences(ctx context.Context, patch prefs.Patch) (*prefs.Record, error) {
	if patch.IsEmpty() {
		return nil, errors.Mark(errors.New("empty preference patch"), errors.ErrValidation)
	}
	resp, err := c.do(ctx, http.MethodPatch, "/notifications/preferences", patch, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, errors.Mark(errors.Newf("server rejected preference patch: %s", readErrorMessage(resp.Body)), errors.ErrValidation)
	case http.StatusNotFound:
		return nil, errors.Mark(errors.New("no preference record to patch"), errors.ErrNotFound)
	case http.StatusUnauthorized:
		return nil, errors.Mark(errors.New("preference patch rejected: invalid credential"), errors.ErrUnauthorized)
	default:
		return nil, unexpectedStatus(resp)
	}

	var rec prefs.Record
	if err := decodeBody(resp.Body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

type sendRequest struct {
	UserID   string `json:"user_id,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	URL      string `json:"url,omitempty"`
	Category string `json:"category,omitempty"`
}

// SendResult reports the outcome of a push delivery request.
type SendResult struct {
	Delivered  int  `json:"delivered"`
	Suppressed bool `json:"suppressed"`
}

// Send asks the server to push a payload to userID's connected agents.
// An empty userID targets the authenticated user. Suppressed deliveries
// (the target disabled the category) come back as a result, not an error.
func (c *Client) Send(ctx context.Context, userID, title, body, pageURL string, category prefs.Category) (*SendResult, error) {
	if title == "" {
		return nil, errors.Mark(errors.New("title is required"), errors.ErrValidation)
	}
	req := sendRequest{
		UserID:   userID,
		Title:    title,
		Body:     body,
		URL:      pageURL,
		Category: string(category),
	}
	resp, err := c.do(ctx, http.MethodPost, "/notifications/send", req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return nil, errors.Mark(errors.Newf("server rejected send: %s", readErrorMessage(resp.Body)), errors.ErrValidation)
	case http.StatusNotFound:
		return nil, errors.Mark(errors.New("target user has no push subscription"), errors.ErrNotFound)
	case http.StatusUnauthorized:
		return nil, errors.Mark(errors.New("send rejected: invalid credential"), errors.ErrUnauthorized)
	default:
		return nil, unexpectedStatus(resp)
	}

	var result SendResult
	if err := decodeBody(resp.Body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do builds and executes one request. Transport-level failures come back
// marked errors.ErrNetwork so the engine can apply its retry-on-next-trigger
// policy without inspecting net error internals.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, authed bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		token, ok := c.creds.Credential()
		if !ok {
			return nil, errors.Mark(errors.New("no bearer credential available"), errors.ErrUnauthorized)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s %s", method, path), errors.ErrNetwork)
	}
	return resp, nil
}

func decodeBody(r io.Reader, v interface{}) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return errors.Mark(errors.Wrap(err, "decoding response body"), errors.ErrNetwork)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no details"
	}
	var body errorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

func unexpectedStatus(resp *http.Response) error {
	msg := readErrorMessage(resp.Body)
	return errors.Mark(
		errors.New(fmt.Sprintf("unexpected status %d from %s: %s", resp.StatusCode, resp.Request.URL.Path, msg)),
		errors.ErrNetwork,
	)
}
