// Package hubclient talks to a hub and satisfies the same store interfaces
// as the local SQLite store.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rapidshare/logging"
	"rapidshare/models"
)

// DefaultTimeout bounds each HTTP round trip.
const DefaultTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	Token      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// Client is a hub-backed document store.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	dialer *websocket.Dialer
	logger *zap.Logger
}

// New returns a client for the hub at baseURL, e.g. "http://10.0.0.2:8787".
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("hub url %q must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("hub url %q has no host", baseURL)
	}

	c := &Client{
		base:   u,
		token:  opts.Token,
		http:   opts.HTTPClient,
		dialer: opts.Dialer,
		logger: logging.OrNop(opts.Logger).Named("hubclient"),
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	return c, nil
}

// BaseURL returns the hub root URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// IPLookupURL returns the hub's public address endpoint.
func (c *Client) IPLookupURL() string {
	return c.endpoint("/v1/ip", nil)
}

// Health checks that the hub answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// UpsertPeer merges a presence record.
func (c *Client) UpsertPeer(ctx context.Context, peer models.Peer) (models.Peer, error) {
	var out models.Peer
	err := c.do(ctx, http.MethodPut, "/v1/peers/"+url.PathEscape(peer.ID), nil, peer, &out)
	return out, err
}

// SetPeerStatus updates only the status of an existing peer.
func (c *Client) SetPeerStatus(ctx context.Context, deviceID string, status models.PeerStatus) error {
	body := map[string]models.PeerStatus{"status": status}
	return c.do(ctx, http.MethodPatch, "/v1/peers/"+url.PathEscape(deviceID), nil, body, nil)
}

// GetPeer fetches one peer.
func (c *Client) GetPeer(ctx context.Context, deviceID string) (models.Peer, error) {
	var out models.Peer
	err := c.do(ctx, http.MethodGet, "/v1/peers/"+url.PathEscape(deviceID), nil, nil, &out)
	return out, err
}

// QueryPeers lists peers matching q.
func (c *Client) QueryPeers(ctx context.Context, q models.PeerQuery) ([]models.Peer, error) {
	params := url.Values{}
	if q.GroupKey != "" {
		params.Set("networkId", q.GroupKey)
	}
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	if q.SeenWithin != 0 {
		params.Set("seenWithin", q.SeenWithin.String())
	}

	out := make([]models.Peer, 0)
	err := c.do(ctx, http.MethodGet, "/v1/peers", params, nil, &out)
	return out, err
}

// CreateTransfer inserts a ledger record.
func (c *Client) CreateTransfer(ctx context.Context, t models.Transfer) (models.Transfer, error) {
	var out models.Transfer
	err := c.do(ctx, http.MethodPost, "/v1/transfers", nil, t, &out)
	return out, err
}

// GetTransfer fetches one ledger record.
func (c *Client) GetTransfer(ctx context.Context, transferID string) (models.Transfer, error) {
	var out models.Transfer
	err := c.do(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(transferID), nil, nil, &out)
	return out, err
}

// QueryTransfers lists ledger records newest first.
func (c *Client) QueryTransfers(ctx context.Context, q models.TransferQuery) ([]models.Transfer, error) {
	params := url.Values{}
	if q.SenderID != "" {
		params.Set("senderId", q.SenderID)
	}
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	out := make([]models.Transfer, 0)
	err := c.do(ctx, http.MethodGet, "/v1/transfers", params, nil, &out)
	return out, err
}

// UpdateTransferProgress overwrites progress and status of one record.
func (c *Client) UpdateTransferProgress(ctx context.Context, transferID string, update models.TransferUpdate) error {
	return c.do(ctx, http.MethodPatch, "/v1/transfers/"+url.PathEscape(transferID), nil, update, nil)
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, params), body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// decodeError maps hub status codes onto the model sentinels.
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", models.ErrPermissionDenied, body.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, body.Error)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", models.ErrInvalid, body.Error)
	default:
		return errors.New("hub: " + strconv.Itoa(resp.StatusCode) + " " + body.Error)
	}
}
