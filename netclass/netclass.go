// Package netclass groups devices by the public address they are observed
// behind.
package netclass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"rapidshare/logging"
)

const (
	// DefaultLookupURL answers with {"ip": "<address>"}.
	DefaultLookupURL = "https://api.ipify.org?format=json"
	// DefaultTimeout bounds the single lookup attempt.
	DefaultTimeout = 5 * time.Second

	// FallbackAddress and FallbackGroupKey are used when the lookup fails.
	FallbackAddress  = "127.0.0.1"
	FallbackGroupKey = "local-dev"

	maxBodyBytes = 4 << 10
)

// Network is the result of one classification.
type Network struct {
	Address  string
	GroupKey string
	// Fallback is set when the lookup failed and the local defaults were used.
	Fallback bool
}

// Options configures a Classifier.
type Options struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Logger  *zap.Logger
}

// Classifier resolves the public address of this host.
type Classifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// New returns a classifier with defaults filled in.
func New(opts Options) *Classifier {
	c := &Classifier{
		url:     strings.TrimSpace(opts.URL),
		timeout: opts.Timeout,
		client:  opts.Client,
		logger:  logging.OrNop(opts.Logger).Named("netclass"),
	}
	if c.url == "" {
		c.url = DefaultLookupURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	return c
}

// GroupKeyFor derives the network group key from an address by replacing
// every "." with "-".
func GroupKeyFor(address string) string {
	return strings.ReplaceAll(address, ".", "-")
}

// Resolve performs exactly one lookup. Any failure yields the fallback
// network; the attempt is not retried.
func (c *Classifier) Resolve(ctx context.Context) Network {
	address, err := c.Lookup(ctx)
	if err != nil {
		c.logger.Warn("public address lookup failed, using local fallback",
			zap.String("url", c.url),
			zap.Error(err),
		)
		return Network{
			Address:  FallbackAddress,
			GroupKey: FallbackGroupKey,
			Fallback: true,
		}
	}

	c.logger.Debug("resolved public address", zap.String("address", address))
	return Network{
		Address:  address,
		GroupKey: GroupKeyFor(address),
	}
}

// Lookup fetches the public address and returns any error to the caller.
func (c *Classifier) Lookup(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup public address: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("lookup public address: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode lookup response: %w", err)
	}

	address := strings.TrimSpace(body.IP)
	if address == "" {
		return "", fmt.Errorf("lookup response has no ip")
	}
	if net.ParseIP(address) == nil {
		return "", fmt.Errorf("lookup response ip %q is not an address", address)
	}
	return address, nil
}
