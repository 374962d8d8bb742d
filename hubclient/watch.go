package hubclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"rapidshare/models"
)

// Changes opens a watch stream on the hub. Each pushed message becomes one
// signal; signals coalesce when the reader lags. The channel is closed when
// ctx ends or the stream drops, and the caller's polling takes over.
func (c *Client) Changes(ctx context.Context, collection string) (<-chan struct{}, error) {
	switch collection {
	case models.CollectionPeers, models.CollectionTransfers:
	default:
		return nil, fmt.Errorf("%w: unknown collection %q", models.ErrInvalid, collection)
	}

	wsURL := c.endpoint("/v1/watch", url.Values{"collection": {collection}})
	wsURL = "ws" + strings.TrimPrefix(wsURL, "http")

	header := http.Header{}
	c.authorize(header)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("watch %s: %w", collection, decodeError(resp))
		}
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}

	out := make(chan struct{}, 1)
	stop := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(stop)
		for {
			var msg struct {
				Collection string `json:"collection"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("watch stream ended", zap.String("collection", collection), zap.Error(err))
				}
				return
			}
			if msg.Collection != collection {
				continue
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	return out, nil
}
