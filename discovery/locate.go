package discovery

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Hub is one advertised hub endpoint.
type Hub struct {
	Instance  string
	HostName  string
	Port      int
	Path      string
	Version   int
	Addresses []string
}

// URL returns the hub's base URL, preferring IPv4.
func (h Hub) URL() string {
	host := h.HostName
	if len(h.Addresses) > 0 {
		host = h.Addresses[0]
	}
	host = strings.TrimSuffix(host, ".")
	return "http://" + net.JoinHostPort(host, strconv.Itoa(h.Port)) + h.Path
}

// Locate browses for hubs and returns the first usable one. It gives up
// with ErrNoHub after ScanTimeout.
func Locate(ctx context.Context, config Config) (Hub, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return Hub{}, err
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return Hub{}, err
	}

	// The resolver may close entries when the scan window ends.
	var results <-chan *zeroconf.ServiceEntry = entries
	for {
		select {
		case entry, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if entry == nil {
				continue
			}
			if hub, ok := parseEntry(entry); ok {
				return hub, nil
			}
		case <-scanCtx.Done():
			if err := ctx.Err(); err != nil {
				return Hub{}, err
			}
			if errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
				return Hub{}, ErrNoHub
			}
			return Hub{}, scanCtx.Err()
		}
	}
}

func parseEntry(entry *zeroconf.ServiceEntry) (Hub, bool) {
	if entry.Port <= 0 {
		return Hub{}, false
	}
	txt := txtToMap(entry.Text)

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	path := txt["path"]
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	ipv4 := make([]string, 0, len(entry.AddrIPv4))
	for _, ip := range entry.AddrIPv4 {
		if ip != nil {
			ipv4 = append(ipv4, ip.String())
		}
	}
	sort.Strings(ipv4)
	ipv6 := make([]string, 0, len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv6 {
		if ip != nil {
			ipv6 = append(ipv6, ip.String())
		}
	}
	sort.Strings(ipv6)
	addresses := append(ipv4, ipv6...)

	if len(addresses) == 0 && entry.HostName == "" {
		return Hub{}, false
	}

	return Hub{
		Instance:  strings.TrimSpace(entry.Instance),
		HostName:  entry.HostName,
		Port:      entry.Port,
		Path:      path,
		Version:   version,
		Addresses: addresses,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
