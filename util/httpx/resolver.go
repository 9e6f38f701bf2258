package httpx

import (
	"context"
	"net"
	"time"

	"github.com/rs/dnscache"
)

// DefaultResolver caches the lookups of all clients built by the package,
// refreshed every minute by the first Transport created.
var DefaultResolver = &dnscache.Resolver{}

var refreshing = make(chan struct{})

func startRefreshing() {
	select {
	case <-refreshing:
		return
	default:
		close(refreshing)
	}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for range t.C {
			DefaultResolver.Refresh(true)
		}
	}()
}

// DNSCacheDialContext returns a dial function which resolves the host by DefaultResolver,
// and tries each resolved address in order.
func DNSCacheDialContext(dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	startRefreshing()

	return func(ctx context.Context, nw, addr string) (conn net.Conn, err error) {
		h, p, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := DefaultResolver.LookupHost(ctx, h)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			conn, err = dialer.DialContext(ctx, nw, net.JoinHostPort(ip, p))
			if err == nil {
				break
			}
		}
		return conn, err
	}
}
