package httpx

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultTransport backs Client when no TransportOption is given.
var DefaultTransport http.RoundTripper = TransportOptions().Build()

// TransportOption configures the transport of the remote blob reader.
type TransportOption struct {
	dialer    *net.Dialer
	transport *http.Transport
}

// TransportOptions returns a TransportOption that dials through the dns cache,
// honors the proxy environment and requires TLS 1.2.
func TransportOptions() *TransportOption {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &TransportOption{
		dialer: dialer,
		transport: &http.Transport{
			Proxy:                 ProxyFromEnvironment,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			DialContext:           DNSCacheDialContext(dialer),
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Build returns the configured http.Transport.
func (o *TransportOption) Build() *http.Transport {
	if o == nil {
		return nil
	}
	return o.transport
}

// WithProxy routes requests through the given proxy.
func (o *TransportOption) WithProxy(proxy func(*http.Request) (*url.URL, error)) *TransportOption {
	if o == nil || o.transport == nil {
		return o
	}
	o.transport.Proxy = proxy
	return o
}

// WithoutProxy ignores the proxy environment.
func (o *TransportOption) WithoutProxy() *TransportOption {
	return o.WithProxy(nil)
}

// WithoutKeepalive closes the connection after each range request.
func (o *TransportOption) WithoutKeepalive() *TransportOption {
	if o == nil || o.transport == nil {
		return o
	}
	o.dialer.KeepAlive = -1
	o.transport.MaxIdleConns = 0
	o.transport.IdleConnTimeout = 0
	return o
}

// WithoutInsecureVerify skips the certificate verification.
func (o *TransportOption) WithoutInsecureVerify() *TransportOption {
	if o == nil || o.transport == nil || o.transport.TLSClientConfig == nil {
		return o
	}
	o.transport.TLSClientConfig.InsecureSkipVerify = true
	return o
}

// WithConnectTimeout bounds everything before the response body:
// the dial, the tls handshake and the response header.
//
// Use 0 to disable timeout.
func (o *TransportOption) WithConnectTimeout(timeout time.Duration) *TransportOption {
	if o == nil || o.transport == nil || o.dialer == nil || timeout < 0 {
		return o
	}
	o.dialer.Timeout = timeout
	o.transport.TLSHandshakeTimeout = timeout
	o.transport.ResponseHeaderTimeout = timeout
	return o
}

// WithoutDNSCache dials without the dns cache.
func (o *TransportOption) WithoutDNSCache() *TransportOption {
	if o == nil || o.transport == nil || o.dialer == nil {
		return o
	}
	o.transport.DialContext = o.dialer.DialContext
	return o
}

// If is a conditional option,
// which receives a boolean condition to trigger the given function or not.
func (o *TransportOption) If(condition bool, then func(*TransportOption) *TransportOption) *TransportOption {
	if condition {
		return then(o)
	}
	return o
}
