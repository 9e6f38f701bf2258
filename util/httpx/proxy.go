package httpx

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gpustack/llm-adapter-go/util/osx"
)

// noProxyNetworks returns the CIDR entries of NO_PROXY,
// which http.ProxyFromEnvironment only matches as host names.
var noProxyNetworks = sync.OnceValue(func() []*net.IPNet {
	var ns []*net.IPNet
	for _, r := range strings.Split(osx.GetenvAny("NO_PROXY", "no_proxy"), ",") {
		if _, n, err := net.ParseCIDR(strings.TrimSpace(r)); err == nil {
			ns = append(ns, n)
		}
	}
	return ns
})

// ProxyFromEnvironment is similar to http.ProxyFromEnvironment,
// but also bypasses the proxy for hosts inside a NO_PROXY CIDR.
func ProxyFromEnvironment(r *http.Request) (*url.URL, error) {
	if ip := net.ParseIP(r.URL.Hostname()); ip != nil {
		for _, n := range noProxyNetworks() {
			if n.Contains(ip) {
				return nil, nil
			}
		}
	}
	return http.ProxyFromEnvironment(r)
}
