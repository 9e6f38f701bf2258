package httpx

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransportOptions(t *testing.T) {
	proxy, _ := url.Parse("http://127.0.0.1:3128")

	tr := TransportOptions().
		WithoutKeepalive().
		WithConnectTimeout(5 * time.Second).
		If(true, func(x *TransportOption) *TransportOption {
			return x.WithProxy(http.ProxyURL(proxy))
		}).
		If(false, func(x *TransportOption) *TransportOption {
			return x.WithoutInsecureVerify()
		}).
		Build()

	assert.Equal(t, 5*time.Second, tr.TLSHandshakeTimeout)
	assert.Equal(t, 5*time.Second, tr.ResponseHeaderTimeout)
	assert.Zero(t, tr.MaxIdleConns)
	assert.False(t, tr.TLSClientConfig.InsecureSkipVerify)
	got, err := tr.Proxy(&http.Request{URL: &url.URL{Scheme: "https", Host: "huggingface.co"}})
	assert.NoError(t, err)
	assert.Equal(t, proxy, got)

	tr = TransportOptions().WithoutProxy().WithoutInsecureVerify().WithConnectTimeout(-1).Build()
	assert.Nil(t, tr.Proxy)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, 10*time.Second, tr.TLSHandshakeTimeout)

	var o *TransportOption
	assert.Nil(t, o.WithoutKeepalive().Build())
}
