package environment

import (
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// ProxyFunc selects the proxy for a request URL; a nil URL means a direct
// connection.
type ProxyFunc func(*url.URL) (*url.URL, error)

// Direct never uses a proxy.
func Direct(*url.URL) (*url.URL, error) { return nil, nil }

// ProxyFromConfig builds a selector from explicit proxy settings.
func ProxyFromConfig(cfg *httpproxy.Config) ProxyFunc {
	if cfg == nil {
		return Direct
	}
	return ProxyFunc(cfg.ProxyFunc())
}

// ProxyFromProperties reads HTTP_PROXY, HTTPS_PROXY and NO_PROXY (and their
// lowercase forms) from a property map, the way httpproxy.FromEnvironment
// reads the process environment.
func ProxyFromProperties(props map[string]string) ProxyFunc {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := props[k]; ok && v != "" {
				return v
			}
		}
		return ""
	}
	return ProxyFromConfig(&httpproxy.Config{
		HTTPProxy:  get("HTTP_PROXY", "http_proxy"),
		HTTPSProxy: get("HTTPS_PROXY", "https_proxy"),
		NoProxy:    get("NO_PROXY", "no_proxy"),
		CGI:        get("REQUEST_METHOD") != "",
	})
}

// Proxy returns the frame's proxy selector.
func (f *Frame) Proxy() ProxyFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proxy
}

// SetProxy replaces the frame's proxy selector. A nil selector means direct
// connections.
func (f *Frame) SetProxy(p ProxyFunc) {
	if p == nil {
		p = Direct
	}
	f.mu.Lock()
	f.proxy = p
	f.mu.Unlock()
}

// TransportProxy adapts the frame's selector to http.Transport.Proxy. The
// selector is read per request, so later SetProxy calls take effect.
func (f *Frame) TransportProxy() func(*http.Request) (*url.URL, error) {
	return func(r *http.Request) (*url.URL, error) {
		return f.Proxy()(r.URL)
	}
}
