package feed

import (
	"net/url"
	"strings"
)

// DefaultProxyDomains are hosts whose images must be fetched through the
// server's image proxy.
var DefaultProxyDomains = []string{"hdslb.com", "bilibili.com"}

// ProxyRewriter routes third-party image URLs through {BaseURL}/proxy/image.
type ProxyRewriter struct {
	BaseURL string
	Domains []string
}

// NewProxyRewriter returns a rewriter for the default domains.
func NewProxyRewriter(baseURL string) *ProxyRewriter {
	return &ProxyRewriter{BaseURL: strings.TrimRight(baseURL, "/"), Domains: DefaultProxyDomains}
}

// Rewrite returns the URL to request for raw. URLs outside the proxied
// domains are returned unchanged.
func (p *ProxyRewriter) Rewrite(raw string) string {
	if p == nil || p.BaseURL == "" || !p.proxied(raw) {
		return raw
	}
	return strings.TrimRight(p.BaseURL, "/") + "/proxy/image?url=" + url.QueryEscape(raw)
}

func (p *ProxyRewriter) proxied(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range p.Domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
