package normalize

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DomainRoot reduces a website URL to its registrable domain root:
// "https://careers.Acme.com/jobs?ref=x" -> "acme.com", so every subdomain
// of a company site yields the same natural key. Invalid input degrades to
// a lowercased trim rather than failing; a company record without a usable
// domain simply matches fuzzily.
func DomainRoot(site string) string {
	site = strings.TrimSpace(site)
	if site == "" {
		return ""
	}

	if !strings.Contains(site, "://") {
		site = "https://" + site
	}

	u, err := url.Parse(site)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(site))
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if root, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return root
	}
	return host
}

// CanonicalURL canonicalizes a profile or posting URL so that cosmetic
// variants compare equal: lowercase scheme and host, strip www, drop query,
// fragment and trailing slash.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	path := strings.TrimRight(u.EscapedPath(), "/")

	return "https://" + host + path, nil
}
