// utils/http.go
package utils

import (
	"net/http"
	"net/url"
	"time"
)

// NewHTTPClient returns a client whose every request, body read included, is
// bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// RedactQuery returns u as a string with the given query parameters masked,
// so partner API keys never reach the logs.
func RedactQuery(u *url.URL, params ...string) string {
	clone := *u
	q := clone.Query()
	for _, p := range params {
		if q.Has(p) {
			q.Set(p, "***")
		}
	}
	clone.RawQuery = q.Encode()
	return clone.String()
}
