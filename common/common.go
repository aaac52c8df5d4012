// Package common holds small helpers shared across the exchange
// packages.
package common

import (
	"net/http"
	"net/url"
	"time"
)

const (
	defaultMaxIdleConns    = 100
	defaultIdleConnTimeout = 90 * time.Second
)

// NewHTTPClientWithTimeout returns an HTTP client with the supplied
// request timeout and environment proxy support.
func NewHTTPClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			MaxIdleConns:    defaultMaxIdleConns,
			IdleConnTimeout: defaultIdleConnTimeout,
		},
		Timeout: timeout,
	}
}

// EncodeURLValues appends the urlencoded form of values to path.
func EncodeURLValues(path string, values url.Values) string {
	if len(values) == 0 {
		return path
	}
	return path + "?" + values.Encode()
}
